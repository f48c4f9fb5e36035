// Package process launches development servers as local processes and tears
// down the process trees they create.
//
// Every child is started as the leader of a new process group, so signals sent
// to the negated pid reach everything it forks unless a descendant moves to a
// different group. The Terminator covers that case by walking the process tree
// and by killing whatever still listens on the server's port. Full tree
// termination relies on POSIX job control; on Windows the terminator falls back
// to taskkill and group signals are not available.
package process
