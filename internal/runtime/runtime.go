package runtime

import (
	"context"
)

// Log sources attached to captured output lines.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "devrun"
)

// LineFunc receives a batch of complete, non-empty lines read from one of a
// process's output streams. Calls for a single stream are sequential; calls
// for stdout and stderr may run concurrently.
type LineFunc func(source string, lines []string)

// StartSpec describes a process launch.
type StartSpec struct {
	// Name identifies the launch in diagnostics.
	Name string
	// Command is the command line to execute.
	Command string
	// Workdir is the working directory of the child.
	Workdir string
	// Env is the complete child environment in KEY=VALUE form.
	Env []string
	// OnLines receives captured output. It must not be nil.
	OnLines LineFunc
}

// Handle represents a single spawned process. The process is the leader of
// its own process group, so Pid is also the group id.
type Handle interface {
	// Pid returns the process id of the root process.
	Pid() int

	// Wait blocks until the process has exited and its output readers have
	// been detached, then returns the exit code. It may be called multiple
	// times.
	Wait() int

	// Done is closed once Wait would return without blocking.
	Done() <-chan struct{}

	// Terminate asks the root process to exit gracefully.
	Terminate() error
}

// Launcher spawns processes.
type Launcher interface {
	Start(ctx context.Context, spec StartSpec) (Handle, error)
}

// Terminator forcibly ends process trees. All methods are best effort and
// never report failures.
type Terminator interface {
	// KillTree signals every descendant of root, root itself and root's
	// process group.
	KillTree(ctx context.Context, root int)

	// KillByPort signals every process listening on the TCP port.
	KillByPort(ctx context.Context, port int)

	// Sweep repeats the root, group and port kills to catch processes forked
	// while the first pass was running. A port <= 0 skips the port kill.
	Sweep(ctx context.Context, root, port int)
}
