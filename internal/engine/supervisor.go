package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Paintersrp/devrun/internal/endpoint"
	"github.com/Paintersrp/devrun/internal/metrics"
	"github.com/Paintersrp/devrun/internal/project"
	"github.com/Paintersrp/devrun/internal/runtime"
	"github.com/Paintersrp/devrun/internal/runtime/process"
)

// DefaultSweepDelay is how long after Stop the terminator re-kills the root,
// its group and the port holders.
const DefaultSweepDelay = time.Second

const (
	msgDirectoryNotFound = "⚠ Directory not found: %s"
	msgNoRunCommand      = "⚠ No run command found for this project type."
	msgFailedToStart     = "⚠ Failed to start: %v"
	msgStopping          = "⏹ Stopping process..."
	msgExited            = "⏹ Process exited with code %d"
)

// launch is one run of a project. The pointer doubles as the token that tells
// current output and exit notifications apart from those of a previous run.
type launch struct {
	id      project.ID
	name    string
	command string
	handle  runtime.Handle
	started time.Time
	state   State
	exit    *int

	// stopped is closed when the synchronous part of Stop has finished.
	stopped chan struct{}
}

// Supervisor runs at most one development server per project and owns all
// per-project state: active processes, output buffers, detected endpoints and
// running commands. Every mutation happens under mu; spawning, killing and
// event delivery happen outside it.
type Supervisor struct {
	launcher   runtime.Launcher
	terminator runtime.Terminator
	resolver   project.Resolver

	events      chan<- Event
	logger      *slog.Logger
	outputLimit int
	sweepDelay  time.Duration
	dirExists   func(string) bool
	environ     func() []string
	afterFunc   func(time.Duration, func())

	mu        sync.Mutex
	closed    bool
	active    map[project.ID]*launch
	output    map[project.ID]*OutputBuffer
	endpoints map[project.ID]string
	commands  map[project.ID]string
	launches  map[project.ID]*launch
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithEvents delivers lifecycle and log events to ch. The channel must be
// drained continuously; sends block.
func WithEvents(ch chan<- Event) Option {
	return func(s *Supervisor) { s.events = ch }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOutputLimit overrides the per-project line cap.
func WithOutputLimit(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.outputLimit = n
		}
	}
}

// WithSweepDelay overrides the delay before the post-stop sweep.
func WithSweepDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.sweepDelay = d
		}
	}
}

// WithDirExists overrides the project directory check.
func WithDirExists(fn func(string) bool) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.dirExists = fn
		}
	}
}

// WithEnvironment overrides how the child environment is computed.
func WithEnvironment(fn func() []string) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.environ = fn
		}
	}
}

// WithAfterFunc overrides how the delayed sweep is scheduled.
func WithAfterFunc(fn func(time.Duration, func())) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.afterFunc = fn
		}
	}
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(launcher runtime.Launcher, terminator runtime.Terminator, resolver project.Resolver, opts ...Option) *Supervisor {
	s := &Supervisor{
		launcher:    launcher,
		terminator:  terminator,
		resolver:    resolver,
		logger:      slog.Default(),
		outputLimit: DefaultOutputLines,
		sweepDelay:  DefaultSweepDelay,
		dirExists:   isDir,
		environ:     defaultEnviron,
		afterFunc: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
		active:    make(map[project.ID]*launch),
		output:    make(map[project.ID]*OutputBuffer),
		endpoints: make(map[project.ID]string),
		commands:  make(map[project.ID]string),
		launches:  make(map[project.ID]*launch),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func defaultEnviron() []string {
	home, _ := os.UserHomeDir()
	return process.BuildEnv(os.Environ(), process.EnvOptions{Home: home})
}

// IsRunning reports whether id has an active process.
func (s *Supervisor) IsRunning(id project.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// Run starts the project's development server. It is a no-op while a launch
// for the project is starting, running or stopping. Failures are reported as
// output lines and failed events; Run never returns an error.
func (s *Supervisor) Run(ctx context.Context, p project.Project) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if prev := s.launches[p.ID]; prev != nil && prev.state.Busy() {
		s.mu.Unlock()
		return
	}
	l := &launch{id: p.ID, name: p.Name, state: StateStarting, stopped: make(chan struct{})}
	s.launches[p.ID] = l
	s.mu.Unlock()

	sendEvent(s.events, l, EventTypeStarting, "starting", "", nil)

	dir := p.Dir()
	if !s.dirExists(dir) {
		s.abort(l, fmt.Sprintf(msgDirectoryNotFound, dir), ReasonDirectoryNotFound, nil)
		return
	}
	command, ok := s.resolver.Resolve(p.Type, dir)
	command = strings.TrimSpace(command)
	if !ok || command == "" {
		s.abort(l, msgNoRunCommand, ReasonNoRunCommand, nil)
		return
	}

	s.mu.Lock()
	buf := s.bufferLocked(p.ID)
	buf.Reset()
	delete(s.endpoints, p.ID)
	s.commands[p.ID] = command
	l.command = command
	buf.Append("$ "+command, "")
	s.mu.Unlock()

	handle, err := s.launcher.Start(ctx, runtime.StartSpec{
		Name:    p.Name,
		Command: command,
		Workdir: dir,
		Env:     s.environ(),
		OnLines: func(source string, lines []string) {
			s.appendLines(l, source, lines)
		},
	})
	if err != nil {
		s.mu.Lock()
		if s.commands[p.ID] == command && s.launches[p.ID] == l {
			delete(s.commands, p.ID)
		}
		s.mu.Unlock()
		s.abort(l, fmt.Sprintf(msgFailedToStart, err), ReasonSpawnFailure, err)
		return
	}

	s.mu.Lock()
	l.handle = handle
	l.started = time.Now()
	l.state = StateRunning
	s.active[p.ID] = l
	closed := s.closed
	s.mu.Unlock()

	metrics.IncrementProcessStart(string(p.ID))
	metrics.SetProcessRunning(string(p.ID), true)
	s.logger.Info("project started", "project", p.ID, "name", p.Name, "pid", handle.Pid(), "command", command)
	sendEvent(s.events, l, EventTypeRunning, command, "", nil)

	go s.observe(l)

	if closed {
		s.Stop(p.ID)
	}
}

// abort reports a failed launch and returns the project to Idle.
func (s *Supervisor) abort(l *launch, message, reason string, err error) {
	s.mu.Lock()
	if s.launches[l.id] == l {
		s.bufferLocked(l.id).Append(message)
		delete(s.launches, l.id)
	}
	l.state = StateIdle
	close(l.stopped)
	s.mu.Unlock()

	s.logger.Warn("project failed to start", "project", l.id, "reason", reason, "err", err)
	sendEvent(s.events, l, EventTypeFailed, message, reason, err)
}

func (s *Supervisor) appendLines(l *launch, source string, lines []string) {
	if len(lines) == 0 {
		return
	}
	s.mu.Lock()
	if s.launches[l.id] != l {
		s.mu.Unlock()
		return
	}
	buf := s.bufferLocked(l.id)
	buf.Append(lines...)

	current, had := s.endpoints[l.id]
	detected := current
	if l.state == StateStarting || l.state == StateRunning {
		for _, line := range lines {
			detected = endpoint.Detect(line, detected)
		}
		if detected != "" {
			s.endpoints[l.id] = detected
		}
	}
	s.mu.Unlock()

	metrics.AddOutputLines(string(l.id), source, len(lines))
	sendLogEvents(s.events, l, source, lines)
	if detected != "" && (!had || detected != current) {
		sendEvent(s.events, l, EventTypeEndpoint, detected, "", nil)
	}
}

// observe waits for the process to exit. The handle detaches the output
// readers before Wait returns, so no output of this launch follows.
func (s *Supervisor) observe(l *launch) {
	code := l.handle.Wait()

	s.mu.Lock()
	current := s.launches[l.id] == l
	if current {
		s.bufferLocked(l.id).Append("", fmt.Sprintf(msgExited, code))
	}
	owned := s.active[l.id] == l
	if owned {
		delete(s.active, l.id)
		delete(s.commands, l.id)
	}
	if l.state == StateRunning {
		l.state = StateExited
	}
	l.exit = &code
	s.mu.Unlock()

	metrics.IncrementProcessExit(string(l.id), code)
	if owned {
		metrics.SetProcessRunning(string(l.id), false)
	}
	s.logger.Info("project exited", "project", l.id, "pid", l.handle.Pid(), "code", code)

	if !current {
		return
	}
	reason := ReasonCleanExit
	if code != 0 {
		reason = ReasonNonZeroExit
	}
	evt := Event{
		Timestamp: time.Now(),
		Project:   l.id,
		Name:      l.name,
		Type:      EventTypeExited,
		Message:   fmt.Sprintf(msgExited, code),
		Level:     "info",
		Source:    runtime.LogSourceSystem,
		ExitCode:  code,
		Reason:    reason,
	}
	if s.events != nil {
		s.events <- evt
	}
}

// Stop kills the project's process tree. It returns once the synchronous kill
// pass and the bookkeeping are done; a sweep follows after the sweep delay.
// Calls while a stop is in flight wait for it. Stop is a no-op when nothing
// is active.
func (s *Supervisor) Stop(id project.ID) {
	s.mu.Lock()
	l, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if l.state == StateStopping {
		s.mu.Unlock()
		<-l.stopped
		return
	}
	l.state = StateStopping
	s.bufferLocked(id).Append("", msgStopping)
	pid := l.handle.Pid()
	port := 0
	if url, ok := s.endpoints[id]; ok {
		port, _ = endpoint.Port(url)
	}
	s.mu.Unlock()

	s.logger.Info("stopping project", "project", id, "pid", pid, "port", port)
	sendEvent(s.events, l, EventTypeStopping, msgStopping, ReasonStopRequested, nil)

	ctx := context.Background()
	s.terminator.KillTree(ctx, pid)
	if err := l.handle.Terminate(); err != nil {
		s.logger.Debug("terminate failed", "project", id, "pid", pid, "err", err)
	}
	if port > 0 {
		s.terminator.KillByPort(ctx, port)
	}

	s.mu.Lock()
	if s.active[id] == l {
		delete(s.active, id)
	}
	if s.launches[id] == l {
		delete(s.commands, id)
		delete(s.endpoints, id)
	}
	l.state = StateStopped
	close(l.stopped)
	s.mu.Unlock()

	metrics.IncrementProcessStop(string(id))
	metrics.SetProcessRunning(string(id), false)
	sendEvent(s.events, l, EventTypeStopped, "stopped", ReasonStopRequested, nil)

	s.afterFunc(s.sweepDelay, func() {
		s.terminator.Sweep(context.Background(), pid, port)
	})
}

// StopAll stops every active project concurrently and refuses new launches.
// The host calls it once at shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var g errgroup.Group
	for _, id := range s.Active() {
		id := id
		g.Go(func() error {
			s.Stop(id)
			return nil
		})
	}
	_ = g.Wait()
}

// ClearOutput empties the project's output and forgets its endpoint.
func (s *Supervisor) ClearOutput(id project.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok := s.output[id]; ok {
		buf.Reset()
	}
	delete(s.endpoints, id)
}

// Output returns the buffered lines for id, oldest first.
func (s *Supervisor) Output(id project.ID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.output[id]
	if !ok {
		return nil
	}
	return buf.Lines()
}

// Endpoint returns the detected URL for id.
func (s *Supervisor) Endpoint(id project.ID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url, ok := s.endpoints[id]
	return url, ok
}

// RunningCommand returns the command line of the active process for id.
func (s *Supervisor) RunningCommand(id project.ID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[id]
	return cmd, ok
}

// State returns the lifecycle state of id's most recent launch.
func (s *Supervisor) State(id project.ID) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.launches[id]; ok {
		return l.state
	}
	return StateIdle
}

// Status returns a snapshot of everything known about id.
func (s *Supervisor) Status(id project.ID) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Project: id, State: StateIdle}
	if l, ok := s.launches[id]; ok {
		st.State = l.state
		st.Started = l.started
		if l.exit != nil {
			code := *l.exit
			st.ExitCode = &code
		}
		if l.handle != nil {
			st.Pid = l.handle.Pid()
		}
	}
	st.Command = s.commands[id]
	st.Endpoint = s.endpoints[id]
	if buf, ok := s.output[id]; ok {
		st.Lines = buf.Len()
	}
	return st
}

// Active returns the ids with an active process, sorted.
func (s *Supervisor) Active() []project.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]project.ID, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Supervisor) bufferLocked(id project.ID) *OutputBuffer {
	buf, ok := s.output[id]
	if !ok {
		buf = NewOutputBuffer(s.outputLimit)
		s.output[id] = buf
	}
	return buf
}
