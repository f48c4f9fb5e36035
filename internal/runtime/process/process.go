package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Paintersrp/devrun/internal/runtime"
)

// DefaultDrainTimeout bounds how long output readers may keep running after
// the root process exited. Grandchildren that inherited the pipes would
// otherwise keep them open indefinitely.
const DefaultDrainTimeout = 500 * time.Millisecond

// ShellOptions configures shell-wrapped invocation. Commands come from local
// configuration, so the shell is a convenience for picking up toolchains set
// up in a login profile, not a trust boundary.
type ShellOptions struct {
	Enabled bool
	Path    string
	Profile string
}

// Options configures a Runner.
type Options struct {
	Shell        ShellOptions
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Runner starts commands as local processes.
type Runner struct {
	shell  ShellOptions
	drain  time.Duration
	logger *slog.Logger
}

// New constructs a runtime that executes commands as local processes.
func New(opts Options) *Runner {
	r := &Runner{shell: opts.Shell, drain: opts.DrainTimeout, logger: opts.Logger}
	if r.drain <= 0 {
		r.drain = DefaultDrainTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

var _ runtime.Launcher = (*Runner)(nil)

// Start launches spec.Command. The returned process is not tied to ctx; it
// runs until it exits or is killed.
func (r *Runner) Start(ctx context.Context, spec runtime.StartSpec) (runtime.Handle, error) {
	if spec.OnLines == nil {
		return nil, errors.New("process runtime requires a line handler")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	argv, err := r.argv(spec)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Workdir
	cmd.Env = spec.Env
	// A nil Stdin reads from the null device, so prompts see EOF instead of
	// blocking forever.
	cmd.Stdin = nil

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdout: %w", spec.Name, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("%s stderr: %w", spec.Name, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, err
	}
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)

	h := &processHandle{
		name:   spec.Name,
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		pipes:  []*os.File{stdoutR, stderrR},
		drain:  r.drain,
		done:   make(chan struct{}),
		logger: r.logger,
	}

	h.readers.Add(2)
	go h.capture(stdoutR, runtime.LogSourceStdout, spec.OnLines)
	go h.capture(stderrR, runtime.LogSourceStderr, spec.OnLines)
	go h.wait()

	r.logger.Info("process started", "name", spec.Name, "pid", h.pid, "dir", spec.Workdir)
	return h, nil
}

func (r *Runner) argv(spec runtime.StartSpec) ([]string, error) {
	command := strings.TrimSpace(spec.Command)
	if command == "" {
		return nil, errors.New("empty command")
	}
	if r.shell.Enabled {
		shell := r.shell.Path
		if shell == "" {
			shell = "/bin/sh"
		}
		script := command
		if r.shell.Profile != "" {
			script = fmt.Sprintf("source %s 2>/dev/null; %s", r.shell.Profile, command)
		}
		return []string{shell, "-c", script}, nil
	}

	fields := strings.Fields(command)
	path, err := lookPath(fields[0], spec.Env)
	if err != nil {
		return nil, err
	}
	return append([]string{path}, fields[1:]...), nil
}

type processHandle struct {
	name   string
	cmd    *exec.Cmd
	pid    int
	pipes  []*os.File
	drain  time.Duration
	logger *slog.Logger

	readers sync.WaitGroup
	done    chan struct{}
	code    int
}

func (h *processHandle) Pid() int {
	return h.pid
}

func (h *processHandle) Wait() int {
	<-h.done
	return h.code
}

func (h *processHandle) Done() <-chan struct{} {
	return h.done
}

func (h *processHandle) capture(f *os.File, source string, fn runtime.LineFunc) {
	defer h.readers.Done()
	if err := ReadLines(f, source, fn); err != nil {
		h.logger.Debug("output reader stopped", "name", h.name, "source", source, "err", err)
	}
}

func (h *processHandle) wait() {
	err := h.cmd.Wait()
	code := -1
	if h.cmd.ProcessState != nil {
		code = exitCode(h.cmd.ProcessState)
	} else if err != nil {
		h.logger.Warn("wait failed", "name", h.name, "pid", h.pid, "err", err)
	}

	h.detachReaders()
	h.code = code
	close(h.done)
}

// detachReaders gives the readers a short window to drain what the process
// wrote before exiting, then closes the read ends so readers blocked on pipes
// held open by surviving descendants return.
func (h *processHandle) detachReaders() {
	drained := make(chan struct{})
	go func() {
		h.readers.Wait()
		close(drained)
	}()

	timer := time.NewTimer(h.drain)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		closeAll(h.pipes...)
		<-drained
	}
	closeAll(h.pipes...)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
