package cli

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/devrun/internal/cliutil"
	"github.com/Paintersrp/devrun/internal/engine"
	"github.com/Paintersrp/devrun/internal/logmux"
	"github.com/Paintersrp/devrun/internal/probe"
	"github.com/Paintersrp/devrun/internal/project"
)

const (
	eventBuffer     = 256
	exitWaitTimeout = 3 * time.Second
	probeInterval   = 500 * time.Millisecond
)

func newRunCmd(ctx *context) *cobra.Command {
	var (
		asJSON  bool
		noProbe bool
	)
	cmd := &cobra.Command{
		Use:   "run <ref>...",
		Short: "Run projects in the foreground until they exit or Ctrl-C",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := ctx.resolveProjects(args)
			if err != nil {
				return err
			}
			return runForeground(cmd.Context(), ctx, projects, cmd.OutOrStdout(), cmd.ErrOrStderr(), runOptions{
				json:         asJSON,
				probe:        !noProbe && !asJSON,
				probeTimeout: ctx.settings.Probe.Timeout.Duration,
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit output and lifecycle events as JSON records")
	cmd.Flags().BoolVar(&noProbe, "no-probe", false, "do not report when detected URLs become reachable")
	return cmd
}

type runOptions struct {
	json         bool
	probe        bool
	probeTimeout time.Duration
}

// supervisor is the part of engine.Supervisor the foreground runner drives.
type supervisor interface {
	Run(stdcontext.Context, project.Project)
	StopAll()
}

var newRunSupervisor = func(ctx *context, events chan<- engine.Event) supervisor {
	return ctx.newSupervisor(events)
}

func runForeground(parent stdcontext.Context, ctx *context, projects []project.Project, stdout, stderr io.Writer, opts runOptions) error {
	events := make(chan engine.Event, eventBuffer)
	sup := newRunSupervisor(ctx, events)

	mux := logmux.New(eventBuffer)
	mux.Add(events)

	runCtx, cancel := stdcontext.WithCancel(parent)
	defer cancel()

	printer := newEventPrinter(stdout, stderr, projects, opts.json)
	tracker := newExitTracker(projects)

	consumerCtx, stopConsumer := stdcontext.WithCancel(stdcontext.Background())
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			select {
			case <-consumerCtx.Done():
				return
			case evt, ok := <-mux.Output():
				if !ok {
					return
				}
				printer.print(evt)
				tracker.observe(evt)
				if opts.probe && evt.Type == engine.EventTypeEndpoint {
					go watchReachable(runCtx, printer, evt, opts.probeTimeout)
				}
			}
		}
	}()

	for _, p := range projects {
		sup.Run(runCtx, p)
	}

	select {
	case <-parent.Done():
		printer.notice("Stopping...")
	case <-tracker.allDone():
	}

	sup.StopAll()
	cancel()
	select {
	case <-tracker.allDone():
	case <-time.After(exitWaitTimeout):
	}
	stopConsumer()
	<-consumerDone

	if parent.Err() != nil {
		return nil
	}
	if failed := tracker.failures(); len(failed) > 0 {
		return fmt.Errorf("%s did not exit cleanly", strings.Join(failed, ", "))
	}
	return nil
}

// watchReachable reports the first time a detected URL answers.
func watchReachable(ctx stdcontext.Context, printer *eventPrinter, evt engine.Event, timeout time.Duration) {
	prober, err := probe.New(evt.Message)
	if err != nil {
		return
	}
	watchCtx, cancel := stdcontext.WithCancel(ctx)
	defer cancel()
	start := time.Now()
	for ev := range probe.Watch(watchCtx, prober, probe.Spec{
		Interval:         probeInterval,
		Timeout:          timeout,
		SuccessThreshold: 1,
		FailureThreshold: 1,
	}, nil) {
		if ev.Status == probe.StatusReady {
			printer.line(evt.Project, fmt.Sprintf("✓ %s reachable after %s", evt.Message, time.Since(start).Round(time.Millisecond)))
			return
		}
	}
}

type eventPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	enc    *json.Encoder
	names  map[project.ID]string
	width  int
}

func newEventPrinter(stdout, stderr io.Writer, projects []project.Project, asJSON bool) *eventPrinter {
	p := &eventPrinter{out: stdout, errOut: stderr, names: make(map[project.ID]string, len(projects))}
	if asJSON {
		p.enc = json.NewEncoder(stdout)
	}
	for _, proj := range projects {
		p.names[proj.ID] = proj.Name
		if len(proj.Name) > p.width {
			p.width = len(proj.Name)
		}
	}
	return p
}

func (p *eventPrinter) print(evt engine.Event) {
	if p.enc != nil {
		p.mu.Lock()
		cliutil.EncodeLogEvent(p.enc, p.errOut, evt)
		p.mu.Unlock()
		return
	}
	var text string
	switch evt.Type {
	case engine.EventTypeLog:
		text = evt.Message
	case engine.EventTypeRunning:
		text = "$ " + evt.Message
	case engine.EventTypeEndpoint:
		text = "➜ " + evt.Message
	case engine.EventTypeStopping, engine.EventTypeExited, engine.EventTypeFailed:
		text = evt.Message
	default:
		return
	}
	p.line(evt.Project, text)
}

func (p *eventPrinter) line(id project.ID, text string) {
	name := p.names[id]
	if name == "" {
		name = id.Short()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enc != nil {
		return
	}
	fmt.Fprintf(p.out, "%-*s | %s\n", p.width, name, text)
}

func (p *eventPrinter) notice(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enc != nil {
		return
	}
	fmt.Fprintln(p.errOut, text)
}

// exitTracker records which projects have finished, one way or another.
type exitTracker struct {
	mu      sync.Mutex
	pending map[project.ID]bool
	names   map[project.ID]string
	failed  []string
	done    chan struct{}
}

func newExitTracker(projects []project.Project) *exitTracker {
	t := &exitTracker{
		pending: make(map[project.ID]bool, len(projects)),
		names:   make(map[project.ID]string, len(projects)),
		done:    make(chan struct{}),
	}
	for _, p := range projects {
		t.pending[p.ID] = true
		t.names[p.ID] = p.Name
	}
	if len(t.pending) == 0 {
		close(t.done)
	}
	return t
}

func (t *exitTracker) observe(evt engine.Event) {
	if evt.Type != engine.EventTypeExited && evt.Type != engine.EventTypeFailed {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.pending[evt.Project] {
		return
	}
	delete(t.pending, evt.Project)
	if evt.Type == engine.EventTypeFailed || evt.ExitCode != 0 {
		t.failed = append(t.failed, t.names[evt.Project])
	}
	if len(t.pending) == 0 {
		close(t.done)
	}
}

func (t *exitTracker) allDone() <-chan struct{} {
	return t.done
}

func (t *exitTracker) failures() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.failed...)
}
