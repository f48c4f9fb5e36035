package engine

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/devrun/internal/project"
	"github.com/Paintersrp/devrun/internal/runtime"
)

func TestSupervisorRunRegistersActiveProcess(t *testing.T) {
	h := newHarness(t)
	p := testProject("web")

	h.sup.Run(context.Background(), p)

	if !h.sup.IsRunning(p.ID) {
		t.Fatalf("expected project to be running")
	}
	if got := h.sup.State(p.ID); got != StateRunning {
		t.Fatalf("state = %s, want running", got)
	}
	cmd, ok := h.sup.RunningCommand(p.ID)
	if !ok || cmd != "npm run dev" {
		t.Fatalf("running command = %q, %v", cmd, ok)
	}
	want := []string{"$ npm run dev", ""}
	if got := h.sup.Output(p.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("output = %#v, want %#v", got, want)
	}
	spec := h.launcher.handle(0).spec
	if spec.Workdir != "/projects/web" || spec.Command != "npm run dev" {
		t.Fatalf("unexpected start spec: %+v", spec)
	}
	if !reflect.DeepEqual(spec.Env, []string{"PATH=/usr/bin"}) {
		t.Fatalf("unexpected env: %v", spec.Env)
	}
	if active := h.sup.Active(); len(active) != 1 || active[0] != p.ID {
		t.Fatalf("active = %v", active)
	}
}

func TestSupervisorRunIsNoOpWhileRunning(t *testing.T) {
	h := newHarness(t)
	p := testProject("web")

	h.sup.Run(context.Background(), p)
	h.sup.Run(context.Background(), p)

	if n := h.launcher.started(); n != 1 {
		t.Fatalf("expected a single launch, got %d", n)
	}
}

func TestSupervisorRunPreconditionFailures(t *testing.T) {
	t.Run("directory not found", func(t *testing.T) {
		h := newHarness(t, WithDirExists(func(string) bool { return false }))
		p := testProject("gone")

		h.sup.Run(context.Background(), p)

		if h.sup.IsRunning(p.ID) {
			t.Fatalf("expected no active process")
		}
		want := []string{"⚠ Directory not found: /projects/gone"}
		if got := h.sup.Output(p.ID); !reflect.DeepEqual(got, want) {
			t.Fatalf("output = %#v, want %#v", got, want)
		}
		if h.launcher.started() != 0 {
			t.Fatalf("launcher should not be called")
		}
		if got := h.sup.State(p.ID); got != StateIdle {
			t.Fatalf("state = %s, want idle", got)
		}
	})

	t.Run("no run command", func(t *testing.T) {
		h := newHarness(t)
		p := testProject("odd")
		p.Type = project.TypeUnsupported

		h.sup.Run(context.Background(), p)

		want := []string{"⚠ No run command found for this project type."}
		if got := h.sup.Output(p.ID); !reflect.DeepEqual(got, want) {
			t.Fatalf("output = %#v, want %#v", got, want)
		}
		if _, ok := h.sup.RunningCommand(p.ID); ok {
			t.Fatalf("expected no running command")
		}
	})

	t.Run("spawn failure", func(t *testing.T) {
		h := newHarness(t)
		h.launcher.err = errSpawn
		p := testProject("web")

		h.sup.Run(context.Background(), p)

		if h.sup.IsRunning(p.ID) {
			t.Fatalf("expected no active process")
		}
		if _, ok := h.sup.RunningCommand(p.ID); ok {
			t.Fatalf("running command must be removed after spawn failure")
		}
		out := h.sup.Output(p.ID)
		last := out[len(out)-1]
		if !strings.HasPrefix(last, "⚠ Failed to start: ") || !strings.Contains(last, "executable file not found") {
			t.Fatalf("unexpected failure line %q", last)
		}
		if got := h.sup.State(p.ID); got != StateIdle {
			t.Fatalf("state = %s, want idle", got)
		}
	})
}

func TestSupervisorStopRunsKillCascade(t *testing.T) {
	h := newHarness(t)
	p := testProject("web")
	h.sup.Run(context.Background(), p)
	handle := h.launcher.handle(0)

	handle.emit(runtime.LogSourceStdout, "  VITE ready", "  ➜  Local:   http://localhost:5173/")
	if url, ok := h.sup.Endpoint(p.ID); !ok || url != "http://localhost:5173/" {
		t.Fatalf("endpoint = %q, %v", url, ok)
	}

	h.sup.Stop(p.ID)

	if h.sup.IsRunning(p.ID) {
		t.Fatalf("expected IsRunning to be false right after Stop")
	}
	if _, ok := h.sup.Endpoint(p.ID); ok {
		t.Fatalf("expected endpoint to be cleared")
	}
	if _, ok := h.sup.RunningCommand(p.ID); ok {
		t.Fatalf("expected running command to be cleared")
	}
	if got := h.sup.State(p.ID); got != StateStopped {
		t.Fatalf("state = %s, want stopped", got)
	}
	if handle.terminateCount() != 1 {
		t.Fatalf("expected one graceful terminate, got %d", handle.terminateCount())
	}

	wantCalls := []killCall{{op: "tree", pid: handle.pid}, {op: "port", port: 5173}}
	if got := h.terminator.snapshot(); !reflect.DeepEqual(got, wantCalls) {
		t.Fatalf("kill calls = %+v, want %+v", got, wantCalls)
	}

	out := h.sup.Output(p.ID)
	if tail := out[len(out)-2:]; !reflect.DeepEqual(tail, []string{"", "⏹ Stopping process..."}) {
		t.Fatalf("unexpected output tail %#v", tail)
	}

	delays := h.clock.runAll()
	if !reflect.DeepEqual(delays, []time.Duration{DefaultSweepDelay}) {
		t.Fatalf("sweep delays = %v", delays)
	}
	calls := h.terminator.snapshot()
	if last := calls[len(calls)-1]; last != (killCall{op: "sweep", pid: handle.pid, port: 5173}) {
		t.Fatalf("unexpected sweep call %+v", last)
	}
}

func TestSupervisorStopWithoutEndpointSkipsPortKill(t *testing.T) {
	h := newHarness(t)
	p := testProject("api")
	h.sup.Run(context.Background(), p)

	h.sup.Stop(p.ID)
	h.clock.runAll()

	for _, call := range h.terminator.snapshot() {
		if call.op == "port" {
			t.Fatalf("unexpected port kill %+v", call)
		}
		if call.op == "sweep" && call.port != 0 {
			t.Fatalf("sweep should carry no port, got %+v", call)
		}
	}
}

func TestSupervisorStopIsNoOpWhenIdle(t *testing.T) {
	h := newHarness(t)
	id := project.ID("idle")

	h.sup.Stop(id)
	h.sup.Stop(id)

	if calls := h.terminator.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no kill calls, got %+v", calls)
	}
	if out := h.sup.Output(id); len(out) != 0 {
		t.Fatalf("expected no output, got %#v", out)
	}
}

func TestSupervisorObserverReportsExit(t *testing.T) {
	h := newHarness(t)
	p := testProject("web")
	h.sup.Run(context.Background(), p)
	handle := h.launcher.handle(0)
	handle.emit(runtime.LogSourceStderr, "Local: http://127.0.0.1:4321/")

	handle.exit(3)
	waitFor(t, "exit observed", func() bool { return h.sup.State(p.ID) == StateExited })

	if h.sup.IsRunning(p.ID) {
		t.Fatalf("expected process to be inactive after exit")
	}
	if _, ok := h.sup.RunningCommand(p.ID); ok {
		t.Fatalf("expected running command removed after exit")
	}
	if url, _ := h.sup.Endpoint(p.ID); url != "http://localhost:4321/" {
		t.Fatalf("endpoint should survive exit, got %q", url)
	}
	out := h.sup.Output(p.ID)
	if tail := out[len(out)-2:]; !reflect.DeepEqual(tail, []string{"", "⏹ Process exited with code 3"}) {
		t.Fatalf("unexpected output tail %#v", tail)
	}
	st := h.sup.Status(p.ID)
	if st.ExitCode == nil || *st.ExitCode != 3 {
		t.Fatalf("status exit code = %v", st.ExitCode)
	}
}

func TestSupervisorIgnoresStaleOutput(t *testing.T) {
	h := newHarness(t)
	p := testProject("web")

	h.sup.Run(context.Background(), p)
	first := h.launcher.handle(0)
	first.exit(0)
	waitFor(t, "first exit", func() bool { return h.sup.State(p.ID) == StateExited })

	h.sup.Run(context.Background(), p)
	second := h.launcher.handle(1)

	first.emit(runtime.LogSourceStdout, "late line from old run", "http://localhost:9999/")
	second.emit(runtime.LogSourceStdout, "fresh")

	want := []string{"$ npm run dev", "", "fresh"}
	if got := h.sup.Output(p.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("output = %#v, want %#v", got, want)
	}
	if _, ok := h.sup.Endpoint(p.ID); ok {
		t.Fatalf("stale output must not set the endpoint")
	}
}

func TestSupervisorEndpointPrecedence(t *testing.T) {
	h := newHarness(t)
	p := testProject("web")
	h.sup.Run(context.Background(), p)
	handle := h.launcher.handle(0)

	handle.emit(runtime.LogSourceStdout, "Port 3000 in use")
	handle.emit(runtime.LogSourceStdout, "Local: http://localhost:3000/")
	handle.emit(runtime.LogSourceStdout, "Local: http://localhost:3001/")

	if url, _ := h.sup.Endpoint(p.ID); url != "http://localhost:3001/" {
		t.Fatalf("endpoint = %q", url)
	}

	h.sup.ClearOutput(p.ID)
	handle.emit(runtime.LogSourceStdout, "listening on port 4000")
	handle.emit(runtime.LogSourceStdout, "Local: http://localhost:5000/")
	if url, _ := h.sup.Endpoint(p.ID); url != "http://localhost:5000/" {
		t.Fatalf("endpoint = %q", url)
	}
}

func TestSupervisorClearOutput(t *testing.T) {
	h := newHarness(t)
	p := testProject("web")
	h.sup.Run(context.Background(), p)
	h.launcher.handle(0).emit(runtime.LogSourceStdout, "http://localhost:8080")

	h.sup.ClearOutput(p.ID)

	if out := h.sup.Output(p.ID); len(out) != 0 {
		t.Fatalf("expected empty output, got %#v", out)
	}
	if _, ok := h.sup.Endpoint(p.ID); ok {
		t.Fatalf("expected endpoint cleared")
	}
	if !h.sup.IsRunning(p.ID) {
		t.Fatalf("clearing output must not affect the process")
	}
}

func TestSupervisorOutputLimit(t *testing.T) {
	h := newHarness(t, WithOutputLimit(5))
	p := testProject("web")
	h.sup.Run(context.Background(), p)

	h.launcher.handle(0).emit(runtime.LogSourceStdout, "a", "b", "c", "d", "e", "f")

	want := []string{"b", "c", "d", "e", "f"}
	if got := h.sup.Output(p.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("output = %#v, want %#v", got, want)
	}
}

func TestSupervisorStopAll(t *testing.T) {
	h := newHarness(t)
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		h.sup.Run(context.Background(), testProject(id))
	}
	if len(h.sup.Active()) != len(ids) {
		t.Fatalf("expected %d active projects", len(ids))
	}

	h.sup.StopAll()

	if active := h.sup.Active(); len(active) != 0 {
		t.Fatalf("expected no active projects, got %v", active)
	}
	for _, id := range ids {
		if h.sup.IsRunning(project.ID(id)) {
			t.Fatalf("%s still running", id)
		}
	}

	h.sup.Run(context.Background(), testProject("late"))
	if h.sup.IsRunning("late") {
		t.Fatalf("expected runs after StopAll to be refused")
	}
}

func TestSupervisorConcurrentStopWaitsForFirst(t *testing.T) {
	h := newHarness(t)
	h.terminator.entered = make(chan struct{})
	h.terminator.gate = make(chan struct{})
	p := testProject("web")
	h.sup.Run(context.Background(), p)

	first := make(chan struct{})
	go func() {
		h.sup.Stop(p.ID)
		close(first)
	}()
	select {
	case <-h.terminator.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first Stop never reached KillTree")
	}

	waiters := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			h.sup.Stop(p.ID)
			waiters <- struct{}{}
		}()
	}
	select {
	case <-waiters:
		t.Fatalf("Stop returned while the kill pass was still running")
	case <-time.After(50 * time.Millisecond):
	}
	if got := h.sup.State(p.ID); got != StateStopping {
		t.Fatalf("state = %s, want stopping", got)
	}

	close(h.terminator.gate)
	for _, ch := range []<-chan struct{}{first, waiters, waiters} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("Stop did not return after the kill pass finished")
		}
	}

	if n := h.terminator.count("tree"); n != 1 {
		t.Fatalf("expected one tree kill, got %d", n)
	}
	if n := h.launcher.handle(0).terminateCount(); n != 1 {
		t.Fatalf("expected one terminate, got %d", n)
	}
	if h.sup.IsRunning(p.ID) || h.sup.State(p.ID) != StateStopped {
		t.Fatalf("expected stopped project, state %s", h.sup.State(p.ID))
	}
}

func TestSupervisorStopAllStopsLaunchInFlight(t *testing.T) {
	h := newHarness(t)
	h.launcher.entered = make(chan struct{})
	h.launcher.gate = make(chan struct{})
	p := testProject("web")

	runDone := make(chan struct{})
	go func() {
		h.sup.Run(context.Background(), p)
		close(runDone)
	}()
	select {
	case <-h.launcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run never reached the launcher")
	}

	h.sup.StopAll()
	close(h.launcher.gate)
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}

	if h.sup.IsRunning(p.ID) {
		t.Fatalf("launch registered after StopAll is still running")
	}
	if got := h.sup.State(p.ID); got != StateStopped {
		t.Fatalf("state = %s, want stopped", got)
	}
	if n := h.terminator.count("tree"); n != 1 {
		t.Fatalf("expected one tree kill, got %d", n)
	}

	h.sup.Run(context.Background(), testProject("late"))
	if n := h.launcher.started(); n != 1 {
		t.Fatalf("expected no launch after StopAll, got %d starts", n)
	}
}

func TestSupervisorEmitsLifecycleEvents(t *testing.T) {
	events := make(chan Event, 64)
	h := newHarness(t, WithEvents(events))
	p := testProject("web")

	h.sup.Run(context.Background(), p)
	h.launcher.handle(0).emit(runtime.LogSourceStdout, "Local: http://localhost:3000/")
	h.sup.Stop(p.ID)

	var types []EventType
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	want := []EventType{EventTypeStarting, EventTypeRunning, EventTypeLog, EventTypeEndpoint, EventTypeStopping, EventTypeStopped}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestOutputBufferKeepsLastLines(t *testing.T) {
	buf := NewOutputBuffer(0)
	for i := 0; i < 1500; i++ {
		buf.Append(strings.Repeat("x", i%7))
	}
	if buf.Len() != DefaultOutputLines {
		t.Fatalf("len = %d, want %d", buf.Len(), DefaultOutputLines)
	}
	lines := buf.Lines()
	for i, line := range lines {
		if want := strings.Repeat("x", (i+500)%7); line != want {
			t.Fatalf("line %d = %q, want %q", i, line, want)
		}
	}

	buf.Reset()
	buf.Append("after")
	if got := buf.Lines(); !reflect.DeepEqual(got, []string{"after"}) {
		t.Fatalf("after reset = %#v", got)
	}
}

func TestStateString(t *testing.T) {
	if StateStopping.String() != "stopping" || State(42).String() != "unknown" {
		t.Fatalf("unexpected state names")
	}
}
