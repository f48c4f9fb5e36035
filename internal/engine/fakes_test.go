package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Paintersrp/devrun/internal/project"
	"github.com/Paintersrp/devrun/internal/runtime"
)

type fakeHandle struct {
	pid  int
	spec runtime.StartSpec

	mu         sync.Mutex
	terminated int
	code       int
	done       chan struct{}
	once       sync.Once
}

func (h *fakeHandle) Pid() int { return h.pid }

func (h *fakeHandle) Wait() int {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	h.terminated++
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) exit(code int) {
	h.once.Do(func() {
		h.mu.Lock()
		h.code = code
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *fakeHandle) emit(source string, lines ...string) {
	h.spec.OnLines(source, lines)
}

func (h *fakeHandle) terminateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

type fakeLauncher struct {
	// entered and gate, when set, hold Start until gate is closed.
	entered chan struct{}
	gate    chan struct{}

	mu      sync.Mutex
	nextPid int
	err     error
	handles []*fakeHandle
}

func (l *fakeLauncher) Start(ctx context.Context, spec runtime.StartSpec) (runtime.Handle, error) {
	if l.gate != nil {
		l.entered <- struct{}{}
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.nextPid++
	h := &fakeHandle{pid: 1000 + l.nextPid, spec: spec, done: make(chan struct{})}
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLauncher) started() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

func (l *fakeLauncher) handle(i int) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[i]
}

func (l *fakeLauncher) exitAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range l.handles {
		h.exit(-1)
	}
}

type killCall struct {
	op   string
	pid  int
	port int
}

type fakeTerminator struct {
	// entered and gate, when set, hold KillTree until gate is closed.
	entered chan struct{}
	gate    chan struct{}

	mu    sync.Mutex
	calls []killCall
}

func (f *fakeTerminator) record(call killCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTerminator) KillTree(ctx context.Context, root int) {
	f.record(killCall{op: "tree", pid: root})
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
}

func (f *fakeTerminator) KillByPort(ctx context.Context, port int) {
	f.record(killCall{op: "port", port: port})
}

func (f *fakeTerminator) Sweep(ctx context.Context, root, port int) {
	f.record(killCall{op: "sweep", pid: root, port: port})
}

func (f *fakeTerminator) snapshot() []killCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]killCall(nil), f.calls...)
}

func (f *fakeTerminator) count(op string) int {
	n := 0
	for _, call := range f.snapshot() {
		if call.op == op {
			n++
		}
	}
	return n
}

type scheduled struct {
	delay time.Duration
	fn    func()
}

type fakeClock struct {
	mu    sync.Mutex
	tasks []scheduled
}

func (c *fakeClock) afterFunc(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, scheduled{delay: d, fn: fn})
}

func (c *fakeClock) runAll() []time.Duration {
	c.mu.Lock()
	tasks := c.tasks
	c.tasks = nil
	c.mu.Unlock()
	delays := make([]time.Duration, 0, len(tasks))
	for _, task := range tasks {
		delays = append(delays, task.delay)
		task.fn()
	}
	return delays
}

type harness struct {
	sup        *Supervisor
	launcher   *fakeLauncher
	terminator *fakeTerminator
	clock      *fakeClock
}

var errSpawn = errors.New("exec: \"vite\": executable file not found in $PATH")

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		launcher:   &fakeLauncher{},
		terminator: &fakeTerminator{},
		clock:      &fakeClock{},
	}
	resolver := project.ResolverFunc(func(typ project.Type, dir string) (string, bool) {
		if typ == project.TypeUnsupported {
			return "", false
		}
		return "npm run dev", true
	})
	base := []Option{
		WithDirExists(func(string) bool { return true }),
		WithEnvironment(func() []string { return []string{"PATH=/usr/bin"} }),
		WithAfterFunc(h.clock.afterFunc),
	}
	h.sup = NewSupervisor(h.launcher, h.terminator, resolver, append(base, opts...)...)
	t.Cleanup(h.launcher.exitAll)
	return h
}

func testProject(id string) project.Project {
	return project.Project{ID: project.ID(id), Name: id, Path: "/projects/" + id, Type: project.TypeNode}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}
