package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/devrun/internal/engine"
	"github.com/Paintersrp/devrun/internal/project"
	"github.com/Paintersrp/devrun/internal/runtime"
)

// Mux fans in supervisor events and delivers them via a bounded channel.
// Lifecycle events are always delivered. When downstream consumers cannot
// keep up, log lines are dropped instead and a synthesized warning event
// reports how many were discarded for each project.
type Mux struct {
	out chan engine.Event

	mu     sync.Mutex
	drops  map[project.ID]dropRecord
	inputs sync.WaitGroup
}

type dropRecord struct {
	name  string
	count int
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan engine.Event, size),
		drops: make(map[project.ID]dropRecord),
	}
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan engine.Event {
	return m.out
}

// Add registers a new source channel. The mux consumes events until the
// source channel is closed.
func (m *Mux) Add(source <-chan engine.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			evt = normalize(evt)
			if evt.Type != engine.EventTypeLog {
				m.flushPending(evt.Project, true)
				m.blockingSend(evt)
				continue
			}
			m.deliver(evt)
		}
	}()
}

// Dropped reports how many log lines are currently pending a drop notice.
func (m *Mux) Dropped(id project.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops[id].count
}

// Close waits for all sources to be drained, emits any pending drop metadata,
// and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.flushDrops()
	close(m.out)
}

func (m *Mux) deliver(evt engine.Event) {
	if !m.flushPending(evt.Project, false) {
		m.recordDrop(evt.Project, evt.Name, 1)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(evt.Project, evt.Name, 1)
}

// flushPending emits the drop notice for id ahead of newer events. It reports
// false when the notice could not be sent without blocking.
func (m *Mux) flushPending(id project.ID, block bool) bool {
	rec := m.takeDrops(id)
	if rec.count == 0 {
		return true
	}
	meta := synthesizeDropEvent(id, rec)
	if block {
		m.blockingSend(meta)
		return true
	}
	if m.trySend(meta) {
		return true
	}
	m.recordDrop(id, rec.name, rec.count)
	return false
}

func (m *Mux) takeDrops(id project.ID) dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[id]
	if rec.count != 0 {
		delete(m.drops, id)
	}
	return rec
}

func (m *Mux) recordDrop(id project.ID, name string, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.drops[id]
	rec.count += count
	if name != "" {
		rec.name = name
	}
	m.drops[id] = rec
}

func (m *Mux) flushDrops() {
	for id, rec := range m.collectDrops() {
		m.blockingSend(synthesizeDropEvent(id, rec))
	}
}

func (m *Mux) collectDrops() map[project.ID]dropRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.drops) == 0 {
		return nil
	}
	dup := make(map[project.ID]dropRecord, len(m.drops))
	for id, rec := range m.drops {
		if rec.count == 0 {
			continue
		}
		dup[id] = rec
	}
	m.drops = make(map[project.ID]dropRecord)
	return dup
}

func (m *Mux) trySend(evt engine.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func (m *Mux) blockingSend(evt engine.Event) {
	m.out <- evt
}

func normalize(evt engine.Event) engine.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		if evt.Type == engine.EventTypeLog {
			evt.Source = runtime.LogSourceStdout
		} else {
			evt.Source = runtime.LogSourceSystem
		}
	}
	if evt.Level == "" {
		if evt.Source == runtime.LogSourceStderr {
			evt.Level = "warn"
		} else {
			evt.Level = "info"
		}
	}
	return evt
}

func synthesizeDropEvent(id project.ID, rec dropRecord) engine.Event {
	return engine.Event{
		Timestamp: time.Now(),
		Project:   id,
		Name:      rec.name,
		Type:      engine.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", rec.count),
		Level:     "warn",
		Source:    runtime.LogSourceSystem,
	}
}
