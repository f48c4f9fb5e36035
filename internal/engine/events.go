package engine

import (
	"time"

	"github.com/Paintersrp/devrun/internal/project"
	"github.com/Paintersrp/devrun/internal/runtime"
)

// EventType captures lifecycle and log notifications emitted by the
// supervisor.
type EventType string

const (
	EventTypeStarting EventType = "starting"
	EventTypeRunning  EventType = "running"
	EventTypeLog      EventType = "log"
	EventTypeEndpoint EventType = "endpoint"
	EventTypeStopping EventType = "stopping"
	EventTypeStopped  EventType = "stopped"
	EventTypeExited   EventType = "exited"
	EventTypeFailed   EventType = "failed"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	Project   project.ID
	Name      string
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
	ExitCode  int
	Reason    string
}

const (
	ReasonDirectoryNotFound = "directory_not_found"
	ReasonNoRunCommand      = "no_run_command"
	ReasonSpawnFailure      = "spawn_failure"
	ReasonNonZeroExit       = "non_zero_exit"
	ReasonCleanExit         = "clean_exit"
	ReasonStopRequested     = "stop_requested"
	ReasonShutdown          = "shutdown"
)

func sendEvent(events chan<- Event, l *launch, t EventType, message, reason string, err error) {
	if events == nil {
		return
	}
	level := "info"
	if t == EventTypeFailed {
		level = "error"
	}
	events <- Event{
		Timestamp: time.Now(),
		Project:   l.id,
		Name:      l.name,
		Type:      t,
		Message:   message,
		Level:     level,
		Source:    runtime.LogSourceSystem,
		Err:       err,
		Reason:    reason,
	}
}

func sendLogEvents(events chan<- Event, l *launch, source string, lines []string) {
	if events == nil {
		return
	}
	level := "info"
	if source == runtime.LogSourceStderr {
		level = "warn"
	}
	now := time.Now()
	for _, line := range lines {
		events <- Event{
			Timestamp: now,
			Project:   l.id,
			Name:      l.name,
			Type:      EventTypeLog,
			Message:   line,
			Level:     level,
			Source:    source,
		}
	}
}
