package engine

import (
	"time"

	"github.com/Paintersrp/devrun/internal/project"
)

// State is the lifecycle position of a project's most recent launch.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateExited
)

var stateNames = [...]string{
	StateIdle:     "idle",
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateStopped:  "stopped",
	StateExited:   "exited",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Busy reports whether a launch in this state blocks a new Run.
func (s State) Busy() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// Status is a point in time view of one project.
type Status struct {
	Project  project.ID
	State    State
	Command  string
	Endpoint string
	Pid      int
	Started  time.Time
	// ExitCode is set once the termination observer has seen the process
	// exit.
	ExitCode *int
	Lines    int
}

// Uptime returns how long the process has been running, or zero when it is
// not active.
func (s Status) Uptime(now time.Time) time.Duration {
	if s.State != StateRunning || s.Started.IsZero() {
		return 0
	}
	return now.Sub(s.Started)
}
