package api

import (
	stdcontext "context"
	"errors"
	"time"
)

var (
	ErrUnknownProject   = errors.New("unknown project")
	ErrAmbiguousProject = errors.New("ambiguous project reference")
	ErrProjectBusy      = errors.New("project is busy")
)

// ProjectReport describes the runtime state for a single project.
type ProjectReport struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	Type      string     `json:"type"`
	State     string     `json:"state"`
	Command   string     `json:"command,omitempty"`
	URL       string     `json:"url,omitempty"`
	Pid       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Uptime    string     `json:"uptime,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Lines     int        `json:"lines"`
}

// OutputReport carries the buffered output of one project.
type OutputReport struct {
	Project string   `json:"project"`
	Lines   []string `json:"lines"`
}

// Controller exposes supervisor operations required by control servers.
type Controller interface {
	Projects(stdcontext.Context) ([]ProjectReport, error)
	Project(stdcontext.Context, string) (*ProjectReport, error)
	Run(stdcontext.Context, string) (*ProjectReport, error)
	Stop(stdcontext.Context, string) (*ProjectReport, error)
	Output(stdcontext.Context, string) (*OutputReport, error)
	ClearOutput(stdcontext.Context, string) error
}
