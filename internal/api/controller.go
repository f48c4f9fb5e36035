package api

import (
	stdcontext "context"
	"errors"
	"fmt"
	"time"

	units "github.com/docker/go-units"

	"github.com/Paintersrp/devrun/internal/engine"
	"github.com/Paintersrp/devrun/internal/project"
)

// Registry resolves project references.
type Registry interface {
	List() []project.Project
	Find(ref string) (project.Project, error)
}

// Supervisor is the subset of engine.Supervisor the controller drives.
type Supervisor interface {
	Run(stdcontext.Context, project.Project)
	Stop(project.ID)
	Status(project.ID) engine.Status
	Output(project.ID) []string
	ClearOutput(project.ID)
}

// SupervisorController implements Controller on top of a project registry
// and a supervisor.
type SupervisorController struct {
	registry   Registry
	supervisor Supervisor
	now        func() time.Time
}

// NewController wires registry lookups to supervisor operations.
func NewController(registry Registry, supervisor Supervisor) (*SupervisorController, error) {
	if registry == nil {
		return nil, errors.New("controller: registry is required")
	}
	if supervisor == nil {
		return nil, errors.New("controller: supervisor is required")
	}
	return &SupervisorController{registry: registry, supervisor: supervisor, now: time.Now}, nil
}

func (c *SupervisorController) Projects(stdcontext.Context) ([]ProjectReport, error) {
	projects := c.registry.List()
	reports := make([]ProjectReport, 0, len(projects))
	for _, p := range projects {
		reports = append(reports, c.report(p))
	}
	return reports, nil
}

func (c *SupervisorController) Project(_ stdcontext.Context, ref string) (*ProjectReport, error) {
	p, err := c.find(ref)
	if err != nil {
		return nil, err
	}
	report := c.report(p)
	return &report, nil
}

// Run launches the project. The process outlives the request, so the
// request context only gates the call itself.
func (c *SupervisorController) Run(ctx stdcontext.Context, ref string) (*ProjectReport, error) {
	p, err := c.find(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if state := c.supervisor.Status(p.ID).State; state.Busy() {
		return nil, fmt.Errorf("%w: %s is %s", ErrProjectBusy, p.Name, state)
	}
	c.supervisor.Run(stdcontext.WithoutCancel(ctx), p)
	report := c.report(p)
	return &report, nil
}

func (c *SupervisorController) Stop(_ stdcontext.Context, ref string) (*ProjectReport, error) {
	p, err := c.find(ref)
	if err != nil {
		return nil, err
	}
	c.supervisor.Stop(p.ID)
	report := c.report(p)
	return &report, nil
}

func (c *SupervisorController) Output(_ stdcontext.Context, ref string) (*OutputReport, error) {
	p, err := c.find(ref)
	if err != nil {
		return nil, err
	}
	lines := c.supervisor.Output(p.ID)
	if lines == nil {
		lines = []string{}
	}
	return &OutputReport{Project: string(p.ID), Lines: lines}, nil
}

func (c *SupervisorController) ClearOutput(_ stdcontext.Context, ref string) error {
	p, err := c.find(ref)
	if err != nil {
		return err
	}
	c.supervisor.ClearOutput(p.ID)
	return nil
}

func (c *SupervisorController) find(ref string) (project.Project, error) {
	p, err := c.registry.Find(ref)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, project.ErrUnknownProject):
		return project.Project{}, fmt.Errorf("%w: %s", ErrUnknownProject, ref)
	case errors.Is(err, project.ErrAmbiguousProject):
		return project.Project{}, fmt.Errorf("%w: %s", ErrAmbiguousProject, ref)
	default:
		return project.Project{}, err
	}
}

func (c *SupervisorController) report(p project.Project) ProjectReport {
	st := c.supervisor.Status(p.ID)
	report := ProjectReport{
		ID:       string(p.ID),
		Name:     p.Name,
		Path:     p.Path,
		Type:     string(p.Type),
		State:    st.State.String(),
		Command:  st.Command,
		URL:      st.Endpoint,
		ExitCode: st.ExitCode,
		Lines:    st.Lines,
	}
	if st.State == engine.StateRunning {
		report.Pid = st.Pid
		started := st.Started
		report.StartedAt = &started
		report.Uptime = units.HumanDuration(st.Uptime(c.now()))
	}
	return report
}
