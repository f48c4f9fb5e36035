package cli

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Paintersrp/devrun/internal/api"
	apihttp "github.com/Paintersrp/devrun/internal/api/http"
	"github.com/Paintersrp/devrun/internal/probe"
	"github.com/Paintersrp/devrun/internal/project"
)

const statusAPITimeout = time.Second

type statusRow struct {
	api.ProjectReport
	Reachable *bool  `json:"reachable,omitempty"`
	ProbeErr  string `json:"probe_error,omitempty"`
	Latency   string `json:"probe_latency,omitempty"`
}

// fetchReports is swapped in tests.
var fetchReports = func(ctx stdcontext.Context, addr string) ([]api.ProjectReport, error) {
	return apihttp.NewClient(addr, statusAPITimeout).Projects(ctx)
}

func newStatusCmd(ctx *context) *cobra.Command {
	var (
		withProbe bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project state from a running `devrun serve`",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, live, err := ctx.statusReports(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([]statusRow, len(reports))
			for i, r := range reports {
				rows[i] = statusRow{ProjectReport: r}
			}
			if withProbe {
				probeRows(cmd.Context(), rows, ctx.settings.Probe.Timeout.Duration)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			writeStatus(cmd.OutOrStdout(), rows, withProbe)
			if !live {
				fmt.Fprintf(cmd.ErrOrStderr(), "\nNo devrun server at %s; showing registered projects only.\n", ctx.settings.API.Addr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withProbe, "probe", false, "check whether each detected URL answers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

// statusReports asks the control API for live state and falls back to the
// registry when no server is running.
func (c *context) statusReports(ctx stdcontext.Context) ([]api.ProjectReport, bool, error) {
	reports, err := fetchReports(ctx, c.settings.API.Addr)
	if err == nil {
		return reports, true, nil
	}
	c.logger.Debug("control api unavailable", "addr", c.settings.API.Addr, "err", err)

	store, err := c.openStore()
	if err != nil {
		return nil, false, err
	}
	resolver := project.ManifestResolver{}
	projects := store.List()
	reports = make([]api.ProjectReport, 0, len(projects))
	for _, p := range projects {
		command, _ := resolver.Resolve(p.Type, p.Dir())
		reports = append(reports, api.ProjectReport{
			ID:      string(p.ID),
			Name:    p.Name,
			Path:    p.Path,
			Type:    string(p.Type),
			State:   "-",
			Command: command,
		})
	}
	return reports, false, nil
}

func probeRows(ctx stdcontext.Context, rows []statusRow, timeout time.Duration) {
	var g errgroup.Group
	g.SetLimit(8)
	for i := range rows {
		if rows[i].URL == "" {
			continue
		}
		i := i
		g.Go(func() error {
			row := &rows[i]
			prober, err := probe.New(row.URL)
			if err != nil {
				row.ProbeErr = err.Error()
				return nil
			}
			ev := probe.Check(ctx, prober, timeout)
			ok := ev.Status == probe.StatusReady
			row.Reachable = &ok
			row.ProbeErr = ev.Reason
			row.Latency = ev.Latency.Round(time.Millisecond).String()
			return nil
		})
	}
	_ = g.Wait()
}

func writeStatus(out io.Writer, rows []statusRow, withProbe bool) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := []string{"NAME", "TYPE", "STATE", "URL", "COMMAND", "UPTIME"}
	if withProbe {
		header = append(header, "REACHABLE")
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, r := range rows {
		values := []string{
			r.Name,
			project.Type(r.Type).Label(),
			formatStatusState(r),
			orDash(r.URL),
			orDash(r.Command),
			orDash(r.Uptime),
		}
		if withProbe {
			values = append(values, formatReachable(r))
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	w.Flush()
}

func formatStatusState(r statusRow) string {
	if r.State == "" || r.State == "-" {
		return "-"
	}
	s := strings.ToUpper(r.State[:1]) + r.State[1:]
	if r.ExitCode != nil && r.State == "exited" {
		s = fmt.Sprintf("%s (%d)", s, *r.ExitCode)
	}
	return s
}

func formatReachable(r statusRow) string {
	switch {
	case r.Reachable == nil && r.ProbeErr != "":
		return "error: " + r.ProbeErr
	case r.Reachable == nil:
		return "-"
	case *r.Reachable:
		return "yes (" + r.Latency + ")"
	default:
		return "no: " + r.ProbeErr
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
