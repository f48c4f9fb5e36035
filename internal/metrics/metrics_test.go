package metrics_test

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/devrun/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRegistryExposesMetrics(t *testing.T) {
	project := "metrics_test_project"

	metrics.EmitBuildInfo()
	metrics.SetProcessRunning(project, true)
	metrics.IncrementProcessStart(project)
	metrics.IncrementProcessStart(project)
	metrics.IncrementProcessExit(project, 137)
	metrics.AddOutputLines(project, "stdout", 5)
	metrics.AddKillSignals("tree", 3)

	body := scrape(t)

	expected := []string{
		fmt.Sprintf("devrun_process_running{project=\"%s\"} 1", project),
		fmt.Sprintf("devrun_process_starts_total{project=\"%s\"} 2", project),
		fmt.Sprintf("devrun_process_exits_total{code=\"137\",project=\"%s\"} 1", project),
		fmt.Sprintf("devrun_output_lines_total{project=\"%s\",source=\"stdout\"} 5", project),
		"devrun_kill_signals_total{phase=\"tree\"}",
		"devrun_build_info{",
		"go_version=",
	}
	for _, line := range expected {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in body:\n%s", line, body)
		}
	}
}

func TestResetProjectDropsSeries(t *testing.T) {
	project := "metrics_reset_project"
	metrics.SetProcessRunning(project, true)
	metrics.IncrementProcessStop(project)

	metrics.ResetProject(project)

	body := scrape(t)
	if strings.Contains(body, project) {
		t.Fatalf("expected no series for %s after reset:\n%s", project, body)
	}
}
