package metrics

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	processRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "devrun",
		Name:      "process_running",
		Help:      "Whether a dev server process is active for the project (1=running, 0=idle).",
	}, []string{"project"})

	processStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devrun",
		Name:      "process_starts_total",
		Help:      "Total number of successful process launches per project.",
	}, []string{"project"})

	processExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devrun",
		Name:      "process_exits_total",
		Help:      "Total number of observed process exits per project and exit code.",
	}, []string{"project", "code"})

	processStops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devrun",
		Name:      "process_stops_total",
		Help:      "Total number of stop requests that found an active process.",
	}, []string{"project"})

	outputLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devrun",
		Name:      "output_lines_total",
		Help:      "Total number of captured output lines per project and stream.",
	}, []string{"project", "source"})

	killSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devrun",
		Name:      "kill_signals_total",
		Help:      "Kill signals delivered, by terminator phase (tree, port, sweep).",
	}, []string{"phase"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "devrun",
		Name:      "build_info",
		Help:      "Build metadata for the running devrun binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(processRunning, processStarts, processExits, processStops, outputLines, killSignals, buildInfo)
}

// Registry returns the Prometheus registry containing all devrun metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetProcessRunning records whether a project has an active process.
func SetProcessRunning(project string, running bool) {
	if project == "" {
		return
	}
	value := 0.0
	if running {
		value = 1.0
	}
	processRunning.WithLabelValues(project).Set(value)
}

// IncrementProcessStart counts a successful launch.
func IncrementProcessStart(project string) {
	if project == "" {
		return
	}
	processStarts.WithLabelValues(project).Inc()
}

// IncrementProcessExit counts an observed exit with its code.
func IncrementProcessExit(project string, code int) {
	if project == "" {
		return
	}
	processExits.WithLabelValues(project, strconv.Itoa(code)).Inc()
}

// IncrementProcessStop counts a stop request against an active process.
func IncrementProcessStop(project string) {
	if project == "" {
		return
	}
	processStops.WithLabelValues(project).Inc()
}

// AddOutputLines counts captured lines.
func AddOutputLines(project, source string, n int) {
	if project == "" || n <= 0 {
		return
	}
	outputLines.WithLabelValues(project, source).Add(float64(n))
}

// AddKillSignals counts delivered kill signals for a terminator phase.
func AddKillSignals(phase string, n int) {
	if n <= 0 {
		return
	}
	killSignals.WithLabelValues(phase).Add(float64(n))
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetProject removes every series labelled with the project.
func ResetProject(project string) {
	if project == "" {
		return
	}
	labels := prometheus.Labels{"project": project}
	processRunning.DeletePartialMatch(labels)
	processStarts.DeletePartialMatch(labels)
	processExits.DeletePartialMatch(labels)
	processStops.DeletePartialMatch(labels)
	outputLines.DeletePartialMatch(labels)
}
