package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	processUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streamsup",
		Name:      "process_up",
		Help:      "Liveness of supervised processes (1=running, 0=not running).",
	}, []string{"member"})

	processRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamsup",
		Name:      "process_restarts_total",
		Help:      "Total number of respawns performed for each supervised process.",
	}, []string{"member"})

	launchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamsup",
		Name:      "launch_failures_total",
		Help:      "Total number of failed launch attempts for each supervised process.",
	}, []string{"member"})

	stopTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamsup",
		Name:      "stop_timeouts_total",
		Help:      "Total number of stops that exceeded the graceful termination bound.",
	}, []string{"member"})

	writeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamsup",
		Name:      "write_errors_total",
		Help:      "Total number of failed writes to a supervised process input.",
	}, []string{"member"})

	bytesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamsup",
		Name:      "bytes_written_total",
		Help:      "Total number of bytes delivered to a supervised process input.",
	}, []string{"member"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streamsup",
		Name:      "build_info",
		Help:      "Build metadata for the running streamsup binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(processUp, processRestarts, launchFailures, stopTimeouts, writeErrors, bytesWritten, buildInfo)
}

// Registry returns the Prometheus registry containing all streamsup metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetProcessUp records whether a member currently owns a live child.
func SetProcessUp(member string, up bool) {
	if member == "" {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	processUp.WithLabelValues(member).Set(value)
}

// IncrementRestart counts one respawn of a member.
func IncrementRestart(member string) {
	if member == "" {
		return
	}
	processRestarts.WithLabelValues(member).Inc()
}

// IncrementLaunchFailure counts one failed launch of a member.
func IncrementLaunchFailure(member string) {
	if member == "" {
		return
	}
	launchFailures.WithLabelValues(member).Inc()
}

// IncrementStopTimeout counts one stop that outlived its wait bound.
func IncrementStopTimeout(member string) {
	if member == "" {
		return
	}
	stopTimeouts.WithLabelValues(member).Inc()
}

// IncrementWriteError counts one failed write.
func IncrementWriteError(member string) {
	if member == "" {
		return
	}
	writeErrors.WithLabelValues(member).Inc()
}

// AddBytesWritten adds n delivered bytes to the member's counter.
func AddBytesWritten(member string, n int) {
	if member == "" || n <= 0 {
		return
	}
	bytesWritten.WithLabelValues(member).Add(float64(n))
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

// ResetMember clears every series recorded for a member.
func ResetMember(member string) {
	if member == "" {
		return
	}
	processUp.DeleteLabelValues(member)
	processRestarts.DeleteLabelValues(member)
	launchFailures.DeleteLabelValues(member)
	stopTimeouts.DeleteLabelValues(member)
	writeErrors.DeleteLabelValues(member)
	bytesWritten.DeleteLabelValues(member)
}
