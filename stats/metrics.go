package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mae"

// WriteTextfile writes the run summary in the node exporter textfile format.
func WriteTextfile(path string, summary Summary, duration time.Duration) error {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pages_fetched_total",
		Help:      "Mailbox pages fetched during the last run.",
	})
	written := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "attachments_written_total",
		Help:      "Attachments stored during the last run.",
	})
	errs := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "errors_total",
		Help:      "Errors reported during the last run.",
	})
	seconds := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run.",
	})
	finished := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished.",
	})

	for _, c := range []prometheus.Collector{pages, written, errs, seconds, finished} {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("register metric: %w", err)
		}
	}

	pages.Add(float64(summary.Pages))
	written.Add(float64(summary.Written))
	errs.Add(float64(summary.Errors))
	seconds.Set(duration.Seconds())
	finished.SetToCurrentTime()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics dir: %w", err)
		}
	}
	return prometheus.WriteToTextfile(path, registry)
}
