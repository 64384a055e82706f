package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	passDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bundle_monitor_pass_duration_seconds",
			Help:    "Duration of monitor passes by job",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"job"},
	)

	passFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundle_monitor_pass_item_failures_total",
			Help: "Per-item failures recorded during monitor passes",
		},
		[]string{"job"},
	)

	passSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundle_monitor_pass_skipped_total",
			Help: "Scheduled passes skipped because the previous run was still active",
		},
		[]string{"job"},
	)

	evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundle_monitor_element_evaluations_total",
			Help: "Element evaluations by checker kind and outcome",
		},
		[]string{"checker", "outcome"},
	)

	episodesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundle_monitor_episodes_created_total",
			Help: "Episodes created by trigger scans",
		},
		[]string{"bundle"},
	)

	activeEpisodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bundle_monitor_active_episodes",
			Help: "ACTIVE episodes seen by the latest recompute",
		},
		[]string{"bundle"},
	)

	alertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundle_monitor_alerts_total",
			Help: "Violation alerts by severity and delivery result",
		},
		[]string{"severity", "result"},
	)
)

func ObservePass(job string, elapsed time.Duration, failures int) {
	passDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	if failures > 0 {
		passFailures.WithLabelValues(job).Add(float64(failures))
	}
}

func ObserveSkipped(job string) {
	passSkipped.WithLabelValues(job).Inc()
}

func ObserveEvaluation(checker, outcome string) {
	evaluations.WithLabelValues(checker, outcome).Inc()
}

func ObserveEpisodeCreated(bundleID string) {
	episodesCreated.WithLabelValues(bundleID).Inc()
}

// SetActiveEpisodes replaces the per-bundle active gauge.
func SetActiveEpisodes(counts map[string]int) {
	activeEpisodes.Reset()
	for bundle, n := range counts {
		activeEpisodes.WithLabelValues(bundle).Set(float64(n))
	}
}

// ObserveAlert records result as sent, duplicate or failed.
func ObserveAlert(severity, result string) {
	alertsSent.WithLabelValues(severity, result).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
