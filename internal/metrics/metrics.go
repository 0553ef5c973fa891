package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeAttention labels events the detection engine flagged.
	OutcomeAttention = "attention"
	// OutcomeIgnored labels events that passed through without a flag.
	OutcomeIgnored = "ignored"
)

var (
	errorsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "errors_processed_total",
			Help:      "Total number of error events analyzed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	detectorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "detector_failures_total",
			Help:      "Detector invocations that errored or panicked.",
		},
		[]string{"detector"},
	)

	detectionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_heal",
			Name:      "detection_seconds",
			Help:      "Detection fan-out latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	recoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "recoveries_total",
			Help:      "Recovery executions by terminal status.",
		},
		[]string{"status"},
	)

	recoveryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_heal",
			Name:      "recovery_seconds",
			Help:      "Recovery execution latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	recoveriesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "recoveries_skipped_total",
			Help:      "Recovery attempts refused before execution, by reason.",
		},
		[]string{"reason"},
	)

	activeRecoveries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_heal",
			Name:      "active_recoveries",
			Help:      "Recoveries currently executing.",
		},
	)
)

// Register attaches mirador-heal collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		errorsProcessedTotal,
		detectorFailuresTotal,
		detectionDurationSeconds,
		recoveriesTotal,
		recoveryDurationSeconds,
		recoveriesSkippedTotal,
		activeRecoveries,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDetection records one detection fan-out.
func ObserveDetection(duration time.Duration, attention bool) {
	label := OutcomeIgnored
	if attention {
		label = OutcomeAttention
	}
	errorsProcessedTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	detectionDurationSeconds.Observe(duration.Seconds())
}

// RecordDetectorFailure counts a detector that errored or panicked.
func RecordDetectorFailure(detector string) {
	detectorFailuresTotal.WithLabelValues(detector).Inc()
}

// ObserveRecovery records a finished recovery execution.
func ObserveRecovery(duration time.Duration, status string) {
	recoveriesTotal.WithLabelValues(status).Inc()
	if duration < 0 {
		duration = 0
	}
	recoveryDurationSeconds.Observe(duration.Seconds())
}

// RecordRecoverySkipped counts a recovery refused before execution.
func RecordRecoverySkipped(reason string) {
	recoveriesSkippedTotal.WithLabelValues(reason).Inc()
}

// RecoveryStarted increments the in-flight gauge.
func RecoveryStarted() { activeRecoveries.Inc() }

// RecoveryFinished decrements the in-flight gauge.
func RecoveryFinished() { activeRecoveries.Dec() }
