// Package metrics exposes Prometheus collectors for scans, persistence and analyses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RulesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dq",
		Subsystem: "scanner",
		Name:      "rules_scanned_total",
		Help:      "Rules attempted by the dimension scanner.",
	}, []string{"dimension"})

	RuleDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dq",
		Subsystem: "scanner",
		Name:      "rule_detections_total",
		Help:      "Rules that flagged at least one row.",
	}, []string{"dimension"})

	ValidatorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dq",
		Subsystem: "scanner",
		Name:      "validator_failures_total",
		Help:      "Rules skipped because their validator failed.",
	}, []string{"dimension"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dq",
		Subsystem: "scanner",
		Name:      "scan_duration_seconds",
		Help:      "Duration of one dimension scan.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"dimension", "budget"})

	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dq",
		Subsystem: "learning",
		Name:      "flush_failures_total",
		Help:      "Failed writes of learned statistics.",
	})

	Flushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dq",
		Subsystem: "learning",
		Name:      "flushes_total",
		Help:      "Successful writes of learned statistics.",
	})

	Analyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dq",
		Subsystem: "analysis",
		Name:      "runs_total",
		Help:      "Completed analyses by worst severity.",
	}, []string{"severity"})
)
