package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RulesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xmigrate_rules_uploaded_total",
			Help: "Total number of rules parsed from uploads",
		},
		[]string{"platform"},
	)

	Conversions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xmigrate_conversions_total",
			Help: "Total number of query conversion attempts",
		},
		[]string{"platform", "status"},
	)

	CoverageEvaluations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xmigrate_coverage_evaluations_total",
			Help: "Total number of coverage evaluations",
		},
	)

	CoverageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xmigrate_coverage_duration_seconds",
			Help:    "Time taken to evaluate a rule against the catalog",
			Buckets: prometheus.DefBuckets,
		},
	)

	CoverageCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xmigrate_coverage_cache_hits_total",
			Help: "Coverage evaluations served from the result cache",
		},
	)

	XSIAMUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xmigrate_xsiam_uploads_total",
			Help: "Total number of rules pushed to XSIAM",
		},
		[]string{"status"},
	)
)
