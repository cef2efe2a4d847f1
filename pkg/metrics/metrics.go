package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compliance_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Gate metrics
	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_gate_decisions_total",
			Help: "Velocity gate decisions by outcome",
		},
		[]string{"kind", "tier", "outcome"},
	)

	GateDeniedAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compliance_gate_denied_amount_usd",
			Help:    "USD amounts of denied transactions",
			Buckets: []float64{10, 100, 500, 1000, 5000, 10000, 50000},
		},
		[]string{"kind", "tier"},
	)

	CommittedAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compliance_committed_amount_usd",
			Help:    "USD amounts of committed transactions",
			Buckets: []float64{10, 100, 500, 1000, 5000, 10000, 50000},
		},
		[]string{"kind", "tier"},
	)

	CommitConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compliance_commit_conflicts_total",
			Help: "Commits rejected because concurrent settlement reached the daily cap first",
		},
	)

	// AML metrics
	ScreeningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_aml_screenings_total",
			Help: "AML screenings by provider and risk bucket",
		},
		[]string{"provider", "level"},
	)

	ScreeningDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compliance_aml_screening_duration_seconds",
			Help:    "AML provider round-trip time",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	// Risk metrics
	RiskScoreDistribution = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compliance_risk_score",
			Help:    "Composite risk scores produced per evaluation",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"tier"},
	)

	PatternsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_patterns_detected_total",
			Help: "Behavioral patterns detected in deposit history",
		},
		[]string{"pattern", "action"},
	)

	// Verification metrics
	VerificationsRequestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_verifications_requested_total",
			Help: "Verification requests by type",
		},
		[]string{"type"},
	)

	TierUpgradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_tier_upgrades_total",
			Help: "Tier upgrades by previous and new tier",
		},
		[]string{"from", "to"},
	)

	// Scheduler metrics
	LimitResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_limit_resets_total",
			Help: "Scheduled limit window resets",
		},
		[]string{"window"},
	)

	FlaggedDepositsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compliance_flagged_deposits_total",
			Help: "Deposits flagged for manual review",
		},
	)
)
