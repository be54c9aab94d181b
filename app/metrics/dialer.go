// Package metrics holds the Prometheus collectors of the dialing pipeline
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatches partitioned by result: placed, submit_failed, skipped, exhausted
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_dispatches_total",
			Help: "Call dispatch attempts by result",
		},
		[]string{"result"},
	)

	// Claims that lost the compare-and-set to another actor
	ClaimsLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_claims_lost_total",
			Help: "Target claims skipped because the row changed underneath",
		},
	)

	// Webhooks partitioned by reconciliation result and outcome
	Webhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_webhooks_total",
			Help: "Provider webhooks by reconciliation result and outcome",
		},
		[]string{"result", "outcome"},
	)

	// Webhooks buffered through AMQP that could not be reconciled at once
	QueuedWebhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_queued_webhooks_total",
			Help: "Queued webhooks requeued or dropped by the consumer",
		},
		[]string{"action"},
	)

	// Campaigns moved to completed
	CampaignsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_campaigns_completed_total",
			Help: "Campaigns completed because every target reached a terminal status",
		},
	)

	// Stale targets recovered by the sweeper, by the status they were moved to
	StaleRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_stale_targets_recovered_total",
			Help: "Targets stuck in calling that the sweeper released",
		},
		[]string{"status"},
	)

	// Duration of one campaign pass of the scheduler
	CampaignTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dialer_campaign_tick_duration_seconds",
			Help:    "Time spent selecting, claiming and dispatching targets of one campaign",
			Buckets: prometheus.DefBuckets,
		},
	)
)
