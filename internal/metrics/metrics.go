// Package metrics registers the Prometheus collectors for the message
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InboundMessages counts webhook messages accepted into the pipeline,
	// labelled by channel type.
	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botix_inbound_messages_total",
		Help: "Inbound messages accepted into the pipeline.",
	}, []string{"channel"})

	// DuplicateMessages counts inbound messages dropped by idempotency.
	DuplicateMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botix_duplicate_messages_total",
		Help: "Inbound messages dropped as duplicates.",
	}, []string{"channel"})

	// OutboundSends counts channel send attempts by channel and result.
	OutboundSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botix_outbound_sends_total",
		Help: "Outbound channel send attempts.",
	}, []string{"channel", "result"})

	// SandboxRuns counts automation script executions by result
	// (ok, fault, timeout).
	SandboxRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botix_sandbox_runs_total",
		Help: "Automation script executions.",
	}, []string{"result"})

	// SandboxDuration observes script wall time in seconds.
	SandboxDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "botix_sandbox_duration_seconds",
		Help:    "Automation script execution time.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5},
	})

	// RouteDuration observes end-to-end routing time per inbound message.
	RouteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "botix_route_duration_seconds",
		Help:    "Time from dequeue to handler completion.",
		Buckets: prometheus.DefBuckets,
	})

	// CampaignSends counts campaign deliveries by result.
	CampaignSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botix_campaign_sends_total",
		Help: "Campaign message deliveries.",
	}, []string{"result"})
)
