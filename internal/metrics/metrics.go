// Package metrics holds the Prometheus collectors shared by both services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidOutcomes counts arbitration results by outcome code.
	BidOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bid_outcomes_total",
			Help: "Bid attempts by outcome code.",
		},
		[]string{"code"},
	)

	BidDecisionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auction_bid_decision_seconds",
			Help:    "Time from bid attempt to decision.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// SideEffectFailures counts post-commit work that gave up: persist, publish, release, broadcast.
	SideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_side_effect_failures_total",
			Help: "Post-commit side effects that failed after retries.",
		},
		[]string{"stage"},
	)

	SequencerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auction_sequencer_queue_depth",
			Help: "Accepted bids waiting for persistence and publication.",
		},
	)

	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auction_live_subscribers",
			Help: "Open live-update connections.",
		},
	)

	PrunedSubscribers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_pruned_subscribers_total",
			Help: "Connections removed after a failed delivery.",
		},
	)

	// SweepTransitions counts lifecycle transitions performed by the scheduler.
	SweepTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_sweep_transitions_total",
			Help: "Auction lifecycle transitions by target status.",
		},
		[]string{"to"},
	)

	SweepFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_sweep_failures_total",
			Help: "Per-auction failures during a lifecycle sweep.",
		},
	)

	SweepsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_sweeps_skipped_total",
			Help: "Sweeps skipped because another instance held the lock.",
		},
	)

	// ArchivedEvents counts broker events the analytics service consumed, by topic.
	ArchivedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_archived_events_total",
			Help: "Broker events consumed by the archiver.",
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(
		BidOutcomes,
		BidDecisionSeconds,
		SideEffectFailures,
		SequencerQueueDepth,
		Subscribers,
		PrunedSubscribers,
		SweepTransitions,
		SweepFailures,
		SweepsSkipped,
		ArchivedEvents,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
