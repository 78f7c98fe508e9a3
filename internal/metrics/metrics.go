package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var PostsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "liggeey_posts_created_total",
	Help: "Number of service posts created.",
})

var MissionsApproved = promauto.NewCounter(prometheus.CounterOpts{
	Name: "liggeey_missions_approved_total",
	Help: "Number of missions approved (post taken by a provider).",
})

var MissionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "liggeey_missions_completed_total",
	Help: "Number of missions confirmed completed by the post owner.",
})

var LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "liggeey_ledger_transactions_total",
	Help: "Completed ledger transactions by type.",
}, []string{"type"})

var InsufficientBalanceRejections = promauto.NewCounter(prometheus.CounterOpts{
	Name: "liggeey_insufficient_balance_total",
	Help: "Operations refused by the negative-balance guard.",
})

var ActiveTrackingSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "liggeey_tracking_subscribers",
	Help: "Currently connected tracking stream subscribers.",
})

var TrackingUpdates = promauto.NewCounter(prometheus.CounterOpts{
	Name: "liggeey_tracking_updates_total",
	Help: "Location updates accepted from providers.",
})
