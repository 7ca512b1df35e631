package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	FetchCycles       *prometheus.CounterVec
	CyclesDropped     prometheus.Counter
	MailboxFetches    *prometheus.CounterVec
	MailboxesSkipped  *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	MessagesSkipped   prometheus.Counter
	CycleDuration     prometheus.Histogram
	ActiveMailboxes   prometheus.Gauge
	BroadcastDropped  prometheus.Counter
	RepliesSent       *prometheus.CounterVec
}

// NewMetrics creates the metrics on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FetchCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_ingest_fetch_cycles_total",
			Help: "Total number of fetch cycles run, by trigger reason",
		}, []string{"reason"}),
		CyclesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_ingest_fetch_cycles_dropped_total",
			Help: "Fetch triggers dropped because a cycle was already running",
		}),
		MailboxFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_ingest_mailbox_fetches_total",
			Help: "Mailbox fetch attempts by resulting health status",
		}, []string{"status"}),
		MailboxesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_ingest_mailboxes_skipped_total",
			Help: "Mailboxes skipped by the health cooldown",
		}, []string{"reason"}),
		MessagesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_ingest_messages_total",
			Help: "Inbound messages by correlation outcome",
		}, []string{"outcome"}),
		MessagesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_ingest_messages_already_seen_total",
			Help: "Inbound messages skipped because the ledger already holds them",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "helpdesk_ingest_cycle_duration_seconds",
			Help:    "Time spent in one fetch cycle",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveMailboxes: f.NewGauge(prometheus.GaugeOpts{
			Name: "helpdesk_ingest_active_mailboxes",
			Help: "Number of active mailboxes seen by the last cycle",
		}),
		BroadcastDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_broadcast_dropped_total",
			Help: "Events dropped for slow websocket connections",
		}),
		RepliesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_outbound_replies_total",
			Help: "Outbound agent replies by result",
		}, []string{"result"}),
	}
}
