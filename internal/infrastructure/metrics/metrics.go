package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heartstring_active_sessions",
		Help: "Messaging sessions currently open.",
	})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "heartstring_ws_clients",
		Help: "Connected websocket clients.",
	})

	RealtimeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartstring_realtime_events_total",
		Help: "Realtime change events handled, by table, type and outcome.",
	}, []string{"table", "type", "outcome"})

	SummaryFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartstring_summary_fetches_total",
		Help: "Single conversation summary fetches, by trigger and result.",
	}, []string{"trigger", "result"})

	MarkReadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartstring_mark_read_failures_total",
		Help: "Remote mark-read writes that failed.",
	})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartstring_messages_sent_total",
		Help: "Messages sent through the service.",
	})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartstring_rate_limited_total",
		Help: "Actions rejected by the per-user rate limiter.",
	}, []string{"action"})
)

func Register() {
	prometheus.MustRegister(
		ActiveSessions, WSClients,
		RealtimeEvents, SummaryFetches, MarkReadFailures,
		MessagesSent, RateLimited,
	)
}
