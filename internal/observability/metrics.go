package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics holds the Prometheus collectors the engine reports to.
type EngineMetrics struct {
	EventsAppended    prometheus.Counter
	BatchFailures     prometheus.Counter
	RequestsStarted   prometheus.Counter
	RequestsCancelled prometheus.Counter
	FailsafePauses    prometheus.Counter
	ToolInvocations   *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ToolDuration      prometheus.Histogram
}

// NewEngineMetrics builds and registers the engine collectors. A nil
// registerer uses the default registry.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &EngineMetrics{
		EventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convo",
			Name:      "events_appended_total",
			Help:      "Events admitted to conversation logs.",
		}),
		BatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convo",
			Name:      "event_batch_failures_total",
			Help:      "Event batches rolled back on validation or reducer failure.",
		}),
		RequestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convo",
			Name:      "llm_requests_started_total",
			Help:      "Model requests launched.",
		}),
		RequestsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convo",
			Name:      "llm_requests_cancelled_total",
			Help:      "Model requests cancelled by supersession.",
		}),
		FailsafePauses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convo",
			Name:      "failsafe_pauses_total",
			Help:      "Conversations paused by the infinite-loop failsafe.",
		}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convo",
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by outcome.",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "convo",
			Name:      "llm_request_duration_seconds",
			Help:      "Wall time of model requests.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		ToolDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "convo",
			Name:      "tool_duration_seconds",
			Help:      "Wall time of tool invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}
	reg.MustRegister(
		m.EventsAppended,
		m.BatchFailures,
		m.RequestsStarted,
		m.RequestsCancelled,
		m.FailsafePauses,
		m.ToolInvocations,
		m.RequestDuration,
		m.ToolDuration,
	)
	return m
}
