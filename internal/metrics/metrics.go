package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	EnqueuedTasks  prometheus.Counter
	ProcessedTasks prometheus.Counter
	FailedTasks    prometheus.Counter

	JobsSubmitted *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec

	ProviderRequests  *prometheus.CounterVec
	ProviderFallbacks *prometheus.CounterVec

	PublishResults *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			EnqueuedTasks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autoblog",
				Name:      "queue_enqueued_total",
				Help:      "Total tasks enqueued to redis stream",
			}),
			ProcessedTasks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autoblog",
				Name:      "queue_processed_total",
				Help:      "Total tasks handed to an orchestrator",
			}),
			FailedTasks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autoblog",
				Name:      "queue_failed_total",
				Help:      "Total tasks that could not be executed",
			}),
			JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autoblog",
				Name:      "jobs_submitted_total",
				Help:      "Jobs accepted, by kind",
			}, []string{"kind"}),
			JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autoblog",
				Name:      "jobs_finished_total",
				Help:      "Jobs that reached a terminal status",
			}, []string{"kind", "status"}),
			ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autoblog",
				Name:      "provider_requests_total",
				Help:      "AI provider calls by outcome",
			}, []string{"provider", "outcome"}),
			ProviderFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autoblog",
				Name:      "provider_fallbacks_total",
				Help:      "Fallback attempts from the target provider to an alternate",
			}, []string{"from", "to"}),
			PublishResults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autoblog",
				Name:      "publish_results_total",
				Help:      "Publisher operations by platform and outcome",
			}, []string{"platform", "outcome"}),
		}
		prometheus.MustRegister(
			global.EnqueuedTasks,
			global.ProcessedTasks,
			global.FailedTasks,
			global.JobsSubmitted,
			global.JobsFinished,
			global.ProviderRequests,
			global.ProviderFallbacks,
			global.PublishResults,
		)
	})
	return global
}

// Outcome maps an error to the label used on outcome counters.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
