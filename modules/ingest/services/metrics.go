package services

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/eventbus"
)

type metrics struct {
	groupsTotal      *prometheus.CounterVec
	attemptsTotal    prometheus.Counter
	filesSkipped     *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	exchangeLatency  *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		groupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etx_ingest",
			Name:      "groups_total",
			Help:      "Row groups by final publish outcome.",
		}, []string{"result"}),
		attemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "etx_ingest",
			Name:      "publish_attempts_total",
			Help:      "Publish requests sent, retries included.",
		}),
		filesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etx_ingest",
			Name:      "files_skipped_total",
			Help:      "Files skipped while walking a folder.",
		}, []string{"reason"}),
		workflowDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "etx_ingest",
			Name:      "workflow_duration_seconds",
			Help:      "Workflow wall time.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"workflow", "result"}),
		exchangeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "etx_ingest",
			Name:      "exchange_latency_seconds",
			Help:      "Websocket command round trips by reply kind.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"command", "kind"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

// ObserveExchange records one websocket round trip. It fits
// etx.Config.OnExchange.
func ObserveExchange(command string, kind etx.ReplyKind, elapsed time.Duration) {
	getMetrics().exchangeLatency.WithLabelValues(command, kind.String()).Observe(elapsed.Seconds())
}

// RecordMetrics updates the process metrics from bus events.
func RecordMetrics(bus eventbus.Bus) func() {
	m := getMetrics()
	unsubs := []func(){
		bus.Subscribe(func(e *GroupPublished) {
			m.groupsTotal.WithLabelValues("published").Inc()
			m.attemptsTotal.Add(float64(e.Attempts))
		}),
		bus.Subscribe(func(e *GroupFailed) {
			m.groupsTotal.WithLabelValues("failed").Inc()
			m.attemptsTotal.Add(float64(e.Attempts))
		}),
		bus.Subscribe(func(*GroupUnresolved) {
			m.groupsTotal.WithLabelValues("unresolved").Inc()
		}),
		bus.Subscribe(func(e *FileSkipped) {
			m.filesSkipped.WithLabelValues(e.Reason).Inc()
		}),
		bus.Subscribe(func(e *WorkflowFinished) {
			result := "success"
			if e.Err != nil {
				result = "error"
			}
			m.workflowDuration.WithLabelValues(e.Workflow, result).Observe(e.Elapsed.Seconds())
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
