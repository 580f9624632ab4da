package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полное время принятия решения по запросу
	RequestDuration *prometheus.HistogramVec

	// Traffic: распределение вердиктов шлюза
	DecisionTotal *prometheus.CounterVec

	// Errors: срезанные на входе подписи
	SignatureFailures prometheus.Counter

	// Errors: сбои апстрима (прокси к коллектору)
	UpstreamErrors prometheus.Counter

	// Saturation: заполненность буфера событий (backpressure)
	EventBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без реестра метрики летят в локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toolgate_request_duration_seconds",
			Help:    "Histogram of enforcement decision latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"decision"}),

		DecisionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_decisions_total",
			Help: "Total number of enforcement decisions.",
		}, []string{"decision"}), // allow, deny, denied, expired, pending

		SignatureFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "toolgate_signature_failures_total",
			Help: "Total number of rejected ingress signatures.",
		}),

		UpstreamErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "toolgate_upstream_errors_total",
			Help: "Total number of upstream proxy failures.",
		}),

		EventBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "toolgate_event_buffer_utilization",
			Help: "Current number of events in the emitter buffer.",
		}),
	}
}
