package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность цикла оценки
	CycleDuration prometheus.Histogram

	// Traffic: оцененные пары по итоговой зоне
	PairsEvaluated *prometheus.CounterVec

	// Зоны последнего цикла
	ZonePairs *prometheus.GaugeVec

	// Исходы действий: action x (executed|skipped|failed)
	ActionsTotal *prometheus.CounterVec

	// Errors: отказы по типу (evaluate, list_pairs, review_persist, signal)
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Journal: заполненность буфера (backpressure)
	JournalBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object: без регистра метрики пишутся в локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		CycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "perfwatch_cycle_duration_seconds",
			Help:    "Duration of evaluation cycles.",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),

		PairsEvaluated: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "perfwatch_pairs_evaluated_total",
			Help: "Total number of evaluated worker/project pairs by zone.",
		}, []string{"zone"}),

		ZonePairs: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "perfwatch_zone_pairs",
			Help: "Number of pairs per zone in the last cycle.",
		}, []string{"zone"}),

		ActionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "perfwatch_actions_total",
			Help: "Total number of dispatched actions by outcome.",
		}, []string{"action", "status"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "perfwatch_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "perfwatch_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"dependency"}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "perfwatch_journal_buffer_utilization",
			Help: "Current number of events in the enforcement journal buffer.",
		}),
	}
}
