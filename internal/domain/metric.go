package domain

import (
	"errors"
	"fmt"
	"time"
)

// MetricType — закрытый набор отслеживаемых метрик.
type MetricType string

const (
	MetricAccuracy      MetricType = "accuracy"       // Чем выше, тем лучше (порог min)
	MetricRejectionRate MetricType = "rejection_rate" // Чем ниже, тем лучше (порог max)
	MetricConsistency   MetricType = "consistency"    // IAA, порог min
	MetricLatency       MetricType = "latency"        // Секунды на задачу, порог max
)

// TrackedMetrics фиксирует порядок обхода метрик во всех расчетах.
var TrackedMetrics = []MetricType{MetricAccuracy, MetricRejectionRate, MetricConsistency, MetricLatency}

var ErrInvalidThreshold = errors.New("invalid threshold")

// HigherIsBetter определяет направление порога: true — min, false — max.
func (m MetricType) HigherIsBetter() bool {
	return m == MetricAccuracy || m == MetricConsistency
}

// SourceName — имя типа в таблице quality_metrics.
// rejection_rate хранится как "quality" (доля принятых задач), latency — как "speed".
func (m MetricType) SourceName() string {
	switch m {
	case MetricRejectionRate:
		return "quality"
	case MetricLatency:
		return "speed"
	default:
		return string(m)
	}
}

// ParseSourceMetricType маппит строку из БД в MetricType. Неизвестные типы отбрасываются.
func ParseSourceMetricType(s string) (MetricType, bool) {
	switch s {
	case "accuracy":
		return MetricAccuracy, true
	case "quality", "rejection_rate":
		return MetricRejectionRate, true
	case "consistency":
		return MetricConsistency, true
	case "speed", "latency":
		return MetricLatency, true
	}
	return "", false
}

// SourceMetricNames возвращает набор имен для фильтра metric_type IN (...).
func SourceMetricNames() []string {
	names := make([]string, 0, len(TrackedMetrics))
	for _, m := range TrackedMetrics {
		names = append(names, m.SourceName())
	}
	return names
}

// MetricObservation — неизменяемый факт из внешнего пайплайна метрик.
// Для MetricRejectionRate в Value лежит сырая доля качества, инверсия делается при агрегации.
type MetricObservation struct {
	WorkerID   string     `json:"worker_id"`
	ProjectID  string     `json:"project_id"`
	Type       MetricType `json:"metric_type"`
	Value      *float64   `json:"value"`
	Rolling7d  *float64   `json:"rolling_avg_7d,omitempty"`
	Rolling30d *float64   `json:"rolling_avg_30d,omitempty"`
	MeasuredAt time.Time  `json:"measured_at"`
}

// Pair возвращает ключ пары (worker, project).
func (o MetricObservation) Pair() PairKey {
	return PairKey{WorkerID: o.WorkerID, ProjectID: o.ProjectID}
}

// PairKey идентифицирует пару (worker, project) — единицу оценки.
type PairKey struct {
	WorkerID  string `json:"worker_id"`
	ProjectID string `json:"project_id"`
}

func (k PairKey) String() string {
	return k.WorkerID + ":" + k.ProjectID
}

// Threshold — порог проекта для одной метрики. Только для чтения.
type Threshold struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	GraceDays int      `json:"grace_days"`
}

// Bound возвращает границу, соответствующую направлению метрики.
func (t Threshold) Bound(m MetricType) (float64, bool) {
	if m.HigherIsBetter() {
		if t.Min == nil {
			return 0, false
		}
		return *t.Min, true
	}
	if t.Max == nil {
		return 0, false
	}
	return *t.Max, true
}

// Violates проверяет нарушение порога значением v.
func (t Threshold) Violates(m MetricType, v float64) bool {
	bound, ok := t.Bound(m)
	if !ok {
		return false
	}
	if m.HigherIsBetter() {
		return v < bound
	}
	return v > bound
}

// Validate проверяет строку порога на границе чтения из хранилища.
func (t Threshold) Validate(m MetricType) error {
	if t.GraceDays < 0 {
		return fmt.Errorf("%w: negative grace days for %s", ErrInvalidThreshold, m)
	}
	if _, ok := t.Bound(m); !ok {
		if m.HigherIsBetter() {
			return fmt.Errorf("%w: %s requires min", ErrInvalidThreshold, m)
		}
		return fmt.Errorf("%w: %s requires max", ErrInvalidThreshold, m)
	}
	return nil
}

// ProjectThresholds — пороги проекта по типам метрик.
type ProjectThresholds map[MetricType]Threshold

// Lookup безопасно достает порог (nil-map допустима).
func (p ProjectThresholds) Lookup(m MetricType) (Threshold, bool) {
	if p == nil {
		return Threshold{}, false
	}
	t, ok := p[m]
	return t, ok
}

// Float возвращает указатель на копию значения. Удобно для опциональных полей.
func Float(v float64) *float64 {
	return &v
}
