package domain

import (
	"fmt"
	"sort"
	"time"
)

// Zone — итоговая классификация пары за один цикл.
type Zone string

const (
	ZoneGreen  Zone = "green"
	ZoneYellow Zone = "yellow"
	ZoneOrange Zone = "orange"
	ZoneRed    Zone = "red"
)

// Zones в порядке возрастания тяжести.
var Zones = []Zone{ZoneGreen, ZoneYellow, ZoneOrange, ZoneRed}

// Severity задает полный порядок green < yellow < orange < red.
func (z Zone) Severity() int {
	switch z {
	case ZoneYellow:
		return 1
	case ZoneOrange:
		return 2
	case ZoneRed:
		return 3
	default:
		return 0
	}
}

func ParseZone(s string) (Zone, error) {
	for _, z := range Zones {
		if string(z) == s {
			return z, nil
		}
	}
	return "", fmt.Errorf("unknown zone %q", s)
}

// ViolationReason — тег нарушения, попадает в алерты и в снапшот для аудита.
type ViolationReason string

const (
	ReasonAccuracyBelow      ViolationReason = "accuracy_below_threshold"
	ReasonRejectionRateAbove ViolationReason = "rejection_rate_above_threshold"
	ReasonConsistencyBelow   ViolationReason = "consistency_below_threshold"
	ReasonLatencyAbove       ViolationReason = "latency_above_threshold"
)

// ReasonFor возвращает тег нарушения для метрики.
func ReasonFor(m MetricType) ViolationReason {
	switch m {
	case MetricAccuracy:
		return ReasonAccuracyBelow
	case MetricRejectionRate:
		return ReasonRejectionRateAbove
	case MetricConsistency:
		return ReasonConsistencyBelow
	default:
		return ReasonLatencyAbove
	}
}

// SortReasons дедуплицирует и сортирует теги (множество с детерминированным порядком).
func SortReasons(in []ViolationReason) []ViolationReason {
	seen := make(map[ViolationReason]struct{}, len(in))
	out := make([]ViolationReason, 0, len(in))
	for _, r := range in {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MetricSummary — свертка последнего наблюдения метрики. Значения уже нормализованы.
type MetricSummary struct {
	Value      *float64   `json:"value"`
	Avg7d      *float64   `json:"avg_7d"`
	Avg30d     *float64   `json:"avg_30d"`
	MeasuredAt *time.Time `json:"measured_at,omitempty"`
}

// Current — текущее значение для проверки порогов: 7d, затем 30d, затем точечное.
func (s MetricSummary) Current() *float64 {
	switch {
	case s.Avg7d != nil:
		return s.Avg7d
	case s.Avg30d != nil:
		return s.Avg30d
	default:
		return s.Value
	}
}

// PerformanceSnapshot пересчитывается каждый цикл и никогда не патчится.
type PerformanceSnapshot struct {
	WorkerID    string `json:"worker_id"`
	ProjectID   string `json:"project_id"`
	WorkerName  string `json:"worker_name,omitempty"`
	ProjectName string `json:"project_name,omitempty"`

	Metrics                  map[MetricType]MetricSummary `json:"metrics"`
	Zone                     Zone                         `json:"zone"`
	ConsecutiveViolationDays int                          `json:"consecutive_violation_days"`
	Reasons                  []ViolationReason            `json:"reasons"`

	MeasuredAt  time.Time `json:"measured_at"`  // Последнее наблюдение среди метрик
	EvaluatedAt time.Time `json:"evaluated_at"` // Момент цикла
}

func (s PerformanceSnapshot) Pair() PairKey {
	return PairKey{WorkerID: s.WorkerID, ProjectID: s.ProjectID}
}

// Summary возвращает свертку метрики (нулевое значение, если метрики нет).
func (s PerformanceSnapshot) Summary(m MetricType) MetricSummary {
	if s.Metrics == nil {
		return MetricSummary{}
	}
	return s.Metrics[m]
}

// MetricsSnapshot — замороженная копия показателей, хранится как есть в auto_removals.metrics_snapshot.
type MetricsSnapshot struct {
	Accuracy7d           *float64          `json:"accuracy_7d"`
	Accuracy30d          *float64          `json:"accuracy_30d"`
	RejectionRate7d      *float64          `json:"rejection_rate_7d"`
	RejectionRate30d     *float64          `json:"rejection_rate_30d"`
	Consistency7d        *float64          `json:"consistency_7d"`
	Consistency30d       *float64          `json:"consistency_30d"`
	Latency7d            *float64          `json:"latency_7d"`
	Latency30d           *float64          `json:"latency_30d"`
	Reasons              []ViolationReason `json:"reasons"`
	ConsecutiveDaysBelow int               `json:"consecutive_days_below"`
}

// Freeze снимает копию показателей снапшота. Указатели копируются по значению.
func (s PerformanceSnapshot) Freeze() MetricsSnapshot {
	cp := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		return Float(*v)
	}
	acc, rej := s.Summary(MetricAccuracy), s.Summary(MetricRejectionRate)
	iaa, lat := s.Summary(MetricConsistency), s.Summary(MetricLatency)

	reasons := make([]ViolationReason, len(s.Reasons))
	copy(reasons, s.Reasons)

	return MetricsSnapshot{
		Accuracy7d:           cp(acc.Avg7d),
		Accuracy30d:          cp(acc.Avg30d),
		RejectionRate7d:      cp(rej.Avg7d),
		RejectionRate30d:     cp(rej.Avg30d),
		Consistency7d:        cp(iaa.Avg7d),
		Consistency30d:       cp(iaa.Avg30d),
		Latency7d:            cp(lat.Avg7d),
		Latency30d:           cp(lat.Avg30d),
		Reasons:              reasons,
		ConsecutiveDaysBelow: s.ConsecutiveViolationDays,
	}
}
