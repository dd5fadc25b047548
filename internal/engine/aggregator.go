package engine

import (
	"math"
	"sort"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"
)

// Normalize приводит сырое значение метрики к сравнимой шкале.
// Доли (accuracy, consistency, quality) больше 1 считаются процентами.
// rejection_rate хранится как доля качества и инвертируется. latency не трогаем.
func Normalize(m domain.MetricType, v *float64) *float64 {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	switch m {
	case domain.MetricAccuracy, domain.MetricConsistency:
		return domain.Float(normalizeRate(*v))
	case domain.MetricRejectionRate:
		return domain.Float(clamp01(1 - normalizeRate(*v)))
	default:
		return domain.Float(*v)
	}
}

func normalizeRate(v float64) float64 {
	if v > 1 {
		v = v / 100
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

// Summarize сворачивает наблюдения одной пары: по каждому типу берется
// последнее наблюдение, его скользящие средние читаются как есть.
// Отсутствующие типы в результат не попадают.
func Summarize(observations []domain.MetricObservation) map[domain.MetricType]domain.MetricSummary {
	latest := make(map[domain.MetricType]domain.MetricObservation, len(domain.TrackedMetrics))
	for _, o := range observations {
		cur, ok := latest[o.Type]
		if !ok || o.MeasuredAt.After(cur.MeasuredAt) {
			latest[o.Type] = o
		}
	}

	out := make(map[domain.MetricType]domain.MetricSummary, len(latest))
	for _, m := range domain.TrackedMetrics {
		o, ok := latest[m]
		if !ok {
			continue
		}
		measuredAt := o.MeasuredAt
		out[m] = domain.MetricSummary{
			Value:      Normalize(m, o.Value),
			Avg7d:      Normalize(m, o.Rolling7d),
			Avg30d:     Normalize(m, o.Rolling30d),
			MeasuredAt: &measuredAt,
		}
	}
	return out
}

// LatestMeasurement — самое свежее наблюдение среди сводок.
func LatestMeasurement(metrics map[domain.MetricType]domain.MetricSummary) time.Time {
	var latest time.Time
	for _, s := range metrics {
		if s.MeasuredAt != nil && s.MeasuredAt.After(latest) {
			latest = *s.MeasuredAt
		}
	}
	return latest
}

// GroupObservations раскладывает заранее загруженный набор строк по парам.
// Наблюдения внутри пары упорядочены от новых к старым.
func GroupObservations(rows []domain.MetricObservation) map[domain.PairKey][]domain.MetricObservation {
	out := make(map[domain.PairKey][]domain.MetricObservation)
	for _, r := range rows {
		out[r.Pair()] = append(out[r.Pair()], r)
	}
	for k := range out {
		SortNewestFirst(out[k])
	}
	return out
}

// SortNewestFirst сортирует наблюдения по убыванию MeasuredAt.
func SortNewestFirst(obs []domain.MetricObservation) {
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].MeasuredAt.After(obs[j].MeasuredAt)
	})
}
