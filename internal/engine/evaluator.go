package engine

import (
	"context"
	"sync"

	"github.com/xela07ax/perfwatch/internal/domain"

	"golang.org/x/sync/singleflight"
)

// Evaluation — результат проверки порогов для пары.
type Evaluation struct {
	Reasons                  []domain.ViolationReason
	ConsecutiveViolationDays int
}

// Evaluate сравнивает текущие значения с порогами проекта и считает
// длительность непрерывного нарушения (максимум по метрикам).
func Evaluate(
	metrics map[domain.MetricType]domain.MetricSummary,
	observations []domain.MetricObservation,
	thresholds domain.ProjectThresholds,
) Evaluation {
	var ev Evaluation
	for _, m := range domain.TrackedMetrics {
		t, ok := thresholds.Lookup(m)
		if !ok {
			continue
		}
		if s, ok := metrics[m]; ok {
			if v := s.Current(); v != nil && t.Violates(m, *v) {
				ev.Reasons = append(ev.Reasons, domain.ReasonFor(m))
			}
		}
		if days := ConsecutiveViolations(observations, m, t); days > ev.ConsecutiveViolationDays {
			ev.ConsecutiveViolationDays = days
		}
	}
	ev.Reasons = domain.SortReasons(ev.Reasons)
	return ev
}

// ConsecutiveViolations считает серию нарушений от самого свежего наблюдения
// до первого ненарушающего. Наблюдения без значения пропускаются.
// Из серии вычитаются grace days, результат не меньше нуля.
func ConsecutiveViolations(observations []domain.MetricObservation, m domain.MetricType, t domain.Threshold) int {
	series := make([]domain.MetricObservation, 0, len(observations))
	for _, o := range observations {
		if o.Type == m {
			series = append(series, o)
		}
	}
	SortNewestFirst(series)

	count := 0
	for _, o := range series {
		v := Normalize(m, o.Value)
		if v == nil {
			continue
		}
		if !t.Violates(m, *v) {
			break
		}
		count++
	}

	if count -= t.GraceDays; count < 0 {
		return 0
	}
	return count
}

// ThresholdLoader — источник порогов проекта.
type ThresholdLoader interface {
	LoadThresholds(ctx context.Context, projectID string) (domain.ProjectThresholds, error)
}

// thresholdCache живет один цикл: пороги проекта читаются один раз,
// параллельные пары одного проекта ждут общий запрос.
type thresholdCache struct {
	loader ThresholdLoader
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]domain.ProjectThresholds
}

func newThresholdCache(loader ThresholdLoader) *thresholdCache {
	return &thresholdCache{
		loader: loader,
		cache:  make(map[string]domain.ProjectThresholds),
	}
}

func (c *thresholdCache) Get(ctx context.Context, projectID string) (domain.ProjectThresholds, error) {
	c.mu.RLock()
	t, ok := c.cache[projectID]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	v, err, _ := c.group.Do(projectID, func() (interface{}, error) {
		loaded, err := c.loader.LoadThresholds(ctx, projectID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[projectID] = loaded
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.ProjectThresholds), nil
}
