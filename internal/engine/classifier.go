package engine

import (
	"math"
	"sync/atomic"

	"github.com/xela07ax/perfwatch/internal/domain"
)

const (
	DefaultWarningBufferPercent = 0.02
	DefaultRedZoneDays          = 14
)

// MetricStatus — положение значения относительно порога.
type MetricStatus string

const (
	StatusGood  MetricStatus = "good"
	StatusNear  MetricStatus = "near"
	StatusBelow MetricStatus = "below"
)

// ClassifierSettings — настраиваемые параметры классификации.
type ClassifierSettings struct {
	WarningBufferPercent float64
	RedZoneDays          int
}

// Classifier — чистая классификация зон. Настройки подменяются атомарно
// при горячей перезагрузке конфига, текущие вызовы видят прежний снимок.
type Classifier struct {
	settings atomic.Pointer[ClassifierSettings]
}

func NewClassifier(s ClassifierSettings) *Classifier {
	c := &Classifier{}
	c.Update(s)
	return c
}

// Update применяет новые настройки. Невалидные значения заменяются дефолтами.
func (c *Classifier) Update(s ClassifierSettings) {
	if s.WarningBufferPercent < 0 || math.IsNaN(s.WarningBufferPercent) {
		s.WarningBufferPercent = DefaultWarningBufferPercent
	}
	if s.RedZoneDays <= 0 {
		s.RedZoneDays = DefaultRedZoneDays
	}
	c.settings.Store(&s)
}

func (c *Classifier) Settings() ClassifierSettings {
	return *c.settings.Load()
}

// Classify определяет зону пары.
//
//	any below && days >= RedZoneDays -> red
//	any below                        -> orange
//	any near                         -> yellow
//	иначе                            -> green
func (c *Classifier) Classify(
	metrics map[domain.MetricType]domain.MetricSummary,
	thresholds domain.ProjectThresholds,
	consecutiveViolationDays int,
) domain.Zone {
	s := c.Settings()

	var below, near bool
	for _, m := range domain.TrackedMetrics {
		summary, ok := metrics[m]
		if !ok {
			continue
		}
		t, ok := thresholds.Lookup(m)
		if !ok {
			continue
		}
		switch metricStatus(m, summary.Current(), t, s.WarningBufferPercent) {
		case StatusBelow:
			below = true
		case StatusNear:
			near = true
		}
	}

	switch {
	case below && consecutiveViolationDays >= s.RedZoneDays:
		return domain.ZoneRed
	case below:
		return domain.ZoneOrange
	case near:
		return domain.ZoneYellow
	default:
		return domain.ZoneGreen
	}
}

// MetricStatus возвращает статус одной метрики с текущими настройками буфера.
func (c *Classifier) MetricStatus(m domain.MetricType, value *float64, t domain.Threshold) MetricStatus {
	return metricStatus(m, value, t, c.Settings().WarningBufferPercent)
}

func metricStatus(m domain.MetricType, value *float64, t domain.Threshold, bufferPercent float64) MetricStatus {
	bound, ok := t.Bound(m)
	if value == nil || !ok {
		return StatusGood
	}
	v := *value
	buffer := resolveBuffer(bound, bufferPercent)

	if m.HigherIsBetter() {
		if v < bound {
			return StatusBelow
		}
		if v-bound <= buffer {
			return StatusNear
		}
		return StatusGood
	}

	if v > bound {
		return StatusBelow
	}
	if bound-v <= buffer {
		return StatusNear
	}
	return StatusGood
}

// resolveBuffer — ширина полосы "near". Для неположительной границы берется сам процент.
func resolveBuffer(bound, bufferPercent float64) float64 {
	if bound <= 0 {
		return bufferPercent
	}
	return math.Abs(bound) * bufferPercent
}
