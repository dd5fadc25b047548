package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/perfwatch/internal/domain"
	"github.com/xela07ax/perfwatch/internal/engine"
)

// CycleRunner — запуск цикла оценки (engine.CycleRunner).
type CycleRunner interface {
	RunEvaluationCycle(ctx context.Context, filter domain.CycleFilter) (domain.CycleSummary, error)
}

var (
	// ErrCycleBusy — цикл уже идет в другом процессе.
	ErrCycleBusy        = errors.New("evaluation cycle already in progress")
	// ErrCycleUnavailable — сервис останавливается.
	ErrCycleUnavailable = errors.New("evaluation cycles are not accepted during shutdown")
)

type CycleService struct {
	runner     CycleRunner
	classifier *engine.Classifier
}

func NewCycleService(runner CycleRunner, classifier *engine.Classifier) *CycleService {
	return &CycleService{runner: runner, classifier: classifier}
}

func (s *CycleService) Run(ctx context.Context, filter domain.CycleFilter) (domain.CycleSummary, error) {
	summary, err := s.runner.RunEvaluationCycle(ctx, filter)
	if err != nil {
		if errors.Is(err, engine.ErrCycleInProgress) {
			return summary, ErrCycleBusy
		}
		if errors.Is(err, engine.ErrRunnerDraining) {
			return summary, ErrCycleUnavailable
		}
		return summary, fmt.Errorf("cycle_service: %w", err)
	}
	return summary, nil
}

// ClassifyResult — зона и статус каждой метрики.
type ClassifyResult struct {
	Zone     domain.Zone                               `json:"zone"`
	Statuses map[domain.MetricType]engine.MetricStatus `json:"statuses"`
}

// Classify — чистая классификация без обращения к хранилищам.
func (s *CycleService) Classify(metrics map[domain.MetricType]domain.MetricSummary, thresholds domain.ProjectThresholds, days int) ClassifyResult {
	res := ClassifyResult{
		Zone:     s.classifier.Classify(metrics, thresholds, days),
		Statuses: make(map[domain.MetricType]engine.MetricStatus, len(metrics)),
	}
	for m, summary := range metrics {
		t, ok := thresholds.Lookup(m)
		if !ok {
			res.Statuses[m] = engine.StatusGood
			continue
		}
		res.Statuses[m] = s.classifier.MetricStatus(m, summary.Current(), t)
	}
	return res
}
