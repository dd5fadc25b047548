package postgres

/*
Файл metric_repo.go — чтение наблюдений и порогов (граница с внешним пайплайном метрик).
Здесь же маппинг типов метрик и валидация порогов: неизвестные типы и
некорректные пороги отбрасываются с предупреждением в лог.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"

	"go.uber.org/zap"
)

// ListPairs возвращает пары с наблюдениями отслеживаемых типов за окно.
func (s *Store) ListPairs(ctx context.Context, since time.Time, filter domain.CycleFilter) ([]domain.PairKey, error) {
	query := `SELECT DISTINCT worker_id, project_id
	          FROM quality_metrics
	          WHERE measured_at >= $1 AND metric_type = ANY($2)`
	args := []interface{}{since, domain.SourceMetricNames()}

	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if filter.WorkerID != "" {
		args = append(args, filter.WorkerID)
		query += fmt.Sprintf(" AND worker_id = $%d", len(args))
	}
	query += " ORDER BY project_id, worker_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list pairs: %w", err)
	}
	defer rows.Close()

	pairs := make([]domain.PairKey, 0)
	for rows.Next() {
		var p domain.PairKey
		if err := rows.Scan(&p.WorkerID, &p.ProjectID); err != nil {
			return nil, fmt.Errorf("postgres: scan pair error: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return pairs, nil
}

// LoadObservations возвращает наблюдения пары за окно, от новых к старым.
func (s *Store) LoadObservations(ctx context.Context, pair domain.PairKey, since time.Time) ([]domain.MetricObservation, error) {
	query := `SELECT metric_type, metric_value, rolling_avg_7d, rolling_avg_30d, measured_at
	          FROM quality_metrics
	          WHERE worker_id = $1 AND project_id = $2 AND measured_at >= $3 AND metric_type = ANY($4)
	          ORDER BY measured_at DESC`

	rows, err := s.pool.Query(ctx, query, pair.WorkerID, pair.ProjectID, since, domain.SourceMetricNames())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load observations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.MetricObservation, 0)
	for rows.Next() {
		var (
			rawType string
			o       domain.MetricObservation
		)
		if err := rows.Scan(&rawType, &o.Value, &o.Rolling7d, &o.Rolling30d, &o.MeasuredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan observation error: %w", err)
		}
		mt, ok := domain.ParseSourceMetricType(rawType)
		if !ok {
			continue
		}
		o.WorkerID, o.ProjectID, o.Type = pair.WorkerID, pair.ProjectID, mt
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

// LoadThresholds читает пороги проекта. Невалидные строки отбрасываются.
func (s *Store) LoadThresholds(ctx context.Context, projectID string) (domain.ProjectThresholds, error) {
	query := `SELECT metric_type, threshold_min, threshold_max, grace_period_days
	          FROM performance_thresholds WHERE project_id = $1`

	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load thresholds: %w", err)
	}
	defer rows.Close()

	out := make(domain.ProjectThresholds)
	for rows.Next() {
		var (
			rawType string
			t       domain.Threshold
		)
		if err := rows.Scan(&rawType, &t.Min, &t.Max, &t.GraceDays); err != nil {
			return nil, fmt.Errorf("postgres: scan threshold error: %w", err)
		}
		mt, ok := domain.ParseSourceMetricType(rawType)
		if !ok {
			continue
		}
		if err := t.Validate(mt); err != nil {
			s.logger.Warn("threshold dropped",
				zap.String("project_id", projectID),
				zap.String("metric_type", rawType),
				zap.Error(err),
			)
			continue
		}
		out[mt] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}
