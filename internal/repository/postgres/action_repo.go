package postgres

/*
Файл action_repo.go — записи воздействий диспетчера. Идемпотентность держится на
частичных уникальных индексах: повторная вставка превращается в ON CONFLICT DO NOTHING,
и вместо новой строки возвращается ID уже открытой записи.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/perfwatch/internal/domain"

	"github.com/jackc/pgx/v5"
)

// OpenWarning создает открытое предупреждение, если у пары его еще нет.
// Возвращает ID открытого предупреждения: нового или уже существующего (вместе с domain.ErrWarningOpen).
func (s *Store) OpenWarning(ctx context.Context, w domain.QualityWarning) (string, error) {
	query := `
		WITH ins AS (
			INSERT INTO quality_warnings (id, worker_id, project_id, zone, message, actions, due_date, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (worker_id, project_id) WHERE resolved_at IS NULL DO NOTHING
			RETURNING id
		)
		SELECT id, true FROM ins
		UNION ALL
		SELECT id, false FROM quality_warnings
		WHERE worker_id = $2 AND project_id = $3 AND resolved_at IS NULL
		LIMIT 1`

	actions := w.Actions
	if actions == nil {
		actions = []string{}
	}

	row := s.pool.QueryRow(ctx, query,
		w.ID, w.WorkerID, w.ProjectID, string(w.Zone), w.Message, actions, w.DueDate, w.CreatedAt,
	)
	id, err := scanConditionalInsert(row, domain.ErrWarningOpen)
	if err != nil && !errors.Is(err, domain.ErrWarningOpen) {
		return "", fmt.Errorf("postgres: failed to create warning: %w", err)
	}
	return id, err
}

// CreateAlert пишет алерт менеджеру или аудит паузы.
func (s *Store) CreateAlert(ctx context.Context, a domain.QualityAlert) error {
	query := `
		INSERT INTO quality_alerts (id, worker_id, project_id, alert_type, zone, reasons, metric_value, threshold_value, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.WorkerID, a.ProjectID, a.AlertType, string(a.Zone), reasonStrings(a.Reasons),
		a.MetricValue, a.Threshold, a.Message, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create alert: %w", err)
	}
	return nil
}

// CreateRemoval создает запись снятия. Если у пары уже есть pending-запись, возвращает
// ее ID и domain.ErrRemovalExists.
func (s *Store) CreateRemoval(ctx context.Context, r domain.RemovalRecord) (string, error) {
	snapshot, err := json.Marshal(r.MetricsSnapshot)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to encode metrics snapshot: %w", err)
	}

	query := `
		WITH ins AS (
			INSERT INTO auto_removals (id, worker_id, project_id, removal_reason, metrics_snapshot, removed_at, can_appeal, appeal_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (worker_id, project_id) WHERE appeal_status = 'pending' DO NOTHING
			RETURNING id
		)
		SELECT id, true FROM ins
		UNION ALL
		SELECT id, false FROM auto_removals
		WHERE worker_id = $2 AND project_id = $3 AND appeal_status = 'pending'
		LIMIT 1`

	row := s.pool.QueryRow(ctx, query,
		r.ID, r.WorkerID, r.ProjectID, r.RemovalReason, snapshot, r.RemovedAt, r.CanAppeal, string(r.AppealStatus),
	)
	id, err := scanConditionalInsert(row, domain.ErrRemovalExists)
	if err != nil && !errors.Is(err, domain.ErrRemovalExists) {
		return "", fmt.Errorf("postgres: failed to create removal: %w", err)
	}
	return id, err
}

// scanConditionalInsert разбирает ответ вставки с ON CONFLICT DO NOTHING.
// Оба подзапроса видят один снимок, поэтому конкурентная вставка, закоммиченная
// после него, дает пустой ответ: это тоже конфликт, но без ID.
func scanConditionalInsert(row pgx.Row, conflict error) (string, error) {
	var (
		id       string
		inserted bool
	)
	if err := row.Scan(&id, &inserted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", conflict
		}
		return "", err
	}
	if !inserted {
		return id, conflict
	}
	return id, nil
}

// ResolveWarnings закрывает открытые предупреждения пары (при снятии паузы).
func (s *Store) ResolveWarnings(ctx context.Context, pair domain.PairKey) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quality_warnings SET resolved_at = NOW() WHERE worker_id = $1 AND project_id = $2 AND resolved_at IS NULL`,
		pair.WorkerID, pair.ProjectID,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to resolve warnings: %w", err)
	}
	return tag.RowsAffected(), nil
}

func reasonStrings(reasons []domain.ViolationReason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, string(r))
	}
	return out
}

// ListPausedPairs — пары, у которых последняя запись паузы не перекрыта снятием.
func (s *Store) ListPausedPairs(ctx context.Context) ([]domain.PairKey, error) {
	query := `
		SELECT worker_id, project_id FROM (
			SELECT DISTINCT ON (worker_id, project_id) worker_id, project_id, alert_type
			FROM quality_alerts
			WHERE alert_type = ANY($1)
			ORDER BY worker_id, project_id, created_at DESC
		) last
		WHERE alert_type = $2`

	rows, err := s.pool.Query(ctx, query,
		[]string{domain.AlertAssignmentPause, domain.AlertAssignmentResume}, domain.AlertAssignmentPause)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list paused pairs: %w", err)
	}
	defer rows.Close()

	var out []domain.PairKey
	for rows.Next() {
		var p domain.PairKey
		if err := rows.Scan(&p.WorkerID, &p.ProjectID); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan paused pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
