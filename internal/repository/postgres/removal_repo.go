package postgres

/*
Файл removal_repo.go — хранилище журнала снятий и апелляций.
Переходы состояния апелляции делаются условным UPDATE ... RETURNING,
поэтому гонка двух решений не может перезаписать первое.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"

	"github.com/jackc/pgx/v5"
)

const removalColumns = `id, worker_id, project_id, removal_reason, metrics_snapshot, removed_at, can_appeal,
	appeal_status, appeal_message, appeal_submitted_at, appeal_reviewed_by, appeal_decision_at, appeal_decision_notes`

func scanRemoval(row pgx.Row) (*domain.RemovalRecord, error) {
	var (
		r        domain.RemovalRecord
		snapshot []byte
		status   string
	)
	err := row.Scan(
		&r.ID, &r.WorkerID, &r.ProjectID, &r.RemovalReason, &snapshot, &r.RemovedAt, &r.CanAppeal,
		&status, &r.AppealMessage, &r.AppealSubmittedAt, &r.AppealReviewedBy, &r.AppealDecisionAt, &r.AppealDecisionNotes,
	)
	if err != nil {
		return nil, err
	}
	r.AppealStatus = domain.AppealStatus(status)
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &r.MetricsSnapshot); err != nil {
			return nil, fmt.Errorf("postgres: failed to decode metrics snapshot: %w", err)
		}
	}
	return &r, nil
}

func (s *Store) queryRemovals(ctx context.Context, query string, args ...interface{}) ([]domain.RemovalRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query removals: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	out := make([]domain.RemovalRecord, 0)
	for rows.Next() {
		r, err := scanRemoval(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan removal: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

// GetRemoval возвращает запись по ID или domain.ErrRemovalNotFound.
func (s *Store) GetRemoval(ctx context.Context, id string) (*domain.RemovalRecord, error) {
	r, err := scanRemoval(s.pool.QueryRow(ctx, `SELECT `+removalColumns+` FROM auto_removals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRemovalNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get removal: %w", err)
	}
	return r, nil
}

// ListRemovalsByWorker — записи работника, от новых к старым.
func (s *Store) ListRemovalsByWorker(ctx context.Context, workerID string) ([]domain.RemovalRecord, error) {
	return s.queryRemovals(ctx,
		`SELECT `+removalColumns+` FROM auto_removals WHERE worker_id = $1 ORDER BY removed_at DESC`, workerID)
}

// ListAppealsForReview — очередь менеджера: pending с текстом апелляции, старые первыми.
func (s *Store) ListAppealsForReview(ctx context.Context) ([]domain.RemovalRecord, error) {
	return s.queryRemovals(ctx,
		`SELECT `+removalColumns+` FROM auto_removals
		 WHERE appeal_status = 'pending' AND appeal_message IS NOT NULL
		 ORDER BY appeal_submitted_at ASC`)
}

// ListRemovalsSince — записи за окно (для сводки по снятиям).
func (s *Store) ListRemovalsSince(ctx context.Context, since time.Time) ([]domain.RemovalRecord, error) {
	return s.queryRemovals(ctx,
		`SELECT `+removalColumns+` FROM auto_removals WHERE removed_at >= $1 ORDER BY removed_at ASC`, since)
}

// SubmitAppeal записывает (или заменяет) текст апелляции, пока статус pending.
func (s *Store) SubmitAppeal(ctx context.Context, id, workerID, message string, at time.Time) (*domain.RemovalRecord, error) {
	query := `
		UPDATE auto_removals
		SET appeal_message = $3,
		    appeal_submitted_at = $4
		WHERE id = $1 AND worker_id = $2 AND can_appeal AND appeal_status = 'pending'
		RETURNING ` + removalColumns

	r, err := scanRemoval(s.pool.QueryRow(ctx, query, id, workerID, message, at))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: failed to submit appeal: %w", err)
	}

	// Условие не выполнилось: перечитываем запись, чтобы назвать причину
	current, getErr := s.GetRemoval(ctx, id)
	return nil, explainUnchanged(id, current, getErr, func(r *domain.RemovalRecord) error {
		return r.CanSubmitAppeal(workerID)
	})
}

// DecideAppeal фиксирует решение. Сработает только для pending-записи с текстом апелляции.
func (s *Store) DecideAppeal(ctx context.Context, id, reviewerID string, decision domain.AppealStatus, notes *string, at time.Time) (*domain.RemovalRecord, error) {
	query := `
		UPDATE auto_removals
		SET appeal_status = $2,
		    appeal_reviewed_by = $3,
		    appeal_decision_at = $4,
		    appeal_decision_notes = $5
		WHERE id = $1 AND appeal_status = 'pending' AND appeal_message IS NOT NULL
		RETURNING ` + removalColumns

	r, err := scanRemoval(s.pool.QueryRow(ctx, query, id, string(decision), reviewerID, at, notes))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: failed to decide appeal: %w", err)
	}

	current, getErr := s.GetRemoval(ctx, id)
	return nil, explainUnchanged(id, current, getErr, func(r *domain.RemovalRecord) error {
		return r.CanDecide(decision)
	})
}

// explainUnchanged называет причину, по которой условный UPDATE не затронул строку.
// Если перечитанная запись допускает переход, строку изменили между двумя запросами.
func explainUnchanged(id string, current *domain.RemovalRecord, getErr error, check func(r *domain.RemovalRecord) error) error {
	if getErr != nil {
		return getErr
	}
	if err := check(current); err != nil {
		return err
	}
	return fmt.Errorf("postgres: appeal for removal %s was not updated", id)
}
