package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/perfwatch/internal/domain"

	"github.com/jackc/pgx/v5"
)

// SaveReviews пишет performance_reviews одним батчем.
func (s *Store) SaveReviews(ctx context.Context, reviews []domain.PerformanceReview) error {
	if len(reviews) == 0 {
		return nil
	}

	query := `
		INSERT INTO performance_reviews (id, cycle_id, worker_id, project_id, zone, review_period_start, review_period_end, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	batch := &pgx.Batch{}
	for _, r := range reviews {
		metrics, err := json.Marshal(r.Metrics)
		if err != nil {
			return fmt.Errorf("postgres: failed to encode review metrics: %w", err)
		}
		batch.Queue(query, r.ID, r.CycleID, r.WorkerID, r.ProjectID, string(r.Zone), r.ReviewPeriodStart, r.ReviewPeriodEnd, metrics)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range reviews {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: failed to save performance review: %w", err)
		}
	}
	return nil
}
