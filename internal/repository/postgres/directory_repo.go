package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/perfwatch/internal/domain"

	"github.com/jackc/pgx/v5"
)

// Names возвращает отображаемые имена работника и проекта.
// Отсутствующая сторона дает пустую строку (тексты подставят дефолт).
func (s *Store) Names(ctx context.Context, pair domain.PairKey) (string, string, error) {
	query := `
		SELECT
			COALESCE((SELECT full_name FROM workers WHERE id = $1), ''),
			COALESCE((SELECT name FROM projects WHERE id = $2), '')`

	var worker, project string
	if err := s.pool.QueryRow(ctx, query, pair.WorkerID, pair.ProjectID).Scan(&worker, &project); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("postgres: failed to load names: %w", err)
	}
	return worker, project, nil
}
