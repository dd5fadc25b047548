package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/perfwatch/internal/audit"
)

// WriteBatch — пакетная вставка журнала воздействий одним INSERT.
func (s *Store) WriteBatch(ctx context.Context, events []audit.EnforcementEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице enforcement_audit
	const numFields = 12
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	for i, e := range events {
		p := i * numFields
		if i > 0 {
			placeholders.WriteString(",")
		}
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		var payload []byte
		if e.Payload != nil {
			payload, _ = json.Marshal(e.Payload)
		}

		vals = append(vals,
			e.ID, e.CycleID, e.WorkerID, e.ProjectID, e.Zone, e.Action,
			e.Outcome, e.Detail, e.Error, payload, e.DurationMs, e.Timestamp,
		)
	}

	query := "INSERT INTO enforcement_audit (id, cycle_id, worker_id, project_id, zone, action, outcome, detail, error, payload, duration_ms, timestamp) VALUES " +
		placeholders.String()

	if _, err := s.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write enforcement audit: %w", err)
	}
	return nil
}
