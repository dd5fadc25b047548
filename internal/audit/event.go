package audit

import "time"

// Исходы действий в журнале.
const (
	OutcomeExecuted = "executed"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// EnforcementEvent — запись журнала о выполнении одного действия плана.
type EnforcementEvent struct {
	ID        string `json:"id"`       // UUID события
	CycleID   string `json:"cycle_id"` // Цикл, в котором построен план
	WorkerID  string `json:"worker_id"`
	ProjectID string `json:"project_id"`
	Zone      string `json:"zone"`
	Action    string `json:"action"`

	// Результат
	Outcome    string                 `json:"outcome"`
	Detail     string                 `json:"detail,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	DurationMs int64                  `json:"duration_ms"`
}
