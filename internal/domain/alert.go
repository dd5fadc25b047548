package domain

import "time"

// Типы записей quality_alerts.
const (
	AlertPerformanceWarning   = "performance_warning"
	AlertAutoRemovalTriggered = "auto_removal_triggered"
	AlertAssignmentPause      = "assignment_pause"
	AlertAssignmentResume     = "assignment_resume"
)

// QualityWarning — открытое предупреждение работнику. На пару допускается одно открытое.
type QualityWarning struct {
	ID         string     `json:"id"`
	WorkerID   string     `json:"worker_id"`
	ProjectID  string     `json:"project_id"`
	Zone       Zone       `json:"zone"`
	Message    string     `json:"message"`
	Actions    []string   `json:"actions"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// QualityAlert — уведомление менеджеру или аудит паузы назначений.
type QualityAlert struct {
	ID          string            `json:"id"`
	WorkerID    string            `json:"worker_id"`
	ProjectID   string            `json:"project_id"`
	AlertType   string            `json:"alert_type"`
	Zone        Zone              `json:"zone"`
	Reasons     []ViolationReason `json:"reasons"`
	MetricValue *float64          `json:"metric_value,omitempty"`
	Threshold   *float64          `json:"threshold_value,omitempty"`
	Message     string            `json:"message"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AlertTypeForZone — красная зона пишется как сработавшее автоснятие.
func AlertTypeForZone(z Zone) string {
	if z == ZoneRed {
		return AlertAutoRemovalTriggered
	}
	return AlertPerformanceWarning
}

// PerformanceReview — запись performance_reviews по итогам цикла.
type PerformanceReview struct {
	ID                string          `json:"id"`
	CycleID           string          `json:"cycle_id"`
	WorkerID          string          `json:"worker_id"`
	ProjectID         string          `json:"project_id"`
	Zone              Zone            `json:"zone"`
	ReviewPeriodStart time.Time       `json:"review_period_start"`
	ReviewPeriodEnd   time.Time       `json:"review_period_end"`
	Metrics           MetricsSnapshot `json:"metrics"`
}
