package domain

import "time"

// ActionKind — шаг прогрессивного воздействия.
type ActionKind string

const (
	ActionNotifyWorker      ActionKind = "notify_worker"
	ActionRecommendTraining ActionKind = "recommend_training"
	ActionNotifyManager     ActionKind = "notify_manager"
	ActionEscalatedWarning  ActionKind = "escalated_warning"
	ActionManagerReview     ActionKind = "manager_review"
	ActionPauseAssignments  ActionKind = "pause_assignments"
	ActionAutoRemove        ActionKind = "auto_remove"
)

// RemovalReasonRedZone — причина автоматического снятия для красной зоны.
const RemovalReasonRedZone = "performance_zone_red"

// ProgressiveActionPlan — план действий для одного не-зеленого снапшота.
// План строится чистой функцией и повторно не используется между циклами.
type ProgressiveActionPlan struct {
	WorkerID    string `json:"worker_id"`
	ProjectID   string `json:"project_id"`
	WorkerName  string `json:"worker_name,omitempty"`
	ProjectName string `json:"project_name,omitempty"`

	Zone                    Zone              `json:"zone"`
	Actions                 []ActionKind      `json:"actions"`
	Reasons                 []ViolationReason `json:"reasons"`
	ConsecutiveDays         int               `json:"consecutive_days"`
	TrainingRecommendations []string          `json:"training_recommendations,omitempty"`

	WarningDueDate *time.Time `json:"warning_due_date,omitempty"`
	RemovalReason  *string    `json:"removal_reason,omitempty"`

	MetricsSnapshot MetricsSnapshot `json:"metrics_snapshot"`
}

// Has сообщает, содержит ли план хотя бы одно из действий.
func (p ProgressiveActionPlan) Has(kinds ...ActionKind) bool {
	for _, a := range p.Actions {
		for _, k := range kinds {
			if a == k {
				return true
			}
		}
	}
	return false
}

func (p ProgressiveActionPlan) Pair() PairKey {
	return PairKey{WorkerID: p.WorkerID, ProjectID: p.ProjectID}
}

// DisplayProject — название проекта для текстов уведомлений.
func (p ProgressiveActionPlan) DisplayProject() string {
	if p.ProjectName != "" {
		return p.ProjectName
	}
	return "assigned project"
}

// DisplayWorker — имя работника для текстов уведомлений.
func (p ProgressiveActionPlan) DisplayWorker() string {
	if p.WorkerName != "" {
		return p.WorkerName
	}
	return "Worker"
}
