package engine

import (
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"
)

// TrainingRecommendations — фиксированный список шагов в предупреждении работнику.
var TrainingRecommendations = []string{
	"Review the latest performance playbook",
	"Complete the targeted calibration module",
	"Schedule a 1:1 coaching session with your lead",
}

// Сроки реакции на предупреждение по зонам (в днях).
var warningDueDays = map[domain.Zone]int{
	domain.ZoneYellow: 5,
	domain.ZoneOrange: 3,
	domain.ZoneRed:    1,
}

var zoneActions = map[domain.Zone][]domain.ActionKind{
	domain.ZoneYellow: {
		domain.ActionNotifyWorker,
		domain.ActionRecommendTraining,
		domain.ActionNotifyManager,
	},
	domain.ZoneOrange: {
		domain.ActionNotifyWorker,
		domain.ActionRecommendTraining,
		domain.ActionEscalatedWarning,
		domain.ActionManagerReview,
		domain.ActionPauseAssignments,
	},
	domain.ZoneRed: {
		domain.ActionNotifyWorker,
		domain.ActionEscalatedWarning,
		domain.ActionNotifyManager,
		domain.ActionManagerReview,
		domain.ActionAutoRemove,
		domain.ActionPauseAssignments,
	},
}

// BuildPlan — чистая и тотальная функция: один и тот же снапшот и now
// всегда дают один и тот же план. Для зеленой зоны план пустой.
func BuildPlan(snapshot domain.PerformanceSnapshot, now time.Time) domain.ProgressiveActionPlan {
	reasons := make([]domain.ViolationReason, len(snapshot.Reasons))
	copy(reasons, snapshot.Reasons)

	plan := domain.ProgressiveActionPlan{
		WorkerID:        snapshot.WorkerID,
		ProjectID:       snapshot.ProjectID,
		WorkerName:      snapshot.WorkerName,
		ProjectName:     snapshot.ProjectName,
		Zone:            snapshot.Zone,
		Actions:         []domain.ActionKind{},
		Reasons:         reasons,
		ConsecutiveDays: snapshot.ConsecutiveViolationDays,
		MetricsSnapshot: snapshot.Freeze(),
	}

	actions, ok := zoneActions[snapshot.Zone]
	if !ok {
		return plan
	}
	plan.Actions = append(plan.Actions, actions...)
	plan.TrainingRecommendations = append([]string(nil), TrainingRecommendations...)

	due := now.Add(time.Duration(warningDueDays[snapshot.Zone]) * 24 * time.Hour)
	plan.WarningDueDate = &due

	if snapshot.Zone == domain.ZoneRed {
		reason := domain.RemovalReasonRedZone
		plan.RemovalReason = &reason
	}
	return plan
}
