package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PauseChecker — локальное представление пауз (engine.PauseRegistry).
type PauseChecker interface {
	IsPaused(pair domain.PairKey) bool
}

type ResumePublisher interface {
	PublishResume(ctx context.Context, pair domain.PairKey) error
}

// AssignmentStore закрывает предупреждения и пишет аудит снятия паузы.
type AssignmentStore interface {
	ResolveWarnings(ctx context.Context, pair domain.PairKey) (int64, error)
	CreateAlert(ctx context.Context, a domain.QualityAlert) error
}

// AssignmentStatus — ответ проверки для системы выдачи задач.
type AssignmentStatus struct {
	WorkerID  string `json:"worker_id"`
	ProjectID string `json:"project_id"`
	Paused    bool   `json:"paused"`
}

type AssignmentService struct {
	pauses    PauseChecker
	publisher ResumePublisher
	store     AssignmentStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewAssignmentService(pauses PauseChecker, publisher ResumePublisher, store AssignmentStore, logger *zap.Logger) *AssignmentService {
	return &AssignmentService{
		pauses:    pauses,
		publisher: publisher,
		store:     store,
		logger:    logger.Named("assignments"),
		now:       time.Now,
	}
}

func (s *AssignmentService) Status(pair domain.PairKey) AssignmentStatus {
	return AssignmentStatus{
		WorkerID:  pair.WorkerID,
		ProjectID: pair.ProjectID,
		Paused:    s.pauses.IsPaused(pair),
	}
}

// Resume снимает паузу выдачи задач после ручного разбора менеджером.
func (s *AssignmentService) Resume(ctx context.Context, pair domain.PairKey, reviewerID string) error {
	if err := s.publisher.PublishResume(ctx, pair); err != nil {
		return fmt.Errorf("assignment_service: failed to publish resume: %w", err)
	}

	resolved, err := s.store.ResolveWarnings(ctx, pair)
	if err != nil {
		// Пауза уже снята, предупреждения закроются при следующем разборе
		s.logger.Warn("resolve warnings failed", zap.String("pair", pair.String()), zap.Error(err))
	}

	alert := domain.QualityAlert{
		ID:        uuid.NewString(),
		WorkerID:  pair.WorkerID,
		ProjectID: pair.ProjectID,
		AlertType: domain.AlertAssignmentResume,
		Zone:      domain.ZoneGreen,
		Reasons:   []domain.ViolationReason{},
		Message:   fmt.Sprintf("Assignment intake resumed by %s", reviewerID),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		s.logger.Warn("resume audit failed", zap.String("pair", pair.String()), zap.Error(err))
	}

	s.logger.Info("assignments resumed",
		zap.String("pair", pair.String()),
		zap.String("reviewer_id", reviewerID),
		zap.Int64("warnings_resolved", resolved),
	)
	return nil
}
