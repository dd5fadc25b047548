package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"
	"github.com/xela07ax/perfwatch/internal/engine"

	"go.uber.org/zap"
)

// Окно сводки по снятиям.
const removalMetricsWindow = 30 * 24 * time.Hour

// RemovalStore описывает контракт журнала снятий.
// Переходы состояния апелляции атомарны на стороне хранилища.
type RemovalStore interface {
	GetRemoval(ctx context.Context, id string) (*domain.RemovalRecord, error)
	ListRemovalsByWorker(ctx context.Context, workerID string) ([]domain.RemovalRecord, error)
	ListAppealsForReview(ctx context.Context) ([]domain.RemovalRecord, error)
	ListRemovalsSince(ctx context.Context, since time.Time) ([]domain.RemovalRecord, error)
	SubmitAppeal(ctx context.Context, id, workerID, message string, at time.Time) (*domain.RemovalRecord, error)
	DecideAppeal(ctx context.Context, id, reviewerID string, decision domain.AppealStatus, notes *string, at time.Time) (*domain.RemovalRecord, error)
}

// DecisionPublisher сообщает внешней системе восстановления о решении.
type DecisionPublisher interface {
	PublishAppealDecision(ctx context.Context, record domain.RemovalRecord) error
}

type AppealService struct {
	store     RemovalStore
	notifier  engine.Notifier
	publisher DecisionPublisher
	guard     *engine.Guard
	logger    *zap.Logger
	now       func() time.Time
}

func NewAppealService(store RemovalStore, notifier engine.Notifier, publisher DecisionPublisher, guard *engine.Guard, logger *zap.Logger) *AppealService {
	return &AppealService{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		guard:     guard,
		logger:    logger.Named("appeals"),
		now:       time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (s *AppealService) WithClock(now func() time.Time) *AppealService {
	s.now = now
	return s
}

// FetchAppealableRemovals — снятия работника, от новых к старым.
func (s *AppealService) FetchAppealableRemovals(ctx context.Context, workerID string) ([]domain.RemovalRecord, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return []domain.RemovalRecord{}, nil
	}
	var records []domain.RemovalRecord
	err := s.call(ctx, func(ctx context.Context) (err error) {
		records, err = s.store.ListRemovalsByWorker(ctx, workerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("appeal_service: failed to load removals: %w", err)
	}
	return records, nil
}

// SubmitAppeal сохраняет текст апелляции и уведомляет менеджеров.
func (s *AppealService) SubmitAppeal(ctx context.Context, removalID, workerID, message string) domain.AppealResult {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return domain.AppealFail(domain.AppealReasonMissingWorker)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.AppealFail(domain.AppealReasonMessageRequired)
	}

	// Повторная подача допустима, поэтому ретрай после потерянного ответа безопасен
	at := s.now().UTC().Truncate(time.Microsecond)
	var record *domain.RemovalRecord
	err := s.call(ctx, func(ctx context.Context) (err error) {
		record, err = s.store.SubmitAppeal(ctx, removalID, workerID, message, at)
		return err
	})
	if err != nil {
		return s.fail("submit", removalID, err)
	}

	s.logger.Info("appeal submitted",
		zap.String("removal_id", record.ID),
		zap.String("worker_id", record.WorkerID),
		zap.String("project_id", record.ProjectID),
	)
	s.notify(ctx, record.ID, managerAppealNotification(*record))
	return domain.AppealOK()
}

// FetchAppealsForReview — очередь на рассмотрение, старые апелляции первыми.
func (s *AppealService) FetchAppealsForReview(ctx context.Context) ([]domain.RemovalRecord, error) {
	var records []domain.RemovalRecord
	err := s.call(ctx, func(ctx context.Context) (err error) {
		records, err = s.store.ListAppealsForReview(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("appeal_service: failed to load appeals: %w", err)
	}
	return records, nil
}

// ReviewAppealDecision фиксирует решение менеджера. Решение принимается ровно один раз.
func (s *AppealService) ReviewAppealDecision(ctx context.Context, removalID, reviewerID string, decision domain.AppealStatus, notes *string) domain.AppealResult {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return domain.AppealFail(domain.AppealReasonMissingReviewer)
	}
	if decision != domain.AppealApproved && decision != domain.AppealDenied {
		return domain.AppealFail(domain.AppealReasonInvalidDecision)
	}
	if notes != nil {
		trimmed := strings.TrimSpace(*notes)
		notes = &trimmed
		if trimmed == "" {
			notes = nil
		}
	}

	// Точность timestamptz в PostgreSQL — микросекунды
	at := s.now().UTC().Truncate(time.Microsecond)
	var (
		record   *domain.RemovalRecord
		attempts int
	)
	err := s.call(ctx, func(ctx context.Context) (err error) {
		attempts++
		record, err = s.store.DecideAppeal(ctx, removalID, reviewerID, decision, notes, at)
		return err
	})
	if errors.Is(err, domain.ErrAlreadyDecided) && attempts > 1 {
		record, err = s.ownDecision(ctx, removalID, reviewerID, decision, at, err)
	}
	if err != nil {
		return s.fail("decide", removalID, err)
	}

	s.logger.Info("appeal decided",
		zap.String("removal_id", record.ID),
		zap.String("reviewer_id", reviewerID),
		zap.String("decision", string(decision)),
	)
	s.notify(ctx, record.ID, workerDecisionNotification(*record, decision, notes))

	if s.publisher != nil {
		if err := s.publisher.PublishAppealDecision(ctx, *record); err != nil {
			s.logger.Warn("appeal decision signal failed", zap.String("removal_id", record.ID), zap.Error(err))
		}
	}
	return domain.AppealOK()
}

// RemovalMetrics — сводка по снятиям за последние 30 дней.
func (s *AppealService) RemovalMetrics(ctx context.Context) (domain.RemovalMetrics, error) {
	since := s.now().UTC().Add(-removalMetricsWindow)
	var records []domain.RemovalRecord
	err := s.call(ctx, func(ctx context.Context) (err error) {
		records, err = s.store.ListRemovalsSince(ctx, since)
		return err
	})
	if err != nil {
		return ComputeRemovalMetrics(nil), fmt.Errorf("appeal_service: failed to load removal metrics: %w", err)
	}
	return ComputeRemovalMetrics(records), nil
}

// ComputeRemovalMetrics считает сводку по записям окна.
//
//	removal_rate       = removals / 30 (в день)
//	appeal_rate        = appealed / removals
//	reinstatement_rate = approved / appealed
func ComputeRemovalMetrics(records []domain.RemovalRecord) domain.RemovalMetrics {
	out := domain.RemovalMetrics{Trend: []domain.TrendPoint{}}
	out.TotalRemovals = len(records)
	if out.TotalRemovals == 0 {
		return out
	}

	var appealed, reinstated int
	weeks := make(map[string]int)
	for _, r := range records {
		if r.AppealMessage != nil || r.AppealSubmittedAt != nil {
			appealed++
		}
		if r.AppealStatus == domain.AppealApproved {
			reinstated++
		}
		if !r.RemovedAt.IsZero() {
			weeks[weekStart(r.RemovedAt)]++
		}
	}

	days := removalMetricsWindow.Hours() / 24
	out.RemovalRate = roundRate(float64(out.TotalRemovals) / days)
	out.AppealRate = roundRate(float64(appealed) / float64(out.TotalRemovals))
	if appealed > 0 {
		out.ReinstatementRate = roundRate(float64(reinstated) / float64(appealed))
	}

	for week, n := range weeks {
		out.Trend = append(out.Trend, domain.TrendPoint{Week: week, Removals: n})
	}
	// ISO-даты сортируются как строки
	sort.Slice(out.Trend, func(i, j int) bool { return out.Trend[i].Week < out.Trend[j].Week })
	return out
}

// weekStart — понедельник недели в UTC.
func weekStart(t time.Time) string {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset).Format("2006-01-02")
}

func roundRate(v float64) float64 {
	return math.Round(math.Max(0, v)*100) / 100
}

// call пропускает обращение к хранилищу через Guard: таймаут на попытку и ретраи.
// Отказы по состоянию апелляции не повторяются и не открывают предохранитель.
func (s *AppealService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.guard == nil {
		return fn(ctx)
	}
	return s.guard.Do(ctx, engine.DepActionStore, func(ctx context.Context) error {
		err := fn(ctx)
		if isLedgerRejection(err) {
			return engine.Permanent(err)
		}
		return err
	})
}

func isLedgerRejection(err error) bool {
	return errors.Is(err, domain.ErrRemovalNotFound) ||
		errors.Is(err, domain.ErrNotAppealable) ||
		errors.Is(err, domain.ErrAlreadyDecided) ||
		errors.Is(err, domain.ErrNoAppeal) ||
		errors.Is(err, domain.ErrInvalidDecision)
}

// ownDecision отличает чужое решение от собственного, закоммиченного попыткой,
// ответ на которую потерялся: у такой записи совпадают ревьюер, решение и время.
func (s *AppealService) ownDecision(ctx context.Context, removalID, reviewerID string, decision domain.AppealStatus, at time.Time, rejection error) (*domain.RemovalRecord, error) {
	var current *domain.RemovalRecord
	err := s.call(ctx, func(ctx context.Context) (err error) {
		current, err = s.store.GetRemoval(ctx, removalID)
		return err
	})
	if err != nil {
		return nil, rejection
	}
	if current.AppealStatus == decision &&
		current.AppealReviewedBy != nil && *current.AppealReviewedBy == reviewerID &&
		current.AppealDecisionAt != nil && current.AppealDecisionAt.Equal(at) {
		return current, nil
	}
	return nil, rejection
}

func (s *AppealService) fail(op, removalID string, err error) domain.AppealResult {
	reason := domain.AppealReasonFor(err)
	if reason == domain.AppealReasonError {
		s.logger.Error("appeal store failure", zap.String("op", op), zap.String("removal_id", removalID), zap.Error(err))
	} else {
		s.logger.Debug("appeal rejected", zap.String("op", op), zap.String("removal_id", removalID), zap.String("reason", reason))
	}
	return domain.AppealFail(reason)
}

// notify — доставка best effort: сбой шлюза не меняет результат операции.
func (s *AppealService) notify(ctx context.Context, removalID string, n domain.Notification) {
	if s.notifier == nil {
		return
	}
	send := func(ctx context.Context) error { return s.notifier.Send(ctx, n) }

	var err error
	if s.guard != nil {
		err = s.guard.Do(ctx, engine.DepNotifier, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		s.logger.Warn("appeal notification failed", zap.String("removal_id", removalID), zap.Error(err))
	}
}

func managerAppealNotification(r domain.RemovalRecord) domain.Notification {
	message := "n/a"
	if r.AppealMessage != nil {
		message = *r.AppealMessage
	}
	content := strings.Join([]string{
		fmt.Sprintf("Worker %s appealed their removal from project %s.", r.WorkerID, r.ProjectID),
		"",
		"Reason: " + r.RemovalReason,
		"Appeal message: " + message,
		"",
		"Visit the auto removals dashboard to review.",
	}, "\n")

	return domain.Notification{
		RecipientRoles: []string{domain.RoleManager},
		Subject:        "Appeal submitted for removal " + r.ID,
		Content:        content,
	}
}

func workerDecisionNotification(r domain.RemovalRecord, decision domain.AppealStatus, notes *string) domain.Notification {
	subject := fmt.Sprintf("Appeal decision for project %s", r.ProjectID)
	next := "Please review the feedback above and work with your manager on remediation."
	if decision == domain.AppealApproved {
		subject = fmt.Sprintf("Appeal approved for project %s", r.ProjectID)
		next = "You may coordinate with your manager to resume work or review next steps shared in your portal."
	}

	lines := []string{
		"Hi there,",
		"",
		fmt.Sprintf("Your appeal for the removal on project %s was %s.", r.ProjectID, decision),
	}
	if notes != nil {
		lines = append(lines, "Notes: "+*notes)
	}
	lines = append(lines, "", next, "", "Workforce Operations")

	return domain.Notification{
		RecipientIDs: []string{r.WorkerID},
		Subject:      subject,
		Content:      strings.Join(lines, "\n"),
	}
}
