package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/perfwatch/internal/audit"
	"github.com/xela07ax/perfwatch/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActionStatus — исход одного действия плана.
type ActionStatus string

const (
	ActionExecuted ActionStatus = audit.OutcomeExecuted
	ActionSkipped  ActionStatus = audit.OutcomeSkipped
	ActionFailed   ActionStatus = audit.OutcomeFailed
)

// Детали исходов (попадают в журнал и ответ API).
const (
	DetailWarningSent        = "warning_sent"
	DetailWarningAlreadyOpen = "warning_already_open"
	DetailWarningInsert      = "warning_insert_failed"
	DetailMessageSendFailed  = "message_send_failed"
	DetailManagerNotified    = "manager_notified"
	DetailAlertInsert        = "alert_insert_failed"
	DetailManagerNotify      = "manager_notify_failed"
	DetailAssignmentsPaused  = "assignments_paused"
	DetailPauseInsert        = "pause_insert_failed"
	DetailRemovalRecorded    = "removal_recorded"
	DetailRemovalAlreadyOpen = "removal_already_open"
	DetailRemovalInsert      = "removal_insert_failed"
	DetailPanic              = "panic"
)

type ActionOutcome struct {
	Action domain.ActionKind `json:"action"`
	Status ActionStatus      `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// DispatchResult — исходы всех действий плана в порядке плана.
type DispatchResult struct {
	WorkerID  string          `json:"worker_id"`
	ProjectID string          `json:"project_id"`
	Zone      domain.Zone     `json:"zone"`
	Outcomes  []ActionOutcome `json:"outcomes"`
}

func (r DispatchResult) Tally() domain.ActionTally {
	var t domain.ActionTally
	for _, o := range r.Outcomes {
		switch o.Status {
		case ActionExecuted:
			t.Executed++
		case ActionSkipped:
			t.Skipped++
		default:
			t.Failed++
		}
	}
	return t
}

// Outcome возвращает исход конкретного действия.
func (r DispatchResult) Outcome(kind domain.ActionKind) (ActionOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Action == kind {
			return o, true
		}
	}
	return ActionOutcome{}, false
}

// ActionStore — хранилище записей воздействий.
// OpenWarning возвращает domain.ErrWarningOpen, если у пары есть открытое предупреждение,
// CreateRemoval — domain.ErrRemovalExists, если у пары есть запись со статусом pending.
// Оба метода отдают ID открытой записи, в том числе при конфликте (если он известен).
type ActionStore interface {
	OpenWarning(ctx context.Context, w domain.QualityWarning) (string, error)
	CreateAlert(ctx context.Context, a domain.QualityAlert) error
	CreateRemoval(ctx context.Context, r domain.RemovalRecord) (string, error)
}

// Notifier — внешний шлюз уведомлений.
type Notifier interface {
	Send(ctx context.Context, n domain.Notification) error
}

// SignalPublisher — сигналы для внешней системы выдачи задач.
type SignalPublisher interface {
	PublishPause(ctx context.Context, pair domain.PairKey) error
	PublishRemoval(ctx context.Context, pair domain.PairKey, removalID string) error
}

// Группы действий: каждая группа — одна независимая задача.
var actionGroups = []struct {
	name  string
	kinds []domain.ActionKind
}{
	{"warning", []domain.ActionKind{domain.ActionNotifyWorker, domain.ActionRecommendTraining, domain.ActionEscalatedWarning}},
	{"manager", []domain.ActionKind{domain.ActionNotifyManager, domain.ActionManagerReview}},
	{"pause", []domain.ActionKind{domain.ActionPauseAssignments}},
	{"removal", []domain.ActionKind{domain.ActionAutoRemove}},
}

type taskResult struct {
	status ActionStatus
	detail string
	err    error
}

type Dispatcher struct {
	store    ActionStore
	notifier Notifier
	signals  SignalPublisher
	journal  audit.Recorder
	guard    *Guard
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(store ActionStore, notifier Notifier, signals SignalPublisher, journal audit.Recorder, guard *Guard, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		signals:  signals,
		journal:  journal,
		guard:    guard,
		metrics:  metrics,
		logger:   logger.Named("dispatcher"),
		now:      time.Now,
	}
}

// Dispatch исполняет план. Задачи выполняются параллельно, отказ одной не
// отменяет другие. Ошибки и паники наружу не выходят, только в исходах.
func (d *Dispatcher) Dispatch(ctx context.Context, cycleID string, plan domain.ProgressiveActionPlan) DispatchResult {
	result := DispatchResult{
		WorkerID:  plan.WorkerID,
		ProjectID: plan.ProjectID,
		Zone:      plan.Zone,
		Outcomes:  []ActionOutcome{},
	}
	if len(plan.Actions) == 0 {
		return result
	}

	byKind := make(map[domain.ActionKind]taskResult, len(plan.Actions))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, group := range actionGroups {
		if !plan.Has(group.kinds...) {
			continue
		}
		group := group
		wg.Add(1)
		go func() {
			defer wg.Done()

			start := time.Now()
			res := d.runTask(ctx, group.name, plan)
			elapsed := time.Since(start)

			mu.Lock()
			for _, k := range group.kinds {
				if plan.Has(k) {
					byKind[k] = res
				}
			}
			mu.Unlock()

			for _, k := range group.kinds {
				if plan.Has(k) {
					d.record(cycleID, plan, k, res, elapsed)
				}
			}
		}()
	}
	wg.Wait()

	for _, k := range plan.Actions {
		res := byKind[k]
		o := ActionOutcome{Action: k, Status: res.status, Detail: res.detail}
		if res.err != nil {
			o.Error = res.err.Error()
		}
		result.Outcomes = append(result.Outcomes, o)
	}
	return result
}

func (d *Dispatcher) runTask(ctx context.Context, name string, plan domain.ProgressiveActionPlan) (res taskResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("action task panicked",
				zap.String("task", name),
				zap.String("worker_id", plan.WorkerID),
				zap.Any("panic", r),
			)
			res = taskResult{status: ActionFailed, detail: DetailPanic, err: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch name {
	case "warning":
		return d.sendWarning(ctx, plan)
	case "manager":
		return d.notifyManagers(ctx, plan)
	case "pause":
		return d.pauseAssignments(ctx, plan)
	default:
		return d.autoRemove(ctx, plan)
	}
}

func (d *Dispatcher) sendWarning(ctx context.Context, plan domain.ProgressiveActionPlan) taskResult {
	subject := fmt.Sprintf("Quality warning for %s", plan.DisplayProject())
	warning := domain.QualityWarning{
		ID:        uuid.New().String(),
		WorkerID:  plan.WorkerID,
		ProjectID: plan.ProjectID,
		Zone:      plan.Zone,
		Message:   subject,
		Actions:   plan.TrainingRecommendations,
		DueDate:   plan.WarningDueDate,
		CreatedAt: d.now(),
	}

	var openID string
	err := d.guard.Do(ctx, DepActionStore, func(ctx context.Context) error {
		id, err := d.store.OpenWarning(ctx, warning)
		openID = id
		if errors.Is(err, domain.ErrWarningOpen) {
			return Permanent(err)
		}
		return err
	})
	switch {
	case errors.Is(err, domain.ErrWarningOpen) && openID == warning.ID:
		// Вставка прошла в прошлой попытке, ответ потерялся: уведомление еще не отправлено
		d.logger.Info("warning committed by an earlier attempt", zap.String("warning_id", warning.ID))
	case errors.Is(err, domain.ErrWarningOpen):
		return taskResult{status: ActionSkipped, detail: DetailWarningAlreadyOpen}
	case err != nil:
		return taskResult{status: ActionFailed, detail: DetailWarningInsert, err: err}
	}

	msg := domain.Notification{
		RecipientIDs: []string{plan.WorkerID},
		Subject:      subject,
		Content:      warningContent(plan),
	}
	if err := d.guard.Do(ctx, DepNotifier, func(ctx context.Context) error {
		return d.notifier.Send(ctx, msg)
	}); err != nil {
		// Запись уже создана: следующий цикл увидит открытое предупреждение
		d.logger.Warn("warning stored but not delivered",
			zap.String("warning_id", warning.ID),
			zap.String("worker_id", plan.WorkerID),
			zap.Error(err),
		)
		return taskResult{status: ActionFailed, detail: DetailMessageSendFailed, err: err}
	}
	return taskResult{status: ActionExecuted, detail: DetailWarningSent}
}

func warningContent(plan domain.ProgressiveActionPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", plan.DisplayWorker())
	fmt.Fprintf(&b, "Your recent performance on %s is in the %s zone.\n", plan.DisplayProject(), strings.ToUpper(string(plan.Zone)))
	if len(plan.Reasons) > 0 {
		fmt.Fprintf(&b, "Reasons: %s.\n", joinReasons(plan.Reasons))
	}
	if len(plan.TrainingRecommendations) > 0 {
		b.WriteString("\nRecommended actions:\n")
		for i, a := range plan.TrainingRecommendations {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a)
		}
	}
	if plan.WarningDueDate != nil {
		fmt.Fprintf(&b, "\nPlease complete these actions by %s.\n", plan.WarningDueDate.Format("2006-01-02"))
	}
	return b.String()
}

func (d *Dispatcher) notifyManagers(ctx context.Context, plan domain.ProgressiveActionPlan) taskResult {
	message := fmt.Sprintf("%s entered %s zone on %s. Reasons: %s",
		plan.DisplayWorker(), plan.Zone, plan.DisplayProject(), joinReasons(plan.Reasons))

	alert := domain.QualityAlert{
		ID:        uuid.New().String(),
		WorkerID:  plan.WorkerID,
		ProjectID: plan.ProjectID,
		AlertType: domain.AlertTypeForZone(plan.Zone),
		Zone:      plan.Zone,
		Reasons:   plan.Reasons,
		Message:   message,
		CreatedAt: d.now(),
	}
	if err := d.guard.Do(ctx, DepActionStore, func(ctx context.Context) error {
		return d.store.CreateAlert(ctx, alert)
	}); err != nil {
		return taskResult{status: ActionFailed, detail: DetailAlertInsert, err: err}
	}

	msg := domain.Notification{
		RecipientRoles: []string{domain.RoleManager},
		Subject:        fmt.Sprintf("Performance %s zone", strings.ToUpper(string(plan.Zone))),
		Content:        message,
	}
	if err := d.guard.Do(ctx, DepNotifier, func(ctx context.Context) error {
		return d.notifier.Send(ctx, msg)
	}); err != nil {
		return taskResult{status: ActionFailed, detail: DetailManagerNotify, err: err}
	}
	return taskResult{status: ActionExecuted, detail: DetailManagerNotified}
}

func (d *Dispatcher) pauseAssignments(ctx context.Context, plan domain.ProgressiveActionPlan) taskResult {
	alert := domain.QualityAlert{
		ID:        uuid.New().String(),
		WorkerID:  plan.WorkerID,
		ProjectID: plan.ProjectID,
		AlertType: domain.AlertAssignmentPause,
		Zone:      plan.Zone,
		Reasons:   plan.Reasons,
		Message:   fmt.Sprintf("Assignment intake paused due to %s zone performance", plan.Zone),
		CreatedAt: d.now(),
	}
	if err := d.guard.Do(ctx, DepActionStore, func(ctx context.Context) error {
		return d.store.CreateAlert(ctx, alert)
	}); err != nil {
		return taskResult{status: ActionFailed, detail: DetailPauseInsert, err: err}
	}

	d.publish(ctx, plan, "pause", func(ctx context.Context) error {
		return d.signals.PublishPause(ctx, plan.Pair())
	})
	return taskResult{status: ActionExecuted, detail: DetailAssignmentsPaused}
}

func (d *Dispatcher) autoRemove(ctx context.Context, plan domain.ProgressiveActionPlan) taskResult {
	reason := domain.RemovalReasonRedZone
	if plan.RemovalReason != nil {
		reason = *plan.RemovalReason
	}
	record := domain.RemovalRecord{
		ID:              uuid.New().String(),
		WorkerID:        plan.WorkerID,
		ProjectID:       plan.ProjectID,
		RemovalReason:   reason,
		MetricsSnapshot: plan.MetricsSnapshot,
		RemovedAt:       d.now(),
		CanAppeal:       true,
		AppealStatus:    domain.AppealPending,
	}

	var pendingID string
	err := d.guard.Do(ctx, DepActionStore, func(ctx context.Context) error {
		id, err := d.store.CreateRemoval(ctx, record)
		pendingID = id
		if errors.Is(err, domain.ErrRemovalExists) {
			return Permanent(err)
		}
		return err
	})
	switch {
	case errors.Is(err, domain.ErrRemovalExists) && pendingID == record.ID:
		d.logger.Info("removal committed by an earlier attempt", zap.String("removal_id", record.ID))
	case errors.Is(err, domain.ErrRemovalExists):
		return taskResult{status: ActionSkipped, detail: DetailRemovalAlreadyOpen}
	case err != nil:
		return taskResult{status: ActionFailed, detail: DetailRemovalInsert, err: err}
	}

	d.publish(ctx, plan, "removal", func(ctx context.Context) error {
		return d.signals.PublishRemoval(ctx, plan.Pair(), record.ID)
	})
	return taskResult{status: ActionExecuted, detail: DetailRemovalRecorded}
}

// publish — сигналы best effort: ошибка логируется, но исход действия не меняет.
func (d *Dispatcher) publish(ctx context.Context, plan domain.ProgressiveActionPlan, kind string, fn func(ctx context.Context) error) {
	if d.signals == nil {
		return
	}
	if err := d.guard.Do(ctx, DepSignalBus, fn); err != nil {
		d.metrics.ErrorTotal.WithLabelValues("signal").Inc()
		d.logger.Warn("failed to publish signal",
			zap.String("signal", kind),
			zap.String("worker_id", plan.WorkerID),
			zap.String("project_id", plan.ProjectID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) record(cycleID string, plan domain.ProgressiveActionPlan, kind domain.ActionKind, res taskResult, elapsed time.Duration) {
	d.metrics.ActionsTotal.WithLabelValues(string(kind), string(res.status)).Inc()

	if res.status == ActionFailed {
		d.logger.Error("action failed",
			zap.String("cycle_id", cycleID),
			zap.String("worker_id", plan.WorkerID),
			zap.String("project_id", plan.ProjectID),
			zap.String("action", string(kind)),
			zap.String("detail", res.detail),
			zap.Error(res.err),
		)
	}

	if d.journal == nil {
		return
	}
	event := audit.EnforcementEvent{
		ID:        uuid.New().String(),
		CycleID:   cycleID,
		WorkerID:  plan.WorkerID,
		ProjectID: plan.ProjectID,
		Zone:      string(plan.Zone),
		Action:    string(kind),
		Outcome:   string(res.status),
		Detail:    res.detail,
		Payload: map[string]interface{}{
			"reasons":          reasonStrings(plan.Reasons),
			"consecutive_days": plan.ConsecutiveDays,
		},
		Timestamp:  d.now(),
		DurationMs: elapsed.Milliseconds(),
	}
	if res.err != nil {
		event.Error = res.err.Error()
	}
	d.journal.Record(event)
}

func joinReasons(reasons []domain.ViolationReason) string {
	if len(reasons) == 0 {
		return "none"
	}
	return strings.Join(reasonStrings(reasons), ", ")
}

func reasonStrings(reasons []domain.ViolationReason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, string(r))
	}
	return out
}
