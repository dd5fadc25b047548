package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"
	"github.com/xela07ax/perfwatch/internal/infra"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrRunnerDraining — процесс останавливается, новые циклы не принимаются.
var ErrRunnerDraining = errors.New("cycle runner is shutting down")

// MetricSource — чтение наблюдений и порогов.
type MetricSource interface {
	ListPairs(ctx context.Context, since time.Time, filter domain.CycleFilter) ([]domain.PairKey, error)
	LoadObservations(ctx context.Context, pair domain.PairKey, since time.Time) ([]domain.MetricObservation, error)
	ThresholdLoader
}

// Directory — имена работников и проектов для текстов уведомлений.
type Directory interface {
	Names(ctx context.Context, pair domain.PairKey) (workerName, projectName string, err error)
}

// ReviewSink сохраняет performance_reviews по не-зеленым парам.
type ReviewSink interface {
	SaveReviews(ctx context.Context, reviews []domain.PerformanceReview) error
}

type CycleSettings struct {
	LookbackDays int
	Concurrency  int
	LockTTL      time.Duration
}

func (s CycleSettings) withDefaults() CycleSettings {
	if s.LookbackDays <= 0 {
		s.LookbackDays = 30
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 8
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 30 * time.Minute
	}
	return s
}

// CycleRunner — один проход оценки: агрегация, пороги, зоны, планы, исполнение.
type CycleRunner struct {
	source     MetricSource
	directory  Directory
	reviews    ReviewSink
	locker     Locker
	classifier *Classifier
	dispatcher *Dispatcher
	guard      *Guard
	metrics    *Metrics
	logger     *zap.Logger
	settings   CycleSettings
	now        func() time.Time

	// Циклы, идущие прямо сейчас; после Drain новые не стартуют
	mu       sync.Mutex
	draining bool
	active   sync.WaitGroup
}

func NewCycleRunner(source MetricSource, classifier *Classifier, dispatcher *Dispatcher, guard *Guard, settings CycleSettings, metrics *Metrics, logger *zap.Logger) *CycleRunner {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &CycleRunner{
		source:     source,
		classifier: classifier,
		dispatcher: dispatcher,
		guard:      guard,
		metrics:    metrics,
		logger:     logger.Named("cycle"),
		settings:   settings.withDefaults(),
		now:        time.Now,
	}
}

func (c *CycleRunner) WithDirectory(d Directory) *CycleRunner {
	c.directory = d
	return c
}

func (c *CycleRunner) WithReviewSink(s ReviewSink) *CycleRunner {
	c.reviews = s
	return c
}

func (c *CycleRunner) WithLocker(l Locker) *CycleRunner {
	c.locker = l
	return c
}

// WithClock подменяет часы цикла (планы и сроки считаются от него).
func (c *CycleRunner) WithClock(now func() time.Time) *CycleRunner {
	c.now = now
	c.dispatcher.now = now
	return c
}

// Drain запрещает новые циклы и ждет завершения начатых, включая исполнение
// планов на отвязанном контексте. Вызывается перед остановкой журнала.
func (c *CycleRunner) Drain(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CycleRunner) enter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		return false
	}
	c.active.Add(1)
	return true
}

// RunEvaluationCycle выполняет цикл. Ошибку возвращают только занятый лок,
// остановка раннера и отказ получения списка пар, остальные сбои отражаются в сводке.
func (c *CycleRunner) RunEvaluationCycle(ctx context.Context, filter domain.CycleFilter) (domain.CycleSummary, error) {
	startedAt := c.now()
	summary := domain.CycleSummary{
		CycleID:   uuid.New().String(),
		StartedAt: startedAt,
	}
	if !c.enter() {
		return summary, ErrRunnerDraining
	}
	defer c.active.Done()
	log := c.logger.With(zap.String("cycle_id", summary.CycleID))

	if c.locker != nil {
		release, ok, err := c.locker.TryLock(ctx, infra.RedisKeyCycleLock, summary.CycleID, c.settings.LockTTL)
		if err != nil {
			return summary, fmt.Errorf("cycle lock: %w", err)
		}
		if !ok {
			return summary, ErrCycleInProgress
		}
		defer release()
	}

	timer := time.Now()
	defer func() {
		c.metrics.CycleDuration.Observe(time.Since(timer).Seconds())
	}()

	since := startedAt.AddDate(0, 0, -c.settings.LookbackDays)

	var pairs []domain.PairKey
	err := c.guard.Do(ctx, DepMetricStore, func(ctx context.Context) error {
		var err error
		pairs, err = c.source.ListPairs(ctx, since, filter)
		return err
	})
	if err != nil {
		c.metrics.ErrorTotal.WithLabelValues("list_pairs").Inc()
		summary.FinishedAt = c.now()
		return summary, fmt.Errorf("list pairs: %w", err)
	}
	log.Info("evaluation cycle started",
		zap.Int("pairs", len(pairs)),
		zap.String("project_id", filter.ProjectID),
		zap.String("worker_id", filter.WorkerID),
	)

	snapshots := c.evaluateAll(ctx, pairs, since, startedAt, &summary)

	var escalated []domain.PerformanceSnapshot
	for _, s := range snapshots {
		if s == nil {
			continue
		}
		summary.Processed++
		summary.ZoneBreakdown.Add(s.Zone)
		c.metrics.PairsEvaluated.WithLabelValues(string(s.Zone)).Inc()
		if s.Zone != domain.ZoneGreen {
			escalated = append(escalated, *s)
		}
	}
	summary.Escalated = len(escalated)
	for _, z := range domain.Zones {
		c.metrics.ZonePairs.WithLabelValues(string(z)).Set(float64(summary.ZoneBreakdown.Count(z)))
	}

	summary.Actions = c.dispatchAll(ctx, summary.CycleID, escalated, startedAt)
	c.persistReviews(ctx, summary.CycleID, escalated, since, startedAt)

	summary.FinishedAt = c.now()
	log.Info("evaluation cycle finished",
		zap.Int("processed", summary.Processed),
		zap.Int("escalated", summary.Escalated),
		zap.Int("failed", summary.Failed),
		zap.Int("actions_executed", summary.Actions.Executed),
		zap.Int("actions_skipped", summary.Actions.Skipped),
		zap.Int("actions_failed", summary.Actions.Failed),
	)
	return summary, nil
}

// evaluateAll — ограниченный fan-out оценки пар. Порядок результатов совпадает с pairs,
// nil — пара не оценена (ошибка или отмена до старта).
func (c *CycleRunner) evaluateAll(ctx context.Context, pairs []domain.PairKey, since, evaluatedAt time.Time, summary *domain.CycleSummary) []*domain.PerformanceSnapshot {
	snapshots := make([]*domain.PerformanceSnapshot, len(pairs))
	thresholds := newThresholdCache(guardedThresholds{source: c.source, guard: c.guard})
	var failed int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.settings.Concurrency)

	for i, pair := range pairs {
		if gctx.Err() != nil {
			break
		}
		i, pair := i, pair
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			snap, err := c.evaluatePair(gctx, pair, since, evaluatedAt, thresholds)
			if err != nil {
				if gctx.Err() != nil {
					return nil // Отмена, а не отказ пары
				}
				atomic.AddInt64(&failed, 1)
				c.metrics.ErrorTotal.WithLabelValues("evaluate").Inc()
				c.logger.Error("pair evaluation failed",
					zap.String("worker_id", pair.WorkerID),
					zap.String("project_id", pair.ProjectID),
					zap.Error(err),
				)
				return nil
			}
			snapshots[i] = &snap
			return nil
		})
	}
	_ = g.Wait()

	summary.Failed = int(atomic.LoadInt64(&failed))
	return snapshots
}

// evaluatePair строит свежий снапшот пары.
func (c *CycleRunner) evaluatePair(ctx context.Context, pair domain.PairKey, since, evaluatedAt time.Time, thresholds *thresholdCache) (domain.PerformanceSnapshot, error) {
	var observations []domain.MetricObservation
	err := c.guard.Do(ctx, DepMetricStore, func(ctx context.Context) error {
		var err error
		observations, err = c.source.LoadObservations(ctx, pair, since)
		return err
	})
	if err != nil {
		return domain.PerformanceSnapshot{}, fmt.Errorf("load observations: %w", err)
	}

	th, err := thresholds.Get(ctx, pair.ProjectID)
	if err != nil {
		return domain.PerformanceSnapshot{}, fmt.Errorf("load thresholds: %w", err)
	}

	metrics := Summarize(observations)
	ev := Evaluate(metrics, observations, th)

	snap := domain.PerformanceSnapshot{
		WorkerID:                 pair.WorkerID,
		ProjectID:                pair.ProjectID,
		Metrics:                  metrics,
		Zone:                     c.classifier.Classify(metrics, th, ev.ConsecutiveViolationDays),
		ConsecutiveViolationDays: ev.ConsecutiveViolationDays,
		Reasons:                  ev.Reasons,
		MeasuredAt:               LatestMeasurement(metrics),
		EvaluatedAt:              evaluatedAt,
	}

	// Имена нужны только для текстов, поэтому ошибка справочника не фатальна
	if c.directory != nil && snap.Zone != domain.ZoneGreen {
		worker, project, err := c.directory.Names(ctx, pair)
		if err != nil {
			c.logger.Warn("directory lookup failed", zap.String("pair", pair.String()), zap.Error(err))
		} else {
			snap.WorkerName, snap.ProjectName = worker, project
		}
	}
	return snap, nil
}

// dispatchAll исполняет планы не-зеленых пар. Начатое исполнение доводится до конца
// на контексте без отмены, новые пары после отмены ctx не стартуют.
func (c *CycleRunner) dispatchAll(ctx context.Context, cycleID string, escalated []domain.PerformanceSnapshot, now time.Time) domain.ActionTally {
	results := make([]DispatchResult, len(escalated))
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.settings.Concurrency)
	for i, snap := range escalated {
		if ctx.Err() != nil {
			c.logger.Warn("cycle cancelled: remaining dispatches skipped", zap.Int("remaining", len(escalated)-i))
			break
		}
		i, snap := i, snap
		g.Go(func() error {
			plan := BuildPlan(snap, now)
			results[i] = c.dispatcher.Dispatch(detached, cycleID, plan)
			return nil
		})
	}
	_ = g.Wait()

	var tally domain.ActionTally
	for _, r := range results {
		t := r.Tally()
		tally.Executed += t.Executed
		tally.Skipped += t.Skipped
		tally.Failed += t.Failed
	}
	return tally
}

func (c *CycleRunner) persistReviews(ctx context.Context, cycleID string, escalated []domain.PerformanceSnapshot, since, until time.Time) {
	if c.reviews == nil || len(escalated) == 0 {
		return
	}
	reviews := make([]domain.PerformanceReview, 0, len(escalated))
	for _, s := range escalated {
		reviews = append(reviews, domain.PerformanceReview{
			ID:                uuid.New().String(),
			CycleID:           cycleID,
			WorkerID:          s.WorkerID,
			ProjectID:         s.ProjectID,
			Zone:              s.Zone,
			ReviewPeriodStart: since,
			ReviewPeriodEnd:   until,
			Metrics:           s.Freeze(),
		})
	}
	err := c.guard.Do(context.WithoutCancel(ctx), DepActionStore, func(ctx context.Context) error {
		return c.reviews.SaveReviews(ctx, reviews)
	})
	if err != nil {
		c.metrics.ErrorTotal.WithLabelValues("review_persist").Inc()
		c.logger.Error("failed to persist performance reviews", zap.Int("reviews", len(reviews)), zap.Error(err))
	}
}

// guardedThresholds прогоняет чтение порогов через Guard.
type guardedThresholds struct {
	source ThresholdLoader
	guard  *Guard
}

func (g guardedThresholds) LoadThresholds(ctx context.Context, projectID string) (domain.ProjectThresholds, error) {
	var out domain.ProjectThresholds
	err := g.guard.Do(ctx, DepMetricStore, func(ctx context.Context) error {
		var err error
		out, err = g.source.LoadThresholds(ctx, projectID)
		return err
	})
	return out, err
}
