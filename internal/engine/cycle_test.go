package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type cycleFixture struct {
	source  *memorySource
	store   *memoryActionStore
	reviews *memoryReviews
	runner  *CycleRunner
}

func newCycleFixture(obs []domain.MetricObservation, thresholds map[string]domain.ProjectThresholds) *cycleFixture {
	f := &cycleFixture{
		source:  &memorySource{observations: obs, thresholds: thresholds},
		store:   newMemoryActionStore(),
		reviews: &memoryReviews{},
	}
	guard := testGuard()
	dispatcher := NewDispatcher(f.store, &recordingNotifier{}, &recordingSignals{}, &recordingJournal{}, guard, nil, zap.NewNop())
	classifier := NewClassifier(ClassifierSettings{WarningBufferPercent: 0.02, RedZoneDays: 14})
	f.runner = NewCycleRunner(f.source, classifier, dispatcher, guard, CycleSettings{LookbackDays: 30, Concurrency: 4}, nil, zap.NewNop()).
		WithReviewSink(f.reviews).
		WithDirectory(staticDirectory{"w-red:p1": {"Ada", "Search"}}).
		WithClock(func() time.Time { return testNow })
	return f
}

var projectThresholds = map[string]domain.ProjectThresholds{
	"p1": {
		domain.MetricAccuracy: {Min: domain.Float(0.9), GraceDays: 1},
		domain.MetricLatency:  {Max: domain.Float(120)},
	},
}

func TestCycleRedWorkerEndToEnd(t *testing.T) {
	// 16 дней подряд ниже порога, grace 1 -> 15 дней нарушения
	obs := daily("w-red", "p1", domain.MetricAccuracy, repeat(0.82, 16)...)
	obs = append(obs, daily("w-ok", "p1", domain.MetricAccuracy, repeat(0.97, 16)...)...)
	obs = append(obs, daily("w-near", "p1", domain.MetricLatency, 118)...)
	f := newCycleFixture(obs, projectThresholds)

	summary, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.CycleID)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Escalated)
	assert.Equal(t, domain.ZoneBreakdown{Green: 1, Yellow: 1, Red: 1}, summary.ZoneBreakdown)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Actions.Failed)
	assert.Equal(t, 6+3, summary.Actions.Executed)
	assert.Equal(t, testNow, summary.StartedAt)

	removal, ok := f.store.removals["w-red:p1"]
	require.True(t, ok)
	assert.Equal(t, 15, removal.MetricsSnapshot.ConsecutiveDaysBelow)
	assert.Equal(t, []domain.ViolationReason{domain.ReasonAccuracyBelow}, removal.MetricsSnapshot.Reasons)
	require.NotNil(t, removal.MetricsSnapshot.Accuracy7d)
	assert.InDelta(t, 0.82, *removal.MetricsSnapshot.Accuracy7d, 1e-9)

	assert.Len(t, f.reviews.reviews, 2)
	for _, r := range f.reviews.reviews {
		assert.Equal(t, summary.CycleID, r.CycleID)
		assert.Equal(t, testNow.AddDate(0, 0, -30), r.ReviewPeriodStart)
	}
}

func TestCycleSecondRunSkipsOpenRecords(t *testing.T) {
	obs := daily("w-red", "p1", domain.MetricAccuracy, repeat(0.5, 20)...)
	f := newCycleFixture(obs, projectThresholds)

	_, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	require.NoError(t, err)
	second, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	require.NoError(t, err)

	assert.Equal(t, 1, second.ZoneBreakdown.Red)
	// warning (2 действия) и auto_remove пропущены, менеджер и пауза исполняются снова
	assert.Equal(t, 3, second.Actions.Skipped)
	assert.Len(t, f.store.removals, 1)
}

func TestCycleThirteenDaysIsOrange(t *testing.T) {
	// 14 наблюдений, grace 1 -> 13 дней нарушения
	obs := daily("w", "p1", domain.MetricAccuracy, repeat(0.82, 14)...)
	f := newCycleFixture(obs, projectThresholds)

	summary, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ZoneBreakdown.Orange)
	assert.Empty(t, f.store.removals)
}

func TestCycleFilter(t *testing.T) {
	obs := daily("w1", "p1", domain.MetricAccuracy, 0.5)
	obs = append(obs, daily("w2", "p1", domain.MetricAccuracy, 0.5)...)
	f := newCycleFixture(obs, projectThresholds)

	summary, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{WorkerID: "w2"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
}

func TestCycleProjectWithoutThresholdsIsGreen(t *testing.T) {
	obs := daily("w", "p-unknown", domain.MetricAccuracy, repeat(0.1, 20)...)
	f := newCycleFixture(obs, projectThresholds)

	summary, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	require.NoError(t, err)
	assert.Equal(t, domain.ZoneBreakdown{Green: 1}, summary.ZoneBreakdown)
	assert.Zero(t, summary.Escalated)
	assert.Empty(t, f.reviews.reviews)
}

func TestCycleLoadsThresholdsOncePerProject(t *testing.T) {
	var obs []domain.MetricObservation
	for _, w := range []string{"w1", "w2", "w3", "w4", "w5"} {
		obs = append(obs, daily(w, "p1", domain.MetricAccuracy, 0.95)...)
	}
	f := newCycleFixture(obs, projectThresholds)

	_, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	require.NoError(t, err)
	assert.LessOrEqual(t, f.source.thresholdCalls, 5)
	assert.GreaterOrEqual(t, f.source.thresholdCalls, 1)
}

func TestCyclePairFailureIsCounted(t *testing.T) {
	obs := daily("w1", "p1", domain.MetricAccuracy, 0.95)
	obs = append(obs, daily("w2", "p1", domain.MetricAccuracy, 0.95)...)
	f := newCycleFixture(obs, projectThresholds)
	f.source.failPairs = map[string]error{"w2:p1": errors.New("timeout")}

	summary, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
}

func TestCycleListFailureReturnsError(t *testing.T) {
	f := newCycleFixture(nil, projectThresholds)
	f.source.listErr = errors.New("db down")

	_, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list pairs")
}

func TestCycleEmptyData(t *testing.T) {
	f := newCycleFixture(nil, projectThresholds)

	summary, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Equal(t, domain.ActionTally{}, summary.Actions)
}

func TestCycleLockHeld(t *testing.T) {
	f := newCycleFixture(nil, projectThresholds)
	f.runner.WithLocker(&stubLocker{held: true})

	_, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	assert.ErrorIs(t, err, ErrCycleInProgress)
}

func TestCycleReleasesLock(t *testing.T) {
	f := newCycleFixture(nil, projectThresholds)
	locker := &stubLocker{}
	f.runner.WithLocker(locker)

	_, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	require.NoError(t, err)
	assert.True(t, locker.released)
}

func TestCycleCancelledBeforeStart(t *testing.T) {
	obs := daily("w1", "p1", domain.MetricAccuracy, repeat(0.5, 20)...)
	f := newCycleFixture(obs, projectThresholds)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.runner.RunEvaluationCycle(ctx, domain.CycleFilter{})
	// Guard отказывает уже на получении списка пар
	require.Error(t, err)
	assert.Zero(t, summary.Processed)
	assert.Empty(t, f.store.removals)
}

// gateLocker держит цикл на захвате лока, пока тест не откроет ворота.
type gateLocker struct {
	entered chan struct{}
	open    chan struct{}
}

func (l *gateLocker) TryLock(_ context.Context, _, _ string, _ time.Duration) (func(), bool, error) {
	l.entered <- struct{}{}
	<-l.open
	return func() {}, true, nil
}

func TestCycleDrainWaitsForRunningCycle(t *testing.T) {
	obs := daily("w-red", "p1", domain.MetricAccuracy, repeat(0.5, 20)...)
	f := newCycleFixture(obs, projectThresholds)
	gate := &gateLocker{entered: make(chan struct{}, 1), open: make(chan struct{})}
	f.runner.WithLocker(gate)

	done := make(chan error, 1)
	go func() {
		_, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
		done <- err
	}()
	<-gate.entered

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.runner.Drain(short), context.DeadlineExceeded)

	_, err := f.runner.RunEvaluationCycle(context.Background(), domain.CycleFilter{})
	assert.ErrorIs(t, err, ErrRunnerDraining)

	close(gate.open)
	require.NoError(t, <-done)
	require.NoError(t, f.runner.Drain(context.Background()))

	_, ok := f.store.removals["w-red:p1"]
	assert.True(t, ok, "the running cycle finished its dispatch")
}
