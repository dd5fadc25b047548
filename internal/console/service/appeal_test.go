package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"
	"github.com/xela07ax/perfwatch/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// memoryRemovals повторяет условные переходы репозитория PostgreSQL.
type memoryRemovals struct {
	mu      sync.Mutex
	records map[string]*domain.RemovalRecord
	err     error
}

func newMemoryRemovals(records ...domain.RemovalRecord) *memoryRemovals {
	m := &memoryRemovals{records: make(map[string]*domain.RemovalRecord)}
	for i := range records {
		r := records[i]
		m.records[r.ID] = &r
	}
	return m
}

func (m *memoryRemovals) GetRemoval(ctx context.Context, id string) (*domain.RemovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrRemovalNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memoryRemovals) list(keep func(r *domain.RemovalRecord) bool, less func(a, b *domain.RemovalRecord) bool) ([]domain.RemovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var ptrs []*domain.RemovalRecord
	for _, r := range m.records {
		if keep(r) {
			ptrs = append(ptrs, r)
		}
	}
	sort.Slice(ptrs, func(i, j int) bool { return less(ptrs[i], ptrs[j]) })
	out := make([]domain.RemovalRecord, 0, len(ptrs))
	for _, r := range ptrs {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memoryRemovals) ListRemovalsByWorker(ctx context.Context, workerID string) ([]domain.RemovalRecord, error) {
	return m.list(
		func(r *domain.RemovalRecord) bool { return r.WorkerID == workerID },
		func(a, b *domain.RemovalRecord) bool { return a.RemovedAt.After(b.RemovedAt) },
	)
}

func (m *memoryRemovals) ListAppealsForReview(ctx context.Context) ([]domain.RemovalRecord, error) {
	return m.list(
		func(r *domain.RemovalRecord) bool { return r.AppealStatus == domain.AppealPending && r.AppealMessage != nil },
		func(a, b *domain.RemovalRecord) bool { return a.AppealSubmittedAt.Before(*b.AppealSubmittedAt) },
	)
}

func (m *memoryRemovals) ListRemovalsSince(ctx context.Context, since time.Time) ([]domain.RemovalRecord, error) {
	return m.list(
		func(r *domain.RemovalRecord) bool { return !r.RemovedAt.Before(since) },
		func(a, b *domain.RemovalRecord) bool { return a.RemovedAt.Before(b.RemovedAt) },
	)
}

func (m *memoryRemovals) SubmitAppeal(ctx context.Context, id, workerID, message string, at time.Time) (*domain.RemovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrRemovalNotFound
	}
	if err := r.CanSubmitAppeal(workerID); err != nil {
		return nil, err
	}
	r.AppealMessage = &message
	r.AppealSubmittedAt = &at
	cp := *r
	return &cp, nil
}

func (m *memoryRemovals) DecideAppeal(ctx context.Context, id, reviewerID string, decision domain.AppealStatus, notes *string, at time.Time) (*domain.RemovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrRemovalNotFound
	}
	if err := r.CanDecide(decision); err != nil {
		return nil, err
	}
	r.AppealStatus = decision
	r.AppealReviewedBy = &reviewerID
	r.AppealDecisionAt = &at
	r.AppealDecisionNotes = notes
	cp := *r
	return &cp, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

type recordingDecisions struct {
	published []domain.RemovalRecord
}

func (p *recordingDecisions) PublishAppealDecision(ctx context.Context, record domain.RemovalRecord) error {
	p.published = append(p.published, record)
	return nil
}

type appealFixture struct {
	store     *memoryRemovals
	notifier  *recordingNotifier
	decisions *recordingDecisions
	svc       *AppealService
}

func newAppealFixture(records ...domain.RemovalRecord) *appealFixture {
	f := &appealFixture{
		store:     newMemoryRemovals(records...),
		notifier:  &recordingNotifier{},
		decisions: &recordingDecisions{},
	}
	f.svc = NewAppealService(f.store, f.notifier, f.decisions, nil, zap.NewNop()).
		WithClock(func() time.Time { return testNow })
	return f
}

func removal(id, worker string, removedAt time.Time) domain.RemovalRecord {
	return domain.RemovalRecord{
		ID:            id,
		WorkerID:      worker,
		ProjectID:     "p1",
		RemovalReason: domain.RemovalReasonRedZone,
		RemovedAt:     removedAt,
		CanAppeal:     true,
		AppealStatus:  domain.AppealPending,
	}
}

func TestSubmitAppealValidation(t *testing.T) {
	locked := removal("r2", "w1", testNow)
	locked.CanAppeal = false

	f := newAppealFixture(removal("r1", "w1", testNow), locked)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		worker  string
		message string
		reason  string
	}{
		{"missing worker", "r1", "  ", "please", domain.AppealReasonMissingWorker},
		{"blank message", "r1", "w1", "   ", domain.AppealReasonMessageRequired},
		{"unknown removal", "nope", "w1", "please", domain.AppealReasonNotFound},
		{"foreign removal", "r1", "w2", "please", domain.AppealReasonNotFound},
		{"not appealable", "r2", "w1", "please", domain.AppealReasonNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.svc.SubmitAppeal(ctx, tt.id, tt.worker, tt.message)
			assert.False(t, res.Success)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
	assert.Empty(t, f.notifier.sent)
}

func TestSubmitAppealNotifiesManagers(t *testing.T) {
	f := newAppealFixture(removal("r1", "w1", testNow.Add(-time.Hour)))
	ctx := context.Background()

	res := f.svc.SubmitAppeal(ctx, "r1", "w1", "  I was on sick leave  ")
	require.True(t, res.Success)

	got, err := f.store.GetRemoval(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.AppealMessage)
	assert.Equal(t, "I was on sick leave", *got.AppealMessage)
	assert.Equal(t, testNow, *got.AppealSubmittedAt)
	assert.Equal(t, domain.AppealPending, got.AppealStatus)

	require.Len(t, f.notifier.sent, 1)
	n := f.notifier.sent[0]
	assert.Equal(t, []string{domain.RoleManager}, n.RecipientRoles)
	assert.Equal(t, "Appeal submitted for removal r1", n.Subject)
	assert.Contains(t, n.Content, "Appeal message: I was on sick leave")
}

func TestSubmitAppealReplacesPendingMessage(t *testing.T) {
	f := newAppealFixture(removal("r1", "w1", testNow))
	ctx := context.Background()

	require.True(t, f.svc.SubmitAppeal(ctx, "r1", "w1", "first").Success)
	require.True(t, f.svc.SubmitAppeal(ctx, "r1", "w1", "second").Success)

	got, _ := f.store.GetRemoval(ctx, "r1")
	assert.Equal(t, "second", *got.AppealMessage)
}

func TestSubmitAppealSurvivesNotifierFailure(t *testing.T) {
	f := newAppealFixture(removal("r1", "w1", testNow))
	f.notifier.err = errors.New("gateway down")

	res := f.svc.SubmitAppeal(context.Background(), "r1", "w1", "please")
	assert.True(t, res.Success)
}

func TestSubmitAppealStoreError(t *testing.T) {
	f := newAppealFixture(removal("r1", "w1", testNow))
	f.store.err = errors.New("connection reset")

	res := f.svc.SubmitAppeal(context.Background(), "r1", "w1", "please")
	assert.Equal(t, domain.AppealFail(domain.AppealReasonError), res)
}

func TestReviewAppealDecisionStateMachine(t *testing.T) {
	f := newAppealFixture(removal("r1", "w1", testNow))
	ctx := context.Background()

	// Без текста апелляции решать нечего
	res := f.svc.ReviewAppealDecision(ctx, "r1", "m1", domain.AppealApproved, nil)
	assert.Equal(t, domain.AppealReasonNoAppeal, res.Reason)

	require.True(t, f.svc.SubmitAppeal(ctx, "r1", "w1", "please").Success)

	assert.Equal(t, domain.AppealReasonMissingReviewer,
		f.svc.ReviewAppealDecision(ctx, "r1", " ", domain.AppealApproved, nil).Reason)
	assert.Equal(t, domain.AppealReasonInvalidDecision,
		f.svc.ReviewAppealDecision(ctx, "r1", "m1", domain.AppealPending, nil).Reason)
	assert.Equal(t, domain.AppealReasonNotFound,
		f.svc.ReviewAppealDecision(ctx, "nope", "m1", domain.AppealApproved, nil).Reason)

	notes := "  verified with HR  "
	res = f.svc.ReviewAppealDecision(ctx, "r1", "m1", domain.AppealApproved, &notes)
	require.True(t, res.Success)

	got, _ := f.store.GetRemoval(ctx, "r1")
	assert.Equal(t, domain.AppealApproved, got.AppealStatus)
	assert.Equal(t, "m1", *got.AppealReviewedBy)
	assert.Equal(t, testNow, *got.AppealDecisionAt)
	assert.Equal(t, "verified with HR", *got.AppealDecisionNotes)

	// Второе решение не перезаписывает первое
	res = f.svc.ReviewAppealDecision(ctx, "r1", "m2", domain.AppealDenied, nil)
	assert.Equal(t, domain.AppealFail(domain.AppealReasonAlreadyDecided), res)
	got, _ = f.store.GetRemoval(ctx, "r1")
	assert.Equal(t, domain.AppealApproved, got.AppealStatus)
	assert.Equal(t, "m1", *got.AppealReviewedBy)

	// И апелляцию после решения подать нельзя
	assert.Equal(t, domain.AppealReasonAlreadyDecided, f.svc.SubmitAppeal(ctx, "r1", "w1", "again").Reason)

	require.Len(t, f.decisions.published, 1)
	assert.Equal(t, domain.AppealApproved, f.decisions.published[0].AppealStatus)
}

func TestReviewAppealDecisionNotifiesWorker(t *testing.T) {
	f := newAppealFixture(removal("r1", "w1", testNow))
	ctx := context.Background()
	require.True(t, f.svc.SubmitAppeal(ctx, "r1", "w1", "please").Success)

	require.True(t, f.svc.ReviewAppealDecision(ctx, "r1", "m1", domain.AppealDenied, nil).Success)

	require.Len(t, f.notifier.sent, 2)
	n := f.notifier.sent[1]
	assert.Equal(t, []string{"w1"}, n.RecipientIDs)
	assert.Equal(t, "Appeal decision for project p1", n.Subject)
	assert.Contains(t, n.Content, "was denied")
	assert.NotContains(t, n.Content, "Notes:")
}

func TestFetchAppealableRemovalsLatestFirst(t *testing.T) {
	f := newAppealFixture(
		removal("old", "w1", testNow.Add(-48*time.Hour)),
		removal("new", "w1", testNow),
		removal("other", "w2", testNow),
	)

	list, err := f.svc.FetchAppealableRemovals(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)

	list, err = f.svc.FetchAppealableRemovals(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFetchAppealsForReviewOldestFirst(t *testing.T) {
	f := newAppealFixture(removal("a", "w1", testNow), removal("b", "w2", testNow), removal("c", "w3", testNow))
	ctx := context.Background()

	f.svc.WithClock(func() time.Time { return testNow.Add(2 * time.Hour) })
	require.True(t, f.svc.SubmitAppeal(ctx, "a", "w1", "late").Success)
	f.svc.WithClock(func() time.Time { return testNow.Add(time.Hour) })
	require.True(t, f.svc.SubmitAppeal(ctx, "b", "w2", "early").Success)

	list, err := f.svc.FetchAppealsForReview(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)
}

func TestComputeRemovalMetrics(t *testing.T) {
	msg := "please"
	// 2026-03-02 — понедельник
	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	appealedApproved := removal("r1", "w1", monday)
	appealedApproved.AppealMessage = &msg
	appealedApproved.AppealStatus = domain.AppealApproved

	appealedPending := removal("r2", "w2", monday.AddDate(0, 0, 6)) // воскресенье той же недели
	appealedPending.AppealMessage = &msg

	plain := removal("r3", "w3", monday.AddDate(0, 0, -1)) // воскресенье прошлой недели

	m := ComputeRemovalMetrics([]domain.RemovalRecord{appealedApproved, appealedPending, plain})

	assert.Equal(t, 3, m.TotalRemovals)
	assert.Equal(t, 0.1, m.RemovalRate) // 3 / 30
	assert.Equal(t, 0.67, m.AppealRate)
	assert.Equal(t, 0.5, m.ReinstatementRate)
	assert.Equal(t, []domain.TrendPoint{
		{Week: "2026-02-23", Removals: 1},
		{Week: "2026-03-02", Removals: 2},
	}, m.Trend)
}

func TestComputeRemovalMetricsEmpty(t *testing.T) {
	m := ComputeRemovalMetrics(nil)
	assert.Equal(t, domain.RemovalMetrics{Trend: []domain.TrendPoint{}}, m)
}

func TestRemovalMetricsWindow(t *testing.T) {
	f := newAppealFixture(
		removal("in", "w1", testNow.Add(-24*time.Hour)),
		removal("out", "w2", testNow.AddDate(0, 0, -31)),
	)

	m, err := f.svc.RemovalMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.TotalRemovals)
}

var errConnReset = errors.New("connection reset by peer")

// flakyRemovals — хранилище с сетевыми сбоями: первые failures вызовов каждой
// операции падают до записи. С loseReply первая запись решения коммитится,
// но вызывающий получает ошибку.
type flakyRemovals struct {
	*memoryRemovals
	failures  int
	loseReply bool
	calls     map[string]int
}

func newFlakyRemovals(failures int, records ...domain.RemovalRecord) *flakyRemovals {
	return &flakyRemovals{memoryRemovals: newMemoryRemovals(records...), failures: failures, calls: make(map[string]int)}
}

func (f *flakyRemovals) attempt(op string) bool {
	f.calls[op]++
	return f.calls[op] <= f.failures
}

func (f *flakyRemovals) ListRemovalsByWorker(ctx context.Context, workerID string) ([]domain.RemovalRecord, error) {
	if f.attempt("list_worker") {
		return nil, errConnReset
	}
	return f.memoryRemovals.ListRemovalsByWorker(ctx, workerID)
}

func (f *flakyRemovals) SubmitAppeal(ctx context.Context, id, workerID, message string, at time.Time) (*domain.RemovalRecord, error) {
	if f.attempt("submit") {
		return nil, errConnReset
	}
	return f.memoryRemovals.SubmitAppeal(ctx, id, workerID, message, at)
}

func (f *flakyRemovals) DecideAppeal(ctx context.Context, id, reviewerID string, decision domain.AppealStatus, notes *string, at time.Time) (*domain.RemovalRecord, error) {
	if f.attempt("decide") {
		return nil, errConnReset
	}
	r, err := f.memoryRemovals.DecideAppeal(ctx, id, reviewerID, decision, notes, at)
	if f.loseReply && f.calls["decide"] == 1 {
		return nil, errConnReset
	}
	return r, err
}

func guardedAppealFixture(store *flakyRemovals) *appealFixture {
	guard := engine.NewGuard(engine.GuardSettings{
		Attempts:           3,
		CallTimeout:        time.Second,
		CallsPerSecond:     10000,
		Burst:              1000,
		CBFailureThreshold: 1000,
	}, nil, zap.NewNop())

	f := &appealFixture{
		store:     store.memoryRemovals,
		notifier:  &recordingNotifier{},
		decisions: &recordingDecisions{},
	}
	f.svc = NewAppealService(store, f.notifier, f.decisions, guard, zap.NewNop()).
		WithClock(func() time.Time { return testNow })
	return f
}

func TestAppealStoreCallsRetryTransientFailures(t *testing.T) {
	store := newFlakyRemovals(1, removal("r1", "w1", testNow))
	f := guardedAppealFixture(store)
	ctx := context.Background()

	records, err := f.svc.FetchAppealableRemovals(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, store.calls["list_worker"])

	res := f.svc.SubmitAppeal(ctx, "r1", "w1", "please")
	assert.Equal(t, domain.AppealOK(), res)
	assert.Equal(t, 2, store.calls["submit"])

	res = f.svc.ReviewAppealDecision(ctx, "r1", "m1", domain.AppealApproved, nil)
	assert.Equal(t, domain.AppealOK(), res)
	assert.Equal(t, 2, store.calls["decide"])
	assert.Len(t, f.notifier.sent, 2)
}

func TestAppealRejectionsAreNotRetried(t *testing.T) {
	decided := removal("r1", "w1", testNow)
	msg := "please"
	decided.AppealMessage = &msg
	decided.AppealStatus = domain.AppealDenied

	store := newFlakyRemovals(0, decided, removal("r2", "w1", testNow))
	f := guardedAppealFixture(store)
	ctx := context.Background()

	assert.Equal(t, domain.AppealReasonAlreadyDecided,
		f.svc.ReviewAppealDecision(ctx, "r1", "m1", domain.AppealApproved, nil).Reason)
	assert.Equal(t, domain.AppealReasonNoAppeal,
		f.svc.ReviewAppealDecision(ctx, "r2", "m1", domain.AppealApproved, nil).Reason)
	assert.Equal(t, 2, store.calls["decide"], "one call per rejected decision")

	assert.Equal(t, domain.AppealReasonNotFound, f.svc.SubmitAppeal(ctx, "nope", "w1", "hi").Reason)
	assert.Equal(t, 1, store.calls["submit"])
}

func TestAppealStoreOutageReportsError(t *testing.T) {
	store := newFlakyRemovals(10, removal("r1", "w1", testNow))
	f := guardedAppealFixture(store)

	res := f.svc.SubmitAppeal(context.Background(), "r1", "w1", "please")
	assert.Equal(t, domain.AppealFail(domain.AppealReasonError), res)
	assert.Equal(t, 3, store.calls["submit"], "bounded by the retry budget")
	assert.Empty(t, f.notifier.sent)
}

func TestReviewAppealDecisionRecognisesLostReply(t *testing.T) {
	store := newFlakyRemovals(0, removal("r1", "w1", testNow))
	store.loseReply = true
	f := guardedAppealFixture(store)
	ctx := context.Background()
	require.True(t, f.svc.SubmitAppeal(ctx, "r1", "w1", "please").Success)

	res := f.svc.ReviewAppealDecision(ctx, "r1", "m1", domain.AppealApproved, nil)
	assert.Equal(t, domain.AppealOK(), res)
	assert.Equal(t, 2, store.calls["decide"])

	// Решение записано один раз, работник уведомлен
	require.Len(t, f.decisions.published, 1)
	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, "Appeal approved for project p1", f.notifier.sent[1].Subject)

	// Чужое решение после этого по-прежнему отклоняется
	assert.Equal(t, domain.AppealReasonAlreadyDecided,
		f.svc.ReviewAppealDecision(ctx, "r1", "m2", domain.AppealDenied, nil).Reason)
}
