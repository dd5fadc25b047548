package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xela07ax/perfwatch/internal/audit"
	"github.com/xela07ax/perfwatch/internal/domain"

	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testGuard() *Guard {
	return NewGuard(GuardSettings{
		Attempts:           1,
		CallTimeout:        time.Second,
		CallsPerSecond:     10000,
		Burst:              1000,
		CBFailureThreshold: 1000,
	}, nil, zap.NewNop())
}

// memoryActionStore повторяет уникальные индексы БД: одно открытое
// предупреждение и одна pending-запись снятия на пару.
type memoryActionStore struct {
	mu       sync.Mutex
	warnings map[string]domain.QualityWarning
	alerts   []domain.QualityAlert
	removals map[string]domain.RemovalRecord

	warningErr error
	alertErr   error
	removalErr error
	panicOn    string
}

func newMemoryActionStore() *memoryActionStore {
	return &memoryActionStore{
		warnings: make(map[string]domain.QualityWarning),
		removals: make(map[string]domain.RemovalRecord),
	}
}

func (s *memoryActionStore) OpenWarning(_ context.Context, w domain.QualityWarning) (string, error) {
	if s.panicOn == "warning" {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warningErr != nil {
		return "", s.warningErr
	}
	key := domain.PairKey{WorkerID: w.WorkerID, ProjectID: w.ProjectID}.String()
	if existing, ok := s.warnings[key]; ok {
		return existing.ID, domain.ErrWarningOpen
	}
	s.warnings[key] = w
	return w.ID, nil
}

func (s *memoryActionStore) CreateAlert(_ context.Context, a domain.QualityAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alertErr != nil {
		return s.alertErr
	}
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *memoryActionStore) CreateRemoval(_ context.Context, r domain.RemovalRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removalErr != nil {
		return "", s.removalErr
	}
	key := domain.PairKey{WorkerID: r.WorkerID, ProjectID: r.ProjectID}.String()
	if existing, ok := s.removals[key]; ok && existing.AppealStatus == domain.AppealPending {
		return existing.ID, domain.ErrRemovalExists
	}
	s.removals[key] = r
	return r.ID, nil
}

// lostReplyStore коммитит первую запись, но вызывающий получает сетевую ошибку.
type lostReplyStore struct {
	*memoryActionStore
	warningCalls int
	removalCalls int
}

var errReplyLost = errors.New("connection reset by peer")

func (s *lostReplyStore) OpenWarning(ctx context.Context, w domain.QualityWarning) (string, error) {
	s.warningCalls++
	id, err := s.memoryActionStore.OpenWarning(ctx, w)
	if s.warningCalls == 1 && err == nil {
		return "", errReplyLost
	}
	return id, err
}

func (s *lostReplyStore) CreateRemoval(ctx context.Context, r domain.RemovalRecord) (string, error) {
	s.removalCalls++
	id, err := s.memoryActionStore.CreateRemoval(ctx, r)
	if s.removalCalls == 1 && err == nil {
		return "", errReplyLost
	}
	return id, err
}

func (s *memoryActionStore) alertsOfType(t string) []domain.QualityAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.QualityAlert
	for _, a := range s.alerts {
		if a.AlertType == t {
			out = append(out, a)
		}
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingSignals struct {
	mu       sync.Mutex
	paused   []domain.PairKey
	removals []string
	err      error
}

func (s *recordingSignals) PublishPause(_ context.Context, pair domain.PairKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.paused = append(s.paused, pair)
	return nil
}

func (s *recordingSignals) PublishRemoval(_ context.Context, _ domain.PairKey, removalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.removals = append(s.removals, removalID)
	return nil
}

type recordingJournal struct {
	mu     sync.Mutex
	events []audit.EnforcementEvent
}

func (j *recordingJournal) Record(e audit.EnforcementEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *recordingJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// memorySource — наблюдения и пороги в памяти.
type memorySource struct {
	mu           sync.Mutex
	observations []domain.MetricObservation
	thresholds   map[string]domain.ProjectThresholds

	listErr        error
	failPairs      map[string]error
	thresholdCalls int
}

func (s *memorySource) ListPairs(_ context.Context, since time.Time, filter domain.CycleFilter) ([]domain.PairKey, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	seen := make(map[domain.PairKey]struct{})
	var out []domain.PairKey
	for _, o := range s.observations {
		if o.MeasuredAt.Before(since) {
			continue
		}
		if filter.ProjectID != "" && o.ProjectID != filter.ProjectID {
			continue
		}
		if filter.WorkerID != "" && o.WorkerID != filter.WorkerID {
			continue
		}
		if _, ok := seen[o.Pair()]; ok {
			continue
		}
		seen[o.Pair()] = struct{}{}
		out = append(out, o.Pair())
	}
	return out, nil
}

func (s *memorySource) LoadObservations(_ context.Context, pair domain.PairKey, since time.Time) ([]domain.MetricObservation, error) {
	if err, ok := s.failPairs[pair.String()]; ok {
		return nil, err
	}
	var out []domain.MetricObservation
	for _, o := range s.observations {
		if o.Pair() == pair && !o.MeasuredAt.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memorySource) LoadThresholds(_ context.Context, projectID string) (domain.ProjectThresholds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholdCalls++
	return s.thresholds[projectID], nil
}

type staticDirectory map[string][2]string

func (d staticDirectory) Names(_ context.Context, pair domain.PairKey) (string, string, error) {
	n, ok := d[pair.String()]
	if !ok {
		return "", "", errors.New("unknown pair")
	}
	return n[0], n[1], nil
}

type memoryReviews struct {
	mu      sync.Mutex
	reviews []domain.PerformanceReview
}

func (m *memoryReviews) SaveReviews(_ context.Context, r []domain.PerformanceReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews = append(m.reviews, r...)
	return nil
}

type stubLocker struct {
	held     bool
	released bool
}

func (l *stubLocker) TryLock(_ context.Context, _, _ string, _ time.Duration) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() { l.released = true }, true, nil
}

// daily строит серию ежедневных наблюдений от testNow назад: values[0] — самое свежее.
func daily(worker, project string, m domain.MetricType, values ...float64) []domain.MetricObservation {
	out := make([]domain.MetricObservation, 0, len(values))
	for i, v := range values {
		out = append(out, domain.MetricObservation{
			WorkerID:   worker,
			ProjectID:  project,
			Type:       m,
			Value:      domain.Float(v),
			Rolling7d:  domain.Float(v),
			Rolling30d: domain.Float(v),
			MeasuredAt: testNow.Add(-time.Duration(i) * 24 * time.Hour),
		})
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
