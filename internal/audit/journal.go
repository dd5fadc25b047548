package audit

/*
Файл journal.go реализует журнал воздействий (Enforcement Journal) — асинхронную
запись исходов каждого действия плана в PostgreSQL.

- Неблокирующая запись: диспетчер отдает событие в буферизованный канал и
  не ждет базы. При переполнении событие сбрасывается с ошибкой в лог.
- Пакетная запись: события копятся и пишутся одним INSERT по 100 штук
  или по таймеру.
- Drain при остановке: Stop закрывает канал, воркер вычитывает остаток и
  делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBufferSize    = 10000
	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
)

// Storage определяет, куда физически сохраняются события.
type Storage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []EnforcementEvent) error
}

// Recorder — то, что нужно диспетчеру от журнала.
type Recorder interface {
	Record(event EnforcementEvent)
}

type Journal struct {
	ch            chan EnforcementEvent
	repo          Storage
	logger        *zap.Logger
	flushInterval time.Duration
	wg            sync.WaitGroup

	// mu защищает канал от отправки после close: Record держит RLock, Stop — Lock
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewJournal создает журнал. bufferSize и flushInterval <= 0 заменяются дефолтами.
func NewJournal(repo Storage, logger *zap.Logger, bufferSize int, flushInterval time.Duration) *Journal {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &Journal{
		ch:            make(chan EnforcementEvent, bufferSize),
		repo:          repo,
		logger:        logger.Named("journal"),
		flushInterval: flushInterval,
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop закрывает вход и ждет, пока воркер допишет остаток.
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		j.logger.Info("stopping journal: closing channel and flushing buffer...")
		j.mu.Lock()
		j.closed = true
		close(j.ch)
		j.mu.Unlock()

		j.wg.Wait()
		j.logger.Info("journal stopped gracefully")
	})
}

// Pending — текущая заполненность буфера (для метрики backpressure).
func (j *Journal) Pending() int {
	return len(j.ch)
}

func (j *Journal) Record(event EnforcementEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("enforcement event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Load shedding: диспетчер не должен ждать журнал, поэтому RLock держится недолго
	select {
	case j.ch <- event:
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("worker_id", event.WorkerID),
			zap.String("project_id", event.ProjectID),
			zap.String("action", event.Action),
			zap.String("outcome", event.Outcome),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]EnforcementEvent, 0, defaultBatchSize)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: к моменту финального сброса внешний контекст уже закрыт
		if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = make([]EnforcementEvent, 0, defaultBatchSize)
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
