package engine

import (
	"context"
	"sync"

	"github.com/xela07ax/perfwatch/internal/domain"
	"github.com/xela07ax/perfwatch/internal/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PauseRegistry — локальный потокобезопасный кэш приостановленных пар.
// Источник истины — множество в Redis, изменения приходят сигналами.
type PauseRegistry struct {
	mu     sync.RWMutex
	paused map[string]struct{}
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPauseRegistry(rdb *redis.Client, logger *zap.Logger) *PauseRegistry {
	return &PauseRegistry{
		paused: make(map[string]struct{}),
		rdb:    rdb,
		logger: logger.Named("pause-registry"),
	}
}

// Init загружает полное состояние пауз из Redis (при старте и переподключении).
func (r *PauseRegistry) Init(ctx context.Context) error {
	members, err := r.rdb.SMembers(ctx, infra.RedisKeyPausedPairs).Result()
	if err != nil {
		return err
	}
	r.Reset(members)
	return nil
}

// Reset заменяет состояние целиком.
func (r *PauseRegistry) Reset(keys []string) {
	fresh := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		fresh[k] = struct{}{}
	}
	r.mu.Lock()
	r.paused = fresh
	r.mu.Unlock()
}

// StartListener подписывается на сигналы паузы и держит кэш актуальным до отмены ctx.
func (r *PauseRegistry) StartListener(ctx context.Context) {
	ListenStateResilient(ctx, r.rdb, r.logger, infra.RedisChanPauseSignal,
		func() error { return r.Init(ctx) },
		r.Apply,
	)
}

// Apply применяет одиночный сигнал.
func (r *PauseRegistry) Apply(key string, paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if paused {
		r.paused[key] = struct{}{}
		return
	}
	delete(r.paused, key)
}

// IsPaused — проверка для внешней выдачи задач.
func (r *PauseRegistry) IsPaused(pair domain.PairKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.paused[pair.String()]
	return ok
}

func (r *PauseRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.paused)
}
