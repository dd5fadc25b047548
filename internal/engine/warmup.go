package engine

import (
	"context"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"
	"github.com/xela07ax/perfwatch/internal/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const warmupLockTTL = 30 * time.Second

// WarmupPausedPairs восстанавливает множество пауз в Redis из журнала PostgreSQL,
// если Redis пуст (рестарт без persistence). Возвращает true, если множество было залито.
func WarmupPausedPairs(ctx context.Context, rdb redis.Cmdable, logger *zap.Logger, pairs []domain.PairKey) (bool, error) {
	if len(pairs) == 0 {
		return false, nil
	}

	// Распределенная блокировка (SetNX), чтобы только один инстанс заливал Redis
	ok, err := rdb.SetNX(ctx, infra.RedisKeyWarmupLock, "processing", warmupLockTTL).Result()
	if err != nil || !ok {
		return false, nil // Либо ошибка сети, либо другой уже греет
	}

	count, err := rdb.SCard(ctx, infra.RedisKeyPausedPairs).Result()
	if err != nil {
		logger.Warn("could not check paused set size, skipping warm-up", zap.Error(err))
		return false, nil
	}
	if count > 0 {
		return false, nil
	}

	members := make([]interface{}, 0, len(pairs))
	for _, p := range pairs {
		members = append(members, p.String())
	}
	if err := rdb.SAdd(ctx, infra.RedisKeyPausedPairs, members...).Err(); err != nil {
		return false, err
	}

	logger.Info("paused set restored from database", zap.Int("count", len(pairs)))
	return true, nil
}
