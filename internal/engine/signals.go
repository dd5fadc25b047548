package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/perfwatch/internal/domain"
	"github.com/xela07ax/perfwatch/internal/infra"

	"github.com/redis/go-redis/v9"
)

// RedisSignals публикует сигналы воздействий для внешних систем выдачи задач.
type RedisSignals struct {
	rdb redis.Cmdable
}

func NewRedisSignals(rdb redis.Cmdable) *RedisSignals {
	return &RedisSignals{rdb: rdb}
}

// PublishPause добавляет пару в множество приостановленных и рассылает "on".
func (s *RedisSignals) PublishPause(ctx context.Context, pair domain.PairKey) error {
	return s.setPaused(ctx, pair, true)
}

// PublishResume снимает паузу и рассылает "off".
func (s *RedisSignals) PublishResume(ctx context.Context, pair domain.PairKey) error {
	return s.setPaused(ctx, pair, false)
}

func (s *RedisSignals) setPaused(ctx context.Context, pair domain.PairKey, paused bool) error {
	status := "off"
	if paused {
		status = "on"
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if paused {
			pipe.SAdd(ctx, infra.RedisKeyPausedPairs, pair.String())
		} else {
			pipe.SRem(ctx, infra.RedisKeyPausedPairs, pair.String())
		}
		pipe.Publish(ctx, infra.RedisChanPauseSignal, pair.String()+":"+status)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: failed to publish pause %s: %w", status, err)
	}
	return nil
}

type removalSignal struct {
	RemovalID string    `json:"removal_id"`
	WorkerID  string    `json:"worker_id"`
	ProjectID string    `json:"project_id"`
	At        time.Time `json:"at"`
}

func (s *RedisSignals) PublishRemoval(ctx context.Context, pair domain.PairKey, removalID string) error {
	payload, err := json.Marshal(removalSignal{
		RemovalID: removalID,
		WorkerID:  pair.WorkerID,
		ProjectID: pair.ProjectID,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanRemovals, payload).Err(); err != nil {
		return fmt.Errorf("redis: failed to publish removal: %w", err)
	}
	return nil
}

type appealDecisionSignal struct {
	RemovalID string              `json:"removal_id"`
	WorkerID  string              `json:"worker_id"`
	ProjectID string              `json:"project_id"`
	Decision  domain.AppealStatus `json:"decision"`
}

// PublishAppealDecision сообщает о решении по апелляции (approved — повод восстановить доступ).
func (s *RedisSignals) PublishAppealDecision(ctx context.Context, record domain.RemovalRecord) error {
	payload, err := json.Marshal(appealDecisionSignal{
		RemovalID: record.ID,
		WorkerID:  record.WorkerID,
		ProjectID: record.ProjectID,
		Decision:  record.AppealStatus,
	})
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanAppealDecisions, payload).Err(); err != nil {
		return fmt.Errorf("redis: failed to publish appeal decision: %w", err)
	}
	return nil
}
