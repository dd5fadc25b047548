package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/perfwatch/internal/connectors"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Имена зависимостей для Guard (отдельный предохранитель на каждую).
const (
	DepMetricStore = "metric-store"
	DepActionStore = "action-store"
	DepNotifier    = "notifier"
	DepSignalBus   = "signal-bus"
)

// GuardSettings — параметры защиты внешних вызовов.
type GuardSettings struct {
	Attempts       uint
	CallTimeout    time.Duration
	CallsPerSecond float64
	Burst          int

	CBMaxRequests      uint32
	CBInterval         time.Duration
	CBTimeout          time.Duration
	CBFailureThreshold uint32
}

func (s GuardSettings) withDefaults() GuardSettings {
	if s.Attempts == 0 {
		s.Attempts = 3
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 10 * time.Second
	}
	if s.CallsPerSecond <= 0 {
		s.CallsPerSecond = 100
	}
	if s.Burst <= 0 {
		s.Burst = 20
	}
	if s.CBMaxRequests == 0 {
		s.CBMaxRequests = 3
	}
	if s.CBInterval <= 0 {
		s.CBInterval = 5 * time.Second
	}
	if s.CBTimeout <= 0 {
		s.CBTimeout = 30 * time.Second
	}
	if s.CBFailureThreshold == 0 {
		s.CBFailureThreshold = 5
	}
	return s
}

// Permanent помечает ошибку как неповторяемую для Guard.
func Permanent(err error) error {
	return connectors.Permanent(err)
}

// Guard — обертка над внешними вызовами: rate limiter, снаружи Circuit Breaker
// на зависимость, внутри ретраи с экспоненциальной задержкой и таймаутом на попытку.
type Guard struct {
	settings GuardSettings
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewGuard(settings GuardSettings, metrics *Metrics, logger *zap.Logger) *Guard {
	settings = settings.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Guard{
		settings: settings,
		limiter:  rate.NewLimiter(rate.Limit(settings.CallsPerSecond), settings.Burst),
		metrics:  metrics,
		logger:   logger.Named("guard"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (g *Guard) breaker(dependency string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[dependency]; ok {
		return cb
	}
	threshold := g.settings.CBFailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        dependency,
		MaxRequests: g.settings.CBMaxRequests,
		Interval:    g.settings.CBInterval,
		Timeout:     g.settings.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed",
				zap.String("dependency", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			g.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	g.breakers[dependency] = cb
	return cb
}

// State — текущее состояние предохранителя зависимости.
func (g *Guard) State(dependency string) gobreaker.State {
	return g.breaker(dependency).State()
}

// Do выполняет fn под защитой. Ошибки, помеченные Permanent, не повторяются
// и не засчитываются предохранителю как отказ зависимости.
func (g *Guard) Do(ctx context.Context, dependency string, fn func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	var permanent error

	// 2. Circuit Breaker
	_, err := g.breaker(dependency).Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(g.settings.Attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если зависимость вернула ThrottleError — ждем столько, сколько она попросила
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, g.settings.CallTimeout)
			defer cancel()

			callErr := fn(tCtx)
			if callErr != nil && connectors.IsPermanent(callErr) {
				permanent = callErr
				return nil
			}
			return callErr
		})
		return nil, retryErr
	})

	if permanent != nil {
		return permanent
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.metrics.ErrorTotal.WithLabelValues("circuit_open").Inc()
		}
		return fmt.Errorf("%s: %w", dependency, err)
	}
	return nil
}
