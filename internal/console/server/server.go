package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/perfwatch/internal/console/handler"
	"go.uber.org/zap"
)

// HealthChecker — зависимость, без которой API не готов (PostgreSQL).
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type ConsoleServer struct {
	router   *chi.Mux
	logger   *zap.Logger
	health   HealthChecker
	gatherer prometheus.Gatherer

	// Обработчики бизнес-доменов
	cycleHandler      *handler.CycleHandler      // /v1/cycles, /v1/classify
	appealHandler     *handler.AppealHandler     // /v1/removals, /v1/appeals
	assignmentHandler *handler.AssignmentHandler // /v1/assignments
}

// NewConsoleServer инициализирует API со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	health HealthChecker,
	gatherer prometheus.Gatherer,
	cycleH *handler.CycleHandler,
	appealH *handler.AppealHandler,
	assignmentH *handler.AssignmentHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("console-api"),
		health:            health,
		gatherer:          gatherer,
		cycleHandler:      cycleH,
		appealHandler:     appealH,
		assignmentHandler: assignmentH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. Служебные роуты ---
	r.Get("/health", s.healthz)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// --- 3. API ---
	r.Route("/v1", func(r chi.Router) {
		// Цикл оценки и чистая классификация
		r.Post("/cycles", s.cycleHandler.Run)
		r.Post("/classify", s.cycleHandler.Classify)

		// Журнал снятий и апелляции
		r.Get("/workers/{workerID}/removals", s.appealHandler.ListWorkerRemovals)
		r.Get("/removals/metrics", s.appealHandler.Metrics)
		r.Post("/removals/{id}/appeal", s.appealHandler.Submit)
		r.Route("/appeals", func(r chi.Router) {
			r.Get("/", s.appealHandler.ListForReview)
			r.Post("/{id}/decision", s.appealHandler.Decide)
		})

		// Проверка паузы для системы выдачи задач
		r.Route("/assignments/{workerID}/{projectID}", func(r chi.Router) {
			r.Get("/", s.assignmentHandler.Status)
			r.Post("/resume", s.assignmentHandler.Resume)
		})
	})
}

func (s *ConsoleServer) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
