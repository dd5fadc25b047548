package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/perfwatch/internal/domain"
)

// AppealService Описываем, что нам нужно от сервиса
type AppealService interface {
	FetchAppealableRemovals(ctx context.Context, workerID string) ([]domain.RemovalRecord, error)
	SubmitAppeal(ctx context.Context, removalID, workerID, message string) domain.AppealResult
	FetchAppealsForReview(ctx context.Context) ([]domain.RemovalRecord, error)
	ReviewAppealDecision(ctx context.Context, removalID, reviewerID string, decision domain.AppealStatus, notes *string) domain.AppealResult
	RemovalMetrics(ctx context.Context) (domain.RemovalMetrics, error)
}

type AppealHandler struct {
	service AppealService
}

func NewAppealHandler(s AppealService) *AppealHandler {
	return &AppealHandler{service: s}
}

func (h *AppealHandler) ListWorkerRemovals(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")

	list, err := h.service.FetchAppealableRemovals(r.Context(), workerID)
	if err != nil {
		http.Error(w, "Failed to fetch removals", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Валидация содержимого (пустой текст, владелец) остается за сервисом:
// отказ возвращается как AppealResult с кодом причины.
type SubmitAppealRequest struct {
	WorkerID string `json:"worker_id"`
	Message  string `json:"message" validate:"max=4000"`
}

func (h *AppealHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SubmitAppealRequest
	if err := decodeBody(r, &req, false); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := h.service.SubmitAppeal(r.Context(), id, req.WorkerID, req.Message)
	writeJSON(w, resultStatus(res), res)
}

func (h *AppealHandler) ListForReview(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.FetchAppealsForReview(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch appeals", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type DecideRequest struct {
	ReviewerID string  `json:"reviewer_id"`
	Decision   string  `json:"decision"`
	Notes      *string `json:"notes" validate:"omitempty,max=4000"`
}

func (h *AppealHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := decodeBody(r, &req, false); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := h.service.ReviewAppealDecision(r.Context(), id, req.ReviewerID, domain.AppealStatus(req.Decision), req.Notes)
	writeJSON(w, resultStatus(res), res)
}

func (h *AppealHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.service.RemovalMetrics(r.Context())
	if err != nil {
		http.Error(w, "Failed to compute removal metrics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// resultStatus маппит код причины в HTTP-статус. Тело всегда AppealResult.
func resultStatus(res domain.AppealResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Reason {
	case domain.AppealReasonNotFound:
		return http.StatusNotFound
	case domain.AppealReasonAlreadyDecided, domain.AppealReasonNoAppeal:
		return http.StatusConflict
	case domain.AppealReasonError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
