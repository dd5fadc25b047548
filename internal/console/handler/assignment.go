package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/perfwatch/internal/console/service"
	"github.com/xela07ax/perfwatch/internal/domain"
)

// AssignmentService Описываем, что нам нужно от сервиса
type AssignmentService interface {
	Status(pair domain.PairKey) service.AssignmentStatus
	Resume(ctx context.Context, pair domain.PairKey, reviewerID string) error
}

type AssignmentHandler struct {
	service AssignmentService
}

func NewAssignmentHandler(s AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: s}
}

func pairFromPath(r *http.Request) domain.PairKey {
	return domain.PairKey{
		WorkerID:  chi.URLParam(r, "workerID"),
		ProjectID: chi.URLParam(r, "projectID"),
	}
}

func (h *AssignmentHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status(pairFromPath(r)))
}

type ResumeRequest struct {
	ReviewerID string `json:"reviewer_id" validate:"required"`
}

func (h *AssignmentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := decodeBody(r, &req, false); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.Resume(r.Context(), pairFromPath(r), req.ReviewerID); err != nil {
		http.Error(w, "Failed to resume assignments", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
