package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/xela07ax/perfwatch/internal/console/service"
	"github.com/xela07ax/perfwatch/internal/domain"
)

// CycleService Описываем, что нам нужно от сервиса
type CycleService interface {
	Run(ctx context.Context, filter domain.CycleFilter) (domain.CycleSummary, error)
	Classify(metrics map[domain.MetricType]domain.MetricSummary, thresholds domain.ProjectThresholds, days int) service.ClassifyResult
}

type CycleHandler struct {
	service CycleService
}

func NewCycleHandler(s CycleService) *CycleHandler {
	return &CycleHandler{service: s}
}

type RunCycleRequest struct {
	ProjectID string `json:"project_id" validate:"omitempty,max=128"`
	WorkerID  string `json:"worker_id" validate:"omitempty,max=128"`
}

func (h *CycleHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunCycleRequest
	if err := decodeBody(r, &req, true); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.service.Run(r.Context(), domain.CycleFilter{ProjectID: req.ProjectID, WorkerID: req.WorkerID})
	if err != nil {
		if errors.Is(err, service.ErrCycleBusy) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if errors.Is(err, service.ErrCycleUnavailable) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "Failed to run evaluation cycle", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// ClassifyRequest — значения в нормализованной шкале (доли 0..1, latency в секундах).
type ClassifyRequest struct {
	Metrics                  map[domain.MetricType]domain.MetricSummary `json:"metrics" validate:"required,min=1,dive,keys,oneof=accuracy rejection_rate consistency latency,endkeys"`
	Thresholds               map[domain.MetricType]domain.Threshold     `json:"thresholds" validate:"omitempty,dive,keys,oneof=accuracy rejection_rate consistency latency,endkeys"`
	ConsecutiveViolationDays int                                        `json:"consecutive_violation_days" validate:"min=0"`
}

func (h *CycleHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := decodeBody(r, &req, false); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for m, t := range req.Thresholds {
		if err := t.Validate(m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	res := h.service.Classify(req.Metrics, domain.ProjectThresholds(req.Thresholds), req.ConsecutiveViolationDays)
	writeJSON(w, http.StatusOK, res)
}
