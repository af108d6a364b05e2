package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/bizscraper/internal/delivery/http/request"
	"github.com/user/bizscraper/internal/delivery/http/response"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/usecase"
	"github.com/user/bizscraper/pkg/utils"
)

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	runs   usecase.RunManager
	checks map[string]HealthCheck
	logger *zap.Logger
}

func NewHandler(runs usecase.RunManager, checks map[string]HealthCheck, logger *zap.Logger) *Handler {
	return &Handler{
		runs:   runs,
		checks: checks,
		logger: logger,
	}
}

func (h *Handler) HandleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req request.SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	seed := entity.RunSeed{Location: req.Location}
	for _, u := range req.URLs {
		req.Targets = append(req.Targets, request.Target{URL: u})
	}
	for _, t := range req.Targets {
		if !utils.IsHTTPURL(t.URL) {
			h.writeJSONError(w, "Invalid URL in targets: "+t.URL, http.StatusBadRequest)
			return
		}
		seed.Targets = append(seed.Targets, entity.SeedTarget{URL: t.URL, Location: t.Location})
	}
	for _, b := range req.Businesses {
		name := entity.NormalizeName(b.Name)
		if name == "" {
			h.writeJSONError(w, "Business names cannot be empty", http.StatusBadRequest)
			return
		}
		seed.Names = append(seed.Names, entity.SeedName{Name: name, Location: b.Location})
	}
	if req.RunID == "" && seed.Empty() {
		h.writeJSONError(w, "Targets or businesses are required", http.StatusBadRequest)
		return
	}

	runID, err := h.runs.Submit(r.Context(), req.RunID, seed)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrRunInProgress):
			h.writeJSONError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, entity.ErrConfiguration):
			h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("failed to submit run", zap.Error(err))
			h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	message := "Run started"
	if req.RunID != "" {
		message = "Run resumed from checkpoint"
	}
	h.writeJSON(w, http.StatusAccepted, response.SubmitRunResponse{
		Status:  "success",
		Message: message,
		RunID:   runID,
	})
}

func (h *Handler) HandleGetRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		h.writeJSONError(w, "Run id is required", http.StatusBadRequest)
		return
	}

	status, err := h.runs.GetStatus(r.Context(), runID)
	if err != nil {
		if errors.Is(err, usecase.ErrRunNotFound) {
			h.writeJSONError(w, "Run not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get run status", zap.String("run_id", runID), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, response.NewRunStatusResponse(status))
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := map[string]string{"status": "ok"}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			healthStatus[name] = "unhealthy"
			healthy = false
			h.logger.Error("health check failed", zap.String("service", name), zap.Error(err))
			continue
		}
		healthStatus[name] = "healthy"
	}

	if !healthy {
		healthStatus["status"] = "degraded"
		h.writeJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	h.writeJSON(w, http.StatusOK, healthStatus)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
