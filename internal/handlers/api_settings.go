package handlers

import (
	"log"
	"net/http"

	"github.com/parishems/compliance/internal/api"
	"github.com/parishems/compliance/internal/database"
)

// handleGetEvaluationSettings handles GET /api/settings/evaluation
func (h *APIHandler) handleGetEvaluationSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := database.GetOrCreateEvaluationSettings(h.db.WithContext(r.Context()))
	if err != nil {
		respondServiceError(w, "load evaluation settings", err)
		return
	}
	api.RespondJSON(w, http.StatusOK, settings)
}

// handleUpdateEvaluationSettings handles PUT /api/settings/evaluation. The
// sweep picks up a new interval on its next tick.
func (h *APIHandler) handleUpdateEvaluationSettings(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateEvaluationSettingsRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	db := h.db.WithContext(r.Context())
	settings, err := database.GetOrCreateEvaluationSettings(db)
	if err != nil {
		respondServiceError(w, "load evaluation settings", err)
		return
	}
	req.Apply(settings)
	if err := database.UpdateEvaluationSettings(db, settings); err != nil {
		respondServiceError(w, "update evaluation settings", err)
		return
	}
	log.Printf("Evaluation settings updated: sweep_enabled=%v interval=%dm batch=%d concurrency=%d",
		settings.SweepEnabled, settings.SweepIntervalMinutes, settings.SweepBatchLimit, settings.EvaluationConcurrency)
	api.RespondJSON(w, http.StatusOK, settings)
}

// handleQueueStats handles GET /api/queue/stats
func (h *APIHandler) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		api.RespondError(w, http.StatusServiceUnavailable, "Evaluation queue is not running")
		return
	}
	api.RespondJSON(w, http.StatusOK, h.queue.Stats())
}

func logQueueError(callID uint, err error) {
	log.Printf("Warning: could not queue call %d for evaluation, leaving it for the sweep: %v", callID, err)
}
