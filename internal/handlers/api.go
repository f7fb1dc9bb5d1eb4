package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/parishems/compliance/internal/api"
	"github.com/parishems/compliance/internal/jobs"
	"github.com/parishems/compliance/internal/services"
	"gorm.io/gorm"
)

// APIHandler handles the REST API used by QA reviewers and ingestion adapters
type APIHandler struct {
	db         *gorm.DB
	calls      *services.CallService
	exclusions *services.ExclusionService
	reports    *services.ReportService
	weather    *services.WeatherService
	forecasts  *services.ForecastService
	queue      *jobs.EvaluationQueue
}

// NewAPIHandler creates a new API handler. queue may be nil, in which case
// requeued calls wait for the next sweep.
func NewAPIHandler(
	db *gorm.DB,
	calls *services.CallService,
	exclusions *services.ExclusionService,
	reports *services.ReportService,
	weather *services.WeatherService,
	forecasts *services.ForecastService,
	queue *jobs.EvaluationQueue,
) *APIHandler {
	return &APIHandler{
		db:         db,
		calls:      calls,
		exclusions: exclusions,
		reports:    reports,
		weather:    weather,
		forecasts:  forecasts,
		queue:      queue,
	}
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	// Calls
	mux.HandleFunc("POST /api/calls/ingest", h.handleIngest)
	mux.HandleFunc("GET /api/calls", h.handleListCalls)
	mux.HandleFunc("GET /api/calls/{id}", h.handleGetCall)

	// Evaluation and exclusions
	mux.HandleFunc("POST /api/calls/{id}/evaluate", h.handleEvaluateCall)
	mux.HandleFunc("POST /api/calls/{id}/exclusion", h.handleExcludeCall)
	mux.HandleFunc("DELETE /api/calls/{id}/exclusion", h.handleRestoreCall)
	mux.HandleFunc("POST /api/calls/{id}/requeue", h.handleRequeueCall)
	mux.HandleFunc("GET /api/calls/{id}/audit", h.handleCallAudit)

	// Reporting and feeds
	mux.HandleFunc("GET /api/compliance/report", h.handleComplianceReport)
	mux.HandleFunc("POST /api/weather/overlaps", h.handleRecordOverlaps)
	mux.HandleFunc("POST /api/forecast", h.handleGenerateForecast)
	mux.HandleFunc("GET /api/forecast", h.handleGetForecast)

	// Operations
	mux.HandleFunc("GET /api/queue/stats", h.handleQueueStats)
	mux.HandleFunc("GET /api/settings/evaluation", h.handleGetEvaluationSettings)
	mux.HandleFunc("PUT /api/settings/evaluation", h.handleUpdateEvaluationSettings)
}

// respondOutcome maps an outcome to a status code. Outcomes are not errors,
// but the ones that leave the call untouched are surfaced as conflicts.
func respondOutcome(w http.ResponseWriter, callID uint, outcome services.Outcome) {
	switch outcome {
	case services.OutcomeNotFound:
		api.RespondErrorWithCode(w, http.StatusNotFound, string(outcome), "Call not found")
	case services.OutcomeAlreadyExcluded:
		api.RespondErrorWithCode(w, http.StatusConflict, string(outcome), "Call is already excluded")
	case services.OutcomeAlreadyEvaluated:
		api.RespondErrorWithCode(w, http.StatusConflict, string(outcome), "Call was already evaluated")
	default:
		api.RespondJSON(w, http.StatusOK, api.OutcomeResponse{CallID: callID, Outcome: string(outcome)})
	}
}

// respondServiceError logs unexpected errors and hides their detail.
func respondServiceError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, services.ErrCallNotFound) {
		api.RespondError(w, http.StatusNotFound, "Call not found")
		return
	}
	log.Printf("API: %s failed: %v", op, err)
	api.RespondError(w, http.StatusInternalServerError, "Failed to "+op)
}
