package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/parishems/compliance/internal/api"
	"github.com/parishems/compliance/internal/services"
	"github.com/parishems/compliance/internal/utils"
)

// maxForecastSpan bounds one forecast request to a quarter of hourly rows.
const maxForecastSpan = 92 * 24 * time.Hour

// handleComplianceReport handles GET /api/compliance/report
func (h *APIHandler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCallFilter(r)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := services.ReportRequest{Filter: filter}
	if req.ThresholdMinutes, err = api.QueryFloat(r, "threshold"); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ThresholdMinutes != nil && *req.ThresholdMinutes <= 0 {
		api.RespondError(w, http.StatusBadRequest, "threshold must be positive")
		return
	}
	target, err := api.QueryFloat(r, "target")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if target != nil {
		req.TargetPct = *target
	}

	report, err := h.reports.Report(r.Context(), req)
	if errors.Is(err, services.ErrInvalidTarget) {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		respondServiceError(w, "build compliance report", err)
		return
	}
	log.Printf("Compliance report: %s eligible calls, contract compliance %s at %s",
		utils.FormatNumber(report.EligibleCalls), utils.FormatPercent(report.ContractCompliance),
		utils.FormatMinutes(report.ThresholdMinutes))
	api.RespondJSON(w, http.StatusOK, report)
}

// handleRecordOverlaps handles POST /api/weather/overlaps
func (h *APIHandler) handleRecordOverlaps(w http.ResponseWriter, r *http.Request) {
	var req api.WeatherOverlapRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	n, err := h.weather.Record(r.Context(), api.OverlapsToModels(req.Overlaps))
	if errors.Is(err, services.ErrInvalidOverlap) {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		respondServiceError(w, "record weather overlaps", err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, map[string]int{"recorded": n})
}

// handleGenerateForecast handles POST /api/forecast
func (h *APIHandler) handleGenerateForecast(w http.ResponseWriter, r *http.Request) {
	var req services.ForecastRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}
	if req.End.Sub(req.Start) > maxForecastSpan {
		api.RespondError(w, http.StatusBadRequest, "forecast range must not exceed 92 days")
		return
	}

	result, err := h.forecasts.Generate(r.Context(), req)
	if errors.Is(err, services.ErrInvalidForecastRange) || errors.Is(err, services.ErrInvalidForecastGranularity) {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		respondServiceError(w, "generate forecast", err)
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}

// handleGetForecast handles GET /api/forecast?parish_id=&start=&end=
func (h *APIHandler) handleGetForecast(w http.ResponseWriter, r *http.Request) {
	parishID, err := api.QueryUint(r, "parish_id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := api.QueryTime(r, "start")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := api.QueryTime(r, "end")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if parishID == 0 || start == nil || end == nil {
		api.RespondError(w, http.StatusBadRequest, "parish_id, start and end are required")
		return
	}

	buckets, err := h.forecasts.Buckets(r.Context(), parishID, *start, *end)
	if err != nil {
		respondServiceError(w, "load forecast", err)
		return
	}
	api.RespondJSON(w, http.StatusOK, buckets)
}
