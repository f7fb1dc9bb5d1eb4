package handlers

import (
	"fmt"
	"net/http"

	"github.com/parishems/compliance/internal/api"
	"github.com/parishems/compliance/internal/database"
	"github.com/parishems/compliance/internal/services"
	"github.com/parishems/compliance/internal/utils"
)

const maxReasonLength = 2000

// handleIngest handles POST /api/calls/ingest
func (h *APIHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req api.IngestRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	result, err := h.calls.Ingest(r.Context(), req.Rows)
	if err != nil {
		respondServiceError(w, "ingest calls", err)
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}

// handleListCalls handles GET /api/calls
func (h *APIHandler) handleListCalls(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCallFilter(r)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if excl := r.URL.Query().Get("exclusion_type"); excl != "" {
		switch t := database.ExclusionType(excl); t {
		case database.ExclusionNone, database.ExclusionManual, database.ExclusionAuto:
			filter.ExclusionType = t
		default:
			api.RespondError(w, http.StatusBadRequest, "exclusion_type must be one of: none manual auto")
			return
		}
	}
	if filter.NeedsReview, err = api.QueryBool(r, "needs_review"); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Evaluated, err = api.QueryBool(r, "evaluated"); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	page := api.ParsePagination(r)
	list, total, err := h.calls.List(r.Context(), filter, page.PerPage, page.Offset())
	if err != nil {
		respondServiceError(w, "list calls", err)
		return
	}
	api.RespondPaginated(w, api.CallsToListItems(list), page, total)
}

// parseCallFilter reads the parish, region and time-range parameters shared
// by listings and reports.
func parseCallFilter(r *http.Request) (services.CallFilter, error) {
	var f services.CallFilter
	var err error
	if f.ParishID, err = api.QueryUint(r, "parish_id"); err != nil {
		return f, err
	}
	if f.RegionID, err = api.QueryUint(r, "region_id"); err != nil {
		return f, err
	}
	if f.From, err = api.QueryTime(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = api.QueryTime(r, "to"); err != nil {
		return f, err
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, fmt.Errorf("%w: to must not be before from", api.ErrBadParam)
	}
	return f, nil
}

// handleGetCall handles GET /api/calls/{id}
func (h *APIHandler) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, err := h.calls.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, "get call", err)
		return
	}
	api.RespondJSON(w, http.StatusOK, call)
}

// handleEvaluateCall handles POST /api/calls/{id}/evaluate. The evaluation
// runs synchronously and returns the full decision.
func (h *APIHandler) handleEvaluateCall(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.exclusions.EvaluateCall(r.Context(), id, services.EvaluateOptions{})
	if err != nil {
		respondServiceError(w, "evaluate call", err)
		return
	}
	if result.Outcome == services.OutcomeNotFound {
		respondOutcome(w, id, result.Outcome)
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}

// handleExcludeCall handles POST /api/calls/{id}/exclusion
func (h *APIHandler) handleExcludeCall(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req api.ManualExclusionRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}
	reason, err := utils.SanitizeFreeText(req.Reason, maxReasonLength)
	if err != nil {
		api.RespondValidationError(w, map[string]string{"reason": err.Error()})
		return
	}

	outcome, err := h.exclusions.ExcludeManually(r.Context(), id, reason, req.Actor)
	if err != nil {
		respondServiceError(w, "exclude call", err)
		return
	}
	respondOutcome(w, id, outcome)
}

// handleRestoreCall handles DELETE /api/calls/{id}/exclusion. A restored call
// gets 204; other outcomes are reported in the body.
func (h *APIHandler) handleRestoreCall(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req api.RestoreRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}
	reason := ""
	if req.Reason != "" {
		if reason, err = utils.SanitizeFreeText(req.Reason, maxReasonLength); err != nil {
			api.RespondValidationError(w, map[string]string{"reason": err.Error()})
			return
		}
	}

	outcome, err := h.exclusions.RestoreCall(r.Context(), id, req.Actor, reason)
	if err != nil {
		respondServiceError(w, "restore call", err)
		return
	}
	if outcome == services.OutcomeRestored {
		api.RespondNoContent(w)
		return
	}
	respondOutcome(w, id, outcome)
}

// handleRequeueCall handles POST /api/calls/{id}/requeue. A requeued call is
// handed to the evaluation queue when one is running.
func (h *APIHandler) handleRequeueCall(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req api.RequeueRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	outcome, err := h.exclusions.Requeue(r.Context(), id, req.Actor)
	if err != nil {
		respondServiceError(w, "requeue call", err)
		return
	}
	if outcome == services.OutcomeRequeued && h.queue != nil {
		if err := h.queue.Enqueue(id); err != nil {
			// The sweep picks the call up later.
			logQueueError(id, err)
		}
	}
	respondOutcome(w, id, outcome)
}

// handleCallAudit handles GET /api/calls/{id}/audit
func (h *APIHandler) handleCallAudit(w http.ResponseWriter, r *http.Request) {
	id, err := api.PathID(r, "id")
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.calls.Get(r.Context(), id); err != nil {
		respondServiceError(w, "get call", err)
		return
	}
	entries, err := h.exclusions.AuditLog(r.Context(), id)
	if err != nil {
		respondServiceError(w, "load audit log", err)
		return
	}
	if entries == nil {
		entries = []database.AuditLogEntry{}
	}
	api.RespondJSON(w, http.StatusOK, entries)
}
