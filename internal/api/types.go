package api

import (
	"time"

	"github.com/parishems/compliance/internal/calls"
	"github.com/parishems/compliance/internal/database"
)

// ========== Call Types ==========

// IngestRequest is the request body for POST /api/calls/ingest.
type IngestRequest struct {
	Rows []calls.RawCall `json:"rows" validate:"required,min=1,max=5000"`
}

// CallListItem is the compact call representation used in listings.
type CallListItem struct {
	ID                uint                   `json:"id"`
	CallID            string                 `json:"call_id"`
	UnitName          string                 `json:"unit_name"`
	ParishID          uint                   `json:"parish_id"`
	ZoneName          *string                `json:"zone_name"`
	PriorityCode      string                 `json:"priority_code"`
	QueueTime         *time.Time             `json:"queue_time"`
	ResponseMinutes   *float64               `json:"response_minutes"`
	ResponseDisplay   string                 `json:"response_display"`
	ThresholdMinutes  *float64               `json:"threshold_minutes"`
	IsCompliant       *bool                  `json:"is_compliant"`
	ExclusionType     database.ExclusionType `json:"exclusion_type"`
	ExclusionStrategy *string                `json:"exclusion_strategy,omitempty"`
	AutoEvaluated     bool                   `json:"auto_evaluated"`
	NeedsReview       bool                   `json:"needs_review"`
}

// ========== Exclusion Types ==========

// ManualExclusionRequest is the request body for POST /api/calls/{id}/exclusion.
type ManualExclusionRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
	Actor  string `json:"actor" validate:"required,max=128"`
}

// RestoreRequest is the request body for DELETE /api/calls/{id}/exclusion.
type RestoreRequest struct {
	Actor  string `json:"actor" validate:"required,max=128"`
	Reason string `json:"reason" validate:"omitempty,max=2000"`
}

// RequeueRequest is the request body for POST /api/calls/{id}/requeue.
type RequeueRequest struct {
	Actor string `json:"actor" validate:"required,max=128"`
}

// OutcomeResponse reports the outcome of a state-changing call action.
type OutcomeResponse struct {
	CallID  uint   `json:"call_id"`
	Outcome string `json:"outcome"`
}

// ========== Weather Types ==========

// WeatherOverlapInput is one weather-alert overlap supplied by the alert feed.
type WeatherOverlapInput struct {
	CallID          uint      `json:"call_id" validate:"required"`
	EventType       string    `json:"event_type" validate:"required,max=128"`
	Severity        string    `json:"severity" validate:"omitempty,max=32"`
	AreaDescription string    `json:"area_description"`
	OverlapStart    time.Time `json:"overlap_start" validate:"required"`
	OverlapEnd      time.Time `json:"overlap_end" validate:"required"`
}

// WeatherOverlapRequest is the request body for POST /api/weather/overlaps.
type WeatherOverlapRequest struct {
	Overlaps []WeatherOverlapInput `json:"overlaps" validate:"required,min=1,dive"`
}

// ========== Settings Types ==========

// UpdateEvaluationSettingsRequest is the request body for PUT
// /api/settings/evaluation. Omitted fields keep their current value.
type UpdateEvaluationSettingsRequest struct {
	SweepEnabled             *bool `json:"sweep_enabled"`
	SweepIntervalMinutes     *int  `json:"sweep_interval_minutes" validate:"omitempty,gte=1,lte=1440"`
	SweepBatchLimit          *int  `json:"sweep_batch_limit" validate:"omitempty,gte=1,lte=10000"`
	EvaluationConcurrency    *int  `json:"evaluation_concurrency" validate:"omitempty,gte=1,lte=100"`
	EvaluationTimeoutSeconds *int  `json:"evaluation_timeout_seconds" validate:"omitempty,gte=1,lte=600"`
	NotifyReviews            *bool `json:"notify_reviews"`
}

// Apply copies the set fields onto settings.
func (r UpdateEvaluationSettingsRequest) Apply(settings *database.EvaluationSettings) {
	if r.SweepEnabled != nil {
		settings.SweepEnabled = *r.SweepEnabled
	}
	if r.SweepIntervalMinutes != nil {
		settings.SweepIntervalMinutes = *r.SweepIntervalMinutes
	}
	if r.SweepBatchLimit != nil {
		settings.SweepBatchLimit = *r.SweepBatchLimit
	}
	if r.EvaluationConcurrency != nil {
		settings.EvaluationConcurrency = *r.EvaluationConcurrency
	}
	if r.EvaluationTimeoutSeconds != nil {
		settings.EvaluationTimeoutSeconds = *r.EvaluationTimeoutSeconds
	}
	if r.NotifyReviews != nil {
		settings.NotifyReviews = *r.NotifyReviews
	}
}

// ========== Pagination Types ==========

// PaginationMeta describes one page of a listing.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a page of results.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}
