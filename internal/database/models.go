package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/parishems/compliance/internal/compliance"
	"github.com/parishems/compliance/internal/strategies"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// ToJSONB converts any JSON-serializable value into a JSONB map.
func ToJSONB(v interface{}) (JSONB, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb: %w", err)
	}
	var out JSONB
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("value is not a json object: %w", err)
	}
	return out, nil
}

// Decode unmarshals the stored document into out.
func (j JSONB) Decode(out interface{}) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ExclusionType records who removed a call from the compliance denominator
type ExclusionType string

const (
	ExclusionNone   ExclusionType = "none"
	ExclusionManual ExclusionType = "manual"
	ExclusionAuto   ExclusionType = "auto"
)

// Call is one unit response to an incident, after deduplication.
type Call struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	CallID       string  `gorm:"uniqueIndex;size:64;not null" json:"call_id"`
	IncidentKey  string  `gorm:"size:512;index" json:"incident_key,omitempty"`
	UnitName     string  `gorm:"size:64" json:"unit_name"`
	ParishID     uint    `gorm:"not null;index:idx_calls_parish_queue,priority:1" json:"parish_id"`
	RegionID     uint    `gorm:"index" json:"region_id"`
	ZoneName     *string `gorm:"size:128" json:"zone_name"`
	Address      string  `gorm:"type:text" json:"address"`
	ResponseDate string  `gorm:"size:10" json:"response_date"`
	PriorityCode string  `gorm:"size:8" json:"priority_code"`

	QueueTime              *time.Time `gorm:"index:idx_calls_parish_queue,priority:2" json:"queue_time"`
	DispatchTime           *time.Time `json:"dispatch_time,omitempty"`
	EnrouteTime            *time.Time `json:"enroute_time,omitempty"`
	StagedTime             *time.Time `json:"staged_time,omitempty"`
	OnSceneTime            *time.Time `json:"on_scene_time"`
	DepartSceneTime        *time.Time `json:"depart_scene_time,omitempty"`
	ArrivedDestinationTime *time.Time `json:"arrived_destination_time,omitempty"`
	ClearedTime            *time.Time `json:"cleared_time,omitempty"`

	ResponseMinutesOverride *float64 `json:"response_minutes_override,omitempty"`
	ResponseMinutes         *float64 `json:"response_minutes"`
	ThresholdMinutes        *float64 `json:"threshold_minutes"`
	IsCompliant             *bool    `json:"is_compliant"`

	ExclusionType     ExclusionType `gorm:"type:varchar(16);not null;default:'none';index" json:"exclusion_type"`
	ExclusionReason   *string       `gorm:"type:text" json:"exclusion_reason,omitempty"`
	ExclusionStrategy *string       `gorm:"type:varchar(32)" json:"exclusion_strategy,omitempty"`
	ExclusionMetadata JSONB         `gorm:"type:jsonb" json:"exclusion_metadata,omitempty"`
	ExcludedBy        *string       `gorm:"type:varchar(128)" json:"excluded_by,omitempty"`
	ExcludedAt        *time.Time    `json:"excluded_at,omitempty"`

	AutoEvaluated    bool       `gorm:"not null;default:false;index" json:"auto_evaluated"`
	AutoEvaluatedAt  *time.Time `json:"auto_evaluated_at,omitempty"`
	EvaluationResult JSONB      `gorm:"type:jsonb" json:"evaluation_result,omitempty"`
	NeedsReview      bool       `gorm:"not null;default:false;index" json:"needs_review"`
	ReviewReason     *string    `gorm:"type:text" json:"review_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Call) TableName() string {
	return "calls"
}

// IsExcluded reports whether the call is out of the contract denominator.
func (c *Call) IsExcluded() bool {
	return c.ExclusionType != "" && c.ExclusionType != ExclusionNone
}

// Timing returns the fields the classifier reads.
func (c *Call) Timing() compliance.Timing {
	return compliance.Timing{
		QueueTime:       c.QueueTime,
		OnSceneTime:     c.OnSceneTime,
		OverrideMinutes: c.ResponseMinutesOverride,
	}
}

// StrategyContext builds the context a strategy evaluates against.
func (c *Call) StrategyContext() strategies.CallContext {
	ctx := strategies.CallContext{
		CallRowID:       c.ID,
		CallID:          c.CallID,
		ParishID:        c.ParishID,
		RegionID:        c.RegionID,
		QueueTime:       c.QueueTime,
		OnSceneTime:     c.OnSceneTime,
		ResponseMinutes: c.ResponseMinutes,
		Compliant:       c.IsCompliant,
	}
	if c.ThresholdMinutes != nil {
		ctx.ThresholdMinutes = *c.ThresholdMinutes
	}
	return ctx
}

// Sample converts the call for the aggregator. ok is false when the call has
// no known response time and therefore sits outside every denominator.
func (c *Call) Sample() (compliance.Sample, bool) {
	m := c.Timing().EffectiveResponseMinutes()
	if m == nil {
		return compliance.Sample{}, false
	}
	return compliance.Sample{ResponseMinutes: *m, Excluded: c.IsExcluded()}, true
}

// WeatherOverlap is a precomputed intersection between a call and a severe
// weather alert, uploaded by the external weather matcher.
type WeatherOverlap struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CallID          uint      `gorm:"not null;index" json:"call_id"`
	EventType       string    `gorm:"type:varchar(128);not null" json:"event_type"`
	Severity        string    `gorm:"type:varchar(32)" json:"severity"`
	AreaDescription string    `gorm:"type:text" json:"area_description"`
	OverlapStart    time.Time `gorm:"not null" json:"overlap_start"`
	OverlapEnd      time.Time `gorm:"not null" json:"overlap_end"`
	CreatedAt       time.Time `json:"created_at"`
}

func (WeatherOverlap) TableName() string {
	return "weather_overlaps"
}

// Strategy converts the row for the weather strategy.
func (w WeatherOverlap) Strategy() strategies.Overlap {
	return strategies.Overlap{
		EventType:       w.EventType,
		Severity:        w.Severity,
		AreaDescription: w.AreaDescription,
		OverlapStart:    w.OverlapStart,
		OverlapEnd:      w.OverlapEnd,
	}
}

// ForecastBucket is one hourly call-volume forecast for a parish.
type ForecastBucket struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ParishID      uint      `gorm:"not null;index:idx_forecast_parish_bucket,priority:1" json:"parish_id"`
	CellID        string    `gorm:"type:varchar(64);not null;default:'global'" json:"cell_id"`
	BucketStart   time.Time `gorm:"not null;index:idx_forecast_parish_bucket,priority:2" json:"bucket_start"`
	BucketEnd     time.Time `gorm:"not null" json:"bucket_end"`
	ForecastCalls float64   `gorm:"not null" json:"forecast_calls"`
	ModelVersion  string    `gorm:"type:varchar(32);not null" json:"model_version"`
	RunID         string    `gorm:"type:varchar(36);index" json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func (ForecastBucket) TableName() string {
	return "forecast_heatmap"
}
