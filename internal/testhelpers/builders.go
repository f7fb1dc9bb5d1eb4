package testhelpers

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/parishems/compliance/internal/database"
)

// BaseTime is the default queue time for built calls
var BaseTime = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

// ========================================
// Call Builder
// ========================================

// CallBuilder builds Call instances for testing
type CallBuilder struct {
	call database.Call
}

// NewCallBuilder creates a priority-1 call in parish 1, region 1, queued at
// BaseTime and on scene eight minutes later.
func NewCallBuilder() *CallBuilder {
	queue := BaseTime
	onScene := queue.Add(8 * time.Minute)
	return &CallBuilder{
		call: database.Call{
			CallID:        "C-1",
			UnitName:      "MEDIC1",
			ParishID:      1,
			RegionID:      1,
			Address:       "100 Main St",
			ResponseDate:  queue.Format("2006-01-02"),
			PriorityCode:  "1",
			QueueTime:     &queue,
			OnSceneTime:   &onScene,
			ExclusionType: database.ExclusionNone,
		},
	}
}

// WithID sets the row ID
func (b *CallBuilder) WithID(id uint) *CallBuilder {
	b.call.ID = id
	return b
}

// WithCallID sets the external call ID
func (b *CallBuilder) WithCallID(callID string) *CallBuilder {
	b.call.CallID = callID
	return b
}

// WithUnit sets the responding unit
func (b *CallBuilder) WithUnit(unit string) *CallBuilder {
	b.call.UnitName = unit
	return b
}

// InParish sets the parish
func (b *CallBuilder) InParish(parishID uint) *CallBuilder {
	b.call.ParishID = parishID
	return b
}

// InRegion sets the region
func (b *CallBuilder) InRegion(regionID uint) *CallBuilder {
	b.call.RegionID = regionID
	return b
}

// WithZone sets the zone name
func (b *CallBuilder) WithZone(zone string) *CallBuilder {
	b.call.ZoneName = &zone
	return b
}

// WithPriority sets the priority code
func (b *CallBuilder) WithPriority(code string) *CallBuilder {
	b.call.PriorityCode = code
	return b
}

// QueuedAt moves the call to queue time q, keeping its response time
func (b *CallBuilder) QueuedAt(q time.Time) *CallBuilder {
	var response time.Duration
	if b.call.QueueTime != nil && b.call.OnSceneTime != nil {
		response = b.call.OnSceneTime.Sub(*b.call.QueueTime)
	}
	b.call.QueueTime = &q
	if b.call.OnSceneTime != nil {
		onScene := q.Add(response)
		b.call.OnSceneTime = &onScene
	}
	b.call.ResponseDate = q.Format("2006-01-02")
	return b
}

// QueuedMinutesAfterBase is QueuedAt(BaseTime + minutes)
func (b *CallBuilder) QueuedMinutesAfterBase(minutes float64) *CallBuilder {
	return b.QueuedAt(BaseTime.Add(time.Duration(minutes * float64(time.Minute))))
}

// WithResponseMinutes sets the on-scene time relative to the queue time
func (b *CallBuilder) WithResponseMinutes(minutes float64) *CallBuilder {
	onScene := b.call.QueueTime.Add(time.Duration(minutes * float64(time.Minute)))
	b.call.OnSceneTime = &onScene
	return b
}

// WithOverride sets a manual response-minutes override
func (b *CallBuilder) WithOverride(minutes float64) *CallBuilder {
	b.call.ResponseMinutesOverride = &minutes
	return b
}

// WithoutOnScene clears the on-scene time
func (b *CallBuilder) WithoutOnScene() *CallBuilder {
	b.call.OnSceneTime = nil
	return b
}

// WithoutQueueTime clears the queue time
func (b *CallBuilder) WithoutQueueTime() *CallBuilder {
	b.call.QueueTime = nil
	return b
}

// AutoExcluded marks the call excluded by a strategy and evaluated
func (b *CallBuilder) AutoExcluded(strategy string) *CallBuilder {
	now := time.Now()
	reason := "excluded by " + strategy
	b.call.ExclusionType = database.ExclusionAuto
	b.call.ExclusionStrategy = &strategy
	b.call.ExclusionReason = &reason
	b.call.ExcludedAt = &now
	b.call.AutoEvaluated = true
	b.call.AutoEvaluatedAt = &now
	return b
}

// ManuallyExcluded marks the call excluded by a person
func (b *CallBuilder) ManuallyExcluded(actor, reason string) *CallBuilder {
	now := time.Now()
	b.call.ExclusionType = database.ExclusionManual
	b.call.ExclusionReason = &reason
	b.call.ExcludedBy = &actor
	b.call.ExcludedAt = &now
	return b
}

// Evaluated marks the call as already auto-evaluated
func (b *CallBuilder) Evaluated() *CallBuilder {
	now := time.Now()
	b.call.AutoEvaluated = true
	b.call.AutoEvaluatedAt = &now
	return b
}

// Build returns the constructed call
func (b *CallBuilder) Build() database.Call {
	return b.call
}

// Create inserts the call and returns it with its ID set
func (b *CallBuilder) Create(t *testing.T, db *gorm.DB) *database.Call {
	t.Helper()
	call := b.call
	if err := db.Create(&call).Error; err != nil {
		t.Fatalf("failed to create call %s: %v", call.CallID, err)
	}
	return &call
}

// ========================================
// Weather Overlap Builder
// ========================================

// WeatherOverlapBuilder builds WeatherOverlap instances for testing
type WeatherOverlapBuilder struct {
	overlap database.WeatherOverlap
}

// NewWeatherOverlapBuilder creates a severe thunderstorm overlap around BaseTime
func NewWeatherOverlapBuilder(callID uint) *WeatherOverlapBuilder {
	return &WeatherOverlapBuilder{
		overlap: database.WeatherOverlap{
			CallID:          callID,
			EventType:       "Severe Thunderstorm Warning",
			Severity:        "Severe",
			AreaDescription: "Test Parish",
			OverlapStart:    BaseTime.Add(-30 * time.Minute),
			OverlapEnd:      BaseTime.Add(30 * time.Minute),
		},
	}
}

// WithEvent sets the event type and severity
func (b *WeatherOverlapBuilder) WithEvent(eventType, severity string) *WeatherOverlapBuilder {
	b.overlap.EventType = eventType
	b.overlap.Severity = severity
	return b
}

// Build returns the constructed overlap
func (b *WeatherOverlapBuilder) Build() database.WeatherOverlap {
	return b.overlap
}

// Create inserts the overlap
func (b *WeatherOverlapBuilder) Create(t *testing.T, db *gorm.DB) *database.WeatherOverlap {
	t.Helper()
	overlap := b.overlap
	if err := db.Create(&overlap).Error; err != nil {
		t.Fatalf("failed to create weather overlap: %v", err)
	}
	return &overlap
}
