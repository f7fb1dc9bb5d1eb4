package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parishems/compliance/internal/calls"
	"github.com/parishems/compliance/internal/compliance"
	"github.com/parishems/compliance/internal/database"
	"github.com/parishems/compliance/internal/strategies"
)

// ErrCallNotFound is returned when a call lookup matches no row.
var ErrCallNotFound = errors.New("call not found")

// EvaluationTrigger schedules a fire-and-forget evaluation of a stored call.
type EvaluationTrigger interface {
	Enqueue(callID uint) error
}

// IngestResult summarizes one ingest batch.
type IngestResult struct {
	Received   int              `json:"received"`
	Normalized int              `json:"normalized"`
	RowErrors  []calls.RowError `json:"row_errors,omitempty"`
	Dedup      calls.DedupStats `json:"dedup"`
	Inserted   int              `json:"inserted"`
	Duplicates int              `json:"duplicates"`
	Queued     int              `json:"queued"`
	CallIDs    []uint           `json:"call_ids"`
}

// CallFilter narrows call listings. Zero values do not filter.
type CallFilter struct {
	ParishID      uint
	RegionID      uint
	ExclusionType database.ExclusionType
	NeedsReview   *bool
	Evaluated     *bool
	From          *time.Time
	To            *time.Time
}

// CallService stores and looks up calls
type CallService struct {
	db      *gorm.DB
	loc     *time.Location
	trigger EvaluationTrigger
}

// NewCallService creates a new call service. loc is the zone naive CAD
// timestamps are read in.
func NewCallService(db *gorm.DB, loc *time.Location) *CallService {
	if loc == nil {
		loc = time.UTC
	}
	return &CallService{db: db, loc: loc}
}

// SetTrigger wires newly ingested calls to the evaluation queue.
func (s *CallService) SetTrigger(trigger EvaluationTrigger) {
	s.trigger = trigger
}

// Ingest normalizes, deduplicates and stores a batch of raw rows. Calls whose
// call_id already exists are skipped. Every inserted call is handed to the
// evaluation trigger after the batch commits.
func (s *CallService) Ingest(ctx context.Context, rows []calls.RawCall) (*IngestResult, error) {
	result := &IngestResult{Received: len(rows), CallIDs: []uint{}}

	records, rowErrors := calls.NormalizeAll(rows, s.loc)
	result.Normalized = len(records)
	result.RowErrors = rowErrors

	kept, stats := calls.DeduplicateWithStats(records)
	result.Dedup = stats

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range kept {
			call := callFromRecord(rec)
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "call_id"}},
				DoNothing: true,
			}).Create(&call)
			if res.Error != nil {
				return fmt.Errorf("failed to insert call %s: %w", rec.CallID, res.Error)
			}
			if res.RowsAffected == 0 {
				result.Duplicates++
				continue
			}
			result.Inserted++
			result.CallIDs = append(result.CallIDs, call.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Ingested %d rows: %d normalized, %d row errors, %d kept after dedup (%d racing groups), %d inserted, %d duplicates",
		result.Received, result.Normalized, len(rowErrors), stats.Kept, stats.RacingGroups, result.Inserted, result.Duplicates)

	if s.trigger != nil {
		for _, id := range result.CallIDs {
			if err := s.trigger.Enqueue(id); err != nil {
				// The sweep picks up anything the queue could not take.
				log.Printf("Failed to queue evaluation for call %d: %v", id, err)
				continue
			}
			result.Queued++
		}
	}
	return result, nil
}

func callFromRecord(rec calls.Record) database.Call {
	call := database.Call{
		CallID:                  rec.CallID,
		IncidentKey:             rec.IncidentKey,
		UnitName:                rec.UnitName,
		ParishID:                rec.ParishID,
		RegionID:                rec.RegionID,
		ZoneName:                rec.ZoneName,
		Address:                 rec.Address,
		ResponseDate:            rec.ResponseDate,
		PriorityCode:            rec.PriorityCode,
		QueueTime:               utc(rec.Times.Queue),
		DispatchTime:            utc(rec.Times.Dispatch),
		EnrouteTime:             utc(rec.Times.Enroute),
		StagedTime:              utc(rec.Times.Staged),
		OnSceneTime:             utc(rec.Times.OnScene),
		DepartSceneTime:         utc(rec.Times.Depart),
		ArrivedDestinationTime:  utc(rec.Times.ArrivedDestination),
		ClearedTime:             utc(rec.Times.Cleared),
		ResponseMinutesOverride: rec.OverrideMinutes,
		ExclusionType:           database.ExclusionNone,
	}
	call.ResponseMinutes = rec.Timing().EffectiveResponseMinutes()
	return call
}

// Stored times are UTC so range queries compare consistently on every driver.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Get returns a call by row ID
func (s *CallService) Get(ctx context.Context, id uint) (*database.Call, error) {
	var call database.Call
	if err := s.db.WithContext(ctx).First(&call, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to load call %d: %w", id, err)
	}
	return &call, nil
}

// GetByCallID returns a call by its external call ID
func (s *CallService) GetByCallID(ctx context.Context, callID string) (*database.Call, error) {
	var call database.Call
	if err := s.db.WithContext(ctx).Where("call_id = ?", callID).First(&call).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to load call %s: %w", callID, err)
	}
	return &call, nil
}

// List returns one page of calls matching filter, newest queue time first,
// and the total number of matches.
func (s *CallService) List(ctx context.Context, filter CallFilter, limit, offset int) ([]database.Call, int64, error) {
	q := applyCallFilter(s.db.WithContext(ctx).Model(&database.Call{}), filter)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count calls: %w", err)
	}

	var out []database.Call
	err := q.Order("queue_time DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list calls: %w", err)
	}
	return out, total, nil
}

func applyCallFilter(q *gorm.DB, f CallFilter) *gorm.DB {
	if f.ParishID != 0 {
		q = q.Where("parish_id = ?", f.ParishID)
	}
	if f.RegionID != 0 {
		q = q.Where("region_id = ?", f.RegionID)
	}
	if f.ExclusionType != "" {
		q = q.Where("exclusion_type = ?", f.ExclusionType)
	}
	if f.NeedsReview != nil {
		q = q.Where("needs_review = ?", *f.NeedsReview)
	}
	if f.Evaluated != nil {
		q = q.Where("auto_evaluated = ?", *f.Evaluated)
	}
	if f.From != nil {
		q = q.Where("queue_time >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("queue_time <= ?", f.To.UTC())
	}
	return q
}

// EligibleCalls returns the calls that count toward compliance scoring:
// priority 1-3 with a recorded on-scene time.
func (s *CallService) EligibleCalls(ctx context.Context, filter CallFilter) ([]database.Call, error) {
	q := applyCallFilter(s.db.WithContext(ctx).Model(&database.Call{}), filter)
	var out []database.Call
	err := q.Where("priority_code IN ?", compliance.EligiblePriorities()).
		Where("on_scene_time IS NOT NULL").
		Order("queue_time ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load eligible calls: %w", err)
	}
	return out, nil
}

// CallsInWindow returns every call of a parish queued in [start, end]. It
// implements strategies.WindowSource.
func (s *CallService) CallsInWindow(ctx context.Context, parishID uint, start, end time.Time) ([]strategies.WindowCall, error) {
	var rows []struct {
		ID        uint
		QueueTime time.Time
	}
	err := s.db.WithContext(ctx).Model(&database.Call{}).
		Select("id", "queue_time").
		Where("parish_id = ? AND queue_time >= ? AND queue_time <= ?", parishID, start.UTC(), end.UTC()).
		Order("queue_time ASC").Order("id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load calls in window: %w", err)
	}

	out := make([]strategies.WindowCall, len(rows))
	for i, r := range rows {
		out[i] = strategies.WindowCall{ID: r.ID, QueueTime: r.QueueTime}
	}
	return out, nil
}
