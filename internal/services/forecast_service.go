package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parishems/compliance/internal/database"
)

const (
	// ForecastModelVersion identifies the mean-per-hour model.
	ForecastModelVersion = "naive_v0"
	// ForecastCellGlobal is the only cell the current model writes.
	ForecastCellGlobal = "global"

	forecastLookback = 90 * 24 * time.Hour
	forecastBucket   = time.Hour
)

// Forecast granularities accepted by Generate.
const (
	GranularityGlobal = "global"
	GranularityZone   = "zone"
	GranularityHex    = "hex"
)

var (
	ErrInvalidForecastRange       = errors.New("forecast end must not be before start")
	ErrInvalidForecastGranularity = errors.New("granularity must be one of global, zone, hex")
)

// ForecastRequest asks for an hourly call-volume forecast for one parish.
type ForecastRequest struct {
	ParishID    uint      `json:"parish_id" validate:"required"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required"`
	Granularity string    `json:"granularity"`
}

// ForecastResult summarizes one forecast run.
type ForecastResult struct {
	RunID            string  `json:"run_id,omitempty"`
	RowsWritten      int     `json:"rows_written"`
	ModelVersion     string  `json:"model_version"`
	MeanCallsPerHour float64 `json:"mean_calls_per_hour"`
	HistoryCalls     int     `json:"history_calls"`
	Message          string  `json:"message,omitempty"`
}

// ForecastService writes naive call-volume forecasts into the forecast heatmap.
type ForecastService struct {
	db *gorm.DB
}

// NewForecastService creates a new forecast service
func NewForecastService(db *gorm.DB) *ForecastService {
	return &ForecastService{db: db}
}

// Generate forecasts every hour from start through end as the mean number of
// calls per non-empty hour over the 90 days before start. All rows of a run
// are written in one transaction. Zone and hex granularities are accepted but
// still written to the global cell.
func (s *ForecastService) Generate(ctx context.Context, req ForecastRequest) (*ForecastResult, error) {
	if req.Granularity == "" {
		req.Granularity = GranularityGlobal
	}
	switch req.Granularity {
	case GranularityGlobal, GranularityZone, GranularityHex:
	default:
		return nil, ErrInvalidForecastGranularity
	}
	if req.End.Before(req.Start) {
		return nil, ErrInvalidForecastRange
	}
	start, end := req.Start.UTC(), req.End.UTC()

	var history []time.Time
	err := s.db.WithContext(ctx).Model(&database.Call{}).
		Where("parish_id = ? AND queue_time IS NOT NULL AND queue_time >= ? AND queue_time < ?",
			req.ParishID, start.Add(-forecastLookback), end).
		Pluck("queue_time", &history).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load call history: %w", err)
	}

	result := &ForecastResult{ModelVersion: ForecastModelVersion, HistoryCalls: len(history)}
	if len(history) == 0 {
		result.Message = "No data"
		return result, nil
	}

	buckets := make(map[time.Time]int)
	for _, t := range history {
		buckets[t.UTC().Truncate(forecastBucket)]++
	}
	mean := float64(len(history)) / float64(len(buckets))
	result.MeanCallsPerHour = mean
	result.RunID = uuid.NewString()

	var rows []database.ForecastBucket
	for t := start; !t.After(end); t = t.Add(forecastBucket) {
		rows = append(rows, database.ForecastBucket{
			ParishID:      req.ParishID,
			CellID:        ForecastCellGlobal,
			BucketStart:   t,
			BucketEnd:     t.Add(forecastBucket),
			ForecastCalls: mean,
			ModelVersion:  ForecastModelVersion,
			RunID:         result.RunID,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 500).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write forecast: %w", err)
	}
	result.RowsWritten = len(rows)

	log.Printf("Forecast %s for parish %d: %d hourly buckets at %.2f calls/hour (%d calls of history)",
		result.RunID, req.ParishID, len(rows), mean, len(history))
	return result, nil
}

// Buckets returns the forecast rows of a parish that start inside [start, end].
func (s *ForecastService) Buckets(ctx context.Context, parishID uint, start, end time.Time) ([]database.ForecastBucket, error) {
	var out []database.ForecastBucket
	err := s.db.WithContext(ctx).
		Where("parish_id = ? AND bucket_start >= ? AND bucket_start <= ?", parishID, start.UTC(), end.UTC()).
		Order("bucket_start ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load forecast: %w", err)
	}
	return out, nil
}
