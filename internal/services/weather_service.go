package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/parishems/compliance/internal/database"
	"github.com/parishems/compliance/internal/strategies"
)

// ErrInvalidOverlap is returned for an overlap whose interval is empty or reversed.
var ErrInvalidOverlap = errors.New("invalid weather overlap")

// WeatherService stores precomputed weather overlaps and serves them to the
// weather strategy.
type WeatherService struct {
	db *gorm.DB
}

// NewWeatherService creates a new weather service
func NewWeatherService(db *gorm.DB) *WeatherService {
	return &WeatherService{db: db}
}

// Record stores a batch of overlaps in one transaction. Every referenced call
// must exist.
func (s *WeatherService) Record(ctx context.Context, overlaps []database.WeatherOverlap) (int, error) {
	if len(overlaps) == 0 {
		return 0, nil
	}
	for i, o := range overlaps {
		if o.EventType == "" || o.OverlapEnd.Before(o.OverlapStart) {
			return 0, fmt.Errorf("%w: row %d", ErrInvalidOverlap, i)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make(map[uint]struct{})
		for _, o := range overlaps {
			ids[o.CallID] = struct{}{}
		}
		keys := make([]uint, 0, len(ids))
		for id := range ids {
			keys = append(keys, id)
		}
		var found int64
		if err := tx.Model(&database.Call{}).Where("id IN ?", keys).Count(&found).Error; err != nil {
			return err
		}
		if int(found) != len(keys) {
			return fmt.Errorf("%w: overlap references an unknown call", ErrCallNotFound)
		}

		rows := make([]database.WeatherOverlap, len(overlaps))
		for i, o := range overlaps {
			o.ID = 0
			o.OverlapStart = o.OverlapStart.UTC()
			o.OverlapEnd = o.OverlapEnd.UTC()
			rows[i] = o
		}
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return 0, err
	}
	log.Printf("Recorded %d weather overlaps", len(overlaps))
	return len(overlaps), nil
}

// OverlapsForCall implements strategies.OverlapSource.
func (s *WeatherService) OverlapsForCall(ctx context.Context, callRowID uint) ([]strategies.Overlap, error) {
	var rows []database.WeatherOverlap
	err := s.db.WithContext(ctx).
		Where("call_id = ?", callRowID).
		Order("overlap_start ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load weather overlaps: %w", err)
	}
	out := make([]strategies.Overlap, len(rows))
	for i, r := range rows {
		out[i] = r.Strategy()
	}
	return out, nil
}
