package strategies

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const DefaultWeatherConfidence = 0.95

// Overlap is a precomputed intersection between a call and a severe-weather alert.
type Overlap struct {
	EventType       string    `json:"event_type"`
	Severity        string    `json:"severity"`
	AreaDescription string    `json:"area_description,omitempty"`
	OverlapStart    time.Time `json:"overlap_start"`
	OverlapEnd      time.Time `json:"overlap_end"`
}

// OverlapSource returns the weather overlaps recorded for a call.
type OverlapSource interface {
	OverlapsForCall(ctx context.Context, callRowID uint) ([]Overlap, error)
}

// ErrNoOverlapSource is returned when the weather strategy runs without a source.
var ErrNoOverlapSource = errors.New("weather: no overlap source configured")

var severityRank = map[string]int{
	"extreme":  4,
	"severe":   3,
	"moderate": 2,
	"minor":    1,
}

func rankSeverity(s string) int {
	return severityRank[strings.ToLower(strings.TrimSpace(s))]
}

// Weather excludes calls that overlap a recorded severe-weather alert.
type Weather struct {
	source OverlapSource
}

func NewWeather(source OverlapSource) *Weather {
	return &Weather{source: source}
}

// Key implements Strategy.
func (w *Weather) Key() Key { return KeyWeather }

// Evaluate implements Strategy. A call with no overlaps gets an explicit
// non-excluding vote so the check shows up in the audit trail.
func (w *Weather) Evaluate(ctx context.Context, call CallContext, setting Setting) (*Vote, error) {
	if w.source == nil {
		return nil, ErrNoOverlapSource
	}
	overlaps, err := w.source.OverlapsForCall(ctx, call.CallRowID)
	if err != nil {
		return nil, fmt.Errorf("load weather overlaps: %w", err)
	}

	confidence := setting.Float("confidence", DefaultWeatherConfidence)
	if len(overlaps) == 0 {
		return &Vote{
			ShouldExclude: false,
			Reason:        "No severe weather alerts overlapped the call",
			Confidence:    confidence,
			Metadata:      map[string]any{"overlap_count": 0},
		}, nil
	}

	sorted := make([]Overlap, len(overlaps))
	copy(sorted, overlaps)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rankSeverity(sorted[i].Severity), rankSeverity(sorted[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return sorted[i].OverlapStart.Before(sorted[j].OverlapStart)
	})
	top := sorted[0]

	return &Vote{
		ShouldExclude: true,
		Reason:        fmt.Sprintf("Severe Weather Alert: %s (%s)", top.EventType, top.Severity),
		Confidence:    confidence,
		Metadata: map[string]any{
			"overlap_count":    len(sorted),
			"event_type":       top.EventType,
			"severity":         top.Severity,
			"area_description": top.AreaDescription,
			"overlap_start":    top.OverlapStart,
			"overlap_end":      top.OverlapEnd,
			"overlaps":         sorted,
		},
	}, nil
}
