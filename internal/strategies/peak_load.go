package strategies

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"
)

const (
	DefaultPeakWindowMinutes  = 45
	DefaultPeakMinCalls       = 3
	DefaultPeakBaseConfidence = 0.90
	DefaultPeakMaxConfidence  = 0.95

	// Calls at these positions in a surge are never auto-excluded.
	reservedPositions = 2
)

// Metadata keys shared with services that act on review flags.
const (
	MetaRequiresReview = "requires_review"
	MetaReviewReason   = "review_reason"
	MetaAction         = "action"
)

// Peak-load actions recorded in vote metadata.
const (
	ActionNone        = "none"
	ActionAutoExclude = "auto_exclude"
	ActionReview      = "human_review"
)

// WindowCall is the minimum a peak-load window needs to know about a call.
type WindowCall struct {
	ID        uint
	QueueTime time.Time
}

// WindowSource returns every call of a parish queued in [start, end].
type WindowSource interface {
	CallsInWindow(ctx context.Context, parishID uint, start, end time.Time) ([]WindowCall, error)
}

// WindowStats is a call's place in the peak-load window ending at its queue time.
type WindowStats struct {
	Position      int       `json:"position"`
	Count         int       `json:"count"`
	WindowMinutes float64   `json:"window_minutes"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
}

// ErrNoWindowSource is returned when no precomputed window is available and no
// source was configured to query one.
var ErrNoWindowSource = errors.New("peak call load: no window source configured")

func sortWindowCalls(calls []WindowCall) {
	sort.SliceStable(calls, func(i, j int) bool {
		if calls[i].QueueTime.Equal(calls[j].QueueTime) {
			return calls[i].ID < calls[j].ID
		}
		return calls[i].QueueTime.Before(calls[j].QueueTime)
	})
}

// ComputeWindowPositions computes window stats for every call of one parish in a
// single pass. Calls are ordered by queue time, then id; each call's window is
// [queue-window, queue], inclusive at both ends.
func ComputeWindowPositions(calls []WindowCall, window time.Duration) map[uint]WindowStats {
	sorted := make([]WindowCall, len(calls))
	copy(sorted, calls)
	sortWindowCalls(sorted)

	out := make(map[uint]WindowStats, len(sorted))
	lo, hi := 0, 0
	for i, c := range sorted {
		start := c.QueueTime.Add(-window)
		for sorted[lo].QueueTime.Before(start) {
			lo++
		}
		if hi < i {
			hi = i
		}
		// Calls sharing this queue time are inside the window too.
		for hi+1 < len(sorted) && !sorted[hi+1].QueueTime.After(c.QueueTime) {
			hi++
		}
		out[c.ID] = WindowStats{
			Position:      i - lo + 1,
			Count:         hi - lo + 1,
			WindowMinutes: window.Minutes(),
			WindowStart:   start,
			WindowEnd:     c.QueueTime,
		}
	}
	return out
}

// PeakCallLoad excludes late calls that arrived during a call-volume surge.
type PeakCallLoad struct {
	source WindowSource
}

// NewPeakCallLoad creates the strategy. source may be nil when every evaluation
// carries a precomputed window.
func NewPeakCallLoad(source WindowSource) *PeakCallLoad {
	return &PeakCallLoad{source: source}
}

// Key implements Strategy.
func (p *PeakCallLoad) Key() Key { return KeyPeakCallLoad }

// Evaluate implements Strategy. It has three outcomes once the window holds at
// least min_calls calls and the call is third or later: auto-exclude a late
// call, flag a compliant call for human review, or take no action.
func (p *PeakCallLoad) Evaluate(ctx context.Context, call CallContext, setting Setting) (*Vote, error) {
	if call.QueueTime == nil || call.Compliant == nil {
		return nil, nil
	}

	windowMinutes := setting.Float("window_minutes", DefaultPeakWindowMinutes)
	minCalls := setting.Int("min_calls", DefaultPeakMinCalls)

	stats, err := p.window(ctx, call, windowMinutes)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"window_minutes":  windowMinutes,
		"window_start":    stats.WindowStart,
		"window_end":      stats.WindowEnd,
		"calls_in_window": stats.Count,
		"window_position": stats.Position,
		"min_calls":       minCalls,
		"compliant":       *call.Compliant,
	}
	base := setting.Float("base_confidence", DefaultPeakBaseConfidence)

	if stats.Count < minCalls {
		log.Printf("Peak load: call %s not excluded, %d calls in %g-minute window (threshold %d)",
			call.CallID, stats.Count, windowMinutes, minCalls)
		meta[MetaAction] = ActionNone
		return &Vote{
			ShouldExclude: false,
			Reason:        fmt.Sprintf("Only %d calls in %g-minute window (threshold %d)", stats.Count, windowMinutes, minCalls),
			Confidence:    base,
			Metadata:      meta,
		}, nil
	}

	if stats.Position <= reservedPositions {
		meta[MetaAction] = ActionNone
		return &Vote{
			ShouldExclude: false,
			Reason:        fmt.Sprintf("Call #%d of %d in window; the first %d calls of a surge are not auto-excluded", stats.Position, stats.Count, reservedPositions),
			Confidence:    base,
			Metadata:      meta,
		}, nil
	}

	if !*call.Compliant {
		meta[MetaAction] = ActionAutoExclude
		return &Vote{
			ShouldExclude: true,
			Reason:        fmt.Sprintf("Peak call load: call #%d of %d within %g minutes", stats.Position, stats.Count, windowMinutes),
			Confidence:    peakConfidence(stats.Position, base, setting.Float("max_confidence", DefaultPeakMaxConfidence)),
			Metadata:      meta,
		}, nil
	}

	reviewReason := fmt.Sprintf("Call #%d of %d in a %g-minute surge met its threshold; confirm it should stay in the denominator", stats.Position, stats.Count, windowMinutes)
	meta[MetaAction] = ActionReview
	meta[MetaRequiresReview] = true
	meta[MetaReviewReason] = reviewReason
	return &Vote{
		ShouldExclude: false,
		Reason:        "Peak call load surge but call was compliant; flagged for human review",
		Confidence:    base,
		Metadata:      meta,
	}, nil
}

// peakConfidence grows by 0.01 per position past the reserved ones, capped.
func peakConfidence(position int, base, ceiling float64) float64 {
	c := base + 0.01*float64(position-reservedPositions-1)
	return math.Min(c, ceiling)
}

func (p *PeakCallLoad) window(ctx context.Context, call CallContext, windowMinutes float64) (WindowStats, error) {
	if call.Window != nil && call.Window.WindowMinutes == windowMinutes {
		return *call.Window, nil
	}
	if p.source == nil {
		return WindowStats{}, ErrNoWindowSource
	}

	window := time.Duration(windowMinutes * float64(time.Minute))
	end := *call.QueueTime
	start := end.Add(-window)
	calls, err := p.source.CallsInWindow(ctx, call.ParishID, start, end)
	if err != nil {
		return WindowStats{}, fmt.Errorf("load peak window: %w", err)
	}

	found := false
	for _, c := range calls {
		if c.ID == call.CallRowID {
			found = true
			break
		}
	}
	if !found {
		calls = append(calls, WindowCall{ID: call.CallRowID, QueueTime: end})
	}
	sortWindowCalls(calls)

	position := 0
	for i, c := range calls {
		if c.ID == call.CallRowID {
			position = i + 1
			break
		}
	}
	return WindowStats{
		Position:      position,
		Count:         len(calls),
		WindowMinutes: windowMinutes,
		WindowStart:   start,
		WindowEnd:     end,
	}, nil
}
