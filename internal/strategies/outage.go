package strategies

import (
	"context"
	"fmt"
	"time"
)

const DefaultOutageConfidence = 0.8

// OutageWindow is a configured CAD or system outage interval.
type OutageWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label,omitempty"`
}

// Contains reports whether t falls inside the window, inclusive at both ends.
func (w OutageWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// CADOutage excludes calls queued during a configured outage window. It reads
// its windows from the strategy params and is disabled by default.
type CADOutage struct{}

func NewCADOutage() *CADOutage {
	return &CADOutage{}
}

// Key implements Strategy.
func (o *CADOutage) Key() Key { return KeyCADOutage }

// Evaluate implements Strategy.
func (o *CADOutage) Evaluate(_ context.Context, call CallContext, setting Setting) (*Vote, error) {
	if call.QueueTime == nil {
		return nil, nil
	}
	windows, err := ParseOutageWindows(setting.Params["windows"])
	if err != nil {
		return nil, err
	}
	confidence := setting.Float("confidence", DefaultOutageConfidence)

	for _, w := range windows {
		if !w.Contains(*call.QueueTime) {
			continue
		}
		label := w.Label
		if label == "" {
			label = "unlabeled outage"
		}
		return &Vote{
			ShouldExclude: true,
			Reason:        fmt.Sprintf("CAD/System Outage: %s", label),
			Confidence:    confidence,
			Metadata: map[string]any{
				"outage_start": w.Start,
				"outage_end":   w.End,
				"label":        w.Label,
			},
		}, nil
	}

	return &Vote{
		ShouldExclude: false,
		Reason:        "Call was not queued during a configured outage",
		Confidence:    confidence,
		Metadata:      map[string]any{"windows_checked": len(windows)},
	}, nil
}

// ParseOutageWindows decodes the windows param: a list of objects with RFC 3339
// start and end strings and an optional label.
func ParseOutageWindows(v any) ([]OutageWindow, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("cad_outage: windows must be a list, got %T", v)
	}
	out := make([]OutageWindow, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cad_outage: window %d must be an object", i)
		}
		start, err := parseWindowTime(m, "start")
		if err != nil {
			return nil, fmt.Errorf("cad_outage: window %d: %w", i, err)
		}
		end, err := parseWindowTime(m, "end")
		if err != nil {
			return nil, fmt.Errorf("cad_outage: window %d: %w", i, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("cad_outage: window %d ends before it starts", i)
		}
		label, _ := m["label"].(string)
		out = append(out, OutageWindow{Start: start, End: end, Label: label})
	}
	return out, nil
}

func parseWindowTime(m map[string]any, field string) (time.Time, error) {
	switch v := m[field].(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", field, err)
		}
		return t, nil
	case time.Time:
		return v, nil
	default:
		return time.Time{}, fmt.Errorf("%s: expected an RFC 3339 string", field)
	}
}
