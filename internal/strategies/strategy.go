// Package strategies holds the auto-exclusion strategies and the engine that
// arbitrates between their votes.
package strategies

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Key identifies a strategy kind. The set is closed; see AllKeys.
type Key string

const (
	KeyPeakCallLoad Key = "peak_call_load"
	KeyWeather      Key = "weather"
	KeyCADOutage    Key = "cad_outage"
)

// AllKeys returns every strategy kind in registration order.
func AllKeys() []Key {
	return []Key{KeyPeakCallLoad, KeyWeather, KeyCADOutage}
}

// Valid reports whether k is a known strategy kind.
func (k Key) Valid() bool {
	for _, known := range AllKeys() {
		if k == known {
			return true
		}
	}
	return false
}

// Setting is the per-strategy configuration: an enabled flag and a free-form
// parameter bag.
type Setting struct {
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Params  map[string]any `yaml:"params" json:"params,omitempty"`
}

// Float reads a numeric parameter, falling back to def when absent or not numeric.
func (s Setting) Float(name string, def float64) float64 {
	v, ok := s.Params[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return def
}

// Int reads an integer parameter.
func (s Setting) Int(name string, def int) int {
	return int(s.Float(name, float64(def)))
}

// String reads a string parameter.
func (s Setting) String(name, def string) string {
	if v, ok := s.Params[name].(string); ok && v != "" {
		return v
	}
	return def
}

// Settings maps each strategy kind to its configuration.
type Settings map[Key]Setting

// DefaultSettings are the global defaults applied when no rules file overrides them.
func DefaultSettings() Settings {
	return Settings{
		KeyPeakCallLoad: {
			Enabled: true,
			Params: map[string]any{
				"window_minutes":  float64(DefaultPeakWindowMinutes),
				"min_calls":       float64(DefaultPeakMinCalls),
				"base_confidence": DefaultPeakBaseConfidence,
				"max_confidence":  DefaultPeakMaxConfidence,
			},
		},
		KeyWeather: {
			Enabled: true,
			Params: map[string]any{
				"confidence": DefaultWeatherConfidence,
			},
		},
		KeyCADOutage: {
			Enabled: false,
			Params: map[string]any{
				"confidence": DefaultOutageConfidence,
				"windows":    []any{},
			},
		},
	}
}

// Merge overlays o on top of s. Parameters are merged key by key; the enabled
// flag of an overriding entry always wins.
func (s Settings) Merge(o Settings) Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = Setting{Enabled: v.Enabled, Params: copyParams(v.Params)}
	}
	for k, v := range o {
		base, ok := out[k]
		if !ok {
			out[k] = Setting{Enabled: v.Enabled, Params: copyParams(v.Params)}
			continue
		}
		base.Enabled = v.Enabled
		for pk, pv := range v.Params {
			if base.Params == nil {
				base.Params = make(map[string]any)
			}
			base.Params[pk] = pv
		}
		out[k] = base
	}
	return out
}

func copyParams(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// CallContext is everything a strategy may read about the call under evaluation.
type CallContext struct {
	CallRowID        uint
	CallID           string
	ParishID         uint
	RegionID         uint
	QueueTime        *time.Time
	OnSceneTime      *time.Time
	ResponseMinutes  *float64
	ThresholdMinutes float64
	Compliant        *bool

	// Window is an optional precomputed peak-load window for this call, filled
	// in by batch evaluation so each call does not re-query its own window.
	Window *WindowStats
}

// Vote is a non-abstaining strategy result.
type Vote struct {
	ShouldExclude bool           `json:"should_exclude"`
	Reason        string         `json:"reason"`
	Confidence    float64        `json:"confidence"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Strategy is implemented by every strategy kind. Returning a nil vote and nil
// error means the strategy abstains.
type Strategy interface {
	Key() Key
	Evaluate(ctx context.Context, call CallContext, setting Setting) (*Vote, error)
}

// ErrUnknownStrategy is returned when registering a strategy outside the closed set.
type ErrUnknownStrategy struct {
	Key Key
}

func (e ErrUnknownStrategy) Error() string {
	return fmt.Sprintf("unknown strategy %q", string(e.Key))
}
