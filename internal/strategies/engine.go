package strategies

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// EngineVersion is stamped into every decision so it can be reproduced later.
const EngineVersion = "2.1.0"

// StrategyResult is one strategy's contribution to a decision, kept for audit
// whether or not the strategy voted.
type StrategyResult struct {
	Strategy      Key            `json:"strategy"`
	Abstained     bool           `json:"abstained"`
	ShouldExclude bool           `json:"should_exclude"`
	Reason        string         `json:"reason,omitempty"`
	Confidence    float64        `json:"confidence"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// RequiresReview reports whether the strategy flagged the call for a human reviewer.
func (r StrategyResult) RequiresReview() bool {
	flag, _ := r.Metadata[MetaRequiresReview].(bool)
	return flag
}

// DecisionMetadata records how and when a decision was produced.
type DecisionMetadata struct {
	EngineVersion       string          `json:"engine_version"`
	EvaluatedAt         time.Time       `json:"evaluated_at"`
	StrategiesRun       []Key           `json:"strategies_run"`
	StrategiesExcluding []Key           `json:"strategies_excluding"`
	StrategyErrors      map[Key]string  `json:"strategy_errors,omitempty"`
	Settings            map[Key]Setting `json:"settings,omitempty"`
}

// Decision is the outcome of evaluating one call.
type Decision struct {
	IsExcluded      bool             `json:"is_excluded"`
	PrimaryStrategy *Key             `json:"primary_strategy"`
	Reason          *string          `json:"reason"`
	Confidence      float64          `json:"confidence,omitempty"`
	StrategyResults []StrategyResult `json:"strategy_results"`
	Metadata        DecisionMetadata `json:"metadata"`
}

// Primary returns the winning strategy result, if any.
func (d Decision) Primary() (StrategyResult, bool) {
	if d.PrimaryStrategy == nil {
		return StrategyResult{}, false
	}
	for _, r := range d.StrategyResults {
		if r.Strategy == *d.PrimaryStrategy && !r.Abstained && r.ShouldExclude {
			return r, true
		}
	}
	return StrategyResult{}, false
}

// ReviewFlags returns the results that asked for human review.
func (d Decision) ReviewFlags() []StrategyResult {
	var out []StrategyResult
	for _, r := range d.StrategyResults {
		if !r.Abstained && r.RequiresReview() {
			out = append(out, r)
		}
	}
	return out
}

// ErrInvalidDecision marks a decision that breaks the exclusion invariant.
var ErrInvalidDecision = errors.New("invalid exclusion decision")

// Validate checks that an excluding decision names a primary strategy and
// reason, and that the primary strategy is the highest-confidence excluding vote.
func (d Decision) Validate() error {
	if !d.IsExcluded {
		return nil
	}
	if d.PrimaryStrategy == nil || d.Reason == nil || *d.Reason == "" {
		return fmt.Errorf("%w: excluded without primary strategy and reason", ErrInvalidDecision)
	}
	primary, ok := d.Primary()
	if !ok {
		return fmt.Errorf("%w: primary strategy %s did not vote to exclude", ErrInvalidDecision, *d.PrimaryStrategy)
	}
	listed := false
	for _, k := range d.Metadata.StrategiesExcluding {
		if k == *d.PrimaryStrategy {
			listed = true
			break
		}
	}
	if !listed {
		return fmt.Errorf("%w: primary strategy %s missing from strategies_excluding", ErrInvalidDecision, *d.PrimaryStrategy)
	}
	for _, r := range d.StrategyResults {
		if !r.Abstained && r.ShouldExclude && r.Confidence > primary.Confidence {
			return fmt.Errorf("%w: %s outranks primary strategy %s", ErrInvalidDecision, r.Strategy, *d.PrimaryStrategy)
		}
	}
	return nil
}

// Engine runs registered strategies in a fixed order and arbitrates their votes.
type Engine struct {
	strategies []Strategy
	now        func() time.Time
}

// NewEngine registers strategies in the given order. Every strategy must be one
// of the known kinds and appear once.
func NewEngine(strategies ...Strategy) (*Engine, error) {
	seen := make(map[Key]bool, len(strategies))
	for _, s := range strategies {
		k := s.Key()
		if !k.Valid() {
			return nil, ErrUnknownStrategy{Key: k}
		}
		if seen[k] {
			return nil, fmt.Errorf("strategy %s registered twice", k)
		}
		seen[k] = true
	}
	return &Engine{strategies: strategies, now: time.Now}, nil
}

// NewDefaultEngine registers every strategy kind in AllKeys order.
func NewDefaultEngine(windows WindowSource, overlaps OverlapSource) *Engine {
	e, err := NewEngine(
		NewPeakCallLoad(windows),
		NewWeather(overlaps),
		NewCADOutage(),
	)
	if err != nil {
		// Only reachable if the built-in registration list is broken.
		panic(err)
	}
	return e
}

// WithClock replaces the clock used for the evaluated_at stamp.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Keys returns the registered strategy kinds in evaluation order.
func (e *Engine) Keys() []Key {
	keys := make([]Key, len(e.strategies))
	for i, s := range e.strategies {
		keys[i] = s.Key()
	}
	return keys
}

// Evaluate runs every enabled strategy and picks the excluding vote with the
// highest confidence. Ties go to the strategy registered first. A strategy that
// errors is recorded as abstaining and does not stop the others.
func (e *Engine) Evaluate(ctx context.Context, call CallContext, settings Settings) Decision {
	d := Decision{
		StrategyResults: []StrategyResult{},
		Metadata: DecisionMetadata{
			EngineVersion:       EngineVersion,
			EvaluatedAt:         e.now().UTC(),
			StrategiesRun:       []Key{},
			StrategiesExcluding: []Key{},
			Settings:            map[Key]Setting{},
		},
	}

	for _, s := range e.strategies {
		key := s.Key()
		setting, ok := settings[key]
		if !ok || !setting.Enabled {
			continue
		}
		d.Metadata.StrategiesRun = append(d.Metadata.StrategiesRun, key)
		d.Metadata.Settings[key] = setting

		result := StrategyResult{Strategy: key}
		vote, err := s.Evaluate(ctx, call, setting)
		switch {
		case err != nil:
			log.Printf("Strategy %s failed for call %s, treating as abstain: %v", key, call.CallID, err)
			result.Abstained = true
			result.Error = err.Error()
			if d.Metadata.StrategyErrors == nil {
				d.Metadata.StrategyErrors = make(map[Key]string)
			}
			d.Metadata.StrategyErrors[key] = err.Error()
		case vote == nil:
			result.Abstained = true
		default:
			result.ShouldExclude = vote.ShouldExclude
			result.Reason = vote.Reason
			result.Confidence = clampConfidence(vote.Confidence)
			result.Metadata = vote.Metadata
		}
		d.StrategyResults = append(d.StrategyResults, result)
	}

	best := -1
	for i, r := range d.StrategyResults {
		if r.Abstained || !r.ShouldExclude {
			continue
		}
		d.Metadata.StrategiesExcluding = append(d.Metadata.StrategiesExcluding, r.Strategy)
		if best == -1 || r.Confidence > d.StrategyResults[best].Confidence {
			best = i
		}
	}
	if best >= 0 {
		winner := d.StrategyResults[best]
		key := winner.Strategy
		reason := winner.Reason
		d.IsExcluded = true
		d.PrimaryStrategy = &key
		d.Reason = &reason
		d.Confidence = winner.Confidence
	}
	return d
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
