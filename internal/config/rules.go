package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/parishems/compliance/internal/compliance"
	"github.com/parishems/compliance/internal/strategies"
)

// ErrUnknownStrategy is returned when a rules file names a strategy outside the known set.
var ErrUnknownStrategy = errors.New("unknown strategy")

// ErrInvalidRules wraps every rules validation failure.
var ErrInvalidRules = errors.New("invalid compliance rules")

//go:embed schemas/*.json
var schemaFS embed.FS

// StrategyOverride is a partial strategy setting. A nil Enabled keeps the
// value it overrides.
type StrategyOverride struct {
	Enabled *bool          `yaml:"enabled" json:"enabled,omitempty"`
	Params  map[string]any `yaml:"params" json:"params,omitempty"`
}

// RegionRules are the per-region zone thresholds and strategy overrides.
type RegionRules struct {
	Name            string                              `yaml:"name" json:"name,omitempty"`
	Zones           map[string]float64                  `yaml:"zones" json:"zones,omitempty"`
	FallbackMinutes *float64                            `yaml:"fallback_minutes" json:"fallback_minutes,omitempty"`
	Strategies      map[strategies.Key]StrategyOverride `yaml:"strategies" json:"strategies,omitempty"`
}

// Rules is one loaded compliance rules file. A snapshot is never mutated
// after it is loaded.
type Rules struct {
	FallbackMinutes float64                             `yaml:"fallback_minutes" json:"fallback_minutes"`
	Strategies      map[strategies.Key]StrategyOverride `yaml:"strategies" json:"strategies,omitempty"`
	Regions         map[uint]RegionRules                `yaml:"regions" json:"regions,omitempty"`
}

// DefaultRules is used when no rules file exists.
func DefaultRules() *Rules {
	return &Rules{FallbackMinutes: compliance.DefaultFallbackMinutes}
}

// LoadRules reads and validates a rules file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rules document. Unknown fields are rejected.
func ParseRules(data []byte) (*Rules, error) {
	rules := DefaultRules()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(rules); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate checks thresholds, strategy keys and strategy parameters.
func (r *Rules) Validate() error {
	if r.FallbackMinutes <= 0 {
		return fmt.Errorf("%w: fallback_minutes must be positive", ErrInvalidRules)
	}
	if err := validateOverrides("global", r.Strategies); err != nil {
		return err
	}
	for _, id := range r.regionIDs() {
		region := r.Regions[id]
		scope := fmt.Sprintf("region %d", id)
		if region.FallbackMinutes != nil && *region.FallbackMinutes <= 0 {
			return fmt.Errorf("%w: %s: fallback_minutes must be positive", ErrInvalidRules, scope)
		}
		for zone, minutes := range region.Zones {
			if minutes <= 0 {
				return fmt.Errorf("%w: %s: zone %q threshold must be positive", ErrInvalidRules, scope, zone)
			}
		}
		if err := validateOverrides(scope, region.Strategies); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rules) regionIDs() []uint {
	ids := make([]uint, 0, len(r.Regions))
	for id := range r.Regions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func validateOverrides(scope string, overrides map[strategies.Key]StrategyOverride) error {
	for key, o := range overrides {
		if !key.Valid() {
			return fmt.Errorf("%w: %s: %w %q", ErrInvalidRules, scope, ErrUnknownStrategy, key)
		}
		if err := ValidateParams(key, o.Params); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRules, scope, err)
		}
	}
	return nil
}

// ThresholdsFor returns the zone thresholds that apply to a region.
func (r *Rules) ThresholdsFor(regionID uint) compliance.ThresholdConfig {
	cfg := compliance.ThresholdConfig{FallbackMinutes: r.FallbackMinutes}
	if region, ok := r.Regions[regionID]; ok {
		cfg.Zones = region.Zones
		if region.FallbackMinutes != nil {
			cfg.FallbackMinutes = *region.FallbackMinutes
		}
	}
	return cfg
}

// StrategiesFor returns the strategy settings for a region: built-in defaults,
// then global overrides, then the region's own overrides.
func (r *Rules) StrategiesFor(regionID uint) strategies.Settings {
	settings := applyOverrides(strategies.DefaultSettings(), r.Strategies)
	if region, ok := r.Regions[regionID]; ok {
		settings = applyOverrides(settings, region.Strategies)
	}
	return settings
}

func applyOverrides(base strategies.Settings, overrides map[strategies.Key]StrategyOverride) strategies.Settings {
	if len(overrides) == 0 {
		return base
	}
	o := make(strategies.Settings, len(overrides))
	for key, override := range overrides {
		enabled := base[key].Enabled
		if override.Enabled != nil {
			enabled = *override.Enabled
		}
		o[key] = strategies.Setting{Enabled: enabled, Params: override.Params}
	}
	return base.Merge(o)
}

var (
	schemasOnce sync.Once
	schemas     map[strategies.Key]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() {
	schemas = make(map[strategies.Key]*jsonschema.Schema)
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	for _, key := range strategies.AllKeys() {
		name := fmt.Sprintf("schemas/%s.json", key)
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			schemasErr = fmt.Errorf("missing schema for %s: %w", key, err)
			return
		}
		url := "mem://" + name
		if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
			schemasErr = fmt.Errorf("add schema resource %s: %w", key, err)
			return
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			schemasErr = fmt.Errorf("compile schema %s: %w", key, err)
			return
		}
		schemas[key] = schema
	}
}

// ValidateParams checks a strategy parameter bag against the strategy's schema.
func ValidateParams(key strategies.Key, params map[string]any) error {
	if !key.Valid() {
		return fmt.Errorf("%w %q", ErrUnknownStrategy, key)
	}
	schemasOnce.Do(compileSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	if params == nil {
		return nil
	}

	// The validator expects encoding/json shapes (float64 numbers, []any lists).
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s params: %w", key, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%s params: %w", key, err)
	}
	if err := schemas[key].Validate(doc); err != nil {
		return fmt.Errorf("%s params: %w", key, err)
	}
	return nil
}
