package compliance

import (
	"maps"
	"regexp"
	"slices"
	"strings"
)

// DefaultFallbackMinutes is used when neither the region nor the rules file sets a fallback.
const DefaultFallbackMinutes = 10.0

// ThresholdConfig maps zone names to their compliance threshold for one region.
type ThresholdConfig struct {
	Zones           map[string]float64
	FallbackMinutes float64
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	// "5mi" at the end of a zone name is a known data-entry typo for "5min".
	// Both spellings fold to "5min" with or without a space before the unit.
	trailingMin = regexp.MustCompile(`(\d+)\s*min?$`)
)

// NormalizeZoneName lower-cases, collapses whitespace and rewrites a trailing "N mi" or "N min" to "Nmin".
func NormalizeZoneName(zone string) string {
	z := strings.ToLower(strings.TrimSpace(zone))
	z = whitespaceRun.ReplaceAllString(z, " ")
	return trailingMin.ReplaceAllString(z, "${1}min")
}

// Resolve returns the threshold minutes for a zone. An exact match wins, then the
// first configured zone whose normalized name equals the normalized input, then the
// fallback. A nil zone always resolves to the fallback.
func (c ThresholdConfig) Resolve(zone *string) float64 {
	minutes, _ := c.ResolveWithSource(zone)
	return minutes
}

// ResolveWithSource is Resolve plus the configured zone name that matched ("" for fallback).
func (c ThresholdConfig) ResolveWithSource(zone *string) (float64, string) {
	if zone == nil || strings.TrimSpace(*zone) == "" {
		return c.fallback(), ""
	}
	if minutes, ok := c.Zones[*zone]; ok {
		return minutes, *zone
	}

	want := NormalizeZoneName(*zone)
	for _, name := range slices.Sorted(maps.Keys(c.Zones)) {
		if NormalizeZoneName(name) == want {
			return c.Zones[name], name
		}
	}
	return c.fallback(), ""
}

func (c ThresholdConfig) fallback() float64 {
	if c.FallbackMinutes > 0 {
		return c.FallbackMinutes
	}
	return DefaultFallbackMinutes
}
