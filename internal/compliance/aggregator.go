package compliance

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Sample is one already-decided call as seen by the aggregator.
type Sample struct {
	ResponseMinutes float64 `json:"response_minutes"`
	Excluded        bool    `json:"excluded"`
}

// ScanOptions bounds the target-threshold search.
type ScanOptions struct {
	StepMinutes    float64
	HorizonMinutes float64
}

// DefaultScanOptions scans 0 to 30 minutes in 0.1 minute steps.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{StepMinutes: 0.1, HorizonMinutes: 30}
}

func (o ScanOptions) withDefaults() ScanOptions {
	d := DefaultScanOptions()
	if o.StepMinutes <= 0 {
		o.StepMinutes = d.StepMinutes
	}
	if o.HorizonMinutes <= 0 {
		o.HorizonMinutes = d.HorizonMinutes
	}
	return o
}

// RawCompliance is the share of all samples, excluded ones included, with a
// response time at or under t. An empty set yields 0.
func RawCompliance(samples []Sample, t float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	within := 0
	for _, s := range samples {
		if s.ResponseMinutes <= t {
			within++
		}
	}
	return float64(within) / float64(len(samples))
}

// ContractCompliance is RawCompliance restricted to non-excluded samples.
func ContractCompliance(samples []Sample, t float64) float64 {
	return RawCompliance(Included(samples), t)
}

// ExclusionRate is the share of samples that are excluded.
func ExclusionRate(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	excluded := 0
	for _, s := range samples {
		if s.Excluded {
			excluded++
		}
	}
	return float64(excluded) / float64(len(samples))
}

// Included returns the non-excluded samples.
func Included(samples []Sample) []Sample {
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if !s.Excluded {
			out = append(out, s)
		}
	}
	return out
}

// CountCompliant counts samples meeting the threshold under the X:59 rule.
func CountCompliant(samples []Sample, thresholdMinutes float64) int {
	n := 0
	for _, s := range samples {
		if IsCompliant(s.ResponseMinutes, thresholdMinutes) {
			n++
		}
	}
	return n
}

// FindTimeForTarget returns the smallest scanned T with RawCompliance(T) >= target,
// or nil when no T within the horizon reaches it.
func FindTimeForTarget(samples []Sample, target float64, opts ScanOptions) *float64 {
	return scan(sortedMinutes(samples), target, opts)
}

// FindTimeForContractTarget searches raw compliance against target*(1-exclusionRate).
//
// This relies on contractCompliance(T) ≈ rawCompliance(T) / (1 - exclusionRate),
// which only holds when excluded calls are spread like the included ones. It is an
// approximation; FindTimeForContractTargetExact scans contract compliance directly.
func FindTimeForContractTarget(samples []Sample, target, exclusionRate float64, opts ScanOptions) *float64 {
	adjusted := target * (1 - exclusionRate)
	return scan(sortedMinutes(samples), adjusted, opts)
}

// FindTimeForContractTargetExact returns the smallest scanned T with
// ContractCompliance(T) >= target.
func FindTimeForContractTargetExact(samples []Sample, target float64, opts ScanOptions) *float64 {
	return scan(sortedMinutes(Included(samples)), target, opts)
}

// scan walks T from zero in fixed decimal steps so the grid never drifts
// (0.1 added 120 times is exactly 12.0).
func scan(sorted []float64, target float64, opts ScanOptions) *float64 {
	if len(sorted) == 0 {
		return nil
	}
	opts = opts.withDefaults()
	step := decimal.NewFromFloat(opts.StepMinutes)
	horizon := decimal.NewFromFloat(opts.HorizonMinutes)

	for t := decimal.Zero; t.LessThanOrEqual(horizon); t = t.Add(step) {
		tf := t.InexactFloat64()
		within := sort.Search(len(sorted), func(i int) bool { return sorted[i] > tf })
		if float64(within)/float64(len(sorted)) >= target {
			return &tf
		}
	}
	return nil
}

func sortedMinutes(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.ResponseMinutes
	}
	sort.Float64s(out)
	return out
}

// Percentile returns the nearest-rank percentile (p in [0,1]) of the response
// times, or nil for an empty set.
func Percentile(samples []Sample, p float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	sorted := sortedMinutes(samples)
	if p <= 0 {
		v := sorted[0]
		return &v
	}
	if p >= 1 {
		v := sorted[len(sorted)-1]
		return &v
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	v := sorted[rank]
	return &v
}
