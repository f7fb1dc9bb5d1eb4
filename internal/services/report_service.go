package services

import (
	"context"
	"errors"
	"time"

	"github.com/parishems/compliance/internal/compliance"
	"github.com/parishems/compliance/internal/config"
	"github.com/parishems/compliance/internal/database"
)

// DefaultTargetPct is the contract compliance target used when a report request
// does not name one.
const DefaultTargetPct = 0.90

// ErrInvalidTarget is returned for a target percentage outside (0, 1].
var ErrInvalidTarget = errors.New("target must be in (0, 1]")

// ReportRequest selects the calls and parameters of a compliance report.
type ReportRequest struct {
	Filter CallFilter
	// ThresholdMinutes is the T at which raw and contract compliance are
	// computed. nil takes the global fallback threshold.
	ThresholdMinutes *float64
	// TargetPct is the share of calls that must meet the threshold, in (0, 1].
	TargetPct float64
	Scan      compliance.ScanOptions
}

// ComplianceReport aggregates compliance over the eligible calls of a filter.
type ComplianceReport struct {
	EligibleCalls   int `json:"eligible_calls"`
	UnknownResponse int `json:"unknown_response"`
	ExcludedCalls   int `json:"excluded_calls"`
	AutoExcluded    int `json:"auto_excluded"`
	ManualExcluded  int `json:"manual_excluded"`
	NeedsReview     int `json:"needs_review"`

	ExclusionRate      float64 `json:"exclusion_rate"`
	ThresholdMinutes   float64 `json:"threshold_minutes"`
	RawCompliance      float64 `json:"raw_compliance"`
	ContractCompliance float64 `json:"contract_compliance"`

	// Per-call results against each call's own zone threshold, X:59 rule applied.
	CompliantCalls    int     `json:"compliant_calls"`
	NonCompliantCalls int     `json:"non_compliant_calls"`
	PerCallCompliance float64 `json:"per_call_compliance"`

	TargetPct                  float64  `json:"target_pct"`
	TimeForTarget              *float64 `json:"time_for_target"`
	TimeForContractTarget      *float64 `json:"time_for_contract_target"`
	TimeForContractTargetExact *float64 `json:"time_for_contract_target_exact"`
	P50Minutes                 *float64 `json:"p50_minutes"`
	P90Minutes                 *float64 `json:"p90_minutes"`

	GeneratedAt time.Time `json:"generated_at"`
}

// ReportService computes compliance reports over stored calls.
type ReportService struct {
	calls *CallService
	rules *config.RulesStore
	now   func() time.Time
}

// NewReportService creates a new report service
func NewReportService(calls *CallService, rules *config.RulesStore) *ReportService {
	return &ReportService{calls: calls, rules: rules, now: time.Now}
}

// Report builds a compliance report. Calls without a known response time are
// counted but sit outside every rate.
func (s *ReportService) Report(ctx context.Context, req ReportRequest) (*ComplianceReport, error) {
	target := req.TargetPct
	if target == 0 {
		target = DefaultTargetPct
	}
	if target < 0 || target > 1 {
		return nil, ErrInvalidTarget
	}

	rules := config.DefaultRules()
	if s.rules != nil {
		rules = s.rules.Snapshot()
	}
	threshold := rules.FallbackMinutes
	if req.ThresholdMinutes != nil {
		threshold = *req.ThresholdMinutes
	}

	eligible, err := s.calls.EligibleCalls(ctx, req.Filter)
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		EligibleCalls:    len(eligible),
		ThresholdMinutes: threshold,
		TargetPct:        target,
		GeneratedAt:      s.now().UTC(),
	}

	samples := make([]compliance.Sample, 0, len(eligible))
	for i := range eligible {
		c := &eligible[i]
		if c.NeedsReview {
			report.NeedsReview++
		}
		sample, ok := c.Sample()
		if !ok {
			report.UnknownResponse++
			continue
		}
		samples = append(samples, sample)

		if sample.Excluded {
			report.ExcludedCalls++
			if c.ExclusionType == database.ExclusionManual {
				report.ManualExcluded++
			} else {
				report.AutoExcluded++
			}
			continue
		}
		zoneThreshold := rules.ThresholdsFor(c.RegionID).Resolve(c.ZoneName)
		if compliance.IsCompliant(sample.ResponseMinutes, zoneThreshold) {
			report.CompliantCalls++
		} else {
			report.NonCompliantCalls++
		}
	}

	if classified := report.CompliantCalls + report.NonCompliantCalls; classified > 0 {
		report.PerCallCompliance = float64(report.CompliantCalls) / float64(classified)
	}
	report.ExclusionRate = compliance.ExclusionRate(samples)
	report.RawCompliance = compliance.RawCompliance(samples, threshold)
	report.ContractCompliance = compliance.ContractCompliance(samples, threshold)
	report.TimeForTarget = compliance.FindTimeForTarget(samples, target, req.Scan)
	report.TimeForContractTarget = compliance.FindTimeForContractTarget(samples, target, report.ExclusionRate, req.Scan)
	report.TimeForContractTargetExact = compliance.FindTimeForContractTargetExact(samples, target, req.Scan)

	included := compliance.Included(samples)
	report.P50Minutes = compliance.Percentile(included, 0.5)
	report.P90Minutes = compliance.Percentile(included, 0.9)
	return report, nil
}
