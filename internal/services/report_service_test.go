package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/parishems/compliance/internal/config"
	"github.com/parishems/compliance/internal/testhelpers"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func assertMinutes(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil || !floatEquals(*got, want) {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestReportService_Report(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	calls := NewCallService(db, time.UTC)
	svc := NewReportService(calls, config.NewStaticRulesStore(config.DefaultRules()))

	testhelpers.NewCallBuilder().WithCallID("A").WithResponseMinutes(6).Create(t, db)
	testhelpers.NewCallBuilder().WithCallID("B").WithResponseMinutes(9).Create(t, db)
	testhelpers.NewCallBuilder().WithCallID("C").WithResponseMinutes(12).Create(t, db)
	testhelpers.NewCallBuilder().WithCallID("D").WithResponseMinutes(4).AutoExcluded("weather").Create(t, db)
	testhelpers.NewCallBuilder().WithCallID("E").WithPriority("4").WithResponseMinutes(2).Create(t, db)
	testhelpers.NewCallBuilder().WithCallID("F").InParish(2).WithResponseMinutes(30).Create(t, db)

	report, err := svc.Report(context.Background(), ReportRequest{
		Filter:    CallFilter{ParishID: 1},
		TargetPct: 1.0,
	})
	testhelpers.AssertNoError(t, err, "report")

	testhelpers.AssertEqual(t, 4, report.EligibleCalls, "eligible calls")
	testhelpers.AssertEqual(t, 1, report.ExcludedCalls, "excluded calls")
	testhelpers.AssertEqual(t, 1, report.AutoExcluded, "auto excluded")
	testhelpers.AssertEqual(t, 2, report.CompliantCalls, "compliant calls")
	testhelpers.AssertEqual(t, 1, report.NonCompliantCalls, "non-compliant calls")
	testhelpers.AssertEqual(t, 10.0, report.ThresholdMinutes, "threshold")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"exclusion rate", report.ExclusionRate, 0.25},
		{"raw compliance", report.RawCompliance, 0.75},
		{"contract compliance", report.ContractCompliance, 2.0 / 3.0},
		{"per-call compliance", report.PerCallCompliance, 2.0 / 3.0},
	}
	for _, c := range checks {
		if !floatEquals(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	assertMinutes(t, "time for target", report.TimeForTarget, 12)
	assertMinutes(t, "time for contract target", report.TimeForContractTarget, 9)
	assertMinutes(t, "exact time for contract target", report.TimeForContractTargetExact, 12)
	assertMinutes(t, "p50", report.P50Minutes, 9)
	assertMinutes(t, "p90", report.P90Minutes, 12)
}

func TestReportService_Report_Empty(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := NewReportService(NewCallService(db, time.UTC), nil)

	report, err := svc.Report(context.Background(), ReportRequest{ThresholdMinutes: testhelpers.Float(8)})
	testhelpers.AssertNoError(t, err, "report")
	testhelpers.AssertEqual(t, 0, report.EligibleCalls, "eligible calls")
	testhelpers.AssertEqual(t, DefaultTargetPct, report.TargetPct, "default target")
	testhelpers.AssertEqual(t, 8.0, report.ThresholdMinutes, "threshold")
	if report.TimeForTarget != nil || report.P50Minutes != nil {
		t.Error("expected no threshold search results for an empty set")
	}
}

func TestReportService_Report_InvalidTarget(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	svc := NewReportService(NewCallService(db, time.UTC), nil)

	for _, target := range []float64{-0.1, 1.5} {
		if _, err := svc.Report(context.Background(), ReportRequest{TargetPct: target}); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("target %v: expected ErrInvalidTarget, got %v", target, err)
		}
	}
}
