package services

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/parishems/compliance/internal/config"
	"github.com/parishems/compliance/internal/database"
	"github.com/parishems/compliance/internal/strategies"
	"github.com/parishems/compliance/internal/testhelpers"
)

type testEnv struct {
	db         *gorm.DB
	calls      *CallService
	weather    *WeatherService
	exclusions *ExclusionService
}

func newTestEnv(t *testing.T, rules *config.Rules) *testEnv {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	callSvc := NewCallService(db, nil)
	weather := NewWeatherService(db)
	if rules == nil {
		rules = config.DefaultRules()
	}
	engine := strategies.NewDefaultEngine(callSvc, weather)
	return &testEnv{
		db:         db,
		calls:      callSvc,
		weather:    weather,
		exclusions: NewExclusionService(db, engine, config.NewStaticRulesStore(rules)),
	}
}

func (e *testEnv) reload(t *testing.T, id uint) *database.Call {
	t.Helper()
	call, err := e.calls.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to reload call %d: %v", id, err)
	}
	return call
}

// createSurge stores five calls queued five minutes apart in parish 1. The
// third responds in 15 minutes, every other call in 8.
func createSurge(t *testing.T, db *gorm.DB) []*database.Call {
	t.Helper()
	out := make([]*database.Call, 5)
	for i := range out {
		b := testhelpers.NewCallBuilder().
			WithCallID("S-" + string(rune('1'+i))).
			QueuedMinutesAfterBase(float64(5 * i))
		if i == 2 {
			b = b.WithResponseMinutes(15)
		}
		out[i] = b.Create(t, db)
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) NotifyReview(_ context.Context, call *database.Call, flags []strategies.StrategyResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call.CallID)
	return nil
}

type recordingListener struct {
	mu      sync.Mutex
	results []EvaluationResult
}

func (l *recordingListener) DecisionRecorded(result EvaluationResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, result)
}

func excludingDecision(key strategies.Key, reason string, confidence float64) strategies.Decision {
	k, r := key, reason
	return strategies.Decision{
		IsExcluded:      true,
		PrimaryStrategy: &k,
		Reason:          &r,
		Confidence:      confidence,
		StrategyResults: []strategies.StrategyResult{
			{Strategy: key, ShouldExclude: true, Reason: reason, Confidence: confidence},
		},
		Metadata: strategies.DecisionMetadata{
			EngineVersion:       strategies.EngineVersion,
			StrategiesRun:       []strategies.Key{key},
			StrategiesExcluding: []strategies.Key{key},
		},
	}
}

func TestExclusionService_EvaluateCall_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	result, err := env.exclusions.EvaluateCall(context.Background(), 999, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "evaluate")
	testhelpers.AssertEqual(t, OutcomeNotFound, result.Outcome, "outcome")
}

func TestExclusionService_EvaluateCall_QuietPeriod(t *testing.T) {
	env := newTestEnv(t, nil)
	call := testhelpers.NewCallBuilder().WithResponseMinutes(6).Create(t, env.db)

	result, err := env.exclusions.EvaluateCall(context.Background(), call.ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "evaluate")
	testhelpers.AssertEqual(t, OutcomeNotExcluded, result.Outcome, "outcome")
	testhelpers.AssertEqual(t, "fallback", result.ThresholdSource, "threshold source")

	stored := env.reload(t, call.ID)
	if !stored.AutoEvaluated || stored.AutoEvaluatedAt == nil {
		t.Error("expected call to be marked evaluated")
	}
	if stored.IsExcluded() {
		t.Error("expected call to stay included")
	}
	if stored.IsCompliant == nil || !*stored.IsCompliant {
		t.Errorf("expected stored compliance true, got %v", stored.IsCompliant)
	}
	if stored.ThresholdMinutes == nil || *stored.ThresholdMinutes != 10 {
		t.Errorf("expected stored threshold 10, got %v", stored.ThresholdMinutes)
	}
	if stored.EvaluationResult == nil {
		t.Error("expected evaluation result to be stored")
	}

	entries, err := env.exclusions.AuditLog(context.Background(), call.ID)
	testhelpers.AssertNoError(t, err, "audit log")
	testhelpers.AssertEqual(t, 0, len(entries), "audit entries")
}

func TestExclusionService_EvaluateCall_PeakLoad(t *testing.T) {
	env := newTestEnv(t, nil)
	notifier := &recordingNotifier{}
	listener := &recordingListener{}
	env.exclusions.SetReviewNotifier(notifier)
	env.exclusions.AddListener(listener)
	surge := createSurge(t, env.db)
	ctx := context.Background()

	tests := []struct {
		name        string
		call        *database.Call
		outcome     Outcome
		needsReview bool
	}{
		{name: "first call of surge", call: surge[0], outcome: OutcomeNotExcluded},
		{name: "late third call", call: surge[2], outcome: OutcomeExcluded},
		{name: "compliant fourth call", call: surge[3], outcome: OutcomeNotExcluded, needsReview: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := env.exclusions.EvaluateCall(ctx, tt.call.ID, EvaluateOptions{})
			testhelpers.AssertNoError(t, err, "evaluate")
			testhelpers.AssertEqual(t, tt.outcome, result.Outcome, "outcome")
			testhelpers.AssertEqual(t, tt.needsReview, result.NeedsReview, "needs review")

			stored := env.reload(t, tt.call.ID)
			testhelpers.AssertEqual(t, tt.outcome == OutcomeExcluded, stored.IsExcluded(), "excluded")
			testhelpers.AssertEqual(t, tt.needsReview, stored.NeedsReview, "stored needs review")
			if !stored.AutoEvaluated {
				t.Error("expected call to be marked evaluated")
			}
		})
	}

	excluded := env.reload(t, surge[2].ID)
	testhelpers.AssertEqual(t, database.ExclusionAuto, excluded.ExclusionType, "exclusion type")
	if excluded.ExclusionStrategy == nil || *excluded.ExclusionStrategy != string(strategies.KeyPeakCallLoad) {
		t.Errorf("unexpected exclusion strategy %v", excluded.ExclusionStrategy)
	}
	if excluded.ExcludedBy != nil {
		t.Errorf("expected no actor for automatic exclusion, got %q", *excluded.ExcludedBy)
	}

	entries, err := env.exclusions.AuditLog(ctx, surge[2].ID)
	testhelpers.AssertNoError(t, err, "audit log")
	if len(entries) != 1 || entries[0].Action != database.AuditAutoExclude {
		t.Fatalf("expected one auto_exclude entry, got %+v", entries)
	}
	decision, err := DecisionFromAudit(entries[0])
	testhelpers.AssertNoError(t, err, "decode decision")
	testhelpers.AssertNoError(t, decision.Validate(), "stored decision is valid")
	testhelpers.AssertEqual(t, strategies.KeyPeakCallLoad, *decision.PrimaryStrategy, "primary strategy")

	review, err := env.exclusions.AuditLog(ctx, surge[3].ID)
	testhelpers.AssertNoError(t, err, "audit log")
	if len(review) != 1 || review[0].Action != database.AuditReviewFlag {
		t.Fatalf("expected one review_flag entry, got %+v", review)
	}
	testhelpers.AssertEqual(t, []string{surge[3].CallID}, notifier.calls, "notified calls")
	testhelpers.AssertEqual(t, 3, len(listener.results), "published results")
}

func TestExclusionService_EvaluateCall_IsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	surge := createSurge(t, env.db)
	ctx := context.Background()

	first, err := env.exclusions.EvaluateCall(ctx, surge[2].ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "first evaluation")
	testhelpers.AssertEqual(t, OutcomeExcluded, first.Outcome, "first outcome")

	second, err := env.exclusions.EvaluateCall(ctx, surge[2].ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "second evaluation")
	testhelpers.AssertEqual(t, OutcomeAlreadyExcluded, second.Outcome, "second outcome")

	outcome, err := env.exclusions.Apply(ctx, surge[2].ID, *first.Decision)
	testhelpers.AssertNoError(t, err, "re-apply")
	testhelpers.AssertEqual(t, OutcomeAlreadyExcluded, outcome, "re-apply outcome")

	entries, _ := env.exclusions.AuditLog(ctx, surge[2].ID)
	testhelpers.AssertEqual(t, 1, len(entries), "audit entries")

	plain, err := env.exclusions.EvaluateCall(ctx, surge[0].ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "evaluate first call")
	testhelpers.AssertEqual(t, OutcomeNotExcluded, plain.Outcome, "first call outcome")
	again, err := env.exclusions.EvaluateCall(ctx, surge[0].ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "evaluate first call again")
	testhelpers.AssertEqual(t, OutcomeAlreadyEvaluated, again.Outcome, "repeat outcome")
}

func TestExclusionService_EvaluateCall_ConcurrentIsApplyOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	surge := createSurge(t, env.db)
	target := surge[2].ID

	var mu sync.Mutex
	outcomes := make(map[Outcome]int)
	testhelpers.ConcurrentTest(t, 5, func(workerID int) {
		result, err := env.exclusions.EvaluateCall(context.Background(), target, EvaluateOptions{})
		if err != nil {
			t.Errorf("worker %d: evaluate failed: %v", workerID, err)
			return
		}
		mu.Lock()
		outcomes[result.Outcome]++
		mu.Unlock()
	})

	testhelpers.AssertEqual(t, 1, outcomes[OutcomeExcluded], "excluded outcomes")
	testhelpers.AssertEqual(t, 4, outcomes[OutcomeAlreadyExcluded], "already excluded outcomes")

	entries, err := env.exclusions.AuditLog(context.Background(), target)
	testhelpers.AssertNoError(t, err, "audit log")
	testhelpers.AssertEqual(t, 1, len(entries), "audit entries")

	stored := env.reload(t, target)
	if stored.ExcludedAt == nil {
		t.Fatal("expected excluded_at to be set")
	}
	testhelpers.AssertTimeWithin(t, *stored.ExcludedAt, time.Now(), time.Minute, "excluded at")
}

func TestExclusionService_EvaluateCall_WeatherOutranksPeakLoad(t *testing.T) {
	env := newTestEnv(t, nil)
	surge := createSurge(t, env.db)
	testhelpers.NewWeatherOverlapBuilder(surge[2].ID).WithEvent("Tornado Warning", "Extreme").Create(t, env.db)

	result, err := env.exclusions.EvaluateCall(context.Background(), surge[2].ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "evaluate")
	testhelpers.AssertEqual(t, OutcomeExcluded, result.Outcome, "outcome")
	testhelpers.AssertEqual(t, strategies.KeyWeather, *result.Decision.PrimaryStrategy, "primary strategy")
	testhelpers.AssertEqual(t,
		[]strategies.Key{strategies.KeyPeakCallLoad, strategies.KeyWeather},
		result.Decision.Metadata.StrategiesExcluding, "strategies excluding")
	testhelpers.AssertEqual(t, "Severe Weather Alert: Tornado Warning (Extreme)", *result.Decision.Reason, "reason")
}

func TestExclusionService_EvaluateCall_PrecomputedWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	call := testhelpers.NewCallBuilder().WithResponseMinutes(20).Create(t, env.db)

	window := &strategies.WindowStats{Position: 5, Count: 6, WindowMinutes: strategies.DefaultPeakWindowMinutes}
	result, err := env.exclusions.EvaluateCall(context.Background(), call.ID, EvaluateOptions{Window: window})
	testhelpers.AssertNoError(t, err, "evaluate")
	testhelpers.AssertEqual(t, OutcomeExcluded, result.Outcome, "outcome")
	if result.Decision.Confidence < 0.915 {
		t.Errorf("expected confidence to grow with position, got %v", result.Decision.Confidence)
	}
}

func TestExclusionService_EvaluateCall_Ineligible(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	low := testhelpers.NewCallBuilder().WithCallID("P4").WithPriority("4").WithResponseMinutes(40).Create(t, env.db)
	noScene := testhelpers.NewCallBuilder().WithCallID("NS").WithoutOnScene().Create(t, env.db)

	for _, call := range []*database.Call{low, noScene} {
		result, err := env.exclusions.EvaluateCall(ctx, call.ID, EvaluateOptions{})
		testhelpers.AssertNoError(t, err, "evaluate")
		testhelpers.AssertEqual(t, OutcomeIneligible, result.Outcome, "outcome for "+call.CallID)

		stored := env.reload(t, call.ID)
		if !stored.AutoEvaluated || stored.IsExcluded() {
			t.Errorf("call %s: expected evaluated and included", call.CallID)
		}
	}

	again, err := env.exclusions.EvaluateCall(ctx, low.ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "evaluate again")
	testhelpers.AssertEqual(t, OutcomeAlreadyEvaluated, again.Outcome, "repeat outcome")
}

func TestExclusionService_EvaluateCall_UnknownResponseSkipsStrategies(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	call := testhelpers.NewCallBuilder().WithCallID("U-1").WithoutQueueTime().Create(t, env.db)
	testhelpers.NewWeatherOverlapBuilder(call.ID).WithEvent("Tornado Warning", "Extreme").Create(t, env.db)

	result, err := env.exclusions.EvaluateCall(ctx, call.ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "evaluate")
	testhelpers.AssertEqual(t, OutcomeUnknownResponse, result.Outcome, "outcome")
	if result.ResponseMinutes != nil {
		t.Errorf("expected unknown response minutes, got %v", *result.ResponseMinutes)
	}
	if result.Decision != nil {
		t.Error("expected no strategy decision for a call without a response time")
	}

	stored := env.reload(t, call.ID)
	if !stored.AutoEvaluated || stored.IsExcluded() {
		t.Errorf("expected evaluated and included, got evaluated=%v exclusion=%s", stored.AutoEvaluated, stored.ExclusionType)
	}
	testhelpers.AssertEqual(t, string(OutcomeUnknownResponse), stored.EvaluationResult["outcome"], "stored outcome")

	entries, err := env.exclusions.AuditLog(ctx, call.ID)
	testhelpers.AssertNoError(t, err, "audit log")
	testhelpers.AssertEqual(t, 0, len(entries), "audit entries")
}

func TestExclusionService_EvaluateCall_ZoneThreshold(t *testing.T) {
	rules := config.DefaultRules()
	rules.Regions = map[uint]config.RegionRules{
		1: {Zones: map[string]float64{"Urban 8min": 8}},
	}
	env := newTestEnv(t, rules)
	call := testhelpers.NewCallBuilder().WithZone("urban 8mi").WithResponseMinutes(8.9).Create(t, env.db)

	result, err := env.exclusions.EvaluateCall(context.Background(), call.ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "evaluate")
	testhelpers.AssertEqual(t, "Urban 8min", result.ThresholdSource, "threshold source")
	if result.Compliant == nil || !*result.Compliant {
		t.Errorf("expected 8.9 minutes to be compliant against 8 under the X:59 rule")
	}
}

func TestExclusionService_EvaluateCall_RegionDisablesStrategy(t *testing.T) {
	disabled := false
	rules := config.DefaultRules()
	rules.Regions = map[uint]config.RegionRules{
		1: {Strategies: map[strategies.Key]config.StrategyOverride{
			strategies.KeyPeakCallLoad: {Enabled: &disabled},
		}},
	}
	env := newTestEnv(t, rules)
	surge := createSurge(t, env.db)

	result, err := env.exclusions.EvaluateCall(context.Background(), surge[2].ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "evaluate")
	testhelpers.AssertEqual(t, OutcomeNotExcluded, result.Outcome, "outcome")
	testhelpers.AssertEqual(t, []strategies.Key{strategies.KeyWeather}, result.Decision.Metadata.StrategiesRun, "strategies run")
}

func TestExclusionService_Apply(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	call := testhelpers.NewCallBuilder().Create(t, env.db)

	outcome, err := env.exclusions.Apply(ctx, call.ID, strategies.Decision{})
	testhelpers.AssertNoError(t, err, "apply non-excluding decision")
	testhelpers.AssertEqual(t, OutcomeNoop, outcome, "non-excluding outcome")

	broken := excludingDecision(strategies.KeyWeather, "storm", 0.9)
	broken.Reason = nil
	if _, err := env.exclusions.Apply(ctx, call.ID, broken); !errors.Is(err, strategies.ErrInvalidDecision) {
		t.Errorf("expected ErrInvalidDecision, got %v", err)
	}

	outcome, err = env.exclusions.Apply(ctx, 999, excludingDecision(strategies.KeyWeather, "storm", 0.9))
	testhelpers.AssertNoError(t, err, "apply to missing call")
	testhelpers.AssertEqual(t, OutcomeNotFound, outcome, "missing call outcome")

	outcome, err = env.exclusions.Apply(ctx, call.ID, excludingDecision(strategies.KeyCADOutage, "CAD/System Outage: upgrade", 0.8))
	testhelpers.AssertNoError(t, err, "apply")
	testhelpers.AssertEqual(t, OutcomeExcluded, outcome, "outcome")

	stored := env.reload(t, call.ID)
	if !stored.IsExcluded() || !stored.AutoEvaluated {
		t.Error("expected call excluded and evaluated")
	}
	if stored.ExclusionReason == nil || *stored.ExclusionReason != "CAD/System Outage: upgrade" {
		t.Errorf("unexpected reason %v", stored.ExclusionReason)
	}
}

func TestExclusionService_Apply_RollsBackOnAuditFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	call := testhelpers.NewCallBuilder().Create(t, env.db)

	if err := env.db.Migrator().DropTable(&database.AuditLogEntry{}); err != nil {
		t.Fatalf("failed to drop audit table: %v", err)
	}

	_, err := env.exclusions.Apply(context.Background(), call.ID, excludingDecision(strategies.KeyWeather, "storm", 0.95))
	testhelpers.AssertError(t, err, "apply without audit table")

	stored := env.reload(t, call.ID)
	if stored.IsExcluded() {
		t.Error("expected exclusion to be rolled back")
	}
	if stored.AutoEvaluated {
		t.Error("expected evaluated flag to stay unset")
	}
}

func TestExclusionService_ManualExclusionAndRestore(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	call := testhelpers.NewCallBuilder().Create(t, env.db)

	outcome, err := env.exclusions.ExcludeManually(ctx, call.ID, "mutual aid", "supervisor")
	testhelpers.AssertNoError(t, err, "exclude")
	testhelpers.AssertEqual(t, OutcomeExcluded, outcome, "exclude outcome")

	stored := env.reload(t, call.ID)
	testhelpers.AssertEqual(t, database.ExclusionManual, stored.ExclusionType, "exclusion type")
	if stored.ExcludedBy == nil || *stored.ExcludedBy != "supervisor" {
		t.Errorf("unexpected actor %v", stored.ExcludedBy)
	}

	outcome, _ = env.exclusions.ExcludeManually(ctx, call.ID, "again", "supervisor")
	testhelpers.AssertEqual(t, OutcomeAlreadyExcluded, outcome, "second exclude")

	evaluated, err := env.exclusions.EvaluateCall(ctx, call.ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "evaluate")
	testhelpers.AssertEqual(t, OutcomeAlreadyExcluded, evaluated.Outcome, "evaluate manual exclusion")

	outcome, err = env.exclusions.RestoreCall(ctx, call.ID, "auditor", "exclusion not supported")
	testhelpers.AssertNoError(t, err, "restore")
	testhelpers.AssertEqual(t, OutcomeRestored, outcome, "restore outcome")
	if env.reload(t, call.ID).IsExcluded() {
		t.Error("expected call restored")
	}

	outcome, _ = env.exclusions.RestoreCall(ctx, call.ID, "auditor", "again")
	testhelpers.AssertEqual(t, OutcomeNoop, outcome, "second restore")

	outcome, _ = env.exclusions.ExcludeManually(ctx, 999, "x", "y")
	testhelpers.AssertEqual(t, OutcomeNotFound, outcome, "missing call")

	entries, err := env.exclusions.AuditLog(ctx, call.ID)
	testhelpers.AssertNoError(t, err, "audit log")
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	testhelpers.AssertEqual(t, database.AuditManualExclude, entries[0].Action, "first action")
	testhelpers.AssertEqual(t, database.AuditRestore, entries[1].Action, "second action")
	if entries[1].Actor == nil || *entries[1].Actor != "auditor" {
		t.Errorf("unexpected restore actor %v", entries[1].Actor)
	}
	testhelpers.AssertEqual(t, "manual", entries[1].Metadata["previous_exclusion_type"], "restore snapshot")
}

func TestExclusionService_ManualExclusionLogsEscapedReason(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	call := testhelpers.NewCallBuilder().WithCallID("L-1").Create(t, env.db)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	_, err := env.exclusions.ExcludeManually(ctx, call.ID, "diverted\nto trauma", "supervisor")
	testhelpers.AssertNoError(t, err, "exclude")
	_, err = env.exclusions.RestoreCall(ctx, call.ID, "auditor", "not\tconfirmed")
	testhelpers.AssertNoError(t, err, "restore")

	out := buf.String()
	for _, want := range []string{
		`Call L-1 manually excluded by supervisor: diverted\nto trauma`,
		`Call L-1 restored by auditor: not\tconfirmed`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestExclusionService_Requeue(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	surge := createSurge(t, env.db)
	manual := testhelpers.NewCallBuilder().WithCallID("M").InParish(2).ManuallyExcluded("supervisor", "training").Create(t, env.db)

	if _, err := env.exclusions.EvaluateCall(ctx, surge[2].ID, EvaluateOptions{}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	outcome, err := env.exclusions.Requeue(ctx, surge[2].ID, "analyst")
	testhelpers.AssertNoError(t, err, "requeue")
	testhelpers.AssertEqual(t, OutcomeRequeued, outcome, "requeue outcome")

	stored := env.reload(t, surge[2].ID)
	if stored.IsExcluded() || stored.AutoEvaluated || len(stored.EvaluationResult) != 0 {
		t.Errorf("expected requeued call to be pending, got %+v", stored)
	}

	tests := []struct {
		name    string
		id      uint
		outcome Outcome
	}{
		{name: "pending call", id: surge[2].ID, outcome: OutcomeNoop},
		{name: "manual exclusion", id: manual.ID, outcome: OutcomeNoop},
		{name: "missing call", id: 999, outcome: OutcomeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.exclusions.Requeue(ctx, tt.id, "analyst")
			testhelpers.AssertNoError(t, err, "requeue")
			testhelpers.AssertEqual(t, tt.outcome, got, "outcome")
		})
	}

	result, err := env.exclusions.EvaluateCall(ctx, surge[2].ID, EvaluateOptions{})
	testhelpers.AssertNoError(t, err, "re-evaluate")
	testhelpers.AssertEqual(t, OutcomeExcluded, result.Outcome, "re-evaluation outcome")

	entries, _ := env.exclusions.AuditLog(ctx, surge[2].ID)
	actions := make([]database.AuditAction, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	testhelpers.AssertEqual(t,
		[]database.AuditAction{database.AuditAutoExclude, database.AuditRequeue, database.AuditAutoExclude},
		actions, "audit actions")
}

func TestExclusionService_UnevaluatedCalls(t *testing.T) {
	env := newTestEnv(t, nil)
	later := testhelpers.NewCallBuilder().WithCallID("later").QueuedMinutesAfterBase(30).Create(t, env.db)
	earlier := testhelpers.NewCallBuilder().WithCallID("earlier").QueuedMinutesAfterBase(-30).Create(t, env.db)
	testhelpers.NewCallBuilder().WithCallID("done").Evaluated().Create(t, env.db)
	testhelpers.NewCallBuilder().WithCallID("manual").ManuallyExcluded("a", "b").Create(t, env.db)

	got, err := env.exclusions.UnevaluatedCalls(context.Background(), 0)
	testhelpers.AssertNoError(t, err, "unevaluated calls")
	testhelpers.AssertEqual(t, []string{earlier.CallID, later.CallID}, callRefs(got), "order")

	limited, err := env.exclusions.UnevaluatedCalls(context.Background(), 1)
	testhelpers.AssertNoError(t, err, "limited")
	testhelpers.AssertEqual(t, []string{earlier.CallID}, callRefs(limited), "limit")
}
