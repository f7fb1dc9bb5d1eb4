package strategies

import (
	"context"
	"errors"
	"testing"
	"time"
)

var surgeBase = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

func at(minutes float64) time.Time {
	return surgeBase.Add(time.Duration(minutes * float64(time.Minute)))
}

type fakeWindowSource struct {
	calls []WindowCall
	err   error
}

func (f *fakeWindowSource) CallsInWindow(_ context.Context, _ uint, start, end time.Time) ([]WindowCall, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []WindowCall
	for _, c := range f.calls {
		if !c.QueueTime.Before(start) && !c.QueueTime.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestComputeWindowPositions(t *testing.T) {
	calls := []WindowCall{
		{ID: 5, QueueTime: at(20)},
		{ID: 1, QueueTime: at(0)},
		{ID: 3, QueueTime: at(10)},
		{ID: 2, QueueTime: at(5)},
		{ID: 4, QueueTime: at(10)},
		{ID: 6, QueueTime: at(60)},
	}
	got := ComputeWindowPositions(calls, 45*time.Minute)

	want := map[uint]struct{ pos, count int }{
		1: {1, 1},
		2: {2, 2},
		3: {3, 4},
		4: {4, 4},
		5: {5, 5},
		6: {2, 2},
	}
	for id, w := range want {
		s := got[id]
		if s.Position != w.pos || s.Count != w.count {
			t.Errorf("call %d: position/count = %d/%d, want %d/%d", id, s.Position, s.Count, w.pos, w.count)
		}
	}
	if !got[6].WindowStart.Equal(at(15)) {
		t.Errorf("WindowStart = %v, want %v", got[6].WindowStart, at(15))
	}
}

func TestComputeWindowPositions_InclusiveStart(t *testing.T) {
	got := ComputeWindowPositions([]WindowCall{
		{ID: 1, QueueTime: at(0)},
		{ID: 2, QueueTime: at(45)},
	}, 45*time.Minute)
	if got[2].Position != 2 {
		t.Errorf("call on the window boundary should be counted, position = %d", got[2].Position)
	}
}

func TestComputeWindowPositions_Empty(t *testing.T) {
	if got := ComputeWindowPositions(nil, time.Hour); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func peakContext(id uint, minutes float64, compliant bool) CallContext {
	q := at(minutes)
	return CallContext{
		CallRowID: id,
		CallID:    "C-" + string(rune('0'+id)),
		ParishID:  7,
		QueueTime: &q,
		Compliant: &compliant,
	}
}

func TestPeakCallLoad_SurgeOutcomes(t *testing.T) {
	source := &fakeWindowSource{}
	for i := uint(1); i <= 5; i++ {
		source.calls = append(source.calls, WindowCall{ID: i, QueueTime: at(float64(i-1) * 5)})
	}
	strategy := NewPeakCallLoad(source)
	setting := DefaultSettings()[KeyPeakCallLoad]

	tests := []struct {
		name        string
		id          uint
		compliant   bool
		wantExclude bool
		wantReview  bool
	}{
		{name: "first call late", id: 1, compliant: false},
		{name: "second call late", id: 2, compliant: false},
		{name: "third call late", id: 3, compliant: false, wantExclude: true},
		{name: "fourth call compliant", id: 4, compliant: true, wantReview: true},
		{name: "fifth call late", id: 5, compliant: false, wantExclude: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vote, err := strategy.Evaluate(context.Background(), peakContext(tt.id, float64(tt.id-1)*5, tt.compliant), setting)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if vote == nil {
				t.Fatal("expected a vote")
			}
			if vote.ShouldExclude != tt.wantExclude {
				t.Errorf("ShouldExclude = %v, want %v (%s)", vote.ShouldExclude, tt.wantExclude, vote.Reason)
			}
			review, _ := vote.Metadata[MetaRequiresReview].(bool)
			if review != tt.wantReview {
				t.Errorf("requires_review = %v, want %v", review, tt.wantReview)
			}
		})
	}
}

func TestPeakCallLoad_ConfidenceGrowsAndCaps(t *testing.T) {
	tests := []struct {
		position int
		want     float64
	}{
		{3, 0.90},
		{4, 0.91},
		{6, 0.93},
		{20, 0.95},
	}
	for _, tt := range tests {
		got := peakConfidence(tt.position, DefaultPeakBaseConfidence, DefaultPeakMaxConfidence)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("peakConfidence(%d) = %v, want %v", tt.position, got, tt.want)
		}
	}
}

func TestPeakCallLoad_BelowMinCalls(t *testing.T) {
	source := &fakeWindowSource{calls: []WindowCall{
		{ID: 1, QueueTime: at(0)},
		{ID: 2, QueueTime: at(50)},
		{ID: 3, QueueTime: at(100)},
	}}
	vote, err := NewPeakCallLoad(source).Evaluate(context.Background(), peakContext(3, 100, false), DefaultSettings()[KeyPeakCallLoad])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vote.ShouldExclude {
		t.Error("sparse calls should not be excluded")
	}
	if vote.Metadata["calls_in_window"] != 1 {
		t.Errorf("calls_in_window = %v, want 1", vote.Metadata["calls_in_window"])
	}
}

func TestPeakCallLoad_UsesPrecomputedWindow(t *testing.T) {
	call := peakContext(9, 30, false)
	call.Window = &WindowStats{Position: 4, Count: 6, WindowMinutes: DefaultPeakWindowMinutes}

	vote, err := NewPeakCallLoad(nil).Evaluate(context.Background(), call, DefaultSettings()[KeyPeakCallLoad])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !vote.ShouldExclude {
		t.Error("expected exclusion from precomputed window")
	}
	if vote.Metadata["window_position"] != 4 {
		t.Errorf("window_position = %v, want 4", vote.Metadata["window_position"])
	}
}

func TestPeakCallLoad_CallMissingFromSourceIsCounted(t *testing.T) {
	source := &fakeWindowSource{calls: []WindowCall{
		{ID: 1, QueueTime: at(0)},
		{ID: 2, QueueTime: at(1)},
	}}
	vote, err := NewPeakCallLoad(source).Evaluate(context.Background(), peakContext(3, 2, false), DefaultSettings()[KeyPeakCallLoad])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !vote.ShouldExclude || vote.Metadata["window_position"] != 3 {
		t.Errorf("expected exclusion at position 3, got %+v", vote)
	}
}

func TestPeakCallLoad_Abstains(t *testing.T) {
	s := NewPeakCallLoad(&fakeWindowSource{})
	setting := DefaultSettings()[KeyPeakCallLoad]

	if vote, err := s.Evaluate(context.Background(), CallContext{CallRowID: 1}, setting); vote != nil || err != nil {
		t.Errorf("expected abstain without queue time, got %v, %v", vote, err)
	}

	q := at(0)
	if vote, err := s.Evaluate(context.Background(), CallContext{CallRowID: 1, QueueTime: &q}, setting); vote != nil || err != nil {
		t.Errorf("expected abstain without a classification, got %v, %v", vote, err)
	}
}

func TestPeakCallLoad_Errors(t *testing.T) {
	setting := DefaultSettings()[KeyPeakCallLoad]
	if _, err := NewPeakCallLoad(nil).Evaluate(context.Background(), peakContext(1, 0, false), setting); !errors.Is(err, ErrNoWindowSource) {
		t.Errorf("expected ErrNoWindowSource, got %v", err)
	}

	boom := errors.New("boom")
	if _, err := NewPeakCallLoad(&fakeWindowSource{err: boom}).Evaluate(context.Background(), peakContext(1, 0, false), setting); !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
}
