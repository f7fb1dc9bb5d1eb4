package strategies

import (
	"context"
	"errors"
	"testing"
)

type fakeOverlapSource struct {
	overlaps map[uint][]Overlap
	err      error
}

func (f *fakeOverlapSource) OverlapsForCall(_ context.Context, callRowID uint) ([]Overlap, error) {
	return f.overlaps[callRowID], f.err
}

func TestWeather_Evaluate(t *testing.T) {
	source := &fakeOverlapSource{overlaps: map[uint][]Overlap{
		1: {
			{EventType: "Flood Advisory", Severity: "Minor", OverlapStart: at(0), OverlapEnd: at(30)},
			{EventType: "Tornado Warning", Severity: "Extreme", OverlapStart: at(10), OverlapEnd: at(20)},
			{EventType: "Severe Thunderstorm Warning", Severity: "Severe", OverlapStart: at(5), OverlapEnd: at(25)},
		},
		2: {
			{EventType: "Heat Advisory", Severity: "Moderate", OverlapStart: at(10), OverlapEnd: at(20)},
			{EventType: "Wind Advisory", Severity: "moderate", OverlapStart: at(0), OverlapEnd: at(20)},
		},
	}}
	w := NewWeather(source)
	setting := DefaultSettings()[KeyWeather]

	tests := []struct {
		id          uint
		wantExclude bool
		wantReason  string
	}{
		{id: 1, wantExclude: true, wantReason: "Severe Weather Alert: Tornado Warning (Extreme)"},
		{id: 2, wantExclude: true, wantReason: "Severe Weather Alert: Wind Advisory (moderate)"},
		{id: 3, wantExclude: false},
	}
	for _, tt := range tests {
		vote, err := w.Evaluate(context.Background(), CallContext{CallRowID: tt.id}, setting)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", tt.id, err)
		}
		if vote == nil {
			t.Fatalf("call %d: weather must vote, not abstain", tt.id)
		}
		if vote.ShouldExclude != tt.wantExclude {
			t.Errorf("call %d: ShouldExclude = %v", tt.id, vote.ShouldExclude)
		}
		if tt.wantExclude {
			if vote.Reason != tt.wantReason {
				t.Errorf("call %d: Reason = %q, want %q", tt.id, vote.Reason, tt.wantReason)
			}
			if vote.Confidence != DefaultWeatherConfidence {
				t.Errorf("call %d: Confidence = %v", tt.id, vote.Confidence)
			}
		}
	}
}

func TestWeather_Errors(t *testing.T) {
	if _, err := NewWeather(nil).Evaluate(context.Background(), CallContext{}, Setting{Enabled: true}); !errors.Is(err, ErrNoOverlapSource) {
		t.Errorf("expected ErrNoOverlapSource, got %v", err)
	}

	boom := errors.New("boom")
	if _, err := NewWeather(&fakeOverlapSource{err: boom}).Evaluate(context.Background(), CallContext{}, Setting{Enabled: true}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
