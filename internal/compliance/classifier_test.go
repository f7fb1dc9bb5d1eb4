package compliance

import (
	"testing"
	"time"
)

func at(minutes float64) *time.Time {
	base := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	ts := base.Add(time.Duration(minutes * float64(time.Minute)))
	return &ts
}

func TestIsCompliant_X59Boundary(t *testing.T) {
	threshold := 10.0

	if !IsCompliant(threshold+0.98, threshold) {
		t.Error("threshold + 0.98 should be compliant")
	}
	if !IsCompliant(threshold+59.0/60.0, threshold) {
		t.Error("threshold + 59s should be compliant")
	}
	if IsCompliant(threshold+1.0, threshold) {
		t.Error("threshold + 1.0 should not be compliant")
	}
}

func TestClassify(t *testing.T) {
	override := 7.5

	tests := []struct {
		name          string
		timing        Timing
		wantKnown     bool
		wantMinutes   float64
		wantCompliant bool
	}{
		{
			name:          "on time",
			timing:        Timing{QueueTime: at(0), OnSceneTime: at(9)},
			wantKnown:     true,
			wantMinutes:   9,
			wantCompliant: true,
		},
		{
			name:          "inside grace second",
			timing:        Timing{QueueTime: at(0), OnSceneTime: at(10 + 59.0/60.0)},
			wantKnown:     true,
			wantMinutes:   10 + 59.0/60.0,
			wantCompliant: true,
		},
		{
			name:          "late",
			timing:        Timing{QueueTime: at(0), OnSceneTime: at(11)},
			wantKnown:     true,
			wantMinutes:   11,
			wantCompliant: false,
		},
		{
			name:          "override wins over timestamps",
			timing:        Timing{QueueTime: at(0), OnSceneTime: at(25), OverrideMinutes: &override},
			wantKnown:     true,
			wantMinutes:   7.5,
			wantCompliant: true,
		},
		{
			name:      "missing on-scene",
			timing:    Timing{QueueTime: at(0)},
			wantKnown: false,
		},
		{
			name:      "missing queue",
			timing:    Timing{OnSceneTime: at(5)},
			wantKnown: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.timing, 10)
			if c.Known() != tt.wantKnown {
				t.Fatalf("Known() = %v, want %v", c.Known(), tt.wantKnown)
			}
			if !tt.wantKnown {
				if c.Compliant != nil {
					t.Error("Compliant should be nil when response time is unknown")
				}
				return
			}
			if diff := *c.ResponseMinutes - tt.wantMinutes; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("ResponseMinutes = %v, want %v", *c.ResponseMinutes, tt.wantMinutes)
			}
			if *c.Compliant != tt.wantCompliant {
				t.Errorf("Compliant = %v, want %v", *c.Compliant, tt.wantCompliant)
			}
			if c.ThresholdMinutes != 10 {
				t.Errorf("ThresholdMinutes = %v, want 10", c.ThresholdMinutes)
			}
		})
	}
}

func TestNormalizePriority(t *testing.T) {
	tests := map[string]string{
		"1":    "1",
		"01":   "1",
		"003":  "3",
		" 2 ":  "2",
		"000":  "0",
		"":     "",
		"10":   "10",
		"4":    "4",
		"0012": "12",
	}
	for in, want := range tests {
		if got := NormalizePriority(in); got != want {
			t.Errorf("NormalizePriority(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEligible(t *testing.T) {
	onScene := at(5)

	tests := []struct {
		name     string
		priority string
		onScene  *time.Time
		expected bool
	}{
		{"priority 1 with on-scene", "1", onScene, true},
		{"leading zeros", "03", onScene, true},
		{"priority 4", "4", onScene, false},
		{"priority 10", "10", onScene, false},
		{"no on-scene", "1", nil, false},
		{"empty priority", "", onScene, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(tt.priority, tt.onScene); got != tt.expected {
				t.Errorf("Eligible() = %v, want %v", got, tt.expected)
			}
		})
	}
}
