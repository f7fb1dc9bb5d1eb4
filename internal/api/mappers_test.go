package api

import (
	"testing"
	"time"

	"github.com/parishems/compliance/internal/database"
)

func TestCallToListItem(t *testing.T) {
	zone := "Urban 8min"
	strategy := "peak_call_load"
	minutes := 9.5
	compliant := false
	queued := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

	item := CallToListItem(database.Call{
		ID:                3,
		CallID:            "C-3",
		UnitName:          "MEDIC 4",
		ParishID:          7,
		ZoneName:          &zone,
		PriorityCode:      "2",
		QueueTime:         &queued,
		ResponseMinutes:   &minutes,
		IsCompliant:       &compliant,
		ExclusionType:     database.ExclusionAuto,
		ExclusionStrategy: &strategy,
		AutoEvaluated:     true,
	})

	if item.ID != 3 || item.CallID != "C-3" || item.ParishID != 7 {
		t.Errorf("identity fields = %+v", item)
	}
	if item.ResponseDisplay != "9:30" {
		t.Errorf("ResponseDisplay = %q, want 9:30", item.ResponseDisplay)
	}
	if item.ExclusionType != database.ExclusionAuto || item.ExclusionStrategy == nil || *item.ExclusionStrategy != strategy {
		t.Errorf("exclusion fields = %v %v", item.ExclusionType, item.ExclusionStrategy)
	}
	if !item.AutoEvaluated || item.NeedsReview {
		t.Errorf("flags = auto %v review %v", item.AutoEvaluated, item.NeedsReview)
	}
}

func TestCallsToListItems_Empty(t *testing.T) {
	items := CallsToListItems(nil)
	if items == nil || len(items) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", items)
	}
	if item := CallToListItem(database.Call{}); item.ResponseDisplay != "unknown" {
		t.Errorf("ResponseDisplay = %q, want unknown", item.ResponseDisplay)
	}
}

func TestOverlapsToModels(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, loc)

	rows := OverlapsToModels([]WeatherOverlapInput{{
		CallID:       4,
		EventType:    "Flash Flood Warning",
		Severity:     "Severe",
		OverlapStart: start,
		OverlapEnd:   start.Add(90 * time.Minute),
	}})

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].CallID != 4 || rows[0].EventType != "Flash Flood Warning" {
		t.Errorf("row = %+v", rows[0])
	}
	if rows[0].OverlapStart.Location() != time.UTC || rows[0].OverlapStart.Hour() != 14 {
		t.Errorf("OverlapStart = %v, want 14:00 UTC", rows[0].OverlapStart)
	}
}
