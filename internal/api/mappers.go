package api

import (
	"github.com/parishems/compliance/internal/database"
	"github.com/parishems/compliance/internal/utils"
)

// CallToListItem converts a stored call to its listing form.
func CallToListItem(c database.Call) CallListItem {
	return CallListItem{
		ID:                c.ID,
		CallID:            c.CallID,
		UnitName:          c.UnitName,
		ParishID:          c.ParishID,
		ZoneName:          c.ZoneName,
		PriorityCode:      c.PriorityCode,
		QueueTime:         c.QueueTime,
		ResponseMinutes:   c.ResponseMinutes,
		ResponseDisplay:   utils.FormatMinutesPtr(c.ResponseMinutes),
		ThresholdMinutes:  c.ThresholdMinutes,
		IsCompliant:       c.IsCompliant,
		ExclusionType:     c.ExclusionType,
		ExclusionStrategy: c.ExclusionStrategy,
		AutoEvaluated:     c.AutoEvaluated,
		NeedsReview:       c.NeedsReview,
	}
}

// CallsToListItems converts a slice of calls, never returning nil.
func CallsToListItems(list []database.Call) []CallListItem {
	out := make([]CallListItem, 0, len(list))
	for _, c := range list {
		out = append(out, CallToListItem(c))
	}
	return out
}

// OverlapsToModels converts feed input into rows for the weather service.
func OverlapsToModels(in []WeatherOverlapInput) []database.WeatherOverlap {
	out := make([]database.WeatherOverlap, 0, len(in))
	for _, o := range in {
		out = append(out, database.WeatherOverlap{
			CallID:          o.CallID,
			EventType:       o.EventType,
			Severity:        o.Severity,
			AreaDescription: o.AreaDescription,
			OverlapStart:    o.OverlapStart.UTC(),
			OverlapEnd:      o.OverlapEnd.UTC(),
		})
	}
	return out
}
