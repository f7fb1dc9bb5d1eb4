package calls

// DedupStats summarizes one deduplication pass.
type DedupStats struct {
	Input                int `json:"input"`
	Kept                 int `json:"kept"`
	Groups               int `json:"groups"`
	RacingGroups         int `json:"racing_groups"`
	MergedAway           int `json:"merged_away"`
	DroppedAirMedical    int `json:"dropped_air_medical"`
	IncompleteKeyRecords int `json:"incomplete_key_records"`
}

// Deduplicate keeps at most one record per incident. Output order follows the
// first appearance of each incident in the input.
func Deduplicate(records []Record) []Record {
	kept, _ := DeduplicateWithStats(records)
	return kept
}

// DeduplicateWithStats is Deduplicate plus counters for logging and ingest results.
func DeduplicateWithStats(records []Record) ([]Record, DedupStats) {
	stats := DedupStats{Input: len(records)}

	// Records with an incomplete key become singletons and are never merged.
	var order [][]Record
	index := make(map[string]int)
	for _, rec := range records {
		if rec.IncidentKey == "" {
			stats.IncompleteKeyRecords++
			order = append(order, []Record{rec})
			continue
		}
		if i, ok := index[rec.IncidentKey]; ok {
			order[i] = append(order[i], rec)
			continue
		}
		index[rec.IncidentKey] = len(order)
		order = append(order, []Record{rec})
	}

	stats.Groups = len(order)
	kept := make([]Record, 0, len(order))
	for _, group := range order {
		if len(group) == 1 {
			// A lone air-medical record is a partial-export artifact.
			if group[0].IsAirMedical() {
				stats.DroppedAirMedical++
				continue
			}
			kept = append(kept, group[0])
			continue
		}
		stats.RacingGroups++
		stats.MergedAway += len(group) - 1
		kept = append(kept, pickFirstOnScene(group))
	}
	stats.Kept = len(kept)
	return kept, stats
}

// pickFirstOnScene selects the racing unit with the smallest valid response time.
// Ties keep the earliest record in input order.
func pickFirstOnScene(group []Record) Record {
	best := -1
	var bestMinutes float64
	for i, rec := range group {
		m := rec.ResponseMinutes()
		if m == nil || *m < 0 {
			continue
		}
		if best == -1 || *m < bestMinutes {
			best = i
			bestMinutes = *m
		}
	}
	if best >= 0 {
		return group[best]
	}

	for _, rec := range group {
		if !rec.IsAirMedical() {
			return rec
		}
	}
	return group[0]
}
