// Package calls turns raw call rows into canonical records and collapses racing
// unit responses to one record per incident.
package calls

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/parishems/compliance/internal/compliance"
)

// RawCall is one row as handed over by an ingestion adapter. Every field is the
// source's string representation.
type RawCall struct {
	CallID                  string `json:"call_id"`
	UnitName                string `json:"unit_name"`
	ParishID                string `json:"parish_id"`
	RegionID                string `json:"region_id"`
	ZoneName                string `json:"zone_name"`
	Address                 string `json:"address"`
	ResponseDate            string `json:"response_date"`
	PriorityCode            string `json:"priority_code"`
	QueueTime               string `json:"queue_time"`
	DispatchTime            string `json:"dispatch_time"`
	EnrouteTime             string `json:"enroute_time"`
	StagedTime              string `json:"staged_time"`
	OnSceneTime             string `json:"on_scene_time"`
	DepartTime              string `json:"depart_time"`
	ArrivedDestinationTime  string `json:"arrived_destination_time"`
	ClearedTime             string `json:"cleared_time"`
	ResponseMinutesOverride string `json:"response_minutes_override"`
}

// Timestamps are the operational timestamps of a call. All are optional.
type Timestamps struct {
	Queue              *time.Time
	Dispatch           *time.Time
	Enroute            *time.Time
	Staged             *time.Time
	OnScene            *time.Time
	Depart             *time.Time
	ArrivedDestination *time.Time
	Cleared            *time.Time
}

// Record is a normalized call.
type Record struct {
	Row             int
	CallID          string
	IncidentKey     string
	UnitName        string
	ParishID        uint
	RegionID        uint
	ZoneName        *string
	Address         string
	ResponseDate    string
	QueueTimeRaw    string
	PriorityCode    string
	Times           Timestamps
	OverrideMinutes *float64
}

// Timing returns the fields the classifier reads.
func (r Record) Timing() compliance.Timing {
	return compliance.Timing{
		QueueTime:       r.Times.Queue,
		OnSceneTime:     r.Times.OnScene,
		OverrideMinutes: r.OverrideMinutes,
	}
}

// ResponseMinutes is on-scene minus queue time, ignoring any override.
func (r Record) ResponseMinutes() *float64 {
	return compliance.ResponseMinutes(r.Times.Queue, r.Times.OnScene)
}

// IsAirMedical reports whether the unit is an air-medical unit.
func (r Record) IsAirMedical() bool {
	return IsAirMedical(r.UnitName)
}

// ErrMissingCallID is returned for rows without a call id.
var ErrMissingCallID = errors.New("call id is required")

var airMedicalUnit = regexp.MustCompile(`(?i)^AM\d+$`)

// IsAirMedical matches unit names of the form AM<number>.
func IsAirMedical(unit string) bool {
	return airMedicalUnit.MatchString(strings.TrimSpace(unit))
}

// timestampLayouts are tried in order. Source exports mix ISO and US formats.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
}

// ParseTimestamp parses a local date-time. Empty input yields (nil, nil).
func ParseTimestamp(s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

// IncidentKey builds the grouping key from date, address and the raw queue time.
// It returns "" when any part is empty so the record is never merged.
func IncidentKey(responseDate, address, queueRaw string) string {
	date := strings.TrimSpace(responseDate)
	addr := strings.ToLower(strings.TrimSpace(address))
	queue := strings.TrimSpace(queueRaw)
	if date == "" || addr == "" || queue == "" {
		return ""
	}
	return date + "|" + addr + "|" + queue
}

// Normalize converts a raw row into a Record. Timestamps are interpreted in loc.
func Normalize(raw RawCall, loc *time.Location) (Record, error) {
	callID := strings.TrimSpace(raw.CallID)
	if callID == "" {
		return Record{}, ErrMissingCallID
	}

	parishID, err := parseID(raw.ParishID)
	if err != nil {
		return Record{}, fmt.Errorf("call %s: parish id: %w", callID, err)
	}
	regionID, err := parseID(raw.RegionID)
	if err != nil {
		return Record{}, fmt.Errorf("call %s: region id: %w", callID, err)
	}

	rec := Record{
		CallID:       callID,
		UnitName:     strings.TrimSpace(raw.UnitName),
		ParishID:     parishID,
		RegionID:     regionID,
		Address:      strings.TrimSpace(raw.Address),
		ResponseDate: strings.TrimSpace(raw.ResponseDate),
		QueueTimeRaw: strings.TrimSpace(raw.QueueTime),
		PriorityCode: compliance.NormalizePriority(raw.PriorityCode),
	}
	if zone := strings.TrimSpace(raw.ZoneName); zone != "" {
		rec.ZoneName = &zone
	}

	fields := []struct {
		name string
		raw  string
		dst  **time.Time
	}{
		{"queue_time", raw.QueueTime, &rec.Times.Queue},
		{"dispatch_time", raw.DispatchTime, &rec.Times.Dispatch},
		{"enroute_time", raw.EnrouteTime, &rec.Times.Enroute},
		{"staged_time", raw.StagedTime, &rec.Times.Staged},
		{"on_scene_time", raw.OnSceneTime, &rec.Times.OnScene},
		{"depart_time", raw.DepartTime, &rec.Times.Depart},
		{"arrived_destination_time", raw.ArrivedDestinationTime, &rec.Times.ArrivedDestination},
		{"cleared_time", raw.ClearedTime, &rec.Times.Cleared},
	}
	for _, f := range fields {
		ts, err := ParseTimestamp(f.raw, loc)
		if err != nil {
			return Record{}, fmt.Errorf("call %s: %s: %w", callID, f.name, err)
		}
		*f.dst = ts
	}

	rec.IncidentKey = IncidentKey(rec.ResponseDate, rec.Address, rec.QueueTimeRaw)
	if rec.ResponseDate == "" && rec.Times.Queue != nil {
		rec.ResponseDate = rec.Times.Queue.Format("2006-01-02")
	}

	if s := strings.TrimSpace(raw.ResponseMinutesOverride); s != "" {
		m, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Record{}, fmt.Errorf("call %s: response minutes override: %w", callID, err)
		}
		rec.OverrideMinutes = &m
	}

	return rec, nil
}

// RowError ties a normalization failure to its input row.
type RowError struct {
	Row    int    `json:"row"`
	CallID string `json:"call_id,omitempty"`
	Error  string `json:"error"`
}

// NormalizeAll normalizes rows in order, collecting per-row failures instead of
// stopping at the first one.
func NormalizeAll(rows []RawCall, loc *time.Location) ([]Record, []RowError) {
	records := make([]Record, 0, len(rows))
	var rowErrors []RowError
	for i, raw := range rows {
		rec, err := Normalize(raw, loc)
		if err != nil {
			rowErrors = append(rowErrors, RowError{Row: i, CallID: strings.TrimSpace(raw.CallID), Error: err.Error()})
			continue
		}
		rec.Row = i
		records = append(records, rec)
	}
	return records, rowErrors
}

func parseID(s string) (uint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(n), nil
}
