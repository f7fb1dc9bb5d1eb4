// Package compliance resolves response-time thresholds, classifies calls against
// them and computes compliance rates over sets of calls.
package compliance

import (
	"strings"
	"time"
)

// GraceMinutes is the fixed "X:59" allowance: a call at the threshold's final
// second still counts as on time.
const GraceMinutes = 59.0 / 60.0

// Timing holds the fields the classifier needs from a call.
type Timing struct {
	QueueTime       *time.Time
	OnSceneTime     *time.Time
	OverrideMinutes *float64
}

// Classification is the classifier output. ResponseMinutes and Compliant are nil
// when the response time cannot be determined.
type Classification struct {
	ResponseMinutes  *float64 `json:"response_minutes"`
	ThresholdMinutes float64  `json:"threshold_minutes"`
	Compliant        *bool    `json:"compliant"`
}

// Known reports whether a response time could be computed.
func (c Classification) Known() bool {
	return c.ResponseMinutes != nil
}

// ResponseMinutes returns on-scene minus queue time in minutes, or nil if either is missing.
func ResponseMinutes(queue, onScene *time.Time) *float64 {
	if queue == nil || onScene == nil || queue.IsZero() || onScene.IsZero() {
		return nil
	}
	m := onScene.Sub(*queue).Minutes()
	return &m
}

// EffectiveResponseMinutes prefers a manual override over the computed value.
func (t Timing) EffectiveResponseMinutes() *float64 {
	if t.OverrideMinutes != nil {
		m := *t.OverrideMinutes
		return &m
	}
	return ResponseMinutes(t.QueueTime, t.OnSceneTime)
}

// IsCompliant applies the X:59 rule.
func IsCompliant(responseMinutes, thresholdMinutes float64) bool {
	return responseMinutes <= thresholdMinutes+GraceMinutes
}

// Classify computes the response time and compliance status for a call.
func Classify(t Timing, thresholdMinutes float64) Classification {
	c := Classification{ThresholdMinutes: thresholdMinutes}
	minutes := t.EffectiveResponseMinutes()
	if minutes == nil {
		return c
	}
	compliant := IsCompliant(*minutes, thresholdMinutes)
	c.ResponseMinutes = minutes
	c.Compliant = &compliant
	return c
}

// NormalizePriority trims whitespace and leading zeros ("01" -> "1"). A code made
// only of zeros normalizes to "0".
func NormalizePriority(code string) string {
	p := strings.TrimSpace(code)
	if p == "" {
		return ""
	}
	trimmed := strings.TrimLeft(p, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// EligiblePriorities lists the normalized priority codes that count toward compliance.
func EligiblePriorities() []string {
	return []string{"1", "2", "3"}
}

// EligiblePriority reports whether a priority code counts toward compliance.
func EligiblePriority(code string) bool {
	p := NormalizePriority(code)
	for _, e := range EligiblePriorities() {
		if p == e {
			return true
		}
	}
	return false
}

// Eligible reports whether a call takes part in compliance scoring at all.
func Eligible(priorityCode string, onScene *time.Time) bool {
	return EligiblePriority(priorityCode) && onScene != nil && !onScene.IsZero()
}
