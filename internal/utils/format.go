package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatMinutes formats fractional minutes as m:ss.
// Examples: 8.5 -> "8:30", 10.9833 -> "10:59", -1.5 -> "-1:30"
func FormatMinutes(minutes float64) string {
	sign := ""
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	total := int(math.Round(minutes * 60))
	return fmt.Sprintf("%s%d:%02d", sign, total/60, total%60)
}

// FormatMinutesPtr is FormatMinutes for an optional value; nil reads "unknown".
func FormatMinutesPtr(minutes *float64) string {
	if minutes == nil {
		return "unknown"
	}
	return FormatMinutes(*minutes)
}

// FormatPercent formats a rate in [0, 1] as a percentage with one decimal.
// Examples: 0.75 -> "75.0%", 1 -> "100.0%"
func FormatPercent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}

// FormatNumber formats a number with comma separators
// Examples: 123 -> "123", 1234 -> "1,234", 1234567 -> "1,234,567"
func FormatNumber(n int) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	str := fmt.Sprintf("%d", n)
	var result []rune
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, c)
	}
	return string(result)
}

// TruncateText truncates text to maxLen characters, adding "..." if truncated
// Also removes newlines for single-line display
func TruncateText(text string, maxLen int) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.TrimSpace(text)

	if len(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return "..."
	}
	return text[:maxLen-3] + "..."
}
