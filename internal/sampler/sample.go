package sampler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the fixed wall-clock format used in sink rows.
const TimestampLayout = "01/02/06 15:04:05"

// Sample represents a single observation of ER wait-time metrics.
type Sample struct {
	Timestamp          time.Time `json:"ts"`
	PatientCount       int       `json:"patient_count"`
	AvgWaitMinutes     float64   `json:"avg_wait_minutes"`
	LongestWaitMinutes float64   `json:"longest_wait_minutes"`
	// SourceUpdated carries the endpoint's own lastUpdated string verbatim.
	// Informational only, never persisted to sinks.
	SourceUpdated string `json:"source_updated,omitempty"`
}

// CSVRow renders the sample as one sink row without a trailing newline.
func (s Sample) CSVRow() string {
	fields := []string{
		s.Timestamp.Format(TimestampLayout),
		strconv.Itoa(s.PatientCount),
		formatMinutes(s.AvgWaitMinutes),
		formatMinutes(s.LongestWaitMinutes),
	}
	return strings.Join(fields, ",")
}

// Row returns the sample as a spreadsheet append row.
func (s Sample) Row() []any {
	return []any{
		s.Timestamp.Format(TimestampLayout),
		s.PatientCount,
		s.AvgWaitMinutes,
		s.LongestWaitMinutes,
	}
}

// formatMinutes keeps source precision: integral values render without a
// decimal point, fractional values keep their exact digits.
func formatMinutes(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// StatusError reports a non-2xx response from the source or append endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Code)
}

// ParseError reports a malformed response body or an invalid field value.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("parse response: %s", e.Reason)
	}
	return fmt.Sprintf("parse field %q: %s", e.Field, e.Reason)
}
