package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
)

// Reader fetches one wait-time sample from the configured source endpoint.
type Reader struct {
	client    *resty.Client
	sourceURL string
	location  *time.Location
	logger    *slog.Logger

	now func() time.Time
}

// NewReader constructs a Reader for the given source URL. The timeout bounds
// the whole fetch including body read.
func NewReader(sourceURL string, timeout time.Duration, location *time.Location, logger *slog.Logger) (*Reader, error) {
	if sourceURL == "" {
		return nil, fmt.Errorf("source URL must not be empty")
	}
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Reader{
		client:    client,
		sourceURL: sourceURL,
		location:  location,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// sourcePayload mirrors the endpoint response. Pointer fields distinguish
// missing keys from zero values.
type sourcePayload struct {
	AvgWaitMin     *float64 `json:"aveWaitMin"`
	PatientCount   *float64 `json:"patientCount"`
	LongestWaitMin *float64 `json:"longestWaitMin"`
	LastUpdated    string   `json:"lastUpdated"`
}

// Fetch performs one GET against the source and builds a Sample stamped with
// the local capture time. The server-provided lastUpdated value is carried
// through as-is and never used for the timestamp.
func (r *Reader) Fetch(ctx context.Context) (Sample, error) {
	capturedAt := r.now().In(r.location)

	resp, err := r.client.R().SetContext(ctx).Get(r.sourceURL)
	if err != nil {
		return Sample{}, fmt.Errorf("fetch source: %w", err)
	}
	if !resp.IsSuccess() {
		return Sample{}, &StatusError{Code: resp.StatusCode()}
	}

	var payload sourcePayload
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return Sample{}, &ParseError{Reason: err.Error()}
	}

	if err := validatePayload(payload); err != nil {
		return Sample{}, err
	}

	sample := Sample{
		Timestamp:          capturedAt,
		PatientCount:       int(*payload.PatientCount),
		AvgWaitMinutes:     *payload.AvgWaitMin,
		LongestWaitMinutes: *payload.LongestWaitMin,
		SourceUpdated:      payload.LastUpdated,
	}

	r.logger.Debug("sample fetched",
		"patient_count", sample.PatientCount,
		"avg_wait_minutes", sample.AvgWaitMinutes,
		"longest_wait_minutes", sample.LongestWaitMinutes,
	)

	return sample, nil
}

func validatePayload(payload sourcePayload) error {
	checks := []struct {
		field string
		value *float64
	}{
		{"aveWaitMin", payload.AvgWaitMin},
		{"patientCount", payload.PatientCount},
		{"longestWaitMin", payload.LongestWaitMin},
	}

	for _, check := range checks {
		if check.value == nil {
			return &ParseError{Field: check.field, Reason: "missing"}
		}
		if *check.value < 0 {
			return &ParseError{Field: check.field, Reason: "negative value"}
		}
	}

	if *payload.PatientCount != math.Trunc(*payload.PatientCount) {
		return &ParseError{Field: "patientCount", Reason: "not an integer"}
	}
	if *payload.PatientCount > math.MaxInt32 {
		return &ParseError{Field: "patientCount", Reason: "out of range"}
	}

	return nil
}
