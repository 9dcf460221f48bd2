package sampler

import (
	"testing"
	"time"
)

func TestSampleCSVRow(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	sample := Sample{
		Timestamp:          time.Date(2020, 1, 1, 8, 55, 0, 0, loc),
		PatientCount:       36,
		AvgWaitMinutes:     77.44,
		LongestWaitMinutes: 162,
	}

	want := "01/01/20 08:55:00,36,77.44,162"
	if got := sample.CSVRow(); got != want {
		t.Fatalf("CSVRow() = %q, want %q", got, want)
	}
}

func TestSampleCSVRowKeepsPrecision(t *testing.T) {
	t.Parallel()

	sample := Sample{
		Timestamp:          time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
		PatientCount:       0,
		AvgWaitMinutes:     0.125,
		LongestWaitMinutes: 90.5,
	}

	want := "12/31/24 23:59:59,0,0.125,90.5"
	if got := sample.CSVRow(); got != want {
		t.Fatalf("CSVRow() = %q, want %q", got, want)
	}
}

func TestSampleRow(t *testing.T) {
	t.Parallel()

	sample := Sample{
		Timestamp:          time.Date(2020, 1, 1, 8, 55, 0, 0, time.UTC),
		PatientCount:       12,
		AvgWaitMinutes:     33.5,
		LongestWaitMinutes: 120,
	}

	row := sample.Row()
	if len(row) != 4 {
		t.Fatalf("Row() returned %d values, want 4", len(row))
	}
	if row[0] != "01/01/20 08:55:00" {
		t.Fatalf("unexpected timestamp cell %v", row[0])
	}
	if row[1] != 12 {
		t.Fatalf("unexpected patient count cell %v", row[1])
	}
	if row[2] != 33.5 {
		t.Fatalf("unexpected avg wait cell %v", row[2])
	}
	if row[3] != 120.0 {
		t.Fatalf("unexpected longest wait cell %v", row[3])
	}
}
