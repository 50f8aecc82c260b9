package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/citymetrics/tripflow/internal/model"
)

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("12345678-abcd-efgh"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	completed := started.Add(42 * time.Second)

	runs := []model.IngestRun{
		{
			ID:           "aaaaaaaa-1111-2222-3333-444444444444",
			Source:       "trips.csv",
			Status:       model.IngestRunComplete,
			StartedAt:    started,
			CompletedAt:  &completed,
			RowsRead:     1000,
			RowsInserted: 950,
		},
		{
			ID:        "bbbbbbbb-1111-2222-3333-444444444444",
			Source:    "https://example.com/a/very/long/path/to/some/trips/archive.csv",
			Status:    model.IngestRunFailed,
			StartedAt: started,
			Error:     "source: open archive.csv: connection refused by remote host",
		},
	}

	var sb strings.Builder
	formatRunsList(&sb, runs)
	out := sb.String()

	assert.Contains(t, out, "aaaaaaaa")
	assert.Contains(t, out, "trips.csv")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "42s")
	assert.Contains(t, out, "failed")
	// Long source and error strings are truncated for display.
	assert.NotContains(t, out, "https://example.com/a/very/long")
	assert.Contains(t, out, "...")
}
