package store

import (
	"context"
	"database/sql"

	"github.com/citymetrics/tripflow/internal/model"
)

// DateRange restricts queries to trips whose pickup date falls between Start
// and End, both inclusive. Values are "YYYY-MM-DD" strings; an empty value
// leaves that side unbounded.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// IsZero reports whether the range places no restriction.
func (r DateRange) IsZero() bool { return r.Start == "" && r.End == "" }

// DistributionFilter narrows the duration category distribution. Pointer
// fields distinguish "unset" from zero values.
type DistributionFilter struct {
	DateRange
	Rush          *int `json:"rush,omitempty"`
	MinPassengers *int `json:"min_passengers,omitempty"`
	MaxPassengers *int `json:"max_passengers,omitempty"`
}

// Store is the persistence interface for trips and ingest run bookkeeping.
type Store interface {
	// Trips. InsertTrips is insert-if-absent on trip id and returns the
	// number of rows actually inserted.
	InsertTrips(ctx context.Context, trips []model.Trip) (int64, error)

	// Aggregation reads.
	SummaryStats(ctx context.Context, r DateRange) (model.Summary, error)
	HourCounts(ctx context.Context, r DateRange) ([]model.HourCount, error)
	CategoryCounts(ctx context.Context, f DistributionFilter) (map[model.DurationCategory]int64, error)
	Speeds(ctx context.Context, r DateRange) ([]sql.NullFloat64, error)

	// Ingest runs.
	StartIngestRun(ctx context.Context, source string) (*model.IngestRun, error)
	CompleteIngestRun(ctx context.Context, runID string, rowsRead, rowsInserted int64) error
	FailIngestRun(ctx context.Context, runID string, cause error) error
	ListIngestRuns(ctx context.Context, limit int) ([]model.IngestRun, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
