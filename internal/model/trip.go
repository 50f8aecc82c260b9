package model

import "time"

// DurationCategory buckets a trip by its duration.
type DurationCategory string

const (
	DurationShort  DurationCategory = "short"  // <= 5 minutes
	DurationMedium DurationCategory = "medium" // 5-20 minutes
	DurationLong   DurationCategory = "long"   // > 20 minutes
)

// RawTrip is a trip record as it arrives from the raw source, before any
// validation. Nullable numeric fields are pointers: nil means the column was
// absent or unparseable. Timestamps stay as raw text until derivation.
type RawTrip struct {
	ID               string   `json:"id"`
	VendorID         string   `json:"vendor_id"`
	PickupDatetime   string   `json:"pickup_datetime"`
	DropoffDatetime  string   `json:"dropoff_datetime"`
	PassengerCount   int64    `json:"passenger_count"`
	PickupLongitude  *float64 `json:"pickup_longitude"`
	PickupLatitude   *float64 `json:"pickup_latitude"`
	DropoffLongitude *float64 `json:"dropoff_longitude"`
	DropoffLatitude  *float64 `json:"dropoff_latitude"`
	StoreAndFwdFlag  string   `json:"store_and_fwd_flag"`
	TripDuration     *int64   `json:"trip_duration"`
}

// Trip is a validated raw record enriched with derived features. It is
// written once to the store and never mutated afterwards.
type Trip struct {
	RawTrip
	DistanceKM       float64          `json:"trip_distance_km"`
	SpeedKMH         float64          `json:"trip_speed_kmh"`
	DurationCategory DurationCategory `json:"duration_category"`
	RushHourFlag     int              `json:"rush_hour_flag"`
}

// RejectCounts tallies records dropped during validation, per reason.
type RejectCounts struct {
	MissingFields       int64 `json:"missing_fields"`
	DuplicateID         int64 `json:"duplicate_id"`
	OutOfBounds         int64 `json:"out_of_bounds"`
	NonPositiveDuration int64 `json:"non_positive_duration"`
}

// Total returns the number of records dropped across all reasons.
func (c RejectCounts) Total() int64 {
	return c.MissingFields + c.DuplicateID + c.OutOfBounds + c.NonPositiveDuration
}

// Add accumulates another batch's counts into c.
func (c *RejectCounts) Add(other RejectCounts) {
	c.MissingFields += other.MissingFields
	c.DuplicateID += other.DuplicateID
	c.OutOfBounds += other.OutOfBounds
	c.NonPositiveDuration += other.NonPositiveDuration
}

// IngestStats is the outcome of a full ingestion run.
type IngestStats struct {
	RowsRead     int64        `json:"rows_read"`
	Batches      int64        `json:"batches"`
	RowsInserted int64        `json:"rows_inserted"`
	Rejected     RejectCounts `json:"rejected"`
	TimeDropped  int64        `json:"time_dropped"`
	Anomalies    int64        `json:"anomalies"`
}

// IngestRunStatus represents the current state of an ingestion run.
type IngestRunStatus string

const (
	IngestRunRunning  IngestRunStatus = "running"
	IngestRunComplete IngestRunStatus = "complete"
	IngestRunFailed   IngestRunStatus = "failed"
)

// IngestRun is a bookkeeping row recording one ingestion run.
type IngestRun struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	Status       IngestRunStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	RowsRead     int64           `json:"rows_read"`
	RowsInserted int64           `json:"rows_inserted"`
	Error        string          `json:"error,omitempty"`
}

// Summary holds the aggregate KPIs over a filtered set of trips.
type Summary struct {
	Trips        int64   `json:"trips"`
	AvgDurationS float64 `json:"avg_duration_s"`
	AvgKM        float64 `json:"avg_km"`
	AvgKMH       float64 `json:"avg_kmh"`
}

// HourCount is the number of trips picked up in one hour of day (0-23).
type HourCount struct {
	Hour  int   `json:"hour"`
	Trips int64 `json:"trips"`
}

// HistogramBin is one bucket of the speed histogram. Label is "low-high"
// with low a multiple of the bin size.
type HistogramBin struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}
