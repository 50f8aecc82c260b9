package pipeline

import (
	"time"

	"github.com/citymetrics/tripflow/internal/geo"
	"github.com/citymetrics/tripflow/internal/model"
)

// Thresholds for flagging implausible but retained trips.
const (
	speedAnomalyKMH   = 120.0
	distanceAnomalyKM = 100.0
)

// timestampFormats are tried in order when parsing pickup/dropoff strings.
// Source files mix plain "2006-01-02 15:04:05" with ISO 8601 variants.
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a trip timestamp leniently, trying each supported
// layout in order. The second return value reports whether any layout matched.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CategorizeDuration buckets a trip duration in seconds: short is up to and
// including 300s, medium up to and including 1200s, long above that.
func CategorizeDuration(seconds int64) model.DurationCategory {
	switch {
	case seconds <= 300:
		return model.DurationShort
	case seconds <= 1200:
		return model.DurationMedium
	default:
		return model.DurationLong
	}
}

// IsRushHour reports 1 when the pickup time falls in the morning (07:00:00 to
// 09:00:00) or evening (17:00:00 to 19:00:00) window, both ends inclusive.
func IsRushHour(t time.Time) int {
	s := t.Hour()*3600 + t.Minute()*60 + t.Second()
	if (s >= 7*3600 && s <= 9*3600) || (s >= 17*3600 && s <= 19*3600) {
		return 1
	}
	return 0
}

// DeriveStats counts records handled specially during derivation.
type DeriveStats struct {
	TimeDropped int64 // unparseable or inverted timestamps, dropped
	Anomalies   int64 // implausible speed/distance, flagged but retained
}

// Deriver computes per-trip features: haversine distance, average speed,
// duration category, and the rush hour flag. Records whose timestamps cannot
// be parsed or are inverted are dropped and reported to the anomaly log;
// implausible trips are logged but kept.
type Deriver struct {
	anomalies *AnomalyLog
}

// NewDeriver creates a Deriver writing findings to the given anomaly log.
func NewDeriver(anomalies *AnomalyLog) *Deriver {
	return &Deriver{anomalies: anomalies}
}

// Derive transforms validated raw trips into enriched trips. The input batch
// must have passed Validator.Validate, so coordinate and duration pointers
// are non-nil.
func (d *Deriver) Derive(batch []model.RawTrip) ([]model.Trip, DeriveStats) {
	trips := make([]model.Trip, 0, len(batch))
	var stats DeriveStats

	for _, r := range batch {
		pickup, ok := ParseTimestamp(r.PickupDatetime)
		if !ok {
			stats.TimeDropped++
			continue
		}
		dropoff, ok := ParseTimestamp(r.DropoffDatetime)
		if !ok || dropoff.Before(pickup) {
			stats.TimeDropped++
			continue
		}

		distance := geo.HaversineKM(
			*r.PickupLatitude, *r.PickupLongitude,
			*r.DropoffLatitude, *r.DropoffLongitude,
		)
		speed := distance / float64(*r.TripDuration) * 3600

		if speed > speedAnomalyKMH || distance > distanceAnomalyKM {
			stats.Anomalies++
		}

		trips = append(trips, model.Trip{
			RawTrip:          r,
			DistanceKM:       distance,
			SpeedKMH:         speed,
			DurationCategory: CategorizeDuration(*r.TripDuration),
			RushHourFlag:     IsRushHour(pickup),
		})
	}

	if stats.TimeDropped > 0 {
		d.anomalies.Logf(TagTime, "excluding %d rows with invalid or inverted timestamps", stats.TimeDropped)
	}
	if stats.Anomalies > 0 {
		d.anomalies.Logf(TagAnomaly, "%d rows with speed>120 km/h or distance>100 km", stats.Anomalies)
	}

	return trips, stats
}
