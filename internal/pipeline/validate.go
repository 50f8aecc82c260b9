package pipeline

import (
	"github.com/citymetrics/tripflow/internal/geo"
	"github.com/citymetrics/tripflow/internal/model"
)

// Validator screens raw trips before feature derivation. Checks run in a
// fixed order per record, each acting only on records that survived the
// previous check:
//
//  1. missing essential fields (id, timestamps, coordinates, duration)
//  2. duplicate ids within the batch (first occurrence wins)
//  3. pickup or dropoff coordinates outside the service area (bounds inclusive)
//  4. non-positive trip duration
type Validator struct {
	area geo.ServiceArea
}

// NewValidator returns a validator scoped to the given service area.
func NewValidator(area geo.ServiceArea) *Validator {
	return &Validator{area: area}
}

// NewNYCValidator returns a validator for the New York City service area:
// latitude 40..41, longitude -75..-72.
func NewNYCValidator() *Validator {
	return NewValidator(geo.NewServiceArea(-75, 40, -72, 41))
}

func missingEssentials(r model.RawTrip) bool {
	return r.ID == "" ||
		r.PickupDatetime == "" ||
		r.DropoffDatetime == "" ||
		r.PickupLatitude == nil ||
		r.PickupLongitude == nil ||
		r.DropoffLatitude == nil ||
		r.DropoffLongitude == nil ||
		r.TripDuration == nil
}

// Validate partitions a batch into records fit for derivation and per-reason
// rejection counts. Duplicate detection is scoped to the batch; cross-batch
// duplicates are absorbed later by the store's insert-if-absent semantics.
func (v *Validator) Validate(batch []model.RawTrip) ([]model.RawTrip, model.RejectCounts) {
	valid := make([]model.RawTrip, 0, len(batch))
	var rejects model.RejectCounts
	seen := make(map[string]struct{}, len(batch))

	for _, r := range batch {
		if missingEssentials(r) {
			rejects.MissingFields++
			continue
		}
		if _, dup := seen[r.ID]; dup {
			rejects.DuplicateID++
			continue
		}
		seen[r.ID] = struct{}{}
		if !v.area.Contains(*r.PickupLongitude, *r.PickupLatitude) ||
			!v.area.Contains(*r.DropoffLongitude, *r.DropoffLatitude) {
			rejects.OutOfBounds++
			continue
		}
		if *r.TripDuration <= 0 {
			rejects.NonPositiveDuration++
			continue
		}
		valid = append(valid, r)
	}

	return valid, rejects
}
