package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citymetrics/tripflow/internal/model"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func validRaw(id string) model.RawTrip {
	return model.RawTrip{
		ID:               id,
		VendorID:         "1",
		PickupDatetime:   "2016-03-14 17:24:55",
		DropoffDatetime:  "2016-03-14 17:32:30",
		PassengerCount:   1,
		PickupLongitude:  f64(-73.982155),
		PickupLatitude:   f64(40.767937),
		DropoffLongitude: f64(-73.964630),
		DropoffLatitude:  f64(40.765602),
		StoreAndFwdFlag:  "N",
		TripDuration:     i64(455),
	}
}

func TestValidate_AllValid(t *testing.T) {
	v := NewNYCValidator()
	valid, rejects := v.Validate([]model.RawTrip{validRaw("id1"), validRaw("id2")})
	assert.Len(t, valid, 2)
	assert.Zero(t, rejects.Total())
}

func TestValidate_MissingFields(t *testing.T) {
	v := NewNYCValidator()

	noID := validRaw("")
	noPickupTime := validRaw("id1")
	noPickupTime.PickupDatetime = ""
	noCoord := validRaw("id2")
	noCoord.DropoffLatitude = nil
	noDuration := validRaw("id3")
	noDuration.TripDuration = nil

	valid, rejects := v.Validate([]model.RawTrip{noID, noPickupTime, noCoord, noDuration, validRaw("id4")})
	require.Len(t, valid, 1)
	assert.Equal(t, "id4", valid[0].ID)
	assert.Equal(t, int64(4), rejects.MissingFields)
}

func TestValidate_DuplicateIDsFirstWins(t *testing.T) {
	v := NewNYCValidator()

	first := validRaw("id1")
	first.PassengerCount = 1
	second := validRaw("id1")
	second.PassengerCount = 5

	valid, rejects := v.Validate([]model.RawTrip{first, second, second})
	require.Len(t, valid, 1)
	assert.Equal(t, int64(1), valid[0].PassengerCount)
	assert.Equal(t, int64(2), rejects.DuplicateID)
}

func TestValidate_DuplicateOfRecordRejectedLater(t *testing.T) {
	// The duplicate check runs before the bounds check, so a second
	// occurrence is counted as a duplicate even when the first occurrence
	// goes on to fail the bounds check.
	v := NewNYCValidator()

	outOfBounds := validRaw("id1")
	outOfBounds.PickupLatitude = f64(39.0)
	dup := validRaw("id1")

	valid, rejects := v.Validate([]model.RawTrip{outOfBounds, dup})
	assert.Empty(t, valid)
	assert.Equal(t, int64(1), rejects.OutOfBounds)
	assert.Equal(t, int64(1), rejects.DuplicateID)
}

func TestValidate_BoundsInclusive(t *testing.T) {
	v := NewNYCValidator()

	cases := []struct {
		name     string
		lat, lon float64
		valid    bool
	}{
		{"min corner", 40.0, -75.0, true},
		{"max corner", 41.0, -72.0, true},
		{"lat below", 39.999999, -73.5, false},
		{"lat above", 41.000001, -73.5, false},
		{"lon below", 40.5, -75.000001, false},
		{"lon above", 40.5, -71.999999, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRaw("id1")
			r.PickupLatitude = f64(tc.lat)
			r.PickupLongitude = f64(tc.lon)
			valid, rejects := v.Validate([]model.RawTrip{r})
			if tc.valid {
				assert.Len(t, valid, 1)
			} else {
				assert.Empty(t, valid)
				assert.Equal(t, int64(1), rejects.OutOfBounds)
			}
		})
	}
}

func TestValidate_DropoffOutOfBoundsRejected(t *testing.T) {
	// Both ends of the trip must lie inside the service area.
	v := NewNYCValidator()
	r := validRaw("id1")
	r.DropoffLatitude = f64(35.0)
	r.DropoffLongitude = f64(-80.0)
	valid, rejects := v.Validate([]model.RawTrip{r})
	assert.Empty(t, valid)
	assert.Equal(t, int64(1), rejects.OutOfBounds)
}

func TestValidate_DropoffBoundsInclusive(t *testing.T) {
	v := NewNYCValidator()
	r := validRaw("id1")
	r.DropoffLatitude = f64(41.0)
	r.DropoffLongitude = f64(-72.0)
	valid, rejects := v.Validate([]model.RawTrip{r})
	assert.Len(t, valid, 1)
	assert.Zero(t, rejects.Total())
}

func TestValidate_NonPositiveDuration(t *testing.T) {
	v := NewNYCValidator()

	zero := validRaw("id1")
	zero.TripDuration = i64(0)
	negative := validRaw("id2")
	negative.TripDuration = i64(-30)
	one := validRaw("id3")
	one.TripDuration = i64(1)

	valid, rejects := v.Validate([]model.RawTrip{zero, negative, one})
	require.Len(t, valid, 1)
	assert.Equal(t, "id3", valid[0].ID)
	assert.Equal(t, int64(2), rejects.NonPositiveDuration)
}
