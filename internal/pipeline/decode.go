package pipeline

import (
	"strconv"
	"strings"

	"github.com/citymetrics/tripflow/internal/model"
)

// rowDecoder maps CSV header names to column positions and decodes data rows
// into raw trips. Column order in the source file does not matter; missing
// columns decode to empty/nil fields and are caught by validation.
type rowDecoder struct {
	idx map[string]int
}

func newRowDecoder(header []string) *rowDecoder {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return &rowDecoder{idx: idx}
}

func (d *rowDecoder) field(row []string, name string) string {
	i, ok := d.idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (d *rowDecoder) floatField(row []string, name string) *float64 {
	s := d.field(row, name)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func (d *rowDecoder) intField(row []string, name string) *int64 {
	s := d.field(row, name)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some exports write integer columns as "1.0".
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		v = int64(f)
	}
	return &v
}

// Decode converts a CSV data row into a RawTrip using the header mapping.
func (d *rowDecoder) Decode(row []string) model.RawTrip {
	t := model.RawTrip{
		ID:               d.field(row, "id"),
		VendorID:         d.field(row, "vendor_id"),
		PickupDatetime:   d.field(row, "pickup_datetime"),
		DropoffDatetime:  d.field(row, "dropoff_datetime"),
		PickupLongitude:  d.floatField(row, "pickup_longitude"),
		PickupLatitude:   d.floatField(row, "pickup_latitude"),
		DropoffLongitude: d.floatField(row, "dropoff_longitude"),
		DropoffLatitude:  d.floatField(row, "dropoff_latitude"),
		StoreAndFwdFlag:  d.field(row, "store_and_fwd_flag"),
		TripDuration:     d.intField(row, "trip_duration"),
	}
	if pc := d.intField(row, "passenger_count"); pc != nil {
		t.PassengerCount = *pc
	}
	return t
}
