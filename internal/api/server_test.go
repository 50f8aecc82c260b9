package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citymetrics/tripflow/internal/aggregate"
	"github.com/citymetrics/tripflow/internal/model"
	"github.com/citymetrics/tripflow/internal/store"
)

type fakeReader struct {
	summary model.Summary
	hours   []model.HourCount
	cats    map[model.DurationCategory]int64
	speeds  []sql.NullFloat64

	lastRange  store.DateRange
	lastFilter store.DistributionFilter
}

func (r *fakeReader) SummaryStats(_ context.Context, dr store.DateRange) (model.Summary, error) {
	r.lastRange = dr
	return r.summary, nil
}

func (r *fakeReader) HourCounts(_ context.Context, dr store.DateRange) ([]model.HourCount, error) {
	r.lastRange = dr
	return r.hours, nil
}

func (r *fakeReader) CategoryCounts(_ context.Context, f store.DistributionFilter) (map[model.DurationCategory]int64, error) {
	r.lastFilter = f
	return r.cats, nil
}

func (r *fakeReader) Speeds(_ context.Context, dr store.DateRange) ([]sql.NullFloat64, error) {
	r.lastRange = dr
	return r.speeds, nil
}

func newTestServer(t *testing.T, reader *fakeReader) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(aggregate.NewEngine(reader)).Router())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeReader{})
	var body map[string]string
	code := get(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestSummary(t *testing.T) {
	reader := &fakeReader{summary: model.Summary{Trips: 12, AvgDurationS: 480, AvgKM: 3.1, AvgKMH: 22.5}}
	srv := newTestServer(t, reader)

	var sum model.Summary
	code := get(t, srv.URL+"/api/summary?start=2016-03-01&end=2016-03-31", &sum)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(12), sum.Trips)
	assert.Equal(t, store.DateRange{Start: "2016-03-01", End: "2016-03-31"}, reader.lastRange)
}

func TestSummary_BadDate(t *testing.T) {
	srv := newTestServer(t, &fakeReader{})
	code := get(t, srv.URL+"/api/summary?start=03-01-2016", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBusiestHours(t *testing.T) {
	reader := &fakeReader{hours: []model.HourCount{
		{Hour: 3, Trips: 10},
		{Hour: 5, Trips: 10},
		{Hour: 7, Trips: 9},
	}}
	srv := newTestServer(t, reader)

	var body struct {
		Top []model.HourCount `json:"top"`
	}
	code := get(t, srv.URL+"/api/busiest_hours?k=2", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, body.Top, 2)
	assert.Equal(t, model.HourCount{Hour: 3, Trips: 10}, body.Top[0])
	assert.Equal(t, model.HourCount{Hour: 5, Trips: 10}, body.Top[1])
}

func TestBusiestHours_DefaultK(t *testing.T) {
	hours := make([]model.HourCount, 0, 8)
	for h := range 8 {
		hours = append(hours, model.HourCount{Hour: h, Trips: int64(h)})
	}
	srv := newTestServer(t, &fakeReader{hours: hours})

	var body struct {
		Top []model.HourCount `json:"top"`
	}
	code := get(t, srv.URL+"/api/busiest_hours", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body.Top, 5)
}

func TestBusiestHours_InvalidK(t *testing.T) {
	srv := newTestServer(t, &fakeReader{})
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/busiest_hours?k=0", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/busiest_hours?k=abc", nil))
}

func TestBusiestHours_EmptyStore(t *testing.T) {
	srv := newTestServer(t, &fakeReader{})
	var body struct {
		Top []model.HourCount `json:"top"`
	}
	code := get(t, srv.URL+"/api/busiest_hours", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body.Top)
	assert.Empty(t, body.Top)
}

func TestDistribution(t *testing.T) {
	reader := &fakeReader{cats: map[model.DurationCategory]int64{
		model.DurationShort:  4,
		model.DurationMedium: 2,
	}}
	srv := newTestServer(t, reader)

	var dist map[string]int64
	code := get(t, srv.URL+"/api/distribution?rush=1&min_passengers=2&max_passengers=4", &dist)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]int64{"short": 4, "medium": 2}, dist)

	require.NotNil(t, reader.lastFilter.Rush)
	assert.Equal(t, 1, *reader.lastFilter.Rush)
	require.NotNil(t, reader.lastFilter.MinPassengers)
	assert.Equal(t, 2, *reader.lastFilter.MinPassengers)
	require.NotNil(t, reader.lastFilter.MaxPassengers)
	assert.Equal(t, 4, *reader.lastFilter.MaxPassengers)
}

func TestDistribution_InvalidParams(t *testing.T) {
	srv := newTestServer(t, &fakeReader{})
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/distribution?rush=2", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/distribution?min_passengers=two", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/distribution?max_passengers=1.5", nil))
}

func TestSpeedsHist(t *testing.T) {
	reader := &fakeReader{speeds: []sql.NullFloat64{
		{Float64: 2, Valid: true},
		{Float64: 7, Valid: true},
		{Float64: 23, Valid: true},
		{},
	}}
	srv := newTestServer(t, reader)

	var body struct {
		Bins []model.HistogramBin `json:"bins"`
	}
	code := get(t, srv.URL+"/api/speeds_hist", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []model.HistogramBin{
		{Label: "0-5", Count: 1},
		{Label: "5-10", Count: 1},
		{Label: "20-25", Count: 1},
	}, body.Bins)
}

func TestSpeedsHist_InvalidBinSize(t *testing.T) {
	srv := newTestServer(t, &fakeReader{})
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/speeds_hist?bin_size=0", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/speeds_hist?bin_size=x", nil))
}
