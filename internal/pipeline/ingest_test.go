package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citymetrics/tripflow/internal/fetcher"
	"github.com/citymetrics/tripflow/internal/model"
)

// fakeWriter records inserts and deduplicates by id across batches, like the
// real stores do.
type fakeWriter struct {
	batches [][]model.Trip
	seen    map[string]struct{}
	err     error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{seen: make(map[string]struct{})}
}

func (w *fakeWriter) InsertTrips(_ context.Context, trips []model.Trip) (int64, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.batches = append(w.batches, trips)
	var inserted int64
	for _, tr := range trips {
		if _, ok := w.seen[tr.ID]; ok {
			continue
		}
		w.seen[tr.ID] = struct{}{}
		inserted++
	}
	return inserted, nil
}

const sampleHeader = "id,vendor_id,pickup_datetime,dropoff_datetime,passenger_count," +
	"pickup_longitude,pickup_latitude,dropoff_longitude,dropoff_latitude,store_and_fwd_flag,trip_duration\n"

func sampleRow(id string) string {
	return id + ",2,2016-03-14 17:24:55,2016-03-14 17:32:30,1," +
		"-73.982155,40.767937,-73.964630,40.765602,N,455\n"
}

func runIngest(t *testing.T, ing *Ingestor, csv string) (model.IngestStats, error) {
	t.Helper()
	rows, errs := fetcher.StreamCSV(context.Background(), strings.NewReader(csv), fetcher.CSVOptions{})
	return ing.Run(context.Background(), rows, errs)
}

func TestIngestor_Run(t *testing.T) {
	w := newFakeWriter()
	ing := NewIngestor(w, NewNYCValidator(), NewDeriver(nil), 2)

	csv := sampleHeader + sampleRow("id1") + sampleRow("id2") + sampleRow("id3")
	stats, err := runIngest(t, ing, csv)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.RowsRead)
	assert.Equal(t, int64(2), stats.Batches) // full chunk of 2, trailing chunk of 1
	assert.Equal(t, int64(3), stats.RowsInserted)
	assert.Zero(t, stats.Rejected.Total())
	require.Len(t, w.batches, 2)
	assert.Len(t, w.batches[0], 2)
	assert.Len(t, w.batches[1], 1)
}

func TestIngestor_HeaderOnly(t *testing.T) {
	w := newFakeWriter()
	ing := NewIngestor(w, NewNYCValidator(), NewDeriver(nil), 10)

	stats, err := runIngest(t, ing, sampleHeader)
	require.NoError(t, err)
	assert.Zero(t, stats.RowsRead)
	assert.Zero(t, stats.Batches)
	assert.Empty(t, w.batches)
}

func TestIngestor_ColumnOrderIndependent(t *testing.T) {
	w := newFakeWriter()
	ing := NewIngestor(w, NewNYCValidator(), NewDeriver(nil), 10)

	csv := "trip_duration,id,pickup_latitude,pickup_longitude,dropoff_latitude,dropoff_longitude,pickup_datetime,dropoff_datetime\n" +
		"455,id1,40.767937,-73.982155,40.765602,-73.964630,2016-03-14 17:24:55,2016-03-14 17:32:30\n"
	stats, err := runIngest(t, ing, csv)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RowsInserted)
}

func TestIngestor_EmptyValidBatchSkipped(t *testing.T) {
	w := newFakeWriter()
	ing := NewIngestor(w, NewNYCValidator(), NewDeriver(nil), 1)

	// Missing id: the whole (single-row) batch rejects, run still succeeds.
	bad := ",2,2016-03-14 17:24:55,2016-03-14 17:32:30,1,-73.982155,40.767937,-73.964630,40.765602,N,455\n"
	stats, err := runIngest(t, ing, sampleHeader+bad+sampleRow("id1"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Batches)
	assert.Equal(t, int64(1), stats.Rejected.MissingFields)
	assert.Equal(t, int64(1), stats.RowsInserted)
	assert.Len(t, w.batches, 1)
}

func TestIngestor_RerunIsIdempotent(t *testing.T) {
	w := newFakeWriter()
	ing := NewIngestor(w, NewNYCValidator(), NewDeriver(nil), 10)

	csv := sampleHeader + sampleRow("id1") + sampleRow("id2")
	first, err := runIngest(t, ing, csv)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.RowsInserted)

	second, err := runIngest(t, ing, csv)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.RowsRead)
	assert.Zero(t, second.RowsInserted)
}

func TestIngestor_WriterErrorIsFatal(t *testing.T) {
	w := newFakeWriter()
	w.err = eris.New("disk full")
	ing := NewIngestor(w, NewNYCValidator(), NewDeriver(nil), 10)

	_, err := runIngest(t, ing, sampleHeader+sampleRow("id1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist batch")
}

func TestIngestor_SourceReadErrorDiscardsTrailingBatch(t *testing.T) {
	w := newFakeWriter()
	ing := NewIngestor(w, NewNYCValidator(), NewDeriver(nil), 100)

	rows := make(chan []string, 3)
	errs := make(chan error, 1)
	rows <- strings.Split(strings.TrimSuffix(sampleHeader, "\n"), ",")
	rows <- strings.Split(strings.TrimSuffix(sampleRow("id1"), "\n"), ",")
	close(rows)
	errs <- eris.New("connection reset")
	close(errs)

	stats, err := ing.Run(context.Background(), rows, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read source")
	assert.Equal(t, int64(1), stats.RowsRead)
	assert.Empty(t, w.batches)
}

func TestNewIngestor_DefaultChunkSize(t *testing.T) {
	ing := NewIngestor(newFakeWriter(), NewNYCValidator(), NewDeriver(nil), 0)
	assert.Equal(t, DefaultChunkSize, ing.chunkSize)
}
