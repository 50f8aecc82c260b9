package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/citymetrics/tripflow/internal/model"
)

// DefaultChunkSize is the number of data rows buffered per batch when no
// explicit size is configured.
const DefaultChunkSize = 100_000

// TripWriter persists derived trips. Implementations must be idempotent on
// trip id: re-inserting an existing id is a no-op, and the returned count
// reflects only rows actually inserted.
type TripWriter interface {
	InsertTrips(ctx context.Context, trips []model.Trip) (int64, error)
}

// Ingestor drives the full pipeline over a streamed CSV source: decode rows
// in fixed-size chunks, validate, derive features, persist. Batches are
// processed strictly in order; a new batch starts only after the previous
// one is fully persisted.
type Ingestor struct {
	writer    TripWriter
	validator *Validator
	deriver   *Deriver
	chunkSize int
}

// NewIngestor wires a pipeline run. A non-positive chunkSize falls back to
// DefaultChunkSize.
func NewIngestor(w TripWriter, v *Validator, d *Deriver, chunkSize int) *Ingestor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Ingestor{writer: w, validator: v, deriver: d, chunkSize: chunkSize}
}

// Run consumes the row channel produced by fetcher.StreamCSV. The first row
// is the header; it establishes the column mapping for the rest of the
// stream. Per-record defects are absorbed into the returned stats; a source
// read error is fatal and discards the unflushed trailing batch.
func (ing *Ingestor) Run(ctx context.Context, rows <-chan []string, errs <-chan error) (model.IngestStats, error) {
	var stats model.IngestStats
	var dec *rowDecoder
	batch := make([]model.RawTrip, 0, ing.chunkSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stats.Batches++
		if err := ing.processBatch(ctx, batch, &stats); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for row := range rows {
		if dec == nil {
			dec = newRowDecoder(row)
			continue
		}
		stats.RowsRead++
		batch = append(batch, dec.Decode(row))
		if len(batch) >= ing.chunkSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	// Drain the error channel before committing the trailing partial batch:
	// rows read past a mid-stream failure must not be persisted.
	for err := range errs {
		if err != nil {
			return stats, eris.Wrap(err, "ingest: read source")
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (ing *Ingestor) processBatch(ctx context.Context, raw []model.RawTrip, stats *model.IngestStats) error {
	valid, rejected := ing.validator.Validate(raw)
	stats.Rejected.Add(rejected)

	zap.L().Info("batch validated",
		zap.Int64("batch", stats.Batches),
		zap.Int("raw", len(raw)),
		zap.Int("valid", len(valid)),
		zap.Int64("rejected", rejected.Total()),
	)

	// A batch with nothing valid is skipped, not an error.
	if len(valid) == 0 {
		return nil
	}

	trips, dstats := ing.deriver.Derive(valid)
	stats.TimeDropped += dstats.TimeDropped
	stats.Anomalies += dstats.Anomalies
	if len(trips) == 0 {
		return nil
	}

	inserted, err := ing.writer.InsertTrips(ctx, trips)
	if err != nil {
		return eris.Wrap(err, "ingest: persist batch")
	}
	stats.RowsInserted += inserted

	zap.L().Info("batch persisted",
		zap.Int64("batch", stats.Batches),
		zap.Int("derived", len(trips)),
		zap.Int64("inserted", inserted),
	)
	return nil
}
