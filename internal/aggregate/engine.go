package aggregate

import (
	"context"
	"database/sql"
	"math"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/citymetrics/tripflow/internal/model"
	"github.com/citymetrics/tripflow/internal/store"
)

// Reader is the slice of the store the engine needs. It is read-only.
type Reader interface {
	SummaryStats(ctx context.Context, r store.DateRange) (model.Summary, error)
	HourCounts(ctx context.Context, r store.DateRange) ([]model.HourCount, error)
	CategoryCounts(ctx context.Context, f store.DistributionFilter) (map[model.DurationCategory]int64, error)
	Speeds(ctx context.Context, r store.DateRange) ([]sql.NullFloat64, error)
}

// Engine computes the analytical views over persisted trips.
type Engine struct {
	reader Reader
}

// NewEngine creates an Engine backed by the given reader.
func NewEngine(r Reader) *Engine {
	return &Engine{reader: r}
}

// Summary returns trip count and averages over the date range. An empty
// result set yields a zero count with zero averages.
func (e *Engine) Summary(ctx context.Context, r store.DateRange) (model.Summary, error) {
	sum, err := e.reader.SummaryStats(ctx, r)
	if err != nil {
		return model.Summary{}, eris.Wrap(err, "aggregate: summary")
	}
	return sum, nil
}

// BusiestHours returns the top k pickup hours by trip count. Only hours that
// actually occur are candidates. Ties keep the earlier hour first.
func (e *Engine) BusiestHours(ctx context.Context, r store.DateRange, k int) ([]model.HourCount, error) {
	counts, err := e.reader.HourCounts(ctx, r)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: busiest hours")
	}
	return TopHours(counts, k), nil
}

// TopHours selects the k largest entries by repeated maximum scans over the
// remaining candidates. Input must be ordered by ascending hour; a strict
// greater-than comparison then keeps the smallest hour on equal counts.
func TopHours(counts []model.HourCount, k int) []model.HourCount {
	remaining := make([]model.HourCount, len(counts))
	copy(remaining, counts)

	if k > len(remaining) {
		k = len(remaining)
	}
	top := make([]model.HourCount, 0, k)
	for range k {
		best := 0
		for i := 1; i < len(remaining); i++ {
			if remaining[i].Trips > remaining[best].Trips {
				best = i
			}
		}
		top = append(top, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return top
}

// Distribution returns trip counts per duration category. Categories with no
// matching trips are omitted entirely.
func (e *Engine) Distribution(ctx context.Context, f store.DistributionFilter) (map[model.DurationCategory]int64, error) {
	counts, err := e.reader.CategoryCounts(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: distribution")
	}
	return counts, nil
}

// SpeedHistogram buckets trip speeds into fixed-width bins. Null and negative
// speeds are skipped; only non-empty bins appear, ordered by lower bound.
func (e *Engine) SpeedHistogram(ctx context.Context, r store.DateRange, binSize int) ([]model.HistogramBin, error) {
	if binSize <= 0 {
		return nil, eris.Errorf("aggregate: bin size must be positive, got %d", binSize)
	}
	speeds, err := e.reader.Speeds(ctx, r)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: speed histogram")
	}
	return BuildHistogram(speeds, binSize), nil
}

// BuildHistogram assigns each valid non-negative value to the bin
// [floor(v/size)*size, +size) and returns the non-empty bins sorted by lower
// bound via insertion into place.
func BuildHistogram(values []sql.NullFloat64, binSize int) []model.HistogramBin {
	type bin struct {
		low   int
		count int64
	}
	var bins []bin

	for _, v := range values {
		if !v.Valid || v.Float64 < 0 {
			continue
		}
		low := int(math.Floor(v.Float64/float64(binSize))) * binSize

		pos := -1
		for i := range bins {
			if bins[i].low == low {
				pos = i
				break
			}
		}
		if pos >= 0 {
			bins[pos].count++
			continue
		}
		// Insert keeping ascending order by lower bound.
		at := len(bins)
		for i := range bins {
			if low < bins[i].low {
				at = i
				break
			}
		}
		bins = append(bins, bin{})
		copy(bins[at+1:], bins[at:])
		bins[at] = bin{low: low, count: 1}
	}

	out := make([]model.HistogramBin, 0, len(bins))
	for _, b := range bins {
		out = append(out, model.HistogramBin{
			Label: label(b.low, b.low+binSize),
			Count: b.count,
		})
	}
	return out
}

func label(low, high int) string {
	return strconv.Itoa(low) + "-" + strconv.Itoa(high)
}
