package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/citymetrics/tripflow/internal/db"
	"github.com/citymetrics/tripflow/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequent store operations.
var preparedStatements = map[string]string{
	"insert_ingest_run":   `INSERT INTO ingest_runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
	"complete_ingest_run": `UPDATE ingest_runs SET status = $1, completed_at = $2, rows_read = $3, rows_inserted = $4 WHERE id = $5`,
	"fail_ingest_run":     `UPDATE ingest_runs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
	"list_ingest_runs": `SELECT id, source, status, started_at, completed_at, rows_read, rows_inserted, error
		FROM ingest_runs ORDER BY started_at DESC LIMIT $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS trips (
	id                 TEXT PRIMARY KEY,
	vendor_id          TEXT,
	pickup_datetime    TEXT NOT NULL,
	dropoff_datetime   TEXT NOT NULL,
	passenger_count    BIGINT,
	pickup_longitude   DOUBLE PRECISION NOT NULL,
	pickup_latitude    DOUBLE PRECISION NOT NULL,
	dropoff_longitude  DOUBLE PRECISION NOT NULL,
	dropoff_latitude   DOUBLE PRECISION NOT NULL,
	store_and_fwd_flag TEXT,
	trip_duration      BIGINT NOT NULL,
	trip_distance_km   DOUBLE PRECISION,
	trip_speed_kmh     DOUBLE PRECISION,
	duration_category  TEXT,
	rush_hour_flag     INTEGER
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ,
	rows_read     BIGINT NOT NULL DEFAULT 0,
	rows_inserted BIGINT NOT NULL DEFAULT 0,
	error         TEXT
);

CREATE INDEX IF NOT EXISTS idx_trips_pickup_datetime ON trips(pickup_datetime);
CREATE INDEX IF NOT EXISTS idx_trips_duration_category ON trips(duration_category);
CREATE INDEX IF NOT EXISTS idx_trips_speed ON trips(trip_speed_kmh);
CREATE INDEX IF NOT EXISTS idx_trips_rush ON trips(rush_hour_flag);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var tripColumns = []string{
	"id", "vendor_id", "pickup_datetime", "dropoff_datetime", "passenger_count",
	"pickup_longitude", "pickup_latitude", "dropoff_longitude", "dropoff_latitude",
	"store_and_fwd_flag", "trip_duration", "trip_distance_km", "trip_speed_kmh",
	"duration_category", "rush_hour_flag",
}

// InsertTrips bulk-loads the batch through a temp table and resolves id
// collisions with ON CONFLICT DO NOTHING.
func (s *PostgresStore) InsertTrips(ctx context.Context, trips []model.Trip) (int64, error) {
	rows := make([][]any, 0, len(trips))
	for _, t := range trips {
		rows = append(rows, []any{
			t.ID, t.VendorID, t.PickupDatetime, t.DropoffDatetime, t.PassengerCount,
			t.PickupLongitude, t.PickupLatitude, t.DropoffLongitude, t.DropoffLatitude,
			t.StoreAndFwdFlag, t.TripDuration, t.DistanceKM, t.SpeedKMH,
			string(t.DurationCategory), t.RushHourFlag,
		})
	}
	return db.BulkInsertIgnore(ctx, s.pool, db.InsertConfig{
		Table:        "trips",
		Columns:      tripColumns,
		ConflictKeys: []string{"id"},
	}, rows)
}

// condBuilder accumulates AND conditions with positional placeholders.
type condBuilder struct {
	clause strings.Builder
	args   []any
}

// add appends a condition whose expr contains one %d placeholder index.
func (b *condBuilder) add(expr string, arg any) {
	b.args = append(b.args, arg)
	fmt.Fprintf(&b.clause, " AND "+expr, len(b.args))
}

// pgDateWhere restricts on the pickup date. The column keeps source text, so
// the date is extracted from the first ten characters.
func pgDateWhere(b *condBuilder, r DateRange) {
	if r.Start != "" {
		b.add("substr(pickup_datetime, 1, 10)::date >= $%d::date", r.Start)
	}
	if r.End != "" {
		b.add("substr(pickup_datetime, 1, 10)::date <= $%d::date", r.End)
	}
}

func (s *PostgresStore) SummaryStats(ctx context.Context, r DateRange) (model.Summary, error) {
	var b condBuilder
	pgDateWhere(&b, r)
	query := `SELECT COUNT(*),
		COALESCE(AVG(trip_duration), 0),
		COALESCE(AVG(trip_distance_km), 0),
		COALESCE(AVG(trip_speed_kmh), 0)
		FROM trips WHERE 1=1` + b.clause.String()

	var sum model.Summary
	err := s.pool.QueryRow(ctx, query, b.args...).
		Scan(&sum.Trips, &sum.AvgDurationS, &sum.AvgKM, &sum.AvgKMH)
	if err != nil {
		return model.Summary{}, eris.Wrap(err, "postgres: summary stats")
	}
	return sum, nil
}

func (s *PostgresStore) HourCounts(ctx context.Context, r DateRange) ([]model.HourCount, error) {
	var b condBuilder
	pgDateWhere(&b, r)
	query := `SELECT NULLIF(substr(pickup_datetime, 12, 2), '')::int AS hour, COUNT(*)
		FROM trips WHERE 1=1` + b.clause.String() + `
		GROUP BY hour ORDER BY hour`

	rows, err := s.pool.Query(ctx, query, b.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: hour counts")
	}
	defer rows.Close()

	var counts []model.HourCount
	for rows.Next() {
		var hour *int
		var n int64
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan hour count")
		}
		if hour == nil {
			continue
		}
		counts = append(counts, model.HourCount{Hour: *hour, Trips: n})
	}
	return counts, eris.Wrap(rows.Err(), "postgres: hour counts iterate")
}

func (s *PostgresStore) CategoryCounts(ctx context.Context, f DistributionFilter) (map[model.DurationCategory]int64, error) {
	var b condBuilder
	pgDateWhere(&b, f.DateRange)
	if f.Rush != nil {
		b.add("rush_hour_flag = $%d", *f.Rush)
	}
	if f.MinPassengers != nil {
		b.add("passenger_count >= $%d", *f.MinPassengers)
	}
	if f.MaxPassengers != nil {
		b.add("passenger_count <= $%d", *f.MaxPassengers)
	}
	query := `SELECT duration_category, COUNT(*) FROM trips WHERE 1=1` + b.clause.String() + `
		GROUP BY duration_category`

	rows, err := s.pool.Query(ctx, query, b.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: category counts")
	}
	defer rows.Close()

	counts := make(map[model.DurationCategory]int64)
	for rows.Next() {
		var cat *string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category count")
		}
		if cat == nil {
			continue
		}
		counts[model.DurationCategory(*cat)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: category counts iterate")
}

func (s *PostgresStore) Speeds(ctx context.Context, r DateRange) ([]sql.NullFloat64, error) {
	var b condBuilder
	pgDateWhere(&b, r)
	query := `SELECT trip_speed_kmh FROM trips WHERE 1=1` + b.clause.String()

	rows, err := s.pool.Query(ctx, query, b.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: speeds")
	}
	defer rows.Close()

	var speeds []sql.NullFloat64
	for rows.Next() {
		var v *float64
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan speed")
		}
		if v == nil {
			speeds = append(speeds, sql.NullFloat64{})
		} else {
			speeds = append(speeds, sql.NullFloat64{Float64: *v, Valid: true})
		}
	}
	return speeds, eris.Wrap(rows.Err(), "postgres: speeds iterate")
}

func (s *PostgresStore) StartIngestRun(ctx context.Context, source string) (*model.IngestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, source, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, source, string(model.IngestRunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert ingest run")
	}

	return &model.IngestRun{
		ID:        id,
		Source:    source,
		Status:    model.IngestRunRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteIngestRun(ctx context.Context, runID string, rowsRead, rowsInserted int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, completed_at = $2, rows_read = $3, rows_inserted = $4 WHERE id = $5`,
		string(model.IngestRunComplete), time.Now().UTC(), rowsRead, rowsInserted, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete ingest run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ingest run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailIngestRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(model.IngestRunFailed), time.Now().UTC(), msg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail ingest run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ingest run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListIngestRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, completed_at, rows_read, rows_inserted, error
		 FROM ingest_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingest runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var errMsg *string
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt, &r.CompletedAt, &r.RowsRead, &r.RowsInserted, &errMsg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingest run")
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list ingest runs iterate")
}
