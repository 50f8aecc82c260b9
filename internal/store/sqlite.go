package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/citymetrics/tripflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS trips (
	id                 TEXT PRIMARY KEY,
	vendor_id          TEXT,
	pickup_datetime    TEXT NOT NULL,
	dropoff_datetime   TEXT NOT NULL,
	passenger_count    INTEGER,
	pickup_longitude   REAL NOT NULL,
	pickup_latitude    REAL NOT NULL,
	dropoff_longitude  REAL NOT NULL,
	dropoff_latitude   REAL NOT NULL,
	store_and_fwd_flag TEXT,
	trip_duration      INTEGER NOT NULL,
	trip_distance_km   REAL,
	trip_speed_kmh     REAL,
	duration_category  TEXT,
	rush_hour_flag     INTEGER
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	started_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at  DATETIME,
	rows_read     INTEGER NOT NULL DEFAULT 0,
	rows_inserted INTEGER NOT NULL DEFAULT 0,
	error         TEXT
);

CREATE INDEX IF NOT EXISTS idx_trips_pickup_datetime ON trips(pickup_datetime);
CREATE INDEX IF NOT EXISTS idx_trips_duration_category ON trips(duration_category);
CREATE INDEX IF NOT EXISTS idx_trips_speed ON trips(trip_speed_kmh);
CREATE INDEX IF NOT EXISTS idx_trips_rush ON trips(rush_hour_flag);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteInsertTrip = `
INSERT OR IGNORE INTO trips (
	id, vendor_id, pickup_datetime, dropoff_datetime, passenger_count,
	pickup_longitude, pickup_latitude, dropoff_longitude, dropoff_latitude,
	store_and_fwd_flag, trip_duration, trip_distance_km, trip_speed_kmh,
	duration_category, rush_hour_flag
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertTrips inserts a batch inside a single transaction, skipping ids that
// already exist. The returned count reflects only rows actually inserted.
func (s *SQLiteStore) InsertTrips(ctx context.Context, trips []model.Trip) (int64, error) {
	if len(trips) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert trips")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteInsertTrip)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert trip")
	}
	defer stmt.Close() //nolint:errcheck

	var inserted int64
	for _, t := range trips {
		res, err := stmt.ExecContext(ctx,
			t.ID, t.VendorID, t.PickupDatetime, t.DropoffDatetime, t.PassengerCount,
			t.PickupLongitude, t.PickupLatitude, t.DropoffLongitude, t.DropoffLatitude,
			t.StoreAndFwdFlag, t.TripDuration, t.DistanceKM, t.SpeedKMH,
			string(t.DurationCategory), t.RushHourFlag,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert trip %s", t.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert trips")
	}
	return inserted, nil
}

// dateWhere builds the pickup date restriction. The pickup_datetime column
// keeps the source text verbatim, so comparisons go through date() over the
// first 19 characters.
func dateWhere(r DateRange) (string, []any) {
	clause := ""
	var args []any
	if r.Start != "" {
		clause += " AND date(substr(pickup_datetime, 1, 19)) >= date(?)"
		args = append(args, r.Start)
	}
	if r.End != "" {
		clause += " AND date(substr(pickup_datetime, 1, 19)) <= date(?)"
		args = append(args, r.End)
	}
	return clause, args
}

func (s *SQLiteStore) SummaryStats(ctx context.Context, r DateRange) (model.Summary, error) {
	clause, args := dateWhere(r)
	query := `SELECT COUNT(*),
		COALESCE(AVG(trip_duration), 0),
		COALESCE(AVG(trip_distance_km), 0),
		COALESCE(AVG(trip_speed_kmh), 0)
		FROM trips WHERE 1=1` + clause

	var sum model.Summary
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&sum.Trips, &sum.AvgDurationS, &sum.AvgKM, &sum.AvgKMH)
	if err != nil {
		return model.Summary{}, eris.Wrap(err, "sqlite: summary stats")
	}
	return sum, nil
}

func (s *SQLiteStore) HourCounts(ctx context.Context, r DateRange) ([]model.HourCount, error) {
	clause, args := dateWhere(r)
	query := `SELECT CAST(strftime('%H', substr(pickup_datetime, 1, 19)) AS INTEGER) AS hour, COUNT(*)
		FROM trips WHERE 1=1` + clause + `
		GROUP BY hour ORDER BY hour`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: hour counts")
	}
	defer rows.Close()

	var counts []model.HourCount
	for rows.Next() {
		var hour sql.NullInt64
		var n int64
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan hour count")
		}
		if !hour.Valid {
			continue
		}
		counts = append(counts, model.HourCount{Hour: int(hour.Int64), Trips: n})
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: hour counts iterate")
}

func (s *SQLiteStore) CategoryCounts(ctx context.Context, f DistributionFilter) (map[model.DurationCategory]int64, error) {
	clause, args := dateWhere(f.DateRange)
	if f.Rush != nil {
		clause += " AND rush_hour_flag = ?"
		args = append(args, *f.Rush)
	}
	if f.MinPassengers != nil {
		clause += " AND passenger_count >= ?"
		args = append(args, *f.MinPassengers)
	}
	if f.MaxPassengers != nil {
		clause += " AND passenger_count <= ?"
		args = append(args, *f.MaxPassengers)
	}
	query := `SELECT duration_category, COUNT(*) FROM trips WHERE 1=1` + clause + `
		GROUP BY duration_category`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: category counts")
	}
	defer rows.Close()

	counts := make(map[model.DurationCategory]int64)
	for rows.Next() {
		var cat sql.NullString
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category count")
		}
		if !cat.Valid {
			continue
		}
		counts[model.DurationCategory(cat.String)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: category counts iterate")
}

func (s *SQLiteStore) Speeds(ctx context.Context, r DateRange) ([]sql.NullFloat64, error) {
	clause, args := dateWhere(r)
	query := `SELECT trip_speed_kmh FROM trips WHERE 1=1` + clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: speeds")
	}
	defer rows.Close()

	var speeds []sql.NullFloat64
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan speed")
		}
		speeds = append(speeds, v)
	}
	return speeds, eris.Wrap(rows.Err(), "sqlite: speeds iterate")
}

func (s *SQLiteStore) StartIngestRun(ctx context.Context, source string) (*model.IngestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		id, source, string(model.IngestRunRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert ingest run")
	}

	return &model.IngestRun{
		ID:        id,
		Source:    source,
		Status:    model.IngestRunRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteIngestRun(ctx context.Context, runID string, rowsRead, rowsInserted int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, completed_at = ?, rows_read = ?, rows_inserted = ? WHERE id = ?`,
		string(model.IngestRunComplete), time.Now().UTC(), rowsRead, rowsInserted, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete ingest run %s", runID)
	}
	return checkRowsAffected(res, "ingest run", runID)
}

func (s *SQLiteStore) FailIngestRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.IngestRunFailed), time.Now().UTC(), msg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail ingest run %s", runID)
	}
	return checkRowsAffected(res, "ingest run", runID)
}

func (s *SQLiteStore) ListIngestRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, completed_at, rows_read, rows_inserted, error
		 FROM ingest_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingest runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var completedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt, &completedAt, &r.RowsRead, &r.RowsInserted, &errMsg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingest run")
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list ingest runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
