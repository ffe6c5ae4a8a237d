package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/levenlabs/go-lflag"
	_ "modernc.org/sqlite"
)

// sqliteTimeFormat is how period starts are stored. It sorts
// lexicographically in time order.
const sqliteTimeFormat = "2006-01-02 15:04:05"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_number TEXT NOT NULL,
	premise_id TEXT NOT NULL,
	interval TEXT NOT NULL,
	period_start TEXT NOT NULL,
	period_end TEXT NOT NULL,
	usage_kwh REAL NOT NULL,
	cost REAL NOT NULL,
	peak_demand_kw REAL NOT NULL,
	avg_temp REAL NOT NULL,
	is_partial INTEGER NOT NULL DEFAULT 0,
	captured_at TEXT NOT NULL,
	UNIQUE(premise_id, interval, period_start)
);
CREATE INDEX IF NOT EXISTS idx_readings_premise ON readings(premise_id, interval, period_start);
CREATE INDEX IF NOT EXISTS idx_readings_partial ON readings(is_partial);
`

// SQLiteProvider implements the Database interface using a local SQLite
// file. Readings the poller captures land here so history survives portal
// outages and restarts.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

// configuredSQLite sets up the SQLite provider.
// It registers flags for configuration.
func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "evergyd.db", "Path to the SQLite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return fmt.Errorf("sqlite-path is required")
	}
	return nil
}

// Init opens the database file and creates the schema.
// This must be called before using the provider methods.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database (%s): %w", s.path, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertReadings inserts readings in one transaction, replacing the stored
// values for any period that already exists.
func (s *SQLiteProvider) UpsertReadings(ctx context.Context, readings []types.MeterReading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO readings (account_number, premise_id, interval, period_start, period_end,
		usage_kwh, cost, peak_demand_kw, avg_temp, is_partial, captured_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(premise_id, interval, period_start) DO UPDATE SET
		account_number = excluded.account_number,
		period_end = excluded.period_end,
		usage_kwh = excluded.usage_kwh,
		cost = excluded.cost,
		peak_demand_kw = excluded.peak_demand_kw,
		avg_temp = excluded.avg_temp,
		is_partial = excluded.is_partial,
		captured_at = excluded.captured_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		_, err := stmt.ExecContext(ctx,
			r.AccountNumber, r.PremiseID, r.Interval,
			r.PeriodStart.UTC().Format(sqliteTimeFormat),
			r.PeriodEnd.UTC().Format(sqliteTimeFormat),
			r.UsageKWH, r.Cost, r.PeakDemandKW, r.AvgTemp,
			r.IsPartial,
			r.CapturedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert reading at %s: %w", r.PeriodStart, err)
		}
	}

	return tx.Commit()
}

// GetReadings returns readings for the premise and interval between start
// and end inclusive, oldest first.
func (s *SQLiteProvider) GetReadings(ctx context.Context, premiseID, interval string, start, end time.Time) ([]types.MeterReading, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT account_number, premise_id, interval, period_start, period_end,
		usage_kwh, cost, peak_demand_kw, avg_temp, is_partial, captured_at
	FROM readings
	WHERE premise_id = ? AND interval = ? AND period_start >= ? AND period_start <= ?
	ORDER BY period_start ASC
	`, premiseID, interval,
		start.UTC().Format(sqliteTimeFormat), end.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []types.MeterReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// LatestReading returns the most recent reading for the premise and
// interval, or ErrNoReadings.
func (s *SQLiteProvider) LatestReading(ctx context.Context, premiseID, interval string) (types.MeterReading, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT account_number, premise_id, interval, period_start, period_end,
		usage_kwh, cost, peak_demand_kw, avg_temp, is_partial, captured_at
	FROM readings
	WHERE premise_id = ? AND interval = ?
	ORDER BY period_start DESC
	LIMIT 1
	`, premiseID, interval)

	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.MeterReading{}, ErrNoReadings
	}
	if err != nil {
		return types.MeterReading{}, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (types.MeterReading, error) {
	var r types.MeterReading
	var periodStart, periodEnd, capturedAt string
	if err := row.Scan(&r.AccountNumber, &r.PremiseID, &r.Interval, &periodStart, &periodEnd,
		&r.UsageKWH, &r.Cost, &r.PeakDemandKW, &r.AvgTemp, &r.IsPartial, &capturedAt); err != nil {
		return types.MeterReading{}, err
	}

	var err error
	r.PeriodStart, err = time.Parse(sqliteTimeFormat, periodStart)
	if err != nil {
		return types.MeterReading{}, fmt.Errorf("parsing period_start: %w", err)
	}
	r.PeriodEnd, err = time.Parse(sqliteTimeFormat, periodEnd)
	if err != nil {
		return types.MeterReading{}, fmt.Errorf("parsing period_end: %w", err)
	}
	r.CapturedAt, err = time.Parse(time.RFC3339, capturedAt)
	if err != nil {
		return types.MeterReading{}, fmt.Errorf("parsing captured_at: %w", err)
	}
	return r, nil
}
