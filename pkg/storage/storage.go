package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/levenlabs/go-lflag"
)

var ErrNoReadings = errors.New("no readings stored")

// Database defines the interface for persisting meter readings.
type Database interface {
	// UpsertReadings inserts readings, revising rows already stored for the
	// same premise, interval, and period start. Re-polled partial periods
	// converge on their final values this way.
	UpsertReadings(ctx context.Context, readings []types.MeterReading) error

	// GetReadings returns stored readings for the premise and interval
	// between start and end inclusive, ordered by period start.
	GetReadings(ctx context.Context, premiseID, interval string, start, end time.Time) ([]types.MeterReading, error)

	// LatestReading returns the most recent reading for the premise and
	// interval, or ErrNoReadings when nothing is stored yet.
	LatestReading(ctx context.Context, premiseID, interval string) (types.MeterReading, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: sqlite, none)")

	var p struct{ Database }

	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			p.Database = sq
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
		case "none":
			p.Database = NoopDatabase{}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

// NoopDatabase satisfies Database when persistence is disabled.
type NoopDatabase struct{}

func (NoopDatabase) UpsertReadings(context.Context, []types.MeterReading) error { return nil }

func (NoopDatabase) GetReadings(context.Context, string, string, time.Time, time.Time) ([]types.MeterReading, error) {
	return nil, nil
}

func (NoopDatabase) LatestReading(context.Context, string, string) (types.MeterReading, error) {
	return types.MeterReading{}, ErrNoReadings
}

func (NoopDatabase) Close() error { return nil }
