package storagemock

import (
	"context"
	"time"

	"github.com/jameshartig/evergyd/pkg/storage"
	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) UpsertReadings(ctx context.Context, readings []types.MeterReading) error {
	args := m.Called(ctx, readings)
	return args.Error(0)
}

func (m *MockDatabase) GetReadings(ctx context.Context, premiseID, interval string, start, end time.Time) ([]types.MeterReading, error) {
	args := m.Called(ctx, premiseID, interval, start, end)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.([]types.MeterReading), args.Error(1)
}

func (m *MockDatabase) LatestReading(ctx context.Context, premiseID, interval string) (types.MeterReading, error) {
	args := m.Called(ctx, premiseID, interval)
	if len(args) > 0 {
		return args.Get(0).(types.MeterReading), args.Error(1)
	}
	return types.MeterReading{}, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
