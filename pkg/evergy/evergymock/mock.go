package evergymock

import (
	"context"
	"time"

	"github.com/jameshartig/evergyd/pkg/evergy"
	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockAPI struct {
	mock.Mock
}

var _ evergy.API = (*MockAPI)(nil)

func (m *MockAPI) Login(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockAPI) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAPI) GetUsage(ctx context.Context, days int, interval evergy.Interval) (*types.UsageReport, error) {
	args := m.Called(ctx, days, interval)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.UsageReport), args.Error(1)
}

func (m *MockAPI) GetUsageFrom(ctx context.Context, start time.Time, count int, interval evergy.Interval) (*types.UsageReport, error) {
	args := m.Called(ctx, start, count, interval)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.UsageReport), args.Error(1)
}

func (m *MockAPI) GetUsageRange(ctx context.Context, start, end time.Time, interval evergy.Interval) (*types.UsageReport, error) {
	args := m.Called(ctx, start, end, interval)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.UsageReport), args.Error(1)
}

func (m *MockAPI) Account() types.AccountContext {
	args := m.Called()
	if len(args) > 0 {
		return args.Get(0).(types.AccountContext)
	}
	return types.AccountContext{}
}
