// Package publishermock provides a mock implementation of the publisher
// interface for testing.
package publishermock

import (
	"context"

	"github.com/jameshartig/evergyd/pkg/publisher"
	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/stretchr/testify/mock"
)

// MockPublisher is a mock implementation of publisher.Publisher.
type MockPublisher struct {
	mock.Mock
}

var _ publisher.Publisher = (*MockPublisher)(nil)

// PublishReadings implements publisher.Publisher.
func (m *MockPublisher) PublishReadings(ctx context.Context, readings []types.MeterReading) error {
	args := m.Called(ctx, readings)
	return args.Error(0)
}

// Close implements publisher.Publisher.
func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
