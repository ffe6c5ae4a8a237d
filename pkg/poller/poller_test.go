package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jameshartig/evergyd/pkg/evergy"
	"github.com/jameshartig/evergyd/pkg/evergy/evergymock"
	"github.com/jameshartig/evergyd/pkg/publisher/publishermock"
	"github.com/jameshartig/evergyd/pkg/storage/storagemock"
	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testAccount = types.AccountContext{
	AccountNumber: "123456789",
	PremiseID:     "987654321",
	LoggedIn:      true,
}

func newTestPoller(api *evergymock.MockAPI, db *storagemock.MockDatabase, pub *publishermock.MockPublisher) *Poller {
	return &Poller{
		api:           api,
		db:            db,
		pub:           pub,
		pollInterval:  time.Hour,
		pollDays:      3,
		usageInterval: evergy.IntervalDay,
		trigger:       make(chan struct{}, 1),
	}
}

func TestReadingsFromReport(t *testing.T) {
	ctx := context.Background()

	records := []types.UsageRecord{
		{Date: "08/18/2026", Usage: 21.4, Cost: 3.12, PeakDemand: 4.1, AvgTemp: 88, IsPartial: false},
		{Date: "2026-08-19T00:00:00", Usage: 19.7, Cost: 2.95, PeakDemand: 3.8, AvgTemp: 85, IsPartial: false},
		{Date: "soon", Usage: 1.0},
		{Date: "8/20/2026", Usage: 7.2, Cost: 1.04, PeakDemand: 2.2, AvgTemp: 83, IsPartial: true},
	}

	readings := ReadingsFromReport(ctx, testAccount, evergy.IntervalDay, records)
	require.Len(t, readings, 3, "the unparseable row should be skipped")

	first := readings[0]
	assert.Equal(t, "123456789", first.AccountNumber)
	assert.Equal(t, "987654321", first.PremiseID)
	assert.Equal(t, "d", first.Interval)
	assert.Equal(t, time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC), first.PeriodStart)
	assert.Equal(t, time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC), first.PeriodEnd)
	assert.Equal(t, 21.4, first.UsageKWH)
	assert.Equal(t, 3.12, first.Cost)
	assert.Equal(t, 4.1, first.PeakDemandKW)
	assert.Equal(t, 88.0, first.AvgTemp)
	assert.False(t, first.IsPartial)
	assert.WithinDuration(t, time.Now().UTC(), first.CapturedAt, time.Minute)

	assert.Equal(t, time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC), readings[1].PeriodStart)
	assert.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), readings[2].PeriodStart)
	assert.True(t, readings[2].IsPartial)
}

func TestPoll(t *testing.T) {
	ctx := context.Background()

	report := &types.UsageReport{
		Usage: []types.UsageRecord{
			{Date: "08/19/2026", Usage: 19.7},
			{Date: "08/20/2026", Usage: 7.2, IsPartial: true},
		},
	}

	t.Run("Stores And Publishes", func(t *testing.T) {
		mockAPI := new(evergymock.MockAPI)
		mockDB := new(storagemock.MockDatabase)
		mockPub := new(publishermock.MockPublisher)
		p := newTestPoller(mockAPI, mockDB, mockPub)

		mockAPI.On("GetUsage", mock.Anything, 3, evergy.IntervalDay).Return(report, nil).Once()
		mockAPI.On("Account").Return(testAccount).Once()
		mockDB.On("UpsertReadings", mock.Anything, mock.MatchedBy(func(readings []types.MeterReading) bool {
			return len(readings) == 2 && readings[0].PremiseID == "987654321"
		})).Return(nil).Once()
		mockPub.On("PublishReadings", mock.Anything, mock.MatchedBy(func(readings []types.MeterReading) bool {
			return len(readings) == 2
		})).Return(nil).Once()

		require.NoError(t, p.Poll(ctx))
		mockAPI.AssertExpectations(t)
		mockDB.AssertExpectations(t)
		mockPub.AssertExpectations(t)
	})

	t.Run("No Data", func(t *testing.T) {
		mockAPI := new(evergymock.MockAPI)
		mockDB := new(storagemock.MockDatabase)
		mockPub := new(publishermock.MockPublisher)
		p := newTestPoller(mockAPI, mockDB, mockPub)

		mockAPI.On("GetUsage", mock.Anything, 3, evergy.IntervalDay).Return(nil, nil).Once()

		require.NoError(t, p.Poll(ctx))
		mockDB.AssertNotCalled(t, "UpsertReadings", mock.Anything, mock.Anything)
		mockPub.AssertNotCalled(t, "PublishReadings", mock.Anything, mock.Anything)
	})

	t.Run("Fetch Error", func(t *testing.T) {
		mockAPI := new(evergymock.MockAPI)
		mockDB := new(storagemock.MockDatabase)
		mockPub := new(publishermock.MockPublisher)
		p := newTestPoller(mockAPI, mockDB, mockPub)

		mockAPI.On("GetUsage", mock.Anything, 3, evergy.IntervalDay).Return(nil, errors.New("portal down")).Once()

		err := p.Poll(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "portal down")
		mockDB.AssertNotCalled(t, "UpsertReadings", mock.Anything, mock.Anything)
	})

	t.Run("Storage Error", func(t *testing.T) {
		mockAPI := new(evergymock.MockAPI)
		mockDB := new(storagemock.MockDatabase)
		mockPub := new(publishermock.MockPublisher)
		p := newTestPoller(mockAPI, mockDB, mockPub)

		mockAPI.On("GetUsage", mock.Anything, 3, evergy.IntervalDay).Return(report, nil).Once()
		mockAPI.On("Account").Return(testAccount).Once()
		mockDB.On("UpsertReadings", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

		err := p.Poll(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storing readings")
		mockPub.AssertNotCalled(t, "PublishReadings", mock.Anything, mock.Anything)
	})

	t.Run("Publish Error", func(t *testing.T) {
		mockAPI := new(evergymock.MockAPI)
		mockDB := new(storagemock.MockDatabase)
		mockPub := new(publishermock.MockPublisher)
		p := newTestPoller(mockAPI, mockDB, mockPub)

		mockAPI.On("GetUsage", mock.Anything, 3, evergy.IntervalDay).Return(report, nil).Once()
		mockAPI.On("Account").Return(testAccount).Once()
		mockDB.On("UpsertReadings", mock.Anything, mock.Anything).Return(nil).Once()
		mockPub.On("PublishReadings", mock.Anything, mock.Anything).Return(errors.New("broker gone")).Once()

		err := p.Poll(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publishing readings")
	})
}

func TestRun(t *testing.T) {
	report := &types.UsageReport{
		Usage: []types.UsageRecord{{Date: "08/20/2026", Usage: 7.2}},
	}

	t.Run("Fatal On Bad Credentials", func(t *testing.T) {
		mockAPI := new(evergymock.MockAPI)
		mockDB := new(storagemock.MockDatabase)
		mockPub := new(publishermock.MockPublisher)
		p := newTestPoller(mockAPI, mockDB, mockPub)

		mockAPI.On("GetUsage", mock.Anything, 3, evergy.IntervalDay).
			Return(nil, &evergy.InvalidAuthError{Reason: evergy.AuthFailureWrongPassword}).Once()

		err := p.Run(context.Background())
		require.Error(t, err)
		var authErr *evergy.InvalidAuthError
		require.ErrorAs(t, err, &authErr)
		mockAPI.AssertNotCalled(t, "Logout", mock.Anything)
	})

	t.Run("Polls Until Canceled", func(t *testing.T) {
		mockAPI := new(evergymock.MockAPI)
		mockDB := new(storagemock.MockDatabase)
		mockPub := new(publishermock.MockPublisher)
		p := newTestPoller(mockAPI, mockDB, mockPub)
		p.pollInterval = 5 * time.Millisecond

		polled := make(chan struct{}, 10)
		mockAPI.On("GetUsage", mock.Anything, 3, evergy.IntervalDay).Return(report, nil).Run(func(args mock.Arguments) {
			polled <- struct{}{}
		})
		mockAPI.On("Account").Return(testAccount)
		mockAPI.On("Logout", mock.Anything).Return(nil).Once()
		mockDB.On("UpsertReadings", mock.Anything, mock.Anything).Return(nil)
		mockPub.On("PublishReadings", mock.Anything, mock.Anything).Return(nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- p.Run(ctx)
		}()

		// wait for the immediate poll plus at least one tick
		for i := 0; i < 2; i++ {
			select {
			case <-polled:
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for poll")
			}
		}
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for shutdown")
		}
		mockAPI.AssertCalled(t, "Logout", mock.Anything)
	})

	t.Run("Trigger Forces Poll", func(t *testing.T) {
		mockAPI := new(evergymock.MockAPI)
		mockDB := new(storagemock.MockDatabase)
		mockPub := new(publishermock.MockPublisher)
		p := newTestPoller(mockAPI, mockDB, mockPub)

		polled := make(chan struct{}, 10)
		mockAPI.On("GetUsage", mock.Anything, 3, evergy.IntervalDay).Return(report, nil).Run(func(args mock.Arguments) {
			polled <- struct{}{}
		})
		mockAPI.On("Account").Return(testAccount)
		mockAPI.On("Logout", mock.Anything).Return(nil).Once()
		mockDB.On("UpsertReadings", mock.Anything, mock.Anything).Return(nil)
		mockPub.On("PublishReadings", mock.Anything, mock.Anything).Return(nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- p.Run(ctx)
		}()

		select {
		case <-polled:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for first poll")
		}

		// the hour-long ticker will not fire, only the trigger can
		p.TriggerPoll()
		select {
		case <-polled:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for triggered poll")
		}
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for shutdown")
		}
	})

	t.Run("Continues After Transient Error", func(t *testing.T) {
		mockAPI := new(evergymock.MockAPI)
		mockDB := new(storagemock.MockDatabase)
		mockPub := new(publishermock.MockPublisher)
		p := newTestPoller(mockAPI, mockDB, mockPub)
		p.pollInterval = 5 * time.Millisecond

		polled := make(chan struct{}, 10)
		mockAPI.On("GetUsage", mock.Anything, 3, evergy.IntervalDay).Return(nil, errors.New("portal down")).Run(func(args mock.Arguments) {
			polled <- struct{}{}
		})
		mockAPI.On("Logout", mock.Anything).Return(nil).Once()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- p.Run(ctx)
		}()

		for i := 0; i < 2; i++ {
			select {
			case <-polled:
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for poll")
			}
		}
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err, "transient errors should not stop the poller")
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for shutdown")
		}
	})
}

func TestPollerValidate(t *testing.T) {
	p := &Poller{}
	require.ErrorContains(t, p.Validate(), "poll-interval")

	p.pollInterval = time.Hour
	require.ErrorContains(t, p.Validate(), "poll-days")

	p.pollDays = 3
	require.ErrorContains(t, p.Validate(), "poll-usage-interval")

	p.usageInterval = evergy.IntervalHour
	require.NoError(t, p.Validate())
}
