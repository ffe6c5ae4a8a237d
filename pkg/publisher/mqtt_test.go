package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQTTValidate(t *testing.T) {
	m := &MQTTPublisher{}
	assert.ErrorContains(t, m.Validate(), "mqtt-broker is required")

	m.broker = "localhost:1883"
	assert.ErrorContains(t, m.Validate(), "mqtt-topic-prefix is required")

	m.topicPrefix = "evergy"
	require.NoError(t, m.Validate())
}

func TestReadingTopic(t *testing.T) {
	m := &MQTTPublisher{topicPrefix: "evergy"}
	r := types.MeterReading{
		PremiseID:   "987654321",
		Interval:    "d",
		PeriodStart: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "evergy/987654321/d/state", m.readingTopic(r))

	r.Interval = "h"
	assert.Equal(t, "evergy/987654321/h/state", m.readingTopic(r))
}

func TestNoopPublisher(t *testing.T) {
	var p NoopPublisher
	require.NoError(t, p.PublishReadings(context.Background(), []types.MeterReading{{PremiseID: "p"}}))
	require.NoError(t, p.Close())
}
