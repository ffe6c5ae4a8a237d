package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/jameshartig/evergyd/pkg/log"
	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// MQTTPublisher implements the Publisher interface over an MQTT broker.
// Readings for a premise and interval share one retained topic, so
// subscribers always see the most recent period.
type MQTTPublisher struct {
	client      mqtt.Client
	broker      string
	username    string
	password    string
	topicPrefix string
}

// configuredMQTT sets up the MQTT publisher.
// It registers flags for configuration.
func configuredMQTT() *MQTTPublisher {
	broker := lflag.String("mqtt-broker", "", "Address of the MQTT broker (host:port)")
	username := lflag.String("mqtt-username", "", "Username for the MQTT broker")
	password := lflag.String("mqtt-password", "", "Password for the MQTT broker")
	prefix := lflag.String("mqtt-topic-prefix", "evergy", "Prefix for published topics")

	m := &MQTTPublisher{}

	lflag.Do(func() {
		m.broker = *broker
		m.username = *username
		m.password = *password
		m.topicPrefix = *prefix
	})

	return m
}

// Validate checks if the publisher is properly configured.
func (m *MQTTPublisher) Validate() error {
	if m.broker == "" {
		return fmt.Errorf("mqtt-broker is required")
	}
	if m.topicPrefix == "" {
		return fmt.Errorf("mqtt-topic-prefix is required")
	}
	return nil
}

// Init connects to the broker.
// This must be called before using the publisher methods.
func (m *MQTTPublisher) Init(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", m.broker))
	// a random suffix keeps restarted instances from kicking each other off
	opts.SetClientID("evergyd-" + uuid.NewString()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if m.username != "" {
		opts.SetUsername(m.username)
	}
	if m.password != "" {
		opts.SetPassword(m.password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	m.client = client
	return nil
}

// Close disconnects from the broker.
func (m *MQTTPublisher) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}

// PublishReadings publishes each reading retained at QoS 1. Readings
// arrive oldest first, so the retained value ends up being the newest.
func (m *MQTTPublisher) PublishReadings(ctx context.Context, readings []types.MeterReading) error {
	for _, r := range readings {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding reading: %w", err)
		}
		topic := m.readingTopic(r)
		if token := m.client.Publish(topic, 1, true, payload); token.Wait() && token.Error() != nil {
			return fmt.Errorf("publishing to %s: %w", topic, token.Error())
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "published readings",
		slog.Int("count", len(readings)),
		slog.String("prefix", m.topicPrefix))
	return nil
}

func (m *MQTTPublisher) readingTopic(r types.MeterReading) string {
	return fmt.Sprintf("%s/%s/%s/state", m.topicPrefix, r.PremiseID, r.Interval)
}
