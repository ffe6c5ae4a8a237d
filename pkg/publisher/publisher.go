package publisher

import (
	"context"
	"fmt"

	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Publisher defines the interface for pushing captured readings to an
// external consumer.
type Publisher interface {
	// PublishReadings sends the readings in order. The poller treats a
	// returned error as transient and will resend on the next cycle.
	PublishReadings(ctx context.Context, readings []types.MeterReading) error

	// Lifecycle
	Close() error
}

// Configured sets up the Publisher provider based on flags.
func Configured() Publisher {
	provider := lflag.String("publisher-provider", "none", "Publisher provider to use (available: mqtt, none)")

	var p struct{ Publisher }

	mq := configuredMQTT()

	lflag.Do(func() {
		switch *provider {
		case "mqtt":
			if err := mq.Validate(); err != nil {
				panic(fmt.Sprintf("mqtt validation failed: %v", err))
			}
			p.Publisher = mq
			if err := mq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("mqtt init failed: %v", err))
			}
		case "none":
			p.Publisher = NoopPublisher{}
		default:
			panic(fmt.Sprintf("unknown publisher provider: %s", *provider))
		}
	})

	return &p
}

// NoopPublisher satisfies Publisher when publishing is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishReadings(context.Context, []types.MeterReading) error { return nil }

func (NoopPublisher) Close() error { return nil }
