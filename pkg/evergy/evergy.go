package evergy

import (
	"context"
	"fmt"
	"time"

	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// API defines the interface for interacting with the Evergy consumer portal.
type API interface {
	// Login authenticates and resolves the account context. It returns true
	// only when an account number and premise id were both resolved.
	Login(ctx context.Context) (bool, error)

	// Logout ends the portal session. The client stays usable and will log
	// in again on the next usage call.
	Logout(ctx context.Context) error

	// GetUsage returns usage for the last days days at the given interval.
	GetUsage(ctx context.Context, days int, interval Interval) (*types.UsageReport, error)

	// GetUsageFrom returns count intervals of usage starting at start.
	GetUsageFrom(ctx context.Context, start time.Time, count int, interval Interval) (*types.UsageReport, error)

	// GetUsageRange returns usage between start and end inclusive. A range
	// the portal has no data for comes back as (nil, nil).
	GetUsageRange(ctx context.Context, start, end time.Time, interval Interval) (*types.UsageReport, error)

	// Account returns the account context from the last successful login.
	Account() types.AccountContext
}

// Configured sets up flags for the portal client and returns the instance.
// It uses lflag to register command-line flags for configuration.
func Configured() *Client {
	c := NewClient("", "")
	username := lflag.String("evergy-username", "", "Username for the Evergy consumer portal")
	password := lflag.String("evergy-password", "", "Password for the Evergy consumer portal")
	timeout := lflag.Duration("evergy-timeout", time.Minute, "Timeout for each portal request")

	lflag.Do(func() {
		c.username = *username
		c.password = *password
		c.timeout = *timeout
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("evergy validation failed: %v", err))
		}
	})

	return c
}

// Validate ensures the configuration is valid.
func (c *Client) Validate() error {
	if c.username == "" {
		return fmt.Errorf("evergy-username is required")
	}
	if c.password == "" {
		return fmt.Errorf("evergy-password is required")
	}
	if c.timeout <= 0 {
		return fmt.Errorf("evergy-timeout must be positive")
	}
	return nil
}
