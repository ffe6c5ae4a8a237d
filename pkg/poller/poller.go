// Package poller periodically fetches usage from the portal and fans it
// out to storage and the publisher.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jameshartig/evergyd/pkg/evergy"
	"github.com/jameshartig/evergyd/pkg/log"
	"github.com/jameshartig/evergyd/pkg/publisher"
	"github.com/jameshartig/evergyd/pkg/storage"
	"github.com/jameshartig/evergyd/pkg/types"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evergyd_polls_total",
		Help: "Number of usage polls attempted.",
	})
	pollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evergyd_poll_errors_total",
		Help: "Number of usage polls that failed.",
	})
	readingsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evergyd_readings_captured_total",
		Help: "Number of readings stored from polls.",
	})
	lastPollSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evergyd_last_poll_success_timestamp_seconds",
		Help: "Unix time of the last successful poll.",
	})
)

// Poller drives the fetch-store-publish cycle on a fixed schedule.
type Poller struct {
	api evergy.API
	db  storage.Database
	pub publisher.Publisher

	pollInterval  time.Duration
	pollDays      int
	usageInterval evergy.Interval

	trigger chan struct{}
}

// Configured sets up the Poller with its dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(api evergy.API, db storage.Database, pub publisher.Publisher) *Poller {
	p := &Poller{
		api:     api,
		db:      db,
		pub:     pub,
		trigger: make(chan struct{}, 1),
	}
	interval := lflag.Duration("poll-interval", 6*time.Hour, "How often to poll the portal for usage")
	days := lflag.String("poll-days", "3", "How many days back each poll fetches")
	usageInterval := lflag.String("poll-usage-interval", string(evergy.IntervalDay), "Report interval to poll (d, h, or mi)")

	lflag.Do(func() {
		d, err := strconv.Atoi(*days)
		if err != nil {
			panic(fmt.Sprintf("invalid poll-days: %v", err))
		}
		p.pollInterval = *interval
		p.pollDays = d
		p.usageInterval = evergy.Interval(*usageInterval)
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("poller validation failed: %v", err))
		}
	})

	return p
}

// Validate checks the configuration of the Poller.
func (p *Poller) Validate() error {
	if p.pollInterval <= 0 {
		return errors.New("poll-interval must be positive")
	}
	if p.pollDays < 1 {
		return errors.New("poll-days must be at least 1")
	}
	if !p.usageInterval.Valid() {
		return fmt.Errorf("unknown poll-usage-interval %q", p.usageInterval)
	}
	return nil
}

// Run polls immediately, then on every tick until the context is canceled.
// Transient failures only log and wait for the next tick. An auth failure
// is fatal since retrying bad credentials risks locking the account.
func (p *Poller) Run(ctx context.Context) error {
	log.Ctx(ctx).InfoContext(ctx, "starting poller",
		slog.Duration("interval", p.pollInterval),
		slog.Int("days", p.pollDays),
		slog.String("usageInterval", string(p.usageInterval)))

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil {
			var authErr *evergy.InvalidAuthError
			if errors.As(err, &authErr) {
				log.Ctx(ctx).ErrorContext(ctx, "portal rejected credentials", slog.Any("error", err))
				return err
			}
			if ctx.Err() == nil {
				log.Ctx(ctx).ErrorContext(ctx, "poll failed", slog.Any("error", err))
			}
		}

		select {
		case <-ctx.Done():
			p.logout(ctx)
			return nil
		case <-p.trigger:
		case <-ticker.C:
		}
	}
}

// TriggerPoll requests an immediate poll. It never blocks since a poll
// already pending covers the request.
func (p *Poller) TriggerPoll() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Poll fetches the configured window of usage, stores it, and publishes it.
// Every log line of one poll carries the same pollID.
func (p *Poller) Poll(ctx context.Context) error {
	pollsTotal.Inc()
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("pollID", uuid.NewString()[:8])))

	report, err := p.api.GetUsage(ctx, p.pollDays, p.usageInterval)
	if err != nil {
		pollErrorsTotal.Inc()
		return err
	}
	if report == nil {
		log.Ctx(ctx).InfoContext(ctx, "portal has no usage for the poll window", slog.Int("days", p.pollDays))
		lastPollSuccess.SetToCurrentTime()
		return nil
	}

	readings := ReadingsFromReport(ctx, p.api.Account(), p.usageInterval, report.Usage)
	if err := p.db.UpsertReadings(ctx, readings); err != nil {
		pollErrorsTotal.Inc()
		return fmt.Errorf("storing readings: %w", err)
	}
	if err := p.pub.PublishReadings(ctx, readings); err != nil {
		pollErrorsTotal.Inc()
		return fmt.Errorf("publishing readings: %w", err)
	}

	readingsCaptured.Add(float64(len(readings)))
	lastPollSuccess.SetToCurrentTime()
	log.Ctx(ctx).InfoContext(ctx, "poll complete", slog.Int("readings", len(readings)))
	return nil
}

func (p *Poller) logout(ctx context.Context) {
	// the run context is already canceled during shutdown so the logout
	// gets its own deadline
	logoutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.api.Logout(logoutCtx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "logout on shutdown failed", slog.Any("error", err))
	}
}

// usageDateLayouts covers the formats the portal has been seen using for
// the date field, longest first so datetimes are not truncated to days.
var usageDateLayouts = []string{
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
}

func parseUsageDate(s string) (time.Time, error) {
	for _, layout := range usageDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ReadingsFromReport converts report rows into readings tagged with the
// account they came from. Rows with an unparseable date are skipped so one
// bad row cannot lose the rest of the window.
func ReadingsFromReport(ctx context.Context, acct types.AccountContext, interval evergy.Interval, records []types.UsageRecord) []types.MeterReading {
	now := time.Now().UTC()
	unit := interval.Duration()
	readings := make([]types.MeterReading, 0, len(records))
	for _, rec := range records {
		ts, err := parseUsageDate(rec.Date)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse usage date", slog.String("date", rec.Date), slog.Any("error", err))
			continue
		}
		readings = append(readings, types.MeterReading{
			AccountNumber: acct.AccountNumber,
			PremiseID:     acct.PremiseID,
			Interval:      string(interval),
			PeriodStart:   ts,
			PeriodEnd:     ts.Add(unit),
			UsageKWH:      rec.Usage,
			Cost:          rec.Cost,
			PeakDemandKW:  rec.PeakDemand,
			AvgTemp:       rec.AvgTemp,
			IsPartial:     rec.IsPartial,
			CapturedAt:    now,
		})
	}
	return readings
}
