package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/jameshartig/evergyd/pkg/evergy"
	"github.com/jameshartig/evergyd/pkg/log"
	"github.com/jameshartig/evergyd/pkg/poller"
	"github.com/jameshartig/evergyd/pkg/storage"
)

const dateFormat = "2006-01-02"

func main() {
	client := evergy.Configured()
	db := storage.Configured()

	startStr := lflag.String("backfill-start", "", "First date to backfill (YYYY-MM-DD)")
	endStr := lflag.String("backfill-end", time.Now().UTC().Format(dateFormat), "Last date to backfill (YYYY-MM-DD)")
	intervalStr := lflag.String("backfill-interval", string(evergy.IntervalDay), "Report interval to backfill (d, h, or mi)")
	chunkDaysStr := lflag.String("backfill-chunk-days", "30", "Days fetched per portal request")
	lflag.Configure()

	ctx := context.Background()

	if *startStr == "" {
		log.Ctx(ctx).ErrorContext(ctx, "backfill-start is required")
		os.Exit(1)
	}
	start, err := time.ParseInLocation(dateFormat, *startStr, time.UTC)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid backfill-start", "error", err)
		os.Exit(1)
	}
	end, err := time.ParseInLocation(dateFormat, *endStr, time.UTC)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid backfill-end", "error", err)
		os.Exit(1)
	}
	if end.Before(start) {
		log.Ctx(ctx).ErrorContext(ctx, "backfill-end is before backfill-start")
		os.Exit(1)
	}
	interval := evergy.Interval(*intervalStr)
	if !interval.Valid() {
		log.Ctx(ctx).ErrorContext(ctx, "unknown backfill-interval", "interval", *intervalStr)
		os.Exit(1)
	}
	chunkDays, err := strconv.Atoi(*chunkDaysStr)
	if err != nil || chunkDays < 1 {
		log.Ctx(ctx).ErrorContext(ctx, "invalid backfill-chunk-days", "value", *chunkDaysStr)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "backfilling usage",
		"start", start.Format(dateFormat), "end", end.Format(dateFormat), "interval", string(interval))

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	total := 0
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, chunkDays) {
		chunkEnd := cur.AddDate(0, 0, chunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		report, err := client.GetUsageRange(ctx, cur, chunkEnd, interval)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to fetch usage", "from", cur.Format(dateFormat), "to", chunkEnd.Format(dateFormat), "error", err)
			os.Exit(1)
		}
		if report == nil {
			fmt.Printf("No usage for %s to %s\n", cur.Format(dateFormat), chunkEnd.Format(dateFormat))
			continue
		}

		readings := poller.ReadingsFromReport(ctx, client.Account(), interval, report.Usage)
		if err := db.UpsertReadings(ctx, readings); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to store readings", "error", err)
			os.Exit(1)
		}
		total += len(readings)

		fmt.Printf("Backfilled %s to %s: %d readings\n", cur.Format(dateFormat), chunkEnd.Format(dateFormat), len(readings))
	}

	if err := client.Logout(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "logout failed", "error", err)
	}

	log.Ctx(ctx).InfoContext(ctx, "backfill complete", "readings", total)
}
