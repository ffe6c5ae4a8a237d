package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jameshartig/evergyd/pkg/evergy"
	"github.com/jameshartig/evergyd/pkg/log"
	"github.com/jameshartig/evergyd/pkg/storage"
)

// maxUsageRange bounds a single query so one request cannot drag a year of
// 15-minute rows out of the database.
const maxUsageRange = 366 * 24 * time.Hour

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseUsageRange(r)
	if err != nil {
		http.Error(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}
	interval, err := parseInterval(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	premiseID := s.premiseID(r)
	readings, err := s.storage.GetReadings(ctx, premiseID, string(interval), start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get readings", slog.String("premiseID", premiseID), slog.Any("error", err))
		http.Error(w, "failed to get readings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	// Set Cache-Control headers
	// If the range ends before today (midnight today), cache for 24 hours.
	// Otherwise, cache for 1 minute.
	today := time.Now().Truncate(24 * time.Hour)
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}

	if err := json.NewEncoder(w).Encode(readings); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleLatestUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	interval, err := parseInterval(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	premiseID := s.premiseID(r)
	reading, err := s.storage.LatestReading(ctx, premiseID, string(interval))
	if errors.Is(err, storage.ErrNoReadings) {
		writeJSONError(w, "no readings stored", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest reading", slog.String("premiseID", premiseID), slog.Any("error", err))
		http.Error(w, "failed to get latest reading", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reading); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.client.Account()); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleTriggerPoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.poller == nil {
		writeJSONError(w, "poller not running", http.StatusServiceUnavailable)
		return
	}
	s.poller.TriggerPoll()
	log.Ctx(ctx).InfoContext(ctx, "poll requested")

	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "queued",
	}); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// premiseID resolves which premise a request is about. Without an explicit
// premise parameter it falls back to the live session's premise.
func (s *Server) premiseID(r *http.Request) string {
	if premiseID := r.URL.Query().Get("premise"); premiseID != "" {
		return premiseID
	}
	return s.client.Account().PremiseID
}

func parseInterval(r *http.Request) (evergy.Interval, error) {
	interval := evergy.Interval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = evergy.IntervalDay
	}
	if !interval.Valid() {
		return "", fmt.Errorf("unknown interval %q", interval)
	}
	return interval, nil
}

func parseUsageRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to the last 7 days if not specified
		end := time.Now()
		start := truncateDay(end).AddDate(0, 0, -6)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxUsageRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed %d days", int(maxUsageRange.Hours()/24))
	}

	return start, end, nil
}
