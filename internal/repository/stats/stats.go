package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jgivc/rinexfetch/internal/entity"
	"github.com/redis/go-redis/v9"
)

const (
	KeyStations = "stats:station" // HASH. station code: downloaded file count
	KeyTotals   = "stats:totals"  // HASH. succeeded, failed, bytes, runs
	KeyRun      = "run"           // HASH. run:<run_id> summary of one run, expires after RunExpiration

	FieldSucceeded = "succeeded"
	FieldFailed    = "failed"
	FieldBytes     = "bytes"
	FieldRuns      = "runs"

	KeySeparator = ":"

	StationCodeLen = 4
	RunExpiration  = 30 * 24 * time.Hour
)

type StationCount struct {
	Station string
	Files   int64
}

type statsRepository struct {
	cl  *redis.Client
	log *slog.Logger
}

func NewStatsRepository(cl *redis.Client, log *slog.Logger) *statsRepository {
	return &statsRepository{
		cl:  cl,
		log: log.With(slog.String("item", "StatsRepository")),
	}
}

// RecordRun stores per station counters, running totals and a run hash in one pipeline.
func (r *statsRepository) RecordRun(ctx context.Context, summary *entity.Summary) error {
	if summary == nil || summary.RunID == "" {
		return fmt.Errorf("cannot record run without id")
	}

	log := r.log.With(slog.String("op", "RecordRun"), slog.String("run_id", summary.RunID))

	stations := StationCounts(summary)

	pipe := r.cl.TxPipeline()
	for station, n := range stations {
		pipe.HIncrBy(ctx, KeyStations, station, n)
	}

	pipe.HIncrBy(ctx, KeyTotals, FieldSucceeded, int64(summary.Succeeded))
	pipe.HIncrBy(ctx, KeyTotals, FieldFailed, int64(summary.Failed))
	pipe.HIncrBy(ctx, KeyTotals, FieldBytes, summary.BytesWritten)
	pipe.HIncrBy(ctx, KeyTotals, FieldRuns, 1)

	runKey := getKey(KeyRun, summary.RunID)
	pipe.HSet(ctx, runKey, runFields(summary))
	pipe.Expire(ctx, runKey, RunExpiration)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot record run %s: %w", summary.RunID, err)
	}

	log.Info("Run recorded", slog.Int("stations", len(stations)))

	return nil
}

// Stations returns download counters ordered by count, busiest station first.
func (r *statsRepository) Stations(ctx context.Context) ([]StationCount, error) {
	values, err := r.cl.HGetAll(ctx, KeyStations).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get station counters: %w", err)
	}

	counts := make([]StationCount, 0, len(values))
	for station, value := range values {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			r.log.Error("Cannot convert counter value to int", slog.String("station", station), slog.Any("error", err))

			continue
		}

		counts = append(counts, StationCount{Station: station, Files: n})
	}

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Files != counts[j].Files {
			return counts[i].Files > counts[j].Files
		}

		return counts[i].Station < counts[j].Station
	})

	return counts, nil
}

func (r *statsRepository) Totals(ctx context.Context) (map[string]int64, error) {
	pipe := r.cl.Pipeline()
	fields := []string{FieldRuns, FieldSucceeded, FieldFailed, FieldBytes}
	for _, f := range fields {
		pipe.HGet(ctx, KeyTotals, f)
	}

	cmds, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cannot get totals: %w", err)
	}

	totals := make(map[string]int64, len(fields))
	for i, cmd := range cmds {
		var counter int64
		val, err := cmd.(*redis.StringCmd).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				r.log.Error("Cannot get total", slog.String("field", fields[i]), slog.Any("error", err))
			}
		} else {
			counter, err = strconv.ParseInt(val, 10, 64)
			if err != nil {
				r.log.Error("Cannot convert counter value to int", slog.String("field", fields[i]), slog.Any("error", err))
				counter = 0
			}
		}

		totals[fields[i]] = counter
	}

	return totals, nil
}

func (r *statsRepository) Close() error {
	return r.cl.Close()
}

// StationCounts counts successfully downloaded files per station code.
func StationCounts(summary *entity.Summary) map[string]int64 {
	counts := make(map[string]int64)
	for _, name := range summary.Downloaded {
		counts[StationCode(name)]++
	}

	return counts
}

// StationCode is the lower-cased four character marker a RINEX file name starts with.
func StationCode(fileName string) string {
	code := strings.ToLower(fileName)
	if len(code) > StationCodeLen {
		code = code[:StationCodeLen]
	}

	return code
}

func runFields(s *entity.Summary) map[string]any {
	return map[string]any{
		"file_type":   s.FileType,
		"range":       s.Range.String(),
		"filter":      s.Filter.String(),
		"destination": s.Destination,
		"discovered":  s.Discovered,
		"succeeded":   s.Succeeded,
		"failed":      s.Failed,
		"bytes":       s.BytesWritten,
		"started_at":  s.StartedAt.UTC().Format(time.RFC3339),
		"duration":    s.Duration().String(),
	}
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
