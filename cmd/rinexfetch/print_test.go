package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/jgivc/rinexfetch/internal/entity"
	"github.com/jgivc/rinexfetch/internal/repository/stats"
	"github.com/stretchr/testify/require"
)

func TestPrintSummary(t *testing.T) {
	dr, err := entity.ParseDateRange("2024-01-15", "2024-01-16")
	require.NoError(t, err)

	filter, err := entity.ParseFilterSpec("all")
	require.NoError(t, err)

	started := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	summary := &entity.Summary{
		RunID:        "r1",
		FileType:     "obs",
		Range:        dr,
		Filter:       filter,
		Discovered:   4,
		Duplicates:   1,
		Succeeded:    2,
		Failed:       1,
		BytesWritten: 1_200_000,
		Failures:     []entity.Failure{{FileName: "abcd0150.24o", Reason: "download failed: 404"}},
		SkippedDays:  []entity.DaySkip{{Day: entity.DayKey{Year: 2024, DayOfYear: 16}, Reason: "timeout"}},
		StartedAt:    started,
		FinishedAt:   started.Add(2 * time.Second),
	}

	var buf bytes.Buffer
	printSummary(&buf, summary)

	out := buf.String()
	require.Contains(t, out, "Run r1 (obs, 2024-01-15..2024-01-16, prefixes all)")
	require.Contains(t, out, "Discovered:  4 (1 duplicate(s) dropped)")
	require.Contains(t, out, "Downloaded:  2, 1.2 MB")
	require.Contains(t, out, "  abcd0150.24o: download failed: 404")
	require.Contains(t, out, "  2024/016: timeout")
	require.Contains(t, out, "Took 2s")
	require.NotContains(t, out, "Interrupted")
}

func TestPrintSummaryNothingToDo(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &entity.Summary{RunID: "r2", NothingToDo: true})

	require.Contains(t, buf.String(), "No files matched.")
	require.NotContains(t, buf.String(), "Failed:")
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, []stats.StationCount{{Station: "abcd", Files: 12}, {Station: "p041", Files: 3}}, map[string]int64{
		stats.FieldRuns:      2,
		stats.FieldSucceeded: 1500,
		stats.FieldBytes:     3_000_000,
	})

	out := buf.String()
	require.Contains(t, out, "Runs: 2, files: 1,500 downloaded, 0 failed, 3.0 MB")
	require.Contains(t, out, "abcd     12")
	require.Contains(t, out, "p041     3")
}
