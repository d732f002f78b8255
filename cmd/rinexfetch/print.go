package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jgivc/rinexfetch/internal/entity"
	"github.com/jgivc/rinexfetch/internal/repository/stats"
)

func printSummary(w io.Writer, s *entity.Summary) {
	fmt.Fprintf(w, "Run %s (%s, %s, prefixes %s)\n", s.RunID, s.FileType, s.Range, s.Filter)

	if s.NothingToDo {
		fmt.Fprintln(w, "No files matched.")
	} else {
		fmt.Fprintf(w, "Discovered:  %d", s.Discovered)
		if s.Duplicates > 0 {
			fmt.Fprintf(w, " (%d duplicate(s) dropped)", s.Duplicates)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Downloaded:  %d, %s\n", s.Succeeded, humanize.Bytes(uint64(max(s.BytesWritten, 0))))
		fmt.Fprintf(w, "Failed:      %d\n", s.Failed)
	}

	for _, f := range s.Failures {
		fmt.Fprintf(w, "  %s: %s\n", f.FileName, f.Reason)
	}

	if len(s.SkippedDays) > 0 {
		fmt.Fprintf(w, "Skipped days: %d\n", len(s.SkippedDays))
		for _, d := range s.SkippedDays {
			fmt.Fprintf(w, "  %s: %s\n", d.Day, d.Reason)
		}
	}

	if s.Interrupted {
		fmt.Fprintln(w, "Interrupted before all files were downloaded.")
	}

	if s.ReportPath != "" {
		fmt.Fprintf(w, "Report:      %s\n", s.ReportPath)
	}

	fmt.Fprintf(w, "Took %s\n", s.Duration().Round(time.Millisecond))
}

func printStats(w io.Writer, stations []stats.StationCount, totals map[string]int64) {
	fmt.Fprintf(w, "Runs: %s, files: %s downloaded, %s failed, %s\n",
		humanize.Comma(totals[stats.FieldRuns]),
		humanize.Comma(totals[stats.FieldSucceeded]),
		humanize.Comma(totals[stats.FieldFailed]),
		humanize.Bytes(uint64(max(totals[stats.FieldBytes], 0))))

	if len(stations) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATION\tFILES")
	for _, s := range stations {
		fmt.Fprintf(tw, "%s\t%d\n", s.Station, s.Files)
	}
	tw.Flush()
}
