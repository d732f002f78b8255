package entity

import "time"

// DaySkip records a day whose listing contributed nothing because it failed.
type DaySkip struct {
	Day    DayKey
	URL    string
	Reason string
}

// Discovery is what the discoverer found over a date range.
type Discovery struct {
	Refs     []RemoteFileRef
	Skipped  []DaySkip
	Requests int // Listing requests issued, one per day visited
}

type Failure struct {
	Ref      RemoteFileRef
	FileName string
	Kind     FailureKind
	Reason   string
}

// Summary is the aggregate result of one discovery-then-fetch run.
type Summary struct {
	RunID       string
	FileType    string
	BaseURL     string
	Range       DateRange
	Filter      FilterSpec
	Destination string

	Discovered   int // Refs returned by discovery
	Duplicates   int // Refs dropped because another ref had the same local path
	Succeeded    int
	Failed       int
	BytesWritten int64     // Bytes of successfully downloaded files
	Failures     []Failure // Ordered by discovery order
	Downloaded   []string  // File names of successful downloads in discovery order
	SkippedDays  []DaySkip
	NothingToDo  bool
	Interrupted  bool   // The run context was cancelled before all work was done
	ReportPath   string // Markdown report, empty when reports are disabled

	StartedAt  time.Time
	FinishedAt time.Time
}

func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}

	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *Summary) Total() int {
	return s.Succeeded + s.Failed
}
