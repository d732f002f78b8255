package entity

import (
	"fmt"
	"iter"
	"time"

	"github.com/jgivc/rinexfetch/internal/common"
)

const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days. Times are truncated to UTC dates.
type DateRange struct {
	start time.Time
	end   time.Time
}

func NewDateRange(start, end time.Time) (DateRange, error) {
	s, e := toDate(start), toDate(end)
	if s.After(e) {
		return DateRange{}, fmt.Errorf("%w: start date %s is after end date %s",
			common.ErrInvalidInput, s.Format(DateLayout), e.Format(DateLayout))
	}

	return DateRange{start: s, end: e}, nil
}

func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, err
	}

	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, err
	}

	return NewDateRange(s, e)
}

func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: cannot parse date %q, want YYYY-MM-DD", common.ErrInvalidInput, value)
	}

	return t, nil
}

func (r DateRange) Start() time.Time { return r.start }
func (r DateRange) End() time.Time   { return r.end }
func (r DateRange) IsZero() bool     { return r.start.IsZero() && r.end.IsZero() }

// Days returns the number of calendar days in the range, both ends included.
func (r DateRange) Days() int {
	if r.IsZero() {
		return 0
	}

	return int(r.end.Sub(r.start)/(24*time.Hour)) + 1
}

// All yields every day of the range in ascending order.
func (r DateRange) All() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if r.IsZero() {
			return
		}

		for d := r.start; !d.After(r.end); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}
}

func (r DateRange) String() string {
	return r.start.Format(DateLayout) + ".." + r.end.Format(DateLayout)
}

// DayKey addresses one remote day folder.
type DayKey struct {
	Year      int
	DayOfYear int // 1..366
}

func DayKeyOf(t time.Time) DayKey {
	return DayKey{Year: t.Year(), DayOfYear: t.YearDay()}
}

// Path returns the `YEAR/DOY` segment, DOY zero-padded to three digits.
func (k DayKey) Path() string {
	return fmt.Sprintf("%d/%03d", k.Year, k.DayOfYear)
}

func (k DayKey) String() string {
	return k.Path()
}

func toDate(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
