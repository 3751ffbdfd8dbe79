// internal/partition/partition.go
package partition

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period is the calendar period covered by one destination.
type Period string

const (
	Hour  Period = "hour"
	Day   Period = "day"
	Month Period = "month"
)

// ErrTimeOutOfRange is returned for times that cannot be mapped to a
// destination.
var ErrTimeOutOfRange = errors.New("time out of range")

var epoch = time.Unix(0, 0).UTC()

// ParsePeriod parses a period name. An empty name means Day.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Day, nil
	case Hour, Day, Month:
		return p, nil
	default:
		return "", fmt.Errorf("unknown partition period %q", s)
	}
}

func (p Period) layout() string {
	switch p {
	case Hour:
		return "2006010215"
	case Month:
		return "200601"
	default:
		return "20060102"
	}
}

// Start truncates t (in UTC) to the beginning of its period.
func Start(t time.Time, p Period) time.Time {
	t = t.UTC()
	switch p {
	case Hour:
		return t.Truncate(time.Hour)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Next returns the start of the period following the one containing t.
func Next(t time.Time, p Period) time.Time {
	s := Start(t, p)
	switch p {
	case Hour:
		return s.Add(time.Hour)
	case Month:
		return s.AddDate(0, 1, 0)
	default:
		return s.AddDate(0, 0, 1)
	}
}

// Name returns the destination name for t, e.g. "events_20240101".
func Name(prefix string, p Period, t time.Time) (string, error) {
	if t.IsZero() || t.Before(epoch) {
		return "", fmt.Errorf("%w: %s", ErrTimeOutOfRange, t.Format(time.RFC3339))
	}
	return prefix + t.UTC().Format(p.layout()), nil
}

// Resolver returns a destination resolver that names one destination per
// period. Times are converted to UTC first so that the same instant always
// lands in the same destination.
func Resolver(prefix string, p Period) func(time.Time) (string, error) {
	return func(t time.Time) (string, error) {
		return Name(prefix, p, t)
	}
}
