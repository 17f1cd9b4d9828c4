package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{
		Interval: interval,
	}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}

// ParseSchedule parses "@every <duration>", "@hourly", "@daily" or a bare
// Go duration such as "15m".
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	var raw string
	switch {
	case spec == "@hourly":
		return NewIntervalSchedule(time.Hour), nil
	case spec == "@daily":
		return NewIntervalSchedule(24 * time.Hour), nil
	case strings.HasPrefix(spec, "@every "):
		raw = strings.TrimSpace(strings.TrimPrefix(spec, "@every "))
	default:
		raw = spec
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, spec)
	}
	if d < time.Second {
		return nil, fmt.Errorf("%w: %q is shorter than a second", ErrInvalidSchedule, spec)
	}
	return NewIntervalSchedule(d), nil
}
