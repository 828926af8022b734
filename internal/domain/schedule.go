package domain

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is the cadence of a schedule.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyHourly Frequency = "hourly"
)

func (f Frequency) String() string { return string(f) }

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyHourly:
		return true
	}
	return false
}

func ParseFrequencyFromString(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("%w: invalid frequency %q", ErrValidation, s)
	}
	return f, nil
}

// Period is the nominal length of one delivery period.
func (f Frequency) Period() time.Duration {
	if f == FrequencyHourly {
		return time.Hour
	}
	return 24 * time.Hour
}

// Schedule attaches a cadence to a topic. Claim fields implement the per-schedule lease.
type Schedule struct {
	ID         string
	OwnerID    string
	TopicID    string
	Frequency  Frequency
	TimeOfDay  string
	Active     bool
	OrphanedAt *time.Time
	LastRunAt  *time.Time
	NextDueAt  time.Time
	ClaimToken *string
	ClaimedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Running is derived from the lease when the schedule is read; it is not stored.
	Running bool
}

// LeaseLive reports whether a claim is held and has not yet expired at now.
// An expired claim is one the scheduler is free to take over.
func (s *Schedule) LeaseLive(now time.Time, claimTimeout time.Duration) bool {
	if s.ClaimToken == nil || s.ClaimedAt == nil {
		return false
	}
	return !s.ClaimedAt.Before(now.Add(-claimTimeout))
}

// ClockTime is a wall-clock HH:MM.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func ParseClockTime(s string) (ClockTime, error) {
	trimmed := strings.TrimSpace(s)
	t, err := time.Parse("15:04", trimmed)
	if err != nil || len(trimmed) != 5 {
		return ClockTime{}, fmt.Errorf("%w: time_of_day must be HH:MM, got %q", ErrValidation, s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Normalize canonicalises time_of_day; hourly schedules never carry one.
func (s *Schedule) Normalize() {
	s.TimeOfDay = strings.TrimSpace(s.TimeOfDay)
	if s.Frequency == FrequencyHourly {
		s.TimeOfDay = ""
		return
	}
	if clock, err := ParseClockTime(s.TimeOfDay); err == nil {
		s.TimeOfDay = clock.String()
	}
}

func (s *Schedule) Validate() error {
	if strings.TrimSpace(s.OwnerID) == "" {
		return fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if strings.TrimSpace(s.TopicID) == "" {
		return fmt.Errorf("%w: topic_id is required", ErrValidation)
	}
	if !s.Frequency.IsValid() {
		return fmt.Errorf("%w: invalid frequency %q", ErrValidation, s.Frequency)
	}
	switch s.Frequency {
	case FrequencyDaily:
		if s.TimeOfDay == "" {
			return fmt.Errorf("%w: time_of_day is required for daily schedules", ErrValidation)
		}
		if _, err := ParseClockTime(s.TimeOfDay); err != nil {
			return err
		}
	case FrequencyHourly:
		if s.TimeOfDay != "" {
			return fmt.Errorf("%w: time_of_day is only allowed for daily schedules", ErrValidation)
		}
	}
	return nil
}

// Orphaned reports whether the schedule lost its topic.
func (s *Schedule) Orphaned() bool {
	return s.OrphanedAt != nil
}

// Schedulable reports whether the scheduler may evaluate the schedule at all.
func (s *Schedule) Schedulable() bool {
	return s.Active && !s.Orphaned()
}

// NextDue derives next_due_at from last_run_at, or from creation when the schedule never ran.
func (s *Schedule) NextDue(loc *time.Location) (time.Time, error) {
	if s.LastRunAt != nil {
		return s.NextDueAfter(*s.LastRunAt, loc)
	}
	if s.Frequency == FrequencyHourly {
		return s.CreatedAt.UTC(), nil
	}
	return s.NextDueAfter(s.CreatedAt, loc)
}

// NextDueAfter returns the first due instant strictly after anchor.
func (s *Schedule) NextDueAfter(anchor time.Time, loc *time.Location) (time.Time, error) {
	switch s.Frequency {
	case FrequencyHourly:
		return anchor.Add(time.Hour).UTC(), nil
	case FrequencyDaily:
		clock, err := ParseClockTime(s.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		return nextDailyOccurrence(anchor, clock, loc), nil
	default:
		return time.Time{}, fmt.Errorf("%w: invalid frequency %q", ErrValidation, s.Frequency)
	}
}

func nextDailyOccurrence(anchor time.Time, clock ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := anchor.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), clock.Hour, clock.Minute, 0, 0, loc)
	for !candidate.After(anchor) {
		local = local.AddDate(0, 0, 1)
		candidate = time.Date(local.Year(), local.Month(), local.Day(), clock.Hour, clock.Minute, 0, 0, loc)
	}
	return candidate.UTC()
}
