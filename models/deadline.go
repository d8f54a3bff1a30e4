package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// DeadlineLayout is the wire format of a deadline: dd/MM/yyyy.
const DeadlineLayout = "02/01/2006"

// Deadline is the calendar date a task is due. The zero value means the
// deadline is unknown and sorts before every real date.
type Deadline struct {
	date civil.Date
}

// NewDeadline returns the deadline for the given calendar day.
func NewDeadline(year int, month time.Month, day int) Deadline {
	return Deadline{date: civil.Date{Year: year, Month: month, Day: day}}
}

// DeadlineOf returns the calendar day of t in t's location.
func DeadlineOf(t time.Time) Deadline {
	return Deadline{date: civil.DateOf(t)}
}

// ParseDeadline parses a dd/MM/yyyy string. Day and month need two digits
// and the date has to exist in the calendar.
func ParseDeadline(s string) (Deadline, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Deadline{}, fmt.Errorf("deadline is empty")
	}
	t, err := time.Parse(DeadlineLayout, s)
	if err != nil {
		return Deadline{}, fmt.Errorf("deadline %q is not in dd/MM/yyyy form: %w", s, err)
	}
	return Deadline{date: civil.DateOf(t)}, nil
}

// lenientDeadlineLayout also reads dates written without zero padding,
// such as 5/3/2024.
const lenientDeadlineLayout = "2/1/2006"

// DeadlineOrZero parses a stored deadline. Unlike ParseDeadline it accepts
// day and month without zero padding, and falls back to the zero deadline.
func DeadlineOrZero(s string) Deadline {
	if d, err := ParseDeadline(s); err == nil {
		return d
	}
	t, err := time.Parse(lenientDeadlineLayout, strings.TrimSpace(s))
	if err != nil {
		return Deadline{}
	}
	return Deadline{date: civil.DateOf(t)}
}

// Date returns the underlying calendar date.
func (d Deadline) Date() civil.Date {
	return d.date
}

func (d Deadline) IsZero() bool {
	return d.date == civil.Date{}
}

// Before reports whether d falls on an earlier day than other.
func (d Deadline) Before(other Deadline) bool {
	if d.IsZero() || other.IsZero() {
		return d.IsZero() && !other.IsZero()
	}
	return d.date.Before(other.date)
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to
// or after other.
func (d Deadline) Compare(other Deadline) int {
	switch {
	case d.Before(other):
		return -1
	case other.Before(d):
		return 1
	default:
		return 0
	}
}

// In returns midnight of the deadline day in loc.
func (d Deadline) In(loc *time.Location) time.Time {
	if d.IsZero() {
		return time.Time{}
	}
	return d.date.In(loc)
}

// String formats the deadline as dd/MM/yyyy, or "" for the zero deadline.
func (d Deadline) String() string {
	if d.IsZero() {
		return ""
	}
	return d.date.In(time.UTC).Format(DeadlineLayout)
}

func (d Deadline) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Deadline) UnmarshalText(text []byte) error {
	parsed, err := ParseDeadline(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Deadline) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON is strict: API input with a malformed deadline is rejected.
// A JSON null or "" leaves the zero deadline.
func (d *Deadline) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Deadline{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("deadline must be a string: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*d = Deadline{}
		return nil
	}
	return d.UnmarshalText([]byte(s))
}
