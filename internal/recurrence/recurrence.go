// Package recurrence models how often a reminder repeats: either once, or
// every N hours, days, weeks, months or years.
//
// The textual form ("once", "3 months") is the wire and storage shape. It is
// parsed into a Rule at the boundary and never passed around as a string.
package recurrence

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"pawcal/internal/apperr"
)

// Unit is the step unit of a repeating rule.
type Unit int

const (
	None Unit = iota
	Hours
	Days
	Weeks
	Months
	Years
)

// keyword is the serialized form of each unit.
var keyword = map[Unit]string{
	Hours:  "hours",
	Days:   "days",
	Weeks:  "weeks",
	Months: "months",
	Years:  "years",
}

var unitByKeyword = map[string]Unit{
	"hours":  Hours,
	"days":   Days,
	"weeks":  Weeks,
	"months": Months,
	"years":  Years,
}

const onceKeyword = "once"

func (u Unit) String() string {
	if u == None {
		return onceKeyword
	}
	if k, ok := keyword[u]; ok {
		return k
	}
	return "Unit(" + strconv.Itoa(int(u)) + ")"
}

// Valid reports whether u is one of the known units.
func (u Unit) Valid() bool {
	return u >= None && u <= Years
}

// Rule is an immutable recurrence value. The zero Rule means "once".
type Rule struct {
	Unit     Unit
	Interval int
}

// Once returns the non-repeating rule.
func Once() Rule { return Rule{} }

// New builds a rule from a structured (unit, interval) pair. The interval is
// ignored for None.
func New(unit Unit, interval int) (Rule, error) {
	r := Rule{Unit: unit, Interval: interval}
	if unit == None {
		r.Interval = 0
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// MustNew is New for constant inputs; it panics on an invalid rule.
func MustNew(unit Unit, interval int) Rule {
	r, err := New(unit, interval)
	if err != nil {
		panic(err)
	}
	return r
}

// Validate checks the rule invariants.
func (r Rule) Validate() error {
	if !r.Unit.Valid() {
		return apperr.InvalidRecurrence("unit", "unknown unit %d", int(r.Unit))
	}
	if r.Unit == None {
		if r.Interval != 0 {
			return apperr.InvalidRecurrence("interval", "interval must be unset for a single occurrence")
		}
		return nil
	}
	if r.Interval <= 0 {
		return apperr.InvalidRecurrence("interval", "interval must be a positive integer, got %d", r.Interval)
	}
	return nil
}

// IsOnce reports whether the rule denotes a single occurrence.
func (r Rule) IsOnce() bool { return r.Unit == None }

// String returns the textual form accepted by Parse.
func (r Rule) String() string {
	if r.Unit == None {
		return onceKeyword
	}
	return strconv.Itoa(r.Interval) + " " + r.Unit.String()
}

// Parse reads "once" (or empty) or "<interval> <unit>". Unit keywords are
// case-insensitive; the interval must be a positive decimal integer.
func Parse(text string) (Rule, error) {
	fields := strings.Fields(strings.ToLower(text))
	switch len(fields) {
	case 0:
		return Once(), nil
	case 1:
		if fields[0] == onceKeyword {
			return Once(), nil
		}
		if _, ok := unitByKeyword[fields[0]]; ok {
			return Rule{}, apperr.InvalidRecurrence("repetition", "missing interval before %q", fields[0])
		}
		return Rule{}, apperr.InvalidRecurrence("repetition", "expected \"once\" or \"<interval> <unit>\", got %q", text)
	case 2:
	default:
		return Rule{}, apperr.InvalidRecurrence("repetition", "unexpected extra tokens in %q", text)
	}

	unit, ok := unitByKeyword[fields[1]]
	if !ok {
		return Rule{}, apperr.InvalidRecurrence("repetition", "unknown unit %q (want hours, days, weeks, months or years)", fields[1])
	}
	interval, err := parseInterval(fields[0])
	if err != nil {
		return Rule{}, err
	}
	return Rule{Unit: unit, Interval: interval}, nil
}

func parseInterval(tok string) (int, error) {
	for _, c := range tok {
		if c < '0' || c > '9' {
			return 0, apperr.InvalidRecurrence("repetition", "interval %q is not a positive integer", tok)
		}
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, apperr.InvalidRecurrence("repetition", "interval %q is out of range", tok)
	}
	if n < 1 {
		return 0, apperr.InvalidRecurrence("repetition", "interval must be at least 1, got %d", n)
	}
	return n, nil
}

// MarshalText implements encoding.TextMarshaler.
func (r Rule) MarshalText() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rule) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value stores the rule as its textual form.
func (r Rule) Value() (driver.Value, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r.String(), nil
}

// Scan reads the textual form written by Value. NULL scans as once.
func (r *Rule) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = Once()
		return nil
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	default:
		return fmt.Errorf("recurrence: cannot scan %T", src)
	}
}

// GormDataType maps the column to the dialect's string type.
func (Rule) GormDataType() string { return "string" }
