package ics

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"pawcal/internal/apperr"
	"pawcal/internal/model"
	"pawcal/internal/recurrence"
)

const (
	DefaultProductID = "-//PawfectPlanner//Reminders//EN"
	DefaultUIDDomain = "pawfectplanner.com"

	// ContentType is the media type of encoded calendar files.
	ContentType = "text/calendar; charset=utf-8"

	utcLayout = "20060102T150405Z"
	crlf      = "\r\n"
)

var frequency = map[recurrence.Unit]rrule.Frequency{
	recurrence.Hours:  rrule.HOURLY,
	recurrence.Days:   rrule.DAILY,
	recurrence.Weeks:  rrule.WEEKLY,
	recurrence.Months: rrule.MONTHLY,
	recurrence.Years:  rrule.YEARLY,
}

// Encoder renders a single Event into an iCalendar document. An Encoder is
// immutable after construction and safe for concurrent use.
type Encoder struct {
	productID string
	uidDomain string
	now       func() time.Time
	newUID    func() string
}

// EncoderOption customizes an Encoder.
type EncoderOption func(*Encoder)

// WithProductID sets the PRODID line.
func WithProductID(id string) EncoderOption {
	return func(e *Encoder) {
		if id != "" {
			e.productID = id
		}
	}
}

// WithUIDDomain sets the right-hand side of generated UIDs.
func WithUIDDomain(domain string) EncoderOption {
	return func(e *Encoder) {
		if domain != "" {
			e.uidDomain = domain
		}
	}
}

// WithClock fixes the render clock used for DTSTAMP.
func WithClock(now func() time.Time) EncoderOption {
	return func(e *Encoder) {
		if now != nil {
			e.now = now
		}
	}
}

// WithUIDGenerator replaces the random UID token source.
func WithUIDGenerator(gen func() string) EncoderOption {
	return func(e *Encoder) {
		if gen != nil {
			e.newUID = gen
		}
	}
}

// NewEncoder returns an Encoder with the given options applied.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{
		productID: DefaultProductID,
		uidDomain: DefaultUIDDomain,
		now:       time.Now,
		newUID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode renders ev as a calendar file holding one VEVENT.
//
// Output is CRLF separated and, for a fixed clock, byte-identical across
// calls except for the UID line.
func (e *Encoder) Encode(ev model.Event) (model.CalendarFile, error) {
	if strings.TrimSpace(ev.Title) == "" {
		return model.CalendarFile{}, apperr.InvalidEvent("title", "title is required")
	}
	if ev.Start.IsZero() {
		return model.CalendarFile{}, apperr.InvalidEvent("start", "start date-time is required")
	}
	if ev.Duration < 0 {
		return model.CalendarFile{}, apperr.InvalidEvent("duration", "duration must not be negative, got %s", ev.Duration)
	}
	if err := ev.Recurrence.Validate(); err != nil {
		return model.CalendarFile{}, apperr.InvalidEvent("recurrence", "%v", err)
	}

	start := ev.Start.UTC().Truncate(time.Minute)
	ev.Start = start

	var b bytes.Buffer
	line := func(name, value string) {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(value)
		b.WriteString(crlf)
	}

	line("BEGIN", "VCALENDAR")
	line("VERSION", "2.0")
	line("PRODID", e.productID)
	line("CALSCALE", "GREGORIAN")
	line("BEGIN", "VEVENT")
	line("UID", e.newUID()+"@"+e.uidDomain)
	line("DTSTAMP", e.now().UTC().Format(utcLayout))
	line("DTSTART", start.Format(utcLayout))
	line("DTEND", ev.End().UTC().Format(utcLayout))
	line("SUMMARY", EscapeText(ev.Title))
	if ev.Description != "" {
		line("DESCRIPTION", EscapeText(ev.Description))
	}
	if ev.Location != "" {
		line("LOCATION", EscapeText(ev.Location))
	}
	if rule, ok := RRule(ev.Recurrence); ok {
		line("RRULE", rule)
	}
	line("END", "VEVENT")
	line("END", "VCALENDAR")

	return model.CalendarFile{
		Bytes:       b.Bytes(),
		Filename:    Filename(ev.Title),
		ContentType: ContentType,
	}, nil
}

// RRule returns the RRULE value for r ("FREQ=MONTHLY;INTERVAL=3"). It reports
// false for single occurrences. The rule repeats indefinitely.
func RRule(r recurrence.Rule) (string, bool) {
	freq, ok := frequency[r.Unit]
	if !ok || r.Interval < 1 {
		return "", false
	}
	opt := rrule.ROption{Freq: freq, Interval: r.Interval}
	return opt.RRuleString(), true
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// EscapeText escapes a TEXT property value: backslash, semicolon, comma and
// line breaks. CR and CRLF are folded to LF first since ical.ToText only
// escapes LF.
func EscapeText(s string) string {
	return ical.ToText(lineBreaks.Replace(s))
}

var (
	whitespaceRun   = regexp.MustCompile(`\s+`)
	filenameIllegal = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

const fallbackFilename = "reminder"

// Filename derives a download filename from an event title: whitespace runs
// become one underscore, characters outside [A-Za-z0-9_-] are dropped and
// ".ics" is appended.
func Filename(title string) string {
	name := whitespaceRun.ReplaceAllString(strings.TrimSpace(title), "_")
	name = filenameIllegal.ReplaceAllString(name, "")
	if name == "" {
		name = fallbackFilename
	}
	return name + ".ics"
}
