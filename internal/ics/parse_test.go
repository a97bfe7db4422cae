package ics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pawcal/internal/apperr"
	"pawcal/internal/model"
	"pawcal/internal/recurrence"
)

func TestParseICSRoundTrip(t *testing.T) {
	orig := model.Event{
		Title:       "Walk, feed; done\nrepeat",
		Description: "Leash by the door",
		Location:    "Park",
		Start:       at(2024, time.March, 10, 9, 0),
		Duration:    45 * time.Minute,
		Recurrence:  recurrence.MustNew(recurrence.Weeks, 2),
	}
	file, err := fixedEncoder().Encode(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	events, skipped, err := ParseICS(file.Bytes)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(skipped) != 0 || len(events) != 1 {
		t.Fatalf("got %d events, %d skipped", len(events), len(skipped))
	}
	if events[0].UID != "fixed@pawfectplanner.com" {
		t.Fatalf("uid = %q", events[0].UID)
	}

	got, err := events[0].ToEvent()
	if err != nil {
		t.Fatalf("to event: %v", err)
	}
	if got.Title != orig.Title || got.Description != orig.Description || got.Location != orig.Location {
		t.Fatalf("text fields differ: %+v", got)
	}
	if !got.Start.Equal(orig.Start) || got.Duration != orig.Duration {
		t.Fatalf("timing differs: start %s duration %s", got.Start, got.Duration)
	}
	if got.Recurrence != orig.Recurrence {
		t.Fatalf("recurrence = %s, want %s", got.Recurrence, orig.Recurrence)
	}
}

func TestParseICSKeepsBackslashes(t *testing.T) {
	texts := []string{
		`C:\path, x`,
		`a\nb`,
		`back\\slash`,
		"trailing \\",
	}
	for _, text := range texts {
		file, err := fixedEncoder().Encode(model.Event{
			Title:       text,
			Description: text,
			Location:    text,
			Start:       at(2024, time.March, 10, 9, 0),
		})
		if err != nil {
			t.Fatalf("encode %q: %v", text, err)
		}
		events, _, err := ParseICS(file.Bytes)
		if err != nil || len(events) != 1 {
			t.Fatalf("parse %q: %d events, err %v", text, len(events), err)
		}
		ev := events[0]
		if ev.Summary != text || ev.Description != text || ev.Location != text {
			t.Fatalf("in=%q got summary=%q description=%q location=%q", text, ev.Summary, ev.Description, ev.Location)
		}
	}
}

func TestParseICSSkipsEventsWithoutStart(t *testing.T) {
	doc := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//x//EN",
		"BEGIN:VEVENT",
		"UID:no-start",
		"SUMMARY:Broken",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ok",
		"DTSTART:20240102T080000Z",
		"SUMMARY:Fine",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	events, skipped, err := ParseICS([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 || events[0].UID != "ok" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if len(skipped) != 1 || skipped[0].UID != "no-start" || !errors.Is(skipped[0].Reason, apperr.ErrInvalidAnchor) {
		t.Fatalf("unexpected skipped: %+v", skipped)
	}
	if err := JoinSkipped(skipped); err == nil || !strings.Contains(err.Error(), "no-start") {
		t.Fatalf("JoinSkipped = %v", err)
	}
	if JoinSkipped(nil) != nil {
		t.Fatalf("JoinSkipped(nil) should be nil")
	}
}

func TestParseICSAllDay(t *testing.T) {
	doc := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//x//EN\r\nBEGIN:VEVENT\r\nUID:a\r\nDTSTART;VALUE=DATE:20240305\r\nSUMMARY:Birthday\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	events, _, err := ParseICS([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 || !events[0].AllDay {
		t.Fatalf("expected one all-day event, got %+v", events)
	}
}

func TestParseICSRejectsEmptyBody(t *testing.T) {
	if _, _, err := ParseICS([]byte("  \r\n")); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}

func TestRuleFromRRule(t *testing.T) {
	tests := []struct {
		in   string
		want recurrence.Rule
	}{
		{"", recurrence.Once()},
		{"FREQ=DAILY;INTERVAL=3", recurrence.MustNew(recurrence.Days, 3)},
		{"RRULE:FREQ=MONTHLY;INTERVAL=2", recurrence.MustNew(recurrence.Months, 2)},
		{"FREQ=WEEKLY", recurrence.MustNew(recurrence.Weeks, 1)},
		{"FREQ=YEARLY;INTERVAL=1", recurrence.MustNew(recurrence.Years, 1)},
		{"FREQ=HOURLY;INTERVAL=8", recurrence.MustNew(recurrence.Hours, 8)},
	}
	for _, tt := range tests {
		got, err := RuleFromRRule(tt.in)
		if err != nil {
			t.Fatalf("RuleFromRRule(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("RuleFromRRule(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRuleFromRRuleUnsupported(t *testing.T) {
	for _, in := range []string{
		"FREQ=DAILY;COUNT=5",
		"FREQ=WEEKLY;BYDAY=MO,WE",
		"FREQ=MONTHLY;UNTIL=20250101T000000Z",
		"FREQ=MINUTELY;INTERVAL=15",
		"FREQ=SOMETIMES",
	} {
		if _, err := RuleFromRRule(in); !errors.Is(err, apperr.ErrInvalidRecurrence) {
			t.Fatalf("RuleFromRRule(%q) = %v, want InvalidRecurrence", in, err)
		}
	}
}

func TestParsedEventWithoutSummary(t *testing.T) {
	p := ParsedEvent{UID: "x", Start: at(2024, time.March, 1, 0, 0)}
	if _, err := p.ToEvent(); !errors.Is(err, apperr.ErrInvalidEvent) {
		t.Fatalf("got %v, want InvalidEvent", err)
	}
}
