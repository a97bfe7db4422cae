package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"pawcal/internal/apperr"
	"pawcal/internal/model"
	"pawcal/internal/recurrence"
)

// ParsedEvent is a VEVENT read back from a calendar document.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
}

// SkippedEvent records a VEVENT that could not be read.
type SkippedEvent struct {
	UID    string
	Reason error
}

// ParseICS reads every VEVENT of a calendar document. Events missing a start
// are reported in the skipped list instead of failing the whole document.
func ParseICS(body []byte) ([]ParsedEvent, []SkippedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil, apperr.Validation("body", "calendar document is empty")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, nil, apperr.Validation("body", "calendar document is malformed: %v", err)
	}

	events := make([]ParsedEvent, 0)
	var skipped []SkippedEvent
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve)
		if perr != nil {
			skipped = append(skipped, SkippedEvent{UID: ev.UID, Reason: perr})
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	// TEXT values arrive already unescaped.
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, apperr.InvalidAnchor("DTSTART", "event has no start")
	}
	start, err := ve.GetStartAt()
	if err != nil {
		return out, apperr.InvalidAnchor("DTSTART", "unreadable start %q: %v", dtStart.Value, err)
	}
	out.Start = start.UTC()

	// VALUE=DATE or a bare YYYYMMDD means all-day.
	if vs, ok := dtStart.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		out.AllDay = true
	}
	if !strings.Contains(dtStart.Value, "T") {
		out.AllDay = true
	}

	if end, err := ve.GetEndAt(); err == nil {
		out.End = end.UTC()
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	return out, nil
}

// RuleFromRRule maps an RRULE value back onto a recurrence rule. Only
// FREQ (HOURLY..YEARLY) and INTERVAL are representable; anything else fails
// with InvalidRecurrence.
func RuleFromRRule(raw string) (recurrence.Rule, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:"))
	if raw == "" {
		return recurrence.Once(), nil
	}

	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return recurrence.Rule{}, apperr.InvalidRecurrence("RRULE", "unreadable rule %q: %v", raw, err)
	}
	if opt.Count != 0 || !opt.Until.IsZero() || hasByParts(opt) {
		return recurrence.Rule{}, apperr.InvalidRecurrence("RRULE", "rule %q uses parts beyond FREQ and INTERVAL", raw)
	}

	var unit recurrence.Unit
	switch opt.Freq {
	case rrule.HOURLY:
		unit = recurrence.Hours
	case rrule.DAILY:
		unit = recurrence.Days
	case rrule.WEEKLY:
		unit = recurrence.Weeks
	case rrule.MONTHLY:
		unit = recurrence.Months
	case rrule.YEARLY:
		unit = recurrence.Years
	default:
		return recurrence.Rule{}, apperr.InvalidRecurrence("RRULE", "frequency of %q is not supported", raw)
	}

	interval := opt.Interval
	if interval == 0 {
		interval = 1
	}
	return recurrence.New(unit, interval)
}

func hasByParts(o *rrule.ROption) bool {
	return len(o.Bysetpos) > 0 || len(o.Bymonth) > 0 || len(o.Bymonthday) > 0 ||
		len(o.Byyearday) > 0 || len(o.Byweekno) > 0 || len(o.Byweekday) > 0 ||
		len(o.Byhour) > 0 || len(o.Byminute) > 0 || len(o.Bysecond) > 0 || len(o.Byeaster) > 0
}

// ToEvent converts a parsed VEVENT into an Event.
func (p ParsedEvent) ToEvent() (model.Event, error) {
	rule, err := RuleFromRRule(p.RawRRule)
	if err != nil {
		return model.Event{}, err
	}
	ev := model.Event{
		Title:       p.Summary,
		Description: p.Description,
		Location:    p.Location,
		Start:       p.Start,
		Recurrence:  rule,
	}
	if !p.End.IsZero() && p.End.After(p.Start) {
		ev.Duration = p.End.Sub(p.Start)
	}
	if strings.TrimSpace(ev.Title) == "" {
		return model.Event{}, apperr.InvalidEvent("SUMMARY", "event %q has no summary", p.UID)
	}
	return ev, nil
}

// JoinSkipped folds skipped-event reasons into one error for logging.
func JoinSkipped(skipped []SkippedEvent) error {
	if len(skipped) == 0 {
		return nil
	}
	errs := make([]error, 0, len(skipped))
	for _, s := range skipped {
		errs = append(errs, fmt.Errorf("%s: %w", s.UID, s.Reason))
	}
	return errors.Join(errs...)
}
