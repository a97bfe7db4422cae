// Package reminder validates and stores pet-care reminders and turns them
// into calendar files and occurrence listings.
package reminder

import (
	"context"
	"iter"
	"strconv"
	"strings"
	"time"

	"pawcal/internal/apperr"
	"pawcal/internal/ics"
	appLog "pawcal/internal/log"
	"pawcal/internal/metrics"
	"pawcal/internal/model"
	"pawcal/internal/recurrence"
)

// Store is the persistence the service needs. *storage.Store satisfies it.
type Store interface {
	Create(ctx context.Context, r *model.Reminder) error
	Get(ctx context.Context, id uint) (model.Reminder, error)
	List(ctx context.Context) ([]model.Reminder, error)
	Delete(ctx context.Context, id uint) error
}

// Fetcher downloads a remote calendar. *ics.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (ics.FetchResult, error)
}

// Options tune a Service. Zero values pick the defaults noted per field.
type Options struct {
	// Location reads submitted dates and times. Default UTC.
	Location *time.Location
	// DefaultDuration is the event length of exports. Default 30m.
	DefaultDuration time.Duration
	// Horizon is the default look-ahead of Occurrences. Default 30 days.
	Horizon time.Duration

	Now     func() time.Time
	Metrics metrics.Recorder
	// Fetcher enables ImportURL.
	Fetcher Fetcher
}

// Service is the reminder facade. It is safe for concurrent use.
type Service struct {
	store   Store
	enc     *ics.Encoder
	loc     *time.Location
	dur     time.Duration
	horizon time.Duration
	now     func() time.Time
	metrics metrics.Recorder
	fetcher Fetcher
}

// New builds a Service on top of store and enc.
func New(store Store, enc *ics.Encoder, opts Options) *Service {
	s := &Service{
		store:   store,
		enc:     enc,
		loc:     opts.Location,
		dur:     opts.DefaultDuration,
		horizon: opts.Horizon,
		now:     opts.Now,
		metrics: opts.Metrics,
		fetcher: opts.Fetcher,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.dur <= 0 {
		s.dur = model.DefaultEventDuration
	}
	if s.horizon <= 0 {
		s.horizon = 30 * 24 * time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	return s
}

// CreateInput carries the submitted fields of a new reminder.
type CreateInput struct {
	Title      string `json:"title"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Repetition string `json:"repetition"`
	Location   string `json:"location"`
	Notes      string `json:"notes"`
	PetID      *uint  `json:"pet_id,omitempty"`
}

// Create validates in and stores it. Missing fields fail with
// ValidationError; a malformed date or time with InvalidAnchor; a malformed
// repetition with InvalidRecurrence.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.Reminder, error) {
	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		return model.Reminder{}, apperr.Validation("title", "title is required")
	case strings.TrimSpace(in.Date) == "":
		return model.Reminder{}, apperr.Validation("date", "date is required (YYYY-MM-DD)")
	case strings.TrimSpace(in.Time) == "":
		return model.Reminder{}, apperr.Validation("time", "time is required (HH:MM)")
	}

	due, err := s.combine(in.Date, in.Time)
	if err != nil {
		return model.Reminder{}, err
	}
	rule, err := recurrence.Parse(in.Repetition)
	if err != nil {
		return model.Reminder{}, err
	}

	r := model.Reminder{
		Title:      title,
		DueDate:    due,
		Repetition: rule,
		Location:   strings.TrimSpace(in.Location),
		Notes:      in.Notes,
		PetID:      in.PetID,
	}
	if err := s.store.Create(ctx, &r); err != nil {
		return model.Reminder{}, err
	}
	s.metrics.RecordReminderCreated()
	appLog.Debug("reminder created", "id", r.ID, "repetition", r.Repetition.String())

	// Reload so the pet name is attached.
	return s.store.Get(ctx, r.ID)
}

// combine reads date (YYYY-MM-DD) and clock (HH:MM) in the input location
// and returns the instant in UTC.
func (s *Service) combine(date, clock string) (time.Time, error) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	d, err := time.ParseInLocation(model.DateLayout, date, s.loc)
	if err != nil {
		return time.Time{}, apperr.InvalidAnchor("date", "expected YYYY-MM-DD, got %q", date)
	}
	c, err := time.Parse(model.TimeLayout, clock)
	if err != nil {
		return time.Time{}, apperr.InvalidAnchor("time", "expected HH:MM, got %q", clock)
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, c.Hour(), c.Minute(), 0, 0, s.loc).UTC(), nil
}

// Get loads one reminder.
func (s *Service) Get(ctx context.Context, id uint) (model.Reminder, error) {
	return s.store.Get(ctx, id)
}

// Entry is a listed reminder with its next due instant.
type Entry struct {
	model.Reminder
	// NextDue is zero when the series has no occurrence at or after now.
	NextDue time.Time
}

// List returns every reminder ordered by due date.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	rs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Entry, 0, len(rs))
	for _, r := range rs {
		next, _ := NextDue(r, now)
		out = append(out, Entry{Reminder: r, NextDue: next})
	}
	return out, nil
}

// Delete removes a reminder. Absent IDs fail with NotFound.
func (s *Service) Delete(ctx context.Context, id uint) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.metrics.RecordReminderDeleted()
	appLog.Debug("reminder deleted", "id", id)
	return nil
}

// EventFor maps a stored reminder onto the event exported for it.
func (s *Service) EventFor(r model.Reminder) model.Event {
	return model.Event{
		Title:       r.DisplayTitle(),
		Description: r.Notes,
		Location:    r.Location,
		Start:       r.DueDate,
		Duration:    s.dur,
		Recurrence:  r.Repetition,
	}
}

// ExportByID renders the calendar file of a stored reminder.
func (s *Service) ExportByID(ctx context.Context, id uint) (model.CalendarFile, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		s.metrics.RecordExportFailure(string(apperr.KindOf(err)))
		return model.CalendarFile{}, err
	}
	return s.encode(s.EventFor(r), metrics.SourceStored)
}

// ExportParams are the raw parameters of an ad-hoc export.
type ExportParams struct {
	Title       string
	Description string
	// Date is YYYY-MM-DD, optionally followed by "THH:MM" or " HH:MM".
	Date string
	// Time is HH:MM and overrides a time carried in Date. Default midnight.
	Time       string
	Repetition string
	Location   string
	// Duration is a Go duration ("45m") or whole minutes ("45").
	Duration string
}

// ExportAdHoc renders a calendar file straight from request parameters
// without storing anything.
func (s *Service) ExportAdHoc(ctx context.Context, p ExportParams) (model.CalendarFile, error) {
	ev, err := s.eventFromParams(p)
	if err != nil {
		s.metrics.RecordExportFailure(string(apperr.KindOf(err)))
		return model.CalendarFile{}, err
	}
	return s.encode(ev, metrics.SourceAdHoc)
}

func (s *Service) eventFromParams(p ExportParams) (model.Event, error) {
	date := strings.TrimSpace(p.Date)
	if date == "" {
		return model.Event{}, apperr.Validation("date", "date is required (YYYY-MM-DD)")
	}

	clock := "00:00"
	if i := strings.IndexAny(date, "T "); i >= 0 {
		date, clock = date[:i], date[i+1:]
	}
	if t := strings.TrimSpace(p.Time); t != "" {
		clock = t
	}
	start, err := s.combine(date, clock)
	if err != nil {
		return model.Event{}, err
	}

	rule, err := recurrence.Parse(p.Repetition)
	if err != nil {
		return model.Event{}, err
	}

	dur := s.dur
	if raw := strings.TrimSpace(p.Duration); raw != "" {
		if dur, err = parseDuration(raw); err != nil {
			return model.Event{}, err
		}
	}

	return model.Event{
		Title:       p.Title,
		Description: p.Description,
		Location:    p.Location,
		Start:       start,
		Duration:    dur,
		Recurrence:  rule,
	}, nil
}

func parseDuration(raw string) (time.Duration, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return 0, apperr.Validation("duration", "duration must be positive, got %q", raw)
		}
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, apperr.Validation("duration", "expected minutes or a duration like 45m, got %q", raw)
	}
	return d, nil
}

func (s *Service) encode(ev model.Event, source string) (model.CalendarFile, error) {
	file, err := s.enc.Encode(ev)
	if err != nil {
		s.metrics.RecordExportFailure(string(apperr.KindOf(err)))
		return model.CalendarFile{}, err
	}
	s.metrics.RecordExport(source)
	return file, nil
}

// Occurrences lists a stored reminder's occurrences in [from, to]. Zero
// bounds default to now and now plus the horizon.
func (s *Service) Occurrences(ctx context.Context, id uint, from, to time.Time) ([]model.Occurrence, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from, to = s.Window(from, to)

	starts, err := ics.Window(r.DueDate, r.Repetition, from, to)
	if err != nil {
		return nil, err
	}
	title := r.DisplayTitle()
	out := make([]model.Occurrence, 0, len(starts))
	for _, st := range starts {
		out = append(out, model.Occurrence{
			ReminderID: r.ID,
			Title:      title,
			Start:      st.UTC(),
			End:        st.Add(s.dur).UTC(),
		})
	}
	return out, nil
}

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// Window fills zero bounds: from defaults to now and to to from plus the
// configured horizon.
func (s *Service) Window(from, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = s.Now()
	}
	if to.IsZero() {
		to = from.Add(s.horizon)
	}
	return from, to
}

// latest is the end of the representable calendar.
var latest = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// NextDue returns the first occurrence of r at or after now. A single
// occurrence always returns its due date. It reports false when a repeating
// series has nothing left.
func NextDue(r model.Reminder, now time.Time) (time.Time, bool) {
	if r.Repetition.IsOnce() || !now.After(r.DueDate) {
		return r.DueDate, !r.DueDate.IsZero()
	}
	seq, err := ics.Occurrences(r.DueDate, r.Repetition, now, latest)
	if err != nil {
		return time.Time{}, false
	}
	next, stop := iter.Pull(seq)
	defer stop()
	return next()
}
