package reminder

import (
	"context"

	"pawcal/internal/apperr"
	"pawcal/internal/ics"
	appLog "pawcal/internal/log"
	"pawcal/internal/model"
)

// ImportResult reports what an import stored and what it left out.
type ImportResult struct {
	Imported []model.Reminder
	Skipped  []ics.SkippedEvent
}

// Import stores every VEVENT of body whose recurrence is expressible as a
// repetition. Events with COUNT, UNTIL, BY* parts, sub-hourly frequencies or
// no start are skipped, not fatal. Imported events keep their UTC start.
func (s *Service) Import(ctx context.Context, body []byte) (ImportResult, error) {
	parsed, skipped, err := ics.ParseICS(body)
	if err != nil {
		return ImportResult{}, err
	}

	res := ImportResult{Imported: make([]model.Reminder, 0, len(parsed)), Skipped: skipped}
	for _, p := range parsed {
		ev, err := p.ToEvent()
		if err != nil {
			res.Skipped = append(res.Skipped, ics.SkippedEvent{UID: p.UID, Reason: err})
			continue
		}
		r := model.Reminder{
			Title:      ev.Title,
			DueDate:    ev.Start.UTC(),
			Repetition: ev.Recurrence,
			Location:   ev.Location,
			Notes:      ev.Description,
		}
		if err := s.store.Create(ctx, &r); err != nil {
			return res, err
		}
		s.metrics.RecordReminderCreated()
		res.Imported = append(res.Imported, r)
	}

	s.metrics.RecordImport(len(res.Imported), len(res.Skipped))
	if len(res.Skipped) > 0 {
		appLog.Warn("calendar import skipped events", "skipped", len(res.Skipped), "reasons", ics.JoinSkipped(res.Skipped).Error())
	}
	appLog.Info("calendar imported", "imported", len(res.Imported), "skipped", len(res.Skipped))
	return res, nil
}

// ImportURL fetches a remote calendar and imports it.
func (s *Service) ImportURL(ctx context.Context, rawURL string) (ImportResult, error) {
	if s.fetcher == nil {
		return ImportResult{}, apperr.Validation("url", "importing from a URL is not enabled")
	}
	fr, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return ImportResult{}, err
	}
	return s.Import(ctx, fr.Body)
}
