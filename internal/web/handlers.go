package web

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pawcal/internal/apperr"
	"pawcal/internal/ics"
	"pawcal/internal/model"
	"pawcal/internal/reminder"
)

const maxBodyBytes = ics.MaxCalendarBytes

// reminderResponse is the JSON shape of a reminder.
type reminderResponse struct {
	ID           uint       `json:"id"`
	Title        string     `json:"title"`
	DisplayTitle string     `json:"display_title"`
	Date         string     `json:"date"`
	Time         string     `json:"time"`
	DueDate      time.Time  `json:"due_date"`
	Repetition   string     `json:"repetition"`
	Location     string     `json:"location"`
	Notes        string     `json:"notes"`
	PetID        *uint      `json:"pet_id,omitempty"`
	PetName      string     `json:"pet_name,omitempty"`
	NextDue      *time.Time `json:"next_due,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toResponse(r model.Reminder, next time.Time) reminderResponse {
	resp := reminderResponse{
		ID:           r.ID,
		Title:        r.Title,
		DisplayTitle: r.DisplayTitle(),
		Date:         r.Date(),
		Time:         r.Time(),
		DueDate:      r.DueDate.UTC(),
		Repetition:   r.Repetition.String(),
		Location:     r.Location,
		Notes:        r.Notes,
		PetID:        r.PetID,
		PetName:      r.PetName,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	if !next.IsZero() {
		n := next.UTC()
		resp.NextDue = &n
	}
	return resp
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]reminderResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResponse(e.Reminder, e.NextDue))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in reminder.CreateInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		writeError(w, r, apperr.Validation("body", "expected a JSON object: %v", err))
		return
	}

	rem, err := s.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	next, _ := reminder.NextDue(rem, s.svc.Now())
	writeJSON(w, http.StatusCreated, toResponse(rem, next))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rem, err := s.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	next, _ := reminder.NextDue(rem, s.svc.Now())
	writeJSON(w, http.StatusOK, toResponse(rem, next))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Reminder deleted successfully."})
}

func (s *Server) handleDownloadByID(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	file, err := s.svc.ExportByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCalendar(w, file)
}

// handleDownloadAdHoc renders a calendar from query parameters. The legacy
// "frequency" parameter is accepted when "repetition" is absent.
func (s *Server) handleDownloadAdHoc(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	repetition := q.Get("repetition")
	if repetition == "" {
		repetition = q.Get("frequency")
	}
	file, err := s.svc.ExportAdHoc(r.Context(), reminder.ExportParams{
		Title:       q.Get("title"),
		Description: q.Get("description"),
		Date:        q.Get("date"),
		Time:        q.Get("time"),
		Repetition:  repetition,
		Location:    q.Get("location"),
		Duration:    q.Get("duration"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCalendar(w, file)
}

func writeCalendar(w http.ResponseWriter, file model.CalendarFile) {
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Bytes)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Bytes)
}

type occurrencesResponse struct {
	ReminderID  uint               `json:"reminder_id"`
	From        time.Time          `json:"from"`
	To          time.Time          `json:"to"`
	Occurrences []model.Occurrence `json:"occurrences"`
}

func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, err := boundParam(r, "from", false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := boundParam(r, "to", true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, to = s.svc.Window(from, to)
	if to.Before(from) {
		writeError(w, r, apperr.Validation("to", "must not be before from"))
		return
	}

	occ, err := s.svc.Occurrences(r.Context(), id, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, occurrencesResponse{ReminderID: id, From: from, To: to, Occurrences: occ})
}

type importRequest struct {
	URL string `json:"url"`
}

type skippedResponse struct {
	UID    string `json:"uid"`
	Reason string `json:"reason"`
}

type importResponse struct {
	Imported []reminderResponse `json:"imported"`
	Skipped  []skippedResponse  `json:"skipped"`
}

// handleImport accepts either a calendar document as the body or a JSON
// object {"url": "..."} naming one to fetch.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, apperr.Validation("body", "unreadable body: %v", err))
		return
	}

	var res reminder.ImportResult
	if isJSON(r.Header.Get("Content-Type")) {
		var req importRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, apperr.Validation("body", "expected {\"url\": ...}: %v", err))
			return
		}
		res, err = s.svc.ImportURL(r.Context(), strings.TrimSpace(req.URL))
	} else {
		res, err = s.svc.Import(r.Context(), body)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := s.svc.Now()
	out := importResponse{
		Imported: make([]reminderResponse, 0, len(res.Imported)),
		Skipped:  make([]skippedResponse, 0, len(res.Skipped)),
	}
	for _, rem := range res.Imported {
		next, _ := reminder.NextDue(rem, now)
		out.Imported = append(out.Imported, toResponse(rem, next))
	}
	for _, sk := range res.Skipped {
		out.Skipped = append(out.Skipped, skippedResponse{UID: sk.UID, Reason: reasonText(sk.Reason)})
	}
	writeJSON(w, http.StatusOK, out)
}

func reasonText(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func idParam(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, apperr.Validation("id", "expected a positive integer, got %q", raw)
	}
	return uint(id), nil
}

// boundParam reads a window bound as YYYY-MM-DD or RFC 3339. A date-only
// upper bound covers the whole day.
func boundParam(r *http.Request, name string, upper bool) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(model.DateLayout, raw)
	if err != nil {
		return time.Time{}, apperr.Validation(name, "expected YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	if upper {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}
