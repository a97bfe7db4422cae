package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pawcal/internal/config"
	"pawcal/internal/ics"
	"pawcal/internal/metrics"
	"pawcal/internal/reminder"
	"pawcal/internal/storage"
)

var serverNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	st, err := storage.Open("", dsn)
	if err != nil {
		t.Fatalf("open sqlite memory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	reg := prometheus.NewRegistry()
	rec := metrics.NewCollector(reg)
	enc := ics.NewEncoder(ics.WithClock(func() time.Time {
		return time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	}))
	svc := reminder.New(st, enc, reminder.Options{
		DefaultDuration: cfg.Calendar.DefaultDuration,
		Horizon:         time.Duration(cfg.HorizonDays) * 24 * time.Hour,
		Now:             func() time.Time { return serverNow },
		Metrics:         rec,
	})
	return NewServer(Deps{Config: cfg, Service: svc, Metrics: rec, Gatherer: reg})
}

func do(t *testing.T, s *Server, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func createReminder(t *testing.T, s *Server, body string) reminderResponse {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/reminders", body, "Content-Type", "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body)
	}
	return decode[reminderResponse](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body)
	}
}

func TestCreateGetList(t *testing.T) {
	s := newTestServer(t, nil)
	created := createReminder(t, s, `{"title":"Vet visit","date":"2024-03-10","time":"09:00","repetition":"3 months","location":"Clinic"}`)
	if created.ID == 0 || created.Date != "2024-03-10" || created.Time != "09:00" || created.Repetition != "3 months" {
		t.Fatalf("unexpected created reminder: %+v", created)
	}
	if created.NextDue == nil {
		t.Fatalf("repeating reminder should report next_due")
	}

	rec := do(t, s, http.MethodGet, fmt.Sprintf("/api/reminders/%d", created.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rec.Code, rec.Body)
	}
	if got := decode[reminderResponse](t, rec); got.Title != "Vet visit" || got.Location != "Clinic" {
		t.Fatalf("unexpected get: %+v", got)
	}

	createReminder(t, s, `{"title":"Walk","date":"2024-01-01","time":"07:00"}`)
	rec = do(t, s, http.MethodGet, "/api/reminders", "")
	list := decode[[]reminderResponse](t, rec)
	if len(list) != 2 || list[0].Title != "Walk" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestCreateValidationErrors(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		body  string
		code  string
		field string
	}{
		{`{"date":"2024-03-10","time":"09:00"}`, "VALIDATION_ERROR", "title"},
		{`{"title":"x","time":"09:00"}`, "VALIDATION_ERROR", "date"},
		{`{"title":"x","date":"2024-13-10","time":"09:00"}`, "INVALID_ANCHOR", "date"},
		{`{"title":"x","date":"2024-03-10","time":"09:00","repetition":"two months"}`, "INVALID_RECURRENCE", ""},
		{`not json`, "VALIDATION_ERROR", "body"},
	}
	for _, tt := range tests {
		rec := do(t, s, http.MethodPost, "/api/reminders", tt.body, "Content-Type", "application/json")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d", tt.body, rec.Code)
		}
		got := decode[errorResponse](t, rec)
		if got.Code != tt.code || (tt.field != "" && got.Field != tt.field) {
			t.Fatalf("%s: got %+v, want %s/%s", tt.body, got, tt.code, tt.field)
		}
	}
}

func TestDelete(t *testing.T) {
	s := newTestServer(t, nil)
	created := createReminder(t, s, `{"title":"Walk","date":"2024-01-01","time":"07:00"}`)

	path := fmt.Sprintf("/api/reminders/%d", created.ID)
	rec := do(t, s, http.MethodDelete, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	if got := decode[map[string]string](t, rec); got["detail"] != "Reminder deleted successfully." {
		t.Fatalf("unexpected body: %v", got)
	}

	rec = do(t, s, http.MethodDelete, path, "")
	if rec.Code != http.StatusNotFound || decode[errorResponse](t, rec).Code != "NOT_FOUND" {
		t.Fatalf("second delete: %d %s", rec.Code, rec.Body)
	}

	if rec := do(t, s, http.MethodGet, "/api/reminders/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rec.Code)
	}
}

func TestDownloadByID(t *testing.T) {
	s := newTestServer(t, nil)
	created := createReminder(t, s, `{"title":"Bob's Vet Visit!!","date":"2024-03-10","time":"09:00","repetition":"1 years","notes":"Shots"}`)

	rec := do(t, s, http.MethodGet, fmt.Sprintf("/api/reminders/download/%d", created.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download: %d %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="Bobs_Vet_Visit.ics"` {
		t.Fatalf("content disposition = %q", cd)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "BEGIN:VCALENDAR\r\n") || !strings.Contains(body, "RRULE:FREQ=YEARLY;INTERVAL=1\r\n") {
		t.Fatalf("unexpected calendar:\n%s", body)
	}

	if rec := do(t, s, http.MethodGet, "/api/reminders/download/999", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing reminder: %d", rec.Code)
	}
}

func TestDownloadAdHoc(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/reminders/download?title=Flea+treatment&description=Walk%2C+feed&date=2024-03-10&frequency=1+months&location=Home", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download: %d %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"SUMMARY:Flea treatment\r\n",
		`DESCRIPTION:Walk\, feed` + "\r\n",
		"DTSTART:20240310T000000Z\r\n",
		"RRULE:FREQ=MONTHLY;INTERVAL=1\r\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}

	rec = do(t, s, http.MethodGet, "/api/reminders/download?title=x", "")
	if rec.Code != http.StatusBadRequest || decode[errorResponse](t, rec).Field != "date" {
		t.Fatalf("missing date: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, s, http.MethodGet, "/api/reminders/download?date=2024-03-10", "")
	if rec.Code != http.StatusBadRequest || decode[errorResponse](t, rec).Code != "INVALID_EVENT" {
		t.Fatalf("missing title: %d %s", rec.Code, rec.Body)
	}
}

func TestDownloadRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit.PerMinute = 1
		c.RateLimit.Burst = 2
	})
	target := "/api/reminders/download?title=x&date=2024-03-10"
	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodGet, target, ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := do(t, s, http.MethodGet, target, "")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After 60, got %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if s.limiter.size() != 1 {
		t.Fatalf("limiter entries = %d", s.limiter.size())
	}

	// Other endpoints are not throttled.
	if rec := do(t, s, http.MethodGet, "/api/reminders", ""); rec.Code != http.StatusOK {
		t.Fatalf("list throttled: %d", rec.Code)
	}
}

func TestOccurrencesEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	created := createReminder(t, s, `{"title":"Flea","date":"2024-01-31","time":"08:00","repetition":"1 months"}`)

	rec := do(t, s, http.MethodGet, fmt.Sprintf("/api/reminders/%d/occurrences?from=2024-02-01&to=2024-04-30", created.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("occurrences: %d %s", rec.Code, rec.Body)
	}
	got := decode[occurrencesResponse](t, rec)
	want := []string{"2024-02-29T08:00:00Z", "2024-03-31T08:00:00Z", "2024-04-30T08:00:00Z"}
	if len(got.Occurrences) != len(want) {
		t.Fatalf("got %+v", got.Occurrences)
	}
	for i, w := range want {
		if s := got.Occurrences[i].Start.Format(time.RFC3339); s != w {
			t.Fatalf("occurrence %d = %s, want %s", i, s, w)
		}
	}

	rec = do(t, s, http.MethodGet, fmt.Sprintf("/api/reminders/%d/occurrences?from=yesterday", created.ID), "")
	if rec.Code != http.StatusBadRequest || decode[errorResponse](t, rec).Field != "from" {
		t.Fatalf("bad from: %d %s", rec.Code, rec.Body)
	}
}

func TestResponsesFollowServiceClock(t *testing.T) {
	s := newTestServer(t, nil)
	created := createReminder(t, s, `{"title":"Flea","date":"2024-01-31","time":"08:00","repetition":"1 months"}`)
	want := time.Date(2024, time.March, 31, 8, 0, 0, 0, time.UTC)
	if created.NextDue == nil || !created.NextDue.Equal(want) {
		t.Fatalf("create next_due = %v, want %s", created.NextDue, want)
	}

	rec := do(t, s, http.MethodGet, fmt.Sprintf("/api/reminders/%d", created.ID), "")
	if got := decode[reminderResponse](t, rec); got.NextDue == nil || !got.NextDue.Equal(want) {
		t.Fatalf("get next_due = %v, want %s", got.NextDue, want)
	}

	rec = do(t, s, http.MethodGet, fmt.Sprintf("/api/reminders/%d/occurrences", created.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("occurrences: %d %s", rec.Code, rec.Body)
	}
	got := decode[occurrencesResponse](t, rec)
	if !got.From.Equal(serverNow) || !got.To.Equal(serverNow.AddDate(0, 0, 30)) {
		t.Fatalf("default window = %s .. %s", got.From, got.To)
	}
	if len(got.Occurrences) != 1 || !got.Occurrences[0].Start.Equal(want) {
		t.Fatalf("unexpected occurrences: %+v", got.Occurrences)
	}
}

func TestImportEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	doc := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//x//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:a\r\nDTSTART:20240105T070000Z\r\nSUMMARY:Pill\r\nRRULE:FREQ=DAILY;INTERVAL=2\r\nEND:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nUID:b\r\nDTSTART:20240105T070000Z\r\nSUMMARY:Class\r\nRRULE:FREQ=DAILY;COUNT=3\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	rec := do(t, s, http.MethodPost, "/api/reminders/import", doc, "Content-Type", "text/calendar")
	if rec.Code != http.StatusOK {
		t.Fatalf("import: %d %s", rec.Code, rec.Body)
	}
	got := decode[importResponse](t, rec)
	if len(got.Imported) != 1 || got.Imported[0].Repetition != "2 days" {
		t.Fatalf("unexpected imported: %+v", got.Imported)
	}
	if len(got.Skipped) != 1 || got.Skipped[0].UID != "b" || got.Skipped[0].Reason == "" {
		t.Fatalf("unexpected skipped: %+v", got.Skipped)
	}

	rec = do(t, s, http.MethodPost, "/api/reminders/import", `{"url":"https://example.com/x.ics"}`, "Content-Type", "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("url import without fetcher: %d %s", rec.Code, rec.Body)
	}
}

func TestBasicAuth(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must stay open: %d", rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/api/reminders", "")
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/reminders", nil)
	req.SetBasicAuth("admin", "secret")
	ok := httptest.NewRecorder()
	s.Handler().ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Fatalf("authorized request: %d", ok.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	createReminder(t, s, `{"title":"Walk","date":"2024-01-01","time":"07:00"}`)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"pawcal_reminders_created_total 1", `pawcal_http_status_total{status_code="201"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestSecureCompare(t *testing.T) {
	if !secureCompare("abc", "abc") || secureCompare("abc", "abd") || secureCompare("abc", "ab") {
		t.Fatalf("secureCompare misbehaves")
	}
}
