package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli"

	"pawcal/internal/apperr"
	"pawcal/internal/ics"
	appLog "pawcal/internal/log"
	"pawcal/internal/recurrence"
)

func daysToDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

func export(c *cli.Context) error {
	id := c.Uint("id")
	if id == 0 {
		return cli.NewExitError("--id is required", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	a, err := wire(cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	file, err := a.svc.ExportByID(context.Background(), id)
	if err != nil {
		return err
	}

	out := c.String("out")
	if out == "" {
		out = file.Filename
	}
	if out == "-" {
		_, err := os.Stdout.Write(file.Bytes)
		return err
	}
	if err := os.WriteFile(out, file.Bytes, 0o644); err != nil {
		return err
	}
	appLog.Info("calendar written", "id", id, "path", out, "bytes", len(file.Bytes))
	return nil
}

func occurrences(c *cli.Context) error {
	err := printOccurrences(os.Stdout, c.String("anchor"), c.String("repetition"), c.Int("count"))
	if errors.Is(err, apperr.ErrInvalidAnchor) || errors.Is(err, apperr.ErrInvalidRecurrence) || errors.Is(err, apperr.ErrValidation) {
		return cli.NewExitError(err.Error(), 2)
	}
	return err
}

// anchorLayouts are accepted by --anchor, tried in order. Zone-less forms
// are UTC.
var anchorLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func parseAnchor(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperr.Validation("anchor", "--anchor is required")
	}
	for _, layout := range anchorLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.InvalidAnchor("anchor", "expected YYYY-MM-DDTHH:MM or RFC 3339, got %q", raw)
}

// printOccurrences writes the first count occurrences, one RFC 3339 UTC
// instant per line. A single occurrence prints once regardless of count.
func printOccurrences(w io.Writer, anchorText, repetition string, count int) error {
	anchor, err := parseAnchor(anchorText)
	if err != nil {
		return err
	}
	rule, err := recurrence.Parse(repetition)
	if err != nil {
		return err
	}
	if count < 1 {
		return apperr.Validation("count", "must be at least 1, got %d", count)
	}
	if rule.IsOnce() {
		count = 1
	}

	for k := 0; k < count; k++ {
		t, err := ics.NextOccurrence(anchor, rule, k)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, t.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return nil
}
