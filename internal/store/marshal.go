package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/flowplan/internal/plan"
)

// marshalSummary converts a plan summary to JSON TEXT for storage.
// Uses json.Encoder with HTML escaping disabled so element ids such as
// "a<b" are stored as written.
func marshalSummary(s plan.Summary) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalSummary parses JSON TEXT to a plan summary.
func unmarshalSummary(data string) (plan.Summary, error) {
	var s plan.Summary
	if data == "" || data == "{}" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return plan.Summary{}, fmt.Errorf("unmarshal summary: %w", err)
	}
	return s, nil
}

// formatTime stores timestamps as RFC 3339 in UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse recorded_at: %w", err)
	}
	return t, nil
}
