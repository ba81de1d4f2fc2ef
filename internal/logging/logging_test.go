package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "ephem")).Warn(context.Background(), "kernel skipped",
		String("file", "de440s.bsp"), Int("attempt", 2), Err(errors.New("bad record")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	for key, want := range map[string]any{
		"msg":       "kernel skipped",
		"level":     "WARN",
		"component": "ephem",
		"file":      "de440s.bsp",
		"attempt":   float64(2),
		"error":     "bad record",
	} {
		if entry[key] != want {
			t.Fatalf("entry[%q] = %v, want %v", key, entry[key], want)
		}
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %s", buf.String())
	}
}

func TestRequestLoggerRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-42")
	ctx, id := EnsureRequestID(ctx)
	if id != "req-42" {
		t.Fatalf("EnsureRequestID = %q, want existing id", id)
	}

	if got := FromContext(ctx, nil); got == nil {
		t.Fatalf("FromContext returned nil without a stored logger")
	}
	var buf bytes.Buffer
	stored := New(Config{Format: "json", Output: &buf})
	ctx = ContextWithLogger(ctx, stored)
	FromContext(ctx, Noop()).Info(ctx, "hello")
	if buf.Len() == 0 {
		t.Fatalf("stored logger was not used")
	}
}
