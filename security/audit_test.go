package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestAuditorHashesUserID(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	auditor.LogAuthFailure("user-secret-id", "client-1", "invalid_client")

	out := buf.String()
	if strings.Contains(out, "user-secret-id") {
		t.Error("raw user ID must not appear in audit output")
	}
	if !strings.Contains(out, EventAuthFailure) {
		t.Errorf("expected event type in output, got %q", out)
	}
	if !strings.Contains(out, "client-1") {
		t.Error("expected client ID in output")
	}
}

func TestAuditorDisabledLogsNothing(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), false)

	auditor.LogTokenIssued("user-1", "client-1", "authorization_code")
	auditor.LogEvent(Event{Type: EventSessionEnded})

	if buf.Len() != 0 {
		t.Errorf("expected no output when disabled, got %q", buf.String())
	}
}

func TestHashForLogging(t *testing.T) {
	if hashForLogging("") != "<empty>" {
		t.Error("expected placeholder for empty value")
	}
	h1 := hashForLogging("user-1")
	h2 := hashForLogging("user-2")
	if h1 == h2 {
		t.Error("distinct values must hash differently")
	}
	if len(h1) != 16 {
		t.Errorf("expected 16-char hash, got %d", len(h1))
	}
}
