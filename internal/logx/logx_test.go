package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithTargetAddsFields(t *testing.T) {
	capture := &logCapture{}
	log := WithTarget(newCaptureLogger(capture), schema.SessionProfile{Host: "example.com", Port: 22, Username: "root"})
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["host"] != "example.com" {
		t.Fatalf("expected host field, got %+v", entry)
	}
	if entry["remote_user"] != "root" {
		t.Fatalf("expected remote_user field, got %+v", entry)
	}
}

func TestWithTargetSkipsEmptyProfile(t *testing.T) {
	capture := &logCapture{}
	log := WithTarget(newCaptureLogger(capture), schema.SessionProfile{})
	log.Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["host"]; ok {
		t.Fatalf("did not expect host for empty profile")
	}
}

func TestWithTabProfileAddsFields(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	log := WithTabProfile(ctx, "tab1", "prof1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["tab"] != "tab1" {
		t.Fatalf("expected tab field, got %+v", entry)
	}
	if entry["profile"] != "prof1" {
		t.Fatalf("expected profile field, got %+v", entry)
	}
}

func TestContextWithTabLoggerDeduplicates(t *testing.T) {
	capture := &logCapture{}
	base := newCaptureLogger(capture).With("tab", "tab1")
	ctx := ContextWithTabLogger(context.Background(), base, "tab1")
	WithTab(ctx, "tab1").Info("hello")

	line := capture.buf.String()
	if bytes.Count([]byte(line), []byte(`"tab"`)) != 1 {
		t.Fatalf("expected a single tab field, got %s", line)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
