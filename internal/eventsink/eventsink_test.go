package eventsink

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestLogSinkOrdersFieldsByKey(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(log.New(&buf, "", 0))

	sink.Emit("plugin.installed", map[string]any{
		"version":   "1.0.0",
		"plugin_id": "chat",
	})

	out := buf.String()
	pluginIdx := strings.Index(out, "plugin_id=")
	versionIdx := strings.Index(out, "version=")
	if pluginIdx == -1 || versionIdx == -1 {
		t.Fatalf("expected both fields in output, got %q", out)
	}
	if pluginIdx > versionIdx {
		t.Fatalf("expected plugin_id before version, got %q", out)
	}
}

func TestLogSinkWithoutFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(log.New(&buf, "", 0))
	sink.Emit("session.closed", nil)
	if strings.TrimSpace(buf.String()) != "session.closed" {
		t.Fatalf("expected bare event line, got %q", buf.String())
	}
}

func TestNewLogSinkNilFallsBack(t *testing.T) {
	sink := NewLogSink(nil)
	if sink.logger == nil {
		t.Fatal("expected a default logger to be installed")
	}
}
