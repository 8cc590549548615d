package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestConfigureReachesExistingLoggers(t *testing.T) {
	l := New("test")

	var buf bytes.Buffer
	Configure(&buf, log.DebugLevel)
	t.Cleanup(func() { Configure(&bytes.Buffer{}, log.InfoLevel) })

	l.Debug("hello", "key", "value")
	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "key=value") {
		t.Fatalf("debug line missing from output: %q", out)
	}
	if !strings.Contains(out, "test") {
		t.Errorf("prefix missing from output: %q", out)
	}

	buf.Reset()
	Configure(&buf, log.WarnLevel)
	l.Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}

func TestNewLoggerUsesCurrentSettings(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, log.DebugLevel)
	t.Cleanup(func() { Configure(&bytes.Buffer{}, log.InfoLevel) })

	New("late").Debug("created after configure")
	if !strings.Contains(buf.String(), "created after configure") {
		t.Fatalf("late logger did not follow configuration: %q", buf.String())
	}
}

func TestSetFormatter(t *testing.T) {
	l := New("fmt")
	var buf bytes.Buffer
	Configure(&buf, log.InfoLevel)
	SetFormatter(log.JSONFormatter)
	t.Cleanup(func() {
		SetFormatter(log.TextFormatter)
		Configure(&bytes.Buffer{}, log.InfoLevel)
	})

	l.Info("structured", "n", 1)
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
}
