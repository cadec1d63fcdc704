package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"notice", NOTICE},
		{"warning", WARN},
		{"Warn", WARN},
		{"error", ERROR},
		{"fatal", FATAL},
		{"chatty", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("warn", &buf)

	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)
	l.Error("also shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line leaked at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 2") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] also shown") {
		t.Errorf("missing error line: %q", out)
	}
}

func TestLoggerComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := New("debug", &buf).With("camera")
	l.Debugf("frame %d", 7)

	if !strings.Contains(buf.String(), "[DEBUG] [camera] frame 7") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	l.Infof("nothing %s", "here")
	if l.With("x") != nil {
		t.Error("With on nil logger should stay nil")
	}
	if l.Enabled(FATAL) {
		t.Error("nil logger should not be enabled")
	}
}
