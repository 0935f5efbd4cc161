package log

import (
	"bytes"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  LogLevel
	}{
		{name: "debug lower", input: "debug", want: LevelDebug},
		{name: "info upper", input: "INFO", want: LevelInfo},
		{name: "warn mixed", input: "WaRn", want: LevelWarn},
		{name: "warning alias", input: "Warning", want: LevelWarn},
		{name: "error", input: "error", want: LevelError},
		{name: "fatal", input: "fatal", want: LevelFatal},
		{name: "trim spaces", input: "  debug  ", want: LevelDebug},
		{name: "unknown fallback", input: "verbose", want: LevelInfo},
		{name: "empty fallback", input: "", want: LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Fatalf("ParseLevel(%q)=%v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelWarn, "WARN"},
		{LevelFatal, "FATAL"},
		{LogLevel(42), "LEVEL(42)"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Fatalf("LogLevel(%d).String()=%q, want %q", int(tt.level), got, tt.want)
		}
	}
}

func TestParseLevel_RoundTripsString(t *testing.T) {
	for _, level := range []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal} {
		if got := ParseLevel(level.String()); got != level {
			t.Fatalf("ParseLevel(%q)=%v, want %v", level.String(), got, level)
		}
	}
}

func TestWriterLogger_ParsedLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, ParseLevel("warning"))

	l.Info("unit %d translated", 3)
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}

	l.Warn("endpoint %s failed", "http://a")
	if !bytes.Contains(buf.Bytes(), []byte("[WARN]")) || !bytes.Contains(buf.Bytes(), []byte("endpoint http://a failed")) {
		t.Fatalf("warn entry missing: %q", buf.String())
	}
}
