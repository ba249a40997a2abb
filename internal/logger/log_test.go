package logger

import (
	"bytes"
	"strings"
	"testing"

	"wevt_dumper/internal/config"

	"github.com/phuslu/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"trace", log.TraceLevel},
		{"debug", log.DebugLevel},
		{"info", log.InfoLevel},
		{"warn", log.WarnLevel},
		{"warning", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"fatal", log.FatalLevel},
		{"verbose", log.InfoLevel},
		{"", log.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGlogFormatter(t *testing.T) {
	var buf bytes.Buffer
	_, err := GlogFormatter{}.Formatter(&buf, &log.FormatterArgs{
		Time:    "0102 15:04:05.000000",
		Level:   "warn",
		Goid:    "7",
		Caller:  "query.go:42",
		Message: "Leaked event log handle",
	})
	if err != nil {
		t.Fatal(err)
	}
	const want = "W0102 15:04:05.000000 7 query.go:42] Leaked event log handle\n"
	if buf.String() != want {
		t.Errorf("Formatter() = %q, want %q", buf.String(), want)
	}
}

func TestCreateWriterErrors(t *testing.T) {
	tests := []struct {
		name   string
		output config.LogOutput
	}{
		{"console without settings", config.LogOutput{Type: "console", Enabled: true}},
		{"file without settings", config.LogOutput{Type: "file", Enabled: true}},
		{"syslog without settings", config.LogOutput{Type: "syslog", Enabled: true}},
		{"eventlog without settings", config.LogOutput{Type: "eventlog", Enabled: true}},
		{"unknown type", config.LogOutput{Type: "journald", Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := createWriter(tt.output); err == nil {
				t.Error("createWriter() succeeded, want an error")
			}
		})
	}

	w, err := createWriter(config.LogOutput{Type: "unknown", Enabled: false})
	if w != nil || err != nil {
		t.Errorf("disabled output = %v, %v; want nil, nil", w, err)
	}
}

func TestNewLoggerWithContext(t *testing.T) {
	saved := log.DefaultLogger
	defer func() { log.DefaultLogger = saved }()

	var buf bytes.Buffer
	log.DefaultLogger = log.Logger{Level: log.DebugLevel, Writer: &log.IOWriter{Writer: &buf}}

	l := NewLoggerWithContext("wevt")
	l.Debug().Str("site", "render_xml").Msg("Buffer grown")

	out := buf.String()
	for _, want := range []string{`"component":"wevt"`, `"site":"render_xml"`, `"message":"Buffer grown"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %s", out, want)
		}
	}
}

func TestConfigureLoggingDefaults(t *testing.T) {
	saved := log.DefaultLogger
	defer func() { log.DefaultLogger = saved }()

	cfg := config.DefaultConfig().Logging
	cfg.Defaults.Level = "debug"
	if err := ConfigureLogging(cfg); err != nil {
		t.Fatal(err)
	}
	if log.DefaultLogger.Level != log.DebugLevel {
		t.Errorf("Level = %v, want debug", log.DefaultLogger.Level)
	}
	if _, ok := log.DefaultLogger.Writer.(*log.ConsoleWriter); !ok {
		t.Errorf("Writer = %T, want the single console writer", log.DefaultLogger.Writer)
	}
}

func TestComponentLevelOverride(t *testing.T) {
	saved := log.DefaultLogger
	defer func() { log.DefaultLogger = saved; componentLevels = nil }()

	cfg := config.DefaultConfig().Logging
	cfg.Defaults.Level = "warn"
	cfg.Components = map[string]string{"wevt": "debug"}
	if err := ConfigureLogging(cfg); err != nil {
		t.Fatal(err)
	}
	if l := NewLoggerWithContext("wevt"); l.Level != log.DebugLevel {
		t.Errorf("wevt level = %v, want debug", l.Level)
	}
	if l := NewLoggerWithContext("dump"); l.Level != log.WarnLevel {
		t.Errorf("dump level = %v, want the default warn", l.Level)
	}
}
