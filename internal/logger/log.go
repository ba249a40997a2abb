// Package logger configures phuslu/log from the application configuration
// and hands out component loggers.
package logger

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"wevt_dumper/internal/config"

	"github.com/phuslu/log"
)

// asyncChannelSize is the queue length of every async writer.
const asyncChannelSize = 4096

// componentLevels holds the per-component overrides of the last
// ConfigureLogging call.
var componentLevels map[string]log.Level

// ParseLevel converts string log level to log.Level
func ParseLevel(levelStr string) log.Level {
	switch levelStr {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	}
	return log.InfoLevel
}

func timeLocation(name string) *time.Location {
	switch name {
	case "UTC":
		return time.UTC
	case "", "Local":
		return time.Local
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.Local
}

func timeFormat(format string) string {
	switch format {
	case "Unix":
		return log.TimeFormatUnix
	case "UnixMs":
		return log.TimeFormatUnixMs
	}
	return format
}

// GlogFormatter implements a glog-style text format.
type GlogFormatter struct{}

// Formatter writes "Lmmdd hh:mm:ss.uuuuuu goid caller] message".
func (f GlogFormatter) Formatter(w io.Writer, a *log.FormatterArgs) (int, error) {
	var buf bytes.Buffer
	if len(a.Level) > 0 {
		buf.WriteByte(a.Level[0] - 32)
	} else {
		buf.WriteByte('?')
	}
	buf.WriteString(a.Time)
	buf.WriteByte(' ')
	buf.WriteString(a.Goid)
	buf.WriteByte(' ')
	buf.WriteString(a.Caller)
	buf.WriteString("] ")
	buf.WriteString(a.Message)
	buf.WriteByte('\n')
	return w.Write(buf.Bytes())
}

func maybeAsync(w log.Writer, async bool) log.Writer {
	if !async {
		return w
	}
	return &log.AsyncWriter{ChannelSize: asyncChannelSize, Writer: w}
}

func consoleWriter(c *config.ConsoleConfig) log.Writer {
	var out io.Writer = os.Stderr
	if c.Writer == "stdout" {
		out = os.Stdout
	}
	if c.FastIO {
		return maybeAsync(&log.IOWriter{Writer: out}, c.Async)
	}

	cw := &log.ConsoleWriter{
		ColorOutput:    c.ColorOutput,
		QuoteString:    c.QuoteString,
		EndWithMessage: true,
		Writer:         out,
	}
	switch c.Format {
	case "logfmt":
		cw.Formatter = log.LogfmtFormatter{TimeField: "time"}.Formatter
	case "glog":
		cw.Formatter = GlogFormatter{}.Formatter
	}
	return maybeAsync(cw, c.Async)
}

func fileWriter(c *config.FileConfig) (log.Writer, error) {
	if c.EnsureFolder {
		if err := os.MkdirAll(filepath.Dir(c.Filename), 0755); err != nil {
			return nil, err
		}
	}
	return maybeAsync(&log.FileWriter{
		Filename:     c.Filename,
		FileMode:     0644,
		MaxSize:      c.MaxSize << 20,
		MaxBackups:   c.MaxBackups,
		TimeFormat:   timeFormat(c.TimeFormat),
		LocalTime:    c.LocalTime,
		HostName:     c.HostName,
		ProcessID:    c.ProcessID,
		EnsureFolder: c.EnsureFolder,
	}, c.Async), nil
}

// createWriter returns the writer of one output, or nil when it is disabled.
func createWriter(output config.LogOutput) (log.Writer, error) {
	if !output.Enabled {
		return nil, nil
	}
	missing := func() error {
		return fmt.Errorf("%s output missing %s configuration", output.Type, output.Type)
	}

	switch output.Type {
	case "console":
		if output.Console == nil {
			return nil, missing()
		}
		return consoleWriter(output.Console), nil
	case "file":
		if output.File == nil {
			return nil, missing()
		}
		return fileWriter(output.File)
	case "syslog":
		c := output.Syslog
		if c == nil {
			return nil, missing()
		}
		return maybeAsync(&log.SyslogWriter{
			Network:  c.Network,
			Address:  c.Address,
			Hostname: c.Hostname,
			Tag:      c.Tag,
			Marker:   c.Marker,
		}, c.Async), nil
	case "eventlog":
		c := output.Eventlog
		if c == nil {
			return nil, missing()
		}
		return maybeAsync(&log.EventlogWriter{
			Source: c.Source,
			ID:     uintptr(c.ID),
			Host:   c.Host,
		}, c.Async), nil
	}
	return nil, fmt.Errorf("unknown output type: %s", output.Type)
}

// createMultiWriter fans entries out to every enabled output. Without any,
// entries go to stderr as JSON.
func createMultiWriter(outputs []config.LogOutput) (log.Writer, error) {
	var writers []log.Writer
	for _, output := range outputs {
		w, err := createWriter(output)
		if err != nil {
			return nil, err
		}
		if w != nil {
			writers = append(writers, w)
		}
	}

	switch len(writers) {
	case 0:
		return &log.IOWriter{Writer: os.Stderr}, nil
	case 1:
		return writers[0], nil
	}
	multi := log.MultiEntryWriter(writers)
	return &multi, nil
}

// ConfigureLogging builds the writers of cfg and installs them in
// log.DefaultLogger, the base of every component logger.
func ConfigureLogging(cfg config.LoggingConfig) error {
	w, err := createMultiWriter(cfg.Outputs)
	if err != nil {
		return err
	}

	levels := make(map[string]log.Level, len(cfg.Components))
	for component, level := range cfg.Components {
		levels[component] = ParseLevel(level)
	}
	componentLevels = levels

	log.DefaultLogger = log.Logger{
		Level:        ParseLevel(cfg.Defaults.Level),
		Caller:       cfg.Defaults.Caller,
		TimeField:    cfg.Defaults.TimeField,
		TimeFormat:   timeFormat(cfg.Defaults.TimeFormat),
		TimeLocation: timeLocation(cfg.Defaults.TimeLocation),
		Writer:       w,
	}

	log.Debug().
		Str("level", cfg.Defaults.Level).
		Int("outputs", len(cfg.Outputs)).
		Int("component_overrides", len(levels)).
		Msg("Loggers configured")
	return nil
}

// NewLoggerWithContext returns a copy of log.DefaultLogger tagged with
// component, at the component's configured level if it has one. Call it
// after ConfigureLogging.
func NewLoggerWithContext(component string) log.Logger {
	bl := &log.DefaultLogger
	level := bl.Level
	if l, ok := componentLevels[component]; ok {
		level = l
	}
	return log.Logger{
		Level:        level,
		TimeField:    bl.TimeField,
		TimeFormat:   bl.TimeFormat,
		TimeLocation: bl.TimeLocation,
		Writer:       bl.Writer,
		Context:      log.NewContext(bl.Context).Str("component", component).Value(),
	}
}

// Close flushes and closes the file, syslog and async writers set up by
// ConfigureLogging. Console writers are left open.
func Close() error {
	return closeWriter(log.DefaultLogger.Writer)
}

func closeWriter(w log.Writer) error {
	switch w := w.(type) {
	case *log.AsyncWriter:
		return w.Close()
	case *log.FileWriter:
		return w.Close()
	case *log.SyslogWriter:
		return w.Close()
	case *log.MultiEntryWriter:
		var errs []error
		for _, inner := range *w {
			errs = append(errs, closeWriter(inner))
		}
		return errors.Join(errs...)
	}
	return nil
}
