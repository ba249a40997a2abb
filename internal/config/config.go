package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"wevt_dumper/internal/maps"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Configuration system:
// - TOML is the default format, YAML is picked for .yaml and .yml files
// - config.example.toml is produced by the generate-config command
// - Use brief comments here for reference only

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Event log reader tuning
	Reader ReaderConfig `toml:"reader" yaml:"reader"`

	// Dump command settings
	Dump DumpConfig `toml:"dump" yaml:"dump"`

	// Publisher metadata cache settings
	Cache CacheConfig `toml:"cache" yaml:"cache"`

	// Metrics server configuration
	Server ServerConfig `toml:"server" yaml:"server"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

// Duration is a time.Duration written as a string ("250ms", "5s") in both
// formats.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ReaderConfig bounds the buffers and waits of the event log reader
type ReaderConfig struct {
	// Largest buffer a single call may grow to, in bytes (default: 64 MiB)
	MaxBufferSize int `toml:"max_buffer_size" yaml:"max_buffer_size"`

	// Grow-and-retry rounds allowed per call (default: 16)
	MaxGrowAttempts int `toml:"max_grow_attempts" yaml:"max_grow_attempts"`

	// Initial XML render buffer, in UTF-16 characters (default: 32768)
	RenderBufferSize int `toml:"render_buffer_size" yaml:"render_buffer_size"`

	// Event handles requested per EvtNext call (default: 1024)
	BatchSize int `toml:"batch_size" yaml:"batch_size"`

	// Wait per EvtNext call, "0s" waits forever (default: "0s")
	BatchTimeout Duration `toml:"batch_timeout" yaml:"batch_timeout"`

	// Locale id for publisher metadata (default: 1033, en-US)
	Locale uint32 `toml:"locale" yaml:"locale"`
}

// DumpConfig contains the dump command settings
type DumpConfig struct {
	// Output file, "-" writes to stdout (default: "events.xml.zst")
	Output string `toml:"output" yaml:"output"`

	// Compression: "gzip", "zstd", "lz4", "none" (default: "zstd")
	Compression string `toml:"compression" yaml:"compression"`

	// Channels dumped in parallel (default: 4)
	Concurrency int `toml:"concurrency" yaml:"concurrency"`

	// Channels to dump, empty dumps every channel
	Channels []string `toml:"channels" yaml:"channels"`

	// XPath filter applied to every channel, empty selects all events
	Filter string `toml:"filter" yaml:"filter"`

	// Show a progress bar on stderr (default: true)
	Progress bool `toml:"progress" yaml:"progress"`
}

// CacheConfig selects the publisher metadata cache implementation
type CacheConfig struct {
	// Map backend: "xsync", "sharded", "cornelk", "sync" (default: "xsync")
	Backend string `toml:"backend" yaml:"backend"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Listen address, empty disables the server (default: "")
	ListenAddress string `toml:"listen_address" yaml:"listen_address"`

	// Metrics endpoint path (default: "/metrics")
	MetricsPath string `toml:"metrics_path" yaml:"metrics_path"`
}

// LoggingConfig contains the complete logging configuration
type LoggingConfig struct {
	// Default logging settings applied to all loggers
	Defaults LogDefaults `toml:"defaults" yaml:"defaults"`

	// Output configurations - can have multiple outputs
	Outputs []LogOutput `toml:"outputs" yaml:"outputs"`

	// Per-component level overrides, e.g. wevt = "debug" to trace buffer
	// growth without the other components (components: main, wevt, dump)
	Components map[string]string `toml:"components,omitempty" yaml:"components,omitempty"`
}

// LogDefaults contains default logger settings
type LogDefaults struct {
	// Log level (default: "info")
	Level string `toml:"level" yaml:"level"`

	// Include caller information (default: 0)
	Caller int `toml:"caller" yaml:"caller"`

	// Time field name (default: "time")
	TimeField string `toml:"time_field" yaml:"time_field"`

	// Time format (default: "" = RFC3339 with milliseconds)
	TimeFormat string `toml:"time_format" yaml:"time_format"`

	// Time zone (default: "Local")
	TimeLocation string `toml:"time_location" yaml:"time_location"`
}

// LogOutput represents a single output configuration
type LogOutput struct {
	// Output type: "console", "file", "syslog", "eventlog"
	Type string `toml:"type" yaml:"type"`

	// Enable this output (default: true)
	Enabled bool `toml:"enabled" yaml:"enabled"`

	// Configuration specific to the output type
	Console  *ConsoleConfig  `toml:"console,omitempty" yaml:"console,omitempty"`
	File     *FileConfig     `toml:"file,omitempty" yaml:"file,omitempty"`
	Syslog   *SyslogConfig   `toml:"syslog,omitempty" yaml:"syslog,omitempty"`
	Eventlog *EventlogConfig `toml:"eventlog,omitempty" yaml:"eventlog,omitempty"`
}

// ConsoleConfig contains console/terminal output settings
type ConsoleConfig struct {
	// Use fast JSON output (default: false)
	FastIO bool `toml:"fast_io" yaml:"fast_io"`

	// Output format when fast_io=false: "auto", "logfmt", "glog" (default: "auto")
	Format string `toml:"format" yaml:"format"`

	// Enable colored output (default: true)
	ColorOutput bool `toml:"color_output" yaml:"color_output"`

	// Quote string values (default: true)
	QuoteString bool `toml:"quote_string" yaml:"quote_string"`

	// Output destination (default: "stderr")
	Writer string `toml:"writer" yaml:"writer"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async" yaml:"async"`
}

// FileConfig contains file output settings
type FileConfig struct {
	// Log file path (required)
	Filename string `toml:"filename" yaml:"filename"`

	// Maximum file size in megabytes (default: 10)
	MaxSize int64 `toml:"max_size" yaml:"max_size"`

	// Maximum number of old log files to keep (default: 7)
	MaxBackups int `toml:"max_backups" yaml:"max_backups"`

	// Time format for rotated filenames (default: "2006-01-02T15-04-05")
	TimeFormat string `toml:"time_format" yaml:"time_format"`

	// Use local time for rotation timestamps (default: true)
	LocalTime bool `toml:"local_time" yaml:"local_time"`

	// Include hostname in filename (default: true)
	HostName bool `toml:"host_name" yaml:"host_name"`

	// Include process ID in filename (default: true)
	ProcessID bool `toml:"process_id" yaml:"process_id"`

	// Create directory if it doesn't exist (default: true)
	EnsureFolder bool `toml:"ensure_folder" yaml:"ensure_folder"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async" yaml:"async"`
}

// SyslogConfig contains syslog output settings
type SyslogConfig struct {
	// Network protocol (default: "udp")
	Network string `toml:"network" yaml:"network"`

	// Syslog server address (default: "localhost:514")
	Address string `toml:"address" yaml:"address"`

	// Hostname for syslog messages (default: system hostname)
	Hostname string `toml:"hostname" yaml:"hostname"`

	// Syslog tag/program name (default: "wevt_dumper")
	Tag string `toml:"tag" yaml:"tag"`

	// Message prefix marker (default: "@cee:")
	Marker string `toml:"marker" yaml:"marker"`

	// Use asynchronous writing (default: true)
	Async bool `toml:"async" yaml:"async"`
}

// EventlogConfig contains Windows Event Log settings
type EventlogConfig struct {
	// Event source name (default: "wevt_dumper")
	Source string `toml:"source" yaml:"source"`

	// Event ID for log entries (default: 1000)
	ID int `toml:"id" yaml:"id"`

	// Target host (default: local machine)
	Host string `toml:"host" yaml:"host"`

	// Use asynchronous writing (default: false)
	Async bool `toml:"async" yaml:"async"`
}

// Compression names accepted by dump.compression.
var Compressions = []string{"gzip", "zstd", "lz4", "none"}

// LogLevels lists the accepted logging levels.
var LogLevels = []string{"trace", "debug", "info", "warn", "warning", "error", "fatal"}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Reader: ReaderConfig{
			MaxBufferSize:    64 << 20,
			MaxGrowAttempts:  16,
			RenderBufferSize: 32 << 10,
			BatchSize:        1024,
			BatchTimeout:     0, // wait forever
			Locale:           0x0409,
		},
		Dump: DumpConfig{
			Output:      "events.xml.zst",
			Compression: "zstd",
			Concurrency: 4,
			Channels:    []string{},
			Filter:      "",
			Progress:    true,
		},
		Cache: CacheConfig{
			Backend: string(maps.DefaultBackend),
		},
		Server: ServerConfig{
			ListenAddress: "", // disabled
			MetricsPath:   "/metrics",
		},
		Logging: LoggingConfig{
			Defaults: LogDefaults{
				Level:        "info",
				Caller:       0,
				TimeField:    "time",
				TimeFormat:   "",
				TimeLocation: "Local",
			},
			Outputs: []LogOutput{
				{
					Type:    "console",
					Enabled: true,
					Console: &ConsoleConfig{
						FastIO:      false,
						Format:      "auto",
						ColorOutput: true,
						QuoteString: true,
						Writer:      "stderr",
						Async:       false,
					},
				},
				{
					Type:    "file",
					Enabled: false,
					File: &FileConfig{
						Filename:     "logs/wevt_dumper.log",
						MaxSize:      10, // 10MB
						MaxBackups:   7,
						TimeFormat:   "2006-01-02T15-04-05",
						LocalTime:    true,
						HostName:     true,
						ProcessID:    true,
						EnsureFolder: true,
						Async:        true,
					},
				},
				{
					Type:    "syslog",
					Enabled: false,
					Syslog: &SyslogConfig{
						Network:  "udp",
						Address:  "localhost:514",
						Tag:      "wevt_dumper",
						Hostname: "", // Uses system hostname by default
						Marker:   "@cee:",
						Async:    true,
					},
				},
				{
					Type:    "eventlog",
					Enabled: false,
					Eventlog: &EventlogConfig{
						Source: "wevt_dumper",
						ID:     1000,
						Host:   "", // localhost
						Async:  false,
					},
				},
			},
		},
	}
}

// isYAML reports whether path names a YAML file. Everything else is TOML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig loads configuration from a TOML or YAML file, falling back to
// defaults for keys the file leaves out.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("config file not found: %s", configPath)
	}

	if isYAML(configPath) {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		return config, nil
	}

	md, err := toml.DecodeFile(configPath, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in config file %s: %v", configPath, undecoded)
	}

	return config, nil
}

// encode writes config in the format chosen by path.
func encode(w io.Writer, path string, config *AppConfig) error {
	if isYAML(path) {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(config); err != nil {
			return fmt.Errorf("failed to encode config to YAML: %w", err)
		}
		return enc.Close()
	}
	if err := toml.NewEncoder(w).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}
	return nil
}

// SaveConfig saves the configuration in the format chosen by the file
// extension.
func SaveConfig(configPath string, config *AppConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer file.Close()

	return encode(file, configPath, config)
}

// GenerateExampleConfig generates a configuration file with default values
func GenerateExampleConfig(outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	format := "TOML (Tom's Obvious, Minimal Language)"
	if isYAML(outputPath) {
		format = "YAML"
	}
	header := `# wevt_dumper Example Configuration
# This file is auto-generated and serves as an example configuration.
# Copy this file to create your own configuration and modify as needed.
#
# Format: ` + format + `

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return encode(file, outputPath, DefaultConfig())
}

// Validate checks the configuration for errors
func (c *AppConfig) Validate() error {
	r := c.Reader
	if r.MaxBufferSize <= 0 {
		return fmt.Errorf("reader.max_buffer_size must be positive")
	}
	if r.MaxGrowAttempts <= 0 {
		return fmt.Errorf("reader.max_grow_attempts must be positive")
	}
	if r.RenderBufferSize <= 0 || r.RenderBufferSize*2 > r.MaxBufferSize {
		return fmt.Errorf("reader.render_buffer_size must be positive and fit reader.max_buffer_size")
	}
	if r.BatchSize <= 0 {
		return fmt.Errorf("reader.batch_size must be positive")
	}
	if r.BatchTimeout < 0 {
		return fmt.Errorf("reader.batch_timeout cannot be negative")
	}

	if c.Dump.Output == "" {
		return fmt.Errorf("dump.output cannot be empty")
	}
	if !slices.Contains(Compressions, c.Dump.Compression) {
		return fmt.Errorf("dump.compression %q is not one of %v", c.Dump.Compression, Compressions)
	}
	if c.Dump.Concurrency <= 0 {
		return fmt.Errorf("dump.concurrency must be positive")
	}

	if _, err := maps.ParseBackend(c.Cache.Backend); err != nil {
		return fmt.Errorf("cache.backend: %w", err)
	}

	if c.Server.ListenAddress != "" && !strings.HasPrefix(c.Server.MetricsPath, "/") {
		return fmt.Errorf("server.metrics_path must start with '/'")
	}

	if !slices.Contains(LogLevels, c.Logging.Defaults.Level) {
		return fmt.Errorf("logging.defaults.level %q is not one of %v", c.Logging.Defaults.Level, LogLevels)
	}
	for component, level := range c.Logging.Components {
		if !slices.Contains(LogLevels, level) {
			return fmt.Errorf("logging.components.%s: level %q is not one of %v", component, level, LogLevels)
		}
	}

	hasEnabledOutput := false
	for i, output := range c.Logging.Outputs {
		if !output.Enabled {
			continue
		}
		hasEnabledOutput = true
		switch output.Type {
		case "console", "file", "syslog", "eventlog":
		default:
			return fmt.Errorf("logging.outputs[%d]: unknown output type %q", i, output.Type)
		}
	}
	if !hasEnabledOutput {
		return fmt.Errorf("at least one logging output must be enabled")
	}

	return nil
}
