// wevt_dumper reads the Windows Event Log: it lists channels and publishers,
// decodes publisher metadata and dumps events as XML lines.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wevt_dumper/internal/config"
	"wevt_dumper/internal/evtapi"
	"wevt_dumper/internal/logger"
	"wevt_dumper/internal/metrics"
	"wevt_dumper/internal/wevt"
	"wevt_dumper/internal/windowsapi"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(evtapi.SystemAPI, os.Stdout)
	if err := a.rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the state shared by every command once the configuration is
// loaded.
type app struct {
	openAPI      func() (evtapi.API, error)
	queryService func(name string) (windowsapi.ServiceStatus, error)
	stdout       io.Writer

	configPath    string
	logLevel      string
	listenAddress string
	dumpOpts      dumpOptions

	cfg      *config.AppConfig
	log      log.Logger
	metrics  *metrics.Collector
	registry *prometheus.Registry
	srv      *http.Server
	client   *wevt.Client
}

func newApp(openAPI func() (evtapi.API, error), stdout io.Writer) *app {
	return &app{openAPI: openAPI, queryService: windowsapi.QueryService, stdout: stdout}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "wevt_dumper",
		Short: "Read channels, publishers and events from the Windows Event Log",
		Long: `wevt_dumper reads the Windows Event Log service.

Examples:
  wevt_dumper status
  wevt_dumper channels
  wevt_dumper dump --channel Security --compression gzip -o security.xml.gz
  wevt_dumper publisher Microsoft-Windows-Winlogon
  wevt_dumper generate-config wevt_dumper.toml`,
		Version:            version,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file, TOML or YAML (optional).")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides the config file).")
	root.PersistentFlags().StringVar(&a.listenAddress, "web.listen-address", "", "Address to expose metrics on while running (overrides the config file).")

	root.AddCommand(
		a.channelsCommand(),
		a.publishersCommand(),
		a.publisherCommand(),
		a.dumpCommand(),
		a.statusCommand(),
		a.generateConfigCommand(),
	)
	return root
}

// setup loads the configuration, applies flag overrides, configures logging
// and metrics and opens the event log client.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Defaults.Level = a.logLevel
	}
	if flags.Changed("web.listen-address") {
		cfg.Server.ListenAddress = a.listenAddress
	}
	a.applyDumpFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	a.log = logger.NewLoggerWithContext("main")

	a.metrics = metrics.NewCollector()
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		a.metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.Server.ListenAddress != "" {
		a.serveMetrics()
	}

	if cmd.Name() == "generate-config" {
		return nil
	}
	api, err := a.openAPI()
	if err != nil {
		return fmt.Errorf("failed to open the event log API: %w", err)
	}
	wl := logger.NewLoggerWithContext("wevt")
	a.client = wevt.NewClient(api, wevt.Options{
		Logger:           &wl,
		Metrics:          a.metrics,
		MaxBufferSize:    cfg.Reader.MaxBufferSize,
		MaxGrowAttempts:  cfg.Reader.MaxGrowAttempts,
		RenderBufferSize: cfg.Reader.RenderBufferSize,
		BatchSize:        cfg.Reader.BatchSize,
		Timeout:          time.Duration(cfg.Reader.BatchTimeout),
		Locale:           cfg.Reader.Locale,
	})
	return nil
}

func (a *app) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Server.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
            <head><title>wevt_dumper</title></head>
            <body>
            <h1>wevt_dumper v` + version + `</h1>
            <p><a href="` + a.cfg.Server.MetricsPath + `">Metrics</a></p>
            </body>
            </html>`))
	})

	a.srv = &http.Server{Addr: a.cfg.Server.ListenAddress, Handler: mux}
	log.Info().Str("address", a.srv.Addr).Str("metrics_path", a.cfg.Server.MetricsPath).Msg("Starting HTTP server")
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down HTTP server")
		}
	}
	return logger.Close()
}
