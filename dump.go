package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"wevt_dumper/internal/config"
	"wevt_dumper/internal/logger"
	"wevt_dumper/internal/sink"
	"wevt_dumper/internal/wevt"

	"github.com/phuslu/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// dumpOptions are bound to the dump command flags and copied over the
// configuration when set.
type dumpOptions struct {
	output      string
	compression string
	channels    []string
	filter      string
	concurrency int
	progress    bool
}

func (a *app) dumpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump events as XML lines into a compressed file",
		Long: `Dump every event of the selected channels, one XML document per line.

Channels are read in parallel. A channel that cannot be read is logged and
skipped; the dump fails only when the output cannot be written.

Examples:
  wevt_dumper dump
  wevt_dumper dump --channel Security --channel System -o events.xml.gz --compression gzip
  wevt_dumper dump --filter "*[System[Level<=2]]" -o - --compression none`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDump(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&a.dumpOpts.output, "output", "o", "", `Output file, "-" for stdout.`)
	f.StringVar(&a.dumpOpts.compression, "compression", "", "Output compression: gzip, zstd, lz4, none.")
	f.StringArrayVar(&a.dumpOpts.channels, "channel", nil, "Channel to dump (repeatable, default: all channels).")
	f.StringVar(&a.dumpOpts.filter, "filter", "", "XPath filter passed to every channel query.")
	f.IntVar(&a.dumpOpts.concurrency, "concurrency", 0, "Channels dumped in parallel.")
	f.BoolVar(&a.dumpOpts.progress, "progress", true, "Show a progress bar on stderr.")
	return cmd
}

// applyDumpFlags copies the dump flags the user set over cfg.
func (a *app) applyDumpFlags(cmd *cobra.Command, cfg *config.AppConfig) {
	if cmd.Name() != "dump" {
		return
	}
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Dump.Output = a.dumpOpts.output
	}
	if flags.Changed("compression") {
		cfg.Dump.Compression = a.dumpOpts.compression
	}
	if flags.Changed("channel") {
		cfg.Dump.Channels = a.dumpOpts.channels
	}
	if flags.Changed("filter") {
		cfg.Dump.Filter = a.dumpOpts.filter
	}
	if flags.Changed("concurrency") {
		cfg.Dump.Concurrency = a.dumpOpts.concurrency
	}
	if flags.Changed("progress") {
		cfg.Dump.Progress = a.dumpOpts.progress
	}
}

func (a *app) runDump(ctx context.Context) error {
	dc := a.cfg.Dump
	compression, err := sink.ParseCompression(dc.Compression)
	if err != nil {
		return err
	}

	channels := dc.Channels
	if len(channels) == 0 {
		if channels, err = a.client.ChannelPaths(); err != nil {
			return fmt.Errorf("failed to list channels: %w", err)
		}
	}

	out, err := sink.Create(dc.Output, compression)
	if err != nil {
		return err
	}

	d := &dumper{
		c:           a.client,
		out:         out,
		filter:      dc.Filter,
		concurrency: dc.Concurrency,
		log:         logger.NewLoggerWithContext("dump"),
	}
	if dc.Progress && dc.Output != "-" {
		d.bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription("dumping events"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("events"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	start := time.Now()
	results, err := d.run(ctx, channels)
	if d.bar != nil {
		d.bar.Finish()
	}
	err = errors.Join(err, out.Close())

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	a.log.Info().
		Str("output", dc.Output).
		Str("compression", string(compression)).
		Int("channels", len(channels)).
		Int("failed_channels", failed).
		Int64("events", out.Lines()).
		Int64("bytes", out.Bytes()).
		Dur("elapsed", time.Since(start)).
		Msg("Dump finished")
	return err
}

// channelResult is the outcome of dumping one channel.
type channelResult struct {
	Channel string
	Events  int64
	Err     error
}

// dumper writes the events of several channels into one sink, one channel
// per goroutine.
type dumper struct {
	c           *wevt.Client
	out         *sink.Sink
	filter      string
	concurrency int
	log         log.Logger
	bar         *progressbar.ProgressBar
}

// run dumps channels with at most d.concurrency in flight. Per-channel
// failures are logged and reported in the results; only a failed write or a
// cancelled context stops the run.
func (d *dumper) run(ctx context.Context, channels []string) ([]channelResult, error) {
	results := make([]channelResult, len(channels))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(d.concurrency, 1))

	for i, channel := range channels {
		g.Go(func() error {
			n, err := d.dumpChannel(ctx, channel)
			results[i] = channelResult{Channel: channel, Events: n, Err: err}
			var we *writeError
			switch {
			case errors.As(err, &we):
				return err
			case ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				d.log.Warn().Err(err).Str("channel", channel).Int64("events", n).Msg("Channel dump failed")
			default:
				d.log.Debug().Str("channel", channel).Int64("events", n).Msg("Channel dumped")
			}
			return nil
		})
	}
	return results, g.Wait()
}

// writeError marks failures of the output, which end the whole dump.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func (d *dumper) dumpChannel(ctx context.Context, channel string) (n int64, err error) {
	q, err := d.c.Query(ctx, channel, d.filter)
	if err != nil {
		return 0, err
	}
	defer func() { err = errors.Join(err, q.Close()) }()

	r := d.c.NewRenderer()
	for rec, err := range q.All() {
		if err != nil {
			return n, err
		}
		if n == 0 {
			d.logFirstRecord(channel, rec)
		}
		xml, err := r.Render(rec)
		if cerr := rec.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		if err != nil {
			return n, err
		}
		if err := d.out.WriteLine(xml); err != nil {
			return n, &writeError{err}
		}
		n++
		if d.bar != nil {
			d.bar.Add(1)
		}
	}
	return n, nil
}

// logFirstRecord logs where a channel's dump starts.
func (d *dumper) logFirstRecord(channel string, rec *wevt.EventRecord) {
	if d.log.Level > log.DebugLevel {
		return
	}
	rc, err := d.c.NewSystemRenderContext()
	if err != nil {
		d.log.Debug().Err(err).Str("channel", channel).Msg("System render context unavailable")
		return
	}
	defer rc.Close()
	sp, err := rc.SystemProperties(rec)
	if err != nil {
		d.log.Debug().Err(err).Str("channel", channel).Msg("System properties unavailable")
		return
	}
	d.log.Debug().
		Str("channel", channel).
		Uint64("first_record_id", sp.RecordID).
		Time("first_time_created", sp.TimeCreated).
		Str("provider", sp.ProviderName).
		Msg("Channel dump started")
}
