// Package wevt reads the Windows Event Log service: channel and publisher
// enumeration, event queries, XML and value rendering, and publisher metadata
// decoding. Every retrieval call goes through one bounded grow-and-retry
// buffer loop and every OS handle is owned by a ResourceHandle that is
// released exactly once.
//
// Nothing in this package locks. A query, enumerator, renderer or handle
// belongs to one goroutine at a time; a Client and a PublisherCache may be
// shared.
package wevt

import (
	"time"

	"wevt_dumper/internal/evtapi"
	"wevt_dumper/internal/logger"
	"wevt_dumper/internal/metrics"

	"github.com/phuslu/log"
)

// Options tune a Client. Zero fields take the defaults of DefaultOptions.
type Options struct {
	// Logger defaults to the "wevt" component logger.
	Logger *log.Logger
	// Metrics may be nil.
	Metrics *metrics.Collector

	// MaxBufferSize caps any single buffer, in bytes.
	MaxBufferSize int
	// MaxGrowAttempts caps the grow-and-retry rounds of one call.
	MaxGrowAttempts int
	// RenderBufferSize is the initial XML render buffer, in UTF-16 units.
	RenderBufferSize int
	// BatchSize is the number of records requested per EvtNext call.
	BatchSize int
	// Timeout bounds each EvtNext wait. Zero waits forever.
	Timeout time.Duration
	// Locale is the LCID used to open publisher metadata.
	Locale uint32
}

const (
	DefaultMaxBufferSize    = 64 << 20
	DefaultMaxGrowAttempts  = 16
	DefaultRenderBufferSize = 32 << 10
	DefaultBatchSize        = 1024
)

// DefaultOptions returns the options used for unset fields.
func DefaultOptions() Options {
	return Options{
		MaxBufferSize:    DefaultMaxBufferSize,
		MaxGrowAttempts:  DefaultMaxGrowAttempts,
		RenderBufferSize: DefaultRenderBufferSize,
		BatchSize:        DefaultBatchSize,
		Locale:           evtapi.LocaleEnglishUS,
	}
}

// Client binds the event log API to options, a logger and metrics.
type Client struct {
	api     evtapi.API
	opts    Options
	log     log.Logger
	metrics *metrics.Collector
}

// NewClient returns a client over api.
func NewClient(api evtapi.API, opts Options) *Client {
	def := DefaultOptions()
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = def.MaxBufferSize
	}
	if opts.MaxGrowAttempts <= 0 {
		opts.MaxGrowAttempts = def.MaxGrowAttempts
	}
	if opts.RenderBufferSize <= 0 {
		opts.RenderBufferSize = def.RenderBufferSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Locale == 0 {
		opts.Locale = def.Locale
	}

	c := &Client{api: api, opts: opts, metrics: opts.Metrics}
	if opts.Logger != nil {
		c.log = *opts.Logger
	} else {
		c.log = logger.NewLoggerWithContext("wevt")
	}
	return c
}

// Open returns a client over the wevtapi.dll of the running system.
func Open(opts Options) (*Client, error) {
	api, err := evtapi.SystemAPI()
	if err != nil {
		return nil, err
	}
	return NewClient(api, opts), nil
}

// Options returns the effective options.
func (c *Client) Options() Options { return c.opts }

// classify turns a failed API call into an *Error. Codes outside the
// catalog use the extended status text captured with the failure.
func (c *Client) classify(op string, err error) error {
	errno, ok := evtapi.AsErrno(err)
	if !ok {
		c.metrics.Error(KindGenericOS.String())
		return &Error{Kind: KindGenericOS, Op: op, Err: err}
	}
	e := FromStatus(uint32(errno), func() (string, bool) { return evtapi.ExtendedStatus(err) })
	e.Op = op
	c.metrics.Error(e.Kind.String())
	return e
}
