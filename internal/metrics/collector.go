// Package metrics exposes counters about event log access as a
// prometheus.Collector. All recording methods are safe on a nil *Collector so
// callers that do not care about metrics can pass nothing.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// HandleKey labels handle lifecycle counters.
type HandleKey struct {
	Kind   string
	Result string
}

// Collector implements prometheus.Collector for the event log reader.
type Collector struct {
	mu sync.RWMutex

	handlesOpened  map[string]*int64
	handlesClosed  map[HandleKey]*int64
	bufferGrowths  map[string]*int64
	bufferCapacity map[string]*int64
	errors         map[string]*int64

	recordsFetched  atomic.Int64
	batchesFetched  atomic.Int64
	recordsRendered atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64

	handlesOpenedDesc   *prometheus.Desc
	handlesClosedDesc   *prometheus.Desc
	bufferGrowthsDesc   *prometheus.Desc
	bufferCapacityDesc  *prometheus.Desc
	errorsDesc          *prometheus.Desc
	recordsFetchedDesc  *prometheus.Desc
	batchesFetchedDesc  *prometheus.Desc
	recordsRenderedDesc *prometheus.Desc
	cacheLookupsDesc    *prometheus.Desc
}

// NewCollector creates a new collector. Register it with a prometheus
// registry to expose it.
func NewCollector() *Collector {
	return &Collector{
		handlesOpened:  make(map[string]*int64),
		handlesClosed:  make(map[HandleKey]*int64),
		bufferGrowths:  make(map[string]*int64),
		bufferCapacity: make(map[string]*int64),
		errors:         make(map[string]*int64),

		handlesOpenedDesc: prometheus.NewDesc(
			"wevt_handles_opened_total",
			"Total number of event log handles acquired.",
			[]string{"kind"}, nil,
		),
		handlesClosedDesc: prometheus.NewDesc(
			"wevt_handles_closed_total",
			"Total number of event log handles released.",
			[]string{"kind", "result"}, nil,
		),
		bufferGrowthsDesc: prometheus.NewDesc(
			"wevt_buffer_growths_total",
			"Total number of times a call site had to grow its buffer and retry.",
			[]string{"site"}, nil,
		),
		bufferCapacityDesc: prometheus.NewDesc(
			"wevt_buffer_capacity_units",
			"Largest buffer capacity reached by a call site, in buffer units.",
			[]string{"site"}, nil,
		),
		errorsDesc: prometheus.NewDesc(
			"wevt_errors_total",
			"Total number of failures reported by the event log service, by error kind.",
			[]string{"kind"}, nil,
		),
		recordsFetchedDesc: prometheus.NewDesc(
			"wevt_records_fetched_total",
			"Total number of event records fetched from queries.",
			nil, nil,
		),
		batchesFetchedDesc: prometheus.NewDesc(
			"wevt_batches_fetched_total",
			"Total number of EvtNext batches that returned records.",
			nil, nil,
		),
		recordsRenderedDesc: prometheus.NewDesc(
			"wevt_records_rendered_total",
			"Total number of event records rendered to XML.",
			nil, nil,
		),
		cacheLookupsDesc: prometheus.NewDesc(
			"wevt_publisher_cache_lookups_total",
			"Total number of publisher metadata cache lookups.",
			[]string{"result"}, nil,
		),
	}
}

// Describe sends the descriptors of all metrics to the provided channel.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.handlesOpenedDesc
	ch <- c.handlesClosedDesc
	ch <- c.bufferGrowthsDesc
	ch <- c.bufferCapacityDesc
	ch <- c.errorsDesc
	ch <- c.recordsFetchedDesc
	ch <- c.batchesFetchedDesc
	ch <- c.recordsRenderedDesc
	ch <- c.cacheLookupsDesc
}

// Collect creates and sends the metrics on each scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for kind, n := range c.handlesOpened {
		ch <- prometheus.MustNewConstMetric(c.handlesOpenedDesc, prometheus.CounterValue,
			float64(atomic.LoadInt64(n)), kind)
	}
	for key, n := range c.handlesClosed {
		ch <- prometheus.MustNewConstMetric(c.handlesClosedDesc, prometheus.CounterValue,
			float64(atomic.LoadInt64(n)), key.Kind, key.Result)
	}
	for site, n := range c.bufferGrowths {
		ch <- prometheus.MustNewConstMetric(c.bufferGrowthsDesc, prometheus.CounterValue,
			float64(atomic.LoadInt64(n)), site)
	}
	for site, n := range c.bufferCapacity {
		ch <- prometheus.MustNewConstMetric(c.bufferCapacityDesc, prometheus.GaugeValue,
			float64(atomic.LoadInt64(n)), site)
	}
	for kind, n := range c.errors {
		ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue,
			float64(atomic.LoadInt64(n)), kind)
	}

	ch <- prometheus.MustNewConstMetric(c.recordsFetchedDesc, prometheus.CounterValue,
		float64(c.recordsFetched.Load()))
	ch <- prometheus.MustNewConstMetric(c.batchesFetchedDesc, prometheus.CounterValue,
		float64(c.batchesFetched.Load()))
	ch <- prometheus.MustNewConstMetric(c.recordsRenderedDesc, prometheus.CounterValue,
		float64(c.recordsRendered.Load()))
	ch <- prometheus.MustNewConstMetric(c.cacheLookupsDesc, prometheus.CounterValue,
		float64(c.cacheHits.Load()), "hit")
	ch <- prometheus.MustNewConstMetric(c.cacheLookupsDesc, prometheus.CounterValue,
		float64(c.cacheMisses.Load()), "miss")
}

// counter returns the counter for key, creating it on first use.
func counter[K comparable](mu *sync.RWMutex, m map[K]*int64, key K) *int64 {
	mu.RLock()
	n, ok := m[key]
	mu.RUnlock()
	if ok {
		return n
	}
	mu.Lock()
	defer mu.Unlock()
	if n, ok = m[key]; !ok {
		n = new(int64)
		m[key] = n
	}
	return n
}

// HandleOpened records one acquired handle.
func (c *Collector) HandleOpened(kind string) {
	if c == nil {
		return
	}
	atomic.AddInt64(counter(&c.mu, c.handlesOpened, kind), 1)
}

// HandleClosed records one released handle.
func (c *Collector) HandleClosed(kind string, ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	atomic.AddInt64(counter(&c.mu, c.handlesClosed, HandleKey{Kind: kind, Result: result}), 1)
}

// BufferGrown records a grow-and-retry round and the new capacity.
func (c *Collector) BufferGrown(site string, capacity int) {
	if c == nil {
		return
	}
	atomic.AddInt64(counter(&c.mu, c.bufferGrowths, site), 1)
	highest := counter(&c.mu, c.bufferCapacity, site)
	for {
		cur := atomic.LoadInt64(highest)
		if int64(capacity) <= cur || atomic.CompareAndSwapInt64(highest, cur, int64(capacity)) {
			return
		}
	}
}

// Error records one classified failure.
func (c *Collector) Error(kind string) {
	if c == nil {
		return
	}
	atomic.AddInt64(counter(&c.mu, c.errors, kind), 1)
}

// BatchFetched records one EvtNext batch of n records.
func (c *Collector) BatchFetched(n int) {
	if c == nil {
		return
	}
	c.batchesFetched.Add(1)
	c.recordsFetched.Add(int64(n))
}

// RecordRendered records one rendered event.
func (c *Collector) RecordRendered() {
	if c == nil {
		return
	}
	c.recordsRendered.Add(1)
}

// CacheLookup records a publisher metadata cache hit or miss.
func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.cacheHits.Add(1)
	} else {
		c.cacheMisses.Add(1)
	}
}
