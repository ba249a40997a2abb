package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.HandleOpened("query")
	c.HandleClosed("query", false)
	c.BufferGrown("render_xml", 4096)
	c.Error("known_os")
	c.BatchFetched(3)
	c.RecordRendered()
	c.CacheLookup(true)
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()
	c.HandleOpened("query")
	c.HandleOpened("event")
	c.HandleOpened("event")
	c.HandleClosed("event", true)
	c.HandleClosed("event", false)
	c.BatchFetched(2)
	c.BatchFetched(5)
	c.RecordRendered()

	want := `
# HELP wevt_handles_opened_total Total number of event log handles acquired.
# TYPE wevt_handles_opened_total counter
wevt_handles_opened_total{kind="event"} 2
wevt_handles_opened_total{kind="query"} 1
# HELP wevt_handles_closed_total Total number of event log handles released.
# TYPE wevt_handles_closed_total counter
wevt_handles_closed_total{kind="event",result="failure"} 1
wevt_handles_closed_total{kind="event",result="success"} 1
# HELP wevt_records_fetched_total Total number of event records fetched from queries.
# TYPE wevt_records_fetched_total counter
wevt_records_fetched_total 7
# HELP wevt_batches_fetched_total Total number of EvtNext batches that returned records.
# TYPE wevt_batches_fetched_total counter
wevt_batches_fetched_total 2
# HELP wevt_records_rendered_total Total number of event records rendered to XML.
# TYPE wevt_records_rendered_total counter
wevt_records_rendered_total 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(want),
		"wevt_handles_opened_total", "wevt_handles_closed_total",
		"wevt_records_fetched_total", "wevt_batches_fetched_total", "wevt_records_rendered_total")
	if err != nil {
		t.Error(err)
	}
}

func TestBufferCapacityKeepsMaximum(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.BufferGrown("render_xml", i*1024)
		}()
	}
	wg.Wait()
	c.BufferGrown("render_xml", 512)

	want := `
# HELP wevt_buffer_growths_total Total number of times a call site had to grow its buffer and retry.
# TYPE wevt_buffer_growths_total counter
wevt_buffer_growths_total{site="render_xml"} 65
# HELP wevt_buffer_capacity_units Largest buffer capacity reached by a call site, in buffer units.
# TYPE wevt_buffer_capacity_units gauge
wevt_buffer_capacity_units{site="render_xml"} 65536
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want),
		"wevt_buffer_growths_total", "wevt_buffer_capacity_units"); err != nil {
		t.Error(err)
	}
}

func TestCollectorRegisters(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector()
	c.Error("release_failed")
	c.CacheLookup(false)
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}
	if n, err := testutil.GatherAndCount(reg, "wevt_errors_total", "wevt_publisher_cache_lookups_total"); err != nil || n != 3 {
		t.Errorf("GatherAndCount() = %d, %v; want 3 series", n, err)
	}
}
