package wevt

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"wevt_dumper/internal/evtapi"
)

// EventRecord is one fetched record. It owns its event handle; Close it
// whether or not it was rendered.
type EventRecord struct {
	h *ResourceHandle
}

// Handle returns the event handle, still owned by the record.
func (r *EventRecord) Handle() evtapi.Handle { return r.h.Handle() }

// Close releases the event handle. Later calls return nil.
func (r *EventRecord) Close() error { return r.h.Close() }

// EventQuery streams the records of one channel in the order the service
// returns them, fetching them in batches. It is not safe for concurrent use.
type EventQuery struct {
	c       *Client
	ctx     context.Context
	h       *ResourceHandle
	channel string
	timeout uint32
	handles []evtapi.Handle
	queue   []*EventRecord
	done    bool
}

// Query opens a forward query over channel. An empty filter selects every
// record; otherwise it is handed to the service verbatim. ctx is checked
// before every batch and, with a finite Options.Timeout, between waits.
func (c *Client) Query(ctx context.Context, channel, filter string) (*EventQuery, error) {
	h, err := c.open("query", "open query "+channel, func() (evtapi.Handle, error) {
		return c.api.Query(channel, filter, evtapi.EvtQueryChannelPath|evtapi.EvtQueryForwardDirection)
	})
	if err != nil {
		return nil, err
	}

	timeout := evtapi.INFINITE
	if c.opts.Timeout > 0 {
		timeout = uint32(min(c.opts.Timeout/time.Millisecond, time.Duration(evtapi.INFINITE-1)))
		timeout = max(timeout, 1)
	}
	return &EventQuery{
		c:       c,
		ctx:     ctx,
		h:       h,
		channel: channel,
		timeout: timeout,
		handles: make([]evtapi.Handle, c.opts.BatchSize),
	}, nil
}

// Channel returns the queried channel path.
func (q *EventQuery) Channel() string { return q.channel }

// Next returns the next record, or io.EOF when the channel is exhausted. A
// failure ends the query: every later call returns io.EOF without touching
// the service.
func (q *EventQuery) Next() (*EventRecord, error) {
	for {
		if q.done {
			return nil, io.EOF
		}
		if len(q.queue) > 0 {
			rec := q.queue[0]
			q.queue[0] = nil
			q.queue = q.queue[1:]
			return rec, nil
		}
		if err := q.fetchBatch(); err != nil {
			q.done = true
			return nil, err
		}
	}
}

// All iterates over the remaining records. The caller closes each record. A
// failure is yielded once with a nil record and ends the iteration.
func (q *EventQuery) All() iter.Seq2[*EventRecord, error] {
	return func(yield func(*EventRecord, error) bool) {
		for {
			rec, err := q.Next()
			if err == io.EOF {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (q *EventQuery) fetchBatch() error {
	for {
		if err := q.ctx.Err(); err != nil {
			return err
		}
		n, err := q.c.api.Next(q.h.Handle(), q.handles, q.timeout)
		if err == nil {
			n = min(n, uint32(len(q.handles)))
			if n == 0 {
				return io.EOF
			}
			for _, h := range q.handles[:n] {
				q.queue = append(q.queue, &EventRecord{h: q.c.adopt("event", h)})
			}
			clear(q.handles[:n])
			q.c.metrics.BatchFetched(int(n))
			return nil
		}

		errno, ok := evtapi.AsErrno(err)
		switch {
		case !ok:
			return &Error{Kind: KindGenericOS, Op: "next event batch", Err: err}
		case errno == evtapi.ERROR_NO_MORE_ITEMS:
			return io.EOF
		case errno == evtapi.ERROR_TIMEOUT && q.timeout != evtapi.INFINITE:
			q.c.log.Trace().Str("channel", q.channel).Msg("EvtNext timed out, waiting again")
			continue
		default:
			return q.c.classify("next event batch", err)
		}
	}
}

// Close releases every queued record and the query handle.
func (q *EventQuery) Close() error {
	q.done = true
	var errs []error
	for _, rec := range q.queue {
		errs = append(errs, rec.Close())
	}
	q.queue = nil
	errs = append(errs, q.h.Close())
	return errors.Join(errs...)
}
