package wevt

import (
	"errors"
	"runtime"

	"wevt_dumper/internal/evtapi"
)

// ResourceHandle exclusively owns one EVT_HANDLE. It is not safe for
// concurrent use.
type ResourceHandle struct {
	c      *Client
	h      evtapi.Handle
	kind   string
	closed bool
}

// open acquires a handle through openFn. A failed call or a NULL handle is
// reported as KindAcquisitionFailed wrapping the classified status.
func (c *Client) open(kind, op string, openFn func() (evtapi.Handle, error)) (*ResourceHandle, error) {
	h, err := openFn()
	if err != nil || h == evtapi.InvalidHandle {
		return nil, c.acquireError(op, err)
	}
	return c.adopt(kind, h), nil
}

// adopt takes ownership of a handle the OS handed out, e.g. from EvtNext or
// inside a variant.
func (c *Client) adopt(kind string, h evtapi.Handle) *ResourceHandle {
	rh := &ResourceHandle{c: c, h: h, kind: kind}
	c.metrics.HandleOpened(kind)
	runtime.SetFinalizer(rh, (*ResourceHandle).leaked)
	return rh
}

func (c *Client) acquireError(op string, err error) error {
	e := &Error{Kind: KindAcquisitionFailed, Op: op}
	if errno, ok := evtapi.AsErrno(err); ok && errno != evtapi.ERROR_SUCCESS {
		e.Err = c.classify(op, err)
	} else if err != nil && !errors.Is(err, evtapi.ERROR_SUCCESS) {
		e.Err = err
	} else {
		e.Message = "null handle"
	}
	c.metrics.Error(e.Kind.String())
	return e
}

// Handle returns the raw handle. It stays owned by r.
func (r *ResourceHandle) Handle() evtapi.Handle { return r.h }

// Closed reports whether Close has run.
func (r *ResourceHandle) Closed() bool { return r.closed }

// Close releases the handle. Only the first call reaches the OS; later calls
// return nil.
func (r *ResourceHandle) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	runtime.SetFinalizer(r, nil)
	return r.c.release(r.kind, r.h)
}

// MustClose is Close for callers that treat a failed release as fatal.
func (r *ResourceHandle) MustClose() {
	if err := r.Close(); err != nil {
		panic(err)
	}
}

// leaked is the finalizer of a handle dropped without Close. It releases
// the handle once. A failed release has no caller to return to: release
// logs it and counts it in wevt_errors_total and wevt_handles_closed_total.
func (r *ResourceHandle) leaked() {
	if r.closed {
		return
	}
	r.closed = true
	r.c.log.Warn().Str("kind", r.kind).Uint64("handle", uint64(r.h)).Msg("Releasing leaked event log handle")
	r.c.release(r.kind, r.h)
}

func (c *Client) release(kind string, h evtapi.Handle) error {
	err := c.api.Close(h)
	c.metrics.HandleClosed(kind, err == nil)
	if err == nil {
		return nil
	}
	c.log.Error().Err(err).Str("kind", kind).Uint64("handle", uint64(h)).Msg("EvtClose failed")
	c.metrics.Error(KindReleaseFailed.String())
	return &Error{Kind: KindReleaseFailed, Op: "close " + kind, Err: err}
}
