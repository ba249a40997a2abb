package wevt

import (
	"fmt"
	"io"
	"unicode/utf16"
	"unsafe"

	"wevt_dumper/internal/evtapi"
)

// unit is the element type of a Buffer: bytes for variant payloads, UTF-16
// code units for text.
type unit interface {
	~byte | ~uint16
}

// Buffer is scratch memory owned by one call site. It grows when the OS
// reports it too small and never shrinks. It must not be shared between
// concurrent calls.
type Buffer[T unit] struct {
	site string
	data []T
}

// NewBuffer returns a buffer of the given initial capacity, in units of T.
// site names the call site in logs and metrics.
func NewBuffer[T unit](site string, capacity int) *Buffer[T] {
	return &Buffer[T]{site: site, data: make([]T, max(capacity, 0))}
}

// Cap returns the capacity in units of T.
func (b *Buffer[T]) Cap() int { return len(b.data) }

// grow discards the contents and makes room for at least n units.
func (b *Buffer[T]) grow(n int) {
	if n > len(b.data) {
		b.data = make([]T, n)
	}
}

func unitSize[T unit]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// fetch runs fill against b, growing b and retrying while fill reports
// ERROR_INSUFFICIENT_BUFFER along with the required size. ERROR_NO_MORE_ITEMS
// ends a sequence and is returned as io.EOF. Any other status is passed to
// fail. The returned slice aliases b and is valid until the next fetch.
func fetch[T unit](c *Client, b *Buffer[T], op string, fill func([]T) (uint32, error), fail func(op string, err error) error) ([]T, error) {
	for grows := 0; ; {
		used, err := fill(b.data)
		if err == nil {
			if int(used) > len(b.data) {
				return nil, &Error{Kind: KindInvalidEncoding, Op: op,
					Message: fmt.Sprintf("reported %d units in a buffer of %d", used, len(b.data))}
			}
			return b.data[:used], nil
		}

		errno, ok := evtapi.AsErrno(err)
		if !ok {
			return nil, &Error{Kind: KindGenericOS, Op: op, Err: err}
		}
		switch errno {
		case evtapi.ERROR_NO_MORE_ITEMS:
			return nil, io.EOF
		case evtapi.ERROR_INSUFFICIENT_BUFFER:
		default:
			return nil, fail(op, err)
		}

		required := int(used)
		if required <= len(b.data) {
			// The OS did not report a usable size; double instead.
			required = max(2*len(b.data), 64)
		}
		if grows >= c.opts.MaxGrowAttempts || required*unitSize[T]() > c.opts.MaxBufferSize {
			c.metrics.Error(KindBufferLimitExceeded.String())
			return nil, &Error{Kind: KindBufferLimitExceeded, Op: op,
				Message: fmt.Sprintf("%d units requested after %d grows, limit %d bytes",
					required, grows, c.opts.MaxBufferSize)}
		}
		grows++
		b.grow(required)
		c.metrics.BufferGrown(b.site, required)
		c.log.Debug().Str("site", b.site).Int("capacity", required).Int("attempt", grows).Msg("Growing buffer")
	}
}

// fetchText runs fetch over a UTF-16 buffer and decodes the result.
func fetchText(c *Client, b *Buffer[uint16], op string, fill func([]uint16) (uint32, error)) (string, error) {
	u, err := fetch(c, b, op, fill, c.classify)
	if err != nil {
		return "", err
	}
	return utf16Text(u), nil
}

// utf16Text strips exactly one trailing NUL and decodes the rest. Unpaired
// surrogates become U+FFFD.
func utf16Text(u []uint16) string {
	if n := len(u); n > 0 && u[n-1] == 0 {
		u = u[:n-1]
	}
	return string(utf16.Decode(u))
}
