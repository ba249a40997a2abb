package wevt

import (
	"errors"
	"io"
	"iter"

	"wevt_dumper/internal/evtapi"
)

// nameEnumerator is the shared machinery of the channel and publisher
// enumerators: one enum handle, one text buffer, a terminal flag.
type nameEnumerator struct {
	c    *Client
	h    *ResourceHandle
	buf  *Buffer[uint16]
	op   string
	next func(evtapi.Handle, []uint16) (uint32, error)
	done bool
}

// Next returns the next name, or io.EOF once the enumeration has ended.
// Any failure also ends the enumeration.
func (e *nameEnumerator) Next() (string, error) {
	if e.done {
		return "", io.EOF
	}
	name, err := fetchText(e.c, e.buf, e.op, func(buf []uint16) (uint32, error) {
		return e.next(e.h.Handle(), buf)
	})
	if err != nil {
		e.done = true
		return "", err
	}
	return name, nil
}

// All iterates over the remaining names. A failure is yielded once with an
// empty name and ends the iteration.
func (e *nameEnumerator) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			name, err := e.Next()
			if err == io.EOF {
				return
			}
			if !yield(name, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the enum handle. Next reports io.EOF afterwards.
func (e *nameEnumerator) Close() error {
	e.done = true
	return e.h.Close()
}

// ChannelEnumerator lists channel paths. It is not restartable.
type ChannelEnumerator struct {
	nameEnumerator
}

// Channels opens a channel enumeration.
func (c *Client) Channels() (*ChannelEnumerator, error) {
	h, err := c.open("channel_enum", "open channel enum", c.api.OpenChannelEnum)
	if err != nil {
		return nil, err
	}
	return &ChannelEnumerator{nameEnumerator{
		c:    c,
		h:    h,
		buf:  NewBuffer[uint16]("channel_path", 256),
		op:   "next channel path",
		next: c.api.NextChannelPath,
	}}, nil
}

// PublisherEnumerator lists registered publisher names.
type PublisherEnumerator struct {
	nameEnumerator
}

// Publishers opens a publisher enumeration.
func (c *Client) Publishers() (*PublisherEnumerator, error) {
	h, err := c.open("publisher_enum", "open publisher enum", c.api.OpenPublisherEnum)
	if err != nil {
		return nil, err
	}
	return &PublisherEnumerator{nameEnumerator{
		c:    c,
		h:    h,
		buf:  NewBuffer[uint16]("publisher_id", 256),
		op:   "next publisher id",
		next: c.api.NextPublisherID,
	}}, nil
}

// ChannelPaths collects every channel path.
func (c *Client) ChannelPaths() ([]string, error) {
	e, err := c.Channels()
	if err != nil {
		return nil, err
	}
	return collect(&e.nameEnumerator)
}

// PublisherNames collects every publisher name.
func (c *Client) PublisherNames() ([]string, error) {
	e, err := c.Publishers()
	if err != nil {
		return nil, err
	}
	return collect(&e.nameEnumerator)
}

func collect(e *nameEnumerator) (names []string, err error) {
	defer func() {
		err = errors.Join(err, e.Close())
	}()
	for name, err := range e.All() {
		if err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}
