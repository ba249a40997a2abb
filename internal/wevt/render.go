package wevt

import (
	"time"

	"wevt_dumper/internal/evtapi"
)

// Renderer renders event records to XML, reusing one buffer across calls.
// It is not safe for concurrent use.
type Renderer struct {
	c   *Client
	buf *Buffer[uint16]
}

// NewRenderer returns a renderer with a buffer of Options.RenderBufferSize
// units.
func (c *Client) NewRenderer() *Renderer {
	return &Renderer{c: c, buf: NewBuffer[uint16]("render_xml", c.opts.RenderBufferSize)}
}

// Render returns the XML document of rec. rec stays owned by the caller.
func (r *Renderer) Render(rec *EventRecord) (string, error) {
	xml, err := fetchText(r.c, r.buf, "render event xml", func(buf []uint16) (uint32, error) {
		return r.c.api.RenderXML(rec.Handle(), buf)
	})
	if err != nil {
		return "", err
	}
	r.c.metrics.RecordRendered()
	return xml, nil
}

// RenderContext renders selected event values. It is not safe for
// concurrent use.
type RenderContext struct {
	c   *Client
	h   *ResourceHandle
	buf *Buffer[byte]
}

// NewSystemRenderContext creates a context that renders the system
// properties, in EvtSystem* order.
func (c *Client) NewSystemRenderContext() (*RenderContext, error) {
	return c.newRenderContext(nil, evtapi.EvtRenderContextSystem)
}

// NewRenderContext creates a context that renders the given XPath value
// paths, or every user data value when paths is empty.
func (c *Client) NewRenderContext(paths []string) (*RenderContext, error) {
	if len(paths) == 0 {
		return c.newRenderContext(nil, evtapi.EvtRenderContextUser)
	}
	return c.newRenderContext(paths, evtapi.EvtRenderContextValues)
}

func (c *Client) newRenderContext(paths []string, flags uint32) (*RenderContext, error) {
	h, err := c.open("render_context", "create render context", func() (evtapi.Handle, error) {
		return c.api.CreateRenderContext(paths, flags)
	})
	if err != nil {
		return nil, err
	}
	return &RenderContext{c: c, h: h, buf: NewBuffer[byte]("render_values", 1024)}, nil
}

// Values renders the context's values for rec. The caller owns any handle
// among them; see ReleaseVariants.
func (rc *RenderContext) Values(rec *EventRecord) ([]Variant, error) {
	var count uint32
	b, err := fetch(rc.c, rc.buf, "render event values", func(p []byte) (uint32, error) {
		used, n, err := rc.c.api.RenderValues(rc.h.Handle(), rec.Handle(), p)
		count = n
		return used, err
	}, rc.c.classify)
	if err != nil {
		return nil, err
	}
	return rc.c.Decoder().DecodeAll(b, int(count))
}

// Close releases the render context handle.
func (rc *RenderContext) Close() error { return rc.h.Close() }

// SystemProperties are the <System> values of one event.
type SystemProperties struct {
	ProviderName      string
	ProviderGUID      *GUID
	EventID           uint16
	Qualifiers        uint16
	Level             uint8
	Task              uint16
	Opcode            uint8
	Keywords          uint64
	TimeCreated       time.Time
	RecordID          uint64
	ActivityID        *GUID
	RelatedActivityID *GUID
	ProcessID         uint32
	ThreadID          uint32
	Channel           string
	Computer          string
	UserID            string
	Version           uint8
}

// SystemProperties renders rc's values for rec and maps them by EvtSystem*
// index. rc must come from NewSystemRenderContext. Missing or mistyped
// values are left empty.
func (rc *RenderContext) SystemProperties(rec *EventRecord) (*SystemProperties, error) {
	values, err := rc.Values(rec)
	if err != nil {
		return nil, err
	}
	at := func(id uint32) Variant {
		if int(id) < len(values) {
			return values[id]
		}
		return nil
	}
	guid := func(id uint32) *GUID {
		if g, ok := at(id).(GUID); ok {
			return &g
		}
		return nil
	}
	u64 := func(id uint32) uint64 {
		u, _ := asUint64(at(id))
		return u
	}

	sp := &SystemProperties{
		ProviderGUID:      guid(evtapi.EvtSystemProviderGuid),
		EventID:           uint16(u64(evtapi.EvtSystemEventID)),
		Qualifiers:        uint16(u64(evtapi.EvtSystemQualifiers)),
		Level:             uint8(u64(evtapi.EvtSystemLevel)),
		Task:              uint16(u64(evtapi.EvtSystemTask)),
		Opcode:            uint8(u64(evtapi.EvtSystemOpcode)),
		Keywords:          u64(evtapi.EvtSystemKeywords),
		RecordID:          u64(evtapi.EvtSystemEventRecordId),
		ActivityID:        guid(evtapi.EvtSystemActivityID),
		RelatedActivityID: guid(evtapi.EvtSystemRelatedActivityID),
		ProcessID:         uint32(u64(evtapi.EvtSystemProcessID)),
		ThreadID:          uint32(u64(evtapi.EvtSystemThreadID)),
		Version:           uint8(u64(evtapi.EvtSystemVersion)),
	}
	sp.ProviderName, _ = asString(at(evtapi.EvtSystemProviderName))
	sp.Channel, _ = asString(at(evtapi.EvtSystemChannel))
	sp.Computer, _ = asString(at(evtapi.EvtSystemComputer))
	if sid, ok := at(evtapi.EvtSystemUserID).(SID); ok {
		sp.UserID = string(sid)
	}
	switch t := at(evtapi.EvtSystemTimeCreated).(type) {
	case FileTime:
		sp.TimeCreated = t.Time
	case SysTime:
		sp.TimeCreated = t.Time
	}

	return sp, ReleaseVariants(values)
}
