package wevt

import (
	"errors"

	"wevt_dumper/internal/evtapi"
)

// PublisherMetadata is the decoded, immutable metadata of one publisher.
// Properties the service could not provide are left at their zero value.
type PublisherMetadata struct {
	Name              string             `yaml:"name"`
	GUID              *GUID              `yaml:"guid,omitempty"`
	ResourceFilePath  string             `yaml:"resource_file_path,omitempty"`
	ParameterFilePath string             `yaml:"parameter_file_path,omitempty"`
	MessageFilePath   string             `yaml:"message_file_path,omitempty"`
	HelpLink          string             `yaml:"help_link,omitempty"`
	MessageID         *uint32            `yaml:"message_id,omitempty"`
	Channels          []ChannelReference `yaml:"channels,omitempty"`
	Levels            []Level            `yaml:"levels,omitempty"`
	Tasks             []Task             `yaml:"tasks,omitempty"`
	Opcodes           []Opcode           `yaml:"opcodes,omitempty"`
	Keywords          []Keyword          `yaml:"keywords,omitempty"`
}

// ChannelReference is a channel the publisher logs to.
type ChannelReference struct {
	Path      string `yaml:"path"`
	Index     uint32 `yaml:"index"`
	ID        uint32 `yaml:"id"`
	Imported  bool   `yaml:"imported,omitempty"`
	MessageID uint32 `yaml:"message_id"`
}

type Level struct {
	Name      string `yaml:"name"`
	Value     uint32 `yaml:"value"`
	MessageID uint32 `yaml:"message_id"`
}

type Task struct {
	Name      string `yaml:"name"`
	EventGUID GUID   `yaml:"event_guid"`
	Value     uint32 `yaml:"value"`
	MessageID uint32 `yaml:"message_id"`
}

// Opcode splits the raw value: the high word is the opcode, the low word the
// task it is scoped to.
type Opcode struct {
	Name      string `yaml:"name"`
	Opcode    uint16 `yaml:"opcode"`
	Task      uint16 `yaml:"task"`
	MessageID uint32 `yaml:"message_id"`
}

type Keyword struct {
	Name      string `yaml:"name"`
	Mask      uint64 `yaml:"mask"`
	MessageID uint32 `yaml:"message_id"`
}

// DecodeField fetches one property of the publisher metadata handle h into
// buf and decodes it. A returned *EvtHandle is owned by the caller.
func (c *Client) DecodeField(h *ResourceHandle, field PropertyField, buf *Buffer[byte]) (Variant, error) {
	b, err := fetch(c, buf, "get publisher property "+field.Name, func(p []byte) (uint32, error) {
		return c.api.GetPublisherMetadataProperty(h.Handle(), field.ID, p)
	}, c.classify)
	if err != nil {
		return nil, err
	}
	return c.Decoder().Decode(b)
}

// PublisherMetadataHandle is an open EvtOpenPublisherMetadata handle. It is
// not safe for concurrent use.
type PublisherMetadataHandle struct {
	c    *Client
	name string
	h    *ResourceHandle
	buf  *Buffer[byte]
}

// OpenPublisherMetadata opens the metadata of a registered publisher in the
// configured locale.
func (c *Client) OpenPublisherMetadata(name string) (*PublisherMetadataHandle, error) {
	h, err := c.open("publisher_metadata", "open publisher metadata "+name, func() (evtapi.Handle, error) {
		return c.api.OpenPublisherMetadata(name, c.opts.Locale)
	})
	if err != nil {
		return nil, err
	}
	return &PublisherMetadataHandle{
		c:    c,
		name: name,
		h:    h,
		buf:  NewBuffer[byte]("publisher_property", 512),
	}, nil
}

// Field decodes one property.
func (m *PublisherMetadataHandle) Field(field PropertyField) (Variant, error) {
	return m.c.DecodeField(m.h, field, m.buf)
}

// Close releases the metadata handle.
func (m *PublisherMetadataHandle) Close() error { return m.h.Close() }

// PublisherMetadata opens, decodes and closes the metadata of one publisher.
func (c *Client) PublisherMetadata(name string) (md *PublisherMetadata, err error) {
	m, err := c.OpenPublisherMetadata(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, m.Close())
	}()
	return m.Decode()
}

// Decode walks the property catalog. Fields that fail to decode or have an
// unexpected type are left empty; only a failed handle release is returned
// as an error, alongside the partial result.
func (m *PublisherMetadataHandle) Decode() (*PublisherMetadata, error) {
	d := &metadataDecoder{m: m}
	md := &PublisherMetadata{Name: m.name}

	if g, ok := d.field(FieldPublisherGUID).(GUID); ok {
		md.GUID = &g
	}
	md.ResourceFilePath, _ = asString(d.field(FieldResourceFilePath))
	md.ParameterFilePath, _ = asString(d.field(FieldParameterFilePath))
	md.MessageFilePath, _ = asString(d.field(FieldMessageFilePath))
	md.HelpLink, _ = asString(d.field(FieldHelpLink))
	if id, ok := asUint32(d.field(FieldPublisherMessageID)); ok {
		md.MessageID = &id
	}

	md.Channels = decodeCollection(d, FieldChannelReferences, func(get itemGetter) ChannelReference {
		var ch ChannelReference
		ch.Path, _ = asString(get(FieldChannelPath))
		ch.Index, _ = asUint32(get(FieldChannelIndex))
		ch.ID, _ = asUint32(get(FieldChannelID))
		flags, _ := asUint32(get(FieldChannelFlags))
		ch.Imported = flags&evtapi.EvtChannelReferenceImported != 0
		ch.MessageID, _ = asUint32(get(FieldChannelMessageID))
		return ch
	})
	md.Levels = decodeCollection(d, FieldLevels, func(get itemGetter) Level {
		var l Level
		l.Name, _ = asString(get(FieldLevelName))
		l.Value, _ = asUint32(get(FieldLevelValue))
		l.MessageID, _ = asUint32(get(FieldLevelMessageID))
		return l
	})
	md.Tasks = decodeCollection(d, FieldTasks, func(get itemGetter) Task {
		var t Task
		t.Name, _ = asString(get(FieldTaskName))
		t.EventGUID, _ = get(FieldTaskEventGUID).(GUID)
		t.Value, _ = asUint32(get(FieldTaskValue))
		t.MessageID, _ = asUint32(get(FieldTaskMessageID))
		return t
	})
	md.Opcodes = decodeCollection(d, FieldOpcodes, func(get itemGetter) Opcode {
		var o Opcode
		o.Name, _ = asString(get(FieldOpcodeName))
		value, _ := asUint32(get(FieldOpcodeValue))
		o.Opcode, o.Task = uint16(value>>16), uint16(value)
		o.MessageID, _ = asUint32(get(FieldOpcodeMessageID))
		return o
	})
	md.Keywords = decodeCollection(d, FieldKeywords, func(get itemGetter) Keyword {
		var k Keyword
		k.Name, _ = asString(get(FieldKeywordName))
		k.Mask, _ = asUint64(get(FieldKeywordValue))
		k.MessageID, _ = asUint32(get(FieldKeywordMessageID))
		return k
	})

	return md, errors.Join(d.releaseErrs...)
}

// metadataDecoder collects release failures while degrading every other
// failure to an absent value.
type metadataDecoder struct {
	m           *PublisherMetadataHandle
	releaseErrs []error
}

func (d *metadataDecoder) skip(field PropertyField, err error) {
	if IsKind(err, KindReleaseFailed) {
		d.releaseErrs = append(d.releaseErrs, err)
		return
	}
	d.m.c.log.Debug().Err(err).Str("publisher", d.m.name).Str("field", field.Name).Msg("Publisher property unavailable")
}

// plain drops any handle a scalar property unexpectedly carries.
func (d *metadataDecoder) plain(field PropertyField, v Variant) Variant {
	switch v.(type) {
	case *EvtHandle, Array:
		if err := ReleaseVariant(v); err != nil {
			d.skip(field, err)
		}
		return nil
	}
	return v
}

func (d *metadataDecoder) field(field PropertyField) Variant {
	v, err := d.m.Field(field)
	if err != nil {
		d.skip(field, err)
		return nil
	}
	return d.plain(field, v)
}

// itemGetter returns one property of the current object array item, or nil.
type itemGetter func(PropertyField) Variant

func decodeCollection[T any](d *metadataDecoder, field PropertyField, item func(itemGetter) T) []T {
	v, err := d.m.Field(field)
	if err != nil {
		d.skip(field, err)
		return nil
	}
	h, ok := v.(*EvtHandle)
	if !ok {
		d.plain(field, v)
		return nil
	}
	defer func() {
		if err := h.Close(); err != nil {
			d.skip(field, err)
		}
	}()

	c := d.m.c
	n, err := c.api.GetObjectArraySize(h.Handle())
	if err != nil {
		d.skip(field, c.classify("get object array size", err))
		return nil
	}

	items := make([]T, 0, n)
	for i := range n {
		items = append(items, item(func(pf PropertyField) Variant {
			b, err := fetch(c, d.m.buf, "get object array property "+pf.Name, func(p []byte) (uint32, error) {
				return c.api.GetObjectArrayProperty(h.Handle(), pf.ID, i, p)
			}, c.classify)
			if err != nil {
				d.skip(pf, err)
				return nil
			}
			v, err := c.Decoder().Decode(b)
			if err != nil {
				d.skip(pf, err)
				return nil
			}
			return d.plain(pf, v)
		}))
	}
	return items
}

func asString(v Variant) (string, bool) {
	switch v := v.(type) {
	case String:
		return string(v), true
	case AnsiString:
		return string(v), true
	}
	return "", false
}

func asUint32(v Variant) (uint32, bool) {
	switch v := v.(type) {
	case Uint32:
		return uint32(v), true
	case HexInt32:
		return uint32(v), true
	case Int32:
		return uint32(v), true
	case Uint16:
		return uint32(v), true
	case Uint8:
		return uint32(v), true
	}
	return 0, false
}

func asUint64(v Variant) (uint64, bool) {
	switch v := v.(type) {
	case Uint64:
		return uint64(v), true
	case HexInt64:
		return uint64(v), true
	case Int64:
		return uint64(v), true
	}
	if u, ok := asUint32(v); ok {
		return uint64(u), true
	}
	return 0, false
}
