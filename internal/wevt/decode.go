package wevt

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
	"unsafe"

	"wevt_dumper/internal/evtapi"

	"golang.org/x/text/encoding/charmap"
)

var le = binary.LittleEndian

// Decoder turns filled EVT_VARIANT buffers into Variants. Pointer members are
// absolute addresses inside the buffer the OS filled; they are resolved as
// offsets from the start of that buffer and bounds-checked.
type Decoder struct {
	c *Client
}

// Decoder returns a decoder whose handle variants are owned through c.
func (c *Client) Decoder() Decoder { return Decoder{c: c} }

// Decode decodes the variant at the start of buf.
func (d Decoder) Decode(buf []byte) (Variant, error) {
	return d.decodeAt(buf, 0)
}

// DecodeAll decodes count consecutive variants, as produced by value
// rendering. On failure the handles already decoded are released.
func (d Decoder) DecodeAll(buf []byte, count int) ([]Variant, error) {
	if count < 0 || count > len(buf)/evtapi.VariantSize {
		return nil, invalid("%d values do not fit %d bytes", count, len(buf))
	}
	out := make([]Variant, 0, count)
	for i := range count {
		v, err := d.decodeAt(buf, i*evtapi.VariantSize)
		if err != nil {
			return nil, joinRelease(err, out)
		}
		out = append(out, v)
	}
	return out, nil
}

func joinRelease(err error, decoded []Variant) error {
	if rerr := ReleaseVariants(decoded); rerr != nil {
		return fmt.Errorf("%w (releasing decoded values: %w)", err, rerr)
	}
	return err
}

func invalid(format string, args ...any) error {
	return &Error{Kind: KindInvalidEncoding, Op: "decode variant", Message: fmt.Sprintf(format, args...)}
}

func (d Decoder) decodeAt(buf []byte, at int) (Variant, error) {
	if at < 0 || at+evtapi.VariantSize > len(buf) {
		return nil, invalid("variant at %d does not fit a %d byte buffer", at, len(buf))
	}
	count := le.Uint32(buf[at+evtapi.VariantCountOffset:])
	typ := le.Uint32(buf[at+evtapi.VariantTypeOffset:])
	base := typ & evtapi.EVT_VARIANT_TYPE_MASK

	if typ&evtapi.EVT_VARIANT_TYPE_ARRAY != 0 {
		return d.array(buf, at, base, count)
	}
	if base == evtapi.EvtVarTypeNull {
		return Null{}, nil
	}
	if base == evtapi.EvtVarTypeBinary {
		p, ok, err := pointee(buf, at, int(count))
		if err != nil || !ok {
			return Binary(nil), err
		}
		return Binary(append([]byte(nil), buf[p:p+int(count)]...)), nil
	}
	return d.element(buf, at, base, false)
}

func (d Decoder) array(buf []byte, at int, base, count uint32) (Variant, error) {
	size := evtapi.ElementSize(base)
	if size == 0 {
		d.c.log.Debug().Uint32("type", base).Msg("Unsupported array variant type")
		return nil, nil
	}
	if uint64(count)*uint64(size) > uint64(len(buf)) {
		return nil, invalid("array of %d elements of %d bytes exceeds a %d byte buffer", count, size, len(buf))
	}
	p, ok, err := pointee(buf, at, int(count)*size)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Array{}, nil
	}
	elems := make(Array, 0, count)
	for i := range int(count) {
		v, err := d.element(buf, p+i*size, base, true)
		if err != nil {
			return nil, joinRelease(err, elems)
		}
		elems = append(elems, v)
	}
	return elems, nil
}

// pointee resolves the pointer stored at buf[at:] to an offset into buf with
// at least n bytes behind it. ok is false for a NULL pointer.
func pointee(buf []byte, at, n int) (int, bool, error) {
	if at+evtapi.PtrSize > len(buf) {
		return 0, false, invalid("pointer at %d outside a %d byte buffer", at, len(buf))
	}
	var ptr uint64
	if evtapi.PtrSize == 8 {
		ptr = le.Uint64(buf[at:])
	} else {
		ptr = uint64(le.Uint32(buf[at:]))
	}
	if ptr == 0 {
		return 0, false, nil
	}
	base := uint64(uintptr(unsafe.Pointer(&buf[0])))
	if ptr < base || ptr-base > uint64(len(buf)) || ptr-base+uint64(n) > uint64(len(buf)) {
		return 0, false, invalid("pointer %#x outside buffer [%#x, %#x)", ptr, base, base+uint64(len(buf)))
	}
	return int(ptr - base), true, nil
}

// element decodes one value of type base stored at buf[at:]. GUIDs and
// SYSTEMTIMEs are pointed to from a variant but stored in place in arrays;
// inline selects the array form.
func (d Decoder) element(buf []byte, at int, base uint32, inline bool) (Variant, error) {
	size := evtapi.ElementSize(base)
	if size == 0 {
		d.c.log.Debug().Uint32("type", base).Msg("Unsupported variant type")
		return nil, nil
	}
	if at+size > len(buf) {
		return nil, invalid("type %d value at %d outside a %d byte buffer", base, at, len(buf))
	}
	v := buf[at:]

	switch base {
	case evtapi.EvtVarTypeSByte:
		return Int8(int8(v[0])), nil
	case evtapi.EvtVarTypeByte:
		return Uint8(v[0]), nil
	case evtapi.EvtVarTypeInt16:
		return Int16(int16(le.Uint16(v))), nil
	case evtapi.EvtVarTypeUInt16:
		return Uint16(le.Uint16(v)), nil
	case evtapi.EvtVarTypeInt32:
		return Int32(int32(le.Uint32(v))), nil
	case evtapi.EvtVarTypeUInt32:
		return Uint32(le.Uint32(v)), nil
	case evtapi.EvtVarTypeHexInt32:
		return HexInt32(le.Uint32(v)), nil
	case evtapi.EvtVarTypeInt64:
		return Int64(int64(le.Uint64(v))), nil
	case evtapi.EvtVarTypeUInt64:
		return Uint64(le.Uint64(v)), nil
	case evtapi.EvtVarTypeHexInt64:
		return HexInt64(le.Uint64(v)), nil
	case evtapi.EvtVarTypeSingle:
		return Float32(math.Float32frombits(le.Uint32(v))), nil
	case evtapi.EvtVarTypeDouble:
		return Float64(math.Float64frombits(le.Uint64(v))), nil
	case evtapi.EvtVarTypeBoolean:
		return Bool(le.Uint32(v) != 0), nil
	case evtapi.EvtVarTypeFileTime:
		return FileTime{filetimeToTime(le.Uint64(v))}, nil
	case evtapi.EvtVarTypeSizeT:
		if evtapi.PtrSize == 8 {
			return SizeT(le.Uint64(v)), nil
		}
		return SizeT(le.Uint32(v)), nil
	case evtapi.EvtVarTypeEvtHandle:
		var h uint64
		if evtapi.PtrSize == 8 {
			h = le.Uint64(v)
		} else {
			h = uint64(le.Uint32(v))
		}
		if h == 0 {
			return Null{}, nil
		}
		return &EvtHandle{h: d.c.adopt("variant", evtapi.Handle(h))}, nil
	}

	// The rest live behind a pointer, except in-array GUIDs and SYSTEMTIMEs.
	p := at
	if !inline || (base != evtapi.EvtVarTypeGuid && base != evtapi.EvtVarTypeSysTime) {
		ptr, ok, err := pointee(buf, at, 0)
		if err != nil {
			return nil, err
		}
		if !ok {
			return Null{}, nil
		}
		p = ptr
	}

	switch base {
	case evtapi.EvtVarTypeString:
		s, err := readUTF16(buf, p)
		return String(s), err
	case evtapi.EvtVarTypeEvtXml:
		s, err := readUTF16(buf, p)
		return XML(s), err
	case evtapi.EvtVarTypeAnsiString:
		s, err := readANSI(buf, p)
		return AnsiString(s), err
	case evtapi.EvtVarTypeGuid:
		if p+evtapi.GUIDSize > len(buf) {
			return nil, invalid("guid at %d outside a %d byte buffer", p, len(buf))
		}
		return readGUID(buf[p:]), nil
	case evtapi.EvtVarTypeSysTime:
		if p+evtapi.SystemTimeSize > len(buf) {
			return nil, invalid("systemtime at %d outside a %d byte buffer", p, len(buf))
		}
		return SysTime{systemtimeToTime(buf[p:])}, nil
	case evtapi.EvtVarTypeSid:
		s, err := readSID(buf, p)
		return SID(s), err
	}
	return nil, nil
}

// readUTF16 reads a NUL-terminated UTF-16 string starting at buf[p].
func readUTF16(buf []byte, p int) (string, error) {
	var u []uint16
	for i := p; i+1 < len(buf); i += 2 {
		c := le.Uint16(buf[i:])
		if c == 0 {
			return string(utf16.Decode(u)), nil
		}
		u = append(u, c)
	}
	return "", invalid("unterminated string at %d", p)
}

// readANSI reads a NUL-terminated Windows-1252 string starting at buf[p].
func readANSI(buf []byte, p int) (string, error) {
	for i := p; i < len(buf); i++ {
		if buf[i] == 0 {
			s, err := charmap.Windows1252.NewDecoder().Bytes(buf[p:i])
			if err != nil {
				return "", invalid("ansi string at %d: %v", p, err)
			}
			return string(s), nil
		}
	}
	return "", invalid("unterminated ansi string at %d", p)
}

func readGUID(b []byte) GUID {
	var g GUID
	g.Data1 = le.Uint32(b)
	g.Data2 = le.Uint16(b[4:])
	g.Data3 = le.Uint16(b[6:])
	copy(g.Data4[:], b[8:16])
	return g
}

// readSID formats the binary SID at buf[p] as S-R-I-S-S...
func readSID(buf []byte, p int) (string, error) {
	if p+8 > len(buf) {
		return "", invalid("sid at %d outside a %d byte buffer", p, len(buf))
	}
	revision, subCount := buf[p], int(buf[p+1])
	if p+8+4*subCount > len(buf) {
		return "", invalid("sid at %d with %d sub-authorities outside a %d byte buffer", p, subCount, len(buf))
	}
	var authority uint64
	for _, b := range buf[p+2 : p+8] {
		authority = authority<<8 | uint64(b)
	}

	var sb strings.Builder
	sb.WriteString("S-")
	sb.WriteString(strconv.Itoa(int(revision)))
	sb.WriteByte('-')
	if authority >= 1<<32 {
		sb.WriteString(fmt.Sprintf("0x%012X", authority))
	} else {
		sb.WriteString(strconv.FormatUint(authority, 10))
	}
	for i := range subCount {
		sb.WriteByte('-')
		sb.WriteString(strconv.FormatUint(uint64(le.Uint32(buf[p+8+4*i:])), 10))
	}
	return sb.String(), nil
}

// unixEpochFiletime is 1970-01-01 in 100ns ticks since 1601-01-01.
const unixEpochFiletime = 116444736000000000

func filetimeToTime(ft uint64) time.Time {
	d := int64(ft - unixEpochFiletime)
	return time.Unix(d/1e7, (d%1e7)*100).UTC()
}

func systemtimeToTime(b []byte) time.Time {
	return time.Date(
		int(le.Uint16(b[0:])),
		time.Month(le.Uint16(b[2:])),
		int(le.Uint16(b[6:])),
		int(le.Uint16(b[8:])),
		int(le.Uint16(b[10:])),
		int(le.Uint16(b[12:])),
		int(le.Uint16(b[14:]))*int(time.Millisecond),
		time.UTC,
	)
}
