package fakeevtapi

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
	"unsafe"

	"wevt_dumper/internal/evtapi"
)

// Value is one EVT_VARIANT handed out by the fake. Data holds the Go value of
// the base type (int8, uint16, string, []byte, evtapi.GUID, evtapi.SYSTEMTIME,
// *ObjectArray for handles, ...); arrays carry a []any of such values.
type Value struct {
	Type uint32
	Data any
}

func String(s string) Value       { return Value{Type: evtapi.EvtVarTypeString, Data: s} }
func AnsiString(s string) Value   { return Value{Type: evtapi.EvtVarTypeAnsiString, Data: s} }
func UInt16(v uint16) Value       { return Value{Type: evtapi.EvtVarTypeUInt16, Data: v} }
func UInt32(v uint32) Value       { return Value{Type: evtapi.EvtVarTypeUInt32, Data: v} }
func UInt64(v uint64) Value       { return Value{Type: evtapi.EvtVarTypeUInt64, Data: v} }
func Bool(v bool) Value           { return Value{Type: evtapi.EvtVarTypeBoolean, Data: v} }
func GUID(g evtapi.GUID) Value    { return Value{Type: evtapi.EvtVarTypeGuid, Data: g} }
func FileTime(ft uint64) Value    { return Value{Type: evtapi.EvtVarTypeFileTime, Data: ft} }
func Binary(b []byte) Value       { return Value{Type: evtapi.EvtVarTypeBinary, Data: b} }
func SID(raw []byte) Value        { return Value{Type: evtapi.EvtVarTypeSid, Data: raw} }
func Null() Value                 { return Value{Type: evtapi.EvtVarTypeNull} }
func Handle(a *ObjectArray) Value { return Value{Type: evtapi.EvtVarTypeEvtHandle, Data: a} }

// Array builds an array variant of the given base type.
func Array(baseType uint32, elems ...any) Value {
	return Value{Type: baseType | evtapi.EVT_VARIANT_TYPE_ARRAY, Data: elems}
}

type encoder struct {
	buf       []byte
	base      uintptr
	newHandle func(*ObjectArray) evtapi.Handle
}

func (e *encoder) reserve(n, align int) int {
	for len(e.buf)%align != 0 {
		e.buf = append(e.buf, 0)
	}
	off := len(e.buf)
	e.buf = append(e.buf, make([]byte, n)...)
	return off
}

func (e *encoder) putUintptr(at int, v uint64) {
	if evtapi.PtrSize == 8 {
		binary.LittleEndian.PutUint64(e.buf[at:], v)
	} else {
		binary.LittleEndian.PutUint32(e.buf[at:], uint32(v))
	}
}

func (e *encoder) putPtr(at, target int) {
	e.putUintptr(at, uint64(e.base)+uint64(target))
}

func (e *encoder) variants(values []Value) error {
	e.reserve(len(values)*evtapi.VariantSize, 8)
	for i, v := range values {
		if err := e.variant(i*evtapi.VariantSize, v); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) variant(at int, v Value) error {
	base := v.Type & evtapi.EVT_VARIANT_TYPE_MASK
	var count uint32

	switch {
	case v.Type&evtapi.EVT_VARIANT_TYPE_ARRAY != 0:
		elems, ok := v.Data.([]any)
		if !ok {
			return fmt.Errorf("array value must carry []any, got %T", v.Data)
		}
		size := evtapi.ElementSize(base)
		if size == 0 {
			return fmt.Errorf("type %d has no array form", base)
		}
		off := e.reserve(len(elems)*size, 8)
		e.putPtr(at, off)
		for i, elem := range elems {
			if err := e.element(off+i*size, base, elem, true); err != nil {
				return err
			}
		}
		count = uint32(len(elems))
	case base == evtapi.EvtVarTypeBinary:
		b, _ := v.Data.([]byte)
		count = uint32(len(b))
		if err := e.element(at, base, v.Data, false); err != nil {
			return err
		}
	case base == evtapi.EvtVarTypeNull:
	default:
		if err := e.element(at, base, v.Data, false); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint32(e.buf[at+evtapi.VariantCountOffset:], count)
	binary.LittleEndian.PutUint32(e.buf[at+evtapi.VariantTypeOffset:], v.Type)
	return nil
}

// element writes one value at at. GUIDs and SYSTEMTIMEs are pointed to from
// a variant but stored in place inside an array, which inline selects.
func (e *encoder) element(at int, base uint32, val any, inline bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("value %v (%T) does not fit type %d", val, val, base)
		}
	}()

	le := binary.LittleEndian
	switch base {
	case evtapi.EvtVarTypeSByte:
		e.buf[at] = byte(val.(int8))
	case evtapi.EvtVarTypeByte:
		e.buf[at] = val.(uint8)
	case evtapi.EvtVarTypeInt16:
		le.PutUint16(e.buf[at:], uint16(val.(int16)))
	case evtapi.EvtVarTypeUInt16:
		le.PutUint16(e.buf[at:], val.(uint16))
	case evtapi.EvtVarTypeInt32:
		le.PutUint32(e.buf[at:], uint32(val.(int32)))
	case evtapi.EvtVarTypeUInt32, evtapi.EvtVarTypeHexInt32:
		le.PutUint32(e.buf[at:], val.(uint32))
	case evtapi.EvtVarTypeInt64:
		le.PutUint64(e.buf[at:], uint64(val.(int64)))
	case evtapi.EvtVarTypeUInt64, evtapi.EvtVarTypeHexInt64, evtapi.EvtVarTypeFileTime:
		le.PutUint64(e.buf[at:], val.(uint64))
	case evtapi.EvtVarTypeSingle:
		le.PutUint32(e.buf[at:], math.Float32bits(val.(float32)))
	case evtapi.EvtVarTypeDouble:
		le.PutUint64(e.buf[at:], math.Float64bits(val.(float64)))
	case evtapi.EvtVarTypeBoolean:
		if val.(bool) {
			le.PutUint32(e.buf[at:], 1)
		} else {
			le.PutUint32(e.buf[at:], 0)
		}
	case evtapi.EvtVarTypeSizeT:
		e.putUintptr(at, val.(uint64))
	case evtapi.EvtVarTypeString, evtapi.EvtVarTypeEvtXml:
		u := utf16.Encode([]rune(val.(string)))
		off := e.reserve((len(u)+1)*2, 2)
		for i, c := range u {
			le.PutUint16(e.buf[off+i*2:], c)
		}
		e.putPtr(at, off)
	case evtapi.EvtVarTypeAnsiString:
		s := val.(string)
		off := e.reserve(len(s)+1, 1)
		copy(e.buf[off:], s)
		e.putPtr(at, off)
	case evtapi.EvtVarTypeBinary, evtapi.EvtVarTypeSid:
		b := val.([]byte)
		off := e.reserve(len(b), 4)
		copy(e.buf[off:], b)
		e.putPtr(at, off)
	case evtapi.EvtVarTypeGuid:
		g := val.(evtapi.GUID)
		off := at
		if !inline {
			off = e.reserve(evtapi.GUIDSize, 4)
		}
		le.PutUint32(e.buf[off:], g.Data1)
		le.PutUint16(e.buf[off+4:], g.Data2)
		le.PutUint16(e.buf[off+6:], g.Data3)
		copy(e.buf[off+8:], g.Data4[:])
		if !inline {
			e.putPtr(at, off)
		}
	case evtapi.EvtVarTypeSysTime:
		st := val.(evtapi.SYSTEMTIME)
		off := at
		if !inline {
			off = e.reserve(evtapi.SystemTimeSize, 2)
		}
		for i, f := range []uint16{st.Year, st.Month, st.DayOfWeek, st.Day, st.Hour, st.Minute, st.Second, st.Milliseconds} {
			le.PutUint16(e.buf[off+i*2:], f)
		}
		if !inline {
			e.putPtr(at, off)
		}
	case evtapi.EvtVarTypeEvtHandle:
		var h evtapi.Handle
		if e.newHandle != nil {
			h = e.newHandle(val.(*ObjectArray))
		}
		e.putUintptr(at, uint64(h))
	default:
		return fmt.Errorf("unsupported type %d", base)
	}
	return nil
}

// encodeInto lays values out the way wevtapi does: variant headers first,
// payloads after, pointers absolute within dst. It reports the required size
// and whether dst was large enough. Handles are only allocated when the
// payload is actually written.
func encodeInto(dst []byte, values []Value, newHandle func(*ObjectArray) evtapi.Handle) (int, bool, error) {
	sizing := &encoder{}
	if err := sizing.variants(values); err != nil {
		return 0, false, err
	}
	required := len(sizing.buf)
	if required == 0 {
		return 0, true, nil
	}
	if len(dst) < required {
		return required, false, nil
	}

	e := &encoder{
		buf:       make([]byte, 0, required),
		base:      uintptr(unsafe.Pointer(&dst[0])),
		newHandle: newHandle,
	}
	if err := e.variants(values); err != nil {
		return 0, false, err
	}
	copy(dst, e.buf)
	return required, true, nil
}

// Encode lays values out into dst with no handle allocation. It is exported
// for decoder tests that build payloads directly.
func Encode(dst []byte, values ...Value) (int, bool, error) {
	return encodeInto(dst, values, nil)
}
