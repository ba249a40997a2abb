package wevt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"wevt_dumper/internal/evtapi"

	"github.com/google/uuid"
)

// Variant is one decoded EVT_VARIANT. The concrete types below are the only
// implementations. A nil Variant means the value's type is not supported.
type Variant interface {
	variant()
}

type (
	Null       struct{}
	Bool       bool
	Int8       int8
	Uint8      uint8
	Int16      int16
	Uint16     uint16
	Int32      int32
	Uint32     uint32
	Int64      int64
	Uint64     uint64
	Float32    float32
	Float64    float64
	String     string
	AnsiString string
	Binary     []byte
	SizeT      uint64
	SID        string
	HexInt32   uint32
	HexInt64   uint64
	XML        string
	// FileTime is a FILETIME converted to UTC.
	FileTime struct{ time.Time }
	// SysTime is a SYSTEMTIME, taken as UTC.
	SysTime struct{ time.Time }
	// Array holds the elements of an array variant in order.
	Array []Variant
)

func (Null) variant()       {}
func (Bool) variant()       {}
func (Int8) variant()       {}
func (Uint8) variant()      {}
func (Int16) variant()      {}
func (Uint16) variant()     {}
func (Int32) variant()      {}
func (Uint32) variant()     {}
func (Int64) variant()      {}
func (Uint64) variant()     {}
func (Float32) variant()    {}
func (Float64) variant()    {}
func (String) variant()     {}
func (AnsiString) variant() {}
func (Binary) variant()     {}
func (GUID) variant()       {}
func (SizeT) variant()      {}
func (FileTime) variant()   {}
func (SysTime) variant()    {}
func (SID) variant()        {}
func (HexInt32) variant()   {}
func (HexInt64) variant()   {}
func (XML) variant()        {}
func (*EvtHandle) variant() {}
func (Array) variant()      {}

// GUID is a Windows GUID.
type GUID evtapi.GUID

// String formats g as canonical upper-case 8-4-4-4-12 hex.
func (g GUID) String() string {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = byte(g.Data1>>24), byte(g.Data1>>16), byte(g.Data1>>8), byte(g.Data1)
	u[4], u[5] = byte(g.Data2>>8), byte(g.Data2)
	u[6], u[7] = byte(g.Data3>>8), byte(g.Data3)
	copy(u[8:], g.Data4[:])
	return strings.ToUpper(u.String())
}

func (g GUID) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

// ParseGUID parses the canonical form, with or without braces.
func ParseGUID(s string) (GUID, error) {
	u, err := uuid.Parse(strings.Trim(s, "{}"))
	if err != nil {
		return GUID{}, fmt.Errorf("parse guid %q: %w", s, err)
	}
	var g GUID
	g.Data1 = uint32(u[0])<<24 | uint32(u[1])<<16 | uint32(u[2])<<8 | uint32(u[3])
	g.Data2 = uint16(u[4])<<8 | uint16(u[5])
	g.Data3 = uint16(u[6])<<8 | uint16(u[7])
	copy(g.Data4[:], u[8:])
	return g, nil
}

// EvtHandle is a handle carried inside a variant. The variant owns it.
type EvtHandle struct {
	h *ResourceHandle
}

// Handle returns the raw handle, still owned by v.
func (v *EvtHandle) Handle() evtapi.Handle { return v.h.Handle() }

// Close releases the handle. Later calls return nil.
func (v *EvtHandle) Close() error { return v.h.Close() }

// ReleaseVariant closes every handle owned by v. It is a no-op for plain
// values.
func ReleaseVariant(v Variant) error {
	switch v := v.(type) {
	case *EvtHandle:
		return v.Close()
	case Array:
		var errs []error
		for _, elem := range v {
			errs = append(errs, ReleaseVariant(elem))
		}
		return errors.Join(errs...)
	}
	return nil
}

// ReleaseVariants closes the handles owned by every element of vs.
func ReleaseVariants(vs []Variant) error {
	return ReleaseVariant(Array(vs))
}
