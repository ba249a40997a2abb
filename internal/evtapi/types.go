package evtapi

// PtrSize is the width of a pointer member inside an EVT_VARIANT.
const PtrSize = 4 << (^uintptr(0) >> 63)

// GUID mirrors the windows GUID layout.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// GUIDSize is the encoded size of a GUID.
const GUIDSize = 16

// SYSTEMTIME mirrors the windows SYSTEMTIME layout.
type SYSTEMTIME struct {
	Year         uint16
	Month        uint16
	DayOfWeek    uint16
	Day          uint16
	Hour         uint16
	Minute       uint16
	Second       uint16
	Milliseconds uint16
}

// SystemTimeSize is the encoded size of a SYSTEMTIME.
const SystemTimeSize = 16

// ElementSize returns the in-buffer size of one element of the given base
// type, either inline in the variant union or as an array slot. Pointer-typed
// members (strings, SIDs, handles) report PtrSize. Zero means the type has no
// fixed element size.
func ElementSize(baseType uint32) int {
	switch baseType {
	case EvtVarTypeSByte, EvtVarTypeByte:
		return 1
	case EvtVarTypeInt16, EvtVarTypeUInt16:
		return 2
	case EvtVarTypeInt32, EvtVarTypeUInt32, EvtVarTypeSingle, EvtVarTypeBoolean, EvtVarTypeHexInt32:
		return 4
	case EvtVarTypeInt64, EvtVarTypeUInt64, EvtVarTypeDouble, EvtVarTypeFileTime, EvtVarTypeHexInt64:
		return 8
	case EvtVarTypeGuid:
		return GUIDSize
	case EvtVarTypeSysTime:
		return SystemTimeSize
	case EvtVarTypeSizeT, EvtVarTypeString, EvtVarTypeAnsiString, EvtVarTypeSid,
		EvtVarTypeEvtXml, EvtVarTypeEvtHandle:
		return PtrSize
	}
	return 0
}
