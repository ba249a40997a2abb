// Package evtapi describes the Windows Event Log (wevtapi) surface used by
// the rest of the module as a Go interface, so the real DLL can be swapped for
// an in-memory fake in tests.
//
// Every method mirrors one wevtapi function. Sizes are expressed in units of
// the buffer element type (bytes for []byte, characters for []uint16); the
// windows implementation converts byte counts reported by the OS at this
// boundary. Failures are returned as syscall.Errno values, or as a
// *StatusError when the service left extended status text for the call.
package evtapi

import (
	"errors"
	"syscall"
)

// Handle is an opaque EVT_HANDLE.
type Handle uintptr

// InvalidHandle is the NULL handle returned by a failed open call.
const InvalidHandle Handle = 0

// ErrUnsupportedPlatform is returned by SystemAPI on non-windows builds.
var ErrUnsupportedPlatform = errors.New("the windows event log service is only available on windows")

// API is the set of wevtapi operations the core consumes.
type API interface {
	// EvtOpenChannelEnum / EvtNextChannelPath
	OpenChannelEnum() (Handle, error)
	NextChannelPath(enum Handle, buf []uint16) (used uint32, err error)

	// EvtOpenPublisherEnum / EvtNextPublisherId
	OpenPublisherEnum() (Handle, error)
	NextPublisherID(enum Handle, buf []uint16) (used uint32, err error)

	// EvtQuery / EvtNext
	Query(path, filter string, flags uint32) (Handle, error)
	Next(query Handle, events []Handle, timeout uint32) (returned uint32, err error)

	// EvtRender with EvtRenderEventXml. used is reported in characters.
	RenderXML(event Handle, buf []uint16) (used uint32, err error)

	// EvtCreateRenderContext / EvtRender with EvtRenderEventValues.
	CreateRenderContext(valuePaths []string, flags uint32) (Handle, error)
	RenderValues(context, event Handle, buf []byte) (used, count uint32, err error)

	// EvtOpenPublisherMetadata / EvtGetPublisherMetadataProperty
	OpenPublisherMetadata(publisher string, locale uint32) (Handle, error)
	GetPublisherMetadataProperty(metadata Handle, propertyID uint32, buf []byte) (used uint32, err error)

	// EvtGetObjectArraySize / EvtGetObjectArrayProperty
	GetObjectArraySize(array Handle) (uint32, error)
	GetObjectArrayProperty(array Handle, propertyID, index uint32, buf []byte) (used uint32, err error)

	// EvtClose
	Close(h Handle) error
}

// Win32 status codes returned by the event log service.
const (
	ERROR_SUCCESS             syscall.Errno = 0
	ERROR_INVALID_HANDLE      syscall.Errno = 6
	ERROR_NOT_SUPPORTED       syscall.Errno = 50
	ERROR_INVALID_PARAMETER   syscall.Errno = 87
	ERROR_INSUFFICIENT_BUFFER syscall.Errno = 122
	ERROR_NO_MORE_ITEMS       syscall.Errno = 259
	ERROR_TIMEOUT             syscall.Errno = 1460
	ERROR_INVALID_OPERATION   syscall.Errno = 4317

	ERROR_EVT_INVALID_CHANNEL_PATH                          syscall.Errno = 15000
	ERROR_EVT_INVALID_QUERY                                 syscall.Errno = 15001
	ERROR_EVT_PUBLISHER_METADATA_NOT_FOUND                  syscall.Errno = 15002
	ERROR_EVT_EVENT_TEMPLATE_NOT_FOUND                      syscall.Errno = 15003
	ERROR_EVT_INVALID_PUBLISHER_NAME                        syscall.Errno = 15004
	ERROR_EVT_INVALID_EVENT_DATA                            syscall.Errno = 15005
	ERROR_EVT_CHANNEL_NOT_FOUND                             syscall.Errno = 15007
	ERROR_EVT_MALFORMED_XML_TEXT                            syscall.Errno = 15008
	ERROR_EVT_SUBSCRIPTION_TO_DIRECT_CHANNEL                syscall.Errno = 15009
	ERROR_EVT_CONFIGURATION_ERROR                           syscall.Errno = 15010
	ERROR_EVT_QUERY_RESULT_STALE                            syscall.Errno = 15011
	ERROR_EVT_QUERY_RESULT_INVALID_POSITION                 syscall.Errno = 15012
	ERROR_EVT_NON_VALIDATING_MSXML                          syscall.Errno = 15013
	ERROR_EVT_FILTER_ALREADYSCOPED                          syscall.Errno = 15014
	ERROR_EVT_FILTER_NOTELTSET                              syscall.Errno = 15015
	ERROR_EVT_FILTER_INVARG                                 syscall.Errno = 15016
	ERROR_EVT_FILTER_INVTEST                                syscall.Errno = 15017
	ERROR_EVT_FILTER_INVTYPE                                syscall.Errno = 15018
	ERROR_EVT_FILTER_PARSEERR                               syscall.Errno = 15019
	ERROR_EVT_FILTER_UNSUPPORTEDOP                          syscall.Errno = 15020
	ERROR_EVT_FILTER_UNEXPECTEDTOKEN                        syscall.Errno = 15021
	ERROR_EVT_INVALID_OPERATION_OVER_ENABLED_DIRECT_CHANNEL syscall.Errno = 15022
	ERROR_EVT_INVALID_CHANNEL_PROPERTY_VALUE                syscall.Errno = 15023
	ERROR_EVT_INVALID_PUBLISHER_PROPERTY_VALUE              syscall.Errno = 15024
	ERROR_EVT_CHANNEL_CANNOT_ACTIVATE                       syscall.Errno = 15025
	ERROR_EVT_FILTER_TOO_COMPLEX                            syscall.Errno = 15026
	ERROR_EVT_MESSAGE_NOT_FOUND                             syscall.Errno = 15027
	ERROR_EVT_MESSAGE_ID_NOT_FOUND                          syscall.Errno = 15028
	ERROR_EVT_UNRESOLVED_VALUE_INSERT                       syscall.Errno = 15029
	ERROR_EVT_UNRESOLVED_PARAMETER_INSERT                   syscall.Errno = 15030
	ERROR_EVT_MAX_INSERTS_REACHED                           syscall.Errno = 15031
	ERROR_EVT_EVENT_DEFINITION_NOT_FOUND                    syscall.Errno = 15032
	ERROR_EVT_MESSAGE_LOCALE_NOT_FOUND                      syscall.Errno = 15033
	ERROR_EVT_VERSION_TOO_OLD                               syscall.Errno = 15034
	ERROR_EVT_VERSION_TOO_NEW                               syscall.Errno = 15035
	ERROR_EVT_CANNOT_OPEN_CHANNEL_OF_QUERY                  syscall.Errno = 15036
	ERROR_EVT_PUBLISHER_DISABLED                            syscall.Errno = 15037
	ERROR_EVT_FILTER_OUT_OF_RANGE                           syscall.Errno = 15038
)

// INFINITE wait for EvtNext.
const INFINITE uint32 = 0xFFFFFFFF

// EVT_QUERY_FLAGS
const (
	EvtQueryChannelPath         uint32 = 0x1
	EvtQueryFilePath            uint32 = 0x2
	EvtQueryForwardDirection    uint32 = 0x100
	EvtQueryReverseDirection    uint32 = 0x200
	EvtQueryTolerateQueryErrors uint32 = 0x1000
)

// EVT_RENDER_FLAGS
const (
	EvtRenderEventValues uint32 = 0
	EvtRenderEventXml    uint32 = 1
	EvtRenderBookmark    uint32 = 2
)

// EVT_RENDER_CONTEXT_FLAGS
const (
	EvtRenderContextValues uint32 = 0
	EvtRenderContextSystem uint32 = 1
	EvtRenderContextUser   uint32 = 2
)

// EVT_VARIANT_TYPE
const (
	EvtVarTypeNull       uint32 = 0
	EvtVarTypeString     uint32 = 1
	EvtVarTypeAnsiString uint32 = 2
	EvtVarTypeSByte      uint32 = 3
	EvtVarTypeByte       uint32 = 4
	EvtVarTypeInt16      uint32 = 5
	EvtVarTypeUInt16     uint32 = 6
	EvtVarTypeInt32      uint32 = 7
	EvtVarTypeUInt32     uint32 = 8
	EvtVarTypeInt64      uint32 = 9
	EvtVarTypeUInt64     uint32 = 10
	EvtVarTypeSingle     uint32 = 11
	EvtVarTypeDouble     uint32 = 12
	EvtVarTypeBoolean    uint32 = 13
	EvtVarTypeBinary     uint32 = 14
	EvtVarTypeGuid       uint32 = 15
	EvtVarTypeSizeT      uint32 = 16
	EvtVarTypeFileTime   uint32 = 17
	EvtVarTypeSysTime    uint32 = 18
	EvtVarTypeSid        uint32 = 19
	EvtVarTypeHexInt32   uint32 = 20
	EvtVarTypeHexInt64   uint32 = 21
	EvtVarTypeEvtHandle  uint32 = 32
	EvtVarTypeEvtXml     uint32 = 35

	EVT_VARIANT_TYPE_MASK  uint32 = 0x7f
	EVT_VARIANT_TYPE_ARRAY uint32 = 128
)

// EVT_VARIANT layout: an 8 byte value union followed by Count and Type.
const (
	VariantSize        = 16
	VariantCountOffset = 8
	VariantTypeOffset  = 12
)

// EVT_PUBLISHER_METADATA_PROPERTY_ID
const (
	EvtPublisherMetadataPublisherGuid uint32 = iota
	EvtPublisherMetadataResourceFilePath
	EvtPublisherMetadataParameterFilePath
	EvtPublisherMetadataMessageFilePath
	EvtPublisherMetadataHelpLink
	EvtPublisherMetadataPublisherMessageID
	EvtPublisherMetadataChannelReferences
	EvtPublisherMetadataChannelReferencePath
	EvtPublisherMetadataChannelReferenceIndex
	EvtPublisherMetadataChannelReferenceID
	EvtPublisherMetadataChannelReferenceFlags
	EvtPublisherMetadataChannelReferenceMessageID
	EvtPublisherMetadataLevels
	EvtPublisherMetadataLevelName
	EvtPublisherMetadataLevelValue
	EvtPublisherMetadataLevelMessageID
	EvtPublisherMetadataTasks
	EvtPublisherMetadataTaskName
	EvtPublisherMetadataTaskEventGuid
	EvtPublisherMetadataTaskValue
	EvtPublisherMetadataTaskMessageID
	EvtPublisherMetadataOpcodes
	EvtPublisherMetadataOpcodeName
	EvtPublisherMetadataOpcodeValue
	EvtPublisherMetadataOpcodeMessageID
	EvtPublisherMetadataKeywords
	EvtPublisherMetadataKeywordName
	EvtPublisherMetadataKeywordValue
	EvtPublisherMetadataKeywordMessageID
	EvtPublisherMetadataPropertyIdEND
)

// EVT_SYSTEM_PROPERTY_ID, the value order of a system render context.
const (
	EvtSystemProviderName uint32 = iota
	EvtSystemProviderGuid
	EvtSystemEventID
	EvtSystemQualifiers
	EvtSystemLevel
	EvtSystemTask
	EvtSystemOpcode
	EvtSystemKeywords
	EvtSystemTimeCreated
	EvtSystemEventRecordId
	EvtSystemActivityID
	EvtSystemRelatedActivityID
	EvtSystemProcessID
	EvtSystemThreadID
	EvtSystemChannel
	EvtSystemComputer
	EvtSystemUserID
	EvtSystemVersion
	EvtSystemPropertyIdEND
)

// EVT_CHANNEL_REFERENCE_FLAGS
const EvtChannelReferenceImported uint32 = 0x1

// LocaleEnglishUS is MAKELCID(MAKELANGID(LANG_ENGLISH, SUBLANG_ENGLISH_US), SORT_DEFAULT).
const LocaleEnglishUS uint32 = 0x0409

// StatusError is a failed call together with the EvtGetExtendedStatus text
// captured on the thread that made it.
type StatusError struct {
	Errno    syscall.Errno
	Extended string
}

func (e *StatusError) Error() string { return e.Errno.Error() + ": " + e.Extended }
func (e *StatusError) Unwrap() error { return e.Errno }

// ExtendedStatus returns the extended status text captured with err, if any.
func ExtendedStatus(err error) (string, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.Extended != "" {
		return se.Extended, true
	}
	return "", false
}

// AsErrno extracts the status code carried by err. Errors that are not a
// syscall.Errno report ok=false.
func AsErrno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
