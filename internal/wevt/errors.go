package wevt

import (
	"fmt"
	"io"
	"syscall"

	"wevt_dumper/internal/evtapi"
)

// Kind classifies every failure the package reports.
type Kind uint8

const (
	// KindNoMoreItems ends an iteration. Sequences report it as io.EOF.
	KindNoMoreItems Kind = iota + 1
	// KindInsufficientBuffer is consumed by the buffer growth loop and never
	// returned to callers.
	KindInsufficientBuffer
	// KindInvalidEncoding means a text or variant payload could not be read.
	KindInvalidEncoding
	// KindKnownOS is a catalogued event log status code with a static message.
	KindKnownOS
	// KindExtendedOS is an uncatalogued code explained by the extended status.
	KindExtendedOS
	// KindGenericOS is an uncatalogued code with no extra text.
	KindGenericOS
	// KindBufferLimitExceeded means a call asked for more buffer than allowed.
	KindBufferLimitExceeded
	// KindAcquisitionFailed means an open call returned no handle.
	KindAcquisitionFailed
	// KindReleaseFailed means EvtClose failed.
	KindReleaseFailed
)

func (k Kind) String() string {
	switch k {
	case KindNoMoreItems:
		return "no more items"
	case KindInsufficientBuffer:
		return "insufficient buffer"
	case KindInvalidEncoding:
		return "invalid encoding"
	case KindKnownOS:
		return "known os error"
	case KindExtendedOS:
		return "extended os error"
	case KindGenericOS:
		return "os error"
	case KindBufferLimitExceeded:
		return "buffer limit exceeded"
	case KindAcquisitionFailed:
		return "acquisition failed"
	case KindReleaseFailed:
		return "release failed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is the error type returned by this package.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "open query".
	Op string
	// Code is the Win32 status code, when one is involved.
	Code uint32
	// Message is the catalogued or extended status text.
	Message string
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindKnownOS, KindExtendedOS:
		msg = fmt.Sprintf("evt error %d: %s", e.Code, e.Message)
	case KindGenericOS:
		msg = fmt.Sprintf("os error %d", e.Code)
	case KindAcquisitionFailed, KindReleaseFailed, KindInvalidEncoding, KindBufferLimitExceeded:
		msg = e.Kind.String()
		if e.Message != "" {
			msg += " (" + e.Message + ")"
		}
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
	default:
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by Kind, and by Code when the sentinel carries one.
// KindNoMoreItems also matches io.EOF.
func (e *Error) Is(target error) bool {
	if target == io.EOF {
		return e.Kind == KindNoMoreItems
	}
	t, ok := target.(*Error)
	if !ok || t.Kind != e.Kind {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

var (
	ErrNoMoreItems         = &Error{Kind: KindNoMoreItems}
	ErrInvalidEncoding     = &Error{Kind: KindInvalidEncoding}
	ErrKnownOS             = &Error{Kind: KindKnownOS}
	ErrExtendedOS          = &Error{Kind: KindExtendedOS}
	ErrGenericOS           = &Error{Kind: KindGenericOS}
	ErrBufferLimitExceeded = &Error{Kind: KindBufferLimitExceeded}
	ErrAcquisitionFailed   = &Error{Kind: KindAcquisitionFailed}
	ErrReleaseFailed       = &Error{Kind: KindReleaseFailed}

	ErrChannelNotFound           = &Error{Kind: KindKnownOS, Code: uint32(evtapi.ERROR_EVT_CHANNEL_NOT_FOUND)}
	ErrInvalidQuery              = &Error{Kind: KindKnownOS, Code: uint32(evtapi.ERROR_EVT_INVALID_QUERY)}
	ErrPublisherMetadataNotFound = &Error{Kind: KindKnownOS, Code: uint32(evtapi.ERROR_EVT_PUBLISHER_METADATA_NOT_FOUND)}
	ErrPublisherDisabled         = &Error{Kind: KindKnownOS, Code: uint32(evtapi.ERROR_EVT_PUBLISHER_DISABLED)}
)

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == k {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// statusMessages is the catalog of event log status codes.
var statusMessages = map[syscall.Errno]string{
	evtapi.ERROR_EVT_CANNOT_OPEN_CHANNEL_OF_QUERY:                  "cannot open channel of query",
	evtapi.ERROR_EVT_CHANNEL_CANNOT_ACTIVATE:                       "channel cannot activate",
	evtapi.ERROR_EVT_CHANNEL_NOT_FOUND:                             "channel not found",
	evtapi.ERROR_EVT_CONFIGURATION_ERROR:                           "configuration error",
	evtapi.ERROR_EVT_EVENT_DEFINITION_NOT_FOUND:                    "event definition not found",
	evtapi.ERROR_EVT_EVENT_TEMPLATE_NOT_FOUND:                      "event template not found",
	evtapi.ERROR_EVT_FILTER_ALREADYSCOPED:                          "filter alreadyscoped",
	evtapi.ERROR_EVT_FILTER_INVARG:                                 "filter invarg",
	evtapi.ERROR_EVT_FILTER_INVTEST:                                "filter invtest",
	evtapi.ERROR_EVT_FILTER_INVTYPE:                                "filter invtype",
	evtapi.ERROR_EVT_FILTER_NOTELTSET:                              "filter noteltset",
	evtapi.ERROR_EVT_FILTER_OUT_OF_RANGE:                           "filter out of range",
	evtapi.ERROR_EVT_FILTER_PARSEERR:                               "filter parseerr",
	evtapi.ERROR_EVT_FILTER_TOO_COMPLEX:                            "filter too complex",
	evtapi.ERROR_EVT_FILTER_UNEXPECTEDTOKEN:                        "filter unexpectedtoken",
	evtapi.ERROR_EVT_FILTER_UNSUPPORTEDOP:                          "filter unsupportedop",
	evtapi.ERROR_EVT_INVALID_CHANNEL_PATH:                          "invalid channel path",
	evtapi.ERROR_EVT_INVALID_CHANNEL_PROPERTY_VALUE:                "invalid channel property value",
	evtapi.ERROR_EVT_INVALID_EVENT_DATA:                            "invalid event data",
	evtapi.ERROR_EVT_INVALID_OPERATION_OVER_ENABLED_DIRECT_CHANNEL: "invalid operation over enabled direct channel",
	evtapi.ERROR_EVT_INVALID_PUBLISHER_NAME:                        "invalid publisher name",
	evtapi.ERROR_EVT_INVALID_PUBLISHER_PROPERTY_VALUE:              "invalid publisher property value",
	evtapi.ERROR_EVT_INVALID_QUERY:                                 "invalid query",
	evtapi.ERROR_EVT_MALFORMED_XML_TEXT:                            "malformed xml text",
	evtapi.ERROR_EVT_MAX_INSERTS_REACHED:                           "max inserts reached",
	evtapi.ERROR_EVT_MESSAGE_ID_NOT_FOUND:                          "message id not found",
	evtapi.ERROR_EVT_MESSAGE_LOCALE_NOT_FOUND:                      "message locale not found",
	evtapi.ERROR_EVT_MESSAGE_NOT_FOUND:                             "message not found",
	evtapi.ERROR_EVT_NON_VALIDATING_MSXML:                          "non validating msxml",
	evtapi.ERROR_EVT_PUBLISHER_DISABLED:                            "publisher disabled",
	evtapi.ERROR_EVT_PUBLISHER_METADATA_NOT_FOUND:                  "publisher metadata not found",
	evtapi.ERROR_EVT_QUERY_RESULT_INVALID_POSITION:                 "query result invalid position",
	evtapi.ERROR_EVT_QUERY_RESULT_STALE:                            "query result stale",
	evtapi.ERROR_EVT_SUBSCRIPTION_TO_DIRECT_CHANNEL:                "subscription to direct channel",
	evtapi.ERROR_EVT_UNRESOLVED_PARAMETER_INSERT:                   "unresolved parameter insert",
	evtapi.ERROR_EVT_UNRESOLVED_VALUE_INSERT:                       "unresolved value insert",
	evtapi.ERROR_EVT_VERSION_TOO_NEW:                               "version too new",
	evtapi.ERROR_EVT_VERSION_TOO_OLD:                               "version too old",
}

// FromStatus classifies a status code. Uncatalogued codes consult extended,
// which should return the service's extended status text; it may be nil.
func FromStatus(code uint32, extended func() (string, bool)) *Error {
	errno := syscall.Errno(code)
	switch errno {
	case evtapi.ERROR_NO_MORE_ITEMS:
		return &Error{Kind: KindNoMoreItems, Code: code}
	case evtapi.ERROR_INSUFFICIENT_BUFFER:
		return &Error{Kind: KindInsufficientBuffer, Code: code}
	}

	if msg, ok := statusMessages[errno]; ok {
		return &Error{Kind: KindKnownOS, Code: code, Message: msg}
	}
	if extended != nil {
		if msg, ok := extended(); ok {
			return &Error{Kind: KindExtendedOS, Code: code, Message: msg}
		}
	}
	return &Error{Kind: KindGenericOS, Code: code, Err: errno}
}
