//go:build windows

package evtapi

import (
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	wevtapi = windows.NewLazySystemDLL("wevtapi.dll")

	procEvtOpenChannelEnum              = wevtapi.NewProc("EvtOpenChannelEnum")
	procEvtNextChannelPath              = wevtapi.NewProc("EvtNextChannelPath")
	procEvtOpenPublisherEnum            = wevtapi.NewProc("EvtOpenPublisherEnum")
	procEvtNextPublisherId              = wevtapi.NewProc("EvtNextPublisherId")
	procEvtQuery                        = wevtapi.NewProc("EvtQuery")
	procEvtNext                         = wevtapi.NewProc("EvtNext")
	procEvtRender                       = wevtapi.NewProc("EvtRender")
	procEvtCreateRenderContext          = wevtapi.NewProc("EvtCreateRenderContext")
	procEvtOpenPublisherMetadata        = wevtapi.NewProc("EvtOpenPublisherMetadata")
	procEvtGetPublisherMetadataProperty = wevtapi.NewProc("EvtGetPublisherMetadataProperty")
	procEvtGetObjectArraySize           = wevtapi.NewProc("EvtGetObjectArraySize")
	procEvtGetObjectArrayProperty       = wevtapi.NewProc("EvtGetObjectArrayProperty")
	procEvtGetExtendedStatus            = wevtapi.NewProc("EvtGetExtendedStatus")
	procEvtClose                        = wevtapi.NewProc("EvtClose")
)

// maxExtendedStatus caps the extended status text, in characters.
const maxExtendedStatus = 64 << 10

// systemAPI calls straight into wevtapi.dll against the local session.
type systemAPI struct{}

// SystemAPI returns the API implementation backed by wevtapi.dll.
func SystemAPI() (API, error) {
	if err := wevtapi.Load(); err != nil {
		return nil, err
	}
	return systemAPI{}, nil
}

// call runs proc with the goroutine locked to its OS thread. wevtapi keeps
// the extended status per thread, so on failure it is read before the
// thread is released. A zero r1 is a failure.
//
//go:uintptrescapes
func call(proc *windows.LazyProc, args ...uintptr) (uintptr, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r1, _, err := proc.Call(args...)
	if r1 != 0 {
		return r1, nil
	}
	// The lazy proc always hands back a non-nil error, even on success.
	errno, ok := err.(syscall.Errno)
	if !ok || errno == 0 {
		errno = ERROR_INVALID_OPERATION
	}
	switch errno {
	case ERROR_INSUFFICIENT_BUFFER, ERROR_NO_MORE_ITEMS, ERROR_TIMEOUT:
		return 0, errno
	}
	if text := extendedStatus(); text != "" {
		return 0, &StatusError{Errno: errno, Extended: text}
	}
	return 0, errno
}

// extendedStatus reads EvtGetExtendedStatus of the calling thread. It must
// run on the thread that made the failed call.
func extendedStatus() string {
	buf := make([]uint16, 256)
	for {
		var used uint32
		r1, _, _ := procEvtGetExtendedStatus.Call(
			uintptr(len(buf)),
			uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
			uintptr(unsafe.Pointer(&used)),
		)
		switch syscall.Errno(r1) {
		case 0:
			return windows.UTF16ToString(buf[:min(int(used), len(buf))])
		case ERROR_INSUFFICIENT_BUFFER:
			if int(used) <= len(buf) || used > maxExtendedStatus {
				return ""
			}
			buf = make([]uint16, used)
		default:
			return ""
		}
	}
}

func openHandle(r1 uintptr, err error) (Handle, error) {
	if err != nil {
		return InvalidHandle, err
	}
	return Handle(r1), nil
}

// optionalString returns NULL for an empty string.
func optionalString(s string) (*uint16, error) {
	if s == "" {
		return nil, nil
	}
	return windows.UTF16PtrFromString(s)
}

func (systemAPI) OpenChannelEnum() (Handle, error) {
	return openHandle(call(procEvtOpenChannelEnum, 0, 0))
}

func (systemAPI) NextChannelPath(enum Handle, buf []uint16) (uint32, error) {
	var used uint32
	_, err := call(procEvtNextChannelPath,
		uintptr(enum),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
		uintptr(unsafe.Pointer(&used)),
	)
	return used, err
}

func (systemAPI) OpenPublisherEnum() (Handle, error) {
	return openHandle(call(procEvtOpenPublisherEnum, 0, 0))
}

func (systemAPI) NextPublisherID(enum Handle, buf []uint16) (uint32, error) {
	var used uint32
	_, err := call(procEvtNextPublisherId,
		uintptr(enum),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
		uintptr(unsafe.Pointer(&used)),
	)
	return used, err
}

func (systemAPI) Query(path, filter string, flags uint32) (Handle, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return InvalidHandle, ERROR_INVALID_PARAMETER
	}
	filterPtr, err := optionalString(filter)
	if err != nil {
		return InvalidHandle, ERROR_INVALID_PARAMETER
	}
	return openHandle(call(procEvtQuery,
		0,
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(filterPtr)),
		uintptr(flags),
	))
}

func (systemAPI) Next(query Handle, events []Handle, timeout uint32) (uint32, error) {
	if len(events) == 0 {
		return 0, ERROR_INVALID_PARAMETER
	}
	var returned uint32
	if _, err := call(procEvtNext,
		uintptr(query),
		uintptr(len(events)),
		uintptr(unsafe.Pointer(&events[0])),
		uintptr(timeout),
		0,
		uintptr(unsafe.Pointer(&returned)),
	); err != nil {
		return 0, err
	}
	return returned, nil
}

// RenderXML reports sizes in characters; EvtRender itself counts bytes.
func (systemAPI) RenderXML(event Handle, buf []uint16) (uint32, error) {
	var usedBytes, count uint32
	_, err := call(procEvtRender,
		0,
		uintptr(event),
		uintptr(EvtRenderEventXml),
		uintptr(len(buf)*2),
		uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
		uintptr(unsafe.Pointer(&usedBytes)),
		uintptr(unsafe.Pointer(&count)),
	)
	return (usedBytes + 1) / 2, err
}

func (systemAPI) CreateRenderContext(valuePaths []string, flags uint32) (Handle, error) {
	paths := make([]*uint16, 0, len(valuePaths))
	for _, p := range valuePaths {
		u, err := windows.UTF16PtrFromString(p)
		if err != nil {
			return InvalidHandle, ERROR_INVALID_PARAMETER
		}
		paths = append(paths, u)
	}
	return openHandle(call(procEvtCreateRenderContext,
		uintptr(len(paths)),
		uintptr(unsafe.Pointer(unsafe.SliceData(paths))),
		uintptr(flags),
	))
}

func (systemAPI) RenderValues(context, event Handle, buf []byte) (uint32, uint32, error) {
	var used, count uint32
	_, err := call(procEvtRender,
		uintptr(context),
		uintptr(event),
		uintptr(EvtRenderEventValues),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
		uintptr(unsafe.Pointer(&used)),
		uintptr(unsafe.Pointer(&count)),
	)
	return used, count, err
}

func (systemAPI) OpenPublisherMetadata(publisher string, locale uint32) (Handle, error) {
	name, err := windows.UTF16PtrFromString(publisher)
	if err != nil {
		return InvalidHandle, ERROR_INVALID_PARAMETER
	}
	return openHandle(call(procEvtOpenPublisherMetadata,
		0,
		uintptr(unsafe.Pointer(name)),
		0,
		uintptr(locale),
		0,
	))
}

func (systemAPI) GetPublisherMetadataProperty(metadata Handle, propertyID uint32, buf []byte) (uint32, error) {
	var used uint32
	_, err := call(procEvtGetPublisherMetadataProperty,
		uintptr(metadata),
		uintptr(propertyID),
		0,
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
		uintptr(unsafe.Pointer(&used)),
	)
	return used, err
}

func (systemAPI) GetObjectArraySize(array Handle) (uint32, error) {
	var size uint32
	if _, err := call(procEvtGetObjectArraySize,
		uintptr(array),
		uintptr(unsafe.Pointer(&size)),
	); err != nil {
		return 0, err
	}
	return size, nil
}

func (systemAPI) GetObjectArrayProperty(array Handle, propertyID, index uint32, buf []byte) (uint32, error) {
	var used uint32
	_, err := call(procEvtGetObjectArrayProperty,
		uintptr(array),
		uintptr(propertyID),
		uintptr(index),
		0,
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
		uintptr(unsafe.Pointer(&used)),
	)
	return used, err
}

func (systemAPI) Close(h Handle) error {
	_, err := call(procEvtClose, uintptr(h))
	return err
}
