package maps

import "fmt"

// Backend names a ConcurrentMap implementation.
type Backend string

const (
	BackendXSync   Backend = "xsync"
	BackendSharded Backend = "sharded"
	BackendCornelk Backend = "cornelk"
	BackendSync    Backend = "sync"
)

// DefaultBackend is used when no backend is configured.
const DefaultBackend = BackendXSync

// Integer is a constraint that permits any integer type.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Key permits integer and string keys, the types every backend can hash.
type Key interface {
	Integer | ~string
}

// ConcurrentMap defines a generic, thread-safe map interface.
// This abstraction allows swapping the underlying implementation without
// changing the callers.
type ConcurrentMap[K Key, V any] interface {
	Load(key K) (V, bool)
	Store(key K, value V)
	Delete(key K)
	LoadAndDelete(key K) (V, bool)
	// LoadOrStore returns the existing value, or stores and returns the
	// factory's value. loaded reports whether the value was already present.
	LoadOrStore(key K, valueFactory func() V) (actual V, loaded bool)
	Update(key K, updateFunc func(value V, exists bool) (newValue V, keep bool))
	Range(f func(key K, value V) bool)
	Len() int
}

// ParseBackend validates a backend name. An empty name selects DefaultBackend.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(name); b {
	case "":
		return DefaultBackend, nil
	case BackendXSync, BackendSharded, BackendCornelk, BackendSync:
		return b, nil
	default:
		return "", fmt.Errorf("unknown map backend %q (valid: xsync, sharded, cornelk, sync)", name)
	}
}

// NewConcurrentMap returns a map backed by the given implementation.
// Unknown backends fall back to DefaultBackend.
func NewConcurrentMap[K Key, V any](backend Backend) ConcurrentMap[K, V] {
	switch backend {
	case BackendSharded:
		return NewShardedMap[K, V]()
	case BackendCornelk:
		return NewCornelkMap[K, V]()
	case BackendSync:
		return NewStdSyncMap[K, V]()
	default:
		return NewXSyncMap[K, V]()
	}
}
