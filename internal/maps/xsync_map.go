package maps

import "github.com/puzpuzpuz/xsync/v4"

// XSyncMap implements ConcurrentMap on puzpuzpuz/xsync/v4.
type XSyncMap[K Key, V any] struct {
	m *xsync.Map[K, V]
}

// NewXSyncMap creates a new XSyncMap, returning it as a ConcurrentMap.
func NewXSyncMap[K Key, V any]() ConcurrentMap[K, V] {
	return &XSyncMap[K, V]{m: xsync.NewMap[K, V]()}
}

func (m *XSyncMap[K, V]) Load(key K) (V, bool) { return m.m.Load(key) }
func (m *XSyncMap[K, V]) Store(key K, value V) { m.m.Store(key, value) }
func (m *XSyncMap[K, V]) Delete(key K)         { m.m.Delete(key) }

func (m *XSyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	return m.m.LoadAndDelete(key)
}

// LoadOrStore calls valueFactory at most once per missing key.
func (m *XSyncMap[K, V]) LoadOrStore(key K, valueFactory func() V) (V, bool) {
	// The second return of the compute func cancels the store; never cancel.
	return m.m.LoadOrCompute(key, func() (V, bool) {
		return valueFactory(), false
	})
}

// Update runs updateFunc atomically for the key.
func (m *XSyncMap[K, V]) Update(key K, updateFunc func(value V, exists bool) (newValue V, keep bool)) {
	m.m.Compute(key, func(oldValue V, loaded bool) (V, xsync.ComputeOp) {
		newVal, keep := updateFunc(oldValue, loaded)
		if keep {
			return newVal, xsync.UpdateOp
		}
		var zero V
		return zero, xsync.DeleteOp
	})
}

func (m *XSyncMap[K, V]) Range(f func(key K, value V) bool) { m.m.Range(f) }
func (m *XSyncMap[K, V]) Len() int                         { return m.m.Size() }
