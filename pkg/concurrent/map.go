package concurrent

import (
	"iter"
	"sync"
	"sync/atomic"
)

// Map 是带计数的泛型 sync.Map
type Map[K comparable, V any] struct {
	length atomic.Int64
	data   sync.Map
}

// Len 当前元素个数
func (m *Map[K, V]) Len() int64 {
	return m.length.Load()
}

func (m *Map[K, V]) Load(key K) (V, bool) {
	value, ok := m.data.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return value.(V), true
}

func (m *Map[K, V]) Store(key K, value V) {
	if _, loaded := m.data.Swap(key, value); !loaded {
		m.length.Add(1)
	}
}

// LoadOrStore 已存在时返回旧值且 loaded 为 true
func (m *Map[K, V]) LoadOrStore(key K, value V) (V, bool) {
	actual, loaded := m.data.LoadOrStore(key, value)
	if !loaded {
		m.length.Add(1)
	}
	return actual.(V), loaded
}

func (m *Map[K, V]) Delete(key K) {
	if _, loaded := m.data.LoadAndDelete(key); loaded {
		m.length.Add(-1)
	}
}

// CompareAndDelete 仅当当前值等于 old 时删除，V 必须可比较
func (m *Map[K, V]) CompareAndDelete(key K, old V) bool {
	if m.data.CompareAndDelete(key, old) {
		m.length.Add(-1)
		return true
	}
	return false
}

func (m *Map[K, V]) Clear() {
	m.data.Clear()
	m.length.Store(0)
}

// Range 不保证一致性快照，f 返回 false 时停止
func (m *Map[K, V]) Range(f func(K, V) bool) {
	m.data.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.data.Range(func(key, value any) bool {
			return yield(key.(K), value.(V))
		})
	}
}
