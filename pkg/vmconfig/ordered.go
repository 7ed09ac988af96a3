package vmconfig

// OrderedMap is a map that remembers the order in which keys were first
// inserted. Re-setting an existing key replaces its value in place.
//
// The zero OrderedMap is empty and ready to use.
type OrderedMap[K comparable, V any] struct {
	keys  []K
	items map[K]V
}

// NewOrderedMap creates an empty ordered map.
func NewOrderedMap[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{items: make(map[K]V)}
}

// Set stores v under k. A new key is appended; an existing key keeps its position.
func (m *OrderedMap[K, V]) Set(k K, v V) {
	if m.items == nil {
		m.items = make(map[K]V)
	}
	if _, ok := m.items[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.items[k] = v
}

// Get returns the value stored under k.
func (m *OrderedMap[K, V]) Get(k K) (V, bool) {
	v, ok := m.items[k]
	return v, ok
}

// Has reports whether k is present.
func (m *OrderedMap[K, V]) Has(k K) bool {
	_, ok := m.items[k]
	return ok
}

// Delete removes k, preserving the order of the remaining keys.
func (m *OrderedMap[K, V]) Delete(k K) {
	if _, ok := m.items[k]; !ok {
		return
	}
	delete(m.items, k)
	for i, key := range m.keys {
		if key == k {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (m *OrderedMap[K, V]) Len() int {
	return len(m.keys)
}

// Keys returns a copy of the keys in insertion order.
func (m *OrderedMap[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Values returns the values in insertion order.
func (m *OrderedMap[K, V]) Values() []V {
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.items[k])
	}
	return out
}

// Each calls fn for every entry in insertion order.
func (m *OrderedMap[K, V]) Each(fn func(K, V)) {
	for _, k := range m.keys {
		fn(k, m.items[k])
	}
}

// Clone returns a copy of the map. When copyFn is non-nil it is applied to
// every value.
func (m *OrderedMap[K, V]) Clone(copyFn func(V) V) *OrderedMap[K, V] {
	out := &OrderedMap[K, V]{
		keys:  make([]K, len(m.keys)),
		items: make(map[K]V, len(m.items)),
	}
	copy(out.keys, m.keys)
	for k, v := range m.items {
		if copyFn != nil {
			v = copyFn(v)
		}
		out.items[k] = v
	}
	return out
}
