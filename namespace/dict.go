package namespace

// Item is a single key/value pair.
type Item struct {
	Key   string
	Value any
}

// Dict is a map-backed Namespace that preserves insertion order and
// implements the full mapping protocol: read/write/delete, update,
// setdefault, pop, popitem, fromkeys, copy and clear.
type Dict struct {
	values map[string]any
	order  []string
}

// NewDict creates an empty Dict.
func NewDict() *Dict {
	return &Dict{values: map[string]any{}}
}

// DictFrom creates a Dict seeded with the given values. Go randomizes map
// iteration, so callers that need a deterministic insertion order should
// Set keys individually instead.
func DictFrom(values map[string]any) *Dict {
	d := NewDict()
	for k, v := range values {
		d.Set(k, v)
	}
	return d
}

// FromKeys creates a Dict with the given keys all bound to the same value.
func FromKeys(keys []string, value any) *Dict {
	d := NewDict()
	for _, k := range keys {
		d.Set(k, value)
	}
	return d
}

// Get returns the value bound to key and whether the key is present.
func (d *Dict) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Set binds key to value, overwriting any existing binding.
func (d *Dict) Set(key string, value any) {
	if _, exists := d.values[key]; !exists {
		d.order = append(d.order, key)
	}
	d.values[key] = value
}

// Delete removes the binding for key, reporting whether it existed.
func (d *Dict) Delete(key string) bool {
	if _, exists := d.values[key]; !exists {
		return false
	}
	delete(d.values, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether key is bound.
func (d *Dict) Contains(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Len returns the number of bindings.
func (d *Dict) Len() int {
	return len(d.values)
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	keys := make([]string, len(d.order))
	copy(keys, d.order)
	return keys
}

// Items returns the key/value pairs in insertion order.
func (d *Dict) Items() []Item {
	items := make([]Item, 0, len(d.order))
	for _, k := range d.order {
		items = append(items, Item{Key: k, Value: d.values[k]})
	}
	return items
}

// Map returns a copy of the bindings as a plain map.
func (d *Dict) Map() map[string]any {
	m := make(map[string]any, len(d.values))
	for k, v := range d.values {
		m[k] = v
	}
	return m
}

// Copy returns a shallow copy of the Dict.
func (d *Dict) Copy() *Dict {
	cp := NewDict()
	for _, k := range d.order {
		cp.Set(k, d.values[k])
	}
	return cp
}

// Clear removes all bindings.
func (d *Dict) Clear() {
	d.values = map[string]any{}
	d.order = nil
}

// Update copies all bindings from the other namespace into this one.
func (d *Dict) Update(other Namespace) {
	for _, k := range other.Keys() {
		if v, ok := other.Get(k); ok {
			d.Set(k, v)
		}
	}
}

// SetDefault returns the value bound to key, first binding it to fallback
// if the key is absent.
func (d *Dict) SetDefault(key string, fallback any) any {
	if v, ok := d.values[key]; ok {
		return v
	}
	d.Set(key, fallback)
	return fallback
}

// Pop removes and returns the value bound to key. The boolean reports
// whether the key was present; when it is false, fallback is returned.
func (d *Dict) Pop(key string, fallback any) (any, bool) {
	v, ok := d.values[key]
	if !ok {
		return fallback, false
	}
	d.Delete(key)
	return v, true
}

// PopItem removes and returns the most recently inserted pair. The boolean
// is false when the Dict is empty.
func (d *Dict) PopItem() (Item, bool) {
	if len(d.order) == 0 {
		return Item{}, false
	}
	key := d.order[len(d.order)-1]
	value := d.values[key]
	d.Delete(key)
	return Item{Key: key, Value: value}, true
}
