package genome

import (
	"bytes"
	"encoding/json"
)

// Optional is a tagged Known(value) | Unknown value. It replaces nullable
// columns so that callers branch on a type instead of sentinel values.
type Optional[T any] struct {
	value T
	known bool
}

// Some returns a known value.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, known: true} }

// None returns the unknown value.
func None[T any]() Optional[T] { return Optional[T]{} }

// FromPtr converts a nil-able pointer.
func FromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// Get returns the value and whether it is known.
func (o Optional[T]) Get() (T, bool) { return o.value, o.known }

// Known reports whether a value is present.
func (o Optional[T]) Known() bool { return o.known }

// OrElse returns the value or fallback when unknown.
func (o Optional[T]) OrElse(fallback T) T {
	if o.known {
		return o.value
	}
	return fallback
}

// Ptr returns a pointer to a copy of the value or nil.
func (o Optional[T]) Ptr() *T {
	if !o.known {
		return nil
	}
	v := o.value
	return &v
}

// MarshalJSON encodes Unknown as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.known {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as Unknown.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
