// Package optional provides an explicit optional value type for fields that
// are absent until some lifecycle event sets them.
package optional

import (
	"bytes"
	"encoding/json"
)

// Value holds either a T or nothing. The zero Value is absent.
type Value[T any] struct {
	v   T
	set bool
}

// Some returns a present Value wrapping v.
func Some[T any](v T) Value[T] {
	return Value[T]{v: v, set: true}
}

// Get returns the wrapped value and whether it is present.
func (o Value[T]) Get() (T, bool) {
	return o.v, o.set
}

// IsSet reports whether the value is present.
func (o Value[T]) IsSet() bool {
	return o.set
}

// OrElse returns the wrapped value, or def when absent.
func (o Value[T]) OrElse(def T) T {
	if !o.set {
		return def
	}
	return o.v
}

// MarshalJSON encodes an absent value as null.
func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

// UnmarshalJSON decodes null as absent.
func (o *Value[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Value[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
