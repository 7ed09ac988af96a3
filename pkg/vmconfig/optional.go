package vmconfig

import (
	"encoding/json"
)

// Value holds a configuration value that may never have been set.
//
// The zero Value is unset. A Value set to the zero value of T (false, "", 0,
// nil) is still set, which is what lets Finalize tell "never touched" apart
// from "explicitly disabled".
type Value[T any] struct {
	v   T
	set bool
}

// Set returns a Value holding v.
func Set[T any](v T) Value[T] {
	return Value[T]{v: v, set: true}
}

// Unset returns an unset Value.
func Unset[T any]() Value[T] {
	return Value[T]{}
}

// IsSet reports whether the value was ever assigned.
func (o Value[T]) IsSet() bool {
	return o.set
}

// Get returns the held value and whether it is set.
func (o Value[T]) Get() (T, bool) {
	return o.v, o.set
}

// Or returns the held value, or def when unset.
func (o Value[T]) Or(def T) T {
	if !o.set {
		return def
	}
	return o.v
}

// orDefault replaces an unset value with def.
func (o Value[T]) orDefault(def T) Value[T] {
	if o.set {
		return o
	}
	return Set(def)
}

// overlay returns over when it is set, otherwise o.
func (o Value[T]) overlay(over Value[T]) Value[T] {
	if over.set {
		return over
	}
	return o
}

// MarshalJSON renders unset values as null.
func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

// MarshalYAML renders unset values as null.
func (o Value[T]) MarshalYAML() (interface{}, error) {
	if !o.set {
		return nil, nil
	}
	return o.v, nil
}
