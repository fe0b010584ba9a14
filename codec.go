package redisq

import "encoding/json"

// Codec serializes and deserializes values of type T to and from the
// string representation stored in Redis. deserialize(serialize(v)) must
// equal v for every v the core produces.
type Codec[T any] struct{}

// NewCodec returns a Codec for T backed by encoding/json.
func NewCodec[T any]() Codec[T] {
	return Codec[T]{}
}

// Serialize renders v as a string, or a *SerializationError on failure.
func (Codec[T]) Serialize(v T) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", &SerializationError{Value: v, Err: err}
	}
	return string(data), nil
}

// Deserialize parses raw back into a T, or a *DeserializationError on
// failure.
func (Codec[T]) Deserialize(raw string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, &DeserializationError{Raw: raw, Err: err}
	}
	return v, nil
}
