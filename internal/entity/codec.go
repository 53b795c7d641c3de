// Package entity implements the generic indexed record store: a codec for
// stored values, an ordered per-type index with cursor pagination, and
// create / get / mutate / delete / list / seed operations over any
// domain.PersistentStore.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"

	"fleetcore/pkg/domain"
)

// Record is the contract every stored value satisfies: a string identity
// that the store can read and assign.
type Record[T any] interface {
	RecordID() string
	WithRecordID(id string) T
}

// Codec converts records to and from their stored JSON representation.
// Decoding starts from the descriptor's zero value so top-level fields that
// are missing or null in the payload take their template defaults.
type Codec[T Record[T]] struct {
	zero []byte
}

// NewCodec builds a codec around the zero-value template.
func NewCodec[T Record[T]](zero T) (Codec[T], error) {
	b, err := json.Marshal(zero)
	if err != nil {
		return Codec[T]{}, fmt.Errorf("encode zero value: %w", err)
	}
	return Codec[T]{zero: b}, nil
}

// Encode serializes v. Records without an id are rejected.
func (c Codec[T]) Encode(v T) ([]byte, error) {
	if v.RecordID() == "" {
		return nil, domain.Invalid("id", "required")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// Decode deserializes data on top of the zero template.
func (c Codec[T]) Decode(data []byte) (T, error) {
	var v T
	if len(c.zero) > 0 {
		if err := json.Unmarshal(c.zero, &v); err != nil {
			return v, fmt.Errorf("decode zero value: %w", err)
		}
	}
	if err := json.Unmarshal(dropNulls(data), &v); err != nil {
		var zero T
		return zero, fmt.Errorf("decode record: %w", err)
	}
	return v, nil
}

// dropNulls removes top-level null members so they cannot clear template
// values. Payloads that are not JSON objects are returned unchanged.
func dropNulls(data []byte) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	dropped := false
	for k, raw := range fields {
		if string(bytes.TrimSpace(raw)) == "null" {
			delete(fields, k)
			dropped = true
		}
	}
	if !dropped {
		return data
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return out
}
