package entity

import (
	"encoding/base64"
	"encoding/json"

	"fleetcore/pkg/domain"
)

// Page limits applied by List.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// cursorToken is the decoded form of an opaque page cursor. After is the
// last id returned; Offset is the position just past it when it was issued.
type cursorToken struct {
	Type   domain.EntityType `json:"t"`
	After  string            `json:"a"`
	Offset int               `json:"o"`
}

func encodeCursor(c cursorToken) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(raw string, name domain.EntityType) (cursorToken, error) {
	var c cursorToken
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return c, domain.ErrInvalidCursor
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, domain.ErrInvalidCursor
	}
	if c.Type != name || c.After == "" || c.Offset < 0 {
		return c, domain.ErrInvalidCursor
	}
	return c, nil
}

// Page is one slice of a listing. Next is nil on the final page.
type Page[T any] struct {
	Items []T     `json:"items"`
	Next  *string `json:"next"`
}

// ListOptions tune a List call. Limit <= 0 selects DefaultLimit; larger
// values are capped at MaxLimit.
type ListOptions struct {
	Limit  int
	Cursor string
}

func (o ListOptions) limit(def int) int {
	switch {
	case o.Limit <= 0:
		return def
	case o.Limit > MaxLimit:
		return MaxLimit
	default:
		return o.Limit
	}
}
