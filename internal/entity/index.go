package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fleetcore/pkg/domain"
)

const (
	indexPrefix  = "_index/"
	seededPrefix = "_seeded/"
	keySep       = "/"
)

func recordPrefix(name domain.EntityType) string { return string(name) + keySep }

func recordKey(name domain.EntityType, id string) string { return recordPrefix(name) + id }

func indexKey(name domain.EntityType) string { return indexPrefix + string(name) }

func seedMarkerKey(name domain.EntityType) string { return seededPrefix + string(name) }

// Index is the ordered id list of one entity type, oldest-created first.
// It never holds duplicates.
type Index struct {
	ids []string
	pos map[string]int
}

// NewIndex builds an index from ids, dropping repeats after the first occurrence.
func NewIndex(ids []string) *Index {
	ix := &Index{pos: make(map[string]int, len(ids))}
	for _, id := range ids {
		if _, dup := ix.pos[id]; dup || id == "" {
			continue
		}
		ix.pos[id] = len(ix.ids)
		ix.ids = append(ix.ids, id)
	}
	return ix
}

func loadIndex(ctx context.Context, r domain.KVReader, name domain.EntityType) (*Index, error) {
	data, ok, err := r.Get(ctx, indexKey(name))
	if err != nil {
		return nil, err
	}
	if !ok || len(data) == 0 {
		return NewIndex(nil), nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode %s index: %w", name, err)
	}
	return NewIndex(ids), nil
}

func (ix *Index) encode() ([]byte, error) {
	ids := ix.ids
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// Len returns the number of indexed ids.
func (ix *Index) Len() int { return len(ix.ids) }

// Contains reports whether id is indexed.
func (ix *Index) Contains(id string) bool {
	_, ok := ix.pos[id]
	return ok
}

// IDs returns a copy of the ordered ids.
func (ix *Index) IDs() []string {
	out := make([]string, len(ix.ids))
	copy(out, ix.ids)
	return out
}

// Append adds id at the end. It reports false when id is already present.
func (ix *Index) Append(id string) bool {
	if ix.Contains(id) {
		return false
	}
	ix.pos[id] = len(ix.ids)
	ix.ids = append(ix.ids, id)
	return true
}

// Remove deletes id by value and reports whether it was present.
func (ix *Index) Remove(id string) bool {
	at, ok := ix.pos[id]
	if !ok {
		return false
	}
	ix.ids = append(ix.ids[:at], ix.ids[at+1:]...)
	delete(ix.pos, id)
	for i := at; i < len(ix.ids); i++ {
		ix.pos[ix.ids[i]] = i
	}
	return true
}

// resume returns the position following the cursor. An anchor id that has
// since been deleted falls back to the recorded offset, clamped to the index.
func (ix *Index) resume(c cursorToken) int {
	if at, ok := ix.pos[c.After]; ok {
		return at + 1
	}
	switch {
	case c.Offset < 0:
		return 0
	case c.Offset > len(ix.ids):
		return len(ix.ids)
	default:
		return c.Offset
	}
}

func validateID(id string) error {
	switch {
	case id == "":
		return domain.Invalid("id", "required")
	case strings.Contains(id, keySep):
		return domain.Invalid("id", "must not contain "+keySep)
	case strings.TrimSpace(id) != id:
		return domain.Invalid("id", "must not have surrounding whitespace")
	case id == "." || id == "..":
		return domain.Invalid("id", "must not be a path element")
	}
	return nil
}
