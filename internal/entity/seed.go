package entity

import (
	"context"

	"fleetcore/pkg/domain"
)

// EnsureSeed writes the descriptor's seed set at most once in the lifetime of
// the backend. The set commits in one transaction together with a marker at
// _seeded/<type>; a type whose marker exists, or whose index is already
// non-empty, is never seeded again, even after all of its records are deleted.
func (s *Store[T]) EnsureSeed(ctx context.Context) error {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if s.seeded {
		return nil
	}
	if len(s.desc.Seed) == 0 {
		s.seeded = true
		return nil
	}
	err := s.backend.RunInTransaction(ctx, func(tx domain.KVTransaction) error {
		ix, err := loadIndex(ctx, tx, s.desc.Name)
		if err != nil {
			return err
		}
		_, marked, err := tx.Get(ctx, seedMarkerKey(s.desc.Name))
		if err != nil || marked {
			return err
		}
		tx.Put(seedMarkerKey(s.desc.Name), []byte("true"))
		if ix.Len() > 0 {
			return nil
		}
		for _, rec := range s.desc.Seed {
			id := rec.RecordID()
			if id == "" {
				id = s.ids.NewID()
				rec = rec.WithRecordID(id)
			}
			if err := validateID(id); err != nil {
				return err
			}
			data, err := s.codec.Encode(rec)
			if err != nil {
				return err
			}
			stored, err := s.codec.Decode(data)
			if err != nil {
				return err
			}
			if err := s.insert(ctx, tx, id, stored, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.fail("seed", "", err)
	}
	s.seeded = true
	return nil
}
