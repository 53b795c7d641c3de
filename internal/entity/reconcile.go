package entity

import (
	"context"
	"strings"

	"fleetcore/pkg/domain"
)

// ReconcileReport lists the index repairs made by Reconcile.
type ReconcileReport struct {
	Dropped []string `json:"dropped"`
	Adopted []string `json:"adopted"`
}

// Changed reports whether the index was rewritten.
func (r ReconcileReport) Changed() bool {
	return len(r.Dropped) > 0 || len(r.Adopted) > 0
}

// Reconcile rebuilds the index from the record keyspace after an interrupted
// write. Index ids without a record are dropped, records missing from the
// index are appended in key order, and duplicate ids collapse to their first
// position.
func (s *Store[T]) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	err := s.backend.RunInTransaction(ctx, func(tx domain.KVTransaction) error {
		prefix := recordPrefix(s.desc.Name)
		keys, err := tx.Keys(ctx, prefix)
		if err != nil {
			return err
		}
		stored := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			stored[strings.TrimPrefix(k, prefix)] = struct{}{}
		}

		raw, _, err := tx.Get(ctx, indexKey(s.desc.Name))
		if err != nil {
			return err
		}
		ix, err := loadIndex(ctx, tx, s.desc.Name)
		if err != nil {
			return err
		}
		rebuilt := NewIndex(nil)
		for _, id := range ix.ids {
			if _, ok := stored[id]; !ok {
				report.Dropped = append(report.Dropped, id)
				continue
			}
			rebuilt.Append(id)
		}
		for _, k := range keys {
			id := strings.TrimPrefix(k, prefix)
			if rebuilt.Append(id) {
				report.Adopted = append(report.Adopted, id)
			}
		}

		data, err := rebuilt.encode()
		if err != nil {
			return err
		}
		if !report.Changed() && string(data) == string(raw) {
			return nil
		}
		tx.Put(indexKey(s.desc.Name), data)
		return nil
	})
	if err != nil {
		return ReconcileReport{}, s.fail("reconcile", "", err)
	}
	return report, nil
}
