// Package blobkv stores key/value state as objects in a blob store (local
// filesystem, S3 or memory). Each key is one object under a common prefix.
//
// Commits are not atomic across objects: writes are applied in the order the
// transaction made them, so an interrupted commit leaves a prefix of the
// write-set applied. Callers order record writes before index writes and
// repair with an index reconcile on startup.
package blobkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"fleetcore/internal/blob"
	"fleetcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultPrefix namespaces fleetcore objects inside a shared bucket or directory.
const DefaultPrefix = "fleetcore/"

const contentType = "application/json"

// Store adapts a blob.Store to domain.PersistentStore. Transactions are
// serialized in-process.
type Store struct {
	blobs  blob.Store
	prefix string
	mu     sync.RWMutex
	closed bool
}

// NewStore wraps blobs, keeping every key under prefix.
func NewStore(blobs blob.Store, prefix string) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("blobkv: nil blob store")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{blobs: blobs, prefix: prefix}, nil
}

// Driver reports the blob storage driver.
func (s *Store) Driver() domain.StorageDriver { return domain.StorageBlob }

// Blobs returns the underlying blob store.
func (s *Store) Blobs() blob.Store { return s.blobs }

// Close marks the store unusable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// View runs fn against the objects currently stored.
func (s *Store) View(ctx context.Context, fn func(domain.KVReader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.StorageError("blob view", errClosed)
	}
	return fn(reader{s: s})
}

// RunInTransaction buffers fn's writes and applies them in order once fn succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.KVTransaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.StorageError("blob transaction", errClosed)
	}
	tx := &transaction{base: reader{s: s}, writes: make(map[string]write)}
	if err := fn(tx); err != nil {
		return err
	}
	for _, key := range tx.order {
		if err := ctx.Err(); err != nil {
			return domain.StorageError("blob commit", err)
		}
		w := tx.writes[key]
		if w.delete {
			if _, err := s.blobs.Delete(ctx, s.prefix+key); err != nil {
				return domain.StorageError("delete "+key, err)
			}
			continue
		}
		if _, err := s.blobs.Put(ctx, s.prefix+key, bytes.NewReader(w.value), blob.PutOptions{ContentType: contentType}); err != nil {
			return domain.StorageError("put "+key, err)
		}
	}
	return nil
}

var errClosed = errors.New("blob kv store closed")

type reader struct {
	s *Store
}

func (r reader) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_, rc, err := r.s.blobs.Get(ctx, r.s.prefix+key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.StorageError("get "+key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, domain.StorageError("read "+key, err)
	}
	return data, true, nil
}

func (r reader) Keys(ctx context.Context, prefix string) ([]string, error) {
	infos, err := r.s.blobs.List(ctx, r.s.prefix+prefix)
	if err != nil {
		return nil, domain.StorageError("list "+prefix, err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, strings.TrimPrefix(info.Key, r.s.prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

type write struct {
	value  []byte
	delete bool
}

type transaction struct {
	base   reader
	writes map[string]write
	order  []string
}

func (tx *transaction) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if w, ok := tx.writes[key]; ok {
		if w.delete {
			return nil, false, nil
		}
		return bytes.Clone(w.value), true, nil
	}
	return tx.base.Get(ctx, key)
}

func (tx *transaction) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := tx.base.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		seen[k] = struct{}{}
		if w, ok := tx.writes[k]; ok && w.delete {
			continue
		}
		out = append(out, k)
	}
	for k, w := range tx.writes {
		if _, ok := seen[k]; ok || w.delete || !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (tx *transaction) Put(key string, value []byte) {
	tx.record(key, write{value: bytes.Clone(value)})
}

func (tx *transaction) Delete(key string) {
	tx.record(key, write{delete: true})
}

func (tx *transaction) record(key string, w write) {
	if _, seen := tx.writes[key]; seen {
		for i, k := range tx.order {
			if k == key {
				tx.order = append(tx.order[:i], tx.order[i+1:]...)
				break
			}
		}
	}
	tx.writes[key] = w
	tx.order = append(tx.order, key)
}

// String describes the backing location for logs.
func (s *Store) String() string {
	return fmt.Sprintf("blob(%s:%s)", s.blobs.Driver(), s.prefix)
}
