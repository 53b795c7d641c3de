// Package memory provides an in-memory transactional key/value store used for
// tests, ephemeral environments and as the cache beneath the SQL backends.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"fleetcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("memory store closed")

// Write is one buffered mutation of a committed transaction. Delete writes
// carry no value.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// CommitHook runs with the ordered write-set before it is published. A hook
// error aborts the commit and leaves the store unchanged.
type CommitHook func(ctx context.Context, writes []Write) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook installs h as the durability step of every commit.
func WithCommitHook(h CommitHook) Option {
	return func(s *Store) { s.hook = h }
}

// WithDriver overrides the driver reported by Driver.
func WithDriver(d domain.StorageDriver) Option {
	return func(s *Store) { s.driver = d }
}

// Store keeps every value in a map guarded by a RWMutex. Transactions are
// serialized and see their own writes.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	hook   CommitHook
	driver domain.StorageDriver
	closed bool
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{data: make(map[string][]byte), driver: domain.StorageMemory}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver reports the configured storage driver.
func (s *Store) Driver() domain.StorageDriver { return s.driver }

// Close marks the store unusable. Data stays in memory until released.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ExportState clones the current contents for external persistence.
func (s *Store) ExportState() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		out[k] = clone(v)
	}
	return out
}

// ImportState replaces the store contents with state.
func (s *Store) ImportState(state map[string][]byte) {
	data := make(map[string][]byte, len(state))
	for k, v := range state {
		data[k] = clone(v)
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
}

// RunInTransaction executes fn against a write overlay of the current state
// and publishes the writes when fn succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.KVTransaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.StorageError("memory transaction", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &transaction{base: s.data, writes: make(map[string]Write)}
	if err := fn(tx); err != nil {
		return err
	}
	writes := tx.writeSet()
	if len(writes) == 0 {
		return nil
	}
	if s.hook != nil {
		if err := s.hook(ctx, writes); err != nil {
			return domain.StorageError("commit", err)
		}
	}
	for _, w := range writes {
		if w.Delete {
			delete(s.data, w.Key)
			continue
		}
		s.data[w.Key] = w.Value
	}
	return nil
}

// View executes fn against the committed state under a read lock.
func (s *Store) View(ctx context.Context, fn func(domain.KVReader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.StorageError("memory view", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(reader{data: s.data})
}

type reader struct {
	data map[string][]byte
}

func (r reader) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := r.data[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (r reader) Keys(_ context.Context, prefix string) ([]string, error) {
	return sortedKeys(r.data, prefix, nil), nil
}

// transaction buffers writes in the order they were last made.
type transaction struct {
	base   map[string][]byte
	writes map[string]Write
	order  []string
}

func (tx *transaction) Get(_ context.Context, key string) ([]byte, bool, error) {
	if w, ok := tx.writes[key]; ok {
		if w.Delete {
			return nil, false, nil
		}
		return clone(w.Value), true, nil
	}
	v, ok := tx.base[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (tx *transaction) Keys(_ context.Context, prefix string) ([]string, error) {
	return sortedKeys(tx.base, prefix, tx.writes), nil
}

func (tx *transaction) Put(key string, value []byte) {
	tx.record(Write{Key: key, Value: clone(value)})
}

func (tx *transaction) Delete(key string) {
	tx.record(Write{Key: key, Delete: true})
}

func (tx *transaction) record(w Write) {
	if _, seen := tx.writes[w.Key]; seen {
		for i, k := range tx.order {
			if k == w.Key {
				tx.order = append(tx.order[:i], tx.order[i+1:]...)
				break
			}
		}
	}
	tx.writes[w.Key] = w
	tx.order = append(tx.order, w.Key)
}

func (tx *transaction) writeSet() []Write {
	out := make([]Write, 0, len(tx.order))
	for _, k := range tx.order {
		out = append(out, tx.writes[k])
	}
	return out
}

func sortedKeys(base map[string][]byte, prefix string, overlay map[string]Write) []string {
	keys := make([]string, 0)
	for k := range base {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if w, ok := overlay[k]; ok && w.Delete {
			continue
		}
		keys = append(keys, k)
	}
	for k, w := range overlay {
		if w.Delete || !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := base[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
