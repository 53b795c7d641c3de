package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"fleetcore/pkg/domain"
)

// Descriptor names an entity type and carries its zero value, static seed set
// and optional rules evaluated before every write.
type Descriptor[T Record[T]] struct {
	Name  domain.EntityType
	Zero  T
	Seed  []T
	Rules *domain.RulesEngine[T]
}

// Registry enforces process-wide uniqueness of descriptor names.
type Registry struct {
	mu    sync.Mutex
	names map[domain.EntityType]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[domain.EntityType]struct{})}
}

// Claim reserves name, failing with ErrConflict when it is already taken.
func (r *Registry) Claim(name domain.EntityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.names[name]; taken {
		return fmt.Errorf("entity type %q already registered: %w", name, domain.ErrConflict)
	}
	r.names[name] = struct{}{}
	return nil
}

// Release frees name so a later store may claim it again.
func (r *Registry) Release(name domain.EntityType) {
	r.mu.Lock()
	delete(r.names, name)
	r.mu.Unlock()
}

var defaultRegistry = NewRegistry()

// Option configures a Store.
type Option func(*options)

type options struct {
	ids          IDGenerator
	registry     *Registry
	defaultLimit int
}

// WithIDGenerator overrides the id source used when Create receives an empty id.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithRegistry claims the descriptor name in r instead of the process registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithDefaultLimit sets the page size used when List gets no limit.
func WithDefaultLimit(n int) Option {
	return func(o *options) {
		if n > 0 && n <= MaxLimit {
			o.defaultLimit = n
		}
	}
}

// Store is the generic CRUD engine for one entity type.
//
// Writes to a single id are serialized by a per-id lock and every record
// write commits together with its index update in one backend transaction.
type Store[T Record[T]] struct {
	desc         Descriptor[T]
	backend      domain.PersistentStore
	codec        Codec[T]
	ids          IDGenerator
	locks        *keyedMutex
	registry     *Registry
	defaultLimit int

	seedMu sync.Mutex
	seeded bool
}

// New builds a store for desc over backend. The descriptor name is claimed in
// the registry; call Close to release it.
func New[T Record[T]](backend domain.PersistentStore, desc Descriptor[T], opts ...Option) (*Store[T], error) {
	if backend == nil {
		return nil, errors.New("entity: nil backend")
	}
	name := string(desc.Name)
	if name == "" || strings.Contains(name, keySep) || strings.HasPrefix(name, "_") {
		return nil, domain.Invalid("entity type", fmt.Sprintf("%q is not a valid name", name))
	}
	cfg := options{ids: UUIDGenerator{}, registry: defaultRegistry, defaultLimit: DefaultLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	codec, err := NewCodec(desc.Zero)
	if err != nil {
		return nil, err
	}
	if err := cfg.registry.Claim(desc.Name); err != nil {
		return nil, err
	}
	return &Store[T]{
		desc:         desc,
		backend:      backend,
		codec:        codec,
		ids:          cfg.ids,
		locks:        newKeyedMutex(),
		registry:     cfg.registry,
		defaultLimit: cfg.defaultLimit,
	}, nil
}

// Name returns the entity type served by the store.
func (s *Store[T]) Name() domain.EntityType { return s.desc.Name }

// Close releases the descriptor name. The backend is owned by the caller.
func (s *Store[T]) Close() {
	s.registry.Release(s.desc.Name)
}

func (s *Store[T]) fail(op, id string, err error) error {
	var ee *domain.EntityError
	if errors.As(err, &ee) {
		return err
	}
	return domain.NewEntityError(op, s.desc.Name, id, err)
}

// Get returns the record stored under id.
func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	data, err := s.load(ctx, id)
	if err != nil {
		var zero T
		return zero, s.fail("get", id, err)
	}
	out, err := s.codec.Decode(data)
	if err != nil {
		var zero T
		return zero, s.fail("get", id, err)
	}
	return out, nil
}

func (s *Store[T]) load(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.backend.View(ctx, func(r domain.KVReader) error {
		v, ok, err := r.Get(ctx, recordKey(s.desc.Name, id))
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		data = v
		return nil
	})
	return data, err
}

// Exists reports whether id is currently indexed.
func (s *Store[T]) Exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := s.backend.View(ctx, func(r domain.KVReader) error {
		ix, err := loadIndex(ctx, r, s.desc.Name)
		if err != nil {
			return err
		}
		found = ix.Contains(id)
		return nil
	})
	if err != nil {
		return false, s.fail("exists", id, err)
	}
	return found, nil
}

// Create stores rec and appends its id to the index. An empty id is replaced
// by a generated one. An id that is already stored fails with ErrConflict.
func (s *Store[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	id := rec.RecordID()
	if id == "" {
		id = s.ids.NewID()
		rec = rec.WithRecordID(id)
	}
	if err := validateID(id); err != nil {
		return zero, s.fail("create", id, err)
	}
	data, err := s.codec.Encode(rec)
	if err != nil {
		return zero, s.fail("create", id, err)
	}
	stored, err := s.codec.Decode(data)
	if err != nil {
		return zero, s.fail("create", id, err)
	}

	unlock := s.locks.lock(id)
	defer unlock()
	err = s.backend.RunInTransaction(ctx, func(tx domain.KVTransaction) error {
		return s.insert(ctx, tx, id, stored, data)
	})
	if err != nil {
		return zero, s.fail("create", id, err)
	}
	return stored, nil
}

// insert writes the record, then the index. An index entry left behind by an
// interrupted delete is reused rather than duplicated.
func (s *Store[T]) insert(ctx context.Context, tx domain.KVTransaction, id string, rec T, data []byte) error {
	key := recordKey(s.desc.Name, id)
	_, exists, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return domain.ErrConflict
	}
	if err := s.evaluate(ctx, domain.Change[T]{Action: domain.ActionCreate, ID: id, After: &rec}); err != nil {
		return err
	}
	ix, err := loadIndex(ctx, tx, s.desc.Name)
	if err != nil {
		return err
	}
	tx.Put(key, data)
	if ix.Append(id) {
		return putIndex(tx, s.desc.Name, ix)
	}
	return nil
}

// Mutate replaces the record under id with transform(current). The transform
// must return a record carrying the same id; anything else is rejected with
// ErrConflict and nothing is written. Calls on the same id never interleave.
func (s *Store[T]) Mutate(ctx context.Context, id string, transform func(T) (T, error)) (T, error) {
	var zero T
	unlock := s.locks.lock(id)
	defer unlock()

	raw, err := s.load(ctx, id)
	if err != nil {
		return zero, s.fail("mutate", id, err)
	}
	before, err := s.codec.Decode(raw)
	if err != nil {
		return zero, s.fail("mutate", id, err)
	}
	current, err := s.codec.Decode(raw)
	if err != nil {
		return zero, s.fail("mutate", id, err)
	}
	next, err := transform(current)
	if err != nil {
		return zero, s.fail("mutate", id, err)
	}
	if next.RecordID() != id {
		return zero, s.fail("mutate", id, fmt.Errorf("%w: transform changed id to %q", domain.ErrConflict, next.RecordID()))
	}
	data, err := s.codec.Encode(next)
	if err != nil {
		return zero, s.fail("mutate", id, err)
	}
	stored, err := s.codec.Decode(data)
	if err != nil {
		return zero, s.fail("mutate", id, err)
	}

	err = s.backend.RunInTransaction(ctx, func(tx domain.KVTransaction) error {
		key := recordKey(s.desc.Name, id)
		_, ok, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		change := domain.Change[T]{Action: domain.ActionUpdate, ID: id, Before: &before, After: &stored}
		if err := s.evaluate(ctx, change); err != nil {
			return err
		}
		tx.Put(key, data)
		ix, err := loadIndex(ctx, tx, s.desc.Name)
		if err != nil {
			return err
		}
		if ix.Append(id) {
			return putIndex(tx, s.desc.Name, ix)
		}
		return nil
	})
	if err != nil {
		return zero, s.fail("mutate", id, err)
	}
	return stored, nil
}

// Delete removes the record and its index entry, reporting whether anything
// was stored under id. Deleting an absent id is not an error.
func (s *Store[T]) Delete(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	var deleted bool
	err := s.backend.RunInTransaction(ctx, func(tx domain.KVTransaction) error {
		key := recordKey(s.desc.Name, id)
		data, exists, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		ix, err := loadIndex(ctx, tx, s.desc.Name)
		if err != nil {
			return err
		}
		if exists {
			before, err := s.codec.Decode(data)
			if err != nil {
				return err
			}
			if err := s.evaluate(ctx, domain.Change[T]{Action: domain.ActionDelete, ID: id, Before: &before}); err != nil {
				return err
			}
			tx.Delete(key)
		}
		if ix.Remove(id) {
			if err := putIndex(tx, s.desc.Name, ix); err != nil {
				return err
			}
		}
		deleted = exists
		return nil
	})
	if err != nil {
		return false, s.fail("delete", id, err)
	}
	return deleted, nil
}

// List returns up to opts.Limit records following opts.Cursor in index order.
// Index entries whose record is missing are skipped.
func (s *Store[T]) List(ctx context.Context, opts ListOptions) (Page[T], error) {
	limit := opts.limit(s.defaultLimit)
	var start cursorToken
	if opts.Cursor != "" {
		c, err := decodeCursor(opts.Cursor, s.desc.Name)
		if err != nil {
			return Page[T]{}, s.fail("list", "", err)
		}
		start = c
	}

	page := Page[T]{Items: make([]T, 0, limit)}
	err := s.backend.View(ctx, func(r domain.KVReader) error {
		ix, err := loadIndex(ctx, r, s.desc.Name)
		if err != nil {
			return err
		}
		pos := 0
		if opts.Cursor != "" {
			pos = ix.resume(start)
		}
		ids := ix.ids
		for ; pos < len(ids) && len(page.Items) < limit; pos++ {
			data, ok, err := r.Get(ctx, recordKey(s.desc.Name, ids[pos]))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			rec, err := s.codec.Decode(data)
			if err != nil {
				return err
			}
			page.Items = append(page.Items, rec)
		}
		if pos < len(ids) {
			next := encodeCursor(cursorToken{Type: s.desc.Name, After: ids[pos-1], Offset: pos})
			page.Next = &next
		}
		return nil
	})
	if err != nil {
		return Page[T]{}, s.fail("list", "", err)
	}
	return page, nil
}

// All returns every stored record in index order.
func (s *Store[T]) All(ctx context.Context) ([]T, error) {
	var out []T
	cursor := ""
	for {
		page, err := s.List(ctx, ListOptions{Limit: MaxLimit, Cursor: cursor})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.Next == nil {
			return out, nil
		}
		cursor = *page.Next
	}
}

func (s *Store[T]) evaluate(ctx context.Context, change domain.Change[T]) error {
	if s.desc.Rules == nil {
		return nil
	}
	change.Entity = s.desc.Name
	res, err := s.desc.Rules.Evaluate(ctx, change)
	if err != nil {
		return err
	}
	if res.HasBlocking() {
		return domain.RuleViolationError{Result: res}
	}
	return nil
}

func putIndex(tx domain.KVTransaction, name domain.EntityType, ix *Index) error {
	data, err := ix.encode()
	if err != nil {
		return fmt.Errorf("encode %s index: %w", name, err)
	}
	tx.Put(indexKey(name), data)
	return nil
}
