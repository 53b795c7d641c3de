// Package core implements the equipment scheduling service on top of the
// generic entity store: fleet CRUD, hour tracking, service logs, urgency
// derivation and the derived schedule, history and summary views.
package core

import (
	"context"
	"errors"
	"time"

	"fleetcore/internal/blob"
	"fleetcore/internal/entity"
	"fleetcore/pkg/domain"
)

// Service exposes the fleet use cases. All state changes go through the
// equipment store's Mutate, so writes to one machine never interleave.
type Service struct {
	equipment *entity.Store[domain.Equipment]
	images    blob.Store
	ids       entity.IDGenerator
	observer  Observer
	metrics   MetricsRecorder

	maxImageBytes int64
	storeOpts     []entity.Option
}

// Option configures a Service.
type Option func(*Service)

// WithObserver routes use-case events to obs.
func WithObserver(obs Observer) Option {
	return func(s *Service) {
		if obs != nil {
			s.observer = obs
		}
	}
}

// WithMetrics records operation outcomes in rec.
func WithMetrics(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithImages enables image upload and download against store.
func WithImages(store blob.Store) Option {
	return func(s *Service) { s.images = store }
}

// WithMaxImageBytes caps accepted image uploads.
func WithMaxImageBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxImageBytes = n
		}
	}
}

// WithIDGenerator sets the id source for machines, tasks and logs.
func WithIDGenerator(g entity.IDGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.ids = g
			s.storeOpts = append(s.storeOpts, entity.WithIDGenerator(g))
		}
	}
}

// WithStoreOptions forwards options to the underlying equipment store.
func WithStoreOptions(opts ...entity.Option) Option {
	return func(s *Service) { s.storeOpts = append(s.storeOpts, opts...) }
}

// NewService builds the service over backend. Close releases the equipment
// entity type so another service may claim it.
func NewService(backend domain.PersistentStore, opts ...Option) (*Service, error) {
	s := &Service{
		ids:           entity.UUIDGenerator{},
		observer:      NoopObserver{},
		metrics:       noopMetrics{},
		maxImageBytes: DefaultMaxImageBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	store, err := entity.New(backend, entity.Descriptor[domain.Equipment]{
		Name:  domain.EntityEquipment,
		Zero:  domain.NewEquipment(),
		Seed:  domain.SeedEquipment(),
		Rules: NewEquipmentRulesEngine(),
	}, s.storeOpts...)
	if err != nil {
		return nil, err
	}
	s.equipment = store
	return s, nil
}

// Close releases the equipment entity type. The backend is owned by the caller.
func (s *Service) Close() { s.equipment.Close() }

// Equipment returns the underlying generic store.
func (s *Service) Equipment() *entity.Store[domain.Equipment] { return s.equipment }

// EnsureSeed materializes the starter fleet into an empty store.
func (s *Service) EnsureSeed(ctx context.Context) (err error) {
	defer s.track(ctx, "ensure_seed", time.Now(), &err)
	return s.equipment.EnsureSeed(ctx)
}

// Reconcile repairs the equipment index after an interrupted write.
func (s *Service) Reconcile(ctx context.Context) (report entity.ReconcileReport, err error) {
	defer func(started time.Time) {
		s.track(ctx, "reconcile", started, &err, "dropped", len(report.Dropped), "adopted", len(report.Adopted))
	}(time.Now())
	return s.equipment.Reconcile(ctx)
}

// List returns one page of machines in creation order.
func (s *Service) List(ctx context.Context, opts entity.ListOptions) (page entity.Page[domain.Equipment], err error) {
	defer s.track(ctx, "list_equipment", time.Now(), &err, "limit", opts.Limit)
	return s.equipment.List(ctx, opts)
}

// Get returns one machine.
func (s *Service) Get(ctx context.Context, id string) (eq domain.Equipment, err error) {
	defer s.track(ctx, "get_equipment", time.Now(), &err, "equipment_id", id)
	return s.equipment.Get(ctx, id)
}

// Create validates in and stores a new operational machine with the default
// maintenance plan, due relative to its current hours.
func (s *Service) Create(ctx context.Context, in CreateInput) (eq domain.Equipment, err error) {
	defer func(started time.Time) {
		s.track(ctx, "create_equipment", started, &err, "equipment_id", eq.ID)
	}(time.Now())
	if err := in.Validate(); err != nil {
		return domain.Equipment{}, domain.NewEntityError("create", domain.EntityEquipment, "", err)
	}
	rec := domain.NewEquipment()
	rec.Name = in.Name
	rec.Type = in.Type
	rec.Model = in.Model
	rec.SerialNumber = in.SerialNumber
	rec.PurchaseDate = in.PurchaseDate
	rec.CurrentHours = in.CurrentHours
	rec.Image = in.Image
	for _, t := range defaultTasks {
		rec.Tasks = append(rec.Tasks, domain.MaintenanceTask{
			ID:            s.ids.NewID(),
			Title:         t.title,
			IntervalHours: domain.Float(t.interval),
			NextDueHours:  domain.Float(in.CurrentHours + t.interval),
		})
	}
	rec.Tasks = domain.RecomputeUrgency(rec.Tasks, rec.CurrentHours)
	return s.equipment.Create(ctx, rec)
}

// Delete removes a machine and its stored image, reporting whether it existed.
func (s *Service) Delete(ctx context.Context, id string) (deleted bool, err error) {
	defer s.track(ctx, "delete_equipment", time.Now(), &err, "equipment_id", id)
	deleted, err = s.equipment.Delete(ctx, id)
	if err != nil || !deleted || s.images == nil {
		return deleted, err
	}
	if _, derr := s.images.Delete(ctx, imageKey(id)); derr != nil && !errors.Is(derr, blob.ErrNotFound) {
		return deleted, domain.NewEntityError("delete image", domain.EntityEquipment, id, domain.StorageError("blob delete", derr))
	}
	return deleted, nil
}
