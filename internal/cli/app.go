// Package cli implements the fleetcore command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fleetcore/internal/blob"
	"fleetcore/internal/config"
	"fleetcore/internal/core"
	"fleetcore/internal/entity"
	"fleetcore/pkg/domain"
)

// App carries the configuration every command opens its runtime from.
type App struct {
	Config config.Config
	Log    *slog.Logger
}

// Runtime is an opened service together with the resources backing it.
type Runtime struct {
	Service  *core.Service
	Registry *prometheus.Registry
	backend  domain.PersistentStore
}

// Close releases the service and its backend.
func (r *Runtime) Close() error {
	r.Service.Close()
	return r.backend.Close()
}

// Open wires the storage backend, image store, metrics and observer into
// a service. Reconciliation and seeding run here when configured.
func (a *App) Open(ctx context.Context) (*Runtime, error) {
	log := a.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	backend, err := core.OpenPersistentStore(ctx, a.Config.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	opts := []core.Option{
		core.WithObserver(core.NewLogObserver(log)),
		core.WithMetrics(core.MultiMetricsRecorder{prom, core.NewExpvarMetricsRecorder("")}),
		core.WithMaxImageBytes(a.Config.MaxImageBytes),
		core.WithStoreOptions(entity.WithDefaultLimit(a.Config.PageLimit)),
	}
	if a.Config.ImagesEnabled {
		images, err := blob.Open(ctx, a.Config.Images)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("open image store: %w", err)
		}
		opts = append(opts, core.WithImages(images))
	}
	svc, err := core.NewService(backend, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	rt := &Runtime{Service: svc, Registry: reg, backend: backend}

	if a.Config.ReconcileOnStart {
		report, err := svc.Reconcile(ctx)
		if err != nil {
			return nil, errors.Join(err, rt.Close())
		}
		if report.Changed() {
			log.Warn("index_reconciled", "dropped", report.Dropped, "adopted", report.Adopted)
		}
	}
	if a.Config.Seed {
		if err := svc.EnsureSeed(ctx); err != nil {
			return nil, errors.Join(err, rt.Close())
		}
	}
	log.Debug("runtime_opened", "storage", backend.Driver(), "images", a.Config.ImagesEnabled)
	return rt, nil
}

// run opens a runtime, hands it to fn and closes it afterwards.
func (a *App) run(ctx context.Context, fn func(*Runtime) error) (err error) {
	rt, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}
