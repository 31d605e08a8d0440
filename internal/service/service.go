// Package service is the facade every consumer of the storage core uses:
// tenant lifecycle, dynamic collections, document CRUD and query, identity,
// sessions, access keys, the append-only change log, and maintenance.
//
// Each call resolves to the administrative store or a specific tenant store
// through the connection registry, executes, and maps raw rows into domain
// records. The service is constructed once at process start and passed by
// reference; there is no global instance.
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/krapi/krapi/internal/bootstrap"
	"github.com/krapi/krapi/internal/config"
	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/migrate"
	"github.com/krapi/krapi/internal/registry"
)

// State is the service lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateBootstrapping
	StateMigrating
	StateReady
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBootstrapping:
		return "bootstrapping"
	case StateMigrating:
		return "migrating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Service is the domain service. Safe for concurrent use.
type Service struct {
	reg       *registry.Registry
	log       *zap.Logger
	seed      bootstrap.SeedSpec
	fastStart bool

	mu      sync.Mutex
	state   State
	failErr error
	ready   chan struct{}
	failed  chan struct{}
}

// New constructs a Service from configuration. The service owns its
// registry; no store is touched until Start.
func New(cfg *config.Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		log:       log,
		seed:      bootstrap.SeedSpec{Email: cfg.Seed.AdminEmail, Name: cfg.Seed.AdminName},
		fastStart: cfg.FastStart,
		state:     StateCreated,
		ready:     make(chan struct{}),
		failed:    make(chan struct{}),
	}
	s.reg = registry.New(registry.Options{
		DataDir:           cfg.DataDir,
		ConnectMaxElapsed: cfg.ConnectMaxElapsed,
		Logger:            log,
		OnOpen:            s.onOpen,
	})
	return s
}

// Registry exposes the underlying registry. Intended for maintenance
// tooling; domain consumers should stay on the Service surface.
func (s *Service) Registry() *registry.Registry { return s.reg }

// onOpen bootstraps and migrates every newly opened store before the
// registry caches its handle. Tenant stores therefore reach their expected
// schema on first access; the administrative store is driven by Start so
// the lifecycle states stay observable.
func (s *Service) onOpen(h *registry.Handle) error {
	ctx := context.Background()
	if err := bootstrap.EnsureBaseline(ctx, h); err != nil {
		return err
	}
	if h.Kind() == registry.KindTenant {
		if _, err := migrate.Run(ctx, h, migrate.TenantSteps(), s.log); err != nil {
			return err
		}
	}
	return nil
}

// Start drives the lifecycle Created -> Bootstrapping -> Migrating -> Ready,
// or Failed. In fast-start mode the sequence runs in the background and
// Start returns immediately; calls made before readiness proceed
// optimistically and must tolerate transient not-found errors.
func (s *Service) Start(ctx context.Context) error {
	s.setState(StateBootstrapping)
	if s.fastStart {
		go func() {
			if err := s.startup(ctx); err != nil {
				s.fail(err)
			}
		}()
		return nil
	}
	if err := s.startup(ctx); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *Service) startup(ctx context.Context) error {
	admin, err := s.reg.OpenAdmin()
	if err != nil {
		return err
	}
	if _, err := bootstrap.SeedDefaultAdmin(ctx, admin, s.seed, s.log); err != nil {
		return err
	}

	s.setState(StateMigrating)
	if _, err := migrate.Run(ctx, admin, migrate.AdminSteps(), s.log); err != nil {
		return err
	}

	s.setState(StateReady)
	close(s.ready)
	s.log.Info("storage core ready")
	return nil
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WaitReady blocks until the service is ready, failed, or ctx is done.
// After a failed startup it returns the startup error rather than waiting
// out the context.
func (s *Service) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.failed:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.failErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases every open store handle.
func (s *Service) Close() error {
	return s.reg.CloseAll()
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Service) fail(err error) {
	s.mu.Lock()
	already := s.state == StateFailed
	s.state = StateFailed
	if s.failErr == nil {
		s.failErr = err
	}
	s.mu.Unlock()
	if !already {
		close(s.failed)
	}
	s.log.Error("startup failed", zap.Error(err))
}

// gate blocks calls until readiness unless fast-start is enabled, in which
// case calls run optimistically against stores that may still be under
// background creation.
func (s *Service) gate(ctx context.Context) error {
	s.mu.Lock()
	st, failErr := s.state, s.failErr
	s.mu.Unlock()

	switch st {
	case StateFailed:
		return errs.SchemaDrift("service.gate", "admin", failErr)
	case StateReady:
		return nil
	}
	if s.fastStart {
		return nil
	}
	return s.WaitReady(ctx)
}

// admin returns the administrative store handle, gated on readiness.
func (s *Service) admin(ctx context.Context) (*registry.Handle, error) {
	if err := s.gate(ctx); err != nil {
		return nil, err
	}
	return s.reg.OpenAdmin()
}

// tenant returns a tenant store handle, gated on readiness.
func (s *Service) tenant(ctx context.Context, projectID string) (*registry.Handle, error) {
	if err := s.gate(ctx); err != nil {
		return nil, err
	}
	return s.reg.OpenTenant(projectID)
}

// withRepair runs fn and, when it fails with a missing table/column
// signature, performs one baseline-plus-reconcile repair of the store and
// retries once. All other failures surface unchanged.
func (s *Service) withRepair(ctx context.Context, h *registry.Handle, fn func() error) error {
	err := fn()
	if err == nil || !errs.IsMissingSchema(err) {
		return err
	}

	s.log.Warn("schema drift detected, repairing",
		zap.String("store", h.ID()), zap.Error(err))
	if rerr := bootstrap.EnsureBaseline(ctx, h); rerr != nil {
		return err
	}
	if _, rerr := migrate.CheckAndFixSchema(ctx, h, s.log); rerr != nil {
		return err
	}
	return fn()
}
