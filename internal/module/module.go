// Package module implements the lifecycle scaffold spec.md §4.8 and §9
// describe: initialize -> configure(persistence) -> start -> stop, with
// stop run in reverse registration order. Grounded in the original's
// util/module.py ModuleBase, replacing its class-level registration side
// effect with explicit construction and registration at startup (spec §9).
package module

import (
	"context"
	"fmt"

	"github.com/rycus86/intellihomehub/internal/store"
)

// Module is anything with the four lifecycle hooks.
type Module interface {
	Name() string
	Initialize(ctx context.Context) error
	Configure(ctx context.Context, st *store.Store) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Registry holds modules in registration order and drives their lifecycle.
type Registry struct {
	modules []Module
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends m; registration order determines start order, and stop
// order is the exact reverse (spec §4.8).
func (r *Registry) Register(m Module) {
	r.modules = append(r.modules, m)
}

// InitializeAll runs Initialize on every module, in registration order.
func (r *Registry) InitializeAll(ctx context.Context) error {
	for _, m := range r.modules {
		if err := m.Initialize(ctx); err != nil {
			return fmt.Errorf("module %s: initialize: %w", m.Name(), err)
		}
	}
	return nil
}

// ConfigureAll runs Configure on every module, in registration order.
func (r *Registry) ConfigureAll(ctx context.Context, st *store.Store) error {
	for _, m := range r.modules {
		if err := m.Configure(ctx, st); err != nil {
			return fmt.Errorf("module %s: configure: %w", m.Name(), err)
		}
	}
	return nil
}

// StartAll runs Start on every module, in registration order.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, m := range r.modules {
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("module %s: start: %w", m.Name(), err)
		}
	}
	return nil
}

// StopAll runs Stop on every module in reverse registration order,
// continuing past individual failures so every module gets a chance to
// shut down (spec §5: "stop() returns within ~1 second").
func (r *Registry) StopAll(ctx context.Context) []error {
	var errs []error
	for i := len(r.modules) - 1; i >= 0; i-- {
		m := r.modules[i]
		if err := m.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("module %s: stop: %w", m.Name(), err))
		}
	}
	return errs
}
