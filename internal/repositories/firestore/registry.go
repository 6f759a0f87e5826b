package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/lumastore/api/internal/platform/firestore"
	"github.com/lumastore/api/internal/repositories"

	"cloud.google.com/go/firestore"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract for dependency injection.
type Registry struct {
	provider *pfirestore.Provider

	orders   *OrderRepository
	proofs   *ProofRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository injects the dependency-check repository surfaced by Health().
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry constructs the repository set on top of a shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	proofs, err := NewProofRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	registry := &Registry{
		provider: provider,
		orders:   orders,
		proofs:   proofs,
		counters: counters,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository {
	return r.orders
}

// Proofs returns the payment proof repository.
func (r *Registry) Proofs() repositories.ProofRepository {
	return r.proofs
}

// Counters returns the sequence counter repository.
func (r *Registry) Counters() repositories.CounterRepository {
	return r.counters
}

// Health returns the dependency-check repository, when configured.
func (r *Registry) Health() repositories.HealthRepository {
	return r.health
}

// RunInTx executes fn under Firestore's optimistic retry loop. Repositories
// that need read-guard-write atomicity use their Mutate helpers; this exists
// for callers that only want commit-level retry semantics around a group of
// operations.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}
