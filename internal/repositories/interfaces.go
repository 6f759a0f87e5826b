package repositories

import (
	"context"
	"time"

	domain "github.com/lumastore/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Proofs() ProofRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderMutator inspects the current persisted order and applies an in-place
// change. Returning an error aborts the surrounding transaction without
// writing anything.
type OrderMutator func(order *domain.Order) error

// OrderRepository persists order documents and provides query helpers for
// customers, admins, and the webhook reconciler.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByGatewayReference resolves an order from the gateway session id a
	// webhook event carries.
	FindByGatewayReference(ctx context.Context, provider string, reference string) (domain.Order, error)
	// Mutate re-reads the order and applies fn as a single conditional atomic
	// update: the guard and the write happen in one transaction, so a stale
	// in-memory snapshot can never clobber a concurrent settlement.
	Mutate(ctx context.Context, orderID string, fn OrderMutator) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ProofMutator applies an in-place change to the current persisted proof.
type ProofMutator func(proof *domain.PaymentProof) error

// ProofRepository stores payment proof records underneath an order document.
type ProofRepository interface {
	Insert(ctx context.Context, proof domain.PaymentProof) error
	// InsertWithOrder writes the proof and applies orderFn to its parent order
	// in one transaction, so a submission and the review transition commit
	// together.
	InsertWithOrder(ctx context.Context, proof domain.PaymentProof, orderFn OrderMutator) (domain.PaymentProof, domain.Order, error)
	FindByID(ctx context.Context, orderID string, proofID string) (domain.PaymentProof, error)
	// FindPending returns the undecided proof for the order, if one exists.
	FindPending(ctx context.Context, orderID string) (domain.PaymentProof, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentProof, error)
	// Mutate re-reads the proof and applies fn atomically with its order: the
	// transaction also mutates the parent order through orderFn so a decision
	// and its order transition commit or fail together.
	Mutate(ctx context.Context, orderID string, proofID string, fn ProofMutator, orderFn OrderMutator) (domain.PaymentProof, domain.Order, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID        string
	Status        []string
	PaymentStatus []string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
