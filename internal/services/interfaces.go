package services

import (
	"context"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	OrderLineItem      = domain.OrderLineItem
	CustomerContact    = domain.CustomerContact
	PaymentProof       = domain.PaymentProof
	ProofStatus        = domain.ProofStatus
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService owns order creation and the customer/admin read and lifecycle flows.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Fulfill(ctx context.Context, cmd FulfillOrderCommand) (Order, error)
}

// PaymentMethodService applies payment method selection under the settlement lock.
type PaymentMethodService interface {
	SelectMethod(ctx context.Context, cmd SelectMethodCommand) (Order, error)
}

// GatewaySessionService opens hosted gateway checkout sessions for an order.
type GatewaySessionService interface {
	CreateSession(ctx context.Context, cmd CreateSessionCommand) (GatewaySession, error)
}

// ReconcilerService ingests gateway webhook deliveries and settles orders.
type ReconcilerService interface {
	ProcessWebhook(ctx context.Context, cmd ProcessWebhookCommand) (WebhookResult, error)
}

// ProofService runs the manual bank-transfer proof workflow.
type ProofService interface {
	SubmitProof(ctx context.Context, cmd SubmitProofCommand) (PaymentProof, error)
	DecideProof(ctx context.Context, cmd DecideProofCommand) (ProofDecisionResult, error)
	ListProofs(ctx context.Context, orderID string) ([]PaymentProof, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type OrderListFilter = repositories.OrderListFilter

// CreateOrderCommand carries the inputs to place a new order.
type CreateOrderCommand struct {
	UserID   string
	Currency string
	Items    []OrderItemInput
	Contact  CustomerContact
	// Method is the initial payment channel choice; defaults to bank transfer.
	Method   string
	ActorID  string
	Metadata map[string]any
}

// OrderItemInput is one requested catalog line at creation time.
type OrderItemInput struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type FulfillOrderCommand struct {
	OrderID string
	ActorID string
}

type SelectMethodCommand struct {
	OrderID string
	Method  string
	// UserID asserts ownership; empty skips the check for trusted callers.
	UserID  string
	ActorID string
}

type CreateSessionCommand struct {
	OrderID    string
	SuccessURL string
	CancelURL  string
	UserID     string
	ActorID    string
	// IdempotencyKey is forwarded to the gateway so retried session creations
	// resolve to the same gateway-side session.
	IdempotencyKey string
}

// GatewaySession is the checkout handoff returned to the client.
type GatewaySession struct {
	OrderID     string
	Provider    string
	SessionID   string
	RedirectURL string
	ExpiresAt   time.Time
}

type ProcessWebhookCommand struct {
	Provider string
	Payload  []byte
	Headers  map[string][]string
}

// WebhookOutcome categorises how a webhook delivery was handled.
type WebhookOutcome string

const (
	// WebhookOutcomeApplied means the event mutated the order.
	WebhookOutcomeApplied WebhookOutcome = "applied"
	// WebhookOutcomeIgnored means the event was authentic but carried no
	// actionable change (duplicate, stale, or unhandled type).
	WebhookOutcomeIgnored WebhookOutcome = "ignored"
	// WebhookOutcomeRejected means the event failed verification or could not
	// be matched to an order; acknowledged so the provider stops retrying.
	WebhookOutcomeRejected WebhookOutcome = "rejected"
)

// WebhookResult reports the reconciliation outcome for a delivery.
type WebhookResult struct {
	Outcome   WebhookOutcome
	Reason    string
	OrderID   string
	EventID   string
	EventKind string
}

type SubmitProofCommand struct {
	OrderID  string
	UserID   string
	ProofURL string
	Contact  CustomerContact
}

// ProofDecision is the reviewer verdict on a submitted proof.
type ProofDecision string

const (
	// ProofDecisionApprove settles the order as paid.
	ProofDecisionApprove ProofDecision = "approve"
	// ProofDecisionReject returns the order to awaiting payment.
	ProofDecisionReject ProofDecision = "reject"
)

type DecideProofCommand struct {
	OrderID    string
	ProofID    string
	Decision   ProofDecision
	ReviewerID string
	Reason     string
}

// ProofDecisionResult bundles the decided proof with the resulting order state.
type ProofDecisionResult struct {
	Proof PaymentProof
	Order Order
}
