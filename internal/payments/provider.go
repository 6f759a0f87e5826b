package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// EventKind enumerates the normalised webhook outcomes shared across providers.
// Provider adapters translate their own event vocabulary into this closed set
// so the reconciler never branches on provider-specific strings.
type EventKind string

const (
	// EventSucceeded indicates the gateway captured the payment.
	EventSucceeded EventKind = "succeeded"
	// EventExpired indicates the checkout session timed out before payment.
	EventExpired EventKind = "expired"
	// EventFailed indicates the gateway reports the payment attempt failed.
	EventFailed EventKind = "failed"
	// EventUnhandled indicates an authentic event this system does not act on.
	EventUnhandled EventKind = "unhandled"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails authenticity
	// verification. Treated as a potential forgery, never retried.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrUnsupportedProvider is returned when no adapter is registered for a key.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrProviderNotConfigured indicates the adapter is missing credentials.
	ErrProviderNotConfigured = errors.New("payments: provider not configured")
)

// WebhookEvent is the provider-agnostic form of an inbound gateway callback.
type WebhookEvent struct {
	Kind     EventKind
	Provider string
	EventID  string
	// Reference is the gateway session/transaction id the event refers to.
	Reference string
	// OrderID carries the order id from event metadata when the provider
	// echoed it back; empty when only the reference is available.
	OrderID       string
	FailureReason string
	OccurredAt    time.Time
	Raw           map[string]any
}

// CheckoutItem is one order line expressed in the gateway's own amount units.
type CheckoutItem struct {
	Name       string
	ProductID  string
	Quantity   int64
	UnitAmount int64
}

// CheckoutRequest carries everything an adapter needs to open a hosted session.
// Amount and item amounts are already normalised to the provider's unit
// convention; adapters never re-scale.
type CheckoutRequest struct {
	OrderID     string
	OrderNumber string
	Currency    string
	Amount      int64
	// AmountExponent is the decimal exponent Amount and item amounts are
	// expressed in, for adapters whose wire format is decimal strings.
	AmountExponent int
	Items          []CheckoutItem
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	// IdempotencyKey dedupes retried session creations on the gateway side.
	IdempotencyKey string
}

// Session is the gateway checkout session handed back to the customer.
type Session struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
	Raw         map[string]any
}

// Provider is the contract each gateway adapter implements. Session creation
// runs synchronously during checkout; event parsing runs per webhook delivery
// and must verify authenticity before returning anything.
type Provider interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error)
	ParseWebhookEvent(ctx context.Context, payload []byte, headers http.Header) (WebhookEvent, error)
}

// Registry holds the configured provider adapters keyed by provider name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry over the supplied adapters.
func NewRegistry(providers ...Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("payments: nil provider registration")
		}
		key := strings.ToLower(strings.TrimSpace(p.Name()))
		if key == "" {
			return nil, errors.New("payments: provider name is required")
		}
		if _, exists := byName[key]; exists {
			return nil, fmt.Errorf("payments: duplicate provider %q", key)
		}
		byName[key] = p
	}
	return &Registry{providers: byName}, nil
}

// Provider resolves the adapter registered for name.
func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil || len(r.providers) == 0 {
		return nil, ErrUnsupportedProvider
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}
	return p, nil
}

// Names lists the registered provider keys.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Logger defines the logging hook adapters use for operational events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}
