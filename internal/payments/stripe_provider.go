package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const stripeSignatureHeader = "Stripe-Signature"

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// stripeEventVerifier checks payload authenticity and returns the decoded
// event. Production wiring uses webhook.ConstructEvent.
type stripeEventVerifier func(payload []byte, sigHeader, secret string) (stripe.Event, error)

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        Logger
	Clock         func() time.Time

	// Sessions and Verifier override the live Stripe client in tests.
	Sessions stripeSessionAPI
	Verifier stripeEventVerifier
}

// StripeProvider implements Provider on top of Stripe Checkout and the Stripe
// webhook signing scheme.
type StripeProvider struct {
	sessions      stripeSessionAPI
	verify        stripeEventVerifier
	webhookSecret string
	clock         func() time.Time
	logger        Logger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, fmt.Errorf("%w: stripe api key", ErrProviderNotConfigured)
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" && cfg.Verifier == nil {
		return nil, fmt.Errorf("%w: stripe webhook secret", ErrProviderNotConfigured)
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	verify := cfg.Verifier
	if verify == nil {
		verify = webhook.ConstructEvent
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &StripeProvider{
		sessions:      sessions,
		verify:        verify,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Name identifies the provider inside the registry.
func (p *StripeProvider) Name() string { return "stripe" }

// CreateCheckoutSession opens a hosted Stripe Checkout session for the order.
// Amounts arrive already normalised to Stripe's unit convention.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	if p == nil {
		return Session{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	metadata := map[string]string{
		"orderId":     req.OrderID,
		"orderNumber": req.OrderNumber,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	params.Metadata = metadata

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.ProductID != "" {
			line.PriceData.ProductData.Metadata = map[string]string{
				"productId": item.ProductID,
			}
		}
		lineItems = append(lineItems, line)
	}
	params.LineItems = lineItems

	session, err := p.sessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
		"currency":  req.Currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	raw := map[string]any{}
	if data, err := json.Marshal(session); err == nil {
		_ = json.Unmarshal(data, &raw)
	}

	return Session{
		ID:          session.ID,
		Provider:    p.Name(),
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
		Raw:         raw,
	}, nil
}

// ParseWebhookEvent verifies the Stripe signature and maps the event into the
// provider-agnostic vocabulary. Any signature problem surfaces as
// ErrInvalidSignature regardless of the underlying cause.
func (p *StripeProvider) ParseWebhookEvent(ctx context.Context, payload []byte, headers http.Header) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("stripe: provider is nil")
	}

	sig := headers.Get(stripeSignatureHeader)
	if strings.TrimSpace(sig) == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, stripeSignatureHeader)
	}

	event, err := p.verify(payload, sig, p.webhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{
		Provider:   p.Name(),
		EventID:    event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	var session stripe.CheckoutSession
	if len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode event payload: %w", err)
		}
		raw := map[string]any{}
		if err := json.Unmarshal(event.Data.Raw, &raw); err == nil {
			out.Raw = raw
		}
	}
	out.Reference = session.ID
	if session.ClientReferenceID != "" {
		out.OrderID = session.ClientReferenceID
	} else if session.Metadata != nil {
		out.OrderID = session.Metadata["orderId"]
	}

	switch stripe.EventType(event.Type) {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		out.Kind = EventSucceeded
	case stripe.EventTypeCheckoutSessionExpired:
		out.Kind = EventExpired
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		out.Kind = EventFailed
		out.FailureReason = "async payment failed"
	default:
		out.Kind = EventUnhandled
	}

	p.logger(ctx, "payments.stripe.webhook.parsed", map[string]any{
		"eventId":   event.ID,
		"eventType": event.Type,
		"kind":      string(out.Kind),
		"reference": out.Reference,
	})
	return out, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
