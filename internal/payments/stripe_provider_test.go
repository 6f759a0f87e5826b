package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubStripeSessions struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (s *stubStripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

func newTestStripeProvider(t *testing.T, sessions *stubStripeSessions, verify stripeEventVerifier) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Sessions: sessions,
		Verifier: verify,
		Clock: func() time.Time {
			return time.Date(2025, 3, 5, 12, 30, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func TestStripeCreateCheckoutSession(t *testing.T) {
	expiresAt := time.Date(2025, 3, 5, 13, 0, 0, 0, time.UTC)
	sessions := &stubStripeSessions{
		session: &stripe.CheckoutSession{
			ID:        "cs_test_123",
			URL:       "https://checkout.stripe.com/c/cs_test_123",
			ExpiresAt: expiresAt.Unix(),
		},
	}
	provider := newTestStripeProvider(t, sessions, func(payload []byte, sig, secret string) (stripe.Event, error) {
		return stripe.Event{}, nil
	})

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutRequest{
		OrderID:        "ord_123",
		OrderNumber:    "LM-2025-000042",
		Currency:       "USD",
		Amount:         3700,
		AmountExponent: 2,
		Items: []CheckoutItem{
			{Name: "License", ProductID: "prod-1", Quantity: 2, UnitAmount: 1500},
			{Name: "Addon", ProductID: "prod-2", Quantity: 1, UnitAmount: 700},
		},
		SuccessURL:     "https://store.example.com/checkout/success",
		CancelURL:      "https://store.example.com/checkout/cancel",
		Metadata:       map[string]string{"campaign": "spring"},
		IdempotencyKey: "idem-42",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if session.ID != "cs_test_123" || session.Provider != "stripe" {
		t.Fatalf("unexpected session: %#v", session)
	}
	if session.RedirectURL != "https://checkout.stripe.com/c/cs_test_123" {
		t.Fatalf("unexpected redirect url: %s", session.RedirectURL)
	}
	if !session.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expected expiry %v, got %v", expiresAt, session.ExpiresAt)
	}

	params := sessions.params
	if params == nil {
		t.Fatal("expected session params captured")
	}
	if params.ClientReferenceID == nil || *params.ClientReferenceID != "ord_123" {
		t.Fatalf("expected client reference id, got %#v", params.ClientReferenceID)
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != "idem-42" {
		t.Fatalf("expected idempotency key forwarded, got %#v", params.IdempotencyKey)
	}
	if params.Metadata["orderNumber"] != "LM-2025-000042" || params.Metadata["campaign"] != "spring" {
		t.Fatalf("unexpected metadata: %#v", params.Metadata)
	}
	if len(params.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(params.LineItems))
	}
	first := params.LineItems[0]
	if first.Quantity == nil || *first.Quantity != 2 {
		t.Fatalf("unexpected quantity: %#v", first.Quantity)
	}
	if first.PriceData == nil || first.PriceData.UnitAmount == nil || *first.PriceData.UnitAmount != 1500 {
		t.Fatalf("unexpected unit amount: %#v", first.PriceData)
	}
	if first.PriceData.Currency == nil || *first.PriceData.Currency != "usd" {
		t.Fatalf("expected currency lowercased, got %#v", first.PriceData.Currency)
	}
}

func TestStripeCreateCheckoutSessionDefaultExpiry(t *testing.T) {
	sessions := &stubStripeSessions{
		session: &stripe.CheckoutSession{ID: "cs_test_123", URL: "https://example.com"},
	}
	provider := newTestStripeProvider(t, sessions, func(payload []byte, sig, secret string) (stripe.Event, error) {
		return stripe.Event{}, nil
	})

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutRequest{OrderID: "ord_1", Currency: "USD"})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	want := time.Date(2025, 3, 5, 13, 0, 0, 0, time.UTC)
	if !session.ExpiresAt.Equal(want) {
		t.Fatalf("expected fallback expiry %v, got %v", want, session.ExpiresAt)
	}
}

func stripeEventFixture(t *testing.T, eventType string) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":                  "cs_test_123",
		"client_reference_id": "ord_123",
	})
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return stripe.Event{
		ID:      "evt_1",
		Type:    stripe.EventType(eventType),
		Created: time.Date(2025, 3, 5, 12, 31, 0, 0, time.UTC).Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestStripeParseWebhookEventMapsKinds(t *testing.T) {
	tests := map[string]struct {
		eventType string
		wantKind  EventKind
	}{
		"completed":       {eventType: "checkout.session.completed", wantKind: EventSucceeded},
		"async succeeded": {eventType: "checkout.session.async_payment_succeeded", wantKind: EventSucceeded},
		"expired":         {eventType: "checkout.session.expired", wantKind: EventExpired},
		"async failed":    {eventType: "checkout.session.async_payment_failed", wantKind: EventFailed},
		"unrelated":       {eventType: "invoice.paid", wantKind: EventUnhandled},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			verify := func(payload []byte, sig, secret string) (stripe.Event, error) {
				return stripeEventFixture(t, tc.eventType), nil
			}
			provider := newTestStripeProvider(t, &stubStripeSessions{}, verify)

			headers := http.Header{}
			headers.Set("Stripe-Signature", "t=123,v1=abc")
			event, err := provider.ParseWebhookEvent(context.Background(), []byte(`{}`), headers)
			if err != nil {
				t.Fatalf("ParseWebhookEvent: %v", err)
			}

			if event.Kind != tc.wantKind {
				t.Fatalf("expected kind %s, got %s", tc.wantKind, event.Kind)
			}
			if event.Provider != "stripe" || event.EventID != "evt_1" {
				t.Fatalf("unexpected event: %#v", event)
			}
			if event.Reference != "cs_test_123" || event.OrderID != "ord_123" {
				t.Fatalf("expected reference and order id extracted: %#v", event)
			}
		})
	}
}

func TestStripeParseWebhookEventMissingSignature(t *testing.T) {
	provider := newTestStripeProvider(t, &stubStripeSessions{}, func(payload []byte, sig, secret string) (stripe.Event, error) {
		t.Fatal("verifier should not run without a signature header")
		return stripe.Event{}, nil
	})

	_, err := provider.ParseWebhookEvent(context.Background(), []byte(`{}`), http.Header{})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestStripeParseWebhookEventVerifierFailure(t *testing.T) {
	provider := newTestStripeProvider(t, &stubStripeSessions{}, func(payload []byte, sig, secret string) (stripe.Event, error) {
		return stripe.Event{}, fmt.Errorf("signature mismatch")
	})

	headers := http.Header{}
	headers.Set("Stripe-Signature", "t=123,v1=forged")
	_, err := provider.ParseWebhookEvent(context.Background(), []byte(`{}`), headers)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestNewStripeProviderRequiresCredentials(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
}
