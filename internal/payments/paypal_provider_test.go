package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/plutov/paypal/v4"
)

type stubPayPalOrders struct {
	intent   string
	units    []paypal.PurchaseUnitRequest
	appCtx   *paypal.ApplicationContext
	order    *paypal.Order
	orderErr error
}

func (s *stubPayPalOrders) CreateOrder(ctx context.Context, intent string, purchaseUnits []paypal.PurchaseUnitRequest, paymentSource *paypal.PaymentSource, appContext *paypal.ApplicationContext) (*paypal.Order, error) {
	s.intent = intent
	s.units = purchaseUnits
	s.appCtx = appContext
	if s.orderErr != nil {
		return nil, s.orderErr
	}
	return s.order, nil
}

type stubPayPalWebhooks struct {
	status    string
	verifyErr error
	request   *http.Request
}

func (s *stubPayPalWebhooks) VerifyWebhookSignature(ctx context.Context, httpReq *http.Request, webhookID string) (*paypal.VerifyWebhookResponse, error) {
	s.request = httpReq
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return &paypal.VerifyWebhookResponse{VerificationStatus: s.status}, nil
}

func newTestPayPalProvider(t *testing.T, orders *stubPayPalOrders, webhooks *stubPayPalWebhooks) *PayPalProvider {
	t.Helper()
	provider, err := NewPayPalProvider(PayPalProviderConfig{
		WebhookID: "wh-1",
		BrandName: "Luma Store",
		Orders:    orders,
		Webhooks:  webhooks,
		Clock: func() time.Time {
			return time.Date(2025, 3, 5, 12, 30, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewPayPalProvider: %v", err)
	}
	return provider
}

func TestPayPalCreateCheckoutSession(t *testing.T) {
	orders := &stubPayPalOrders{
		order: &paypal.Order{
			ID: "PAYPAL-ORDER-1",
			Links: []paypal.Link{
				{Rel: "self", Href: "https://api.paypal.com/v2/checkout/orders/PAYPAL-ORDER-1"},
				{Rel: "approve", Href: "https://www.paypal.com/checkoutnow?token=PAYPAL-ORDER-1"},
			},
		},
	}
	provider := newTestPayPalProvider(t, orders, &stubPayPalWebhooks{})

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutRequest{
		OrderID:        "ord_123",
		OrderNumber:    "LM-2025-000042",
		Currency:       "usd",
		Amount:         3700,
		AmountExponent: 2,
		Items: []CheckoutItem{
			{Name: "License", ProductID: "prod-1", Quantity: 2, UnitAmount: 1500},
			{Name: "Addon", ProductID: "prod-2", Quantity: 1, UnitAmount: 700},
		},
		SuccessURL: "https://store.example.com/checkout/success",
		CancelURL:  "https://store.example.com/checkout/cancel",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if session.ID != "PAYPAL-ORDER-1" || session.Provider != "paypal" {
		t.Fatalf("unexpected session: %#v", session)
	}
	if session.RedirectURL != "https://www.paypal.com/checkoutnow?token=PAYPAL-ORDER-1" {
		t.Fatalf("expected approval link as redirect, got %s", session.RedirectURL)
	}
	want := time.Date(2025, 3, 5, 15, 30, 0, 0, time.UTC)
	if !session.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, session.ExpiresAt)
	}

	if orders.intent != paypal.OrderIntentCapture {
		t.Fatalf("expected CAPTURE intent, got %s", orders.intent)
	}
	if len(orders.units) != 1 {
		t.Fatalf("expected 1 purchase unit, got %d", len(orders.units))
	}
	unit := orders.units[0]
	if unit.CustomID != "ord_123" || unit.ReferenceID != "LM-2025-000042" {
		t.Fatalf("unexpected unit identifiers: %#v", unit)
	}
	if unit.Amount == nil || unit.Amount.Value != "37.00" || unit.Amount.Currency != "USD" {
		t.Fatalf("unexpected unit amount: %#v", unit.Amount)
	}
	if unit.Amount.Breakdown == nil || unit.Amount.Breakdown.ItemTotal.Value != "37.00" {
		t.Fatalf("unexpected breakdown: %#v", unit.Amount.Breakdown)
	}
	if len(unit.Items) != 2 || unit.Items[0].UnitAmount.Value != "15.00" || unit.Items[0].Quantity != "2" {
		t.Fatalf("unexpected items: %#v", unit.Items)
	}
	if orders.appCtx == nil || orders.appCtx.BrandName != "Luma Store" {
		t.Fatalf("expected brand name in application context: %#v", orders.appCtx)
	}
}

func TestPayPalCreateCheckoutSessionNoApprovalLink(t *testing.T) {
	orders := &stubPayPalOrders{
		order: &paypal.Order{ID: "PAYPAL-ORDER-1", Links: []paypal.Link{{Rel: "self", Href: "https://api.paypal.com"}}},
	}
	provider := newTestPayPalProvider(t, orders, &stubPayPalWebhooks{})

	_, err := provider.CreateCheckoutSession(context.Background(), CheckoutRequest{OrderID: "ord_1", Currency: "USD"})
	if err == nil {
		t.Fatal("expected error when approval link is missing")
	}
}

func TestPayPalParseWebhookEventCaptureCompleted(t *testing.T) {
	webhooks := &stubPayPalWebhooks{status: "SUCCESS"}
	provider := newTestPayPalProvider(t, &stubPayPalOrders{}, webhooks)

	payload := []byte(`{
		"id": "WH-EVT-1",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"create_time": "2025-03-05T12:35:00Z",
		"resource": {
			"id": "CAPTURE-1",
			"custom_id": "ord_123",
			"supplementary_data": {"related_ids": {"order_id": "PAYPAL-ORDER-1"}}
		}
	}`)
	headers := http.Header{}
	headers.Set("Paypal-Transmission-Id", "tx-1")

	event, err := provider.ParseWebhookEvent(context.Background(), payload, headers)
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}

	if event.Kind != EventSucceeded || event.Provider != "paypal" {
		t.Fatalf("unexpected event: %#v", event)
	}
	if event.EventID != "WH-EVT-1" || event.OrderID != "ord_123" {
		t.Fatalf("unexpected identifiers: %#v", event)
	}
	// The capture references our session via the related order id.
	if event.Reference != "PAYPAL-ORDER-1" {
		t.Fatalf("unexpected reference: %s", event.Reference)
	}
	if webhooks.request == nil || webhooks.request.Header.Get("Paypal-Transmission-Id") != "tx-1" {
		t.Fatal("expected verification request rebuilt with original headers")
	}
}

func TestPayPalParseWebhookEventCaptureDenied(t *testing.T) {
	provider := newTestPayPalProvider(t, &stubPayPalOrders{}, &stubPayPalWebhooks{status: "SUCCESS"})

	payload := []byte(`{
		"id": "WH-EVT-2",
		"event_type": "PAYMENT.CAPTURE.DENIED",
		"resource": {
			"id": "CAPTURE-2",
			"status_details": {"reason": "INSTRUMENT_DECLINED"}
		}
	}`)

	event, err := provider.ParseWebhookEvent(context.Background(), payload, http.Header{})
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.Kind != EventFailed || event.FailureReason != "INSTRUMENT_DECLINED" {
		t.Fatalf("unexpected event: %#v", event)
	}
	if event.Reference != "CAPTURE-2" {
		t.Fatalf("expected resource id fallback reference, got %s", event.Reference)
	}
}

func TestPayPalParseWebhookEventVerificationFailure(t *testing.T) {
	provider := newTestPayPalProvider(t, &stubPayPalOrders{}, &stubPayPalWebhooks{status: "FAILURE"})

	_, err := provider.ParseWebhookEvent(context.Background(), []byte(`{}`), http.Header{})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestPayPalParseWebhookEventVerifierError(t *testing.T) {
	provider := newTestPayPalProvider(t, &stubPayPalOrders{}, &stubPayPalWebhooks{verifyErr: errors.New("verification endpoint down")})

	_, err := provider.ParseWebhookEvent(context.Background(), []byte(`{}`), http.Header{})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestNewPayPalProviderRequiresWebhookID(t *testing.T) {
	_, err := NewPayPalProvider(PayPalProviderConfig{
		Orders:   &stubPayPalOrders{},
		Webhooks: &stubPayPalWebhooks{},
	})
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestFormatDecimalAmount(t *testing.T) {
	tests := map[string]struct {
		amount   int64
		exponent int
		want     string
	}{
		"two decimals":   {amount: 3700, exponent: 2, want: "37.00"},
		"whole units":    {amount: 500, exponent: 0, want: "500"},
		"three decimals": {amount: 12345, exponent: 3, want: "12.345"},
		"sub-unit":       {amount: 5, exponent: 2, want: "0.05"},
		"negative":       {amount: -150, exponent: 2, want: "-1.50"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := formatDecimalAmount(tc.amount, tc.exponent); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
