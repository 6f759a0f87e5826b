package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/plutov/paypal/v4"
)

type paypalOrderAPI interface {
	CreateOrder(ctx context.Context, intent string, purchaseUnits []paypal.PurchaseUnitRequest, paymentSource *paypal.PaymentSource, appContext *paypal.ApplicationContext) (*paypal.Order, error)
}

type paypalWebhookAPI interface {
	VerifyWebhookSignature(ctx context.Context, httpReq *http.Request, webhookID string) (*paypal.VerifyWebhookResponse, error)
}

// The live client must keep satisfying both seams.
var (
	_ paypalOrderAPI   = (*paypal.Client)(nil)
	_ paypalWebhookAPI = (*paypal.Client)(nil)
)

// PayPalProviderConfig configures the PayPalProvider.
type PayPalProviderConfig struct {
	ClientID  string
	Secret    string
	APIBase   string
	WebhookID string
	BrandName string
	Logger    Logger
	Clock     func() time.Time

	// Orders and Webhooks override the live PayPal client in tests.
	Orders   paypalOrderAPI
	Webhooks paypalWebhookAPI
}

// PayPalProvider implements Provider on top of the PayPal Orders v2 API and
// the PayPal webhook verification endpoint.
type PayPalProvider struct {
	orders    paypalOrderAPI
	webhooks  paypalWebhookAPI
	webhookID string
	brand     string
	clock     func() time.Time
	logger    Logger
}

// NewPayPalProvider constructs a PayPal Provider using the given configuration.
func NewPayPalProvider(cfg PayPalProviderConfig) (*PayPalProvider, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.Secret)

	orders := cfg.Orders
	webhooks := cfg.Webhooks
	if orders == nil || webhooks == nil {
		if clientID == "" || secret == "" {
			return nil, fmt.Errorf("%w: paypal credentials", ErrProviderNotConfigured)
		}
		apiBase := strings.TrimSpace(cfg.APIBase)
		if apiBase == "" {
			apiBase = paypal.APIBaseSandBox
		}
		client, err := paypal.NewClient(clientID, secret, apiBase)
		if err != nil {
			return nil, fmt.Errorf("paypal: new client: %w", err)
		}
		if orders == nil {
			orders = client
		}
		if webhooks == nil {
			webhooks = client
		}
	}

	if strings.TrimSpace(cfg.WebhookID) == "" {
		return nil, fmt.Errorf("%w: paypal webhook id", ErrProviderNotConfigured)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &PayPalProvider{
		orders:    orders,
		webhooks:  webhooks,
		webhookID: strings.TrimSpace(cfg.WebhookID),
		brand:     strings.TrimSpace(cfg.BrandName),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Name identifies the provider inside the registry.
func (p *PayPalProvider) Name() string { return "paypal" }

// CreateCheckoutSession creates a PayPal order with CAPTURE intent and returns
// the buyer approval link as the redirect target.
func (p *PayPalProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	if p == nil {
		return Session{}, errors.New("paypal: provider is nil")
	}

	currency := strings.ToUpper(req.Currency)
	items := make([]paypal.Item, 0, len(req.Items))
	var itemTotal int64
	for _, item := range req.Items {
		qty := max64(item.Quantity, 1)
		items = append(items, paypal.Item{
			Name: item.Name,
			SKU:  item.ProductID,
			UnitAmount: &paypal.Money{
				Currency: currency,
				Value:    formatDecimalAmount(item.UnitAmount, req.AmountExponent),
			},
			Quantity: strconv.FormatInt(qty, 10),
		})
		itemTotal += item.UnitAmount * qty
	}

	unit := paypal.PurchaseUnitRequest{
		ReferenceID: req.OrderNumber,
		CustomID:    req.OrderID,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: currency,
			Value:    formatDecimalAmount(req.Amount, req.AmountExponent),
			Breakdown: &paypal.PurchaseUnitAmountBreakdown{
				ItemTotal: &paypal.Money{
					Currency: currency,
					Value:    formatDecimalAmount(itemTotal, req.AmountExponent),
				},
			},
		},
		Items: items,
	}

	appCtx := &paypal.ApplicationContext{
		ReturnURL: req.SuccessURL,
		CancelURL: req.CancelURL,
	}
	if p.brand != "" {
		appCtx.BrandName = p.brand
	}

	order, err := p.orders.CreateOrder(ctx, paypal.OrderIntentCapture, []paypal.PurchaseUnitRequest{unit}, nil, appCtx)
	if err != nil {
		return Session{}, fmt.Errorf("paypal: create order: %w", err)
	}

	redirect := ""
	for _, link := range order.Links {
		if strings.EqualFold(link.Rel, "approve") {
			redirect = link.Href
			break
		}
	}
	if redirect == "" {
		return Session{}, fmt.Errorf("paypal: order %s has no approval link", order.ID)
	}

	p.logger(ctx, "payments.paypal.order.created", map[string]any{
		"paypalOrderId": order.ID,
		"orderId":       req.OrderID,
		"currency":      currency,
	})

	raw := map[string]any{}
	if data, err := json.Marshal(order); err == nil {
		_ = json.Unmarshal(data, &raw)
	}

	// PayPal approval links are valid for three hours.
	return Session{
		ID:          order.ID,
		Provider:    p.Name(),
		RedirectURL: redirect,
		ExpiresAt:   p.clock().Add(3 * time.Hour),
		Raw:         raw,
	}, nil
}

type paypalWebhookPayload struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	CreateTime time.Time `json:"create_time"`
	Resource   struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		CustomID          string `json:"custom_id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
		StatusDetails struct {
			Reason string `json:"reason"`
		} `json:"status_details"`
	} `json:"resource"`
}

// ParseWebhookEvent verifies the delivery against PayPal's webhook
// verification endpoint, then maps the event into the provider-agnostic
// vocabulary.
func (p *PayPalProvider) ParseWebhookEvent(ctx context.Context, payload []byte, headers http.Header) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("paypal: provider is nil")
	}

	// The verification API consumes the original request, so rebuild one from
	// the captured body and headers.
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("paypal: rebuild webhook request: %w", err)
	}
	for key, values := range headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	verification, err := p.webhooks.VerifyWebhookSignature(ctx, httpReq, p.webhookID)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if verification == nil || !strings.EqualFold(verification.VerificationStatus, "SUCCESS") {
		return WebhookEvent{}, fmt.Errorf("%w: verification status %q", ErrInvalidSignature, verificationStatus(verification))
	}

	var event paypalWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("paypal: decode event payload: %w", err)
	}

	out := WebhookEvent{
		Provider:   p.Name(),
		EventID:    event.ID,
		OrderID:    event.Resource.CustomID,
		OccurredAt: event.CreateTime.UTC(),
	}
	if event.CreateTime.IsZero() {
		out.OccurredAt = p.clock()
	}

	// Capture events reference our session through the related order id; order
	// lifecycle events carry it directly.
	out.Reference = event.Resource.SupplementaryData.RelatedIDs.OrderID
	if out.Reference == "" {
		out.Reference = event.Resource.ID
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		out.Kind = EventSucceeded
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		out.Kind = EventFailed
		out.FailureReason = event.Resource.StatusDetails.Reason
		if out.FailureReason == "" {
			out.FailureReason = "capture denied"
		}
	case "CHECKOUT.ORDER.VOIDED":
		out.Kind = EventExpired
	default:
		out.Kind = EventUnhandled
	}

	raw := map[string]any{}
	if err := json.Unmarshal(payload, &raw); err == nil {
		out.Raw = raw
	}

	p.logger(ctx, "payments.paypal.webhook.parsed", map[string]any{
		"eventId":   event.ID,
		"eventType": event.EventType,
		"kind":      string(out.Kind),
		"reference": out.Reference,
	})
	return out, nil
}

func verificationStatus(v *paypal.VerifyWebhookResponse) string {
	if v == nil {
		return ""
	}
	return v.VerificationStatus
}

// formatDecimalAmount renders an integer amount carrying the given decimal
// exponent as the decimal string PayPal expects ("1050", 2 -> "10.50").
func formatDecimalAmount(amount int64, exponent int) string {
	if exponent <= 0 {
		return strconv.FormatInt(amount, 10)
	}
	negative := amount < 0
	if negative {
		amount = -amount
	}
	divisor := int64(1)
	for i := 0; i < exponent; i++ {
		divisor *= 10
	}
	whole := amount / divisor
	frac := amount % divisor
	out := strconv.FormatInt(whole, 10) + "." + fmt.Sprintf("%0*d", exponent, frac)
	if negative {
		return "-" + out
	}
	return out
}
