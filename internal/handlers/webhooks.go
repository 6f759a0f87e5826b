package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumastore/api/internal/platform/httpx"
	"github.com/lumastore/api/internal/services"
)

const maxWebhookBodySize = int64(1 * 1024 * 1024) // providers cap payloads well below this

// WebhookHandlers receives gateway callbacks. The response code is the only
// signal back to the provider: 2xx stops redelivery, 5xx schedules a retry.
type WebhookHandlers struct {
	reconciler services.ReconcilerService
	limiter    rateLimiter
}

// WebhookHandlersDeps bundles collaborators for WebhookHandlers.
type WebhookHandlersDeps struct {
	Reconciler services.ReconcilerService
	// BurstLimit caps deliveries per provider per minute; zero disables limiting.
	BurstLimit int
	Clock      func() time.Time
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(deps WebhookHandlersDeps) *WebhookHandlers {
	return &WebhookHandlers{
		reconciler: deps.Reconciler,
		limiter:    newSimpleRateLimiter(deps.BurstLimit, time.Minute, deps.Clock),
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePaymentWebhook)
}

type webhookResultPayload struct {
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	EventKind string `json:"event_kind,omitempty"`
}

func (h *WebhookHandlers) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider is required", http.StatusBadRequest))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(provider) {
		// 429 is non-retryable for Stripe but PayPal backs off, so shed load here
		// rather than in the reconciler.
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many deliveries", http.StatusTooManyRequests))
		return
	}

	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "reconciler unavailable", http.StatusServiceUnavailable))
		return
	}

	// Signature verification needs the exact raw bytes, so no JSON decoding
	// happens before the provider adapter sees them.
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read payload", http.StatusBadRequest))
		return
	}
	if int64(len(payload)) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	result, err := h.reconciler.ProcessWebhook(ctx, services.ProcessWebhookCommand{
		Provider: provider,
		Payload:  payload,
		Headers:  r.Header,
	})
	if err != nil {
		// The mutation did not commit; a 5xx asks the provider to redeliver.
		httpx.WriteError(ctx, w, httpx.NewError("webhook_retry", "delivery could not be applied", http.StatusBadGateway))
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookResultPayload{
		Outcome:   string(result.Outcome),
		Reason:    result.Reason,
		OrderID:   result.OrderID,
		EventID:   result.EventID,
		EventKind: result.EventKind,
	})
}
