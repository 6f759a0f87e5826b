package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumastore/api/internal/services"
)

type stubReconcilerService struct {
	processFn func(context.Context, services.ProcessWebhookCommand) (services.WebhookResult, error)
}

func (s *stubReconcilerService) ProcessWebhook(ctx context.Context, cmd services.ProcessWebhookCommand) (services.WebhookResult, error) {
	if s.processFn != nil {
		return s.processFn(ctx, cmd)
	}
	return services.WebhookResult{}, errors.New("not implemented")
}

func newWebhookRouter(deps WebhookHandlersDeps) chi.Router {
	handler := NewWebhookHandlers(deps)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func TestWebhookHandlersAppliedDelivery(t *testing.T) {
	var captured services.ProcessWebhookCommand
	reconciler := &stubReconcilerService{
		processFn: func(ctx context.Context, cmd services.ProcessWebhookCommand) (services.WebhookResult, error) {
			captured = cmd
			return services.WebhookResult{
				Outcome:   services.WebhookOutcomeApplied,
				OrderID:   "ord_123",
				EventID:   "evt_1",
				EventKind: "succeeded",
			}, nil
		},
	}
	router := newWebhookRouter(WebhookHandlersDeps{Reconciler: reconciler})

	payload := []byte(`{"id": "evt_1", "type": "checkout.session.completed"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/Stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=123,v1=abc")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.Provider != "stripe" {
		t.Fatalf("expected provider lowercased, got %q", captured.Provider)
	}
	if !bytes.Equal(captured.Payload, payload) {
		t.Fatalf("expected raw payload passed through, got %q", captured.Payload)
	}
	if got := http.Header(captured.Headers).Get("Stripe-Signature"); got != "t=123,v1=abc" {
		t.Fatalf("expected signature header forwarded, got %q", got)
	}

	var resp webhookResultPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Outcome != string(services.WebhookOutcomeApplied) || resp.OrderID != "ord_123" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if resp.EventID != "evt_1" || resp.EventKind != "succeeded" {
		t.Fatalf("unexpected event fields: %#v", resp)
	}
}

func TestWebhookHandlersIgnoredDeliveryStillAcked(t *testing.T) {
	reconciler := &stubReconcilerService{
		processFn: func(ctx context.Context, cmd services.ProcessWebhookCommand) (services.WebhookResult, error) {
			return services.WebhookResult{
				Outcome: services.WebhookOutcomeIgnored,
				Reason:  "already settled",
				OrderID: "ord_123",
			}, nil
		},
	}
	router := newWebhookRouter(WebhookHandlersDeps{Reconciler: reconciler})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp webhookResultPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Outcome != string(services.WebhookOutcomeIgnored) || resp.Reason != "already settled" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestWebhookHandlersRejectedDeliveryStillAcked(t *testing.T) {
	reconciler := &stubReconcilerService{
		processFn: func(ctx context.Context, cmd services.ProcessWebhookCommand) (services.WebhookResult, error) {
			return services.WebhookResult{
				Outcome: services.WebhookOutcomeRejected,
				Reason:  "invalid signature",
			}, nil
		},
	}
	router := newWebhookRouter(WebhookHandlersDeps{Reconciler: reconciler})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp webhookResultPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Outcome != string(services.WebhookOutcomeRejected) || resp.Reason != "invalid signature" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestWebhookHandlersMutationFailureAsksForRetry(t *testing.T) {
	reconciler := &stubReconcilerService{
		processFn: func(ctx context.Context, cmd services.ProcessWebhookCommand) (services.WebhookResult, error) {
			return services.WebhookResult{}, errors.New("firestore unavailable")
		},
	}
	router := newWebhookRouter(WebhookHandlersDeps{Reconciler: reconciler})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "webhook_retry" {
		t.Fatalf("expected webhook_retry code, got %s", code)
	}
}

func TestWebhookHandlersPayloadTooLarge(t *testing.T) {
	reconciler := &stubReconcilerService{
		processFn: func(ctx context.Context, cmd services.ProcessWebhookCommand) (services.WebhookResult, error) {
			t.Fatal("reconciler should not be invoked")
			return services.WebhookResult{}, nil
		},
	}
	router := newWebhookRouter(WebhookHandlersDeps{Reconciler: reconciler})

	oversized := bytes.Repeat([]byte("x"), int(maxWebhookBodySize)+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", bytes.NewReader(oversized))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
}

func TestWebhookHandlersRateLimitPerProvider(t *testing.T) {
	reconciler := &stubReconcilerService{
		processFn: func(ctx context.Context, cmd services.ProcessWebhookCommand) (services.WebhookResult, error) {
			return services.WebhookResult{Outcome: services.WebhookOutcomeApplied}, nil
		},
	}
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	router := newWebhookRouter(WebhookHandlersDeps{
		Reconciler: reconciler,
		BurstLimit: 2,
		Clock:      func() time.Time { return now },
	})

	send := func(provider string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/"+provider, strings.NewReader(`{}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("stripe"); code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d", code)
	}
	if code := send("stripe"); code != http.StatusOK {
		t.Fatalf("second delivery: expected 200, got %d", code)
	}
	if code := send("stripe"); code != http.StatusTooManyRequests {
		t.Fatalf("third delivery: expected 429, got %d", code)
	}
	// Limits are tracked per provider, so paypal still has headroom.
	if code := send("paypal"); code != http.StatusOK {
		t.Fatalf("other provider: expected 200, got %d", code)
	}
}

func TestSimpleRateLimiterWindowReset(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("stripe") {
		t.Fatal("first call should be allowed")
	}
	if limiter.Allow("stripe") {
		t.Fatal("second call within window should be denied")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("stripe") {
		t.Fatal("call after window reset should be allowed")
	}
}

func TestNewSimpleRateLimiterDisabledWhenZero(t *testing.T) {
	if limiter := newSimpleRateLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero limit, got %#v", limiter)
	}
}
