package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/payments"
)

func newTestReconciler(t *testing.T, repo *memOrderRepo, provider payments.Provider, events *captureOrderEvents) ReconcilerService {
	t.Helper()
	registry, err := payments.NewRegistry(provider)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	svc, err := NewReconcilerService(ReconcilerServiceDeps{
		Orders:    repo,
		Providers: registry,
		Clock:     testClock,
		Events:    events,
	})
	if err != nil {
		t.Fatalf("NewReconcilerService: %v", err)
	}
	return svc
}

func processingOrder() domain.Order {
	return domain.Order{
		ID:               "ord_1",
		OrderNumber:      "LM-2025-000020",
		UserID:           "user-1",
		Status:           domain.OrderStatusPendingPayment,
		PaymentStatus:    domain.PaymentStatusProcessing,
		Currency:         "USD",
		Total:            3700,
		PaymentMethod:    domain.PaymentMethodStripe,
		GatewayProvider:  valuePtr("stripe"),
		GatewayReference: valuePtr("cs_test_123"),
	}
}

func succeededEvent() payments.WebhookEvent {
	return payments.WebhookEvent{
		Kind:       payments.EventSucceeded,
		Provider:   "stripe",
		EventID:    "evt_1",
		Reference:  "cs_test_123",
		OrderID:    "ord_1",
		OccurredAt: testClockTime.Add(-time.Minute),
	}
}

func TestProcessWebhookSettlesOrder(t *testing.T) {
	repo := newMemOrderRepo(processingOrder())
	provider := &stubGatewayProvider{name: "stripe", event: succeededEvent()}
	events := &captureOrderEvents{}
	svc := newTestReconciler(t, repo, provider, events)

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{
		Provider: "stripe",
		Payload:  []byte(`{"id":"evt_1"}`),
	})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	if result.Outcome != WebhookOutcomeApplied {
		t.Fatalf("expected applied, got %s (%s)", result.Outcome, result.Reason)
	}
	if result.OrderID != "ord_1" || result.EventID != "evt_1" {
		t.Fatalf("unexpected result %+v", result)
	}

	stored := repo.orders["ord_1"]
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid status, got %s", stored.Status)
	}
	if stored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid payment status, got %s", stored.PaymentStatus)
	}
	if stored.PaidAt == nil || !stored.PaidAt.Equal(testClockTime) {
		t.Fatalf("paidAt not stamped: %v", stored.PaidAt)
	}
	if _, ok := stored.GatewayData["settlement"]; !ok {
		t.Fatalf("settlement snapshot not recorded")
	}

	event := events.last(t)
	if event.Type != orderEventPaymentSettled {
		t.Fatalf("expected %s event, got %s", orderEventPaymentSettled, event.Type)
	}
}

func TestProcessWebhookDuplicateSettlementIgnored(t *testing.T) {
	order := processingOrder()
	paidAt := testClockTime.Add(-time.Hour)
	order.Status = domain.OrderStatusPaid
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaidAt = &paidAt
	repo := newMemOrderRepo(order)
	provider := &stubGatewayProvider{name: "stripe", event: succeededEvent()}
	events := &captureOrderEvents{}
	svc := newTestReconciler(t, repo, provider, events)

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	if result.Outcome != WebhookOutcomeIgnored || result.Reason != "already settled" {
		t.Fatalf("expected ignored/already settled, got %+v", result)
	}
	stored := repo.orders["ord_1"]
	if !stored.PaidAt.Equal(paidAt) {
		t.Fatalf("duplicate delivery must not restamp paidAt")
	}
	if len(events.events) != 0 {
		t.Fatalf("ignored delivery must not publish events")
	}
}

func TestProcessWebhookStaleReferenceIgnored(t *testing.T) {
	event := succeededEvent()
	event.Reference = "cs_superseded"
	repo := newMemOrderRepo(processingOrder())
	provider := &stubGatewayProvider{name: "stripe", event: event}
	svc := newTestReconciler(t, repo, provider, &captureOrderEvents{})

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	if result.Outcome != WebhookOutcomeIgnored || result.Reason != "stale gateway reference" {
		t.Fatalf("expected ignored/stale reference, got %+v", result)
	}
	if repo.orders["ord_1"].PaymentStatus != domain.PaymentStatusProcessing {
		t.Fatalf("stale event must not mutate the order")
	}
}

func TestProcessWebhookInvalidSignatureRejected(t *testing.T) {
	repo := newMemOrderRepo(processingOrder())
	provider := &stubGatewayProvider{name: "stripe", parseErr: payments.ErrInvalidSignature}
	svc := newTestReconciler(t, repo, provider, &captureOrderEvents{})

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err != nil {
		t.Fatalf("rejected deliveries must not signal retry: %v", err)
	}
	if result.Outcome != WebhookOutcomeRejected || result.Reason != "invalid signature" {
		t.Fatalf("expected rejected/invalid signature, got %+v", result)
	}
}

func TestProcessWebhookUnknownProviderRejected(t *testing.T) {
	repo := newMemOrderRepo(processingOrder())
	provider := &stubGatewayProvider{name: "stripe"}
	svc := newTestReconciler(t, repo, provider, &captureOrderEvents{})

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "square"})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if result.Outcome != WebhookOutcomeRejected || result.Reason != "unknown provider" {
		t.Fatalf("expected rejected/unknown provider, got %+v", result)
	}
}

func TestProcessWebhookUnresolvedOrderRejected(t *testing.T) {
	event := succeededEvent()
	event.OrderID = "ord_missing"
	event.Reference = "cs_missing"
	repo := newMemOrderRepo()
	provider := &stubGatewayProvider{name: "stripe", event: event}
	svc := newTestReconciler(t, repo, provider, &captureOrderEvents{})

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if result.Outcome != WebhookOutcomeRejected || result.Reason != "order not resolved" {
		t.Fatalf("expected rejected/order not resolved, got %+v", result)
	}
}

func TestProcessWebhookResolvesByReference(t *testing.T) {
	event := succeededEvent()
	event.OrderID = ""
	repo := newMemOrderRepo(processingOrder())
	provider := &stubGatewayProvider{name: "stripe", event: event}
	svc := newTestReconciler(t, repo, provider, &captureOrderEvents{})

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if result.Outcome != WebhookOutcomeApplied || result.OrderID != "ord_1" {
		t.Fatalf("expected applied via reference lookup, got %+v", result)
	}
}

func TestProcessWebhookFailureRecordsReason(t *testing.T) {
	event := succeededEvent()
	event.Kind = payments.EventFailed
	event.FailureReason = "card_declined"
	repo := newMemOrderRepo(processingOrder())
	provider := &stubGatewayProvider{name: "stripe", event: event}
	events := &captureOrderEvents{}
	svc := newTestReconciler(t, repo, provider, events)

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if result.Outcome != WebhookOutcomeApplied {
		t.Fatalf("expected applied, got %+v", result)
	}

	stored := repo.orders["ord_1"]
	if stored.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment status, got %s", stored.PaymentStatus)
	}
	if stored.PaymentLastError == nil || *stored.PaymentLastError != "card_declined" {
		t.Fatalf("failure reason not recorded: %v", stored.PaymentLastError)
	}
	if stored.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("a failed attempt must keep the order open for retry")
	}
	if events.last(t).Type != orderEventPaymentFailed {
		t.Fatalf("expected %s event", orderEventPaymentFailed)
	}
}

func TestProcessWebhookExpiry(t *testing.T) {
	event := succeededEvent()
	event.Kind = payments.EventExpired
	repo := newMemOrderRepo(processingOrder())
	provider := &stubGatewayProvider{name: "stripe", event: event}
	events := &captureOrderEvents{}
	svc := newTestReconciler(t, repo, provider, events)

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if result.Outcome != WebhookOutcomeApplied {
		t.Fatalf("expected applied, got %+v", result)
	}
	if repo.orders["ord_1"].PaymentStatus != domain.PaymentStatusExpired {
		t.Fatalf("expected expired payment status")
	}
	if events.last(t).Type != orderEventPaymentExpired {
		t.Fatalf("expected %s event", orderEventPaymentExpired)
	}
}

func TestProcessWebhookCrossStatusDuplicateIgnored(t *testing.T) {
	tests := map[string]struct {
		stored domain.PaymentStatus
		kind   payments.EventKind
	}{
		"expiry after failure": {stored: domain.PaymentStatusFailed, kind: payments.EventExpired},
		"failure after expiry": {stored: domain.PaymentStatusExpired, kind: payments.EventFailed},
		"repeated expiry":      {stored: domain.PaymentStatusExpired, kind: payments.EventExpired},
		"repeated failure":     {stored: domain.PaymentStatusFailed, kind: payments.EventFailed},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			order := processingOrder()
			order.PaymentStatus = tc.stored
			event := succeededEvent()
			event.Kind = tc.kind
			repo := newMemOrderRepo(order)
			provider := &stubGatewayProvider{name: "stripe", event: event}
			events := &captureOrderEvents{}
			svc := newTestReconciler(t, repo, provider, events)

			result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
			if err != nil {
				t.Fatalf("duplicate for a closed attempt must be acknowledged, got retryable error: %v", err)
			}
			if result.Outcome != WebhookOutcomeIgnored || result.Reason != "attempt already closed" {
				t.Fatalf("expected ignored/attempt already closed, got %+v", result)
			}
			if repo.orders["ord_1"].PaymentStatus != tc.stored {
				t.Fatalf("duplicate must not mutate the closed attempt")
			}
			if len(events.events) != 0 {
				t.Fatalf("ignored delivery must not publish events")
			}
		})
	}
}

func TestProcessWebhookExpiryAfterSettlementIgnored(t *testing.T) {
	order := processingOrder()
	order.Status = domain.OrderStatusPaid
	order.PaymentStatus = domain.PaymentStatusPaid
	event := succeededEvent()
	event.Kind = payments.EventExpired
	repo := newMemOrderRepo(order)
	provider := &stubGatewayProvider{name: "stripe", event: event}
	svc := newTestReconciler(t, repo, provider, &captureOrderEvents{})

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if result.Outcome != WebhookOutcomeIgnored || result.Reason != "already settled" {
		t.Fatalf("expected ignored/already settled, got %+v", result)
	}
	if repo.orders["ord_1"].PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("late expiry must never regress a paid order")
	}
}

func TestProcessWebhookCanceledOrderIgnored(t *testing.T) {
	order := processingOrder()
	order.Status = domain.OrderStatusCanceled
	repo := newMemOrderRepo(order)
	provider := &stubGatewayProvider{name: "stripe", event: succeededEvent()}
	svc := newTestReconciler(t, repo, provider, &captureOrderEvents{})

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if result.Outcome != WebhookOutcomeIgnored || result.Reason != "order canceled" {
		t.Fatalf("expected ignored/order canceled, got %+v", result)
	}
	if repo.orders["ord_1"].Status != domain.OrderStatusCanceled {
		t.Fatalf("canceled order must never reopen")
	}
}

func TestProcessWebhookUnhandledKindIgnored(t *testing.T) {
	event := succeededEvent()
	event.Kind = payments.EventUnhandled
	repo := newMemOrderRepo(processingOrder())
	provider := &stubGatewayProvider{name: "stripe", event: event}
	svc := newTestReconciler(t, repo, provider, &captureOrderEvents{})

	result, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if result.Outcome != WebhookOutcomeIgnored || result.Reason != "unhandled event type" {
		t.Fatalf("expected ignored/unhandled, got %+v", result)
	}
}

func TestProcessWebhookMutationErrorIsRetryable(t *testing.T) {
	repo := newMemOrderRepo(processingOrder())
	repo.mutateErr = repoError{msg: "store unavailable", unavailable: true}
	provider := &stubGatewayProvider{name: "stripe", event: succeededEvent()}
	svc := newTestReconciler(t, repo, provider, &captureOrderEvents{})

	_, err := svc.ProcessWebhook(context.Background(), ProcessWebhookCommand{Provider: "stripe"})
	if err == nil {
		t.Fatalf("uncommitted mutations must surface as retryable errors")
	}
	var repoErr interface{ IsUnavailable() bool }
	if !errors.As(err, &repoErr) || !repoErr.IsUnavailable() {
		t.Fatalf("expected unavailable repository error, got %v", err)
	}
}
