package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/lumastore/api/internal/domain"
)

func newTestMethodService(t *testing.T, repo *memOrderRepo, events *captureOrderEvents) PaymentMethodService {
	t.Helper()
	svc, err := NewPaymentMethodService(PaymentMethodServiceDeps{
		Orders: repo,
		Clock:  testClock,
		Events: events,
	})
	if err != nil {
		t.Fatalf("NewPaymentMethodService: %v", err)
	}
	return svc
}

func TestSelectMethodSwitchesChannelAndDropsSession(t *testing.T) {
	repo := newMemOrderRepo(domain.Order{
		ID:               "ord_1",
		OrderNumber:      "LM-2025-000001",
		UserID:           "user-1",
		Status:           domain.OrderStatusPendingPayment,
		PaymentStatus:    domain.PaymentStatusProcessing,
		PaymentMethod:    domain.PaymentMethodStripe,
		GatewayProvider:  valuePtr("stripe"),
		GatewayReference: valuePtr("cs_test_123"),
		GatewayData: map[string]any{
			"session": map[string]any{"id": "cs_test_123"},
			"note":    "kept",
		},
		PaymentLastError: valuePtr("card_declined"),
	})
	events := &captureOrderEvents{}
	svc := newTestMethodService(t, repo, events)

	order, err := svc.SelectMethod(context.Background(), SelectMethodCommand{
		OrderID: "ord_1",
		Method:  "bank_transfer",
		UserID:  "user-1",
		ActorID: "user-1",
	})
	if err != nil {
		t.Fatalf("SelectMethod: %v", err)
	}

	if order.PaymentMethod != domain.PaymentMethodBankTransfer {
		t.Fatalf("expected bank_transfer, got %s", order.PaymentMethod)
	}
	if order.GatewayProvider != nil {
		t.Fatalf("gateway provider must be cleared for manual methods")
	}
	if order.GatewayReference != nil {
		t.Fatalf("gateway reference must be dropped on method change")
	}
	if _, ok := order.GatewayData["session"]; ok {
		t.Fatalf("session artifacts must be pruned")
	}
	if order.GatewayData["note"] != "kept" {
		t.Fatalf("non-session gateway data must survive pruning")
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("payment status must reset to pending, got %s", order.PaymentStatus)
	}
	if order.PaymentLastError != nil {
		t.Fatalf("payment last error must be cleared")
	}

	event := events.last(t)
	if event.Type != orderEventMethodChanged {
		t.Fatalf("expected %s event, got %s", orderEventMethodChanged, event.Type)
	}
	if event.Metadata["previousMethod"] != "stripe" || event.Metadata["method"] != "bank_transfer" {
		t.Fatalf("unexpected event metadata %+v", event.Metadata)
	}
}

func TestSelectMethodSameMethodIsNoop(t *testing.T) {
	repo := newMemOrderRepo(domain.Order{
		ID:               "ord_1",
		UserID:           "user-1",
		Status:           domain.OrderStatusPendingPayment,
		PaymentStatus:    domain.PaymentStatusProcessing,
		PaymentMethod:    domain.PaymentMethodStripe,
		GatewayProvider:  valuePtr("stripe"),
		GatewayReference: valuePtr("cs_test_123"),
	})
	events := &captureOrderEvents{}
	svc := newTestMethodService(t, repo, events)

	order, err := svc.SelectMethod(context.Background(), SelectMethodCommand{
		OrderID: "ord_1",
		Method:  "stripe",
		UserID:  "user-1",
	})
	if err != nil {
		t.Fatalf("SelectMethod: %v", err)
	}

	if order.GatewayReference == nil || *order.GatewayReference != "cs_test_123" {
		t.Fatalf("reselecting the same method must not drop the active session")
	}
	if order.PaymentStatus != domain.PaymentStatusProcessing {
		t.Fatalf("reselecting the same method must not reset payment status")
	}
	if len(events.events) != 0 {
		t.Fatalf("no-op selection must not publish events")
	}
}

func TestSelectMethodLockedAfterSettlement(t *testing.T) {
	cases := map[string]domain.Order{
		"paid order": {
			ID:            "ord_1",
			UserID:        "user-1",
			Status:        domain.OrderStatusPaid,
			PaymentStatus: domain.PaymentStatusPaid,
			PaymentMethod: domain.PaymentMethodStripe,
		},
		"under review": {
			ID:            "ord_1",
			UserID:        "user-1",
			Status:        domain.OrderStatusPaymentReview,
			PaymentStatus: domain.PaymentStatusPending,
			PaymentMethod: domain.PaymentMethodBankTransfer,
		},
		"canceled": {
			ID:            "ord_1",
			UserID:        "user-1",
			Status:        domain.OrderStatusCanceled,
			PaymentStatus: domain.PaymentStatusPending,
			PaymentMethod: domain.PaymentMethodBankTransfer,
		},
	}

	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			repo := newMemOrderRepo(seed)
			svc := newTestMethodService(t, repo, &captureOrderEvents{})

			_, err := svc.SelectMethod(context.Background(), SelectMethodCommand{
				OrderID: "ord_1",
				Method:  "paypal",
				UserID:  "user-1",
			})
			if !errors.Is(err, ErrMethodLocked) {
				t.Fatalf("expected ErrMethodLocked, got %v", err)
			}
			if repo.orders["ord_1"].PaymentMethod != seed.PaymentMethod {
				t.Fatalf("locked order must not be mutated")
			}
		})
	}
}

func TestSelectMethodOwnership(t *testing.T) {
	repo := newMemOrderRepo(domain.Order{
		ID:            "ord_1",
		UserID:        "user-1",
		Status:        domain.OrderStatusPendingPayment,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: domain.PaymentMethodBankTransfer,
	})
	svc := newTestMethodService(t, repo, &captureOrderEvents{})

	_, err := svc.SelectMethod(context.Background(), SelectMethodCommand{
		OrderID: "ord_1",
		Method:  "stripe",
		UserID:  "user-2",
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestSelectMethodValidation(t *testing.T) {
	svc := newTestMethodService(t, newMemOrderRepo(), &captureOrderEvents{})

	if _, err := svc.SelectMethod(context.Background(), SelectMethodCommand{Method: "stripe"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for missing order id, got %v", err)
	}
	if _, err := svc.SelectMethod(context.Background(), SelectMethodCommand{OrderID: "ord_1", Method: "cash"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown method, got %v", err)
	}
}
