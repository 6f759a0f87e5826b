package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/services"
)

func newAdminRouter(deps AdminOrderHandlersDeps) chi.Router {
	handler := NewAdminOrderHandlers(deps)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminOrderHandlersListOrdersAcrossUsers(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}}, nil
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: orders})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/admin/orders?user_id=user-7&payment_status=processing", nil, "admin-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	// The admin listing filters by the queried user, not the caller.
	if captured.UserID != "user-7" {
		t.Fatalf("expected user filter user-7, got %q", captured.UserID)
	}
	if len(captured.PaymentStatus) != 1 || captured.PaymentStatus[0] != "processing" {
		t.Fatalf("unexpected payment status filter: %#v", captured.PaymentStatus)
	}
}

func TestAdminOrderHandlersGetOrderSkipsOwnershipCheck(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			order := sampleOrder()
			order.UserID = "someone-else"
			return order, nil
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: orders})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/admin/orders/ord_123", nil, "admin-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.UserID != "someone-else" {
		t.Fatalf("unexpected payload: %#v", resp.Order)
	}
}

func TestAdminOrderHandlersFulfillOrder(t *testing.T) {
	fulfilledAt := time.Date(2025, 3, 6, 9, 0, 0, 0, time.UTC)
	var captured services.FulfillOrderCommand
	orders := &stubOrderService{
		fulfillFn: func(ctx context.Context, cmd services.FulfillOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusFulfilled
			order.PaymentStatus = domain.PaymentStatusPaid
			order.FulfilledAt = &fulfilledAt
			return order, nil
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: orders})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/admin/orders/ord_123:fulfill", nil, "admin-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.ActorID != "admin-1" {
		t.Fatalf("unexpected command: %#v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusFulfilled) {
		t.Fatalf("expected fulfilled status, got %s", resp.Order.Status)
	}
	if resp.Order.FulfilledAt != fulfilledAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected fulfilled timestamp: %s", resp.Order.FulfilledAt)
	}
}

func TestAdminOrderHandlersFulfillUnpaidOrderConflict(t *testing.T) {
	orders := &stubOrderService{
		fulfillFn: func(ctx context.Context, cmd services.FulfillOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order is not paid", domain.ErrInvalidStateTransition)
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: orders})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/admin/orders/ord_123:fulfill", nil, "admin-1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "order_invalid_state" {
		t.Fatalf("expected order_invalid_state code, got %s", code)
	}
}

func TestAdminOrderHandlersCancelWithReason(t *testing.T) {
	var captured services.CancelOrderCommand
	orders := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCanceled
			return order, nil
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: orders})

	body := []byte(`{"reason": "fraud review"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/admin/orders/ord_123:cancel", body, "admin-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.ActorID != "admin-1" || captured.Reason != "fraud review" {
		t.Fatalf("unexpected command: %#v", captured)
	}
}

func TestAdminOrderHandlersListProofsSignsStoredArtifacts(t *testing.T) {
	createdAt := time.Date(2025, 3, 5, 12, 45, 0, 0, time.UTC)
	viewExpiry := time.Date(2025, 3, 5, 13, 0, 0, 0, time.UTC)

	proofs := &stubProofService{
		listFn: func(ctx context.Context, orderID string) ([]services.PaymentProof, error) {
			return []services.PaymentProof{
				{
					ID:        "prf_1",
					OrderID:   orderID,
					Status:    domain.ProofStatusPending,
					ProofURL:  "proofs/ord_123/prf_1/receipt.png",
					Amount:    3700,
					Currency:  "USD",
					CreatedAt: createdAt,
				},
				{
					ID:        "prf_2",
					OrderID:   orderID,
					Status:    domain.ProofStatusRejected,
					ProofURL:  "https://example.com/external-receipt.png",
					Amount:    3700,
					Currency:  "USD",
					CreatedAt: createdAt,
				},
			}, nil
		},
	}

	var signedObjects []string
	artifacts := &stubArtifactService{
		viewFn: func(ctx context.Context, cmd services.ProofViewCommand) (services.ProofArtifactTicket, error) {
			signedObjects = append(signedObjects, cmd.ObjectPath)
			return services.ProofArtifactTicket{
				ObjectPath: cmd.ObjectPath,
				URL:        "https://storage.googleapis.com/bucket/" + cmd.ObjectPath + "?X-Goog-Signature=abc",
				Method:     "GET",
				ExpiresAt:  viewExpiry,
			}, nil
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: &stubOrderService{}, Proofs: proofs, Artifacts: artifacts})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/admin/orders/ord_123/proofs", nil, "admin-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Only the stored object path goes through the signer; external URLs pass
	// through untouched.
	if len(signedObjects) != 1 || signedObjects[0] != "proofs/ord_123/prf_1/receipt.png" {
		t.Fatalf("unexpected signed objects: %#v", signedObjects)
	}

	var resp adminProofListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 proofs, got %d", len(resp.Items))
	}
	if resp.Items[0].ArtifactURL == "" || resp.Items[0].ArtifactExpiresAt != viewExpiry.Format(time.RFC3339Nano) {
		t.Fatalf("expected signed artifact url on stored proof: %#v", resp.Items[0])
	}
	if resp.Items[1].ArtifactURL != "" {
		t.Fatalf("expected no artifact url for external proof: %#v", resp.Items[1])
	}
}

func TestAdminOrderHandlersDecideProofApprove(t *testing.T) {
	reviewedAt := time.Date(2025, 3, 6, 10, 0, 0, 0, time.UTC)
	paidAt := reviewedAt

	var captured services.DecideProofCommand
	proofs := &stubProofService{
		decideFn: func(ctx context.Context, cmd services.DecideProofCommand) (services.ProofDecisionResult, error) {
			captured = cmd
			reviewer := cmd.ReviewerID
			order := sampleOrder()
			order.Status = domain.OrderStatusPaid
			order.PaymentStatus = domain.PaymentStatusPaid
			order.PaidAt = &paidAt
			return services.ProofDecisionResult{
				Proof: services.PaymentProof{
					ID:         cmd.ProofID,
					OrderID:    cmd.OrderID,
					Status:     domain.ProofStatusApproved,
					ReviewedBy: &reviewer,
					ReviewedAt: &reviewedAt,
				},
				Order: order,
			}, nil
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: &stubOrderService{}, Proofs: proofs})

	body := []byte(`{"decision": " Approve "}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/admin/orders/ord_123/proofs/prf_1/decision", body, "admin-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.ProofID != "prf_1" || captured.ReviewerID != "admin-1" {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if captured.Decision != services.ProofDecisionApprove {
		t.Fatalf("expected decision normalised, got %q", captured.Decision)
	}

	var resp proofDecisionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Proof.Status != string(domain.ProofStatusApproved) {
		t.Fatalf("unexpected proof payload: %#v", resp.Proof)
	}
	if resp.Order.Status != string(domain.OrderStatusPaid) || resp.Order.PaymentStatus != string(domain.PaymentStatusPaid) {
		t.Fatalf("unexpected order payload: %#v", resp.Order)
	}
	if resp.Order.PaidAt != paidAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected paid timestamp: %s", resp.Order.PaidAt)
	}
}

func TestAdminOrderHandlersDecideProofAlreadyDecided(t *testing.T) {
	proofs := &stubProofService{
		decideFn: func(ctx context.Context, cmd services.DecideProofCommand) (services.ProofDecisionResult, error) {
			return services.ProofDecisionResult{}, fmt.Errorf("%w: prf_1", services.ErrProofAlreadyDecided)
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: &stubOrderService{}, Proofs: proofs})

	body := []byte(`{"decision": "reject", "reason": "amount mismatch"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/admin/orders/ord_123/proofs/prf_1/decision", body, "admin-1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "proof_already_decided" {
		t.Fatalf("expected proof_already_decided code, got %s", code)
	}
}

func TestAdminOrderHandlersDecideProofRequiresBody(t *testing.T) {
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: &stubOrderService{}, Proofs: &stubProofService{}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/admin/orders/ord_123/proofs/prf_1/decision", nil, "admin-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
