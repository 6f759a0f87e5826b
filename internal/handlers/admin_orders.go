package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/platform/httpx"
	"github.com/lumastore/api/internal/services"
)

// AdminOrderHandlers exposes the reviewer and operations endpoints. Role
// enforcement happens in the /admin group middleware; handlers only read the
// identity for attribution and download authorisation.
type AdminOrderHandlers struct {
	orders    services.OrderService
	proofs    services.ProofService
	artifacts services.ProofArtifactService
}

// AdminOrderHandlersDeps bundles collaborators for AdminOrderHandlers.
type AdminOrderHandlersDeps struct {
	Orders    services.OrderService
	Proofs    services.ProofService
	Artifacts services.ProofArtifactService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(deps AdminOrderHandlersDeps) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		orders:    deps.Orders,
		proofs:    deps.Proofs,
		artifacts: deps.Artifacts,
	}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:fulfill", h.fulfillOrder)
	r.Post("/orders/{orderID}:cancel", h.cancelOrder)
	r.Get("/orders/{orderID}/proofs", h.listProofs)
	r.Post("/orders/{orderID}/proofs/{proofID}/decision", h.decideProof)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:        strings.TrimSpace(query.Get("user_id")),
		Status:        parseFilterValues(query["status"]),
		PaymentStatus: parseFilterValues(query["payment_status"]),
		DateRange:     dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.Fulfill(ctx, services.FulfillOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeOptionalJSONBody(ctx, w, r, maxSmallBodySize, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type adminProofPayload struct {
	proofPayload
	// ArtifactURL is a short-lived signed view link when the proof points at a
	// stored receipt object; direct URLs pass through unchanged.
	ArtifactURL       string `json:"artifact_url,omitempty"`
	ArtifactExpiresAt string `json:"artifact_expires_at,omitempty"`
}

type adminProofListResponse struct {
	Items []adminProofPayload `json:"items"`
}

func (h *AdminOrderHandlers) listProofs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}
	if h.proofs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "proof service unavailable", http.StatusServiceUnavailable))
		return
	}

	proofs, err := h.proofs.ListProofs(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]adminProofPayload, 0, len(proofs))
	for _, proof := range proofs {
		item := adminProofPayload{proofPayload: buildProofPayload(proof)}
		if h.artifacts != nil && isStoredArtifact(proof.ProofURL) {
			ticket, err := h.artifacts.IssueViewURL(ctx, services.ProofViewCommand{
				ObjectPath: proof.ProofURL,
				Identity:   identity,
			})
			if err == nil {
				item.ArtifactURL = ticket.URL
				item.ArtifactExpiresAt = formatTime(ticket.ExpiresAt)
			}
		}
		items = append(items, item)
	}

	writeJSONResponse(w, http.StatusOK, adminProofListResponse{Items: items})
}

// isStoredArtifact distinguishes receipt object paths from customer-supplied
// external URLs.
func isStoredArtifact(proofURL string) bool {
	trimmed := strings.TrimSpace(proofURL)
	return trimmed != "" && !strings.Contains(trimmed, "://")
}

type proofDecisionRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

type proofDecisionResponse struct {
	Proof proofPayload `json:"proof"`
	Order orderPayload `json:"order"`
}

func (h *AdminOrderHandlers) decideProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}
	proofID := strings.TrimSpace(chi.URLParam(r, "proofID"))
	if proofID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "proof id is required", http.StatusBadRequest))
		return
	}
	if h.proofs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "proof service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req proofDecisionRequest
	if !decodeJSONBody(ctx, w, r, maxSmallBodySize, &req) {
		return
	}

	result, err := h.proofs.DecideProof(ctx, services.DecideProofCommand{
		OrderID:    orderID,
		ProofID:    proofID,
		Decision:   services.ProofDecision(strings.ToLower(strings.TrimSpace(req.Decision))),
		ReviewerID: identity.UID,
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, proofDecisionResponse{
		Proof: buildProofPayload(result.Proof),
		Order: buildOrderPayload(result.Order),
	})
}
