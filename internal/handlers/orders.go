package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/payments"
	"github.com/lumastore/api/internal/platform/auth"
	"github.com/lumastore/api/internal/platform/httpx"
	"github.com/lumastore/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
	maxSmallBodySize     = 4 * 1024
)

// OrderHandlers exposes the customer-facing order endpoints.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	methods   services.PaymentMethodService
	sessions  services.GatewaySessionService
	proofs    services.ProofService
	artifacts services.ProofArtifactService

	// createMiddleware wraps POST / so checkout retries with the same
	// Idempotency-Key resolve to the first response.
	createMiddleware func(http.Handler) http.Handler
}

// OrderHandlersDeps bundles collaborators for OrderHandlers.
type OrderHandlersDeps struct {
	Authenticator    *auth.Authenticator
	Orders           services.OrderService
	Methods          services.PaymentMethodService
	Sessions         services.GatewaySessionService
	Proofs           services.ProofService
	Artifacts        services.ProofArtifactService
	CreateMiddleware func(http.Handler) http.Handler
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(deps OrderHandlersDeps) *OrderHandlers {
	return &OrderHandlers{
		authn:            deps.Authenticator,
		orders:           deps.Orders,
		methods:          deps.Methods,
		sessions:         deps.Sessions,
		proofs:           deps.Proofs,
		artifacts:        deps.Artifacts,
		createMiddleware: deps.CreateMiddleware,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	if h.createMiddleware != nil {
		r.With(h.createMiddleware).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Put("/{orderID}/payment-method", h.selectPaymentMethod)
	r.Post("/{orderID}/checkout-session", h.createCheckoutSession)
	r.Post("/{orderID}/proofs", h.submitProof)
	r.Post("/{orderID}/proofs:upload-url", h.issueProofUploadURL)
}

type createOrderRequest struct {
	Currency string              `json:"currency"`
	Items    []orderItemRequest  `json:"items"`
	Contact  orderContactRequest `json:"contact"`
	Method   string              `json:"payment_method"`
	Metadata map[string]any      `json:"metadata"`
}

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type orderContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:   identity.UID,
		Currency: req.Currency,
		Items:    items,
		Contact: services.CustomerContact{
			Name:  strings.TrimSpace(req.Contact.Name),
			Email: strings.TrimSpace(req.Contact.Email),
			Phone: strings.TrimSpace(req.Contact.Phone),
		},
		Method:   req.Method,
		ActorID:  identity.UID,
		Metadata: cloneMap(req.Metadata),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

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
		UserID:        identity.UID,
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

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !ownsOrder(order, identity) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !ownsOrder(order, identity) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	canceled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(canceled)})
}

type selectMethodRequest struct {
	Method string `json:"payment_method"`
}

func (h *OrderHandlers) selectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}
	if h.methods == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "payment method service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req selectMethodRequest
	if !decodeJSONBody(ctx, w, r, maxSmallBodySize, &req) {
		return
	}

	order, err := h.methods.SelectMethod(ctx, services.SelectMethodCommand{
		OrderID: orderID,
		Method:  req.Method,
		UserID:  identity.UID,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "checkout session service unavailable", http.StatusServiceUnavailable))
		return
	}

	session, err := h.sessions.CreateSession(ctx, services.CreateSessionCommand{
		OrderID:        orderID,
		UserID:         identity.UID,
		ActorID:        identity.UID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutSessionResponse{
		OrderID:     session.OrderID,
		Provider:    session.Provider,
		SessionID:   session.SessionID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   formatTime(session.ExpiresAt),
	})
}

type submitProofRequest struct {
	ProofURL string              `json:"proof_url"`
	Contact  orderContactRequest `json:"contact"`
}

func (h *OrderHandlers) submitProof(w http.ResponseWriter, r *http.Request) {
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

	var req submitProofRequest
	if !decodeJSONBody(ctx, w, r, maxSmallBodySize, &req) {
		return
	}

	proof, err := h.proofs.SubmitProof(ctx, services.SubmitProofCommand{
		OrderID:  orderID,
		UserID:   identity.UID,
		ProofURL: strings.TrimSpace(req.ProofURL),
		Contact: services.CustomerContact{
			Name:  strings.TrimSpace(req.Contact.Name),
			Email: strings.TrimSpace(req.Contact.Email),
			Phone: strings.TrimSpace(req.Contact.Phone),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, proofResponse{Proof: buildProofPayload(proof)})
}

type proofUploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

func (h *OrderHandlers) issueProofUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}
	if h.artifacts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "proof artifact service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req proofUploadRequest
	if !decodeJSONBody(ctx, w, r, maxSmallBodySize, &req) {
		return
	}

	ticket, err := h.artifacts.IssueUploadURL(ctx, services.ProofUploadCommand{
		OrderID:     orderID,
		UserID:      identity.UID,
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: strings.TrimSpace(req.ContentType),
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, proofUploadResponse{
		ObjectPath: ticket.ObjectPath,
		URL:        ticket.URL,
		Method:     ticket.Method,
		Headers:    ticket.Headers,
		ExpiresAt:  formatTime(ticket.ExpiresAt),
	})
}

// Shared request plumbing ----------------------------------------------------

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func requireOrderID(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func ownsOrder(order services.Order, identity *auth.Identity) bool {
	return strings.EqualFold(strings.TrimSpace(order.UserID), strings.TrimSpace(identity.UID))
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, target any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

// decodeOptionalJSONBody tolerates an absent body.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, target any) bool {
	body, err := readLimitedBody(r, limit)
	if errors.Is(err, errEmptyBody) {
		return true
	}
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// Response payloads ----------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	PaymentMethod string `json:"payment_method"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID               string               `json:"id"`
	OrderNumber      string               `json:"order_number"`
	UserID           string               `json:"user_id"`
	Status           string               `json:"status"`
	PaymentStatus    string               `json:"payment_status"`
	PaymentMethod    string               `json:"payment_method"`
	Currency         string               `json:"currency"`
	Subtotal         int64                `json:"subtotal"`
	Total            int64                `json:"total"`
	Items            []orderItemPayload   `json:"items"`
	Contact          *orderContactPayload `json:"contact,omitempty"`
	GatewayProvider  string               `json:"gateway_provider,omitempty"`
	GatewayReference string               `json:"gateway_reference,omitempty"`
	PaymentLastError *string              `json:"payment_last_error,omitempty"`
	CreatedAt        string               `json:"created_at"`
	UpdatedAt        string               `json:"updated_at,omitempty"`
	PaidAt           string               `json:"paid_at,omitempty"`
	FulfilledAt      string               `json:"fulfilled_at,omitempty"`
	CanceledAt       string               `json:"canceled_at,omitempty"`
	CancelReason     *string              `json:"cancel_reason,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Total     int64  `json:"total"`
}

type orderContactPayload struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type checkoutSessionResponse struct {
	OrderID     string `json:"order_id"`
	Provider    string `json:"provider"`
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

type proofResponse struct {
	Proof proofPayload `json:"proof"`
}

type proofPayload struct {
	ID           string  `json:"id"`
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	ProofURL     string  `json:"proof_url"`
	Amount       int64   `json:"amount"`
	Currency     string  `json:"currency"`
	ReviewedBy   *string `json:"reviewed_by,omitempty"`
	ReviewReason *string `json:"review_reason,omitempty"`
	ReviewedAt   string  `json:"reviewed_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type proofUploadResponse struct {
	ObjectPath string            `json:"object_path"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  string            `json:"expires_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:         order.Total,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:               strings.TrimSpace(order.ID),
		OrderNumber:      strings.TrimSpace(order.OrderNumber),
		UserID:           strings.TrimSpace(order.UserID),
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentMethod:    string(order.PaymentMethod),
		Currency:         strings.ToUpper(strings.TrimSpace(order.Currency)),
		Subtotal:         order.Subtotal,
		Total:            order.Total,
		Items:            make([]orderItemPayload, 0, len(order.Items)),
		PaymentLastError: cloneStringPointer(order.PaymentLastError),
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
		PaidAt:           formatTime(pointerTime(order.PaidAt)),
		FulfilledAt:      formatTime(pointerTime(order.FulfilledAt)),
		CanceledAt:       formatTime(pointerTime(order.CanceledAt)),
		CancelReason:     cloneStringPointer(order.CancelReason),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.LineTotal(),
		})
	}

	if order.GatewayProvider != nil {
		payload.GatewayProvider = strings.TrimSpace(*order.GatewayProvider)
	}
	if order.GatewayReference != nil {
		payload.GatewayReference = strings.TrimSpace(*order.GatewayReference)
	}

	contact := orderContactPayload{
		Name:  strings.TrimSpace(order.Contact.Name),
		Email: strings.TrimSpace(order.Contact.Email),
		Phone: strings.TrimSpace(order.Contact.Phone),
	}
	if contact != (orderContactPayload{}) {
		payload.Contact = &contact
	}

	return payload
}

func buildProofPayload(proof services.PaymentProof) proofPayload {
	return proofPayload{
		ID:           strings.TrimSpace(proof.ID),
		OrderID:      strings.TrimSpace(proof.OrderID),
		Status:       string(proof.Status),
		ProofURL:     strings.TrimSpace(proof.ProofURL),
		Amount:       proof.Amount,
		Currency:     strings.ToUpper(strings.TrimSpace(proof.Currency)),
		ReviewedBy:   cloneStringPointer(proof.ReviewedBy),
		ReviewReason: cloneStringPointer(proof.ReviewReason),
		ReviewedAt:   formatTime(pointerTime(proof.ReviewedAt)),
		CreatedAt:    formatTime(proof.CreatedAt),
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrProofArtifactInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrProofNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		// Presented as not-found so order ids cannot be probed.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrMethodLocked):
		httpx.WriteError(ctx, w, httpx.NewError("method_locked", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSessionNotAllowed), errors.Is(err, services.ErrSessionMethodNotGateway):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_allowed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProofNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("proof_not_allowed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProofAlreadyDecided):
		httpx.WriteError(ctx, w, httpx.NewError("proof_already_decided", err.Error(), http.StatusConflict))
	case errors.Is(err, payments.ErrAmountTooSmall):
		httpx.WriteError(ctx, w, httpx.NewError("amount_too_small", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, payments.ErrAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", err.Error(), http.StatusConflict))
	case errors.Is(err, payments.ErrProviderNotConfigured), errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", err.Error(), http.StatusBadRequest))
	case errors.Is(err, domain.ErrInvalidStateTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
