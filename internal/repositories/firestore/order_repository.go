package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lumastore/api/internal/domain"
	pfirestore "github.com/lumastore/api/internal/platform/firestore"
	"github.com/lumastore/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order documents with their embedded line items.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Set(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByGatewayReference resolves the order bound to a gateway session id.
// References are unique per order while set, so the first match wins.
func (r *OrderRepository) FindByGatewayReference(ctx context.Context, provider string, reference string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	reference = strings.TrimSpace(reference)
	if provider == "" || reference == "" {
		return domain.Order{}, errors.New("order repository: provider and reference are required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("gatewayProvider", "==", provider).
			Where("gatewayReference", "==", reference).
			Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_reference",
			status.Error(codes.NotFound, fmt.Sprintf("no order for %s reference %s", provider, reference)))
	}
	doc := docs[0]
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// Mutate re-reads the order and applies fn inside one Firestore transaction.
// The guard in fn and the write commit atomically, so two concurrent writers
// cannot both observe the pre-image and both apply.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutator) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order repository: mutator is required")
	}

	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("orders decode %s: %w", orderID, err)
		}

		order := decodeOrderDocument(orderID, doc, snapshot.CreateTime, snapshot.UpdateTime)
		if err := fn(&order); err != nil {
			return err
		}
		if err := tx.Set(ref, encodeOrderDocument(order)); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		// Guard failures from fn keep their identity through the wrap; callers
		// unwrap with errors.Is / errors.As.
		return domain.Order{}, pfirestore.WrapError("orders.mutate", err)
	}
	return result, nil
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := normaliseStatusValues(filter.Status)
	paymentFilters := normaliseStatusValues(filter.PaymentStatus)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}
		if len(paymentFilters) == 1 {
			q = q.Where("paymentStatus", "==", paymentFilters[0])
		} else if len(paymentFilters) > 1 {
			if len(paymentFilters) > 10 {
				paymentFilters = paymentFilters[:10]
			}
			q = q.Where("paymentStatus", "in", paymentFilters)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	OrderNumber string `firestore:"orderNumber"`
	UserID      string `firestore:"userId"`

	Status        string `firestore:"status"`
	PaymentStatus string `firestore:"paymentStatus"`

	Currency string              `firestore:"currency"`
	Subtotal int64               `firestore:"subtotal"`
	Total    int64               `firestore:"total"`
	Items    []orderItemDocument `firestore:"items"`

	Contact orderContactDocument `firestore:"contact"`

	PaymentMethod    string         `firestore:"paymentMethod"`
	GatewayProvider  *string        `firestore:"gatewayProvider,omitempty"`
	GatewayReference *string        `firestore:"gatewayReference,omitempty"`
	GatewayData      map[string]any `firestore:"gatewayData,omitempty"`
	PaymentLastError *string        `firestore:"paymentLastError,omitempty"`

	PaidAt       *time.Time `firestore:"paidAt,omitempty"`
	FulfilledAt  *time.Time `firestore:"fulfilledAt,omitempty"`
	CanceledAt   *time.Time `firestore:"canceledAt,omitempty"`
	CancelReason *string    `firestore:"cancelReason,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

type orderContactDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return orderDocument{
		OrderNumber:      strings.TrimSpace(order.OrderNumber),
		UserID:           strings.TrimSpace(order.UserID),
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		Currency:         strings.ToUpper(strings.TrimSpace(order.Currency)),
		Subtotal:         order.Subtotal,
		Total:            order.Total,
		Items:            items,
		Contact:          orderContactDocument(order.Contact),
		PaymentMethod:    string(order.PaymentMethod),
		GatewayProvider:  cloneStringValue(order.GatewayProvider),
		GatewayReference: cloneStringValue(order.GatewayReference),
		GatewayData:      cloneAnyMap(order.GatewayData),
		PaymentLastError: cloneStringValue(order.PaymentLastError),
		PaidAt:           normalizeTimeValue(order.PaidAt),
		FulfilledAt:      normalizeTimeValue(order.FulfilledAt),
		CanceledAt:       normalizeTimeValue(order.CanceledAt),
		CancelReason:     cloneStringValue(order.CancelReason),
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderLineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	order := domain.Order{
		ID:               strings.TrimSpace(id),
		OrderNumber:      strings.TrimSpace(doc.OrderNumber),
		UserID:           strings.TrimSpace(doc.UserID),
		Status:           domain.OrderStatus(doc.Status),
		PaymentStatus:    domain.PaymentStatus(doc.PaymentStatus),
		Currency:         strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Subtotal:         doc.Subtotal,
		Total:            doc.Total,
		Items:            items,
		Contact:          domain.CustomerContact(doc.Contact),
		PaymentMethod:    domain.PaymentMethod(doc.PaymentMethod),
		GatewayProvider:  cloneStringValue(doc.GatewayProvider),
		GatewayReference: cloneStringValue(doc.GatewayReference),
		GatewayData:      cloneAnyMap(doc.GatewayData),
		PaymentLastError: cloneStringValue(doc.PaymentLastError),
		PaidAt:           normalizeTimeValue(doc.PaidAt),
		FulfilledAt:      normalizeTimeValue(doc.FulfilledAt),
		CanceledAt:       normalizeTimeValue(doc.CanceledAt),
		CancelReason:     cloneStringValue(doc.CancelReason),
		CreatedAt:        chooseTimestamp(doc.CreatedAt, createdAt),
		UpdatedAt:        chooseTimestamp(doc.UpdatedAt, updatedAt),
	}
	return order
}

func cloneStringValue(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func cloneAnyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

func normalizeTimeValue(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func chooseTimestamp(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func normaliseStatusValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(values))
	seen := make(map[string]struct{})
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}
