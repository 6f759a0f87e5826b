package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/payments"
	"github.com/lumastore/api/internal/repositories"
)

const orderEventSessionCreated = "order.gateway_session.created"

var (
	// ErrSessionNotAllowed indicates the order's state forbids opening a
	// gateway session.
	ErrSessionNotAllowed = errors.New("order: gateway session not allowed")
	// ErrSessionMethodNotGateway indicates the selected payment method has no
	// gateway behind it.
	ErrSessionMethodNotGateway = errors.New("order: payment method is not gateway backed")
)

// GatewaySessionServiceDeps bundles collaborators for the session factory.
type GatewaySessionServiceDeps struct {
	Orders     repositories.OrderRepository
	Providers  *payments.Registry
	Normalizer *payments.Normalizer
	// SuccessURL and CancelURL are the storefront return targets handed to the
	// gateway's hosted checkout.
	SuccessURL string
	CancelURL  string
	Clock      func() time.Time
	Events     OrderEventPublisher
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type gatewaySessionService struct {
	orders     repositories.OrderRepository
	providers  *payments.Registry
	normalizer *payments.Normalizer
	successURL string
	cancelURL  string
	clock      func() time.Time
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewGatewaySessionService wires dependencies into a GatewaySessionService.
func NewGatewaySessionService(deps GatewaySessionServiceDeps) (GatewaySessionService, error) {
	if deps.Orders == nil {
		return nil, errors.New("gateway session service: order repository is required")
	}
	if deps.Providers == nil {
		return nil, errors.New("gateway session service: provider registry is required")
	}
	if deps.Normalizer == nil {
		return nil, errors.New("gateway session service: amount normalizer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &gatewaySessionService{
		orders:     deps.Orders,
		providers:  deps.Providers,
		normalizer: deps.Normalizer,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateSession opens a hosted checkout session for the order's selected
// gateway and binds the new reference. Re-invocation before any webhook
// supersedes the previous session; the orphaned reference is rejected later by
// the reconciler's reference match.
func (s *gatewaySessionService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (GatewaySession, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return GatewaySession{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return GatewaySession{}, mapOrderRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return GatewaySession{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}
	if err := sessionAllowed(&order); err != nil {
		return GatewaySession{}, err
	}

	providerName := string(order.PaymentMethod)
	provider, err := s.providers.Provider(providerName)
	if err != nil {
		return GatewaySession{}, err
	}

	// Normalisation happens before any external call: a total that cannot be
	// reconstructed from its lines, or that sits below the provider floor,
	// must never reach the gateway.
	lines := make([]payments.AmountLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, payments.AmountLine{
			UnitAmount: item.UnitPrice,
			Quantity:   int64(item.Quantity),
		})
	}
	normalized, err := s.normalizer.NormalizeOrder(providerName, order.Currency, order.Total, lines)
	if err != nil {
		s.logger(ctx, "checkout.session.amount_rejected", map[string]any{
			"orderId":  order.ID,
			"provider": providerName,
			"currency": order.Currency,
			"error":    err.Error(),
		})
		return GatewaySession{}, err
	}
	if err := s.normalizer.CheckMinimum(providerName, order.Currency, normalized.Total); err != nil {
		return GatewaySession{}, err
	}

	items := make([]payments.CheckoutItem, 0, len(order.Items))
	for i, item := range order.Items {
		items = append(items, payments.CheckoutItem{
			Name:       item.Name,
			ProductID:  item.ProductID,
			Quantity:   int64(item.Quantity),
			UnitAmount: normalized.UnitAmounts[i],
		})
	}

	session, err := provider.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Currency:       order.Currency,
		Amount:         normalized.Total,
		AmountExponent: s.normalizer.ProviderExponent(providerName, order.Currency),
		Items:          items,
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
	})
	if err != nil {
		return GatewaySession{}, fmt.Errorf("checkout: create %s session: %w", providerName, err)
	}

	now := s.now()
	updated, err := s.orders.Mutate(ctx, order.ID, func(current *domain.Order) error {
		// The order may have settled or been canceled while the gateway call
		// was in flight; never bind a session onto a closed order.
		if err := sessionAllowed(current); err != nil {
			return err
		}
		current.GatewayProvider = valuePtr(providerName)
		current.GatewayReference = valuePtr(session.ID)
		if current.PaymentStatus != domain.PaymentStatusProcessing {
			if err := current.TransitionPaymentStatus(domain.PaymentStatusProcessing); err != nil {
				return err
			}
		}
		current.GatewayData = mergeGatewayData(current.GatewayData, "session", map[string]any{
			"id":        session.ID,
			"provider":  providerName,
			"createdAt": now.Format(time.RFC3339Nano),
			"expiresAt": session.ExpiresAt.UTC().Format(time.RFC3339Nano),
		})
		current.PaymentLastError = nil
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		return GatewaySession{}, mapOrderRepositoryError(err)
	}

	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventSessionCreated,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		CurrentStatus: string(updated.Status),
		PaymentStatus: string(updated.PaymentStatus),
		ActorID:       cmd.ActorID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"provider":  providerName,
			"sessionId": session.ID,
		},
	})

	return GatewaySession{
		OrderID:     updated.ID,
		Provider:    providerName,
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func sessionAllowed(order *domain.Order) error {
	if !order.PaymentMethod.GatewayBacked() {
		return fmt.Errorf("%w: %s", ErrSessionMethodNotGateway, order.PaymentMethod)
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return fmt.Errorf("%w: payment already captured", ErrSessionNotAllowed)
	}
	switch order.Status {
	case domain.OrderStatusCreated, domain.OrderStatusPendingPayment:
		return nil
	default:
		return fmt.Errorf("%w: status %s", ErrSessionNotAllowed, order.Status)
	}
}

// mergeGatewayData layers a snapshot under key without discarding history
// recorded by earlier attempts or events.
func mergeGatewayData(data map[string]any, key string, snapshot map[string]any) map[string]any {
	merged := ensureMap(cloneMap(data))
	merged[key] = snapshot
	return merged
}

func (s *gatewaySessionService) now() time.Time {
	return s.clock()
}
