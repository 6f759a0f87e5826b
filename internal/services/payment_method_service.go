package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

const orderEventMethodChanged = "order.payment_method.changed"

// ErrMethodLocked indicates the order's settlement state forbids changing the
// payment method.
var ErrMethodLocked = errors.New("order: payment method is locked")

// PaymentMethodServiceDeps bundles collaborators for the method selector.
type PaymentMethodServiceDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	Events OrderEventPublisher
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type paymentMethodService struct {
	orders repositories.OrderRepository
	clock  func() time.Time
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)
}

// NewPaymentMethodService wires dependencies into a PaymentMethodService.
func NewPaymentMethodService(deps PaymentMethodServiceDeps) (PaymentMethodService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment method service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentMethodService{
		orders: deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

// SelectMethod changes the order's payment channel. The lock check and the
// write run as one conditional atomic update so a concurrent settlement cannot
// slip between the guard and the mutation.
func (s *paymentMethodService) SelectMethod(ctx context.Context, cmd SelectMethodCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	method, err := domain.ParsePaymentMethod(strings.TrimSpace(cmd.Method))
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.now()
	var previousMethod domain.PaymentMethod

	order, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
			return fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
		}
		if !methodChangeable(order) {
			return fmt.Errorf("%w: status=%s paymentStatus=%s", ErrMethodLocked, order.Status, order.PaymentStatus)
		}

		previousMethod = order.PaymentMethod
		if order.PaymentMethod == method {
			return nil
		}

		order.PaymentMethod = method
		if method.GatewayBacked() {
			order.GatewayProvider = valuePtr(string(method))
		} else {
			order.GatewayProvider = nil
		}

		// An actual change abandons the prior payment attempt: drop the
		// reference and its session artifacts so a late webhook for the old
		// session can never be matched against this order.
		order.GatewayReference = nil
		order.GatewayData = pruneSessionData(order.GatewayData)
		if order.PaymentStatus != domain.PaymentStatusPending {
			if err := order.TransitionPaymentStatus(domain.PaymentStatusPending); err != nil {
				return err
			}
		}
		order.PaymentLastError = nil
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	if previousMethod != method {
		publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
			Type:          orderEventMethodChanged,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CurrentStatus: string(order.Status),
			PaymentStatus: string(order.PaymentStatus),
			ActorID:       cmd.ActorID,
			OccurredAt:    now,
			Metadata: map[string]any{
				"previousMethod": string(previousMethod),
				"method":         string(method),
			},
		})
	}

	return order, nil
}

// methodChangeable applies the settlement lock: the method may change only
// before review/settlement and never once payment is captured.
func methodChangeable(order *domain.Order) bool {
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return false
	}
	switch order.Status {
	case domain.OrderStatusCreated, domain.OrderStatusPendingPayment:
		return true
	default:
		return false
	}
}

// pruneSessionData removes gateway session artifacts accumulated under the
// previous payment attempt while retaining non-session audit entries.
func pruneSessionData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	pruned := make(map[string]any, len(data))
	for key, value := range data {
		switch key {
		case "session", "checkout", "settlement", "failure", "expiry":
			continue
		}
		pruned[key] = value
	}
	if len(pruned) == 0 {
		return nil
	}
	return pruned
}

func (s *paymentMethodService) now() time.Time {
	return s.clock()
}
