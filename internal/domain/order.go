package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidStateTransition is returned when a writer attempts a transition the
// tables below do not allow. Callers must not persist any field change after
// receiving it.
var ErrInvalidStateTransition = errors.New("order: invalid state transition")

// OrderStatus tracks the business/fulfillment axis of an order.
type OrderStatus string

const (
	// OrderStatusCreated indicates the order exists but checkout has not progressed.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaymentReview indicates a manual payment proof awaits reviewer action.
	OrderStatusPaymentReview OrderStatus = "payment_review"
	// OrderStatusPaid indicates payment is settled and the order can be fulfilled.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFulfilled indicates the goods were delivered. Terminal.
	OrderStatusFulfilled OrderStatus = "fulfilled"
	// OrderStatusCanceled indicates the order was canceled before payment. Terminal.
	OrderStatusCanceled OrderStatus = "canceled"
)

// PaymentStatus tracks the payment-channel axis, independent of OrderStatus.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no payment attempt is in flight.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing indicates a gateway session exists and awaits settlement.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusPaid indicates the payment settled. Terminal on this axis.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the gateway reported a failure; the attempt is retryable.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusExpired indicates the gateway session timed out; the attempt is retryable.
	PaymentStatusExpired PaymentStatus = "expired"
)

// PaymentMethod enumerates the supported payment channels.
type PaymentMethod string

const (
	// PaymentMethodBankTransfer is the manual channel confirmed by human proof review.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	// PaymentMethodStripe is the card gateway channel.
	PaymentMethodStripe PaymentMethod = "stripe"
	// PaymentMethodPayPal is the wallet gateway channel.
	PaymentMethodPayPal PaymentMethod = "paypal"
)

// ParsePaymentMethod validates a raw method string against the closed set.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(raw) {
	case PaymentMethodBankTransfer, PaymentMethodStripe, PaymentMethodPayPal:
		return PaymentMethod(raw), nil
	default:
		return "", fmt.Errorf("order: unknown payment method %q", raw)
	}
}

// GatewayBacked reports whether the method settles through an external gateway
// rather than human proof review.
func (m PaymentMethod) GatewayBacked() bool {
	return m == PaymentMethodStripe || m == PaymentMethodPayPal
}

// orderStatusTransitions is the authoritative table for the fulfillment axis.
// Every writer consults it through CanTransition/Transition; no component sets
// Status directly.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:        {OrderStatusPendingPayment, OrderStatusPaymentReview, OrderStatusPaid, OrderStatusCanceled},
	OrderStatusPendingPayment: {OrderStatusPaymentReview, OrderStatusPaid, OrderStatusCanceled},
	OrderStatusPaymentReview:  {OrderStatusPaid, OrderStatusPendingPayment, OrderStatusCanceled},
	OrderStatusPaid:           {OrderStatusFulfilled},
	OrderStatusFulfilled:      {},
	OrderStatusCanceled:       {},
}

// paymentStatusTransitions is the authoritative table for the payment axis.
// pending→paid covers manual proof approval, which never passes through
// processing. Regressions out of paid are impossible by construction.
var paymentStatusTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusPaid},
	PaymentStatusProcessing: {PaymentStatusProcessing, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusExpired, PaymentStatusPending},
	PaymentStatusFailed:     {PaymentStatusProcessing, PaymentStatusPaid, PaymentStatusPending},
	PaymentStatusExpired:    {PaymentStatusProcessing, PaymentStatusPaid, PaymentStatusPending},
	PaymentStatusPaid:       {},
}

// CanTransition reports whether the fulfillment axis may move to target.
func (s OrderStatus) CanTransition(target OrderStatus) bool {
	if s == target {
		return true
	}
	allowed, ok := orderStatusTransitions[s]
	if !ok {
		return false
	}
	for _, next := range allowed {
		if next == target {
			return true
		}
	}
	return false
}

// CanTransition reports whether the payment axis may move to target.
func (s PaymentStatus) CanTransition(target PaymentStatus) bool {
	if s == target && s != PaymentStatusProcessing {
		return true
	}
	allowed, ok := paymentStatusTransitions[s]
	if !ok {
		return false
	}
	for _, next := range allowed {
		if next == target {
			return true
		}
	}
	return false
}

// Terminal reports whether the fulfillment axis can never move again.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFulfilled || s == OrderStatusCanceled
}

// Settled reports whether the order has reached a paid-or-later fulfillment state.
func (s OrderStatus) Settled() bool {
	return s == OrderStatusPaid || s == OrderStatusFulfilled
}

// CustomerContact snapshots who placed the order at creation time.
type CustomerContact struct {
	Name  string
	Email string
	Phone string
}

// OrderLineItem is an immutable snapshot of a purchased catalog item. Unit
// prices are integer amounts in the order currency's minor units; catalog
// price changes never alter a placed order.
type OrderLineItem struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
}

// LineTotal returns unitPrice × quantity for the item.
func (i OrderLineItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Order is the aggregate root owned by the order ledger.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string

	Status        OrderStatus
	PaymentStatus PaymentStatus

	Currency string
	Subtotal int64
	Total    int64
	Items    []OrderLineItem

	Contact CustomerContact

	PaymentMethod    PaymentMethod
	GatewayProvider  *string
	GatewayReference *string
	// GatewayData accumulates gateway payload snapshots across session creation
	// and webhook deliveries. Merged, never replaced.
	GatewayData      map[string]any
	PaymentLastError *string

	PaidAt       *time.Time
	FulfilledAt  *time.Time
	CanceledAt   *time.Time
	CancelReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransitionStatus moves the fulfillment axis, failing without mutation when
// the table forbids the move.
func (o *Order) TransitionStatus(target OrderStatus) error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidStateTransition)
	}
	if !o.Status.CanTransition(target) {
		return fmt.Errorf("%w: status %s -> %s", ErrInvalidStateTransition, o.Status, target)
	}
	o.Status = target
	return nil
}

// TransitionPaymentStatus moves the payment axis under the same discipline.
func (o *Order) TransitionPaymentStatus(target PaymentStatus) error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidStateTransition)
	}
	if !o.PaymentStatus.CanTransition(target) {
		return fmt.Errorf("%w: payment status %s -> %s", ErrInvalidStateTransition, o.PaymentStatus, target)
	}
	o.PaymentStatus = target
	return nil
}

// MarkPaid settles both axes and stamps paidAt exactly once.
func (o *Order) MarkPaid(now time.Time) error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidStateTransition)
	}
	if !o.Status.Settled() {
		if err := o.TransitionStatus(OrderStatusPaid); err != nil {
			return err
		}
	}
	if err := o.TransitionPaymentStatus(PaymentStatusPaid); err != nil {
		return err
	}
	if o.PaidAt == nil {
		paidAt := now.UTC()
		o.PaidAt = &paidAt
	}
	o.PaymentLastError = nil
	return nil
}
