package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/payments"
	"github.com/lumastore/api/internal/repositories"
)

const (
	orderEventPaymentSettled = "order.payment.settled"
	orderEventPaymentFailed  = "order.payment.failed"
	orderEventPaymentExpired = "order.payment.expired"
)

// webhookNoopError aborts the atomic update without treating the delivery as a
// failure; the reason is reported back as an ignored outcome.
type webhookNoopError struct {
	reason string
}

func (e webhookNoopError) Error() string {
	return "webhook: " + e.reason
}

// ReconcilerServiceDeps bundles collaborators for the webhook reconciler.
type ReconcilerServiceDeps struct {
	Orders    repositories.OrderRepository
	Providers *payments.Registry
	Clock     func() time.Time
	Events    OrderEventPublisher
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type reconcilerService struct {
	orders    repositories.OrderRepository
	providers *payments.Registry
	clock     func() time.Time
	events    OrderEventPublisher
	logger    func(context.Context, string, map[string]any)
}

// NewReconcilerService wires dependencies into a ReconcilerService.
func NewReconcilerService(deps ReconcilerServiceDeps) (ReconcilerService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciler service: order repository is required")
	}
	if deps.Providers == nil {
		return nil, errors.New("reconciler service: provider registry is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconcilerService{
		orders:    deps.Orders,
		providers: deps.Providers,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

// ProcessWebhook verifies, resolves, and applies one gateway delivery. A
// rejected or ignored result means the caller should acknowledge the delivery;
// a non-nil error means the mutation did not commit and the provider must
// retry.
func (s *reconcilerService) ProcessWebhook(ctx context.Context, cmd ProcessWebhookCommand) (WebhookResult, error) {
	providerName := strings.ToLower(strings.TrimSpace(cmd.Provider))
	provider, err := s.providers.Provider(providerName)
	if err != nil {
		s.logger(ctx, "webhook.provider.unknown", map[string]any{"provider": cmd.Provider})
		return WebhookResult{Outcome: WebhookOutcomeRejected, Reason: "unknown provider"}, nil
	}

	event, err := provider.ParseWebhookEvent(ctx, cmd.Payload, http.Header(cmd.Headers))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			// Potential forgery: never retried, surfaced to operators.
			s.logger(ctx, "webhook.signature.invalid", map[string]any{
				"provider": providerName,
				"error":    err.Error(),
			})
			return WebhookResult{Outcome: WebhookOutcomeRejected, Reason: "invalid signature"}, nil
		}
		// Authentic but undecodable payloads will not improve on retry.
		s.logger(ctx, "webhook.payload.malformed", map[string]any{
			"provider": providerName,
			"error":    err.Error(),
		})
		return WebhookResult{Outcome: WebhookOutcomeRejected, Reason: "malformed payload"}, nil
	}

	result := WebhookResult{
		EventID:   event.EventID,
		EventKind: string(event.Kind),
	}

	if event.Kind == payments.EventUnhandled {
		result.Outcome = WebhookOutcomeIgnored
		result.Reason = "unhandled event type"
		return result, nil
	}

	order, err := s.resolveOrder(ctx, providerName, event)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			// An event that will never resolve must not trigger retry storms.
			s.logger(ctx, "webhook.order.unresolved", map[string]any{
				"provider":  providerName,
				"eventId":   event.EventID,
				"reference": event.Reference,
			})
			result.Outcome = WebhookOutcomeRejected
			result.Reason = "order not resolved"
			return result, nil
		}
		return WebhookResult{}, mapOrderRepositoryError(err)
	}
	result.OrderID = order.ID

	now := s.now()
	var prevStatus domain.OrderStatus
	eventType := ""

	updated, err := s.orders.Mutate(ctx, order.ID, func(current *domain.Order) error {
		prevStatus = current.Status

		// Reference match: events for a superseded session must never touch
		// the current payment attempt.
		if current.GatewayReference == nil || *current.GatewayReference != event.Reference {
			return webhookNoopError{reason: "stale gateway reference"}
		}
		if current.GatewayProvider == nil || *current.GatewayProvider != providerName {
			return webhookNoopError{reason: "provider mismatch"}
		}
		// A canceled order never reopens; settlement on one is an operator
		// incident, not a retryable delivery.
		if current.Status == domain.OrderStatusCanceled {
			return webhookNoopError{reason: "order canceled"}
		}

		switch event.Kind {
		case payments.EventSucceeded:
			if current.PaymentStatus == domain.PaymentStatusPaid {
				return webhookNoopError{reason: "already settled"}
			}
			if err := current.MarkPaid(now); err != nil {
				return err
			}
			current.GatewayData = mergeGatewayData(current.GatewayData, "settlement", map[string]any{
				"eventId":    event.EventID,
				"reference":  event.Reference,
				"settledAt":  now.Format(time.RFC3339Nano),
				"occurredAt": event.OccurredAt.UTC().Format(time.RFC3339Nano),
			})
			eventType = orderEventPaymentSettled

		case payments.EventExpired:
			if current.PaymentStatus == domain.PaymentStatusPaid || current.Status.Settled() {
				return webhookNoopError{reason: "already settled"}
			}
			// Providers deliver failure and expiry for the same attempt in
			// either order; once the attempt is closed the other event is a
			// duplicate, not a transition.
			if paymentAttemptClosed(current.PaymentStatus) {
				return webhookNoopError{reason: "attempt already closed"}
			}
			if err := current.TransitionPaymentStatus(domain.PaymentStatusExpired); err != nil {
				return err
			}
			current.GatewayData = mergeGatewayData(current.GatewayData, "expiry", map[string]any{
				"eventId":   event.EventID,
				"reference": event.Reference,
				"expiredAt": now.Format(time.RFC3339Nano),
			})
			eventType = orderEventPaymentExpired

		case payments.EventFailed:
			if current.PaymentStatus == domain.PaymentStatusPaid || current.Status.Settled() {
				return webhookNoopError{reason: "already settled"}
			}
			if paymentAttemptClosed(current.PaymentStatus) {
				return webhookNoopError{reason: "attempt already closed"}
			}
			if err := current.TransitionPaymentStatus(domain.PaymentStatusFailed); err != nil {
				return err
			}
			reason := strings.TrimSpace(event.FailureReason)
			if reason == "" {
				reason = "payment failed"
			}
			current.PaymentLastError = valuePtr(reason)
			current.GatewayData = mergeGatewayData(current.GatewayData, "failure", map[string]any{
				"eventId":   event.EventID,
				"reference": event.Reference,
				"reason":    reason,
				"failedAt":  now.Format(time.RFC3339Nano),
			})
			eventType = orderEventPaymentFailed

		default:
			return webhookNoopError{reason: "unhandled event type"}
		}

		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		var noop webhookNoopError
		if errors.As(err, &noop) {
			s.logger(ctx, "webhook.event.ignored", map[string]any{
				"provider":  providerName,
				"eventId":   event.EventID,
				"orderId":   order.ID,
				"reference": event.Reference,
				"reason":    noop.reason,
			})
			result.Outcome = WebhookOutcomeIgnored
			result.Reason = noop.reason
			return result, nil
		}
		// Mutation errors must surface as retryable so the provider
		// re-delivers once the store recovers.
		return WebhookResult{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "webhook.event.applied", map[string]any{
		"provider":      providerName,
		"eventId":       event.EventID,
		"orderId":       updated.ID,
		"kind":          string(event.Kind),
		"paymentStatus": string(updated.PaymentStatus),
	})

	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           eventType,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(updated.Status),
		PaymentStatus:  string(updated.PaymentStatus),
		OccurredAt:     now,
		Metadata: map[string]any{
			"provider": providerName,
			"eventId":  event.EventID,
		},
	})

	result.Outcome = WebhookOutcomeApplied
	return result, nil
}

// paymentAttemptClosed reports whether the attempt already ended without
// settlement. FAILED and EXPIRED are one class for the duplicate guard.
func paymentAttemptClosed(status domain.PaymentStatus) bool {
	return status == domain.PaymentStatusFailed || status == domain.PaymentStatusExpired
}

// resolveOrder locates the event's target, preferring explicit order metadata
// and falling back to the gateway reference.
func (s *reconcilerService) resolveOrder(ctx context.Context, providerName string, event payments.WebhookEvent) (domain.Order, error) {
	if orderID := strings.TrimSpace(event.OrderID); orderID != "" {
		order, err := s.orders.FindByID(ctx, orderID)
		if err == nil {
			return order, nil
		}
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return domain.Order{}, err
		}
	}
	if reference := strings.TrimSpace(event.Reference); reference != "" {
		return s.orders.FindByGatewayReference(ctx, providerName, reference)
	}
	return domain.Order{}, fmt.Errorf("webhook: event carries no order id or reference: %w", notFoundError{})
}

// notFoundError satisfies RepositoryError for events with no resolvable target.
type notFoundError struct{}

func (notFoundError) Error() string       { return "not found" }
func (notFoundError) IsNotFound() bool    { return true }
func (notFoundError) IsConflict() bool    { return false }
func (notFoundError) IsUnavailable() bool { return false }

func (s *reconcilerService) now() time.Time {
	return s.clock()
}
