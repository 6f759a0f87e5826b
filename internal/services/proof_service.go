package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

const (
	orderEventProofSubmitted = "order.proof.submitted"
	orderEventProofDecided   = "order.proof.decided"

	proofIDPrefix = "prf_"
)

var (
	// ErrProofNotFound indicates the proof could not be located.
	ErrProofNotFound = errors.New("proof: not found")
	// ErrProofAlreadyDecided indicates the proof already carries a verdict.
	ErrProofAlreadyDecided = errors.New("proof: already decided")
	// ErrProofNotAllowed indicates the order's method or state forbids a
	// manual proof.
	ErrProofNotAllowed = errors.New("proof: submission not allowed")
)

// ProofServiceDeps bundles collaborators for the manual proof workflow.
type ProofServiceDeps struct {
	Orders      repositories.OrderRepository
	Proofs      repositories.ProofRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type proofService struct {
	orders repositories.OrderRepository
	proofs repositories.ProofRepository
	clock  func() time.Time
	newID  func() string
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)
}

// NewProofService wires dependencies into a ProofService.
func NewProofService(deps ProofServiceDeps) (ProofService, error) {
	if deps.Orders == nil {
		return nil, errors.New("proof service: order repository is required")
	}
	if deps.Proofs == nil {
		return nil, errors.New("proof service: proof repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &proofService{
		orders: deps.Orders,
		proofs: deps.Proofs,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// SubmitProof records a bank-transfer receipt and moves the order into review.
// Proof row and order transition commit in one transaction.
func (s *proofService) SubmitProof(ctx context.Context, cmd SubmitProofCommand) (PaymentProof, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentProof{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	proofURL := strings.TrimSpace(cmd.ProofURL)
	if proofURL == "" {
		return PaymentProof{}, fmt.Errorf("%w: proof url is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentProof{}, mapOrderRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return PaymentProof{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}

	now := s.now()
	proof := PaymentProof{
		ID:       proofIDPrefix + s.newID(),
		OrderID:  order.ID,
		Status:   domain.ProofStatusPending,
		ProofURL: proofURL,
		Contact:  cmd.Contact,
		Amount:   order.Total,
		Currency: order.Currency,

		CreatedAt: now,
		UpdatedAt: now,
	}

	inserted, updated, err := s.proofs.InsertWithOrder(ctx, proof, func(current *domain.Order) error {
		// Gateway-method orders never accept manual proofs; the mutual
		// exclusion with webhook settlement rests on this check.
		if current.PaymentMethod != domain.PaymentMethodBankTransfer {
			return fmt.Errorf("%w: method %s", ErrProofNotAllowed, current.PaymentMethod)
		}
		if current.Status != domain.OrderStatusPendingPayment {
			return fmt.Errorf("%w: status %s", ErrProofNotAllowed, current.Status)
		}
		if err := current.TransitionStatus(domain.OrderStatusPaymentReview); err != nil {
			return err
		}
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		return PaymentProof{}, mapProofRepositoryError(err)
	}

	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventProofSubmitted,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		CurrentStatus: string(updated.Status),
		PaymentStatus: string(updated.PaymentStatus),
		ActorID:       cmd.UserID,
		OccurredAt:    now,
		Metadata:      map[string]any{"proofId": inserted.ID},
	})

	return inserted, nil
}

// DecideProof applies a reviewer verdict. The proof guard and the order
// transition run inside the same transaction; a second decision aborts
// without touching either document.
func (s *proofService) DecideProof(ctx context.Context, cmd DecideProofCommand) (ProofDecisionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	proofID := strings.TrimSpace(cmd.ProofID)
	if orderID == "" || proofID == "" {
		return ProofDecisionResult{}, fmt.Errorf("%w: order id and proof id are required", ErrOrderInvalidInput)
	}
	if cmd.Decision != ProofDecisionApprove && cmd.Decision != ProofDecisionReject {
		return ProofDecisionResult{}, fmt.Errorf("%w: unknown decision %q", ErrOrderInvalidInput, cmd.Decision)
	}
	reviewer := strings.TrimSpace(cmd.ReviewerID)
	if reviewer == "" {
		return ProofDecisionResult{}, fmt.Errorf("%w: reviewer id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)

	proof, order, err := s.proofs.Mutate(ctx, orderID, proofID,
		func(proof *domain.PaymentProof) error {
			if proof.Status.Decided() {
				return fmt.Errorf("%w: proof %s is %s", ErrProofAlreadyDecided, proof.ID, proof.Status)
			}
			if cmd.Decision == ProofDecisionApprove {
				proof.Status = domain.ProofStatusApproved
			} else {
				proof.Status = domain.ProofStatusRejected
			}
			proof.ReviewedBy = valuePtr(reviewer)
			proof.ReviewReason = optionalString(reason)
			proof.ReviewedAt = &now
			proof.UpdatedAt = now
			return nil
		},
		func(order *domain.Order) error {
			if cmd.Decision == ProofDecisionApprove {
				if err := order.MarkPaid(now); err != nil {
					return err
				}
			} else {
				if err := order.TransitionStatus(domain.OrderStatusPendingPayment); err != nil {
					return err
				}
				order.PaymentLastError = optionalString(reason)
			}
			order.UpdatedAt = now
			return nil
		})
	if err != nil {
		return ProofDecisionResult{}, mapProofRepositoryError(err)
	}

	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventProofDecided,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		ActorID:       reviewer,
		OccurredAt:    now,
		Metadata: map[string]any{
			"proofId":  proof.ID,
			"decision": string(cmd.Decision),
			"reason":   reason,
		},
	})

	return ProofDecisionResult{Proof: proof, Order: order}, nil
}

func (s *proofService) ListProofs(ctx context.Context, orderID string) ([]PaymentProof, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	proofs, err := s.proofs.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapProofRepositoryError(err)
	}
	return proofs, nil
}

func mapProofRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProofNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("proof: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *proofService) now() time.Time {
	return s.clock()
}
