package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lumastore/api/internal/domain"
	pfirestore "github.com/lumastore/api/internal/platform/firestore"
	"github.com/lumastore/api/internal/repositories"
)

const proofsSubcollection = "proofs"

// ProofRepository stores payment proofs underneath their parent order document.
// Proof writes that change the order state run in one transaction over both
// documents.
type ProofRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewProofRepository constructs a Firestore-backed proof repository.
func NewProofRepository(provider *pfirestore.Provider) (*ProofRepository, error) {
	if provider == nil {
		return nil, errors.New("proof repository: firestore provider is required")
	}
	return &ProofRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert stores a proof without touching the parent order.
func (r *ProofRepository) Insert(ctx context.Context, proof domain.PaymentProof) error {
	if r == nil || r.provider == nil {
		return errors.New("proof repository not initialised")
	}
	ref, err := r.proofRef(ctx, proof.OrderID, proof.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeProofDocument(proof)); err != nil {
		return pfirestore.WrapError("proofs.insert", err)
	}
	return nil
}

// InsertWithOrder writes the proof and applies orderFn to the parent order in a
// single transaction. The order guard rejecting aborts the proof write too.
func (r *ProofRepository) InsertWithOrder(ctx context.Context, proof domain.PaymentProof, orderFn repositories.OrderMutator) (domain.PaymentProof, domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentProof{}, domain.Order{}, errors.New("proof repository not initialised")
	}
	if orderFn == nil {
		return domain.PaymentProof{}, domain.Order{}, errors.New("proof repository: order mutator is required")
	}
	orderID := strings.TrimSpace(proof.OrderID)
	proofID := strings.TrimSpace(proof.ID)
	if orderID == "" || proofID == "" {
		return domain.PaymentProof{}, domain.Order{}, errors.New("proof repository: order id and proof id are required")
	}

	var updatedOrder domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("orders decode %s: %w", orderID, err)
		}

		order := decodeOrderDocument(orderID, doc, snapshot.CreateTime, snapshot.UpdateTime)
		if err := orderFn(&order); err != nil {
			return err
		}
		if err := tx.Set(orderRef, encodeOrderDocument(order)); err != nil {
			return err
		}
		if err := tx.Create(orderRef.Collection(proofsSubcollection).Doc(proofID), encodeProofDocument(proof)); err != nil {
			return err
		}
		updatedOrder = order
		return nil
	})
	if err != nil {
		return domain.PaymentProof{}, domain.Order{}, pfirestore.WrapError("proofs.insert_with_order", err)
	}
	return proof, updatedOrder, nil
}

// FindByID fetches a single proof.
func (r *ProofRepository) FindByID(ctx context.Context, orderID string, proofID string) (domain.PaymentProof, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentProof{}, errors.New("proof repository not initialised")
	}
	ref, err := r.proofRef(ctx, orderID, proofID)
	if err != nil {
		return domain.PaymentProof{}, err
	}
	snapshot, err := ref.Get(ctx)
	if err != nil {
		return domain.PaymentProof{}, pfirestore.WrapError("proofs.get", err)
	}
	return decodeProofSnapshot(orderID, snapshot)
}

// FindPending returns the undecided proof for the order, if any.
func (r *ProofRepository) FindPending(ctx context.Context, orderID string) (domain.PaymentProof, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentProof{}, errors.New("proof repository not initialised")
	}
	coll, err := r.proofCollection(ctx, orderID)
	if err != nil {
		return domain.PaymentProof{}, err
	}

	iter := coll.
		Where("status", "==", string(domain.ProofStatusPending)).
		OrderBy("createdAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snapshot, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.PaymentProof{}, pfirestore.WrapError("proofs.find_pending",
			status.Error(codes.NotFound, fmt.Sprintf("no pending proof for order %s", orderID)))
	}
	if err != nil {
		return domain.PaymentProof{}, pfirestore.WrapError("proofs.find_pending", err)
	}
	return decodeProofSnapshot(orderID, snapshot)
}

// ListByOrder returns all proofs for an order, newest first.
func (r *ProofRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentProof, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("proof repository not initialised")
	}
	coll, err := r.proofCollection(ctx, orderID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var proofs []domain.PaymentProof
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("proofs.list", err)
		}
		proof, err := decodeProofSnapshot(orderID, snapshot)
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, proof)
	}
	return proofs, nil
}

// Mutate re-reads the proof and its parent order and applies both mutators in
// one transaction. Either guard rejecting leaves both documents untouched.
func (r *ProofRepository) Mutate(ctx context.Context, orderID string, proofID string, fn repositories.ProofMutator, orderFn repositories.OrderMutator) (domain.PaymentProof, domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentProof{}, domain.Order{}, errors.New("proof repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	proofID = strings.TrimSpace(proofID)
	if orderID == "" || proofID == "" {
		return domain.PaymentProof{}, domain.Order{}, errors.New("proof repository: order id and proof id are required")
	}
	if fn == nil {
		return domain.PaymentProof{}, domain.Order{}, errors.New("proof repository: proof mutator is required")
	}

	var (
		resultProof domain.PaymentProof
		resultOrder domain.Order
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		proofRef := orderRef.Collection(proofsSubcollection).Doc(proofID)

		// All reads precede writes inside a Firestore transaction.
		orderSnapshot, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		proofSnapshot, err := tx.Get(proofRef)
		if err != nil {
			return err
		}

		var orderDoc orderDocument
		if err := orderSnapshot.DataTo(&orderDoc); err != nil {
			return fmt.Errorf("orders decode %s: %w", orderID, err)
		}
		proof, err := decodeProofSnapshot(orderID, proofSnapshot)
		if err != nil {
			return err
		}
		order := decodeOrderDocument(orderID, orderDoc, orderSnapshot.CreateTime, orderSnapshot.UpdateTime)

		if err := fn(&proof); err != nil {
			return err
		}
		if orderFn != nil {
			if err := orderFn(&order); err != nil {
				return err
			}
		}

		if err := tx.Set(proofRef, encodeProofDocument(proof)); err != nil {
			return err
		}
		if orderFn != nil {
			if err := tx.Set(orderRef, encodeOrderDocument(order)); err != nil {
				return err
			}
		}

		resultProof = proof
		resultOrder = order
		return nil
	})
	if err != nil {
		return domain.PaymentProof{}, domain.Order{}, pfirestore.WrapError("proofs.mutate", err)
	}
	return resultProof, resultOrder, nil
}

func (r *ProofRepository) proofCollection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("proof repository: order id is required")
	}
	orderRef, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return orderRef.Collection(proofsSubcollection), nil
}

func (r *ProofRepository) proofRef(ctx context.Context, orderID string, proofID string) (*firestore.DocumentRef, error) {
	proofID = strings.TrimSpace(proofID)
	if proofID == "" {
		return nil, errors.New("proof repository: proof id is required")
	}
	coll, err := r.proofCollection(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return coll.Doc(proofID), nil
}

type proofDocument struct {
	Status string `firestore:"status"`

	ProofURL string               `firestore:"proofUrl"`
	Contact  orderContactDocument `firestore:"contact"`
	Amount   int64                `firestore:"amount"`
	Currency string               `firestore:"currency"`

	ReviewedBy   *string    `firestore:"reviewedBy,omitempty"`
	ReviewReason *string    `firestore:"reviewReason,omitempty"`
	ReviewedAt   *time.Time `firestore:"reviewedAt,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeProofDocument(proof domain.PaymentProof) proofDocument {
	return proofDocument{
		Status:       string(proof.Status),
		ProofURL:     strings.TrimSpace(proof.ProofURL),
		Contact:      orderContactDocument(proof.Contact),
		Amount:       proof.Amount,
		Currency:     strings.ToUpper(strings.TrimSpace(proof.Currency)),
		ReviewedBy:   cloneStringValue(proof.ReviewedBy),
		ReviewReason: cloneStringValue(proof.ReviewReason),
		ReviewedAt:   normalizeTimeValue(proof.ReviewedAt),
		CreatedAt:    proof.CreatedAt.UTC(),
		UpdatedAt:    proof.UpdatedAt.UTC(),
	}
}

func decodeProofSnapshot(orderID string, snapshot *firestore.DocumentSnapshot) (domain.PaymentProof, error) {
	var doc proofDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.PaymentProof{}, fmt.Errorf("proofs decode %s: %w", snapshot.Ref.ID, err)
	}
	return domain.PaymentProof{
		ID:           snapshot.Ref.ID,
		OrderID:      strings.TrimSpace(orderID),
		Status:       domain.ProofStatus(doc.Status),
		ProofURL:     doc.ProofURL,
		Contact:      domain.CustomerContact(doc.Contact),
		Amount:       doc.Amount,
		Currency:     doc.Currency,
		ReviewedBy:   cloneStringValue(doc.ReviewedBy),
		ReviewReason: cloneStringValue(doc.ReviewReason),
		ReviewedAt:   normalizeTimeValue(doc.ReviewedAt),
		CreatedAt:    chooseTimestamp(doc.CreatedAt, snapshot.CreateTime),
		UpdatedAt:    chooseTimestamp(doc.UpdatedAt, snapshot.UpdateTime),
	}, nil
}
