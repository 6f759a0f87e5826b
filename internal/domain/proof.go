package domain

import "time"

// ProofStatus enumerates the review lifecycle of a manual payment proof.
type ProofStatus string

const (
	// ProofStatusPending indicates the proof awaits reviewer action.
	ProofStatusPending ProofStatus = "pending"
	// ProofStatusApproved indicates a reviewer accepted the proof. Terminal.
	ProofStatusApproved ProofStatus = "approved"
	// ProofStatusRejected indicates a reviewer declined the proof. Terminal.
	ProofStatusRejected ProofStatus = "rejected"
)

// Decided reports whether the proof already received a reviewer decision.
func (s ProofStatus) Decided() bool {
	return s == ProofStatusApproved || s == ProofStatusRejected
}

// PaymentProof records one uploaded bank-transfer receipt for an order.
// Rejected proofs are retained for audit; a resubmission creates a new row.
type PaymentProof struct {
	ID      string
	OrderID string
	Status  ProofStatus

	// ProofURL references the artifact in the external store; the image bytes
	// never pass through this service.
	ProofURL string
	Contact  CustomerContact
	// Amount snapshots the order total at submission time.
	Amount   int64
	Currency string

	ReviewedBy   *string
	ReviewReason *string
	ReviewedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
