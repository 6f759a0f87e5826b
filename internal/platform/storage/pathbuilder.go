package storage

import (
	"fmt"
	"strings"
	"sync"
)

// ArtifactPurpose captures high-level intent for storage layout decisions.
type ArtifactPurpose string

const (
	// PurposeProofReceipt is an uploaded bank-transfer receipt image.
	PurposeProofReceipt ArtifactPurpose = "proof-receipt"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	OrderID  string
	ProofID  string
	FileName string
}

// PathBuilder composes the object path for a given artifact purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ArtifactPurpose]PathBuilder{
		PurposeProofReceipt: buildProofReceiptPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose ArtifactPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose ArtifactPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported artifact purpose %q", purpose)
	}
	return builder(params)
}

func buildProofReceiptPath(params PathParams) (string, error) {
	orderID := sanitizeSegment(params.OrderID)
	proofID := sanitizeSegment(params.ProofID)
	if orderID == "" || proofID == "" {
		return "", fmt.Errorf("storage: order id and proof id are required for %s", PurposeProofReceipt)
	}
	file := sanitizeFileName(params.FileName)
	if file == "" {
		file = "receipt"
	}
	return fmt.Sprintf("orders/%s/proofs/%s/%s", orderID, proofID, file), nil
}

func sanitizeSegment(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "/", "")
	return value
}

func sanitizeFileName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	// Keep only the final path element to prevent traversal.
	if idx := strings.LastIndex(value, "/"); idx >= 0 {
		value = value[idx+1:]
	}
	return strings.TrimSpace(value)
}
