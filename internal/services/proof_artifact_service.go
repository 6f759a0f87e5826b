package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lumastore/api/internal/platform/auth"
	pstorage "github.com/lumastore/api/internal/platform/storage"
	"github.com/lumastore/api/internal/repositories"
)

const (
	maxProofArtifactSize = int64(10 * 1024 * 1024) // 10 MiB

	proofArtifactEventUploadIssued = "proof.artifact.upload.issued"
	proofArtifactEventViewIssued   = "proof.artifact.view.issued"
)

var proofArtifactContentTypes = []string{"image/png", "image/jpeg", "image/webp", "application/pdf"}

// ErrProofArtifactInvalidInput indicates a malformed upload or view request.
var ErrProofArtifactInvalidInput = errors.New("proof artifact: invalid input")

// ProofArtifactService issues signed URLs for bank-transfer receipt images.
// The artifact bytes live in Cloud Storage; orders only carry the object path.
type ProofArtifactService interface {
	IssueUploadURL(ctx context.Context, cmd ProofUploadCommand) (ProofArtifactTicket, error)
	IssueViewURL(ctx context.Context, cmd ProofViewCommand) (ProofArtifactTicket, error)
}

// ProofUploadCommand requests a signed PUT URL for a new receipt artifact.
type ProofUploadCommand struct {
	OrderID     string
	UserID      string
	FileName    string
	ContentType string
	SizeBytes   int64
}

// ProofViewCommand requests a signed GET URL for a stored receipt artifact.
type ProofViewCommand struct {
	ObjectPath string
	Identity   *auth.Identity
	OwnerID    string
}

// ProofArtifactTicket is a time-limited signed URL plus the object it addresses.
type ProofArtifactTicket struct {
	ObjectPath string
	URL        string
	Method     string
	Headers    map[string]string
	ExpiresAt  time.Time
}

// ProofArtifactServiceDeps bundles collaborators for the artifact service.
type ProofArtifactServiceDeps struct {
	Orders      repositories.OrderRepository
	Signer      *pstorage.Client
	Bucket      string
	UploadTTL   time.Duration
	ViewTTL     time.Duration
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type proofArtifactService struct {
	orders    repositories.OrderRepository
	signer    *pstorage.Client
	bucket    string
	uploadTTL time.Duration
	viewTTL   time.Duration
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewProofArtifactService wires dependencies into a ProofArtifactService.
func NewProofArtifactService(deps ProofArtifactServiceDeps) (ProofArtifactService, error) {
	if deps.Orders == nil {
		return nil, errors.New("proof artifact service: order repository is required")
	}
	if deps.Signer == nil {
		return nil, errors.New("proof artifact service: storage signer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("proof artifact service: bucket is required")
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

	uploadTTL := deps.UploadTTL
	if uploadTTL <= 0 {
		uploadTTL = 15 * time.Minute
	}
	viewTTL := deps.ViewTTL
	if viewTTL <= 0 {
		viewTTL = 5 * time.Minute
	}

	return &proofArtifactService{
		orders:    deps.Orders,
		signer:    deps.Signer,
		bucket:    bucket,
		uploadTTL: uploadTTL,
		viewTTL:   viewTTL,
		newID:     idGen,
		logger:    logger,
	}, nil
}

// IssueUploadURL validates the request against the order and returns a signed
// PUT URL. The object path doubles as the proof's artifact reference.
func (s *proofArtifactService) IssueUploadURL(ctx context.Context, cmd ProofUploadCommand) (ProofArtifactTicket, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ProofArtifactTicket{}, fmt.Errorf("%w: order id is required", ErrProofArtifactInvalidInput)
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if contentType == "" {
		return ProofArtifactTicket{}, fmt.Errorf("%w: content type is required", ErrProofArtifactInvalidInput)
	}
	if cmd.SizeBytes > maxProofArtifactSize {
		return ProofArtifactTicket{}, fmt.Errorf("%w: artifact exceeds %d bytes", ErrProofArtifactInvalidInput, maxProofArtifactSize)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ProofArtifactTicket{}, mapOrderRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return ProofArtifactTicket{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, order.ID)
	}

	objectPath, err := pstorage.BuildObjectPath(pstorage.PurposeProofReceipt, pstorage.PathParams{
		OrderID:  order.ID,
		ProofID:  s.newID(),
		FileName: cmd.FileName,
	})
	if err != nil {
		return ProofArtifactTicket{}, fmt.Errorf("%w: %v", ErrProofArtifactInvalidInput, err)
	}

	result, err := s.signer.SignedURL(ctx, s.bucket, objectPath, pstorage.SignedURLOptions{
		Upload: &pstorage.UploadOptions{
			ContentType:         contentType,
			AllowedContentTypes: proofArtifactContentTypes,
			MaxSize:             maxProofArtifactSize,
			ExpiresIn:           s.uploadTTL,
		},
	})
	if err != nil {
		return ProofArtifactTicket{}, fmt.Errorf("%w: %v", ErrProofArtifactInvalidInput, err)
	}

	s.logger(ctx, proofArtifactEventUploadIssued, map[string]any{
		"orderId": order.ID,
		"object":  objectPath,
	})

	return ProofArtifactTicket{
		ObjectPath: objectPath,
		URL:        result.URL,
		Method:     result.Method,
		Headers:    result.Headers,
		ExpiresAt:  result.ExpiresAt,
	}, nil
}

// IssueViewURL signs a short-lived GET URL for a stored receipt. Access checks
// run through the storage download authorisation (owner or staff role).
func (s *proofArtifactService) IssueViewURL(ctx context.Context, cmd ProofViewCommand) (ProofArtifactTicket, error) {
	object := strings.TrimSpace(cmd.ObjectPath)
	if object == "" {
		return ProofArtifactTicket{}, fmt.Errorf("%w: object path is required", ErrProofArtifactInvalidInput)
	}

	result, err := s.signer.SignedURL(ctx, s.bucket, object, pstorage.SignedURLOptions{
		Download: &pstorage.DownloadOptions{
			ExpiresIn:   s.viewTTL,
			Identity:    cmd.Identity,
			OwnerID:     strings.TrimSpace(cmd.OwnerID),
			Disposition: "inline",
		},
	})
	if err != nil {
		if errors.Is(err, pstorage.ErrPermissionDenied) {
			return ProofArtifactTicket{}, fmt.Errorf("%w: artifact %s", ErrOrderForbidden, object)
		}
		return ProofArtifactTicket{}, fmt.Errorf("%w: %v", ErrProofArtifactInvalidInput, err)
	}

	s.logger(ctx, proofArtifactEventViewIssued, map[string]any{
		"object": object,
	})

	return ProofArtifactTicket{
		ObjectPath: object,
		URL:        result.URL,
		Method:     result.Method,
		ExpiresAt:  result.ExpiresAt,
	}, nil
}
