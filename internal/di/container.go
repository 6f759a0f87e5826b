package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumastore/api/internal/payments"
	"github.com/lumastore/api/internal/platform/config"
	pstorage "github.com/lumastore/api/internal/platform/storage"
	"github.com/lumastore/api/internal/repositories"
	"github.com/lumastore/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders     services.OrderService
	Methods    services.PaymentMethodService
	Sessions   services.GatewaySessionService
	Reconciler services.ReconcilerService
	Proofs     services.ProofService
	Artifacts  services.ProofArtifactService
	System     services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerOption injects optional collaborators built in main (clients, publishers, loggers).
type ContainerOption func(*containerDeps)

type containerDeps struct {
	events    services.OrderEventPublisher
	providers *payments.Registry
	signer    *pstorage.Client
	logger    func(ctx context.Context, event string, fields map[string]any)
	build     services.BuildInfo
}

// WithEventPublisher supplies the order event publisher used by all services.
func WithEventPublisher(events services.OrderEventPublisher) ContainerOption {
	return func(d *containerDeps) {
		d.events = events
	}
}

// WithPaymentProviders supplies the gateway adapter registry.
func WithPaymentProviders(providers *payments.Registry) ContainerOption {
	return func(d *containerDeps) {
		d.providers = providers
	}
}

// WithArtifactSigner supplies the signed URL client used for proof receipts.
func WithArtifactSigner(signer *pstorage.Client) ContainerOption {
	return func(d *containerDeps) {
		d.signer = signer
	}
}

// WithServiceLogger supplies the structured event logger shared by services.
func WithServiceLogger(logger func(ctx context.Context, event string, fields map[string]any)) ContainerOption {
	return func(d *containerDeps) {
		d.logger = logger
	}
}

// WithBuildInfo supplies build metadata surfaced through the system service.
func WithBuildInfo(build services.BuildInfo) ContainerOption {
	return func(d *containerDeps) {
		d.build = build
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	var deps containerDeps
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps containerDeps) (Services, error) {
	var svc Services

	ordersRepo := reg.Orders()
	proofsRepo := reg.Proofs()
	countersRepo := reg.Counters()
	if ordersRepo == nil || countersRepo == nil {
		return Services{}, errors.New("order and counter repositories are required")
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     ordersRepo,
		Counters:   countersRepo,
		UnitOfWork: reg,
		Clock:      time.Now,
		Events:     deps.events,
		Logger:     deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	methodSvc, err := services.NewPaymentMethodService(services.PaymentMethodServiceDeps{
		Orders: ordersRepo,
		Clock:  time.Now,
		Events: deps.events,
		Logger: deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment method service: %w", err)
	}
	svc.Methods = methodSvc

	if deps.providers != nil {
		normalizer := payments.NewNormalizer(payments.AmountRules{
			DefaultExponent:   cfg.PSP.DefaultExponent,
			BusinessExponents: cfg.PSP.BusinessExponents,
			ProviderExponents: cfg.PSP.UnitConventions,
			Minimums:          cfg.PSP.Minimums,
		})

		sessionSvc, err := services.NewGatewaySessionService(services.GatewaySessionServiceDeps{
			Orders:     ordersRepo,
			Providers:  deps.providers,
			Normalizer: normalizer,
			SuccessURL: cfg.PSP.SuccessURL,
			CancelURL:  cfg.PSP.CancelURL,
			Clock:      time.Now,
			Events:     deps.events,
			Logger:     deps.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build gateway session service: %w", err)
		}
		svc.Sessions = sessionSvc

		reconcilerSvc, err := services.NewReconcilerService(services.ReconcilerServiceDeps{
			Orders:    ordersRepo,
			Providers: deps.providers,
			Clock:     time.Now,
			Events:    deps.events,
			Logger:    deps.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build reconciler service: %w", err)
		}
		svc.Reconciler = reconcilerSvc
	}

	if proofsRepo != nil {
		proofSvc, err := services.NewProofService(services.ProofServiceDeps{
			Orders: ordersRepo,
			Proofs: proofsRepo,
			Clock:  time.Now,
			Events: deps.events,
			Logger: deps.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build proof service: %w", err)
		}
		svc.Proofs = proofSvc
	}

	if deps.signer != nil && cfg.Storage.ProofsBucket != "" {
		artifactSvc, err := services.NewProofArtifactService(services.ProofArtifactServiceDeps{
			Orders:    ordersRepo,
			Signer:    deps.signer,
			Bucket:    cfg.Storage.ProofsBucket,
			UploadTTL: cfg.Storage.ProofURLTTL,
			Logger:    deps.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build proof artifact service: %w", err)
		}
		svc.Artifacts = artifactSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            deps.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
