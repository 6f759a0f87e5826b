package payments

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"testing"
)

type fakeProvider struct {
	name string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	return Session{ID: "sess_" + p.name, Provider: p.name}, nil
}

func (p *fakeProvider) ParseWebhookEvent(ctx context.Context, payload []byte, headers http.Header) (WebhookEvent, error) {
	return WebhookEvent{Provider: p.name}, nil
}

func TestRegistryResolvesCaseInsensitively(t *testing.T) {
	registry, err := NewRegistry(&fakeProvider{name: "Stripe"}, &fakeProvider{name: "paypal"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := registry.Provider(" STRIPE ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "Stripe" {
		t.Fatalf("unexpected provider: %s", p.Name())
	}

	names := registry.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "paypal" || names[1] != "stripe" {
		t.Fatalf("unexpected names: %#v", names)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	registry, err := NewRegistry(&fakeProvider{name: "stripe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := registry.Provider("square"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(&fakeProvider{name: "stripe"}, &fakeProvider{name: "STRIPE"}); err == nil {
		t.Fatal("expected error for duplicate providers")
	}
}

func TestNewRegistryRequiresProviders(t *testing.T) {
	if _, err := NewRegistry(); err == nil {
		t.Fatal("expected error for empty registry")
	}
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
	if _, err := NewRegistry(&fakeProvider{name: "  "}); err == nil {
		t.Fatal("expected error for unnamed provider")
	}
}
