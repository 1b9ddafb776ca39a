// Package domain defines the billing provider boundary.
package domain

import (
	"context"
	"net/http"
)

// Provider applies retention mutations against the billing provider. Every
// call carries the request context; implementations must enforce a bounded
// timeout so a slow provider cannot hold a decision open.
type Provider interface {
	Name() string
	ApplyPause(ctx context.Context, providerRef string, months int) error
	ApplyDowngrade(ctx context.Context, providerRef string, targetPlan string) error
	ApplyDiscount(ctx context.Context, providerRef string, percent int, durationMonths int) error
}

// WebhookAdapter verifies and parses inbound provider webhooks.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*ProviderEvent, error)
}

// Adapter is the full provider integration surface.
type Adapter interface {
	Provider
	WebhookAdapter
}
