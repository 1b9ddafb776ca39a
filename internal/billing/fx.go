package billing

import (
	"context"

	"github.com/paxiitdevteam/retentionos/internal/billing/adapters"
	"github.com/paxiitdevteam/retentionos/internal/billing/adapters/stripe"
	"github.com/paxiitdevteam/retentionos/internal/billing/domain"
	"github.com/paxiitdevteam/retentionos/internal/billing/repository"
	"github.com/paxiitdevteam/retentionos/internal/billing/service"
	"github.com/paxiitdevteam/retentionos/internal/billing/worker"
	"github.com/paxiitdevteam/retentionos/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewStripeAdapter),
	fx.Provide(NewAdapterRegistry),
	fx.Provide(NewProvider),
	fx.Provide(service.NewService),
	fx.Provide(worker.New),
	fx.Invoke(RunWorker),
)

// NewStripeAdapter builds the configured provider adapter.
func NewStripeAdapter(cfg config.Config) *stripe.Adapter {
	return stripe.New(stripe.Config{
		APIBase:       cfg.BillingAPIBase,
		APIKey:        cfg.BillingAPIKey,
		WebhookSecret: cfg.BillingWebhookSecret,
		Timeout:       cfg.BillingTimeout,
	})
}

// NewAdapterRegistry wires the registered provider adapters for webhook ingest.
func NewAdapterRegistry(adapter *stripe.Adapter) *adapters.Registry {
	return adapters.NewRegistry(adapter)
}

// NewProvider exposes the adapter as the mutation surface the decision
// processor calls.
func NewProvider(adapter *stripe.Adapter) domain.Provider {
	return adapter
}

// RunWorker starts the webhook worker with the application lifecycle.
func RunWorker(lc fx.Lifecycle, w *worker.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go w.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
