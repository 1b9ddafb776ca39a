// Package observability wires logging, tracing and metrics into the fx graph.
package observability

import (
	"github.com/paxiitdevteam/retentionos/internal/config"
	"github.com/paxiitdevteam/retentionos/internal/observability/logger"
	"github.com/paxiitdevteam/retentionos/internal/observability/metrics"
	"github.com/paxiitdevteam/retentionos/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(func(cfg config.Config) (*zap.Logger, error) {
		return logger.New(cfg.Environment)
	}),
	fx.Provide(tracing.NewProvider),
	fx.Provide(metrics.NewHTTPMetrics),
)
