package flow

import (
	"github.com/paxiitdevteam/retentionos/internal/flow/service"
	"go.uber.org/fx"
)

var Module = fx.Module("flow.service",
	fx.Provide(service.NewService),
)
