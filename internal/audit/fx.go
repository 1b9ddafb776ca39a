package audit

import (
	"github.com/paxiitdevteam/retentionos/internal/audit/repository"
	"github.com/paxiitdevteam/retentionos/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
