package scoring

import (
	"github.com/paxiitdevteam/retentionos/internal/scoring/repository"
	"github.com/paxiitdevteam/retentionos/internal/scoring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scoring.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
