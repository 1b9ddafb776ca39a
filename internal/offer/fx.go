package offer

import (
	"github.com/paxiitdevteam/retentionos/internal/offer/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("offer.store",
	fx.Provide(repository.Provide),
)
