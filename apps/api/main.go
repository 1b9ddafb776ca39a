// @title           RetentionOS API
// @version         1.0
// @description     Retention decision engine API
// @host      localhost:8080
// @BasePath  /api
// @Schemes 	http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/paxiitdevteam/retentionos/internal/analytics"
	"github.com/paxiitdevteam/retentionos/internal/audit"
	"github.com/paxiitdevteam/retentionos/internal/billing"
	"github.com/paxiitdevteam/retentionos/internal/clock"
	"github.com/paxiitdevteam/retentionos/internal/config"
	"github.com/paxiitdevteam/retentionos/internal/decision"
	"github.com/paxiitdevteam/retentionos/internal/events"
	"github.com/paxiitdevteam/retentionos/internal/flow"
	"github.com/paxiitdevteam/retentionos/internal/observability"
	"github.com/paxiitdevteam/retentionos/internal/offer"
	"github.com/paxiitdevteam/retentionos/internal/scoring"
	"github.com/paxiitdevteam/retentionos/internal/server"
	"github.com/paxiitdevteam/retentionos/pkg/db"
	"go.uber.org/fx"
)

// The api binary serves traffic against an already-migrated database; schema
// setup lives in cmd/retentionos.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		events.Module,

		audit.Module,
		offer.Module,
		flow.Module,
		scoring.Module,
		billing.Module,
		decision.Module,
		analytics.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
