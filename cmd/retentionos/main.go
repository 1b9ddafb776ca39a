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
	"github.com/paxiitdevteam/retentionos/internal/migration"
	"github.com/paxiitdevteam/retentionos/internal/observability"
	"github.com/paxiitdevteam/retentionos/internal/offer"
	"github.com/paxiitdevteam/retentionos/internal/scoring"
	"github.com/paxiitdevteam/retentionos/internal/seed"
	"github.com/paxiitdevteam/retentionos/internal/server"
	"github.com/paxiitdevteam/retentionos/pkg/db"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		events.Module,

		fx.Invoke(func(conn *gorm.DB) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			return seed.EnsureDefaults(conn)
		}),

		audit.Module,
		offer.Module,
		flow.Module,
		scoring.Module,
		billing.Module,
		decision.Module,
		analytics.Module,

		server.Module,

		fx.Invoke(func(*trace.TracerProvider) {}),
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
