// Package server wires the HTTP surface: widget endpoints, dashboard reads,
// scoring tools and the billing webhook receiver.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/paxiitdevteam/retentionos/internal/analytics/domain"
	auditdomain "github.com/paxiitdevteam/retentionos/internal/audit/domain"
	billingdomain "github.com/paxiitdevteam/retentionos/internal/billing/domain"
	"github.com/paxiitdevteam/retentionos/internal/config"
	decisiondomain "github.com/paxiitdevteam/retentionos/internal/decision/domain"
	flowdomain "github.com/paxiitdevteam/retentionos/internal/flow/domain"
	"github.com/paxiitdevteam/retentionos/internal/observability/metrics"
	scoringdomain "github.com/paxiitdevteam/retentionos/internal/scoring/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config       config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	HTTPMetrics  *metrics.HTTPMetrics
	DecisionSvc  decisiondomain.Service
	AnalyticsSvc analyticsdomain.Service
	ScoringSvc   scoringdomain.Service
	Weights      scoringdomain.WeightStore
	FlowSvc      flowdomain.Service
	BillingSvc   billingdomain.Service
	AuditSvc     auditdomain.Service
}

// Server carries the handler dependencies.
type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	decisionSvc  decisiondomain.Service
	analyticsSvc analyticsdomain.Service
	scoringSvc   scoringdomain.Service
	weights      scoringdomain.WeightStore
	flowSvc      flowdomain.Service
	billingSvc   billingdomain.Service
	auditSvc     auditdomain.Service
	limiter      *rateLimiter
}

// NewEngine builds the gin engine with recovery and metrics middleware.
func NewEngine(cfg config.Config, m *metrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(metrics.GinMiddleware(m))
	return engine
}

// NewServer builds the HTTP server.
func NewServer(engine *gin.Engine, p Params) *Server {
	return &Server{
		engine:       engine,
		cfg:          p.Config,
		db:           p.DB,
		log:          p.Log.Named("server"),
		decisionSvc:  p.DecisionSvc,
		analyticsSvc: p.AnalyticsSvc,
		scoringSvc:   p.ScoringSvc,
		weights:      p.Weights,
		flowSvc:      p.FlowSvc,
		billingSvc:   p.BillingSvc,
		auditSvc:     p.AuditSvc,
		limiter:      newRateLimiter(p.Config.RateLimitPerMinute, time.Minute),
	}
}

// RegisterAPIRoutes mounts every endpoint. Widget and dashboard routes sit
// behind API-key auth plus the per-key rate limit; webhooks authenticate by
// signature instead.
func (s *Server) RegisterAPIRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.POST("/webhooks/:provider", s.ReceiveWebhook)

	api := s.engine.Group("/api")
	api.Use(s.APIKeyRequired())
	api.Use(s.RateLimit())
	{
		api.POST("/retention/start", s.StartRetentionFlow)
		api.POST("/retention/decision", s.ProcessUserDecision)
		api.GET("/flows/:id", s.GetFlowByID)
		api.POST("/flows", s.CreateFlow)

		api.GET("/analytics/summary", s.GetSummaryMetrics)
		api.GET("/analytics/revenue", s.GetSavedRevenueOverTime)
		api.GET("/analytics/saved-users", s.GetSavedUsersOverTime)
		api.GET("/analytics/offer-performance", s.GetOfferPerformance)
		api.GET("/analytics/churn-reasons", s.GetChurnReasons)

		api.GET("/scoring/churn-risk/:userId", s.CalculateChurnRisk)
		api.GET("/scoring/recommend", s.RecommendBestOffer)
		api.GET("/scoring/message", s.SuggestMessage)
		api.GET("/scoring/weights", s.ListWeights)
		api.PUT("/scoring/weights/:name", s.SetWeight)

		api.POST("/test/cleanup", s.TestCleanup)
	}
}

// Healthz reports liveness and database reachability.
func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP starts the listener with the application lifecycle.
func RunHTTP(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				s.log.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// Module wires the HTTP layer.
var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterAPIRoutes() }),
	fx.Invoke(RunHTTP),
)
