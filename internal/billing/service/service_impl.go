package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/paxiitdevteam/retentionos/internal/billing/adapters"
	"github.com/paxiitdevteam/retentionos/internal/billing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Adapters *adapters.Registry
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	adapters *adapters.Registry
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billing.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		adapters: p.Adapters,
	}
}

// IngestWebhook verifies and records an inbound provider event. It does no
// processing: the endpoint must acknowledge quickly and redeliveries must be
// harmless, so the only write is an idempotent insert.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.ErrInvalidProvider
	}
	adapter, ok := s.adapters.Get(provider)
	if !ok {
		return domain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return domain.ErrInvalidPayload
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			return nil
		}
		return err
	}

	record := &domain.WebhookEvent{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      time.Now().UTC(),
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return err
	}
	if !inserted {
		// Guaranteed redelivery; expected traffic, not an error.
		s.log.Debug("webhook event already recorded",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return nil
	}

	s.log.Info("webhook event recorded",
		zap.String("provider", provider),
		zap.String("event_type", event.Type),
		zap.String("provider_event_id", event.ProviderEventID),
	)
	return nil
}
