package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/paxiitdevteam/retentionos/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// Record writes an audit entry. An audit failure must never fail the
// mutation it describes, so errors are logged and swallowed here.
func (s *Service) Record(ctx context.Context, actor domain.ActorType, actorID string, action string, targetType string, targetID string, metadata map[string]any) {
	entry := &domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  string(actor),
		Action:     action,
		TargetType: targetType,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  time.Now().UTC(),
	}
	if actorID != "" {
		entry.ActorID = &actorID
	}
	if targetID != "" {
		entry.TargetID = &targetID
	}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		entry.Metadata[key] = value
	}

	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		s.log.Warn("audit write failed",
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
