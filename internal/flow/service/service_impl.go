package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/paxiitdevteam/retentionos/internal/cache"
	flowdomain "github.com/paxiitdevteam/retentionos/internal/flow/domain"
	"github.com/paxiitdevteam/retentionos/internal/segment"
	"github.com/paxiitdevteam/retentionos/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const flowCacheTTL = 30 * time.Second

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	flows   repository.Repository[flowdomain.Flow]
	byID    *cache.TTLCache[snowflake.ID, flowdomain.Flow]
}

func NewService(p Params) flowdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("flow.service"),
		genID: p.GenID,
		flows: repository.ProvideStore[flowdomain.Flow](p.DB),
		byID:  cache.NewTTLCache[snowflake.ID, flowdomain.Flow](),
	}
}

func (s *Service) Create(ctx context.Context, req flowdomain.CreateFlowRequest) (*flowdomain.Flow, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, flowdomain.ErrInvalidFlow
	}

	encoded, err := flowdomain.EncodeSteps(req.Steps)
	if err != nil {
		return nil, err
	}

	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = "en"
	}

	now := time.Now().UTC()
	record := &flowdomain.Flow{
		ID:           s.genID.Generate(),
		Name:         name,
		Language:     language,
		Region:       strings.ToLower(strings.TrimSpace(req.Region)),
		PlanTier:     strings.ToLower(strings.TrimSpace(req.PlanTier)),
		RankingScore: req.RankingScore,
		Steps:        datatypes.JSON(encoded),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.flows.Create(ctx, record); err != nil {
		return nil, err
	}

	s.log.Info("flow created",
		zap.String("flow_id", record.ID.String()),
		zap.String("name", record.Name),
		zap.Int("ranking_score", record.RankingScore),
	)
	return record, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*flowdomain.Flow, []flowdomain.Step, error) {
	flowID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || flowID == 0 {
		return nil, nil, flowdomain.ErrFlowNotFound
	}

	if cached, ok := s.byID.Get(flowID); ok {
		steps, err := flowdomain.DecodeSteps(cached.Steps)
		if err != nil {
			return nil, nil, err
		}
		return &cached, steps, nil
	}

	record, err := s.flows.First(ctx, &flowdomain.Flow{ID: flowID})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, flowdomain.ErrFlowNotFound
		}
		return nil, nil, err
	}

	steps, err := flowdomain.DecodeSteps(record.Steps)
	if err != nil {
		return nil, nil, err
	}

	s.byID.Set(flowID, *record, flowCacheTTL)
	return record, steps, nil
}

func (s *Service) MatchSegment(ctx context.Context, key segment.Key, language string) ([]flowdomain.Flow, error) {
	var rows []flowdomain.Flow
	err := s.db.WithContext(ctx).
		Where("ranking_score > 0").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	language = strings.ToLower(strings.TrimSpace(language))
	matched := make([]flowdomain.Flow, 0, len(rows))
	for _, row := range rows {
		if !targetsMatch(row, key, language) {
			continue
		}
		matched = append(matched, row)
	}
	return matched, nil
}

// targetsMatch applies the flow's targeting metadata. Empty targeting fields
// match any segment; language defaults to the flow's own tag when the caller
// does not constrain it.
func targetsMatch(f flowdomain.Flow, key segment.Key, language string) bool {
	if f.Region != "" && f.Region != key.Region() {
		return false
	}
	if f.PlanTier != "" && f.PlanTier != key.Plan() {
		return false
	}
	if language != "" && f.Language != language {
		return false
	}
	return true
}
