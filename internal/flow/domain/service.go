package domain

import (
	"context"

	"github.com/paxiitdevteam/retentionos/internal/segment"
)

// Service reads and writes retention flows. The engine itself only reads;
// Create exists for the operator tooling that owns flow authoring.
type Service interface {
	Create(ctx context.Context, req CreateFlowRequest) (*Flow, error)
	GetByID(ctx context.Context, id string) (*Flow, []Step, error)
	// MatchSegment returns the active flows whose language/region/plan
	// targeting is compatible with the segment. The result may be empty.
	MatchSegment(ctx context.Context, key segment.Key, language string) ([]Flow, error)
}

// CreateFlowRequest carries a validated flow definition.
type CreateFlowRequest struct {
	Name         string
	Language     string
	Region       string
	PlanTier     string
	RankingScore int
	Steps        []Step
}
