// Package seed bootstraps the default scoring weights and a starter flow so a
// fresh installation can serve retention traffic immediately.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	flowdomain "github.com/paxiitdevteam/retentionos/internal/flow/domain"
	scoringdomain "github.com/paxiitdevteam/retentionos/internal/scoring/domain"
	"gorm.io/gorm"
)

const defaultWeightValue = 1.0

// EnsureDefaults seeds the scoring weights and, when no flow exists yet, one
// generic retention flow. Idempotent across restarts.
func EnsureDefaults(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureWeights(ctx, tx, node); err != nil {
			return err
		}
		return ensureDefaultFlow(ctx, tx, node)
	})
}

func ensureWeights(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	names := []string{
		scoringdomain.WeightBehavior,
		scoringdomain.WeightValue,
		scoringdomain.WeightHistory,
	}
	now := time.Now().UTC()
	for _, name := range names {
		var count int64
		if err := tx.WithContext(ctx).
			Model(&scoringdomain.Weight{}).
			Where("name = ?", name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		weight := scoringdomain.Weight{
			ID:        node.Generate(),
			Name:      name,
			Value:     defaultWeightValue,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&weight).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureDefaultFlow(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&flowdomain.Flow{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	steps, err := flowdomain.EncodeSteps([]flowdomain.Step{
		{Type: "pause", Pause: &flowdomain.PauseConfig{Months: 1}},
		{Type: "discount", Disc: &flowdomain.DiscountConfig{Percent: 20, DurationMonths: 3}},
		{Type: "feedback", Feed: &flowdomain.FeedbackConfig{Prompt: "What made you consider cancelling?"}},
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	flow := flowdomain.Flow{
		ID:           node.Generate(),
		Name:         "Default retention flow",
		Language:     "en",
		RankingScore: 1,
		Steps:        steps,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return tx.WithContext(ctx).Create(&flow).Error
}
