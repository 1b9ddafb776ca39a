// Package repository implements the audited weight store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/paxiitdevteam/retentionos/internal/audit/domain"
	"github.com/paxiitdevteam/retentionos/internal/scoring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	AuditSvc auditdomain.Service
}

type weightStore struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	auditSvc auditdomain.Service
}

// Provide builds the weight store.
func Provide(p Params) domain.WeightStore {
	return &weightStore{
		db:       p.DB,
		log:      p.Log.Named("scoring.weights"),
		genID:    p.GenID,
		auditSvc: p.AuditSvc,
	}
}

func (s *weightStore) Get(ctx context.Context, name string) (float64, error) {
	return s.get(ctx, s.db, name)
}

func (s *weightStore) All(ctx context.Context) (map[string]float64, error) {
	var rows []domain.Weight
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		out[row.Name] = row.Value
	}
	return out, nil
}

func (s *weightStore) Set(ctx context.Context, name string, value float64, actor string) (float64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, domain.ErrInvalidWeight
	}

	clamped := domain.Clamp(value)
	var previous float64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.get(ctx, tx, name)
		if err != nil {
			return err
		}
		previous = current
		return s.write(ctx, tx, name, clamped)
	})
	if err != nil {
		return 0, err
	}

	s.auditSvc.Record(ctx, auditdomain.ActorTypeOperator, actor, "scoring.weight_set", "weight", name, map[string]any{
		"previous":  previous,
		"requested": value,
		"applied":   clamped,
	})
	return clamped, nil
}

func (s *weightStore) AdjustTx(ctx context.Context, tx *gorm.DB, name string, delta float64) (float64, error) {
	if tx == nil {
		tx = s.db
	}
	current, err := s.get(ctx, tx, name)
	if err != nil {
		return 0, err
	}
	next := domain.Clamp(current + delta)
	if err := s.write(ctx, tx, name, next); err != nil {
		return 0, err
	}

	s.auditSvc.Record(ctx, auditdomain.ActorTypeSystem, "", "scoring.weight_adjust", "weight", name, map[string]any{
		"previous": current,
		"delta":    delta,
		"applied":  next,
	})
	return next, nil
}

func (s *weightStore) get(ctx context.Context, db *gorm.DB, name string) (float64, error) {
	var row domain.Weight
	err := db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %s", domain.ErrWeightNotFound, name)
		}
		return 0, err
	}
	return row.Value, nil
}

func (s *weightStore) write(ctx context.Context, db *gorm.DB, name string, value float64) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`UPDATE weights SET value = ?, updated_at = ? WHERE name = ?`,
		value,
		now,
		name,
	).Error
}
