package repository

import (
	"context"

	"github.com/paxiitdevteam/retentionos/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

// Provide builds the audit repository.
func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	return db.WithContext(ctx).Create(entry).Error
}
