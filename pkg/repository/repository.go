// Package repository provides a minimal generic gorm store for plain CRUD paths.
package repository

import (
	"context"

	"gorm.io/gorm"
)

// Option mutates the query before execution.
type Option func(*gorm.DB) *gorm.DB

// WithLimit caps the number of rows returned by Find.
func WithLimit(limit int) Option {
	return func(tx *gorm.DB) *gorm.DB {
		if limit > 0 {
			return tx.Limit(limit)
		}
		return tx
	}
}

// WithOrder applies an ORDER BY clause.
func WithOrder(order string) Option {
	return func(tx *gorm.DB) *gorm.DB {
		if order == "" {
			return tx
		}
		return tx.Order(order)
	}
}

// Repository exposes typed CRUD over a single model.
type Repository[T any] interface {
	Create(ctx context.Context, record *T) error
	First(ctx context.Context, filter *T) (*T, error)
	Find(ctx context.Context, filter *T, opts ...Option) ([]*T, error)
	Save(ctx context.Context, record *T) error
}

type store[T any] struct {
	db *gorm.DB
}

// ProvideStore builds a Repository bound to the given connection.
func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) Create(ctx context.Context, record *T) error {
	return s.db.WithContext(ctx).Create(record).Error
}

func (s *store[T]) First(ctx context.Context, filter *T) (*T, error) {
	var record T
	if err := s.db.WithContext(ctx).Where(filter).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *store[T]) Find(ctx context.Context, filter *T, opts ...Option) ([]*T, error) {
	tx := s.db.WithContext(ctx).Where(filter)
	for _, opt := range opts {
		tx = opt(tx)
	}
	var records []*T
	if err := tx.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *store[T]) Save(ctx context.Context, record *T) error {
	return s.db.WithContext(ctx).Save(record).Error
}
