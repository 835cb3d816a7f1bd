package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/tokenlens/pkg/db"
	"github.com/smallbiznis/tokenlens/pkg/db/option"
	"gorm.io/gorm"
)

type store[T any] struct {
	db      *gorm.DB
	timeout time.Duration
}

func ProvideStore[T any](conn *gorm.DB, timeout time.Duration) Repository[T] {
	return &store[T]{db: conn, timeout: timeout}
}

func (r *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	return &store[T]{db: tx, timeout: r.timeout}
}

func (r *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var result []*T
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.buildQuery(ctx, query, opts...).Find(&result).Error
	})
	return result, err
}

func (r *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var result T
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.buildQuery(ctx, query, opts...).First(&result).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *store[T]) Create(ctx context.Context, resource *T) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Create(resource).Error
	})
}

func (r *store[T]) Update(ctx context.Context, resourceID string, resource any) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Model(new(T)).Where("id = ?", resourceID).Updates(resource).Error
	})
}

func (r *store[T]) Delete(ctx context.Context, resourceID string) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		var dummy T
		return r.db.WithContext(ctx).Where("id = ?", resourceID).Delete(&dummy).Error
	})
}

func (r *store[T]) Count(ctx context.Context, query *T) (int64, error) {
	var count int64
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Model(new(T)).Where(query).Count(&count).Error
	})
	return count, err
}

func (r *store[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}

	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Create(resources).Error
	})
}

func (r *store[T]) buildQuery(ctx context.Context, filter *T, opts ...option.QueryOption) *gorm.DB {
	stmt := r.db.WithContext(ctx).Where(filter)

	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}

	return stmt
}
