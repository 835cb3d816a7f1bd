package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	txdomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type repo struct {
	db      *gorm.DB
	timeout time.Duration
	log     *zap.Logger
}

// Provide builds the transaction repository for the configured backend.
func Provide(conn *db.Conn, log *zap.Logger) txdomain.Repository {
	if conn.Backend == db.BackendMongo {
		return NewMongo(conn.Mongo, conn.OpTimeout, log)
	}
	return NewSQL(conn.SQL, conn.OpTimeout, log)
}

func NewSQL(conn *gorm.DB, timeout time.Duration, log *zap.Logger) txdomain.Repository {
	return &repo{db: conn, timeout: timeout, log: log.Named("transaction.repository")}
}

func (r *repo) Insert(ctx context.Context, tx *txdomain.Transaction) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Create(tx).Error
	})
}

func (r *repo) Update(ctx context.Context, tx *txdomain.Transaction) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Model(&txdomain.Transaction{}).
			Where("id = ?", tx.ID).
			Updates(map[string]any{
				"conversation_id": tx.ConversationID,
				"model_name":      tx.ModelName,
				"token_type":      tx.TokenType,
				"token_count":     tx.TokenCount,
				"rate_per_1k":     tx.RatePer1K,
				"calculated_cost": tx.CalculatedCost,
				"timestamp":       tx.Timestamp,
				"updated_at":      tx.UpdatedAt,
			}).Error
	})
}

func (r *repo) Delete(ctx context.Context, id snowflake.ID) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Where("id = ?", id).Delete(&txdomain.Transaction{}).Error
	})
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*txdomain.Transaction, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repo) FindByRowID(ctx context.Context, rowID string) (*txdomain.Transaction, error) {
	return r.findOne(ctx, "row_id = ?", rowID)
}

func (r *repo) findOne(ctx context.Context, cond string, arg any) (*txdomain.Transaction, error) {
	var items []txdomain.Transaction
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Where(cond, arg).Limit(1).Find(&items).Error
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) List(ctx context.Context, filter txdomain.Filter) ([]txdomain.Transaction, error) {
	var items []txdomain.Transaction
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		stmt := applyFilter(r.db.WithContext(ctx).Model(&txdomain.Transaction{}), filter).
			Order("timestamp DESC").
			Order("id DESC")
		if filter.Offset > 0 {
			stmt = stmt.Offset(filter.Offset)
		}
		if filter.Limit > 0 {
			stmt = stmt.Limit(filter.Limit)
		}
		return stmt.Find(&items).Error
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Count(ctx context.Context, filter txdomain.Filter) (int64, error) {
	var count int64
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return applyFilter(r.db.WithContext(ctx).Model(&txdomain.Transaction{}), filter).Count(&count).Error
	})
	return count, err
}

// InsertMany writes the batch in one transaction. When a constraint refuses
// any row the transaction is rolled back and rows are retried one by one so
// only the offending rows are rejected.
func (r *repo) InsertMany(ctx context.Context, items []*txdomain.Transaction) (txdomain.BatchResult, error) {
	if len(items) == 0 {
		return txdomain.BatchResult{}, nil
	}

	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.CreateInBatches(items, len(items)).Error
		})
	})
	if err == nil {
		return txdomain.BatchResult{Accepted: indices(len(items))}, nil
	}
	if !db.IsConstraintErr(err) {
		return txdomain.BatchResult{}, err
	}

	r.log.Debug("batch refused by constraint, retrying per row",
		zap.Int("rows", len(items)),
		zap.Error(err),
	)

	var result txdomain.BatchResult
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := r.Insert(ctx, item)
		switch {
		case err == nil:
			result.Accepted = append(result.Accepted, i)
		case db.IsConstraintErr(err):
			result.Rejected = append(result.Rejected, i)
		default:
			return result, err
		}
	}
	return result, nil
}

func (r *repo) TimestampRange(ctx context.Context) (*time.Time, *time.Time, error) {
	first, err := r.edge(ctx, "timestamp ASC")
	if err != nil || first == nil {
		return nil, nil, err
	}
	last, err := r.edge(ctx, "timestamp DESC")
	if err != nil {
		return nil, nil, err
	}
	return first, last, nil
}

func (r *repo) edge(ctx context.Context, order string) (*time.Time, error) {
	var items []txdomain.Transaction
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).
			Select("id", "timestamp").
			Order(order).
			Limit(1).
			Find(&items).Error
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	ts := items[0].Timestamp.UTC()
	return &ts, nil
}

func applyFilter(stmt *gorm.DB, filter txdomain.Filter) *gorm.DB {
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}
	if filter.ConversationID != "" {
		stmt = stmt.Where("conversation_id = ?", filter.ConversationID)
	}
	if filter.ModelName != "" {
		stmt = stmt.Where("model_name = ?", filter.ModelName)
	}
	if filter.TokenType != "" {
		stmt = stmt.Where("token_type = ?", filter.TokenType)
	}
	if filter.From != nil {
		stmt = stmt.Where("timestamp >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("timestamp < ?", filter.To.UTC())
	}
	return stmt
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
