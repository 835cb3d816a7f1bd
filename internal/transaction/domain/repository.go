package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Filter narrows List and Count. From is inclusive, To is exclusive.
type Filter struct {
	UserID         string
	ConversationID string
	ModelName      string
	TokenType      string
	From           *time.Time
	To             *time.Time
	Offset         int
	Limit          int
}

// BatchResult holds indices into the slice given to InsertMany.
// len(Accepted)+len(Rejected) always equals the input length.
type BatchResult struct {
	Accepted []int
	Rejected []int
}

type Repository interface {
	Insert(ctx context.Context, tx *Transaction) error
	Update(ctx context.Context, tx *Transaction) error
	Delete(ctx context.Context, id snowflake.ID) error
	FindByID(ctx context.Context, id snowflake.ID) (*Transaction, error)
	FindByRowID(ctx context.Context, rowID string) (*Transaction, error)
	List(ctx context.Context, filter Filter) ([]Transaction, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	// InsertMany attempts every record. Rows refused by a storage
	// constraint are reported in Rejected instead of failing the call.
	InsertMany(ctx context.Context, items []*Transaction) (BatchResult, error)
	// TimestampRange returns nil bounds when the store is empty.
	TimestampRange(ctx context.Context) (*time.Time, *time.Time, error)
}
