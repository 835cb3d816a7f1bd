package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tokenlens/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Transaction, error)
	GetByID(ctx context.Context, id string) (*Transaction, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	Update(ctx context.Context, req UpdateRequest) (*Transaction, error)
	Delete(ctx context.Context, id string) error
}

type CreateRequest struct {
	RowID          string          `json:"rowId"`
	UserID         string          `json:"userId"`
	ConversationID string          `json:"conversationId"`
	ModelName      string          `json:"modelName"`
	TokenType      string          `json:"tokenType"`
	TokenCount     int64           `json:"tokenCount"`
	RatePer1K      decimal.Decimal `json:"ratePer1k"`
	CalculatedCost decimal.Decimal `json:"calculatedCost"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
}

type UpdateRequest struct {
	ID             string           `json:"id"`
	ConversationID *string          `json:"conversationId,omitempty"`
	ModelName      *string          `json:"modelName,omitempty"`
	TokenType      *string          `json:"tokenType,omitempty"`
	TokenCount     *int64           `json:"tokenCount,omitempty"`
	RatePer1K      *decimal.Decimal `json:"ratePer1k,omitempty"`
	CalculatedCost *decimal.Decimal `json:"calculatedCost,omitempty"`
	Timestamp      *time.Time       `json:"timestamp,omitempty"`
}

type ListRequest struct {
	UserID         string
	ConversationID string
	ModelName      string
	TokenType      string
	From           *time.Time
	To             *time.Time
	Page           pagination.Pagination
}

type ListResponse struct {
	Transactions []Transaction       `json:"transactions"`
	PageInfo     pagination.PageInfo `json:"pageInfo"`
}

var (
	ErrNotFound         = errors.New("not_found")
	ErrDuplicate        = errors.New("transaction_already_exists")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidRowID     = errors.New("invalid_row_id")
	ErrInvalidUserID    = errors.New("invalid_user_id")
	ErrInvalidTokenType = errors.New("invalid_token_type")
	ErrInvalidAmount    = errors.New("invalid_amount")
)

func ParseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(value)
}
