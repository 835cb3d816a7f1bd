package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const (
	TokenTypePrompt     = "prompt"
	TokenTypeCompletion = "completion"
)

// Transaction is a single metered LLM call. UserID is a soft reference to
// users.user_id and is not enforced.
type Transaction struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	RowID          string          `json:"rowId" gorm:"column:row_id;type:varchar(191);not null;uniqueIndex:ux_transactions_row_id"`
	UserID         string          `json:"userId" gorm:"column:user_id;type:varchar(191);not null;index:ix_transactions_user_id"`
	ConversationID string          `json:"conversationId" gorm:"column:conversation_id;type:varchar(191);not null"`
	ModelName      string          `json:"modelName" gorm:"column:model_name;type:varchar(191);not null;index:ix_transactions_model_name"`
	TokenType      string          `json:"tokenType" gorm:"column:token_type;type:varchar(32);not null"`
	TokenCount     int64           `json:"tokenCount" gorm:"column:token_count;not null"`
	RatePer1K      decimal.Decimal `json:"ratePer1k" gorm:"column:rate_per_1k;type:numeric(20,8);not null"`
	CalculatedCost decimal.Decimal `json:"calculatedCost" gorm:"column:calculated_cost;type:numeric(20,8);not null"`
	Timestamp      time.Time       `json:"timestamp" gorm:"column:timestamp;not null;index:ix_transactions_timestamp"`
	CreatedAt      time.Time       `json:"createdAt" gorm:"not null"`
	UpdatedAt      time.Time       `json:"updatedAt" gorm:"not null"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

func ValidTokenType(tokenType string) bool {
	switch tokenType {
	case TokenTypePrompt, TokenTypeCompletion:
		return true
	default:
		return false
	}
}
