package domain

import (
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	KindUsers        = "users"
	KindTransactions = "transactions"
)

const (
	RunStatusCompleted = "completed"
	RunStatusCanceled  = "canceled"
	RunStatusFailed    = "failed"
)

// Source is one CSV input. Name is only used as a label.
type Source struct {
	Name   string
	Reader io.Reader
}

// Result counts rows stored and rows refused by the store or by validation.
type Result struct {
	Imported int64 `json:"imported"`
	Errors   int64 `json:"errors"`
}

type AllResult struct {
	Users        Result `json:"users"`
	Transactions Result `json:"transactions"`
}

// ImportRun is the audit record written for every import call.
type ImportRun struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	CorrelationID string            `json:"correlationId" gorm:"column:correlation_id;type:varchar(64);not null;index:ix_import_runs_correlation_id"`
	Kind          string            `json:"kind" gorm:"column:kind;type:varchar(32);not null"`
	Source        string            `json:"source" gorm:"column:source;type:varchar(255);not null"`
	Status        string            `json:"status" gorm:"column:status;type:varchar(32);not null"`
	Imported      int64             `json:"imported" gorm:"column:imported;not null"`
	Errors        int64             `json:"errors" gorm:"column:errors;not null"`
	Dropped       int64             `json:"dropped" gorm:"column:dropped;not null"`
	Issues        datatypes.JSONMap `json:"issues" gorm:"column:issues"`
	StartedAt     time.Time         `json:"startedAt" gorm:"column:started_at;not null;index:ix_import_runs_started_at"`
	FinishedAt    time.Time         `json:"finishedAt" gorm:"column:finished_at;not null"`
}

// TableName sets the database table name.
func (ImportRun) TableName() string { return "import_runs" }
