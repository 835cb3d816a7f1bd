package domain

import (
	"context"
	"errors"
)

type Service interface {
	ImportUsers(ctx context.Context, src Source) (*Result, error)
	ImportTransactions(ctx context.Context, src Source) (*Result, error)
	// ImportAll loads users before transactions. A hard failure on users
	// stops the call before transactions are read.
	ImportAll(ctx context.Context, users, transactions Source) (*AllResult, error)
	ListRuns(ctx context.Context, limit int) ([]ImportRun, error)
}

var (
	ErrMalformedSource = errors.New("malformed_source")
	ErrMissingSource   = errors.New("missing_source")
)
