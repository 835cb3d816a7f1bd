package domain

import "context"

type RunRepository interface {
	Insert(ctx context.Context, run *ImportRun) error
	// Latest returns the most recent runs, newest first.
	Latest(ctx context.Context, limit int) ([]ImportRun, error)
}
