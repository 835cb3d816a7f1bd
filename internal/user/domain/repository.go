package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Filter narrows List and Count. Empty fields are unconstrained.
type Filter struct {
	Region      string
	Department  string
	IsActiveSub *bool
	Offset      int
	Limit       int
}

type Repository interface {
	Insert(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	Delete(ctx context.Context, id snowflake.ID) error
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
	FindByUserID(ctx context.Context, userID string) (*User, error)
	// FindByUserIDs resolves many business keys at once. Unknown keys are
	// simply absent from the result.
	FindByUserIDs(ctx context.Context, userIDs []string) ([]User, error)
	List(ctx context.Context, filter Filter) ([]User, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	// Upsert inserts the user or replaces every mutable field of the
	// existing record with the same UserID.
	Upsert(ctx context.Context, user *User) error
	DistinctRegions(ctx context.Context) ([]string, error)
	DistinctDepartments(ctx context.Context) ([]string, error)
}
