package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenlens/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUserID(ctx context.Context, userID string) (*User, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	Update(ctx context.Context, req UpdateRequest) (*User, error)
	Delete(ctx context.Context, id string) error
	Regions(ctx context.Context) ([]string, error)
	Departments(ctx context.Context) ([]string, error)
}

type CreateRequest struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Region      string `json:"region"`
	Department  string `json:"department"`
	CompanyName string `json:"companyName"`
	IsActiveSub bool   `json:"isActiveSub"`
	SignupDate  string `json:"signupDate"`
}

type UpdateRequest struct {
	ID          string  `json:"id"`
	UserName    *string `json:"userName,omitempty"`
	Region      *string `json:"region,omitempty"`
	Department  *string `json:"department,omitempty"`
	CompanyName *string `json:"companyName,omitempty"`
	IsActiveSub *bool   `json:"isActiveSub,omitempty"`
	SignupDate  *string `json:"signupDate,omitempty"`
}

type ListRequest struct {
	Region      string
	Department  string
	IsActiveSub *bool
	Page        pagination.Pagination
}

type ListResponse struct {
	Users    []User              `json:"users"`
	PageInfo pagination.PageInfo `json:"pageInfo"`
}

var (
	ErrNotFound      = errors.New("not_found")
	ErrDuplicate     = errors.New("user_already_exists")
	ErrInvalidID     = errors.New("invalid_id")
	ErrInvalidUserID = errors.New("invalid_user_id")
)

func ParseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(value)
}
