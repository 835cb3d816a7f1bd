package domain

import (
	"context"
	"errors"
)

type Service interface {
	Summary(ctx context.Context, filter Filter) (*Summary, error)
	CostByModel(ctx context.Context, filter Filter) ([]CostByModel, error)
	UsageByRegion(ctx context.Context, filter Filter) ([]UsageByRegion, error)
	UsageByDepartment(ctx context.Context, filter Filter) ([]UsageByDepartment, error)
	UsageByCompany(ctx context.Context, filter Filter) ([]UsageByCompany, error)
	DailyTrend(ctx context.Context, filter Filter) ([]DailyTrend, error)
	MonthlyTrend(ctx context.Context, filter Filter) ([]MonthlyTrend, error)
	TokenDistribution(ctx context.Context, filter Filter) ([]TokenDistribution, error)
	TopUsers(ctx context.Context, filter Filter) ([]TopUser, error)
	Regions(ctx context.Context) ([]string, error)
	Departments(ctx context.Context) ([]string, error)
	DateRange(ctx context.Context) (*DateRange, error)
}

var (
	ErrInvalidDate      = errors.New("invalid_date")
	ErrInvalidDateRange = errors.New("invalid_date_range")
)
