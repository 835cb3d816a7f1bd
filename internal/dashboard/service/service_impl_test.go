package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tokenlens/internal/config"
	dashboarddomain "github.com/smallbiznis/tokenlens/internal/dashboard/domain"
	txdomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	txrepo "github.com/smallbiznis/tokenlens/internal/transaction/repository"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	userrepo "github.com/smallbiznis/tokenlens/internal/user/repository"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const ghostUserID = "ghost-user-123456"

func newService(t *testing.T) (dashboarddomain.Service, userdomain.Repository, txdomain.Repository, *snowflake.Node) {
	t.Helper()

	conn, err := db.NewTestConn()
	require.NoError(t, err)
	require.NoError(t, conn.SQL.AutoMigrate(&userdomain.User{}, &txdomain.Transaction{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	users := userrepo.Provide(conn)
	transactions := txrepo.Provide(conn, zap.NewNop())
	svc := New(Params{
		Log:          zap.NewNop(),
		Config:       config.NewStaticAnalyticsConfigHolder(config.DefaultAnalyticsConfig()),
		Users:        users,
		Transactions: transactions,
	})
	return svc, users, transactions, node
}

func seededService(t *testing.T) dashboarddomain.Service {
	t.Helper()
	svc, users, transactions, node := newService(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, u := range []userdomain.User{
		{UserID: "u-1", UserName: "Ada", Region: "EU", Department: "Eng", CompanyName: "Acme", IsActiveSub: true},
		{UserID: "u-2", UserName: "", Region: "US", Department: "Sales", CompanyName: "Globex"},
		{UserID: "u-3", UserName: "Cy", Region: "EU", Department: "Eng", CompanyName: "Acme"},
	} {
		u.ID = node.Generate()
		u.CreatedAt, u.UpdatedAt = now, now
		require.NoError(t, users.Insert(ctx, &u))
	}

	for _, tx := range []struct {
		rowID, userID, model, conversation, tokenType string
		tokens                                        int64
		cost                                          string
		ts                                            time.Time
	}{
		{"t-1", "u-1", "gpt-4", "c-1", "prompt", 100, "1.005", time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)},
		{"t-2", "u-1", "gpt-4", "c-1", "completion", 50, "2.004", time.Date(2024, 1, 5, 11, 0, 0, 0, time.UTC)},
		{"t-3", "u-2", "claude", "c-2", "prompt", 200, "0.5", time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC)},
		{"t-4", ghostUserID, "gpt-4", "c-3", "prompt", 10, "4", time.Date(2024, 3, 20, 23, 59, 59, 0, time.UTC)},
	} {
		require.NoError(t, transactions.Insert(ctx, &txdomain.Transaction{
			ID:             node.Generate(),
			RowID:          tx.rowID,
			UserID:         tx.userID,
			ConversationID: tx.conversation,
			ModelName:      tx.model,
			TokenType:      tx.tokenType,
			TokenCount:     tx.tokens,
			RatePer1K:      decimal.RequireFromString("0.01"),
			CalculatedCost: decimal.RequireFromString(tx.cost),
			Timestamp:      tx.ts,
			CreatedAt:      now,
			UpdatedAt:      now,
		}))
	}
	return svc
}

func TestSummary(t *testing.T) {
	svc := seededService(t)

	got, err := svc.Summary(context.Background(), dashboarddomain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, &dashboarddomain.Summary{
		TotalTransactions:      4,
		TotalTokens:            360,
		TotalCost:              7.51,
		ActiveUsers:            3,
		TotalUsers:             3,
		ProUsers:               1,
		TotalConversations:     3,
		AvgCostPerConversation: 2.503,
	}, got)
}

func TestSummaryRegionScopesUserCounts(t *testing.T) {
	svc := seededService(t)

	got, err := svc.Summary(context.Background(), dashboarddomain.Filter{Region: "EU"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.TotalTransactions)
	assert.Equal(t, 7.51, got.TotalCost)
	assert.Equal(t, int64(3), got.ActiveUsers)
	assert.Equal(t, int64(2), got.TotalUsers)
	assert.Equal(t, int64(1), got.ProUsers)

	all, err := svc.Summary(context.Background(), dashboarddomain.Filter{Region: "all"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), all.TotalTransactions)
	assert.Equal(t, int64(3), all.TotalUsers)
}

func TestRegionKeepsGhostRowsInFactReports(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()
	eu := dashboarddomain.Filter{Region: "EU"}

	models, err := svc.CostByModel(ctx, eu)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, dashboarddomain.CostByModel{Model: "gpt-4", Cost: 7.01, Tokens: 160, Transactions: 3}, models[0])
	assert.Equal(t, dashboarddomain.CostByModel{Model: "claude", Cost: 0.5, Tokens: 200, Transactions: 1}, models[1])

	dist, err := svc.TokenDistribution(ctx, eu)
	require.NoError(t, err)
	var tokens int64
	for _, d := range dist {
		tokens += d.Tokens
	}
	assert.Equal(t, int64(360), tokens)

	top, err := svc.TopUsers(ctx, eu)
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.Equal(t, ghostUserID, top[0].UserID)

	regions, err := svc.UsageByRegion(ctx, eu)
	require.NoError(t, err)
	assert.Len(t, regions, 2)
}

func TestSummaryCountsMissingConversationOnce(t *testing.T) {
	svc, _, transactions, node := newService(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	for i, cost := range []string{"1", "2", "3"} {
		conversation := ""
		if i == 2 {
			conversation = "c-1"
		}
		require.NoError(t, transactions.Insert(ctx, &txdomain.Transaction{
			ID:             node.Generate(),
			RowID:          "t-" + cost,
			UserID:         "u-1",
			ConversationID: conversation,
			ModelName:      "gpt-4",
			TokenType:      "prompt",
			TokenCount:     10,
			CalculatedCost: decimal.RequireFromString(cost),
			Timestamp:      ts,
			CreatedAt:      ts,
			UpdatedAt:      ts,
		}))
	}

	got, err := svc.Summary(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalConversations)
	assert.Equal(t, 3.0, got.AvgCostPerConversation)
}

func TestGhostUserOnlyInFactReports(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	models, err := svc.CostByModel(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, dashboarddomain.CostByModel{Model: "gpt-4", Cost: 7.01, Tokens: 160, Transactions: 3}, models[0])
	assert.Equal(t, "claude", models[1].Model)

	regions, err := svc.UsageByRegion(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []dashboarddomain.UsageByRegion{
		{Region: "EU", Cost: 3.01, Tokens: 150, Users: 1, Transactions: 2},
		{Region: "US", Cost: 0.5, Tokens: 200, Users: 1, Transactions: 1},
	}, regions)

	departments, err := svc.UsageByDepartment(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	require.Len(t, departments, 2)
	assert.Equal(t, "Eng", departments[0].Department)

	companies, err := svc.UsageByCompany(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	require.Len(t, companies, 2)
	assert.Equal(t, "Acme", companies[0].Company)
	assert.Equal(t, "Globex", companies[1].Company)
}

func TestCostIsConservedAcrossModels(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	summary, err := svc.Summary(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	models, err := svc.CostByModel(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)

	var total float64
	var count int64
	for _, m := range models {
		total += m.Cost
		count += m.Transactions
	}
	assert.InDelta(t, summary.TotalCost, total, 0.01)
	assert.Equal(t, summary.TotalTransactions, count)
}

func TestTrends(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	daily, err := svc.DailyTrend(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	require.Len(t, daily, 3)
	assert.Equal(t, "2024-01-05", daily[0].Date)
	assert.Equal(t, int64(2), daily[0].Transactions)
	assert.Equal(t, "2024-03-20", daily[2].Date)

	monthly, err := svc.MonthlyTrend(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	months := make([]string, 0, len(monthly))
	for _, m := range monthly {
		months = append(months, m.Month)
	}
	assert.Equal(t, []string{"2024-01", "2024-02", "2024-03"}, months)

	distribution, err := svc.TokenDistribution(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []dashboarddomain.TokenDistribution{
		{Type: "prompt", Tokens: 310, Cost: 5.51},
		{Type: "completion", Tokens: 50, Cost: 2},
	}, distribution)
}

func TestDateWindowIsInclusive(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	jan, err := svc.CostByModel(ctx, dashboarddomain.Filter{StartDate: "2024-01-01", EndDate: "2024-01-31"})
	require.NoError(t, err)
	require.Len(t, jan, 1)
	assert.Equal(t, int64(2), jan[0].Transactions)

	lastDay, err := svc.Summary(ctx, dashboarddomain.Filter{StartDate: "2024-03-20", EndDate: "2024-03-20"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), lastDay.TotalTransactions)
}

func TestInvalidFilters(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	_, err := svc.Summary(ctx, dashboarddomain.Filter{StartDate: "2024-13-01"})
	assert.ErrorIs(t, err, dashboarddomain.ErrInvalidDate)

	_, err = svc.DailyTrend(ctx, dashboarddomain.Filter{EndDate: "yesterday"})
	assert.ErrorIs(t, err, dashboarddomain.ErrInvalidDate)

	_, err = svc.TopUsers(ctx, dashboarddomain.Filter{StartDate: "2024-02-01", EndDate: "2024-01-01"})
	assert.ErrorIs(t, err, dashboarddomain.ErrInvalidDateRange)
}

func TestTopUsers(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	top, err := svc.TopUsers(ctx, dashboarddomain.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, top, 2)

	assert.Equal(t, dashboarddomain.TopUser{
		UserID:       ghostUserID,
		UserName:     "User ghost-us...",
		Company:      "Unknown",
		Department:   "Unknown",
		Region:       "Unknown",
		Cost:         4,
		Tokens:       10,
		Transactions: 1,
	}, top[0])
	assert.Equal(t, "Ada", top[1].UserName)
	assert.True(t, top[1].IsProUser)

	all, err := svc.TopUsers(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "User u-2...", all[2].UserName)
	assert.Equal(t, "Globex", all[2].Company)
}

func TestDimensionLists(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	regions, err := svc.Regions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"EU", "US"}, regions)

	departments, err := svc.Departments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Eng", "Sales"}, departments)

	dates, err := svc.DateRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, &dashboarddomain.DateRange{MinDate: "2024-01-05", MaxDate: "2024-03-20"}, dates)
}

func TestEmptyStore(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	dates, err := svc.DateRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, &dashboarddomain.DateRange{}, dates)

	summary, err := svc.Summary(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, &dashboarddomain.Summary{}, summary)

	top, err := svc.TopUsers(ctx, dashboarddomain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, top)
}
