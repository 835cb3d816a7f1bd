package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenlens/internal/clock"
	"github.com/smallbiznis/tokenlens/internal/config"
	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
	importrepo "github.com/smallbiznis/tokenlens/internal/dataimport/repository"
	txdomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	txrepo "github.com/smallbiznis/tokenlens/internal/transaction/repository"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	userrepo "github.com/smallbiznis/tokenlens/internal/user/repository"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const usersCSV = `User_ID,User_Name,Region,Is_Active_Sub,Signup_Date,Department,Company_Name
u-1,Ada,EU,true,2023-01-01,Eng,Acme
u-2,Bob,US,no,2023-02-01,Sales,Globex
,Nobody,EU,yes,2023-03-01,Eng,Acme
`

const transactionsCSV = `RowId,User_ID,Model_Name,Conversation_ID,Token_Type,Token_Count,Rate_Per_1k,Calculated_Cost,Timestamp
t-1,u-1,gpt-4,c-1,prompt,1000,0.03,0.03,2024-01-05T10:00:00Z
t-2,u-1,gpt-4,c-1,completion,500,0.06,0.03,2024-01-05T10:00:01Z
,u-2,gpt-4,c-2,prompt,10,0.03,0.0003,2024-01-06T10:00:00Z
t-3,,gpt-4,c-2,prompt,10,0.03,0.0003,2024-01-06T10:00:00Z
t-1,u-1,gpt-4,c-1,prompt,1000,0.03,0.03,2024-01-05T10:00:00Z
t-4,u-2,claude,c-3,prompt,abc,0.01,oops,
`

type fixture struct {
	svc          importdomain.Service
	users        userdomain.Repository
	transactions txdomain.Repository
	clock        *clock.FakeClock
}

func setup(t *testing.T) fixture {
	t.Helper()
	return setupWith(t, nil, nil)
}

// setupWith lets a test adjust ingest settings and wrap the transaction
// repository seen by the service.
func setupWith(t *testing.T, tune func(*config.IngestConfig), wrap func(txdomain.Repository) txdomain.Repository) fixture {
	t.Helper()

	conn, err := db.NewTestConn()
	require.NoError(t, err)
	require.NoError(t, conn.SQL.AutoMigrate(
		&userdomain.User{},
		&txdomain.Transaction{},
		&importdomain.ImportRun{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.DefaultAnalyticsConfig()
	cfg.Ingest.BatchSize = 2
	cfg.Ingest.Workers = 2
	cfg.Ingest.UpsertWorkers = 2
	if tune != nil {
		tune(&cfg.Ingest)
	}

	fake := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	users := userrepo.Provide(conn)
	transactions := txrepo.Provide(conn, zap.NewNop())
	var serviceTransactions txdomain.Repository = transactions
	if wrap != nil {
		serviceTransactions = wrap(transactions)
	}

	svc := New(Params{
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        fake,
		Config:       config.NewStaticAnalyticsConfigHolder(cfg),
		Users:        users,
		Transactions: serviceTransactions,
		Runs:         importrepo.Provide(conn),
	})
	return fixture{svc: svc, users: users, transactions: transactions, clock: fake}
}

func source(name, body string) importdomain.Source {
	return importdomain.Source{Name: name, Reader: strings.NewReader(body)}
}

func TestImportUsersIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.ImportUsers(ctx, source("users.csv", usersCSV))
	require.NoError(t, err)
	assert.Equal(t, &importdomain.Result{Imported: 2, Errors: 1}, first)

	second, err := f.svc.ImportUsers(ctx, source("users.csv", usersCSV))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	count, err := f.users.Count(ctx, userdomain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ada, err := f.users.FindByUserID(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, ada)
	assert.True(t, ada.IsActiveSub)
	assert.Equal(t, "Acme", ada.CompanyName)
}

func TestImportUsersOverwritesFields(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.ImportUsers(ctx, source("users.csv", usersCSV))
	require.NoError(t, err)

	changed := "User_ID,Region,Is_Active_Sub\nu-1,APAC,false\n"
	_, err = f.svc.ImportUsers(ctx, source("users.csv", changed))
	require.NoError(t, err)

	ada, err := f.users.FindByUserID(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, ada)
	assert.Equal(t, "APAC", ada.Region)
	assert.False(t, ada.IsActiveSub)
	assert.Equal(t, "", ada.UserName)
}

func TestImportTransactionsCountsRejectedAndDropsKeyless(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	result, err := f.svc.ImportTransactions(ctx, source("transactions.csv", transactionsCSV))
	require.NoError(t, err)
	// two keyless rows are dropped silently, the repeated t-1 is refused by the store
	assert.Equal(t, &importdomain.Result{Imported: 3, Errors: 1}, result)

	tolerant, err := f.transactions.FindByRowID(ctx, "t-4")
	require.NoError(t, err)
	require.NotNil(t, tolerant)
	assert.Equal(t, int64(0), tolerant.TokenCount)
	assert.True(t, tolerant.CalculatedCost.IsZero())
	assert.True(t, tolerant.Timestamp.Equal(f.clock.Now()))

	runs, err := f.svc.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, importdomain.KindTransactions, runs[0].Kind)
	assert.Equal(t, importdomain.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, "transactions", runs[0].Source)
	assert.Equal(t, int64(2), runs[0].Dropped)
	assert.NotEmpty(t, runs[0].CorrelationID)
}

func TestImportTransactionsCanceled(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.svc.ImportTransactions(ctx, source("transactions.csv", transactionsCSV))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, int64(0), result.Imported)

	runs, err := f.svc.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, importdomain.RunStatusCanceled, runs[0].Status)
}

// cancelAfterFirstBatch commits the first batch and then cancels the import.
type cancelAfterFirstBatch struct {
	txdomain.Repository
	cancel context.CancelFunc
	calls  int
}

func (r *cancelAfterFirstBatch) InsertMany(ctx context.Context, items []*txdomain.Transaction) (txdomain.BatchResult, error) {
	r.calls++
	result, err := r.Repository.InsertMany(ctx, items)
	if r.calls == 1 {
		r.cancel()
	}
	return result, err
}

func TestImportTransactionsCanceledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := setupWith(t,
		func(c *config.IngestConfig) { c.Workers = 1 },
		func(inner txdomain.Repository) txdomain.Repository {
			return &cancelAfterFirstBatch{Repository: inner, cancel: cancel}
		},
	)

	body := `RowId,User_ID,Model_Name,Conversation_ID,Token_Type,Token_Count,Rate_Per_1k,Calculated_Cost,Timestamp
t-1,u-1,gpt-4,c-1,prompt,10,0.03,0.01,2024-01-05T10:00:00Z
t-2,u-1,gpt-4,c-1,prompt,10,0.03,0.01,2024-01-05T10:00:00Z
t-3,u-1,gpt-4,c-1,prompt,10,0.03,0.01,2024-01-05T10:00:00Z
t-4,u-1,gpt-4,c-1,prompt,10,0.03,0.01,2024-01-05T10:00:00Z
t-5,u-1,gpt-4,c-1,prompt,10,0.03,0.01,2024-01-05T10:00:00Z
t-6,u-1,gpt-4,c-1,prompt,10,0.03,0.01,2024-01-05T10:00:00Z
`
	result, err := f.svc.ImportTransactions(ctx, source("transactions.csv", body))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)

	stored, err := f.transactions.Count(context.Background(), txdomain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored)
	assert.Equal(t, stored, result.Imported)
	assert.Equal(t, int64(0), result.Errors)

	runs, err := f.svc.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, importdomain.RunStatusCanceled, runs[0].Status)
	assert.Equal(t, int64(2), runs[0].Imported)
}

func TestImportTransactionsMalformedSource(t *testing.T) {
	f := setup(t)
	reader := io.MultiReader(
		strings.NewReader("RowId,User_ID\nt-1,u-1\n"),
		failingReader{},
	)

	_, err := f.svc.ImportTransactions(context.Background(), importdomain.Source{Name: "broken.csv", Reader: reader})
	require.ErrorIs(t, err, importdomain.ErrMalformedSource)

	runs, err := f.svc.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, importdomain.RunStatusFailed, runs[0].Status)
}

func TestImportAllStopsWhenUsersFail(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	out, err := f.svc.ImportAll(ctx,
		importdomain.Source{Name: "users.csv"},
		source("transactions.csv", transactionsCSV),
	)
	require.True(t, errors.Is(err, importdomain.ErrMissingSource))
	assert.Equal(t, int64(0), out.Transactions.Imported)

	count, err := f.transactions.Count(ctx, txdomain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestImportAllRunsUsersThenTransactions(t *testing.T) {
	f := setup(t)

	out, err := f.svc.ImportAll(context.Background(),
		source("users.csv", usersCSV),
		source("transactions.csv", transactionsCSV),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Users.Imported)
	assert.Equal(t, int64(3), out.Transactions.Imported)
}
