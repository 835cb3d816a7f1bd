package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/tokenlens/internal/clock"
	"github.com/smallbiznis/tokenlens/internal/config"
	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
	"github.com/smallbiznis/tokenlens/internal/observability/logger"
	"github.com/smallbiznis/tokenlens/internal/observability/metrics"
	txdomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	"github.com/smallbiznis/tokenlens/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       *config.AnalyticsConfigHolder
	Users        userdomain.Repository
	Transactions txdomain.Repository
	Runs         importdomain.RunRepository
	Metrics      *metrics.Metrics       `optional:"true"`
	Ingest       *metrics.IngestMetrics `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	cfg          *config.AnalyticsConfigHolder
	users        userdomain.Repository
	transactions txdomain.Repository
	runs         importdomain.RunRepository
	metrics      *metrics.Metrics
	ingest       *metrics.IngestMetrics
}

func New(p Params) importdomain.Service {
	cfg := p.Config
	if cfg == nil {
		cfg = config.NewStaticAnalyticsConfigHolder(config.DefaultAnalyticsConfig())
	}
	return &Service{
		log:          p.Log.Named("dataimport.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          cfg,
		users:        p.Users,
		transactions: p.Transactions,
		runs:         p.Runs,
		metrics:      p.Metrics,
		ingest:       p.Ingest,
	}
}

// runState carries the counters of one import call.
type runState struct {
	id            snowflake.ID
	kind          string
	source        string
	correlationID string
	startedAt     time.Time
	log           *zap.Logger

	imported atomic.Int64
	errors   atomic.Int64
	dropped  atomic.Int64
	issues   *issueLog
}

func (s *Service) ImportUsers(ctx context.Context, src importdomain.Source) (*importdomain.Result, error) {
	ctx, run := s.begin(ctx, importdomain.KindUsers, src)
	err := s.importUsers(ctx, run, src)
	return s.finish(ctx, run, err)
}

func (s *Service) ImportTransactions(ctx context.Context, src importdomain.Source) (*importdomain.Result, error) {
	ctx, run := s.begin(ctx, importdomain.KindTransactions, src)
	err := s.importTransactions(ctx, run, src)
	return s.finish(ctx, run, err)
}

func (s *Service) ImportAll(ctx context.Context, users, transactions importdomain.Source) (*importdomain.AllResult, error) {
	out := &importdomain.AllResult{}

	userResult, err := s.ImportUsers(ctx, users)
	if userResult != nil {
		out.Users = *userResult
	}
	if err != nil {
		return out, err
	}

	txResult, err := s.ImportTransactions(ctx, transactions)
	if txResult != nil {
		out.Transactions = *txResult
	}
	return out, err
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]importdomain.ImportRun, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}
	runs, err := s.runs.Latest(ctx, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []importdomain.ImportRun{}
	}
	return runs, nil
}

func (s *Service) begin(ctx context.Context, kind string, src importdomain.Source) (context.Context, *runState) {
	ctx, cid := correlation.EnsureCorrelationID(ctx)
	run := &runState{
		id:            s.genID.Generate(),
		kind:          kind,
		source:        sourceLabel(src.Name),
		correlationID: cid,
		startedAt:     s.clock.Now(),
		issues:        newIssueLog(),
	}
	ctx = logger.WithQueryScope(ctx, logger.QueryScope{ImportKind: kind, ImportRun: run.id.String()})
	run.log = logger.WithImportRun(logger.WithContext(ctx, s.log), kind, cid).
		With(zap.String("source", run.source))
	run.log.Info("import started")
	return ctx, run
}

func (s *Service) finish(ctx context.Context, run *runState, err error) (*importdomain.Result, error) {
	status := importdomain.RunStatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = importdomain.RunStatusCanceled
	default:
		status = importdomain.RunStatusFailed
	}

	result := &importdomain.Result{
		Imported: run.imported.Load(),
		Errors:   run.errors.Load(),
	}
	dropped := run.dropped.Load()

	record := &importdomain.ImportRun{
		ID:            run.id,
		CorrelationID: run.correlationID,
		Kind:          run.kind,
		Source:        run.source,
		Status:        status,
		Imported:      result.Imported,
		Errors:        result.Errors,
		Dropped:       dropped,
		Issues:        run.issues.summary(),
		StartedAt:     run.startedAt,
		FinishedAt:    s.clock.Now(),
	}
	if runErr := s.runs.Insert(context.WithoutCancel(ctx), record); runErr != nil {
		run.log.Warn("failed to record import run", zap.Error(runErr))
	}

	s.metrics.RecordImportRows(ctx, run.kind, metrics.OutcomeImported, result.Imported)
	s.metrics.RecordImportRows(ctx, run.kind, metrics.OutcomeRejected, result.Errors)
	s.metrics.RecordImportRows(ctx, run.kind, metrics.OutcomeDropped, dropped)
	s.metrics.RecordImportRun(ctx, run.kind, status)

	fields := []zap.Field{
		zap.String("status", status),
		zap.Int64("imported", result.Imported),
		zap.Int64("errors", result.Errors),
		zap.Int64("dropped", dropped),
		zap.Int64("parse_issues", run.issues.total()),
		zap.Duration("duration", record.FinishedAt.Sub(run.startedAt)),
	}
	if err != nil {
		run.log.Warn("import stopped", append(fields, zap.Error(err))...)
	} else {
		run.log.Info("import finished", fields...)
	}

	return result, err
}

func (s *Service) importUsers(ctx context.Context, run *runState, src importdomain.Source) error {
	reader, err := newRowReader(src.Reader)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Get().Ingest.UpsertWorkers)

	var stopErr error
	for {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		rec, err := reader.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stopErr = err
			break
		}

		user, ok := s.userFromRow(rec, run)
		if !ok {
			run.errors.Add(1)
			continue
		}

		g.Go(func() error {
			if err := s.users.Upsert(ctx, user); err != nil {
				run.errors.Add(1)
				s.ingest.IncStoreFailure(run.kind, err)
				run.log.Debug("user upsert failed",
					zap.String("user_id", user.UserID),
					zap.Error(err),
				)
				return nil
			}
			run.imported.Add(1)
			return nil
		})
	}

	_ = g.Wait()
	if stopErr != nil {
		return stopErr
	}
	return ctx.Err()
}

func (s *Service) importTransactions(ctx context.Context, run *runState, src importdomain.Source) error {
	reader, err := newRowReader(src.Reader)
	if err != nil {
		return err
	}

	cfg := s.cfg.Get().Ingest
	var g errgroup.Group
	g.SetLimit(cfg.Workers)

	batch := make([]*txdomain.Transaction, 0, cfg.BatchSize)
	dispatch := func() {
		items := batch
		batch = make([]*txdomain.Transaction, 0, cfg.BatchSize)
		g.Go(func() error {
			s.loadBatch(ctx, run, items)
			return nil
		})
	}

	var stopErr error
	for {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		rec, err := reader.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stopErr = err
			break
		}

		tx, ok := s.transactionFromRow(rec, run)
		if !ok {
			run.dropped.Add(1)
			continue
		}
		batch = append(batch, tx)
		if len(batch) >= cfg.BatchSize {
			dispatch()
		}
	}
	if stopErr == nil && len(batch) > 0 && ctx.Err() == nil {
		dispatch()
	}

	_ = g.Wait()
	if stopErr != nil {
		return stopErr
	}
	return ctx.Err()
}

func (s *Service) loadBatch(ctx context.Context, run *runState, items []*txdomain.Transaction) {
	done := s.ingest.TrackInFlight(run.kind)
	defer done()

	start := time.Now()
	result, err := s.transactions.InsertMany(ctx, items)
	accepted := len(result.Accepted)
	rejected := len(items) - accepted
	if ctx.Err() != nil {
		// rows never attempted after cancellation are not errors
		rejected = len(result.Rejected)
	}

	run.imported.Add(int64(accepted))
	run.errors.Add(int64(rejected))
	s.ingest.ObserveBatch(run.kind, time.Since(start), accepted, rejected)

	if err != nil {
		s.ingest.IncStoreFailure(run.kind, err)
		run.log.Warn("transaction batch failed",
			zap.Int("rows", len(items)),
			zap.Int("accepted", accepted),
			zap.Error(err),
		)
		return
	}
	if rejected > 0 {
		run.log.Debug("transaction batch partially rejected",
			zap.Int("rows", len(items)),
			zap.Int("rejected", rejected),
		)
	}
}

func (s *Service) userFromRow(rec row, run *runState) (*userdomain.User, bool) {
	userID := rec.get("User_ID")
	if userID == "" {
		run.issues.record(rec.line, issue("User_ID", reasonMissingKey, ""))
		return nil, false
	}

	active, boolIssue := parseBool("Is_Active_Sub", rec.get("Is_Active_Sub"))
	run.issues.record(rec.line, boolIssue)

	now := s.clock.Now()
	return &userdomain.User{
		ID:          s.genID.Generate(),
		UserID:      userID,
		UserName:    rec.get("User_Name"),
		Region:      rec.get("Region"),
		Department:  rec.get("Department"),
		CompanyName: rec.get("Company_Name"),
		IsActiveSub: active,
		SignupDate:  rec.get("Signup_Date"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, true
}

func (s *Service) transactionFromRow(rec row, run *runState) (*txdomain.Transaction, bool) {
	rowID := rec.get("RowId")
	userID := rec.get("User_ID")
	if rowID == "" || userID == "" {
		if rowID == "" {
			run.issues.record(rec.line, issue("RowId", reasonMissingKey, ""))
		}
		if userID == "" {
			run.issues.record(rec.line, issue("User_ID", reasonMissingKey, ""))
		}
		return nil, false
	}

	now := s.clock.Now()
	tokens, tokenIssue := parseNumber("Token_Count", rec.get("Token_Count"))
	rate, rateIssue := parseDecimal("Rate_Per_1k", rec.get("Rate_Per_1k"))
	cost, costIssue := parseDecimal("Calculated_Cost", rec.get("Calculated_Cost"))
	ts, tsIssue := parseTimestamp("Timestamp", rec.get("Timestamp"), now)
	run.issues.record(rec.line, tokenIssue, rateIssue, costIssue, tsIssue)

	return &txdomain.Transaction{
		ID:             s.genID.Generate(),
		RowID:          rowID,
		UserID:         userID,
		ConversationID: rec.get("Conversation_ID"),
		ModelName:      rec.get("Model_Name"),
		TokenType:      rec.get("Token_Type"),
		TokenCount:     tokens,
		RatePer1K:      rate,
		CalculatedCost: cost,
		Timestamp:      ts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, true
}

// sourceLabel turns a file name into a stable label for the run record.
func sourceLabel(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	label := slug.Make(base)
	if label == "" {
		return "upload"
	}
	return label
}
