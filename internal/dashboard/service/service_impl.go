package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tokenlens/internal/config"
	dashboarddomain "github.com/smallbiznis/tokenlens/internal/dashboard/domain"
	"github.com/smallbiznis/tokenlens/internal/observability/logger"
	"github.com/smallbiznis/tokenlens/internal/observability/metrics"
	"github.com/smallbiznis/tokenlens/internal/observability/tracing"
	txdomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"

	// dimensionChunk bounds one FindByUserIDs call.
	dimensionChunk = 500
	unknownLabel   = "Unknown"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Config       *config.AnalyticsConfigHolder
	Users        userdomain.Repository
	Transactions txdomain.Repository
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	cfg          *config.AnalyticsConfigHolder
	users        userdomain.Repository
	transactions txdomain.Repository
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

func New(p Params) dashboarddomain.Service {
	cfg := p.Config
	if cfg == nil {
		cfg = config.NewStaticAnalyticsConfigHolder(config.DefaultAnalyticsConfig())
	}
	return &Service{
		log:          p.Log.Named("dashboard.service"),
		cfg:          cfg,
		users:        p.Users,
		transactions: p.Transactions,
		metrics:      p.Metrics,
		tracer:       otel.Tracer("tokenlens/dashboard"),
	}
}

// fact is a transaction joined with its user. user is nil for ghost users.
type fact struct {
	tx   txdomain.Transaction
	user *userdomain.User
}

type window struct {
	from   *time.Time
	to     *time.Time
	region string
}

func parseFilter(filter dashboarddomain.Filter) (window, error) {
	var w window

	if start := strings.TrimSpace(filter.StartDate); start != "" {
		from, err := time.ParseInLocation(dateLayout, start, time.UTC)
		if err != nil {
			return window{}, dashboarddomain.ErrInvalidDate
		}
		w.from = &from
	}
	if end := strings.TrimSpace(filter.EndDate); end != "" {
		last, err := time.ParseInLocation(dateLayout, end, time.UTC)
		if err != nil {
			return window{}, dashboarddomain.ErrInvalidDate
		}
		to := last.AddDate(0, 0, 1)
		w.to = &to
	}
	if w.from != nil && w.to != nil && !w.from.Before(*w.to) {
		return window{}, dashboarddomain.ErrInvalidDateRange
	}

	region := strings.TrimSpace(filter.Region)
	if !strings.EqualFold(region, "all") {
		w.region = region
	}
	return w, nil
}

// begin validates the filter and opens the report span.
func (s *Service) begin(ctx context.Context, report string, filter dashboarddomain.Filter) (context.Context, trace.Span, window, error) {
	s.metrics.RecordReport(ctx, report)
	ctx = logger.WithQueryScope(ctx, logger.QueryScope{Report: report})
	ctx, span := s.tracer.Start(ctx, "dashboard."+report, trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("report", report),
		attribute.String("start_date", filter.StartDate),
		attribute.String("end_date", filter.EndDate),
		attribute.String("region", filter.Region),
	)...))

	w, err := parseFilter(filter)
	if err != nil {
		fail(span, err)
		span.End()
		return ctx, span, window{}, err
	}
	return ctx, span, w, nil
}

func fail(span trace.Span, err error) {
	span.RecordError(tracing.SafeError(err))
	span.SetStatus(codes.Error, err.Error())
}

// loadFacts reads the transactions of the window and joins them with their
// users. The region does not narrow facts; it only scopes the user counts
// in Summary.
func (s *Service) loadFacts(ctx context.Context, w window) ([]fact, error) {
	items, err := s.transactions.List(ctx, txdomain.Filter{From: w.from, To: w.to})
	if err != nil {
		return nil, err
	}

	dims, err := s.resolveDimensions(ctx, items)
	if err != nil {
		return nil, err
	}

	facts := make([]fact, 0, len(items))
	for _, tx := range items {
		facts = append(facts, fact{tx: tx, user: dims[tx.UserID]})
	}

	s.log.Debug("facts loaded",
		zap.Int("transactions", len(items)),
		zap.Int("facts", len(facts)),
		zap.Int("users", len(dims)),
	)
	return facts, nil
}

// resolveDimensions looks up the distinct users referenced by items.
// Unknown user ids are absent from the result.
func (s *Service) resolveDimensions(ctx context.Context, items []txdomain.Transaction) (map[string]*userdomain.User, error) {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0)
	for _, tx := range items {
		if tx.UserID == "" {
			continue
		}
		if _, ok := seen[tx.UserID]; ok {
			continue
		}
		seen[tx.UserID] = struct{}{}
		ids = append(ids, tx.UserID)
	}

	dims := make(map[string]*userdomain.User, len(ids))
	for start := 0; start < len(ids); start += dimensionChunk {
		end := min(start+dimensionChunk, len(ids))
		users, err := s.users.FindByUserIDs(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for i := range users {
			dims[users[i].UserID] = &users[i]
		}
	}
	return dims, nil
}

// report runs the shared load path for fact based reports.
func (s *Service) report(ctx context.Context, name string, filter dashboarddomain.Filter) ([]fact, func(error), error) {
	ctx, span, w, err := s.begin(ctx, name, filter)
	if err != nil {
		return nil, nil, err
	}
	done := func(err error) {
		if err != nil {
			fail(span, err)
		}
		span.End()
	}

	facts, err := s.loadFacts(ctx, w)
	if err != nil {
		done(err)
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("facts", len(facts)))
	return facts, done, nil
}

func (s *Service) Summary(ctx context.Context, filter dashboarddomain.Filter) (*dashboarddomain.Summary, error) {
	ctx, span, w, err := s.begin(ctx, "summary", filter)
	if err != nil {
		return nil, err
	}
	defer span.End()

	facts, err := s.loadFacts(ctx, w)
	if err != nil {
		fail(span, err)
		return nil, err
	}

	totals := newUsage()
	conversations := make(map[string]struct{})
	for _, f := range facts {
		accumulate(totals, f)
		// a missing conversation id counts as one conversation of its own
		conversations[f.tx.ConversationID] = struct{}{}
	}

	userFilter := userdomain.Filter{Region: w.region}
	totalUsers, err := s.users.Count(ctx, userFilter)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	active := true
	userFilter.IsActiveSub = &active
	proUsers, err := s.users.Count(ctx, userFilter)
	if err != nil {
		fail(span, err)
		return nil, err
	}

	avg := decimal.Zero
	if len(conversations) > 0 {
		avg = totals.cost.Div(decimal.NewFromInt(int64(len(conversations))))
	}

	return &dashboarddomain.Summary{
		TotalTransactions:      totals.transactions,
		TotalTokens:            totals.tokens,
		TotalCost:              money(totals.cost),
		ActiveUsers:            int64(len(totals.users)),
		TotalUsers:             totalUsers,
		ProUsers:               proUsers,
		TotalConversations:     int64(len(conversations)),
		AvgCostPerConversation: avg.Round(4).InexactFloat64(),
	}, nil
}

func (s *Service) CostByModel(ctx context.Context, filter dashboarddomain.Filter) ([]dashboarddomain.CostByModel, error) {
	facts, done, err := s.report(ctx, "cost_by_model", filter)
	if err != nil {
		return nil, err
	}
	defer done(nil)

	groups := GroupBy(facts, func(f fact) (string, bool) { return f.tx.ModelName, true }, newUsage, accumulate)
	sortByCost(groups)

	out := make([]dashboarddomain.CostByModel, 0, len(groups))
	for _, g := range groups {
		out = append(out, dashboarddomain.CostByModel{
			Model:        g.Key,
			Cost:         money(g.Value.cost),
			Tokens:       g.Value.tokens,
			Transactions: g.Value.transactions,
		})
	}
	return out, nil
}

// byUserAttribute groups facts by a joined user attribute. Ghost users are dropped.
func byUserAttribute(facts []fact, attr func(*userdomain.User) string) []Group[string, *usage] {
	groups := GroupBy(facts, func(f fact) (string, bool) {
		if f.user == nil {
			return "", false
		}
		return attr(f.user), true
	}, newUsage, accumulate)
	sortByCost(groups)
	return groups
}

func (s *Service) UsageByRegion(ctx context.Context, filter dashboarddomain.Filter) ([]dashboarddomain.UsageByRegion, error) {
	facts, done, err := s.report(ctx, "usage_by_region", filter)
	if err != nil {
		return nil, err
	}
	defer done(nil)

	groups := byUserAttribute(facts, func(u *userdomain.User) string { return u.Region })
	out := make([]dashboarddomain.UsageByRegion, 0, len(groups))
	for _, g := range groups {
		out = append(out, dashboarddomain.UsageByRegion{
			Region:       g.Key,
			Cost:         money(g.Value.cost),
			Tokens:       g.Value.tokens,
			Users:        int64(len(g.Value.users)),
			Transactions: g.Value.transactions,
		})
	}
	return out, nil
}

func (s *Service) UsageByDepartment(ctx context.Context, filter dashboarddomain.Filter) ([]dashboarddomain.UsageByDepartment, error) {
	facts, done, err := s.report(ctx, "usage_by_department", filter)
	if err != nil {
		return nil, err
	}
	defer done(nil)

	groups := byUserAttribute(facts, func(u *userdomain.User) string { return u.Department })
	out := make([]dashboarddomain.UsageByDepartment, 0, len(groups))
	for _, g := range groups {
		out = append(out, dashboarddomain.UsageByDepartment{
			Department:   g.Key,
			Cost:         money(g.Value.cost),
			Tokens:       g.Value.tokens,
			Users:        int64(len(g.Value.users)),
			Transactions: g.Value.transactions,
		})
	}
	return out, nil
}

func (s *Service) UsageByCompany(ctx context.Context, filter dashboarddomain.Filter) ([]dashboarddomain.UsageByCompany, error) {
	facts, done, err := s.report(ctx, "usage_by_company", filter)
	if err != nil {
		return nil, err
	}
	defer done(nil)

	groups := byUserAttribute(facts, func(u *userdomain.User) string { return u.CompanyName })
	out := make([]dashboarddomain.UsageByCompany, 0, len(groups))
	for _, g := range groups {
		out = append(out, dashboarddomain.UsageByCompany{
			Company:      g.Key,
			Cost:         money(g.Value.cost),
			Tokens:       g.Value.tokens,
			Users:        int64(len(g.Value.users)),
			Transactions: g.Value.transactions,
		})
	}
	return out, nil
}

// DailyTrend skips facts without a timestamp. MonthlyTrend does not.
func (s *Service) DailyTrend(ctx context.Context, filter dashboarddomain.Filter) ([]dashboarddomain.DailyTrend, error) {
	facts, done, err := s.report(ctx, "daily_trend", filter)
	if err != nil {
		return nil, err
	}
	defer done(nil)

	groups := GroupBy(facts, func(f fact) (string, bool) {
		if f.tx.Timestamp.IsZero() {
			return "", false
		}
		return f.tx.Timestamp.UTC().Format(dateLayout), true
	}, newUsage, accumulate)
	sortByKey(groups)

	out := make([]dashboarddomain.DailyTrend, 0, len(groups))
	for _, g := range groups {
		out = append(out, dashboarddomain.DailyTrend{
			Date:         g.Key,
			Cost:         money(g.Value.cost),
			Tokens:       g.Value.tokens,
			Users:        int64(len(g.Value.users)),
			Transactions: g.Value.transactions,
		})
	}
	return out, nil
}

func (s *Service) MonthlyTrend(ctx context.Context, filter dashboarddomain.Filter) ([]dashboarddomain.MonthlyTrend, error) {
	facts, done, err := s.report(ctx, "monthly_trend", filter)
	if err != nil {
		return nil, err
	}
	defer done(nil)

	groups := GroupBy(facts, func(f fact) (string, bool) {
		return f.tx.Timestamp.UTC().Format(monthLayout), true
	}, newUsage, accumulate)
	sortByKey(groups)

	out := make([]dashboarddomain.MonthlyTrend, 0, len(groups))
	for _, g := range groups {
		out = append(out, dashboarddomain.MonthlyTrend{
			Month:        g.Key,
			Cost:         money(g.Value.cost),
			Tokens:       g.Value.tokens,
			Users:        int64(len(g.Value.users)),
			Transactions: g.Value.transactions,
		})
	}
	return out, nil
}

func (s *Service) TokenDistribution(ctx context.Context, filter dashboarddomain.Filter) ([]dashboarddomain.TokenDistribution, error) {
	facts, done, err := s.report(ctx, "token_distribution", filter)
	if err != nil {
		return nil, err
	}
	defer done(nil)

	groups := GroupBy(facts, func(f fact) (string, bool) { return f.tx.TokenType, true }, newUsage, accumulate)

	out := make([]dashboarddomain.TokenDistribution, 0, len(groups))
	for _, g := range groups {
		out = append(out, dashboarddomain.TokenDistribution{
			Type:   g.Key,
			Tokens: g.Value.tokens,
			Cost:   money(g.Value.cost),
		})
	}
	return out, nil
}

func (s *Service) TopUsers(ctx context.Context, filter dashboarddomain.Filter) ([]dashboarddomain.TopUser, error) {
	facts, done, err := s.report(ctx, "top_users", filter)
	if err != nil {
		return nil, err
	}
	defer done(nil)

	limit := filter.Limit
	if limit <= 0 {
		limit = s.cfg.Get().Reports.TopUsersLimit
	}

	joined := make(map[string]*userdomain.User)
	groups := GroupBy(facts, func(f fact) (string, bool) {
		if _, ok := joined[f.tx.UserID]; !ok {
			joined[f.tx.UserID] = f.user
		}
		return f.tx.UserID, true
	}, newUsage, accumulate)
	sortByCost(groups)
	if len(groups) > limit {
		groups = groups[:limit]
	}

	out := make([]dashboarddomain.TopUser, 0, len(groups))
	for _, g := range groups {
		entry := dashboarddomain.TopUser{
			UserID:       g.Key,
			UserName:     placeholderName(g.Key),
			Company:      unknownLabel,
			Department:   unknownLabel,
			Region:       unknownLabel,
			Cost:         money(g.Value.cost),
			Tokens:       g.Value.tokens,
			Transactions: g.Value.transactions,
		}
		if user := joined[g.Key]; user != nil {
			entry.UserName = orDefault(user.UserName, entry.UserName)
			entry.Company = orDefault(user.CompanyName, unknownLabel)
			entry.Department = orDefault(user.Department, unknownLabel)
			entry.Region = orDefault(user.Region, unknownLabel)
			entry.IsProUser = user.IsActiveSub
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Service) Regions(ctx context.Context) ([]string, error) {
	s.metrics.RecordReport(ctx, "regions")
	regions, err := s.users.DistinctRegions(ctx)
	if err != nil {
		return nil, err
	}
	if regions == nil {
		regions = []string{}
	}
	return regions, nil
}

func (s *Service) Departments(ctx context.Context) ([]string, error) {
	s.metrics.RecordReport(ctx, "departments")
	departments, err := s.users.DistinctDepartments(ctx)
	if err != nil {
		return nil, err
	}
	if departments == nil {
		departments = []string{}
	}
	return departments, nil
}

func (s *Service) DateRange(ctx context.Context) (*dashboarddomain.DateRange, error) {
	s.metrics.RecordReport(ctx, "date_range")
	first, last, err := s.transactions.TimestampRange(ctx)
	if err != nil {
		return nil, err
	}

	out := &dashboarddomain.DateRange{}
	if first != nil {
		out.MinDate = first.UTC().Format(dateLayout)
	}
	if last != nil {
		out.MaxDate = last.UTC().Format(dateLayout)
	}
	return out, nil
}

func placeholderName(userID string) string {
	runes := []rune(userID)
	if len(runes) > 8 {
		runes = runes[:8]
	}
	return "User " + string(runes) + "..."
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
