package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tokenlens/internal/config"
	"github.com/smallbiznis/tokenlens/internal/dashboard"
	dashboarddomain "github.com/smallbiznis/tokenlens/internal/dashboard/domain"
	"github.com/smallbiznis/tokenlens/internal/dataimport"
	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
	"github.com/smallbiznis/tokenlens/internal/observability"
	obsmiddleware "github.com/smallbiznis/tokenlens/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tokenlens/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tokenlens/internal/observability/tracing"
	"github.com/smallbiznis/tokenlens/internal/transaction"
	transactiondomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	"github.com/smallbiznis/tokenlens/internal/user"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	user.Module,
	transaction.Module,
	dataimport.Module,
	dashboard.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			log.Info("http server started", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	analytics    *config.AnalyticsConfigHolder
	userSvc      userdomain.Service
	txSvc        transactiondomain.Service
	importSvc    importdomain.Service
	dashboardSvc dashboarddomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Analytics    *config.AnalyticsConfigHolder
	UserSvc      userdomain.Service
	TxSvc        transactiondomain.Service
	ImportSvc    importdomain.Service
	DashboardSvc dashboarddomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		analytics:    p.Analytics,
		userSvc:      p.UserSvc,
		txSvc:        p.TxSvc,
		importSvc:    p.ImportSvc,
		dashboardSvc: p.DashboardSvc,
	}

	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Dashboard --------
	dash := api.Group("/dashboard")
	{
		dash.GET("/summary", s.GetSummary)
		dash.GET("/cost-by-model", s.GetCostByModel)
		dash.GET("/usage-by-region", s.GetUsageByRegion)
		dash.GET("/usage-by-department", s.GetUsageByDepartment)
		dash.GET("/usage-by-company", s.GetUsageByCompany)
		dash.GET("/daily-trend", s.GetDailyTrend)
		dash.GET("/monthly-trend", s.GetMonthlyTrend)
		dash.GET("/token-distribution", s.GetTokenDistribution)
		dash.GET("/top-users", s.GetTopUsers)
		dash.GET("/regions", s.ListRegions)
		dash.GET("/departments", s.ListDepartments)
		dash.GET("/date-range", s.GetDateRange)
	}

	// -------- Import --------
	imports := api.Group("/import", s.limitUploadSize())
	{
		imports.POST("/users", s.ImportUsers)
		imports.POST("/transactions", s.ImportTransactions)
		imports.POST("/all", s.ImportAll)
		imports.GET("/runs", s.ListImportRuns)
	}

	// -------- Users --------
	api.GET("/users", s.ListUsers)
	api.POST("/users", s.CreateUser)
	api.GET("/users/:id", s.GetUserByID)
	api.PUT("/users/:id", s.UpdateUser)
	api.DELETE("/users/:id", s.DeleteUser)

	// -------- Transactions --------
	api.GET("/transactions", s.ListTransactions)
	api.POST("/transactions", s.CreateTransaction)
	api.GET("/transactions/:id", s.GetTransactionByID)
	api.PUT("/transactions/:id", s.UpdateTransaction)
	api.DELETE("/transactions/:id", s.DeleteTransaction)
}
