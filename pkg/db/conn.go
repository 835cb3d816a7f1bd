package db

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/tokenlens/internal/config"
	obslogger "github.com/smallbiznis/tokenlens/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

const (
	BackendSQL   = "sql"
	BackendMongo = "mongo"
)

const connectTimeout = 5 * time.Second

// Conn is the handle repositories are built from. Exactly one of SQL or
// Mongo is set, depending on Backend.
type Conn struct {
	Backend   string
	SQL       *gorm.DB
	Mongo     *mongo.Database
	OpTimeout time.Duration
}

var Module = fx.Module("db",
	fx.Provide(NewConn),
)

func NewConn(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*Conn, error) {
	if cfg.UsesMongo() {
		database, err := OpenMongo(lc, cfg, log)
		if err != nil {
			return nil, err
		}
		return &Conn{Backend: BackendMongo, Mongo: database, OpTimeout: cfg.DBOpTimeout}, nil
	}

	gdb, err := Open(lc, cfg, log)
	if err != nil {
		return nil, err
	}
	return &Conn{Backend: BackendSQL, SQL: gdb, OpTimeout: cfg.DBOpTimeout}, nil
}

// Open connects gorm with query logging, tracing and pool metrics.
func Open(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:  obslogger.NewGormLogger(cfg.DBSlowQuery),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBType, err)
	}

	if err := gdb.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.DBName))); err != nil {
		return nil, fmt.Errorf("register otelgorm: %w", err)
	}
	if err := gdb.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          cfg.DBName,
		RefreshInterval: 15,
		StartServer:     false,
	})); err != nil {
		return nil, fmt.Errorf("register gorm prometheus: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConn)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTime) * time.Second)

	pingCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, cfg.DBType, err)
	}

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return sqlDB.Close()
			},
		})
	}

	if log != nil {
		log.Info("database connected",
			zap.String("type", cfg.DBType),
			zap.String("name", cfg.DBName),
		)
	}

	return gdb, nil
}

func OpenMongo(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.DBMongoURI).
		SetMaxPoolSize(uint64(max(cfg.DBMaxOpenConn, 1))).
		SetTimeout(cfg.DBOpTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping mongo: %v", ErrStoreUnavailable, err)
	}

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Disconnect(ctx)
			},
		})
	}

	if log != nil {
		log.Info("database connected",
			zap.String("type", "mongo"),
			zap.String("name", cfg.DBName),
		)
	}

	return client.Database(cfg.DBName), nil
}
