package migration

import (
	"context"
	"time"

	"github.com/smallbiznis/tokenlens/internal/config"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

// Run prepares the schema of the configured backend on startup.
func Run(conn *db.Conn, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBAutoMigrate {
		log.Info("schema migration disabled")
		return nil
	}

	switch {
	case conn.Backend == db.BackendMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := EnsureMongoIndexes(ctx, conn.Mongo); err != nil {
			return err
		}
	case cfg.DBType == "postgres":
		sqlDB, err := conn.SQL.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
	default:
		if err := AutoMigrate(conn.SQL); err != nil {
			return err
		}
	}

	log.Info("schema ready", zap.String("type", cfg.DBType))
	return nil
}
