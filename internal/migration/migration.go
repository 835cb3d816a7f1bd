package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
	importrepo "github.com/smallbiznis/tokenlens/internal/dataimport/repository"
	txdomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	txrepo "github.com/smallbiznis/tokenlens/internal/transaction/repository"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	userrepo "github.com/smallbiznis/tokenlens/internal/user/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the service, for dialects migrated by gorm.
func Models() []any {
	return []any{
		&userdomain.User{},
		&txdomain.Transaction{},
		&importdomain.ImportRun{},
	}
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema on sqlite and mysql from the gorm models.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// EnsureMongoIndexes mirrors the SQL indexes. None of them is unique, so
// duplicate business keys are stored.
func EnsureMongoIndexes(ctx context.Context, database *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		userrepo.CollectionName: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("ix_users_user_id")},
			{Keys: bson.D{{Key: "region", Value: 1}}, Options: options.Index().SetName("ix_users_region")},
			{Keys: bson.D{{Key: "department", Value: 1}}, Options: options.Index().SetName("ix_users_department")},
		},
		txrepo.CollectionName: {
			{Keys: bson.D{{Key: "rowId", Value: 1}}, Options: options.Index().SetName("ix_transactions_row_id")},
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("ix_transactions_user_id")},
			{Keys: bson.D{{Key: "modelName", Value: 1}}, Options: options.Index().SetName("ix_transactions_model_name")},
			{Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}, Options: options.Index().SetName("ix_transactions_timestamp")},
		},
		importrepo.CollectionName: {
			{Keys: bson.D{{Key: "startedAt", Value: -1}}, Options: options.Index().SetName("ix_import_runs_started_at")},
		},
	}

	for collection, indexes := range specs {
		if _, err := database.Collection(collection).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create %s indexes: %w", collection, err)
		}
	}
	return nil
}
