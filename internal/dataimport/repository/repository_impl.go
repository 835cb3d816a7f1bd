package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"github.com/smallbiznis/tokenlens/pkg/db/option"
	"github.com/smallbiznis/tokenlens/pkg/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/datatypes"
)

// CollectionName is shared with the index bootstrap in migration.
const CollectionName = "import_runs"

// Provide builds the import run repository for the configured backend.
func Provide(conn *db.Conn) importdomain.RunRepository {
	if conn.Backend == db.BackendMongo {
		return &mongoRepo{coll: conn.Mongo.Collection(CollectionName), timeout: conn.OpTimeout}
	}
	return &sqlRepo{store: repository.ProvideStore[importdomain.ImportRun](conn.SQL, conn.OpTimeout)}
}

type sqlRepo struct {
	store repository.Repository[importdomain.ImportRun]
}

func (r *sqlRepo) Insert(ctx context.Context, run *importdomain.ImportRun) error {
	return r.store.Create(ctx, run)
}

func (r *sqlRepo) Latest(ctx context.Context, limit int) ([]importdomain.ImportRun, error) {
	items, err := r.store.Find(ctx, &importdomain.ImportRun{},
		option.WithOrderBy("started_at", true),
		option.WithOrderBy("id", true),
		option.WithLimit(limit),
	)
	if err != nil {
		return nil, err
	}

	runs := make([]importdomain.ImportRun, 0, len(items))
	for _, item := range items {
		runs = append(runs, *item)
	}
	return runs, nil
}

type runDocument struct {
	ID            int64          `bson:"_id"`
	CorrelationID string         `bson:"correlationId"`
	Kind          string         `bson:"kind"`
	Source        string         `bson:"source"`
	Status        string         `bson:"status"`
	Imported      int64          `bson:"imported"`
	Errors        int64          `bson:"errors"`
	Dropped       int64          `bson:"dropped"`
	Issues        map[string]any `bson:"issues,omitempty"`
	StartedAt     time.Time      `bson:"startedAt"`
	FinishedAt    time.Time      `bson:"finishedAt"`
}

type mongoRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func (r *mongoRepo) Insert(ctx context.Context, run *importdomain.ImportRun) error {
	doc := runDocument{
		ID:            int64(run.ID),
		CorrelationID: run.CorrelationID,
		Kind:          run.Kind,
		Source:        run.Source,
		Status:        run.Status,
		Imported:      run.Imported,
		Errors:        run.Errors,
		Dropped:       run.Dropped,
		Issues:        run.Issues,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		_, err := r.coll.InsertOne(ctx, doc)
		return err
	})
}

func (r *mongoRepo) Latest(ctx context.Context, limit int) ([]importdomain.ImportRun, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "startedAt", Value: -1},
		{Key: "_id", Value: -1},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	var docs []runDocument
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		cursor, err := r.coll.Find(ctx, bson.M{}, opts)
		if err != nil {
			return err
		}
		return cursor.All(ctx, &docs)
	})
	if err != nil {
		return nil, err
	}

	runs := make([]importdomain.ImportRun, 0, len(docs))
	for _, doc := range docs {
		runs = append(runs, importdomain.ImportRun{
			ID:            snowflake.ID(doc.ID),
			CorrelationID: doc.CorrelationID,
			Kind:          doc.Kind,
			Source:        doc.Source,
			Status:        doc.Status,
			Imported:      doc.Imported,
			Errors:        doc.Errors,
			Dropped:       doc.Dropped,
			Issues:        datatypes.JSONMap(doc.Issues),
			StartedAt:     doc.StartedAt.UTC(),
			FinishedAt:    doc.FinishedAt.UTC(),
		})
	}
	return runs, nil
}
