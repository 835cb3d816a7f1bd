package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	txdomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// CollectionName is shared with the index bootstrap in migration.
const CollectionName = "transactions"

type transactionDocument struct {
	ID             int64                `bson:"_id"`
	RowID          string               `bson:"rowId"`
	UserID         string               `bson:"userId"`
	ConversationID string               `bson:"conversationId"`
	ModelName      string               `bson:"modelName"`
	TokenType      string               `bson:"tokenType"`
	TokenCount     int64                `bson:"tokenCount"`
	RatePer1K      primitive.Decimal128 `bson:"ratePer1k"`
	CalculatedCost primitive.Decimal128 `bson:"calculatedCost"`
	Timestamp      time.Time            `bson:"timestamp"`
	CreatedAt      time.Time            `bson:"createdAt"`
	UpdatedAt      time.Time            `bson:"updatedAt"`
}

func toDocument(tx *txdomain.Transaction) (transactionDocument, error) {
	rate, err := toDecimal128(tx.RatePer1K)
	if err != nil {
		return transactionDocument{}, err
	}
	cost, err := toDecimal128(tx.CalculatedCost)
	if err != nil {
		return transactionDocument{}, err
	}
	return transactionDocument{
		ID:             int64(tx.ID),
		RowID:          tx.RowID,
		UserID:         tx.UserID,
		ConversationID: tx.ConversationID,
		ModelName:      tx.ModelName,
		TokenType:      tx.TokenType,
		TokenCount:     tx.TokenCount,
		RatePer1K:      rate,
		CalculatedCost: cost,
		Timestamp:      tx.Timestamp.UTC(),
		CreatedAt:      tx.CreatedAt,
		UpdatedAt:      tx.UpdatedAt,
	}, nil
}

func (d transactionDocument) toDomain() (txdomain.Transaction, error) {
	rate, err := decimal.NewFromString(d.RatePer1K.String())
	if err != nil {
		return txdomain.Transaction{}, fmt.Errorf("decode ratePer1k of %s: %w", d.RowID, err)
	}
	cost, err := decimal.NewFromString(d.CalculatedCost.String())
	if err != nil {
		return txdomain.Transaction{}, fmt.Errorf("decode calculatedCost of %s: %w", d.RowID, err)
	}
	return txdomain.Transaction{
		ID:             snowflake.ID(d.ID),
		RowID:          d.RowID,
		UserID:         d.UserID,
		ConversationID: d.ConversationID,
		ModelName:      d.ModelName,
		TokenType:      d.TokenType,
		TokenCount:     d.TokenCount,
		RatePer1K:      rate,
		CalculatedCost: cost,
		Timestamp:      d.Timestamp.UTC(),
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

type mongoRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
	log     *zap.Logger
}

func NewMongo(database *mongo.Database, timeout time.Duration, log *zap.Logger) txdomain.Repository {
	return &mongoRepo{
		coll:    database.Collection(CollectionName),
		timeout: timeout,
		log:     log.Named("transaction.repository"),
	}
}

func (r *mongoRepo) Insert(ctx context.Context, tx *txdomain.Transaction) error {
	doc, err := toDocument(tx)
	if err != nil {
		return err
	}
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		_, err := r.coll.InsertOne(ctx, doc)
		return err
	})
}

func (r *mongoRepo) Update(ctx context.Context, tx *txdomain.Transaction) error {
	doc, err := toDocument(tx)
	if err != nil {
		return err
	}
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		_, err := r.coll.UpdateByID(ctx, doc.ID, bson.M{"$set": bson.M{
			"conversationId": doc.ConversationID,
			"modelName":      doc.ModelName,
			"tokenType":      doc.TokenType,
			"tokenCount":     doc.TokenCount,
			"ratePer1k":      doc.RatePer1K,
			"calculatedCost": doc.CalculatedCost,
			"timestamp":      doc.Timestamp,
			"updatedAt":      doc.UpdatedAt,
		}})
		return err
	})
}

func (r *mongoRepo) Delete(ctx context.Context, id snowflake.ID) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		_, err := r.coll.DeleteOne(ctx, bson.M{"_id": int64(id)})
		return err
	})
}

func (r *mongoRepo) FindByID(ctx context.Context, id snowflake.ID) (*txdomain.Transaction, error) {
	return r.findOne(ctx, bson.M{"_id": int64(id)})
}

func (r *mongoRepo) FindByRowID(ctx context.Context, rowID string) (*txdomain.Transaction, error) {
	return r.findOne(ctx, bson.M{"rowId": rowID})
}

func (r *mongoRepo) findOne(ctx context.Context, filter bson.M) (*txdomain.Transaction, error) {
	var doc transactionDocument
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.coll.FindOne(ctx, filter).Decode(&doc)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *mongoRepo) List(ctx context.Context, filter txdomain.Filter) ([]txdomain.Transaction, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "timestamp", Value: -1},
		{Key: "_id", Value: -1},
	})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	var docs []transactionDocument
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		cursor, err := r.coll.Find(ctx, transactionFilter(filter), opts)
		if err != nil {
			return err
		}
		return cursor.All(ctx, &docs)
	})
	if err != nil {
		return nil, err
	}

	items := make([]txdomain.Transaction, 0, len(docs))
	for _, doc := range docs {
		tx, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		items = append(items, tx)
	}
	return items, nil
}

func (r *mongoRepo) Count(ctx context.Context, filter txdomain.Filter) (int64, error) {
	var count int64
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		var err error
		count, err = r.coll.CountDocuments(ctx, transactionFilter(filter))
		return err
	})
	return count, err
}

// InsertMany issues one unordered write. Documents named in the bulk write
// errors are rejected; every other document was stored.
func (r *mongoRepo) InsertMany(ctx context.Context, items []*txdomain.Transaction) (txdomain.BatchResult, error) {
	if len(items) == 0 {
		return txdomain.BatchResult{}, nil
	}

	var result txdomain.BatchResult
	docs := make([]any, 0, len(items))
	positions := make([]int, 0, len(items))
	for i, item := range items {
		doc, err := toDocument(item)
		if err != nil {
			result.Rejected = append(result.Rejected, i)
			continue
		}
		docs = append(docs, doc)
		positions = append(positions, i)
	}
	if len(docs) == 0 {
		return result, nil
	}

	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		_, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		return err
	})
	if err == nil {
		result.Accepted = append(result.Accepted, positions...)
		return result, nil
	}

	failed, ok := writeErrorIndices(err)
	if !ok {
		return result, err
	}

	r.log.Debug("bulk insert partially rejected",
		zap.Int("rows", len(docs)),
		zap.Int("rejected", len(failed)),
	)
	for i, pos := range positions {
		if _, bad := failed[i]; bad {
			result.Rejected = append(result.Rejected, pos)
		} else {
			result.Accepted = append(result.Accepted, pos)
		}
	}
	return result, nil
}

// writeErrorIndices extracts per-document failures. It reports false when
// the error is not limited to individual documents.
func writeErrorIndices(err error) (map[int]struct{}, bool) {
	var bulk mongo.BulkWriteException
	if !errors.As(err, &bulk) {
		return nil, false
	}
	if bulk.WriteConcernError != nil || len(bulk.WriteErrors) == 0 {
		return nil, false
	}
	failed := make(map[int]struct{}, len(bulk.WriteErrors))
	for _, we := range bulk.WriteErrors {
		failed[we.Index] = struct{}{}
	}
	return failed, true
}

func (r *mongoRepo) TimestampRange(ctx context.Context) (*time.Time, *time.Time, error) {
	first, err := r.edge(ctx, 1)
	if err != nil || first == nil {
		return nil, nil, err
	}
	last, err := r.edge(ctx, -1)
	if err != nil {
		return nil, nil, err
	}
	return first, last, nil
}

func (r *mongoRepo) edge(ctx context.Context, direction int) (*time.Time, error) {
	var doc struct {
		Timestamp time.Time `bson:"timestamp"`
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "timestamp", Value: direction}}).
		SetProjection(bson.M{"timestamp": 1})
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.coll.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts := doc.Timestamp.UTC()
	return &ts, nil
}

func transactionFilter(filter txdomain.Filter) bson.M {
	query := bson.M{}
	if filter.UserID != "" {
		query["userId"] = filter.UserID
	}
	if filter.ConversationID != "" {
		query["conversationId"] = filter.ConversationID
	}
	if filter.ModelName != "" {
		query["modelName"] = filter.ModelName
	}
	if filter.TokenType != "" {
		query["tokenType"] = filter.TokenType
	}
	if filter.From != nil || filter.To != nil {
		window := bson.M{}
		if filter.From != nil {
			window["$gte"] = filter.From.UTC()
		}
		if filter.To != nil {
			window["$lt"] = filter.To.UTC()
		}
		query["timestamp"] = window
	}
	return query
}
