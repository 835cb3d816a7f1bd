package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is shared with the index bootstrap in migration.
const CollectionName = "users"

type userDocument struct {
	ID          int64     `bson:"_id"`
	UserID      string    `bson:"userId"`
	UserName    string    `bson:"userName"`
	Region      string    `bson:"region"`
	Department  string    `bson:"department"`
	CompanyName string    `bson:"companyName"`
	IsActiveSub bool      `bson:"isActiveSub"`
	SignupDate  string    `bson:"signupDate"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func toDocument(u *userdomain.User) userDocument {
	return userDocument{
		ID:          int64(u.ID),
		UserID:      u.UserID,
		UserName:    u.UserName,
		Region:      u.Region,
		Department:  u.Department,
		CompanyName: u.CompanyName,
		IsActiveSub: u.IsActiveSub,
		SignupDate:  u.SignupDate,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (d userDocument) toDomain() userdomain.User {
	return userdomain.User{
		ID:          snowflake.ID(d.ID),
		UserID:      d.UserID,
		UserName:    d.UserName,
		Region:      d.Region,
		Department:  d.Department,
		CompanyName: d.CompanyName,
		IsActiveSub: d.IsActiveSub,
		SignupDate:  d.SignupDate,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

type mongoRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongo(database *mongo.Database, timeout time.Duration) userdomain.Repository {
	return &mongoRepo{coll: database.Collection(CollectionName), timeout: timeout}
}

func (r *mongoRepo) Insert(ctx context.Context, u *userdomain.User) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		_, err := r.coll.InsertOne(ctx, toDocument(u))
		return err
	})
}

func (r *mongoRepo) Update(ctx context.Context, u *userdomain.User) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		_, err := r.coll.UpdateByID(ctx, int64(u.ID), bson.M{"$set": bson.M{
			"userName":    u.UserName,
			"region":      u.Region,
			"department":  u.Department,
			"companyName": u.CompanyName,
			"isActiveSub": u.IsActiveSub,
			"signupDate":  u.SignupDate,
			"updatedAt":   u.UpdatedAt,
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

func (r *mongoRepo) FindByID(ctx context.Context, id snowflake.ID) (*userdomain.User, error) {
	return r.findOne(ctx, bson.M{"_id": int64(id)})
}

func (r *mongoRepo) FindByUserID(ctx context.Context, userID string) (*userdomain.User, error) {
	return r.findOne(ctx, bson.M{"userId": userID})
}

func (r *mongoRepo) findOne(ctx context.Context, filter bson.M) (*userdomain.User, error) {
	var doc userDocument
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.coll.FindOne(ctx, filter).Decode(&doc)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user := doc.toDomain()
	return &user, nil
}

func (r *mongoRepo) FindByUserIDs(ctx context.Context, userIDs []string) ([]userdomain.User, error) {
	users := make([]userdomain.User, 0, len(userIDs))
	for start := 0; start < len(userIDs); start += lookupChunk {
		end := min(start+lookupChunk, len(userIDs))
		chunk, err := r.find(ctx, bson.M{"userId": bson.M{"$in": userIDs[start:end]}}, nil)
		if err != nil {
			return nil, err
		}
		users = append(users, chunk...)
	}
	return users, nil
}

func (r *mongoRepo) List(ctx context.Context, filter userdomain.Filter) ([]userdomain.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "userId", Value: 1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return r.find(ctx, userFilter(filter), opts)
}

func (r *mongoRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]userdomain.User, error) {
	var docs []userDocument
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		cursor, err := r.coll.Find(ctx, filter, opts)
		if err != nil {
			return err
		}
		return cursor.All(ctx, &docs)
	})
	if err != nil {
		return nil, err
	}

	users := make([]userdomain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.toDomain())
	}
	return users, nil
}

func (r *mongoRepo) Count(ctx context.Context, filter userdomain.Filter) (int64, error) {
	var count int64
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		var err error
		count, err = r.coll.CountDocuments(ctx, userFilter(filter))
		return err
	})
	return count, err
}

// Upsert keeps _id and createdAt of an existing document and overwrites
// everything else.
func (r *mongoRepo) Upsert(ctx context.Context, u *userdomain.User) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		_, err := r.coll.UpdateOne(ctx,
			bson.M{"userId": u.UserID},
			bson.M{
				"$set": bson.M{
					"userName":    u.UserName,
					"region":      u.Region,
					"department":  u.Department,
					"companyName": u.CompanyName,
					"isActiveSub": u.IsActiveSub,
					"signupDate":  u.SignupDate,
					"updatedAt":   u.UpdatedAt,
				},
				"$setOnInsert": bson.M{
					"_id":       int64(u.ID),
					"createdAt": u.CreatedAt,
				},
			},
			options.Update().SetUpsert(true),
		)
		return err
	})
}

func (r *mongoRepo) DistinctRegions(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "region")
}

func (r *mongoRepo) DistinctDepartments(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "department")
}

func (r *mongoRepo) distinct(ctx context.Context, field string) ([]string, error) {
	var raw []any
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		var err error
		raw, err = r.coll.Distinct(ctx, field, bson.M{field: bson.M{"$nin": bson.A{nil, ""}}})
		return err
	})
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			values = append(values, s)
		}
	}
	sort.Strings(values)
	return values, nil
}

func userFilter(filter userdomain.Filter) bson.M {
	query := bson.M{}
	if filter.Region != "" {
		query["region"] = filter.Region
	}
	if filter.Department != "" {
		query["department"] = filter.Department
	}
	if filter.IsActiveSub != nil {
		query["isActiveSub"] = *filter.IsActiveSub
	}
	return query
}
