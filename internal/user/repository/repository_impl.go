package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lookupChunk bounds the IN list of FindByUserIDs.
const lookupChunk = 500

const userColumns = `id, user_id, user_name, region, department, company_name, is_active_sub, signup_date, created_at, updated_at`

type repo struct {
	db      *gorm.DB
	timeout time.Duration
}

// Provide builds the user repository for the configured backend.
func Provide(conn *db.Conn) userdomain.Repository {
	if conn.Backend == db.BackendMongo {
		return NewMongo(conn.Mongo, conn.OpTimeout)
	}
	return NewSQL(conn.SQL, conn.OpTimeout)
}

func NewSQL(conn *gorm.DB, timeout time.Duration) userdomain.Repository {
	return &repo{db: conn, timeout: timeout}
}

func (r *repo) Insert(ctx context.Context, u *userdomain.User) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Exec(
			`INSERT INTO users (`+userColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID,
			u.UserID,
			u.UserName,
			u.Region,
			u.Department,
			u.CompanyName,
			u.IsActiveSub,
			u.SignupDate,
			u.CreatedAt,
			u.UpdatedAt,
		).Error
	})
}

func (r *repo) Update(ctx context.Context, u *userdomain.User) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Exec(
			`UPDATE users
			 SET user_name = ?, region = ?, department = ?, company_name = ?, is_active_sub = ?, signup_date = ?, updated_at = ?
			 WHERE id = ?`,
			u.UserName,
			u.Region,
			u.Department,
			u.CompanyName,
			u.IsActiveSub,
			u.SignupDate,
			u.UpdatedAt,
			u.ID,
		).Error
	})
}

func (r *repo) Delete(ctx context.Context, id snowflake.ID) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Exec(`DELETE FROM users WHERE id = ?`, id).Error
	})
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*userdomain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *repo) FindByUserID(ctx context.Context, userID string) (*userdomain.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
}

func (r *repo) findOne(ctx context.Context, query string, args ...any) (*userdomain.User, error) {
	var user userdomain.User
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Raw(query, args...).Scan(&user).Error
	})
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) FindByUserIDs(ctx context.Context, userIDs []string) ([]userdomain.User, error) {
	users := make([]userdomain.User, 0, len(userIDs))
	for start := 0; start < len(userIDs); start += lookupChunk {
		end := min(start+lookupChunk, len(userIDs))

		var chunk []userdomain.User
		err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
			return r.db.WithContext(ctx).Raw(
				`SELECT `+userColumns+` FROM users WHERE user_id IN ?`,
				userIDs[start:end],
			).Scan(&chunk).Error
		})
		if err != nil {
			return nil, err
		}
		users = append(users, chunk...)
	}
	return users, nil
}

func (r *repo) List(ctx context.Context, filter userdomain.Filter) ([]userdomain.User, error) {
	var users []userdomain.User
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		stmt := applyFilter(r.db.WithContext(ctx).Model(&userdomain.User{}), filter).
			Order("user_id ASC")
		if filter.Offset > 0 {
			stmt = stmt.Offset(filter.Offset)
		}
		if filter.Limit > 0 {
			stmt = stmt.Limit(filter.Limit)
		}
		return stmt.Find(&users).Error
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) Count(ctx context.Context, filter userdomain.Filter) (int64, error) {
	var count int64
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return applyFilter(r.db.WithContext(ctx).Model(&userdomain.User{}), filter).Count(&count).Error
	})
	return count, err
}

func (r *repo) Upsert(ctx context.Context, u *userdomain.User) error {
	return db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_name",
				"region",
				"department",
				"company_name",
				"is_active_sub",
				"signup_date",
				"updated_at",
			}),
		}).Create(u).Error
	})
}

func (r *repo) DistinctRegions(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "region")
}

func (r *repo) DistinctDepartments(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "department")
}

func (r *repo) distinct(ctx context.Context, column string) ([]string, error) {
	var values []string
	err := db.Run(ctx, r.timeout, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Model(&userdomain.User{}).
			Distinct(column).
			Where(column+" IS NOT NULL AND "+column+" <> ''").
			Order(column+" ASC").
			Pluck(column, &values).Error
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func applyFilter(stmt *gorm.DB, filter userdomain.Filter) *gorm.DB {
	if filter.Region != "" {
		stmt = stmt.Where("region = ?", filter.Region)
	}
	if filter.Department != "" {
		stmt = stmt.Where("department = ?", filter.Department)
	}
	if filter.IsActiveSub != nil {
		stmt = stmt.Where("is_active_sub = ?", *filter.IsActiveSub)
	}
	return stmt
}
