package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenlens/internal/clock"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	"github.com/smallbiznis/tokenlens/internal/user/repository"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"github.com/smallbiznis/tokenlens/pkg/db/pagination"
	"go.uber.org/zap"
)

func setupService(t *testing.T) (userdomain.Service, *clock.FakeClock) {
	t.Helper()

	conn, err := db.NewTestConn()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.SQL.AutoMigrate(&userdomain.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	fake := clock.NewFakeClock(time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC))
	svc := New(Params{
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  repository.Provide(conn),
	})
	return svc, fake
}

func TestCreateRejectsDuplicateUserID(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, userdomain.CreateRequest{UserID: " u-1 ", Region: "EU"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.Create(ctx, userdomain.CreateRequest{UserID: "u-1"})
	if !errors.Is(err, userdomain.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateRequiresUserID(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Create(context.Background(), userdomain.CreateRequest{UserID: "   "})
	if !errors.Is(err, userdomain.ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestUpdateKeepsUserIDAndStampsTime(t *testing.T) {
	svc, fake := setupService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, userdomain.CreateRequest{UserID: "u-1", Region: "EU"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fake.Advance(time.Hour)
	region := "US"
	active := true
	updated, err := svc.Update(ctx, userdomain.UpdateRequest{
		ID:          created.ID.String(),
		Region:      &region,
		IsActiveSub: &active,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.UserID != "u-1" || updated.Region != "US" || !updated.IsActiveSub {
		t.Fatalf("unexpected user after update: %+v", updated)
	}
	if !updated.UpdatedAt.Equal(fake.Now()) {
		t.Fatalf("expected updatedAt %s, got %s", fake.Now(), updated.UpdatedAt)
	}

	stored, err := svc.GetByUserID(ctx, "u-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Region != "US" {
		t.Fatalf("expected stored region US, got %s", stored.Region)
	}
}

func TestGetAndDeleteErrors(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	if _, err := svc.GetByID(ctx, "not-a-number"); !errors.Is(err, userdomain.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := svc.GetByID(ctx, "12345"); !errors.Is(err, userdomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, "12345"); !errors.Is(err, userdomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}

	created, err := svc.Create(ctx, userdomain.CreateRequest{UserID: "u-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, created.ID.String()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetByUserID(ctx, "u-1"); !errors.Is(err, userdomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListPaginates(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	for _, id := range []string{"u-1", "u-2", "u-3"} {
		if _, err := svc.Create(ctx, userdomain.CreateRequest{UserID: id, Region: "EU"}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	resp, err := svc.List(ctx, userdomain.ListRequest{
		Region: "EU",
		Page:   pagination.Pagination{Page: 2, PageSize: 2},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Users) != 1 || resp.Users[0].UserID != "u-3" {
		t.Fatalf("unexpected page: %+v", resp.Users)
	}
	if resp.PageInfo.Total != 3 || resp.PageInfo.TotalPages != 2 || resp.PageInfo.HasMore {
		t.Fatalf("unexpected page info: %+v", resp.PageInfo)
	}
}
