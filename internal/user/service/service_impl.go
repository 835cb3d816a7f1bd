package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenlens/internal/clock"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	"github.com/smallbiznis/tokenlens/pkg/db"
	"github.com/smallbiznis/tokenlens/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  userdomain.Repository
}

type Service struct {
	log   *zap.Logger
	repo  userdomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) userdomain.Service {
	return &Service{
		log:   p.Log.Named("user.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req userdomain.CreateRequest) (*userdomain.User, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, userdomain.ErrInvalidUserID
	}

	existing, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, userdomain.ErrDuplicate
	}

	now := s.clock.Now()
	user := &userdomain.User{
		ID:          s.genID.Generate(),
		UserID:      userID,
		UserName:    strings.TrimSpace(req.UserName),
		Region:      strings.TrimSpace(req.Region),
		Department:  strings.TrimSpace(req.Department),
		CompanyName: strings.TrimSpace(req.CompanyName),
		IsActiveSub: req.IsActiveSub,
		SignupDate:  strings.TrimSpace(req.SignupDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, userdomain.ErrDuplicate
		}
		return nil, err
	}

	s.log.Debug("user created", zap.String("user_id", user.UserID))
	return user, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	userID, err := userdomain.ParseID(strings.TrimSpace(id))
	if err != nil {
		return nil, userdomain.ErrInvalidID
	}
	return s.getByID(ctx, userID)
}

func (s *Service) getByID(ctx context.Context, id snowflake.ID) (*userdomain.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrNotFound
	}
	return user, nil
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (*userdomain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, userdomain.ErrInvalidUserID
	}

	user, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrNotFound
	}
	return user, nil
}

func (s *Service) List(ctx context.Context, req userdomain.ListRequest) (*userdomain.ListResponse, error) {
	page := req.Page.Normalize()
	filter := userdomain.Filter{
		Region:      strings.TrimSpace(req.Region),
		Department:  strings.TrimSpace(req.Department),
		IsActiveSub: req.IsActiveSub,
	}

	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	filter.Offset = page.Offset()
	filter.Limit = page.Limit()
	users, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []userdomain.User{}
	}

	return &userdomain.ListResponse{
		Users:    users,
		PageInfo: pagination.BuildPageInfo(page, total),
	}, nil
}

func (s *Service) Update(ctx context.Context, req userdomain.UpdateRequest) (*userdomain.User, error) {
	id, err := userdomain.ParseID(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, userdomain.ErrInvalidID
	}

	user, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.UserName != nil {
		user.UserName = strings.TrimSpace(*req.UserName)
	}
	if req.Region != nil {
		user.Region = strings.TrimSpace(*req.Region)
	}
	if req.Department != nil {
		user.Department = strings.TrimSpace(*req.Department)
	}
	if req.CompanyName != nil {
		user.CompanyName = strings.TrimSpace(*req.CompanyName)
	}
	if req.IsActiveSub != nil {
		user.IsActiveSub = *req.IsActiveSub
	}
	if req.SignupDate != nil {
		user.SignupDate = strings.TrimSpace(*req.SignupDate)
	}
	user.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	userID, err := userdomain.ParseID(strings.TrimSpace(id))
	if err != nil {
		return userdomain.ErrInvalidID
	}
	if _, err := s.getByID(ctx, userID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, userID)
}

func (s *Service) Regions(ctx context.Context) ([]string, error) {
	return s.repo.DistinctRegions(ctx)
}

func (s *Service) Departments(ctx context.Context) ([]string, error) {
	return s.repo.DistinctDepartments(ctx)
}
