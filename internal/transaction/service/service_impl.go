package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tokenlens/internal/clock"
	txdomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
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
	Repo  txdomain.Repository
}

type Service struct {
	log   *zap.Logger
	repo  txdomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) txdomain.Service {
	return &Service{
		log:   p.Log.Named("transaction.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req txdomain.CreateRequest) (*txdomain.Transaction, error) {
	rowID := strings.TrimSpace(req.RowID)
	if rowID == "" {
		return nil, txdomain.ErrInvalidRowID
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, txdomain.ErrInvalidUserID
	}

	tokenType := normalizeTokenType(req.TokenType)
	if !txdomain.ValidTokenType(tokenType) {
		return nil, txdomain.ErrInvalidTokenType
	}

	if err := validateAmounts(req.TokenCount, req.RatePer1K, req.CalculatedCost); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByRowID(ctx, rowID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, txdomain.ErrDuplicate
	}

	now := s.clock.Now()
	timestamp := now
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		timestamp = req.Timestamp.UTC()
	}

	tx := &txdomain.Transaction{
		ID:             s.genID.Generate(),
		RowID:          rowID,
		UserID:         userID,
		ConversationID: strings.TrimSpace(req.ConversationID),
		ModelName:      strings.TrimSpace(req.ModelName),
		TokenType:      tokenType,
		TokenCount:     req.TokenCount,
		RatePer1K:      req.RatePer1K,
		CalculatedCost: req.CalculatedCost,
		Timestamp:      timestamp,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, tx); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, txdomain.ErrDuplicate
		}
		return nil, err
	}

	return tx, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*txdomain.Transaction, error) {
	txID, err := txdomain.ParseID(strings.TrimSpace(id))
	if err != nil {
		return nil, txdomain.ErrInvalidID
	}
	return s.getByID(ctx, txID)
}

func (s *Service) getByID(ctx context.Context, id snowflake.ID) (*txdomain.Transaction, error) {
	tx, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, txdomain.ErrNotFound
	}
	return tx, nil
}

func (s *Service) List(ctx context.Context, req txdomain.ListRequest) (*txdomain.ListResponse, error) {
	page := req.Page.Normalize()
	filter := txdomain.Filter{
		UserID:         strings.TrimSpace(req.UserID),
		ConversationID: strings.TrimSpace(req.ConversationID),
		ModelName:      strings.TrimSpace(req.ModelName),
		TokenType:      normalizeTokenType(req.TokenType),
		From:           req.From,
		To:             req.To,
	}

	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	filter.Offset = page.Offset()
	filter.Limit = page.Limit()
	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []txdomain.Transaction{}
	}

	return &txdomain.ListResponse{
		Transactions: items,
		PageInfo:     pagination.BuildPageInfo(page, total),
	}, nil
}

func (s *Service) Update(ctx context.Context, req txdomain.UpdateRequest) (*txdomain.Transaction, error) {
	id, err := txdomain.ParseID(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, txdomain.ErrInvalidID
	}

	tx, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.ConversationID != nil {
		tx.ConversationID = strings.TrimSpace(*req.ConversationID)
	}
	if req.ModelName != nil {
		tx.ModelName = strings.TrimSpace(*req.ModelName)
	}
	if req.TokenType != nil {
		tokenType := normalizeTokenType(*req.TokenType)
		if !txdomain.ValidTokenType(tokenType) {
			return nil, txdomain.ErrInvalidTokenType
		}
		tx.TokenType = tokenType
	}
	if req.TokenCount != nil {
		tx.TokenCount = *req.TokenCount
	}
	if req.RatePer1K != nil {
		tx.RatePer1K = *req.RatePer1K
	}
	if req.CalculatedCost != nil {
		tx.CalculatedCost = *req.CalculatedCost
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		tx.Timestamp = req.Timestamp.UTC()
	}
	if err := validateAmounts(tx.TokenCount, tx.RatePer1K, tx.CalculatedCost); err != nil {
		return nil, err
	}
	tx.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	txID, err := txdomain.ParseID(strings.TrimSpace(id))
	if err != nil {
		return txdomain.ErrInvalidID
	}
	if _, err := s.getByID(ctx, txID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, txID)
}

func normalizeTokenType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func validateAmounts(tokens int64, rate, cost decimal.Decimal) error {
	if tokens < 0 || rate.IsNegative() || cost.IsNegative() {
		return txdomain.ErrInvalidAmount
	}
	return nil
}
