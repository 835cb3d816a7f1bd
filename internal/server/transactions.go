package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	transactiondomain "github.com/smallbiznis/tokenlens/internal/transaction/domain"
	"github.com/smallbiznis/tokenlens/pkg/db/pagination"
)

type createTransactionRequest struct {
	RowID          string          `json:"rowId"`
	UserID         string          `json:"userId"`
	ConversationID string          `json:"conversationId"`
	ModelName      string          `json:"modelName"`
	TokenType      string          `json:"tokenType"`
	TokenCount     int64           `json:"tokenCount"`
	RatePer1K      decimal.Decimal `json:"ratePer1k"`
	CalculatedCost decimal.Decimal `json:"calculatedCost"`
	Timestamp      *time.Time      `json:"timestamp"`
}

type updateTransactionRequest struct {
	ConversationID *string          `json:"conversationId,omitempty"`
	ModelName      *string          `json:"modelName,omitempty"`
	TokenType      *string          `json:"tokenType,omitempty"`
	TokenCount     *int64           `json:"tokenCount,omitempty"`
	RatePer1K      *decimal.Decimal `json:"ratePer1k,omitempty"`
	CalculatedCost *decimal.Decimal `json:"calculatedCost,omitempty"`
	Timestamp      *time.Time       `json:"timestamp,omitempty"`
}

func (s *Server) CreateTransaction(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.txSvc.Create(c.Request.Context(), transactiondomain.CreateRequest{
		RowID:          strings.TrimSpace(req.RowID),
		UserID:         strings.TrimSpace(req.UserID),
		ConversationID: strings.TrimSpace(req.ConversationID),
		ModelName:      strings.TrimSpace(req.ModelName),
		TokenType:      strings.TrimSpace(req.TokenType),
		TokenCount:     req.TokenCount,
		RatePer1K:      req.RatePer1K,
		CalculatedCost: req.CalculatedCost,
		Timestamp:      req.Timestamp,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		UserID         string `form:"userId"`
		ConversationID string `form:"conversationId"`
		ModelName      string `form:"modelName"`
		TokenType      string `form:"tokenType"`
		StartDate      string `form:"startDate"`
		EndDate        string `form:"endDate"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := parseOptionalTime(query.StartDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("startDate", "invalid_start_date", "invalid startDate"))
		return
	}
	to, err := parseOptionalTime(query.EndDate, true)
	if err != nil {
		AbortWithError(c, newValidationError("endDate", "invalid_end_date", "invalid endDate"))
		return
	}

	resp, err := s.txSvc.List(c.Request.Context(), transactiondomain.ListRequest{
		UserID:         strings.TrimSpace(query.UserID),
		ConversationID: strings.TrimSpace(query.ConversationID),
		ModelName:      strings.TrimSpace(query.ModelName),
		TokenType:      strings.TrimSpace(query.TokenType),
		From:           from,
		To:             to,
		Page:           query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "meta": resp.PageInfo})
}

func (s *Server) GetTransactionByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.txSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateTransaction(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	var req updateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.txSvc.Update(c.Request.Context(), transactiondomain.UpdateRequest{
		ID:             id,
		ConversationID: trimStringPtr(req.ConversationID),
		ModelName:      trimStringPtr(req.ModelName),
		TokenType:      trimStringPtr(req.TokenType),
		TokenCount:     req.TokenCount,
		RatePer1K:      req.RatePer1K,
		CalculatedCost: req.CalculatedCost,
		Timestamp:      req.Timestamp,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteTransaction(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := s.txSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
