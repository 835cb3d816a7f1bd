package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	userdomain "github.com/smallbiznis/tokenlens/internal/user/domain"
	"github.com/smallbiznis/tokenlens/pkg/db/pagination"
)

type createUserRequest struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Region      string `json:"region"`
	Department  string `json:"department"`
	CompanyName string `json:"companyName"`
	IsActiveSub bool   `json:"isActiveSub"`
	SignupDate  string `json:"signupDate"`
}

type updateUserRequest struct {
	UserName    *string `json:"userName,omitempty"`
	Region      *string `json:"region,omitempty"`
	Department  *string `json:"department,omitempty"`
	CompanyName *string `json:"companyName,omitempty"`
	IsActiveSub *bool   `json:"isActiveSub,omitempty"`
	SignupDate  *string `json:"signupDate,omitempty"`
}

func (s *Server) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.userSvc.Create(c.Request.Context(), userdomain.CreateRequest{
		UserID:      strings.TrimSpace(req.UserID),
		UserName:    strings.TrimSpace(req.UserName),
		Region:      strings.TrimSpace(req.Region),
		Department:  strings.TrimSpace(req.Department),
		CompanyName: strings.TrimSpace(req.CompanyName),
		IsActiveSub: req.IsActiveSub,
		SignupDate:  strings.TrimSpace(req.SignupDate),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListUsers(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Region      string `form:"region"`
		Department  string `form:"department"`
		IsActiveSub string `form:"isActiveSub"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	active, err := parseOptionalBool(query.IsActiveSub)
	if err != nil {
		AbortWithError(c, newValidationError("isActiveSub", "invalid_is_active_sub", "invalid isActiveSub"))
		return
	}

	resp, err := s.userSvc.List(c.Request.Context(), userdomain.ListRequest{
		Region:      strings.TrimSpace(query.Region),
		Department:  strings.TrimSpace(query.Department),
		IsActiveSub: active,
		Page:        query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Users, "meta": resp.PageInfo})
}

func (s *Server) GetUserByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.userSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateUser(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.userSvc.Update(c.Request.Context(), userdomain.UpdateRequest{
		ID:          id,
		UserName:    trimStringPtr(req.UserName),
		Region:      trimStringPtr(req.Region),
		Department:  trimStringPtr(req.Department),
		CompanyName: trimStringPtr(req.CompanyName),
		IsActiveSub: req.IsActiveSub,
		SignupDate:  trimStringPtr(req.SignupDate),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteUser(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := s.userSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
