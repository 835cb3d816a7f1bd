package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	dashboarddomain "github.com/smallbiznis/tokenlens/internal/dashboard/domain"
)

func bindDashboardFilter(c *gin.Context) (dashboarddomain.Filter, bool) {
	var filter dashboarddomain.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return filter, false
	}
	filter.StartDate = strings.TrimSpace(filter.StartDate)
	filter.EndDate = strings.TrimSpace(filter.EndDate)
	filter.Region = strings.TrimSpace(filter.Region)
	if filter.Limit < 0 {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must not be negative"))
		return filter, false
	}
	return filter, true
}

// serveReport binds the shared filter, runs one report and writes the envelope.
func serveReport[T any](c *gin.Context, report string, fetch func(context.Context, dashboarddomain.Filter) (T, error)) {
	c.Set("report", report)
	filter, ok := bindDashboardFilter(c)
	if !ok {
		return
	}

	resp, err := fetch(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSummary(c *gin.Context) {
	serveReport(c, "summary", s.dashboardSvc.Summary)
}

func (s *Server) GetCostByModel(c *gin.Context) {
	serveReport(c, "cost_by_model", s.dashboardSvc.CostByModel)
}

func (s *Server) GetUsageByRegion(c *gin.Context) {
	serveReport(c, "usage_by_region", s.dashboardSvc.UsageByRegion)
}

func (s *Server) GetUsageByDepartment(c *gin.Context) {
	serveReport(c, "usage_by_department", s.dashboardSvc.UsageByDepartment)
}

func (s *Server) GetUsageByCompany(c *gin.Context) {
	serveReport(c, "usage_by_company", s.dashboardSvc.UsageByCompany)
}

func (s *Server) GetDailyTrend(c *gin.Context) {
	serveReport(c, "daily_trend", s.dashboardSvc.DailyTrend)
}

func (s *Server) GetMonthlyTrend(c *gin.Context) {
	serveReport(c, "monthly_trend", s.dashboardSvc.MonthlyTrend)
}

func (s *Server) GetTokenDistribution(c *gin.Context) {
	serveReport(c, "token_distribution", s.dashboardSvc.TokenDistribution)
}

func (s *Server) GetTopUsers(c *gin.Context) {
	serveReport(c, "top_users", s.dashboardSvc.TopUsers)
}

func (s *Server) ListRegions(c *gin.Context) {
	resp, err := s.dashboardSvc.Regions(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListDepartments(c *gin.Context) {
	resp, err := s.dashboardSvc.Departments(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDateRange(c *gin.Context) {
	resp, err := s.dashboardSvc.DateRange(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
