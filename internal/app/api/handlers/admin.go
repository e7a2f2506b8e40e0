package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/api/middleware"
	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/app/service/statistics"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/response"
	"github.com/handbok-org/handbok/pkg/types"
)

type ListAuditLogsResponse struct {
	Items []*models.AuditLog `json:"items"`
	Total int64              `json:"total"`
}

type ClearCacheRequest struct {
	// UserID empty clears every cached decision.
	UserID string `json:"user_id"`
}

type ClearCacheResponse struct {
	Cleared int `json:"cleared"`
}

// @Summary      List audit logs (Admin)
// @Description  Retrieves a paginated and filterable list of audit log entries.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body types.ScanRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespAuditLogs
// @Router       /api/admin/audit-logs [post]
func ApiListAuditLogs(svc *audit.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
			return
		}
		items, total, err := svc.Scan(c.Request.Context(), &req)
		switch {
		case err == nil:
			response.OK(c, &ListAuditLogsResponse{Items: items, Total: total})
		case errors.Is(err, audit.ErrInvalidScan):
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
		default:
			internalError(c, log, "audit_scan_failed", err)
		}
	}
}

// @Summary      Get dashboard statistics (Admin)
// @Description  Computes the requested daily series and status breakdowns.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.Request true "Statistic request parameters"
// @Success      200  {object}  handlers.RespStatistics
// @Router       /api/admin/statistics [post]
func ApiGetStatistics(svc *statistics.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
			return
		}
		if err := req.Validate(); err != nil {
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
			return
		}
		res, err := svc.GetDashboard(c.Request.Context(), &req)
		if err != nil {
			internalError(c, log, "statistics_dashboard_failed", err)
			return
		}
		response.OK(c, res)
	}
}

// @Summary      Clear access cache (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body handlers.ClearCacheRequest false "User to clear, all when empty"
// @Success      200  {object}  handlers.RespClearCache
// @Router       /api/admin/access-cache/clear [post]
func ApiClearAccessCache(checker *access.Checker, auditSvc *audit.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ClearCacheRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
				return
			}
		}
		n := checker.ClearCache(req.UserID)
		actorID, actorEmail := middleware.CurrentUser(c)
		auditSvc.Log(c.Request.Context(), audit.Entry{
			UserID:       actorID,
			UserEmail:    actorEmail,
			Action:       audit.ActionAccessCacheCleared,
			ResourceType: "access_cache",
			ResourceID:   req.UserID,
			Details:      map[string]any{"cleared": n},
			IP:           c.ClientIP(),
		})
		logctx.FromGin(c, log).Infow("access_cache_cleared", "target_user_id", req.UserID, "cleared", n)
		response.OK(c, &ClearCacheResponse{Cleared: n})
	}
}

func RegisterAdminRoutes(r gin.IRouter, auditSvc *audit.Service, stats *statistics.Service, checker *access.Checker, log *zap.SugaredLogger) {
	r.POST("/audit-logs", ApiListAuditLogs(auditSvc, log))
	r.POST("/statistics", ApiGetStatistics(stats, log))
	r.POST("/access-cache/clear", ApiClearAccessCache(checker, auditSvc, log))
}
