package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/gdpr"
	"github.com/handbok-org/handbok/pkg/response"
	"github.com/handbok-org/handbok/pkg/types"
)

type ExportRequest struct {
	Format types.ExportFormat `json:"format"`
}

// @Summary      Request account deletion
// @Description  Schedules erasure after the grace period, or erases now when immediate is set.
// @Tags         GDPR
// @Accept       json
// @Produce      json
// @Param        request body gdpr.DeletionRequest true "Deletion request"
// @Success      200  {object}  handlers.RespDeletion
// @Failure      403  {object}  handlers.RespOK
// @Failure      409  {object}  handlers.RespConflict
// @Router       /api/gdpr/delete-request [post]
func ApiRequestDeletion(svc *gdpr.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req gdpr.DeletionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
			return
		}
		res, err := svc.RequestDeletion(c.Request.Context(), requester(c), req)
		var conflict *gdpr.ConflictError
		switch {
		case err == nil:
			response.OK(c, res)
		case errors.As(err, &conflict):
			response.AbortWithData(c, response.APIResponseCodeConflict, conflict.Error(), conflict)
		case errors.Is(err, gdpr.ErrConfirmationRequired), errors.Is(err, gdpr.ErrInvalidRequest):
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
		case errors.Is(err, gdpr.ErrImmediateNotAllowed):
			response.Abort(c, response.APIResponseCodeForbidden, err.Error())
		default:
			internalError(c, log, "gdpr_deletion_request_failed", err)
		}
	}
}

// @Summary      Cancel account deletion
// @Tags         GDPR
// @Produce      json
// @Success      200  {object}  handlers.RespOK
// @Router       /api/gdpr/delete-request/cancel [post]
func ApiCancelDeletion(svc *gdpr.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.CancelDeletion(c.Request.Context(), requester(c))
		switch {
		case err == nil:
			response.OK(c, res)
		case errors.Is(err, gdpr.ErrNoActiveDeletion):
			response.Abort(c, response.APIResponseCodeNotFound, err.Error())
		case errors.Is(err, gdpr.ErrDeletionInProgress), errors.Is(err, gdpr.ErrCancelWindowClosed):
			response.Abort(c, response.APIResponseCodeConflict, err.Error())
		default:
			internalError(c, log, "gdpr_deletion_cancel_failed", err)
		}
	}
}

// @Summary      Request data export
// @Description  Issues a time-limited download link for a JSON or CSV copy of the caller's data.
// @Tags         GDPR
// @Accept       json
// @Produce      json
// @Param        request body handlers.ExportRequest false "Export format, json by default"
// @Success      200  {object}  handlers.RespExport
// @Router       /api/gdpr/export-request [post]
func ApiRequestExport(svc *gdpr.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExportRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
				return
			}
		}
		res, err := svc.RequestExport(c.Request.Context(), requester(c), req.Format)
		switch {
		case err == nil:
			response.OK(c, res)
		case errors.Is(err, gdpr.ErrInvalidRequest):
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
		default:
			internalError(c, log, "gdpr_export_request_failed", err)
		}
	}
}

// @Summary      Download data export
// @Tags         GDPR
// @Produce      application/json
// @Produce      text/csv
// @Param        token path string true "Download token"
// @Success      200
// @Failure      410  {object}  handlers.RespOK
// @Failure      429  {object}  handlers.RespOK
// @Router       /api/gdpr/download/{token} [get]
func ApiDownloadExport(svc *gdpr.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		dl, err := svc.DownloadExport(c.Request.Context(), c.Param("token"), c.ClientIP())
		switch {
		case err == nil:
		case errors.Is(err, gdpr.ErrInvalidToken):
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
			return
		case errors.Is(err, gdpr.ErrExportNotFound):
			response.Abort(c, response.APIResponseCodeNotFound, err.Error())
			return
		case errors.Is(err, gdpr.ErrExportExpired):
			response.Abort(c, response.APIResponseCodeGone, err.Error())
			return
		case errors.Is(err, gdpr.ErrDownloadLimitReached):
			response.Abort(c, response.APIResponseCodeTooManyRequests, err.Error())
			return
		default:
			internalError(c, log, "gdpr_export_download_failed", err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.FileName))
		c.Data(http.StatusOK, dl.ContentType, dl.Body)
	}
}

// RegisterGDPRRoutes mounts the authenticated endpoints; the download route
// is public and registered separately behind the rate limiter.
func RegisterGDPRRoutes(r gin.IRouter, svc *gdpr.Service, log *zap.SugaredLogger) {
	r.POST("/delete-request", ApiRequestDeletion(svc, log))
	r.POST("/delete-request/cancel", ApiCancelDeletion(svc, log))
	r.POST("/export-request", ApiRequestExport(svc, log))
}

func RegisterGDPRDownloadRoute(r gin.IRouter, svc *gdpr.Service, log *zap.SugaredLogger, limit gin.HandlerFunc) {
	r.GET("/download/:token", limit, ApiDownloadExport(svc, log))
}
