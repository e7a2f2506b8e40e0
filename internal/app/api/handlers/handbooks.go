package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/api/middleware"
	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/app/service/handbook"
	"github.com/handbok-org/handbok/internal/app/service/subscription"
	"github.com/handbok-org/handbok/pkg/response"
)

type SubscriptionResponse struct {
	Info   *subscription.Info        `json:"info"`
	Health *subscription.HealthCheck `json:"health"`
}

// @Summary      Create a handbook
// @Description  Creates the handbook with a 30-day trial and the caller as admin.
// @Tags         Handbooks
// @Accept       json
// @Produce      json
// @Param        request body handbook.CreateRequest true "Handbook"
// @Success      200  {object}  handlers.RespHandbook
// @Failure      409  {object}  handlers.RespOK
// @Router       /api/handbooks [post]
func ApiCreateHandbook(svc *handbook.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req handbook.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
			return
		}
		userID, _ := middleware.CurrentUser(c)
		hb, err := svc.Create(c.Request.Context(), userID, req)
		switch {
		case err == nil:
			response.OK(c, hb)
		case errors.Is(err, handbook.ErrSubdomainTaken):
			response.Abort(c, response.APIResponseCodeConflict, err.Error())
		case errors.Is(err, handbook.ErrInvalidRequest), errors.Is(err, handbook.ErrInvalidSubdomain):
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
		default:
			internalError(c, log, "handbook_create_failed", err)
		}
	}
}

// @Summary      Check handbook access
// @Tags         Handbooks
// @Produce      json
// @Param        id path string true "Handbook id"
// @Success      200  {object}  handlers.RespAccess
// @Router       /api/handbooks/{id}/access [get]
func ApiHandbookAccess(checker *access.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.CurrentUser(c)
		response.OK(c, checker.HasAccess(c.Request.Context(), userID, c.Param("id")))
	}
}

// @Summary      Handbook subscription
// @Description  Merged subscription status with its health check.
// @Tags         Handbooks
// @Produce      json
// @Param        id path string true "Handbook id"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/handbooks/{id}/subscription [get]
func ApiHandbookSubscription(checker *access.Checker, subs *subscription.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID, _ := middleware.CurrentUser(c)
		handbookID := c.Param("id")
		res := checker.HasAccess(ctx, userID, handbookID)
		switch {
		case res.Reason == access.ReasonHandbookNotFound:
			response.Abort(c, response.APIResponseCodeNotFound, "handbook not found")
			return
		case !res.HasAccess:
			response.Abort(c, response.APIResponseCodeForbidden, res.Reason)
			return
		}
		info, err := subs.GetSubscriptionInfo(ctx, userID, handbookID)
		if err != nil {
			internalError(c, log, "subscription_info_failed", err)
			return
		}
		health, err := subs.PerformHealthCheck(ctx, userID, handbookID)
		if err != nil {
			internalError(c, log, "subscription_health_failed", err)
			return
		}
		response.OK(c, &SubscriptionResponse{Info: info, Health: health})
	}
}

// @Summary      Remove a member
// @Description  Handbook admins only. The owner cannot be removed.
// @Tags         Handbooks
// @Produce      json
// @Param        id     path string true "Handbook id"
// @Param        userId path string true "Member user id"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/handbooks/{id}/members/{userId} [delete]
func ApiRemoveMember(svc *handbook.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, _ := middleware.CurrentUser(c)
		err := svc.RemoveMember(c.Request.Context(), actorID, c.Param("id"), c.Param("userId"))
		switch {
		case err == nil:
			response.OK[any](c, nil)
		case errors.Is(err, handbook.ErrForbidden):
			response.Abort(c, response.APIResponseCodeForbidden, err.Error())
		case errors.Is(err, handbook.ErrHandbookNotFound), errors.Is(err, handbook.ErrMemberNotFound):
			response.Abort(c, response.APIResponseCodeNotFound, err.Error())
		case errors.Is(err, handbook.ErrCannotRemoveOwner):
			response.Abort(c, response.APIResponseCodeConflict, err.Error())
		default:
			internalError(c, log, "handbook_remove_member_failed", err)
		}
	}
}

func RegisterHandbookRoutes(r gin.IRouter, svc *handbook.Service, checker *access.Checker, subs *subscription.Service, log *zap.SugaredLogger) {
	r.POST("", ApiCreateHandbook(svc, log))
	r.GET("/:id/access", ApiHandbookAccess(checker))
	r.GET("/:id/subscription", ApiHandbookSubscription(checker, subs, log))
	r.DELETE("/:id/members/:userId", ApiRemoveMember(svc, log))
}
