package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/api/middleware"
	"github.com/handbok-org/handbok/internal/app/service/forum"
	"github.com/handbok-org/handbok/pkg/response"
)

func forumError(c *gin.Context, log *zap.SugaredLogger, event string, err error) {
	switch {
	case errors.Is(err, forum.ErrInvalidRequest):
		response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
	case errors.Is(err, forum.ErrForbidden), errors.Is(err, forum.ErrForumDisabled):
		response.Abort(c, response.APIResponseCodeForbidden, err.Error())
	case errors.Is(err, forum.ErrTopicNotFound), errors.Is(err, forum.ErrPostNotFound):
		response.Abort(c, response.APIResponseCodeNotFound, err.Error())
	default:
		internalError(c, log, event, err)
	}
}

// @Summary      List replies
// @Description  Returns the most recent replies in ascending order, or every reply when all=true.
// @Tags         Forum
// @Produce      json
// @Param        topicId query string true  "Topic id"
// @Param        limit   query int    false "Number of replies, default 5"
// @Param        all     query bool   false "Return every reply"
// @Success      200  {object}  handlers.RespReplies
// @Router       /api/messages/replies [get]
func ApiListReplies(svc *forum.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req forum.ListRepliesRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
			return
		}
		userID, _ := middleware.CurrentUser(c)
		res, err := svc.ListReplies(c.Request.Context(), userID, req)
		if err != nil {
			forumError(c, log, "forum_list_replies_failed", err)
			return
		}
		response.OK(c, res)
	}
}

// @Summary      Post a reply
// @Tags         Forum
// @Accept       json
// @Produce      json
// @Param        request body forum.CreateReplyRequest true "Reply"
// @Success      200  {object}  handlers.RespReply
// @Router       /api/messages/replies [post]
func ApiCreateReply(svc *forum.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req forum.CreateReplyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
			return
		}
		userID, _ := middleware.CurrentUser(c)
		post, err := svc.CreateReply(c.Request.Context(), userID, req)
		if err != nil {
			forumError(c, log, "forum_create_reply_failed", err)
			return
		}
		response.OK(c, post)
	}
}

// @Summary      Delete a reply
// @Description  Allowed for the author and for handbook admins.
// @Tags         Forum
// @Produce      json
// @Param        replyId query string true "Reply id"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/messages/replies [delete]
func ApiDeleteReply(svc *forum.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("replyId")
		if id == "" {
			response.Abort(c, response.APIResponseCodeBadRequest, "replyId is required")
			return
		}
		userID, _ := middleware.CurrentUser(c)
		if err := svc.DeleteReply(c.Request.Context(), userID, id); err != nil {
			forumError(c, log, "forum_delete_reply_failed", err)
			return
		}
		response.OK[any](c, nil)
	}
}

func RegisterReplyRoutes(r gin.IRouter, svc *forum.Service, log *zap.SugaredLogger) {
	r.GET("/replies", ApiListReplies(svc, log))
	r.POST("/replies", ApiCreateReply(svc, log))
	r.DELETE("/replies", ApiDeleteReply(svc, log))
}
