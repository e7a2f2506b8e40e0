package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/api/middleware"
	"github.com/handbok-org/handbok/internal/app/service/gdpr"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/response"
)

func requester(c *gin.Context) gdpr.Requester {
	id, email := middleware.CurrentUser(c)
	return gdpr.Requester{UserID: id, Email: email, IP: c.ClientIP()}
}

// internalError logs the cause and answers with a generic 500.
func internalError(c *gin.Context, log *zap.SugaredLogger, event string, err error) {
	logctx.FromGin(c, log).Errorw(event, "err", err)
	response.Abort(c, response.APIResponseCodeError, "internal error")
}
