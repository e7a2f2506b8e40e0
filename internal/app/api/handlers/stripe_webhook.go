package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/billing"
	"github.com/handbok-org/handbok/internal/app/service/subscription"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/response"
)

// maxWebhookBytes matches the payload ceiling Stripe documents for events.
const maxWebhookBytes = 65536

// @Summary      Stripe webhook
// @Description  Verifies the Stripe-Signature header and applies subscription lifecycle events.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Stripe signature"
// @Success      200  {object}  handlers.RespWebhook
// @Failure      400  {object}  handlers.RespOK
// @Router       /api/webhooks/stripe [post]
func ApiStripeWebhook(h *billing.Handler, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
		if err != nil {
			response.Abort(c, response.APIResponseCodeBadRequest, "unreadable body")
			return
		}
		ctx := c.Request.Context()
		res, err := h.HandleStripe(ctx, payload, c.GetHeader("Stripe-Signature"), logctx.TraceID(ctx))
		switch {
		case err == nil:
			response.OK(c, res)
		case errors.Is(err, billing.ErrInvalidSignature):
			response.Abort(c, response.APIResponseCodeBadRequest, err.Error())
		case errors.Is(err, subscription.ErrUnknownHandbook):
			// redelivery cannot fix an event without handbook metadata
			response.AbortWithData(c, response.APIResponseCodeOK, err.Error(), res)
		default:
			// Stripe redelivers on non-2xx
			internalError(c, log, "stripe_webhook_failed", err)
		}
	}
}

func RegisterWebhookRoutes(r gin.IRouter, h *billing.Handler, log *zap.SugaredLogger) {
	r.POST("/stripe", ApiStripeWebhook(h, log))
}
