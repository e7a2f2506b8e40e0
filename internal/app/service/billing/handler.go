package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/handbok-org/handbok/internal/app/service/subscription"
	"github.com/handbok-org/handbok/internal/app/service/webhooklog"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/logctx"
)

type BillingApplier interface {
	ApplyBillingUpdate(ctx context.Context, u subscription.BillingUpdate) (bool, error)
}

type WebhookLogger interface {
	Save(ctx context.Context, entry *models.WebhookLog)
}

type Result struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Handled bool   `json:"handled"`
	Changed bool   `json:"changed"`
}

type Handler struct {
	cfg   *config.Config
	logs  WebhookLogger
	subs  BillingApplier
	clock clock.Clock
	log   *zap.SugaredLogger
}

func NewHandler(cfg *config.Config, logs WebhookLogger, subs BillingApplier, clk clock.Clock, log *zap.SugaredLogger) *Handler {
	return &Handler{cfg: cfg, logs: logs, subs: subs, clock: clk, log: log}
}

// HandleStripe verifies and applies one Stripe event. Unverified payloads are
// rejected before anything is logged; verified ones get a received entry and a
// handled or handle_failed entry.
func (h *Handler) HandleStripe(ctx context.Context, payload []byte, signature, traceID string) (*Result, error) {
	parser, err := ParseStripeEvent(payload, signature, h.cfg.Stripe.WebhookSecret)
	if err != nil {
		logctx.FromCtx(ctx, h.log).Warnw("stripe_webhook_rejected", "err", err)
		return nil, err
	}
	return h.handle(ctx, parser, traceID)
}

func (h *Handler) handle(ctx context.Context, parser EventParser, traceID string) (res *Result, resErr error) {
	l := logctx.FromCtx(ctx, h.log)
	dataBytes, _ := json.Marshal(parser.Data())
	entry := func(status models.WebhookLogStatus) *models.WebhookLog {
		return &models.WebhookLog{
			Provider:   parser.Provider(),
			EventID:    parser.EventID(),
			EventType:  parser.EventType(),
			TraceID:    traceID,
			Data:       datatypes.JSON(dataBytes),
			Status:     status,
			ReceivedAt: h.clock.Now(),
		}
	}
	h.logs.Save(ctx, entry(models.WebhookLogStatusReceived))

	res = &Result{EventID: parser.EventID(), Type: parser.EventType()}
	defer func() {
		resMap := map[string]any{"handled": res.Handled, "changed": res.Changed}
		if uid := parser.UserID(); uid != "" {
			resMap["user_id"] = uid
		}
		status := models.WebhookLogStatusHandled
		if resErr != nil {
			resMap["error"] = resErr.Error()
			status = models.WebhookLogStatusHandleFailed
		}
		resBytes, _ := json.Marshal(resMap)
		done := entry(status)
		done.Result = lo.ToPtr(datatypes.JSON(resBytes))
		h.logs.Save(ctx, done)
	}()

	update, err := parser.BillingUpdate()
	if err != nil {
		l.Errorw("stripe_event_decode_failed", "event_id", parser.EventID(), "type", parser.EventType(), "err", err)
		return res, err
	}
	if update == nil {
		l.Infow("stripe_event_ignored", "event_id", parser.EventID(), "type", parser.EventType())
		return res, nil
	}

	update.EventID = parser.EventID()
	changed, err := h.subs.ApplyBillingUpdate(ctx, *update)
	if err != nil {
		l.Errorw("stripe_event_apply_failed", "event_id", parser.EventID(), "subscription", update.StripeSubscriptionID, "err", err)
		return res, fmt.Errorf("apply billing update: %w", err)
	}
	res.Handled, res.Changed = true, changed
	l.Infow("stripe_event_applied", "event_id", parser.EventID(), "type", parser.EventType(), "subscription", update.StripeSubscriptionID, "status", update.Status, "changed", changed)
	return res, nil
}

var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Provide(func(s *webhooklog.Service) WebhookLogger { return s }),
	fx.Provide(func(s *subscription.Service) BillingApplier { return s }),
)
