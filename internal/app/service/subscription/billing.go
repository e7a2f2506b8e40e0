package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/tool"
	"github.com/handbok-org/handbok/pkg/types"
)

var ErrUnknownHandbook = errors.New("billing update does not reference a handbook")

// BillingUpdate is a provider-neutral view of a subscription lifecycle event.
type BillingUpdate struct {
	StripeSubscriptionID string
	StripeCustomerID     string
	HandbookID           string
	UserID               string
	Status               types.SubscriptionStatus
	PlanType             string
	CurrentPeriodEnd     *time.Time
	// Renewal marks a successful payment; only a payment may revive an
	// expired, suspended or cancelled subscription.
	Renewal   bool
	InvoiceID string
	EventID   string
}

// ApplyBillingUpdate upserts the subscription identified by the provider id and
// reports whether its status changed.
func (s *Service) ApplyBillingUpdate(ctx context.Context, u BillingUpdate) (bool, error) {
	if u.StripeSubscriptionID == "" {
		return false, fmt.Errorf("missing provider subscription id")
	}
	now := s.clock.Now()
	sub, err := s.repo.GetSubscriptionByStripeID(ctx, u.StripeSubscriptionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("get subscription: %w", err)
	}

	created := sub == nil
	if created {
		if u.HandbookID == "" {
			return false, ErrUnknownHandbook
		}
		stripeID := u.StripeSubscriptionID
		sub = &models.Subscription{
			ID:                   tool.GenerateUUIDV7(),
			UserID:               u.UserID,
			HandbookID:           u.HandbookID,
			StripeSubscriptionID: &stripeID,
			Status:               types.SubscriptionStatusNone,
		}
	}

	var snapshot *models.Subscription
	if !created {
		cp := *sub
		snapshot = &cp
	}
	before := sub.Status
	next := u.Status
	if !created && !u.Renewal && !before.Live() && next.Live() {
		// a late or replayed event must not revive a closed subscription
		logctx.FromCtx(ctx, s.log).Infow("billing_update_ignored_revival", "subscription_id", sub.ID, "status", before, "incoming", next)
		next = before
	}

	sub.Status = next
	if u.StripeCustomerID != "" {
		sub.StripeCustomerID = u.StripeCustomerID
	}
	if u.PlanType != "" {
		sub.PlanType = u.PlanType
	}
	if u.CurrentPeriodEnd != nil {
		end := *u.CurrentPeriodEnd
		if sub.ExpiresAt == nil || !end.Equal(*sub.ExpiresAt) {
			sub.LastWarningSentAt = nil
		}
		sub.ExpiresAt = &end
	}
	switch next {
	case types.SubscriptionStatusCancelled:
		if sub.CancelledAt == nil {
			sub.CancelledAt = &now
		}
	case types.SubscriptionStatusActive:
		sub.SuspendedAt, sub.CancelledAt = nil, nil
	}
	if u.InvoiceID != "" {
		raw, _ := json.Marshal(map[string]string{"latest_invoice_id": u.InvoiceID})
		sub.Extra = datatypes.JSON(raw)
	}
	sub.UpdatedAt = now

	if created {
		err = s.repo.CreateSubscription(ctx, sub)
	} else {
		err = s.repo.SaveSubscription(ctx, sub)
	}
	if err != nil {
		return false, fmt.Errorf("save subscription: %w", err)
	}

	changed := before != sub.Status
	reason := types.SubscriptionChangeReasonBilling
	if u.Renewal {
		reason = types.SubscriptionChangeReasonRenewal
	}
	s.writeLog(ctx, snapshot, sub, reason, u)
	if changed {
		s.audit.Log(ctx, audit.Entry{
			UserID:       sub.UserID,
			Action:       audit.ActionSubscriptionUpdated,
			ResourceType: "subscription",
			ResourceID:   sub.ID,
			Risk:         types.RiskLevelLow,
			System:       true,
			Details:      map[string]any{"from": before, "to": sub.Status, "reason": reason},
		})
	}
	return changed, nil
}

// writeLog is best-effort; the audit entry is the record of truth.
func (s *Service) writeLog(ctx context.Context, before, after *models.Subscription, reason types.SubscriptionChangeReason, u BillingUpdate) {
	entry := &models.SubscriptionLog{
		ID:             tool.GenerateUUIDV7(),
		SubscriptionID: after.ID,
		HandbookID:     after.HandbookID,
		Reason:         reason,
		Before:         datatypes.NewJSONType(before),
		After:          datatypes.NewJSONType(after),
		Extra:          datatypes.JSONMap{"event_id": u.EventID, "stripe_subscription_id": u.StripeSubscriptionID},
	}
	if err := s.repo.CreateSubscriptionLog(ctx, entry); err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("subscription_log_write_failed", "subscription_id", after.ID, "err", err)
	}
}
