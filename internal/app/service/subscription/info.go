package subscription

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/types"
)

// Info is the single authoritative status of a handbook's subscription,
// merged from the handbook trial fields and the latest subscription row.
type Info struct {
	HandbookID     string                   `json:"handbook_id"`
	Status         types.SubscriptionStatus `json:"status"`
	SubscriptionID string                   `json:"subscription_id,omitempty"`
	PlanType       string                   `json:"plan_type,omitempty"`
	IsTrial        bool                     `json:"is_trial"`
	ExpiresAt      *time.Time               `json:"expires_at,omitempty"`
	ExpiresInDays  *int                     `json:"expires_in_days,omitempty"`
}

type HealthCheck struct {
	IsHealthy      bool                     `json:"is_healthy"`
	RequiresAction bool                     `json:"requires_action"`
	ActionType     types.HealthActionType   `json:"action_type"`
	ExpiresInDays  *int                     `json:"expires_in_days,omitempty"`
	Status         types.SubscriptionStatus `json:"status"`
	PastExpiry     bool                     `json:"past_expiry"`
}

const (
	renewalReminderDays = 7
	trialReminderDays   = 3
)

// daysUntil rounds up, so anything later today counts as one day left.
func daysUntil(at, now time.Time) int {
	return int(math.Ceil(at.Sub(now).Hours() / 24))
}

// GetSubscriptionInfo is per handbook; userID only scopes logging.
func (s *Service) GetSubscriptionInfo(ctx context.Context, userID, handbookID string) (*Info, error) {
	hb, err := s.repo.GetHandbook(ctx, handbookID)
	if err != nil {
		return nil, fmt.Errorf("get handbook: %w", err)
	}
	sub, err := s.repo.GetLatestSubscription(ctx, handbookID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return classify(hb, sub, s.clock.Now()), nil
}

// HandbookStatus feeds the access checker.
func (s *Service) HandbookStatus(ctx context.Context, handbookID string) (types.SubscriptionStatus, error) {
	info, err := s.GetSubscriptionInfo(ctx, "", handbookID)
	if err != nil {
		return types.SubscriptionStatusNone, err
	}
	return info.Status, nil
}

func classify(hb *models.Handbook, sub *models.Subscription, now time.Time) *Info {
	info := &Info{HandbookID: hb.ID, Status: types.SubscriptionStatusNone}
	setExpiry := func(at *time.Time) {
		if at == nil {
			return
		}
		t := *at
		d := daysUntil(t, now)
		info.ExpiresAt, info.ExpiresInDays = &t, &d
	}

	if sub == nil {
		if hb.IsTrial && hb.TrialEndDate != nil {
			info.IsTrial = true
			setExpiry(hb.TrialEndDate)
			info.Status = types.SubscriptionStatusTrial
			if hb.TrialEndDate.Before(now) {
				info.Status = types.SubscriptionStatusExpired
			}
		}
		return info
	}

	info.SubscriptionID = sub.ID
	info.PlanType = sub.PlanType
	setExpiry(sub.ExpiresAt)

	switch sub.Status {
	case types.SubscriptionStatusCancelled, types.SubscriptionStatusSuspended:
		info.Status = sub.Status
	case types.SubscriptionStatusActive:
		info.Status = types.SubscriptionStatusActive
		if sub.ExpiresAt != nil && sub.ExpiresAt.Before(now) {
			info.Status = types.SubscriptionStatusExpired
		}
	case types.SubscriptionStatusTrial:
		info.IsTrial = true
		if sub.ExpiresAt == nil && hb.TrialEndDate != nil {
			setExpiry(hb.TrialEndDate)
		}
		info.Status = types.SubscriptionStatusTrial
		if info.ExpiresAt != nil && info.ExpiresAt.Before(now) {
			info.Status = types.SubscriptionStatusExpired
		}
	case types.SubscriptionStatusExpired:
		info.IsTrial = sub.PlanType == "trial"
		info.Status = types.SubscriptionStatusExpired
	default:
		info.Status = types.SubscriptionStatusNone
	}
	return info
}

func (s *Service) PerformHealthCheck(ctx context.Context, userID, handbookID string) (*HealthCheck, error) {
	info, err := s.GetSubscriptionInfo(ctx, userID, handbookID)
	if err != nil {
		return nil, err
	}
	return evaluate(info, s.clock.Now()), nil
}

func evaluate(info *Info, now time.Time) *HealthCheck {
	hc := &HealthCheck{
		IsHealthy:     true,
		ActionType:    types.HealthActionNone,
		ExpiresInDays: info.ExpiresInDays,
		Status:        info.Status,
		PastExpiry:    info.ExpiresAt != nil && info.ExpiresAt.Before(now),
	}
	days := math.MaxInt
	if info.ExpiresInDays != nil {
		days = *info.ExpiresInDays
	}

	switch info.Status {
	case types.SubscriptionStatusActive:
		if days <= renewalReminderDays {
			hc.RequiresAction, hc.ActionType = true, types.HealthActionRenewalReminder
		}
	case types.SubscriptionStatusTrial:
		if days <= trialReminderDays {
			hc.RequiresAction, hc.ActionType = true, types.HealthActionUpgrade
		}
	case types.SubscriptionStatusExpired:
		hc.IsHealthy, hc.RequiresAction = false, true
		hc.ActionType = types.HealthActionRenewal
		if info.IsTrial {
			hc.ActionType = types.HealthActionUpgrade
		}
	case types.SubscriptionStatusSuspended:
		hc.IsHealthy, hc.RequiresAction, hc.ActionType = false, true, types.HealthActionReactivation
	case types.SubscriptionStatusCancelled:
		hc.IsHealthy = false
	default:
		hc.IsHealthy, hc.RequiresAction, hc.ActionType = false, true, types.HealthActionSubscribe
	}
	return hc
}
