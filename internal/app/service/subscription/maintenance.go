package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/types"
)

// bulkBatch bounds one maintenance pass; leftovers are picked up next run.
const bulkBatch = 1000

type BulkCheckResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

type WarningResult struct {
	WarningsSent int `json:"warnings_sent"`
	Errors       int `json:"errors"`
}

type Stats struct {
	Total               int64                              `json:"total"`
	ByStatus            map[types.SubscriptionStatus]int64 `json:"by_status"`
	ActiveTrials        int64                              `json:"active_trials"`
	ExpiringWithin7Days int64                              `json:"expiring_within_7_days"`
}

// PerformBulkExpiryCheck moves trials past their end date to expired. Lapsed
// paid subscriptions are left for the health checks, which suspend them.
// The update is conditional, so a second run updates nothing.
func (s *Service) PerformBulkExpiryCheck(ctx context.Context) (*BulkCheckResult, error) {
	now := s.clock.Now()
	rows, err := s.repo.ListLapsedTrials(ctx, now, bulkBatch)
	if err != nil {
		return nil, fmt.Errorf("list lapsed trials: %w", err)
	}
	res := &BulkCheckResult{Checked: len(rows)}
	l := logctx.FromCtx(ctx, s.log)
	for _, sub := range rows {
		updated, err := s.repo.ExpireTrial(ctx, sub.ID, now)
		if err != nil {
			res.Errors++
			l.Warnw("subscription_expire_failed", "subscription_id", sub.ID, "err", err)
			continue
		}
		if updated {
			res.Updated++
			l.Infow("subscription_expired", "subscription_id", sub.ID, "handbook_id", sub.HandbookID, "previous_status", sub.Status)
		}
	}
	return res, nil
}

// SendExpiryWarnings mails owners of live subscriptions expiring inside the
// warning window. The warning is claimed before sending and released again
// when the send fails, so each subscription is warned at most once.
func (s *Service) SendExpiryWarnings(ctx context.Context) (*WarningResult, error) {
	now := s.clock.Now()
	rows, err := s.repo.ListExpiringUnwarned(ctx, now, now.Add(s.cfg.Maintenance.WarningWindow), bulkBatch)
	if err != nil {
		return nil, fmt.Errorf("list expiring subscriptions: %w", err)
	}
	res := &WarningResult{}
	l := logctx.FromCtx(ctx, s.log)
	for _, sub := range rows {
		claimed, err := s.repo.ClaimExpiryWarning(ctx, sub.ID, now)
		if err != nil {
			res.Errors++
			l.Warnw("expiry_warning_claim_failed", "subscription_id", sub.ID, "err", err)
			continue
		}
		if !claimed {
			continue
		}
		if err := s.sendWarning(ctx, sub, now); err != nil {
			res.Errors++
			l.Warnw("expiry_warning_send_failed", "subscription_id", sub.ID, "err", err)
			if err := s.repo.ReleaseExpiryWarning(ctx, sub.ID); err != nil {
				l.Errorw("expiry_warning_release_failed", "subscription_id", sub.ID, "err", err)
			}
			continue
		}
		res.WarningsSent++
	}
	return res, nil
}

func (s *Service) sendWarning(ctx context.Context, sub *models.Subscription, now time.Time) error {
	profile, err := s.repo.GetProfile(ctx, sub.UserID)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	hb, err := s.repo.GetHandbook(ctx, sub.HandbookID)
	if err != nil {
		return fmt.Errorf("get handbook: %w", err)
	}
	renewURL := strings.TrimRight(s.cfg.Server.PublicURL, "/") + "/handbooks/" + hb.ID + "/billing"
	days := 0
	if sub.ExpiresAt != nil {
		days = daysUntil(*sub.ExpiresAt, now)
	}
	return s.mail.Send(ctx, email.ExpiryWarning(profile.Email, hb.Title, days, renewURL))
}

func (s *Service) ListSoonestExpiring(ctx context.Context, limit int) ([]*models.Subscription, error) {
	return s.repo.ListSoonestExpiring(ctx, limit)
}

// Suspend moves a live subscription to suspended. It reports false when the
// subscription was no longer active or trial.
func (s *Service) Suspend(ctx context.Context, sub *models.Subscription, reason string) (bool, error) {
	ok, err := s.repo.SuspendSubscription(ctx, sub.ID, s.clock.Now())
	if err != nil || !ok {
		return ok, err
	}
	s.audit.Log(ctx, audit.Entry{
		UserID:       sub.UserID,
		Action:       audit.ActionSubscriptionSuspended,
		ResourceType: "subscription",
		ResourceID:   sub.ID,
		Risk:         types.RiskLevelMedium,
		System:       true,
		Details:      map[string]any{"reason": reason, "handbook_id": sub.HandbookID, "previous_status": sub.Status},
	})
	return true, nil
}

// GetSubscriptionStats tolerates an empty table.
func (s *Service) GetSubscriptionStats(ctx context.Context) (*Stats, error) {
	byStatus, err := s.repo.CountSubscriptionsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	now := s.clock.Now()
	expiring, err := s.repo.CountExpiringBetween(ctx, now, now.AddDate(0, 0, renewalReminderDays))
	if err != nil {
		return nil, fmt.Errorf("count expiring subscriptions: %w", err)
	}
	stats := &Stats{ByStatus: map[types.SubscriptionStatus]int64{}, ExpiringWithin7Days: expiring}
	for status, n := range byStatus {
		stats.ByStatus[status] = n
		stats.Total += n
	}
	stats.ActiveTrials = stats.ByStatus[types.SubscriptionStatusTrial]
	return stats, nil
}
