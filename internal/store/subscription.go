package store

import (
	"context"
	"time"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/pkg/types"
)

var liveStatuses = []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrial}

// GetLatestSubscription returns the most recently created subscription of a handbook.
func (s *Store) GetLatestSubscription(ctx context.Context, handbookID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("handbook_id = ?", handbookID).
		Order("created_at DESC").
		Take(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *Store) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.first(ctx, &sub, "stripe_subscription_id = ?", stripeSubscriptionID); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return translate(s.db.WithContext(ctx).Create(sub).Error)
}

func (s *Store) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return translate(s.db.WithContext(ctx).Save(sub).Error)
}

func (s *Store) CreateSubscriptionLog(ctx context.Context, l *models.SubscriptionLog) error {
	return translate(s.db.WithContext(ctx).Create(l).Error)
}

// ListLapsedTrials returns trial subscriptions whose end date has passed.
// Paid rows past expiry stay active for the maintenance health checks.
func (s *Store) ListLapsedTrials(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	var out []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ?", types.SubscriptionStatusTrial).
		Where("expires_at < ?", now).
		Order("expires_at").
		Limit(limit).
		Find(&out).Error
	return out, translate(err)
}

// ExpireTrial flips a lapsed trial to expired. It reports false when another
// run already did it.
func (s *Store) ExpireTrial(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND expires_at < ?", id, types.SubscriptionStatusTrial, now).
		Updates(map[string]any{"status": types.SubscriptionStatusExpired, "updated_at": now})
	return res.RowsAffected > 0, translate(res.Error)
}

// ListExpiringUnwarned returns live subscriptions expiring within [from, to]
// that have not been warned yet.
func (s *Store) ListExpiringUnwarned(ctx context.Context, from, to time.Time, limit int) ([]*models.Subscription, error) {
	var out []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("status IN ?", liveStatuses).
		Where("expires_at BETWEEN ? AND ?", from, to).
		Where("last_warning_sent_at IS NULL").
		Order("expires_at").
		Limit(limit).
		Find(&out).Error
	return out, translate(err)
}

// ClaimExpiryWarning marks the warning as sent; only one caller wins.
func (s *Store) ClaimExpiryWarning(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND last_warning_sent_at IS NULL", id).
		Update("last_warning_sent_at", at)
	return res.RowsAffected > 0, translate(res.Error)
}

// ReleaseExpiryWarning undoes a claim whose email could not be sent.
func (s *Store) ReleaseExpiryWarning(ctx context.Context, id string) error {
	return translate(s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("last_warning_sent_at", nil).Error)
}

// ListSoonestExpiring returns live subscriptions ordered by nearest expiry.
func (s *Store) ListSoonestExpiring(ctx context.Context, limit int) ([]*models.Subscription, error) {
	var out []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("status IN ?", liveStatuses).
		Where("expires_at IS NOT NULL").
		Order("expires_at").
		Limit(limit).
		Find(&out).Error
	return out, translate(err)
}

func (s *Store) SuspendSubscription(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", id, liveStatuses).
		Updates(map[string]any{"status": types.SubscriptionStatusSuspended, "suspended_at": at, "updated_at": at})
	return res.RowsAffected > 0, translate(res.Error)
}

func (s *Store) CountSubscriptionsByStatus(ctx context.Context) (map[types.SubscriptionStatus]int64, error) {
	var rows []struct {
		Status types.SubscriptionStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make(map[types.SubscriptionStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (s *Store) CountExpiringBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status IN ?", liveStatuses).
		Where("expires_at BETWEEN ? AND ?", from, to).
		Count(&n).Error
	return n, translate(err)
}
