package subscription

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/types"
)

// TrialDays is the length of the free trial granted at handbook creation.
const TrialDays = 30

type Repository interface {
	GetHandbook(ctx context.Context, id string) (*models.Handbook, error)
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)

	GetLatestSubscription(ctx context.Context, handbookID string) (*models.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	CreateSubscriptionLog(ctx context.Context, l *models.SubscriptionLog) error

	ListLapsedTrials(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
	ExpireTrial(ctx context.Context, id string, now time.Time) (bool, error)
	ListExpiringUnwarned(ctx context.Context, from, to time.Time, limit int) ([]*models.Subscription, error)
	ClaimExpiryWarning(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseExpiryWarning(ctx context.Context, id string) error
	ListSoonestExpiring(ctx context.Context, limit int) ([]*models.Subscription, error)
	SuspendSubscription(ctx context.Context, id string, at time.Time) (bool, error)
	CountSubscriptionsByStatus(ctx context.Context) (map[types.SubscriptionStatus]int64, error)
	CountExpiringBetween(ctx context.Context, from, to time.Time) (int64, error)
}

type Service struct {
	cfg   *config.Config
	repo  Repository
	audit *audit.Service
	mail  email.Sender
	clock clock.Clock
	log   *zap.SugaredLogger
}

func NewService(cfg *config.Config, repo Repository, auditSvc *audit.Service, mail email.Sender, clk clock.Clock, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, repo: repo, audit: auditSvc, mail: mail, clock: clk, log: log}
}

// NewTrial builds the trial subscription stored together with a new handbook.
func NewTrial(id, userID, handbookID string, now time.Time) *models.Subscription {
	end := now.AddDate(0, 0, TrialDays)
	return &models.Subscription{
		ID:         id,
		UserID:     userID,
		HandbookID: handbookID,
		Status:     types.SubscriptionStatusTrial,
		PlanType:   "trial",
		ExpiresAt:  &end,
	}
}
