package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store/memstore"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/types"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

const day = 24 * time.Hour

type fixture struct {
	svc  *Service
	mem  *memstore.MemoryStore
	mail *email.Recorder
	clk  *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memstore.New()
	mail := &email.Recorder{}
	clk := clock.NewFake(now)
	cfg := &config.Config{}
	cfg.Server.PublicURL = "https://www.handbok.org"
	cfg.Maintenance.WarningWindow = 3 * day
	log := zap.NewNop().Sugar()
	svc := NewService(cfg, mem, audit.New(mem, log), mail, clk, log)
	return &fixture{svc: svc, mem: mem, mail: mail, clk: clk}
}

func (f *fixture) handbook(id, owner string) {
	f.mem.PutHandbook(&models.Handbook{ID: id, Title: "Brf " + id, Subdomain: id, OwnerID: &owner})
	f.mem.PutProfile(&models.Profile{ID: owner, Email: owner + "@example.com"})
}

func (f *fixture) sub(id, handbookID string, status types.SubscriptionStatus, expires *time.Time) {
	f.mem.PutSubscription(&models.Subscription{
		ID: id, UserID: "owner-" + handbookID, HandbookID: handbookID, Status: status, ExpiresAt: expires, CreatedAt: now.Add(-30 * day),
	})
}

func TestClassify(t *testing.T) {
	trialHB := &models.Handbook{ID: "hb", IsTrial: true, TrialEndDate: at(10 * day)}
	endedTrialHB := &models.Handbook{ID: "hb", IsTrial: true, TrialEndDate: at(-day)}
	plainHB := &models.Handbook{ID: "hb"}

	cases := []struct {
		name string
		hb   *models.Handbook
		sub  *models.Subscription
		want types.SubscriptionStatus
		days *int
	}{
		{"no row, trial running", trialHB, nil, types.SubscriptionStatusTrial, intPtr(10)},
		{"no row, trial ended", endedTrialHB, nil, types.SubscriptionStatusExpired, intPtr(-1)},
		{"no row, no trial", plainHB, nil, types.SubscriptionStatusNone, nil},
		{"active future", plainHB, &models.Subscription{Status: types.SubscriptionStatusActive, ExpiresAt: at(40 * day)}, types.SubscriptionStatusActive, intPtr(40)},
		{"active open ended", plainHB, &models.Subscription{Status: types.SubscriptionStatusActive}, types.SubscriptionStatusActive, nil},
		{"active lapsed", plainHB, &models.Subscription{Status: types.SubscriptionStatusActive, ExpiresAt: at(-2 * day)}, types.SubscriptionStatusExpired, intPtr(-2)},
		{"trial row", plainHB, &models.Subscription{Status: types.SubscriptionStatusTrial, ExpiresAt: at(36 * time.Hour)}, types.SubscriptionStatusTrial, intPtr(2)},
		{"trial row falls back to handbook end", trialHB, &models.Subscription{Status: types.SubscriptionStatusTrial}, types.SubscriptionStatusTrial, intPtr(10)},
		{"cancelled passes through", plainHB, &models.Subscription{Status: types.SubscriptionStatusCancelled, ExpiresAt: at(5 * day)}, types.SubscriptionStatusCancelled, intPtr(5)},
		{"suspended passes through", plainHB, &models.Subscription{Status: types.SubscriptionStatusSuspended}, types.SubscriptionStatusSuspended, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := classify(tc.hb, tc.sub, now)
			require.Equal(t, tc.want, info.Status)
			require.Equal(t, tc.days, info.ExpiresInDays)
		})
	}
}

func intPtr(i int) *int { return &i }

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name    string
		info    *Info
		healthy bool
		action  types.HealthActionType
	}{
		{"active far out", &Info{Status: types.SubscriptionStatusActive, ExpiresInDays: intPtr(60), ExpiresAt: at(60 * day)}, true, types.HealthActionNone},
		{"active soon", &Info{Status: types.SubscriptionStatusActive, ExpiresInDays: intPtr(5), ExpiresAt: at(5 * day)}, true, types.HealthActionRenewalReminder},
		{"paid expired", &Info{Status: types.SubscriptionStatusExpired, ExpiresInDays: intPtr(-10), ExpiresAt: at(-10 * day)}, false, types.HealthActionRenewal},
		{"trial expired", &Info{Status: types.SubscriptionStatusExpired, IsTrial: true}, false, types.HealthActionUpgrade},
		{"trial ending", &Info{Status: types.SubscriptionStatusTrial, ExpiresInDays: intPtr(2)}, true, types.HealthActionUpgrade},
		{"trial fine", &Info{Status: types.SubscriptionStatusTrial, ExpiresInDays: intPtr(20)}, true, types.HealthActionNone},
		{"suspended", &Info{Status: types.SubscriptionStatusSuspended}, false, types.HealthActionReactivation},
		{"cancelled", &Info{Status: types.SubscriptionStatusCancelled}, false, types.HealthActionNone},
		{"none", &Info{Status: types.SubscriptionStatusNone}, false, types.HealthActionSubscribe},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hc := evaluate(tc.info, now)
			require.Equal(t, tc.healthy, hc.IsHealthy)
			require.Equal(t, tc.action, hc.ActionType)
			require.Equal(t, tc.action != types.HealthActionNone, hc.RequiresAction)
		})
	}
}

func TestPerformHealthCheckActivePastExpiry(t *testing.T) {
	f := newFixture(t)
	f.handbook("hb1", "owner-hb1")
	f.sub("s1", "hb1", types.SubscriptionStatusActive, at(-10*day))

	hc, err := f.svc.PerformHealthCheck(context.Background(), "owner-hb1", "hb1")
	require.NoError(t, err)
	require.False(t, hc.IsHealthy)
	require.True(t, hc.PastExpiry)
	require.Equal(t, types.HealthActionRenewal, hc.ActionType)
}

func TestBulkExpiryCheckIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.sub("s1", "hb1", types.SubscriptionStatusActive, at(-day))
	f.sub("s2", "hb2", types.SubscriptionStatusTrial, at(-time.Hour))
	f.sub("s3", "hb3", types.SubscriptionStatusActive, at(day))
	f.sub("s4", "hb4", types.SubscriptionStatusCancelled, at(-day))

	f.sub("s5", "hb5", types.SubscriptionStatusTrial, at(-3*day))

	first, err := f.svc.PerformBulkExpiryCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, &BulkCheckResult{Checked: 2, Updated: 2}, first)
	// lapsed paid rows wait for the health checks to suspend them
	require.Equal(t, types.SubscriptionStatusActive, f.mem.Subscription("s1").Status)
	require.Equal(t, types.SubscriptionStatusExpired, f.mem.Subscription("s2").Status)
	require.Equal(t, types.SubscriptionStatusExpired, f.mem.Subscription("s5").Status)
	require.Equal(t, types.SubscriptionStatusActive, f.mem.Subscription("s3").Status)

	second, err := f.svc.PerformBulkExpiryCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.Updated)
}

func TestBulkExpiryCheckIsolatesRowFailures(t *testing.T) {
	f := newFixture(t)
	f.sub("s1", "hb1", types.SubscriptionStatusTrial, at(-day))
	f.mem.FailOn("ExpireTrial", errors.New("deadlock"))

	res, err := f.svc.PerformBulkExpiryCheck(context.Background())
	require.NoError(t, err)
	require.Equal(t, &BulkCheckResult{Checked: 1, Errors: 1}, res)
}

func TestSendExpiryWarningsOncePerSubscription(t *testing.T) {
	f := newFixture(t)
	f.handbook("hb1", "owner-hb1")
	f.handbook("hb2", "owner-hb2")
	f.sub("s1", "hb1", types.SubscriptionStatusActive, at(2*day))
	f.sub("s2", "hb2", types.SubscriptionStatusTrial, at(10*day))

	res, err := f.svc.SendExpiryWarnings(context.Background())
	require.NoError(t, err)
	require.Equal(t, &WarningResult{WarningsSent: 1}, res)
	sent := f.mail.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, []string{"owner-hb1@example.com"}, sent[0].To)
	require.Contains(t, sent[0].HTML, "https://www.handbok.org/handbooks/hb1/billing")

	res, err = f.svc.SendExpiryWarnings(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.WarningsSent)
	require.Len(t, f.mail.Sent(), 1)
}

func TestSendExpiryWarningsReleasesClaimOnSendFailure(t *testing.T) {
	f := newFixture(t)
	f.handbook("hb1", "owner-hb1")
	f.sub("s1", "hb1", types.SubscriptionStatusActive, at(day))
	f.mail.SetErr(errors.New("provider down"))

	res, err := f.svc.SendExpiryWarnings(context.Background())
	require.NoError(t, err)
	require.Equal(t, &WarningResult{Errors: 1}, res)
	require.Nil(t, f.mem.Subscription("s1").LastWarningSentAt)

	f.mail.SetErr(nil)
	res, err = f.svc.SendExpiryWarnings(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.WarningsSent)
}

func TestSuspendIsConditional(t *testing.T) {
	f := newFixture(t)
	f.sub("s1", "hb1", types.SubscriptionStatusActive, at(-10*day))
	sub := f.mem.Subscription("s1")

	ok, err := f.svc.Suspend(context.Background(), sub, "expired")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.svc.Suspend(context.Background(), sub, "expired")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{audit.ActionSubscriptionSuspended}, f.mem.AuditActions())
}

func TestGetSubscriptionStats(t *testing.T) {
	f := newFixture(t)
	stats, err := f.svc.GetSubscriptionStats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Total)

	f.sub("s1", "hb1", types.SubscriptionStatusActive, at(3*day))
	f.sub("s2", "hb2", types.SubscriptionStatusTrial, at(20*day))
	f.sub("s3", "hb3", types.SubscriptionStatusExpired, at(-3*day))
	stats, err = f.svc.GetSubscriptionStats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Total)
	require.EqualValues(t, 1, stats.ActiveTrials)
	require.EqualValues(t, 1, stats.ExpiringWithin7Days)
}

func TestApplyBillingUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := now.AddDate(0, 1, 0)

	changed, err := f.svc.ApplyBillingUpdate(ctx, BillingUpdate{
		StripeSubscriptionID: "sub_1", HandbookID: "hb1", UserID: "u1",
		Status: types.SubscriptionStatusActive, PlanType: "monthly", CurrentPeriodEnd: &end,
	})
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = f.svc.ApplyBillingUpdate(ctx, BillingUpdate{StripeSubscriptionID: "sub_1", Status: types.SubscriptionStatusCancelled})
	require.NoError(t, err)
	require.True(t, changed)

	// replayed active event without payment keeps it cancelled
	changed, err = f.svc.ApplyBillingUpdate(ctx, BillingUpdate{StripeSubscriptionID: "sub_1", Status: types.SubscriptionStatusActive})
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = f.svc.ApplyBillingUpdate(ctx, BillingUpdate{StripeSubscriptionID: "sub_1", Status: types.SubscriptionStatusActive, Renewal: true})
	require.NoError(t, err)
	require.True(t, changed)

	_, err = f.svc.ApplyBillingUpdate(ctx, BillingUpdate{StripeSubscriptionID: "sub_unknown", Status: types.SubscriptionStatusActive})
	require.ErrorIs(t, err, ErrUnknownHandbook)

	require.Len(t, f.mem.SubLogs, 4)
	first, last := f.mem.SubLogs[0], f.mem.SubLogs[3]
	require.Nil(t, first.Before.Data())
	require.Equal(t, types.SubscriptionStatusActive, first.After.Data().Status)
	require.Equal(t, types.SubscriptionStatusCancelled, last.Before.Data().Status)
	require.Equal(t, types.SubscriptionChangeReasonRenewal, last.Reason)
}

func TestApplyBillingUpdateSurvivesLogFailure(t *testing.T) {
	f := newFixture(t)
	f.mem.FailOn("CreateSubscriptionLog", errors.New("db down"))
	changed, err := f.svc.ApplyBillingUpdate(context.Background(), BillingUpdate{
		StripeSubscriptionID: "sub_1", HandbookID: "hb1", Status: types.SubscriptionStatusActive,
	})
	require.NoError(t, err)
	require.True(t, changed)
}
