package maintenance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/app/service/subscription"
	"github.com/handbok-org/handbok/internal/app/service/webhooklog"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store/memstore"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/types"
)

var now = time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fixture struct {
	runner *Runner
	mem    *memstore.MemoryStore
	subs   *subscription.Service
	cache  *access.Cache
	snaps  *fakeSnapshots
	clk    *clock.Fake
}

type fakeSnapshots struct {
	days []string
	err  error
}

func (f *fakeSnapshots) SaveSubscriptionDailySnapshot(_ context.Context, _ map[types.SubscriptionStatus]int64, day time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.days = append(f.days, day.Format(time.DateOnly))
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.PublicURL = "https://www.handbok.org"
	cfg.Maintenance.HealthCheckLimit = 50
	cfg.Maintenance.WarningWindow = 3 * day
	cfg.Maintenance.WebhookLogRetention = 30 * day
	cfg.Maintenance.AuditLogRetention = 90 * day
	cfg.Maintenance.AlertIssueThreshold = 3
	return cfg
}

func newFixture(t *testing.T, wrap func(Subscriptions) Subscriptions) *fixture {
	t.Helper()
	mem := memstore.New()
	clk := clock.NewFake(now)
	cfg := testConfig()
	log := zap.NewNop().Sugar()
	auditSvc := audit.New(mem, log)
	subs := subscription.NewService(cfg, mem, auditSvc, &email.Recorder{}, clk, log)
	cache := access.NewCache(5*time.Minute, clk)
	checker := access.NewChecker(mem, subs, cache, log)

	var s Subscriptions = subs
	if wrap != nil {
		s = wrap(subs)
	}
	snaps := &fakeSnapshots{}
	r := NewRunner(cfg, s, auditSvc, webhooklog.New(mem, log), checker, snaps, mem, clk, log)
	return &fixture{runner: r, mem: mem, subs: subs, cache: cache, snaps: snaps, clk: clk}
}

func (f *fixture) seed(id string, status types.SubscriptionStatus, expires time.Time) {
	owner := "owner-" + id
	f.mem.PutHandbook(&models.Handbook{ID: "hb-" + id, Title: "Brf " + id, Subdomain: "brf-" + id, OwnerID: &owner})
	f.mem.PutProfile(&models.Profile{ID: owner, Email: owner + "@example.com"})
	f.mem.PutSubscription(&models.Subscription{
		ID: id, UserID: owner, HandbookID: "hb-" + id, Status: status, ExpiresAt: &expires, CreatedAt: now.Add(-100 * day),
	})
}

type panickingHealth struct{ Subscriptions }

func (panickingHealth) PerformHealthCheck(context.Context, string, string) (*subscription.HealthCheck, error) {
	panic("nil map")
}

type failing struct {
	Subscriptions
	err error
}

func (f failing) PerformBulkExpiryCheck(context.Context) (*subscription.BulkCheckResult, error) {
	return nil, f.err
}

func (f failing) SendExpiryWarnings(context.Context) (*subscription.WarningResult, error) {
	return nil, f.err
}

func (f failing) ListSoonestExpiring(context.Context, int) ([]*models.Subscription, error) {
	return nil, f.err
}

func (f failing) GetSubscriptionStats(context.Context) (*subscription.Stats, error) {
	return nil, f.err
}

func TestRunAllStepsSucceed(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("lapsed", types.SubscriptionStatusActive, now.Add(-2*day))
	f.seed("ended-trial", types.SubscriptionStatusTrial, now.Add(-day))
	f.seed("soon", types.SubscriptionStatusActive, now.Add(2*day))
	f.seed("fine", types.SubscriptionStatusActive, now.Add(60*day))
	f.mem.PutWebhookLog(&models.WebhookLog{ID: "old", CreatedAt: now.Add(-40 * day)})
	f.cache.Set("u1", "hb-fine", access.Result{HasAccess: true})

	report := f.runner.Run(context.Background(), TriggerCron)

	require.True(t, report.Success, report.IssuesFound)
	require.Empty(t, report.IssuesFound)
	require.Equal(t, 1, report.SubscriptionChecks.Updated)
	require.Equal(t, 1, report.ExpiryWarnings.WarningsSent)
	require.Equal(t, types.SubscriptionStatusExpired, f.mem.Subscription("ended-trial").Status)
	require.Equal(t, 3, report.HealthChecks.Checked)
	require.Equal(t, []string{"lapsed"}, report.HealthChecks.Suspended)
	require.NotNil(t, report.Statistics)
	require.EqualValues(t, 4, report.Statistics.Total)
	require.Equal(t, []string{"2026-05-04"}, f.snaps.days)
	require.Positive(t, report.Performance.Goroutines)
	require.Contains(t, report.Performance.StepDurationMS, StepHealthChecks)
	require.Equal(t, 1, report.Cleanup.CacheEntriesCleared)
	require.Zero(t, f.cache.Len())
	require.NotContains(t, f.mem.WebhookLogs, "old")
	require.Contains(t, f.mem.AuditActions(), audit.ActionMaintenanceCompleted)
	require.False(t, report.AlertQueued)
	require.Zero(t, f.mem.AlertCount())
}

func TestRunHealthStepFailureIsIsolated(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("ended-trial", types.SubscriptionStatusTrial, now.Add(-2*day))
	f.mem.FailOn("ListSoonestExpiring", errors.New("connection reset"))

	report := f.runner.Run(context.Background(), TriggerCron)

	require.False(t, report.Success)
	require.NotNil(t, report.SubscriptionChecks)
	require.Equal(t, 1, report.SubscriptionChecks.Updated)
	require.NotNil(t, report.ExpiryWarnings)
	require.Nil(t, report.HealthChecks)
	require.Len(t, report.IssuesFound, 1)
	require.Equal(t, StepHealthChecks, report.IssuesFound[0].Step)
	require.Contains(t, report.IssuesFound[0].Error, "connection reset")
	// later steps still ran
	require.NotNil(t, report.Statistics)
	require.NotNil(t, report.Cleanup)
	require.Contains(t, f.mem.AuditActions(), audit.ActionMaintenanceCompleted)
}

func TestRunSnapshotFailureKeepsStatistics(t *testing.T) {
	f := newFixture(t, nil)
	f.snaps.err = errors.New("db down")

	report := f.runner.Run(context.Background(), TriggerCron)

	require.Len(t, report.IssuesFound, 1)
	require.Equal(t, StepStatistics, report.IssuesFound[0].Step)
	require.NotNil(t, report.Statistics)
}

func TestRunRecoversStepPanic(t *testing.T) {
	f := newFixture(t, func(s Subscriptions) Subscriptions { return panickingHealth{s} })
	f.seed("soon", types.SubscriptionStatusActive, now.Add(2*day))

	report := f.runner.Run(context.Background(), TriggerManual)

	require.Len(t, report.IssuesFound, 1)
	require.Equal(t, StepHealthChecks, report.IssuesFound[0].Step)
	require.Contains(t, report.IssuesFound[0].Error, "panic")
	require.NotNil(t, report.Statistics)
}

func TestRunQueuesCriticalAlertAboveThreshold(t *testing.T) {
	f := newFixture(t, func(s Subscriptions) Subscriptions { return failing{s, errors.New("db down")} })

	report := f.runner.Run(context.Background(), TriggerCron)

	require.Len(t, report.IssuesFound, 4)
	require.True(t, report.AlertQueued)
	require.Equal(t, 1, f.mem.AlertCount())
	require.Equal(t, types.RiskLevelHigh, f.mem.Alerts[0].Priority)
}

func TestRunAlertFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, func(s Subscriptions) Subscriptions { return failing{s, errors.New("db down")} })
	f.mem.FailOn("CreateCriticalAlert", errors.New("queue full"))

	report := f.runner.Run(context.Background(), TriggerCron)

	require.Len(t, report.IssuesFound, 4)
	require.False(t, report.AlertQueued)
}

func TestHealthChecksSuspendOnlyLapsedRenewals(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 49; i++ {
		f.seed(fmt.Sprintf("ok-%02d", i), types.SubscriptionStatusActive, now.Add(time.Duration(30+i)*day))
	}
	f.seed("lapsed", types.SubscriptionStatusActive, now.Add(-10*day))

	report := &Report{}
	require.NoError(t, f.runner.healthChecks(context.Background(), report))

	require.Equal(t, 50, report.HealthChecks.Checked)
	require.GreaterOrEqual(t, report.HealthChecks.UnhealthyFound, 1)
	require.GreaterOrEqual(t, report.HealthChecks.Remediated, 1)
	require.Equal(t, []string{"lapsed"}, report.HealthChecks.Suspended)
	require.Equal(t, types.SubscriptionStatusSuspended, f.mem.Subscription("lapsed").Status)
	for i := 0; i < 49; i++ {
		require.Equal(t, types.SubscriptionStatusActive, f.mem.Subscription(fmt.Sprintf("ok-%02d", i)).Status)
	}
	require.Contains(t, f.mem.AuditActions(), audit.ActionSubscriptionSuspended)
}

func TestRunSuspendsLapsedRenewal(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 49; i++ {
		f.seed(fmt.Sprintf("ok-%02d", i), types.SubscriptionStatusActive, now.Add(time.Duration(30+i)*day))
	}
	f.seed("lapsed", types.SubscriptionStatusActive, now.Add(-10*day))

	report := f.runner.Run(context.Background(), TriggerCron)

	require.Empty(t, report.IssuesFound)
	require.Zero(t, report.SubscriptionChecks.Updated)
	require.Equal(t, 50, report.HealthChecks.Checked)
	require.GreaterOrEqual(t, report.HealthChecks.UnhealthyFound, 1)
	require.GreaterOrEqual(t, report.HealthChecks.Remediated, 1)
	require.Equal(t, []string{"lapsed"}, report.HealthChecks.Suspended)
	require.Equal(t, types.SubscriptionStatusSuspended, f.mem.Subscription("lapsed").Status)
	require.Contains(t, report.ActionsTaken, "suspended subscription lapsed")

	again := f.runner.Run(context.Background(), TriggerCron)
	require.Empty(t, again.HealthChecks.Suspended)
}

func TestHealthChecksSkipExpiredTrials(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("trial", types.SubscriptionStatusTrial, now.Add(-3*day))

	report := &Report{}
	require.NoError(t, f.runner.healthChecks(context.Background(), report))
	require.Equal(t, 1, report.HealthChecks.UnhealthyFound)
	require.Zero(t, report.HealthChecks.Remediated)
	require.Equal(t, types.SubscriptionStatusTrial, f.mem.Subscription("trial").Status)
}

func TestAuthorize(t *testing.T) {
	cfg := config.CronConfig{Secret: "cron-secret", SecretToken: "legacy-token", AdminAPIKey: "admin-key"}

	cases := []struct {
		name        string
		auth        string
		apiKey      string
		manual      bool
		wantOK      bool
		wantTrigger Trigger
	}{
		{"cron secret", "Bearer cron-secret", "", false, true, TriggerCron},
		{"legacy secret", "Bearer legacy-token", "", false, true, TriggerCron},
		{"wrong bearer", "Bearer nope", "", false, false, ""},
		{"missing bearer prefix", "cron-secret", "", false, false, ""},
		{"admin key without manual flag", "", "admin-key", false, false, ""},
		{"admin key with manual flag", "", "admin-key", true, true, TriggerManual},
		{"cron secret with manual flag", "Bearer cron-secret", "", true, false, ""},
		{"cron secret as admin key", "", "cron-secret", true, false, ""},
		{"nothing", "", "", false, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trigger, ok := Authorize(cfg, CredentialFromRequest(tc.auth, tc.apiKey, tc.manual))
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantTrigger, trigger)
		})
	}
}

func TestAuthorizeUnconfiguredSecretsRejectEverything(t *testing.T) {
	cfg := config.CronConfig{}
	_, ok := Authorize(cfg, CronToken(""))
	require.False(t, ok)
	_, ok = Authorize(cfg, AdminKey(""))
	require.False(t, ok)
}
