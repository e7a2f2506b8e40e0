package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/app/service/statistics"
	"github.com/handbok-org/handbok/internal/app/service/subscription"
	"github.com/handbok-org/handbok/internal/app/service/webhooklog"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/metrics"
	"github.com/handbok-org/handbok/pkg/tool"
	"github.com/handbok-org/handbok/pkg/types"
)

const (
	StepSubscriptionChecks = "subscription_checks"
	StepExpiryWarnings     = "expiry_warnings"
	StepHealthChecks       = "health_checks"
	StepStatistics         = "statistics"
	StepPerformance        = "performance"
	StepCleanup            = "cleanup"
	StepSummary            = "summary"
	StepCriticalAlert      = "critical_alert"

	suspendReason = "health_check_past_expiry"
)

type Subscriptions interface {
	PerformBulkExpiryCheck(ctx context.Context) (*subscription.BulkCheckResult, error)
	SendExpiryWarnings(ctx context.Context) (*subscription.WarningResult, error)
	ListSoonestExpiring(ctx context.Context, limit int) ([]*models.Subscription, error)
	PerformHealthCheck(ctx context.Context, userID, handbookID string) (*subscription.HealthCheck, error)
	Suspend(ctx context.Context, sub *models.Subscription, reason string) (bool, error)
	GetSubscriptionStats(ctx context.Context) (*subscription.Stats, error)
}

type Auditor interface {
	Log(ctx context.Context, e audit.Entry)
	DeleteLowRiskBefore(ctx context.Context, before time.Time) (int64, error)
}

type WebhookLogs interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type CacheClearer interface {
	ClearCache(userID string) int
}

type Snapshotter interface {
	SaveSubscriptionDailySnapshot(ctx context.Context, byStatus map[types.SubscriptionStatus]int64, day time.Time) error
}

type AlertQueue interface {
	CreateCriticalAlert(ctx context.Context, a *models.CriticalAlert) error
}

type Issue struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

type HealthReport struct {
	Checked        int      `json:"checked"`
	UnhealthyFound int      `json:"unhealthy_found"`
	Remediated     int      `json:"remediated"`
	Errors         int      `json:"errors"`
	Suspended      []string `json:"suspended,omitempty"`
}

type CleanupReport struct {
	WebhookLogsDeleted  int64 `json:"webhook_logs_deleted"`
	AuditLogsDeleted    int64 `json:"audit_logs_deleted"`
	CacheEntriesCleared int   `json:"cache_entries_cleared"`
}

type PerformanceReport struct {
	HeapAllocBytes uint64           `json:"heap_alloc_bytes"`
	SysBytes       uint64           `json:"sys_bytes"`
	NumGC          uint32           `json:"num_gc"`
	Goroutines     int              `json:"goroutines"`
	StepDurationMS map[string]int64 `json:"step_duration_ms"`
}

// Report is the outcome of one maintenance cycle. Sections of steps that
// failed stay nil; the failure is listed in IssuesFound instead.
type Report struct {
	RunID              string                        `json:"run_id"`
	Trigger            Trigger                       `json:"trigger"`
	StartedAt          time.Time                     `json:"started_at"`
	FinishedAt         time.Time                     `json:"finished_at"`
	DurationMS         int64                         `json:"duration_ms"`
	Success            bool                          `json:"success"`
	SubscriptionChecks *subscription.BulkCheckResult `json:"subscription_checks,omitempty"`
	ExpiryWarnings     *subscription.WarningResult   `json:"expiry_warnings,omitempty"`
	HealthChecks       *HealthReport                 `json:"health_checks,omitempty"`
	Statistics         *subscription.Stats           `json:"statistics,omitempty"`
	Performance        *PerformanceReport            `json:"performance,omitempty"`
	Cleanup            *CleanupReport                `json:"cleanup,omitempty"`
	IssuesFound        []Issue                       `json:"issues_found"`
	ActionsTaken       []string                      `json:"actions_taken"`
	AlertQueued        bool                          `json:"alert_queued"`
}

func (r *Report) issue(step string, err error) {
	r.IssuesFound = append(r.IssuesFound, Issue{Step: step, Error: err.Error()})
}

type step struct {
	name string
	run  func(ctx context.Context, r *Report) error
}

type Runner struct {
	cfg      *config.Config
	subs     Subscriptions
	audit    Auditor
	webhooks WebhookLogs
	cache    CacheClearer
	snaps    Snapshotter
	alerts   AlertQueue
	clock    clock.Clock
	log      *zap.SugaredLogger
}

func NewRunner(cfg *config.Config, subs Subscriptions, auditor Auditor, webhooks WebhookLogs, cache CacheClearer, snaps Snapshotter, alerts AlertQueue, clk clock.Clock, log *zap.SugaredLogger) *Runner {
	return &Runner{cfg: cfg, subs: subs, audit: auditor, webhooks: webhooks, cache: cache, snaps: snaps, alerts: alerts, clock: clk, log: log}
}

func (m *Runner) steps() []step {
	return []step{
		{StepSubscriptionChecks, m.subscriptionChecks},
		{StepExpiryWarnings, m.expiryWarnings},
		{StepHealthChecks, m.healthChecks},
		{StepStatistics, m.statistics},
		{StepPerformance, m.performance},
		{StepCleanup, m.cleanup},
	}
}

// Run executes every step in order. A failing step is recorded and the
// next one still runs; Run itself always returns a report.
func (m *Runner) Run(ctx context.Context, trigger Trigger) (report *Report) {
	l := logctx.FromCtx(ctx, m.log)
	started := time.Now()
	report = &Report{
		RunID:        tool.GenerateUUIDV7(),
		Trigger:      trigger,
		StartedAt:    m.clock.Now(),
		IssuesFound:  []Issue{},
		ActionsTaken: []string{},
	}
	timings := map[string]int64{}

	defer func() {
		if rec := recover(); rec != nil {
			l.Errorw("maintenance_fatal", "run_id", report.RunID, "panic", rec)
			report.issue("fatal", fmt.Errorf("%v", rec))
		}
		report.FinishedAt = m.clock.Now()
		report.DurationMS = time.Since(started).Milliseconds()
		report.Success = len(report.IssuesFound) == 0
		m.enqueueAlert(ctx, report)
		l.Infow("maintenance_completed", "run_id", report.RunID, "trigger", trigger, "issues", len(report.IssuesFound), "duration_ms", report.DurationMS)
	}()

	l.Infow("maintenance_started", "run_id", report.RunID, "trigger", trigger)
	for _, s := range m.steps() {
		if s.name == StepPerformance {
			report.Performance = &PerformanceReport{StepDurationMS: timings}
		}
		stepStart := time.Now()
		err := m.runStep(ctx, s, report)
		timings[s.name] = time.Since(stepStart).Milliseconds()
		metrics.ObserveMaintenanceStep(s.name, stepStart, err)
		if err != nil {
			l.Warnw("maintenance_step_failed", "run_id", report.RunID, "step", s.name, "err", err)
			report.issue(s.name, err)
		}
	}
	m.writeSummary(ctx, report)
	return report
}

func (m *Runner) runStep(ctx context.Context, s step, r *Report) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.run(ctx, r)
}

func (m *Runner) subscriptionChecks(ctx context.Context, r *Report) error {
	res, err := m.subs.PerformBulkExpiryCheck(ctx)
	if err != nil {
		return err
	}
	r.SubscriptionChecks = res
	if res.Updated > 0 {
		r.ActionsTaken = append(r.ActionsTaken, fmt.Sprintf("expired %d subscriptions", res.Updated))
	}
	return nil
}

func (m *Runner) expiryWarnings(ctx context.Context, r *Report) error {
	res, err := m.subs.SendExpiryWarnings(ctx)
	if err != nil {
		return err
	}
	r.ExpiryWarnings = res
	if res.WarningsSent > 0 {
		r.ActionsTaken = append(r.ActionsTaken, fmt.Sprintf("sent %d expiry warnings", res.WarningsSent))
	}
	return nil
}

// healthChecks suspends subscriptions that are unhealthy, past expiry and
// waiting on a renewal. It is the only state change made outside bookkeeping.
func (m *Runner) healthChecks(ctx context.Context, r *Report) error {
	subs, err := m.subs.ListSoonestExpiring(ctx, m.cfg.Maintenance.HealthCheckLimit)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	l := logctx.FromCtx(ctx, m.log)
	hr := &HealthReport{Checked: len(subs)}
	for _, sub := range subs {
		hc, err := m.subs.PerformHealthCheck(ctx, sub.UserID, sub.HandbookID)
		if err != nil {
			hr.Errors++
			l.Warnw("health_check_failed", "subscription_id", sub.ID, "err", err)
			continue
		}
		if hc.IsHealthy {
			continue
		}
		hr.UnhealthyFound++
		if !hc.PastExpiry || hc.ActionType != types.HealthActionRenewal {
			continue
		}
		ok, err := m.subs.Suspend(ctx, sub, suspendReason)
		if err != nil {
			hr.Errors++
			l.Warnw("health_check_suspend_failed", "subscription_id", sub.ID, "err", err)
			continue
		}
		if ok {
			hr.Remediated++
			hr.Suspended = append(hr.Suspended, sub.ID)
			r.ActionsTaken = append(r.ActionsTaken, "suspended subscription "+sub.ID)
		}
	}
	r.HealthChecks = hr
	if hr.Errors > 0 && hr.Errors == hr.Checked {
		return fmt.Errorf("all %d health checks failed", hr.Errors)
	}
	return nil
}

func (m *Runner) statistics(ctx context.Context, r *Report) error {
	stats, err := m.subs.GetSubscriptionStats(ctx)
	if err != nil {
		return err
	}
	r.Statistics = stats
	if err := m.snaps.SaveSubscriptionDailySnapshot(ctx, stats.ByStatus, m.clock.Now()); err != nil {
		return fmt.Errorf("save daily snapshot: %w", err)
	}
	return nil
}

func (m *Runner) performance(_ context.Context, r *Report) error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.Performance.HeapAllocBytes = ms.HeapAlloc
	r.Performance.SysBytes = ms.Sys
	r.Performance.NumGC = ms.NumGC
	r.Performance.Goroutines = runtime.NumGoroutine()
	return nil
}

// cleanup runs all three passes even when one fails and reports the first error.
func (m *Runner) cleanup(ctx context.Context, r *Report) error {
	now := m.clock.Now()
	c := &CleanupReport{}
	r.Cleanup = c
	var firstErr error

	n, err := m.webhooks.DeleteBefore(ctx, now.Add(-m.cfg.Maintenance.WebhookLogRetention))
	if err != nil {
		firstErr = fmt.Errorf("delete webhook logs: %w", err)
	}
	c.WebhookLogsDeleted = n

	n, err = m.audit.DeleteLowRiskBefore(ctx, now.Add(-m.cfg.Maintenance.AuditLogRetention))
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("delete audit logs: %w", err)
	}
	c.AuditLogsDeleted = n

	c.CacheEntriesCleared = m.cache.ClearCache("")
	return firstErr
}

func (m *Runner) writeSummary(ctx context.Context, r *Report) {
	issues := make([]string, 0, len(r.IssuesFound))
	for _, i := range r.IssuesFound {
		issues = append(issues, i.Step)
	}
	details := map[string]any{
		"run_id":        r.RunID,
		"trigger":       r.Trigger,
		"issues_found":  issues,
		"actions_taken": r.ActionsTaken,
	}
	if r.HealthChecks != nil {
		details["unhealthy_found"] = r.HealthChecks.UnhealthyFound
		details["remediated"] = r.HealthChecks.Remediated
	}
	m.audit.Log(ctx, audit.Entry{
		Action:       audit.ActionMaintenanceCompleted,
		ResourceType: "maintenance",
		ResourceID:   r.RunID,
		System:       true,
		Details:      details,
	})
}

func (m *Runner) enqueueAlert(ctx context.Context, r *Report) {
	if len(r.IssuesFound) <= m.cfg.Maintenance.AlertIssueThreshold {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"run_id":       r.RunID,
		"issues_found": r.IssuesFound,
		"started_at":   r.StartedAt,
	})
	if err != nil {
		payload = []byte("{}")
	}
	alert := &models.CriticalAlert{
		ID:       tool.GenerateUUIDV7(),
		Source:   "subscription_maintenance",
		Priority: types.RiskLevelHigh,
		Title:    fmt.Sprintf("Maintenance run finished with %d issues", len(r.IssuesFound)),
		Payload:  datatypes.JSON(payload),
		Status:   "queued",
	}
	if err := m.alerts.CreateCriticalAlert(ctx, alert); err != nil {
		logctx.FromCtx(ctx, m.log).Errorw("critical_alert_enqueue_failed", "run_id", r.RunID, "err", err)
		return
	}
	r.AlertQueued = true
}

var Module = fx.Options(
	fx.Provide(NewRunner),
	fx.Provide(func(s *subscription.Service) Subscriptions { return s }),
	fx.Provide(func(s *audit.Service) Auditor { return s }),
	fx.Provide(func(s *webhooklog.Service) WebhookLogs { return s }),
	fx.Provide(func(c *access.Checker) CacheClearer { return c }),
	fx.Provide(func(s *statistics.Service) Snapshotter { return s }),
	fx.Provide(func(s *store.Store) AlertQueue { return s }),
)
