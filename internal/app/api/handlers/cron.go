package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/gdpr"
	"github.com/handbok-org/handbok/internal/app/service/maintenance"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/response"
)

type MaintenanceRunner interface {
	Run(ctx context.Context, trigger maintenance.Trigger) *maintenance.Report
}

type DeletionSweeper interface {
	ProcessScheduledDeletions(ctx context.Context) (*gdpr.SweepResult, error)
}

// cronAuth admits the scheduler's bearer secret, or the admin key when the
// request is marked manual. The unlocked trigger is kept on the context.
func cronAuth(cfg config.CronConfig, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		manual, _ := strconv.ParseBool(c.Query("manual"))
		cred := maintenance.CredentialFromRequest(c.GetHeader("Authorization"), c.GetHeader("x-api-key"), manual)
		trigger, ok := maintenance.Authorize(cfg, cred)
		if !ok {
			logctx.FromGin(c, log).Warnw("cron_unauthorized", "path", c.FullPath(), "manual", manual, "client_ip", c.ClientIP())
			response.Abort(c, response.APIResponseCodeUnauthorized, "unauthorized")
			return
		}
		c.Set("cronTrigger", trigger)
		c.Next()
	}
}

func cronTrigger(c *gin.Context) maintenance.Trigger {
	t, _ := c.Get("cronTrigger")
	trigger, _ := t.(maintenance.Trigger)
	return trigger
}

// @Summary      Run subscription maintenance
// @Description  Runs every maintenance step and returns the report. Step failures are listed in issues_found.
// @Tags         Cron
// @Produce      json
// @Param        manual query bool false "Manual trigger authorised by x-api-key"
// @Success      200  {object}  handlers.RespMaintenance
// @Failure      401  {object}  handlers.RespOK
// @Router       /api/cron/subscription-maintenance [post]
func ApiSubscriptionMaintenance(runner MaintenanceRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		// the run outlives a scheduler that gives up on the response
		report := runner.Run(logctx.Detach(c.Request.Context()), cronTrigger(c))
		response.OK(c, report)
	}
}

// @Summary      Process scheduled account deletions
// @Tags         Cron
// @Produce      json
// @Success      200  {object}  handlers.RespSweep
// @Failure      401  {object}  handlers.RespOK
// @Router       /api/cron/gdpr-deletions [post]
func ApiGDPRDeletionSweep(sweeper DeletionSweeper, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := sweeper.ProcessScheduledDeletions(logctx.Detach(c.Request.Context()))
		if err != nil {
			internalError(c, log, "gdpr_sweep_failed", err)
			return
		}
		response.OK(c, res)
	}
}

func RegisterCronRoutes(r gin.IRouter, cfg *config.Config, runner MaintenanceRunner, sweeper DeletionSweeper, log *zap.SugaredLogger) {
	g := r.Group("", cronAuth(cfg.Cron, log))
	for _, method := range []string{"GET", "POST"} {
		g.Handle(method, "/subscription-maintenance", ApiSubscriptionMaintenance(runner))
		g.Handle(method, "/gdpr-deletions", ApiGDPRDeletionSweep(sweeper, log))
	}
}
