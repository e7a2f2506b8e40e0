package gdpr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/types"
)

const sweepBatch = 500

// warning stages by whole days elapsed since the deletion was scheduled,
// latest first
var warningStages = []struct {
	afterDays int
	status    types.AccountDeletionStatus
}{
	{89, types.AccountDeletionStatusWarned89},
	{85, types.AccountDeletionStatusWarned85},
	{75, types.AccountDeletionStatusWarned75},
}

func stageRank(s types.AccountDeletionStatus) int {
	switch s {
	case types.AccountDeletionStatusWarned75:
		return 1
	case types.AccountDeletionStatusWarned85:
		return 2
	case types.AccountDeletionStatusWarned89:
		return 3
	default:
		return 0
	}
}

type SweepResult struct {
	Checked  int      `json:"checked"`
	Warned   int      `json:"warned"`
	Executed int      `json:"executed"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// ProcessScheduledDeletions sends the staged warnings and executes deletions
// whose grace period has run out. A failing row never stops the sweep.
func (s *Service) ProcessScheduledDeletions(ctx context.Context) (*SweepResult, error) {
	l := logctx.FromCtx(ctx, s.log)
	rows, err := s.repo.ListOpenAccountDeletions(ctx, sweepBatch)
	if err != nil {
		return nil, fmt.Errorf("list scheduled deletions: %w", err)
	}
	res := &SweepResult{Checked: len(rows)}
	for _, d := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		now := s.clock.Now()
		if !now.Before(d.ScheduledDeletionAt) {
			if err := s.executeScheduled(ctx, d); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", d.ID, err))
				continue
			}
			res.Executed++
			continue
		}
		sent, err := s.warn(ctx, d, now)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", d.ID, err))
			continue
		}
		if sent {
			res.Warned++
		}
	}
	l.Infow("gdpr_sweep_completed", "checked", res.Checked, "warned", res.Warned, "executed", res.Executed, "failed", res.Failed)
	return res, nil
}

func (s *Service) warn(ctx context.Context, d *models.AccountDeletion, now time.Time) (bool, error) {
	days := int(now.Sub(d.CreatedAt) / (24 * time.Hour))
	var target types.AccountDeletionStatus
	for _, st := range warningStages {
		if days >= st.afterDays {
			target = st.status
			break
		}
	}
	if target == "" || stageRank(target) <= stageRank(d.Status) {
		return false, nil
	}
	ok, err := s.repo.TransitionAccountDeletion(ctx, d.ID, d.Status, target, now)
	if err != nil {
		return false, fmt.Errorf("advance to %s: %w", target, err)
	}
	if !ok || d.UserEmail == "" {
		return ok, nil
	}
	daysLeft := int(math.Ceil(d.ScheduledDeletionAt.Sub(now).Hours() / 24))
	cancelURL := strings.TrimRight(s.cfg.Server.PublicURL, "/") + "/account/delete"
	if err := s.mail.Send(ctx, email.DeletionWarning(d.UserEmail, daysLeft, d.ScheduledDeletionAt, cancelURL)); err != nil {
		// the stage is already recorded; a lost warning is not retried
		logctx.FromCtx(ctx, s.log).Warnw("gdpr_deletion_warning_email_failed", "schedule_id", d.ID, "stage", target, "err", err)
	}
	return true, nil
}

func (s *Service) executeScheduled(ctx context.Context, d *models.AccountDeletion) error {
	err := s.executeRequest(ctx, d.RequestID, d.UserID, d.UserEmail, d.DeletionType, d.HandbookIDs)
	if errors.Is(err, ErrDeletionInProgress) {
		return err
	}
	now := s.clock.Now()
	var terr error
	if err != nil {
		// stays in the sweep set until the attempts run out
		_, terr = s.repo.FailAccountDeletion(ctx, d.ID, d.Status, err.Error(), now)
		if d.Attempts+1 >= store.MaxDeletionAttempts {
			logctx.FromCtx(ctx, s.log).Errorw("gdpr_schedule_attempts_exhausted", "schedule_id", d.ID, "attempts", d.Attempts+1, "err", err)
		}
	} else {
		_, terr = s.repo.TransitionAccountDeletion(ctx, d.ID, d.Status, types.AccountDeletionStatusExecuted, now)
	}
	if terr != nil {
		logctx.FromCtx(ctx, s.log).Errorw("gdpr_schedule_finalize_failed", "schedule_id", d.ID, "err", terr)
	}
	return err
}
