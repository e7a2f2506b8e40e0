package gdpr

import (
	"context"
	"fmt"

	"github.com/handbok-org/handbok/pkg/logctx"
)

// StepResult is the outcome of one erasure step.
type StepResult struct {
	Name     string `json:"name"`
	Affected int64  `json:"affected"`
	Error    string `json:"error,omitempty"`
}

type ErasureReport struct {
	Steps []StepResult `json:"steps"`
}

type erasureStep struct {
	name string
	run  func(ctx context.Context, userID string) (int64, error)
}

// fullErasure lists the steps of a full deletion in execution order. Every step
// is idempotent, so a failed deletion can be re-run from the start. The auth
// identity goes last: once it is gone the user can no longer sign in to retry.
func (s *Service) fullErasure() []erasureStep {
	return []erasureStep{
		{"anonymize_owned_handbooks", s.repo.AnonymizeOwnedHandbooks},
		{"delete_memberships", s.repo.DeleteMemberships},
		{"anonymize_forum_content", s.repo.AnonymizeForumContent},
		{"anonymize_audit_logs", s.repo.AnonymizeAuditLogs},
		{"delete_exports", s.repo.DeleteExports},
		{"delete_consents", s.repo.DeleteConsents},
		{"delete_notification_preferences", s.repo.DeleteNotificationPreferences},
		{"delete_profile", s.repo.DeleteProfile},
		{"delete_auth_identity", s.deleteIdentity},
	}
}

func (s *Service) deleteIdentity(ctx context.Context, userID string) (int64, error) {
	if err := s.identity.DeleteUser(ctx, userID); err != nil {
		return 0, err
	}
	return 1, nil
}

// ExecuteFullDeletion erases or anonymises everything tied to the user. The
// first failing step stops the run; the report always lists what ran.
func (s *Service) ExecuteFullDeletion(ctx context.Context, userID string) (*ErasureReport, error) {
	l := logctx.FromCtx(ctx, s.log)
	report := &ErasureReport{}
	defer s.clearAccess(ctx, userID)

	for _, step := range s.fullErasure() {
		n, err := step.run(ctx, userID)
		res := StepResult{Name: step.name, Affected: n}
		if err != nil {
			res.Error = err.Error()
			report.Steps = append(report.Steps, res)
			l.Errorw("gdpr_erasure_step_failed", "user_id", userID, "step", step.name, "err", err)
			return report, fmt.Errorf("%s: %w", step.name, err)
		}
		report.Steps = append(report.Steps, res)
		l.Debugw("gdpr_erasure_step", "user_id", userID, "step", step.name, "affected", n)
	}
	return report, nil
}

// ExecutePartialDeletion leaves the named handbooks. Handbooks the user owns
// are deleted outright; memberships elsewhere are removed.
func (s *Service) ExecutePartialDeletion(ctx context.Context, userID string, handbookIDs []string) (*ErasureReport, error) {
	l := logctx.FromCtx(ctx, s.log)
	report := &ErasureReport{}
	defer s.clearAccess(ctx, userID)

	owned, err := s.repo.ListOwnedHandbooks(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("list owned handbooks: %w", err)
	}
	isOwner := make(map[string]bool, len(owned))
	for _, h := range owned {
		isOwner[h.ID] = true
	}

	for _, id := range handbookIDs {
		res := StepResult{Name: "leave_handbook:" + id}
		if isOwner[id] {
			res.Name = "delete_handbook:" + id
			err = s.repo.DeleteHandbook(ctx, id)
			if err == nil {
				res.Affected = 1
			}
		} else {
			var removed bool
			removed, err = s.repo.DeleteMembership(ctx, id, userID)
			if removed {
				res.Affected = 1
			}
		}
		if err != nil {
			res.Error = err.Error()
			report.Steps = append(report.Steps, res)
			l.Errorw("gdpr_partial_step_failed", "user_id", userID, "handbook_id", id, "err", err)
			return report, fmt.Errorf("%s: %w", res.Name, err)
		}
		report.Steps = append(report.Steps, res)
	}
	return report, nil
}

func (s *Service) clearAccess(ctx context.Context, userID string) {
	if s.access == nil {
		return
	}
	n := s.access.ClearCache(userID)
	logctx.FromCtx(ctx, s.log).Debugw("access_cache_cleared", "user_id", userID, "entries", n)
}
