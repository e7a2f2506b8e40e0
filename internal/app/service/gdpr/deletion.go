package gdpr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"

	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/metrics"
	"github.com/handbok-org/handbok/pkg/tool"
	"github.com/handbok-org/handbok/pkg/types"
)

type DeletionRequest struct {
	DeletionType types.DeletionType `json:"deletion_type" validate:"required,oneof=full partial"`
	Reason       string             `json:"reason" validate:"max=2000"`
	// Immediate skips the grace period and erases synchronously. Only
	// superadmins may set it.
	Immediate            bool     `json:"immediate"`
	HandbookIDs          []string `json:"handbook_ids" validate:"required_if=DeletionType partial,dive,required"`
	ConfirmUnderstanding bool     `json:"confirm_understanding"`
	// AcknowledgeOwnedHandbooks lets a full deletion proceed over handbooks the
	// user owns; they are anonymised, not transferred.
	AcknowledgeOwnedHandbooks bool `json:"acknowledge_owned_handbooks"`
}

type DeletionResponse struct {
	RequestID           string     `json:"request_id"`
	ScheduleID          string     `json:"schedule_id,omitempty"`
	Message             string     `json:"message"`
	Immediate           bool       `json:"immediate"`
	ScheduledDeletionAt *time.Time `json:"scheduled_deletion_at,omitempty"`
	CanCancelUntil      *time.Time `json:"can_cancel_until,omitempty"`
}

// RequestDeletion records a deletion request and either erases now or
// schedules erasure after the grace period.
func (s *Service) RequestDeletion(ctx context.Context, who Requester, req DeletionRequest) (*DeletionResponse, error) {
	l := logctx.FromCtx(ctx, s.log)
	if !req.ConfirmUnderstanding {
		return nil, ErrConfirmationRequired
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Immediate {
		if err := s.allowImmediate(ctx, who); err != nil {
			return nil, err
		}
	}

	existing, err := s.repo.FindActiveDeletionRequest(ctx, who.UserID)
	switch {
	case err == nil:
		return nil, conflictExisting(existing)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("check existing request: %w", err)
	}

	owned, err := s.repo.ListOwnedHandbooks(ctx, who.UserID)
	if err != nil {
		return nil, fmt.Errorf("list owned handbooks: %w", err)
	}
	memberships, err := s.repo.ListMemberHandbooks(ctx, who.UserID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	switch req.DeletionType {
	case types.DeletionTypeFull:
		if len(owned) > 0 && !req.AcknowledgeOwnedHandbooks {
			return nil, &ConflictError{
				Reason: ConflictOwnsHandbooks,
				OwnedHandbooks: lo.Map(owned, func(h *models.Handbook, _ int) HandbookRef {
					return HandbookRef{ID: h.ID, Title: h.Title, Subdomain: h.Subdomain}
				}),
				RequiresExplicitConfirmation: true,
			}
		}
		req.HandbookIDs = nil
	case types.DeletionTypePartial:
		known := lo.Map(owned, func(h *models.Handbook, _ int) string { return h.ID })
		known = append(known, lo.Map(memberships, func(m store.HandbookMembership, _ int) string { return m.Handbook.ID })...)
		if unknown, _ := lo.Difference(req.HandbookIDs, known); len(unknown) > 0 {
			return nil, fmt.Errorf("%w: not a member of handbook(s) %v", ErrInvalidRequest, unknown)
		}
		req.HandbookIDs = lo.Uniq(req.HandbookIDs)
	}

	now := s.clock.Now()
	details, _ := json.Marshal(models.DeletionDetails{
		DeletionType:   req.DeletionType,
		Reason:         req.Reason,
		Immediate:      req.Immediate,
		HandbookIDs:    req.HandbookIDs,
		OwnedHandbooks: len(owned),
		MemberOf:       len(memberships),
	})
	request := &models.GDPRRequest{
		ID:             tool.GenerateUUIDV7(),
		UserID:         who.UserID,
		RequestType:    types.GDPRRequestTypeDeletion,
		Status:         types.GDPRRequestStatusPending,
		RequestDetails: datatypes.JSON(details),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateGDPRRequest(ctx, request); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// lost the race against a concurrent request from the same user
			if existing, ferr := s.repo.FindActiveDeletionRequest(ctx, who.UserID); ferr == nil {
				return nil, conflictExisting(existing)
			}
			return nil, &ConflictError{Reason: ConflictRequestExists}
		}
		return nil, fmt.Errorf("create gdpr request: %w", err)
	}
	metrics.IncGDPRRequest(string(types.GDPRRequestTypeDeletion), "accepted")
	s.audit.Log(ctx, audit.Entry{
		UserID:       who.UserID,
		UserEmail:    who.Email,
		Action:       audit.ActionGDPRDeletionRequested,
		ResourceType: "gdpr_request",
		ResourceID:   request.ID,
		Risk:         types.RiskLevelHigh,
		IP:           who.IP,
		Details:      map[string]any{"deletion_type": req.DeletionType, "immediate": req.Immediate, "handbook_ids": req.HandbookIDs},
	})
	l.Infow("gdpr_deletion_requested", "request_id", request.ID, "deletion_type", req.DeletionType, "immediate", req.Immediate)

	resp := &DeletionResponse{RequestID: request.ID, Immediate: req.Immediate}
	if req.Immediate {
		if err := s.executeRequest(ctx, request.ID, who.UserID, who.Email, req.DeletionType, req.HandbookIDs); err != nil {
			return nil, err
		}
		resp.Message = "Din begäran har genomförts och dina uppgifter har raderats."
	} else {
		sched, err := s.schedule(ctx, request, who, req, now)
		if err != nil {
			if _, terr := s.repo.TransitionGDPRRequest(ctx, request.ID, []types.GDPRRequestStatus{types.GDPRRequestStatusPending}, types.GDPRRequestStatusFailed, s.clock.Now()); terr != nil {
				l.Errorw("gdpr_request_mark_failed_failed", "request_id", request.ID, "err", terr)
			}
			return nil, err
		}
		resp.ScheduleID = sched.ID
		resp.ScheduledDeletionAt = &sched.ScheduledDeletionAt
		resp.CanCancelUntil = &sched.CanCancelUntil
		resp.Message = fmt.Sprintf("Ditt konto raderas %s. Du kan ångra dig fram till %s.",
			sched.ScheduledDeletionAt.Format("2006-01-02"), sched.CanCancelUntil.Format("2006-01-02"))
	}

	s.sendConfirmation(ctx, who, req.Immediate, resp)
	return resp, nil
}

func conflictExisting(r *models.GDPRRequest) *ConflictError {
	return &ConflictError{
		Reason:          ConflictRequestExists,
		ExistingRequest: &ExistingRequest{ID: r.ID, Status: r.Status, CreatedAt: r.CreatedAt},
	}
}

func (s *Service) schedule(ctx context.Context, request *models.GDPRRequest, who Requester, req DeletionRequest, now time.Time) (*models.AccountDeletion, error) {
	scheduled := now.Add(s.gracePeriod())
	sched := &models.AccountDeletion{
		ID:                  tool.GenerateUUIDV7(),
		UserID:              who.UserID,
		UserEmail:           who.Email,
		RequestID:           request.ID,
		Status:              types.AccountDeletionStatusPending,
		DeletionType:        req.DeletionType,
		HandbookIDs:         datatypes.JSONSlice[string](req.HandbookIDs),
		Reason:              req.Reason,
		ScheduledDeletionAt: scheduled,
		CanCancelUntil:      scheduled.Add(-24 * time.Hour),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.CreateAccountDeletion(ctx, sched); err != nil {
		return nil, fmt.Errorf("schedule deletion: %w", err)
	}
	return sched, nil
}

func (s *Service) sendConfirmation(ctx context.Context, who Requester, immediate bool, resp *DeletionResponse) {
	to := who.Email
	if to == "" {
		return
	}
	var scheduled, cancelUntil time.Time
	if resp.ScheduledDeletionAt != nil {
		scheduled, cancelUntil = *resp.ScheduledDeletionAt, *resp.CanCancelUntil
	}
	if err := s.mail.Send(ctx, email.DeletionConfirmation(to, immediate, scheduled, cancelUntil)); err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("gdpr_confirmation_email_failed", "request_id", resp.RequestID, "err", err)
	}
}

// allowImmediate reads the flag from the profile, never from the request.
func (s *Service) allowImmediate(ctx context.Context, who Requester) error {
	profile, err := s.repo.GetProfile(ctx, who.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrImmediateNotAllowed
	}
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if !profile.IsSuperadmin {
		logctx.FromCtx(ctx, s.log).Warnw("gdpr_immediate_deletion_refused", "user_id", who.UserID)
		return ErrImmediateNotAllowed
	}
	return nil
}

// executeRequest claims the request, erases and records the outcome. A
// request left failed by an earlier attempt can be claimed again; every
// erasure step tolerates rows that are already gone.
func (s *Service) executeRequest(ctx context.Context, requestID, userID, userEmail string, kind types.DeletionType, handbookIDs []string) error {
	l := logctx.FromCtx(ctx, s.log)
	claimed, err := s.repo.TransitionGDPRRequest(ctx, requestID,
		[]types.GDPRRequestStatus{types.GDPRRequestStatusPending, types.GDPRRequestStatusFailed},
		types.GDPRRequestStatusInProgress, s.clock.Now())
	if err != nil {
		return fmt.Errorf("claim request: %w", err)
	}
	if !claimed {
		return ErrDeletionInProgress
	}

	l.Infow("gdpr_deletion_started", "request_id", requestID, "deletion_type", kind)
	var report *ErasureReport
	if kind == types.DeletionTypePartial {
		report, err = s.ExecutePartialDeletion(ctx, userID, handbookIDs)
	} else {
		report, err = s.ExecuteFullDeletion(ctx, userID)
	}

	final := types.GDPRRequestStatusCompleted
	action := audit.ActionGDPRDeletionExecuted
	details := map[string]any{"deletion_type": kind, "steps": report.Steps}
	if err != nil {
		final, action = types.GDPRRequestStatusFailed, audit.ActionGDPRDeletionFailed
		details["error"] = err.Error()
		l.Errorw("gdpr_deletion_failed", "request_id", requestID, "err", err)
		metrics.IncGDPRRequest(string(types.GDPRRequestTypeDeletion), "failed")
	} else {
		l.Infow("gdpr_deletion_completed", "request_id", requestID)
		metrics.IncGDPRRequest(string(types.GDPRRequestTypeDeletion), "executed")
	}
	if _, terr := s.repo.TransitionGDPRRequest(ctx, requestID,
		[]types.GDPRRequestStatus{types.GDPRRequestStatusInProgress}, final, s.clock.Now()); terr != nil {
		l.Errorw("gdpr_request_finalize_failed", "request_id", requestID, "err", terr)
	}
	// the user id is kept on the entry; the email was scrubbed with the rest
	auditEmail := userEmail
	if err == nil && kind == types.DeletionTypeFull {
		auditEmail = ""
	}
	s.audit.Log(ctx, audit.Entry{
		UserID:       userID,
		UserEmail:    auditEmail,
		Action:       action,
		ResourceType: "gdpr_request",
		ResourceID:   requestID,
		Risk:         types.RiskLevelHigh,
		Details:      details,
	})
	return err
}

// CancelDeletion withdraws the caller's pending deletion while the
// cancellation window is open.
func (s *Service) CancelDeletion(ctx context.Context, who Requester) (*ExistingRequest, error) {
	req, err := s.repo.FindActiveDeletionRequest(ctx, who.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoActiveDeletion
	}
	if err != nil {
		return nil, fmt.Errorf("find request: %w", err)
	}
	if req.Status == types.GDPRRequestStatusInProgress {
		return nil, ErrDeletionInProgress
	}

	now := s.clock.Now()
	sched, err := s.repo.GetOpenAccountDeletion(ctx, who.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find schedule: %w", err)
	}
	if sched != nil {
		if now.After(sched.CanCancelUntil) {
			return nil, ErrCancelWindowClosed
		}
		ok, err := s.repo.TransitionAccountDeletion(ctx, sched.ID, sched.Status, types.AccountDeletionStatusCancelled, now)
		if err != nil {
			return nil, fmt.Errorf("cancel schedule: %w", err)
		}
		if !ok {
			return nil, ErrDeletionInProgress
		}
	}
	ok, err := s.repo.TransitionGDPRRequest(ctx, req.ID,
		[]types.GDPRRequestStatus{types.GDPRRequestStatusPending}, types.GDPRRequestStatusCancelled, now)
	if err != nil {
		return nil, fmt.Errorf("cancel request: %w", err)
	}
	if !ok {
		return nil, ErrDeletionInProgress
	}
	s.audit.Log(ctx, audit.Entry{
		UserID:       who.UserID,
		UserEmail:    who.Email,
		Action:       audit.ActionGDPRDeletionCancelled,
		ResourceType: "gdpr_request",
		ResourceID:   req.ID,
		Risk:         types.RiskLevelMedium,
		IP:           who.IP,
	})
	metrics.IncGDPRRequest(string(types.GDPRRequestTypeDeletion), "cancelled")
	return &ExistingRequest{ID: req.ID, Status: types.GDPRRequestStatusCancelled, CreatedAt: req.CreatedAt}, nil
}
