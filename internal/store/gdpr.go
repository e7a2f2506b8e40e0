package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/pkg/types"
)

var activeDeletionStatuses = []types.GDPRRequestStatus{types.GDPRRequestStatusPending, types.GDPRRequestStatusInProgress}

// FindActiveDeletionRequest returns the user's pending or in-progress deletion request.
func (s *Store) FindActiveDeletionRequest(ctx context.Context, userID string) (*models.GDPRRequest, error) {
	var r models.GDPRRequest
	err := s.first(ctx, &r, "user_id = ? AND request_type = ? AND status IN ?",
		userID, types.GDPRRequestTypeDeletion, activeDeletionStatuses)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateGDPRRequest inserts a request. A second active deletion request for the
// same user fails with ErrDuplicate.
func (s *Store) CreateGDPRRequest(ctx context.Context, r *models.GDPRRequest) error {
	return translate(s.db.WithContext(ctx).Create(r).Error)
}

func (s *Store) GetGDPRRequest(ctx context.Context, id string) (*models.GDPRRequest, error) {
	var r models.GDPRRequest
	if err := s.first(ctx, &r, "id = ?", id); err != nil {
		return nil, err
	}
	return &r, nil
}

// TransitionGDPRRequest moves a request from one of from to to.
func (s *Store) TransitionGDPRRequest(ctx context.Context, id string, from []types.GDPRRequestStatus, to types.GDPRRequestStatus, at time.Time) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": at}
	if to == types.GDPRRequestStatusCompleted || to == types.GDPRRequestStatusFailed || to == types.GDPRRequestStatusCancelled {
		updates["processed_at"] = at
	}
	res := s.db.WithContext(ctx).Model(&models.GDPRRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, translate(res.Error)
}

func (s *Store) ListGDPRRequests(ctx context.Context, userID string) ([]*models.GDPRRequest, error) {
	var out []*models.GDPRRequest
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error
	return out, translate(err)
}

func (s *Store) CreateAccountDeletion(ctx context.Context, d *models.AccountDeletion) error {
	return translate(s.db.WithContext(ctx).Create(d).Error)
}

var openDeletionStatuses = []types.AccountDeletionStatus{
	types.AccountDeletionStatusPending,
	types.AccountDeletionStatusWarned75,
	types.AccountDeletionStatusWarned85,
	types.AccountDeletionStatusWarned89,
}

// GetOpenAccountDeletion returns the user's scheduled deletion that has not run yet.
func (s *Store) GetOpenAccountDeletion(ctx context.Context, userID string) (*models.AccountDeletion, error) {
	var d models.AccountDeletion
	if err := s.first(ctx, &d, "user_id = ? AND status IN ?", userID, openDeletionStatuses); err != nil {
		return nil, err
	}
	return &d, nil
}

// MaxDeletionAttempts bounds how often the sweep retries a failed erasure.
const MaxDeletionAttempts = 5

// ListOpenAccountDeletions returns the rows the sweep still has to act on:
// open schedules plus failed erasures with attempts left.
func (s *Store) ListOpenAccountDeletions(ctx context.Context, limit int) ([]*models.AccountDeletion, error) {
	var out []*models.AccountDeletion
	err := s.db.WithContext(ctx).
		Where("status IN ? OR (status = ? AND attempts < ?)",
			openDeletionStatuses, types.AccountDeletionStatusFailed, MaxDeletionAttempts).
		Order("scheduled_deletion_at").
		Limit(limit).
		Find(&out).Error
	return out, translate(err)
}

func (s *Store) TransitionAccountDeletion(ctx context.Context, id string, from, to types.AccountDeletionStatus, at time.Time) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": at}
	switch to {
	case types.AccountDeletionStatusExecuted:
		updates["executed_at"] = at
	case types.AccountDeletionStatusCancelled:
		updates["cancelled_at"] = at
	}
	res := s.db.WithContext(ctx).Model(&models.AccountDeletion{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, translate(res.Error)
}

// FailAccountDeletion marks the schedule failed and counts the attempt.
func (s *Store) FailAccountDeletion(ctx context.Context, id string, from types.AccountDeletionStatus, reason string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.AccountDeletion{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     types.AccountDeletionStatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
			"updated_at": at,
		})
	return res.RowsAffected > 0, translate(res.Error)
}

func (s *Store) CreateExport(ctx context.Context, e *models.GDPRExport) error {
	return translate(s.db.WithContext(ctx).Create(e).Error)
}

func (s *Store) GetExportByToken(ctx context.Context, token string) (*models.GDPRExport, error) {
	var e models.GDPRExport
	if err := s.first(ctx, &e, "download_token = ?", token); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ExpireExport(ctx context.Context, id string) error {
	return translate(s.db.WithContext(ctx).Model(&models.GDPRExport{}).
		Where("id = ? AND status = ?", id, types.ExportStatusReady).
		Update("status", types.ExportStatusExpired).Error)
}

// ClaimExportDownload counts one download if the export is still ready and
// under its limit. Concurrent callers can never exceed max_downloads.
func (s *Store) ClaimExportDownload(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE gdpr_exports SET download_count = download_count + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND download_count < max_downloads AND expires_at > ?`,
		now, id, types.ExportStatusReady, now)
	return res.RowsAffected > 0, translate(res.Error)
}

func (s *Store) ListConsents(ctx context.Context, userID string) ([]*models.UserConsent, error) {
	var out []*models.UserConsent
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&out).Error
	return out, translate(err)
}

func (s *Store) ListAuditLogsForUser(ctx context.Context, userID string, since time.Time, limit int) ([]*models.AuditLog, error) {
	var out []*models.AuditLog
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, translate(err)
}
