package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/handbok-org/handbok/internal/models"
)

// Placeholders written over personal data. Rows stay so that handbooks,
// threads and audit trails keep their shape.
const (
	AnonymizedOrganization = "Anonymiserad förening"
	AnonymizedAuthor       = "Raderad användare"
	AnonymizedEmail        = "anonymized@handbok.org"
)

// Every erasure step is idempotent so a failed deletion can be re-run.

func (s *Store) AnonymizeOwnedHandbooks(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Handbook{}).
		Where("owner_id = ?", userID).
		Updates(map[string]any{
			"owner_id":             gorm.Expr("NULL"),
			"organization_name":    AnonymizedOrganization,
			"organization_address": "",
			"organization_phone":   "",
			"organization_email":   "",
			"updated_at":           time.Now(),
		})
	return res.RowsAffected, translate(res.Error)
}

func (s *Store) DeleteMemberships(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.HandbookMember{})
	return res.RowsAffected, translate(res.Error)
}

func (s *Store) AnonymizeForumContent(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		anon := map[string]any{
			"author_id":    gorm.Expr("NULL"),
			"author_name":  AnonymizedAuthor,
			"author_email": gorm.Expr("NULL"),
		}
		res := tx.Model(&models.ForumTopic{}).Where("author_id = ?", userID).Updates(anon)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		res = tx.Model(&models.ForumPost{}).Where("author_id = ?", userID).Updates(anon)
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return tx.Where("recipient_id = ?", userID).Delete(&models.ForumNotification{}).Error
	})
	return total, translate(err)
}

func (s *Store) AnonymizeAuditLogs(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("user_id = ? AND (user_email IS NULL OR user_email <> ?)", userID, AnonymizedEmail).
		Update("user_email", AnonymizedEmail)
	return res.RowsAffected, translate(res.Error)
}

func (s *Store) DeleteExports(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.GDPRExport{})
	return res.RowsAffected, translate(res.Error)
}

func (s *Store) DeleteConsents(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.UserConsent{})
	return res.RowsAffected, translate(res.Error)
}

func (s *Store) DeleteNotificationPreferences(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.NotificationPreference{})
	return res.RowsAffected, translate(res.Error)
}

func (s *Store) DeleteProfile(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("id = ?", userID).Delete(&models.Profile{})
	return res.RowsAffected, translate(res.Error)
}
