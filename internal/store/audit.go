package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/pkg/types"
)

func (s *Store) CreateAuditLog(ctx context.Context, l *models.AuditLog) error {
	return translate(s.db.WithContext(ctx).Create(l).Error)
}

// ScanAuditLogs runs an admin listing. req must already be normalized.
func (s *Store) ScanAuditLogs(ctx context.Context, req *types.ScanRequest) ([]*models.AuditLog, int64, error) {
	where := clause.Where{Exprs: []clause.Expression{types.FiltersWhere(req.Filters)}}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.AuditLog{}).Where(where).Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}
	var items []*models.AuditLog
	err := s.db.WithContext(ctx).
		Where(where).
		Order(req.OrderBy()).
		Offset(req.From).
		Limit(req.Size).
		Find(&items).Error
	return items, total, translate(err)
}

// DeleteAuditLogsBefore removes entries of the given risk level older than before.
func (s *Store) DeleteAuditLogsBefore(ctx context.Context, before time.Time, risk types.RiskLevel) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_at < ? AND risk_level = ?", before, risk).
		Delete(&models.AuditLog{})
	return res.RowsAffected, translate(res.Error)
}

func (s *Store) SaveWebhookLog(ctx context.Context, l *models.WebhookLog) error {
	return translate(s.db.WithContext(ctx).Save(l).Error)
}

func (s *Store) DeleteWebhookLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.WebhookLog{})
	return res.RowsAffected, translate(res.Error)
}

func (s *Store) CreateCriticalAlert(ctx context.Context, a *models.CriticalAlert) error {
	return translate(s.db.WithContext(ctx).Create(a).Error)
}
