package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/tool"
	"github.com/handbok-org/handbok/pkg/types"
)

const (
	ActionGDPRDeletionRequested = "gdpr_deletion_requested"
	ActionGDPRDeletionExecuted  = "gdpr_deletion_executed"
	ActionGDPRDeletionFailed    = "gdpr_deletion_failed"
	ActionGDPRDeletionCancelled = "gdpr_deletion_cancelled"
	ActionGDPRExportRequested   = "gdpr_export_requested"
	ActionGDPRExportDownloaded  = "gdpr_export_downloaded"
	ActionSubscriptionSuspended = "subscription_suspended"
	ActionSubscriptionUpdated   = "subscription_billing_updated"
	ActionMaintenanceCompleted  = "subscription_maintenance_completed"
	ActionHandbookCreated       = "handbook_created"
	ActionMemberRemoved         = "handbook_member_removed"
	ActionAccessCacheCleared    = "access_cache_cleared"
)

var ErrInvalidScan = errors.New("invalid audit log query")

// AllowedScanFields lists the columns the admin listing may filter on.
var AllowedScanFields = []string{"user_id", "action", "resource_type", "resource_id", "risk_level", "is_system", "created_at"}

type Repository interface {
	CreateAuditLog(ctx context.Context, l *models.AuditLog) error
	ScanAuditLogs(ctx context.Context, req *types.ScanRequest) ([]*models.AuditLog, int64, error)
	DeleteAuditLogsBefore(ctx context.Context, before time.Time, risk types.RiskLevel) (int64, error)
}

type Entry struct {
	UserID       string
	UserEmail    string
	Action       string
	ResourceType string
	ResourceID   string
	Risk         types.RiskLevel
	System       bool
	Details      map[string]any
	IP           string
}

type Service struct {
	repo Repository
	log  *zap.SugaredLogger
}

func New(repo Repository, log *zap.SugaredLogger) *Service {
	return &Service{repo: repo, log: log}
}

// Log appends an entry. Failures are logged and swallowed.
func (s *Service) Log(ctx context.Context, e Entry) {
	row := &models.AuditLog{
		ID:           tool.GenerateUUIDV7(),
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		RiskLevel:    e.Risk,
		IsSystem:     e.System,
		IPAddress:    e.IP,
	}
	if row.RiskLevel == "" {
		row.RiskLevel = types.RiskLevelLow
	}
	if e.UserID != "" {
		row.UserID = &e.UserID
	}
	if e.UserEmail != "" {
		row.UserEmail = &e.UserEmail
	}
	if len(e.Details) > 0 {
		if raw, err := json.Marshal(e.Details); err == nil {
			row.Details = datatypes.JSON(raw)
		}
	}
	if err := s.repo.CreateAuditLog(ctx, row); err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("audit_log_write_failed", "action", e.Action, "err", err)
	}
}

func (s *Service) Scan(ctx context.Context, req *types.ScanRequest) ([]*models.AuditLog, int64, error) {
	if err := req.Normalize(AllowedScanFields, "created_at"); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidScan, err)
	}
	return s.repo.ScanAuditLogs(ctx, req)
}

// DeleteLowRiskBefore enforces retention; medium and high risk entries are kept.
func (s *Service) DeleteLowRiskBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.DeleteAuditLogsBefore(ctx, before, types.RiskLevelLow)
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Provide(func(s *store.Store) Repository { return s }),
)
