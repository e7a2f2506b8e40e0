package models

import (
	"time"

	"github.com/handbok-org/handbok/pkg/types"
	"gorm.io/datatypes"
)

// GDPRRequest records a data-subject request. At most one deletion request per
// user may be pending or in progress; the partial unique index enforces it.
type GDPRRequest struct {
	ID             string                  `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID         string                  `gorm:"column:user_id;type:uuid;not null;index;uniqueIndex:idx_gdpr_active_deletion,where:request_type = 'deletion' AND (status = 'pending' OR status = 'in_progress')" json:"user_id"`
	RequestType    types.GDPRRequestType   `gorm:"column:request_type;type:varchar(32);not null" json:"request_type"`
	Status         types.GDPRRequestStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	RequestDetails datatypes.JSON          `gorm:"column:request_details;type:jsonb;default:'{}'" json:"request_details"`
	ProcessedAt    *time.Time              `gorm:"column:processed_at" json:"processed_at"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

func (GDPRRequest) TableName() string { return "gdpr_requests" }

// DeletionDetails is the request_details payload of a deletion request.
type DeletionDetails struct {
	DeletionType   types.DeletionType `json:"deletion_type"`
	Reason         string             `json:"reason,omitempty"`
	Immediate      bool               `json:"immediate"`
	HandbookIDs    []string           `json:"handbook_ids,omitempty"`
	OwnedHandbooks int                `json:"owned_handbooks"`
	MemberOf       int                `json:"member_handbooks"`
}

// GDPRExport is a downloadable data export bound to a random token.
type GDPRExport struct {
	ID            string             `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID        string             `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	RequestID     string             `gorm:"column:request_id;type:uuid;not null" json:"request_id"`
	DownloadToken string             `gorm:"column:download_token;type:varchar(128);not null;uniqueIndex" json:"-"`
	Status        types.ExportStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	FileFormat    types.ExportFormat `gorm:"column:file_format;type:varchar(16);not null;default:'json'" json:"file_format"`
	ExpiresAt     time.Time          `gorm:"column:expires_at;not null" json:"expires_at"`
	DownloadCount int                `gorm:"column:download_count;not null;default:0" json:"download_count"`
	MaxDownloads  int                `gorm:"column:max_downloads;not null;default:3" json:"max_downloads"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (GDPRExport) TableName() string { return "gdpr_exports" }

// AccountDeletion schedules a deferred deletion; the sweep walks it through
// the warning stages until ScheduledDeletionAt.
type AccountDeletion struct {
	ID                  string                      `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID              string                      `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	UserEmail           string                      `gorm:"column:user_email;type:varchar(255)" json:"user_email"`
	RequestID           string                      `gorm:"column:request_id;type:uuid;not null;index" json:"request_id"`
	Status              types.AccountDeletionStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	DeletionType        types.DeletionType          `gorm:"column:deletion_type;type:varchar(16);not null" json:"deletion_type"`
	HandbookIDs         datatypes.JSONSlice[string] `gorm:"column:handbook_ids;type:jsonb" json:"handbook_ids"`
	Reason              string                      `gorm:"column:reason;type:text" json:"reason"`
	ScheduledDeletionAt time.Time                   `gorm:"column:scheduled_deletion_at;not null;index" json:"scheduled_deletion_at"`
	CanCancelUntil      time.Time                   `gorm:"column:can_cancel_until;not null" json:"can_cancel_until"`
	ExecutedAt          *time.Time                  `gorm:"column:executed_at" json:"executed_at"`
	CancelledAt         *time.Time                  `gorm:"column:cancelled_at" json:"cancelled_at"`
	Attempts            int                         `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError           string                      `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	CreatedAt           time.Time                   `json:"created_at"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

func (AccountDeletion) TableName() string { return "account_deletions" }
