package models

import (
	"time"

	"github.com/handbok-org/handbok/pkg/types"
	"gorm.io/datatypes"
)

// AuditLog is append-only apart from retention cleanup and email anonymization.
type AuditLog struct {
	ID           string          `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID       *string         `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	UserEmail    *string         `gorm:"column:user_email;type:varchar(255)" json:"user_email"`
	Action       string          `gorm:"column:action;type:varchar(128);not null;index" json:"action"`
	ResourceType string          `gorm:"column:resource_type;type:varchar(64)" json:"resource_type"`
	ResourceID   string          `gorm:"column:resource_id;type:varchar(128)" json:"resource_id"`
	RiskLevel    types.RiskLevel `gorm:"column:risk_level;type:varchar(16);not null;default:'low'" json:"risk_level"`
	IsSystem     bool            `gorm:"column:is_system;not null;default:false" json:"is_system"`
	Details      datatypes.JSON  `gorm:"column:details;type:jsonb;default:'{}'" json:"details"`
	IPAddress    string          `gorm:"column:ip_address;type:varchar(64)" json:"ip_address"`
	CreatedAt    time.Time       `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// CriticalAlert is a write-only queue row picked up by the on-call notifier.
type CriticalAlert struct {
	ID        string          `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Source    string          `gorm:"column:source;type:varchar(64);not null" json:"source"`
	Priority  types.RiskLevel `gorm:"column:priority;type:varchar(16);not null" json:"priority"`
	Title     string          `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Payload   datatypes.JSON  `gorm:"column:payload;type:jsonb" json:"payload"`
	Status    string          `gorm:"column:status;type:varchar(32);not null;default:'queued'" json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

func (CriticalAlert) TableName() string { return "critical_alerts" }
