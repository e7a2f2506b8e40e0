package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/handbok-org/handbok/pkg/types"
)

// SubscriptionLog keeps the full row before and after a billing change.
// Use case: troubleshooting provider events.
type SubscriptionLog struct {
	ID             string                            `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string                            `gorm:"column:subscription_id;type:uuid;index;not null" json:"subscription_id"`
	HandbookID     string                            `gorm:"column:handbook_id;type:uuid;index" json:"handbook_id"`
	Reason         types.SubscriptionChangeReason    `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	Before         datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	After          datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	// Extra holds the provider event id and similar context.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time         `json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_logs"
}
