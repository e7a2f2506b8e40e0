package models

import (
	"time"

	"github.com/handbok-org/handbok/pkg/types"
)

// SubscriptionDailySnapshot is the number of subscriptions per status on one day.
type SubscriptionDailySnapshot struct {
	ID           string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SnapshotDate string                   `gorm:"column:snapshot_date;type:varchar(10);not null;uniqueIndex:idx_snapshot_date_status,priority:1" json:"snapshot_date"`
	Status       types.SubscriptionStatus `gorm:"column:status;type:varchar(64);not null;uniqueIndex:idx_snapshot_date_status,priority:2" json:"status"`
	Count        int64                    `gorm:"column:count;not null" json:"count"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

func (SubscriptionDailySnapshot) TableName() string {
	return "subscription_daily_snapshots"
}
