package models

import (
	"time"

	"github.com/handbok-org/handbok/pkg/types"
	"gorm.io/datatypes"
)

// Subscription is the billing state of one handbook, paid for by UserID.
type Subscription struct {
	ID                   string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID               string                   `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	HandbookID           string                   `gorm:"column:handbook_id;type:uuid;not null;index" json:"handbook_id"`
	Status               types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	PlanType             string                   `gorm:"column:plan_type;type:varchar(64)" json:"plan_type"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;type:varchar(128);uniqueIndex" json:"stripe_subscription_id"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id;type:varchar(128)" json:"stripe_customer_id"`
	ExpiresAt            *time.Time               `gorm:"column:expires_at;index" json:"expires_at"`
	LastWarningSentAt    *time.Time               `gorm:"column:last_warning_sent_at" json:"last_warning_sent_at"`
	SuspendedAt          *time.Time               `gorm:"column:suspended_at" json:"suspended_at"`
	CancelledAt          *time.Time               `gorm:"column:cancelled_at" json:"cancelled_at"`
	// Extra keeps provider payload details such as the latest invoice id.
	Extra     datatypes.JSON `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// ExpiredAt reports whether the subscription has an expiry at or before now.
func (s *Subscription) ExpiredAt(now time.Time) bool {
	return s != nil && s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}
