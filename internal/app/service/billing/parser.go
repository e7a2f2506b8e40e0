package billing

import (
	"time"

	"github.com/handbok-org/handbok/internal/app/service/subscription"
)

// EventParser is a verified provider event.
type EventParser interface {
	Provider() string
	EventID() string
	EventType() string
	OccurredAt() time.Time
	UserID() string
	Data() any
	// BillingUpdate returns nil for event types that do not touch a subscription.
	BillingUpdate() (*subscription.BillingUpdate, error)
}
