package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookLogStatus string

const (
	WebhookLogStatusReceived     WebhookLogStatus = "received"
	WebhookLogStatusHandled      WebhookLogStatus = "handled"
	WebhookLogStatusHandleFailed WebhookLogStatus = "handle_failed"
)

type WebhookLog struct {
	ID         string           `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Provider   string           `gorm:"column:provider;type:varchar(64);not null" json:"provider"`
	EventID    string           `gorm:"column:event_id;type:varchar(128);index" json:"event_id"`
	EventType  string           `gorm:"column:event_type;type:varchar(128)" json:"event_type"`
	TraceID    string           `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	Data       datatypes.JSON   `gorm:"column:data;type:jsonb" json:"data"`
	Result     *datatypes.JSON  `gorm:"column:result;type:jsonb" json:"result"`
	Status     WebhookLogStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	ReceivedAt time.Time        `gorm:"column:received_at" json:"received_at"`
	CreatedAt  time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func (WebhookLog) TableName() string { return "webhook_logs" }
