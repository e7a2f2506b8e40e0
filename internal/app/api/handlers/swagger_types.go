package handlers

import (
	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/app/service/billing"
	"github.com/handbok-org/handbok/internal/app/service/documents"
	"github.com/handbok-org/handbok/internal/app/service/forum"
	"github.com/handbok-org/handbok/internal/app/service/gdpr"
	"github.com/handbok-org/handbok/internal/app/service/maintenance"
	"github.com/handbok-org/handbok/internal/app/service/statistics"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Error   string                   `json:"error,omitempty"`
	Data    interface{}              `json:"data"`
}

type RespDeletion struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    gdpr.DeletionResponse    `json:"data"`
}

// RespConflict is the 409 body of a deletion request.
type RespConflict struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Error   string                   `json:"error"`
	Data    gdpr.ConflictError       `json:"data"`
}

type RespExport struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    gdpr.ExportResponse      `json:"data"`
}

type RespMaintenance struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    maintenance.Report       `json:"data"`
}

type RespSweep struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    gdpr.SweepResult         `json:"data"`
}

type RespDocument struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.DocumentImport    `json:"data"`
}

type RespExtraction struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    documents.Result         `json:"data"`
}

type RespReplies struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Data    forum.ListRepliesResponse `json:"data"`
}

type RespReply struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.ForumPost         `json:"data"`
}

type RespHandbook struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Handbook          `json:"data"`
}

type RespAccess struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    access.Result            `json:"data"`
}

type RespSubscription struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    SubscriptionResponse     `json:"data"`
}

type RespWebhook struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    billing.Result           `json:"data"`
}

type RespAuditLogs struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListAuditLogsResponse    `json:"data"`
}

type RespStatistics struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Response      `json:"data"`
}

type RespClearCache struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ClearCacheResponse       `json:"data"`
}
