package gdpr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/metrics"
	"github.com/handbok-org/handbok/pkg/tool"
	"github.com/handbok-org/handbok/pkg/types"
)

// minTokenLength rejects obviously malformed tokens before touching the db.
const minTokenLength = 32

type ExportResponse struct {
	RequestID    string             `json:"request_id"`
	DownloadURL  string             `json:"download_url"`
	Format       types.ExportFormat `json:"format"`
	ExpiresAt    time.Time          `json:"expires_at"`
	MaxDownloads int                `json:"max_downloads"`
}

// Download is a rendered export ready to be streamed as an attachment.
type Download struct {
	FileName    string
	ContentType string
	Body        []byte
}

// RequestExport issues a download token for a machine-readable copy of the
// caller's data and emails the link.
func (s *Service) RequestExport(ctx context.Context, who Requester, format types.ExportFormat) (*ExportResponse, error) {
	l := logctx.FromCtx(ctx, s.log)
	switch format {
	case "":
		format = types.ExportFormatJSON
	case types.ExportFormatJSON, types.ExportFormatCSV:
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidRequest, format)
	}

	token, err := tool.DownloadToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	now := s.clock.Now()
	request := &models.GDPRRequest{
		ID:             tool.GenerateUUIDV7(),
		UserID:         who.UserID,
		RequestType:    types.GDPRRequestTypeExport,
		Status:         types.GDPRRequestStatusCompleted,
		RequestDetails: datatypes.JSON(fmt.Sprintf(`{"format":%q}`, format)),
		ProcessedAt:    &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateGDPRRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("create export request: %w", err)
	}
	export := &models.GDPRExport{
		ID:            tool.GenerateUUIDV7(),
		UserID:        who.UserID,
		RequestID:     request.ID,
		DownloadToken: token,
		Status:        types.ExportStatusReady,
		FileFormat:    format,
		ExpiresAt:     now.Add(s.cfg.GDPR.ExportTTL),
		MaxDownloads:  s.cfg.GDPR.ExportMaxDownloads,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateExport(ctx, export); err != nil {
		return nil, fmt.Errorf("create export: %w", err)
	}

	resp := &ExportResponse{
		RequestID:    request.ID,
		DownloadURL:  "/api/gdpr/download/" + token,
		Format:       format,
		ExpiresAt:    export.ExpiresAt,
		MaxDownloads: export.MaxDownloads,
	}
	s.audit.Log(ctx, audit.Entry{
		UserID:       who.UserID,
		UserEmail:    who.Email,
		Action:       audit.ActionGDPRExportRequested,
		ResourceType: "gdpr_export",
		ResourceID:   export.ID,
		Risk:         types.RiskLevelMedium,
		IP:           who.IP,
		Details:      map[string]any{"format": format},
	})
	metrics.IncGDPRRequest(string(types.GDPRRequestTypeExport), "accepted")

	if who.Email != "" {
		link := strings.TrimRight(s.cfg.Server.PublicURL, "/") + resp.DownloadURL
		if err := s.mail.Send(ctx, email.ExportReady(who.Email, link, export.ExpiresAt, export.MaxDownloads)); err != nil {
			l.Warnw("gdpr_export_email_failed", "export_id", export.ID, "err", err)
		}
	}
	l.Infow("gdpr_export_requested", "export_id", export.ID, "format", format)
	return resp, nil
}

// DownloadExport renders the export bound to token and consumes one download.
func (s *Service) DownloadExport(ctx context.Context, token, ip string) (*Download, error) {
	l := logctx.FromCtx(ctx, s.log)
	if len(token) < minTokenLength {
		return nil, ErrInvalidToken
	}
	export, err := s.repo.GetExportByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load export: %w", err)
	}

	now := s.clock.Now()
	switch {
	case export.Status == types.ExportStatusExpired:
		return nil, ErrExportExpired
	case export.Status != types.ExportStatusReady:
		return nil, ErrExportNotFound
	case !now.Before(export.ExpiresAt):
		if err := s.repo.ExpireExport(ctx, export.ID); err != nil {
			l.Warnw("gdpr_export_expire_failed", "export_id", export.ID, "err", err)
		}
		return nil, ErrExportExpired
	case export.DownloadCount >= export.MaxDownloads:
		return nil, ErrDownloadLimitReached
	}

	data, err := s.collect(ctx, export.UserID, export.FileFormat, now)
	if err != nil {
		return nil, fmt.Errorf("collect export data: %w", err)
	}
	var body []byte
	contentType := "application/json; charset=utf-8"
	if export.FileFormat == types.ExportFormatCSV {
		body, err = renderCSV(data)
		contentType = "text/csv; charset=utf-8"
	} else {
		body, err = renderJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("render export: %w", err)
	}

	// claimed last so a failed render does not burn a download
	claimed, err := s.repo.ClaimExportDownload(ctx, export.ID, now)
	if err != nil {
		return nil, fmt.Errorf("claim download: %w", err)
	}
	if !claimed {
		return nil, ErrDownloadLimitReached
	}

	s.audit.Log(ctx, audit.Entry{
		UserID:       export.UserID,
		Action:       audit.ActionGDPRExportDownloaded,
		ResourceType: "gdpr_export",
		ResourceID:   export.ID,
		Risk:         types.RiskLevelMedium,
		IP:           ip,
		Details:      map[string]any{"download_number": export.DownloadCount + 1, "format": export.FileFormat},
	})
	metrics.IncGDPRRequest(string(types.GDPRRequestTypeExport), "downloaded")
	return &Download{
		FileName:    fmt.Sprintf("handbok-data-export-%s.%s", now.Format("2006-01-02"), export.FileFormat),
		ContentType: contentType,
		Body:        body,
	}, nil
}
