package store

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/pkg/types"
)

func (s *Store) CreateDocumentImport(ctx context.Context, d *models.DocumentImport) error {
	return translate(s.db.WithContext(ctx).Create(d).Error)
}

func (s *Store) GetDocumentImport(ctx context.Context, id string) (*models.DocumentImport, error) {
	var d models.DocumentImport
	if err := s.first(ctx, &d, "id = ?", id); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDocumentImportResult writes the extraction result unless another
// extraction already did. It reports whether this call won.
func (s *Store) UpdateDocumentImportResult(ctx context.Context, id string, status types.DocumentImportStatus, text string, metadata datatypes.JSON, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.DocumentImport{}).
		Where("id = ? AND status NOT IN ?", id, types.DocumentImportTerminal).
		Updates(map[string]any{
			"status":         status,
			"extracted_text": text,
			"metadata":       metadata,
			"updated_at":     at,
		})
	return res.RowsAffected > 0, translate(res.Error)
}
