package models

import (
	"time"

	"github.com/handbok-org/handbok/pkg/types"
	"gorm.io/datatypes"
)

type DocumentImport struct {
	ID            string                     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	HandbookID    string                     `gorm:"column:handbook_id;type:uuid;not null;index" json:"handbook_id"`
	UploadedBy    string                     `gorm:"column:uploaded_by;type:uuid;not null" json:"uploaded_by"`
	FileName      string                     `gorm:"column:file_name;type:varchar(255);not null" json:"file_name"`
	MimeType      string                     `gorm:"column:mime_type;type:varchar(128);not null" json:"mime_type"`
	FileSize      int64                      `gorm:"column:file_size;not null" json:"file_size"`
	StoragePath   string                     `gorm:"column:storage_path;type:varchar(512);not null" json:"storage_path"`
	Status        types.DocumentImportStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	ExtractedText string                     `gorm:"column:extracted_text;type:text" json:"extracted_text,omitempty"`
	Metadata      datatypes.JSON             `gorm:"column:metadata;type:jsonb;default:'{}'" json:"metadata"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

func (DocumentImport) TableName() string { return "document_imports" }
