package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/ocr"
	"github.com/handbok-org/handbok/internal/platform/storage"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/metrics"
	"github.com/handbok-org/handbok/pkg/tool"
	"github.com/handbok-org/handbok/pkg/types"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrFileTooLarge      = errors.New("file exceeds the upload limit")
	ErrEmptyFile         = errors.New("file is empty")
	ErrUnsupportedType   = errors.New("file type is not supported")
	ErrForbidden         = errors.New("insufficient role for this handbook")
	ErrExtractionTimeout = errors.New("text extraction timed out")
	ErrBlobUnavailable   = errors.New("stored file could not be downloaded")
)

type Repository interface {
	CreateDocumentImport(ctx context.Context, d *models.DocumentImport) error
	GetDocumentImport(ctx context.Context, id string) (*models.DocumentImport, error)
	UpdateDocumentImportResult(ctx context.Context, id string, status types.DocumentImportStatus, text string, metadata datatypes.JSON, at time.Time) (bool, error)
}

// RoleChecker is the slice of the access checker uploads need.
type RoleChecker interface {
	CanEdit(ctx context.Context, userID, handbookID string) bool
}

type Service struct {
	repo      Repository
	blobs     storage.Blobs
	extractor *Extractor
	roles     RoleChecker
	clock     clock.Clock
	maxBytes  int64
	timeout   time.Duration
	log       *zap.SugaredLogger

	// background extractions started by Upload
	wg sync.WaitGroup
}

func NewService(cfg *config.Config, repo Repository, blobs storage.Blobs, rec ocr.Recognizer, roles RoleChecker, clk clock.Clock, log *zap.SugaredLogger) *Service {
	return &Service{
		repo:      repo,
		blobs:     blobs,
		extractor: NewExtractor(rec, cfg.Documents.MinPDFTextChars),
		roles:     roles,
		clock:     clk,
		maxBytes:  cfg.Documents.MaxUploadBytes,
		timeout:   cfg.Documents.ExtractionTimeout,
		log:       log,
	}
}

var allowedTypes = []string{
	mimePDF,
	mimeDOCX,
	"text/plain",
	"text/markdown",
	"text/csv",
	"image/png",
	"image/jpeg",
	"image/tiff",
}

// detectType sniffs content; docx is a zip to the sniffer when its entries
// are not in the usual order, so the extension settles that case.
func detectType(name string, data []byte) (string, bool) {
	m := mimetype.Detect(data)
	for _, t := range allowedTypes {
		if m.Is(t) {
			return t, true
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if m.Is("application/zip") && ext == ".docx" {
		return mimeDOCX, true
	}
	if strings.HasPrefix(m.String(), "text/plain") && (ext == ".md" || ext == ".csv") {
		return "text/plain", true
	}
	return m.String(), false
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

func storageKey(handbookID, name string) string {
	clean := unsafeName.ReplaceAllString(filepath.Base(name), "_")
	if clean == "" || clean == "." {
		clean = "file"
	}
	return fmt.Sprintf("%s/%s-%s", handbookID, tool.GenerateUUIDV7(), clean)
}

// Upload stores the file and starts extraction in the background.
func (s *Service) Upload(ctx context.Context, handbookID, userID, fileName string, data []byte) (*models.DocumentImport, error) {
	l := logctx.FromCtx(ctx, s.log)
	if !s.roles.CanEdit(ctx, userID, handbookID) {
		return nil, ErrForbidden
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	mimeType, ok := detectType(fileName, data)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	key := storageKey(handbookID, fileName)
	if err := s.blobs.Put(ctx, key, mimeType, data); err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}
	now := s.clock.Now()
	doc := &models.DocumentImport{
		ID:          tool.GenerateUUIDV7(),
		HandbookID:  handbookID,
		UploadedBy:  userID,
		FileName:    filepath.Base(fileName),
		MimeType:    mimeType,
		FileSize:    int64(len(data)),
		StoragePath: key,
		Status:      types.DocumentImportStatusUploaded,
		Metadata:    datatypes.JSON(`{}`),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateDocumentImport(ctx, doc); err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			l.Warnw("document_blob_cleanup_failed", "key", key, "err", derr)
		}
		return nil, fmt.Errorf("create document import: %w", err)
	}
	l.Infow("document_uploaded", "document_id", doc.ID, "handbook_id", handbookID, "mime", mimeType, "size", doc.FileSize)

	bg := logctx.Detach(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.ExtractText(bg, doc.ID); err != nil {
			logctx.FromCtx(bg, s.log).Warnw("document_background_extraction_failed", "document_id", doc.ID, "err", err)
		}
	}()
	return doc, nil
}

// Wait blocks until background extractions have finished.
func (s *Service) Wait() { s.wg.Wait() }

type extractionMeta struct {
	Outcome    Outcome `json:"outcome"`
	Method     string  `json:"method"`
	Pages      int     `json:"pages"`
	Chars      int     `json:"chars"`
	DurationMS int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// ExtractText downloads the stored file and extracts its text within the
// configured timeout. Parse failures are recorded on the row and returned as
// a failed Result; a missing blob or a timeout is an error. The first result
// written wins: a row that already has one is answered from the row, and a
// call that loses the write to a concurrent extraction returns the winner's.
func (s *Service) ExtractText(ctx context.Context, documentID string) (*Result, error) {
	l := logctx.FromCtx(ctx, s.log)
	doc, err := s.repo.GetDocumentImport(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc.Status.Terminal() {
		return storedResult(doc), nil
	}
	data, err := s.blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		l.Errorw("document_download_failed", "document_id", doc.ID, "path", doc.StoragePath, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrBlobUnavailable, err)
	}

	start := time.Now()
	res, err := s.extractWithin(ctx, data, doc.MimeType)
	meta := extractionMeta{DurationMS: time.Since(start).Milliseconds()}
	status := types.DocumentImportStatusFailed
	switch {
	case errors.Is(err, ErrExtractionTimeout):
		meta.Outcome, meta.Method, meta.Error = OutcomeFailed, MethodNone, err.Error()
		if won, _ := s.persist(ctx, doc.ID, status, "", meta); !won {
			return s.reload(ctx, doc.ID)
		}
		metrics.ObserveExtraction(MethodNone, "timeout", start)
		l.Errorw("document_extraction_timeout", "document_id", doc.ID, "timeout", s.timeout)
		return nil, err
	case err != nil:
		res = &Result{Outcome: OutcomeFailed, Method: MethodNone, Error: err.Error()}
	case res.Outcome == OutcomeSuccess:
		status = types.DocumentImportStatusTextExtracted
	case res.Outcome == OutcomeNeedsOCR:
		status = types.DocumentImportStatusNeedsOCR
	}
	meta.Outcome, meta.Method, meta.Pages, meta.Error = res.Outcome, res.Method, res.Pages, res.Error

	text := res.Text
	if res.Outcome != OutcomeSuccess {
		// guidance text is for the caller, not stored as document content
		text = ""
	}
	meta.Chars = utf8.RuneCountInString(text)
	won, perr := s.persist(ctx, doc.ID, status, text, meta)
	if perr == nil && !won {
		l.Infow("document_extraction_superseded", "document_id", doc.ID)
		return s.reload(ctx, doc.ID)
	}
	metrics.ObserveExtraction(res.Method, string(res.Outcome), start)
	l.Infow("document_extracted", "document_id", doc.ID, "outcome", res.Outcome, "method", res.Method, "pages", res.Pages, "duration_ms", meta.DurationMS)
	return res, nil
}

// persist reports whether this call wrote the row. A store error is logged
// and the computed result still goes back to the caller.
func (s *Service) persist(ctx context.Context, id string, status types.DocumentImportStatus, text string, meta extractionMeta) (bool, error) {
	raw, _ := json.Marshal(meta)
	won, err := s.repo.UpdateDocumentImportResult(ctx, id, status, text, datatypes.JSON(raw), s.clock.Now())
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("document_result_persist_failed", "document_id", id, "err", err)
		return true, err
	}
	return won, nil
}

func (s *Service) reload(ctx context.Context, id string) (*Result, error) {
	doc, err := s.repo.GetDocumentImport(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload document: %w", err)
	}
	return storedResult(doc), nil
}

// storedResult rebuilds the Result a finished extraction returned. Guidance
// text for needs_ocr rows is not stored, so it is derived from the type.
func storedResult(doc *models.DocumentImport) *Result {
	var meta extractionMeta
	_ = json.Unmarshal(doc.Metadata, &meta)
	res := &Result{Outcome: meta.Outcome, Pages: meta.Pages, Method: meta.Method, Error: meta.Error}
	switch doc.Status {
	case types.DocumentImportStatusTextExtracted:
		res.Outcome, res.Text = OutcomeSuccess, doc.ExtractedText
	case types.DocumentImportStatusNeedsOCR:
		res.Outcome, res.Text = OutcomeNeedsOCR, ImagePlaceholder
		if doc.MimeType == mimePDF {
			res.Text = ScannedPDFPlaceholder
		}
	default:
		res.Outcome = OutcomeFailed
	}
	if res.Method == "" {
		res.Method = MethodNone
	}
	return res
}

// extractWithin races the extractor against the timeout. The pdf parser can
// panic on malformed input, which is reported as a parse error.
func (s *Service) extractWithin(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("parser panic: %v", r)}
			}
		}()
		res, err := s.extractor.Extract(ctx, data, mimeType)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		// extractors that swallow a cancelled OCR call still ran out of time
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrExtractionTimeout
		}
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrExtractionTimeout
		}
		return nil, ctx.Err()
	}
}

func registerShutdown(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				s.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Provide(func(s *store.Store) Repository { return s }),
	fx.Invoke(registerShutdown),
)
