package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"

	"github.com/handbok-org/handbok/internal/platform/ocr"
	"github.com/handbok-org/handbok/pkg/textutil"
)

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeNeedsOCR Outcome = "needs_ocr"
	OutcomeFailed   Outcome = "failed"
)

const (
	MethodPDF      = "pdf-parse"
	MethodPDFOCR   = "pdf-ocr"
	MethodDOCX     = "docx"
	MethodText     = "plain-text"
	MethodImageOCR = "image-ocr"
	MethodNone     = "none"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// charsPerPage estimates pages for formats without real pagination.
const charsPerPage = 3000

const ScannedPDFPlaceholder = `[SCANNAD PDF - TEXTIGENKÄNNING KRÄVS]

Detta dokument verkar vara en skannad PDF utan läsbar text. Textigenkänning (OCR) är inte aktiverad, så innehållet kunde inte läsas automatiskt. Skriv in texten manuellt eller ladda upp en textbaserad PDF.

[SCANNED PDF - OCR REQUIRED]

This document appears to be a scanned PDF without selectable text. OCR is not enabled, so the content could not be read automatically.`

const ImagePlaceholder = `[BILD - TEXTIGENKÄNNING KRÄVS]

Text i bilder kan inte läsas utan textigenkänning (OCR). Skriv in texten manuellt eller ladda upp dokumentet som PDF eller Word.

[IMAGE - OCR REQUIRED]

Text in images cannot be read without OCR.`

// Result is the tagged outcome of an extraction. A needs_ocr result carries
// the placeholder guidance as Text; it is not extracted content.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Text    string  `json:"text"`
	Pages   int     `json:"pages"`
	Method  string  `json:"method"`
	Error   string  `json:"error,omitempty"`
}

var errUnsupportedType = errors.New("unsupported file type")

// Extractor dispatches on MIME type. It has no state of its own beyond the
// OCR client, so one instance serves concurrent requests.
type Extractor struct {
	ocr         ocr.Recognizer
	minPDFChars int
}

func NewExtractor(rec ocr.Recognizer, minPDFChars int) *Extractor {
	return &Extractor{ocr: rec, minPDFChars: minPDFChars}
}

func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	switch {
	case base == mimePDF:
		return e.extractPDF(ctx, data)
	case base == mimeDOCX:
		return extractDOCX(data)
	case strings.HasPrefix(base, "text/"):
		return extractPlain(data), nil
	case strings.HasPrefix(base, "image/"):
		return e.extractImage(ctx, data, base), nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedType, mimeType)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (*Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	pages := r.NumPage()
	var buf strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// one unreadable page should not sink the document
			continue
		}
		if t := textutil.Normalize(text); t != "" {
			buf.WriteString(t)
			buf.WriteString("\n\n")
		}
	}
	text := strings.TrimSpace(buf.String())
	if utf8.RuneCountInString(text) >= e.minPDFChars {
		return &Result{Outcome: OutcomeSuccess, Text: text, Pages: pages, Method: MethodPDF}, nil
	}

	if e.ocr != nil && e.ocr.Enabled() {
		res, err := e.ocr.Recognize(ctx, data, mimePDF)
		if err == nil && strings.TrimSpace(res.Text) != "" {
			if res.Pages > 0 {
				pages = res.Pages
			}
			return &Result{Outcome: OutcomeSuccess, Text: textutil.NormalizeLines(res.Text), Pages: pages, Method: MethodPDFOCR}, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return &Result{Outcome: OutcomeNeedsOCR, Text: ScannedPDFPlaceholder, Pages: pages, Method: MethodNone}, nil
}

// extractDOCX joins the text of the body paragraphs and tables, one per
// line. Headers, footers and comments are not part of the body.
func extractDOCX(data []byte) (*Result, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	var buf strings.Builder
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			buf.WriteString(it.String())
		case *docx.Table:
			buf.WriteString(it.String())
		default:
			continue
		}
		buf.WriteString("\n")
	}
	text := textutil.NormalizeLines(buf.String())
	if text == "" {
		return nil, errors.New("docx: no text in document body")
	}
	return &Result{Outcome: OutcomeSuccess, Text: text, Pages: estimatePages(text), Method: MethodDOCX}, nil
}

func extractPlain(data []byte) *Result {
	text := strings.ToValidUTF8(strings.ReplaceAll(string(data), "\r\n", "\n"), "")
	text = strings.TrimSpace(text)
	return &Result{Outcome: OutcomeSuccess, Text: text, Pages: estimatePages(text), Method: MethodText}
}

func (e *Extractor) extractImage(ctx context.Context, data []byte, mimeType string) *Result {
	if e.ocr == nil || !e.ocr.Enabled() {
		return &Result{Outcome: OutcomeNeedsOCR, Text: ImagePlaceholder, Pages: 1, Method: MethodNone}
	}
	res, err := e.ocr.Recognize(ctx, data, mimeType)
	if err != nil || strings.TrimSpace(res.Text) == "" {
		r := &Result{Outcome: OutcomeNeedsOCR, Text: ImagePlaceholder, Pages: 1, Method: MethodImageOCR}
		if err != nil {
			r.Error = err.Error()
		}
		return r
	}
	return &Result{Outcome: OutcomeSuccess, Text: textutil.NormalizeLines(res.Text), Pages: 1, Method: MethodImageOCR}
}

func estimatePages(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 1
	}
	return (n + charsPerPage - 1) / charsPerPage
}
