package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/fx"

	cfgpkg "github.com/handbok-org/handbok/pkg/config"
)

var ErrDisabled = errors.New("ocr is not configured")

// maxWidth bounds uploads to the provider; phone photos are often 4000px+.
const maxWidth = 2400

type Result struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

// Recognizer turns a scanned document or photo into text.
type Recognizer interface {
	Enabled() bool
	Recognize(ctx context.Context, data []byte, mimeType string) (*Result, error)
}

type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewClient(cfg cfgpkg.OCRConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Enabled() bool { return c.endpoint != "" && c.apiKey != "" }

func (c *Client) Recognize(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if strings.HasPrefix(mimeType, "image/") {
		prepared, err := PrepareImage(data)
		if err != nil {
			return nil, err
		}
		data, mimeType = prepared, "image/png"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("language", "swe+eng")
	part, err := mw.CreateFormFile("file", "document")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Source-Content-Type", mimeType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	return &out, nil
}

// PrepareImage straightens, greyscales and downsizes a photo before OCR.
func PrepareImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	gray := imaging.Grayscale(img)
	if gray.Bounds().Dx() > maxWidth {
		gray = imaging.Resize(gray, maxWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func newRecognizer(cfg *cfgpkg.Config) Recognizer { return NewClient(cfg.OCR) }

var Module = fx.Options(
	fx.Provide(newRecognizer),
)
