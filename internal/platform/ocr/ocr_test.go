package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgpkg "github.com/handbok-org/handbok/pkg/config"
)

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepareImageDownscales(t *testing.T) {
	out, err := PrepareImage(pngFixture(t, 3000, 100))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, maxWidth, img.Bounds().Dx())
}

func TestRecognizeDisabled(t *testing.T) {
	c := NewClient(cfgpkg.OCRConfig{})
	require.False(t, c.Enabled())
	_, err := c.Recognize(context.Background(), []byte("x"), "application/pdf")
	require.ErrorIs(t, err, ErrDisabled)
}

func TestRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.Equal(t, "image/png", r.Header.Get("X-Source-Content-Type"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "swe+eng", r.FormValue("language"))
		_ = json.NewEncoder(w).Encode(Result{Text: "Ordningsregler", Pages: 1})
	}))
	defer srv.Close()

	c := NewClient(cfgpkg.OCRConfig{Endpoint: srv.URL, APIKey: "k", Timeout: 5 * time.Second})
	res, err := c.Recognize(context.Background(), pngFixture(t, 10, 10), "image/png")
	require.NoError(t, err)
	require.Equal(t, "Ordningsregler", res.Text)
	require.Equal(t, 1, res.Pages)
}

func TestRecognizeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := NewClient(cfgpkg.OCRConfig{Endpoint: srv.URL, APIKey: "k", Timeout: 5 * time.Second})
	_, err := c.Recognize(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	require.ErrorContains(t, err, "402")
}
