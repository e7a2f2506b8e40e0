package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	cfgpkg "github.com/handbok-org/handbok/pkg/config"
)

// fakeS3 serves path-style GET and PUT for a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	puts    []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/documents/")
	switch r.Method {
	case http.MethodPut:
		_, _ = io.Copy(io.Discard, r.Body)
		f.puts = append(f.puts, key)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T, f *fakeS3) *S3Store {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	s, err := NewS3Store(context.Background(), cfgpkg.StorageConfig{
		Endpoint:  srv.URL,
		Region:    "eu-north-1",
		Bucket:    "documents",
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)
	return s
}

func TestS3StoreGet(t *testing.T) {
	f := &fakeS3{objects: map[string]string{"hb1/abc-stadgar.txt": "Stadgar för föreningen"}}
	s := newTestStore(t, f)

	data, err := s.Get(context.Background(), "hb1/abc-stadgar.txt")
	require.NoError(t, err)
	require.Equal(t, "Stadgar för föreningen", string(data))
}

func TestS3StoreGetMissingKey(t *testing.T) {
	s := newTestStore(t, &fakeS3{objects: map[string]string{}})

	_, err := s.Get(context.Background(), "hb1/missing.pdf")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestS3StorePut(t *testing.T) {
	f := &fakeS3{objects: map[string]string{}}
	s := newTestStore(t, f)

	require.NoError(t, s.Put(context.Background(), "hb1/new.txt", "text/plain", []byte("hej")))
	require.Equal(t, []string{"hb1/new.txt"}, f.puts)
}
