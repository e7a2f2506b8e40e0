package authadmin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgpkg "github.com/handbok-org/handbok/pkg/config"
)

const userID = "5b0c1a52-8f0e-4d3b-9d8e-3f6a2c1e7b40"

func TestDeleteUser(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"deleted", http.StatusOK, false},
		{"already gone", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotMethod, gotPath, gotKey, gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotMethod, gotPath = r.Method, r.URL.Path
				gotKey, gotAuth = r.Header.Get("apikey"), r.Header.Get("Authorization")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			c := NewClient(cfgpkg.SupabaseConfig{URL: srv.URL + "/", ServiceRoleKey: "srk"})
			err := c.DeleteUser(context.Background(), userID)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, http.MethodDelete, gotMethod)
			require.Equal(t, "/auth/v1/admin/users/"+userID, gotPath)
			require.Equal(t, "srk", gotKey)
			require.Equal(t, "Bearer srk", gotAuth)
		})
	}
}

func TestDeleteUserRejectsBadInput(t *testing.T) {
	require.ErrorIs(t, NewClient(cfgpkg.SupabaseConfig{}).DeleteUser(context.Background(), userID), ErrNotConfigured)

	c := NewClient(cfgpkg.SupabaseConfig{URL: "http://127.0.0.1:1", ServiceRoleKey: "srk"})
	require.Error(t, c.DeleteUser(context.Background(), "not-a-uuid"))
}

func TestDeleteUserHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(cfgpkg.SupabaseConfig{URL: srv.URL, ServiceRoleKey: "srk"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.DeleteUser(ctx, userID), context.DeadlineExceeded)
}
