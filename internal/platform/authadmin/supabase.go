package authadmin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/auth-go"
	authtypes "github.com/supabase-community/auth-go/types"
	"go.uber.org/fx"

	cfgpkg "github.com/handbok-org/handbok/pkg/config"
)

var ErrNotConfigured = errors.New("supabase admin api not configured")

// IdentityDeleter removes a user from the auth platform.
type IdentityDeleter interface {
	DeleteUser(ctx context.Context, userID string) error
}

// Client calls the Supabase auth admin API with the service-role key.
type Client struct {
	api auth.Client
}

func NewClient(cfg cfgpkg.SupabaseConfig) *Client {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" || cfg.ServiceRoleKey == "" {
		return &Client{}
	}
	api := auth.New("", cfg.ServiceRoleKey).
		WithCustomAuthURL(base + "/auth/v1").
		WithToken(cfg.ServiceRoleKey).
		WithClient(http.Client{Timeout: 15 * time.Second})
	return &Client{api: api}
}

// DeleteUser treats an unknown user as already deleted. The auth client
// takes no context, so a cancelled ctx returns early and the call finishes
// in the background under the client timeout.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if c.api == nil {
		return ErrNotConfigured
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("delete auth user: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- c.api.AdminDeleteUser(authtypes.AdminDeleteUserRequest{UserID: id})
	}()
	select {
	case err = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete auth user: %w", err)
	}
	return nil
}

// the client reports HTTP failures as "response status code N: body"
func isNotFound(err error) bool {
	return strings.Contains(err.Error(), fmt.Sprintf("status code %d", http.StatusNotFound))
}

func newIdentityDeleter(cfg *cfgpkg.Config) IdentityDeleter { return NewClient(cfg.Supabase) }

var Module = fx.Options(
	fx.Provide(newIdentityDeleter),
)
