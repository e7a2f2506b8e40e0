package access

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/store"
	cfgpkg "github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/metrics"
	"github.com/handbok-org/handbok/pkg/types"
)

const (
	ReasonOwner            = "owner"
	ReasonSuperadmin       = "superadmin"
	ReasonMember           = "member"
	ReasonHandbookNotFound = "handbook_not_found"
	ReasonNotAMember       = "not_a_member"
	ReasonCheckFailed      = "access_check_failed"
)

type Result struct {
	HasAccess          bool                     `json:"has_access"`
	Reason             string                   `json:"reason"`
	Role               types.MemberRole         `json:"role,omitempty"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	Metadata           map[string]any           `json:"metadata,omitempty"`
}

// IsOwner is true for owners; they outrank every member role.
func (r Result) IsOwner() bool { return r.Reason == ReasonOwner }

type Repository interface {
	GetHandbook(ctx context.Context, id string) (*models.Handbook, error)
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetMember(ctx context.Context, handbookID, userID string) (*models.HandbookMember, error)
}

// StatusSource reports the current subscription status of a handbook.
type StatusSource interface {
	HandbookStatus(ctx context.Context, handbookID string) (types.SubscriptionStatus, error)
}

type Checker struct {
	repo   Repository
	status StatusSource
	cache  *Cache
	log    *zap.SugaredLogger
}

func NewChecker(repo Repository, status StatusSource, cache *Cache, log *zap.SugaredLogger) *Checker {
	return &Checker{repo: repo, status: status, cache: cache, log: log}
}

func denied(reason string) Result {
	return Result{Reason: reason, SubscriptionStatus: types.SubscriptionStatusNone}
}

// HasAccess never returns an error: lookup failures become a denial with
// reason access_check_failed, which is not cached.
func (c *Checker) HasAccess(ctx context.Context, userID, handbookID string) (res Result) {
	if userID == "" || handbookID == "" {
		return denied(ReasonNotAMember)
	}
	if cached, ok := c.cache.Get(userID, handbookID); ok {
		metrics.IncAccessCache(true)
		return cached
	}
	metrics.IncAccessCache(false)

	defer func() {
		if r := recover(); r != nil {
			logctx.FromCtx(ctx, c.log).Errorw("access_check_panic", "handbook_id", handbookID, "panic", r)
			res = denied(ReasonCheckFailed)
		}
	}()

	res, err := c.resolve(ctx, userID, handbookID)
	if err != nil {
		logctx.FromCtx(ctx, c.log).Warnw("access_check_failed", "handbook_id", handbookID, "err", err)
		return denied(ReasonCheckFailed)
	}
	c.cache.Set(userID, handbookID, res)
	return res
}

func (c *Checker) resolve(ctx context.Context, userID, handbookID string) (Result, error) {
	hb, err := c.repo.GetHandbook(ctx, handbookID)
	if errors.Is(err, store.ErrNotFound) {
		return denied(ReasonHandbookNotFound), nil
	}
	if err != nil {
		return Result{}, err
	}

	var res Result
	switch {
	case hb.IsOwnedBy(userID):
		res = Result{HasAccess: true, Reason: ReasonOwner, Role: types.MemberRoleAdmin}
	default:
		profile, err := c.repo.GetProfile(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Result{}, err
		}
		if profile != nil && profile.IsSuperadmin {
			res = Result{HasAccess: true, Reason: ReasonSuperadmin, Role: types.MemberRoleAdmin}
			break
		}
		member, err := c.repo.GetMember(ctx, handbookID, userID)
		if errors.Is(err, store.ErrNotFound) {
			return denied(ReasonNotAMember), nil
		}
		if err != nil {
			return Result{}, err
		}
		res = Result{HasAccess: true, Reason: ReasonMember, Role: member.Role}
	}

	res.SubscriptionStatus = types.SubscriptionStatusNone
	if c.status != nil {
		status, err := c.status.HandbookStatus(ctx, handbookID)
		if err != nil {
			logctx.FromCtx(ctx, c.log).Warnw("access_subscription_status_failed", "handbook_id", handbookID, "err", err)
		} else {
			res.SubscriptionStatus = status
		}
	}
	res.Metadata = map[string]any{"handbook_title": hb.Title, "subdomain": hb.Subdomain}
	return res, nil
}

// HasRole grants owners and superadmins, and members ranked at least min.
func (c *Checker) HasRole(ctx context.Context, userID, handbookID string, min types.MemberRole) (bool, Result) {
	res := c.HasAccess(ctx, userID, handbookID)
	if !res.HasAccess {
		return false, res
	}
	if res.Reason == ReasonOwner || res.Reason == ReasonSuperadmin {
		return true, res
	}
	return res.Role.Rank() >= min.Rank(), res
}

// CanEdit reports whether the user may change handbook content.
func (c *Checker) CanEdit(ctx context.Context, userID, handbookID string) bool {
	ok, _ := c.HasRole(ctx, userID, handbookID, types.MemberRoleEditor)
	return ok
}

// IsAdmin reports whether the user may moderate the handbook.
func (c *Checker) IsAdmin(ctx context.Context, userID, handbookID string) bool {
	ok, _ := c.HasRole(ctx, userID, handbookID, types.MemberRoleAdmin)
	return ok
}

func (c *Checker) ClearCache(userID string) int { return c.cache.ClearCache(userID) }

func newCache(cfg *cfgpkg.Config, clk clock.Clock) *Cache {
	return NewCache(cfg.Access.CacheTTL, clk)
}

var Module = fx.Options(
	fx.Provide(newCache),
	fx.Provide(NewChecker),
	fx.Provide(func(s *store.Store) Repository { return s }),
)
