package handbook

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/app/service/subscription"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/tool"
	"github.com/handbok-org/handbok/pkg/types"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidSubdomain  = errors.New("invalid subdomain")
	ErrSubdomainTaken    = errors.New("subdomain is already taken")
	ErrForbidden         = errors.New("forbidden")
	ErrMemberNotFound    = errors.New("member not found")
	ErrCannotRemoveOwner = errors.New("the handbook owner cannot be removed")
	ErrHandbookNotFound  = errors.New("handbook not found")
)

var subdomainPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

// reservedSubdomains are taken by the platform itself.
var reservedSubdomains = []string{
	"www", "api", "app", "admin", "mail", "smtp", "ftp", "static", "assets", "cdn",
	"auth", "login", "logout", "signup", "register", "dashboard", "account", "billing",
	"support", "help", "docs", "blog", "status", "test", "staging", "dev", "handbok",
}

var subdomainReplacer = strings.NewReplacer("å", "a", "ä", "a", "ö", "o", "é", "e", " ", "-", "_", "-", ".", "-")

type CreateRequest struct {
	Title            string `json:"title" validate:"required,max=255"`
	Subdomain        string `json:"subdomain" validate:"required"`
	OrganizationName string `json:"organization_name" validate:"max=255"`
	ForumEnabled     bool   `json:"forum_enabled"`
}

type Repository interface {
	GetHandbook(ctx context.Context, id string) (*models.Handbook, error)
	CreateHandbook(ctx context.Context, h *models.Handbook, owner *models.HandbookMember, sub *models.Subscription) error
	DeleteMembership(ctx context.Context, handbookID, userID string) (bool, error)
}

type AccessControl interface {
	IsAdmin(ctx context.Context, userID, handbookID string) bool
	ClearCache(userID string) int
}

type Service struct {
	repo     Repository
	access   AccessControl
	audit    *audit.Service
	clock    clock.Clock
	validate *validator.Validate
	log      *zap.SugaredLogger
}

func NewService(repo Repository, ac AccessControl, auditSvc *audit.Service, clk clock.Clock, log *zap.SugaredLogger) *Service {
	return &Service{
		repo:     repo,
		access:   ac,
		audit:    auditSvc,
		clock:    clk,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// NormalizeSubdomain lowercases, folds Swedish letters and checks the result.
func NormalizeSubdomain(raw string) (string, error) {
	s := subdomainReplacer.Replace(strings.ToLower(strings.TrimSpace(raw)))
	if len(s) < 3 || len(s) > 63 || !subdomainPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q must be 3-63 characters of a-z, 0-9 and inner hyphens", ErrInvalidSubdomain, raw)
	}
	if lo.Contains(reservedSubdomains, s) {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidSubdomain, s)
	}
	return s, nil
}

// Create stores a handbook with its owner as admin and a trial subscription.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*models.Handbook, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	subdomain, err := NormalizeSubdomain(req.Subdomain)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	trial := subscription.NewTrial(tool.GenerateUUIDV7(), ownerID, "", now)
	hb := &models.Handbook{
		ID:               tool.GenerateUUIDV7(),
		Title:            req.Title,
		Subdomain:        subdomain,
		OwnerID:          &ownerID,
		IsTrial:          true,
		TrialEndDate:     trial.ExpiresAt,
		ForumEnabled:     req.ForumEnabled,
		OrganizationName: req.OrganizationName,
	}
	trial.HandbookID = hb.ID
	owner := &models.HandbookMember{
		ID:         tool.GenerateUUIDV7(),
		HandbookID: hb.ID,
		UserID:     ownerID,
		Role:       types.MemberRoleAdmin,
	}

	if err := s.repo.CreateHandbook(ctx, hb, owner, trial); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrSubdomainTaken
		}
		return nil, fmt.Errorf("create handbook: %w", err)
	}
	s.access.ClearCache(ownerID)
	s.audit.Log(ctx, audit.Entry{
		UserID:       ownerID,
		Action:       audit.ActionHandbookCreated,
		ResourceType: "handbook",
		ResourceID:   hb.ID,
		Details:      map[string]any{"subdomain": subdomain, "trial_end_date": trial.ExpiresAt},
	})
	logctx.FromCtx(ctx, s.log).Infow("handbook_created", "handbook_id", hb.ID, "subdomain", subdomain)
	return hb, nil
}

// RemoveMember requires an admin, owner or superadmin actor. The owner stays.
func (s *Service) RemoveMember(ctx context.Context, actorID, handbookID, userID string) error {
	hb, err := s.repo.GetHandbook(ctx, handbookID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrHandbookNotFound
	}
	if err != nil {
		return fmt.Errorf("get handbook: %w", err)
	}
	if !s.access.IsAdmin(ctx, actorID, handbookID) {
		return ErrForbidden
	}
	if hb.IsOwnedBy(userID) {
		return ErrCannotRemoveOwner
	}
	removed, err := s.repo.DeleteMembership(ctx, handbookID, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if !removed {
		return ErrMemberNotFound
	}
	cleared := s.access.ClearCache(userID)
	s.audit.Log(ctx, audit.Entry{
		UserID:       actorID,
		Action:       audit.ActionMemberRemoved,
		ResourceType: "handbook_member",
		ResourceID:   handbookID + "/" + userID,
		Risk:         types.RiskLevelMedium,
		Details:      map[string]any{"removed_user_id": userID, "cache_entries_cleared": cleared},
	})
	return nil
}

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Provide(func(s *store.Store) Repository { return s }),
	fx.Provide(func(c *access.Checker) AccessControl { return c }),
)
