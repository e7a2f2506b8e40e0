package gdpr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/authadmin"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/types"
)

var (
	ErrConfirmationRequired = errors.New("confirm_understanding must be true")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrNoActiveDeletion     = errors.New("no active deletion request")
	ErrDeletionInProgress   = errors.New("deletion is already being executed")
	ErrCancelWindowClosed   = errors.New("the cancellation window has closed")
	ErrImmediateNotAllowed  = errors.New("immediate deletion is reserved for superadmins")

	ErrInvalidToken         = errors.New("invalid download token")
	ErrExportNotFound       = errors.New("export not found")
	ErrExportExpired        = errors.New("export link has expired")
	ErrDownloadLimitReached = errors.New("download limit reached")
)

const (
	ConflictRequestExists = "deletion_request_exists"
	ConflictOwnsHandbooks = "owns_handbooks"
)

type ExistingRequest struct {
	ID        string                  `json:"id"`
	Status    types.GDPRRequestStatus `json:"status"`
	CreatedAt time.Time               `json:"created_at"`
}

type HandbookRef struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Subdomain string `json:"subdomain"`
}

// ConflictError carries what a client needs to resolve a 409: the request it
// may cancel, or the handbooks it must acknowledge.
type ConflictError struct {
	Reason                       string           `json:"reason"`
	ExistingRequest              *ExistingRequest `json:"existing_request,omitempty"`
	OwnedHandbooks               []HandbookRef    `json:"owned_handbooks,omitempty"`
	RequiresExplicitConfirmation bool             `json:"requires_explicit_confirmation,omitempty"`
}

func (e *ConflictError) Error() string {
	switch e.Reason {
	case ConflictOwnsHandbooks:
		return fmt.Sprintf("user owns %d handbook(s)", len(e.OwnedHandbooks))
	default:
		return "a deletion request is already pending"
	}
}

// Requester identifies the authenticated caller.
type Requester struct {
	UserID string
	Email  string
	IP     string
}

type Repository interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	ListOwnedHandbooks(ctx context.Context, userID string) ([]*models.Handbook, error)
	ListMemberHandbooks(ctx context.Context, userID string) ([]store.HandbookMembership, error)
	ListSectionsWithPages(ctx context.Context, handbookID string) ([]store.SectionWithPages, error)
	DeleteHandbook(ctx context.Context, handbookID string) error
	DeleteMembership(ctx context.Context, handbookID, userID string) (bool, error)

	FindActiveDeletionRequest(ctx context.Context, userID string) (*models.GDPRRequest, error)
	CreateGDPRRequest(ctx context.Context, r *models.GDPRRequest) error
	TransitionGDPRRequest(ctx context.Context, id string, from []types.GDPRRequestStatus, to types.GDPRRequestStatus, at time.Time) (bool, error)
	ListGDPRRequests(ctx context.Context, userID string) ([]*models.GDPRRequest, error)

	CreateAccountDeletion(ctx context.Context, d *models.AccountDeletion) error
	GetOpenAccountDeletion(ctx context.Context, userID string) (*models.AccountDeletion, error)
	ListOpenAccountDeletions(ctx context.Context, limit int) ([]*models.AccountDeletion, error)
	TransitionAccountDeletion(ctx context.Context, id string, from, to types.AccountDeletionStatus, at time.Time) (bool, error)
	FailAccountDeletion(ctx context.Context, id string, from types.AccountDeletionStatus, reason string, at time.Time) (bool, error)

	CreateExport(ctx context.Context, e *models.GDPRExport) error
	GetExportByToken(ctx context.Context, token string) (*models.GDPRExport, error)
	ExpireExport(ctx context.Context, id string) error
	ClaimExportDownload(ctx context.Context, id string, now time.Time) (bool, error)
	ListConsents(ctx context.Context, userID string) ([]*models.UserConsent, error)
	ListAuditLogsForUser(ctx context.Context, userID string, since time.Time, limit int) ([]*models.AuditLog, error)

	AnonymizeOwnedHandbooks(ctx context.Context, userID string) (int64, error)
	DeleteMemberships(ctx context.Context, userID string) (int64, error)
	AnonymizeForumContent(ctx context.Context, userID string) (int64, error)
	AnonymizeAuditLogs(ctx context.Context, userID string) (int64, error)
	DeleteExports(ctx context.Context, userID string) (int64, error)
	DeleteConsents(ctx context.Context, userID string) (int64, error)
	DeleteNotificationPreferences(ctx context.Context, userID string) (int64, error)
	DeleteProfile(ctx context.Context, userID string) (int64, error)
}

// CacheClearer drops memoised access decisions for a user.
type CacheClearer interface {
	ClearCache(userID string) int
}

type Service struct {
	cfg      *config.Config
	repo     Repository
	identity authadmin.IdentityDeleter
	audit    *audit.Service
	mail     email.Sender
	access   CacheClearer
	clock    clock.Clock
	validate *validator.Validate
	log      *zap.SugaredLogger
}

func New(cfg *config.Config, repo Repository, identity authadmin.IdentityDeleter, auditSvc *audit.Service, mail email.Sender, access CacheClearer, clk clock.Clock, log *zap.SugaredLogger) *Service {
	return &Service{
		cfg:      cfg,
		repo:     repo,
		identity: identity,
		audit:    auditSvc,
		mail:     mail,
		access:   access,
		clock:    clk,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

func (s *Service) gracePeriod() time.Duration {
	return time.Duration(s.cfg.GDPR.GracePeriodDays) * 24 * time.Hour
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Provide(func(s *store.Store) Repository { return s }),
)
