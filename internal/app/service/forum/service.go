package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/tool"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrTopicNotFound  = errors.New("topic not found")
	ErrPostNotFound   = errors.New("reply not found")
	ErrForbidden      = errors.New("forbidden")
	ErrForumDisabled  = errors.New("forum is disabled for this handbook")
)

const (
	notificationTypeReply = "new_reply"
	previewLength         = 200
	notifyTimeout         = 30 * time.Second
)

type Repository interface {
	GetHandbook(ctx context.Context, id string) (*models.Handbook, error)
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetTopic(ctx context.Context, id string) (*models.ForumTopic, error)
	GetPost(ctx context.Context, id string) (*models.ForumPost, error)
	ListReplies(ctx context.Context, topicID string, limit int) ([]*models.ForumPost, error)
	CountReplies(ctx context.Context, topicID string) (int64, error)
	CreateReply(ctx context.Context, post *models.ForumPost) error
	DeleteReply(ctx context.Context, post *models.ForumPost) error
	ListParticipantIDs(ctx context.Context, topicID string) ([]string, error)
	GetNotificationPreference(ctx context.Context, userID, handbookID string) (*models.NotificationPreference, error)
	CreateForumNotifications(ctx context.Context, items []*models.ForumNotification) error
}

type AccessChecker interface {
	HasAccess(ctx context.Context, userID, handbookID string) access.Result
	IsAdmin(ctx context.Context, userID, handbookID string) bool
}

type ListRepliesRequest struct {
	TopicID string `form:"topicId" validate:"required"`
	Limit   int    `form:"limit" validate:"gte=0,lte=500"`
	All     bool   `form:"all"`
}

type ListRepliesResponse struct {
	Replies []*models.ForumPost `json:"replies"`
	Total   int64               `json:"total"`
	HasMore bool                `json:"has_more"`
}

type CreateReplyRequest struct {
	TopicID string `json:"topic_id" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type Service struct {
	cfg      *config.Config
	repo     Repository
	access   AccessChecker
	mail     email.Sender
	clock    clock.Clock
	validate *validator.Validate
	log      *zap.SugaredLogger
	wg       sync.WaitGroup
}

func NewService(cfg *config.Config, repo Repository, checker AccessChecker, mail email.Sender, clk clock.Clock, log *zap.SugaredLogger) *Service {
	return &Service{
		cfg:      cfg,
		repo:     repo,
		access:   checker,
		mail:     mail,
		clock:    clk,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// loadTopic resolves the topic and its handbook and checks the caller may read it.
func (s *Service) loadTopic(ctx context.Context, userID, topicID string) (*models.ForumTopic, *models.Handbook, error) {
	topic, err := s.repo.GetTopic(ctx, topicID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrTopicNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get topic: %w", err)
	}
	if res := s.access.HasAccess(ctx, userID, topic.HandbookID); !res.HasAccess {
		return nil, nil, fmt.Errorf("%w: %s", ErrForbidden, res.Reason)
	}
	hb, err := s.repo.GetHandbook(ctx, topic.HandbookID)
	if err != nil {
		return nil, nil, fmt.Errorf("get handbook: %w", err)
	}
	return topic, hb, nil
}

// ListReplies returns the newest limit replies in ascending order, or every
// reply when all is set.
func (s *Service) ListReplies(ctx context.Context, userID string, req ListRepliesRequest) (*ListRepliesResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, _, err := s.loadTopic(ctx, userID, req.TopicID); err != nil {
		return nil, err
	}
	limit := 0
	if !req.All {
		limit = req.Limit
		if limit == 0 {
			limit = s.cfg.Forum.DefaultReplyLimit
		}
	}
	replies, err := s.repo.ListReplies(ctx, req.TopicID, limit)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	total, err := s.repo.CountReplies(ctx, req.TopicID)
	if err != nil {
		return nil, fmt.Errorf("count replies: %w", err)
	}
	if replies == nil {
		replies = []*models.ForumPost{}
	}
	return &ListRepliesResponse{Replies: replies, Total: total, HasMore: int64(len(replies)) < total}, nil
}

func (s *Service) CreateReply(ctx context.Context, userID string, req CreateReplyRequest) (*models.ForumPost, error) {
	req.Content = strings.TrimSpace(req.Content)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if n := utf8.RuneCountInString(req.Content); n > s.cfg.Forum.MaxReplyLength {
		return nil, fmt.Errorf("%w: content is %d characters, max %d", ErrInvalidRequest, n, s.cfg.Forum.MaxReplyLength)
	}
	topic, hb, err := s.loadTopic(ctx, userID, req.TopicID)
	if err != nil {
		return nil, err
	}
	if !hb.ForumEnabled {
		return nil, ErrForumDisabled
	}
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	post := &models.ForumPost{
		ID:          tool.GenerateUUIDV7(),
		TopicID:     topic.ID,
		HandbookID:  topic.HandbookID,
		AuthorID:    &userID,
		AuthorName:  displayName(profile),
		AuthorEmail: lo.EmptyableToPtr(profile.Email),
		Content:     req.Content,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.CreateReply(ctx, post); err != nil {
		return nil, fmt.Errorf("create reply: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("forum_reply_created", "topic_id", topic.ID, "post_id", post.ID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		nctx, cancel := context.WithTimeout(logctx.Detach(ctx), notifyTimeout)
		defer cancel()
		s.notify(nctx, hb, topic, post)
	}()
	return post, nil
}

// DeleteReply is allowed for the author and for handbook admins and owners.
func (s *Service) DeleteReply(ctx context.Context, userID, postID string) error {
	post, err := s.repo.GetPost(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		return fmt.Errorf("get reply: %w", err)
	}
	isAuthor := post.AuthorID != nil && *post.AuthorID == userID
	if !isAuthor && !s.access.IsAdmin(ctx, userID, post.HandbookID) {
		return ErrForbidden
	}
	if err := s.repo.DeleteReply(ctx, post); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrPostNotFound
		}
		return fmt.Errorf("delete reply: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("forum_reply_deleted", "topic_id", post.TopicID, "post_id", post.ID, "by_author", isAuthor)
	return nil
}

// Wait blocks until pending notifications are dispatched.
func (s *Service) Wait() { s.wg.Wait() }

func displayName(p *models.Profile) string {
	if p.FullName != "" {
		return p.FullName
	}
	if local, _, ok := strings.Cut(p.Email, "@"); ok {
		return local
	}
	return "Anonym"
}

func registerShutdown(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		s.Wait()
		return nil
	}})
}

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Provide(func(s *store.Store) Repository { return s }),
	fx.Provide(func(c *access.Checker) AccessChecker { return c }),
	fx.Invoke(registerShutdown),
)
