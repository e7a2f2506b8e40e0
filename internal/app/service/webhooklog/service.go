package webhooklog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/tool"
)

type Repository interface {
	SaveWebhookLog(ctx context.Context, l *models.WebhookLog) error
	DeleteWebhookLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

type Service struct {
	repo Repository
	log  *zap.SugaredLogger
	wg   sync.WaitGroup
}

func New(repo Repository, log *zap.SugaredLogger) *Service { return &Service{repo: repo, log: log} }

// Save asynchronously persists a webhook log. Nil input is ignored.
func (s *Service) Save(ctx context.Context, entry *models.WebhookLog) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	row := *entry
	ctx = logctx.Detach(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.repo.SaveWebhookLog(ctx, &row); err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save webhook log: %v", err)
		}
	}()
}

// Flush waits for pending saves.
func (s *Service) Flush() { s.wg.Wait() }

// DeleteBefore drops logs received before the cutoff.
func (s *Service) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.DeleteWebhookLogsBefore(ctx, before)
}

func registerFlush(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		s.Flush()
		return nil
	}})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Provide(func(s *store.Store) Repository { return s }),
	fx.Invoke(registerFlush),
)
