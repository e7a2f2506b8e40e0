package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/handbok-org/handbok/internal/app/api/server"
	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/app/service/billing"
	"github.com/handbok-org/handbok/internal/app/service/documents"
	"github.com/handbok-org/handbok/internal/app/service/forum"
	"github.com/handbok-org/handbok/internal/app/service/gdpr"
	"github.com/handbok-org/handbok/internal/app/service/handbook"
	"github.com/handbok-org/handbok/internal/app/service/maintenance"
	"github.com/handbok-org/handbok/internal/app/service/statistics"
	"github.com/handbok-org/handbok/internal/app/service/subscription"
	"github.com/handbok-org/handbok/internal/app/service/webhooklog"
	"github.com/handbok-org/handbok/internal/platform/authadmin"
	"github.com/handbok-org/handbok/internal/platform/db"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/platform/ocr"
	"github.com/handbok-org/handbok/internal/platform/redisclient"
	"github.com/handbok-org/handbok/internal/platform/storage"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// bindings satisfy interfaces a service declares over another service.
var bindings = fx.Options(
	fx.Provide(func(s *subscription.Service) access.StatusSource { return s }),
	fx.Provide(func(c *access.Checker) gdpr.CacheClearer { return c }),
	fx.Provide(func(c *access.Checker) documents.RoleChecker { return c }),
)

// Core is everything except the HTTP listener; the CLI runs on it.
var Core = fx.Options(
	logger.Module,
	config.Module,
	clock.Module,
	db.Module,
	store.Module,
	storage.Module,
	authadmin.Module,
	email.Module,
	ocr.Module,
	audit.Module,
	access.Module,
	subscription.Module,
	gdpr.Module,
	documents.Module,
	forum.Module,
	webhooklog.Module,
	billing.Module,
	statistics.Module,
	maintenance.Module,
	handbook.Module,
	bindings,
)

var Module = fx.Options(
	Core,
	redisclient.Module,
	server.Module,
)
