package db

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/handbok-org/handbok/internal/models"
	cfgpkg "github.com/handbok-org/handbok/pkg/config"
	gormzap "github.com/handbok-org/handbok/pkg/gormlog"
)

// migrationLockID serialises AutoMigrate across replicas starting together.
const migrationLockID int64 = 7_240_318_551

func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	if cfg.Database.DSN == "" {
		l.Error("database DSN is empty")
		return nil, gorm.ErrInvalidDB
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormzap.New(l, gormzap.Options{
			SlowThreshold: cfg.Database.SlowThreshold,
			Verbose:       cfg.Env == cfgpkg.EnvDev,
		}),
		TranslateError: true,
	})
	if err != nil {
		l.Errorf("failed to connect database: %v", err)
		return nil, err
	}
	l.Infow("connected to postgres via DSN")
	return db, nil
}

var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Invoke(autoMigrateOnStart),
	fx.Invoke(registerDBClose),
)

func autoMigrateOnStart(l *zap.SugaredLogger, cfg *cfgpkg.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		l.Infow("automigrate disabled")
		return nil
	}
	return AutoMigrate(context.Background(), l, db)
}

// AutoMigrate creates or updates every table under a postgres advisory lock.
func AutoMigrate(ctx context.Context, l *zap.SugaredLogger, db *gorm.DB) error {
	return withMigrationLock(ctx, db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(models.All()...); err != nil {
			l.Errorf("automigrate failed: %v", err)
			return err
		}
		l.Infow("automigrate completed", "tables", len(models.All()))
		return nil
	})
}

func withMigrationLock(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	// advisory locks are session scoped; pin one connection for lock, work and unlock
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID) //nolint:errcheck

	pinned, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger:         db.Logger,
		TranslateError: true,
	})
	if err != nil {
		return err
	}
	return fn(pinned.WithContext(ctx))
}

// registerDBClose ensures the underlying *sql.DB is closed on shutdown
func registerDBClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing postgres connection pool")
			return sqlDB.Close()
		},
	})
}
