package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/pkg/types"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

const pgUniqueViolation = "23505"

// Store is the gorm-backed data access layer. Services depend on the narrow
// repository interfaces they declare; Store satisfies all of them.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) PingContext(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// HandbookMembership is a handbook the user belongs to without owning it.
type HandbookMembership struct {
	Handbook *models.Handbook
	Role     types.MemberRole
}

// SectionWithPages is one handbook section with its pages in display order.
type SectionWithPages struct {
	Section *models.Section
	Pages   []*models.Page
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.Is(err, gorm.ErrDuplicatedKey) || (errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation) {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}

func (s *Store) first(ctx context.Context, dest any, query string, args ...any) error {
	return translate(s.db.WithContext(ctx).Where(query, args...).Take(dest).Error)
}

var Module = fx.Options(
	fx.Provide(New),
)
