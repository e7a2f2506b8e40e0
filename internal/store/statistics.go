package store

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/pkg/types"
)

// DataPoint is one row of a dashboard series.
type DataPoint struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

// DailyCreatedCounts counts rows of table per creation day, newest first.
// table must come from a fixed list, never from the request.
func (s *Store) DailyCreatedCounts(ctx context.Context, table string, where types.FiltersWhere) ([]DataPoint, error) {
	var out []DataPoint
	err := s.db.WithContext(ctx).Table(table).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') AS date, count(*) AS value").
		Where(clause.Where{Exprs: []clause.Expression{where}}).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true}).
		Find(&out).Error
	return out, translate(err)
}

// CountGroupedBy counts rows of table per value of column.
func (s *Store) CountGroupedBy(ctx context.Context, table, column string, where types.FiltersWhere) ([]DataPoint, error) {
	var out []DataPoint
	err := s.db.WithContext(ctx).Table(table).
		Select(column + " AS label, count(*) AS value").
		Where(clause.Where{Exprs: []clause.Expression{where}}).
		Group(column).
		Order("label").
		Find(&out).Error
	return out, translate(err)
}

func (s *Store) UpsertSubscriptionSnapshots(ctx context.Context, rows []*models.SubscriptionDailySnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "snapshot_date"}, {Name: "status"}},
		DoUpdates: clause.AssignmentColumns([]string{"count", "updated_at"}),
	}).Create(&rows).Error
	return translate(err)
}

func (s *Store) ListSubscriptionSnapshots(ctx context.Context, where types.FiltersWhere) ([]DataPoint, error) {
	var out []DataPoint
	err := s.db.WithContext(ctx).Model(&models.SubscriptionDailySnapshot{}).
		Select("snapshot_date AS date, status AS label, count AS value").
		Where(clause.Where{Exprs: []clause.Expression{where}}).
		Order("snapshot_date DESC, status").
		Find(&out).Error
	return out, translate(err)
}
