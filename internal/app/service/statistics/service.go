package statistics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/tool"
	"github.com/handbok-org/handbok/pkg/types"
)

type StatisticType string

const (
	// Daily counts
	StatisticTypeDailyHandbookCount    StatisticType = "daily_handbook_count"
	StatisticTypeDailyGDPRRequestCount StatisticType = "daily_gdpr_request_count"
	StatisticTypeDailySubscriptions    StatisticType = "daily_subscription_snapshot"

	// Breakdowns by status
	StatisticTypeGDPRRequestsByStatus    StatisticType = "gdpr_requests_by_status"
	StatisticTypeSubscriptionsByStatus   StatisticType = "subscriptions_by_status"
	StatisticTypeDocumentImportsByStatus StatisticType = "document_imports_by_status"
)

// validFilters lists which statistics accept a filter field; other
// filters are dropped for that statistic.
var validFilters = map[string][]StatisticType{
	"created_at": {
		StatisticTypeDailyHandbookCount, StatisticTypeDailyGDPRRequestCount,
		StatisticTypeGDPRRequestsByStatus, StatisticTypeSubscriptionsByStatus, StatisticTypeDocumentImportsByStatus,
	},
	"snapshot_date": {StatisticTypeDailySubscriptions},
}

type DataItem struct {
	ID StatisticType `json:"id"`
}

type Request struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*DataItem           `json:"data_items"`
}

// Validate checks every filter field against the known set.
func (r *Request) Validate() error {
	if len(r.DataItems) == 0 {
		return fmt.Errorf("no data items requested")
	}
	for _, f := range r.Filters {
		if f == nil {
			return fmt.Errorf("nil filter")
		}
		if err := f.Validate(lo.Keys(validFilters)); err != nil {
			return err
		}
	}
	return nil
}

// FiltersFor keeps the filters that apply to statisticType.
func (r *Request) FiltersFor(statisticType StatisticType) types.FiltersWhere {
	return lo.Filter(r.Filters, func(f *types.CommonFilter, _ int) bool {
		return lo.Contains(validFilters[f.Field], statisticType)
	})
}

type Response struct {
	DataItems map[StatisticType][]store.DataPoint `json:"data_items"`
}

type Repository interface {
	DailyCreatedCounts(ctx context.Context, table string, where types.FiltersWhere) ([]store.DataPoint, error)
	CountGroupedBy(ctx context.Context, table, column string, where types.FiltersWhere) ([]store.DataPoint, error)
	UpsertSubscriptionSnapshots(ctx context.Context, rows []*models.SubscriptionDailySnapshot) error
	ListSubscriptionSnapshots(ctx context.Context, where types.FiltersWhere) ([]store.DataPoint, error)
}

// Service computes the admin dashboard.
type Service struct {
	repo Repository
}

func New(repo Repository) *Service { return &Service{repo: repo} }

// SaveSubscriptionDailySnapshot stores the per-status counts for day,
// overwriting an earlier snapshot of the same day.
func (s *Service) SaveSubscriptionDailySnapshot(ctx context.Context, byStatus map[types.SubscriptionStatus]int64, day time.Time) error {
	date := day.Format(time.DateOnly)
	rows := make([]*models.SubscriptionDailySnapshot, 0, len(byStatus))
	for status, n := range byStatus {
		rows = append(rows, &models.SubscriptionDailySnapshot{
			ID:           tool.GenerateUUIDV7(),
			SnapshotDate: date,
			Status:       status,
			Count:        n,
		})
	}
	return s.repo.UpsertSubscriptionSnapshots(ctx, rows)
}

func (s *Service) get(ctx context.Context, req *Request, id StatisticType) ([]store.DataPoint, error) {
	where := req.FiltersFor(id)
	switch id {
	case StatisticTypeDailyHandbookCount:
		return s.repo.DailyCreatedCounts(ctx, models.Handbook{}.TableName(), where)
	case StatisticTypeDailyGDPRRequestCount:
		return s.repo.DailyCreatedCounts(ctx, models.GDPRRequest{}.TableName(), where)
	case StatisticTypeDailySubscriptions:
		return s.repo.ListSubscriptionSnapshots(ctx, where)
	case StatisticTypeGDPRRequestsByStatus:
		return s.repo.CountGroupedBy(ctx, models.GDPRRequest{}.TableName(), "status", where)
	case StatisticTypeSubscriptionsByStatus:
		return s.repo.CountGroupedBy(ctx, models.Subscription{}.TableName(), "status", where)
	case StatisticTypeDocumentImportsByStatus:
		return s.repo.CountGroupedBy(ctx, models.DocumentImport{}.TableName(), "status", where)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", id)
	}
}

// GetDashboard computes every requested item concurrently. Any failed item
// fails the whole dashboard.
func (s *Service) GetDashboard(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(req.DataItems))
	resChan := make(chan lo.Entry[StatisticType, []store.DataPoint], len(req.DataItems))

	for _, item := range req.DataItems {
		wg.Add(1)
		go func(di *DataItem) {
			defer wg.Done()
			res, err := s.get(ctx, req, di.ID)
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", di.ID, err)
				return
			}
			if res == nil {
				res = []store.DataPoint{}
			}
			resChan <- lo.Entry[StatisticType, []store.DataPoint]{Key: di.ID, Value: res}
		}(item)
	}

	wg.Wait()
	close(errChan)
	close(resChan)
	if err := <-errChan; err != nil {
		return nil, err
	}

	results := make(map[StatisticType][]store.DataPoint, len(req.DataItems))
	for entry := range resChan {
		results[entry.Key] = entry.Value
	}
	return &Response{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Provide(func(s *store.Store) Repository { return s }),
)
