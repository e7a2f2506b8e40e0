// Package memstore is an in-process implementation of the store contract used
// by service tests. Conditional updates hold the same guarantees as the SQL
// versions because every method runs under one mutex.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/pkg/types"
)

type MemoryStore struct {
	mu sync.Mutex

	Profiles      map[string]*models.Profile
	Handbooks     map[string]*models.Handbook
	Members       map[string]*models.HandbookMember
	Sections      map[string]*models.Section
	Pages         map[string]*models.Page
	Subscriptions map[string]*models.Subscription
	SubLogs       []*models.SubscriptionLog
	Snapshots     map[string]*models.SubscriptionDailySnapshot
	Requests      map[string]*models.GDPRRequest
	Exports       map[string]*models.GDPRExport
	Deletions     map[string]*models.AccountDeletion
	Consents      map[string]*models.UserConsent
	AuditLogs     []*models.AuditLog
	Alerts        []*models.CriticalAlert
	Topics        map[string]*models.ForumTopic
	Posts         map[string]*models.ForumPost
	Notifications []*models.ForumNotification
	Preferences   map[string]*models.NotificationPreference
	Documents     map[string]*models.DocumentImport
	WebhookLogs   map[string]*models.WebhookLog

	failures map[string]error
	calls    []string
}

func New() *MemoryStore {
	return &MemoryStore{
		Profiles:      map[string]*models.Profile{},
		Handbooks:     map[string]*models.Handbook{},
		Members:       map[string]*models.HandbookMember{},
		Sections:      map[string]*models.Section{},
		Pages:         map[string]*models.Page{},
		Subscriptions: map[string]*models.Subscription{},
		Snapshots:     map[string]*models.SubscriptionDailySnapshot{},
		Requests:      map[string]*models.GDPRRequest{},
		Exports:       map[string]*models.GDPRExport{},
		Deletions:     map[string]*models.AccountDeletion{},
		Consents:      map[string]*models.UserConsent{},
		Topics:        map[string]*models.ForumTopic{},
		Posts:         map[string]*models.ForumPost{},
		Preferences:   map[string]*models.NotificationPreference{},
		Documents:     map[string]*models.DocumentImport{},
		WebhookLogs:   map[string]*models.WebhookLog{},
		failures:      map[string]error{},
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (m *MemoryStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Calls returns the invoked method names in order.
func (m *MemoryStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// enter records the call and returns an injected failure, if any. Caller holds mu.
func (m *MemoryStore) enter(method string) error {
	m.calls = append(m.calls, method)
	return m.failures[method]
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
}

func clone[T any](v *T) *T {
	c := *v
	return &c
}

func stamp(created *time.Time) {
	if created.IsZero() {
		*created = time.Now()
	}
}

// Seeding helpers.

func (m *MemoryStore) PutProfile(p *models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Profiles[p.ID] = clone(p)
}

func (m *MemoryStore) PutHandbook(h *models.Handbook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handbooks[h.ID] = clone(h)
}

func (m *MemoryStore) PutMember(mem *models.HandbookMember) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Members[mem.HandbookID+"/"+mem.UserID] = clone(mem)
}

func (m *MemoryStore) PutSubscription(s *models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscriptions[s.ID] = clone(s)
}

func (m *MemoryStore) PutExport(e *models.GDPRExport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Exports[e.ID] = clone(e)
}

func (m *MemoryStore) PutTopic(t *models.ForumTopic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Topics[t.ID] = clone(t)
}

func (m *MemoryStore) PutPost(p *models.ForumPost) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Posts[p.ID] = clone(p)
}

func (m *MemoryStore) PutSection(sec *models.Section, pages ...*models.Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sections[sec.ID] = clone(sec)
	for _, p := range pages {
		m.Pages[p.ID] = clone(p)
	}
}

func (m *MemoryStore) PutConsent(c *models.UserConsent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Consents[c.ID] = clone(c)
}

func (m *MemoryStore) PutDocument(d *models.DocumentImport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Documents[d.ID] = clone(d)
}

func (m *MemoryStore) PutAuditLog(l *models.AuditLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuditLogs = append(m.AuditLogs, clone(l))
}

func (m *MemoryStore) PutWebhookLog(l *models.WebhookLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WebhookLogs[l.ID] = clone(l)
}

// Snapshot accessors for assertions.

func (m *MemoryStore) Subscription(id string) *models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Subscriptions[id]; ok {
		return clone(s)
	}
	return nil
}

func (m *MemoryStore) Topic(id string) *models.ForumTopic {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.Topics[id]; ok {
		return clone(t)
	}
	return nil
}

func (m *MemoryStore) Export(id string) *models.GDPRExport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.Exports[id]; ok {
		return clone(e)
	}
	return nil
}

func (m *MemoryStore) Document(id string) *models.DocumentImport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.Documents[id]; ok {
		return clone(d)
	}
	return nil
}

func (m *MemoryStore) AllRequests() []*models.GDPRRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.GDPRRequest, 0, len(m.Requests))
	for _, r := range m.Requests {
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) AllDeletions() []*models.AccountDeletion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AccountDeletion, 0, len(m.Deletions))
	for _, d := range m.Deletions {
		out = append(out, clone(d))
	}
	return out
}

func (m *MemoryStore) AuditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.AuditLogs))
	for i, l := range m.AuditLogs {
		out[i] = l.Action
	}
	return out
}

func (m *MemoryStore) AlertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}

func (m *MemoryStore) NotificationsFor(userID string) []*models.ForumNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ForumNotification
	for _, n := range m.Notifications {
		if n.RecipientID == userID {
			out = append(out, clone(n))
		}
	}
	return out
}

// Handbooks, profiles, members.

func (m *MemoryStore) GetHandbook(_ context.Context, id string) (*models.Handbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetHandbook"); err != nil {
		return nil, err
	}
	h, ok := m.Handbooks[id]
	if !ok {
		return nil, notFound("handbook", id)
	}
	return clone(h), nil
}

func (m *MemoryStore) GetHandbookBySubdomain(_ context.Context, subdomain string) (*models.Handbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetHandbookBySubdomain"); err != nil {
		return nil, err
	}
	for _, h := range m.Handbooks {
		if h.Subdomain == subdomain {
			return clone(h), nil
		}
	}
	return nil, notFound("handbook", subdomain)
}

func (m *MemoryStore) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetProfile"); err != nil {
		return nil, err
	}
	p, ok := m.Profiles[userID]
	if !ok {
		return nil, notFound("profile", userID)
	}
	return clone(p), nil
}

func (m *MemoryStore) GetMember(_ context.Context, handbookID, userID string) (*models.HandbookMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetMember"); err != nil {
		return nil, err
	}
	mem, ok := m.Members[handbookID+"/"+userID]
	if !ok {
		return nil, notFound("member", userID)
	}
	return clone(mem), nil
}

func (m *MemoryStore) ListOwnedHandbooks(_ context.Context, userID string) ([]*models.Handbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListOwnedHandbooks"); err != nil {
		return nil, err
	}
	var out []*models.Handbook
	for _, h := range m.Handbooks {
		if h.IsOwnedBy(userID) {
			out = append(out, clone(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListMemberHandbooks(_ context.Context, userID string) ([]store.HandbookMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListMemberHandbooks"); err != nil {
		return nil, err
	}
	var out []store.HandbookMembership
	for _, mem := range m.Members {
		if mem.UserID != userID {
			continue
		}
		h, ok := m.Handbooks[mem.HandbookID]
		if !ok || h.IsOwnedBy(userID) {
			continue
		}
		out = append(out, store.HandbookMembership{Handbook: clone(h), Role: mem.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handbook.ID < out[j].Handbook.ID })
	return out, nil
}

func (m *MemoryStore) CreateHandbook(_ context.Context, h *models.Handbook, owner *models.HandbookMember, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateHandbook"); err != nil {
		return err
	}
	for _, existing := range m.Handbooks {
		if existing.Subdomain == h.Subdomain {
			return fmt.Errorf("subdomain %s: %w", h.Subdomain, store.ErrDuplicate)
		}
	}
	stamp(&h.CreatedAt)
	m.Handbooks[h.ID] = clone(h)
	stamp(&owner.CreatedAt)
	m.Members[owner.HandbookID+"/"+owner.UserID] = clone(owner)
	if sub != nil {
		stamp(&sub.CreatedAt)
		m.Subscriptions[sub.ID] = clone(sub)
	}
	return nil
}

func (m *MemoryStore) DeleteMembership(_ context.Context, handbookID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteMembership"); err != nil {
		return false, err
	}
	key := handbookID + "/" + userID
	_, ok := m.Members[key]
	delete(m.Members, key)
	return ok, nil
}

func (m *MemoryStore) DeleteHandbook(_ context.Context, handbookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteHandbook"); err != nil {
		return err
	}
	for id, sec := range m.Sections {
		if sec.HandbookID != handbookID {
			continue
		}
		for pid, p := range m.Pages {
			if p.SectionID == id {
				delete(m.Pages, pid)
			}
		}
		delete(m.Sections, id)
	}
	for k, mem := range m.Members {
		if mem.HandbookID == handbookID {
			delete(m.Members, k)
		}
	}
	for k, s := range m.Subscriptions {
		if s.HandbookID == handbookID {
			delete(m.Subscriptions, k)
		}
	}
	for k, t := range m.Topics {
		if t.HandbookID == handbookID {
			delete(m.Topics, k)
		}
	}
	for k, p := range m.Posts {
		if p.HandbookID == handbookID {
			delete(m.Posts, k)
		}
	}
	for k, d := range m.Documents {
		if d.HandbookID == handbookID {
			delete(m.Documents, k)
		}
	}
	delete(m.Handbooks, handbookID)
	return nil
}

func (m *MemoryStore) ListSectionsWithPages(_ context.Context, handbookID string) ([]store.SectionWithPages, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListSectionsWithPages"); err != nil {
		return nil, err
	}
	var out []store.SectionWithPages
	for _, sec := range m.Sections {
		if sec.HandbookID != handbookID {
			continue
		}
		item := store.SectionWithPages{Section: clone(sec)}
		for _, p := range m.Pages {
			if p.SectionID == sec.ID {
				item.Pages = append(item.Pages, clone(p))
			}
		}
		sort.Slice(item.Pages, func(i, j int) bool { return item.Pages[i].OrderIndex < item.Pages[j].OrderIndex })
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Section.OrderIndex < out[j].Section.OrderIndex })
	return out, nil
}

// Subscriptions.

func live(s *models.Subscription) bool { return s.Status.Live() }

func (m *MemoryStore) GetLatestSubscription(_ context.Context, handbookID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetLatestSubscription"); err != nil {
		return nil, err
	}
	var latest *models.Subscription
	for _, s := range m.Subscriptions {
		if s.HandbookID == handbookID && (latest == nil || s.CreatedAt.After(latest.CreatedAt)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, notFound("subscription for handbook", handbookID)
	}
	return clone(latest), nil
}

func (m *MemoryStore) GetSubscriptionByStripeID(_ context.Context, stripeID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetSubscriptionByStripeID"); err != nil {
		return nil, err
	}
	for _, s := range m.Subscriptions {
		if s.StripeSubscriptionID != nil && *s.StripeSubscriptionID == stripeID {
			return clone(s), nil
		}
	}
	return nil, notFound("subscription", stripeID)
}

func (m *MemoryStore) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateSubscription"); err != nil {
		return err
	}
	if _, ok := m.Subscriptions[sub.ID]; ok {
		return fmt.Errorf("subscription %s: %w", sub.ID, store.ErrDuplicate)
	}
	stamp(&sub.CreatedAt)
	m.Subscriptions[sub.ID] = clone(sub)
	return nil
}

func (m *MemoryStore) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SaveSubscription"); err != nil {
		return err
	}
	stamp(&sub.CreatedAt)
	m.Subscriptions[sub.ID] = clone(sub)
	return nil
}

func (m *MemoryStore) CreateSubscriptionLog(_ context.Context, l *models.SubscriptionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateSubscriptionLog"); err != nil {
		return err
	}
	stamp(&l.CreatedAt)
	m.SubLogs = append(m.SubLogs, clone(l))
	return nil
}

// UpsertSubscriptionSnapshots keys rows by date and status like the unique index.
func (m *MemoryStore) UpsertSubscriptionSnapshots(_ context.Context, rows []*models.SubscriptionDailySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpsertSubscriptionSnapshots"); err != nil {
		return err
	}
	for _, r := range rows {
		key := r.SnapshotDate + "/" + string(r.Status)
		if old, ok := m.Snapshots[key]; ok {
			old.Count = r.Count
			continue
		}
		m.Snapshots[key] = clone(r)
	}
	return nil
}

func sortByExpiry(out []*models.Subscription) {
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
}

func (m *MemoryStore) ListLapsedTrials(_ context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListLapsedTrials"); err != nil {
		return nil, err
	}
	var out []*models.Subscription
	for _, s := range m.Subscriptions {
		if s.Status == types.SubscriptionStatusTrial && s.ExpiresAt != nil && s.ExpiresAt.Before(now) {
			out = append(out, clone(s))
		}
	}
	sortByExpiry(out)
	return truncate(out, limit), nil
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

func (m *MemoryStore) ExpireTrial(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ExpireTrial"); err != nil {
		return false, err
	}
	s, ok := m.Subscriptions[id]
	if !ok || s.Status != types.SubscriptionStatusTrial || s.ExpiresAt == nil || !s.ExpiresAt.Before(now) {
		return false, nil
	}
	s.Status = types.SubscriptionStatusExpired
	s.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) ListExpiringUnwarned(_ context.Context, from, to time.Time, limit int) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListExpiringUnwarned"); err != nil {
		return nil, err
	}
	var out []*models.Subscription
	for _, s := range m.Subscriptions {
		if !live(s) || s.ExpiresAt == nil || s.LastWarningSentAt != nil {
			continue
		}
		if !s.ExpiresAt.Before(from) && !s.ExpiresAt.After(to) {
			out = append(out, clone(s))
		}
	}
	sortByExpiry(out)
	return truncate(out, limit), nil
}

func (m *MemoryStore) ClaimExpiryWarning(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ClaimExpiryWarning"); err != nil {
		return false, err
	}
	s, ok := m.Subscriptions[id]
	if !ok || s.LastWarningSentAt != nil {
		return false, nil
	}
	s.LastWarningSentAt = &at
	return true, nil
}

func (m *MemoryStore) ReleaseExpiryWarning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ReleaseExpiryWarning"); err != nil {
		return err
	}
	if s, ok := m.Subscriptions[id]; ok {
		s.LastWarningSentAt = nil
	}
	return nil
}

func (m *MemoryStore) ListSoonestExpiring(_ context.Context, limit int) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListSoonestExpiring"); err != nil {
		return nil, err
	}
	var out []*models.Subscription
	for _, s := range m.Subscriptions {
		if live(s) && s.ExpiresAt != nil {
			out = append(out, clone(s))
		}
	}
	sortByExpiry(out)
	return truncate(out, limit), nil
}

func (m *MemoryStore) SuspendSubscription(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SuspendSubscription"); err != nil {
		return false, err
	}
	s, ok := m.Subscriptions[id]
	if !ok || !live(s) {
		return false, nil
	}
	s.Status = types.SubscriptionStatusSuspended
	s.SuspendedAt = &at
	s.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) CountSubscriptionsByStatus(_ context.Context) (map[types.SubscriptionStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CountSubscriptionsByStatus"); err != nil {
		return nil, err
	}
	out := map[types.SubscriptionStatus]int64{}
	for _, s := range m.Subscriptions {
		out[s.Status]++
	}
	return out, nil
}

func (m *MemoryStore) CountExpiringBetween(_ context.Context, from, to time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CountExpiringBetween"); err != nil {
		return 0, err
	}
	var n int64
	for _, s := range m.Subscriptions {
		if live(s) && s.ExpiresAt != nil && !s.ExpiresAt.Before(from) && !s.ExpiresAt.After(to) {
			n++
		}
	}
	return n, nil
}

// GDPR requests, schedules and exports.

func activeDeletion(r *models.GDPRRequest) bool {
	return r.RequestType == types.GDPRRequestTypeDeletion &&
		(r.Status == types.GDPRRequestStatusPending || r.Status == types.GDPRRequestStatusInProgress)
}

func (m *MemoryStore) FindActiveDeletionRequest(_ context.Context, userID string) (*models.GDPRRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindActiveDeletionRequest"); err != nil {
		return nil, err
	}
	for _, r := range m.Requests {
		if r.UserID == userID && activeDeletion(r) {
			return clone(r), nil
		}
	}
	return nil, notFound("active deletion request for", userID)
}

func (m *MemoryStore) CreateGDPRRequest(_ context.Context, r *models.GDPRRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateGDPRRequest"); err != nil {
		return err
	}
	if activeDeletion(r) {
		for _, existing := range m.Requests {
			if existing.UserID == r.UserID && activeDeletion(existing) {
				return fmt.Errorf("deletion request for %s: %w", r.UserID, store.ErrDuplicate)
			}
		}
	}
	stamp(&r.CreatedAt)
	m.Requests[r.ID] = clone(r)
	return nil
}

func (m *MemoryStore) GetGDPRRequest(_ context.Context, id string) (*models.GDPRRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetGDPRRequest"); err != nil {
		return nil, err
	}
	r, ok := m.Requests[id]
	if !ok {
		return nil, notFound("gdpr request", id)
	}
	return clone(r), nil
}

func (m *MemoryStore) TransitionGDPRRequest(_ context.Context, id string, from []types.GDPRRequestStatus, to types.GDPRRequestStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("TransitionGDPRRequest"); err != nil {
		return false, err
	}
	r, ok := m.Requests[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if r.Status == f {
			r.Status = to
			r.UpdatedAt = at
			if to == types.GDPRRequestStatusCompleted || to == types.GDPRRequestStatusFailed || to == types.GDPRRequestStatusCancelled {
				r.ProcessedAt = &at
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListGDPRRequests(_ context.Context, userID string) ([]*models.GDPRRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListGDPRRequests"); err != nil {
		return nil, err
	}
	var out []*models.GDPRRequest
	for _, r := range m.Requests {
		if r.UserID == userID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateAccountDeletion(_ context.Context, d *models.AccountDeletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateAccountDeletion"); err != nil {
		return err
	}
	stamp(&d.CreatedAt)
	m.Deletions[d.ID] = clone(d)
	return nil
}

func openDeletion(d *models.AccountDeletion) bool {
	switch d.Status {
	case types.AccountDeletionStatusPending, types.AccountDeletionStatusWarned75,
		types.AccountDeletionStatusWarned85, types.AccountDeletionStatusWarned89:
		return true
	}
	return false
}

func (m *MemoryStore) GetOpenAccountDeletion(_ context.Context, userID string) (*models.AccountDeletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetOpenAccountDeletion"); err != nil {
		return nil, err
	}
	for _, d := range m.Deletions {
		if d.UserID == userID && openDeletion(d) {
			return clone(d), nil
		}
	}
	return nil, notFound("open account deletion for", userID)
}

func (m *MemoryStore) ListOpenAccountDeletions(_ context.Context, limit int) ([]*models.AccountDeletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListOpenAccountDeletions"); err != nil {
		return nil, err
	}
	var out []*models.AccountDeletion
	for _, d := range m.Deletions {
		if openDeletion(d) || (d.Status == types.AccountDeletionStatusFailed && d.Attempts < store.MaxDeletionAttempts) {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledDeletionAt.Before(out[j].ScheduledDeletionAt) })
	return truncate(out, limit), nil
}

func (m *MemoryStore) TransitionAccountDeletion(_ context.Context, id string, from, to types.AccountDeletionStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("TransitionAccountDeletion"); err != nil {
		return false, err
	}
	d, ok := m.Deletions[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = at
	switch to {
	case types.AccountDeletionStatusExecuted:
		d.ExecutedAt = &at
	case types.AccountDeletionStatusCancelled:
		d.CancelledAt = &at
	}
	return true, nil
}

func (m *MemoryStore) FailAccountDeletion(_ context.Context, id string, from types.AccountDeletionStatus, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FailAccountDeletion"); err != nil {
		return false, err
	}
	d, ok := m.Deletions[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = types.AccountDeletionStatusFailed
	d.Attempts++
	d.LastError = reason
	d.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) CreateExport(_ context.Context, e *models.GDPRExport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateExport"); err != nil {
		return err
	}
	for _, existing := range m.Exports {
		if existing.DownloadToken == e.DownloadToken {
			return fmt.Errorf("export token: %w", store.ErrDuplicate)
		}
	}
	stamp(&e.CreatedAt)
	m.Exports[e.ID] = clone(e)
	return nil
}

func (m *MemoryStore) GetExportByToken(_ context.Context, token string) (*models.GDPRExport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetExportByToken"); err != nil {
		return nil, err
	}
	for _, e := range m.Exports {
		if e.DownloadToken == token {
			return clone(e), nil
		}
	}
	return nil, notFound("export", "token")
}

func (m *MemoryStore) ExpireExport(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ExpireExport"); err != nil {
		return err
	}
	if e, ok := m.Exports[id]; ok && e.Status == types.ExportStatusReady {
		e.Status = types.ExportStatusExpired
	}
	return nil
}

func (m *MemoryStore) ClaimExportDownload(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ClaimExportDownload"); err != nil {
		return false, err
	}
	e, ok := m.Exports[id]
	if !ok || e.Status != types.ExportStatusReady || e.DownloadCount >= e.MaxDownloads || !e.ExpiresAt.After(now) {
		return false, nil
	}
	e.DownloadCount++
	e.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) ListConsents(_ context.Context, userID string) ([]*models.UserConsent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListConsents"); err != nil {
		return nil, err
	}
	var out []*models.UserConsent
	for _, c := range m.Consents {
		if c.UserID == userID {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListAuditLogsForUser(_ context.Context, userID string, since time.Time, limit int) ([]*models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListAuditLogsForUser"); err != nil {
		return nil, err
	}
	var out []*models.AuditLog
	for i := len(m.AuditLogs) - 1; i >= 0; i-- {
		l := m.AuditLogs[i]
		if l.UserID != nil && *l.UserID == userID && !l.CreatedAt.Before(since) {
			out = append(out, clone(l))
		}
	}
	return truncate(out, limit), nil
}

// Erasure steps.

func (m *MemoryStore) AnonymizeOwnedHandbooks(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AnonymizeOwnedHandbooks"); err != nil {
		return 0, err
	}
	var n int64
	for _, h := range m.Handbooks {
		if h.IsOwnedBy(userID) {
			h.OwnerID = nil
			h.OrganizationName = store.AnonymizedOrganization
			h.OrganizationAddress, h.OrganizationPhone, h.OrganizationEmail = "", "", ""
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteMemberships(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteMemberships"); err != nil {
		return 0, err
	}
	var n int64
	for k, mem := range m.Members {
		if mem.UserID == userID {
			delete(m.Members, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AnonymizeForumContent(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AnonymizeForumContent"); err != nil {
		return 0, err
	}
	var n int64
	for _, t := range m.Topics {
		if t.AuthorID != nil && *t.AuthorID == userID {
			t.AuthorID, t.AuthorEmail, t.AuthorName = nil, nil, store.AnonymizedAuthor
			n++
		}
	}
	for _, p := range m.Posts {
		if p.AuthorID != nil && *p.AuthorID == userID {
			p.AuthorID, p.AuthorEmail, p.AuthorName = nil, nil, store.AnonymizedAuthor
			n++
		}
	}
	kept := m.Notifications[:0]
	for _, nt := range m.Notifications {
		if nt.RecipientID != userID {
			kept = append(kept, nt)
		}
	}
	m.Notifications = kept
	return n, nil
}

func (m *MemoryStore) AnonymizeAuditLogs(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AnonymizeAuditLogs"); err != nil {
		return 0, err
	}
	var n int64
	for _, l := range m.AuditLogs {
		if l.UserID != nil && *l.UserID == userID && (l.UserEmail == nil || *l.UserEmail != store.AnonymizedEmail) {
			email := store.AnonymizedEmail
			l.UserEmail = &email
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExports(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteExports"); err != nil {
		return 0, err
	}
	var n int64
	for k, e := range m.Exports {
		if e.UserID == userID {
			delete(m.Exports, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteConsents(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteConsents"); err != nil {
		return 0, err
	}
	var n int64
	for k, c := range m.Consents {
		if c.UserID == userID {
			delete(m.Consents, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteNotificationPreferences(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteNotificationPreferences"); err != nil {
		return 0, err
	}
	var n int64
	for k, p := range m.Preferences {
		if p.UserID == userID {
			delete(m.Preferences, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteProfile(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteProfile"); err != nil {
		return 0, err
	}
	if _, ok := m.Profiles[userID]; !ok {
		return 0, nil
	}
	delete(m.Profiles, userID)
	return 1, nil
}

// Forum.

func (m *MemoryStore) GetTopic(_ context.Context, id string) (*models.ForumTopic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetTopic"); err != nil {
		return nil, err
	}
	t, ok := m.Topics[id]
	if !ok {
		return nil, notFound("topic", id)
	}
	return clone(t), nil
}

func (m *MemoryStore) GetPost(_ context.Context, id string) (*models.ForumPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetPost"); err != nil {
		return nil, err
	}
	p, ok := m.Posts[id]
	if !ok {
		return nil, notFound("post", id)
	}
	return clone(p), nil
}

func (m *MemoryStore) topicPosts(topicID string) []*models.ForumPost {
	var out []*models.ForumPost
	for _, p := range m.Posts {
		if p.TopicID == topicID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) ListReplies(_ context.Context, topicID string, limit int) ([]*models.ForumPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListReplies"); err != nil {
		return nil, err
	}
	posts := m.topicPosts(topicID)
	if limit > 0 && len(posts) > limit {
		posts = posts[len(posts)-limit:]
	}
	out := make([]*models.ForumPost, len(posts))
	for i, p := range posts {
		out[i] = clone(p)
	}
	return out, nil
}

func (m *MemoryStore) CountReplies(_ context.Context, topicID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CountReplies"); err != nil {
		return 0, err
	}
	return int64(len(m.topicPosts(topicID))), nil
}

func (m *MemoryStore) CreateReply(_ context.Context, post *models.ForumPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateReply"); err != nil {
		return err
	}
	t, ok := m.Topics[post.TopicID]
	if !ok {
		return notFound("topic", post.TopicID)
	}
	stamp(&post.CreatedAt)
	m.Posts[post.ID] = clone(post)
	t.ReplyCount++
	at := post.CreatedAt
	t.LastReplyAt = &at
	return nil
}

func (m *MemoryStore) DeleteReply(_ context.Context, post *models.ForumPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteReply"); err != nil {
		return err
	}
	if _, ok := m.Posts[post.ID]; !ok {
		return notFound("post", post.ID)
	}
	delete(m.Posts, post.ID)
	if t, ok := m.Topics[post.TopicID]; ok {
		if t.ReplyCount > 0 {
			t.ReplyCount--
		}
		t.LastReplyAt = nil
		if rest := m.topicPosts(post.TopicID); len(rest) > 0 {
			at := rest[len(rest)-1].CreatedAt
			t.LastReplyAt = &at
		}
	}
	return nil
}

func (m *MemoryStore) ListParticipantIDs(_ context.Context, topicID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListParticipantIDs"); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range m.topicPosts(topicID) {
		if p.AuthorID != nil && !seen[*p.AuthorID] {
			seen[*p.AuthorID] = true
			out = append(out, *p.AuthorID)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetNotificationPreference(_ context.Context, userID, handbookID string) (*models.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetNotificationPreference"); err != nil {
		return nil, err
	}
	for _, p := range m.Preferences {
		if p.UserID == userID && p.HandbookID == handbookID {
			return clone(p), nil
		}
	}
	return nil, notFound("notification preference", userID)
}

func (m *MemoryStore) CreateForumNotifications(_ context.Context, items []*models.ForumNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateForumNotifications"); err != nil {
		return err
	}
	for _, n := range items {
		stamp(&n.CreatedAt)
		m.Notifications = append(m.Notifications, clone(n))
	}
	return nil
}

// Documents.

func (m *MemoryStore) CreateDocumentImport(_ context.Context, d *models.DocumentImport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateDocumentImport"); err != nil {
		return err
	}
	stamp(&d.CreatedAt)
	m.Documents[d.ID] = clone(d)
	return nil
}

func (m *MemoryStore) GetDocumentImport(_ context.Context, id string) (*models.DocumentImport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetDocumentImport"); err != nil {
		return nil, err
	}
	d, ok := m.Documents[id]
	if !ok {
		return nil, notFound("document import", id)
	}
	return clone(d), nil
}

func (m *MemoryStore) UpdateDocumentImportResult(_ context.Context, id string, status types.DocumentImportStatus, text string, metadata datatypes.JSON, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateDocumentImportResult"); err != nil {
		return false, err
	}
	d, ok := m.Documents[id]
	if !ok || d.Status.Terminal() {
		return false, nil
	}
	d.Status, d.ExtractedText, d.Metadata, d.UpdatedAt = status, text, metadata, at
	return true, nil
}

// Audit, webhook logs, alerts.

func (m *MemoryStore) CreateAuditLog(_ context.Context, l *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateAuditLog"); err != nil {
		return err
	}
	stamp(&l.CreatedAt)
	m.AuditLogs = append(m.AuditLogs, clone(l))
	return nil
}

// ScanAuditLogs ignores filters; the filter SQL is covered by the gorm store tests.
func (m *MemoryStore) ScanAuditLogs(_ context.Context, req *types.ScanRequest) ([]*models.AuditLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ScanAuditLogs"); err != nil {
		return nil, 0, err
	}
	total := int64(len(m.AuditLogs))
	var out []*models.AuditLog
	for i := req.From; i < len(m.AuditLogs) && len(out) < req.Size; i++ {
		out = append(out, clone(m.AuditLogs[i]))
	}
	return out, total, nil
}

func (m *MemoryStore) DeleteAuditLogsBefore(_ context.Context, before time.Time, risk types.RiskLevel) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteAuditLogsBefore"); err != nil {
		return 0, err
	}
	var n int64
	kept := m.AuditLogs[:0]
	for _, l := range m.AuditLogs {
		if l.CreatedAt.Before(before) && l.RiskLevel == risk {
			n++
			continue
		}
		kept = append(kept, l)
	}
	m.AuditLogs = kept
	return n, nil
}

func (m *MemoryStore) SaveWebhookLog(_ context.Context, l *models.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SaveWebhookLog"); err != nil {
		return err
	}
	stamp(&l.CreatedAt)
	m.WebhookLogs[l.ID] = clone(l)
	return nil
}

func (m *MemoryStore) DeleteWebhookLogsBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteWebhookLogsBefore"); err != nil {
		return 0, err
	}
	var n int64
	for k, l := range m.WebhookLogs {
		if l.CreatedAt.Before(before) {
			delete(m.WebhookLogs, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateCriticalAlert(_ context.Context, a *models.CriticalAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateCriticalAlert"); err != nil {
		return err
	}
	stamp(&a.CreatedAt)
	m.Alerts = append(m.Alerts, clone(a))
	return nil
}
