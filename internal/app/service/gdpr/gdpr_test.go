package gdpr

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store"
	"github.com/handbok-org/handbok/internal/store/memstore"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/types"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fakeIdentity struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeIdentity) DeleteUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, userID)
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	cleared []string
}

func (f *fakeCache) ClearCache(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, userID)
	return 1
}

type fixture struct {
	svc      *Service
	mem      *memstore.MemoryStore
	mail     *email.Recorder
	clk      *clock.Fake
	identity *fakeIdentity
	cache    *fakeCache
}

var anna = Requester{UserID: "user-anna", Email: "anna@example.com", IP: "10.0.0.1"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memstore.New()
	mail := &email.Recorder{}
	clk := clock.NewFake(now)
	cfg := &config.Config{}
	cfg.Server.PublicURL = "https://www.handbok.org"
	cfg.GDPR.GracePeriodDays = 90
	cfg.GDPR.ExportTTL = 7 * day
	cfg.GDPR.ExportMaxDownloads = 3
	cfg.GDPR.AuditLookback = 90 * day
	cfg.GDPR.AuditLimit = 100
	log := zap.NewNop().Sugar()
	f := &fixture{mem: mem, mail: mail, clk: clk, identity: &fakeIdentity{}, cache: &fakeCache{}}
	f.svc = New(cfg, mem, f.identity, audit.New(mem, log), mail, f.cache, clk, log)
	mem.PutProfile(&models.Profile{ID: anna.UserID, Email: anna.Email, FullName: "Anna Svensson"})
	return f
}

func (f *fixture) ownedHandbook(id string) {
	owner := anna.UserID
	f.mem.PutHandbook(&models.Handbook{ID: id, Title: "Brf " + id, Subdomain: id, OwnerID: &owner, OrganizationName: "Brf " + id})
	f.mem.PutMember(&models.HandbookMember{ID: "m-" + id, HandbookID: id, UserID: owner, Role: types.MemberRoleAdmin})
}

func (f *fixture) membership(id string) {
	other := "user-other"
	f.mem.PutHandbook(&models.Handbook{ID: id, Title: "Brf " + id, Subdomain: id, OwnerID: &other})
	f.mem.PutMember(&models.HandbookMember{ID: "m-" + id, HandbookID: id, UserID: anna.UserID, Role: types.MemberRoleViewer})
}

// superadmin lets anna skip the grace period.
func (f *fixture) superadmin() {
	f.mem.PutProfile(&models.Profile{ID: anna.UserID, Email: anna.Email, FullName: "Anna Svensson", IsSuperadmin: true})
}

func fullRequest() DeletionRequest {
	return DeletionRequest{DeletionType: types.DeletionTypeFull, ConfirmUnderstanding: true}
}

func TestRequestDeletionRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	req := fullRequest()
	req.ConfirmUnderstanding = false
	_, err := f.svc.RequestDeletion(context.Background(), anna, req)
	require.ErrorIs(t, err, ErrConfirmationRequired)
	require.Empty(t, f.mem.AllRequests())
}

func TestRequestDeletionValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		req  DeletionRequest
	}{
		{"unknown type", DeletionRequest{DeletionType: "everything", ConfirmUnderstanding: true}},
		{"partial without handbooks", DeletionRequest{DeletionType: types.DeletionTypePartial, ConfirmUnderstanding: true}},
		{"partial with foreign handbook", DeletionRequest{DeletionType: types.DeletionTypePartial, HandbookIDs: []string{"not-mine"}, ConfirmUnderstanding: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RequestDeletion(context.Background(), anna, tc.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	require.Empty(t, f.mem.AllRequests())
}

func TestRequestDeletionRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.RequestDeletion(ctx, anna, fullRequest())
	require.NoError(t, err)

	_, err = f.svc.RequestDeletion(ctx, anna, fullRequest())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, ConflictRequestExists, conflict.Reason)
	require.NotNil(t, conflict.ExistingRequest)
	require.Equal(t, first.RequestID, conflict.ExistingRequest.ID)
	require.Equal(t, types.GDPRRequestStatusPending, conflict.ExistingRequest.Status)

	require.Len(t, f.mem.AllRequests(), 1)
	require.Len(t, f.mem.AllDeletions(), 1)
}

func TestRequestDeletionDuplicateInsertRace(t *testing.T) {
	f := newFixture(t)
	// the pre-check misses the concurrent row; the insert still trips the index
	f.mem.FailOn("CreateGDPRRequest", store.ErrDuplicate)
	_, err := f.svc.RequestDeletion(context.Background(), anna, fullRequest())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, ConflictRequestExists, conflict.Reason)
}

func TestRequestDeletionOwnedHandbooksNeedAcknowledgement(t *testing.T) {
	f := newFixture(t)
	f.ownedHandbook("solgarden")

	_, err := f.svc.RequestDeletion(context.Background(), anna, fullRequest())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, ConflictOwnsHandbooks, conflict.Reason)
	require.True(t, conflict.RequiresExplicitConfirmation)
	require.Equal(t, []HandbookRef{{ID: "solgarden", Title: "Brf solgarden", Subdomain: "solgarden"}}, conflict.OwnedHandbooks)
	require.Empty(t, f.mem.AllRequests())
	require.Empty(t, f.mail.Sent())
}

func TestRequestDeletionDeferred(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.RequestDeletion(context.Background(), anna, fullRequest())
	require.NoError(t, err)
	require.False(t, resp.Immediate)
	require.Equal(t, now.Add(90*day), *resp.ScheduledDeletionAt)
	require.Equal(t, now.Add(89*day), *resp.CanCancelUntil)

	deletions := f.mem.AllDeletions()
	require.Len(t, deletions, 1)
	require.Equal(t, types.AccountDeletionStatusPending, deletions[0].Status)
	require.Equal(t, resp.RequestID, deletions[0].RequestID)

	require.Contains(t, f.mem.Profiles, anna.UserID, "nothing is erased before the grace period ends")
	require.Len(t, f.mail.Sent(), 1)
	require.Equal(t, []string{anna.Email}, f.mail.Sent()[0].To)
	require.Contains(t, f.mem.AuditActions(), audit.ActionGDPRDeletionRequested)
}

func TestRequestDeletionConfirmationEmailFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.mail.SetErr(errors.New("resend down"))
	resp, err := f.svc.RequestDeletion(context.Background(), anna, fullRequest())
	require.NoError(t, err)
	require.NotEmpty(t, resp.RequestID)
}

func TestImmediateDeletionNeedsSuperadmin(t *testing.T) {
	f := newFixture(t)
	req := fullRequest()
	req.Immediate = true
	_, err := f.svc.RequestDeletion(context.Background(), anna, req)
	require.ErrorIs(t, err, ErrImmediateNotAllowed)
	require.Empty(t, f.mem.AllRequests())
	require.Contains(t, f.mem.Profiles, anna.UserID)
	require.Empty(t, f.identity.deleted)

	// without a profile there is nothing to vouch for the caller
	stranger := Requester{UserID: "user-unknown"}
	_, err = f.svc.RequestDeletion(context.Background(), stranger, req)
	require.ErrorIs(t, err, ErrImmediateNotAllowed)
}

func TestImmediateFullDeletion(t *testing.T) {
	f := newFixture(t)
	f.superadmin()
	f.ownedHandbook("solgarden")
	f.membership("ekbacken")
	f.mem.PutConsent(&models.UserConsent{ID: "c1", UserID: anna.UserID, ConsentType: "marketing", Granted: true})

	req := fullRequest()
	req.Immediate = true
	req.AcknowledgeOwnedHandbooks = true
	resp, err := f.svc.RequestDeletion(context.Background(), anna, req)
	require.NoError(t, err)
	require.True(t, resp.Immediate)

	require.NotContains(t, f.mem.Profiles, anna.UserID)
	require.Nil(t, f.mem.Handbooks["solgarden"].OwnerID)
	require.Equal(t, store.AnonymizedOrganization, f.mem.Handbooks["solgarden"].OrganizationName)
	require.Empty(t, f.mem.Members)
	require.Empty(t, f.mem.Consents)
	require.Equal(t, []string{anna.UserID}, f.identity.deleted)
	require.Equal(t, []string{anna.UserID}, f.cache.cleared)

	reqs := f.mem.AllRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, types.GDPRRequestStatusCompleted, reqs[0].Status)
	require.Empty(t, f.mem.AllDeletions())
	require.Contains(t, f.mem.AuditActions(), audit.ActionGDPRDeletionExecuted)
}

func TestImmediateFullDeletionStopsAtFailingStep(t *testing.T) {
	f := newFixture(t)
	f.superadmin()
	f.mem.FailOn("DeleteConsents", errors.New("connection reset"))

	req := fullRequest()
	req.Immediate = true
	_, err := f.svc.RequestDeletion(context.Background(), anna, req)
	require.Error(t, err)
	require.Contains(t, err.Error(), "delete_consents")

	calls := strings.Join(f.mem.Calls(), ",")
	require.Contains(t, calls, "DeleteExports")
	require.NotContains(t, calls, "DeleteNotificationPreferences")
	require.NotContains(t, calls, "DeleteProfile")
	require.Empty(t, f.identity.deleted)
	require.Contains(t, f.mem.Profiles, anna.UserID)

	reqs := f.mem.AllRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, types.GDPRRequestStatusFailed, reqs[0].Status)
	require.Contains(t, f.mem.AuditActions(), audit.ActionGDPRDeletionFailed)

	// a failed request no longer blocks a new one, and the rerun completes
	f.mem.FailOn("DeleteConsents", nil)
	_, err = f.svc.RequestDeletion(context.Background(), anna, req)
	require.NoError(t, err)
	require.NotContains(t, f.mem.Profiles, anna.UserID)
}

func TestImmediatePartialDeletion(t *testing.T) {
	f := newFixture(t)
	f.superadmin()
	f.ownedHandbook("solgarden")
	f.membership("ekbacken")
	f.membership("kvarnen")

	resp, err := f.svc.RequestDeletion(context.Background(), anna, DeletionRequest{
		DeletionType:         types.DeletionTypePartial,
		HandbookIDs:          []string{"solgarden", "ekbacken"},
		Immediate:            true,
		ConfirmUnderstanding: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.RequestID)

	require.NotContains(t, f.mem.Handbooks, "solgarden")
	require.Contains(t, f.mem.Handbooks, "ekbacken")
	require.NotContains(t, f.mem.Members, "ekbacken/"+anna.UserID)
	require.Contains(t, f.mem.Members, "kvarnen/"+anna.UserID)
	require.Contains(t, f.mem.Profiles, anna.UserID)
	require.Empty(t, f.identity.deleted)
}

func TestCancelDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp, err := f.svc.RequestDeletion(ctx, anna, fullRequest())
	require.NoError(t, err)

	f.clk.Advance(10 * day)
	got, err := f.svc.CancelDeletion(ctx, anna)
	require.NoError(t, err)
	require.Equal(t, resp.RequestID, got.ID)
	require.Equal(t, types.GDPRRequestStatusCancelled, f.mem.AllRequests()[0].Status)
	require.Equal(t, types.AccountDeletionStatusCancelled, f.mem.AllDeletions()[0].Status)

	_, err = f.svc.CancelDeletion(ctx, anna)
	require.ErrorIs(t, err, ErrNoActiveDeletion)
}

func TestCancelDeletionAfterWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestDeletion(ctx, anna, fullRequest())
	require.NoError(t, err)

	f.clk.Advance(89*day + time.Hour)
	_, err = f.svc.CancelDeletion(ctx, anna)
	require.ErrorIs(t, err, ErrCancelWindowClosed)
	require.Equal(t, types.GDPRRequestStatusPending, f.mem.AllRequests()[0].Status)
}

func decodeJSON(t *testing.T, body []byte) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestExportDownloadLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ownedHandbook("solgarden")
	f.mem.PutSection(&models.Section{ID: "s1", HandbookID: "solgarden", Title: "Trivsel"},
		&models.Page{ID: "p1", SectionID: "s1", Title: "Tvättstuga", Content: "<p>Boka <b>tvättid</b></p>"})

	resp, err := f.svc.RequestExport(ctx, anna, types.ExportFormatJSON)
	require.NoError(t, err)
	token := strings.TrimPrefix(resp.DownloadURL, "/api/gdpr/download/")
	require.Len(t, token, 64)
	require.Equal(t, now.Add(7*day), resp.ExpiresAt)

	sent := f.mail.Sent()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].HTML, "https://www.handbok.org/api/gdpr/download/"+token)

	for i := 0; i < 3; i++ {
		dl, err := f.svc.DownloadExport(ctx, token, "10.0.0.2")
		require.NoError(t, err, "download %d", i+1)
		require.Equal(t, "handbok-data-export-2026-03-02.json", dl.FileName)
		doc := decodeJSON(t, dl.Body)
		require.Contains(t, string(doc["handbooks"]), "Boka tvättid")
	}
	_, err = f.svc.DownloadExport(ctx, token, "10.0.0.2")
	require.ErrorIs(t, err, ErrDownloadLimitReached)

	var downloads int
	for _, a := range f.mem.AuditActions() {
		if a == audit.ActionGDPRExportDownloaded {
			downloads++
		}
	}
	require.Equal(t, 3, downloads)
}

func TestExportDownloadErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.DownloadExport(ctx, "short", "")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.DownloadExport(ctx, strings.Repeat("a", 64), "")
	require.ErrorIs(t, err, ErrExportNotFound)

	resp, err := f.svc.RequestExport(ctx, anna, types.ExportFormatCSV)
	require.NoError(t, err)
	token := strings.TrimPrefix(resp.DownloadURL, "/api/gdpr/download/")

	f.clk.Advance(7*day + time.Second)
	_, err = f.svc.DownloadExport(ctx, token, "")
	require.ErrorIs(t, err, ErrExportExpired)

	var exp *models.GDPRExport
	for _, e := range f.mem.Exports {
		exp = e
	}
	require.Equal(t, types.ExportStatusExpired, exp.Status)
	require.Zero(t, exp.DownloadCount)
}

func TestExportRenderFailureKeepsDownloadSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp, err := f.svc.RequestExport(ctx, anna, types.ExportFormatJSON)
	require.NoError(t, err)
	token := strings.TrimPrefix(resp.DownloadURL, "/api/gdpr/download/")

	f.mem.FailOn("ListConsents", errors.New("timeout"))
	_, err = f.svc.DownloadExport(ctx, token, "")
	require.Error(t, err)
	for _, e := range f.mem.Exports {
		require.Zero(t, e.DownloadCount)
	}
}

func TestRequestExportRejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestExport(context.Background(), anna, "xml")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRenderCSVSectionOrder(t *testing.T) {
	f := newFixture(t)
	f.membership("ekbacken")
	f.mem.PutConsent(&models.UserConsent{ID: "c1", UserID: anna.UserID, ConsentType: "analytics", Granted: false})

	data, err := f.svc.collect(context.Background(), anna.UserID, types.ExportFormatCSV, now)
	require.NoError(t, err)
	body, err := renderCSV(data)
	require.NoError(t, err)

	var sections []string
	for _, line := range strings.Split(string(body), "\n") {
		if strings.HasPrefix(line, "# ") {
			sections = append(sections, strings.TrimPrefix(line, "# "))
		}
	}
	require.Equal(t, []string{"export_info", "user_profile", "data_summary", "handbooks", "gdpr_requests", "consents", "activity_log"}, sections)
	require.Contains(t, string(body), "anna@example.com")
	require.Contains(t, string(body), "ekbacken,Brf ekbacken,ekbacken,viewer")
}

func TestProcessScheduledDeletions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestDeletion(ctx, anna, fullRequest())
	require.NoError(t, err)
	f.mail = &email.Recorder{}
	f.svc.mail = f.mail

	f.clk.Advance(76 * day)
	res, err := f.svc.ProcessScheduledDeletions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Warned)
	require.Equal(t, types.AccountDeletionStatusWarned75, f.mem.AllDeletions()[0].Status)
	require.Len(t, f.mail.Sent(), 1)

	// same stage is not warned twice
	res, err = f.svc.ProcessScheduledDeletions(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Warned)
	require.Len(t, f.mail.Sent(), 1)

	f.clk.Advance(10 * day)
	_, err = f.svc.ProcessScheduledDeletions(ctx)
	require.NoError(t, err)
	require.Equal(t, types.AccountDeletionStatusWarned85, f.mem.AllDeletions()[0].Status)

	f.clk.Advance(4 * day)
	res, err = f.svc.ProcessScheduledDeletions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Executed)
	require.Equal(t, types.AccountDeletionStatusExecuted, f.mem.AllDeletions()[0].Status)
	require.Equal(t, types.GDPRRequestStatusCompleted, f.mem.AllRequests()[0].Status)
	require.NotContains(t, f.mem.Profiles, anna.UserID)
}

func TestProcessScheduledDeletionsIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bertil := Requester{UserID: "user-bertil", Email: "bertil@example.com"}
	f.mem.PutProfile(&models.Profile{ID: bertil.UserID, Email: bertil.Email})

	_, err := f.svc.RequestDeletion(ctx, anna, fullRequest())
	require.NoError(t, err)
	_, err = f.svc.RequestDeletion(ctx, bertil, fullRequest())
	require.NoError(t, err)

	f.identity.err = errors.New("auth api 503")
	f.clk.Advance(91 * day)
	res, err := f.svc.ProcessScheduledDeletions(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Checked)
	require.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 2)
	for _, d := range f.mem.AllDeletions() {
		require.Equal(t, types.AccountDeletionStatusFailed, d.Status)
	}
}

func TestProcessScheduledDeletionsRetriesFailedErasure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ownedHandbook("solgarden")
	req := fullRequest()
	req.AcknowledgeOwnedHandbooks = true
	_, err := f.svc.RequestDeletion(ctx, anna, req)
	require.NoError(t, err)

	f.identity.err = errors.New("auth api 503")
	f.clk.Advance(91 * day)
	res, err := f.svc.ProcessScheduledDeletions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	d := f.mem.AllDeletions()[0]
	require.Equal(t, types.AccountDeletionStatusFailed, d.Status)
	require.Equal(t, 1, d.Attempts)
	require.Contains(t, d.LastError, "auth api 503")
	require.Equal(t, types.GDPRRequestStatusFailed, f.mem.AllRequests()[0].Status)

	// a failed schedule cannot be cancelled once erasure has started
	_, err = f.svc.CancelDeletion(ctx, anna)
	require.ErrorIs(t, err, ErrNoActiveDeletion)

	f.identity.err = nil
	f.clk.Advance(day)
	res, err = f.svc.ProcessScheduledDeletions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Checked)
	require.Equal(t, 1, res.Executed)
	require.Zero(t, res.Failed)

	d = f.mem.AllDeletions()[0]
	require.Equal(t, types.AccountDeletionStatusExecuted, d.Status)
	require.NotNil(t, d.ExecutedAt)
	require.Equal(t, types.GDPRRequestStatusCompleted, f.mem.AllRequests()[0].Status)
	require.Equal(t, []string{anna.UserID}, f.identity.deleted)
	require.NotContains(t, f.mem.Profiles, anna.UserID)
	require.Nil(t, f.mem.Handbooks["solgarden"].OwnerID)

	// executed rows leave the sweep set
	res, err = f.svc.ProcessScheduledDeletions(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Checked)
}

func TestProcessScheduledDeletionsStopsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RequestDeletion(ctx, anna, fullRequest())
	require.NoError(t, err)

	f.identity.err = errors.New("auth api 503")
	f.clk.Advance(91 * day)
	for range store.MaxDeletionAttempts {
		res, err := f.svc.ProcessScheduledDeletions(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, res.Failed)
		f.clk.Advance(day)
	}
	require.Equal(t, store.MaxDeletionAttempts, f.mem.AllDeletions()[0].Attempts)

	res, err := f.svc.ProcessScheduledDeletions(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Checked)
	require.Equal(t, types.AccountDeletionStatusFailed, f.mem.AllDeletions()[0].Status)
}
