package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/app/service/access"
	"github.com/handbok-org/handbok/internal/app/service/audit"
	"github.com/handbok-org/handbok/internal/app/service/billing"
	"github.com/handbok-org/handbok/internal/app/service/forum"
	"github.com/handbok-org/handbok/internal/app/service/gdpr"
	"github.com/handbok-org/handbok/internal/app/service/handbook"
	"github.com/handbok-org/handbok/internal/app/service/maintenance"
	"github.com/handbok-org/handbok/internal/app/service/subscription"
	"github.com/handbok-org/handbok/internal/app/service/webhooklog"
	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/platform/email"
	"github.com/handbok-org/handbok/internal/store/memstore"
	"github.com/handbok-org/handbok/pkg/clock"
	"github.com/handbok-org/handbok/pkg/config"
	"github.com/handbok-org/handbok/pkg/logctx"
	"github.com/handbok-org/handbok/pkg/types"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type noIdentity struct{}

func (noIdentity) DeleteUser(context.Context, string) error { return nil }

type harness struct {
	r   *gin.Engine
	mem *memstore.MemoryStore
}

// asUser stands in for the auth middleware.
func asUser(c *gin.Context) {
	if id := c.GetHeader("X-Test-User"); id != "" {
		c.Set(logctx.GinUserIDKey, id)
		c.Set("userEmail", id+"@example.se")
	}
	c.Next()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()
	mem := memstore.New()
	clk := clock.NewFake(now)
	mail := &email.Recorder{}

	cfg := &config.Config{}
	cfg.Server.PublicURL = "https://www.handbok.org"
	cfg.GDPR.GracePeriodDays = 90
	cfg.GDPR.ExportTTL = 7 * 24 * time.Hour
	cfg.GDPR.ExportMaxDownloads = 3
	cfg.GDPR.AuditLookback = 90 * 24 * time.Hour
	cfg.GDPR.AuditLimit = 100
	cfg.Forum.DefaultReplyLimit = 5
	cfg.Forum.MaxReplyLength = 10000
	cfg.Stripe.WebhookSecret = "whsec_test"
	cfg.Cron.Secret = "cron-secret"
	cfg.Cron.AdminAPIKey = "admin-key"

	auditSvc := audit.New(mem, log)
	subs := subscription.NewService(cfg, mem, auditSvc, mail, clk, log)
	checker := access.NewChecker(mem, subs, access.NewCache(5*time.Minute, clk), log)
	gdprSvc := gdpr.New(cfg, mem, noIdentity{}, auditSvc, mail, checker, clk, log)
	forumSvc := forum.NewService(cfg, mem, checker, mail, clk, log)
	t.Cleanup(forumSvc.Wait)
	handbooks := handbook.NewService(mem, checker, auditSvc, clk, log)
	logs := webhooklog.New(mem, log)
	t.Cleanup(logs.Flush)
	billingHandler := billing.NewHandler(cfg, logs, subs, clk, log)

	r := gin.New()
	api := r.Group("/api")
	RegisterCronRoutes(api.Group("/cron"), cfg, &stubRunner{}, gdprSvc, log)
	RegisterWebhookRoutes(api.Group("/webhooks"), billingHandler, log)
	RegisterGDPRDownloadRoute(api.Group("/gdpr"), gdprSvc, log, func(c *gin.Context) { c.Next() })
	user := api.Group("", asUser)
	RegisterGDPRRoutes(user.Group("/gdpr"), gdprSvc, log)
	RegisterReplyRoutes(user.Group("/messages"), forumSvc, log)
	RegisterHandbookRoutes(user.Group("/handbooks"), handbooks, checker, subs, log)

	return &harness{r: r, mem: mem}
}

func (h *harness) do(method, path, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code  int             `json:"code"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

func TestDeletionRequestLifecycle(t *testing.T) {
	h := newHarness(t)
	h.mem.PutProfile(&models.Profile{ID: "anna", Email: "anna@example.se"})

	w := h.do(http.MethodPost, "/api/gdpr/delete-request", "anna",
		map[string]any{"deletion_type": "full", "confirm_understanding": true, "immediate": true})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, h.mem.Profiles, "anna")

	req := map[string]any{"deletion_type": "full", "confirm_understanding": true}
	w = h.do(http.MethodPost, "/api/gdpr/delete-request", "anna", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/api/gdpr/delete-request", "anna", req)
	require.Equal(t, http.StatusConflict, w.Code)
	var conflict gdpr.ConflictError
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &conflict))
	require.Equal(t, gdpr.ConflictRequestExists, conflict.Reason)
	require.NotNil(t, conflict.ExistingRequest)

	w = h.do(http.MethodPost, "/api/gdpr/delete-request", "anna", map[string]any{"deletion_type": "full"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/gdpr/delete-request/cancel", "anna", nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/gdpr/delete-request/cancel", "anna", nil).Code)
}

func TestExportDownload(t *testing.T) {
	h := newHarness(t)
	h.mem.PutProfile(&models.Profile{ID: "anna", Email: "anna@example.se", FullName: "Anna"})

	w := h.do(http.MethodPost, "/api/gdpr/export-request", "anna", map[string]any{"format": "csv"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res gdpr.ExportResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	require.True(t, strings.HasPrefix(res.DownloadURL, "/api/gdpr/download/"))

	w = h.do(http.MethodGet, res.DownloadURL, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	require.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=")
	require.Contains(t, w.Header().Get("Content-Type"), "text/csv")

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, res.DownloadURL, "", nil).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, res.DownloadURL, "", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, h.do(http.MethodGet, res.DownloadURL, "", nil).Code)

	require.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/gdpr/download/short", "", nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/gdpr/download/"+strings.Repeat("ab", 32), "", nil).Code)

	w = h.do(http.MethodPost, "/api/gdpr/export-request", "anna", map[string]any{"format": "xml"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

type stubRunner struct {
	triggers []maintenance.Trigger
}

func (s *stubRunner) Run(_ context.Context, trigger maintenance.Trigger) *maintenance.Report {
	s.triggers = append(s.triggers, trigger)
	return &maintenance.Report{Trigger: trigger, Success: true}
}

func TestCronAuthorization(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.Cron.Secret = "cron-secret"
	cfg.Cron.AdminAPIKey = "admin-key"
	runner := &stubRunner{}
	r := gin.New()
	RegisterCronRoutes(r.Group("/api/cron"), cfg, runner, nil, zap.NewNop().Sugar())

	cases := []struct {
		name, query, auth, apiKey string
		status                    int
	}{
		{"cron bearer", "", "Bearer cron-secret", "", http.StatusOK},
		{"manual key", "?manual=true", "", "admin-key", http.StatusOK},
		{"no credentials", "", "", "", http.StatusUnauthorized},
		{"wrong bearer", "", "Bearer nope", "", http.StatusUnauthorized},
		{"admin key without manual", "", "", "admin-key", http.StatusUnauthorized},
		{"cron secret as manual key", "?manual=true", "Bearer cron-secret", "cron-secret", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/cron/subscription-maintenance"+tc.query, nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		if tc.apiKey != "" {
			req.Header.Set("x-api-key", tc.apiKey)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, tc.status, w.Code, tc.name)
	}
	require.Equal(t, []maintenance.Trigger{maintenance.TriggerCron, maintenance.TriggerManual}, runner.triggers)
}

func TestHandbookEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/handbooks", "owner", map[string]any{"title": "Brf Ekbacken", "subdomain": "ekbacken"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var hb models.Handbook
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &hb))
	require.True(t, hb.IsTrial)

	w = h.do(http.MethodPost, "/api/handbooks", "other", map[string]any{"title": "Copy", "subdomain": "ekbacken"})
	require.Equal(t, http.StatusConflict, w.Code)
	w = h.do(http.MethodPost, "/api/handbooks", "other", map[string]any{"title": "Bad", "subdomain": "a!"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/api/handbooks/"+hb.ID+"/access", "owner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res access.Result
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	require.True(t, res.HasAccess)
	require.Equal(t, types.SubscriptionStatusTrial, res.SubscriptionStatus)

	w = h.do(http.MethodGet, "/api/handbooks/"+hb.ID+"/subscription", "owner", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/handbooks/"+hb.ID+"/subscription", "stranger", nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/handbooks/missing/subscription", "owner", nil).Code)

	h.mem.PutMember(&models.HandbookMember{ID: "m-v", HandbookID: hb.ID, UserID: "viewer", Role: types.MemberRoleViewer})
	require.Equal(t, http.StatusForbidden, h.do(http.MethodDelete, "/api/handbooks/"+hb.ID+"/members/owner", "viewer", nil).Code)
	require.Equal(t, http.StatusConflict, h.do(http.MethodDelete, "/api/handbooks/"+hb.ID+"/members/owner", "owner", nil).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodDelete, "/api/handbooks/"+hb.ID+"/members/viewer", "owner", nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/api/handbooks/"+hb.ID+"/members/viewer", "owner", nil).Code)
}

func TestReplyEndpoints(t *testing.T) {
	h := newHarness(t)
	owner := "owner"
	h.mem.PutProfile(&models.Profile{ID: "owner", Email: "owner@example.se", FullName: "Olle"})
	h.mem.PutHandbook(&models.Handbook{ID: "hb1", Title: "Brf", Subdomain: "brf", OwnerID: &owner, ForumEnabled: true})
	h.mem.PutTopic(&models.ForumTopic{ID: "t1", HandbookID: "hb1", Title: "Tvättstugan", AuthorID: &owner})

	w := h.do(http.MethodPost, "/api/messages/replies", "owner", map[string]any{"topic_id": "t1", "content": "Hej"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var post models.ForumPost
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &post))

	w = h.do(http.MethodGet, "/api/messages/replies?topicId=t1", "owner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list forum.ListRepliesResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
	require.EqualValues(t, 1, list.Total)

	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/messages/replies", "owner", map[string]any{"topic_id": "t1", "content": "  "}).Code)
	require.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/api/messages/replies?topicId=t1", "stranger", nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/messages/replies", "owner", map[string]any{"topic_id": "nope", "content": "x"}).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodDelete, "/api/messages/replies", "owner", nil).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodDelete, "/api/messages/replies?replyId="+post.ID, "owner", nil).Code)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{"id":"evt_1","type":"customer.subscription.updated"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
