package webhooklog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/handbok-org/handbok/internal/models"
	"github.com/handbok-org/handbok/internal/store/memstore"
	"github.com/handbok-org/handbok/pkg/types"
)

func TestSaveAssignsIDAndPersists(t *testing.T) {
	mem := memstore.New()
	svc := New(mem, zap.NewNop().Sugar())

	entry := &models.WebhookLog{Provider: string(types.WebhookProviderStripe), EventID: "evt_1", EventType: "invoice.paid", ReceivedAt: time.Now()}
	svc.Save(context.Background(), entry)
	svc.Save(context.Background(), nil)
	svc.Flush()

	require.NotEmpty(t, entry.ID)
	require.Len(t, mem.WebhookLogs, 1)
	require.Equal(t, "evt_1", mem.WebhookLogs[entry.ID].EventID)
}

func TestSaveErrorIsLogged(t *testing.T) {
	mem := memstore.New()
	mem.FailOn("SaveWebhookLog", errors.New("db down"))
	svc := New(mem, zap.NewNop().Sugar())
	svc.Save(context.Background(), &models.WebhookLog{EventID: "evt_2"})
	svc.Flush()
	require.Empty(t, mem.WebhookLogs)
}

func TestDeleteBefore(t *testing.T) {
	mem := memstore.New()
	now := time.Now()
	mem.PutWebhookLog(&models.WebhookLog{ID: "old", CreatedAt: now.Add(-31 * 24 * time.Hour)})
	mem.PutWebhookLog(&models.WebhookLog{ID: "new", CreatedAt: now})
	svc := New(mem, zap.NewNop().Sugar())

	n, err := svc.DeleteBefore(context.Background(), now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Contains(t, mem.WebhookLogs, "new")
}
