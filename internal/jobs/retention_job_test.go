package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catersync/internal/logging"
	"catersync/internal/store"
)

func TestRetentionJobPurgesOldDeliveries(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	old := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return old })
	id, err := mem.EnqueueWebhook(ctx, "order.status", "http://x", "", []byte(`{"id":"evt_old"}`))
	require.NoError(t, err)
	require.NoError(t, mem.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 1))
	pending, err := mem.EnqueueWebhook(ctx, "order.status", "http://x", "", []byte(`{"id":"evt_pending"}`))
	require.NoError(t, err)

	j := NewRetentionJob(mem, 7*24*time.Hour, logging.Discard())
	j.now = func() time.Time { return old.Add(8 * 24 * time.Hour) }
	n, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := mem.ListWebhookDeliveries(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, pending, left[0].ID)
}

func TestRetentionJobKeepsRecentDeliveries(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	id, _ := mem.EnqueueWebhook(ctx, "order.status", "http://x", "", []byte(`{"id":"evt_new"}`))
	require.NoError(t, mem.MarkWebhookDelivery(ctx, id, true, nil, "", 200, 1))

	n, err := NewRetentionJob(mem, time.Hour, logging.Discard()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingPurger struct{}

func (failingPurger) PurgeWebhookDeliveries(context.Context, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestRetentionJobReportsErrors(t *testing.T) {
	_, err := NewRetentionJob(failingPurger{}, time.Hour, logging.Discard()).RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRetentionJobStartStop(t *testing.T) {
	j := NewRetentionJob(store.NewMemory(), time.Hour, logging.Discard())
	require.NoError(t, j.Start())
	j.Stop()

	disabled := NewRetentionJob(store.NewMemory(), 0, logging.Discard())
	require.NoError(t, disabled.Start())
	disabled.Stop()
}
