package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catersync/internal/model"
	"catersync/internal/pricing"
)

func sampleOrder(partnerOrderID string) model.Order {
	return model.Order{
		Partner:        "catermarket",
		PartnerOrderID: partnerOrderID,
		Status:         model.StatusDraft,
		Pickup:         model.Location{Display: "1 Kitchen Way", Point: model.GeoPoint{Lat: 34.05, Lng: -118.25}},
		Delivery:       model.Location{Display: "2 Office Park", Point: model.GeoPoint{Lat: 34.10, Lng: -118.30}},
		DistanceMiles:  12,
		Headcount:      30,
		Tip:            pricing.TipSelection{Option: pricing.TipNone},
		Pricing: pricing.Breakdown{
			BaseFee: 5000, DistanceSurcharge: 3600, HeadcountSurcharge: 1000,
			Subtotal: 9600, Total: 9600,
		},
		RequestedDeliveryTime: time.Date(2030, 5, 1, 18, 0, 0, 0, time.UTC),
	}
}

// runOrderContract exercises behaviour every Store implementation must share.
func runOrderContract(t *testing.T, s Store) {
	ctx := context.Background()
	prefix := fmt.Sprintf("po-%d-", time.Now().UnixNano())

	t.Run("insert then lookup", func(t *testing.T) {
		o, created, err := s.InsertOrderIfAbsent(ctx, sampleOrder(prefix+"a"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, o.ID)
		assert.Regexp(t, `^CAT-\d{6,}$`, o.OrderNumber)
		assert.Equal(t, 1, o.Version)

		byNumber, err := s.GetOrderByNumber(ctx, o.OrderNumber)
		require.NoError(t, err)
		assert.Equal(t, o.ID, byNumber.ID)
		assert.Equal(t, pricing.Cents(9600), byNumber.Pricing.Total)

		byPartner, err := s.GetOrderByPartnerID(ctx, "catermarket", prefix+"a")
		require.NoError(t, err)
		assert.Equal(t, o.OrderNumber, byPartner.OrderNumber)
	})

	t.Run("duplicate insert returns existing", func(t *testing.T) {
		first, created, err := s.InsertOrderIfAbsent(ctx, sampleOrder(prefix+"b"))
		require.NoError(t, err)
		require.True(t, created)
		other := sampleOrder(prefix + "b")
		other.Headcount = 99
		second, created, err := s.InsertOrderIfAbsent(ctx, other)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 30, second.Headcount)
	})

	t.Run("concurrent inserts create one order", func(t *testing.T) {
		const n = 16
		var wg sync.WaitGroup
		ids := make([]string, n)
		createdCount := make([]bool, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				o, created, err := s.InsertOrderIfAbsent(ctx, sampleOrder(prefix+"c"))
				ids[i], createdCount[i], errs[i] = o.ID, created, err
			}(i)
		}
		wg.Wait()
		winners := 0
		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
			if createdCount[i] {
				winners++
			}
		}
		assert.Equal(t, 1, winners)
	})

	t.Run("optimistic update", func(t *testing.T) {
		o, _, err := s.InsertOrderIfAbsent(ctx, sampleOrder(prefix+"d"))
		require.NoError(t, err)
		o.Status = model.StatusConfirmed
		o.UpdatedAt = time.Now().UTC()
		updated, err := s.UpdateOrder(ctx, o)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, model.StatusConfirmed, updated.Status)

		// o still carries version 1
		o.Status = model.StatusCancelled
		_, err = s.UpdateOrder(ctx, o)
		assert.ErrorIs(t, err, ErrStaleVersion)

		got, err := s.GetOrderByNumber(ctx, o.OrderNumber)
		require.NoError(t, err)
		assert.Equal(t, model.StatusConfirmed, got.Status)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetOrderByNumber(ctx, "CAT-999999999")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetOrderByPartnerID(ctx, "catermarket", prefix+"nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func runWebhookContract(t *testing.T, s Store) {
	ctx := context.Background()
	url := fmt.Sprintf("http://partner.test/hook/%d", time.Now().UnixNano())

	id, err := s.EnqueueWebhook(ctx, "order.status", url, "s3cret", []byte(`{"id":"evt_1","type":"order.status"}`))
	require.NoError(t, err)
	again, err := s.EnqueueWebhook(ctx, "order.status", url, "s3cret", []byte(`{"id":"evt_1","type":"order.status"}`))
	require.NoError(t, err)
	assert.Equal(t, id, again, "same event id must not be queued twice")

	due, err := s.FetchDueWebhookDeliveries(ctx, 100)
	require.NoError(t, err)
	var found *WebhookDelivery
	for i := range due {
		if due[i].ID == id {
			found = &due[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "s3cret", found.Secret)
	assert.JSONEq(t, `{"id":"evt_1","type":"order.status"}`, string(found.Payload))

	// leased rows are not handed out twice
	due, err = s.FetchDueWebhookDeliveries(ctx, 100)
	require.NoError(t, err)
	for _, d := range due {
		assert.NotEqual(t, id, d.ID)
	}

	past := time.Now().Add(-time.Second)
	require.NoError(t, s.MarkWebhookDelivery(ctx, id, false, &past, "boom", 500, 3))
	require.NoError(t, s.FailWebhookDelivery(ctx, id, "boom", 500, 3))
	failed, err := s.ListWebhookDeliveries(ctx, DeliveryFailed, 500)
	require.NoError(t, err)
	var listed *WebhookDelivery
	for i := range failed {
		if failed[i].ID == id {
			listed = &failed[i]
		}
	}
	require.NotNil(t, listed)
	assert.Equal(t, 2, listed.Attempts)
	assert.Equal(t, "boom", listed.LastError)

	require.NoError(t, s.RetryWebhookDelivery(ctx, id))
	due, err = s.FetchDueWebhookDeliveries(ctx, 100)
	require.NoError(t, err)
	requeued := false
	for _, d := range due {
		if d.ID == id {
			requeued = true
			assert.Equal(t, 0, d.Attempts)
		}
	}
	assert.True(t, requeued)

	require.NoError(t, s.MarkWebhookDelivery(ctx, id, true, nil, "", 204, 2))
	n, err := s.PurgeWebhookDeliveries(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	unknown := "00000000-0000-0000-0000-000000000000"
	assert.ErrorIs(t, s.RetryWebhookDelivery(ctx, unknown), ErrNotFound)
	assert.ErrorIs(t, s.MarkWebhookDelivery(ctx, unknown, true, nil, "", 204, 1), ErrNotFound)
	assert.ErrorIs(t, s.MarkWebhookDelivery(ctx, unknown, false, &past, "boom", 500, 1), ErrNotFound)
	assert.ErrorIs(t, s.FailWebhookDelivery(ctx, unknown, "boom", 500, 1), ErrNotFound)
}
