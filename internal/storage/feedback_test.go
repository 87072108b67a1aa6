package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedbackEvent(merchant, category string, action model.FeedbackAction, at time.Time) *model.FeedbackEvent {
	return &model.FeedbackEvent{
		TransactionID:      "txn-" + merchant,
		UserID:             "user-1",
		MerchantNormalized: merchant,
		Category:           category,
		Action:             action,
		Source:             model.SourceRule,
		Score:              0.6,
		CreatedAt:          at,
	}
}

func TestRecordEvent_UpdatesAggregate(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	older := testNow.Add(-48 * time.Hour)
	require.NoError(t, store.RecordEvent(ctx, feedbackEvent("AMAZON.COM", "Online Shopping", model.ActionAccept, testNow)))
	require.NoError(t, store.RecordEvent(ctx, feedbackEvent("AMAZON.COM", "Online Shopping", model.ActionAccept, older)))
	require.NoError(t, store.RecordEvent(ctx, feedbackEvent("AMAZON.COM", "Online Shopping", model.ActionReject, older)))

	stats, err := store.GetStats(ctx, model.StatsKey{Merchant: "AMAZON.COM", Category: "Online Shopping"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.AcceptCount)
	assert.Equal(t, 1, stats.RejectCount)
	assert.True(t, stats.LastFeedbackAt.Equal(testNow), "last feedback keeps the maximum timestamp")

	events, err := store.ListFeedbackEvents(ctx, "AMAZON.COM", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, e := range events {
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, model.ActionAccept, events[0].Action)
}

func TestRecordEvent_Validation(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	tests := []struct {
		event *model.FeedbackEvent
		name  string
	}{
		{name: "nil event", event: nil},
		{name: "missing merchant", event: feedbackEvent("", "Food", model.ActionAccept, testNow)},
		{name: "missing category", event: feedbackEvent("M", "", model.ActionAccept, testNow)},
		{name: "bad action", event: feedbackEvent("M", "Food", model.FeedbackAction("maybe"), testNow)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.RecordEvent(ctx, tt.event)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}

	all, err := store.ListStats(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecordEvent_ConcurrentWritersNeverLoseIncrements(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	const writers = 20
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				action := model.ActionAccept
				if (w+i)%4 == 0 {
					action = model.ActionReject
				}
				errs <- store.RecordEvent(ctx, feedbackEvent("HOT", "Groceries", action, testNow))
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stats, err := store.GetStats(ctx, model.StatsKey{Merchant: "HOT", Category: "Groceries"})
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, stats.Total())
}

func TestLoadStats(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.RecordEvent(ctx, feedbackEvent("A", "Food", model.ActionAccept, testNow)))
	require.NoError(t, store.RecordEvent(ctx, feedbackEvent("A", "Travel", model.ActionReject, testNow)))
	require.NoError(t, store.RecordEvent(ctx, feedbackEvent("B", "Food", model.ActionAccept, testNow)))

	keys := []model.StatsKey{
		{Merchant: "A", Category: "Food"},
		{Merchant: "A", Category: "Food"},
		{Merchant: "A", Category: "Travel"},
		{Merchant: "C", Category: "Food"},
	}
	got, err := store.LoadStats(ctx, keys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[model.StatsKey{Merchant: "A", Category: "Food"}].AcceptCount)
	assert.Equal(t, 1, got[model.StatsKey{Merchant: "A", Category: "Travel"}].RejectCount)
	_, ok := got[model.StatsKey{Merchant: "C", Category: "Food"}]
	assert.False(t, ok, "keys without feedback are absent")

	empty, err := store.LoadStats(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLoadStats_ClosedDatabaseIsUnavailable(t *testing.T) {
	store := createTestStorage(t)
	require.NoError(t, store.Close())

	_, err := store.LoadStats(context.Background(), []model.StatsKey{{Merchant: "A", Category: "B"}})
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
}

func TestListStatsForMerchant(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordEvent(ctx, feedbackEvent("M", fmt.Sprintf("Cat%d", i), model.ActionAccept, testNow)))
	}
	require.NoError(t, store.RecordEvent(ctx, feedbackEvent("N", "Cat0", model.ActionAccept, testNow)))

	stats, err := store.ListStatsForMerchant(ctx, "M")
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, "Cat0", stats[0].Category)

	all, err := store.ListStats(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
