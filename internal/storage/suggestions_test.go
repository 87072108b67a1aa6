package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func suggestionRecord(id, txn string, source model.SuggestionSource) model.SuggestionRecord {
	return model.SuggestionRecord{
		ID:            id,
		TransactionID: txn,
		Merchant:      "AMAZON.COM",
		Category:      "Online Shopping",
		Source:        source,
		Confidence:    0.8,
	}
}

func TestSuggestions_SaveAndLookup(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	older := suggestionRecord("s1", "t1", model.SourceRule)
	older.CreatedAt = testNow.Add(-time.Hour)
	newer := suggestionRecord("s2", "t1", model.SourceModel)
	newer.ModelVersion = "v3"
	require.NoError(t, store.SaveSuggestions(ctx, []model.SuggestionRecord{older, newer}))

	got, err := store.GetSuggestion(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceRule, got.Source)
	assert.False(t, got.Accepted)
	assert.Nil(t, got.AcceptedAt)

	latest, err := store.LatestSuggestionForTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "s2", latest.ID)
	assert.Equal(t, "v3", latest.ModelVersion)

	_, err = store.GetSuggestion(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)

	err = store.SaveSuggestions(ctx, []model.SuggestionRecord{{ID: "x"}})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestMarkSuggestionAccepted_OnlyOnce(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSuggestions(ctx, []model.SuggestionRecord{suggestionRecord("s1", "t1", model.SourceRule)}))

	var flipped atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkSuggestionAccepted(ctx, "s1")
			assert.NoError(t, err)
			if ok {
				flipped.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), flipped.Load())

	got, err := store.GetSuggestion(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Accepted)
	require.NotNil(t, got.AcceptedAt)

	ok, err := store.MarkSuggestionAccepted(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordAcceptedEvent_AtomicWithSuggestionFlag(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSuggestions(ctx, []model.SuggestionRecord{suggestionRecord("s1", "t1", model.SourceRule)}))
	key := model.StatsKey{Merchant: "AMAZON.COM", Category: "Online Shopping"}

	accept := func(id string) *model.FeedbackEvent {
		return &model.FeedbackEvent{
			ID: id, TransactionID: "t1", MerchantNormalized: "AMAZON.COM",
			Category: "Online Shopping", Action: model.ActionAccept, Source: model.SourceRule,
		}
	}

	// An existing event ID makes the insert fail after the flag update.
	require.NoError(t, store.RecordEvent(ctx, &model.FeedbackEvent{
		ID: "taken", TransactionID: "t1", MerchantNormalized: "AMAZON.COM",
		Category: "Online Shopping", Action: model.ActionReject,
	}))
	recorded, err := store.RecordAcceptedEvent(ctx, "s1", accept("taken"))
	require.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.False(t, recorded)

	got, err := store.GetSuggestion(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.Accepted, "failed write must leave the suggestion unaccepted")

	recorded, err = store.RecordAcceptedEvent(ctx, "s1", accept(""))
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = store.RecordAcceptedEvent(ctx, "s1", accept(""))
	require.NoError(t, err)
	assert.False(t, recorded)

	stats, err := store.GetStats(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AcceptCount)
	assert.Equal(t, 1, stats.RejectCount)

	got, err = store.GetSuggestion(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Accepted)
}

func TestRecordAcceptedEvent_RejectsNonAccept(t *testing.T) {
	store := createTestStorage(t)
	_, err := store.RecordAcceptedEvent(context.Background(), "s1", &model.FeedbackEvent{
		MerchantNormalized: "M", Category: "C", Action: model.ActionReject,
	})
	assert.ErrorIs(t, err, ErrInvalidFeedbackEvent)
}

func TestAcceptRateBySource(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	stale := suggestionRecord("old", "t0", model.SourceRule)
	stale.CreatedAt = testNow.Add(-30 * 24 * time.Hour)
	records := []model.SuggestionRecord{
		stale,
		suggestionRecord("r1", "t1", model.SourceRule),
		suggestionRecord("r2", "t2", model.SourceRule),
		suggestionRecord("m1", "t3", model.SourceModel),
	}
	require.NoError(t, store.SaveSuggestions(ctx, records))
	for _, id := range []string{"old", "r1", "m1"} {
		_, err := store.MarkSuggestionAccepted(ctx, id)
		require.NoError(t, err)
	}

	rates, err := store.AcceptRateBySource(ctx, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, 2, rates[model.SourceRule].Shown)
	assert.Equal(t, 1, rates[model.SourceRule].Accepted)
	assert.InDelta(t, 0.5, rates[model.SourceRule].Rate(), 1e-9)
	assert.InDelta(t, 1.0, rates[model.SourceModel].Rate(), 1e-9)
}

func TestShadowComparisons(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	comparisons := []model.ShadowComparison{
		{TransactionID: "t1", Routed: model.SourceRule, RuleCategory: "Food", ModelCategory: "Food", RuleScore: 0.7, ModelScore: 0.6},
		{TransactionID: "t2", Routed: model.SourceModel, RuleCategory: "Food", ModelCategory: "Travel", RuleScore: 0.7, ModelScore: 0.9},
	}
	require.NoError(t, store.SaveShadowComparisons(ctx, comparisons))

	compared, agreed, err := store.ShadowAgreement(ctx, testNow.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, compared)
	assert.Equal(t, 1, agreed)
}
