package suggest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/spice-feedback/internal/canary"
	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/hints"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/storage"
	"github.com/Veraticus/spice-feedback/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine returns canned candidates per category list and records calls.
type fakeEngine struct {
	err     error
	byID    map[string][]string
	version string
	calls   [][]string
	score   float64
	mu      sync.Mutex
}

func newFakeEngine(score float64, byID map[string][]string) *fakeEngine {
	return &fakeEngine{score: score, byID: byID}
}

func (f *fakeEngine) Suggest(_ context.Context, txns []model.Transaction) (map[string]model.Candidates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, len(txns))
	for i, t := range txns {
		ids[i] = t.ID
	}
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}

	out := make(map[string]model.Candidates)
	for _, t := range txns {
		score := f.score
		for _, category := range f.byID[t.ID] {
			out[t.ID] = append(out[t.ID], model.SuggestionCandidate{
				Category:     category,
				BaseScore:    score,
				ModelVersion: f.version,
				Reason:       "matched " + category,
			})
			score -= 0.05
		}
	}
	return out, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixedState model.CanaryState

func (s fixedState) State() model.CanaryState { return model.CanaryState(s) }

func newTestStore(t *testing.T, txns ...model.Transaction) *storage.SQLiteStorage {
	t.Helper()
	var opts []testutil.Option
	if len(txns) > 0 {
		opts = append(opts, testutil.WithTransactions(txns...))
	}
	return testutil.SetupTestDB(t, opts...).Storage
}

func txn(id, merchant string) model.Transaction {
	return model.Transaction{ID: id, Date: time.Now(), Name: merchant, MerchantName: merchant, Amount: 10}
}

func TestSuggest_ZeroPercentUsesRuleEngineOnly(t *testing.T) {
	db := newTestStore(t, txn("t1", "AMAZON.COM"), txn("t2", "STARBUCKS"))
	rules := newFakeEngine(0.8, map[string][]string{"t1": {"Shopping"}, "t2": {"Coffee"}})
	ml := newFakeEngine(0.9, map[string][]string{"t1": {"Books"}, "t2": {"Dining"}})

	svc, err := New(db, Options{Rules: rules, Model: ml, Canary: fixedState{Percentage: 0}})
	require.NoError(t, err)

	results, err := svc.Suggest(context.Background(), []string{"t1", "t2", "t1"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Shopping", results[0].Category)
	assert.Equal(t, model.SourceRule, results[0].Source)
	assert.NotEmpty(t, results[0].SuggestionID)
	assert.Equal(t, "matched Shopping", results[0].Reasoning)
	assert.Equal(t, "Coffee", results[1].Category)
	assert.Zero(t, ml.callCount())
	assert.Equal(t, 1, rules.callCount(), "engines are called once per batch")

	rec, err := db.GetSuggestion(context.Background(), results[0].SuggestionID)
	require.NoError(t, err)
	assert.Equal(t, "AMAZON.COM", rec.Merchant)
}

func TestSuggest_FullRolloutUsesModel(t *testing.T) {
	db := newTestStore(t, txn("t1", "AMAZON.COM"))
	rules := newFakeEngine(0.8, map[string][]string{"t1": {"Shopping"}})
	ml := newFakeEngine(0.9, map[string][]string{"t1": {"Books"}})
	ml.version = "m-7"

	svc, err := New(db, Options{Rules: rules, Model: ml, Canary: fixedState{Percentage: 100}})
	require.NoError(t, err)

	results, err := svc.Suggest(context.Background(), []string{"t1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Books", results[0].Category)
	assert.Equal(t, model.SourceModel, results[0].Source)
	assert.Equal(t, "m-7", results[0].ModelVersion)
	assert.Zero(t, rules.callCount())
}

func TestSuggest_ContextStateOverridesController(t *testing.T) {
	db := newTestStore(t, txn("t1", "AMAZON.COM"))
	rules := newFakeEngine(0.8, map[string][]string{"t1": {"Shopping"}})
	ml := newFakeEngine(0.9, map[string][]string{"t1": {"Books"}})

	svc, err := New(db, Options{Rules: rules, Model: ml, Canary: fixedState{Percentage: 0}})
	require.NoError(t, err)

	ctx := canary.WithState(context.Background(), model.CanaryState{Percentage: 100})
	results, err := svc.Suggest(ctx, []string{"t1"})
	require.NoError(t, err)
	assert.Equal(t, model.SourceModel, results[0].Source)
}

func TestSuggest_ShadowComputesBothAndReturnsRouted(t *testing.T) {
	db := newTestStore(t, txn("t1", "AMAZON.COM"), txn("t2", "STARBUCKS"))
	rules := newFakeEngine(0.8, map[string][]string{"t1": {"Shopping"}, "t2": {"Coffee"}})
	ml := newFakeEngine(0.9, map[string][]string{"t1": {"Shopping"}, "t2": {"Dining"}})

	svc, err := New(db, Options{Rules: rules, Model: ml, Canary: fixedState{Percentage: 0, Shadow: true}})
	require.NoError(t, err)

	results, err := svc.Suggest(context.Background(), []string{"t1", "t2"})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, model.SourceRule, r.Source)
	}
	assert.Equal(t, 1, ml.callCount())

	compared, agreed, err := db.ShadowAgreement(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, compared)
	assert.Equal(t, 1, agreed)

	snap := svc.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.ShadowCompared)
	assert.Equal(t, int64(1), snap.ShadowAgreed)
}

func TestSuggest_ShadowSkipsUnknownTransactions(t *testing.T) {
	db := newTestStore(t, txn("t1", "AMAZON.COM"))
	rules := newFakeEngine(0.8, map[string][]string{"t1": {"Shopping"}})
	ml := newFakeEngine(0.9, map[string][]string{"t1": {"Shopping"}})

	svc, err := New(db, Options{Rules: rules, Model: ml, Canary: fixedState{Percentage: 0, Shadow: true}})
	require.NoError(t, err)

	results, err := svc.Suggest(context.Background(), []string{"t1", "ghost-1", "ghost-2"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Shopping", results[0].Category)
	assert.True(t, results[1].AskAgent)
	assert.True(t, results[2].AskAgent)

	compared, agreed, err := db.ShadowAgreement(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, compared)
	assert.Equal(t, 1, agreed)
	assert.Equal(t, int64(1), svc.Metrics().Snapshot().ShadowCompared)
}

func TestSuggest_FallsBackWhenRoutedEngineFails(t *testing.T) {
	db := newTestStore(t, txn("t1", "AMAZON.COM"))
	rules := newFakeEngine(0.8, map[string][]string{"t1": {"Shopping"}})
	ml := newFakeEngine(0.9, nil)
	ml.err = errors.New("model timeout")

	svc, err := New(db, Options{Rules: rules, Model: ml, Canary: fixedState{Percentage: 100}})
	require.NoError(t, err)

	results, err := svc.Suggest(context.Background(), []string{"t1"})
	require.NoError(t, err)
	assert.Equal(t, "Shopping", results[0].Category)
	assert.Equal(t, model.SourceRule, results[0].Source)
	assert.Equal(t, int64(1), svc.Metrics().Snapshot().Sources[model.SourceModel].Errors)
}

func TestSuggest_NoCandidatesAsksAgent(t *testing.T) {
	db := newTestStore(t, txn("t1", "MYSTERY"))
	svc, err := New(db, Options{
		Rules:  newFakeEngine(0.8, nil),
		Model:  newFakeEngine(0.8, nil),
		Canary: fixedState{Percentage: 50},
	})
	require.NoError(t, err)

	results, err := svc.Suggest(context.Background(), []string{"t1", "unknown"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].AskAgent)
	assert.Empty(t, results[0].Category)
	assert.True(t, results[1].AskAgent)
	assert.Equal(t, "transaction not found", results[1].Reasoning)
}

func TestSuggest_LowConfidenceAsksAgent(t *testing.T) {
	db := newTestStore(t, txn("t1", "CORNER"))
	svc, err := New(db, Options{Rules: newFakeEngine(0.4, map[string][]string{"t1": {"Misc"}})})
	require.NoError(t, err)

	results, err := svc.Suggest(context.Background(), []string{"t1"})
	require.NoError(t, err)
	assert.True(t, results[0].AskAgent)
	assert.Empty(t, results[0].SuggestionID)
	assert.Equal(t, int64(1), svc.Metrics().Snapshot().Sources[model.SourceRule].AskAgent)
}

func TestSuggest_FeedbackReranks(t *testing.T) {
	db := newTestStore(t, txn("t1", "AMAZON.COM"))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordEvent(ctx, &model.FeedbackEvent{
			MerchantNormalized: "AMAZON.COM", Category: "Books", Action: model.ActionAccept,
		}))
	}
	// Engine prefers Shopping, feedback prefers Books.
	svc, err := New(db, Options{Rules: newFakeEngine(0.7, map[string][]string{"t1": {"Shopping", "Books"}})})
	require.NoError(t, err)

	results, err := svc.Suggest(ctx, []string{"t1"})
	require.NoError(t, err)
	assert.Equal(t, "Books", results[0].Category)
	assert.Greater(t, results[0].Confidence, 0.65)
}

func ptr[T any](v T) *T { return &v }

// flakyStore fails selected operations.
type flakyStore struct {
	*storage.SQLiteStorage
	loadErr        error
	recordErr      error
	acceptFailures int
}

func (f *flakyStore) RecordAcceptedEvent(ctx context.Context, suggestionID string, event *model.FeedbackEvent) (bool, error) {
	if f.acceptFailures > 0 {
		f.acceptFailures--
		return false, common.Unavailable("record accepted feedback", errors.New("database is locked"))
	}
	return f.SQLiteStorage.RecordAcceptedEvent(ctx, suggestionID, event)
}

func (f *flakyStore) LoadStats(ctx context.Context, keys []model.StatsKey) (map[model.StatsKey]model.MerchantCategoryStats, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.SQLiteStorage.LoadStats(ctx, keys)
}

func (f *flakyStore) RecordEvent(ctx context.Context, event *model.FeedbackEvent) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	return f.SQLiteStorage.RecordEvent(ctx, event)
}

func TestSuggest_StatsUnavailableStillSuggests(t *testing.T) {
	store := &flakyStore{
		SQLiteStorage: newTestStore(t, txn("t1", "AMAZON.COM")),
		loadErr:       common.Unavailable("load stats", errors.New("locked")),
	}
	svc, err := New(store, Options{Rules: newFakeEngine(0.7, map[string][]string{"t1": {"Shopping"}})})
	require.NoError(t, err)

	results, err := svc.Suggest(context.Background(), []string{"t1"})
	require.NoError(t, err)
	assert.Equal(t, "Shopping", results[0].Category)
	assert.InDelta(t, 0.7, results[0].Confidence, 1e-9)
	assert.Equal(t, int64(1), svc.Metrics().Snapshot().StatsDegraded)
}

func TestSuggest_RequiresIDs(t *testing.T) {
	svc, err := New(newTestStore(t), Options{Rules: newFakeEngine(0.7, nil)})
	require.NoError(t, err)

	_, err = svc.Suggest(context.Background(), []string{""})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestNew_RequiresRuleEngine(t *testing.T) {
	_, err := New(newTestStore(t), Options{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestRecordFeedback_Validation(t *testing.T) {
	svc, err := New(newTestStore(t), Options{Rules: newFakeEngine(0.7, nil)})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  FeedbackRequest
	}{
		{name: "missing transaction", req: FeedbackRequest{Category: "A", Action: model.ActionAccept}},
		{name: "missing category", req: FeedbackRequest{TransactionID: "t1", Action: model.ActionAccept}},
		{name: "missing action", req: FeedbackRequest{TransactionID: "t1", Category: "A"}},
		{name: "bad source", req: FeedbackRequest{TransactionID: "t1", Category: "A", Action: model.ActionReject, Source: "oracle"}},
		{name: "bad score", req: FeedbackRequest{TransactionID: "t1", Category: "A", Action: model.ActionReject, Score: ptr(2.0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.RecordFeedback(context.Background(), tt.req), common.ErrValidation)
		})
	}
}

func TestRecordFeedback_DuplicateAcceptsCountOnce(t *testing.T) {
	db := newTestStore(t, txn("t1", "AMAZON.COM"))
	svc, err := New(db, Options{Rules: newFakeEngine(0.8, map[string][]string{"t1": {"Shopping"}})})
	require.NoError(t, err)
	ctx := context.Background()

	results, err := svc.Suggest(ctx, []string{"t1"})
	require.NoError(t, err)
	suggestionID := results[0].SuggestionID

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.RecordFeedback(ctx, FeedbackRequest{
				TransactionID: "t1",
				SuggestionID:  suggestionID,
				Category:      "Shopping",
				Action:        model.ActionAccept,
			}))
		}()
	}
	wg.Wait()
	svc.Wait()

	assert.Equal(t, int64(1), svc.Metrics().Snapshot().Sources[model.SourceRule].Accepted)

	stats, err := db.GetStats(ctx, model.StatsKey{Merchant: "AMAZON.COM", Category: "Shopping"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AcceptCount)

	rec, err := db.GetSuggestion(ctx, suggestionID)
	require.NoError(t, err)
	assert.True(t, rec.Accepted)
}

func TestRecordFeedback_RejectWithoutSuggestion(t *testing.T) {
	db := newTestStore(t, txn("t1", "STARBUCKS"))
	svc, err := New(db, Options{Rules: newFakeEngine(0.8, nil)})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.RecordFeedback(ctx, FeedbackRequest{
		TransactionID: "t1",
		Category:      "Dining",
		Action:        model.ActionReject,
		Source:        model.SourceModel,
	}))
	svc.Wait()

	stats, err := db.GetStats(ctx, model.StatsKey{Merchant: "STARBUCKS", Category: "Dining"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RejectCount)
	assert.Equal(t, int64(1), svc.Metrics().Snapshot().Sources[model.SourceModel].Rejected)
}

func TestRecordFeedback_StorageFailureIsSwallowed(t *testing.T) {
	store := &flakyStore{
		SQLiteStorage: newTestStore(t, txn("t1", "STARBUCKS")),
		recordErr:     common.Unavailable("record feedback event", errors.New("disk full")),
	}
	svc, err := New(store, Options{Rules: newFakeEngine(0.8, nil)})
	require.NoError(t, err)

	err = svc.RecordFeedback(context.Background(), FeedbackRequest{
		TransactionID: "t1", Category: "Coffee", Action: model.ActionAccept,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	assert.Equal(t, int64(1), svc.Metrics().Snapshot().FeedbackFailed)
}

func TestRecordFeedback_SurvivesCallerCancellation(t *testing.T) {
	db := newTestStore(t, txn("t1", "STARBUCKS"))
	svc, err := New(db, Options{Rules: newFakeEngine(0.8, nil)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.RecordFeedback(ctx, FeedbackRequest{
		TransactionID: "t1", Category: "Coffee", Action: model.ActionAccept,
	}))
	cancel()
	svc.Wait()

	stats, err := db.GetStats(context.Background(), model.StatsKey{Merchant: "STARBUCKS", Category: "Coffee"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AcceptCount)
}

func TestRecordFeedback_TriggersPromotion(t *testing.T) {
	db := newTestStore(t, txn("t1", "AMAZON.COM"), txn("t2", "AMAZON.COM"))
	svc, err := New(db, Options{
		Rules:    newFakeEngine(0.8, nil),
		Promoter: hints.NewPromoter(db, 3),
	})
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, svc.RecordFeedback(ctx, FeedbackRequest{
			TransactionID: id, Category: "Shopping", Action: model.ActionAccept,
		}))
		svc.Wait()
	}

	hint, err := db.GetHint(ctx, "AMAZON.COM")
	require.NoError(t, err)
	assert.Equal(t, "Shopping", hint.Category)
	assert.Equal(t, 2, hint.Support)
}

func TestRecordFeedback_FailedAcceptCanBeRetried(t *testing.T) {
	store := &flakyStore{
		SQLiteStorage:  newTestStore(t, txn("t1", "AMAZON.COM")),
		acceptFailures: 1,
	}
	svc, err := New(store, Options{Rules: newFakeEngine(0.8, map[string][]string{"t1": {"Shopping"}})})
	require.NoError(t, err)
	ctx := context.Background()

	results, err := svc.Suggest(ctx, []string{"t1"})
	require.NoError(t, err)
	req := FeedbackRequest{
		TransactionID: "t1",
		SuggestionID:  results[0].SuggestionID,
		Category:      "Shopping",
		Action:        model.ActionAccept,
	}

	require.NoError(t, svc.RecordFeedback(ctx, req))
	svc.Wait()
	assert.Equal(t, int64(1), svc.Metrics().Snapshot().FeedbackFailed)

	require.NoError(t, svc.RecordFeedback(ctx, req))
	svc.Wait()

	stats, err := store.LoadStats(ctx, []model.StatsKey{{Merchant: "AMAZON.COM", Category: "Shopping"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats[model.StatsKey{Merchant: "AMAZON.COM", Category: "Shopping"}].AcceptCount)
	assert.Equal(t, int64(1), svc.Metrics().Snapshot().Sources[model.SourceRule].Accepted)
}

func TestRecordFeedback_ScoreDefaultsToSuggestionConfidence(t *testing.T) {
	db := newTestStore(t, txn("t1", "AMAZON.COM"), txn("t2", "AMAZON.COM"))
	svc, err := New(db, Options{Rules: newFakeEngine(0.8, map[string][]string{
		"t1": {"Shopping"},
		"t2": {"Shopping"},
	})})
	require.NoError(t, err)
	ctx := context.Background()

	results, err := svc.Suggest(ctx, []string{"t1", "t2"})
	require.NoError(t, err)

	require.NoError(t, svc.RecordFeedback(ctx, FeedbackRequest{
		TransactionID: "t1", SuggestionID: results[0].SuggestionID,
		Category: "Shopping", Action: model.ActionAccept, Score: ptr(0.0),
	}))
	require.NoError(t, svc.RecordFeedback(ctx, FeedbackRequest{
		TransactionID: "t2", SuggestionID: results[1].SuggestionID,
		Category: "Shopping", Action: model.ActionAccept,
	}))
	svc.Wait()

	events, err := db.ListFeedbackEvents(ctx, "AMAZON.COM", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	scores := map[string]float64{}
	for _, e := range events {
		scores[e.TransactionID] = e.Score
	}
	assert.Zero(t, scores["t1"])
	assert.InDelta(t, results[1].Confidence, scores["t2"], 1e-9)
}

func TestRecordFeedback_UnknownTransactionNeedsMerchant(t *testing.T) {
	db := newTestStore(t)
	svc, err := New(db, Options{Rules: newFakeEngine(0.8, nil)})
	require.NoError(t, err)
	ctx := context.Background()

	err = svc.RecordFeedback(ctx, FeedbackRequest{
		TransactionID: "ghost", Category: "Coffee", Action: model.ActionReject,
	})
	require.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, svc.RecordFeedback(ctx, FeedbackRequest{
		TransactionID: "ghost", Merchant: "STARBUCKS", Category: "Coffee", Action: model.ActionReject,
	}))
	svc.Wait()

	stats, err := db.GetStats(ctx, model.StatsKey{Merchant: "STARBUCKS", Category: "Coffee"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RejectCount)
	assert.Zero(t, svc.Metrics().Snapshot().FeedbackFailed)
}
