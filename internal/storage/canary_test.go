package storage

import (
	"context"
	"testing"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanaryState_EnsureSeedsOnce(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.LoadCanaryState(ctx)
	assert.ErrorIs(t, err, common.ErrNotFound)

	state, err := store.EnsureCanaryState(ctx, model.CanaryState{Percentage: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, state.Percentage)
	assert.Equal(t, 1, state.Version)

	// A second seed keeps the stored value.
	state, err = store.EnsureCanaryState(ctx, model.CanaryState{Percentage: 50, Shadow: true})
	require.NoError(t, err)
	assert.Equal(t, 10, state.Percentage)
	assert.False(t, state.Shadow)
}

func TestCanaryState_SaveIsVersionGuarded(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	current, err := store.EnsureCanaryState(ctx, model.CanaryState{})
	require.NoError(t, err)

	next := model.CanaryState{Percentage: 10, Shadow: true, Version: current.Version + 1}
	require.NoError(t, store.SaveCanaryState(ctx, next, current.Percentage, "advance"))

	stale := model.CanaryState{Percentage: 50, Version: current.Version + 1}
	assert.ErrorIs(t, store.SaveCanaryState(ctx, stale, current.Percentage, "advance"), ErrVersionConflict)

	loaded, err := store.LoadCanaryState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.Percentage)
	assert.True(t, loaded.Shadow)
	assert.Equal(t, 2, loaded.Version)

	history, err := store.CanaryHistory(ctx, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 0, history[0].FromPercentage)
	assert.Equal(t, 10, history[0].ToPercentage)
	assert.Equal(t, "advance", history[0].Reason)
}

func TestCanaryState_RejectsOutOfRange(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.EnsureCanaryState(ctx, model.CanaryState{Percentage: 101})
	assert.ErrorIs(t, err, common.ErrValidation)
}
