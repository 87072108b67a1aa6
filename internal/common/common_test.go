package common

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsAfterConflicts(t *testing.T) {
	var calls atomic.Int32
	err := WithRetry(context.Background(), func() error {
		if calls.Add(1) < 3 {
			return ErrPromotionConflict
		}
		return nil
	}, RetryOptions{MaxAttempts: 5, InitialDelay: time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithRetry_StopsOnPermanent(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	err := WithRetry(context.Background(), func() error {
		calls.Add(1)
		return Permanent(boom)
	}, RetryOptions{MaxAttempts: 5, InitialDelay: time.Millisecond})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetry_Exhausted(t *testing.T) {
	err := WithRetry(context.Background(), func() error {
		return ErrPromotionConflict
	}, RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond})

	require.ErrorIs(t, err, ErrMaxRetries)
	assert.ErrorIs(t, err, ErrPromotionConflict)
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, func() error {
		return ErrPromotionConflict
	}, RetryOptions{MaxAttempts: 3, InitialDelay: time.Second})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorHelpers(t *testing.T) {
	err := Validationf("missing %s", "merchant")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "missing merchant")

	cause := errors.New("disk I/O error")
	wrapped := Unavailable("load stats", cause)
	assert.ErrorIs(t, wrapped, ErrStorageUnavailable)
	assert.ErrorIs(t, wrapped, cause)
	assert.Nil(t, Unavailable("noop", nil))

	assert.True(t, IsRetryable(ErrPromotionConflict))
	assert.False(t, IsRetryable(Permanent(ErrPromotionConflict)))
	assert.False(t, IsRetryable(errors.New("plain")))

	userErr := NewUserError("could not save", cause)
	assert.Equal(t, "could not save: disk I/O error", userErr.Error())
	assert.ErrorIs(t, userErr, cause)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	_, err = ParseLevel("loud")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCompileMerchantPattern(t *testing.T) {
	re, err := CompileMerchantPattern("^amazon")
	require.NoError(t, err)
	assert.True(t, re.MatchString("AMAZON.COM"))

	_, err = CompileMerchantPattern("(")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = CompileMerchantPattern("  ")
	assert.ErrorIs(t, err, ErrValidation)
}
