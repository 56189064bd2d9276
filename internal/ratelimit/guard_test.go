package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance-service/internal/errors"
	"github.com/R3E-Network/provenance-service/internal/ratelimit"
)

func TestAuthorize_FixedWindow_RejectsAfterMax(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	guard := ratelimit.New(store, map[string]ratelimit.BucketRule{
		"text":    {MaxRequests: 3, WindowSeconds: 60},
		"default": {MaxRequests: 3, WindowSeconds: 60},
	}, 1000)

	for i := 0; i < 3; i++ {
		decision, err := guard.Authorize(context.Background(), "client-a", "text", 1)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	_, err := guard.Authorize(context.Background(), "client-a", "text", 1)
	require.Error(t, err)
	se, ok := errors.As(err)
	require.True(t, ok)
	require.Equal(t, errors.CodeRateLimited, se.Code)
}

func TestAuthorize_SpendCapExceeded_RollsBackDebitNotCounter(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	guard := ratelimit.New(store, map[string]ratelimit.BucketRule{
		"default": {MaxRequests: 100, WindowSeconds: 60},
	}, 10)

	for i := 0; i < 3; i++ {
		_, err := guard.Authorize(context.Background(), "client-b", "default", 1)
		require.NoError(t, err)
	}
	_, err := guard.Authorize(context.Background(), "client-b", "default", 3)
	require.NoError(t, err)

	_, err = guard.Authorize(context.Background(), "client-b", "default", 6)
	require.Error(t, err)
	se, ok := errors.As(err)
	require.True(t, ok)
	require.Equal(t, errors.CodeSpendCapExceeded, se.Code)

	dayKey := time.Now().UTC().Format("2006-01-02")
	used, err := store.AddSpend(context.Background(), "client-b", dayKey, 0)
	require.NoError(t, err)
	require.Equal(t, 6, used)
}
