package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	policy := Policy{Attempts: 3, InitialBackoff: time.Millisecond, Multiplier: 1}
	err := Do(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorAfterExhaustion(t *testing.T) {
	want := errors.New("permanent")
	err := Do(context.Background(), Policy{Attempts: 2, InitialBackoff: time.Millisecond}, func() error {
		return want
	})
	require.ErrorIs(t, err, want)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{Attempts: 5, InitialBackoff: time.Second}, func() error {
		return errors.New("should not matter on first try is fine, but retries must stop")
	})
	require.Error(t, err)
}
