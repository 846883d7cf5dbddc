package bake

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll(t *testing.T) {
	const interval = time.Millisecond

	t.Run("succeeds-on-nth-attempt", func(t *testing.T) {
		// Success on attempt N requires exactly N invocations: the first
		// N-1 report not-done, the Nth reports done.
		for _, n := range []int{1, 2, 5, 30} {
			made := 0
			err := poll(t.Context(), interval, 30, func(ctx context.Context) (bool, error) {
				made++
				return made == n, nil
			})
			require.NoError(t, err)
			assert.Equal(t, n, made)
		}
	})

	t.Run("never-exceeds-bound", func(t *testing.T) {
		made := 0
		err := poll(t.Context(), interval, 4, func(ctx context.Context) (bool, error) {
			made++
			return false, nil
		})
		require.ErrorIs(t, err, ErrPollBound)
		assert.Equal(t, 4, made)
	})

	t.Run("fn-error-is-fatal-immediately", func(t *testing.T) {
		boom := fmt.Errorf("boom")
		made := 0
		err := poll(t.Context(), interval, 10, func(ctx context.Context) (bool, error) {
			made++
			return false, boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, made)
	})

	t.Run("unbounded-honors-context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		err := poll(ctx, interval, 0, func(ctx context.Context) (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
