package mid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalLimiterEvictsExpiredWindows(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		allowed, _, err := l.Allow(ctx, key, 1, 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	require.Len(t, l.windows, 3)

	time.Sleep(30 * time.Millisecond)

	allowed, _, err := l.Allow(ctx, "d", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Len(t, l.windows, 1)
}
