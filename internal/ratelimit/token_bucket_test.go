package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBucketAllowsUpToCapacityThenRejects(t *testing.T) {
	b := New(3, time.Hour)
	defer b.Close()

	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.False(t, b.Allow(), "fourth request exceeds capacity")
	require.Equal(t, 0, b.Remaining())
	require.Equal(t, uint64(3), b.ConsumedTotal())
}

func TestBucketRefillsToFullCapacity(t *testing.T) {
	b := New(2, 10*time.Millisecond)
	defer b.Close()

	require.True(t, b.Allow())
	require.True(t, b.Allow())
	require.False(t, b.Allow())

	require.Eventually(t, func() bool {
		return b.Remaining() == 2
	}, time.Second, time.Millisecond, "bucket should refill to full capacity, not incrementally")
}

func TestKeyedIsolatesBucketsPerKey(t *testing.T) {
	k := NewKeyed(1, time.Hour)
	defer k.Close()

	require.True(t, k.Allow("site-a"))
	require.False(t, k.Allow("site-a"), "site-a's bucket is exhausted")
	require.True(t, k.Allow("site-b"), "site-b has its own independent bucket")
}
