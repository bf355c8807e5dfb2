package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowsUpToMaxWithinWindow(t *testing.T) {
	l := New(3, time.Minute)
	now := time.Unix(1000, 0)
	require.True(t, l.Allow("a1", now))
	require.True(t, l.Allow("a1", now))
	require.True(t, l.Allow("a1", now))
	require.False(t, l.Allow("a1", now))
}

func TestWindowResetsAfterElapsed(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Unix(1000, 0)
	require.True(t, l.Allow("a1", now))
	require.False(t, l.Allow("a1", now.Add(30*time.Second)))
	require.True(t, l.Allow("a1", now.Add(61*time.Second)))
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Unix(1000, 0)
	require.True(t, l.Allow("a1", now))
	require.True(t, l.Allow("a2", now))
	require.False(t, l.Allow("a1", now))
}

func TestPruneDropsStaleWindows(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Unix(1000, 0)
	l.Allow("a1", now)
	l.Prune(now.Add(3 * time.Minute))
	require.Empty(t, l.byKey)
}
