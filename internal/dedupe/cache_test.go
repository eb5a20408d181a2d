package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
)

func gazette(id int64, checksum string) models.Gazette {
	return models.Gazette{ID: id, FileChecksum: checksum}
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestCacheSeenDuplicate(t *testing.T) {
	cache := NewCache(10, time.Minute)
	require.False(t, cache.IsSeen(gazette(1, "a")))
	cache.MarkSeen(gazette(1, "a"))
	require.True(t, cache.IsSeen(gazette(1, "a")))
}

func TestCacheKeysOnChecksum(t *testing.T) {
	cache := NewCache(10, time.Minute)
	cache.MarkSeen(gazette(1, "a"))

	require.False(t, cache.IsSeen(gazette(1, "b")))
	require.False(t, cache.IsSeen(gazette(2, "a")))
}

func TestCacheTTLExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewCache(10, time.Minute)
	cache.now = clock.now

	cache.MarkSeen(gazette(1, "a"))
	clock.t = clock.t.Add(61 * time.Second)
	require.False(t, cache.IsSeen(gazette(1, "a")))
}

func TestCacheCapacityEvictsOldest(t *testing.T) {
	cache := NewCache(1, time.Minute)
	cache.MarkSeen(gazette(1, "a"))
	cache.MarkSeen(gazette(2, "b"))

	require.False(t, cache.IsSeen(gazette(1, "a")))
	require.True(t, cache.IsSeen(gazette(2, "b")))
}
