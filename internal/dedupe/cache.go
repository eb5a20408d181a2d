package dedupe

import (
	"strconv"
	"sync"
	"time"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
)

type entry struct {
	key string
	ts  time.Time
}

// Cache remembers recently processed gazette jobs so that redelivered Kafka
// messages are not extracted twice. A gazette is identified by its database
// id together with the file checksum: a re-crawled file is a new job.
type Cache struct {
	mu       sync.Mutex
	items    map[string]time.Time
	order    []entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		items:    make(map[string]time.Time, capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Key identifies a gazette job.
func Key(g models.Gazette) string {
	return strconv.FormatInt(g.ID, 10) + ":" + g.FileChecksum
}

// IsSeen reports whether g was marked inside the ttl window.
func (c *Cache) IsSeen(g models.Gazette) bool {
	key := Key(g)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok := c.items[key]
	return ok && now.Sub(ts) <= c.ttl
}

// MarkSeen records that g has been processed.
func (c *Cache) MarkSeen(g models.Gazette) {
	key := Key(g)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = now
	c.order = append(c.order, entry{key: key, ts: now})
	c.compact(now)
}

func (c *Cache) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		if ts, ok := c.items[oldest.key]; ok && ts.Equal(oldest.ts) {
			delete(c.items, oldest.key)
		}
	}
}
