package mesh

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/ttlkv"
)

// SeenCache answers "have I processed (source, seq) inside the window?".
// Two time-sliced bloom generations front the precise TTL store: the
// generations rotate once per window, so any entry younger than the window
// is still present in one of them. A miss in both means definitely new; a
// hit is confirmed against the store, so bloom false positives never
// suppress fresh packets. Handlers use the cache as the at-least-once
// delivery dedup hint.
type SeenCache struct {
	mu         sync.Mutex
	cur        *bloom.BloomFilter
	prev       *bloom.BloomFilter
	kv         *ttlkv.Store
	window     time.Duration
	cap        uint
	lastRotate time.Time
	nowFn      func() time.Time
}

// NewSeenCache sizes each filter generation for roughly expected entries
// live at once within the window.
func NewSeenCache(kv *ttlkv.Store, window time.Duration, expected uint) *SeenCache {
	if expected == 0 {
		expected = 4096
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &SeenCache{
		cur:        bloom.NewWithEstimates(expected, 0.01),
		kv:         kv,
		window:     window,
		cap:        expected,
		lastRotate: time.Now(),
		nowFn:      time.Now,
	}
}

// Seen marks (source, seq) and reports whether it was already marked inside
// the window. The check-and-mark is atomic.
func (c *SeenCache) Seen(source comm.NodeID, seq uint32) bool {
	var probe [12]byte
	binary.LittleEndian.PutUint64(probe[0:8], uint64(source))
	binary.LittleEndian.PutUint32(probe[8:12], seq)
	key := fmt.Sprintf("seen:%016x:%d", uint64(source), seq)

	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastRotate) >= c.window {
		c.prev = c.cur
		c.cur = bloom.NewWithEstimates(c.cap, 0.01)
		c.lastRotate = now
	}
	maybe := c.cur.Test(probe[:]) || (c.prev != nil && c.prev.Test(probe[:]))
	if maybe && c.kv.Exists(key) {
		return true
	}
	c.cur.Add(probe[:])
	c.kv.Set(key, nil, c.window)
	return false
}
