// Package ttlkv is a small sharded in-memory key/value store with per-key
// TTLs. Expired keys are reaped lazily on access and proactively by a
// background expirer driven by a deadline heap. It backs the delivery queue's
// audit window and the mesh duplicate-suppression cache.
package ttlkv

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Options tunes the store. The zero value is usable.
type Options struct {
	Shards int // shard count, default 64
}

// Store is safe for concurrent use. Values are copied on Set and Get so
// callers never alias internal state.
type Store struct {
	shards  []shard
	expq    expQueue
	closeCh chan struct{}
	wg      sync.WaitGroup

	nowFn func() time.Time

	mKeys    atomic.Int64
	mSets    atomic.Uint64
	mHits    atomic.Uint64
	mMisses  atomic.Uint64
	mExpired atomic.Uint64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]entry
}

type entry struct {
	val      []byte
	expireAt int64 // unix nano; 0 = no expiry
}

// New creates a store and starts its expirer goroutine. Call Close to stop it.
func New(opts Options) *Store {
	n := opts.Shards
	if n <= 0 {
		n = 64
	}
	s := &Store{
		shards:  make([]shard, n),
		closeCh: make(chan struct{}),
		nowFn:   time.Now,
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]entry)
	}
	s.expq.cond = sync.NewCond(&s.expq.mu)
	s.wg.Add(1)
	go s.expirer()
	return s
}

// Close stops the expirer goroutine.
func (s *Store) Close() {
	close(s.closeCh)
	s.expq.mu.Lock()
	s.expq.cond.Broadcast()
	s.expq.mu.Unlock()
	s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

func (s *Store) closed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

// Set stores a copy of val under key. ttl <= 0 means no expiry.
// Returns true when the key was created rather than overwritten.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
	var expAt int64
	if ttl > 0 {
		expAt = s.nowFn().Add(ttl).UnixNano()
	}
	v := append([]byte(nil), val...)

	sh := s.shardFor(key)
	sh.mu.Lock()
	_, existed := sh.m[key]
	sh.m[key] = entry{val: v, expireAt: expAt}
	sh.mu.Unlock()

	if !existed {
		s.mKeys.Add(1)
	}
	s.mSets.Add(1)
	if expAt != 0 {
		s.enqueueExpire(key, expAt)
	}
	return !existed
}

// Get returns a copy of the value. Expired keys count as misses and are
// removed lazily.
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	sh.mu.RUnlock()
	if !ok {
		s.mMisses.Add(1)
		return nil, false
	}
	if e.expireAt != 0 && e.expireAt <= s.nowFn().UnixNano() {
		s.reap(key)
		s.mMisses.Add(1)
		return nil, false
	}
	s.mHits.Add(1)
	return append([]byte(nil), e.val...), true
}

// Exists reports whether key is present and unexpired.
func (s *Store) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Update applies fn to the current value while holding the shard lock.
// Returns false when the key is absent or expired.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
	sh := s.shardFor(key)
	now := s.nowFn().UnixNano()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		return false
	}
	if e.expireAt != 0 && e.expireAt <= now {
		delete(sh.m, key)
		s.mKeys.Add(-1)
		s.mExpired.Add(1)
		return false
	}
	e.val = append([]byte(nil), fn(e.val)...)
	sh.m[key] = e
	return true
}

// Delete removes key. Returns true when it was present.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	_, ok := sh.m[key]
	if ok {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
	if ok {
		s.mKeys.Add(-1)
	}
	return ok
}

// Expire resets the TTL for an existing key. Returns false when the key is
// absent or already expired.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		return s.Delete(key)
	}
	expAt := s.nowFn().Add(ttl).UnixNano()
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.m[key]
	if !ok || (e.expireAt != 0 && e.expireAt <= s.nowFn().UnixNano()) {
		sh.mu.Unlock()
		return false
	}
	e.expireAt = expAt
	sh.m[key] = e
	sh.mu.Unlock()
	s.enqueueExpire(key, expAt)
	return true
}

// Len returns the live key count, counting not-yet-reaped expired keys.
func (s *Store) Len() int {
	n := s.mKeys.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	Keys    int64
	Sets    uint64
	Hits    uint64
	Misses  uint64
	Expired uint64
}

func (s *Store) Metrics() Stats {
	return Stats{
		Keys:    s.mKeys.Load(),
		Sets:    s.mSets.Load(),
		Hits:    s.mHits.Load(),
		Misses:  s.mMisses.Load(),
		Expired: s.mExpired.Load(),
	}
}

// reap removes key if it is still expired at the time of the check.
func (s *Store) reap(key string) {
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.Lock()
	if e, ok := sh.m[key]; ok && e.expireAt != 0 && e.expireAt <= now {
		delete(sh.m, key)
		s.mKeys.Add(-1)
		s.mExpired.Add(1)
	}
	sh.mu.Unlock()
}

// ---- deadline heap + expirer ----

type expItem struct {
	when int64
	key  string
}

type expQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []expItem
}

func (q *expQueue) Len() int            { return len(q.items) }
func (q *expQueue) Less(i, j int) bool  { return q.items[i].when < q.items[j].when }
func (q *expQueue) Swap(i, j int)       { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *expQueue) Push(x any)          { q.items = append(q.items, x.(expItem)) }
func (q *expQueue) Pop() any            { n := len(q.items); it := q.items[n-1]; q.items = q.items[:n-1]; return it }

func (s *Store) enqueueExpire(key string, when int64) {
	s.expq.mu.Lock()
	heap.Push(&s.expq, expItem{when: when, key: key})
	s.expq.cond.Broadcast()
	s.expq.mu.Unlock()
}

// expirer sleeps until the nearest known deadline, then reaps. A Set with
// an earlier deadline may be reaped a little late; reads reap lazily, so
// late proactive reaping only delays memory release, never visibility.
func (s *Store) expirer() {
	defer s.wg.Done()
	for {
		s.expq.mu.Lock()
		for s.expq.Len() == 0 {
			if s.closed() {
				s.expq.mu.Unlock()
				return
			}
			s.expq.cond.Wait()
			if s.closed() {
				s.expq.mu.Unlock()
				return
			}
		}
		next := s.expq.items[0]
		now := s.nowFn().UnixNano()
		if next.when > now {
			s.expq.mu.Unlock()
			timer := time.NewTimer(time.Duration(next.when - now))
			select {
			case <-timer.C:
			case <-s.closeCh:
				timer.Stop()
				return
			}
			continue
		}
		heap.Pop(&s.expq)
		s.expq.mu.Unlock()
		s.reap(next.key)
	}
}
