package mem_cache

import (
	"sync/atomic"
	"time"

	"github.com/spaghettinuum/spagh/pkg/lru"
)

const (
	shardSize              = 64
	defaultCleanerInterval = time.Minute
)

// MemCache is an in-memory cache.Backend over a sharded LRU.
// Expiry is enforced lazily at read time; the optional cleaner only
// reclaims memory held by entries nobody asks for anymore.
type MemCache struct {
	closed           uint32
	closeCleanerChan chan struct{}
	lru              *lru.ShardedLRU[*elem]
}

type elem struct {
	v          []byte
	storedTime int64 // Unix seconds
	expire     int64 // Unix seconds
}

func NewMemCache(size int, cleanerInterval time.Duration) *MemCache {
	sizePerShard := size / shardSize
	if sizePerShard < 16 {
		sizePerShard = 16
	}
	c := &MemCache{
		closeCleanerChan: make(chan struct{}),
		lru:              lru.NewShardedLRU[*elem](shardSize, sizePerShard, nil),
	}

	if cleanerInterval > 0 {
		go c.startCleaner(cleanerInterval)
	}
	return c
}

func (c *MemCache) isClosed() bool {
	return atomic.LoadUint32(&c.closed) != 0
}

func (c *MemCache) Close() error {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		close(c.closeCleanerChan)
	}
	return nil
}

func (c *MemCache) Get(key string) (v []byte, storedTime, expire int64, ok bool) {
	if c.isClosed() {
		return nil, 0, 0, false
	}

	e, found := c.lru.Get(key)
	if !found {
		return nil, 0, 0, false
	}
	if time.Now().Unix() >= e.expire {
		return nil, 0, 0, false
	}
	return e.v, e.storedTime, e.expire, true
}

func (c *MemCache) Store(key string, v []byte, storedTime, expire int64) {
	if c.isClosed() {
		return
	}
	if expire <= time.Now().Unix() {
		return
	}

	buf := make([]byte, len(v))
	copy(buf, v)

	c.lru.Add(key, &elem{
		v:          buf,
		storedTime: storedTime,
		expire:     expire,
	})
}

func (c *MemCache) startCleaner(interval time.Duration) {
	if interval <= 0 {
		interval = defaultCleanerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCleanerChan:
			return
		case <-ticker.C:
			now := time.Now().Unix()
			c.lru.Clean(func(_ string, e *elem) bool {
				return e.expire <= now
			})
		}
	}
}

func (c *MemCache) Len() int {
	return c.lru.Len()
}
