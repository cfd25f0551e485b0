package lru

import (
	"hash/maphash"
	"sync"
)

// ShardedLRU spreads string keyed entries over independently locked
// LRU shards to reduce contention.
type ShardedLRU[V any] struct {
	seed   maphash.Seed
	shards []*concurrentLRU[string, V]
	mask   uint64 // shardNum - 1, shardNum must be a power of 2
}

func NewShardedLRU[V any](shardNum, maxSizePerShard int, onEvict func(key string, v V)) *ShardedLRU[V] {
	if shardNum <= 0 || shardNum&(shardNum-1) != 0 {
		panic("lru: shardNum must be a power of 2 and > 0")
	}

	s := &ShardedLRU[V]{
		seed:   maphash.MakeSeed(),
		shards: make([]*concurrentLRU[string, V], shardNum),
		mask:   uint64(shardNum - 1),
	}
	for i := range s.shards {
		s.shards[i] = &concurrentLRU[string, V]{
			lru: NewLRU[string, V](maxSizePerShard, onEvict),
		}
	}
	return s
}

func (s *ShardedLRU[V]) getShard(key string) *concurrentLRU[string, V] {
	h := maphash.String(s.seed, key)
	return s.shards[int(h&s.mask)]
}

func (s *ShardedLRU[V]) Add(key string, v V) {
	s.getShard(key).Add(key, v)
}

func (s *ShardedLRU[V]) Del(key string) {
	s.getShard(key).Del(key)
}

func (s *ShardedLRU[V]) Get(key string) (v V, ok bool) {
	return s.getShard(key).Get(key)
}

func (s *ShardedLRU[V]) Clean(f func(key string, v V) bool) (removed int) {
	for _, shard := range s.shards {
		removed += shard.Clean(f)
	}
	return removed
}

func (s *ShardedLRU[V]) Len() int {
	sum := 0
	for _, shard := range s.shards {
		sum += shard.Len()
	}
	return sum
}

type concurrentLRU[K comparable, V any] struct {
	sync.Mutex
	lru *LRU[K, V]
}

func (c *concurrentLRU[K, V]) Add(key K, v V) {
	c.Lock()
	c.lru.Add(key, v)
	c.Unlock()
}

func (c *concurrentLRU[K, V]) Del(key K) {
	c.Lock()
	c.lru.Del(key)
	c.Unlock()
}

func (c *concurrentLRU[K, V]) Get(key K) (v V, ok bool) {
	c.Lock()
	v, ok = c.lru.Get(key)
	c.Unlock()
	return
}

func (c *concurrentLRU[K, V]) Clean(f func(key K, v V) bool) (removed int) {
	c.Lock()
	removed = c.lru.Clean(f)
	c.Unlock()
	return
}

func (c *concurrentLRU[K, V]) Len() int {
	c.Lock()
	n := c.lru.Len()
	c.Unlock()
	return n
}
