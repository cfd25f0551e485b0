package lru

import "fmt"

// LRU is a fixed-size key value cache with least-recently-used
// eviction. Not safe for concurrent use, see ShardedLRU.
type LRU[K comparable, V any] struct {
	maxSize int
	onEvict func(key K, v V)

	l *linkedList[kv[K, V]]
	m map[K]*elem[kv[K, V]]
}

type kv[K comparable, V any] struct {
	key K
	v   V
}

func NewLRU[K comparable, V any](maxSize int, onEvict func(key K, v V)) *LRU[K, V] {
	if maxSize <= 0 {
		panic(fmt.Sprintf("lru: invalid max size: %d", maxSize))
	}

	return &LRU[K, V]{
		maxSize: maxSize,
		onEvict: onEvict,
		l:       &linkedList[kv[K, V]]{},
		m:       make(map[K]*elem[kv[K, V]], maxSize),
	}
}

func (q *LRU[K, V]) Add(key K, v V) {
	if e, ok := q.m[key]; ok {
		e.value.v = v
		q.l.MoveToBack(e)
		return
	}

	// Reuse the oldest element when full, zero allocation path.
	if q.l.Len() >= q.maxSize {
		e := q.l.Front()

		if q.onEvict != nil {
			q.onEvict(e.value.key, e.value.v)
		}
		delete(q.m, e.value.key)

		e.value.key = key
		e.value.v = v
		q.m[key] = e
		q.l.MoveToBack(e)
		return
	}

	e := &elem[kv[K, V]]{value: kv[K, V]{key: key, v: v}}
	q.m[key] = e
	q.l.PushBack(e)
}

func (q *LRU[K, V]) Get(key K) (v V, ok bool) {
	e, ok := q.m[key]
	if !ok {
		return
	}
	q.l.MoveToBack(e)
	return e.value.v, true
}

func (q *LRU[K, V]) Del(key K) {
	if e := q.m[key]; e != nil {
		q.delElem(e)
	}
}

// Clean removes every element for which f returns true.
func (q *LRU[K, V]) Clean(f func(key K, v V) bool) (removed int) {
	e := q.l.Front()
	for e != nil {
		next := e.next
		if f(e.value.key, e.value.v) {
			q.delElem(e)
			removed++
		}
		e = next
	}
	return removed
}

func (q *LRU[K, V]) Len() int {
	return q.l.Len()
}

func (q *LRU[K, V]) delElem(e *elem[kv[K, V]]) {
	key, v := e.value.key, e.value.v
	q.l.Pop(e)
	delete(q.m, key)

	if q.onEvict != nil {
		q.onEvict(key, v)
	}
}
