package lru

// elem is an intrusive doubly linked list element. Elements are
// allocated once and reused on eviction, keeping the hot path
// allocation free.
type elem[V any] struct {
	value      V
	prev, next *elem[V]
	list       *linkedList[V]
}

type linkedList[V any] struct {
	front, back *elem[V]
	length      int
}

func (l *linkedList[V]) Front() *elem[V] {
	return l.front
}

func (l *linkedList[V]) Len() int {
	return l.length
}

func (l *linkedList[V]) PushBack(e *elem[V]) {
	l.length++
	e.list = l

	if l.back == nil {
		l.front = e
		l.back = e
		return
	}

	e.prev = l.back
	l.back.next = e
	l.back = e
}

// MoveToBack moves an existing element to the back in O(1).
func (l *linkedList[V]) MoveToBack(e *elem[V]) {
	if e.list != l {
		panic("lru: elem does not belong to this list")
	}

	if l.back == e {
		return
	}

	p, n := e.prev, e.next
	if p != nil {
		p.next = n
	} else {
		l.front = n
	}
	if n != nil {
		n.prev = p
	}

	e.prev = l.back
	e.next = nil
	l.back.next = e
	l.back = e
}

func (l *linkedList[V]) Pop(e *elem[V]) {
	if e.list != l {
		panic("lru: elem does not belong to this list")
	}

	l.length--

	p, n := e.prev, e.next
	if p != nil {
		p.next = n
	} else {
		l.front = n
	}
	if n != nil {
		n.prev = p
	} else {
		l.back = p
	}

	e.prev = nil
	e.next = nil
	e.list = nil
}
