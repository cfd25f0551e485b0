package pool

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/miekg/dns"
)

// defaultBufPool is a bucketed buffer pool. Buckets are sized by
// power of two, up to 2^17 (128KiB), which covers the largest
// possible DNS message with room to spare.
var defaultBufPool = newBucketPool(17)

type bucketPool struct {
	maxPoolBit int
	pools      []sync.Pool
}

func newBucketPool(maxPoolBit int) *bucketPool {
	p := &bucketPool{
		maxPoolBit: maxPoolBit,
		pools:      make([]sync.Pool, maxPoolBit+1),
	}
	for i := range p.pools {
		size := 1 << i
		p.pools[i].New = func() interface{} {
			return &Buffer{b: make([]byte, size), pool: p}
		}
	}
	return p
}

func (p *bucketPool) get(size int) *Buffer {
	if size <= 0 {
		panic(fmt.Sprintf("pool: invalid buffer size %d", size))
	}
	bit := bits.Len(uint(size - 1))
	if bit > p.maxPoolBit {
		// Too large for the pool, allocate directly.
		return &Buffer{b: make([]byte, size)}
	}
	buf := p.pools[bit].Get().(*Buffer)
	buf.bit = bit
	return buf
}

func (p *bucketPool) release(b *Buffer) {
	p.pools[b.bit].Put(b)
}

// Buffer is a pooled byte buffer. Call Release when done.
type Buffer struct {
	b    []byte
	bit  int
	pool *bucketPool
}

func (b *Buffer) Bytes() []byte {
	return b.b
}

// Release returns the Buffer to its pool. The caller MUST NOT
// access the buffer afterwards.
func (b *Buffer) Release() {
	if b.pool != nil {
		b.pool.release(b)
	}
}

// GetBuf returns a *Buffer from the pool with at least the given size.
func GetBuf(size int) *Buffer {
	return defaultBufPool.get(size)
}

// PackBuffer packs m into a pooled buffer. The returned slice aliases
// the buffer, release it only after the bytes are no longer used.
func PackBuffer(m *dns.Msg) ([]byte, *Buffer, error) {
	buf := GetBuf(dns.MaxMsgSize)
	b, err := m.PackBuffer(buf.Bytes())
	if err != nil {
		buf.Release()
		return nil, nil, err
	}
	return b, buf, nil
}
