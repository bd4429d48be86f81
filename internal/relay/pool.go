package relay

import "sync"

// bufferPool hands out fixed-size buffers. A buffer belongs to one pump
// from Get until Put.
type bufferPool struct {
	pool sync.Pool
}

var pools sync.Map // int -> *bufferPool

func poolFor(size int) *bufferPool {
	if p, ok := pools.Load(size); ok {
		return p.(*bufferPool)
	}

	bp := &bufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	p, _ := pools.LoadOrStore(size, bp)
	return p.(*bufferPool)
}

func (p *bufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bufferPool) Put(b *[]byte) {
	p.pool.Put(b)
}
