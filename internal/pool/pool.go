// Package pool provides a byte-budgeted pool of reusable pixel buffers.
//
// Buffers are grouped into size classes so that tiles of slightly different
// dimensions (clipped tiles along the image edges) can share reclaimed memory.
// The pool never holds more than its budget across buffers handed out and
// buffers waiting on the free list. When an allocation would exceed the
// budget, the pool first drops free buffers of other classes and then asks
// its Evictor to give memory back.
//
// Pool is safe for concurrent use. The Evictor is always invoked without the
// pool lock held, so it may call Release.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// BytesPerPixel is the size of one RGBA pixel.
const BytesPerPixel = 4

// ErrOutOfBudget is returned by Acquire when no memory can be made available.
var ErrOutOfBudget = errors.New("pool: out of budget")

// Evictor releases one buffer back to the pool. It returns false when it has
// nothing left to release.
type Evictor func() bool

// Buffer is a pixel buffer owned by at most one holder at a time.
type Buffer struct {
	// Pix holds the pixel bytes. Its length is the requested size; its
	// capacity is the size class.
	Pix []byte

	class int
	owner *Pool
}

// Class returns the buffer's size class in bytes.
func (b *Buffer) Class() int {
	return b.class
}

// Pool hands out buffers within a byte budget.
type Pool struct {
	mu      sync.Mutex
	budget  int64
	quantum int
	inUse   int64
	pooled  int64
	free    map[int][]*Buffer
	evict   Evictor
	closed  bool

	allocs int
	reuses int
}

// Stats is a point-in-time view of the pool's accounting.
type Stats struct {
	Budget int64 `json:"budget"`
	InUse  int64 `json:"in_use"`
	Pooled int64 `json:"pooled"`
	Allocs int   `json:"allocs"`
	Reuses int   `json:"reuses"`
}

// New creates a pool with the given byte budget. Requested sizes are rounded up
// to a multiple of quantum bytes; a quantum below 1 disables rounding.
func New(budget int64, quantum int) *Pool {
	if quantum < 1 {
		quantum = 1
	}
	return &Pool{
		budget:  budget,
		quantum: quantum,
		free:    make(map[int][]*Buffer),
	}
}

// SetEvictor installs the callback used when the budget is exhausted.
func (p *Pool) SetEvictor(fn Evictor) {
	p.mu.Lock()
	p.evict = fn
	p.mu.Unlock()
}

// ClassOf returns the size class a request of size bytes falls into.
func (p *Pool) ClassOf(size int) int {
	if size <= 0 {
		return p.quantum
	}
	return (size + p.quantum - 1) / p.quantum * p.quantum
}

// Acquire returns a buffer of at least size bytes.
//
// A free buffer of the same class is preferred. Reused buffers are zeroed
// before they are returned. If no free buffer fits and a fresh allocation
// would exceed the budget, the pool drops free buffers of other classes and
// then calls the evictor until enough memory is available. ErrOutOfBudget is
// returned if the evictor runs out of candidates or the request is larger
// than the whole budget.
func (p *Pool) Acquire(size int) (*Buffer, error) {
	class := p.ClassOf(size)
	if int64(class) > p.budget {
		return nil, fmt.Errorf("%w: %d bytes requested, budget is %d", ErrOutOfBudget, class, p.budget)
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: pool closed", ErrOutOfBudget)
		}

		if b := p.takeFreeLocked(class); b != nil {
			p.inUse += int64(class)
			p.reuses++
			p.mu.Unlock()
			b.Pix = b.Pix[:size]
			clear(b.Pix)
			return b, nil
		}

		if p.inUse+p.pooled+int64(class) <= p.budget {
			p.inUse += int64(class)
			p.allocs++
			p.mu.Unlock()
			return &Buffer{Pix: make([]byte, size, class), class: class, owner: p}, nil
		}

		if p.trimLocked(class) {
			p.mu.Unlock()
			continue
		}

		evict := p.evict
		p.mu.Unlock()

		if evict == nil || !evict() {
			return nil, fmt.Errorf("%w: need %d bytes", ErrOutOfBudget, class)
		}
	}
}

// Release returns a buffer to the free list. Releasing nil, a buffer from
// another pool, or the same buffer twice is a no-op for the accounting of
// this pool.
func (p *Pool) Release(b *Buffer) {
	if b == nil || b.owner != p {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b.owner = nil
	p.inUse -= int64(b.class)
	if p.closed {
		return
	}
	p.pooled += int64(b.class)
	p.free[b.class] = append(p.free[b.class], b)
}

// Close discards the free list. Buffers still in use may be released later;
// they are accounted for but not pooled.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.free = make(map[int][]*Buffer)
	p.pooled = 0
}

// Budget returns the configured byte budget.
func (p *Pool) Budget() int64 {
	return p.budget
}

// InUse returns the number of bytes currently handed out.
func (p *Pool) InUse() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Pooled returns the number of bytes sitting on the free list.
func (p *Pool) Pooled() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pooled
}

// Stats returns the current accounting.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Budget: p.budget,
		InUse:  p.inUse,
		Pooled: p.pooled,
		Allocs: p.allocs,
		Reuses: p.reuses,
	}
}

func (p *Pool) takeFreeLocked(class int) *Buffer {
	list := p.free[class]
	if len(list) == 0 {
		return nil
	}
	b := list[len(list)-1]
	list[len(list)-1] = nil
	p.free[class] = list[:len(list)-1]
	p.pooled -= int64(class)
	b.owner = p
	return b
}

// trimLocked drops one free buffer whose class differs from keep, largest
// class first. It reports whether anything was dropped.
func (p *Pool) trimLocked(keep int) bool {
	classes := make([]int, 0, len(p.free))
	for class, list := range p.free {
		if class != keep && len(list) > 0 {
			classes = append(classes, class)
		}
	}
	if len(classes) == 0 {
		return false
	}
	sort.Sort(sort.Reverse(sort.IntSlice(classes)))

	class := classes[0]
	list := p.free[class]
	list[len(list)-1] = nil
	p.free[class] = list[:len(list)-1]
	p.pooled -= int64(class)
	return true
}
