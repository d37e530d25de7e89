// Package pool implements a growable object pool allocated in fixed-size
// chunks, with a usage bitmap per chunk.
//
// Elements are loaned out as Handles, a (pool, chunk, slot, generation) tuple,
// instead of raw pointers. Membership and liveness checks are table
// lookups, and a handle that outlives a truncated chunk is rejected
// because the regrown chunk carries a new generation.
//
// The pool grows by one chunk when every slot is on loan. After a release
// it may drop trailing empty chunks according to its Slack policy; chunks
// are only ever removed from the tail, so elements in surviving chunks
// keep their addresses.
package pool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"

	"github.com/bft-labs/logship/internal/domain"
)

// Slack is the percentage of free slots a chunk must have before the
// empty chunks above it are released. NeverShrink disables truncation.
type Slack int

// NeverShrink keeps every chunk for the life of the pool.
const NeverShrink Slack = -1

// Valid reports whether s is NeverShrink or a percentage in [0, 100].
func (s Slack) Valid() bool {
	return s == NeverShrink || (s >= 0 && s <= 100)
}

var poolIDs atomic.Uint32

// Handle identifies one loaned element. The zero Handle is never valid.
type Handle struct {
	pool  uint32
	chunk int32
	slot  int32
	gen   uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d/%d@%d", h.pool, h.chunk, h.slot, h.gen)
}

type chunk[T any] struct {
	elems []T
	used  *bitset.BitSet
	gen   uint32
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Chunks    int
	ChunkSize int
	InUse     int
	Grown     uint64
	Shrunk    uint64
}

// Capacity returns the number of slots across all chunks.
func (s Stats) Capacity() int {
	return s.Chunks * s.ChunkSize
}

// Option configures a ChunkedPool.
type Option[T any] func(*ChunkedPool[T])

// WithChunkFactory sets the function that allocates the elements of a new
// chunk. It must return exactly n elements.
func WithChunkFactory[T any](fn func(n int) []T) Option[T] {
	return func(p *ChunkedPool[T]) {
		p.newChunk = fn
	}
}

// WithMaxChunks caps the number of chunks. Acquire fails with
// domain.ErrPoolExhausted once the cap is reached and every slot is taken.
// Zero means unbounded.
func WithMaxChunks[T any](n int) Option[T] {
	return func(p *ChunkedPool[T]) {
		p.maxChunks = n
	}
}

// ChunkedPool is a mutex-protected pool of T allocated chunkSize at a time.
type ChunkedPool[T any] struct {
	mu        sync.Mutex
	id        uint32
	chunkSize int
	slack     Slack
	maxChunks int
	newChunk  func(n int) []T

	chunks  []*chunk[T]
	inUse   int
	nextGen uint32
	grown   uint64
	shrunk  uint64
}

// New creates an empty pool. It panics if chunkSize is not positive or
// slack is out of range.
func New[T any](chunkSize int, slack Slack, opts ...Option[T]) *ChunkedPool[T] {
	if chunkSize <= 0 {
		panic("pool: chunk size must be positive")
	}
	if !slack.Valid() {
		panic(fmt.Sprintf("pool: invalid slack %d", slack))
	}
	p := &ChunkedPool[T]{
		id:        poolIDs.Add(1),
		chunkSize: chunkSize,
		slack:     slack,
		newChunk:  func(n int) []T { return make([]T, n) },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire loans out the first free element, scanning chunks in creation
// order, and appends a chunk when none is free.
func (p *ChunkedPool[T]) Acquire() (Handle, *T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for ci, c := range p.chunks {
		slot, ok := c.used.NextClear(0)
		if !ok || int(slot) >= p.chunkSize {
			continue
		}
		return p.loanLocked(ci, int(slot))
	}

	if p.maxChunks > 0 && len(p.chunks) >= p.maxChunks {
		return Handle{}, nil, domain.ErrPoolExhausted
	}

	elems := p.newChunk(p.chunkSize)
	if len(elems) != p.chunkSize {
		return Handle{}, nil, fmt.Errorf("pool: chunk factory returned %d elements, want %d: %w",
			len(elems), p.chunkSize, domain.ErrPoolExhausted)
	}
	p.nextGen++
	p.chunks = append(p.chunks, &chunk[T]{
		elems: elems,
		used:  bitset.New(uint(p.chunkSize)),
		gen:   p.nextGen,
	})
	p.grown++
	return p.loanLocked(len(p.chunks)-1, 0)
}

func (p *ChunkedPool[T]) loanLocked(ci, slot int) (Handle, *T, error) {
	c := p.chunks[ci]
	c.used.Set(uint(slot))
	p.inUse++
	h := Handle{pool: p.id, chunk: int32(ci), slot: int32(slot), gen: c.gen}
	return h, &c.elems[slot], nil
}

// Release returns h to the pool. It returns false if h does not belong to
// the pool or is not currently on loan.
func (p *ChunkedPool[T]) Release(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.lookupLocked(h)
	if !ok || !c.used.Test(uint(h.slot)) {
		return false
	}
	c.used.Clear(uint(h.slot))
	p.inUse--
	p.shrinkLocked(int(h.chunk))
	return true
}

// shrinkLocked drops the chunks above ci when they are all empty and ci
// has at least slack percent of its slots free.
func (p *ChunkedPool[T]) shrinkLocked(ci int) {
	if p.slack == NeverShrink || ci >= len(p.chunks)-1 {
		return
	}
	for _, above := range p.chunks[ci+1:] {
		if above.used.Any() {
			return
		}
	}
	free := p.chunkSize - int(p.chunks[ci].used.Count())
	if free*100/p.chunkSize < int(p.slack) {
		return
	}
	for i := ci + 1; i < len(p.chunks); i++ {
		p.chunks[i] = nil
	}
	p.shrunk += uint64(len(p.chunks) - ci - 1)
	p.chunks = p.chunks[:ci+1]
}

// Get returns the element behind h if it is on loan.
func (p *ChunkedPool[T]) Get(h Handle) (*T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.lookupLocked(h)
	if !ok || !c.used.Test(uint(h.slot)) {
		return nil, false
	}
	return &c.elems[h.slot], true
}

// Belongs reports whether h addresses a slot of a live chunk of this pool.
func (p *ChunkedPool[T]) Belongs(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.lookupLocked(h)
	return ok
}

// InUse reports whether h is currently on loan.
func (p *ChunkedPool[T]) InUse(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.lookupLocked(h)
	return ok && c.used.Test(uint(h.slot))
}

// CountInUse returns the number of loaned elements.
func (p *ChunkedPool[T]) CountInUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Chunks returns the number of allocated chunks.
func (p *ChunkedPool[T]) Chunks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks)
}

// Stats returns a snapshot of pool occupancy.
func (p *ChunkedPool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Chunks:    len(p.chunks),
		ChunkSize: p.chunkSize,
		InUse:     p.inUse,
		Grown:     p.grown,
		Shrunk:    p.shrunk,
	}
}

// Bitmap renders the usage bits of every chunk, one character per slot,
// chunks separated by '|'. Intended for debug logging.
func (p *ChunkedPool[T]) Bitmap() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, 0, len(p.chunks)*(p.chunkSize+1))
	for i, c := range p.chunks {
		if i > 0 {
			buf = append(buf, '|')
		}
		for s := 0; s < p.chunkSize; s++ {
			if c.used.Test(uint(s)) {
				buf = append(buf, '1')
			} else {
				buf = append(buf, '0')
			}
		}
	}
	return string(buf)
}

func (p *ChunkedPool[T]) lookupLocked(h Handle) (*chunk[T], bool) {
	if h.pool != p.id || h.gen == 0 || h.chunk < 0 || int(h.chunk) >= len(p.chunks) {
		return nil, false
	}
	if h.slot < 0 || int(h.slot) >= p.chunkSize {
		return nil, false
	}
	c := p.chunks[h.chunk]
	if c.gen != h.gen {
		return nil, false
	}
	return c, true
}
