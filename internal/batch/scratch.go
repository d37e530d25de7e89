package batch

import (
	"fmt"

	"github.com/bft-labs/logship/internal/pool"
	"github.com/bft-labs/logship/pkg/log"
)

// Scratch pool sizing.
const (
	scratchChunkSize = 16
	scratchSlack     = pool.Slack(25)
)

// ScratchBuffer is a borrowed byte buffer. Bytes must not be used after the
// buffer is released.
type ScratchBuffer struct {
	Bytes  []byte
	handle pool.Handle
}

// Scratch lends temporary byte buffers.
type Scratch interface {
	Acquire() (ScratchBuffer, error)
	Release(ScratchBuffer) bool
}

// ScratchPool lends fixed-size buffers from a pool.ChunkedPool.
type ScratchPool struct {
	size   int
	bufs   *pool.ChunkedPool[[]byte]
	logger log.Logger
}

// NewScratchPool creates a pool of size-byte buffers. It panics if size is
// not positive.
func NewScratchPool(size int, logger log.Logger) *ScratchPool {
	if size <= 0 {
		panic("batch: scratch buffer size must be positive")
	}
	return &ScratchPool{
		size: size,
		bufs: pool.New[[]byte](scratchChunkSize, scratchSlack,
			pool.WithChunkFactory(func(n int) [][]byte {
				out := make([][]byte, n)
				for i := range out {
					out[i] = make([]byte, size)
				}
				return out
			}),
		),
		logger: log.OrNoop(logger),
	}
}

// Size returns the length of every buffer in the pool.
func (s *ScratchPool) Size() int {
	return s.size
}

// Acquire borrows a buffer.
func (s *ScratchPool) Acquire() (ScratchBuffer, error) {
	h, buf, err := s.bufs.Acquire()
	if err != nil {
		s.logger.Error("scratch buffer unavailable", log.Component("batch"), log.Err(err))
		return ScratchBuffer{}, fmt.Errorf("acquire scratch buffer: %w", err)
	}
	return ScratchBuffer{Bytes: *buf, handle: h}, nil
}

// Release returns b to the pool. It returns false if b was not borrowed
// from this pool or was already released.
func (s *ScratchPool) Release(b ScratchBuffer) bool {
	if !s.bufs.Release(b.handle) {
		s.logger.Warn("scratch buffer release rejected",
			log.Component("batch"),
			log.String("handle", b.handle.String()),
		)
		return false
	}
	return true
}

// InUse returns the number of borrowed buffers.
func (s *ScratchPool) InUse() int {
	return s.bufs.CountInUse()
}
