package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
)

// Slice is an immutable [Start, End) byte range of a Block. Creating a slice retains
// the block; Release returns the reference. The backing device memory outlives every
// slice carved from it.
type Slice struct {
	block *Block
	start int
	end   int
}

// NewSlice carves a sub-range out of block. It fails when start > end or when end
// exceeds the block's size.
func NewSlice(block *Block, start, end int) (*Slice, error) {
	if start > end {
		return nil, errors.Newf("slice start %d lies beyond its end %d", start, end)
	}
	if end > block.Size() {
		return nil, errors.Newf("slice end %d lies beyond the block size %d", end, block.Size())
	}

	block.Retain()
	return &Slice{
		block: block,
		start: start,
		end:   end,
	}, nil
}

func (s *Slice) Start() int    { return s.start }
func (s *Slice) End() int      { return s.end }
func (s *Slice) Size() int     { return s.end - s.start }
func (s *Slice) Block() *Block { return s.block }

// Map borrows the block's shared mapping and returns a pointer to this slice's first
// byte. Pair with Unmap.
func (s *Slice) Map() (unsafe.Pointer, common.VkResult, error) {
	ptr, res, err := s.block.Map()
	if err != nil {
		return nil, res, err
	}

	return unsafe.Add(ptr, s.start), res, nil
}

// Unmap releases a borrow taken with Map.
func (s *Slice) Unmap() error {
	return s.block.Unmap()
}

// Release drops this slice's reference on the backing block. The slice must not be
// used afterward.
func (s *Slice) Release() {
	s.block.Release()
}

func (s *Slice) Validate() error {
	if s.block == nil {
		return errors.New("slice has no backing block")
	}
	if s.start > s.end {
		return errors.New("slice start lies beyond its end")
	}
	if s.end > s.block.Size() {
		return errors.New("slice end lies beyond the block size")
	}
	return nil
}
