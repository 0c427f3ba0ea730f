package descriptor

import (
	"github.com/kilnrender/kiln/memutils"
)

// Packer serializes per-pass descriptor data into one contiguous byte blob. Each
// inserted region starts at an offset padded up to the configured alignment, so the
// returned offsets can be handed to the device as dynamic storage buffer offsets.
//
// Regions never move once inserted: the blob only grows, and the offset handed back
// by Insert stays valid for the life of the Packer.
type Packer struct {
	alignment uint
	blob      []byte
}

// NewPacker creates a packer. The alignment must be a power of two, typically the
// device's MinStorageBufferOffsetAlignment limit.
func NewPacker(alignment uint) *Packer {
	if alignment == 0 {
		panic("descriptor packer alignment must be nonzero")
	}
	err := memutils.CheckPow2(alignment, "descriptor packer alignment")
	if err != nil {
		panic(err.Error())
	}

	return &Packer{alignment: alignment}
}

func (p *Packer) Alignment() uint { return p.alignment }

// Len is the current size of the blob in bytes, padding included.
func (p *Packer) Len() int { return len(p.blob) }

// Bytes exposes the packed blob for upload. The slice aliases the packer's storage
// and is invalidated by the next Insert.
func (p *Packer) Bytes() []byte { return p.blob }

// Insert appends one descriptor region and returns its aligned byte offset.
func (p *Packer) Insert(data []byte) int {
	memutils.DebugCheckPow2(p.alignment, "descriptor packer alignment")

	offset := memutils.AlignUp(len(p.blob), p.alignment)
	if pad := offset - len(p.blob); pad > 0 {
		p.blob = append(p.blob, make([]byte, pad)...)
	}

	p.blob = append(p.blob, data...)
	return offset
}
