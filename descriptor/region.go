package descriptor

import (
	"encoding/binary"
	"math"
)

// Region builds one pass's descriptor data in the std430-ish layout the shaders
// read: device addresses as 8-byte words, indices and counts as 4-byte words.
// Finish with Pack to append the region to a Packer.
type Region struct {
	data []byte
}

func (r *Region) PutAddress(address uint64) *Region {
	r.data = binary.LittleEndian.AppendUint64(r.data, address)
	return r
}

func (r *Region) PutUint32(value uint32) *Region {
	r.data = binary.LittleEndian.AppendUint32(r.data, value)
	return r
}

func (r *Region) PutFloat32(value float32) *Region {
	r.data = binary.LittleEndian.AppendUint32(r.data, math.Float32bits(value))
	return r
}

func (r *Region) Len() int { return len(r.data) }

// Pack appends the region to the packer and returns the region's aligned offset.
func (r *Region) Pack(packer *Packer) int {
	return packer.Insert(r.data)
}
