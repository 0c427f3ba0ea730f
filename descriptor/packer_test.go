package descriptor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackerOffsetsAlignedAndDisjoint(t *testing.T) {
	packer := NewPacker(64)

	inserts := [][]byte{
		bytes.Repeat([]byte{1}, 3),
		bytes.Repeat([]byte{2}, 64),
		bytes.Repeat([]byte{3}, 65),
		bytes.Repeat([]byte{4}, 1),
		{},
		bytes.Repeat([]byte{5}, 200),
	}

	type region struct {
		start, end int
	}
	var regions []region

	for _, data := range inserts {
		offset := packer.Insert(data)
		require.Zero(t, offset%64)
		regions = append(regions, region{offset, offset + len(data)})
	}

	// Regions are strictly ordered and never overlap
	for i := 1; i < len(regions); i++ {
		require.GreaterOrEqual(t, regions[i].start, regions[i-1].end)
	}

	// The packed bytes land at their reported offsets
	blob := packer.Bytes()
	for i, data := range inserts {
		require.Equal(t, data, blob[regions[i].start:regions[i].end])
	}
	require.Equal(t, packer.Len(), len(blob))
}

func TestPackerRejectsBadAlignment(t *testing.T) {
	require.Panics(t, func() { NewPacker(0) })
	require.Panics(t, func() { NewPacker(48) })
	require.NotNil(t, NewPacker(1))
}

func TestRegionLayout(t *testing.T) {
	packer := NewPacker(16)

	region := &Region{}
	region.PutAddress(0x1122334455667788).
		PutUint32(7).
		PutFloat32(1.0)
	require.Equal(t, 16, region.Len())

	offset := region.Pack(packer)
	require.Equal(t, 0, offset)

	blob := packer.Bytes()
	require.Equal(t, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, blob[0:8])
	require.Equal(t, []byte{7, 0, 0, 0}, blob[8:12])
	require.Equal(t, []byte{0, 0, 0x80, 0x3f}, blob[12:16])
}
