package resource

import (
	"io"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/memory"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/golang/mock/gomock"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard))
}

// testHostBuffer builds a scratch buffer over a mocked host-visible block, skipping
// device creation and the allocator.
func testHostBuffer(ctrl *gomock.Controller, size int) (*Buffer, *mocks.MockDeviceMemory) {
	deviceMemory := mocks.EasyMockDeviceMemory(ctrl)

	block := &memory.Block{}
	block.Init(testLogger(), deviceMemory, size, 0,
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent, nil)
	block.Retain()

	slice, err := memory.NewSlice(block, 0, size)
	if err != nil {
		panic(err)
	}

	return &Buffer{
		handle: mocks.NewMockBuffer(ctrl),
		size:   size,
		kind:   BufferKindScratch,
		slice:  slice,
	}, deviceMemory
}

func TestMappedMemoryTokenIsExclusive(t *testing.T) {
	ctrl := gomock.NewController(t)

	buffer, deviceMemory := testHostBuffer(ctrl, 256)
	data := make([]byte, 256)

	deviceMemory.EXPECT().Map(0, -1, core1_0.MemoryMapFlags(0)).
		Return(unsafe.Pointer(&data[0]), core1_0.VKSuccess, nil)

	first, err := NewMappedMemory(buffer)
	require.NoError(t, err)

	// The token is exclusive: a second mapping fails until the first is released
	second, err := NewMappedMemory(buffer)
	require.Nil(t, second)
	require.ErrorIs(t, err, ErrBufferRemap)

	deviceMemory.EXPECT().Unmap()
	require.NoError(t, first.Release())

	deviceMemory.EXPECT().Map(0, -1, core1_0.MemoryMapFlags(0)).
		Return(unsafe.Pointer(&data[0]), core1_0.VKSuccess, nil)

	second, err = NewMappedMemory(buffer)
	require.NoError(t, err)

	deviceMemory.EXPECT().Unmap()
	require.NoError(t, second.Release())
}

func TestMappedMemoryWrite(t *testing.T) {
	ctrl := gomock.NewController(t)

	buffer, deviceMemory := testHostBuffer(ctrl, 64)
	data := make([]byte, 64)

	deviceMemory.EXPECT().Map(0, -1, core1_0.MemoryMapFlags(0)).
		Return(unsafe.Pointer(&data[0]), core1_0.VKSuccess, nil)
	deviceMemory.EXPECT().Unmap()

	mapped, err := NewMappedMemory(buffer)
	require.NoError(t, err)

	require.NoError(t, mapped.Write(8, []byte{1, 2, 3, 4}))
	require.Equal(t, []byte{1, 2, 3, 4}, data[8:12])
	require.Len(t, mapped.Bytes(), 64)

	// Out-of-range writes leave the mapping untouched
	require.Error(t, mapped.Write(62, []byte{9, 9, 9}))
	require.Error(t, mapped.Write(-1, []byte{9}))
	require.Equal(t, byte(0), data[62])

	require.NoError(t, mapped.Release())
}

func TestMappedMemoryReleaseIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)

	buffer, deviceMemory := testHostBuffer(ctrl, 32)
	data := make([]byte, 32)

	deviceMemory.EXPECT().Map(0, -1, core1_0.MemoryMapFlags(0)).
		Return(unsafe.Pointer(&data[0]), core1_0.VKSuccess, nil)
	deviceMemory.EXPECT().Unmap().Times(1)

	mapped, err := NewMappedMemory(buffer)
	require.NoError(t, err)

	require.NoError(t, mapped.Release())
	require.NoError(t, mapped.Release())
	require.Panics(t, func() { mapped.Bytes() })
}

func TestMappedMemoryRequiresBoundMemory(t *testing.T) {
	ctrl := gomock.NewController(t)

	buffer := &Buffer{
		handle: mocks.NewMockBuffer(ctrl),
		size:   128,
		kind:   BufferKindUniform,
	}

	mapped, err := NewMappedMemory(buffer)
	require.Nil(t, mapped)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrBufferRemap))
}

func TestScratchPushBumpsOffsets(t *testing.T) {
	ctrl := gomock.NewController(t)

	buffer, deviceMemory := testHostBuffer(ctrl, 128)
	data := make([]byte, 128)

	deviceMemory.EXPECT().Map(0, -1, core1_0.MemoryMapFlags(0)).
		Return(unsafe.Pointer(&data[0]), core1_0.VKSuccess, nil)
	deviceMemory.EXPECT().Unmap()

	mapped, err := NewMappedMemory(buffer)
	require.NoError(t, err)

	scratch := &Scratch{Buffer: buffer, mapped: mapped}

	offset, err := scratch.Push([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	// Offsets stay texel-block aligned so they are valid buffer-to-image copy sources
	offset, err = scratch.Push(make([]byte, 100))
	require.NoError(t, err)
	require.Equal(t, 16, offset)

	// The next aligned offset is 128: nothing more fits
	_, err = scratch.Push([]byte{1})
	require.Error(t, err)

	require.NoError(t, mapped.Release())
}
