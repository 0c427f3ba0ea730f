package memory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/golang/mock/gomock"
)

// fakeDevice hands out mocked device memory and records every allocation request
type fakeDevice struct {
	ctrl        *gomock.Controller
	allocations []core1_0.MemoryAllocateInfo
	failWith    error
}

func (d *fakeDevice) AllocateMemory(allocationCallbacks *driver.AllocationCallbacks, o core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error) {
	if d.failWith != nil {
		return nil, core1_0.VKErrorOutOfDeviceMemory, d.failWith
	}

	d.allocations = append(d.allocations, o)
	memory := mocks.EasyMockDeviceMemory(d.ctrl)
	memory.EXPECT().Free(gomock.Any()).Times(1)
	return memory, core1_0.VKSuccess, nil
}

func testMemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{
				PropertyFlags: core1_0.MemoryPropertyDeviceLocal,
				HeapIndex:     0,
			},
			{
				PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
				HeapIndex:     1,
			},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{
				Size:  1 << 30,
				Flags: core1_0.MemoryHeapDeviceLocal,
			},
			{
				Size: 1 << 30,
			},
		},
	}
}

func readyAllocator(t *testing.T, ctrl *gomock.Controller, options CreateOptions) (*fakeDevice, *Allocator) {
	device := &fakeDevice{ctrl: ctrl}

	allocator, err := New(testLogger(), device, testMemoryProperties(), options)
	require.NoError(t, err)

	return device, allocator
}

func TestFindMemoryTypeIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, allocator := readyAllocator(t, ctrl, CreateOptions{})

	index, err := allocator.FindMemoryTypeIndex(0xffffffff, core1_0.MemoryPropertyDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, 0, index)

	index, err = allocator.FindMemoryTypeIndex(0xffffffff, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	require.NoError(t, err)
	require.Equal(t, 1, index)

	// The type bits veto otherwise-acceptable types
	index, err = allocator.FindMemoryTypeIndex(0x2, core1_0.MemoryPropertyHostVisible)
	require.NoError(t, err)
	require.Equal(t, 1, index)

	_, err = allocator.FindMemoryTypeIndex(0x1, core1_0.MemoryPropertyHostVisible)
	require.Error(t, err)
}

func TestBumpAllocMonotonicWithinBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, allocator := readyAllocator(t, ctrl, CreateOptions{BlockSize: 4096})

	layouts := []Layout{
		{Size: 100, Alignment: 1},
		{Size: 60, Alignment: 64},
		{Size: 1, Alignment: 256},
		{Size: 500, Alignment: 16},
		{Size: 128, Alignment: 128},
	}

	var slices []*Slice
	for _, layout := range layouts {
		slice, _, err := allocator.Alloc(layout, 0)
		require.NoError(t, err)
		slices = append(slices, slice)
	}

	// The cumulative request fits one block
	require.Len(t, device.allocations, 1)
	require.Equal(t, 4096, device.allocations[0].AllocationSize)

	for i, slice := range slices {
		require.Same(t, slices[0].Block(), slice.Block())
		require.Equal(t, layouts[i].Size, slice.Size())
		require.Zero(t, slice.Start()%int(layouts[i].Alignment))

		if i > 0 {
			// Non-decreasing, non-overlapping
			require.GreaterOrEqual(t, slice.Start(), slices[i-1].End())
		}
	}

	for _, slice := range slices {
		slice.Release()
	}
	allocator.Destroy()
}

func TestBumpAllocGrowsByBlockSizeMultiples(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, allocator := readyAllocator(t, ctrl, CreateOptions{BlockSize: 256})

	first, _, err := allocator.Alloc(Layout{Size: 100, Alignment: 1}, 0)
	require.NoError(t, err)

	// Does not fit the remaining 156 bytes, so a second block appears
	second, _, err := allocator.Alloc(Layout{Size: 200, Alignment: 1}, 0)
	require.NoError(t, err)
	require.NotSame(t, first.Block(), second.Block())
	require.Equal(t, 0, second.Start())

	// Oversized requests get the smallest multiple of the block size that fits
	third, _, err := allocator.Alloc(Layout{Size: 600, Alignment: 1}, 0)
	require.NoError(t, err)
	require.Equal(t, 768, third.Block().Size())

	require.Len(t, device.allocations, 3)
	require.Equal(t, 256, device.allocations[0].AllocationSize)
	require.Equal(t, 256, device.allocations[1].AllocationSize)
	require.Equal(t, 768, device.allocations[2].AllocationSize)

	stats := allocator.Statistics()
	require.Equal(t, 3, stats.BlockCount)
	require.Equal(t, 256+256+768, stats.BlockBytes)
	require.Equal(t, 256+256+600, stats.UsedBytes)

	statsString := allocator.BuildStatsString()
	require.True(t, json.Valid([]byte(statsString)))

	first.Release()
	second.Release()
	third.Release()
	allocator.Destroy()
}

func TestArenasAreSeparatePerMemoryType(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, allocator := readyAllocator(t, ctrl, CreateOptions{BlockSize: 1024})

	deviceLocal, _, err := allocator.Alloc(Layout{Size: 64, Alignment: 1}, 0)
	require.NoError(t, err)
	hostVisible, _, err := allocator.Alloc(Layout{Size: 64, Alignment: 1}, 1)
	require.NoError(t, err)

	require.NotSame(t, deviceLocal.Block(), hostVisible.Block())
	require.Len(t, device.allocations, 2)
	require.Equal(t, 0, device.allocations[0].MemoryTypeIndex)
	require.Equal(t, 1, device.allocations[1].MemoryTypeIndex)

	deviceLocal.Release()
	hostVisible.Release()
	allocator.Destroy()
}

func TestAllocPropagatesDeviceLoss(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, allocator := readyAllocator(t, ctrl, CreateOptions{})
	device.failWith = core1_0.VKErrorOutOfDeviceMemory.ToError()

	_, res, err := allocator.Alloc(Layout{Size: 128, Alignment: 1}, 0)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)

	allocator.Destroy()
}

func TestAllocRejectsBadLayouts(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, allocator := readyAllocator(t, ctrl, CreateOptions{})

	require.Panics(t, func() {
		_, _, _ = allocator.Alloc(Layout{Size: 0, Alignment: 1}, 0)
	})
	require.Panics(t, func() {
		_, _, _ = allocator.Alloc(Layout{Size: 16, Alignment: 3}, 0)
	})
	require.Panics(t, func() {
		_, _, _ = allocator.Alloc(Layout{Size: 16, Alignment: 1}, 17)
	})
}

func TestAllocForBufferBindsAtSliceOffset(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, allocator := readyAllocator(t, ctrl, CreateOptions{BlockSize: 1024})

	// Occupy part of the block so the buffer binds at a nonzero offset
	head, _, err := allocator.Alloc(Layout{Size: 100, Alignment: 1}, 0)
	require.NoError(t, err)

	buffer := mocks.NewMockBuffer(ctrl)
	buffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{
		Size:           256,
		Alignment:      64,
		MemoryTypeBits: 0x1,
	})
	buffer.EXPECT().BindBufferMemory(gomock.Any(), 128).Return(core1_0.VKSuccess, nil)

	slice, _, err := allocator.AllocForBuffer(buffer, core1_0.MemoryPropertyDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, 128, slice.Start())
	require.Equal(t, 256, slice.Size())

	head.Release()
	slice.Release()
	allocator.Destroy()
}
