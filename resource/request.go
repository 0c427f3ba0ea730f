package resource

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
)

// BufferKind selects the usage profile of a buffer. The kind decides both the usage
// flags the buffer is created with and the memory properties its backing slice is
// allocated from.
type BufferKind int32

const (
	// BufferKindStorage is a device-local shader storage buffer filled by transfer
	BufferKindStorage BufferKind = iota
	// BufferKindIndex is a device-local index buffer filled by transfer
	BufferKindIndex
	// BufferKindUniform is a device-local uniform buffer filled by transfer
	BufferKindUniform
	// BufferKindScratch is a host-visible staging buffer used as a transfer source
	BufferKindScratch
	// BufferKindDescriptor is a host-visible storage buffer holding packed
	// descriptor regions bound with dynamic offsets
	BufferKindDescriptor
)

var bufferKindMapping = map[BufferKind]string{
	BufferKindStorage:    "BufferKindStorage",
	BufferKindIndex:      "BufferKindIndex",
	BufferKindUniform:    "BufferKindUniform",
	BufferKindScratch:    "BufferKindScratch",
	BufferKindDescriptor: "BufferKindDescriptor",
}

func (k BufferKind) String() string {
	return bufferKindMapping[k]
}

// UsageFlags returns the buffer usage flags this kind implies.
func (k BufferKind) UsageFlags() core1_0.BufferUsageFlags {
	switch k {
	case BufferKindStorage:
		return core1_0.BufferUsageStorageBuffer |
			core1_0.BufferUsageTransferDst |
			khr_buffer_device_address.BufferUsageShaderDeviceAddress
	case BufferKindIndex:
		// Index buffers are also read by address from packed descriptor regions
		return core1_0.BufferUsageIndexBuffer |
			core1_0.BufferUsageTransferDst |
			khr_buffer_device_address.BufferUsageShaderDeviceAddress
	case BufferKindUniform:
		return core1_0.BufferUsageUniformBuffer | core1_0.BufferUsageTransferDst
	case BufferKindScratch:
		return core1_0.BufferUsageTransferSrc
	case BufferKindDescriptor:
		return core1_0.BufferUsageStorageBuffer
	}

	panic("unknown buffer kind")
}

// MemoryPropertyFlags returns the memory properties a buffer of this kind must be
// backed by.
func (k BufferKind) MemoryPropertyFlags() core1_0.MemoryPropertyFlags {
	switch k {
	case BufferKindScratch, BufferKindDescriptor:
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	}

	return core1_0.MemoryPropertyDeviceLocal
}

// BufferRequest describes a buffer to create.
type BufferRequest struct {
	Size int
	Kind BufferKind
	// QueueFamilyIndices lists every queue family the buffer will be used from.
	// More than one index selects concurrent sharing.
	QueueFamilyIndices []int
}

// ImageRequest describes an image to create. MipLevels and ArrayLayers default to 1.
type ImageRequest struct {
	Format    core1_0.Format
	Extent    core1_0.Extent3D
	MipLevels int
	// ArrayLayers of exactly 6 marks the image cube-compatible
	ArrayLayers        int
	Usage              core1_0.ImageUsageFlags
	QueueFamilyIndices []uint32
}

func sharingMode(familyCount int) core1_0.SharingMode {
	if familyCount > 1 {
		return core1_0.SharingModeConcurrent
	}
	return core1_0.SharingModeExclusive
}
