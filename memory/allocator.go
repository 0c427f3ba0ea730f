package memory

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
	"golang.org/x/exp/slog"
)

const defaultBlockSize = 32 * 1024 * 1024

// Layout describes one allocation request: a byte size and a power-of-two alignment
// the returned slice's start offset must honor.
type Layout struct {
	Size      int
	Alignment uint
}

// CreateOptions contains optional settings for a new Allocator.
type CreateOptions struct {
	// BlockSize is the granularity of the underlying device allocations. Requests
	// larger than one block receive a block sized to the smallest multiple of
	// BlockSize that fits. Defaults to 32MB.
	BlockSize int
	// BufferDeviceAddress indicates that the device was created with the
	// bufferDeviceAddress feature and blocks should be allocated device-addressable.
	BufferDeviceAddress bool
	// AllocationCallbacks is an optional set of host allocation callbacks passed to
	// every device memory operation made by the allocator.
	AllocationCallbacks *driver.AllocationCallbacks
}

// DeviceSource is the part of core1_0.Device the allocator needs. It is satisfied by
// any core1_0.Device.
type DeviceSource interface {
	AllocateMemory(allocationCallbacks *driver.AllocationCallbacks, o core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error)
}

type typeArena struct {
	blocks []*Block
	// Bump offset into the newest block. Earlier blocks are considered fully consumed.
	offset int
}

// Allocator hands out Slices of device memory with a monotonic bump strategy: one
// growable block list per memory type, no in-block reuse. It is only correct for
// resources whose lifetimes coincide with the allocator's own, such as the contents
// of a single uploaded scene.
type Allocator struct {
	logger *slog.Logger
	device DeviceSource

	memoryProperties    *core1_0.PhysicalDeviceMemoryProperties
	blockSize           int
	bufferDeviceAddress bool
	allocationCallbacks *driver.AllocationCallbacks

	arenas [common.MaxMemoryTypes]*typeArena
}

// New creates an Allocator serving memory from the provided device. The memory
// properties are those of the physical device the logical device was created from.
func New(
	logger *slog.Logger,
	device DeviceSource,
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties,
	options CreateOptions,
) (*Allocator, error) {
	if logger == nil {
		return nil, errors.New("no logger was provided to the allocator")
	}
	if device == nil {
		return nil, errors.New("no device was provided to the allocator")
	}
	if memoryProperties == nil || len(memoryProperties.MemoryTypes) == 0 {
		return nil, errors.New("no device memory properties were provided to the allocator")
	}

	blockSize := options.BlockSize
	if blockSize == 0 {
		blockSize = defaultBlockSize
	}
	if blockSize < 0 {
		return nil, errors.Newf("invalid block size %d", blockSize)
	}

	return &Allocator{
		logger:              logger,
		device:              device,
		memoryProperties:    memoryProperties,
		blockSize:           blockSize,
		bufferDeviceAddress: options.BufferDeviceAddress,
		allocationCallbacks: options.AllocationCallbacks,
	}, nil
}

// FindMemoryTypeIndex locates the first memory type permitted by typeBits whose
// property flags contain requiredFlags.
func (a *Allocator) FindMemoryTypeIndex(typeBits uint32, requiredFlags core1_0.MemoryPropertyFlags) (int, error) {
	for typeIndex, memoryType := range a.memoryProperties.MemoryTypes {
		if typeBits&(1<<typeIndex) == 0 {
			continue
		}
		if memoryType.PropertyFlags&requiredFlags == requiredFlags {
			return typeIndex, nil
		}
	}

	return 0, errors.Newf("no memory type matches bits %#x with flags %s", typeBits, requiredFlags)
}

// Alloc returns a slice of device memory of the requested layout from the arena of
// the provided memory type. Alignment must be a power of two; a zero alignment is
// treated as 1.
func (a *Allocator) Alloc(layout Layout, memoryTypeIndex int) (*Slice, common.VkResult, error) {
	if layout.Size <= 0 {
		panic("attempted to allocate a nonpositive number of bytes")
	}
	alignment := layout.Alignment
	if alignment == 0 {
		alignment = 1
	}
	err := memutils.CheckPow2(alignment, "allocation alignment")
	if err != nil {
		panic(err)
	}
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(a.memoryProperties.MemoryTypes) {
		panic("allocation requested an out-of-range memory type index")
	}

	arena := a.arenas[memoryTypeIndex]
	if arena == nil {
		arena = &typeArena{}
		a.arenas[memoryTypeIndex] = arena
	}

	if len(arena.blocks) > 0 {
		block := arena.blocks[len(arena.blocks)-1]
		start := memutils.AlignUp(arena.offset, alignment)
		if start+layout.Size <= block.Size() {
			slice, err := NewSlice(block, start, start+layout.Size)
			if err != nil {
				return nil, core1_0.VKErrorUnknown, err
			}

			arena.offset = start + layout.Size
			memutils.DebugValidate(slice)
			return slice, core1_0.VKSuccess, nil
		}
	}

	block, res, err := a.allocateBlock(layout.Size, memoryTypeIndex)
	if err != nil {
		return nil, res, err
	}

	arena.blocks = append(arena.blocks, block)
	arena.offset = layout.Size

	slice, err := NewSlice(block, 0, layout.Size)
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	memutils.DebugValidate(slice)
	return slice, core1_0.VKSuccess, nil
}

// AllocForBuffer allocates memory satisfying the buffer's requirements and the wanted
// property flags and binds the buffer to it.
func (a *Allocator) AllocForBuffer(buffer core1_0.Buffer, requiredFlags core1_0.MemoryPropertyFlags) (*Slice, common.VkResult, error) {
	requirements := buffer.MemoryRequirements()

	slice, res, err := a.allocForRequirements(requirements, requiredFlags)
	if err != nil {
		return nil, res, err
	}

	res, err = buffer.BindBufferMemory(slice.Block().DeviceMemory(), slice.Start())
	if err != nil {
		slice.Release()
		return nil, res, errors.Wrap(err, "failed to bind buffer memory")
	}

	return slice, res, nil
}

// AllocForImage allocates memory satisfying the image's requirements and the wanted
// property flags and binds the image to it.
func (a *Allocator) AllocForImage(image core1_0.Image, requiredFlags core1_0.MemoryPropertyFlags) (*Slice, common.VkResult, error) {
	requirements := image.MemoryRequirements()

	slice, res, err := a.allocForRequirements(requirements, requiredFlags)
	if err != nil {
		return nil, res, err
	}

	res, err = image.BindImageMemory(slice.Block().DeviceMemory(), slice.Start())
	if err != nil {
		slice.Release()
		return nil, res, errors.Wrap(err, "failed to bind image memory")
	}

	return slice, res, nil
}

func (a *Allocator) allocForRequirements(requirements *core1_0.MemoryRequirements, requiredFlags core1_0.MemoryPropertyFlags) (*Slice, common.VkResult, error) {
	memoryTypeIndex, err := a.FindMemoryTypeIndex(requirements.MemoryTypeBits, requiredFlags)
	if err != nil {
		return nil, core1_0.VKErrorFeatureNotPresent, err
	}

	return a.Alloc(Layout{
		Size:      requirements.Size,
		Alignment: uint(requirements.Alignment),
	}, memoryTypeIndex)
}

func (a *Allocator) allocateBlock(minSize int, memoryTypeIndex int) (*Block, common.VkResult, error) {
	blockSize := a.blockSize
	if minSize > blockSize {
		blockSize = (minSize + a.blockSize - 1) / a.blockSize * a.blockSize
	}

	allocInfo := core1_0.MemoryAllocateInfo{
		AllocationSize:  blockSize,
		MemoryTypeIndex: memoryTypeIndex,
	}
	if a.bufferDeviceAddress {
		var allocFlagsInfo core1_1.MemoryAllocateFlagsInfo
		allocFlagsInfo.Flags = khr_buffer_device_address.MemoryAllocateDeviceAddress
		allocFlagsInfo.Next = allocInfo.Next
		allocInfo.Next = allocFlagsInfo
	}

	memory, res, err := a.device.AllocateMemory(a.allocationCallbacks, allocInfo)
	if err != nil {
		return nil, res, errors.Wrapf(err, "failed to allocate a %d-byte block from memory type %d", blockSize, memoryTypeIndex)
	}

	block := &Block{}
	block.Init(
		a.logger,
		memory,
		blockSize,
		memoryTypeIndex,
		a.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags,
		a.allocationCallbacks,
	)
	// The allocator's own reference, released in Destroy.
	block.Retain()

	a.logger.LogAttrs(context.Background(), slog.LevelDebug,
		"allocated device memory block",
		slog.Int("memoryTypeIndex", memoryTypeIndex),
		slog.Int("blockSize", blockSize),
	)

	return block, res, nil
}

// Statistics reports the combined memory consumption across every memory type.
func (a *Allocator) Statistics() memutils.Statistics {
	var total memutils.Statistics
	for typeIndex := range a.arenas {
		total.Add(a.typeStatistics(typeIndex))
	}
	return total
}

func (a *Allocator) typeStatistics(memoryTypeIndex int) memutils.Statistics {
	var stats memutils.Statistics

	arena := a.arenas[memoryTypeIndex]
	if arena == nil {
		return stats
	}

	for blockIndex, block := range arena.blocks {
		stats.BlockCount++
		stats.BlockBytes += block.Size()

		if blockIndex == len(arena.blocks)-1 {
			stats.UsedBytes += arena.offset
		} else {
			stats.UsedBytes += block.Size()
		}
	}

	return stats
}

// BuildStatsString dumps per-memory-type and total consumption as a JSON document.
func (a *Allocator) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	typesObj := obj.Name("MemoryTypes").Object()
	for typeIndex := range a.arenas {
		if a.arenas[typeIndex] == nil {
			continue
		}

		stats := a.typeStatistics(typeIndex)
		typeObj := typesObj.Name(strconv.Itoa(typeIndex)).Object()
		stats.PrintJson(&typeObj)
		typeObj.End()
	}
	typesObj.End()

	total := a.Statistics()
	totalObj := obj.Name("Total").Object()
	total.PrintJson(&totalObj)
	totalObj.End()

	obj.End()
	return string(writer.Bytes())
}

// Destroy releases the allocator's references on every block it created. Blocks whose
// slices are all released are freed immediately; the rest are freed as their remaining
// slices go away.
func (a *Allocator) Destroy() {
	for typeIndex := range a.arenas {
		arena := a.arenas[typeIndex]
		if arena == nil {
			continue
		}

		for _, block := range arena.blocks {
			if block.References() > 1 {
				a.logger.LogAttrs(context.Background(), slog.LevelWarn,
					"destroying allocator while block slices remain live",
					slog.Int("memoryTypeIndex", typeIndex),
					slog.Int("references", block.References()-1),
				)
			}
			block.Release()
		}

		a.arenas[typeIndex] = nil
	}
}
