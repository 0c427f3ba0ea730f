package command

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// Buffer is the slice of core1_0.CommandBuffer the recorder and graph actually
// record into.
type Buffer interface {
	Begin(o core1_0.CommandBufferBeginInfo) (common.VkResult, error)
	End() (common.VkResult, error)

	CmdPipelineBarrier(
		srcStageMask core1_0.PipelineStageFlags,
		dstStageMask core1_0.PipelineStageFlags,
		dependencies core1_0.DependencyFlags,
		memoryBarriers []core1_0.MemoryBarrier,
		bufferMemoryBarriers []core1_0.BufferMemoryBarrier,
		imageMemoryBarriers []core1_0.ImageMemoryBarrier,
	) error
	CmdDispatch(groupCountX, groupCountY, groupCountZ int)
	CmdCopyBuffer(copySource core1_0.Buffer, copyDest core1_0.Buffer, copyRegions []core1_0.BufferCopy) error
	CmdCopyBufferToImage(buffer core1_0.Buffer, image core1_0.Image, layout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error
	CmdBlitImage(
		sourceImage core1_0.Image,
		sourceImageLayout core1_0.ImageLayout,
		destinationImage core1_0.Image,
		destinationImageLayout core1_0.ImageLayout,
		regions []core1_0.ImageBlit,
		filter core1_0.Filter,
	) error
	CmdBindPipeline(bindPoint core1_0.PipelineBindPoint, pipeline core1_0.Pipeline)
	CmdBindDescriptorSets(bindPoint core1_0.PipelineBindPoint, layout core1_0.PipelineLayout, firstSet int, sets []core1_0.DescriptorSet, dynamicOffsets []int)
	CmdPushConstants(layout core1_0.PipelineLayout, stageFlags core1_0.ShaderStageFlags, offset int, valueBytes []byte)
}

// Recorder owns a command pool and one primary command buffer allocated from it,
// recorded in one-time-submit mode.
type Recorder struct {
	pool   core1_0.CommandPool
	buffer core1_0.CommandBuffer

	recording bool

	allocationCallbacks *driver.AllocationCallbacks
}

// NewRecorder creates a command pool on the given queue family and allocates a
// single primary command buffer from it.
func NewRecorder(device core1_0.Device, allocationCallbacks *driver.AllocationCallbacks, queueFamilyIndex int) (*Recorder, common.VkResult, error) {
	pool, res, err := device.CreateCommandPool(allocationCallbacks, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: queueFamilyIndex,
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "failed to create command pool")
	}

	buffers, res, err := device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		pool.Destroy(allocationCallbacks)
		return nil, res, errors.Wrap(err, "failed to allocate command buffer")
	}

	return &Recorder{
		pool:                pool,
		buffer:              buffers[0],
		allocationCallbacks: allocationCallbacks,
	}, res, nil
}

// Begin opens the command buffer for one-time-submit recording.
func (r *Recorder) Begin() (common.VkResult, error) {
	if r.recording {
		panic("attempted to begin a command buffer that is already recording")
	}

	res, err := r.buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return res, errors.Wrap(err, "failed to begin command buffer")
	}

	r.recording = true
	return res, nil
}

// End closes the command buffer, making it submittable.
func (r *Recorder) End() (common.VkResult, error) {
	if !r.recording {
		panic("attempted to end a command buffer that is not recording")
	}

	r.recording = false
	res, err := r.buffer.End()
	if err != nil {
		return res, errors.Wrap(err, "failed to end command buffer")
	}
	return res, nil
}

// Reset returns the command buffer to the initial state for re-recording.
func (r *Recorder) Reset() (common.VkResult, error) {
	if r.recording {
		panic("attempted to reset a command buffer mid-recording")
	}

	res, err := r.buffer.Reset(0)
	if err != nil {
		return res, errors.Wrap(err, "failed to reset command buffer")
	}
	return res, nil
}

// CommandBuffer exposes the underlying buffer for submission.
func (r *Recorder) CommandBuffer() core1_0.CommandBuffer { return r.buffer }

// Commands exposes the recording surface passes write their work through.
func (r *Recorder) Commands() Buffer { return r.buffer }

func (r *Recorder) IsRecording() bool { return r.recording }

func (r *Recorder) Destroy() {
	r.pool.Destroy(r.allocationCallbacks)
}
