package frame

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"golang.org/x/exp/slog"
)

// Device is the slice of core1_0.Device the pacer drives.
type Device interface {
	CreateSemaphore(allocationCallbacks *driver.AllocationCallbacks, o core1_0.SemaphoreCreateInfo) (core1_0.Semaphore, common.VkResult, error)
	CreateFence(allocationCallbacks *driver.AllocationCallbacks, o core1_0.FenceCreateInfo) (core1_0.Fence, common.VkResult, error)
	WaitForFences(waitForAll bool, timeout time.Duration, fences []core1_0.Fence) (common.VkResult, error)
	ResetFences(fences []core1_0.Fence) (common.VkResult, error)
	WaitIdle() (common.VkResult, error)
}

// Queue is the submission surface of core1_0.Queue.
type Queue interface {
	Submit(fence core1_0.Fence, o []core1_0.SubmitInfo) (common.VkResult, error)
}

type slotState int

const (
	slotIdle slotState = iota
	slotRecording
	slotSubmitted
)

func (s slotState) String() string {
	switch s {
	case slotIdle:
		return "Idle"
	case slotRecording:
		return "Recording"
	case slotSubmitted:
		return "Submitted"
	}
	return "Unknown"
}

// slot carries one frame's sync primitives. The acquire semaphore gates GPU work on
// swapchain image availability; the release semaphore gates presentation on the
// frame's completion; the fence tracks when the slot's command buffer may be reused.
type slot struct {
	state   slotState
	acquire core1_0.Semaphore
	release core1_0.Semaphore
	fence   core1_0.Fence
}

// Pacer rotates frame slots and sequences submission and presentation for each.
// Each slot walks Idle, Recording, Submitted and back to Idle; out-of-order
// transitions are programmer errors.
//
// After each submission the pacer waits for full device idle before the slot is
// reused. The per-slot fence is also signaled on submit and waited before the next
// acquisition of the same slot, so dropping the idle wait only changes EndFrame.
type Pacer struct {
	logger *slog.Logger
	device Device

	slots   PerFrame[*slot]
	current Index

	allocationCallbacks *driver.AllocationCallbacks
}

func NewPacer(logger *slog.Logger, device Device, allocationCallbacks *driver.AllocationCallbacks) (*Pacer, common.VkResult, error) {
	pacer := &Pacer{
		logger:              logger,
		device:              device,
		allocationCallbacks: allocationCallbacks,
	}

	for i := 0; i < FramesInFlight; i++ {
		acquire, res, err := device.CreateSemaphore(allocationCallbacks, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			pacer.Destroy()
			return nil, res, errors.Wrap(err, "failed to create acquire semaphore")
		}

		release, res, err := device.CreateSemaphore(allocationCallbacks, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			acquire.Destroy(allocationCallbacks)
			pacer.Destroy()
			return nil, res, errors.Wrap(err, "failed to create release semaphore")
		}

		// Signaled, so the first wait on an unused slot passes immediately
		fence, res, err := device.CreateFence(allocationCallbacks, core1_0.FenceCreateInfo{
			Flags: core1_0.FenceCreateSignaled,
		})
		if err != nil {
			acquire.Destroy(allocationCallbacks)
			release.Destroy(allocationCallbacks)
			pacer.Destroy()
			return nil, res, errors.Wrap(err, "failed to create frame fence")
		}

		pacer.slots.Set(Index(i), &slot{
			acquire: acquire,
			release: release,
			fence:   fence,
		})
	}

	return pacer, core1_0.VKSuccess, nil
}

// CurrentIndex is the slot the next BeginFrame will hand out.
func (p *Pacer) CurrentIndex() Index { return p.current }

// AcquireSemaphore is the semaphore the swapchain acquisition for index signals.
func (p *Pacer) AcquireSemaphore(index Index) core1_0.Semaphore {
	return p.slots.Get(index).acquire
}

// ReleaseSemaphore is the semaphore presentation for index waits on.
func (p *Pacer) ReleaseSemaphore(index Index) core1_0.Semaphore {
	return p.slots.Get(index).release
}

// BeginFrame claims the current slot for recording, waiting out any prior use of its
// resources. The fence is left signaled; it is only reset once the slot is committed
// to a submission, so an aborted frame can claim the slot again.
func (p *Pacer) BeginFrame() (Index, common.VkResult, error) {
	index := p.current
	frameSlot := p.slots.Get(index)
	if frameSlot.state != slotIdle {
		panic("attempted to begin a frame on a slot in state " + frameSlot.state.String())
	}

	res, err := p.device.WaitForFences(true, common.NoTimeout, []core1_0.Fence{frameSlot.fence})
	if err != nil {
		return index, res, errors.Wrap(err, "failed to wait for the frame fence")
	}

	frameSlot.state = slotRecording
	return index, res, nil
}

// Submit hands the recorded command buffer to the queue. GPU work starts once the
// slot's acquire semaphore is signaled; the release semaphore and the slot fence are
// signaled when it finishes.
func (p *Pacer) Submit(queue Queue, commandBuffer core1_0.CommandBuffer, waitStage core1_0.PipelineStageFlags) (common.VkResult, error) {
	frameSlot := p.slots.Get(p.current)
	if frameSlot.state != slotRecording {
		panic("attempted to submit a frame slot in state " + frameSlot.state.String())
	}

	res, err := p.device.ResetFences([]core1_0.Fence{frameSlot.fence})
	if err != nil {
		return res, errors.Wrap(err, "failed to reset the frame fence")
	}

	res, err = queue.Submit(frameSlot.fence, []core1_0.SubmitInfo{
		{
			WaitSemaphores:   []core1_0.Semaphore{frameSlot.acquire},
			WaitDstStageMask: []core1_0.PipelineStageFlags{waitStage},
			CommandBuffers:   []core1_0.CommandBuffer{commandBuffer},
			SignalSemaphores: []core1_0.Semaphore{frameSlot.release},
		},
	})
	if err != nil {
		return res, errors.Wrap(err, "failed to submit the frame command buffer")
	}

	frameSlot.state = slotSubmitted
	return res, nil
}

// EndFrame returns the slot to idle after presentation has been requested, then
// advances to the next slot. It blocks until the device has drained.
func (p *Pacer) EndFrame() (common.VkResult, error) {
	frameSlot := p.slots.Get(p.current)
	if frameSlot.state != slotSubmitted {
		panic("attempted to end a frame slot in state " + frameSlot.state.String())
	}

	res, err := p.device.WaitIdle()
	if err != nil {
		return res, errors.Wrap(err, "failed to wait for device idle")
	}

	frameSlot.state = slotIdle
	p.current = p.current.Next()
	return res, nil
}

// AbortFrame returns a recording slot to idle without submitting, used when frame
// recording fails partway. The slot's fence was never reset, so the next BeginFrame
// on it passes immediately.
func (p *Pacer) AbortFrame() {
	frameSlot := p.slots.Get(p.current)
	if frameSlot.state != slotRecording {
		panic("attempted to abort a frame slot in state " + frameSlot.state.String())
	}

	p.logger.LogAttrs(context.Background(), slog.LevelWarn, "aborting frame recording",
		slog.Int("frameIndex", int(p.current)),
	)
	frameSlot.state = slotIdle
}

// Destroy releases every slot's sync primitives. All slots must be idle.
func (p *Pacer) Destroy() {
	p.slots.Each(func(index Index, frameSlot *slot) {
		if frameSlot == nil {
			return
		}
		if frameSlot.state != slotIdle {
			panic("attempted to destroy the frame pacer with a slot in state " + frameSlot.state.String())
		}

		frameSlot.acquire.Destroy(p.allocationCallbacks)
		frameSlot.release.Destroy(p.allocationCallbacks)
		frameSlot.fence.Destroy(p.allocationCallbacks)
		p.slots.Set(index, nil)
	})
}
