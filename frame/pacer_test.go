package frame

import (
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/golang/mock/gomock"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard))
}

// fakeSyncDevice hands out mocked sync primitives and counts the waits the pacer
// issues against them.
type fakeSyncDevice struct {
	ctrl *gomock.Controller

	semaphores []*mocks.MockSemaphore
	fences     []*mocks.MockFence

	fenceWaits  int
	fenceResets int
	idleWaits   int
}

func (d *fakeSyncDevice) CreateSemaphore(allocationCallbacks *driver.AllocationCallbacks, o core1_0.SemaphoreCreateInfo) (core1_0.Semaphore, common.VkResult, error) {
	semaphore := mocks.NewMockSemaphore(d.ctrl)
	d.semaphores = append(d.semaphores, semaphore)
	return semaphore, core1_0.VKSuccess, nil
}

func (d *fakeSyncDevice) CreateFence(allocationCallbacks *driver.AllocationCallbacks, o core1_0.FenceCreateInfo) (core1_0.Fence, common.VkResult, error) {
	fence := mocks.NewMockFence(d.ctrl)
	d.fences = append(d.fences, fence)
	return fence, core1_0.VKSuccess, nil
}

func (d *fakeSyncDevice) WaitForFences(waitForAll bool, timeout time.Duration, fences []core1_0.Fence) (common.VkResult, error) {
	d.fenceWaits++
	return core1_0.VKSuccess, nil
}

func (d *fakeSyncDevice) ResetFences(fences []core1_0.Fence) (common.VkResult, error) {
	d.fenceResets++
	return core1_0.VKSuccess, nil
}

func (d *fakeSyncDevice) WaitIdle() (common.VkResult, error) {
	d.idleWaits++
	return core1_0.VKSuccess, nil
}

type fakeQueue struct {
	submittedFences []core1_0.Fence
	submits         [][]core1_0.SubmitInfo
}

func (q *fakeQueue) Submit(fence core1_0.Fence, o []core1_0.SubmitInfo) (common.VkResult, error) {
	q.submittedFences = append(q.submittedFences, fence)
	q.submits = append(q.submits, o)
	return core1_0.VKSuccess, nil
}

func TestPacerFrameSequencing(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := &fakeSyncDevice{ctrl: ctrl}

	pacer, _, err := NewPacer(testLogger(), device, nil)
	require.NoError(t, err)
	require.Len(t, device.semaphores, 2*FramesInFlight)
	require.Len(t, device.fences, FramesInFlight)

	queue := &fakeQueue{}
	commandBuffer := mocks.NewMockCommandBuffer(ctrl)

	for expected := 0; expected < 3; expected++ {
		index, _, err := pacer.BeginFrame()
		require.NoError(t, err)
		require.Equal(t, Index(expected%FramesInFlight), index)

		_, err = pacer.Submit(queue, commandBuffer, core1_0.PipelineStageComputeShader)
		require.NoError(t, err)

		_, err = pacer.EndFrame()
		require.NoError(t, err)
	}

	require.Equal(t, 3, device.fenceWaits)
	require.Equal(t, 3, device.fenceResets)
	require.Equal(t, 3, device.idleWaits)

	// Submissions wait on the slot's acquire semaphore and signal its release
	// semaphore and fence
	require.Len(t, queue.submits, 3)
	first := queue.submits[0][0]
	require.Equal(t, []core1_0.Semaphore{pacer.AcquireSemaphore(0)}, first.WaitSemaphores)
	require.Equal(t, []core1_0.Semaphore{pacer.ReleaseSemaphore(0)}, first.SignalSemaphores)
	require.Equal(t, []core1_0.PipelineStageFlags{core1_0.PipelineStageComputeShader}, first.WaitDstStageMask)
	require.Same(t, device.fences[0], queue.submittedFences[0])

	// The third frame wraps back around to slot 0
	require.Same(t, device.fences[0], queue.submittedFences[2])
	require.NotSame(t, queue.submittedFences[0], queue.submittedFences[1])
}

func TestPacerRejectsOutOfOrderTransitions(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := &fakeSyncDevice{ctrl: ctrl}

	pacer, _, err := NewPacer(testLogger(), device, nil)
	require.NoError(t, err)

	queue := &fakeQueue{}
	commandBuffer := mocks.NewMockCommandBuffer(ctrl)

	require.Panics(t, func() { pacer.Submit(queue, commandBuffer, core1_0.PipelineStageComputeShader) })
	require.Panics(t, func() { pacer.EndFrame() })

	_, _, err = pacer.BeginFrame()
	require.NoError(t, err)
	require.Panics(t, func() { pacer.BeginFrame() })
	require.Panics(t, func() { pacer.EndFrame() })

	pacer.AbortFrame()
	require.Equal(t, Index(0), pacer.CurrentIndex())
}

// fenceStateDevice tracks each fence's signaled state so a wait on a fence nothing
// will signal fails the test instead of hanging.
type fenceStateDevice struct {
	ctrl     *gomock.Controller
	signaled map[core1_0.Fence]bool
}

func (d *fenceStateDevice) CreateSemaphore(allocationCallbacks *driver.AllocationCallbacks, o core1_0.SemaphoreCreateInfo) (core1_0.Semaphore, common.VkResult, error) {
	return mocks.NewMockSemaphore(d.ctrl), core1_0.VKSuccess, nil
}

func (d *fenceStateDevice) CreateFence(allocationCallbacks *driver.AllocationCallbacks, o core1_0.FenceCreateInfo) (core1_0.Fence, common.VkResult, error) {
	fence := mocks.NewMockFence(d.ctrl)
	d.signaled[fence] = o.Flags&core1_0.FenceCreateSignaled != 0
	return fence, core1_0.VKSuccess, nil
}

func (d *fenceStateDevice) WaitForFences(waitForAll bool, timeout time.Duration, fences []core1_0.Fence) (common.VkResult, error) {
	for _, fence := range fences {
		if !d.signaled[fence] {
			return core1_0.VKTimeout, errors.New("waited on a fence nothing will signal")
		}
	}
	return core1_0.VKSuccess, nil
}

func (d *fenceStateDevice) ResetFences(fences []core1_0.Fence) (common.VkResult, error) {
	for _, fence := range fences {
		d.signaled[fence] = false
	}
	return core1_0.VKSuccess, nil
}

func (d *fenceStateDevice) WaitIdle() (common.VkResult, error) {
	return core1_0.VKSuccess, nil
}

// signalingQueue completes every submission immediately, signaling its fence.
type signalingQueue struct {
	device *fenceStateDevice
}

func (q *signalingQueue) Submit(fence core1_0.Fence, o []core1_0.SubmitInfo) (common.VkResult, error) {
	q.device.signaled[fence] = true
	return core1_0.VKSuccess, nil
}

func TestPacerBeginFrameAfterAbort(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := &fenceStateDevice{ctrl: ctrl, signaled: map[core1_0.Fence]bool{}}

	pacer, _, err := NewPacer(testLogger(), device, nil)
	require.NoError(t, err)

	queue := &signalingQueue{device: device}
	commandBuffer := mocks.NewMockCommandBuffer(ctrl)

	// An aborted slot must still be claimable: its fence was never reset
	_, _, err = pacer.BeginFrame()
	require.NoError(t, err)
	pacer.AbortFrame()

	index, _, err := pacer.BeginFrame()
	require.NoError(t, err)
	require.Equal(t, Index(0), index)

	// The recovered slot still completes a full frame, and the cycle keeps
	// going across aborts on later slots
	_, err = pacer.Submit(queue, commandBuffer, core1_0.PipelineStageComputeShader)
	require.NoError(t, err)
	_, err = pacer.EndFrame()
	require.NoError(t, err)

	for cycle := 0; cycle < 2*FramesInFlight; cycle++ {
		_, _, err = pacer.BeginFrame()
		require.NoError(t, err)
		pacer.AbortFrame()

		_, _, err = pacer.BeginFrame()
		require.NoError(t, err)
		_, err = pacer.Submit(queue, commandBuffer, core1_0.PipelineStageComputeShader)
		require.NoError(t, err)
		_, err = pacer.EndFrame()
		require.NoError(t, err)
	}
}

func TestPacerDestroy(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := &fakeSyncDevice{ctrl: ctrl}

	pacer, _, err := NewPacer(testLogger(), device, nil)
	require.NoError(t, err)

	for _, semaphore := range device.semaphores {
		semaphore.EXPECT().Destroy(gomock.Any())
	}
	for _, fence := range device.fences {
		fence.EXPECT().Destroy(gomock.Any())
	}

	pacer.Destroy()
}
