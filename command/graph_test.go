package command

import (
	"io"
	"testing"

	"github.com/kilnrender/kiln/resource"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard))
}

type recordedBarrier struct {
	srcStages core1_0.PipelineStageFlags
	dstStages core1_0.PipelineStageFlags
	buffers   []core1_0.BufferMemoryBarrier
	images    []core1_0.ImageMemoryBarrier
}

// fakeCommands records barrier and dispatch calls instead of talking to a device.
type fakeCommands struct {
	barriers   []recordedBarrier
	dispatches [][3]int
}

func (f *fakeCommands) Begin(o core1_0.CommandBufferBeginInfo) (common.VkResult, error) {
	return core1_0.VKSuccess, nil
}

func (f *fakeCommands) End() (common.VkResult, error) {
	return core1_0.VKSuccess, nil
}

func (f *fakeCommands) CmdPipelineBarrier(
	srcStageMask core1_0.PipelineStageFlags,
	dstStageMask core1_0.PipelineStageFlags,
	dependencies core1_0.DependencyFlags,
	memoryBarriers []core1_0.MemoryBarrier,
	bufferMemoryBarriers []core1_0.BufferMemoryBarrier,
	imageMemoryBarriers []core1_0.ImageMemoryBarrier,
) error {
	f.barriers = append(f.barriers, recordedBarrier{
		srcStages: srcStageMask,
		dstStages: dstStageMask,
		buffers:   bufferMemoryBarriers,
		images:    imageMemoryBarriers,
	})
	return nil
}

func (f *fakeCommands) CmdDispatch(groupCountX, groupCountY, groupCountZ int) {
	f.dispatches = append(f.dispatches, [3]int{groupCountX, groupCountY, groupCountZ})
}

func (f *fakeCommands) CmdCopyBuffer(copySource core1_0.Buffer, copyDest core1_0.Buffer, copyRegions []core1_0.BufferCopy) error {
	return nil
}

func (f *fakeCommands) CmdCopyBufferToImage(buffer core1_0.Buffer, image core1_0.Image, layout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error {
	return nil
}

func (f *fakeCommands) CmdBlitImage(
	sourceImage core1_0.Image,
	sourceImageLayout core1_0.ImageLayout,
	destinationImage core1_0.Image,
	destinationImageLayout core1_0.ImageLayout,
	regions []core1_0.ImageBlit,
	filter core1_0.Filter,
) error {
	return nil
}

func (f *fakeCommands) CmdBindPipeline(bindPoint core1_0.PipelineBindPoint, pipeline core1_0.Pipeline) {
}

func (f *fakeCommands) CmdBindDescriptorSets(bindPoint core1_0.PipelineBindPoint, layout core1_0.PipelineLayout, firstSet int, sets []core1_0.DescriptorSet, dynamicOffsets []int) {
}

func (f *fakeCommands) CmdPushConstants(layout core1_0.PipelineLayout, stageFlags core1_0.ShaderStageFlags, offset int, valueBytes []byte) {
}

func TestWriteAfterReadsDrainsOnce(t *testing.T) {
	graph := NewGraph(testLogger())
	commands := &fakeCommands{}
	buffer := &resource.Buffer{}

	graph.AccessBuffer(buffer, AccessComputeRead)
	graph.AccessBuffer(buffer, AccessIndexRead)
	require.Zero(t, graph.PendingBarrierCount())

	graph.AccessBuffer(buffer, AccessComputeWrite)
	require.Equal(t, 1, graph.PendingBarrierCount())

	require.NoError(t, graph.BeginPass("write pass", commands))
	require.Len(t, commands.barriers, 1)

	// The one barrier drains both prior reads into the write
	barrier := commands.barriers[0]
	require.Equal(t, core1_0.PipelineStageComputeShader|core1_0.PipelineStageVertexInput, barrier.srcStages)
	require.Equal(t, core1_0.PipelineStageComputeShader, barrier.dstStages)
	require.Len(t, barrier.buffers, 1)
	require.Equal(t, core1_0.AccessShaderRead|core1_0.AccessIndexRead, barrier.buffers[0].SrcAccessMask)
	require.Equal(t, core1_0.AccessShaderWrite, barrier.buffers[0].DstAccessMask)

	// Nothing left pending once flushed
	require.NoError(t, graph.BeginPass("empty pass", commands))
	require.Len(t, commands.barriers, 1)
}

func TestAllReadsEmitNoBarriers(t *testing.T) {
	graph := NewGraph(testLogger())
	commands := &fakeCommands{}
	buffer := &resource.Buffer{}

	graph.AccessBuffer(buffer, AccessComputeRead)
	require.NoError(t, graph.BeginPass("first reader", commands))

	graph.AccessBuffer(buffer, AccessTransferRead)
	require.NoError(t, graph.BeginPass("second reader", commands))

	graph.AccessBuffer(buffer, AccessIndexRead)
	require.NoError(t, graph.BeginPass("third reader", commands))

	require.Empty(t, commands.barriers)
}

func TestWriteAfterWriteResetsRecordedAccess(t *testing.T) {
	graph := NewGraph(testLogger())
	commands := &fakeCommands{}
	buffer := &resource.Buffer{}

	graph.AccessBuffer(buffer, AccessTransferWrite)
	graph.AccessBuffer(buffer, AccessComputeWrite)
	graph.AccessBuffer(buffer, AccessComputeRead)
	require.NoError(t, graph.BeginPass("read pass", commands))

	require.Len(t, commands.barriers, 1)
	require.Len(t, commands.barriers[0].buffers, 2)

	// Each barrier's source is only the access since the previous barrier
	require.Equal(t, core1_0.AccessTransferWrite, commands.barriers[0].buffers[0].SrcAccessMask)
	require.Equal(t, core1_0.AccessShaderWrite, commands.barriers[0].buffers[1].SrcAccessMask)
	require.Equal(t, core1_0.AccessShaderRead, commands.barriers[0].buffers[1].DstAccessMask)
}

func TestBarriersBatchAtPassBoundary(t *testing.T) {
	graph := NewGraph(testLogger())
	commands := &fakeCommands{}
	first := &resource.Buffer{}
	second := &resource.Buffer{}

	graph.AccessBuffer(first, AccessTransferWrite)
	graph.AccessBuffer(second, AccessTransferWrite)
	graph.AccessBuffer(first, AccessComputeRead)
	graph.AccessBuffer(second, AccessComputeRead)
	require.Equal(t, 2, graph.PendingBarrierCount())

	require.NoError(t, graph.BeginPass("compute pass", commands))

	// Both transitions share one barrier command
	require.Len(t, commands.barriers, 1)
	require.Len(t, commands.barriers[0].buffers, 2)
}

func TestImageLayoutTransitions(t *testing.T) {
	graph := NewGraph(testLogger())
	commands := &fakeCommands{}
	image := &resource.Image{}

	// First use transitions out of the undefined layout
	graph.AccessImage(image, AccessTransferWrite, core1_0.ImageLayoutTransferDstOptimal)
	require.Equal(t, 1, graph.PendingBarrierCount())
	require.NoError(t, graph.BeginPass("upload", commands))

	barrier := commands.barriers[0]
	require.Len(t, barrier.images, 1)
	require.Equal(t, core1_0.ImageLayoutUndefined, barrier.images[0].OldLayout)
	require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, barrier.images[0].NewLayout)

	// Layout change between reads is still a hazard
	graph.AccessImage(image, AccessComputeRead, core1_0.ImageLayoutShaderReadOnlyOptimal)
	require.NoError(t, graph.BeginPass("sample", commands))
	require.Len(t, commands.barriers, 2)
	require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, commands.barriers[1].images[0].OldLayout)

	// A second read in the same layout accumulates with no barrier
	graph.AccessImage(image, AccessComputeRead, core1_0.ImageLayoutShaderReadOnlyOptimal)
	require.NoError(t, graph.BeginPass("sample again", commands))
	require.Len(t, commands.barriers, 2)
}

func TestAccessWrites(t *testing.T) {
	require.False(t, AccessComputeRead.Writes())
	require.False(t, AccessTransferRead.Writes())
	require.False(t, AccessIndexRead.Writes())
	require.True(t, AccessComputeWrite.Writes())
	require.True(t, AccessComputeReadWrite.Writes())
	require.True(t, AccessTransferWrite.Writes())
	require.True(t, AccessHostWrite.Writes())
}
