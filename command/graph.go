package command

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/kilnrender/kiln/resource"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

type imageState struct {
	access Access
	layout core1_0.ImageLayout
}

// Graph synthesizes pipeline barriers from declared resource accesses. Synchronization
// bookkeeping lives here, in side tables keyed by resource identity, so buffer and
// image handles stay immutable.
//
// Barriers do not go into the command stream at declaration time. They accumulate in
// a pending batch and are flushed by the next BeginPass, so every transition sharing
// a pass boundary lands in one barrier command.
type Graph struct {
	logger *slog.Logger

	buffers *swiss.Map[*resource.Buffer, Access]
	images  *swiss.Map[*resource.Image, imageState]

	pendingSrcStages      core1_0.PipelineStageFlags
	pendingDstStages      core1_0.PipelineStageFlags
	pendingBufferBarriers []core1_0.BufferMemoryBarrier
	pendingImageBarriers  []core1_0.ImageMemoryBarrier
}

func NewGraph(logger *slog.Logger) *Graph {
	return &Graph{
		logger:  logger,
		buffers: swiss.NewMap[*resource.Buffer, Access](16),
		images:  swiss.NewMap[*resource.Image, imageState](16),
	}
}

// AccessBuffer declares that the next pass touches buffer with the given access.
//
// The first access to a buffer only records it. After that, any write on either side
// of the boundary is a hazard: a barrier from the accumulated prior access to the new
// one goes into the pending batch and the recorded access restarts from the new
// access alone. Read-after-read accumulates with no barrier.
func (g *Graph) AccessBuffer(buffer *resource.Buffer, access Access) {
	previous, known := g.buffers.Get(buffer)
	if !known {
		g.buffers.Put(buffer, access)
		return
	}

	if !previous.Writes() && !access.Writes() {
		g.buffers.Put(buffer, previous.Union(access))
		return
	}

	g.pendingSrcStages |= previous.srcStageOrTop()
	g.pendingDstStages |= access.StageMask
	g.pendingBufferBarriers = append(g.pendingBufferBarriers, core1_0.BufferMemoryBarrier{
		SrcAccessMask:       previous.AccessMask,
		DstAccessMask:       access.AccessMask,
		SrcQueueFamilyIndex: -1,
		DstQueueFamilyIndex: -1,
		Buffer:              buffer.Handle(),
		Offset:              0,
		Size:                buffer.Size(),
	})

	// The barrier drains everything before it
	g.buffers.Put(buffer, access)
}

// AccessImage declares that the next pass touches image with the given access in the
// given layout. Layout changes are hazards even between reads; images start in the
// undefined layout.
func (g *Graph) AccessImage(image *resource.Image, access Access, layout core1_0.ImageLayout) {
	state, known := g.images.Get(image)
	if !known {
		state = imageState{layout: core1_0.ImageLayoutUndefined}
	}

	if known && state.layout == layout && !state.access.Writes() && !access.Writes() {
		state.access = state.access.Union(access)
		g.images.Put(image, state)
		return
	}

	if !known && layout == core1_0.ImageLayoutUndefined {
		g.images.Put(image, imageState{access: access, layout: layout})
		return
	}

	g.pendingSrcStages |= state.access.srcStageOrTop()
	g.pendingDstStages |= access.StageMask
	g.pendingImageBarriers = append(g.pendingImageBarriers, core1_0.ImageMemoryBarrier{
		SrcAccessMask:       state.access.AccessMask,
		DstAccessMask:       access.AccessMask,
		OldLayout:           state.layout,
		NewLayout:           layout,
		SrcQueueFamilyIndex: -1,
		DstQueueFamilyIndex: -1,
		Image:               image.Handle(),
		SubresourceRange:    image.FullSubresourceRange(),
	})

	g.images.Put(image, imageState{access: access, layout: layout})
}

// PendingBarrierCount is the number of barriers waiting for the next pass boundary.
func (g *Graph) PendingBarrierCount() int {
	return len(g.pendingBufferBarriers) + len(g.pendingImageBarriers)
}

// BeginPass flushes the pending barrier batch into the command stream, then the
// caller records the pass's own work.
func (g *Graph) BeginPass(name string, commands Buffer) error {
	barrierCount := g.PendingBarrierCount()

	err := g.Flush(commands)
	if err != nil {
		return errors.Wrapf(err, "failed to flush barriers for pass %s", name)
	}

	g.logger.LogAttrs(context.Background(), slog.LevelDebug, "beginning pass",
		slog.String("pass", name),
		slog.Int("barriers", barrierCount),
	)
	return nil
}

// Flush inserts any pending barriers as a single barrier command.
func (g *Graph) Flush(commands Buffer) error {
	if g.PendingBarrierCount() == 0 {
		return nil
	}

	err := commands.CmdPipelineBarrier(
		g.pendingSrcStages,
		g.pendingDstStages,
		0,
		nil,
		g.pendingBufferBarriers,
		g.pendingImageBarriers,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record pipeline barrier")
	}

	g.pendingSrcStages = 0
	g.pendingDstStages = 0
	g.pendingBufferBarriers = nil
	g.pendingImageBarriers = nil
	return nil
}

// Forget drops all recorded state for an image, used when the swapchain is rebuilt
// and image identities change.
func (g *Graph) Forget(image *resource.Image) {
	g.images.Delete(image)
}

// Reset drops every side table entry and any pending barriers.
func (g *Graph) Reset() {
	g.buffers = swiss.NewMap[*resource.Buffer, Access](16)
	g.images = swiss.NewMap[*resource.Image, imageState](16)
	g.pendingSrcStages = 0
	g.pendingDstStages = 0
	g.pendingBufferBarriers = nil
	g.pendingImageBarriers = nil
}
