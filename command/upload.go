package command

import (
	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/resource"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Uploader stages CPU-side data through a scratch buffer and records the transfer
// commands that move it into device-local resources. It is used once, during the
// upload phase; the scratch buffer is destroyed after the transfer completes on the
// device.
type Uploader struct {
	graph    *Graph
	commands Buffer
	scratch  *resource.Scratch
}

func NewUploader(graph *Graph, commands Buffer, scratch *resource.Scratch) *Uploader {
	// The CPU fills the scratch buffer before any transfer reads it
	graph.AccessBuffer(scratch.Buffer, AccessHostWrite)

	return &Uploader{
		graph:    graph,
		commands: commands,
		scratch:  scratch,
	}
}

// BufferData stages data and records a copy into dst at dstOffset.
func (u *Uploader) BufferData(dst *resource.Buffer, dstOffset int, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	srcOffset, err := u.scratch.Push(data)
	if err != nil {
		return err
	}

	u.graph.AccessBuffer(u.scratch.Buffer, AccessTransferRead)
	u.graph.AccessBuffer(dst, AccessTransferWrite)
	err = u.graph.BeginPass("buffer upload", u.commands)
	if err != nil {
		return err
	}

	err = u.commands.CmdCopyBuffer(u.scratch.Buffer.Handle(), dst.Handle(), []core1_0.BufferCopy{
		{
			SrcOffset: srcOffset,
			DstOffset: dstOffset,
			Size:      len(data),
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to record buffer copy")
	}
	return nil
}

// ImageData stages one tightly-packed byte slice per mip level and records copies
// into every mip of dst, transitioning it to the transfer destination layout first.
func (u *Uploader) ImageData(dst *resource.Image, mips [][]byte) error {
	if len(mips) != dst.MipLevels() {
		return errors.Newf("image upload provided %d mip levels, but the image has %d", len(mips), dst.MipLevels())
	}

	u.graph.AccessBuffer(u.scratch.Buffer, AccessTransferRead)
	u.graph.AccessImage(dst, AccessTransferWrite, core1_0.ImageLayoutTransferDstOptimal)
	err := u.graph.BeginPass("image upload", u.commands)
	if err != nil {
		return err
	}

	extent := dst.Extent()
	for mip, data := range mips {
		srcOffset, err := u.scratch.Push(data)
		if err != nil {
			return err
		}

		err = u.commands.CmdCopyBufferToImage(u.scratch.Buffer.Handle(), dst.Handle(),
			core1_0.ImageLayoutTransferDstOptimal,
			[]core1_0.BufferImageCopy{
				{
					BufferOffset:      srcOffset,
					BufferRowLength:   0,
					BufferImageHeight: 0,
					ImageSubresource: core1_0.ImageSubresourceLayers{
						AspectMask:     dst.AspectMask(),
						MipLevel:       mip,
						BaseArrayLayer: 0,
						LayerCount:     dst.ArrayLayers(),
					},
					ImageOffset: core1_0.Offset3D{},
					ImageExtent: core1_0.Extent3D{
						Width:  mipDimension(extent.Width, mip),
						Height: mipDimension(extent.Height, mip),
						Depth:  1,
					},
				},
			})
		if err != nil {
			return errors.Wrapf(err, "failed to record copy for mip %d", mip)
		}
	}
	return nil
}

func mipDimension(base, mip int) int {
	dimension := base >> mip
	if dimension < 1 {
		return 1
	}
	return dimension
}
