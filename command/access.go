package command

import (
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Access declares how a pass touches a resource: which pipeline stages and with
// which access bits. Accesses combine with Union while no hazard exists between them.
type Access struct {
	StageMask  core1_0.PipelineStageFlags
	AccessMask core1_0.AccessFlags
}

var (
	AccessNone = Access{}

	AccessComputeRead = Access{
		StageMask:  core1_0.PipelineStageComputeShader,
		AccessMask: core1_0.AccessShaderRead,
	}
	AccessComputeWrite = Access{
		StageMask:  core1_0.PipelineStageComputeShader,
		AccessMask: core1_0.AccessShaderWrite,
	}
	AccessComputeReadWrite = Access{
		StageMask:  core1_0.PipelineStageComputeShader,
		AccessMask: core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
	}
	AccessTransferRead = Access{
		StageMask:  core1_0.PipelineStageTransfer,
		AccessMask: core1_0.AccessTransferRead,
	}
	AccessTransferWrite = Access{
		StageMask:  core1_0.PipelineStageTransfer,
		AccessMask: core1_0.AccessTransferWrite,
	}
	AccessHostWrite = Access{
		StageMask:  core1_0.PipelineStageHost,
		AccessMask: core1_0.AccessHostWrite,
	}
	AccessIndexRead = Access{
		StageMask:  core1_0.PipelineStageVertexInput,
		AccessMask: core1_0.AccessIndexRead,
	}
	AccessPresent = Access{
		StageMask:  core1_0.PipelineStageBottomOfPipe,
		AccessMask: 0,
	}
)

const writeAccessMask = core1_0.AccessShaderWrite |
	core1_0.AccessColorAttachmentWrite |
	core1_0.AccessDepthStencilAttachmentWrite |
	core1_0.AccessTransferWrite |
	core1_0.AccessHostWrite |
	core1_0.AccessMemoryWrite

// Writes reports whether any write bit is set, which makes this access a hazard
// against every other access to the same resource.
func (a Access) Writes() bool {
	return a.AccessMask&writeAccessMask != 0
}

func (a Access) IsEmpty() bool {
	return a.StageMask == 0 && a.AccessMask == 0
}

// Union accumulates a compatible access into this one.
func (a Access) Union(other Access) Access {
	return Access{
		StageMask:  a.StageMask | other.StageMask,
		AccessMask: a.AccessMask | other.AccessMask,
	}
}

// srcStageOrTop substitutes top-of-pipe when no prior stage is recorded, since a
// barrier's source stage mask must be nonzero.
func (a Access) srcStageOrTop() core1_0.PipelineStageFlags {
	if a.StageMask == 0 {
		return core1_0.PipelineStageTopOfPipe
	}
	return a.StageMask
}
