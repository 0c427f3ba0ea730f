package render

import (
	"github.com/kilnrender/kiln/command"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// computeGroupSize is the workgroup edge length every compute shader declares.
const computeGroupSize = 32

// dispatchGroups is the group count covering extent with computeGroupSize square
// workgroups.
func dispatchGroups(extent core1_0.Extent2D) (int, int, int) {
	return groupsCovering(extent.Width), groupsCovering(extent.Height), 1
}

func groupsCovering(size int) int {
	return (size + computeGroupSize - 1) / computeGroupSize
}

// Pass is one compute pass: a pipeline plus a descriptor set and packed-region
// offset per swapchain image. Built once at setup, recorded every frame.
type Pass struct {
	name     string
	pipeline *Pipeline
	sets     []core1_0.DescriptorSet
	offsets  []int
}

func NewPass(name string, pipeline *Pipeline, sets []core1_0.DescriptorSet, offsets []int) *Pass {
	if len(sets) != len(offsets) {
		panic("every pass descriptor set needs exactly one region offset")
	}
	return &Pass{
		name:     name,
		pipeline: pipeline,
		sets:     sets,
		offsets:  offsets,
	}
}

func (p *Pass) Name() string { return p.name }

// Record flushes the pass's pending barriers and records its bind and dispatch.
func (p *Pass) Record(
	graph *command.Graph,
	commands command.Buffer,
	imageIndex int,
	push []byte,
	groupsX, groupsY, groupsZ int,
) error {
	err := graph.BeginPass(p.name, commands)
	if err != nil {
		return err
	}

	commands.CmdBindPipeline(core1_0.PipelineBindPointCompute, p.pipeline.Handle())
	commands.CmdBindDescriptorSets(core1_0.PipelineBindPointCompute, p.pipeline.Layout(), 0,
		[]core1_0.DescriptorSet{p.sets[imageIndex]},
		[]int{p.offsets[imageIndex]})

	if len(push) > 0 {
		commands.CmdPushConstants(p.pipeline.Layout(), core1_0.StageCompute, 0, push)
	}

	commands.CmdDispatch(groupsX, groupsY, groupsZ)
	return nil
}
