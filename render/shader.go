package render

import (
	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/descriptor"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// spirvWords reassembles a SPIR-V binary from its little-endian byte form.
func spirvWords(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("SPIR-V binary has invalid length %d", len(b))
	}

	words := make([]uint32, len(b)/4)
	for i := 0; i < len(words); i++ {
		byteIndex := i * 4
		words[i] = uint32(b[byteIndex]) |
			uint32(b[byteIndex+1])<<8 |
			uint32(b[byteIndex+2])<<16 |
			uint32(b[byteIndex+3])<<24
	}
	return words, nil
}

// Shader wraps a compute shader module.
type Shader struct {
	module core1_0.ShaderModule
}

func NewShader(device core1_0.Device, allocationCallbacks *driver.AllocationCallbacks, spirv []byte) (*Shader, error) {
	code, err := spirvWords(spirv)
	if err != nil {
		return nil, err
	}

	module, _, err := device.CreateShaderModule(allocationCallbacks, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create shader module")
	}

	return &Shader{module: module}, nil
}

func (s *Shader) Destroy(allocationCallbacks *driver.AllocationCallbacks) {
	if s.module != nil {
		s.module.Destroy(allocationCallbacks)
		s.module = nil
	}
}

// Pipeline is a compute pipeline plus its layout. Every pass shares one
// descriptor set layout, so the pipeline layout differs only in the push
// constant range.
type Pipeline struct {
	layout core1_0.PipelineLayout
	handle core1_0.Pipeline
}

// NewPipeline builds a compute pipeline with the entry point "main" and a push
// constant block of pushSize bytes. A zero pushSize skips the range entirely.
func NewPipeline(
	device core1_0.Device,
	allocationCallbacks *driver.AllocationCallbacks,
	setLayout *descriptor.Layout,
	shader *Shader,
	pushSize int,
) (*Pipeline, error) {
	layoutInfo := core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{setLayout.Handle()},
	}
	if pushSize > 0 {
		layoutInfo.PushConstantRanges = []core1_0.PushConstantRange{
			{
				StageFlags: core1_0.StageCompute,
				Offset:     0,
				Size:       pushSize,
			},
		}
	}

	layout, _, err := device.CreatePipelineLayout(allocationCallbacks, layoutInfo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pipeline layout")
	}

	pipelines, _, err := device.CreateComputePipelines(nil, allocationCallbacks, []core1_0.ComputePipelineCreateInfo{
		{
			Stage: core1_0.PipelineShaderStageCreateInfo{
				Stage:  core1_0.StageCompute,
				Module: shader.module,
				Name:   "main",
			},
			Layout: layout,
		},
	})
	if err != nil {
		layout.Destroy(allocationCallbacks)
		return nil, errors.Wrap(err, "failed to create compute pipeline")
	}

	return &Pipeline{layout: layout, handle: pipelines[0]}, nil
}

func (p *Pipeline) Layout() core1_0.PipelineLayout { return p.layout }
func (p *Pipeline) Handle() core1_0.Pipeline       { return p.handle }

func (p *Pipeline) Destroy(allocationCallbacks *driver.AllocationCallbacks) {
	if p.handle != nil {
		p.handle.Destroy(allocationCallbacks)
		p.handle = nil
	}
	if p.layout != nil {
		p.layout.Destroy(allocationCallbacks)
		p.layout = nil
	}
}
