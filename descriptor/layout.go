package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// Binding describes one shader-visible slot in a set layout.
type Binding struct {
	Binding int
	Type    core1_0.DescriptorType
	Count   int
	Stages  core1_0.ShaderStageFlags
}

// Layout is an immutable descriptor set layout. It owns its device handle and must
// be destroyed explicitly once no pass references it.
type Layout struct {
	handle   core1_0.DescriptorSetLayout
	bindings []Binding

	allocationCallbacks *driver.AllocationCallbacks
}

func NewLayout(device core1_0.Device, allocationCallbacks *driver.AllocationCallbacks, bindings []Binding) (*Layout, common.VkResult, error) {
	if len(bindings) == 0 {
		panic("attempted to create a descriptor set layout with no bindings")
	}

	layoutBindings := make([]core1_0.DescriptorSetLayoutBinding, 0, len(bindings))
	for _, binding := range bindings {
		count := binding.Count
		if count == 0 {
			count = 1
		}

		layoutBindings = append(layoutBindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         binding.Binding,
			DescriptorType:  binding.Type,
			DescriptorCount: count,
			StageFlags:      binding.Stages,
		})
	}

	handle, res, err := device.CreateDescriptorSetLayout(allocationCallbacks, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: layoutBindings,
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "failed to create descriptor set layout")
	}

	return &Layout{
		handle:              handle,
		bindings:            bindings,
		allocationCallbacks: allocationCallbacks,
	}, res, nil
}

func (l *Layout) Handle() core1_0.DescriptorSetLayout { return l.handle }
func (l *Layout) Bindings() []Binding                 { return l.bindings }

// PoolSizes tallies the descriptor counts a pool needs to allocate setCount sets of
// this layout.
func (l *Layout) PoolSizes(setCount int) []core1_0.DescriptorPoolSize {
	counts := make(map[core1_0.DescriptorType]int)
	order := make([]core1_0.DescriptorType, 0, len(l.bindings))

	for _, binding := range l.bindings {
		count := binding.Count
		if count == 0 {
			count = 1
		}
		if _, seen := counts[binding.Type]; !seen {
			order = append(order, binding.Type)
		}
		counts[binding.Type] += count * setCount
	}

	sizes := make([]core1_0.DescriptorPoolSize, 0, len(order))
	for _, descriptorType := range order {
		sizes = append(sizes, core1_0.DescriptorPoolSize{
			Type:            descriptorType,
			DescriptorCount: counts[descriptorType],
		})
	}
	return sizes
}

func (l *Layout) Destroy() {
	l.handle.Destroy(l.allocationCallbacks)
}
