package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// Pool wraps a descriptor pool sized for a known set of layouts. Sets allocated from
// it are freed implicitly when the pool is destroyed.
type Pool struct {
	handle core1_0.DescriptorPool
	device core1_0.Device

	allocationCallbacks *driver.AllocationCallbacks
}

// NewPool creates a pool able to hold setCount sets of the given layout, one per
// swapchain image.
func NewPool(device core1_0.Device, allocationCallbacks *driver.AllocationCallbacks, layout *Layout, setCount int) (*Pool, common.VkResult, error) {
	if setCount <= 0 {
		panic("attempted to create a descriptor pool with a nonpositive set count")
	}

	handle, res, err := device.CreateDescriptorPool(allocationCallbacks, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   setCount,
		PoolSizes: layout.PoolSizes(setCount),
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "failed to create descriptor pool")
	}

	return &Pool{
		handle:              handle,
		device:              device,
		allocationCallbacks: allocationCallbacks,
	}, res, nil
}

// Allocate creates one descriptor set per entry in layouts.
func (p *Pool) Allocate(layouts []*Layout) ([]core1_0.DescriptorSet, common.VkResult, error) {
	setLayouts := make([]core1_0.DescriptorSetLayout, 0, len(layouts))
	for _, layout := range layouts {
		setLayouts = append(setLayouts, layout.Handle())
	}

	sets, res, err := p.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: p.handle,
		SetLayouts:     setLayouts,
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "failed to allocate descriptor sets")
	}

	return sets, res, nil
}

func (p *Pool) Handle() core1_0.DescriptorPool { return p.handle }

func (p *Pool) Destroy() {
	p.handle.Destroy(p.allocationCallbacks)
}
