package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// Sampler is a shared trilinear repeat sampler covering maxLod mip levels. One
// sampler serves every material texture.
type Sampler struct {
	handle core1_0.Sampler

	allocationCallbacks *driver.AllocationCallbacks
}

func NewSampler(device core1_0.Device, allocationCallbacks *driver.AllocationCallbacks, maxLod int) (*Sampler, common.VkResult, error) {
	handle, res, err := device.CreateSampler(allocationCallbacks, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		MipmapMode:   core1_0.SamplerMipmapModeLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,
		MinLod:       0,
		MaxLod:       float32(maxLod),
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "failed to create sampler")
	}

	return &Sampler{
		handle:              handle,
		allocationCallbacks: allocationCallbacks,
	}, res, nil
}

func (s *Sampler) Handle() core1_0.Sampler { return s.handle }

func (s *Sampler) Destroy() {
	s.handle.Destroy(s.allocationCallbacks)
}
