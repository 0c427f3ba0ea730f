package render

import (
	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/resource"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
)

// AddressResolver turns a buffer into the device address shaders dereference. Scene
// buffers are bound by address inside packed descriptor regions rather than through
// individual descriptor slots.
type AddressResolver interface {
	BufferAddress(buffer *resource.Buffer) (uint64, error)
}

type deviceAddressResolver struct {
	device    core1_0.Device
	extension khr_buffer_device_address.Extension
}

func newDeviceAddressResolver(device core1_0.Device) *deviceAddressResolver {
	return &deviceAddressResolver{
		device:    device,
		extension: khr_buffer_device_address.CreateExtensionFromDevice(device),
	}
}

func (r *deviceAddressResolver) BufferAddress(buffer *resource.Buffer) (uint64, error) {
	if buffer.Slice() == nil {
		return 0, errors.New("attempted to resolve the address of an unbound buffer")
	}

	address, err := r.extension.GetBufferDeviceAddress(r.device, khr_buffer_device_address.BufferDeviceAddressInfo{
		Buffer: buffer.Handle(),
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to query buffer device address")
	}
	return address, nil
}
