package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
)

func TestAddressedBufferKindsCarryDeviceAddressUsage(t *testing.T) {
	// Every kind whose buffer lands in a packed descriptor region by address must be
	// created device-addressable
	for _, kind := range []BufferKind{BufferKindStorage, BufferKindIndex} {
		require.NotZero(t,
			kind.UsageFlags()&khr_buffer_device_address.BufferUsageShaderDeviceAddress,
			kind.String())
	}
}

func TestSharingMode(t *testing.T) {
	require.Equal(t, core1_0.SharingModeExclusive, sharingMode(0))
	require.Equal(t, core1_0.SharingModeExclusive, sharingMode(1))
	require.Equal(t, core1_0.SharingModeConcurrent, sharingMode(2))
}
