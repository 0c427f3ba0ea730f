package render

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"golang.org/x/exp/slog"
)

// deviceSelection names the physical device and the one queue family the renderer
// drives. A single family must carry graphics, compute, and present: the access
// graph never emits ownership transfers.
type deviceSelection struct {
	physicalDevice core1_0.PhysicalDevice
	properties     *core1_0.PhysicalDeviceProperties
	queueFamily    int
}

// selectPhysicalDevice scores every device the instance exposes and keeps the best
// one that can run the renderer at all. Discrete GPUs win over integrated, newer
// API support breaks ties.
func selectPhysicalDevice(logger *slog.Logger, instance core1_0.Instance, surface khr_surface.Surface) (deviceSelection, error) {
	physicalDevices, _, err := instance.EnumeratePhysicalDevices()
	if err != nil {
		return deviceSelection{}, errors.Wrap(err, "failed to enumerate physical devices")
	}

	var best deviceSelection
	bestScore := -1

	for _, physicalDevice := range physicalDevices {
		properties, err := physicalDevice.Properties()
		if err != nil {
			return deviceSelection{}, errors.Wrap(err, "failed to query device properties")
		}

		queueFamily, err := findQueueFamily(physicalDevice, surface)
		if err != nil {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "skipping physical device",
				slog.String("device", properties.DriverName),
				slog.String("reason", err.Error()),
			)
			continue
		}

		score := 0
		if properties.DriverType == core1_0.PhysicalDeviceTypeDiscreteGPU {
			score += 1000
		}
		if properties.APIVersion >= common.Vulkan1_2 {
			score += 100
		}

		if score > bestScore {
			bestScore = score
			best = deviceSelection{
				physicalDevice: physicalDevice,
				properties:     properties,
				queueFamily:    queueFamily,
			}
		}
	}

	if best.physicalDevice == nil {
		return deviceSelection{}, errors.New("no physical device can drive the renderer")
	}

	logger.LogAttrs(context.Background(), slog.LevelInfo, "selected physical device",
		slog.String("device", best.properties.DriverName),
		slog.Int("queueFamily", best.queueFamily),
	)
	return best, nil
}

// findQueueFamily returns the first family with graphics and compute that can also
// present to the surface.
func findQueueFamily(physicalDevice core1_0.PhysicalDevice, surface khr_surface.Surface) (int, error) {
	required := core1_0.QueueGraphics | core1_0.QueueCompute

	for familyIndex, family := range physicalDevice.QueueFamilyProperties() {
		if family.QueueFlags&required != required {
			continue
		}

		supported, _, err := surface.PhysicalDeviceSurfaceSupport(physicalDevice, familyIndex)
		if err != nil {
			return 0, errors.Wrap(err, "failed to query surface support")
		}
		if supported {
			return familyIndex, nil
		}
	}

	return 0, errors.New("no queue family offers graphics, compute, and present")
}

// createDevice builds the logical device with the swapchain extension, plus the
// portability subset where the implementation requires it to be enabled.
func createDevice(selection deviceSelection, allocationCallbacks *driver.AllocationCallbacks) (core1_0.Device, core1_0.Queue, error) {
	deviceExtensions, _, err := selection.physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to enumerate device extensions")
	}

	extensionNames := []string{khr_swapchain.ExtensionName}

	_, ok := deviceExtensions[khr_portability_subset.ExtensionName]
	if ok {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	device, _, err := selection.physicalDevice.CreateDevice(allocationCallbacks, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: selection.queueFamily,
				QueuePriorities:  []float32{0.0},
			},
		},
		EnabledExtensionNames: extensionNames,
		NextOptions: common.NextOptions{
			Next: core1_2.PhysicalDeviceVulkan12Features{
				BufferDeviceAddress: true,
			},
		},
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create logical device")
	}

	queue := device.GetQueue(selection.queueFamily, 0)
	return device, queue, nil
}
