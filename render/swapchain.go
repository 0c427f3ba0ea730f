package render

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/frame"
	"github.com/kilnrender/kiln/resource"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"golang.org/x/exp/slog"
)

// Swapchain owns the presentable images and their storage-image views. The compute
// passes write swapchain images directly, so the images must support storage use.
type Swapchain struct {
	logger    *slog.Logger
	extension khr_swapchain.Extension
	handle    khr_swapchain.Swapchain

	format core1_0.Format
	extent core1_0.Extent2D

	images []*resource.Image
	views  []*resource.ImageView

	allocationCallbacks *driver.AllocationCallbacks
}

// chooseSurfaceFormat prefers plain UNORM formats because the compute shaders write
// the swapchain as a storage image and do their own transfer function.
func chooseSurfaceFormat(formats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	preferred := []core1_0.Format{
		core1_0.FormatR8G8B8A8UnsignedNormalized,
		core1_0.FormatB8G8R8A8UnsignedNormalized,
	}

	for _, want := range preferred {
		for _, format := range formats {
			if format.Format == want && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
				return format
			}
		}
	}
	return formats[0]
}

// chooseCompositeAlpha picks the first mode the surface supports, in a fixed
// preference order.
func chooseCompositeAlpha(supported khr_surface.CompositeAlphaFlags) khr_surface.CompositeAlphaFlags {
	preferred := []khr_surface.CompositeAlphaFlags{
		khr_surface.CompositeAlphaOpaque,
		khr_surface.CompositeAlphaPreMultiplied,
		khr_surface.CompositeAlphaPostMultiplied,
		khr_surface.CompositeAlphaInherit,
	}

	for _, mode := range preferred {
		if supported&mode != 0 {
			return mode
		}
	}
	return khr_surface.CompositeAlphaOpaque
}

// chooseImageCount asks for one image more than the frames in flight so acquisition
// never blocks on the pacer, clamped to the surface's limits.
func chooseImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	count := frame.FramesInFlight + 1
	if count < capabilities.MinImageCount {
		count = capabilities.MinImageCount
	}
	if capabilities.MaxImageCount > 0 && count > capabilities.MaxImageCount {
		count = capabilities.MaxImageCount
	}
	return count
}

// NewSwapchain negotiates a format and present mode with the surface and wraps
// every swapchain image with a storage-capable view.
func NewSwapchain(
	logger *slog.Logger,
	device core1_0.Device,
	physicalDevice core1_0.PhysicalDevice,
	surface khr_surface.Surface,
	allocationCallbacks *driver.AllocationCallbacks,
) (*Swapchain, error) {
	capabilities, _, err := surface.PhysicalDeviceSurfaceCapabilities(physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query surface capabilities")
	}

	formats, _, err := surface.PhysicalDeviceSurfaceFormats(physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query surface formats")
	}
	if len(formats) == 0 {
		return nil, errors.New("surface offers no formats")
	}

	surfaceFormat := chooseSurfaceFormat(formats)
	extent := capabilities.CurrentExtent

	extension := khr_swapchain.CreateExtensionFromDevice(device)

	handle, _, err := extension.CreateSwapchain(device, allocationCallbacks, khr_swapchain.SwapchainCreateInfo{
		Surface: surface,

		MinImageCount:    chooseImageCount(capabilities),
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageStorage | core1_0.ImageUsageTransferDst,

		ImageSharingMode: core1_0.SharingModeExclusive,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: chooseCompositeAlpha(capabilities.SupportedCompositeAlpha),
		// FIFO is the one mode every implementation carries
		PresentMode: khr_surface.PresentModeFIFO,
		Clipped:     true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create swapchain")
	}

	swapchain := &Swapchain{
		logger:              logger,
		extension:           extension,
		handle:              handle,
		format:              surfaceFormat.Format,
		extent:              extent,
		allocationCallbacks: allocationCallbacks,
	}

	imageHandles, _, err := handle.SwapchainImages()
	if err != nil {
		swapchain.Destroy()
		return nil, errors.Wrap(err, "failed to retrieve swapchain images")
	}

	for _, imageHandle := range imageHandles {
		image := resource.SwapchainImage(imageHandle, surfaceFormat.Format, extent)

		view, _, err := resource.NewImageView(device, allocationCallbacks, image, resource.ViewRequest{})
		if err != nil {
			swapchain.Destroy()
			return nil, errors.Wrap(err, "failed to create swapchain image view")
		}

		swapchain.images = append(swapchain.images, image)
		swapchain.views = append(swapchain.views, view)
	}

	logger.LogAttrs(context.Background(), slog.LevelInfo, "created swapchain",
		slog.Int("imageCount", len(swapchain.images)),
		slog.String("format", surfaceFormat.Format.String()),
		slog.Int("width", extent.Width),
		slog.Int("height", extent.Height),
	)
	return swapchain, nil
}

func (s *Swapchain) Extent() core1_0.Extent2D       { return s.extent }
func (s *Swapchain) Format() core1_0.Format         { return s.format }
func (s *Swapchain) ImageCount() int                { return len(s.images) }
func (s *Swapchain) Image(index int) *resource.Image {
	return s.images[index]
}
func (s *Swapchain) View(index int) *resource.ImageView {
	return s.views[index]
}

// Acquire blocks until the implementation hands over an image, signalling the
// semaphore when the image is actually ready. An out-of-date or suboptimal
// swapchain is reported but still usable for this frame.
func (s *Swapchain) Acquire(semaphore core1_0.Semaphore) (int, error) {
	imageIndex, res, err := s.handle.AcquireNextImage(common.NoTimeout, semaphore, nil)
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, "swapchain needs recreation",
			slog.String("result", res.String()),
		)
		if res == khr_swapchain.VKSuboptimal {
			return imageIndex, nil
		}
		return 0, errors.New("swapchain out of date")
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to acquire swapchain image")
	}
	return imageIndex, nil
}

// Present queues the image for display once the semaphore signals.
func (s *Swapchain) Present(queue core1_0.Queue, imageIndex int, waitSemaphore core1_0.Semaphore) error {
	res, err := s.extension.QueuePresent(queue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{waitSemaphore},
		Swapchains:     []khr_swapchain.Swapchain{s.handle},
		ImageIndices:   []int{imageIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, "presented to stale swapchain",
			slog.String("result", res.String()),
		)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to present swapchain image")
	}
	return nil
}

func (s *Swapchain) Destroy() {
	for _, view := range s.views {
		view.Destroy()
	}
	s.views = nil
	// Swapchain-owned images have no memory or handle of their own to destroy
	s.images = nil

	if s.handle != nil {
		s.handle.Destroy(s.allocationCallbacks)
		s.handle = nil
	}
}
