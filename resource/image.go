package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/memory"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// Image owns a core1_0.Image and the memory slice backing it. Swapchain images are
// wrapped with SwapchainImage instead: they carry no allocator-owned memory and are
// destroyed by the swapchain, not by this type.
type Image struct {
	handle      core1_0.Image
	format      core1_0.Format
	extent      core1_0.Extent3D
	mipLevels   int
	arrayLayers int
	usage       core1_0.ImageUsageFlags

	slice          *memory.Slice
	swapchainOwned bool

	allocationCallbacks *driver.AllocationCallbacks
}

// NewImage creates the image handle. The image is unusable until BindMemory has
// attached a backing slice.
func NewImage(device core1_0.Device, allocationCallbacks *driver.AllocationCallbacks, request ImageRequest) (*Image, common.VkResult, error) {
	mipLevels := request.MipLevels
	if mipLevels == 0 {
		mipLevels = 1
	}
	arrayLayers := request.ArrayLayers
	if arrayLayers == 0 {
		arrayLayers = 1
	}

	var flags core1_0.ImageCreateFlags
	if arrayLayers == 6 {
		flags |= core1_0.ImageCreateCubeCompatible
	}

	handle, res, err := device.CreateImage(allocationCallbacks, core1_0.ImageCreateInfo{
		Flags:              flags,
		ImageType:          core1_0.ImageType2D,
		Format:             request.Format,
		Extent:             request.Extent,
		MipLevels:          mipLevels,
		ArrayLayers:        arrayLayers,
		Samples:            core1_0.Samples1,
		Tiling:             core1_0.ImageTilingOptimal,
		Usage:              request.Usage,
		SharingMode:        sharingMode(len(request.QueueFamilyIndices)),
		QueueFamilyIndices: request.QueueFamilyIndices,
		InitialLayout:      core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return nil, res, errors.Wrapf(err, "failed to create a %dx%d image", request.Extent.Width, request.Extent.Height)
	}

	return &Image{
		handle:              handle,
		format:              request.Format,
		extent:              request.Extent,
		mipLevels:           mipLevels,
		arrayLayers:         arrayLayers,
		usage:               request.Usage,
		allocationCallbacks: allocationCallbacks,
	}, res, nil
}

// SwapchainImage wraps an image owned by the swapchain.
func SwapchainImage(handle core1_0.Image, format core1_0.Format, extent core1_0.Extent2D) *Image {
	return &Image{
		handle: handle,
		format: format,
		extent: core1_0.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
		mipLevels:      1,
		arrayLayers:    1,
		swapchainOwned: true,
	}
}

// BindMemory allocates a device-local slice matching the image's requirements and
// binds the image to it.
func (i *Image) BindMemory(allocator *memory.Allocator) (common.VkResult, error) {
	if i.swapchainOwned {
		panic("attempted to bind allocator memory to a swapchain image")
	}
	if i.slice != nil {
		panic("attempted to bind memory to an image twice")
	}

	slice, res, err := allocator.AllocForImage(i.handle, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return res, err
	}

	i.slice = slice
	return res, nil
}

func (i *Image) Handle() core1_0.Image     { return i.handle }
func (i *Image) Format() core1_0.Format    { return i.format }
func (i *Image) Extent() core1_0.Extent3D  { return i.extent }
func (i *Image) MipLevels() int            { return i.mipLevels }
func (i *Image) ArrayLayers() int          { return i.arrayLayers }
func (i *Image) IsSwapchainOwned() bool    { return i.swapchainOwned }

// AspectMask derives the aspect from the image's usage: depth for depth-stencil
// attachments, color for everything else.
func (i *Image) AspectMask() core1_0.ImageAspectFlags {
	if i.usage&core1_0.ImageUsageDepthStencilAttachment != 0 {
		return core1_0.ImageAspectDepth
	}
	return core1_0.ImageAspectColor
}

// FullSubresourceRange covers every mip level and array layer of the image.
func (i *Image) FullSubresourceRange() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     i.AspectMask(),
		BaseMipLevel:   0,
		LevelCount:     i.mipLevels,
		BaseArrayLayer: 0,
		LayerCount:     i.arrayLayers,
	}
}

// Destroy releases the image handle and its reference on the backing memory.
// Swapchain-owned images only drop bookkeeping; their handles belong to the swapchain.
func (i *Image) Destroy() {
	if !i.swapchainOwned {
		i.handle.Destroy(i.allocationCallbacks)
	}
	if i.slice != nil {
		i.slice.Release()
		i.slice = nil
	}
}

// ImageView is a mip/layer sub-range view into an Image. The view must be destroyed
// before the image it was created from.
type ImageView struct {
	handle core1_0.ImageView
	image  *Image

	baseMipLevel int
	levelCount   int

	allocationCallbacks *driver.AllocationCallbacks
}

// ViewRequest selects the sub-resource range of an image view. A zero LevelCount or
// LayerCount extends the range to the end of the image.
type ViewRequest struct {
	BaseMipLevel   int
	LevelCount     int
	BaseArrayLayer int
	LayerCount     int
}

// NewImageView creates a view over the requested mip and layer range. Out-of-range
// requests are programmer errors and panic.
func NewImageView(device core1_0.Device, allocationCallbacks *driver.AllocationCallbacks, image *Image, request ViewRequest) (*ImageView, common.VkResult, error) {
	levelCount := request.LevelCount
	if levelCount == 0 {
		levelCount = image.mipLevels - request.BaseMipLevel
	}
	layerCount := request.LayerCount
	if layerCount == 0 {
		layerCount = image.arrayLayers - request.BaseArrayLayer
	}

	if request.BaseMipLevel < 0 || request.BaseMipLevel+levelCount > image.mipLevels {
		panic("image view mip range lies outside the image")
	}
	if request.BaseArrayLayer < 0 || request.BaseArrayLayer+layerCount > image.arrayLayers {
		panic("image view layer range lies outside the image")
	}

	viewType := core1_0.ImageViewType2D
	if image.arrayLayers == 6 {
		viewType = core1_0.ImageViewTypeCube
	}

	handle, res, err := device.CreateImageView(allocationCallbacks, core1_0.ImageViewCreateInfo{
		Image:    image.handle,
		ViewType: viewType,
		Format:   image.format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     image.AspectMask(),
			BaseMipLevel:   request.BaseMipLevel,
			LevelCount:     levelCount,
			BaseArrayLayer: request.BaseArrayLayer,
			LayerCount:     layerCount,
		},
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "failed to create image view")
	}

	return &ImageView{
		handle:              handle,
		image:               image,
		baseMipLevel:        request.BaseMipLevel,
		levelCount:          levelCount,
		allocationCallbacks: allocationCallbacks,
	}, res, nil
}

func (v *ImageView) Handle() core1_0.ImageView { return v.handle }
func (v *ImageView) Image() *Image             { return v.image }

func (v *ImageView) Destroy() {
	v.handle.Destroy(v.allocationCallbacks)
}
