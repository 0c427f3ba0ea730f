package render

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/kilnrender/kiln/command"
	"github.com/kilnrender/kiln/descriptor"
	"github.com/kilnrender/kiln/frame"
	"github.com/kilnrender/kiln/memory"
	"github.com/kilnrender/kiln/resource"
	"github.com/kilnrender/kiln/scene"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"golang.org/x/exp/slog"
)

// Renderer ties the whole stack together: device setup, a one-shot scene upload,
// and the per-frame compute pass that shades directly into the swapchain.
type Renderer struct {
	logger  *slog.Logger
	options Options

	instance  core1_0.Instance
	messenger ext_debug_utils.DebugUtilsMessenger
	surface   khr_surface.Surface
	device    core1_0.Device
	queue     core1_0.Queue

	allocator *memory.Allocator
	swapchain *Swapchain
	graph     *command.Graph

	sceneData        *SceneData
	descriptorBuffer *resource.Buffer
	layout           *descriptor.Layout
	pool             *descriptor.Pool
	shader           *Shader
	pipeline         *Pipeline
	pass             *Pass

	recorders frame.PerFrame[*command.Recorder]
	pacer     *frame.Pacer

	extent      core1_0.Extent2D
	frameNumber uint32
}

// shadePushSize is the push constant block of the shade pass: width, height, frame
// number, and one pad word.
const shadePushSize = 16

// NewRenderer builds the full stack for one scene and one shading shader. On any
// failure everything already constructed is torn down before returning.
func NewRenderer(
	logger *slog.Logger,
	surfaceSource SurfaceSource,
	sceneContent *scene.Scene,
	shadeShader []byte,
	options Options,
) (*Renderer, error) {
	loader, err := core.CreateSystemLoader()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load the system driver")
	}

	r := &Renderer{
		logger:  logger,
		options: options,
	}

	r.instance, r.messenger, err = createInstance(logger, loader, surfaceSource, options)
	if err != nil {
		return nil, err
	}

	r.surface, _, err = surfaceSource.CreateSurface(r.instance)
	if err != nil {
		r.Destroy()
		return nil, errors.Wrap(err, "failed to create surface")
	}

	selection, err := selectPhysicalDevice(logger, r.instance, r.surface)
	if err != nil {
		r.Destroy()
		return nil, err
	}

	r.device, r.queue, err = createDevice(selection, options.AllocationCallbacks)
	if err != nil {
		r.Destroy()
		return nil, err
	}

	r.allocator, err = memory.New(logger, r.device, selection.physicalDevice.MemoryProperties(), memory.CreateOptions{
		BufferDeviceAddress: true,
		AllocationCallbacks: options.AllocationCallbacks,
	})
	if err != nil {
		r.Destroy()
		return nil, err
	}

	r.swapchain, err = NewSwapchain(logger, r.device, selection.physicalDevice, r.surface, options.AllocationCallbacks)
	if err != nil {
		r.Destroy()
		return nil, err
	}
	r.extent = r.swapchain.Extent()

	r.graph = command.NewGraph(logger)

	err = r.uploadScene(selection, sceneContent, shadeShader)
	if err != nil {
		r.Destroy()
		return nil, err
	}

	for slot := 0; slot < frame.FramesInFlight; slot++ {
		recorder, _, err := command.NewRecorder(r.device, options.AllocationCallbacks, selection.queueFamily)
		if err != nil {
			r.Destroy()
			return nil, err
		}
		r.recorders.Set(frame.Index(slot), recorder)
	}

	r.pacer, _, err = frame.NewPacer(logger, r.device, options.AllocationCallbacks)
	if err != nil {
		r.Destroy()
		return nil, err
	}

	logger.LogAttrs(context.Background(), slog.LevelInfo, "renderer ready",
		slog.Int("draws", r.sceneData.DrawCount()),
		slog.Int("width", r.extent.Width),
		slog.Int("height", r.extent.Height),
	)
	return r, nil
}

// uploadScene runs the one-shot upload: scene tables and textures stream through a
// scratch arena, descriptor regions are packed per swapchain image, and everything
// is transitioned for compute before the scratch is torn down.
func (r *Renderer) uploadScene(selection deviceSelection, sceneContent *scene.Scene, shadeShader []byte) error {
	recorder, _, err := command.NewRecorder(r.device, r.options.AllocationCallbacks, selection.queueFamily)
	if err != nil {
		return err
	}
	defer recorder.Destroy()

	scratch, _, err := resource.NewScratch(r.device, r.options.AllocationCallbacks, r.allocator, sceneUploadSize(sceneContent))
	if err != nil {
		return err
	}
	defer func() {
		if scratch != nil {
			scratch.Destroy()
		}
	}()

	_, err = recorder.Begin()
	if err != nil {
		return err
	}

	uploader := command.NewUploader(r.graph, recorder.Commands(), scratch)

	r.sceneData, err = NewSceneData(r.device, r.options.AllocationCallbacks, r.allocator, uploader, sceneContent)
	if err != nil {
		return err
	}

	// Transitions for every uploaded resource ride the last upload pass boundary
	r.sceneData.DeclareShaderAccess(r.graph)
	err = r.graph.BeginPass("upload transitions", recorder.Commands())
	if err != nil {
		return err
	}

	_, err = recorder.End()
	if err != nil {
		return err
	}

	_, err = r.queue.Submit(nil, []core1_0.SubmitInfo{
		{CommandBuffers: []core1_0.CommandBuffer{recorder.CommandBuffer()}},
	})
	if err != nil {
		return errors.Wrap(err, "failed to submit the scene upload")
	}

	_, err = r.device.WaitIdle()
	if err != nil {
		return errors.Wrap(err, "failed to wait for the scene upload")
	}

	err = scratch.Destroy()
	scratch = nil
	if err != nil {
		return err
	}

	return r.buildShadePass(selection, shadeShader)
}

// buildShadePass compiles the shading pipeline and packs one descriptor region per
// swapchain image, in image-index order.
func (r *Renderer) buildShadePass(selection deviceSelection, shadeShader []byte) error {
	imageCount := r.swapchain.ImageCount()

	var err error
	r.layout, _, err = descriptor.NewLayout(r.device, r.options.AllocationCallbacks, []descriptor.Binding{
		{Binding: 0, Type: core1_0.DescriptorTypeStorageBufferDynamic, Stages: core1_0.StageCompute},
		{Binding: 1, Type: core1_0.DescriptorTypeStorageImage, Stages: core1_0.StageCompute},
		{Binding: 2, Type: core1_0.DescriptorTypeCombinedImageSampler, Count: len(r.sceneData.Views()), Stages: core1_0.StageCompute},
	})
	if err != nil {
		return err
	}

	r.shader, err = NewShader(r.device, r.options.AllocationCallbacks, shadeShader)
	if err != nil {
		return err
	}

	r.pipeline, err = NewPipeline(r.device, r.options.AllocationCallbacks, r.layout, r.shader, shadePushSize)
	if err != nil {
		return err
	}

	resolver := newDeviceAddressResolver(r.device)
	packer := descriptor.NewPacker(uint(selection.properties.Limits.MinStorageBufferOffsetAlignment))

	offsets := make([]int, imageCount)
	regionLen := 0
	for imageIndex := 0; imageIndex < imageCount; imageIndex++ {
		region, err := r.sceneData.Region(resolver)
		if err != nil {
			return err
		}
		offsets[imageIndex] = region.Pack(packer)
		regionLen = region.Len()
	}

	r.descriptorBuffer, _, err = resource.NewBuffer(r.device, r.options.AllocationCallbacks, resource.BufferRequest{
		Size: packer.Len(),
		Kind: resource.BufferKindDescriptor,
	})
	if err != nil {
		return err
	}
	_, err = r.descriptorBuffer.BindMemory(r.allocator)
	if err != nil {
		return err
	}

	mapped, err := resource.NewMappedMemory(r.descriptorBuffer)
	if err != nil {
		return err
	}
	err = mapped.Write(0, packer.Bytes())
	if err != nil {
		mapped.Release()
		return err
	}
	err = mapped.Release()
	if err != nil {
		return err
	}

	r.pool, _, err = descriptor.NewPool(r.device, r.options.AllocationCallbacks, r.layout, imageCount)
	if err != nil {
		return err
	}

	layouts := make([]*descriptor.Layout, imageCount)
	for i := range layouts {
		layouts[i] = r.layout
	}
	sets, _, err := r.pool.Allocate(layouts)
	if err != nil {
		return err
	}

	for imageIndex, set := range sets {
		writer := descriptor.NewSetWriter(set).
			Buffer(0, core1_0.DescriptorTypeStorageBufferDynamic, r.descriptorBuffer, 0, regionLen).
			StorageImage(1, r.swapchain.View(imageIndex))
		if len(r.sceneData.Views()) > 0 {
			writer.SampledImages(2, r.sceneData.Views(), r.sceneData.Sampler())
		}

		err = writer.Apply(r.device)
		if err != nil {
			return err
		}
	}

	r.pass = NewPass("shade", r.pipeline, sets, offsets)
	return nil
}

// RenderFrame records and submits one frame: acquire, shade the swapchain image with
// one dispatch, hand it to present.
func (r *Renderer) RenderFrame() error {
	index, _, err := r.pacer.BeginFrame()
	if err != nil {
		return err
	}

	imageIndex, err := r.swapchain.Acquire(r.pacer.AcquireSemaphore(index))
	if err != nil {
		r.pacer.AbortFrame()
		return err
	}

	recorder := r.recorders.Get(index)
	_, err = recorder.Reset()
	if err != nil {
		r.pacer.AbortFrame()
		return err
	}
	_, err = recorder.Begin()
	if err != nil {
		r.pacer.AbortFrame()
		return err
	}

	image := r.swapchain.Image(imageIndex)
	r.graph.AccessImage(image, command.AccessComputeWrite, core1_0.ImageLayoutGeneral)

	push := make([]byte, 0, shadePushSize)
	push = binary.LittleEndian.AppendUint32(push, uint32(r.extent.Width))
	push = binary.LittleEndian.AppendUint32(push, uint32(r.extent.Height))
	push = binary.LittleEndian.AppendUint32(push, r.frameNumber)
	push = binary.LittleEndian.AppendUint32(push, 0)

	groupsX, groupsY, groupsZ := dispatchGroups(r.extent)
	err = r.pass.Record(r.graph, recorder.Commands(), imageIndex, push, groupsX, groupsY, groupsZ)
	if err != nil {
		r.pacer.AbortFrame()
		return err
	}

	// Hand the image to the presentation engine
	r.graph.AccessImage(image, command.AccessPresent, khr_swapchain.ImageLayoutPresentSrc)
	err = r.graph.BeginPass("present transition", recorder.Commands())
	if err != nil {
		r.pacer.AbortFrame()
		return err
	}

	_, err = recorder.End()
	if err != nil {
		r.pacer.AbortFrame()
		return err
	}

	_, err = r.pacer.Submit(r.queue, recorder.CommandBuffer(), core1_0.PipelineStageComputeShader)
	if err != nil {
		return err
	}

	presentErr := r.swapchain.Present(r.queue, imageIndex, r.pacer.ReleaseSemaphore(index))

	// The slot was submitted either way, so it must still drain and go idle
	_, err = r.pacer.EndFrame()
	if presentErr != nil {
		return presentErr
	}
	if err != nil {
		return err
	}

	r.frameNumber++
	return nil
}

// Destroy tears everything down in reverse creation order. Safe to call on a
// partially constructed renderer.
func (r *Renderer) Destroy() {
	if r.device != nil {
		r.device.WaitIdle()
	}

	if r.pacer != nil {
		r.pacer.Destroy()
		r.pacer = nil
	}
	r.recorders.Each(func(index frame.Index, recorder *command.Recorder) {
		if recorder != nil {
			recorder.Destroy()
		}
	})
	r.recorders = frame.PerFrame[*command.Recorder]{}

	r.pass = nil
	if r.pool != nil {
		r.pool.Destroy()
		r.pool = nil
	}
	if r.descriptorBuffer != nil {
		r.descriptorBuffer.Destroy()
		r.descriptorBuffer = nil
	}
	if r.pipeline != nil {
		r.pipeline.Destroy(r.options.AllocationCallbacks)
		r.pipeline = nil
	}
	if r.shader != nil {
		r.shader.Destroy(r.options.AllocationCallbacks)
		r.shader = nil
	}
	if r.layout != nil {
		r.layout.Destroy()
		r.layout = nil
	}
	if r.sceneData != nil {
		r.sceneData.Destroy()
		r.sceneData = nil
	}
	if r.swapchain != nil {
		r.swapchain.Destroy()
		r.swapchain = nil
	}
	if r.allocator != nil {
		r.allocator.Destroy()
		r.allocator = nil
	}
	if r.device != nil {
		r.device.Destroy(r.options.AllocationCallbacks)
		r.device = nil
	}
	if r.surface != nil {
		r.surface.Destroy(r.options.AllocationCallbacks)
		r.surface = nil
	}
	if r.messenger != nil {
		r.messenger.Destroy(r.options.AllocationCallbacks)
		r.messenger = nil
	}
	if r.instance != nil {
		r.instance.Destroy(r.options.AllocationCallbacks)
		r.instance = nil
	}
}
