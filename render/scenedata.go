package render

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/kilnrender/kiln/command"
	"github.com/kilnrender/kiln/descriptor"
	"github.com/kilnrender/kiln/memory"
	"github.com/kilnrender/kiln/resource"
	"github.com/kilnrender/kiln/scene"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
)

// drawRecord is the per-draw layout the shaders consume: world transform, world-space
// bounding sphere, and the mesh table index.
type drawRecord struct {
	Transform    mgl32.Mat4
	SphereCenter mgl32.Vec3
	SphereRadius float32
	MeshIndex    uint32
	_            [3]uint32
}

// gpuBytes serializes fixed-size values little-endian, the byte order the device
// reads storage buffers with.
func gpuBytes(data any) ([]byte, error) {
	var blob bytes.Buffer
	err := binary.Write(&blob, binary.LittleEndian, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize scene table")
	}
	return blob.Bytes(), nil
}

// SceneData is the device-resident form of a scene: one storage buffer per table,
// one image per texture, and the shared sampler. Everything is uploaded once and
// stays immutable for the renderer's lifetime.
type SceneData struct {
	vertices    *resource.Buffer
	indices     *resource.Buffer
	meshes      *resource.Buffer
	meshlets    *resource.Buffer
	meshletData *resource.Buffer
	materials   *resource.Buffer
	draws       *resource.Buffer

	textures []*resource.Image
	views    []*resource.ImageView
	sampler  *resource.Sampler

	light     scene.DirectionalLight
	drawCount int
}

// sceneUploadSize is the scratch arena size the scene's one-shot upload needs: every
// table and mip byte, padded for per-push bookkeeping.
func sceneUploadSize(s *scene.Scene) int {
	size := len(s.Vertices)*32 + len(s.Indices)*4 + len(s.Meshes)*256 +
		len(s.Meshlets)*32 + len(s.MeshletData)*4 + len(s.Materials)*64 +
		len(s.Instances)*128
	for _, texture := range s.Textures {
		for _, mip := range texture.Mips {
			size += len(mip)
		}
	}
	return size + 64*1024
}

// NewSceneData creates and fills the device-side scene. The uploader records the
// transfer commands; the caller owns submitting them and destroying the scratch
// arena afterwards.
func NewSceneData(
	device core1_0.Device,
	allocationCallbacks *driver.AllocationCallbacks,
	allocator *memory.Allocator,
	uploader *command.Uploader,
	s *scene.Scene,
) (*SceneData, error) {
	err := s.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "refusing to upload an inconsistent scene")
	}
	if len(s.Vertices) == 0 {
		return nil, errors.New("scene has no geometry")
	}

	data := &SceneData{light: s.DirectionalLight}

	uploadTable := func(kind resource.BufferKind, table any) (*resource.Buffer, error) {
		blob, err := gpuBytes(table)
		if err != nil {
			return nil, err
		}

		size := len(blob)
		if size == 0 {
			// Empty tables still get a minimal valid buffer to take an address of
			size = 4
		}

		buffer, _, err := resource.NewBuffer(device, allocationCallbacks, resource.BufferRequest{
			Size: size,
			Kind: kind,
		})
		if err != nil {
			return nil, err
		}

		_, err = buffer.BindMemory(allocator)
		if err != nil {
			buffer.Destroy()
			return nil, err
		}

		err = uploader.BufferData(buffer, 0, blob)
		if err != nil {
			buffer.Destroy()
			return nil, err
		}
		return buffer, nil
	}

	draws := s.FlattenInstances()
	drawRecords := make([]drawRecord, 0, len(draws))
	for _, draw := range draws {
		drawRecords = append(drawRecords, drawRecord{
			Transform:    draw.Transform,
			SphereCenter: draw.BoundingSphere.Center,
			SphereRadius: draw.BoundingSphere.Radius,
			MeshIndex:    draw.MeshIndex,
		})
	}
	data.drawCount = len(drawRecords)

	tables := []struct {
		dst   **resource.Buffer
		kind  resource.BufferKind
		table any
	}{
		{&data.vertices, resource.BufferKindStorage, s.Vertices},
		{&data.indices, resource.BufferKindIndex, s.Indices},
		{&data.meshes, resource.BufferKindStorage, s.Meshes},
		{&data.meshlets, resource.BufferKindStorage, s.Meshlets},
		{&data.meshletData, resource.BufferKindStorage, s.MeshletData},
		{&data.materials, resource.BufferKindStorage, s.Materials},
		{&data.draws, resource.BufferKindStorage, drawRecords},
	}
	for _, table := range tables {
		buffer, err := uploadTable(table.kind, table.table)
		if err != nil {
			data.Destroy()
			return nil, err
		}
		*table.dst = buffer
	}

	maxMips := 1
	for _, texture := range s.Textures {
		image, _, err := resource.NewImage(device, allocationCallbacks, resource.ImageRequest{
			Format: texture.Kind.Format(),
			Extent: core1_0.Extent3D{
				Width:  int(texture.Width),
				Height: int(texture.Height),
				Depth:  1,
			},
			MipLevels: len(texture.Mips),
			Usage:     core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst,
		})
		if err != nil {
			data.Destroy()
			return nil, err
		}
		data.textures = append(data.textures, image)

		_, err = image.BindMemory(allocator)
		if err != nil {
			data.Destroy()
			return nil, err
		}

		err = uploader.ImageData(image, texture.Mips)
		if err != nil {
			data.Destroy()
			return nil, err
		}

		view, _, err := resource.NewImageView(device, allocationCallbacks, image, resource.ViewRequest{})
		if err != nil {
			data.Destroy()
			return nil, err
		}
		data.views = append(data.views, view)

		if len(texture.Mips) > maxMips {
			maxMips = len(texture.Mips)
		}
	}

	sampler, _, err := resource.NewSampler(device, allocationCallbacks, maxMips)
	if err != nil {
		data.Destroy()
		return nil, err
	}
	data.sampler = sampler

	return data, nil
}

// DeclareShaderAccess records the transitions that make every uploaded resource
// readable by compute. The caller flushes them with the next pass.
func (d *SceneData) DeclareShaderAccess(graph *command.Graph) {
	for _, buffer := range d.buffers() {
		graph.AccessBuffer(buffer, command.AccessComputeRead)
	}
	for _, texture := range d.textures {
		graph.AccessImage(texture, command.AccessComputeRead, core1_0.ImageLayoutShaderReadOnlyOptimal)
	}
}

// Region packs the scene's shader-visible header: the address of every table, the
// light, and the draw and texture counts.
func (d *SceneData) Region(resolver AddressResolver) (*descriptor.Region, error) {
	region := &descriptor.Region{}

	for _, buffer := range d.buffers() {
		address, err := resolver.BufferAddress(buffer)
		if err != nil {
			return nil, err
		}
		region.PutAddress(address)
	}

	for _, value := range d.light.Direction {
		region.PutFloat32(value)
	}
	for _, value := range d.light.Irradiance {
		region.PutFloat32(value)
	}

	region.PutUint32(uint32(d.drawCount))
	region.PutUint32(uint32(len(d.textures)))
	region.PutUint32(0)
	region.PutUint32(0)
	return region, nil
}

func (d *SceneData) Views() []*resource.ImageView { return d.views }
func (d *SceneData) Sampler() *resource.Sampler   { return d.sampler }
func (d *SceneData) DrawCount() int               { return d.drawCount }

func (d *SceneData) buffers() []*resource.Buffer {
	return []*resource.Buffer{
		d.vertices, d.indices, d.meshes, d.meshlets, d.meshletData, d.materials, d.draws,
	}
}

func (d *SceneData) Destroy() {
	for _, view := range d.views {
		view.Destroy()
	}
	d.views = nil
	for _, texture := range d.textures {
		texture.Destroy()
	}
	d.textures = nil

	for _, buffer := range d.buffers() {
		if buffer != nil {
			buffer.Destroy()
		}
	}
	d.vertices, d.indices, d.meshes = nil, nil, nil
	d.meshlets, d.meshletData, d.materials, d.draws = nil, nil, nil, nil

	if d.sampler != nil {
		d.sampler.Destroy()
		d.sampler = nil
	}
}
