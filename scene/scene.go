package scene

import (
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// MaxLods is the size of every mesh's level-of-detail table.
const MaxLods = 8

// NoMesh marks an instance that only groups children and carries no mesh itself.
const NoMesh int32 = -1

// DirectionalLight is the scene's single sun-style light. Both vectors carry a
// padding component so they map directly onto shader-side vec4s.
type DirectionalLight struct {
	Direction  mgl32.Vec4
	Irradiance mgl32.Vec4
}

func DefaultDirectionalLight() DirectionalLight {
	return DirectionalLight{
		Direction:  mgl32.Vec4{0, 1, 0, 1},
		Irradiance: mgl32.Vec4{1, 1, 1, 1},
	}
}

// Transform is a decomposed scale/rotation/translation triple.
type Transform struct {
	Scale       mgl32.Vec4
	Rotation    mgl32.Quat
	Translation mgl32.Vec4
}

func IdentityTransform() Transform {
	return Transform{
		Scale:       mgl32.Vec4{1, 1, 1, 1},
		Rotation:    mgl32.QuatIdent(),
		Translation: mgl32.Vec4{0, 0, 0, 1},
	}
}

// Matrix composes the transform as translate * rotate * scale.
func (t Transform) Matrix() mgl32.Mat4 {
	translate := mgl32.Translate3D(t.Translation.X(), t.Translation.Y(), t.Translation.Z())
	rotate := t.Rotation.Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	return translate.Mul4(rotate).Mul4(scale)
}

// MaxScale is the largest absolute scale component, used to grow bounding spheres
// conservatively under non-uniform scaling.
func (t Transform) MaxScale() float32 {
	max := t.Scale.X()
	if max < 0 {
		max = -max
	}
	for _, component := range []float32{t.Scale.Y(), t.Scale.Z()} {
		if component < 0 {
			component = -component
		}
		if component > max {
			max = component
		}
	}
	return max
}

type BoundingSphere struct {
	Center mgl32.Vec3
	Radius float32
}

// Transformed moves the sphere through a transform, scaling the radius by the
// largest scale component.
func (s BoundingSphere) Transformed(transform Transform) BoundingSphere {
	center := transform.Matrix().Mul4x1(s.Center.Vec4(1))
	return BoundingSphere{
		Center: center.Vec3(),
		Radius: transform.MaxScale() * s.Radius,
	}
}

// Meshlet is a small cluster of triangles with its own bounds and backface cone,
// used for fine-grained culling.
type Meshlet struct {
	BoundingSphere BoundingSphere
	ConeAxis       [3]int8
	ConeCutoff     int8
	DataOffset     uint32
	VertexCount    uint8
	TriangleCount  uint8
}

// Lod is one entry in a mesh's level-of-detail table.
type Lod struct {
	IndexOffset   uint32
	IndexCount    uint32
	MeshletOffset uint32
	MeshletCount  uint32
}

type Mesh struct {
	BoundingSphere BoundingSphere
	VertexOffset   uint32
	VertexCount    uint32
	Material       uint32
	LodCount       uint32
	Lods           [MaxLods]Lod
}

type Model struct {
	MeshIndices []uint32
}

// Instance is one node of the scene's transform hierarchy. MeshIndex is NoMesh for
// pure grouping nodes.
type Instance struct {
	Transform Transform
	MeshIndex int32
	Children  []Instance
}

type TextureKind uint8

const (
	TextureKindAlbedo TextureKind = iota
	TextureKindNormal
	TextureKindSpecular
	TextureKindEmissive
)

var textureKindNames = map[TextureKind]string{
	TextureKindAlbedo:   "Albedo",
	TextureKindNormal:   "Normal",
	TextureKindSpecular: "Specular",
	TextureKindEmissive: "Emissive",
}

func (k TextureKind) String() string {
	name, ok := textureKindNames[k]
	if !ok {
		return "Unknown"
	}
	return name
}

// Format is the block-compressed device format texture data of this kind is stored
// in: color data as BC1 with sRGB decoding, two-channel data as BC5.
func (k TextureKind) Format() core1_0.Format {
	switch k {
	case TextureKindAlbedo, TextureKindEmissive:
		return core1_0.FormatBC1_RGBAsRGB
	case TextureKindNormal, TextureKindSpecular:
		return core1_0.FormatBC5_UnsignedNormalized
	}
	panic("unknown texture kind " + k.String())
}

// Texture is pre-compressed image data, one byte slice per mip level, finest first.
type Texture struct {
	Kind   TextureKind
	Width  uint32
	Height uint32
	Mips   [][]byte
}

// Material references its textures by index into the scene's texture table. The
// padding field keeps the struct at a 16-byte multiple for direct upload.
type Material struct {
	AlbedoTexture   uint32
	NormalTexture   uint32
	SpecularTexture uint32
	EmissiveTexture uint32
	BaseColor       mgl32.Vec4
	Emissive        mgl32.Vec4
	Metallic        float32
	Roughness       float32
	Ior             float32
	Padding         uint32
}

// TangentFrame is a quantized quaternion encoding the vertex's normal and tangent
// basis in 8 bytes.
type TangentFrame [4]int16

// Vertex is the quantized on-device vertex layout: half-precision texcoords,
// snorm16 positions relative to the mesh bounding sphere, and a packed tangent
// frame. 20 bytes per vertex.
type Vertex struct {
	Texcoord     [2]uint16
	Position     [3]int16
	Material     uint16
	TangentFrame TangentFrame
}

// Scene is the render core's read-only input: flat arrays of geometry, materials,
// and textures plus an instance hierarchy. It arrives fully built from the asset
// pipeline or a cache file.
type Scene struct {
	DirectionalLight DirectionalLight
	Vertices         []Vertex
	Indices          []uint32
	Textures         []Texture
	Materials        []Material
	Meshes           []Mesh
	Models           []Model
	Instances        []Instance
	Meshlets         []Meshlet
	MeshletData      []uint32
}

func (s *Scene) AddTexture(texture Texture) uint32 {
	s.Textures = append(s.Textures, texture)
	return uint32(len(s.Textures) - 1)
}

func (s *Scene) AddMaterial(material Material) uint32 {
	s.Materials = append(s.Materials, material)
	return uint32(len(s.Materials) - 1)
}

func (s *Scene) AddMesh(mesh Mesh) uint32 {
	s.Meshes = append(s.Meshes, mesh)
	return uint32(len(s.Meshes) - 1)
}

// Validate checks the cross-references between the scene's tables.
func (s *Scene) Validate() error {
	for i, material := range s.Materials {
		for _, texture := range []uint32{material.AlbedoTexture, material.NormalTexture, material.SpecularTexture, material.EmissiveTexture} {
			if int(texture) >= len(s.Textures) {
				return errors.Newf("material %d references texture %d, but the scene has %d textures", i, texture, len(s.Textures))
			}
		}
	}

	for i, mesh := range s.Meshes {
		if int(mesh.Material) >= len(s.Materials) {
			return errors.Newf("mesh %d references material %d, but the scene has %d materials", i, mesh.Material, len(s.Materials))
		}
		if mesh.LodCount > MaxLods {
			return errors.Newf("mesh %d declares %d lods, the limit is %d", i, mesh.LodCount, MaxLods)
		}
		if int(mesh.VertexOffset)+int(mesh.VertexCount) > len(s.Vertices) {
			return errors.Newf("mesh %d vertex range ends at %d, but the scene has %d vertices", i, mesh.VertexOffset+mesh.VertexCount, len(s.Vertices))
		}
	}

	var checkInstances func(instances []Instance) error
	checkInstances = func(instances []Instance) error {
		for i, instance := range instances {
			if instance.MeshIndex != NoMesh && int(instance.MeshIndex) >= len(s.Meshes) {
				return errors.Newf("instance %d references mesh %d, but the scene has %d meshes", i, instance.MeshIndex, len(s.Meshes))
			}
			if err := checkInstances(instance.Children); err != nil {
				return err
			}
		}
		return nil
	}
	return checkInstances(s.Instances)
}
