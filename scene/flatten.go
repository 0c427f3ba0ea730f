package scene

import (
	"github.com/go-gl/mathgl/mgl32"
)

// DrawInstance is one flattened leaf of the instance hierarchy: a mesh with its
// world transform and world-space bounds.
type DrawInstance struct {
	Transform      mgl32.Mat4
	BoundingSphere BoundingSphere
	MeshIndex      uint32
}

// FlattenInstances walks the instance tree, concatenating transforms from the root
// down, and returns one entry per mesh-carrying node in depth-first order.
func (s *Scene) FlattenInstances() []DrawInstance {
	var flattened []DrawInstance

	var walk func(instance Instance, parent mgl32.Mat4, parentScale float32)
	walk = func(instance Instance, parent mgl32.Mat4, parentScale float32) {
		world := parent.Mul4(instance.Transform.Matrix())
		worldScale := parentScale * instance.Transform.MaxScale()

		if instance.MeshIndex != NoMesh {
			mesh := s.Meshes[instance.MeshIndex]
			center := world.Mul4x1(mesh.BoundingSphere.Center.Vec4(1))

			flattened = append(flattened, DrawInstance{
				Transform: world,
				BoundingSphere: BoundingSphere{
					Center: center.Vec3(),
					Radius: worldScale * mesh.BoundingSphere.Radius,
				},
				MeshIndex: uint32(instance.MeshIndex),
			})
		}

		for _, child := range instance.Children {
			walk(child, world, worldScale)
		}
	}

	for _, instance := range s.Instances {
		walk(instance, mgl32.Ident4(), 1)
	}
	return flattened
}
