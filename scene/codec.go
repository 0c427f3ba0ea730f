package scene

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pierrec/lz4/v4"
)

// Cache file layout: an uncompressed magic/version header followed by one lz4 frame
// holding the little-endian field stream.
const (
	cacheMagic   uint32 = 0x4b494c4e
	cacheVersion uint32 = 1
)

// maxTableLen bounds every decoded count so a corrupt cache cannot demand an
// absurd allocation.
const maxTableLen = 1 << 28

// ErrCorruptCache is returned when a cache file fails structural checks. Detect it
// with errors.Is.
var ErrCorruptCache error = errors.New("scene cache is corrupt")

type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) value(data any) {
	if e.err != nil {
		return
	}
	e.err = binary.Write(e.w, binary.LittleEndian, data)
}

func (e *encoder) count(n int) {
	e.value(uint32(n))
}

func (e *encoder) bytes(data []byte) {
	e.count(len(data))
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(data)
}

func (e *encoder) instances(instances []Instance) {
	e.count(len(instances))
	for _, instance := range instances {
		e.value(instance.Transform)
		e.value(instance.MeshIndex)
		e.instances(instance.Children)
	}
}

// Encode writes the scene as a cache blob. The byte layout is format-stable:
// decoding the result yields identical arrays.
func (s *Scene) Encode(w io.Writer) error {
	header := &encoder{w: w}
	header.value(cacheMagic)
	header.value(cacheVersion)
	if header.err != nil {
		return errors.Wrap(header.err, "failed to write scene cache header")
	}

	compressed := lz4.NewWriter(w)
	e := &encoder{w: compressed}

	e.value(s.DirectionalLight)

	e.count(len(s.Vertices))
	e.value(s.Vertices)
	e.count(len(s.Indices))
	e.value(s.Indices)

	e.count(len(s.Textures))
	for _, texture := range s.Textures {
		e.value(uint8(texture.Kind))
		e.value(texture.Width)
		e.value(texture.Height)
		e.count(len(texture.Mips))
		for _, mip := range texture.Mips {
			e.bytes(mip)
		}
	}

	e.count(len(s.Materials))
	e.value(s.Materials)
	e.count(len(s.Meshes))
	e.value(s.Meshes)

	e.count(len(s.Models))
	for _, model := range s.Models {
		e.count(len(model.MeshIndices))
		e.value(model.MeshIndices)
	}

	e.instances(s.Instances)

	e.count(len(s.Meshlets))
	e.value(s.Meshlets)
	e.count(len(s.MeshletData))
	e.value(s.MeshletData)

	if e.err != nil {
		return errors.Wrap(e.err, "failed to encode scene")
	}

	err := compressed.Close()
	if err != nil {
		return errors.Wrap(err, "failed to flush compressed scene")
	}
	return nil
}

type decoder struct {
	r   io.Reader
	err error
}

func (d *decoder) value(data any) {
	if d.err != nil {
		return
	}
	d.err = binary.Read(d.r, binary.LittleEndian, data)
}

func (d *decoder) count() int {
	var n uint32
	d.value(&n)
	if d.err == nil && n > maxTableLen {
		d.err = errors.Wrapf(ErrCorruptCache, "table length %d is past the limit", n)
	}
	if d.err != nil {
		return 0
	}
	return int(n)
}

func (d *decoder) bytes() []byte {
	n := d.count()
	if d.err != nil || n == 0 {
		return nil
	}

	data := make([]byte, n)
	_, d.err = io.ReadFull(d.r, data)
	return data
}

func (d *decoder) instances(depth int) []Instance {
	// Deep nesting in a length-prefixed tree means a corrupt file
	if depth > 64 {
		d.err = errors.Wrap(ErrCorruptCache, "instance tree is too deep")
		return nil
	}

	n := d.count()
	if d.err != nil || n == 0 {
		return nil
	}

	instances := make([]Instance, n)
	for i := range instances {
		d.value(&instances[i].Transform)
		d.value(&instances[i].MeshIndex)
		instances[i].Children = d.instances(depth + 1)
	}
	return instances
}

// Decode reads a scene cache blob written by Encode.
func Decode(r io.Reader) (*Scene, error) {
	header := &decoder{r: r}

	var magic, version uint32
	header.value(&magic)
	header.value(&version)
	if header.err != nil {
		return nil, errors.Wrap(header.err, "failed to read scene cache header")
	}
	if magic != cacheMagic {
		return nil, errors.Wrapf(ErrCorruptCache, "bad magic %08x", magic)
	}
	if version != cacheVersion {
		return nil, errors.Newf("scene cache version %d is not supported, want %d", version, cacheVersion)
	}

	d := &decoder{r: lz4.NewReader(r)}
	s := &Scene{}

	d.value(&s.DirectionalLight)

	s.Vertices = make([]Vertex, d.count())
	d.value(s.Vertices)
	s.Indices = make([]uint32, d.count())
	d.value(s.Indices)

	s.Textures = make([]Texture, d.count())
	for i := range s.Textures {
		var kind uint8
		d.value(&kind)
		s.Textures[i].Kind = TextureKind(kind)
		d.value(&s.Textures[i].Width)
		d.value(&s.Textures[i].Height)

		s.Textures[i].Mips = make([][]byte, d.count())
		for mip := range s.Textures[i].Mips {
			s.Textures[i].Mips[mip] = d.bytes()
		}
	}

	s.Materials = make([]Material, d.count())
	d.value(s.Materials)
	s.Meshes = make([]Mesh, d.count())
	d.value(s.Meshes)

	s.Models = make([]Model, d.count())
	for i := range s.Models {
		s.Models[i].MeshIndices = make([]uint32, d.count())
		d.value(s.Models[i].MeshIndices)
	}

	s.Instances = d.instances(0)

	s.Meshlets = make([]Meshlet, d.count())
	d.value(s.Meshlets)
	s.MeshletData = make([]uint32, d.count())
	d.value(s.MeshletData)

	if d.err != nil {
		return nil, errors.Wrap(d.err, "failed to decode scene")
	}
	return s, nil
}

// WriteCache serializes the scene to a cache file, replacing any existing file.
func (s *Scene) WriteCache(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create scene cache at %s", path)
	}

	err = s.Encode(file)
	if err != nil {
		file.Close()
		return err
	}

	err = file.Close()
	if err != nil {
		return errors.Wrapf(err, "failed to close scene cache at %s", path)
	}
	return nil
}

// ReadCache loads a scene from a cache file written by WriteCache.
func ReadCache(path string) (*Scene, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open scene cache at %s", path)
	}
	defer file.Close()

	return Decode(file)
}
