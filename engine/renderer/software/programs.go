package software

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"

	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type rayFlags uint32

const (
	rayFlagOpaque              rayFlags = 0x01
	rayFlagTerminateOnFirstHit rayFlags = 0x04
	rayFlagSkipClosestHit      rayFlags = 0x08
)

const (
	rayTMin         float32 = 0.001
	rayTMax         float32 = 10000.0
	shadowBias      float32 = 0.001
	ambientStrength float32 = 0.1
)

type payload struct {
	color    amath.Vec3
	shadowed bool
}

type texture struct {
	data   []byte
	width  uint32
	height uint32
	layers uint32
	format metadata.Format
}

type hitProgram struct {
	closestHit bool
	anyHit     bool
}

/**
 * @brief The built-in programs for one TraceRays dispatch: pinhole raygen,
 * environment miss, shadow miss and a Lambert closest hit with a sun shadow ray.
 */
type tracer struct {
	tlas     *accel
	output   texture
	uniform  metadata.SceneUniform
	maxDepth uint32

	vertices        []byte
	indices         []byte
	materials       []byte
	materialIndices []byte
	textures        []texture
	sampler         metadata.SamplerCreateInfo
	environment     *texture

	misses []metadata.ShaderKind
	hits   []hitProgram
}

func bindingBuffer(d *Device, set *descriptorSet, binding uint32) ([]byte, error) {
	w, ok := set.bindings[binding]
	if !ok || len(w.Buffers) == 0 {
		return nil, fmt.Errorf("binding %d was never written", binding)
	}
	bi := w.Buffers[0]
	b, ok := d.buffers[bi.Buffer]
	if !ok || b.mem == nil {
		return nil, fmt.Errorf("binding %d references destroyed buffer %d", binding, bi.Buffer)
	}
	size := bi.Range
	if size == metadata.WholeSize {
		size = b.size - bi.Offset
	}
	return b.mem.data[bi.Offset : bi.Offset+size], nil
}

func bindingTexture(d *Device, ii metadata.DescriptorImageInfo) (texture, error) {
	v, ok := d.views[ii.View]
	if !ok || v.img.mem == nil {
		return texture{}, fmt.Errorf("image view %d destroyed or unbound", ii.View)
	}
	img := v.img
	return texture{
		data:   img.mem.data[:img.size()],
		width:  img.info.Width,
		height: img.info.Height,
		layers: img.info.Layers,
		format: img.info.Format,
	}, nil
}

// readRegion resolves every record of a shader binding table region.
func (d *Device) readRegion(name string, r metadata.StridedRegion, p *pipeline) ([]metadata.ShaderGroup, error) {
	lim := d.opts.Limits
	if r.Size == 0 {
		return nil, nil
	}
	if uint64(r.Address)%uint64(lim.ShaderGroupBaseAlignment) != 0 {
		return nil, fmt.Errorf("%s region address 0x%x not aligned to %d", name, uint64(r.Address), lim.ShaderGroupBaseAlignment)
	}
	if r.Stride < uint64(lim.ShaderGroupHandleSize) || r.Stride%uint64(lim.ShaderGroupHandleAlignment) != 0 {
		return nil, fmt.Errorf("%s region stride %d invalid for handle size %d alignment %d", name, r.Stride, lim.ShaderGroupHandleSize, lim.ShaderGroupHandleAlignment)
	}
	if r.Stride > r.Size {
		return nil, fmt.Errorf("%s region stride %d exceeds size %d", name, r.Stride, r.Size)
	}
	mem, err := d.resolve(r.Address, r.Size)
	if err != nil {
		return nil, fmt.Errorf("%s region: %w", name, err)
	}
	var groups []metadata.ShaderGroup
	for off := uint64(0); off+uint64(lim.ShaderGroupHandleSize) <= r.Size; off += r.Stride {
		g, err := d.decodeHandle(mem[off:], p)
		if err != nil {
			if len(groups) > 0 {
				// Padding past the last record.
				break
			}
			return nil, fmt.Errorf("%s region record at +%d: %w", name, off, err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (d *Device) newTracer(st *execState, raygen, miss, hit metadata.StridedRegion) (*tracer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := st.pipeline
	if raygen.Size != raygen.Stride {
		return nil, fmt.Errorf("raygen region size %d must equal its stride %d", raygen.Size, raygen.Stride)
	}
	rg, err := d.readRegion("raygen", raygen, p)
	if err != nil {
		return nil, err
	}
	if len(rg) != 1 || rg[0].Type != metadata.ShaderGroupGeneral || p.info.Stages[rg[0].General].Kind != metadata.ShaderKindRaygen {
		return nil, errors.New("raygen region does not hold a raygen group")
	}
	tr := &tracer{maxDepth: p.info.MaxRecursionDepth}

	missGroups, err := d.readRegion("miss", miss, p)
	if err != nil {
		return nil, err
	}
	for i, g := range missGroups {
		if g.Type != metadata.ShaderGroupGeneral || p.info.Stages[g.General].Stage != metadata.ShaderStageMiss {
			return nil, fmt.Errorf("miss region record %d is not a miss group", i)
		}
		tr.misses = append(tr.misses, p.info.Stages[g.General].Kind)
	}
	hitGroups, err := d.readRegion("hit", hit, p)
	if err != nil {
		return nil, err
	}
	for i, g := range hitGroups {
		if g.Type != metadata.ShaderGroupTrianglesHit {
			return nil, fmt.Errorf("hit region record %d is not a triangle hit group", i)
		}
		tr.hits = append(tr.hits, hitProgram{
			closestHit: g.ClosestHit != metadata.ShaderUnused,
			anyHit:     g.AnyHit != metadata.ShaderUnused,
		})
	}

	set := st.set
	l := d.layouts[set.layout]
	for b := range l.bindings {
		if _, ok := set.bindings[b]; !ok {
			return nil, fmt.Errorf("binding %d of the bound set was never written", b)
		}
	}

	aw := set.bindings[metadata.BindingTLAS]
	tlas, ok := d.accels[aw.Accels[0]]
	if !ok || tlas.kind != metadata.AccelKindTopLevel || !tlas.built {
		return nil, errors.New("bound acceleration structure is not a built top-level structure")
	}
	tr.tlas = tlas

	ow := set.bindings[metadata.BindingOutputImage].Images[0]
	ov, ok := d.views[ow.View]
	if !ok {
		return nil, errors.New("output image view destroyed")
	}
	if ov.img.layouts[0] != metadata.ImageLayoutGeneral {
		return nil, fmt.Errorf("output image is in %s, storage writes need general", ov.img.layouts[0])
	}
	if tr.output, err = bindingTexture(d, ow); err != nil {
		return nil, err
	}

	ub, err := bindingBuffer(d, set, metadata.BindingScene)
	if err != nil {
		return nil, err
	}
	if len(ub) < metadata.SceneUniformSize {
		return nil, errors.New("scene uniform range too small")
	}
	tr.uniform = metadata.DecodeSceneUniform(ub)

	if tr.vertices, err = bindingBuffer(d, set, metadata.BindingVertices); err != nil {
		return nil, err
	}
	if tr.indices, err = bindingBuffer(d, set, metadata.BindingIndices); err != nil {
		return nil, err
	}
	if tr.materials, err = bindingBuffer(d, set, metadata.BindingMaterials); err != nil {
		return nil, err
	}
	if tr.materialIndices, err = bindingBuffer(d, set, metadata.BindingMaterialIndices); err != nil {
		return nil, err
	}
	for _, ii := range set.bindings[metadata.BindingTextures].Images {
		t, err := bindingTexture(d, ii)
		if err != nil {
			return nil, err
		}
		tr.textures = append(tr.textures, t)
	}
	if s, ok := d.samplers[set.bindings[metadata.BindingSampler].Images[0].Sampler]; ok {
		tr.sampler = s
	}
	env, err := bindingTexture(d, set.bindings[metadata.BindingEnvironment].Images[0])
	if err != nil {
		return nil, err
	}
	if env.layers != 6 || env.format != metadata.FormatR32G32B32A32Sfloat {
		return nil, errors.New("environment binding is not an RGBA32F cube")
	}
	tr.environment = &env
	return tr, nil
}

// dispatch traces one primary ray per launch texel, a row per task.
func (tr *tracer) dispatch(width, height, depth uint32) error {
	if width > tr.output.width || height > tr.output.height {
		return fmt.Errorf("launch %dx%d larger than the output image %dx%d", width, height, tr.output.width, tr.output.height)
	}
	if depth == 0 {
		return nil
	}
	if depth > 1 {
		return fmt.Errorf("launch depth %d unsupported by a 2D output image", depth)
	}

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for y := uint32(0); y < height; y++ {
		g.Go(func() error {
			for x := uint32(0); x < width; x++ {
				if err := tr.raygen(x, y, width, height); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (tr *tracer) raygen(x, y, width, height uint32) error {
	u := tr.uniform
	origin := u.CameraPosition.ToVec3()
	forward := u.CameraTarget.ToVec3().Sub(origin).Normalize()
	right := forward.Cross(amath.NewVec3Up()).Normalize()
	up := right.Cross(forward)

	aspect := float32(width) / float32(height)
	tanHalf := u.Viewport.Z
	px := ((float32(x)+0.5)/float32(width))*2 - 1
	py := ((float32(y)+0.5)/float32(height))*2 - 1
	dir := forward.
		Add(right.MulScalar(px * tanHalf * aspect)).
		Sub(up.MulScalar(py * tanHalf)).
		Normalize()

	var p payload
	if err := tr.trace(origin, dir, rayTMin, rayTMax, rayFlagOpaque, 0, &p, 1); err != nil {
		return err
	}
	tr.store(x, y, p.color)
	return nil
}

func toUnorm(c float32) byte {
	return byte(amath.Clamp(c, 0, 1)*255 + 0.5)
}

func (tr *tracer) store(x, y uint32, c amath.Vec3) {
	off := (y*tr.output.width + x) * 4
	px := tr.output.data[off : off+4]
	r, g, b := toUnorm(c.X), toUnorm(c.Y), toUnorm(c.Z)
	switch tr.output.format {
	case metadata.FormatB8G8R8A8Unorm, metadata.FormatB8G8R8A8Srgb:
		px[0], px[1], px[2], px[3] = b, g, r, 255
	default:
		px[0], px[1], px[2], px[3] = r, g, b, 255
	}
}

func (tr *tracer) trace(origin, dir amath.Vec3, tmin, tmax float32, flags rayFlags, missIndex int, p *payload, depth uint32) error {
	if depth > tr.maxDepth {
		return fmt.Errorf("ray recursion depth %d exceeds pipeline maximum %d", depth, tr.maxDepth)
	}
	hit, ok := tr.tlas.traverse(origin, dir, tmin, tmax, 0xFF, flags&rayFlagTerminateOnFirstHit != 0)
	if !ok {
		if missIndex >= len(tr.misses) {
			return fmt.Errorf("miss index %d outside the miss region of %d records", missIndex, len(tr.misses))
		}
		switch tr.misses[missIndex] {
		case metadata.ShaderKindShadowMiss:
			p.shadowed = false
		default:
			p.color = tr.sampleEnvironment(dir)
		}
		return nil
	}
	if flags&rayFlagSkipClosestHit != 0 {
		return nil
	}
	idx := int(hit.inst.desc.SBTOffset)
	if idx >= len(tr.hits) {
		return fmt.Errorf("hit group %d outside the hit region of %d records", idx, len(tr.hits))
	}
	if !tr.hits[idx].closestHit {
		return nil
	}
	return tr.closestHit(origin, dir, &hit, p, depth)
}

func (tr *tracer) vertex(i uint32) (metadata.Vertex, error) {
	off := uint64(i) * metadata.VertexStride
	if off+metadata.VertexStride > uint64(len(tr.vertices)) {
		return metadata.Vertex{}, fmt.Errorf("vertex %d outside the vertex buffer", i)
	}
	return metadata.DecodeVertex(tr.vertices[off:]), nil
}

func (tr *tracer) closestHit(origin, dir amath.Vec3, hit *rayHit, p *payload, depth uint32) error {
	prim := hit.primitive
	if uint64(prim+1)*12 > uint64(len(tr.indices)) {
		return fmt.Errorf("primitive %d outside the index buffer", prim)
	}
	var v [3]metadata.Vertex
	for k := uint32(0); k < 3; k++ {
		var err error
		idx := binary.LittleEndian.Uint32(tr.indices[(prim*3+k)*4:])
		if v[k], err = tr.vertex(idx); err != nil {
			return err
		}
	}
	w0 := 1 - hit.u - hit.v
	normal := v[0].Normal.MulScalar(w0).Add(v[1].Normal.MulScalar(hit.u)).Add(v[2].Normal.MulScalar(hit.v))
	normal = hit.inst.desc.Transform.TransformDirection(normal).Normalize()
	uv := amath.NewVec2(
		v[0].Texcoord.X*w0+v[1].Texcoord.X*hit.u+v[2].Texcoord.X*hit.v,
		v[0].Texcoord.Y*w0+v[1].Texcoord.Y*hit.u+v[2].Texcoord.Y*hit.v,
	)

	var mat metadata.Material
	if uint64(prim+1)*4 <= uint64(len(tr.materialIndices)) {
		mi := binary.LittleEndian.Uint32(tr.materialIndices[prim*4:])
		if uint64(mi+1)*metadata.MaterialStride <= uint64(len(tr.materials)) {
			mat = metadata.DecodeMaterial(tr.materials[uint64(mi)*metadata.MaterialStride:])
		} else {
			mat = metadata.NewMaterial()
		}
	} else {
		mat = metadata.NewMaterial()
	}

	base := mat.BaseColorFactor.ToVec3()
	if mat.BaseColorTexture >= 0 && int(mat.BaseColorTexture) < len(tr.textures) {
		base = base.Mul(tr.sample(&tr.textures[mat.BaseColorTexture], uv))
	}
	emissive := mat.EmissiveFactor.ToVec3()
	if mat.EmissiveTexture >= 0 && int(mat.EmissiveTexture) < len(tr.textures) {
		emissive = emissive.Mul(tr.sample(&tr.textures[mat.EmissiveTexture], uv))
	}

	sun := tr.uniform.Sun.Direction.ToVec3().Normalize()
	ndotl := math32.Max(normal.Dot(sun), 0)
	visibility := float32(1)
	if ndotl > 0 {
		hitPos := origin.Add(dir.MulScalar(hit.t))
		shadow := payload{shadowed: true}
		flags := rayFlagOpaque | rayFlagTerminateOnFirstHit | rayFlagSkipClosestHit
		if err := tr.trace(hitPos.Add(normal.MulScalar(shadowBias)), sun, rayTMin, rayTMax, flags, 1, &shadow, depth+1); err != nil {
			return err
		}
		if shadow.shadowed {
			visibility = 0
		}
	}
	light := tr.uniform.Sun.Color.ToVec3().MulScalar(ndotl * visibility).Add(amath.NewVec3(ambientStrength, ambientStrength, ambientStrength))
	p.color = base.Mul(light).Add(emissive)
	return nil
}

func wrap(c float32) float32 {
	return c - math32.Floor(c)
}

func (t *texture) texel(x, y int) amath.Vec3 {
	off := (y*int(t.width) + x) * 4
	px := t.data[off : off+4]
	return amath.NewVec3(float32(px[0])/255, float32(px[1])/255, float32(px[2])/255)
}

// sample filters an RGBA8 texture with the bound sampler.
func (tr *tracer) sample(t *texture, uv amath.Vec2) amath.Vec3 {
	u, v := uv.X, uv.Y
	if tr.sampler.AddressMode == metadata.AddressModeRepeat {
		u, v = wrap(u), wrap(v)
	} else {
		u, v = amath.Clamp(u, 0, 1), amath.Clamp(v, 0, 1)
	}
	w, h := int(t.width), int(t.height)
	fx := u*float32(w) - 0.5
	fy := v*float32(h) - 0.5
	if tr.sampler.Filter == metadata.FilterNearest {
		x := amath.Clamp(int(math32.Floor(fx+0.5)), 0, w-1)
		y := amath.Clamp(int(math32.Floor(fy+0.5)), 0, h-1)
		return t.texel(x, y)
	}
	x0, y0 := int(math32.Floor(fx)), int(math32.Floor(fy))
	ax, ay := fx-float32(x0), fy-float32(y0)
	wrapi := func(i, n int) int {
		if tr.sampler.AddressMode == metadata.AddressModeRepeat {
			return ((i % n) + n) % n
		}
		return amath.Clamp(i, 0, n-1)
	}
	c00 := t.texel(wrapi(x0, w), wrapi(y0, h))
	c10 := t.texel(wrapi(x0+1, w), wrapi(y0, h))
	c01 := t.texel(wrapi(x0, w), wrapi(y0+1, h))
	c11 := t.texel(wrapi(x0+1, w), wrapi(y0+1, h))
	top := c00.MulScalar(1 - ax).Add(c10.MulScalar(ax))
	bottom := c01.MulScalar(1 - ax).Add(c11.MulScalar(ax))
	return top.MulScalar(1 - ay).Add(bottom.MulScalar(ay))
}

func (tr *tracer) sampleEnvironment(dir amath.Vec3) amath.Vec3 {
	env := tr.environment
	if env == nil {
		return amath.NewVec3Zero()
	}
	face, x, y := amath.CubeFaceTexel(dir, int(env.width))
	off := ((uint32(face)*env.height+uint32(y))*env.width + uint32(x)) * 16
	px := env.data[off : off+16]
	return amath.NewVec3(
		math.Float32frombits(binary.LittleEndian.Uint32(px[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(px[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(px[8:])),
	)
}
