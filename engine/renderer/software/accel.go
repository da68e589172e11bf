package software

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type triangle struct {
	v0, v1, v2 amath.Vec3
}

type instance struct {
	desc    metadata.AccelInstance
	inverse amath.Transform3x4
	blas    *accel
}

type accel struct {
	kind    metadata.AccelKind
	buffer  metadata.BufferHandle
	size    uint64
	address metadata.DeviceAddress
	built   bool
	opaque  bool

	triangles []triangle
	bounds    amath.Extents3D
	instances []instance
}

func accelBuildSizes(info *metadata.AccelBuildInfo) metadata.AccelBuildSizes {
	n := uint64(info.PrimitiveCount)
	if info.Kind == metadata.AccelKindTopLevel {
		return metadata.AccelBuildSizes{
			AccelerationStructureSize: 256 + n*128,
			BuildScratchSize:          256 + n*64,
		}
	}
	return metadata.AccelBuildSizes{
		AccelerationStructureSize: 256 + n*64,
		BuildScratchSize:          256 + n*32,
	}
}

func (d *Device) AccelBuildSizes(info *metadata.AccelBuildInfo) (metadata.AccelBuildSizes, error) {
	switch info.Kind {
	case metadata.AccelKindBottomLevel:
		if info.Triangles == nil {
			return metadata.AccelBuildSizes{}, errors.New("bottom-level build without triangle geometry")
		}
	case metadata.AccelKindTopLevel:
		if info.Instances == nil {
			return metadata.AccelBuildSizes{}, errors.New("top-level build without instance geometry")
		}
	}
	return accelBuildSizes(info), nil
}

func (d *Device) CreateAccel(kind metadata.AccelKind, bh metadata.BufferHandle, size uint64) (metadata.AccelHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[bh]
	if !ok || b.mem == nil {
		return 0, fmt.Errorf("acceleration structure backed by unknown or unbound buffer %d", bh)
	}
	if !b.usage.Has(metadata.BufferUsageAccelStorage) {
		return 0, errors.New("backing buffer lacks acceleration structure storage usage")
	}
	if b.size < size {
		return 0, fmt.Errorf("backing buffer of %d bytes smaller than requested %d", b.size, size)
	}
	h := metadata.AccelHandle(d.nextHandle())
	d.accels[h] = &accel{kind: kind, buffer: bh, size: size, address: b.address}
	return h, nil
}

func (d *Device) DestroyAccel(h metadata.AccelHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accels, h)
}

func (d *Device) AccelDeviceAddress(h metadata.AccelHandle) metadata.DeviceAddress {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.accels[h]; ok {
		return a.address
	}
	return 0
}

// accelByAddress must be called with d.mu held.
func (d *Device) accelByAddress(addr metadata.DeviceAddress) *accel {
	for _, a := range d.accels {
		if a.address == addr {
			return a
		}
	}
	return nil
}

func (d *Device) buildAccel(info *metadata.AccelBuildInfo, dst metadata.AccelHandle, scratch metadata.DeviceAddress) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.accels[dst]
	if !ok {
		return fmt.Errorf("build into unknown acceleration structure %d", dst)
	}
	if a.kind != info.Kind {
		return fmt.Errorf("%s build into a %s structure", info.Kind, a.kind)
	}
	sizes := accelBuildSizes(info)
	if a.size < sizes.AccelerationStructureSize {
		return errors.New("acceleration structure smaller than the queried build size")
	}
	if _, err := d.resolve(scratch, sizes.BuildScratchSize); err != nil {
		return fmt.Errorf("scratch buffer: %w", err)
	}

	switch info.Kind {
	case metadata.AccelKindBottomLevel:
		return d.buildBottomLevel(a, info)
	default:
		return d.buildTopLevel(a, info)
	}
}

func readVec3(src []byte) amath.Vec3 {
	return amath.NewVec3(
		math.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
	)
}

func (d *Device) buildBottomLevel(a *accel, info *metadata.AccelBuildInfo) error {
	tri := info.Triangles
	if tri.VertexFormat != metadata.FormatR32G32B32Sfloat {
		return fmt.Errorf("unsupported vertex format %d", tri.VertexFormat)
	}
	if tri.IndexType != metadata.IndexTypeUint32 {
		return errors.New("only 32 bit indices are supported")
	}
	if tri.VertexStride < 12 {
		return fmt.Errorf("vertex stride %d smaller than a position", tri.VertexStride)
	}
	vertexBytes := uint64(tri.MaxVertex)*tri.VertexStride + 12
	vertices, err := d.resolve(tri.VertexData, vertexBytes)
	if err != nil {
		return fmt.Errorf("vertex data: %w", err)
	}
	indices, err := d.resolve(tri.IndexData, uint64(info.PrimitiveCount)*12)
	if err != nil {
		return fmt.Errorf("index data: %w", err)
	}

	a.triangles = make([]triangle, info.PrimitiveCount)
	a.bounds = amath.Extents3D{
		Min: amath.NewVec3(math.MaxFloat32, math.MaxFloat32, math.MaxFloat32),
		Max: amath.NewVec3(-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32),
	}
	for p := range a.triangles {
		var v [3]amath.Vec3
		for k := 0; k < 3; k++ {
			idx := binary.LittleEndian.Uint32(indices[(p*3+k)*4:])
			if idx > tri.MaxVertex {
				return fmt.Errorf("index %d of triangle %d exceeds max vertex %d", idx, p, tri.MaxVertex)
			}
			v[k] = readVec3(vertices[uint64(idx)*tri.VertexStride:])
			a.bounds = a.bounds.Extend(v[k])
		}
		a.triangles[p] = triangle{v0: v[0], v1: v[1], v2: v[2]}
	}
	a.opaque = tri.Opaque
	a.built = true
	return nil
}

func (d *Device) buildTopLevel(a *accel, info *metadata.AccelBuildInfo) error {
	n := uint64(info.PrimitiveCount)
	a.instances = make([]instance, 0, n)
	if n > 0 {
		data, err := d.resolve(info.Instances.Data, n*metadata.AccelInstanceSize)
		if err != nil {
			return fmt.Errorf("instance data: %w", err)
		}
		for i := uint64(0); i < n; i++ {
			desc := metadata.DecodeAccelInstance(data[i*metadata.AccelInstanceSize:])
			blas := d.accelByAddress(desc.Reference)
			if blas == nil || blas.kind != metadata.AccelKindBottomLevel || !blas.built {
				return fmt.Errorf("instance %d references 0x%x, which is not a built bottom-level structure", i, uint64(desc.Reference))
			}
			a.instances = append(a.instances, instance{
				desc:    desc,
				inverse: desc.Transform.Inverse(),
				blas:    blas,
			})
		}
	}
	a.built = true
	return nil
}

type rayHit struct {
	t         float32
	u, v      float32
	primitive uint32
	inst      *instance
}

// intersectTriangle is the Moller-Trumbore test without back-face culling.
func intersectTriangle(orig, dir amath.Vec3, tri *triangle, tmin, tmax float32) (t, u, v float32, ok bool) {
	const eps = 1e-8
	e1 := tri.v1.Sub(tri.v0)
	e2 := tri.v2.Sub(tri.v0)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if det > -eps && det < eps {
		return 0, 0, 0, false
	}
	inv := 1.0 / det
	s := orig.Sub(tri.v0)
	u = s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}
	q := s.Cross(e1)
	v = dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}
	t = e2.Dot(q) * inv
	if t < tmin || t > tmax {
		return 0, 0, 0, false
	}
	return t, u, v, true
}

// intersectBounds is the slab test against an axis-aligned box.
func intersectBounds(orig, dir amath.Vec3, b amath.Extents3D, tmin, tmax float32) bool {
	o := [3]float32{orig.X, orig.Y, orig.Z}
	dv := [3]float32{dir.X, dir.Y, dir.Z}
	lo := [3]float32{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float32{b.Max.X, b.Max.Y, b.Max.Z}
	for i := 0; i < 3; i++ {
		if dv[i] == 0 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return false
			}
			continue
		}
		inv := 1 / dv[i]
		t0 := (lo[i] - o[i]) * inv
		t1 := (hi[i] - o[i]) * inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tmin {
			tmin = t0
		}
		if t1 < tmax {
			tmax = t1
		}
		if tmin > tmax {
			return false
		}
	}
	return true
}

// traverse finds the closest hit, or any hit when firstHit is set.
func (a *accel) traverse(orig, dir amath.Vec3, tmin, tmax float32, mask uint8, firstHit bool) (rayHit, bool) {
	var best rayHit
	found := false
	for i := range a.instances {
		inst := &a.instances[i]
		if inst.desc.Mask&mask == 0 {
			continue
		}
		o := inst.inverse.TransformPoint(orig)
		dv := inst.inverse.TransformDirection(dir)
		blas := inst.blas
		if len(blas.triangles) == 0 || !intersectBounds(o, dv, blas.bounds, tmin, tmax) {
			continue
		}
		for p := range blas.triangles {
			t, u, v, ok := intersectTriangle(o, dv, &blas.triangles[p], tmin, tmax)
			if !ok {
				continue
			}
			tmax = t
			best = rayHit{t: t, u: u, v: v, primitive: uint32(p), inst: inst}
			found = true
			if firstHit {
				return best, true
			}
		}
	}
	return best, found
}
