package systems

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/spaghettifunk/anima-rt/engine/core"
	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

const sceneBufferUsage = metadata.BufferUsageStorageBuffer |
	metadata.BufferUsageShaderDeviceAddress |
	metadata.BufferUsageAccelBuildInputReadOnly

/**
 * @brief The static scene in device memory. Uploaded once and replaced as
 * a whole on reload.
 */
type SceneBuffers struct {
	Vertices        *Buffer
	Indices         *Buffer
	Materials       *Buffer
	MaterialIndices *Buffer

	VertexCount   uint32
	TriangleCount uint32
}

func uploadStorage(ms *MemorySystem, name string, data []byte, usage metadata.BufferUsage) (*Buffer, error) {
	b, err := ms.Allocate(uint64(len(data)), usage, metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent, data)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s buffer: %w", name, err)
	}
	return b, nil
}

/**
 * @brief Uploads the geometry and materials. Scenes without materials get a
 * single default one so the material buffer is never empty. An empty scene
 * uploads one degenerate triangle as a placeholder and reports zero
 * triangles, so it is traced against an empty top level.
 */
func UploadScene(ms *MemorySystem, geometry *metadata.SceneGeometry, materials []metadata.Material) (*SceneBuffers, error) {
	if len(geometry.Indices)%3 != 0 {
		return nil, fmt.Errorf("index count %d is not a multiple of 3", len(geometry.Indices))
	}
	for i, idx := range geometry.Indices {
		if int(idx) >= len(geometry.Vertices) {
			return nil, fmt.Errorf("index %d references vertex %d of %d", i, idx, len(geometry.Vertices))
		}
	}
	if len(materials) == 0 {
		materials = []metadata.Material{metadata.NewMaterial()}
	}
	sb := &SceneBuffers{
		VertexCount:   uint32(len(geometry.Vertices)),
		TriangleCount: geometry.TriangleCount(),
	}
	vertices, indices := geometry.Vertices, geometry.Indices
	if sb.TriangleCount == 0 {
		vertices = []metadata.Vertex{{}}
		indices = []uint32{0, 0, 0}
	}
	materialIndices := geometry.MaterialIndices
	if len(materialIndices) != len(indices)/3 {
		materialIndices = make([]uint32, len(indices)/3)
		copy(materialIndices, geometry.MaterialIndices)
	}

	var err error
	if sb.Vertices, err = uploadStorage(ms, "vertex", metadata.EncodeVertices(vertices), sceneBufferUsage|metadata.BufferUsageVertexBuffer); err != nil {
		sb.Destroy()
		return nil, err
	}
	if sb.Indices, err = uploadStorage(ms, "index", metadata.EncodeUint32s(indices), sceneBufferUsage|metadata.BufferUsageIndexBuffer); err != nil {
		sb.Destroy()
		return nil, err
	}
	if sb.Materials, err = uploadStorage(ms, "material", metadata.EncodeMaterials(materials), metadata.BufferUsageStorageBuffer); err != nil {
		sb.Destroy()
		return nil, err
	}
	if sb.MaterialIndices, err = uploadStorage(ms, "material index", metadata.EncodeUint32s(materialIndices), metadata.BufferUsageStorageBuffer); err != nil {
		sb.Destroy()
		return nil, err
	}
	core.LogDebug("uploaded scene with %d vertices, %d triangles and %d materials", sb.VertexCount, sb.TriangleCount, len(materials))
	return sb, nil
}

func (sb *SceneBuffers) Geometry() TriangleGeometry {
	return TriangleGeometry{
		Vertices:      sb.Vertices,
		VertexCount:   sb.VertexCount,
		Indices:       sb.Indices,
		TriangleCount: sb.TriangleCount,
	}
}

func (sb *SceneBuffers) Destroy() {
	if sb == nil {
		return
	}
	sb.Vertices.Destroy()
	sb.Indices.Destroy()
	sb.Materials.Destroy()
	sb.MaterialIndices.Destroy()
}

// maxOrbitAngle bounds the orbit so the camera swings back and forth
// instead of winding up over long runs.
const maxOrbitAngle = amath.K_PI / 2

/**
 * @brief Moves the camera around its target. The angle is a bounded
 * function of the elapsed seconds, so a frame hitch never jumps the camera
 * further than the bound.
 */
type CameraController struct {
	base   metadata.SceneUniform
	orbit  bool
	speed  float32
	radius float32
	height float32
	phase  float32
}

func NewCameraController(uniform metadata.SceneUniform, camera metadata.CameraConfig) *CameraController {
	pos := uniform.CameraPosition.ToVec3()
	target := uniform.CameraTarget.ToVec3()
	offset := pos.Sub(target)
	return &CameraController{
		base:   uniform,
		orbit:  camera.Orbit,
		speed:  camera.OrbitSpeed,
		radius: math32.Sqrt(offset.X*offset.X + offset.Z*offset.Z),
		height: offset.Y,
		phase:  math32.Atan2(offset.Z, offset.X),
	}
}

// Angle returns the orbit angle after the given number of seconds.
func (cc *CameraController) Angle(elapsed float64) float32 {
	if !cc.orbit || cc.speed == 0 {
		return 0
	}
	return maxOrbitAngle * math32.Sin(float32(elapsed)*cc.speed/maxOrbitAngle)
}

/**
 * @brief Returns the uniform for a frame: the orbiting camera plus the
 * launch size and frame index in the viewport.
 */
func (cc *CameraController) Uniform(elapsed float64, width, height uint32, frame uint64) metadata.SceneUniform {
	u := cc.base
	if angle := cc.Angle(elapsed); angle != 0 {
		target := u.CameraTarget.ToVec3()
		a := cc.phase + angle
		pos := amath.NewVec3(
			target.X+cc.radius*math32.Cos(a),
			target.Y+cc.height,
			target.Z+cc.radius*math32.Sin(a),
		)
		u.CameraPosition = pos.ToVec4(1)
	}
	u.Viewport.X = float32(width)
	u.Viewport.Y = float32(height)
	u.Viewport.W = float32(frame)
	return u
}

/**
 * @brief One persistently mapped uniform buffer per frame slot. Written and
 * flushed by the host before every submission that reads it.
 */
type UniformBuffers struct {
	buffers []*Buffer
}

func NewUniformBuffers(ms *MemorySystem, count uint32) (*UniformBuffers, error) {
	ub := &UniformBuffers{}
	for i := uint32(0); i < count; i++ {
		b, err := ms.Allocate(metadata.SceneUniformSize, metadata.BufferUsageUniformBuffer, metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent, nil)
		if err != nil {
			ub.Destroy()
			return nil, fmt.Errorf("failed to allocate uniform buffer %d: %w", i, err)
		}
		ub.buffers = append(ub.buffers, b)
		if _, err := b.Map(); err != nil {
			ub.Destroy()
			return nil, err
		}
	}
	return ub, nil
}

func (ub *UniformBuffers) Buffer(slot uint32) *Buffer {
	return ub.buffers[slot]
}

func (ub *UniformBuffers) Count() uint32 {
	return uint32(len(ub.buffers))
}

// Update writes the uniform into the slot's buffer and flushes it.
func (ub *UniformBuffers) Update(slot uint32, u metadata.SceneUniform) error {
	var data [metadata.SceneUniformSize]byte
	u.Encode(data[:])
	b := ub.buffers[slot]
	if err := b.Write(0, data[:]); err != nil {
		return err
	}
	return b.Flush(0, metadata.WholeSize)
}

func (ub *UniformBuffers) Destroy() {
	if ub == nil {
		return
	}
	for _, b := range ub.buffers {
		b.Destroy()
	}
	ub.buffers = nil
}
