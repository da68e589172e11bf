package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief A built acceleration structure. It owns its backing buffer and,
 * for top-level structures, the instance buffer it was built from.
 */
type AccelerationStructure struct {
	Kind    metadata.AccelKind
	Handle  metadata.AccelHandle
	Buffer  *Buffer
	Address metadata.DeviceAddress
	/** @brief Triangle count, or instance count for top-level structures. */
	PrimitiveCount uint32

	instances *Buffer
	device    metadata.Device
}

/**
 * @brief The geometry a bottom-level build reads. Both buffers need the
 * device address and build input usages.
 */
type TriangleGeometry struct {
	Vertices      *Buffer
	VertexCount   uint32
	Indices       *Buffer
	TriangleCount uint32
}

// NewSceneInstance places a bottom-level structure with an identity transform.
func NewSceneInstance(blas *AccelerationStructure, hitGroup uint32) metadata.AccelInstance {
	return metadata.AccelInstance{
		Transform: amath.NewTransform3x4Identity(),
		Mask:      0xFF,
		SBTOffset: hitGroup,
		Flags:     metadata.AccelInstanceTriangleCullDisable,
		Reference: blas.Address,
	}
}

// build runs the sizes/backing/scratch/build/address sequence shared by both levels.
func build(ms *MemorySystem, info *metadata.AccelBuildInfo) (*AccelerationStructure, error) {
	device := ms.Device()

	sizes, err := device.AccelBuildSizes(info)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s build sizes: %w", info.Kind, err)
	}

	backing, err := ms.Allocate(
		sizes.AccelerationStructureSize,
		metadata.BufferUsageAccelStorage|metadata.BufferUsageShaderDeviceAddress,
		metadata.MemoryPropertyDeviceLocal,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %s backing buffer: %w", info.Kind, err)
	}

	scratch, err := ms.Allocate(
		sizes.BuildScratchSize,
		metadata.BufferUsageStorageBuffer|metadata.BufferUsageShaderDeviceAddress,
		metadata.MemoryPropertyDeviceLocal,
		nil,
	)
	if err != nil {
		backing.Destroy()
		return nil, fmt.Errorf("failed to allocate %s scratch buffer: %w", info.Kind, err)
	}
	defer scratch.Destroy()

	handle, err := device.CreateAccel(info.Kind, backing.Handle, sizes.AccelerationStructureSize)
	if err != nil {
		backing.Destroy()
		return nil, fmt.Errorf("failed to create %s acceleration structure: %w", info.Kind, err)
	}

	if err := SubmitOnce(device, func(cb metadata.CommandBuffer) {
		cb.BuildAccel(info, handle, scratch.Address)
	}); err != nil {
		device.DestroyAccel(handle)
		backing.Destroy()
		return nil, fmt.Errorf("failed to build %s acceleration structure: %w", info.Kind, err)
	}

	as := &AccelerationStructure{
		Kind:           info.Kind,
		Handle:         handle,
		Buffer:         backing,
		Address:        device.AccelDeviceAddress(handle),
		PrimitiveCount: info.PrimitiveCount,
		device:         device,
	}
	core.LogDebug("built %s acceleration structure with %d primitives at 0x%x", info.Kind, info.PrimitiveCount, uint64(as.Address))
	return as, nil
}

/**
 * @brief Builds a bottom-level structure over indexed triangles and waits
 * for the build to finish.
 */
func BuildBottomLevel(ms *MemorySystem, geometry TriangleGeometry) (*AccelerationStructure, error) {
	if geometry.VertexCount == 0 || geometry.TriangleCount == 0 {
		return nil, fmt.Errorf("bottom-level build needs geometry, got %d vertices and %d triangles", geometry.VertexCount, geometry.TriangleCount)
	}
	if geometry.Vertices.Address == 0 || geometry.Indices.Address == 0 {
		return nil, fmt.Errorf("bottom-level build inputs need device addresses")
	}
	info := &metadata.AccelBuildInfo{
		Kind:  metadata.AccelKindBottomLevel,
		Flags: metadata.AccelBuildPreferFastTrace,
		Triangles: &metadata.AccelTriangles{
			VertexFormat: metadata.FormatR32G32B32Sfloat,
			VertexData:   geometry.Vertices.Address,
			VertexStride: metadata.VertexStride,
			MaxVertex:    geometry.VertexCount - 1,
			IndexType:    metadata.IndexTypeUint32,
			IndexData:    geometry.Indices.Address,
			Opaque:       true,
		},
		PrimitiveCount: geometry.TriangleCount,
	}
	return build(ms, info)
}

/**
 * @brief Packs the instances into a host visible buffer and builds a
 * top-level structure over them. Every referenced bottom-level structure
 * must already be built.
 */
func BuildTopLevel(ms *MemorySystem, instances []metadata.AccelInstance) (*AccelerationStructure, error) {
	for i := range instances {
		if instances[i].Reference == 0 {
			return nil, fmt.Errorf("instance %d: %w", i, core.ErrBottomLevelNotBuilt)
		}
	}

	// An empty scene still gets one record of space.
	size := uint64(max(len(instances), 1)) * metadata.AccelInstanceSize
	data := make([]byte, size)
	for i := range instances {
		instances[i].Encode(data[i*metadata.AccelInstanceSize:])
	}
	instanceBuffer, err := ms.Allocate(
		size,
		metadata.BufferUsageShaderDeviceAddress|metadata.BufferUsageAccelBuildInputReadOnly,
		metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent,
		data,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate instance buffer: %w", err)
	}

	info := &metadata.AccelBuildInfo{
		Kind:           metadata.AccelKindTopLevel,
		Flags:          metadata.AccelBuildPreferFastTrace,
		Instances:      &metadata.AccelInstances{Data: instanceBuffer.Address},
		PrimitiveCount: uint32(len(instances)),
	}
	as, err := build(ms, info)
	if err != nil {
		instanceBuffer.Destroy()
		return nil, err
	}
	as.instances = instanceBuffer
	return as, nil
}

func (as *AccelerationStructure) Destroy() {
	if as == nil || as.device == nil {
		return
	}
	as.device.DestroyAccel(as.Handle)
	as.Buffer.Destroy()
	as.instances.Destroy()
	as.Address = 0
	as.device = nil
}
