package systems

import (
	"fmt"

	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief The shader binding table: one buffer holding the raygen, miss and
 * hit regions back to back, and the strided regions TraceRays takes.
 */
type ShaderBindingTable struct {
	Buffer   *Buffer
	Raygen   metadata.StridedRegion
	Miss     metadata.StridedRegion
	Hit      metadata.StridedRegion
	Callable metadata.StridedRegion
}

/**
 * @brief Computes the region layout for the given limits. The raygen
 * region holds exactly one record, so its size equals its stride.
 */
func TableLayout(limits metadata.RayTracingLimits) (raygen, miss, hit metadata.StridedRegion) {
	handleSizeAligned := uint64(amath.AlignUp(limits.ShaderGroupHandleSize, limits.ShaderGroupHandleAlignment))
	base := uint64(limits.ShaderGroupBaseAlignment)

	raygen.Stride = amath.AlignUp(handleSizeAligned, base)
	raygen.Size = raygen.Stride

	miss.Stride = handleSizeAligned
	miss.Size = amath.AlignUp(MissGroupCount*handleSizeAligned, base)

	hit.Stride = handleSizeAligned
	hit.Size = amath.AlignUp(HitGroupCount*handleSizeAligned, base)
	return raygen, miss, hit
}

/**
 * @brief Fetches the group handles of the pipeline and writes each at its
 * region offset plus index times stride. The regions are contiguous and
 * start at the buffer's device address.
 */
func BuildTable(ms *MemorySystem, pipeline metadata.PipelineHandle, limits metadata.RayTracingLimits) (*ShaderBindingTable, error) {
	raygen, miss, hit := TableLayout(limits)
	handleSize := uint64(limits.ShaderGroupHandleSize)

	handles, err := ms.Device().ShaderGroupHandles(pipeline, 0, GroupCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get shader group handles: %w", err)
	}
	if uint64(len(handles)) != uint64(GroupCount)*handleSize {
		return nil, fmt.Errorf("got %d bytes of group handles, expected %d", len(handles), uint64(GroupCount)*handleSize)
	}
	handle := func(group uint32) []byte {
		return handles[uint64(group)*handleSize : uint64(group+1)*handleSize]
	}

	total := raygen.Size + miss.Size + hit.Size
	data := make([]byte, total)
	copy(data[0:], handle(GroupRaygen))
	missOffset := raygen.Size
	for i := uint32(0); i < MissGroupCount; i++ {
		copy(data[missOffset+uint64(i)*miss.Stride:], handle(GroupMiss+i))
	}
	hitOffset := raygen.Size + miss.Size
	for i := uint32(0); i < HitGroupCount; i++ {
		copy(data[hitOffset+uint64(i)*hit.Stride:], handle(GroupHit+i))
	}

	buffer, err := ms.Allocate(
		total,
		metadata.BufferUsageShaderBindingTable|metadata.BufferUsageTransferSrc|metadata.BufferUsageShaderDeviceAddress,
		metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent,
		data,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate shader binding table: %w", err)
	}
	if uint64(buffer.Address)%uint64(limits.ShaderGroupBaseAlignment) != 0 {
		buffer.Destroy()
		return nil, fmt.Errorf("shader binding table address 0x%x not aligned to %d", uint64(buffer.Address), limits.ShaderGroupBaseAlignment)
	}

	raygen.Address = buffer.Address
	miss.Address = buffer.Address + metadata.DeviceAddress(missOffset)
	hit.Address = buffer.Address + metadata.DeviceAddress(hitOffset)
	return &ShaderBindingTable{
		Buffer: buffer,
		Raygen: raygen,
		Miss:   miss,
		Hit:    hit,
	}, nil
}

func (sbt *ShaderBindingTable) Destroy() {
	if sbt == nil {
		return
	}
	sbt.Buffer.Destroy()
	sbt.Buffer = nil
}
