package metadata

import (
	"encoding/binary"
	"math"

	amath "github.com/spaghettifunk/anima-rt/engine/math"
)

type AccelKind int

const (
	AccelKindBottomLevel AccelKind = iota
	AccelKindTopLevel
)

func (k AccelKind) String() string {
	if k == AccelKindTopLevel {
		return "top-level"
	}
	return "bottom-level"
}

type AccelBuildFlags uint32

const (
	AccelBuildPreferFastTrace AccelBuildFlags = 0x4
	AccelBuildPreferFastBuild AccelBuildFlags = 0x8
)

type IndexType uint32

const (
	IndexTypeUint16 IndexType = 0
	IndexTypeUint32 IndexType = 1
)

/** @brief Triangle geometry for a bottom-level build. */
type AccelTriangles struct {
	VertexFormat Format
	VertexData   DeviceAddress
	VertexStride uint64
	MaxVertex    uint32
	IndexType    IndexType
	IndexData    DeviceAddress
	Opaque       bool
}

/** @brief Instance geometry for a top-level build. Data points at packed AccelInstance records. */
type AccelInstances struct {
	Data DeviceAddress
}

type AccelBuildInfo struct {
	Kind  AccelKind
	Flags AccelBuildFlags
	/** @brief Set for bottom-level builds. */
	Triangles *AccelTriangles
	/** @brief Set for top-level builds. */
	Instances *AccelInstances
	/** @brief Triangle count, or instance count for top-level builds. */
	PrimitiveCount uint32
}

type AccelBuildSizes struct {
	AccelerationStructureSize uint64
	BuildScratchSize          uint64
	UpdateScratchSize         uint64
}

type AccelInstanceFlags uint8

const (
	AccelInstanceTriangleCullDisable AccelInstanceFlags = 0x1
	AccelInstanceForceOpaque         AccelInstanceFlags = 0x4
)

// AccelInstanceSize is the size of one packed instance record.
const AccelInstanceSize = 64

/**
 * @brief One top-level instance. Encodes to the 64 byte
 * VkAccelerationStructureInstanceKHR layout.
 */
type AccelInstance struct {
	Transform amath.Transform3x4
	/** @brief Only the low 24 bits are kept. */
	CustomIndex uint32
	Mask        uint8
	/** @brief Only the low 24 bits are kept. */
	SBTOffset uint32
	Flags     AccelInstanceFlags
	/** @brief Device address of the referenced bottom-level structure. */
	Reference DeviceAddress
}

func (inst *AccelInstance) Encode(dst []byte) {
	_ = dst[AccelInstanceSize-1]
	off := 0
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(inst.Transform.Rows[r][c]))
			off += 4
		}
	}
	binary.LittleEndian.PutUint32(dst[48:], inst.CustomIndex&0xFFFFFF|uint32(inst.Mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], inst.SBTOffset&0xFFFFFF|uint32(inst.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], uint64(inst.Reference))
}

func DecodeAccelInstance(src []byte) AccelInstance {
	_ = src[AccelInstanceSize-1]
	var inst AccelInstance
	off := 0
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			inst.Transform.Rows[r][c] = math.Float32frombits(binary.LittleEndian.Uint32(src[off:]))
			off += 4
		}
	}
	w := binary.LittleEndian.Uint32(src[48:])
	inst.CustomIndex = w & 0xFFFFFF
	inst.Mask = uint8(w >> 24)
	w = binary.LittleEndian.Uint32(src[52:])
	inst.SBTOffset = w & 0xFFFFFF
	inst.Flags = AccelInstanceFlags(w >> 24)
	inst.Reference = DeviceAddress(binary.LittleEndian.Uint64(src[56:]))
	return inst
}
