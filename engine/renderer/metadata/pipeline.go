package metadata

/** @brief The five ray tracing programs the pipeline is assembled from. */
type ShaderKind int

const (
	ShaderKindRaygen ShaderKind = iota
	ShaderKindMiss
	ShaderKindShadowMiss
	ShaderKindClosestHit
	ShaderKindAnyHit
	ShaderKindCount
)

func (k ShaderKind) String() string {
	switch k {
	case ShaderKindRaygen:
		return "raygen"
	case ShaderKindMiss:
		return "miss"
	case ShaderKindShadowMiss:
		return "shadow-miss"
	case ShaderKindClosestHit:
		return "closest-hit"
	case ShaderKindAnyHit:
		return "any-hit"
	default:
		return "unknown"
	}
}

func (k ShaderKind) Stage() ShaderStage {
	switch k {
	case ShaderKindRaygen:
		return ShaderStageRaygen
	case ShaderKindMiss, ShaderKindShadowMiss:
		return ShaderStageMiss
	case ShaderKindClosestHit:
		return ShaderStageClosestHit
	default:
		return ShaderStageAnyHit
	}
}

type ShaderStageInfo struct {
	Kind       ShaderKind
	Stage      ShaderStage
	Module     ShaderModuleHandle
	EntryPoint string
}

type ShaderGroupType uint32

const (
	ShaderGroupGeneral       ShaderGroupType = 0
	ShaderGroupTrianglesHit  ShaderGroupType = 1
	ShaderGroupProceduralHit ShaderGroupType = 2
)

const (
	ShaderUnused                uint32 = ^uint32(0)
	DefaultShaderEntryPoint            = "main"
	DefaultMaxRayRecursionDepth uint32 = 2
)

/** @brief A shader group. Stage indices refer to the pipeline stage list; unused slots are ShaderUnused. */
type ShaderGroup struct {
	Type         ShaderGroupType
	General      uint32
	ClosestHit   uint32
	AnyHit       uint32
	Intersection uint32
}

type RayTracingPipelineInfo struct {
	Stages            []ShaderStageInfo
	Groups            []ShaderGroup
	MaxRecursionDepth uint32
	Layout            PipelineLayoutHandle
}

/** @brief One region of the shader binding table as passed to TraceRays. */
type StridedRegion struct {
	Address DeviceAddress
	Stride  uint64
	Size    uint64
}

// End returns the first address past the region.
func (r StridedRegion) End() DeviceAddress {
	return r.Address + DeviceAddress(r.Size)
}
