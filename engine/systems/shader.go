package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/** @brief Fixed shader group indices of the ray tracing pipeline. */
const (
	GroupRaygen uint32 = iota
	GroupMiss
	GroupShadowMiss
	GroupHit
	GroupCount
)

/** @brief Number of records in the miss region: the main miss and the shadow miss. */
const MissGroupCount = 2

/** @brief Number of records in the hit region. */
const HitGroupCount = 1

/**
 * @brief The shader modules of one pipeline, its stage list and its group
 * list. Stage i always holds ShaderKind(i).
 */
type ShaderStages struct {
	Stages []metadata.ShaderStageInfo
	Groups []metadata.ShaderGroup

	device metadata.Device
}

/**
 * @brief Creates a module for each of the five programs and lays out the
 * fixed groups: general raygen, general miss, general shadow miss and a
 * triangle hit group with closest hit and any hit.
 */
func PrepareShaders(device metadata.Device, binaries map[metadata.ShaderKind][]byte) (*ShaderStages, error) {
	ss := &ShaderStages{device: device}
	for kind := metadata.ShaderKindRaygen; kind < metadata.ShaderKindCount; kind++ {
		code, ok := binaries[kind]
		if !ok {
			ss.Destroy()
			return nil, fmt.Errorf("missing %s shader binary", kind)
		}
		module, err := device.CreateShaderModule(code)
		if err != nil {
			ss.Destroy()
			return nil, fmt.Errorf("failed to create %s shader module: %w", kind, err)
		}
		ss.Stages = append(ss.Stages, metadata.ShaderStageInfo{
			Kind:       kind,
			Stage:      kind.Stage(),
			Module:     module,
			EntryPoint: metadata.DefaultShaderEntryPoint,
		})
	}

	general := func(stage metadata.ShaderKind) metadata.ShaderGroup {
		return metadata.ShaderGroup{
			Type:         metadata.ShaderGroupGeneral,
			General:      uint32(stage),
			ClosestHit:   metadata.ShaderUnused,
			AnyHit:       metadata.ShaderUnused,
			Intersection: metadata.ShaderUnused,
		}
	}
	ss.Groups = []metadata.ShaderGroup{
		GroupRaygen:     general(metadata.ShaderKindRaygen),
		GroupMiss:       general(metadata.ShaderKindMiss),
		GroupShadowMiss: general(metadata.ShaderKindShadowMiss),
		GroupHit: {
			Type:         metadata.ShaderGroupTrianglesHit,
			General:      metadata.ShaderUnused,
			ClosestHit:   uint32(metadata.ShaderKindClosestHit),
			AnyHit:       uint32(metadata.ShaderKindAnyHit),
			Intersection: metadata.ShaderUnused,
		},
	}
	return ss, nil
}

/**
 * @brief Creates the ray tracing pipeline from prepared stages. A zero
 * recursion depth uses the default of 2: primary rays plus one shadow ray.
 */
func CreatePipeline(device metadata.Device, layout metadata.PipelineLayoutHandle, stages *ShaderStages, maxRecursion uint32) (metadata.PipelineHandle, error) {
	if maxRecursion == 0 {
		maxRecursion = metadata.DefaultMaxRayRecursionDepth
	}
	if limit := device.Limits().MaxRayRecursionDepth; maxRecursion > limit {
		return 0, fmt.Errorf("recursion depth %d exceeds the device limit of %d", maxRecursion, limit)
	}
	pipeline, err := device.CreateRayTracingPipeline(metadata.RayTracingPipelineInfo{
		Stages:            stages.Stages,
		Groups:            stages.Groups,
		MaxRecursionDepth: maxRecursion,
		Layout:            layout,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create ray tracing pipeline: %w", err)
	}
	core.LogDebug("created ray tracing pipeline with %d stages, %d groups, recursion %d", len(stages.Stages), len(stages.Groups), maxRecursion)
	return pipeline, nil
}

// Destroy releases the shader modules. The pipeline keeps working without them.
func (ss *ShaderStages) Destroy() {
	if ss == nil || ss.device == nil {
		return
	}
	for _, s := range ss.Stages {
		ss.device.DestroyShaderModule(s.Module)
	}
	ss.Stages = nil
	ss.device = nil
}
