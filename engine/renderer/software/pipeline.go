package software

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// handleMagic tags the first word of every shader group handle the device hands out.
const handleMagic uint32 = 0x41525453

type pipeline struct {
	handle metadata.PipelineHandle
	info   metadata.RayTracingPipelineInfo
}

func (d *Device) CreateShaderModule(code []byte) (metadata.ShaderModuleHandle, error) {
	if len(code) < 20 || len(code)%4 != 0 {
		return 0, fmt.Errorf("shader code of %d bytes is not a SPIR-V module", len(code))
	}
	if binary.LittleEndian.Uint32(code) != metadata.SPIRVMagic {
		return 0, errors.New("shader code lacks the SPIR-V magic number")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.ShaderModuleHandle(d.nextHandle())
	d.modules[h] = append([]byte(nil), code...)
	return h, nil
}

func (d *Device) DestroyShaderModule(h metadata.ShaderModuleHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.modules, h)
}

func (d *Device) CreatePipelineLayout(l metadata.DescriptorSetLayoutHandle) (metadata.PipelineLayoutHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.layouts[l]; !ok {
		return 0, fmt.Errorf("unknown descriptor set layout %d", l)
	}
	h := metadata.PipelineLayoutHandle(d.nextHandle())
	d.pipelineLayouts[h] = l
	return h, nil
}

func (d *Device) DestroyPipelineLayout(h metadata.PipelineLayoutHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelineLayouts, h)
}

func stageAt(stages []metadata.ShaderStageInfo, idx uint32, want metadata.ShaderStage) error {
	if idx == metadata.ShaderUnused {
		return nil
	}
	if int(idx) >= len(stages) {
		return fmt.Errorf("stage index %d out of range", idx)
	}
	if stages[idx].Stage&want == 0 {
		return fmt.Errorf("stage %d is %#x, expected %#x", idx, stages[idx].Stage, want)
	}
	return nil
}

func (d *Device) CreateRayTracingPipeline(info metadata.RayTracingPipelineInfo) (metadata.PipelineHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pipelineLayouts[info.Layout]; !ok {
		return 0, fmt.Errorf("unknown pipeline layout %d", info.Layout)
	}
	if info.MaxRecursionDepth == 0 || info.MaxRecursionDepth > d.opts.Limits.MaxRayRecursionDepth {
		return 0, fmt.Errorf("recursion depth %d outside [1, %d]", info.MaxRecursionDepth, d.opts.Limits.MaxRayRecursionDepth)
	}
	for i, s := range info.Stages {
		if _, ok := d.modules[s.Module]; !ok {
			return 0, fmt.Errorf("stage %d uses unknown shader module %d", i, s.Module)
		}
		if s.EntryPoint == "" {
			return 0, fmt.Errorf("stage %d has no entry point", i)
		}
	}
	for i, g := range info.Groups {
		var err error
		switch g.Type {
		case metadata.ShaderGroupGeneral:
			if g.General == metadata.ShaderUnused {
				err = errors.New("general group without a shader")
			} else {
				err = stageAt(info.Stages, g.General, metadata.ShaderStageRaygen|metadata.ShaderStageMiss|metadata.ShaderStageCallable)
			}
			if err == nil && (g.ClosestHit != metadata.ShaderUnused || g.AnyHit != metadata.ShaderUnused || g.Intersection != metadata.ShaderUnused) {
				err = errors.New("general group references hit shaders")
			}
		case metadata.ShaderGroupTrianglesHit:
			if g.General != metadata.ShaderUnused || g.Intersection != metadata.ShaderUnused {
				err = errors.New("triangle hit group references general or intersection shaders")
			}
			if err == nil {
				err = stageAt(info.Stages, g.ClosestHit, metadata.ShaderStageClosestHit)
			}
			if err == nil {
				err = stageAt(info.Stages, g.AnyHit, metadata.ShaderStageAnyHit)
			}
		default:
			err = errors.New("procedural hit groups are not supported")
		}
		if err != nil {
			return 0, fmt.Errorf("group %d: %w", i, err)
		}
	}
	h := metadata.PipelineHandle(d.nextHandle())
	captured := info
	captured.Stages = append([]metadata.ShaderStageInfo(nil), info.Stages...)
	captured.Groups = append([]metadata.ShaderGroup(nil), info.Groups...)
	d.pipelines[h] = &pipeline{handle: h, info: captured}
	return h, nil
}

func (d *Device) DestroyPipeline(h metadata.PipelineHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, h)
}

// ShaderGroupHandles encodes each handle as magic, group index and pipeline handle.
func (d *Device) ShaderGroupHandles(h metadata.PipelineHandle, first, count uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pipelines[h]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %d", h)
	}
	if int(first+count) > len(p.info.Groups) {
		return nil, fmt.Errorf("groups [%d, %d) out of range of %d", first, first+count, len(p.info.Groups))
	}
	size := d.opts.Limits.ShaderGroupHandleSize
	if size < 16 {
		return nil, fmt.Errorf("handle size %d too small to encode a group", size)
	}
	out := make([]byte, count*size)
	for i := uint32(0); i < count; i++ {
		rec := out[i*size:]
		binary.LittleEndian.PutUint32(rec[0:], handleMagic)
		binary.LittleEndian.PutUint32(rec[4:], first+i)
		binary.LittleEndian.PutUint64(rec[8:], uint64(h))
	}
	return out, nil
}

// decodeHandle resolves a handle record read from shader binding table memory.
func (d *Device) decodeHandle(rec []byte, p *pipeline) (metadata.ShaderGroup, error) {
	if binary.LittleEndian.Uint32(rec[0:]) != handleMagic {
		return metadata.ShaderGroup{}, errors.New("shader binding table record does not hold a group handle")
	}
	group := binary.LittleEndian.Uint32(rec[4:])
	if metadata.PipelineHandle(binary.LittleEndian.Uint64(rec[8:])) != p.handle {
		return metadata.ShaderGroup{}, errors.New("shader group handle belongs to another pipeline")
	}
	if int(group) >= len(p.info.Groups) {
		return metadata.ShaderGroup{}, fmt.Errorf("group index %d out of range", group)
	}
	return p.info.Groups[group], nil
}

/**
 * @brief Header only SPIR-V modules for the five stages. The device runs
 * its built-in programs and never reads module code, so these stand in
 * when no compiled shaders are on disk.
 */
func BuiltinShaders() map[metadata.ShaderKind][]byte {
	out := make(map[metadata.ShaderKind][]byte, metadata.ShaderKindCount)
	for kind := metadata.ShaderKindRaygen; kind < metadata.ShaderKindCount; kind++ {
		code := make([]byte, 20)
		binary.LittleEndian.PutUint32(code, metadata.SPIRVMagic)
		out[kind] = code
	}
	return out
}
