package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func (d *Device) CreateShaderModule(code []byte) (metadata.ShaderModuleHandle, error) {
	if len(code) < 4 || len(code)%4 != 0 {
		return 0, fmt.Errorf("SPIR-V binary of %d bytes is not a whole number of words", len(code))
	}
	if binary.LittleEndian.Uint32(code) != metadata.SPIRVMagic {
		return 0, fmt.Errorf("SPIR-V binary has a bad magic number")
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(d.logical(), &createInfo, d.allocator(), &module); res != vk.Success {
		return 0, resultError("vkCreateShaderModule", res)
	}
	return metadata.ShaderModuleHandle(d.modules.add(module)), nil
}

func (d *Device) DestroyShaderModule(module metadata.ShaderModuleHandle) {
	if m, ok := d.modules.take(uint64(module)); ok {
		vk.DestroyShaderModule(d.logical(), m, d.allocator())
	}
}

func (d *Device) CreatePipelineLayout(layout metadata.DescriptorSetLayoutHandle) (metadata.PipelineLayoutHandle, error) {
	setLayout, ok := d.setLayouts.get(uint64(layout))
	if !ok {
		return 0, fmt.Errorf("pipeline layout over unknown set layout %d", layout)
	}
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: 0,
		PPushConstantRanges:    nil,
	}
	var pipelineLayout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(d.logical(), &pipelineLayoutCreateInfo, d.allocator(), &pipelineLayout); res != vk.Success {
		return 0, resultError("vkCreatePipelineLayout", res)
	}
	return metadata.PipelineLayoutHandle(d.pipelineLayouts.add(pipelineLayout)), nil
}

func (d *Device) DestroyPipelineLayout(layout metadata.PipelineLayoutHandle) {
	if l, ok := d.pipelineLayouts.take(uint64(layout)); ok {
		vk.DestroyPipelineLayout(d.logical(), l, d.allocator())
	}
}

/**
 * @brief Creates a ray tracing pipeline from the stage and group lists.
 * Every stage must name a live shader module.
 */
func (d *Device) CreateRayTracingPipeline(info metadata.RayTracingPipelineInfo) (metadata.PipelineHandle, error) {
	if len(info.Stages) == 0 || len(info.Groups) == 0 {
		return 0, fmt.Errorf("ray tracing pipeline needs at least one stage and one group")
	}
	modules := make([]vk.ShaderModule, len(info.Stages))
	for i, s := range info.Stages {
		m, ok := d.modules.get(uint64(s.Module))
		if !ok {
			return 0, fmt.Errorf("%s stage uses unknown shader module %d", s.Kind, s.Module)
		}
		modules[i] = m
	}
	layout, ok := d.pipelineLayouts.get(uint64(info.Layout))
	if !ok {
		return 0, fmt.Errorf("ray tracing pipeline uses unknown layout %d", info.Layout)
	}

	depth := info.MaxRecursionDepth
	if max := d.Limits().MaxRayRecursionDepth; depth > max {
		core.LogWarn("Clamping ray recursion depth %d to the device maximum %d.", depth, max)
		depth = max
	}
	info.MaxRecursionDepth = depth

	pipeline, res := d.context.rt.createPipeline(d.logical(), modules, info, layout)
	if res != vk.Success {
		return 0, resultError("vkCreateRayTracingPipelinesKHR", res)
	}
	core.LogDebug("Ray tracing pipeline created with %d stages and %d groups.", len(info.Stages), len(info.Groups))
	return metadata.PipelineHandle(d.pipelines.add(pipeline)), nil
}

func (d *Device) DestroyPipeline(pipeline metadata.PipelineHandle) {
	if p, ok := d.pipelines.take(uint64(pipeline)); ok {
		vk.DestroyPipeline(d.logical(), p, d.allocator())
	}
}

func (d *Device) ShaderGroupHandles(pipeline metadata.PipelineHandle, firstGroup, groupCount uint32) ([]byte, error) {
	p, ok := d.pipelines.get(uint64(pipeline))
	if !ok {
		return nil, fmt.Errorf("group handles of unknown pipeline %d", pipeline)
	}
	if groupCount == 0 {
		return nil, nil
	}
	data := make([]byte, groupCount*d.Limits().ShaderGroupHandleSize)
	if res := d.context.rt.groupHandles(d.logical(), p, firstGroup, groupCount, data); res != vk.Success {
		return nil, resultError("vkGetRayTracingShaderGroupHandlesKHR", res)
	}
	return data, nil
}
