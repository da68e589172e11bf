package systems

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief The resources a descriptor set points at. The output image view is
 * not part of it; it is passed on every UpdateSet.
 */
type BindingResources struct {
	TLAS     *AccelerationStructure
	Uniforms *UniformBuffers
	Scene    *SceneBuffers
	Textures *TextureSystem
}

/**
 * @brief One shape of the ray tracing descriptor set: a layout, the
 * pipeline layout built on it, a pool and the sets allocated from it.
 * A generation is never reshaped; a different texture count needs a new one.
 */
type BindingGeneration struct {
	TextureCount   uint32
	Layout         metadata.DescriptorSetLayoutHandle
	PipelineLayout metadata.PipelineLayoutHandle
	Pool           metadata.DescriptorPoolHandle
	Sets           []metadata.DescriptorSetHandle

	bindings  []metadata.DescriptorBinding
	resources *BindingResources
	device    metadata.Device
}

// LayoutBindings returns the binding table for a texture array of the given size.
func LayoutBindings(textureCount uint32) []metadata.DescriptorBinding {
	const (
		rgen  = metadata.ShaderStageRaygen
		rchit = metadata.ShaderStageClosestHit
		rahit = metadata.ShaderStageAnyHit
		rmiss = metadata.ShaderStageMiss
	)
	return []metadata.DescriptorBinding{
		{Binding: metadata.BindingTLAS, Type: metadata.DescriptorTypeAccelerationStructure, Count: 1, Stages: rgen | rchit},
		{Binding: metadata.BindingOutputImage, Type: metadata.DescriptorTypeStorageImage, Count: 1, Stages: rgen},
		{Binding: metadata.BindingScene, Type: metadata.DescriptorTypeUniformBuffer, Count: 1, Stages: rgen | rchit | rmiss},
		{Binding: metadata.BindingVertices, Type: metadata.DescriptorTypeStorageBuffer, Count: 1, Stages: rchit | rahit},
		{Binding: metadata.BindingIndices, Type: metadata.DescriptorTypeStorageBuffer, Count: 1, Stages: rchit | rahit},
		{Binding: metadata.BindingMaterials, Type: metadata.DescriptorTypeStorageBuffer, Count: 1, Stages: rchit | rahit},
		{Binding: metadata.BindingMaterialIndices, Type: metadata.DescriptorTypeStorageBuffer, Count: 1, Stages: rchit | rahit},
		{Binding: metadata.BindingTextures, Type: metadata.DescriptorTypeSampledImage, Count: textureCount, Stages: rgen | rchit | rahit},
		{Binding: metadata.BindingSampler, Type: metadata.DescriptorTypeSampler, Count: 1, Stages: rgen | rchit | rahit},
		{Binding: metadata.BindingEnvironment, Type: metadata.DescriptorTypeSampledImage, Count: 1, Stages: rmiss},
		{Binding: metadata.BindingEnvironmentSampler, Type: metadata.DescriptorTypeSampler, Count: 1, Stages: rmiss},
	}
}

/**
 * @brief Creates a new binding generation: the set layout and the pipeline
 * layout for textureCount textures. Sets come from AllocateSets.
 */
func CreateLayout(device metadata.Device, textureCount uint32) (*BindingGeneration, error) {
	if textureCount == 0 {
		return nil, errors.New("texture count must be at least 1")
	}
	bindings := LayoutBindings(textureCount)
	layout, err := device.CreateDescriptorSetLayout(bindings)
	if err != nil {
		return nil, fmt.Errorf("failed to create descriptor set layout: %w", err)
	}
	pipelineLayout, err := device.CreatePipelineLayout(layout)
	if err != nil {
		device.DestroyDescriptorSetLayout(layout)
		return nil, fmt.Errorf("failed to create pipeline layout: %w", err)
	}
	return &BindingGeneration{
		TextureCount:   textureCount,
		Layout:         layout,
		PipelineLayout: pipelineLayout,
		bindings:       bindings,
		device:         device,
	}, nil
}

/**
 * @brief Creates a pool sized for count sets of this layout and allocates them.
 */
func (bg *BindingGeneration) AllocateSets(count uint32) error {
	if bg.Pool != 0 {
		return errors.New("sets already allocated for this binding generation")
	}
	if count == 0 {
		return errors.New("set count must be at least 1")
	}
	perType := make(map[metadata.DescriptorType]uint32)
	var order []metadata.DescriptorType
	for _, b := range bg.bindings {
		if _, seen := perType[b.Type]; !seen {
			order = append(order, b.Type)
		}
		perType[b.Type] += b.Count
	}
	sizes := make([]metadata.DescriptorPoolSize, 0, len(order))
	for _, t := range order {
		sizes = append(sizes, metadata.DescriptorPoolSize{Type: t, Count: perType[t] * count})
	}

	pool, err := bg.device.CreateDescriptorPool(count, sizes)
	if err != nil {
		return fmt.Errorf("failed to create descriptor pool: %w", err)
	}
	sets, err := bg.device.AllocateDescriptorSets(pool, bg.Layout, count)
	if err != nil {
		bg.device.DestroyDescriptorPool(pool)
		return fmt.Errorf("failed to allocate %d descriptor sets: %w", count, err)
	}
	bg.Pool = pool
	bg.Sets = sets
	return nil
}

/**
 * @brief Sets the resources later UpdateSet calls write. The texture system
 * must hold exactly TextureCount textures.
 */
func (bg *BindingGeneration) AttachResources(res *BindingResources) error {
	if res.TLAS == nil || res.Uniforms == nil || res.Scene == nil || res.Textures == nil {
		return errors.New("binding resources are incomplete")
	}
	if res.Textures.Count() != bg.TextureCount {
		return fmt.Errorf("generation holds %d textures, %d given", bg.TextureCount, res.Textures.Count())
	}
	if res.Uniforms.Count() < uint32(len(bg.Sets)) {
		return fmt.Errorf("%d uniform buffers for %d sets", res.Uniforms.Count(), len(bg.Sets))
	}
	bg.resources = res
	return nil
}

func wholeBuffer(b *Buffer) []metadata.DescriptorBufferInfo {
	return []metadata.DescriptorBufferInfo{{Buffer: b.Handle, Offset: 0, Range: metadata.WholeSize}}
}

/**
 * @brief Writes every binding of a slot's set in one batched update. Must
 * be called again whenever the output view of the slot changes.
 */
func (bg *BindingGeneration) UpdateSet(slot uint32, outputView metadata.ImageViewHandle) error {
	if int(slot) >= len(bg.Sets) {
		return fmt.Errorf("slot %d outside the %d allocated sets", slot, len(bg.Sets))
	}
	res := bg.resources
	if res == nil {
		return errors.New("no resources attached to the binding generation")
	}
	set := bg.Sets[slot]

	textures := make([]metadata.DescriptorImageInfo, 0, bg.TextureCount)
	for _, view := range res.Textures.Views() {
		textures = append(textures, metadata.DescriptorImageInfo{View: view, Layout: metadata.ImageLayoutShaderReadOnly})
	}

	writes := []metadata.DescriptorWrite{
		{Set: set, Binding: metadata.BindingTLAS, Type: metadata.DescriptorTypeAccelerationStructure, Accels: []metadata.AccelHandle{res.TLAS.Handle}},
		{Set: set, Binding: metadata.BindingOutputImage, Type: metadata.DescriptorTypeStorageImage, Images: []metadata.DescriptorImageInfo{{View: outputView, Layout: metadata.ImageLayoutGeneral}}},
		{Set: set, Binding: metadata.BindingScene, Type: metadata.DescriptorTypeUniformBuffer, Buffers: wholeBuffer(res.Uniforms.Buffer(slot))},
		{Set: set, Binding: metadata.BindingVertices, Type: metadata.DescriptorTypeStorageBuffer, Buffers: wholeBuffer(res.Scene.Vertices)},
		{Set: set, Binding: metadata.BindingIndices, Type: metadata.DescriptorTypeStorageBuffer, Buffers: wholeBuffer(res.Scene.Indices)},
		{Set: set, Binding: metadata.BindingMaterials, Type: metadata.DescriptorTypeStorageBuffer, Buffers: wholeBuffer(res.Scene.Materials)},
		{Set: set, Binding: metadata.BindingMaterialIndices, Type: metadata.DescriptorTypeStorageBuffer, Buffers: wholeBuffer(res.Scene.MaterialIndices)},
		{Set: set, Binding: metadata.BindingTextures, Type: metadata.DescriptorTypeSampledImage, Images: textures},
		{Set: set, Binding: metadata.BindingSampler, Type: metadata.DescriptorTypeSampler, Images: []metadata.DescriptorImageInfo{{Sampler: res.Textures.Sampler}}},
		{Set: set, Binding: metadata.BindingEnvironment, Type: metadata.DescriptorTypeSampledImage, Images: []metadata.DescriptorImageInfo{{View: res.Textures.Environment.View, Layout: metadata.ImageLayoutShaderReadOnly}}},
		{Set: set, Binding: metadata.BindingEnvironmentSampler, Type: metadata.DescriptorTypeSampler, Images: []metadata.DescriptorImageInfo{{Sampler: res.Textures.EnvironmentSampler}}},
	}
	if err := bg.device.UpdateDescriptorSets(writes); err != nil {
		return fmt.Errorf("failed to update descriptor set for slot %d: %w", slot, err)
	}
	return nil
}

// Binding reads back what the last update recorded for a binding of a slot's set.
func (bg *BindingGeneration) Binding(slot uint32, index uint32) (metadata.DescriptorWrite, bool) {
	if int(slot) >= len(bg.Sets) {
		return metadata.DescriptorWrite{}, false
	}
	return bg.device.DescriptorContents(bg.Sets[slot], index)
}

/**
 * @brief Destroys the pool (and with it the sets), the pipeline layout and
 * the set layout. The caller waits for the device to go idle first.
 */
func (bg *BindingGeneration) Destroy() {
	if bg == nil || bg.device == nil {
		return
	}
	if bg.Pool != 0 {
		bg.device.DestroyDescriptorPool(bg.Pool)
	}
	bg.device.DestroyPipelineLayout(bg.PipelineLayout)
	bg.device.DestroyDescriptorSetLayout(bg.Layout)
	core.LogDebug("destroyed binding generation with %d textures", bg.TextureCount)
	bg.Sets = nil
	bg.resources = nil
	bg.device = nil
}
