package metadata

/** @brief Binding indices of the ray tracing descriptor set. Shaders hardcode the same numbers. */
const (
	BindingTLAS uint32 = iota
	BindingOutputImage
	BindingScene
	BindingVertices
	BindingIndices
	BindingMaterials
	BindingMaterialIndices
	BindingTextures
	BindingSampler
	BindingEnvironment
	BindingEnvironmentSampler
	BindingCount
)

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorBufferInfo struct {
	Buffer BufferHandle
	Offset uint64
	Range  uint64
}

type DescriptorImageInfo struct {
	Sampler SamplerHandle
	View    ImageViewHandle
	Layout  ImageLayout
}

/**
 * @brief A write to one binding of a set. Exactly one of Buffers, Images
 * or Accels is populated, according to Type.
 */
type DescriptorWrite struct {
	Set     DescriptorSetHandle
	Binding uint32
	Type    DescriptorType
	Buffers []DescriptorBufferInfo
	Images  []DescriptorImageInfo
	Accels  []AccelHandle
}

// Count returns the number of descriptors the write covers.
func (w *DescriptorWrite) Count() uint32 {
	switch w.Type {
	case DescriptorTypeAccelerationStructure:
		return uint32(len(w.Accels))
	case DescriptorTypeUniformBuffer, DescriptorTypeStorageBuffer:
		return uint32(len(w.Buffers))
	default:
		return uint32(len(w.Images))
	}
}
