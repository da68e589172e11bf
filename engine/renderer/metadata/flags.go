package metadata

// The bit values below match the Vulkan enumerants so the Vulkan backend can
// convert them with a plain cast.

type BufferUsage uint32

const (
	BufferUsageTransferSrc             BufferUsage = 0x00000001
	BufferUsageTransferDst             BufferUsage = 0x00000002
	BufferUsageUniformBuffer           BufferUsage = 0x00000010
	BufferUsageStorageBuffer           BufferUsage = 0x00000020
	BufferUsageIndexBuffer             BufferUsage = 0x00000040
	BufferUsageVertexBuffer            BufferUsage = 0x00000080
	BufferUsageShaderBindingTable      BufferUsage = 0x00000400
	BufferUsageShaderDeviceAddress     BufferUsage = 0x00020000
	BufferUsageAccelBuildInputReadOnly BufferUsage = 0x00080000
	BufferUsageAccelStorage            BufferUsage = 0x00100000
)

func (u BufferUsage) Has(bits BufferUsage) bool { return u&bits == bits }

type MemoryProperty uint32

const (
	MemoryPropertyDeviceLocal  MemoryProperty = 0x1
	MemoryPropertyHostVisible  MemoryProperty = 0x2
	MemoryPropertyHostCoherent MemoryProperty = 0x4
	MemoryPropertyHostCached   MemoryProperty = 0x8

	MemoryPropertyHost = MemoryPropertyHostVisible | MemoryPropertyHostCoherent
)

func (p MemoryProperty) Has(bits MemoryProperty) bool { return p&bits == bits }

type ImageUsage uint32

const (
	ImageUsageTransferSrc     ImageUsage = 0x01
	ImageUsageTransferDst     ImageUsage = 0x02
	ImageUsageSampled         ImageUsage = 0x04
	ImageUsageStorage         ImageUsage = 0x08
	ImageUsageColorAttachment ImageUsage = 0x10
)

type Format uint32

const (
	FormatUndefined          Format = 0
	FormatR8G8B8A8Unorm      Format = 37
	FormatB8G8R8A8Unorm      Format = 44
	FormatB8G8R8A8Srgb       Format = 50
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Sfloat Format = 109
)

// BytesPerPixel returns the texel size for the formats the renderer uses.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb:
		return 4
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	default:
		return 0
	}
}

type ImageLayout uint32

const (
	ImageLayoutUndefined      ImageLayout = 0
	ImageLayoutGeneral        ImageLayout = 1
	ImageLayoutShaderReadOnly ImageLayout = 5
	ImageLayoutTransferSrc    ImageLayout = 6
	ImageLayoutTransferDst    ImageLayout = 7
	ImageLayoutPresentSrc     ImageLayout = 1000001002
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "undefined"
	case ImageLayoutGeneral:
		return "general"
	case ImageLayoutShaderReadOnly:
		return "shader-read-only"
	case ImageLayoutTransferSrc:
		return "transfer-src"
	case ImageLayoutTransferDst:
		return "transfer-dst"
	case ImageLayoutPresentSrc:
		return "present-src"
	default:
		return "unknown"
	}
}

type ShaderStage uint32

const (
	ShaderStageRaygen       ShaderStage = 0x0100
	ShaderStageAnyHit       ShaderStage = 0x0200
	ShaderStageClosestHit   ShaderStage = 0x0400
	ShaderStageMiss         ShaderStage = 0x0800
	ShaderStageIntersection ShaderStage = 0x1000
	ShaderStageCallable     ShaderStage = 0x2000
)

type DescriptorType uint32

const (
	DescriptorTypeSampler               DescriptorType = 0
	DescriptorTypeSampledImage          DescriptorType = 2
	DescriptorTypeStorageImage          DescriptorType = 3
	DescriptorTypeUniformBuffer         DescriptorType = 6
	DescriptorTypeStorageBuffer         DescriptorType = 7
	DescriptorTypeAccelerationStructure DescriptorType = 1000150000
)

type PipelineStage uint32

const (
	PipelineStageTopOfPipe        PipelineStage = 0x00000001
	PipelineStageTransfer         PipelineStage = 0x00001000
	PipelineStageBottomOfPipe     PipelineStage = 0x00002000
	PipelineStageHost             PipelineStage = 0x00004000
	PipelineStageAllCommands      PipelineStage = 0x00010000
	PipelineStageRayTracingShader PipelineStage = 0x00200000
	PipelineStageAccelBuild       PipelineStage = 0x02000000
)

type Access uint32

const (
	AccessNone          Access = 0
	AccessShaderRead    Access = 0x00000020
	AccessShaderWrite   Access = 0x00000040
	AccessTransferRead  Access = 0x00000800
	AccessTransferWrite Access = 0x00001000
	AccessHostRead      Access = 0x00002000
	AccessMemoryRead    Access = 0x00008000
	AccessMemoryWrite   Access = 0x00010000
	AccessAccelRead     Access = 0x00200000
	AccessAccelWrite    Access = 0x00400000
)

type Filter uint32

const (
	FilterNearest Filter = 0
	FilterLinear  Filter = 1
)

type AddressMode uint32

const (
	AddressModeRepeat      AddressMode = 0
	AddressModeClampToEdge AddressMode = 2
)
