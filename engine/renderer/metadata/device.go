package metadata

/**
 * @brief The ray tracing limits a physical device reports. They are
 * queried once when the device is created.
 */
type RayTracingLimits struct {
	ShaderGroupHandleSize      uint32
	ShaderGroupHandleAlignment uint32
	ShaderGroupBaseAlignment   uint32
	MaxRayRecursionDepth       uint32
}

type MemoryType struct {
	Flags     MemoryProperty
	HeapIndex uint32
}

type MemoryProperties struct {
	Types []MemoryType
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type BufferCreateInfo struct {
	Size  uint64
	Usage BufferUsage
}

type MemoryAllocateInfo struct {
	Size      uint64
	TypeIndex uint32
	/** @brief Allocates with the device-address allocate flag. */
	DeviceAddress bool
}

type ImageCreateInfo struct {
	Width  uint32
	Height uint32
	/** @brief Number of array layers; 6 for a cube. */
	Layers uint32
	Format Format
	Usage  ImageUsage
	Cube   bool
}

type ImageViewCreateInfo struct {
	Image  ImageHandle
	Format Format
	Layers uint32
	Cube   bool
}

type SamplerCreateInfo struct {
	Filter      Filter
	AddressMode AddressMode
	/** @brief Zero disables anisotropic filtering. */
	MaxAnisotropy float32
	MaxLod        float32
}

type BufferImageCopy struct {
	BufferOffset uint64
	Layer        uint32
	Width        uint32
	Height       uint32
}

type ImageBarrier struct {
	Image     ImageHandle
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess Access
	DstAccess Access
	SrcStage  PipelineStage
	DstStage  PipelineStage
	/** @brief Number of layers covered, starting at 0. Zero covers a single layer. */
	Layers uint32
}

type BufferBarrier struct {
	Buffer    BufferHandle
	SrcAccess Access
	DstAccess Access
	SrcStage  PipelineStage
	DstStage  PipelineStage
	Offset    uint64
	Size      uint64
}

type SubmitInfo struct {
	CommandBuffer CommandBuffer
	/** @brief Semaphore waited on before WaitStage runs. Zero for none. */
	WaitSemaphore SemaphoreHandle
	WaitStage     PipelineStage
	/** @brief Semaphore signaled on completion. Zero for none. */
	SignalSemaphore SemaphoreHandle
	/** @brief Fence signaled on completion. Zero for none. */
	Fence FenceHandle
}

/**
 * @brief The device abstraction the render systems are written against.
 * Every create call has a matching destroy; nothing is reference counted.
 */
type Device interface {
	Name() string
	Limits() RayTracingLimits
	MemoryProperties() MemoryProperties

	CreateBuffer(info BufferCreateInfo) (BufferHandle, MemoryRequirements, error)
	DestroyBuffer(buffer BufferHandle)
	AllocateMemory(info MemoryAllocateInfo) (MemoryHandle, error)
	FreeMemory(memory MemoryHandle)
	BindBufferMemory(buffer BufferHandle, memory MemoryHandle) error
	BufferDeviceAddress(buffer BufferHandle) DeviceAddress
	// MapMemory returns a slice aliasing the mapped range. It is valid until UnmapMemory.
	MapMemory(memory MemoryHandle, offset, size uint64) ([]byte, error)
	UnmapMemory(memory MemoryHandle)
	FlushMemory(memory MemoryHandle, offset, size uint64) error

	CreateImage(info ImageCreateInfo) (ImageHandle, MemoryRequirements, error)
	DestroyImage(image ImageHandle)
	BindImageMemory(image ImageHandle, memory MemoryHandle) error
	CreateImageView(info ImageViewCreateInfo) (ImageViewHandle, error)
	DestroyImageView(view ImageViewHandle)
	CreateSampler(info SamplerCreateInfo) (SamplerHandle, error)
	DestroySampler(sampler SamplerHandle)

	AccelBuildSizes(info *AccelBuildInfo) (AccelBuildSizes, error)
	CreateAccel(kind AccelKind, buffer BufferHandle, size uint64) (AccelHandle, error)
	DestroyAccel(accel AccelHandle)
	AccelDeviceAddress(accel AccelHandle) DeviceAddress

	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayoutHandle, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayoutHandle)
	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPoolHandle, error)
	DestroyDescriptorPool(pool DescriptorPoolHandle)
	AllocateDescriptorSets(pool DescriptorPoolHandle, layout DescriptorSetLayoutHandle, count uint32) ([]DescriptorSetHandle, error)
	UpdateDescriptorSets(writes []DescriptorWrite) error
	// DescriptorContents returns the last write recorded for a binding of a set.
	DescriptorContents(set DescriptorSetHandle, binding uint32) (DescriptorWrite, bool)

	CreateShaderModule(code []byte) (ShaderModuleHandle, error)
	DestroyShaderModule(module ShaderModuleHandle)
	CreatePipelineLayout(layout DescriptorSetLayoutHandle) (PipelineLayoutHandle, error)
	DestroyPipelineLayout(layout PipelineLayoutHandle)
	CreateRayTracingPipeline(info RayTracingPipelineInfo) (PipelineHandle, error)
	DestroyPipeline(pipeline PipelineHandle)
	ShaderGroupHandles(pipeline PipelineHandle, firstGroup, groupCount uint32) ([]byte, error)

	CreateFence(signaled bool) (FenceHandle, error)
	DestroyFence(fence FenceHandle)
	// WaitForFence returns core.ErrFenceTimeout when the timeout (in nanoseconds) elapses.
	WaitForFence(fence FenceHandle, timeout uint64) error
	ResetFence(fence FenceHandle) error
	CreateSemaphore() (SemaphoreHandle, error)
	DestroySemaphore(semaphore SemaphoreHandle)

	AllocateCommandBuffer() (CommandBuffer, error)
	Submit(info SubmitInfo) error
	WaitIdle() error

	Destroy()
}

/**
 * @brief A primary command buffer allocated from the device's graphics pool.
 */
type CommandBuffer interface {
	Begin(singleUse bool) error
	End() error
	Reset() error

	ImageBarrier(barrier ImageBarrier)
	BufferBarrier(barrier BufferBarrier)

	BuildAccel(info *AccelBuildInfo, dst AccelHandle, scratch DeviceAddress)
	BindPipeline(pipeline PipelineHandle)
	BindDescriptorSet(layout PipelineLayoutHandle, set DescriptorSetHandle)
	TraceRays(raygen, miss, hit, callable StridedRegion, width, height, depth uint32)

	CopyImageToBuffer(image ImageHandle, layout ImageLayout, buffer BufferHandle, region BufferImageCopy)
	CopyBufferToImage(buffer BufferHandle, image ImageHandle, layout ImageLayout, regions []BufferImageCopy)

	Free()
}

/**
 * @brief A presentable image chain. Acquire and Present return
 * core.ErrSwapchainOutOfDate or core.ErrSwapchainSuboptimal when the chain
 * no longer matches the surface.
 */
type Swapchain interface {
	Acquire(timeout uint64, signal SemaphoreHandle) (uint32, error)
	Present(imageIndex uint32, wait SemaphoreHandle) error
	Images() []ImageHandle
	Views() []ImageViewHandle
	Format() Format
	Extent() (width, height uint32)
	Recreate(width, height uint32) error
	Destroy()
}

/**
 * @brief The window the interactive loop drives.
 */
type Window interface {
	ShouldClose() bool
	PollEvents()
	FramebufferSize() (width, height uint32)
}
