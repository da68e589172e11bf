package metadata

// Handles are opaque to everything above the backend. The zero value is the
// null handle for every kind.
type (
	BufferHandle              uint64
	MemoryHandle              uint64
	ImageHandle               uint64
	ImageViewHandle           uint64
	SamplerHandle             uint64
	AccelHandle               uint64
	DescriptorSetLayoutHandle uint64
	DescriptorPoolHandle      uint64
	DescriptorSetHandle       uint64
	PipelineLayoutHandle      uint64
	PipelineHandle            uint64
	ShaderModuleHandle        uint64
	FenceHandle               uint64
	SemaphoreHandle           uint64
)

/** @brief A GPU virtual address as returned by the buffer device address query. Zero means "no address". */
type DeviceAddress uint64

const (
	/** @brief Waits without a deadline. */
	TimeoutInfinite uint64 = ^uint64(0)
	/** @brief Requests the remainder of a buffer starting at the given offset. */
	WholeSize uint64 = ^uint64(0)
)
