package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// SurfaceFunc creates a window surface for the given vk.Instance and returns
// the raw VkSurfaceKHR. glfw's Window.CreateWindowSurface has this shape.
type SurfaceFunc func(instance interface{}) (uintptr, error)

type Options struct {
	AppName    string
	Validation bool
	// Prefer a discrete GPU when more than one device qualifies.
	PreferDiscrete bool
	// Pointer to vkGetInstanceProcAddr. Nil loads the system Vulkan loader.
	ProcAddr unsafe.Pointer
	// Nil creates an offscreen device without presentation support.
	Surface            SurfaceFunc
	InstanceExtensions []string
}

/**
 * @brief The Vulkan implementation of metadata.Device. Objects are kept in
 * per kind registries so the render systems only ever see uint64 handles.
 */
type Device struct {
	context *VulkanContext
	locks   *VulkanLockPool

	memoryProperties metadata.MemoryProperties

	buffers         *registry[*vulkanBuffer]
	memories        *registry[*vulkanMemory]
	images          *registry[*VulkanImage]
	views           *registry[vk.ImageView]
	samplers        *registry[vk.Sampler]
	accels          *registry[*vulkanAccel]
	setLayouts      *registry[vk.DescriptorSetLayout]
	pools           *registry[*vulkanDescriptorPool]
	sets            *registry[*vulkanDescriptorSet]
	modules         *registry[vk.ShaderModule]
	pipelineLayouts *registry[vk.PipelineLayout]
	pipelines       *registry[vk.Pipeline]
	fences          *registry[*VulkanFence]
	semaphores      *registry[vk.Semaphore]
	commandBuffers  *registry[*VulkanCommandBuffer]
}

var _ metadata.Device = (*Device)(nil)

func New(opts Options) (*Device, error) {
	context, err := newContext(opts)
	if err != nil {
		return nil, err
	}
	if err := DeviceCreate(context, opts.PreferDiscrete); err != nil {
		DeviceDestroy(context)
		context.destroy()
		return nil, err
	}

	d := &Device{
		context:         context,
		locks:           NewVulkanLockPool(),
		buffers:         newRegistry[*vulkanBuffer](),
		memories:        newRegistry[*vulkanMemory](),
		images:          newRegistry[*VulkanImage](),
		views:           newRegistry[vk.ImageView](),
		samplers:        newRegistry[vk.Sampler](),
		accels:          newRegistry[*vulkanAccel](),
		setLayouts:      newRegistry[vk.DescriptorSetLayout](),
		pools:           newRegistry[*vulkanDescriptorPool](),
		sets:            newRegistry[*vulkanDescriptorSet](),
		modules:         newRegistry[vk.ShaderModule](),
		pipelineLayouts: newRegistry[vk.PipelineLayout](),
		pipelines:       newRegistry[vk.Pipeline](),
		fences:          newRegistry[*VulkanFence](),
		semaphores:      newRegistry[vk.Semaphore](),
		commandBuffers:  newRegistry[*VulkanCommandBuffer](),
	}
	d.locks.SetQueueFamily(uint32(context.Device.GraphicsQueueIndex))
	if context.Device.PresentQueueIndex >= 0 {
		d.locks.SetQueueFamily(uint32(context.Device.PresentQueueIndex))
	}

	mem := context.Device.Memory
	for i := uint32(0); i < mem.MemoryTypeCount; i++ {
		mem.MemoryTypes[i].Deref()
		d.memoryProperties.Types = append(d.memoryProperties.Types, metadata.MemoryType{
			Flags:     metadata.MemoryProperty(mem.MemoryTypes[i].PropertyFlags),
			HeapIndex: mem.MemoryTypes[i].HeapIndex,
		})
	}

	core.LogInfo("Vulkan ray tracing device initialized successfully.")
	return d, nil
}

func (d *Device) logical() vk.Device {
	return d.context.Device.LogicalDevice
}

func (d *Device) allocator() *vk.AllocationCallbacks {
	return d.context.Allocator
}

func (d *Device) Name() string {
	return d.context.Device.Name
}

func (d *Device) Limits() metadata.RayTracingLimits {
	return d.context.Device.Limits
}

func (d *Device) MemoryProperties() metadata.MemoryProperties {
	return d.memoryProperties
}

func (d *Device) Submit(info metadata.SubmitInfo) error {
	cb, ok := info.CommandBuffer.(*VulkanCommandBuffer)
	if !ok || cb.Handle == nil {
		return fmt.Errorf("submit of a command buffer from another device")
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	if info.WaitSemaphore != 0 {
		s, ok := d.semaphores.get(uint64(info.WaitSemaphore))
		if !ok {
			return fmt.Errorf("submit waits on unknown semaphore %d", info.WaitSemaphore)
		}
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{s}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(info.WaitStage)}
	}
	if info.SignalSemaphore != 0 {
		s, ok := d.semaphores.get(uint64(info.SignalSemaphore))
		if !ok {
			return fmt.Errorf("submit signals unknown semaphore %d", info.SignalSemaphore)
		}
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{s}
	}
	fence := vk.NullFence
	var vf *VulkanFence
	if info.Fence != 0 {
		f, ok := d.fences.get(uint64(info.Fence))
		if !ok {
			return fmt.Errorf("submit signals unknown fence %d", info.Fence)
		}
		vf = f
		fence = f.Handle
	}

	queueIndex := uint32(d.context.Device.GraphicsQueueIndex)
	err := d.locks.SafeQueueCall(queueIndex, func() error {
		if res := vk.QueueSubmit(d.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
			return resultError("vkQueueSubmit", res)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if vf != nil {
		vf.submitted()
	}
	cb.UpdateSubmitted()
	return nil
}

func (d *Device) WaitIdle() error {
	return d.locks.SafeAllQueuesCall(func() error {
		if res := vk.DeviceWaitIdle(d.logical()); res != vk.Success {
			return resultError("vkDeviceWaitIdle", res)
		}
		return nil
	})
}

// Live reports the number of buffers, memory allocations, images and
// acceleration structures still alive.
func (d *Device) Live() (buffers, memories, images, accels int) {
	return d.buffers.len(), d.memories.len(), d.images.len(), d.accels.len()
}

/**
 * @brief Drains the device and destroys whatever the render systems left
 * behind, in the opposite order of creation.
 */
func (d *Device) Destroy() {
	if d.context == nil {
		return
	}
	if err := d.WaitIdle(); err != nil {
		core.LogWarn("failed to drain the device before destroy: %s", err)
	}
	dev, alloc := d.logical(), d.allocator()

	for _, cb := range d.commandBuffers.drain() {
		cb.free(d)
	}
	for _, s := range d.semaphores.drain() {
		vk.DestroySemaphore(dev, s, alloc)
	}
	for _, f := range d.fences.drain() {
		f.FenceDestroy(d.context)
	}
	for _, p := range d.pipelines.drain() {
		vk.DestroyPipeline(dev, p, alloc)
	}
	for _, l := range d.pipelineLayouts.drain() {
		vk.DestroyPipelineLayout(dev, l, alloc)
	}
	for _, m := range d.modules.drain() {
		vk.DestroyShaderModule(dev, m, alloc)
	}
	d.sets.drain()
	for _, p := range d.pools.drain() {
		vk.DestroyDescriptorPool(dev, p.handle, alloc)
	}
	for _, l := range d.setLayouts.drain() {
		vk.DestroyDescriptorSetLayout(dev, l, alloc)
	}
	for _, a := range d.accels.drain() {
		d.context.rt.destroyAccel(dev, a.handle)
	}
	for _, s := range d.samplers.drain() {
		vk.DestroySampler(dev, s, alloc)
	}
	for _, v := range d.views.drain() {
		vk.DestroyImageView(dev, v, alloc)
	}
	for _, img := range d.images.drain() {
		img.destroy(d)
	}
	for _, b := range d.buffers.drain() {
		vk.DestroyBuffer(dev, b.handle, alloc)
	}
	for _, m := range d.memories.drain() {
		m.free(d)
	}

	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(d.context)
	d.context.destroy()
	d.context = nil
}
