package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type VulkanFence struct {
	Handle vk.Fence

	mu         sync.Mutex
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		return nil, resultError("vkCreateFence", res)
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) FenceDestroy(context *VulkanContext) {
	if vf.Handle != nil {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

// submitted marks the fence as pending after a queue submission.
func (vf *VulkanFence) submitted() {
	vf.mu.Lock()
	vf.IsSignaled = false
	vf.mu.Unlock()
}

func (vf *VulkanFence) FenceWait(context *VulkanContext, timeoutNs uint64) error {
	vf.mu.Lock()
	signaled := vf.IsSignaled
	vf.mu.Unlock()
	// If already signaled, do not wait.
	if signaled {
		return nil
	}

	result := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.mu.Lock()
		vf.IsSignaled = true
		vf.mu.Unlock()
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	case vk.ErrorOutOfHostMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_HOST_MEMORY.")
	case vk.ErrorOutOfDeviceMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_DEVICE_MEMORY.")
	default:
		core.LogError("vk_fence_wait - An unknown error has occurred.")
	}
	return resultError("vkWaitForFences", result)
}

func (vf *VulkanFence) FenceReset(context *VulkanContext) error {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if vf.IsSignaled {
		if res := vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
			return resultError("vkResetFences", res)
		}
		vf.IsSignaled = false
	}
	return nil
}

func (d *Device) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	f, err := NewFence(d.context, signaled)
	if err != nil {
		return 0, err
	}
	return metadata.FenceHandle(d.fences.add(f)), nil
}

func (d *Device) DestroyFence(fence metadata.FenceHandle) {
	if f, ok := d.fences.take(uint64(fence)); ok {
		f.FenceDestroy(d.context)
	}
}

func (d *Device) WaitForFence(fence metadata.FenceHandle, timeout uint64) error {
	f, ok := d.fences.get(uint64(fence))
	if !ok {
		return fmt.Errorf("wait on unknown fence %d", fence)
	}
	return f.FenceWait(d.context, timeout)
}

func (d *Device) ResetFence(fence metadata.FenceHandle) error {
	f, ok := d.fences.get(uint64(fence))
	if !ok {
		return fmt.Errorf("reset of unknown fence %d", fence)
	}
	return f.FenceReset(d.context)
}

func (d *Device) CreateSemaphore() (metadata.SemaphoreHandle, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(d.logical(), &semaphoreCreateInfo, d.allocator(), &semaphore); res != vk.Success {
		return 0, resultError("vkCreateSemaphore", res)
	}
	return metadata.SemaphoreHandle(d.semaphores.add(semaphore)), nil
}

func (d *Device) DestroySemaphore(semaphore metadata.SemaphoreHandle) {
	if s, ok := d.semaphores.take(uint64(semaphore)); ok {
		vk.DestroySemaphore(d.logical(), s, d.allocator())
	}
}
