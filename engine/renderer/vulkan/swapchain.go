package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

// Usage of the swapchain images: the raygen shader writes them directly.
const swapchainUsage = vk.ImageUsageStorageBit | vk.ImageUsageTransferDstBit | vk.ImageUsageColorAttachmentBit

/**
 * @brief A presentable chain whose images are registered with the device so
 * they can be bound as storage images and used in barriers.
 */
type VulkanSwapchain struct {
	device *Device

	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	ImageCount  uint32
	// Requested minimum image count, 0 for the surface minimum plus one.
	requested uint32
	width     uint32
	height    uint32

	images []metadata.ImageHandle
	views  []metadata.ImageViewHandle
}

var _ metadata.Swapchain = (*VulkanSwapchain)(nil)

func (d *Device) CreateSwapchain(width, height, imageCount uint32) (*VulkanSwapchain, error) {
	if d.context.Surface == vk.NullSurface {
		return nil, fmt.Errorf("device was created without a surface")
	}
	sc := &VulkanSwapchain{device: d, requested: imageCount}
	if err := sc.create(width, height); err != nil {
		return nil, err
	}
	return sc, nil
}

func (vs *VulkanSwapchain) Images() []metadata.ImageHandle   { return vs.images }
func (vs *VulkanSwapchain) Views() []metadata.ImageViewHandle { return vs.views }
func (vs *VulkanSwapchain) Format() metadata.Format          { return metadata.Format(vs.ImageFormat.Format) }
func (vs *VulkanSwapchain) Extent() (uint32, uint32)         { return vs.width, vs.height }

// Recreate builds a new chain from the old one. The caller drains the device first.
func (vs *VulkanSwapchain) Recreate(width, height uint32) error {
	return vs.create(width, height)
}

func (vs *VulkanSwapchain) Destroy() {
	d := vs.device
	vs.releaseImages()
	if vs.Handle != vk.NullSwapchain {
		_ = d.locks.SafeCall(SwapchainManagement, func() error {
			vk.DestroySwapchain(d.logical(), vs.Handle, d.allocator())
			return nil
		})
		vs.Handle = vk.NullSwapchain
	}
}

func (vs *VulkanSwapchain) Acquire(timeout uint64, signal metadata.SemaphoreHandle) (uint32, error) {
	d := vs.device
	semaphore := vk.NullSemaphore
	if signal != 0 {
		s, ok := d.semaphores.get(uint64(signal))
		if !ok {
			return 0, fmt.Errorf("acquire signals unknown semaphore %d", signal)
		}
		semaphore = s
	}

	var imageIndex uint32
	result := vk.AcquireNextImage(d.logical(), vs.Handle, timeout, semaphore, vk.NullFence, &imageIndex)
	switch result {
	case vk.Success:
		return imageIndex, nil
	case vk.Suboptimal:
		// The semaphore is signaled, so the image is still usable.
		return imageIndex, core.ErrSwapchainSuboptimal
	default:
		return 0, resultError("vkAcquireNextImageKHR", result)
	}
}

func (vs *VulkanSwapchain) Present(imageIndex uint32, wait metadata.SemaphoreHandle) error {
	d := vs.device
	presentInfo := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{vs.Handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if wait != 0 {
		s, ok := d.semaphores.get(uint64(wait))
		if !ok {
			return fmt.Errorf("present waits on unknown semaphore %d", wait)
		}
		presentInfo.WaitSemaphoreCount = 1
		presentInfo.PWaitSemaphores = []vk.Semaphore{s}
	}

	queueIndex := uint32(d.context.Device.PresentQueueIndex)
	return d.locks.SafeQueueCall(queueIndex, func() error {
		if result := vk.QueuePresent(d.context.Device.PresentQueue, &presentInfo); result != vk.Success {
			return resultError("vkQueuePresentKHR", result)
		}
		return nil
	})
}

func (vs *VulkanSwapchain) create(width, height uint32) error {
	d := vs.device
	device := d.context.Device

	// Capabilities change with the window.
	if err := DeviceQuerySwapchainSupport(device.PhysicalDevice, d.context.Surface, &device.SwapchainSupport); err != nil {
		return err
	}
	support := device.SwapchainSupport
	caps := support.Capabilities
	if vk.ImageUsageFlags(swapchainUsage)&caps.SupportedUsageFlags != vk.ImageUsageFlags(swapchainUsage) {
		return fmt.Errorf("surface does not support storage image usage for its swapchain")
	}

	// Choose a swap surface format. sRGB formats cannot be storage images.
	vs.ImageFormat = support.Formats[0]
	for _, format := range support.Formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			vs.ImageFormat = format
			break
		}
	}

	presentMode := vk.PresentModeFifo
	for _, mode := range support.PresentModes {
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	// Swapchain extent
	extent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	extent.Width = max(caps.MinImageExtent.Width, min(extent.Width, caps.MaxImageExtent.Width))
	extent.Height = max(caps.MinImageExtent.Height, min(extent.Height, caps.MaxImageExtent.Height))
	if extent.Width == 0 || extent.Height == 0 {
		return core.ErrSwapchainBooting
	}

	imageCount := caps.MinImageCount + 1
	if vs.requested > imageCount {
		imageCount = vs.requested
	}
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      vs.ImageFormat.Format,
		ImageColorSpace:  vs.ImageFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(swapchainUsage),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     vs.Handle,
	}

	// Setup the queue family indices
	if device.GraphicsQueueIndex != device.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(device.GraphicsQueueIndex),
			uint32(device.PresentQueueIndex),
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	err := d.locks.SafeCall(SwapchainManagement, func() error {
		if res := vk.CreateSwapchain(d.logical(), &swapchainCreateInfo, d.allocator(), &handle); res != vk.Success {
			return resultError("vkCreateSwapchainKHR", res)
		}
		// The retired chain can go as soon as the new one exists.
		if vs.Handle != vk.NullSwapchain {
			vs.releaseImages()
			vk.DestroySwapchain(d.logical(), vs.Handle, d.allocator())
		}
		return nil
	})
	if err != nil {
		return err
	}
	vs.Handle = handle
	vs.width, vs.height = extent.Width, extent.Height

	var count uint32
	if res := vk.GetSwapchainImages(d.logical(), vs.Handle, &count, nil); res != vk.Success {
		return resultError("vkGetSwapchainImagesKHR", res)
	}
	images := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(d.logical(), vs.Handle, &count, images); res != vk.Success {
		return resultError("vkGetSwapchainImagesKHR", res)
	}
	vs.ImageCount = count

	format := metadata.Format(vs.ImageFormat.Format)
	for _, image := range images {
		h := d.images.add(&VulkanImage{
			Handle: image,
			Width:  extent.Width,
			Height: extent.Height,
			Layers: 1,
			Format: format,
		})
		view, err := d.createView(image, format, 1, false)
		if err != nil {
			return fmt.Errorf("failed to create swapchain image view: %w", err)
		}
		vs.images = append(vs.images, metadata.ImageHandle(h))
		vs.views = append(vs.views, metadata.ImageViewHandle(d.views.add(view)))
	}

	core.LogInfo("Swapchain created: %dx%d, %d images.", extent.Width, extent.Height, count)
	return nil
}

// releaseImages forgets the chain's images and destroys their views.
func (vs *VulkanSwapchain) releaseImages() {
	d := vs.device
	for _, v := range vs.views {
		d.DestroyImageView(v)
	}
	for _, img := range vs.images {
		d.DestroyImage(img)
	}
	vs.images, vs.views = nil, nil
}
