package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VK_PIPELINE_BIND_POINT_RAY_TRACING_KHR
const pipelineBindPointRayTracing = vk.PipelineBindPoint(1000165000)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	device *Device
	id     uint64
}

var _ metadata.CommandBuffer = (*VulkanCommandBuffer)(nil)

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	level := vk.CommandBufferLevelSecondary
	if isPrimary {
		level = vk.CommandBufferLevelPrimary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		return nil, resultError("vkAllocateCommandBuffers", res)
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY
	return vCommandBuffer, nil
}

func (d *Device) AllocateCommandBuffer() (metadata.CommandBuffer, error) {
	var cb *VulkanCommandBuffer
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		var err error
		cb, err = NewVulkanCommandBuffer(d.context, d.context.Device.GraphicsCommandPool, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	cb.device = d
	cb.id = d.commandBuffers.add(cb)
	return cb, nil
}

func (v *VulkanCommandBuffer) free(d *Device) {
	if v.Handle == nil {
		return
	}
	_ = d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(d.logical(), d.context.Device.GraphicsCommandPool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Free() {
	if v.device == nil {
		return
	}
	if _, ok := v.device.commandBuffers.take(v.id); ok {
		v.free(v.device)
	}
}

func (v *VulkanCommandBuffer) Begin(singleUse bool) error {
	if v.State == COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("command buffer is already recording")
	}
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}
	if singleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	err := v.device.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
			return resultError("vkBeginCommandBuffer", res)
		}
		return nil
	})
	if err != nil {
		core.LogError("failed to begin command buffer: %s", err)
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("command buffer is not recording")
	}
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return resultError("vkEndCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() error {
	err := v.device.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
			return resultError("vkResetCommandBuffer", res)
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) ImageBarrier(barrier metadata.ImageBarrier) {
	img, ok := v.device.images.get(uint64(barrier.Image))
	if !ok {
		core.LogWarn("barrier on unknown image %d skipped", barrier.Image)
		return
	}
	b := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(barrier.SrcAccess),
		DstAccessMask:       vk.AccessFlags(barrier.DstAccess),
		OldLayout:           vk.ImageLayout(barrier.OldLayout),
		NewLayout:           vk.ImageLayout(barrier.NewLayout),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange:    colorRange(barrier.Layers),
	}
	vk.CmdPipelineBarrier(v.Handle,
		vk.PipelineStageFlags(barrier.SrcStage), vk.PipelineStageFlags(barrier.DstStage),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{b})
}

func (v *VulkanCommandBuffer) BufferBarrier(barrier metadata.BufferBarrier) {
	buf, ok := v.device.buffers.get(uint64(barrier.Buffer))
	if !ok {
		core.LogWarn("barrier on unknown buffer %d skipped", barrier.Buffer)
		return
	}
	size := barrier.Size
	if size == 0 || size == metadata.WholeSize {
		size = uint64(vk.WholeSize)
	}
	b := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(barrier.SrcAccess),
		DstAccessMask:       vk.AccessFlags(barrier.DstAccess),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buf.handle,
		Offset:              vk.DeviceSize(barrier.Offset),
		Size:                vk.DeviceSize(size),
	}
	vk.CmdPipelineBarrier(v.Handle,
		vk.PipelineStageFlags(barrier.SrcStage), vk.PipelineStageFlags(barrier.DstStage),
		0, 0, nil, 1, []vk.BufferMemoryBarrier{b}, 0, nil)
}

func (v *VulkanCommandBuffer) BuildAccel(info *metadata.AccelBuildInfo, dst metadata.AccelHandle, scratch metadata.DeviceAddress) {
	a, ok := v.device.accels.get(uint64(dst))
	if !ok {
		core.LogWarn("build of unknown acceleration structure %d skipped", dst)
		return
	}
	v.device.context.rt.cmdBuildAccel(v.Handle, info, a.handle, scratch)
}

func (v *VulkanCommandBuffer) BindPipeline(pipeline metadata.PipelineHandle) {
	p, ok := v.device.pipelines.get(uint64(pipeline))
	if !ok {
		core.LogWarn("bind of unknown pipeline %d skipped", pipeline)
		return
	}
	vk.CmdBindPipeline(v.Handle, pipelineBindPointRayTracing, p)
}

func (v *VulkanCommandBuffer) BindDescriptorSet(layout metadata.PipelineLayoutHandle, set metadata.DescriptorSetHandle) {
	l, ok := v.device.pipelineLayouts.get(uint64(layout))
	if !ok {
		core.LogWarn("bind with unknown pipeline layout %d skipped", layout)
		return
	}
	s, ok := v.device.sets.get(uint64(set))
	if !ok {
		core.LogWarn("bind of unknown descriptor set %d skipped", set)
		return
	}
	vk.CmdBindDescriptorSets(v.Handle, pipelineBindPointRayTracing, l, 0, 1, []vk.DescriptorSet{s.handle}, 0, nil)
}

func (v *VulkanCommandBuffer) TraceRays(raygen, miss, hit, callable metadata.StridedRegion, width, height, depth uint32) {
	v.device.context.rt.cmdTraceRays(v.Handle, raygen, miss, hit, callable, width, height, depth)
}

func toCopyRegion(r metadata.BufferImageCopy) vk.BufferImageCopy {
	return vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(r.BufferOffset),
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: r.Layer,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: r.Width, Height: r.Height, Depth: 1},
	}
}

func (v *VulkanCommandBuffer) CopyImageToBuffer(image metadata.ImageHandle, layout metadata.ImageLayout, buffer metadata.BufferHandle, region metadata.BufferImageCopy) {
	img, ok := v.device.images.get(uint64(image))
	if !ok {
		core.LogWarn("copy from unknown image %d skipped", image)
		return
	}
	buf, ok := v.device.buffers.get(uint64(buffer))
	if !ok {
		core.LogWarn("copy into unknown buffer %d skipped", buffer)
		return
	}
	vk.CmdCopyImageToBuffer(v.Handle, img.Handle, vk.ImageLayout(layout), buf.handle, 1, []vk.BufferImageCopy{toCopyRegion(region)})
}

func (v *VulkanCommandBuffer) CopyBufferToImage(buffer metadata.BufferHandle, image metadata.ImageHandle, layout metadata.ImageLayout, regions []metadata.BufferImageCopy) {
	if len(regions) == 0 {
		return
	}
	buf, ok := v.device.buffers.get(uint64(buffer))
	if !ok {
		core.LogWarn("copy from unknown buffer %d skipped", buffer)
		return
	}
	img, ok := v.device.images.get(uint64(image))
	if !ok {
		core.LogWarn("copy into unknown image %d skipped", image)
		return
	}
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = toCopyRegion(r)
	}
	vk.CmdCopyBufferToImage(v.Handle, buf.handle, img.Handle, vk.ImageLayout(layout), uint32(len(copies)), copies)
}
