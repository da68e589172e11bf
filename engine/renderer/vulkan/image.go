package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type VulkanImage struct {
	Handle vk.Image
	Width  uint32
	Height uint32
	Layers uint32
	Format metadata.Format
	// Swapchain images belong to the swapchain and are never destroyed here.
	owned bool
}

func (img *VulkanImage) destroy(d *Device) {
	if img.owned && img.Handle != nil {
		vk.DestroyImage(d.logical(), img.Handle, d.allocator())
	}
	img.Handle = nil
}

func colorRange(layers uint32) vk.ImageSubresourceRange {
	if layers == 0 {
		layers = 1
	}
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     layers,
	}
}

func (d *Device) CreateImage(info metadata.ImageCreateInfo) (metadata.ImageHandle, metadata.MemoryRequirements, error) {
	if info.Width == 0 || info.Height == 0 {
		return 0, metadata.MemoryRequirements{}, fmt.Errorf("image extent %dx%d is empty", info.Width, info.Height)
	}
	layers := info.Layers
	if layers == 0 {
		layers = 1
	}
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.Format(info.Format),
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if info.Cube {
		createInfo.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}

	var image vk.Image
	if res := vk.CreateImage(d.logical(), &createInfo, d.allocator(), &image); res != vk.Success {
		return 0, metadata.MemoryRequirements{}, resultError("vkCreateImage", res)
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logical(), image, &reqs)

	h := d.images.add(&VulkanImage{
		Handle: image,
		Width:  info.Width,
		Height: info.Height,
		Layers: layers,
		Format: info.Format,
		owned:  true,
	})
	return metadata.ImageHandle(h), toRequirements(reqs), nil
}

func (d *Device) DestroyImage(image metadata.ImageHandle) {
	if img, ok := d.images.take(uint64(image)); ok {
		img.destroy(d)
	}
}

func (d *Device) BindImageMemory(image metadata.ImageHandle, memory metadata.MemoryHandle) error {
	img, ok := d.images.get(uint64(image))
	if !ok {
		return fmt.Errorf("bind of unknown image %d", image)
	}
	m, ok := d.memories.get(uint64(memory))
	if !ok {
		return fmt.Errorf("bind of unknown memory %d", memory)
	}
	if res := vk.BindImageMemory(d.logical(), img.Handle, m.handle, 0); res != vk.Success {
		return resultError("vkBindImageMemory", res)
	}
	return nil
}

func (d *Device) CreateImageView(info metadata.ImageViewCreateInfo) (metadata.ImageViewHandle, error) {
	img, ok := d.images.get(uint64(info.Image))
	if !ok {
		return 0, fmt.Errorf("view of unknown image %d", info.Image)
	}
	view, err := d.createView(img.Handle, info.Format, info.Layers, info.Cube)
	if err != nil {
		return 0, err
	}
	return metadata.ImageViewHandle(d.views.add(view)), nil
}

func (d *Device) createView(image vk.Image, format metadata.Format, layers uint32, cube bool) (vk.ImageView, error) {
	viewType := vk.ImageViewType2d
	if cube {
		viewType = vk.ImageViewTypeCube
		layers = 6
	}
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            image,
		ViewType:         viewType,
		Format:           vk.Format(format),
		SubresourceRange: colorRange(layers),
	}
	var view vk.ImageView
	if res := vk.CreateImageView(d.logical(), &viewCreateInfo, d.allocator(), &view); res != vk.Success {
		return nil, resultError("vkCreateImageView", res)
	}
	return view, nil
}

func (d *Device) DestroyImageView(view metadata.ImageViewHandle) {
	if v, ok := d.views.take(uint64(view)); ok {
		vk.DestroyImageView(d.logical(), v, d.allocator())
	}
}

func (d *Device) CreateSampler(info metadata.SamplerCreateInfo) (metadata.SamplerHandle, error) {
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.Filter(info.Filter),
		MinFilter:               vk.Filter(info.Filter),
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            vk.SamplerAddressMode(info.AddressMode),
		AddressModeV:            vk.SamplerAddressMode(info.AddressMode),
		AddressModeW:            vk.SamplerAddressMode(info.AddressMode),
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0.0,
		MaxLod:                  info.MaxLod,
	}
	if info.MaxAnisotropy > 1 && d.context.Device.Features.SamplerAnisotropy == vk.True {
		limits := d.context.Device.Properties.Limits
		limits.Deref()
		samplerInfo.AnisotropyEnable = vk.True
		samplerInfo.MaxAnisotropy = min(info.MaxAnisotropy, limits.MaxSamplerAnisotropy)
	}

	var sampler vk.Sampler
	if res := vk.CreateSampler(d.logical(), &samplerInfo, d.allocator(), &sampler); res != vk.Success {
		return 0, resultError("vkCreateSampler", res)
	}
	return metadata.SamplerHandle(d.samplers.add(sampler)), nil
}

func (d *Device) DestroySampler(sampler metadata.SamplerHandle) {
	if s, ok := d.samplers.take(uint64(sampler)); ok {
		vk.DestroySampler(d.logical(), s, d.allocator())
	}
}
