package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief Owns the scene textures, the environment cube and the shared
 * samplers. A scene without textures still binds one white texel so the
 * texture array is never empty.
 */
type TextureSystem struct {
	memory *MemorySystem

	Textures    []*Image
	Environment *Image

	Sampler            metadata.SamplerHandle
	EnvironmentSampler metadata.SamplerHandle
}

func NewTextureSystem(ms *MemorySystem) (*TextureSystem, error) {
	device := ms.Device()
	sampler, err := device.CreateSampler(metadata.SamplerCreateInfo{
		Filter:      metadata.FilterLinear,
		AddressMode: metadata.AddressModeRepeat,
	})
	if err != nil {
		err := fmt.Errorf("func NewTextureSystem - failed to create texture sampler: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	envSampler, err := device.CreateSampler(metadata.SamplerCreateInfo{
		Filter:      metadata.FilterLinear,
		AddressMode: metadata.AddressModeClampToEdge,
	})
	if err != nil {
		device.DestroySampler(sampler)
		err := fmt.Errorf("func NewTextureSystem - failed to create environment sampler: %w", err)
		core.LogError(err.Error())
		return nil, err
	}
	return &TextureSystem{
		memory:             ms,
		Sampler:            sampler,
		EnvironmentSampler: envSampler,
	}, nil
}

/**
 * @brief Replaces the current textures and environment with new ones.
 * The previous images are destroyed only after the new set uploaded.
 */
func (ts *TextureSystem) Load(textures []metadata.TextureData, environment metadata.TextureData) error {
	if len(textures) == 0 {
		textures = []metadata.TextureData{defaultTexture()}
	}
	loaded := make([]*Image, 0, len(textures))
	release := func() {
		for _, img := range loaded {
			img.Destroy()
		}
	}
	for i := range textures {
		img, err := ts.Upload(&textures[i])
		if err != nil {
			release()
			return err
		}
		loaded = append(loaded, img)
	}
	if environment.Layers != 6 {
		release()
		return fmt.Errorf("environment %q has %d layers, a cube needs 6", environment.Name, environment.Layers)
	}
	env, err := ts.Upload(&environment)
	if err != nil {
		release()
		return err
	}

	ts.destroyImages()
	ts.Textures = loaded
	ts.Environment = env
	return nil
}

func defaultTexture() metadata.TextureData {
	return metadata.TextureData{
		Name:   "default",
		Width:  1,
		Height: 1,
		Layers: 1,
		Format: metadata.FormatR8G8B8A8Unorm,
		Pixels: []byte{255, 255, 255, 255},
	}
}

/**
 * @brief Uploads texel data through a staging buffer and leaves the image
 * in the shader read-only layout. Six layer textures become cube images.
 */
func (ts *TextureSystem) Upload(data *metadata.TextureData) (*Image, error) {
	layers := max(data.Layers, 1)
	if uint64(len(data.Pixels)) != data.LayerSize()*uint64(layers) {
		return nil, fmt.Errorf("texture %q has %d bytes of pixels, expected %d", data.Name, len(data.Pixels), data.LayerSize()*uint64(layers))
	}

	staging, err := ts.memory.Allocate(
		uint64(len(data.Pixels)),
		metadata.BufferUsageTransferSrc,
		metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent,
		data.Pixels,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate staging buffer for %q: %w", data.Name, err)
	}
	defer staging.Destroy()

	img, err := ts.memory.AllocateImage(metadata.ImageCreateInfo{
		Width:  data.Width,
		Height: data.Height,
		Layers: layers,
		Format: data.Format,
		Usage:  metadata.ImageUsageSampled | metadata.ImageUsageTransferDst,
		Cube:   layers == 6,
	}, metadata.MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, fmt.Errorf("failed to create image for %q: %w", data.Name, err)
	}

	regions := make([]metadata.BufferImageCopy, layers)
	for l := uint32(0); l < layers; l++ {
		regions[l] = metadata.BufferImageCopy{
			BufferOffset: uint64(l) * data.LayerSize(),
			Layer:        l,
			Width:        data.Width,
			Height:       data.Height,
		}
	}

	err = SubmitOnce(ts.memory.Device(), func(cb metadata.CommandBuffer) {
		cb.ImageBarrier(metadata.ImageBarrier{
			Image:     img.Handle,
			OldLayout: metadata.ImageLayoutUndefined,
			NewLayout: metadata.ImageLayoutTransferDst,
			SrcAccess: metadata.AccessNone,
			DstAccess: metadata.AccessTransferWrite,
			SrcStage:  metadata.PipelineStageTopOfPipe,
			DstStage:  metadata.PipelineStageTransfer,
			Layers:    layers,
		})
		cb.CopyBufferToImage(staging.Handle, img.Handle, metadata.ImageLayoutTransferDst, regions)
		cb.ImageBarrier(metadata.ImageBarrier{
			Image:     img.Handle,
			OldLayout: metadata.ImageLayoutTransferDst,
			NewLayout: metadata.ImageLayoutShaderReadOnly,
			SrcAccess: metadata.AccessTransferWrite,
			DstAccess: metadata.AccessShaderRead,
			SrcStage:  metadata.PipelineStageTransfer,
			DstStage:  metadata.PipelineStageRayTracingShader,
			Layers:    layers,
		})
	})
	if err != nil {
		img.Destroy()
		return nil, fmt.Errorf("failed to upload texture %q: %w", data.Name, err)
	}
	core.LogDebug("uploaded texture %q (%dx%d, %d layers)", data.Name, data.Width, data.Height, layers)
	return img, nil
}

// Count is the number of entries in the bound texture array.
func (ts *TextureSystem) Count() uint32 {
	return uint32(len(ts.Textures))
}

func (ts *TextureSystem) Views() []metadata.ImageViewHandle {
	views := make([]metadata.ImageViewHandle, len(ts.Textures))
	for i, img := range ts.Textures {
		views[i] = img.View
	}
	return views
}

// staging returns an empty system sharing this one's samplers.
func (ts *TextureSystem) staging() *TextureSystem {
	return &TextureSystem{
		memory:             ts.memory,
		Sampler:            ts.Sampler,
		EnvironmentSampler: ts.EnvironmentSampler,
	}
}

// adopt destroys the current images and takes over the staged ones.
func (ts *TextureSystem) adopt(staged *TextureSystem) {
	ts.destroyImages()
	ts.Textures = staged.Textures
	ts.Environment = staged.Environment
	staged.Textures = nil
	staged.Environment = nil
}

func (ts *TextureSystem) destroyImages() {
	for _, img := range ts.Textures {
		img.Destroy()
	}
	ts.Textures = nil
	ts.Environment.Destroy()
	ts.Environment = nil
}

func (ts *TextureSystem) Shutdown() error {
	ts.destroyImages()
	device := ts.memory.Device()
	device.DestroySampler(ts.Sampler)
	device.DestroySampler(ts.EnvironmentSampler)
	return nil
}
