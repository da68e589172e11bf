package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief A device buffer and the allocation behind it. The buffer owns the
 * allocation; a buffer is never resized, a new one replaces it.
 */
type Buffer struct {
	Handle metadata.BufferHandle
	Memory metadata.MemoryHandle
	Size   uint64
	Usage  metadata.BufferUsage
	/** @brief Non-zero only for buffers created with the device address usage. */
	Address metadata.DeviceAddress

	properties metadata.MemoryProperty
	device     metadata.Device
	mapped     []byte
}

/**
 * @brief A device image, its allocation and a default view.
 */
type Image struct {
	Handle metadata.ImageHandle
	Memory metadata.MemoryHandle
	View   metadata.ImageViewHandle
	Info   metadata.ImageCreateInfo

	device metadata.Device
}

/**
 * @brief Hands out buffers and images. There is no sub-allocation and no
 * free-list: every allocation belongs to exactly one owner.
 */
type MemorySystem struct {
	device     metadata.Device
	properties metadata.MemoryProperties
}

func NewMemorySystem(device metadata.Device) *MemorySystem {
	return &MemorySystem{
		device:     device,
		properties: device.MemoryProperties(),
	}
}

func (ms *MemorySystem) Device() metadata.Device {
	return ms.device
}

// FindMemoryIndex returns the first memory type allowed by typeBits whose
// flags include every requested property.
func FindMemoryIndex(props metadata.MemoryProperties, typeBits uint32, want metadata.MemoryProperty) (uint32, error) {
	for i, t := range props.Types {
		if typeBits&(1<<uint(i)) != 0 && t.Flags.Has(want) {
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("%w: type bits %#b, properties %#x", core.ErrNoSuitableMemoryType, typeBits, want)
}

func (ms *MemorySystem) FindMemoryIndex(typeBits uint32, want metadata.MemoryProperty) (uint32, error) {
	return FindMemoryIndex(ms.properties, typeBits, want)
}

/**
 * @brief Creates a buffer and binds fresh memory to it. Buffers with the
 * device address usage get memory allocated with the device address flag and
 * their address cached. When initialData is given the memory must be host
 * visible; it is mapped, filled and unmapped.
 */
func (ms *MemorySystem) Allocate(size uint64, usage metadata.BufferUsage, properties metadata.MemoryProperty, initialData []byte) (*Buffer, error) {
	if initialData != nil && !properties.Has(metadata.MemoryPropertyHostVisible) {
		return nil, fmt.Errorf("initial data for a buffer that is not host visible")
	}
	handle, req, err := ms.device.CreateBuffer(metadata.BufferCreateInfo{Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer of %d bytes: %w", size, err)
	}
	typeIndex, err := ms.FindMemoryIndex(req.MemoryTypeBits, properties)
	if err != nil {
		ms.device.DestroyBuffer(handle)
		return nil, err
	}
	deviceAddress := usage.Has(metadata.BufferUsageShaderDeviceAddress)
	mem, err := ms.device.AllocateMemory(metadata.MemoryAllocateInfo{
		Size:          req.Size,
		TypeIndex:     typeIndex,
		DeviceAddress: deviceAddress,
	})
	if err != nil {
		ms.device.DestroyBuffer(handle)
		return nil, fmt.Errorf("failed to allocate %d bytes of buffer memory: %w", req.Size, err)
	}
	if err := ms.device.BindBufferMemory(handle, mem); err != nil {
		ms.device.DestroyBuffer(handle)
		ms.device.FreeMemory(mem)
		return nil, fmt.Errorf("failed to bind buffer memory: %w", err)
	}

	b := &Buffer{
		Handle:     handle,
		Memory:     mem,
		Size:       size,
		Usage:      usage,
		properties: properties,
		device:     ms.device,
	}
	if deviceAddress {
		b.Address = ms.device.BufferDeviceAddress(handle)
	}
	if initialData != nil {
		if err := b.Write(0, initialData); err != nil {
			b.Destroy()
			return nil, err
		}
	}
	return b, nil
}

/**
 * @brief Creates an image, binds memory chosen with the same selection rule
 * as buffers, and creates a view covering every layer.
 */
func (ms *MemorySystem) AllocateImage(info metadata.ImageCreateInfo, properties metadata.MemoryProperty) (*Image, error) {
	if info.Layers == 0 {
		info.Layers = 1
	}
	handle, req, err := ms.device.CreateImage(info)
	if err != nil {
		return nil, fmt.Errorf("failed to create %dx%d image: %w", info.Width, info.Height, err)
	}
	typeIndex, err := ms.FindMemoryIndex(req.MemoryTypeBits, properties)
	if err != nil {
		ms.device.DestroyImage(handle)
		return nil, err
	}
	mem, err := ms.device.AllocateMemory(metadata.MemoryAllocateInfo{Size: req.Size, TypeIndex: typeIndex})
	if err != nil {
		ms.device.DestroyImage(handle)
		return nil, fmt.Errorf("failed to allocate image memory: %w", err)
	}
	if err := ms.device.BindImageMemory(handle, mem); err != nil {
		ms.device.DestroyImage(handle)
		ms.device.FreeMemory(mem)
		return nil, fmt.Errorf("failed to bind image memory: %w", err)
	}
	view, err := ms.device.CreateImageView(metadata.ImageViewCreateInfo{
		Image:  handle,
		Format: info.Format,
		Layers: info.Layers,
		Cube:   info.Cube,
	})
	if err != nil {
		ms.device.DestroyImage(handle)
		ms.device.FreeMemory(mem)
		return nil, fmt.Errorf("failed to create image view: %w", err)
	}
	return &Image{Handle: handle, Memory: mem, View: view, Info: info, device: ms.device}, nil
}

// Map keeps the whole buffer mapped until Unmap. Writes go straight to the mapping.
func (b *Buffer) Map() ([]byte, error) {
	if b.mapped != nil {
		return b.mapped, nil
	}
	mapped, err := b.device.MapMemory(b.Memory, 0, b.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to map buffer memory: %w", err)
	}
	b.mapped = mapped
	return mapped, nil
}

func (b *Buffer) Unmap() {
	if b.mapped == nil {
		return
	}
	b.device.UnmapMemory(b.Memory)
	b.mapped = nil
}

// Write copies data at offset, mapping the buffer for the duration if it is not mapped.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.Size {
		return fmt.Errorf("write of %d bytes at %d overruns buffer of %d bytes", len(data), offset, b.Size)
	}
	if b.mapped != nil {
		copy(b.mapped[offset:], data)
		return nil
	}
	mapped, err := b.device.MapMemory(b.Memory, offset, uint64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to map buffer memory: %w", err)
	}
	copy(mapped, data)
	var flushErr error
	if !b.properties.Has(metadata.MemoryPropertyHostCoherent) {
		flushErr = b.device.FlushMemory(b.Memory, offset, uint64(len(data)))
	}
	b.device.UnmapMemory(b.Memory)
	return flushErr
}

// Read returns a copy of size bytes at offset.
func (b *Buffer) Read(offset, size uint64) ([]byte, error) {
	if offset+size > b.Size {
		return nil, fmt.Errorf("read of %d bytes at %d overruns buffer of %d bytes", size, offset, b.Size)
	}
	if b.mapped != nil {
		return append([]byte(nil), b.mapped[offset:offset+size]...), nil
	}
	mapped, err := b.device.MapMemory(b.Memory, offset, size)
	if err != nil {
		return nil, fmt.Errorf("failed to map buffer memory: %w", err)
	}
	out := append([]byte(nil), mapped...)
	b.device.UnmapMemory(b.Memory)
	return out, nil
}

// Flush makes host writes to a mapped range visible to the device.
func (b *Buffer) Flush(offset, size uint64) error {
	if b.mapped == nil {
		return fmt.Errorf("flush of buffer %d that is not mapped", b.Handle)
	}
	return b.device.FlushMemory(b.Memory, offset, size)
}

func (b *Buffer) Destroy() {
	if b == nil || b.device == nil {
		return
	}
	b.Unmap()
	b.device.DestroyBuffer(b.Handle)
	b.device.FreeMemory(b.Memory)
	b.device = nil
}

func (img *Image) Destroy() {
	if img == nil || img.device == nil {
		return
	}
	img.device.DestroyImageView(img.View)
	img.device.DestroyImage(img.Handle)
	img.device.FreeMemory(img.Memory)
	img.device = nil
}
