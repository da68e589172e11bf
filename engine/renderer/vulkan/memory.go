package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type vulkanBuffer struct {
	handle vk.Buffer
	size   uint64
}

type vulkanMemory struct {
	handle vk.DeviceMemory
	size   uint64
	// Base of the current mapping, nil when unmapped.
	mapped unsafe.Pointer
}

func (m *vulkanMemory) free(d *Device) {
	if m.mapped != nil {
		vk.UnmapMemory(d.logical(), m.handle)
		m.mapped = nil
	}
	vk.FreeMemory(d.logical(), m.handle, d.allocator())
}

func toRequirements(reqs vk.MemoryRequirements) metadata.MemoryRequirements {
	reqs.Deref()
	return metadata.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}
}

func (d *Device) CreateBuffer(info metadata.BufferCreateInfo) (metadata.BufferHandle, metadata.MemoryRequirements, error) {
	if info.Size == 0 {
		return 0, metadata.MemoryRequirements{}, fmt.Errorf("buffer size must be positive")
	}
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       vk.BufferUsageFlags(info.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(d.logical(), &createInfo, d.allocator(), &buffer); res != vk.Success {
		return 0, metadata.MemoryRequirements{}, resultError("vkCreateBuffer", res)
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical(), buffer, &reqs)

	h := d.buffers.add(&vulkanBuffer{handle: buffer, size: info.Size})
	return metadata.BufferHandle(h), toRequirements(reqs), nil
}

func (d *Device) DestroyBuffer(buffer metadata.BufferHandle) {
	if b, ok := d.buffers.take(uint64(buffer)); ok {
		vk.DestroyBuffer(d.logical(), b.handle, d.allocator())
	}
}

func (d *Device) AllocateMemory(info metadata.MemoryAllocateInfo) (metadata.MemoryHandle, error) {
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(info.Size),
		MemoryTypeIndex: info.TypeIndex,
	}
	if info.DeviceAddress {
		flags := newAllocateFlags()
		defer freeChain(flags)
		allocateInfo.PNext = flags
	}

	var memory vk.DeviceMemory
	err := d.locks.SafeCall(MemoryManagement, func() error {
		if res := vk.AllocateMemory(d.logical(), &allocateInfo, d.allocator(), &memory); res != vk.Success {
			return resultError("vkAllocateMemory", res)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %d bytes from memory type %d: %w", info.Size, info.TypeIndex, err)
	}
	return metadata.MemoryHandle(d.memories.add(&vulkanMemory{handle: memory, size: info.Size})), nil
}

func (d *Device) FreeMemory(memory metadata.MemoryHandle) {
	if m, ok := d.memories.take(uint64(memory)); ok {
		_ = d.locks.SafeCall(MemoryManagement, func() error {
			m.free(d)
			return nil
		})
	}
}

func (d *Device) BindBufferMemory(buffer metadata.BufferHandle, memory metadata.MemoryHandle) error {
	b, ok := d.buffers.get(uint64(buffer))
	if !ok {
		return fmt.Errorf("bind of unknown buffer %d", buffer)
	}
	m, ok := d.memories.get(uint64(memory))
	if !ok {
		return fmt.Errorf("bind of unknown memory %d", memory)
	}
	if res := vk.BindBufferMemory(d.logical(), b.handle, m.handle, 0); res != vk.Success {
		return resultError("vkBindBufferMemory", res)
	}
	return nil
}

func (d *Device) BufferDeviceAddress(buffer metadata.BufferHandle) metadata.DeviceAddress {
	b, ok := d.buffers.get(uint64(buffer))
	if !ok {
		return 0
	}
	return d.context.rt.bufferAddress(d.logical(), b.handle)
}

func (d *Device) MapMemory(memory metadata.MemoryHandle, offset, size uint64) ([]byte, error) {
	m, ok := d.memories.get(uint64(memory))
	if !ok {
		return nil, fmt.Errorf("map of unknown memory %d", memory)
	}
	if size == metadata.WholeSize {
		size = m.size - offset
	}
	if offset+size > m.size {
		return nil, fmt.Errorf("map of [%d, %d) exceeds allocation of %d bytes", offset, offset+size, m.size)
	}

	var out []byte
	err := d.locks.SafeCall(MemoryManagement, func() error {
		if m.mapped != nil {
			return fmt.Errorf("memory %d is already mapped", memory)
		}
		var ptr unsafe.Pointer
		if res := vk.MapMemory(d.logical(), m.handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr); res != vk.Success {
			return resultError("vkMapMemory", res)
		}
		m.mapped = ptr
		out = unsafe.Slice((*byte)(ptr), size)
		return nil
	})
	return out, err
}

func (d *Device) UnmapMemory(memory metadata.MemoryHandle) {
	m, ok := d.memories.get(uint64(memory))
	if !ok {
		return
	}
	_ = d.locks.SafeCall(MemoryManagement, func() error {
		if m.mapped != nil {
			vk.UnmapMemory(d.logical(), m.handle)
			m.mapped = nil
		}
		return nil
	})
}

// FlushMemory flushes from the atom aligned offset to the end of the
// allocation, which satisfies the nonCoherentAtomSize rules for any range.
func (d *Device) FlushMemory(memory metadata.MemoryHandle, offset, size uint64) error {
	m, ok := d.memories.get(uint64(memory))
	if !ok {
		return fmt.Errorf("flush of unknown memory %d", memory)
	}
	limits := d.context.Device.Properties.Limits
	limits.Deref()
	if atom := uint64(limits.NonCoherentAtomSize); atom > 1 {
		offset -= offset % atom
	}
	r := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: m.handle,
		Offset: vk.DeviceSize(offset),
		Size:   vk.DeviceSize(vk.WholeSize),
	}
	if res := vk.FlushMappedMemoryRanges(d.logical(), 1, []vk.MappedMemoryRange{r}); res != vk.Success {
		return resultError("vkFlushMappedMemoryRanges", res)
	}
	return nil
}
