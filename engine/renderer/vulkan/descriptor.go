package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type vulkanDescriptorPool struct {
	handle vk.DescriptorPool
}

/**
 * @brief A descriptor set together with the last write applied to each of
 * its bindings, so callers can inspect what a set currently points at.
 */
type vulkanDescriptorSet struct {
	handle vk.DescriptorSet
	pool   metadata.DescriptorPoolHandle

	mu       sync.Mutex
	contents map[uint32]metadata.DescriptorWrite
}

func (d *Device) CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.DescriptorSetLayoutHandle, error) {
	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(d.logical(), &layoutInfo, d.allocator(), &layout); res != vk.Success {
		return 0, resultError("vkCreateDescriptorSetLayout", res)
	}
	return metadata.DescriptorSetLayoutHandle(d.setLayouts.add(layout)), nil
}

func (d *Device) DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayoutHandle) {
	if l, ok := d.setLayouts.take(uint64(layout)); ok {
		vk.DestroyDescriptorSetLayout(d.logical(), l, d.allocator())
	}
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []metadata.DescriptorPoolSize) (metadata.DescriptorPoolHandle, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       maxSets,
	}
	var pool vk.DescriptorPool
	err := d.locks.SafeCall(DescriptorPoolManagement, func() error {
		if res := vk.CreateDescriptorPool(d.logical(), &poolInfo, d.allocator(), &pool); res != vk.Success {
			return resultError("vkCreateDescriptorPool", res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return metadata.DescriptorPoolHandle(d.pools.add(&vulkanDescriptorPool{handle: pool})), nil
}

// DestroyDescriptorPool also forgets every set allocated from the pool.
func (d *Device) DestroyDescriptorPool(pool metadata.DescriptorPoolHandle) {
	p, ok := d.pools.take(uint64(pool))
	if !ok {
		return
	}
	for _, h := range d.sets.keys() {
		if s, ok := d.sets.get(h); ok && s.pool == pool {
			d.sets.take(h)
		}
	}
	_ = d.locks.SafeCall(DescriptorPoolManagement, func() error {
		vk.DestroyDescriptorPool(d.logical(), p.handle, d.allocator())
		return nil
	})
}

func (d *Device) AllocateDescriptorSets(pool metadata.DescriptorPoolHandle, layout metadata.DescriptorSetLayoutHandle, count uint32) ([]metadata.DescriptorSetHandle, error) {
	p, ok := d.pools.get(uint64(pool))
	if !ok {
		return nil, fmt.Errorf("allocation from unknown descriptor pool %d", pool)
	}
	l, ok := d.setLayouts.get(uint64(layout))
	if !ok {
		return nil, fmt.Errorf("allocation with unknown set layout %d", layout)
	}

	out := make([]metadata.DescriptorSetHandle, 0, count)
	err := d.locks.SafeCall(DescriptorPoolManagement, func() error {
		allocateInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     p.handle,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{l},
		}
		for i := uint32(0); i < count; i++ {
			var set vk.DescriptorSet
			if res := vk.AllocateDescriptorSets(d.logical(), &allocateInfo, &set); res != vk.Success {
				return resultError("vkAllocateDescriptorSets", res)
			}
			h := d.sets.add(&vulkanDescriptorSet{
				handle:   set,
				pool:     pool,
				contents: make(map[uint32]metadata.DescriptorWrite),
			})
			out = append(out, metadata.DescriptorSetHandle(h))
		}
		return nil
	})
	if err != nil {
		// Sets go back to the pool when it is destroyed.
		for _, h := range out {
			d.sets.take(uint64(h))
		}
		return nil, err
	}
	return out, nil
}

/**
 * @brief Translates the writes into VkWriteDescriptorSet records and applies
 * them in a single call. Acceleration structure writes carry their handles in
 * a C allocated pNext struct that lives until the call returns.
 */
func (d *Device) UpdateDescriptorSets(writes []metadata.DescriptorWrite) error {
	if len(writes) == 0 {
		return nil
	}
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	targets := make([]*vulkanDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set, ok := d.sets.get(uint64(w.Set))
		if !ok {
			return fmt.Errorf("write to unknown descriptor set %d", w.Set)
		}
		count := w.Count()
		if count == 0 {
			return fmt.Errorf("empty write to binding %d of set %d", w.Binding, w.Set)
		}
		vw := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.handle,
			DstBinding:      w.Binding,
			DstArrayElement: 0,
			DescriptorType:  vk.DescriptorType(w.Type),
			DescriptorCount: count,
		}

		switch w.Type {
		case metadata.DescriptorTypeAccelerationStructure:
			accels := make([]accelHandle, len(w.Accels))
			for i, h := range w.Accels {
				a, ok := d.accels.get(uint64(h))
				if !ok {
					return fmt.Errorf("write of unknown acceleration structure %d", h)
				}
				accels[i] = a.handle
			}
			ext := newAccelWrite(accels)
			defer freeChain(ext)
			vw.PNext = ext
		case metadata.DescriptorTypeUniformBuffer, metadata.DescriptorTypeStorageBuffer:
			infos := make([]vk.DescriptorBufferInfo, len(w.Buffers))
			for i, b := range w.Buffers {
				buf, ok := d.buffers.get(uint64(b.Buffer))
				if !ok {
					return fmt.Errorf("write of unknown buffer %d", b.Buffer)
				}
				rng := b.Range
				if rng == metadata.WholeSize {
					rng = uint64(vk.WholeSize)
				}
				infos[i] = vk.DescriptorBufferInfo{
					Buffer: buf.handle,
					Offset: vk.DeviceSize(b.Offset),
					Range:  vk.DeviceSize(rng),
				}
			}
			vw.PBufferInfo = infos
		default:
			infos := make([]vk.DescriptorImageInfo, len(w.Images))
			for i, img := range w.Images {
				info := vk.DescriptorImageInfo{ImageLayout: vk.ImageLayout(img.Layout)}
				if img.View != 0 {
					v, ok := d.views.get(uint64(img.View))
					if !ok {
						return fmt.Errorf("write of unknown image view %d", img.View)
					}
					info.ImageView = v
				}
				if img.Sampler != 0 {
					s, ok := d.samplers.get(uint64(img.Sampler))
					if !ok {
						return fmt.Errorf("write of unknown sampler %d", img.Sampler)
					}
					info.Sampler = s
				}
				infos[i] = info
			}
			vw.PImageInfo = infos
		}
		vkWrites = append(vkWrites, vw)
		targets = append(targets, set)
	}

	vk.UpdateDescriptorSets(d.logical(), uint32(len(vkWrites)), vkWrites, 0, nil)

	for i, w := range writes {
		set := targets[i]
		set.mu.Lock()
		set.contents[w.Binding] = w
		set.mu.Unlock()
	}
	return nil
}

func (d *Device) DescriptorContents(set metadata.DescriptorSetHandle, binding uint32) (metadata.DescriptorWrite, bool) {
	s, ok := d.sets.get(uint64(set))
	if !ok {
		return metadata.DescriptorWrite{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.contents[binding]
	return w, ok
}
