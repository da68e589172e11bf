package software

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type setLayout struct {
	bindings map[uint32]metadata.DescriptorBinding
}

type descriptorPool struct {
	maxSets   uint32
	allocated uint32
	remaining map[metadata.DescriptorType]uint32
	sets      []metadata.DescriptorSetHandle
}

type descriptorSet struct {
	layout   metadata.DescriptorSetLayoutHandle
	pool     metadata.DescriptorPoolHandle
	bindings map[uint32]metadata.DescriptorWrite
	// pending counts submissions referencing the set that have not completed.
	pending int
}

func (d *Device) CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.DescriptorSetLayoutHandle, error) {
	l := &setLayout{bindings: make(map[uint32]metadata.DescriptorBinding, len(bindings))}
	for _, b := range bindings {
		if _, dup := l.bindings[b.Binding]; dup {
			return 0, fmt.Errorf("binding %d declared twice", b.Binding)
		}
		if b.Count == 0 {
			return 0, fmt.Errorf("binding %d has a zero descriptor count", b.Binding)
		}
		l.bindings[b.Binding] = b
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.DescriptorSetLayoutHandle(d.nextHandle())
	d.layouts[h] = l
	return h, nil
}

func (d *Device) DestroyDescriptorSetLayout(h metadata.DescriptorSetLayoutHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, h)
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []metadata.DescriptorPoolSize) (metadata.DescriptorPoolHandle, error) {
	p := &descriptorPool{maxSets: maxSets, remaining: make(map[metadata.DescriptorType]uint32)}
	for _, s := range sizes {
		p.remaining[s.Type] += s.Count
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.DescriptorPoolHandle(d.nextHandle())
	d.pools[h] = p
	return h, nil
}

func (d *Device) DestroyDescriptorPool(h metadata.DescriptorPoolHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pools[h]; ok {
		for _, s := range p.sets {
			delete(d.sets, s)
		}
	}
	delete(d.pools, h)
}

func (d *Device) AllocateDescriptorSets(ph metadata.DescriptorPoolHandle, lh metadata.DescriptorSetLayoutHandle, count uint32) ([]metadata.DescriptorSetHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[ph]
	if !ok {
		return nil, fmt.Errorf("unknown descriptor pool %d", ph)
	}
	l, ok := d.layouts[lh]
	if !ok {
		return nil, fmt.Errorf("unknown descriptor set layout %d", lh)
	}
	if p.allocated+count > p.maxSets {
		return nil, fmt.Errorf("descriptor pool exhausted: %d sets of %d in use, %d requested", p.allocated, p.maxSets, count)
	}
	need := make(map[metadata.DescriptorType]uint32)
	for _, b := range l.bindings {
		need[b.Type] += b.Count * count
	}
	for t, n := range need {
		if p.remaining[t] < n {
			return nil, fmt.Errorf("descriptor pool out of type %d descriptors: %d left, %d needed", t, p.remaining[t], n)
		}
	}
	for t, n := range need {
		p.remaining[t] -= n
	}
	p.allocated += count

	out := make([]metadata.DescriptorSetHandle, count)
	for i := range out {
		h := metadata.DescriptorSetHandle(d.nextHandle())
		d.sets[h] = &descriptorSet{layout: lh, pool: ph, bindings: make(map[uint32]metadata.DescriptorWrite)}
		p.sets = append(p.sets, h)
		out[i] = h
	}
	return out, nil
}

// validateWrite must be called with d.mu held.
func (d *Device) validateWrite(set *descriptorSet, w *metadata.DescriptorWrite) error {
	l, ok := d.layouts[set.layout]
	if !ok {
		return fmt.Errorf("set layout %d destroyed", set.layout)
	}
	b, ok := l.bindings[w.Binding]
	if !ok {
		return fmt.Errorf("binding %d not in set layout", w.Binding)
	}
	if b.Type != w.Type {
		return fmt.Errorf("binding %d declared with type %d, written with %d", w.Binding, b.Type, w.Type)
	}
	if n := w.Count(); n == 0 || n > b.Count {
		return fmt.Errorf("binding %d holds %d descriptors, write covers %d", w.Binding, b.Count, n)
	}
	switch w.Type {
	case metadata.DescriptorTypeAccelerationStructure:
		for _, a := range w.Accels {
			if _, ok := d.accels[a]; !ok {
				return fmt.Errorf("binding %d: unknown acceleration structure %d", w.Binding, a)
			}
		}
	case metadata.DescriptorTypeUniformBuffer, metadata.DescriptorTypeStorageBuffer:
		want := metadata.BufferUsageStorageBuffer
		if w.Type == metadata.DescriptorTypeUniformBuffer {
			want = metadata.BufferUsageUniformBuffer
		}
		for _, bi := range w.Buffers {
			buf, ok := d.buffers[bi.Buffer]
			if !ok {
				return fmt.Errorf("binding %d: unknown buffer %d", w.Binding, bi.Buffer)
			}
			if !buf.usage.Has(want) {
				return fmt.Errorf("binding %d: buffer %d lacks the usage for descriptor type %d", w.Binding, bi.Buffer, w.Type)
			}
		}
	case metadata.DescriptorTypeSampler:
		for _, ii := range w.Images {
			if _, ok := d.samplers[ii.Sampler]; !ok {
				return fmt.Errorf("binding %d: unknown sampler %d", w.Binding, ii.Sampler)
			}
		}
	case metadata.DescriptorTypeStorageImage, metadata.DescriptorTypeSampledImage:
		want := metadata.ImageLayoutShaderReadOnly
		if w.Type == metadata.DescriptorTypeStorageImage {
			want = metadata.ImageLayoutGeneral
		}
		for _, ii := range w.Images {
			if _, ok := d.views[ii.View]; !ok {
				return fmt.Errorf("binding %d: unknown image view %d", w.Binding, ii.View)
			}
			if ii.Layout != want {
				return fmt.Errorf("binding %d: image written in layout %s, expected %s", w.Binding, ii.Layout, want)
			}
		}
	}
	return nil
}

func (d *Device) UpdateDescriptorSets(writes []metadata.DescriptorWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range writes {
		w := &writes[i]
		set, ok := d.sets[w.Set]
		if !ok {
			return fmt.Errorf("write to unknown descriptor set %d", w.Set)
		}
		if set.pending > 0 {
			return fmt.Errorf("descriptor set %d updated while in use by %d pending submissions", w.Set, set.pending)
		}
		if err := d.validateWrite(set, w); err != nil {
			return err
		}
	}
	for _, w := range writes {
		stored := metadata.DescriptorWrite{
			Set:     w.Set,
			Binding: w.Binding,
			Type:    w.Type,
			Buffers: append([]metadata.DescriptorBufferInfo(nil), w.Buffers...),
			Images:  append([]metadata.DescriptorImageInfo(nil), w.Images...),
			Accels:  append([]metadata.AccelHandle(nil), w.Accels...),
		}
		d.sets[w.Set].bindings[w.Binding] = stored
	}
	return nil
}

func (d *Device) DescriptorContents(h metadata.DescriptorSetHandle, binding uint32) (metadata.DescriptorWrite, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.sets[h]
	if !ok {
		return metadata.DescriptorWrite{}, false
	}
	w, ok := set.bindings[binding]
	return w, ok
}
