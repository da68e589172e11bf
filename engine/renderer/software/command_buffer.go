package software

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type commandBufferState int

const (
	commandBufferStateReady commandBufferState = iota
	commandBufferStateRecording
	commandBufferStateRecordingEnded
	commandBufferStateSubmitted
	commandBufferStateNotAllocated
)

type execState struct {
	pipeline *pipeline
	layout   metadata.PipelineLayoutHandle
	set      *descriptorSet
}

type command func(st *execState) error

/**
 * @brief A recorded command list, replayed on the queue goroutine at submit.
 */
type CommandBuffer struct {
	dev       *Device
	id        uint64
	mu        sync.Mutex
	state     commandBufferState
	singleUse bool
	commands  []command
	sets      []*descriptorSet
	err       error
}

func (cb *CommandBuffer) ID() uint64 {
	return cb.id
}

func (cb *CommandBuffer) Begin(singleUse bool) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	// A recorded buffer is implicitly reset by Begin.
	if cb.state != commandBufferStateReady && cb.state != commandBufferStateRecordingEnded {
		return fmt.Errorf("command buffer %d begun in state %d", cb.id, cb.state)
	}
	cb.state = commandBufferStateRecording
	cb.singleUse = singleUse
	cb.commands = cb.commands[:0]
	cb.sets = cb.sets[:0]
	cb.err = nil
	cb.dev.timeline.record(EventCommandBegin, cb.id, 0)
	return nil
}

func (cb *CommandBuffer) End() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != commandBufferStateRecording {
		return fmt.Errorf("command buffer %d ended while not recording", cb.id)
	}
	cb.state = commandBufferStateRecordingEnded
	return cb.err
}

func (cb *CommandBuffer) Reset() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case commandBufferStateSubmitted:
		return fmt.Errorf("command buffer %d reset while pending execution", cb.id)
	case commandBufferStateNotAllocated:
		return fmt.Errorf("command buffer %d reset after free", cb.id)
	}
	cb.state = commandBufferStateReady
	cb.commands = cb.commands[:0]
	cb.sets = cb.sets[:0]
	return nil
}

func (cb *CommandBuffer) Free() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = commandBufferStateNotAllocated
	cb.commands = nil
}

func (cb *CommandBuffer) record(c command) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != commandBufferStateRecording {
		if cb.err == nil {
			cb.err = fmt.Errorf("command recorded into command buffer %d while not recording", cb.id)
		}
		return
	}
	cb.commands = append(cb.commands, c)
}

func (cb *CommandBuffer) markPending() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != commandBufferStateRecordingEnded {
		return fmt.Errorf("command buffer %d submitted in state %d", cb.id, cb.state)
	}
	cb.state = commandBufferStateSubmitted
	return nil
}

func (cb *CommandBuffer) clearPending() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != commandBufferStateSubmitted {
		return
	}
	if cb.singleUse {
		cb.state = commandBufferStateReady
	} else {
		cb.state = commandBufferStateRecordingEnded
	}
}

func (cb *CommandBuffer) boundSets() []*descriptorSet {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return append([]*descriptorSet(nil), cb.sets...)
}

func (cb *CommandBuffer) execute() error {
	cb.mu.Lock()
	commands := append([]command(nil), cb.commands...)
	cb.mu.Unlock()

	st := &execState{}
	for i, c := range commands {
		if err := c(st); err != nil {
			return fmt.Errorf("command buffer %d, command %d: %w", cb.id, i, err)
		}
	}
	return nil
}

func layerRange(layers, total uint32) uint32 {
	if layers == 0 {
		return 1
	}
	if layers > total {
		return total
	}
	return layers
}

func (cb *CommandBuffer) ImageBarrier(b metadata.ImageBarrier) {
	d := cb.dev
	cb.record(func(*execState) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		img, ok := d.images[b.Image]
		if !ok {
			return fmt.Errorf("barrier on unknown image %d", b.Image)
		}
		n := layerRange(b.Layers, img.info.Layers)
		for l := uint32(0); l < n; l++ {
			cur := img.layouts[l]
			if b.OldLayout != metadata.ImageLayoutUndefined && b.OldLayout != cur {
				return fmt.Errorf("image %d layer %d transitioned from %s but is in %s", b.Image, l, b.OldLayout, cur)
			}
			img.layouts[l] = b.NewLayout
		}
		return nil
	})
}

func (cb *CommandBuffer) BufferBarrier(b metadata.BufferBarrier) {
	d := cb.dev
	cb.record(func(*execState) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.buffers[b.Buffer]; !ok {
			return fmt.Errorf("barrier on unknown buffer %d", b.Buffer)
		}
		return nil
	})
}

func (cb *CommandBuffer) BuildAccel(info *metadata.AccelBuildInfo, dst metadata.AccelHandle, scratch metadata.DeviceAddress) {
	d := cb.dev
	captured := *info
	cb.record(func(*execState) error {
		return d.buildAccel(&captured, dst, scratch)
	})
}

func (cb *CommandBuffer) BindPipeline(h metadata.PipelineHandle) {
	d := cb.dev
	cb.record(func(st *execState) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		p, ok := d.pipelines[h]
		if !ok {
			return fmt.Errorf("bind of unknown pipeline %d", h)
		}
		st.pipeline = p
		return nil
	})
}

func (cb *CommandBuffer) BindDescriptorSet(layout metadata.PipelineLayoutHandle, h metadata.DescriptorSetHandle) {
	d := cb.dev
	d.mu.Lock()
	set := d.sets[h]
	d.mu.Unlock()
	if set != nil {
		cb.mu.Lock()
		cb.sets = append(cb.sets, set)
		cb.mu.Unlock()
	}
	cb.record(func(st *execState) error {
		if set == nil {
			return fmt.Errorf("bind of unknown descriptor set %d", h)
		}
		d.mu.Lock()
		setLayout, ok := d.pipelineLayouts[layout]
		d.mu.Unlock()
		if !ok {
			return fmt.Errorf("bind with unknown pipeline layout %d", layout)
		}
		if setLayout != set.layout {
			return errors.New("descriptor set layout does not match the pipeline layout")
		}
		st.layout = layout
		st.set = set
		return nil
	})
}

func (cb *CommandBuffer) TraceRays(raygen, miss, hit, callable metadata.StridedRegion, width, height, depth uint32) {
	d := cb.dev
	cb.record(func(st *execState) error {
		if st.pipeline == nil {
			return errors.New("trace rays without a bound pipeline")
		}
		if st.set == nil {
			return errors.New("trace rays without a bound descriptor set")
		}
		if st.pipeline.info.Layout != st.layout {
			return errors.New("bound descriptor set uses a different pipeline layout")
		}
		tr, err := d.newTracer(st, raygen, miss, hit)
		if err != nil {
			return err
		}
		return tr.dispatch(width, height, depth)
	})
}

func (cb *CommandBuffer) CopyImageToBuffer(ih metadata.ImageHandle, layout metadata.ImageLayout, bh metadata.BufferHandle, region metadata.BufferImageCopy) {
	d := cb.dev
	cb.record(func(*execState) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		img, ok := d.images[ih]
		if !ok || img.mem == nil {
			return fmt.Errorf("copy from unknown image %d", ih)
		}
		b, ok := d.buffers[bh]
		if !ok || b.mem == nil {
			return fmt.Errorf("copy into unknown buffer %d", bh)
		}
		if layout != metadata.ImageLayoutTransferSrc && layout != metadata.ImageLayoutGeneral {
			return fmt.Errorf("copy source layout %s is not transfer-src or general", layout)
		}
		if cur := img.layouts[region.Layer]; cur != layout {
			return fmt.Errorf("copy source declared %s but image is in %s", layout, cur)
		}
		if !b.usage.Has(metadata.BufferUsageTransferDst) {
			return errors.New("copy destination buffer lacks transfer-dst usage")
		}
		n := uint64(region.Width) * uint64(region.Height) * uint64(img.info.Format.BytesPerPixel())
		if region.BufferOffset+n > b.size {
			return errors.New("copy overruns destination buffer")
		}
		src := img.mem.data[uint64(region.Layer)*img.layerSize():]
		copy(b.mem.data[region.BufferOffset:region.BufferOffset+n], src[:n])
		return nil
	})
}

func (cb *CommandBuffer) CopyBufferToImage(bh metadata.BufferHandle, ih metadata.ImageHandle, layout metadata.ImageLayout, regions []metadata.BufferImageCopy) {
	d := cb.dev
	captured := append([]metadata.BufferImageCopy(nil), regions...)
	cb.record(func(*execState) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		img, ok := d.images[ih]
		if !ok || img.mem == nil {
			return fmt.Errorf("copy into unknown image %d", ih)
		}
		b, ok := d.buffers[bh]
		if !ok || b.mem == nil {
			return fmt.Errorf("copy from unknown buffer %d", bh)
		}
		if layout != metadata.ImageLayoutTransferDst && layout != metadata.ImageLayoutGeneral {
			return fmt.Errorf("copy destination layout %s is not transfer-dst or general", layout)
		}
		for _, r := range captured {
			if cur := img.layouts[r.Layer]; cur != layout {
				return fmt.Errorf("copy destination declared %s but layer %d is in %s", layout, r.Layer, cur)
			}
			n := uint64(r.Width) * uint64(r.Height) * uint64(img.info.Format.BytesPerPixel())
			if r.BufferOffset+n > b.size {
				return errors.New("copy overruns source buffer")
			}
			dst := img.mem.data[uint64(r.Layer)*img.layerSize():]
			copy(dst[:n], b.mem.data[r.BufferOffset:r.BufferOffset+n])
		}
		return nil
	})
}
