package software

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

const (
	addressBase      = 0x1000_0000
	addressAlignment = 256
)

// Options configures the limits and memory types the device reports.
type Options struct {
	Limits      metadata.RayTracingLimits
	MemoryTypes []metadata.MemoryType
}

func DefaultOptions() Options {
	return Options{
		Limits: metadata.RayTracingLimits{
			ShaderGroupHandleSize:      32,
			ShaderGroupHandleAlignment: 32,
			ShaderGroupBaseAlignment:   64,
			MaxRayRecursionDepth:       31,
		},
		MemoryTypes: []metadata.MemoryType{
			{Flags: metadata.MemoryPropertyDeviceLocal},
			{Flags: metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent},
			{Flags: metadata.MemoryPropertyDeviceLocal | metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent},
		},
	}
}

type memory struct {
	data          []byte
	typeIndex     uint32
	flags         metadata.MemoryProperty
	deviceAddress bool
	mapped        bool
}

type buffer struct {
	size    uint64
	usage   metadata.BufferUsage
	mem     *memory
	address metadata.DeviceAddress
}

type image struct {
	info    metadata.ImageCreateInfo
	mem     *memory
	layouts []metadata.ImageLayout
}

func (img *image) layerSize() uint64 {
	return uint64(img.info.Width) * uint64(img.info.Height) * uint64(img.info.Format.BytesPerPixel())
}

func (img *image) size() uint64 {
	return img.layerSize() * uint64(img.info.Layers)
}

type imageView struct {
	img  *image
	info metadata.ImageViewCreateInfo
}

type semaphore struct {
	signaled bool
}

/**
 * @brief A CPU implementation of metadata.Device. Command buffers are
 * executed in submission order on a single queue goroutine.
 */
type Device struct {
	mu      sync.Mutex
	opts    Options
	handles uint64
	address uint64

	memories        map[metadata.MemoryHandle]*memory
	buffers         map[metadata.BufferHandle]*buffer
	images          map[metadata.ImageHandle]*image
	views           map[metadata.ImageViewHandle]*imageView
	samplers        map[metadata.SamplerHandle]metadata.SamplerCreateInfo
	accels          map[metadata.AccelHandle]*accel
	layouts         map[metadata.DescriptorSetLayoutHandle]*setLayout
	pools           map[metadata.DescriptorPoolHandle]*descriptorPool
	sets            map[metadata.DescriptorSetHandle]*descriptorSet
	modules         map[metadata.ShaderModuleHandle][]byte
	pipelineLayouts map[metadata.PipelineLayoutHandle]metadata.DescriptorSetLayoutHandle
	pipelines       map[metadata.PipelineHandle]*pipeline
	fences          map[metadata.FenceHandle]*fence
	semaphores      map[metadata.SemaphoreHandle]*semaphore

	queue    chan func()
	queueWg  sync.WaitGroup
	lostMu   sync.Mutex
	lost     error
	timeline *Timeline
}

func New(opts Options) *Device {
	d := &Device{
		opts:            opts,
		address:         addressBase,
		memories:        make(map[metadata.MemoryHandle]*memory),
		buffers:         make(map[metadata.BufferHandle]*buffer),
		images:          make(map[metadata.ImageHandle]*image),
		views:           make(map[metadata.ImageViewHandle]*imageView),
		samplers:        make(map[metadata.SamplerHandle]metadata.SamplerCreateInfo),
		accels:          make(map[metadata.AccelHandle]*accel),
		layouts:         make(map[metadata.DescriptorSetLayoutHandle]*setLayout),
		pools:           make(map[metadata.DescriptorPoolHandle]*descriptorPool),
		sets:            make(map[metadata.DescriptorSetHandle]*descriptorSet),
		modules:         make(map[metadata.ShaderModuleHandle][]byte),
		pipelineLayouts: make(map[metadata.PipelineLayoutHandle]metadata.DescriptorSetLayoutHandle),
		pipelines:       make(map[metadata.PipelineHandle]*pipeline),
		fences:          make(map[metadata.FenceHandle]*fence),
		semaphores:      make(map[metadata.SemaphoreHandle]*semaphore),
		queue:           make(chan func(), 64),
		timeline:        &Timeline{},
	}
	d.queueWg.Add(1)
	go d.runQueue()
	core.LogDebug("software device created")
	return d
}

func (d *Device) runQueue() {
	defer d.queueWg.Done()
	for op := range d.queue {
		op()
	}
}

// nextHandle must be called with d.mu held.
func (d *Device) nextHandle() uint64 {
	d.handles++
	return d.handles
}

func (d *Device) setLost(err error) {
	d.lostMu.Lock()
	defer d.lostMu.Unlock()
	if d.lost == nil {
		core.LogError("software device lost: %s", err)
		d.lost = err
	}
}

// Lost returns the error that put the device in the lost state, if any.
func (d *Device) Lost() error {
	d.lostMu.Lock()
	defer d.lostMu.Unlock()
	if d.lost != nil {
		return fmt.Errorf("%w: %v", core.ErrDeviceLost, d.lost)
	}
	return nil
}

func (d *Device) Timeline() *Timeline {
	return d.timeline
}

func (d *Device) Name() string {
	return "anima software rt"
}

func (d *Device) Limits() metadata.RayTracingLimits {
	return d.opts.Limits
}

func (d *Device) MemoryProperties() metadata.MemoryProperties {
	return metadata.MemoryProperties{Types: append([]metadata.MemoryType(nil), d.opts.MemoryTypes...)}
}

func (d *Device) allTypeBits() uint32 {
	return uint32(1)<<len(d.opts.MemoryTypes) - 1
}

func alignSize(size uint64) uint64 {
	return (size + addressAlignment - 1) &^ (addressAlignment - 1)
}

func (d *Device) CreateBuffer(info metadata.BufferCreateInfo) (metadata.BufferHandle, metadata.MemoryRequirements, error) {
	if info.Size == 0 {
		return 0, metadata.MemoryRequirements{}, errors.New("buffer size must be greater than zero")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.BufferHandle(d.nextHandle())
	d.buffers[h] = &buffer{size: info.Size, usage: info.Usage}
	return h, metadata.MemoryRequirements{
		Size:           alignSize(info.Size),
		Alignment:      addressAlignment,
		MemoryTypeBits: d.allTypeBits(),
	}, nil
}

func (d *Device) DestroyBuffer(h metadata.BufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, h)
}

func (d *Device) AllocateMemory(info metadata.MemoryAllocateInfo) (metadata.MemoryHandle, error) {
	if int(info.TypeIndex) >= len(d.opts.MemoryTypes) {
		return 0, fmt.Errorf("memory type index %d out of range", info.TypeIndex)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.MemoryHandle(d.nextHandle())
	d.memories[h] = &memory{
		data:          make([]byte, info.Size),
		typeIndex:     info.TypeIndex,
		flags:         d.opts.MemoryTypes[info.TypeIndex].Flags,
		deviceAddress: info.DeviceAddress,
	}
	return h, nil
}

func (d *Device) FreeMemory(h metadata.MemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.memories, h)
}

func (d *Device) BindBufferMemory(bh metadata.BufferHandle, mh metadata.MemoryHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[bh]
	if !ok {
		return fmt.Errorf("unknown buffer %d", bh)
	}
	m, ok := d.memories[mh]
	if !ok {
		return fmt.Errorf("unknown memory %d", mh)
	}
	if b.mem != nil {
		return fmt.Errorf("buffer %d already bound", bh)
	}
	if uint64(len(m.data)) < b.size {
		return fmt.Errorf("memory of %d bytes too small for buffer of %d bytes", len(m.data), b.size)
	}
	if b.usage.Has(metadata.BufferUsageShaderDeviceAddress) && !m.deviceAddress {
		return errors.New("device address buffer bound to memory allocated without the device address flag")
	}
	b.mem = m
	if b.usage.Has(metadata.BufferUsageShaderDeviceAddress) {
		b.address = metadata.DeviceAddress(d.address)
		d.address += alignSize(b.size)
	}
	return nil
}

func (d *Device) BufferDeviceAddress(h metadata.BufferHandle) metadata.DeviceAddress {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[h]; ok {
		return b.address
	}
	return 0
}

func (d *Device) MapMemory(h metadata.MemoryHandle, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.memories[h]
	if !ok {
		return nil, fmt.Errorf("unknown memory %d", h)
	}
	if !m.flags.Has(metadata.MemoryPropertyHostVisible) {
		return nil, errors.New("memory is not host visible")
	}
	if m.mapped {
		return nil, errors.New("memory is already mapped")
	}
	if size == metadata.WholeSize {
		size = uint64(len(m.data)) - offset
	}
	if offset+size > uint64(len(m.data)) {
		return nil, fmt.Errorf("map range [%d, %d) exceeds allocation of %d bytes", offset, offset+size, len(m.data))
	}
	m.mapped = true
	return m.data[offset : offset+size : offset+size], nil
}

func (d *Device) UnmapMemory(h metadata.MemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.memories[h]; ok {
		m.mapped = false
	}
}

func (d *Device) FlushMemory(h metadata.MemoryHandle, offset, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.memories[h]
	if !ok {
		return fmt.Errorf("unknown memory %d", h)
	}
	if size != metadata.WholeSize && offset+size > uint64(len(m.data)) {
		return fmt.Errorf("flush range exceeds allocation")
	}
	return nil
}

func (d *Device) CreateImage(info metadata.ImageCreateInfo) (metadata.ImageHandle, metadata.MemoryRequirements, error) {
	if info.Width == 0 || info.Height == 0 {
		return 0, metadata.MemoryRequirements{}, errors.New("image extent must be non-zero")
	}
	if info.Format.BytesPerPixel() == 0 {
		return 0, metadata.MemoryRequirements{}, fmt.Errorf("unsupported image format %d", info.Format)
	}
	if info.Layers == 0 {
		info.Layers = 1
	}
	if info.Cube && info.Layers != 6 {
		return 0, metadata.MemoryRequirements{}, errors.New("cube compatible images need 6 layers")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.ImageHandle(d.nextHandle())
	img := &image{info: info, layouts: make([]metadata.ImageLayout, info.Layers)}
	d.images[h] = img
	// Images never live in host-only memory.
	bits := d.allTypeBits()
	for i, t := range d.opts.MemoryTypes {
		if !t.Flags.Has(metadata.MemoryPropertyDeviceLocal) {
			bits &^= 1 << i
		}
	}
	return h, metadata.MemoryRequirements{
		Size:           alignSize(img.size()),
		Alignment:      addressAlignment,
		MemoryTypeBits: bits,
	}, nil
}

func (d *Device) DestroyImage(h metadata.ImageHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.images, h)
}

func (d *Device) BindImageMemory(ih metadata.ImageHandle, mh metadata.MemoryHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[ih]
	if !ok {
		return fmt.Errorf("unknown image %d", ih)
	}
	m, ok := d.memories[mh]
	if !ok {
		return fmt.Errorf("unknown memory %d", mh)
	}
	if uint64(len(m.data)) < img.size() {
		return errors.New("memory too small for image")
	}
	img.mem = m
	return nil
}

// ImageLayout reports the current layout of the first layer of an image.
func (d *Device) ImageLayout(h metadata.ImageHandle) metadata.ImageLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	if img, ok := d.images[h]; ok {
		return img.layouts[0]
	}
	return metadata.ImageLayoutUndefined
}

// ReadImage copies out a layer of an image. Call it only while the queue is idle.
func (d *Device) ReadImage(h metadata.ImageHandle, layer uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok || img.mem == nil {
		return nil, fmt.Errorf("unknown or unbound image %d", h)
	}
	ls := img.layerSize()
	return append([]byte(nil), img.mem.data[uint64(layer)*ls:uint64(layer+1)*ls]...), nil
}

func (d *Device) CreateImageView(info metadata.ImageViewCreateInfo) (metadata.ImageViewHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[info.Image]
	if !ok {
		return 0, fmt.Errorf("unknown image %d", info.Image)
	}
	if info.Cube && !img.info.Cube {
		return 0, errors.New("cube view of an image created without cube compatibility")
	}
	h := metadata.ImageViewHandle(d.nextHandle())
	d.views[h] = &imageView{img: img, info: info}
	return h, nil
}

func (d *Device) DestroyImageView(h metadata.ImageViewHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.views, h)
}

func (d *Device) CreateSampler(info metadata.SamplerCreateInfo) (metadata.SamplerHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.SamplerHandle(d.nextHandle())
	d.samplers[h] = info
	return h, nil
}

func (d *Device) DestroySampler(h metadata.SamplerHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.samplers, h)
}

func (d *Device) CreateSemaphore() (metadata.SemaphoreHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.SemaphoreHandle(d.nextHandle())
	d.semaphores[h] = &semaphore{}
	return h, nil
}

func (d *Device) DestroySemaphore(h metadata.SemaphoreHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.semaphores, h)
}

// signalSemaphore must be called with d.mu held.
func (d *Device) signalSemaphore(h metadata.SemaphoreHandle) error {
	if h == 0 {
		return nil
	}
	s, ok := d.semaphores[h]
	if !ok {
		return fmt.Errorf("unknown semaphore %d", h)
	}
	if s.signaled {
		return fmt.Errorf("semaphore %d signaled twice without a wait", h)
	}
	s.signaled = true
	return nil
}

// consumeSemaphore must be called with d.mu held.
func (d *Device) consumeSemaphore(h metadata.SemaphoreHandle) error {
	if h == 0 {
		return nil
	}
	s, ok := d.semaphores[h]
	if !ok {
		return fmt.Errorf("unknown semaphore %d", h)
	}
	if !s.signaled {
		return fmt.Errorf("wait on semaphore %d that has no pending signal", h)
	}
	s.signaled = false
	return nil
}

// resolve maps a device address range onto the memory of the buffer holding it.
// It must be called with d.mu held.
func (d *Device) resolve(addr metadata.DeviceAddress, size uint64) ([]byte, error) {
	for _, b := range d.buffers {
		if b.address == 0 || b.mem == nil {
			continue
		}
		if addr >= b.address && uint64(addr-b.address)+size <= b.size {
			off := uint64(addr - b.address)
			return b.mem.data[off : off+size], nil
		}
	}
	return nil, fmt.Errorf("device address 0x%x (+%d) does not resolve to a buffer", uint64(addr), size)
}

func (d *Device) AllocateCommandBuffer() (metadata.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &CommandBuffer{dev: d, id: d.nextHandle()}, nil
}

func (d *Device) Submit(info metadata.SubmitInfo) error {
	if err := d.Lost(); err != nil {
		return err
	}
	cb, ok := info.CommandBuffer.(*CommandBuffer)
	if !ok || cb == nil {
		return errors.New("command buffer does not belong to the software device")
	}
	if err := cb.markPending(); err != nil {
		return err
	}

	d.mu.Lock()
	var f *fence
	if info.Fence != 0 {
		if f, ok = d.fences[info.Fence]; !ok {
			d.mu.Unlock()
			cb.clearPending()
			return fmt.Errorf("unknown fence %d", info.Fence)
		}
		if f.isSignaled() {
			d.mu.Unlock()
			cb.clearPending()
			return fmt.Errorf("fence %d submitted while still signaled", info.Fence)
		}
	}
	sets := cb.boundSets()
	for _, s := range sets {
		s.pending++
	}
	d.mu.Unlock()

	d.timeline.record(EventSubmit, cb.id, info.Fence)
	d.queue <- func() {
		err := func() error {
			d.mu.Lock()
			err := d.consumeSemaphore(info.WaitSemaphore)
			d.mu.Unlock()
			if err != nil {
				return err
			}
			if d.Lost() != nil {
				return nil
			}
			return cb.execute()
		}()
		if err != nil {
			d.setLost(err)
		}
		d.mu.Lock()
		for _, s := range sets {
			s.pending--
		}
		if err := d.signalSemaphore(info.SignalSemaphore); err != nil {
			d.setLost(err)
		}
		d.mu.Unlock()
		cb.clearPending()
		if f != nil {
			// The event must precede the signal.
			d.timeline.record(EventFenceSignal, cb.id, info.Fence)
			f.signal()
		}
	}
	return nil
}

// WaitIdle blocks until every queued submission has executed.
func (d *Device) WaitIdle() error {
	done := make(chan struct{})
	d.queue <- func() { close(done) }
	<-done
	return d.Lost()
}

func (d *Device) Destroy() {
	_ = d.WaitIdle()
	close(d.queue)
	d.queueWg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	leaked := len(d.buffers) + len(d.memories) + len(d.images) + len(d.accels)
	if leaked > 0 {
		core.LogWarn("software device destroyed with %d live buffers, %d allocations, %d images and %d acceleration structures",
			len(d.buffers), len(d.memories), len(d.images), len(d.accels))
	}
}

// Live reports the number of live buffers, allocations, images and
// acceleration structures.
func (d *Device) Live() (buffers, memories, images, accels int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers), len(d.memories), len(d.images), len(d.accels)
}
