package systems

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type SlotState int

const (
	SlotStateIdle SlotState = iota
	SlotStateRecording
	SlotStateSubmitted
	SlotStateComplete
)

func (s SlotState) String() string {
	switch s {
	case SlotStateRecording:
		return "recording"
	case SlotStateSubmitted:
		return "submitted"
	case SlotStateComplete:
		return "complete"
	default:
		return "idle"
	}
}

/**
 * @brief One entry of the frames in flight ring. The fence is created
 * signaled so the first wait on a fresh slot returns at once.
 */
type FrameSlot struct {
	Index          uint32
	CommandBuffer  metadata.CommandBuffer
	ImageAvailable metadata.SemaphoreHandle
	InFlight       metadata.FenceHandle
	State          SlotState
	/** @brief The frame last recorded into this slot. */
	Frame uint64
}

func newFrameSlot(device metadata.Device, index uint32) (*FrameSlot, error) {
	slot := &FrameSlot{Index: index}
	var err error
	if slot.CommandBuffer, err = device.AllocateCommandBuffer(); err != nil {
		return nil, fmt.Errorf("failed to allocate command buffer for slot %d: %w", index, err)
	}
	if slot.ImageAvailable, err = device.CreateSemaphore(); err != nil {
		slot.destroy(device)
		return nil, fmt.Errorf("failed to create semaphore for slot %d: %w", index, err)
	}
	if slot.InFlight, err = device.CreateFence(true); err != nil {
		slot.destroy(device)
		return nil, fmt.Errorf("failed to create fence for slot %d: %w", index, err)
	}
	return slot, nil
}

func (s *FrameSlot) destroy(device metadata.Device) {
	if s.CommandBuffer != nil {
		s.CommandBuffer.Free()
		s.CommandBuffer = nil
	}
	if s.ImageAvailable != 0 {
		device.DestroySemaphore(s.ImageAvailable)
		s.ImageAvailable = 0
	}
	if s.InFlight != 0 {
		device.DestroyFence(s.InFlight)
		s.InFlight = 0
	}
}

/**
 * @brief Receives every offscreen frame once it has been copied out of
 * mapped memory. The pixels are RGBA8 and owned by the sink.
 */
type FrameSink interface {
	WriteFrame(index uint64, width, height uint32, pixels []byte) error
}

type FrameSystemConfig struct {
	/** @brief Per wait timeout in offscreen mode. The deadline is checked between waits. */
	FenceTimeout   time.Duration
	AcquireTimeout time.Duration
	/** @brief Offscreen output size. */
	Width  uint32
	Height uint32
	/** @brief Number of offscreen frames to render. */
	Frames   uint32
	Deadline time.Duration
}

// offscreenTarget is a slot's output image and the buffer it is read back into.
type offscreenTarget struct {
	image    *Image
	readback *Buffer
	layout   metadata.ImageLayout
}

/**
 * @brief Drives the frames in flight ring. Only one goroutine records and
 * submits; overlap with the device comes from the fences and semaphores.
 */
type FrameSystem struct {
	rc      *RenderContext
	config  FrameSystemConfig
	metrics *core.FrameMetrics
	clock   *core.Clock

	current uint32
	frame   uint64

	// interactive
	window         metadata.Window
	swapchain      metadata.Swapchain
	renderFinished []metadata.SemaphoreHandle
	imagesInFlight []metadata.FenceHandle
	recreate       bool

	// offscreen
	targets []*offscreenTarget
	sink    FrameSink

	mu     sync.Mutex
	reload func() error
}

func NewFrameSystem(rc *RenderContext, config FrameSystemConfig) *FrameSystem {
	return &FrameSystem{
		rc:      rc,
		config:  config,
		metrics: core.NewFrameMetrics(),
		clock:   core.NewClock(),
	}
}

func (fs *FrameSystem) Metrics() *core.FrameMetrics {
	return fs.metrics
}

// FrameIndex returns the number of frames submitted so far.
func (fs *FrameSystem) FrameIndex() uint64 {
	return fs.frame
}

/**
 * @brief Schedules a rebuild to run at the start of the next interactive
 * frame, after the device is drained. Safe to call from any goroutine.
 */
func (fs *FrameSystem) RequestReload(rebuild func() error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.reload = rebuild
}

// RequestResize marks the swapchain for recreation before the next acquire.
func (fs *FrameSystem) RequestResize() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.recreate = true
}

func (fs *FrameSystem) takeRequests() (func() error, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reload, recreate := fs.reload, fs.recreate
	fs.reload, fs.recreate = nil, false
	return reload, recreate
}

/**
 * @brief Renders into the swapchain until the window asks to close or the
 * context is cancelled, then drains the device.
 */
func (fs *FrameSystem) RunInteractive(ctx context.Context, window metadata.Window, swapchain metadata.Swapchain) error {
	fs.window = window
	fs.swapchain = swapchain
	if err := fs.createSwapchainSync(); err != nil {
		return err
	}
	defer fs.destroySwapchainSync()

	fs.clock.Start()
	var err error
	for !window.ShouldClose() && ctx.Err() == nil {
		window.PollEvents()
		if err = fs.RenderFrame(); err != nil {
			break
		}
	}
	fs.clock.Stop()
	if idleErr := fs.rc.Device.WaitIdle(); err == nil && idleErr != nil {
		err = idleErr
	}
	fs.rc.Logger().Info("interactive run finished", "metrics", fs.metrics.Summary())
	return err
}

/**
 * @brief Renders the configured number of frames into offscreen images and
 * hands each one to the sink, stopping early at the wall clock deadline.
 */
func (fs *FrameSystem) RunOffscreen(ctx context.Context, sink FrameSink) error {
	if fs.config.Width == 0 || fs.config.Height == 0 {
		return fmt.Errorf("%w: offscreen size %dx%d", core.ErrInvalidConfig, fs.config.Width, fs.config.Height)
	}
	fs.sink = sink
	if err := fs.createTargets(); err != nil {
		return err
	}
	defer fs.destroyTargets()

	fs.clock.Start()
	start := time.Now()
	var err error
	for fs.frame < uint64(fs.config.Frames) {
		if err = ctx.Err(); err != nil {
			break
		}
		if fs.config.Deadline > 0 && time.Since(start) > fs.config.Deadline {
			fs.rc.Logger().Warn("offscreen deadline reached", "frames", fs.frame, "deadline", fs.config.Deadline)
			break
		}
		if err = fs.RenderFrame(); err != nil {
			break
		}
	}
	fs.clock.Stop()
	if idleErr := fs.rc.Device.WaitIdle(); err == nil && idleErr != nil {
		err = idleErr
	}
	fs.rc.Logger().Info("offscreen run finished", "metrics", fs.metrics.Summary())
	return err
}

// RenderFrame renders one frame in whichever mode the system was started in.
func (fs *FrameSystem) RenderFrame() error {
	frameStart := time.Now()
	var err error
	if fs.swapchain != nil {
		err = fs.renderInteractive()
	} else {
		err = fs.renderOffscreen()
	}
	if err != nil {
		return err
	}
	fs.metrics.Update(time.Since(frameStart).Seconds())
	return nil
}

func (fs *FrameSystem) renderInteractive() error {
	device := fs.rc.Device
	slot := fs.rc.Slots[fs.current]

	stop := fs.metrics.Measure(core.FramePhaseFenceWait)
	err := device.WaitForFence(slot.InFlight, metadata.TimeoutInfinite)
	stop()
	if err != nil {
		return fmt.Errorf("failed waiting for frame slot %d: %w", slot.Index, err)
	}
	if slot.State == SlotStateSubmitted {
		slot.State = SlotStateComplete
	}

	reload, recreate := fs.takeRequests()
	if reload != nil {
		if err := device.WaitIdle(); err != nil {
			return err
		}
		if err := reload(); err != nil {
			fs.rc.Logger().Error("scene reload failed, keeping the current scene", "err", err)
		}
	}
	if recreate {
		if err := fs.recreateSwapchain(); err != nil {
			return err
		}
	}
	if w, h := fs.window.FramebufferSize(); w == 0 || h == 0 {
		// Minimized, nothing to present into.
		return nil
	}

	imageIndex, err := fs.swapchain.Acquire(uint64(fs.config.AcquireTimeout.Nanoseconds()), slot.ImageAvailable)
	suboptimal := false
	switch {
	case errors.Is(err, core.ErrSwapchainOutOfDate):
		return fs.recreateSwapchain()
	case errors.Is(err, core.ErrSwapchainSuboptimal):
		// The image was acquired and the semaphore will signal, so the frame
		// still goes through and the chain is rebuilt after present.
		suboptimal = true
	case err != nil:
		return fmt.Errorf("failed to acquire swapchain image: %w", err)
	}

	if f := fs.imagesInFlight[imageIndex]; f != 0 && f != slot.InFlight {
		stop := fs.metrics.Measure(core.FramePhaseFenceWait)
		err := device.WaitForFence(f, metadata.TimeoutInfinite)
		stop()
		if err != nil {
			return fmt.Errorf("failed waiting for swapchain image %d: %w", imageIndex, err)
		}
	}
	fs.imagesInFlight[imageIndex] = slot.InFlight

	width, height := fs.swapchain.Extent()
	image := fs.swapchain.Images()[imageIndex]
	view := fs.swapchain.Views()[imageIndex]
	if err := fs.prepare(slot, view, width, height); err != nil {
		return err
	}
	err = fs.record(slot, recordTarget{
		image:       image,
		oldLayout:   metadata.ImageLayoutUndefined,
		finalLayout: metadata.ImageLayoutPresentSrc,
		width:       width,
		height:      height,
	})
	if err != nil {
		return err
	}

	renderFinished := fs.renderFinished[imageIndex]
	if err := fs.submit(slot, metadata.SubmitInfo{
		CommandBuffer:   slot.CommandBuffer,
		WaitSemaphore:   slot.ImageAvailable,
		WaitStage:       metadata.PipelineStageRayTracingShader,
		SignalSemaphore: renderFinished,
		Fence:           slot.InFlight,
	}); err != nil {
		return err
	}

	err = fs.swapchain.Present(imageIndex, renderFinished)
	switch {
	case errors.Is(err, core.ErrSwapchainOutOfDate), errors.Is(err, core.ErrSwapchainSuboptimal), suboptimal:
		fs.rc.Logger().Debug("swapchain no longer matches the surface, recreating", "frame", fs.frame)
		fs.advance()
		return fs.recreateSwapchain()
	case err != nil:
		return fmt.Errorf("failed to present swapchain image %d: %w", imageIndex, err)
	}
	fs.advance()
	return nil
}

func (fs *FrameSystem) renderOffscreen() error {
	slot := fs.rc.Slots[fs.current]
	target := fs.targets[fs.current]

	if err := fs.waitOffscreen(slot); err != nil {
		return err
	}
	if slot.State == SlotStateSubmitted {
		slot.State = SlotStateComplete
	}

	width, height := fs.config.Width, fs.config.Height
	if err := fs.prepare(slot, target.image.View, width, height); err != nil {
		return err
	}
	err := fs.record(slot, recordTarget{
		image:       target.image.Handle,
		oldLayout:   target.layout,
		finalLayout: metadata.ImageLayoutTransferSrc,
		readback:    target.readback,
		width:       width,
		height:      height,
	})
	if err != nil {
		return err
	}
	if err := fs.submit(slot, metadata.SubmitInfo{
		CommandBuffer: slot.CommandBuffer,
		Fence:         slot.InFlight,
	}); err != nil {
		return err
	}
	target.layout = metadata.ImageLayoutTransferSrc
	frame := fs.frame
	fs.advance()

	if err := fs.waitOffscreen(slot); err != nil {
		return err
	}
	slot.State = SlotStateComplete

	stop := fs.metrics.Measure(core.FramePhaseReadback)
	pixels, err := target.readback.Read(0, target.readback.Size)
	stop()
	if err != nil {
		return fmt.Errorf("failed to read back frame %d: %w", frame, err)
	}
	if fs.sink != nil {
		if err := fs.sink.WriteFrame(frame, width, height, pixels); err != nil {
			return fmt.Errorf("failed to hand off frame %d: %w", frame, err)
		}
	}
	return nil
}

// waitOffscreen waits for the slot fence in bounded steps so a hung device
// surfaces as an error once the deadline passes.
func (fs *FrameSystem) waitOffscreen(slot *FrameSlot) error {
	defer fs.metrics.Measure(core.FramePhaseFenceWait)()
	timeout := fs.config.FenceTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	start := time.Now()
	for {
		err := fs.rc.Device.WaitForFence(slot.InFlight, uint64(timeout.Nanoseconds()))
		if err == nil {
			return nil
		}
		if !errors.Is(err, core.ErrFenceTimeout) {
			return fmt.Errorf("failed waiting for frame slot %d: %w", slot.Index, err)
		}
		if fs.config.Deadline > 0 && time.Since(start) > fs.config.Deadline {
			return fmt.Errorf("frame slot %d did not complete within %s: %w", slot.Index, fs.config.Deadline, err)
		}
	}
}

/**
 * @brief Resets the slot fence, writes this frame's uniform and points the
 * slot's descriptor set at the output view.
 */
func (fs *FrameSystem) prepare(slot *FrameSlot, view metadata.ImageViewHandle, width, height uint32) error {
	rc := fs.rc
	if err := rc.Device.ResetFence(slot.InFlight); err != nil {
		return fmt.Errorf("failed to reset fence of slot %d: %w", slot.Index, err)
	}
	fs.clock.Update()
	uniform := rc.Camera.Uniform(fs.clock.ElapsedSeconds(), width, height, fs.frame)
	if err := rc.Uniforms.Update(slot.Index, uniform); err != nil {
		return fmt.Errorf("failed to update uniform of slot %d: %w", slot.Index, err)
	}
	return rc.Bindings.UpdateSet(slot.Index, view)
}

type recordTarget struct {
	image       metadata.ImageHandle
	oldLayout   metadata.ImageLayout
	finalLayout metadata.ImageLayout
	// readback is set in offscreen mode only.
	readback *Buffer
	width    uint32
	height   uint32
}

/**
 * @brief Records one frame: the transition to general, the trace, the
 * transition to the present or transfer layout and, offscreen, the copy
 * into the readback buffer.
 */
func (fs *FrameSystem) record(slot *FrameSlot, target recordTarget) error {
	defer fs.metrics.Measure(core.FramePhaseRecord)()
	rc := fs.rc
	cb := slot.CommandBuffer

	if err := cb.Reset(); err != nil {
		return fmt.Errorf("failed to reset command buffer of slot %d: %w", slot.Index, err)
	}
	if err := cb.Begin(false); err != nil {
		return fmt.Errorf("failed to begin command buffer of slot %d: %w", slot.Index, err)
	}
	slot.State = SlotStateRecording
	slot.Frame = fs.frame

	srcAccess, srcStage := metadata.AccessNone, metadata.PipelineStageTopOfPipe
	if target.oldLayout == metadata.ImageLayoutTransferSrc {
		srcAccess, srcStage = metadata.AccessTransferRead, metadata.PipelineStageTransfer
	}
	cb.ImageBarrier(metadata.ImageBarrier{
		Image:     target.image,
		OldLayout: target.oldLayout,
		NewLayout: metadata.ImageLayoutGeneral,
		SrcAccess: srcAccess,
		DstAccess: metadata.AccessShaderWrite,
		SrcStage:  srcStage,
		DstStage:  metadata.PipelineStageRayTracingShader,
	})

	cb.BindPipeline(rc.Pipeline)
	cb.BindDescriptorSet(rc.Bindings.PipelineLayout, rc.Bindings.Sets[slot.Index])
	cb.TraceRays(rc.SBT.Raygen, rc.SBT.Miss, rc.SBT.Hit, rc.SBT.Callable, target.width, target.height, 1)

	dstAccess, dstStage := metadata.AccessNone, metadata.PipelineStageBottomOfPipe
	if target.finalLayout == metadata.ImageLayoutTransferSrc {
		dstAccess, dstStage = metadata.AccessTransferRead, metadata.PipelineStageTransfer
	}
	cb.ImageBarrier(metadata.ImageBarrier{
		Image:     target.image,
		OldLayout: metadata.ImageLayoutGeneral,
		NewLayout: target.finalLayout,
		SrcAccess: metadata.AccessShaderWrite,
		DstAccess: dstAccess,
		SrcStage:  metadata.PipelineStageRayTracingShader,
		DstStage:  dstStage,
	})

	if target.readback != nil {
		cb.CopyImageToBuffer(target.image, metadata.ImageLayoutTransferSrc, target.readback.Handle, metadata.BufferImageCopy{
			Width:  target.width,
			Height: target.height,
		})
		cb.BufferBarrier(metadata.BufferBarrier{
			Buffer:    target.readback.Handle,
			SrcAccess: metadata.AccessTransferWrite,
			DstAccess: metadata.AccessHostRead,
			SrcStage:  metadata.PipelineStageTransfer,
			DstStage:  metadata.PipelineStageHost,
			Size:      metadata.WholeSize,
		})
	}

	if err := cb.End(); err != nil {
		return fmt.Errorf("failed to end command buffer of slot %d: %w", slot.Index, err)
	}
	return nil
}

func (fs *FrameSystem) submit(slot *FrameSlot, info metadata.SubmitInfo) error {
	defer fs.metrics.Measure(core.FramePhaseSubmit)()
	if err := fs.rc.Device.Submit(info); err != nil {
		return fmt.Errorf("failed to submit frame %d: %w", fs.frame, err)
	}
	slot.State = SlotStateSubmitted
	return nil
}

func (fs *FrameSystem) advance() {
	fs.frame++
	fs.current = (fs.current + 1) % uint32(len(fs.rc.Slots))
}

func (fs *FrameSystem) createSwapchainSync() error {
	device := fs.rc.Device
	count := len(fs.swapchain.Images())
	for len(fs.renderFinished) < count {
		s, err := device.CreateSemaphore()
		if err != nil {
			return fmt.Errorf("failed to create render finished semaphore: %w", err)
		}
		fs.renderFinished = append(fs.renderFinished, s)
	}
	fs.imagesInFlight = make([]metadata.FenceHandle, count)
	return nil
}

func (fs *FrameSystem) destroySwapchainSync() {
	for _, s := range fs.renderFinished {
		fs.rc.Device.DestroySemaphore(s)
	}
	fs.renderFinished = nil
	fs.imagesInFlight = nil
}

/**
 * @brief Drains the device and rebuilds the swapchain at the current
 * framebuffer size. Semaphores are kept; only the image bookkeeping resets.
 */
func (fs *FrameSystem) recreateSwapchain() error {
	width, height := fs.window.FramebufferSize()
	if width == 0 || height == 0 {
		// Try again once the window is visible.
		fs.RequestResize()
		return nil
	}
	if err := fs.rc.Device.WaitIdle(); err != nil {
		return err
	}
	if err := fs.swapchain.Recreate(width, height); err != nil {
		return fmt.Errorf("failed to recreate swapchain at %dx%d: %w", width, height, err)
	}
	fs.rc.Logger().Info("swapchain recreated", "width", width, "height", height)
	return fs.createSwapchainSync()
}

func (fs *FrameSystem) createTargets() error {
	ms := fs.rc.Memory
	size := uint64(fs.config.Width) * uint64(fs.config.Height) * 4
	for range fs.rc.Slots {
		img, err := ms.AllocateImage(metadata.ImageCreateInfo{
			Width:  fs.config.Width,
			Height: fs.config.Height,
			Layers: 1,
			Format: metadata.FormatR8G8B8A8Unorm,
			Usage:  metadata.ImageUsageStorage | metadata.ImageUsageTransferSrc,
		}, metadata.MemoryPropertyDeviceLocal)
		if err != nil {
			fs.destroyTargets()
			return fmt.Errorf("failed to create output image: %w", err)
		}
		readback, err := ms.Allocate(size, metadata.BufferUsageTransferDst, metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent, nil)
		if err != nil {
			img.Destroy()
			fs.destroyTargets()
			return fmt.Errorf("failed to create readback buffer: %w", err)
		}
		fs.targets = append(fs.targets, &offscreenTarget{
			image:    img,
			readback: readback,
			layout:   metadata.ImageLayoutUndefined,
		})
	}
	return nil
}

func (fs *FrameSystem) destroyTargets() {
	_ = fs.rc.Device.WaitIdle()
	for _, t := range fs.targets {
		t.readback.Destroy()
		t.image.Destroy()
	}
	fs.targets = nil
}
