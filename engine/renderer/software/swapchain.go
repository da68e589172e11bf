package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief An offscreen swapchain. Presented images are copied out so tests
 * and headless runs can inspect them.
 */
type Swapchain struct {
	dev    *Device
	mu     sync.Mutex
	format metadata.Format
	count  uint32
	width  uint32
	height uint32
	next   uint32

	images   []metadata.ImageHandle
	memories []metadata.MemoryHandle
	views    []metadata.ImageViewHandle

	presented    int
	lastImage    []byte
	failAcquires int
	failPresents int
}

func (d *Device) CreateSwapchain(width, height, imageCount uint32) (*Swapchain, error) {
	sc := &Swapchain{dev: d, format: metadata.FormatB8G8R8A8Unorm, count: imageCount}
	if err := sc.create(width, height); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *Swapchain) create(width, height uint32) error {
	d := sc.dev
	sc.width, sc.height = width, height
	sc.next = 0
	for i := uint32(0); i < sc.count; i++ {
		img, req, err := d.CreateImage(metadata.ImageCreateInfo{
			Width:  width,
			Height: height,
			Layers: 1,
			Format: sc.format,
			Usage:  metadata.ImageUsageStorage | metadata.ImageUsageTransferSrc | metadata.ImageUsageColorAttachment,
		})
		if err != nil {
			return err
		}
		mem, err := d.AllocateMemory(metadata.MemoryAllocateInfo{Size: req.Size})
		if err != nil {
			return err
		}
		if err := d.BindImageMemory(img, mem); err != nil {
			return err
		}
		view, err := d.CreateImageView(metadata.ImageViewCreateInfo{Image: img, Format: sc.format, Layers: 1})
		if err != nil {
			return err
		}
		sc.images = append(sc.images, img)
		sc.memories = append(sc.memories, mem)
		sc.views = append(sc.views, view)
	}
	return nil
}

func (sc *Swapchain) release() {
	d := sc.dev
	for i := range sc.images {
		d.DestroyImageView(sc.views[i])
		d.DestroyImage(sc.images[i])
		d.FreeMemory(sc.memories[i])
	}
	sc.images, sc.memories, sc.views = nil, nil, nil
}

// FailNextAcquires makes the next n acquires report an out of date swapchain.
func (sc *Swapchain) FailNextAcquires(n int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.failAcquires = n
}

// FailNextPresents makes the next n presents report a suboptimal swapchain.
func (sc *Swapchain) FailNextPresents(n int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.failPresents = n
}

func (sc *Swapchain) Acquire(timeout uint64, signal metadata.SemaphoreHandle) (uint32, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.failAcquires > 0 {
		sc.failAcquires--
		return 0, core.ErrSwapchainOutOfDate
	}
	idx := sc.next
	sc.next = (sc.next + 1) % sc.count

	d := sc.dev
	d.mu.Lock()
	err := d.signalSemaphore(signal)
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return idx, nil
}

func (sc *Swapchain) Present(imageIndex uint32, wait metadata.SemaphoreHandle) error {
	sc.mu.Lock()
	if imageIndex >= uint32(len(sc.images)) {
		sc.mu.Unlock()
		return fmt.Errorf("present of image %d out of %d", imageIndex, len(sc.images))
	}
	img := sc.images[imageIndex]
	suboptimal := false
	if sc.failPresents > 0 {
		sc.failPresents--
		suboptimal = true
	}
	sc.mu.Unlock()

	d := sc.dev
	d.queue <- func() {
		d.mu.Lock()
		err := d.consumeSemaphore(wait)
		var pixels []byte
		if err == nil {
			im, ok := d.images[img]
			switch {
			case !ok:
				err = fmt.Errorf("present of destroyed image %d", img)
			case im.layouts[0] != metadata.ImageLayoutPresentSrc:
				err = fmt.Errorf("present of image %d in layout %s", img, im.layouts[0])
			default:
				pixels = append([]byte(nil), im.mem.data[:im.layerSize()]...)
			}
		}
		d.mu.Unlock()
		if err != nil {
			d.setLost(err)
			return
		}
		d.timeline.record(EventPresent, 0, 0)
		sc.mu.Lock()
		sc.presented++
		sc.lastImage = pixels
		sc.mu.Unlock()
	}
	if suboptimal {
		return core.ErrSwapchainSuboptimal
	}
	return nil
}

// Presented returns the number of completed presents and a copy of the last
// presented image in BGRA order.
func (sc *Swapchain) Presented() (int, []byte) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.presented, sc.lastImage
}

func (sc *Swapchain) Images() []metadata.ImageHandle {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]metadata.ImageHandle(nil), sc.images...)
}

func (sc *Swapchain) Views() []metadata.ImageViewHandle {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]metadata.ImageViewHandle(nil), sc.views...)
}

func (sc *Swapchain) Format() metadata.Format {
	return sc.format
}

func (sc *Swapchain) Extent() (uint32, uint32) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.width, sc.height
}

func (sc *Swapchain) Recreate(width, height uint32) error {
	if err := sc.dev.WaitIdle(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.release()
	return sc.create(width, height)
}

func (sc *Swapchain) Destroy() {
	_ = sc.dev.WaitIdle()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.release()
}

/**
 * @brief A window that never opens. It reports a close request after a
 * fixed number of polls, which bounds headless interactive runs.
 */
type HeadlessWindow struct {
	mu     sync.Mutex
	width  uint32
	height uint32
	polls  int
	frames int
}

func NewHeadlessWindow(width, height uint32, frames int) *HeadlessWindow {
	return &HeadlessWindow{width: width, height: height, frames: frames}
}

func (w *HeadlessWindow) ShouldClose() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.polls >= w.frames
}

func (w *HeadlessWindow) PollEvents() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.polls++
}

func (w *HeadlessWindow) FramebufferSize() (uint32, uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

// Resize changes the size reported to the next FramebufferSize call.
func (w *HeadlessWindow) Resize(width, height uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.width, w.height = width, height
}
