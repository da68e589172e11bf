package renderer

import (
	"unsafe"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief A window that can host a Vulkan surface. The desktop platform
 * implements it; the software backend never needs one.
 */
type Surface interface {
	metadata.Window
	RequiredExtensions() []string
	ProcAddr() unsafe.Pointer
	CreateSurface(instance interface{}) (uintptr, error)
}

/**
 * @brief An opened device and, in interactive mode, the window and
 * swapchain the frame loop presents to.
 */
type Backend struct {
	Device    metadata.Device
	Window    metadata.Window
	Swapchain metadata.Swapchain

	name    string
	live    func() (buffers, memories, images, accels int)
	destroy func()
}

func (b *Backend) Name() string {
	return b.name
}

// Interactive reports whether the backend has somewhere to present.
func (b *Backend) Interactive() bool {
	return b.Swapchain != nil
}

// Live reports the device objects still alive.
func (b *Backend) Live() (buffers, memories, images, accels int) {
	return b.live()
}

// Destroy releases the swapchain and then the device. Safe to call twice.
func (b *Backend) Destroy() {
	if b.destroy == nil {
		return
	}
	if b.Swapchain != nil {
		b.Swapchain.Destroy()
		b.Swapchain = nil
	}
	b.destroy()
	b.destroy = nil
}
