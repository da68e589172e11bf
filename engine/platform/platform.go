package platform

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

/**
 * @brief The desktop window. Close requests and framebuffer resizes are
 * forwarded to the event bus; the frame loop polls the window directly.
 */
type Platform struct {
	Window *glfw.Window

	events *core.EventBus

	mu     sync.Mutex
	width  uint32
	height uint32
}

var _ metadata.Window = (*Platform)(nil)

func New(events *core.EventBus) *Platform {
	return &Platform{events: events}
}

func (p *Platform) Startup(config core.WindowConfig) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return fmt.Errorf("glfw reports no Vulkan loader")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(config.Width), int(config.Height), config.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		core.LogError("failed to create window: %s", err)
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetPos(int(config.X), int(config.Y))
	p.Window.Show()

	w, h := p.Window.GetFramebufferSize()
	p.setSize(w, h)
	core.LogInfo("window %q created: %dx%d", config.Title, w, h)
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

func (p *Platform) ShouldClose() bool {
	return p.Window == nil || p.Window.ShouldClose()
}

func (p *Platform) PollEvents() {
	glfw.PollEvents()
}

// FramebufferSize reports the size in pixels, zero while minimized.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// Close asks the window to close; the frame loop exits on its next poll.
func (p *Platform) Close() {
	if p.Window != nil {
		p.Window.SetShouldClose(true)
	}
}

// RequiredExtensions lists the instance extensions surface creation needs.
func (p *Platform) RequiredExtensions() []string {
	if p.Window == nil {
		return nil
	}
	return p.Window.GetRequiredInstanceExtensions()
}

// ProcAddr returns the vkGetInstanceProcAddr glfw resolved at Init.
func (p *Platform) ProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

// CreateSurface creates a VkSurfaceKHR for the window on the given instance.
func (p *Platform) CreateSurface(instance interface{}) (uintptr, error) {
	if p.Window == nil {
		return 0, fmt.Errorf("no window to create a surface for")
	}
	return p.Window.CreateWindowSurface(instance, nil)
}

func (p *Platform) setSize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = uint32(max(width, 0)), uint32(max(height, 0))
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		w.SetShouldClose(true)
		p.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, p, core.EventContext{})
	}
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, p, core.EventContext{})
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.setSize(width, height)
	ctx := core.EventContext{}
	ctx.Data.U32[0] = uint32(max(width, 0))
	ctx.Data.U32[1] = uint32(max(height, 0))
	p.events.Fire(core.EVENT_CODE_RESIZED, p, ctx)
}
