package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/software"
	"github.com/spaghettifunk/anima-rt/engine/renderer/vulkan"
)

var ErrNoSurface = errors.New("interactive vulkan rendering needs a window surface")

/**
 * @brief Opens the device the configuration asks for. Interactive mode also
 * creates a swapchain sized to the window with one image more than the
 * frames in flight.
 */
func NewBackend(config *core.Config, surface Surface) (*Backend, error) {
	switch config.Render.Backend {
	case core.RenderBackendVulkan:
		return newVulkanBackend(config, surface)
	case core.RenderBackendSoftware:
		return newSoftwareBackend(config)
	default:
		return nil, fmt.Errorf("unknown render backend %q", config.Render.Backend)
	}
}

func swapchainImages(config *core.Config) uint32 {
	return config.Render.FramesInFlight + 1
}

func newVulkanBackend(config *core.Config, surface Surface) (*Backend, error) {
	interactive := config.Render.Mode == core.RenderModeInteractive
	opts := vulkan.Options{
		AppName:        config.Window.Title,
		Validation:     config.Render.Validation,
		PreferDiscrete: true,
	}
	if interactive {
		if surface == nil {
			return nil, ErrNoSurface
		}
		opts.ProcAddr = surface.ProcAddr()
		opts.Surface = surface.CreateSurface
		opts.InstanceExtensions = surface.RequiredExtensions()
	}

	device, err := vulkan.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create the vulkan device: %w", err)
	}
	b := &Backend{
		Device:  device,
		name:    "vulkan",
		live:    device.Live,
		destroy: device.Destroy,
	}
	if !interactive {
		return b, nil
	}

	width, height := surface.FramebufferSize()
	swapchain, err := device.CreateSwapchain(width, height, swapchainImages(config))
	if err != nil {
		device.Destroy()
		return nil, err
	}
	b.Window = surface
	b.Swapchain = swapchain
	return b, nil
}

// newSoftwareBackend runs interactive mode against a headless window that
// closes after the configured number of offscreen frames.
func newSoftwareBackend(config *core.Config) (*Backend, error) {
	device := software.New(software.DefaultOptions())
	b := &Backend{
		Device:  device,
		name:    "software",
		live:    device.Live,
		destroy: device.Destroy,
	}
	if config.Render.Mode != core.RenderModeInteractive {
		return b, nil
	}

	width, height := config.Window.Width, config.Window.Height
	swapchain, err := device.CreateSwapchain(width, height, swapchainImages(config))
	if err != nil {
		device.Destroy()
		return nil, err
	}
	b.Window = software.NewHeadlessWindow(width, height, int(config.Offscreen.Frames))
	b.Swapchain = swapchain
	core.LogInfo("software backend presenting %d frames to a headless window", config.Offscreen.Frames)
	return b, nil
}
