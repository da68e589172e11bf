package systems

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief Creates and tears down the render systems in dependency order.
 */
type SystemManager struct {
	JobSystem     *JobSystem
	RenderContext *RenderContext
	FrameSystem   *FrameSystem
	// Only created in offscreen mode.
	OutputSystem *OutputSystem
}

func NewSystemManager(device metadata.Device, config *core.Config) (*SystemManager, error) {
	js, err := NewJobSystem(config.Offscreen.Encoders, config.Offscreen.Encoders)
	if err != nil {
		return nil, err
	}
	rc, err := NewRenderContext(device, RenderContextConfig{
		FramesInFlight: config.Render.FramesInFlight,
		MaxRecursion:   config.Render.MaxRecursion,
	})
	if err != nil {
		_ = js.Shutdown()
		return nil, err
	}
	fs := NewFrameSystem(rc, FrameSystemConfig{
		FenceTimeout:   config.Render.FenceTimeout.Duration,
		AcquireTimeout: config.Render.AcquireTimeout.Duration,
		Width:          config.Window.Width,
		Height:         config.Window.Height,
		Frames:         config.Offscreen.Frames,
		Deadline:       config.Offscreen.Deadline.Duration,
	})
	sm := &SystemManager{
		JobSystem:     js,
		RenderContext: rc,
		FrameSystem:   fs,
	}
	if config.Render.Mode == core.RenderModeOffscreen {
		if sm.OutputSystem, err = NewOutputSystem(config.Offscreen.OutputDir, config.Offscreen.Format, config.Offscreen.Encoders, js); err != nil {
			rc.Destroy()
			_ = js.Shutdown()
			return nil, err
		}
	}
	return sm, nil
}

func (sm *SystemManager) Shutdown() error {
	if sm.OutputSystem != nil {
		if err := sm.OutputSystem.Shutdown(); err != nil {
			core.LogError("output system did not shut down cleanly: %s", err)
		}
	}
	sm.RenderContext.Destroy()
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}
