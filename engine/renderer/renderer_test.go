package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

func TestNewBackendSoftware(t *testing.T) {
	tests := []struct {
		name        string
		mode        core.RenderMode
		interactive bool
	}{
		{name: "offscreen", mode: core.RenderModeOffscreen},
		{name: "interactive", mode: core.RenderModeInteractive, interactive: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			cfg.Render.Backend = core.RenderBackendSoftware
			cfg.Render.Mode = tt.mode
			cfg.Window.Width, cfg.Window.Height = 8, 4

			b, err := NewBackend(cfg, nil)
			require.NoError(t, err)
			defer b.Destroy()

			assert.Equal(t, "software", b.Name())
			assert.Equal(t, tt.interactive, b.Interactive())
			if tt.interactive {
				require.NotNil(t, b.Window)
				assert.Len(t, b.Swapchain.Images(), int(cfg.Render.FramesInFlight+1))
				w, h := b.Swapchain.Extent()
				assert.Equal(t, [2]uint32{8, 4}, [2]uint32{w, h})
			} else {
				assert.Nil(t, b.Window)
			}
		})
	}
}

func TestNewBackendErrors(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Render.Backend = "metal"
	_, err := NewBackend(cfg, nil)
	assert.Error(t, err)

	cfg.Render.Backend = core.RenderBackendVulkan
	cfg.Render.Mode = core.RenderModeInteractive
	_, err = NewBackend(cfg, nil)
	assert.ErrorIs(t, err, ErrNoSurface)
}

func TestBackendDestroyTwice(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Render.Backend = core.RenderBackendSoftware
	b, err := NewBackend(cfg, nil)
	require.NoError(t, err)
	b.Destroy()
	b.Destroy()
	buffers, memories, images, accels := b.Live()
	assert.Zero(t, buffers+memories+images+accels)
}
