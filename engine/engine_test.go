package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/software"
	"github.com/spaghettifunk/anima-rt/engine/systems"
)

const quadOBJ = `v -50 -50 0
v 50 -50 0
v 50 50 0
v -50 50 0
f 1 2 3 4
`

// softwareConfig points at a scene with one emissive quad in a fresh directory.
func softwareConfig(t *testing.T, mode core.RenderMode) *core.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quad.obj"), []byte(quadOBJ), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.toml"), []byte(`
[camera]
position = [0, 0, 5]
target = [0, 0, 0]

[[materials]]
name = "glow"
base_color = [0.0, 0.0, 0.0, 1.0]
emissive = [1.0, 0.0, 0.0]

[[meshes]]
path = "quad.obj"
material = "glow"
`), 0o644))

	cfg := core.DefaultConfig()
	cfg.Render.Backend = core.RenderBackendSoftware
	cfg.Render.Mode = mode
	cfg.Render.EnvFaceSize = 4
	cfg.Window.Width, cfg.Window.Height = 8, 8
	cfg.Offscreen.Frames = 3
	cfg.Offscreen.OutputDir = filepath.Join(dir, "out")
	cfg.Offscreen.Format = core.OutputFormatPNG
	cfg.Shaders.Dir = filepath.Join(dir, "shaders")
	cfg.Scene.Path = filepath.Join(dir, "scene.toml")
	return cfg
}

func TestEngineOffscreenRun(t *testing.T) {
	cfg := softwareConfig(t, core.RenderModeOffscreen)
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })

	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	require.NoError(t, e.Run())

	for i := uint64(0); i < 3; i++ {
		_, err := os.Stat(filepath.Join(cfg.Offscreen.OutputDir, systems.FrameName(i, core.OutputFormatPNG)))
		assert.NoError(t, err)
	}
	assert.Len(t, e.Systems().OutputSystem.Written(), 3)

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShuttingDown, e.Stage())
}

func TestEngineInteractiveRun(t *testing.T) {
	cfg := softwareConfig(t, core.RenderModeInteractive)
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })

	require.NoError(t, e.Initialize())
	assert.Nil(t, e.Systems().OutputSystem)
	require.NoError(t, e.Run())

	sc, ok := e.Backend().Swapchain.(*software.Swapchain)
	require.True(t, ok)
	presented, last := sc.Presented()
	assert.Equal(t, 3, presented)
	// BGRA red
	assert.Equal(t, []byte{0, 0, 255, 255}, last[:4])
	assert.Equal(t, uint64(3), e.Systems().FrameSystem.FrameIndex())
}

func TestEngineQuitEventStopsRun(t *testing.T) {
	cfg := softwareConfig(t, core.RenderModeInteractive)
	cfg.Offscreen.Frames = 1000
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	require.NoError(t, e.Initialize())

	e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, t, core.EventContext{})
	require.NoError(t, e.Run())
	assert.Zero(t, e.Systems().FrameSystem.FrameIndex())
}

func TestEngineLifecycleErrors(t *testing.T) {
	cfg := softwareConfig(t, core.RenderModeOffscreen)
	e, err := New(cfg)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Run(), ErrNotInitialized)
	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())

	bad := softwareConfig(t, core.RenderModeOffscreen)
	bad.Render.FramesInFlight = 0
	_, err = New(bad)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	missing := softwareConfig(t, core.RenderModeOffscreen)
	missing.Scene.Path = filepath.Join(t.TempDir(), "nope.toml")
	e, err = New(missing)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	assert.Error(t, e.Initialize())
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "running", EngineStageRunning.String())
	assert.Equal(t, "unknown", Stage(42).String())
}
