package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
[window]
width = 64
height = 32

[render]
mode = "offscreen"
backend = "software"
fence_timeout = "250ms"

[offscreen]
frames = 5
format = "png"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(64), cfg.Window.Width)
	assert.Equal(t, uint32(32), cfg.Window.Height)
	assert.Equal(t, RenderBackendSoftware, cfg.Render.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Render.FenceTimeout.Duration)
	assert.Equal(t, uint32(5), cfg.Offscreen.Frames)
	assert.Equal(t, OutputFormatPNG, cfg.Offscreen.Format)

	// untouched sections keep their defaults
	assert.Equal(t, uint32(2), cfg.Render.FramesInFlight)
	assert.Equal(t, uint32(2), cfg.Render.MaxRecursion)
	assert.Equal(t, "raygen.rgen.spv", cfg.Shaders.Raygen)
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
[render]
colour = "blue"
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero width", func(c *Config) { c.Window.Width = 0 }},
		{"too many frames in flight", func(c *Config) { c.Render.FramesInFlight = 4 }},
		{"no frames in flight", func(c *Config) { c.Render.FramesInFlight = 0 }},
		{"unknown mode", func(c *Config) { c.Render.Mode = "headless" }},
		{"unknown backend", func(c *Config) { c.Render.Backend = "metal" }},
		{"unknown format", func(c *Config) { c.Offscreen.Format = "exr" }},
		{"no recursion", func(c *Config) { c.Render.MaxRecursion = 0 }},
		{"zero acquire timeout", func(c *Config) { c.Render.AcquireTimeout.Duration = 0 }},
		{"negative acquire timeout", func(c *Config) { c.Render.AcquireTimeout.Duration = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestOutputFormatExtension(t *testing.T) {
	assert.Equal(t, ".raw", OutputFormatRaw.Extension())
	assert.Equal(t, ".png", OutputFormatPNG.Extension())
	assert.Equal(t, ".bmp", OutputFormatBMP.Extension())
	assert.Equal(t, ".tiff", OutputFormatTIFF.Extension())
}

func TestShaderPath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("assets/shaders", "raygen.rgen.spv"), cfg.ShaderPath("raygen.rgen.spv"))
	assert.Equal(t, "/abs/raygen.spv", cfg.ShaderPath("/abs/raygen.spv"))
}

func TestBundledConfigLoads(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, RenderModeInteractive, cfg.Render.Mode)
	assert.Equal(t, OutputFormatPNG, cfg.Offscreen.Format)
	assert.Equal(t, "raygen.rgen.spv", cfg.Shaders.Raygen, "unset keys keep their defaults")
}
