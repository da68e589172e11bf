package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type RenderMode string

const (
	RenderModeInteractive RenderMode = "interactive"
	RenderModeOffscreen   RenderMode = "offscreen"
)

type RenderBackend string

const (
	RenderBackendVulkan   RenderBackend = "vulkan"
	RenderBackendSoftware RenderBackend = "software"
)

type OutputFormat string

const (
	OutputFormatRaw  OutputFormat = "raw"
	OutputFormatPNG  OutputFormat = "png"
	OutputFormatBMP  OutputFormat = "bmp"
	OutputFormatTIFF OutputFormat = "tiff"
)

// Extension returns the file extension used for frames in this format.
func (f OutputFormat) Extension() string {
	switch f {
	case OutputFormatPNG:
		return ".png"
	case OutputFormatBMP:
		return ".bmp"
	case OutputFormatTIFF:
		return ".tiff"
	default:
		return ".raw"
	}
}

// Duration decodes TOML strings such as "1s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type WindowConfig struct {
	Title  string `toml:"title"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
}

type RenderConfig struct {
	Mode           RenderMode    `toml:"mode"`
	Backend        RenderBackend `toml:"backend"`
	FramesInFlight uint32        `toml:"frames_in_flight"`
	FenceTimeout   Duration      `toml:"fence_timeout"`
	AcquireTimeout Duration      `toml:"acquire_timeout"`
	MaxRecursion   uint32        `toml:"max_recursion"`
	Validation     bool          `toml:"validation"`
	EnvFaceSize    uint32        `toml:"env_face_size"`
}

type OffscreenConfig struct {
	Frames    uint32       `toml:"frames"`
	Deadline  Duration     `toml:"deadline"`
	OutputDir string       `toml:"output_dir"`
	Format    OutputFormat `toml:"format"`
	Encoders  int          `toml:"encoders"`
}

type ShaderConfig struct {
	Dir        string `toml:"dir"`
	Raygen     string `toml:"raygen"`
	Miss       string `toml:"miss"`
	ShadowMiss string `toml:"shadow_miss"`
	ClosestHit string `toml:"closest_hit"`
	AnyHit     string `toml:"any_hit"`
}

type SceneConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Config is the whole engine configuration as read from a TOML file.
type Config struct {
	Window    WindowConfig    `toml:"window"`
	Render    RenderConfig    `toml:"render"`
	Offscreen OffscreenConfig `toml:"offscreen"`
	Shaders   ShaderConfig    `toml:"shaders"`
	Scene     SceneConfig     `toml:"scene"`
	Log       LogConfig       `toml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "Anima RT",
			Width:  1280,
			Height: 960,
			X:      100,
			Y:      100,
		},
		Render: RenderConfig{
			Mode:           RenderModeOffscreen,
			Backend:        RenderBackendVulkan,
			FramesInFlight: 2,
			FenceTimeout:   Duration{100 * time.Millisecond},
			AcquireTimeout: Duration{time.Second},
			MaxRecursion:   2,
			Validation:     false,
			EnvFaceSize:    512,
		},
		Offscreen: OffscreenConfig{
			Frames:    3,
			Deadline:  Duration{time.Minute},
			OutputDir: "output",
			Format:    OutputFormatRaw,
			Encoders:  2,
		},
		Shaders: ShaderConfig{
			Dir:        "assets/shaders",
			Raygen:     "raygen.rgen.spv",
			Miss:       "miss.rmiss.spv",
			ShadowMiss: "shadow.rmiss.spv",
			ClosestHit: "closesthit.rchit.spv",
			AnyHit:     "anyhit.rahit.spv",
		},
		Scene: SceneConfig{
			Path:  "assets/scenes/default.toml",
			Watch: false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the file at path on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidConfig, c.Window.Width, c.Window.Height)
	}
	if c.Render.FramesInFlight < 1 || c.Render.FramesInFlight > 3 {
		return fmt.Errorf("%w: frames_in_flight must be within [1, 3], got %d", ErrInvalidConfig, c.Render.FramesInFlight)
	}
	switch c.Render.Mode {
	case RenderModeInteractive, RenderModeOffscreen:
	default:
		return fmt.Errorf("%w: unknown render mode %q", ErrInvalidConfig, c.Render.Mode)
	}
	switch c.Render.Backend {
	case RenderBackendVulkan, RenderBackendSoftware:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Render.Backend)
	}
	switch c.Offscreen.Format {
	case OutputFormatRaw, OutputFormatPNG, OutputFormatBMP, OutputFormatTIFF:
	default:
		return fmt.Errorf("%w: unknown output format %q", ErrInvalidConfig, c.Offscreen.Format)
	}
	if c.Render.MaxRecursion == 0 {
		return fmt.Errorf("%w: max_recursion must be at least 1", ErrInvalidConfig)
	}
	if c.Render.AcquireTimeout.Duration <= 0 {
		return fmt.Errorf("%w: acquire_timeout must be positive, got %s", ErrInvalidConfig, c.Render.AcquireTimeout.Duration)
	}
	if c.Render.EnvFaceSize == 0 {
		return fmt.Errorf("%w: env_face_size must be positive", ErrInvalidConfig)
	}
	if c.Offscreen.Encoders < 1 {
		c.Offscreen.Encoders = 1
	}
	return nil
}

// ShaderPath resolves a shader file name against the shader directory.
func (c *Config) ShaderPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Shaders.Dir, name)
}
