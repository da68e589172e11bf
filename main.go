/*
Renders a scene with hardware ray tracing, either into a window or into
a fixed number of image files.
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-rt/engine"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the engine configuration")
	mode := flag.String("mode", "", "override the render mode (interactive or offscreen)")
	backend := flag.String("backend", "", "override the render backend (vulkan or software)")
	frames := flag.Uint("frames", 0, "override the number of offscreen frames")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		core.LogFatal("failed to load configuration: %s", err)
	}
	if *mode != "" {
		cfg.Render.Mode = core.RenderMode(*mode)
	}
	if *backend != "" {
		cfg.Render.Backend = core.RenderBackend(*backend)
	}
	if *frames > 0 {
		cfg.Offscreen.Frames = uint32(*frames)
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn("unknown log level %q, keeping the default", cfg.Log.Level)
	}

	e, err := engine.New(cfg)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("failed to initialize: %s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		e.Stop()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("render failed: %s", runErr)
	}
}

// loadConfig falls back to the defaults when no file exists at path.
func loadConfig(path string) (*core.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		core.LogWarn("no configuration at %s, using defaults", path)
		return core.DefaultConfig(), nil
	}
	return core.LoadConfig(path)
}
