package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/platform"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/software"
	"github.com/spaghettifunk/anima-rt/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageBooting:
		return "booting"
	case EngineStageBootComplete:
		return "boot complete"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	default:
		return "unknown"
	}
}

var ErrNotInitialized = errors.New("engine is not initialized")

type Engine struct {
	mu           sync.Mutex
	currentStage Stage

	config        *core.Config
	events        *core.EventBus
	clock         *core.Clock
	platform      *platform.Platform
	backend       *renderer.Backend
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(config *core.Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	events := core.NewEventBus()
	return &Engine{
		currentStage: EngineStageBooting,
		config:       config,
		events:       events,
		clock:        core.NewClock(),
		assetManager: assets.NewAssetManager(events),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStage
}

func (e *Engine) setStage(s Stage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	core.LogDebug("engine stage: %s -> %s", e.currentStage, s)
	e.currentStage = s
}

// Systems exposes the render systems once Initialize has succeeded.
func (e *Engine) Systems() *systems.SystemManager {
	return e.systemManager
}

func (e *Engine) Backend() *renderer.Backend {
	return e.backend
}

func (e *Engine) interactive() bool {
	return e.config.Render.Mode == core.RenderModeInteractive
}

/**
 * @brief Opens the window and device, loads the scene and shaders and
 * builds everything the first frame needs. A failure leaves whatever was
 * created for Shutdown to release.
 */
func (e *Engine) Initialize() error {
	e.setStage(EngineStageBootComplete)
	e.setStage(EngineStageInitializing)

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	var surface renderer.Surface
	if e.interactive() && e.config.Render.Backend == core.RenderBackendVulkan {
		e.platform = platform.New(e.events)
		if err := e.platform.Startup(e.config.Window); err != nil {
			return err
		}
		surface = e.platform
	}

	backend, err := renderer.NewBackend(e.config, surface)
	if err != nil {
		return err
	}
	e.backend = backend
	core.LogInfo("render backend %q on %s", backend.Name(), backend.Device.Name())

	assetDirs := existingDirs(filepath.Dir(e.config.Scene.Path), e.config.Shaders.Dir)
	if err := e.assetManager.Initialize(assetDirs...); err != nil {
		return err
	}

	scene, binaries, err := e.loadContent()
	if err != nil {
		return err
	}

	sm, err := systems.NewSystemManager(backend.Device, e.config)
	if err != nil {
		return err
	}
	e.systemManager = sm
	if err := sm.RenderContext.Setup(scene, binaries); err != nil {
		return err
	}

	if e.config.Scene.Watch && e.interactive() {
		if err := e.assetManager.Watch(assetDirs...); err != nil {
			return err
		}
		e.events.Register(core.EVENT_CODE_ASSET_CHANGED, e, e.onAssetChanged)
	}

	e.setStage(EngineStageInitialized)
	return nil
}

func existingDirs(dirs ...string) []string {
	var out []string
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			out = append(out, dir)
		}
	}
	return out
}

// loadContent reads the scene and the five programs the pipeline needs.
func (e *Engine) loadContent() (*metadata.Scene, map[metadata.ShaderKind][]byte, error) {
	scene, err := e.assetManager.LoadScene(e.ctx, e.config.Scene.Path, assets.SceneOptions{
		EnvFaceSize: e.config.Render.EnvFaceSize,
		Decoders:    e.config.Offscreen.Encoders,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load scene %s: %w", e.config.Scene.Path, err)
	}
	binaries, err := e.assetManager.LoadShaders(e.config)
	if err != nil {
		if e.config.Render.Backend != core.RenderBackendSoftware {
			return nil, nil, err
		}
		core.LogWarn("using built-in programs: %s", err)
		binaries = software.BuiltinShaders()
	}
	return scene, binaries, nil
}

/**
 * @brief Renders until the window closes, the frame budget is spent or
 * Shutdown is called. Offscreen runs also wait for every frame file.
 */
func (e *Engine) Run() error {
	if e.Stage() != EngineStageInitialized {
		return ErrNotInitialized
	}
	e.setStage(EngineStageRunning)
	e.clock.Start()
	defer func() {
		e.clock.Update()
		core.LogInfo("run finished after %.2fs", e.clock.ElapsedSeconds())
	}()

	fs := e.systemManager.FrameSystem
	if e.interactive() {
		err := fs.RunInteractive(e.ctx, e.backend.Window, e.backend.Swapchain)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	out := e.systemManager.OutputSystem
	runErr := fs.RunOffscreen(e.ctx, out)
	if errors.Is(runErr, context.Canceled) {
		core.LogWarn("offscreen run stopped after %d frames", fs.FrameIndex())
		runErr = nil
	}
	if err := out.Wait(); runErr == nil {
		runErr = err
	}
	core.LogInfo("%d frames written to %s", len(out.Written()), e.config.Offscreen.OutputDir)
	return runErr
}

// Stop ends a running frame loop after its current frame. Run then returns.
func (e *Engine) Stop() {
	e.cancel()
}

/**
 * @brief Stops a running frame loop and releases everything in the
 * opposite order of creation. Only the first call does any work.
 */
func (e *Engine) Shutdown() error {
	e.shutdownOnce.Do(func() {
		e.setStage(EngineStageShuttingDown)
		e.cancel()

		var errs []error
		if err := e.assetManager.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		if e.systemManager != nil {
			if err := e.systemManager.Shutdown(); err != nil {
				errs = append(errs, err)
			}
		}
		if e.backend != nil {
			e.backend.Destroy()
		}
		if e.platform != nil {
			if err := e.platform.Shutdown(); err != nil {
				errs = append(errs, err)
			}
		}
		e.events.Shutdown()
		e.shutdownErr = errors.Join(errs...)
	})
	return e.shutdownErr
}

func (e *Engine) onEvent(code core.SystemEventCode, sender, listenerInst interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, stopping the frame loop")
		e.Stop()
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender, listenerInst interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	core.LogDebug("window resize: %d, %d", width, height)
	if e.systemManager != nil {
		e.systemManager.FrameSystem.RequestResize()
	}
	return false
}

/**
 * @brief Reloads the scene and shaders on a job worker and hands the
 * rebuild to the frame loop, which applies it between frames.
 */
func (e *Engine) onAssetChanged(code core.SystemEventCode, sender, listenerInst interface{}, data core.EventContext) bool {
	path := data.Data.C[0]
	sm := e.systemManager
	job := metadata.NewJobTask(metadata.JOB_TYPE_RESOURCE_LOAD, path, func(params interface{}, results chan<- interface{}) error {
		scene, binaries, err := e.loadContent()
		if err != nil {
			return err
		}
		sm.FrameSystem.RequestReload(func() error {
			return sm.RenderContext.Reload(scene, binaries)
		})
		return nil
	})
	job.OnFailure = func(err error) {
		core.LogError("reload after %s changed failed, keeping the current scene: %s", path, err)
	}
	job.OnCompletionCallback = func() {
		core.LogDebug("reload job for %s finished", path)
	}
	sm.JobSystem.AddWorkNonBlocking(job)
	return true
}
