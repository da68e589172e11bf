package systems

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type RenderContextConfig struct {
	FramesInFlight uint32
	MaxRecursion   uint32
}

/**
 * @brief Everything a frame needs, owned in one place: the device, the
 * allocator, the scene buffers, the acceleration structures, the binding
 * generation, the pipeline with its binding table and the frame slots.
 */
type RenderContext struct {
	ID     uuid.UUID
	Device metadata.Device
	Memory *MemorySystem
	Limits metadata.RayTracingLimits

	Uniforms *UniformBuffers
	Camera   *CameraController
	Textures *TextureSystem
	Scene    *SceneBuffers
	BLAS     *AccelerationStructure
	TLAS     *AccelerationStructure
	Bindings *BindingGeneration
	Shaders  *ShaderStages
	Pipeline metadata.PipelineHandle
	SBT      *ShaderBindingTable
	Slots    []*FrameSlot

	config RenderContextConfig
	log    *log.Logger
}

/**
 * @brief Creates the device-level parts of a context: the allocator, the
 * per-slot uniform buffers, the samplers and the frame slots. Scene
 * resources come from Setup.
 */
func NewRenderContext(device metadata.Device, config RenderContextConfig) (*RenderContext, error) {
	if config.FramesInFlight == 0 {
		return nil, fmt.Errorf("%w: frames in flight must be at least 1", core.ErrInvalidConfig)
	}
	id := uuid.New()
	rc := &RenderContext{
		ID:     id,
		Device: device,
		Memory: NewMemorySystem(device),
		Limits: device.Limits(),
		config: config,
		log:    core.LogWith("context", id.String()),
	}
	rc.log.Info("creating render context", "device", device.Name(), "frames_in_flight", config.FramesInFlight)

	var err error
	if rc.Uniforms, err = NewUniformBuffers(rc.Memory, config.FramesInFlight); err != nil {
		rc.Destroy()
		return nil, err
	}
	if rc.Textures, err = NewTextureSystem(rc.Memory); err != nil {
		rc.Destroy()
		return nil, err
	}
	for i := uint32(0); i < config.FramesInFlight; i++ {
		slot, err := newFrameSlot(device, i)
		if err != nil {
			rc.Destroy()
			return nil, err
		}
		rc.Slots = append(rc.Slots, slot)
	}
	return rc, nil
}

/**
 * @brief Uploads the scene and builds everything that depends on it:
 * acceleration structures, a binding generation sized for the scene's
 * textures, the pipeline and the shader binding table.
 */
func (rc *RenderContext) Setup(scene *metadata.Scene, binaries map[metadata.ShaderKind][]byte) error {
	if rc.Scene != nil {
		return errors.New("render context already set up, use Reload")
	}
	rc.Camera = NewCameraController(scene.Uniform, scene.Camera)

	var err error
	if rc.Scene, err = UploadScene(rc.Memory, &scene.Geometry, scene.Materials); err != nil {
		return err
	}
	if err := rc.Textures.Load(scene.Textures, scene.Environment); err != nil {
		return err
	}

	var instances []metadata.AccelInstance
	if rc.Scene.TriangleCount > 0 {
		if rc.BLAS, err = BuildBottomLevel(rc.Memory, rc.Scene.Geometry()); err != nil {
			return err
		}
		instances = append(instances, NewSceneInstance(rc.BLAS, 0))
	}
	if rc.TLAS, err = BuildTopLevel(rc.Memory, instances); err != nil {
		return err
	}

	if rc.Bindings, err = CreateLayout(rc.Device, rc.Textures.Count()); err != nil {
		return err
	}
	if err := rc.Bindings.AllocateSets(uint32(len(rc.Slots))); err != nil {
		return err
	}
	if err := rc.Bindings.AttachResources(&BindingResources{
		TLAS:     rc.TLAS,
		Uniforms: rc.Uniforms,
		Scene:    rc.Scene,
		Textures: rc.Textures,
	}); err != nil {
		return err
	}

	if rc.Shaders, err = PrepareShaders(rc.Device, binaries); err != nil {
		return err
	}
	if rc.Pipeline, err = CreatePipeline(rc.Device, rc.Bindings.PipelineLayout, rc.Shaders, rc.config.MaxRecursion); err != nil {
		return err
	}
	if rc.SBT, err = BuildTable(rc.Memory, rc.Pipeline, rc.Limits); err != nil {
		return err
	}
	rc.log.Info("render context ready",
		"scene", scene.Name,
		"triangles", rc.Scene.TriangleCount,
		"textures", rc.Textures.Count(),
	)
	return nil
}

/**
 * @brief Drains the device and rebuilds every scene dependent resource from
 * a new scene and shader set into a staging context that shares the frame
 * slots, uniforms and samplers. The current scene is replaced only once the
 * whole rebuild succeeded; on failure it stays bound and renderable.
 */
func (rc *RenderContext) Reload(scene *metadata.Scene, binaries map[metadata.ShaderKind][]byte) error {
	if err := rc.Device.WaitIdle(); err != nil {
		return fmt.Errorf("failed to drain the device before reload: %w", err)
	}
	rc.log.Info("reloading scene", "scene", scene.Name)

	next := &RenderContext{
		ID:       rc.ID,
		Device:   rc.Device,
		Memory:   rc.Memory,
		Limits:   rc.Limits,
		Uniforms: rc.Uniforms,
		Textures: rc.Textures.staging(),
		Slots:    rc.Slots,
		config:   rc.config,
		log:      rc.log,
	}
	if err := next.Setup(scene, binaries); err != nil {
		next.teardownScene()
		next.Textures.destroyImages()
		return err
	}

	rc.teardownScene()
	rc.Textures.adopt(next.Textures)
	rc.Camera = next.Camera
	rc.Scene = next.Scene
	rc.BLAS = next.BLAS
	rc.TLAS = next.TLAS
	rc.Bindings = next.Bindings
	rc.Shaders = next.Shaders
	rc.Pipeline = next.Pipeline
	rc.SBT = next.SBT
	return nil
}

func (rc *RenderContext) teardownScene() {
	rc.SBT.Destroy()
	rc.SBT = nil
	if rc.Pipeline != 0 {
		rc.Device.DestroyPipeline(rc.Pipeline)
		rc.Pipeline = 0
	}
	rc.Shaders.Destroy()
	rc.Shaders = nil
	rc.Bindings.Destroy()
	rc.Bindings = nil
	rc.TLAS.Destroy()
	rc.TLAS = nil
	rc.BLAS.Destroy()
	rc.BLAS = nil
	rc.Scene.Destroy()
	rc.Scene = nil
}

// Logger returns the context's logger, tagged with its id.
func (rc *RenderContext) Logger() *log.Logger {
	return rc.log
}

/**
 * @brief Waits for the device and destroys everything in reverse creation
 * order. The device itself belongs to the caller.
 */
func (rc *RenderContext) Destroy() {
	if rc.Device == nil {
		return
	}
	if err := rc.Device.WaitIdle(); err != nil {
		rc.log.Error("device did not drain before teardown", "err", err)
	}
	rc.teardownScene()
	for _, slot := range rc.Slots {
		slot.destroy(rc.Device)
	}
	rc.Slots = nil
	if rc.Textures != nil {
		_ = rc.Textures.Shutdown()
		rc.Textures = nil
	}
	rc.Uniforms.Destroy()
	rc.Uniforms = nil
	rc.log.Info("render context destroyed")
	rc.Device = nil
}
