package assets

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// defaultSky is the environment colour when a scene names neither an image nor a colour.
var defaultSky = [3]float32{0.5, 0.7, 1.0}

type SceneOptions struct {
	// Texels per environment cube face side.
	EnvFaceSize uint32
	// Concurrent decoders for meshes and textures, 0 for no limit.
	Decoders int
}

/**
 * @brief Loads a scene description and everything it references: meshes
 * merged into one geometry, materials, deduplicated textures and the
 * environment cube. Relative paths resolve against the scene file.
 */
func (am *AssetManager) LoadScene(ctx context.Context, path string, opts SceneOptions) (*metadata.Scene, error) {
	res, err := am.LoadAsset(path, metadata.ResourceTypeScene, nil)
	if err != nil {
		return nil, err
	}
	cfg := res.Data.(*metadata.SceneConfig)
	dir := filepath.Dir(path)

	scene := &metadata.Scene{
		Name:   cfg.Name,
		Camera: cfg.Camera,
	}
	materialIndex, texturePaths := buildMaterials(scene, cfg, dir)

	geometries := make([]*metadata.SceneGeometry, len(cfg.Meshes))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Decoders > 0 {
		g.SetLimit(opts.Decoders)
	}
	for i, mesh := range cfg.Meshes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := am.LoadAsset(resolvePath(dir, mesh.Path), metadata.ResourceTypeMesh, nil)
			if err != nil {
				return err
			}
			geom := r.Data.(*metadata.SceneGeometry)
			placeMesh(geom, mesh)
			geometries[i] = geom
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, geom := range geometries {
		scene.Geometry.Append(geom, materialIndex[cfg.Meshes[i].Material])
	}

	if scene.Textures, err = loaders.DecodeImages(ctx, texturePaths, opts.Decoders); err != nil {
		return nil, err
	}

	envParams := &loaders.EnvironmentParams{FaceSize: opts.EnvFaceSize, Color: cfg.Environment.Color}
	if envParams.Color == ([3]float32{}) {
		envParams.Color = defaultSky
	}
	envPath := ""
	if cfg.Environment.Path != "" {
		envPath = resolvePath(dir, cfg.Environment.Path)
	}
	env, err := am.LoadAsset(envPath, metadata.ResourceTypeEnvironment, envParams)
	if err != nil {
		return nil, err
	}
	scene.Environment = env.Data.(metadata.TextureData)

	scene.Uniform = sceneUniform(cfg)
	core.LogInfo("scene %q loaded: %d meshes, %d triangles, %d materials, %d textures",
		scene.Name, len(cfg.Meshes), scene.Geometry.TriangleCount(), len(scene.Materials), len(scene.Textures))
	return scene, nil
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

/**
 * @brief Converts the material descriptions and assigns texture indices in
 * first use order. A scene without materials gets one default material.
 * The returned map takes the empty name to material 0.
 */
func buildMaterials(scene *metadata.Scene, cfg *metadata.SceneConfig, dir string) (map[string]uint32, []string) {
	indices := map[string]uint32{}
	textures := map[string]int32{}
	var paths []string
	texture := func(path string) int32 {
		if path == "" {
			return metadata.NoTexture
		}
		path = resolvePath(dir, path)
		if idx, ok := textures[path]; ok {
			return idx
		}
		idx := int32(len(paths))
		textures[path] = idx
		paths = append(paths, path)
		return idx
	}

	for _, mc := range cfg.Materials {
		m := metadata.NewMaterial()
		if mc.BaseColor != ([4]float32{}) {
			m.BaseColorFactor = amath.NewVec4(mc.BaseColor[0], mc.BaseColor[1], mc.BaseColor[2], mc.BaseColor[3])
		}
		m.EmissiveFactor = amath.NewVec4(mc.Emissive[0], mc.Emissive[1], mc.Emissive[2], 0)
		m.Metallic = amath.Clamp(mc.Metallic, 0, 1)
		if mc.Roughness > 0 {
			m.Roughness = amath.Clamp(mc.Roughness, 0, 1)
		}
		if mc.IOR > 0 {
			m.IOR = mc.IOR
		}
		m.BaseColorTexture = texture(mc.BaseColorMap)
		m.MetallicRoughnessTexture = texture(mc.MetallicRoughnessMap)
		m.NormalTexture = texture(mc.NormalMap)
		m.OcclusionTexture = texture(mc.OcclusionMap)
		m.EmissiveTexture = texture(mc.EmissiveMap)

		indices[mc.Name] = uint32(len(scene.Materials))
		scene.Materials = append(scene.Materials, m)
	}
	if len(scene.Materials) == 0 {
		scene.Materials = append(scene.Materials, metadata.NewMaterial())
	}
	indices[""] = 0
	return indices, paths
}

// placeMesh applies the mesh's scale and translation to its vertices.
func placeMesh(geom *metadata.SceneGeometry, mesh metadata.MeshConfig) {
	scale := mesh.Scale
	if scale <= 0 {
		scale = 1
	}
	t := amath.NewTransform3x4(amath.NewVec3(mesh.Position[0], mesh.Position[1], mesh.Position[2]), scale)
	for i := range geom.Vertices {
		geom.Vertices[i].Position = t.TransformPoint(geom.Vertices[i].Position)
	}
}

// sceneUniform starts from the defaults and applies what the file sets.
func sceneUniform(cfg *metadata.SceneConfig) metadata.SceneUniform {
	u := metadata.DefaultSceneUniform()
	isSet := func(v metadata.Float3) bool { return v != metadata.Float3{} }
	toVec3 := func(v metadata.Float3) amath.Vec3 { return amath.NewVec3(v[0], v[1], v[2]) }

	if isSet(cfg.Camera.Position) {
		u.CameraPosition = toVec3(cfg.Camera.Position).ToVec4(1)
	}
	if isSet(cfg.Camera.Target) {
		u.CameraTarget = toVec3(cfg.Camera.Target).ToVec4(1)
	}
	if cfg.Camera.FovY > 0 {
		u.Viewport.Z = metadata.TanHalfFov(cfg.Camera.FovY)
	}
	if isSet(cfg.Sun.Direction) {
		u.Sun.Direction = toVec3(cfg.Sun.Direction).Normalize().ToVec4(0)
	}
	if isSet(cfg.Sun.Color) {
		u.Sun.Color = toVec3(cfg.Sun.Color).ToVec4(1)
	}
	return u
}

// LoadShaders reads the five ray tracing programs named in the configuration.
func (am *AssetManager) LoadShaders(config *core.Config) (map[metadata.ShaderKind][]byte, error) {
	names := map[metadata.ShaderKind]string{
		metadata.ShaderKindRaygen:     config.Shaders.Raygen,
		metadata.ShaderKindMiss:       config.Shaders.Miss,
		metadata.ShaderKindShadowMiss: config.Shaders.ShadowMiss,
		metadata.ShaderKindClosestHit: config.Shaders.ClosestHit,
		metadata.ShaderKindAnyHit:     config.Shaders.AnyHit,
	}
	binaries := make(map[metadata.ShaderKind][]byte, len(names))
	for kind, name := range names {
		res, err := am.LoadAsset(config.ShaderPath(name), metadata.ResourceTypeShader, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s shader: %w", kind, err)
		}
		binaries[kind] = res.Data.([]byte)
	}
	return binaries, nil
}
