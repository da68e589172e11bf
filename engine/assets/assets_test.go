package assets

import (
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

const triangleOBJ = `v 0 0 0
v 1 0 0
v 0 1 0
f 1 2 3
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeTexture(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDetermineAssetType(t *testing.T) {
	tests := []struct {
		path string
		want metadata.ResourceType
		ok   bool
	}{
		{path: "shaders/raygen.rgen.spv", want: metadata.ResourceTypeShader, ok: true},
		{path: "textures/wood.PNG", want: metadata.ResourceTypeImage, ok: true},
		{path: "textures/wood.webp", want: metadata.ResourceTypeImage, ok: true},
		{path: "env/sky.hdr", want: metadata.ResourceTypeEnvironment, ok: true},
		{path: "mesh/bunny.obj", want: metadata.ResourceTypeMesh, ok: true},
		{path: "scenes/default.toml", want: metadata.ResourceTypeScene, ok: true},
		{path: "shaders/raygen.rgen", ok: false},
		{path: "README", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := determineAssetType(tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLoadScene(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "meshes", "tri.obj"), triangleOBJ)
	writeTexture(t, filepath.Join(dir, "textures", "albedo.png"))
	scenePath := filepath.Join(dir, "scene.toml")
	writeFile(t, scenePath, `
name = "two triangles"

[camera]
position = [0, 0, 5]
target = [0, 0, 0]
fov_y = 90.0

[environment]
color = [0.0, 0.0, 1.0]

[[materials]]
name = "plain"

[[materials]]
name = "textured"
base_color = [1.0, 0.5, 0.5, 1.0]
base_color_map = "textures/albedo.png"
emissive_map = "textures/albedo.png"

[[meshes]]
path = "meshes/tri.obj"
material = "plain"

[[meshes]]
path = "meshes/tri.obj"
material = "textured"
position = [10, 0, 0]
scale = 2.0
`)

	am := NewAssetManager(core.NewEventBus())
	t.Cleanup(func() { _ = am.Shutdown() })
	require.NoError(t, am.Initialize(dir))
	assert.Len(t, am.Assets(metadata.ResourceTypeMesh), 1)
	assert.Len(t, am.Assets(metadata.ResourceTypeImage), 1)

	scene, err := am.LoadScene(context.Background(), scenePath, SceneOptions{EnvFaceSize: 4, Decoders: 2})
	require.NoError(t, err)

	assert.Equal(t, "two triangles", scene.Name)
	assert.Equal(t, uint32(2), scene.Geometry.TriangleCount())
	assert.Equal(t, []uint32{0, 1}, scene.Geometry.MaterialIndices)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, scene.Geometry.Indices)

	// Second instance is scaled by 2 and moved along +x.
	assert.Equal(t, float32(12), scene.Geometry.Vertices[4].Position.X)
	assert.Equal(t, float32(2), scene.Geometry.Vertices[5].Position.Y)

	require.Len(t, scene.Materials, 2)
	assert.Equal(t, metadata.NoTexture, scene.Materials[0].BaseColorTexture)
	assert.Equal(t, float32(1), scene.Materials[0].BaseColorFactor.X)
	assert.Equal(t, float32(0.5), scene.Materials[1].BaseColorFactor.Y)
	assert.Equal(t, int32(0), scene.Materials[1].BaseColorTexture)
	assert.Equal(t, int32(0), scene.Materials[1].EmissiveTexture, "shared paths share a texture")

	require.Len(t, scene.Textures, 1)
	assert.Equal(t, []byte{10, 20, 30, 255}, scene.Textures[0].Pixels[:4])

	assert.Equal(t, uint32(6), scene.Environment.Layers)
	assert.InDelta(t, 1.0, scene.Uniform.Viewport.Z, 1e-6, "tan(90/2)")
	assert.Equal(t, float32(5), scene.Uniform.CameraPosition.Z)
}

func TestLoadSceneMissingMesh(t *testing.T) {
	dir := t.TempDir()
	scenePath := filepath.Join(dir, "scene.toml")
	writeFile(t, scenePath, "[[meshes]]\npath = \"missing.obj\"\n")

	am := NewAssetManager(core.NewEventBus())
	_, err := am.LoadScene(context.Background(), scenePath, SceneOptions{EnvFaceSize: 2})
	assert.Error(t, err)
}

func TestLoadSceneDefaults(t *testing.T) {
	dir := t.TempDir()
	scenePath := filepath.Join(dir, "empty.toml")
	writeFile(t, scenePath, "")

	am := NewAssetManager(core.NewEventBus())
	scene, err := am.LoadScene(context.Background(), scenePath, SceneOptions{EnvFaceSize: 2})
	require.NoError(t, err)
	assert.Equal(t, "empty", scene.Name)
	assert.Zero(t, scene.Geometry.TriangleCount())
	assert.Len(t, scene.Materials, 1)
	assert.Empty(t, scene.Textures)
	assert.Equal(t, metadata.DefaultSceneUniform(), scene.Uniform)
}

func TestLoadShaders(t *testing.T) {
	dir := t.TempDir()
	cfg := core.DefaultConfig()
	cfg.Shaders.Dir = dir

	module := make([]byte, 24)
	binary.LittleEndian.PutUint32(module, metadata.SPIRVMagic)
	for _, name := range []string{cfg.Shaders.Raygen, cfg.Shaders.Miss, cfg.Shaders.ShadowMiss, cfg.Shaders.ClosestHit} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), module, 0o644))
	}

	am := NewAssetManager(core.NewEventBus())
	_, err := am.LoadShaders(cfg)
	require.Error(t, err, "any hit is missing")
	assert.Contains(t, err.Error(), "any-hit")

	require.NoError(t, os.WriteFile(filepath.Join(dir, cfg.Shaders.AnyHit), module, 0o644))
	binaries, err := am.LoadShaders(cfg)
	require.NoError(t, err)
	assert.Len(t, binaries, int(metadata.ShaderKindCount))
	assert.Equal(t, module, binaries[metadata.ShaderKindClosestHit])
}

func TestWatchReportsChanges(t *testing.T) {
	dir := t.TempDir()
	scenePath := filepath.Join(dir, "scene.toml")
	writeFile(t, scenePath, "name = \"a\"\n")

	events := core.NewEventBus()
	var mu sync.Mutex
	var changed []string
	events.Register(core.EVENT_CODE_ASSET_CHANGED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		mu.Lock()
		defer mu.Unlock()
		changed = append(changed, data.Data.C[0])
		return true
	})

	am := NewAssetManager(events)
	t.Cleanup(func() { _ = am.Shutdown() })
	require.NoError(t, am.Watch(dir))

	writeFile(t, scenePath, "name = \"b\"\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0
	}, 5*time.Second, 20*time.Millisecond)

	// Several writes settle into one report per file.
	time.Sleep(2 * changeSettle)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{scenePath}, changed)
}

func TestShutdownIsIdempotent(t *testing.T) {
	am := NewAssetManager(core.NewEventBus())
	require.NoError(t, am.Watch(t.TempDir()))
	require.NoError(t, am.Shutdown())
	require.NoError(t, am.Shutdown())
	assert.ErrorIs(t, am.Watch(t.TempDir()), ErrAssetManagerClosed)
}

func TestBundledSceneLoads(t *testing.T) {
	am := NewAssetManager(core.NewEventBus())
	scene, err := am.LoadScene(context.Background(), filepath.Join("..", "..", "assets", "scenes", "default.toml"), SceneOptions{EnvFaceSize: 2})
	require.NoError(t, err)
	assert.Equal(t, "default", scene.Name)
	assert.Len(t, scene.Materials, 3)
	// Two cubes of twelve triangles on a two triangle plane.
	assert.Equal(t, uint32(26), scene.Geometry.TriangleCount())
}
