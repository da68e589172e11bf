package systems

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func TestCameraAngleIsBounded(t *testing.T) {
	cc := NewCameraController(metadata.DefaultSceneUniform(), metadata.CameraConfig{Orbit: true, OrbitSpeed: 3})
	for _, elapsed := range []float64{0, 0.1, 1, 10, 1000, 1e6} {
		angle := cc.Angle(elapsed)
		assert.LessOrEqual(t, math32.Abs(angle), float32(amath.K_PI/2)+1e-5, "elapsed %v", elapsed)
	}
	assert.Zero(t, cc.Angle(0))
}

func TestCameraWithoutOrbitStaysPut(t *testing.T) {
	base := metadata.DefaultSceneUniform()
	cc := NewCameraController(base, metadata.CameraConfig{})

	u := cc.Uniform(12.5, 640, 480, 7)
	assert.Equal(t, base.CameraPosition, u.CameraPosition)
	assert.Equal(t, float32(640), u.Viewport.X)
	assert.Equal(t, float32(480), u.Viewport.Y)
	assert.Equal(t, base.Viewport.Z, u.Viewport.Z)
	assert.Equal(t, float32(7), u.Viewport.W)
}

func TestCameraOrbitKeepsDistance(t *testing.T) {
	base := metadata.DefaultSceneUniform()
	cc := NewCameraController(base, metadata.CameraConfig{Orbit: true, OrbitSpeed: 1})

	before := base.CameraPosition.ToVec3().Sub(base.CameraTarget.ToVec3()).Length()
	u := cc.Uniform(0.5, 1, 1, 0)
	after := u.CameraPosition.ToVec3().Sub(u.CameraTarget.ToVec3()).Length()

	assert.NotEqual(t, base.CameraPosition, u.CameraPosition)
	assert.InDelta(t, before, after, 1e-4)
	assert.Equal(t, base.CameraPosition.Y, u.CameraPosition.Y)
}

func TestUniformBuffersUpdate(t *testing.T) {
	d := newTestDevice(t)
	ub, err := NewUniformBuffers(NewMemorySystem(d), 2)
	require.NoError(t, err)
	defer ub.Destroy()
	assert.Equal(t, uint32(2), ub.Count())

	u := metadata.DefaultSceneUniform()
	u.Viewport.W = 42
	require.NoError(t, ub.Update(1, u))

	raw, err := ub.Buffer(1).Read(0, metadata.SceneUniformSize)
	require.NoError(t, err)
	assert.Equal(t, u, metadata.DecodeSceneUniform(raw))

	other, err := ub.Buffer(0).Read(0, metadata.SceneUniformSize)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, metadata.SceneUniformSize), other, "slots do not share a buffer")
}

func TestRenderContextSetupOnce(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))

	assert.NotNil(t, rc.BLAS)
	assert.NotNil(t, rc.TLAS)
	assert.Len(t, rc.Bindings.Sets, 2)
	assert.Equal(t, uint32(1), rc.Textures.Count(), "a scene without textures gets the default one")
	assert.Error(t, rc.Setup(testScene(triangleGeometry()), testBinaries()))
}

func TestRenderContextDestroyReleasesEverything(t *testing.T) {
	d := newTestDevice(t)
	rc, err := NewRenderContext(d, RenderContextConfig{FramesInFlight: 2})
	require.NoError(t, err)
	require.NoError(t, rc.Setup(testScene(triangleGeometry()), testBinaries()))
	require.NoError(t, rc.Reload(testScene(triangleGeometry()), testBinaries()))

	rc.Destroy()
	rc.Destroy()
	buffers, memories, images, accels := d.Live()
	assert.Zero(t, buffers)
	assert.Zero(t, memories)
	assert.Zero(t, images)
	assert.Zero(t, accels)
}

func TestRenderContextReloadFailureKeepsScene(t *testing.T) {
	d := newTestDevice(t)
	rc, err := NewRenderContext(d, RenderContextConfig{FramesInFlight: 2, MaxRecursion: 2})
	require.NoError(t, err)
	require.NoError(t, rc.Setup(testScene(triangleGeometry()), testBinaries()))

	scene, blas, pipeline, sbt := rc.Scene, rc.BLAS, rc.Pipeline, rc.SBT
	env := rc.Textures.Environment
	buffers, memories, images, accels := d.Live()

	broken := testBinaries()
	delete(broken, metadata.ShaderKindClosestHit)
	assert.Error(t, rc.Reload(testScene(triangleGeometry()), broken))

	assert.Same(t, scene, rc.Scene)
	assert.Same(t, blas, rc.BLAS)
	assert.Same(t, sbt, rc.SBT)
	assert.Same(t, env, rc.Textures.Environment)
	assert.Equal(t, pipeline, rc.Pipeline)
	b, m, i, a := d.Live()
	assert.Equal(t, []int{buffers, memories, images, accels}, []int{b, m, i, a}, "staged resources are released")

	require.NoError(t, rc.Reload(testScene(metadata.SceneGeometry{}), testBinaries()))
	assert.Nil(t, rc.BLAS)
	rc.Destroy()
	b, m, i, a = d.Live()
	assert.Equal(t, []int{0, 0, 0, 0}, []int{b, m, i, a})
}

func TestNewRenderContextNeedsSlots(t *testing.T) {
	d := newTestDevice(t)
	_, err := NewRenderContext(d, RenderContextConfig{})
	assert.Error(t, err)
}
