package systems

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/software"
)

func newTestDevice(t *testing.T) *software.Device {
	t.Helper()
	d := software.New(software.DefaultOptions())
	t.Cleanup(d.Destroy)
	return d
}

func fakeSPIRV() []byte {
	code := make([]byte, 20)
	binary.LittleEndian.PutUint32(code, metadata.SPIRVMagic)
	return code
}

func testBinaries() map[metadata.ShaderKind][]byte {
	binaries := make(map[metadata.ShaderKind][]byte)
	for kind := metadata.ShaderKindRaygen; kind < metadata.ShaderKindCount; kind++ {
		binaries[kind] = fakeSPIRV()
	}
	return binaries
}

// triangleGeometry is one large triangle in the z=0 plane facing +z.
func triangleGeometry() metadata.SceneGeometry {
	normal := amath.NewVec3(0, 0, 1)
	return metadata.SceneGeometry{
		Vertices: []metadata.Vertex{
			{Position: amath.NewVec3(-100, -100, 0), Normal: normal},
			{Position: amath.NewVec3(100, -100, 0), Normal: normal},
			{Position: amath.NewVec3(0, 100, 0), Normal: normal},
		},
		Indices:         []uint32{0, 1, 2},
		MaterialIndices: []uint32{0},
	}
}

var (
	emissiveRed = amath.NewVec3(1, 0, 0)
	skyBlue     = amath.NewVec3(0, 0, 1)
)

/**
 * @brief A scene whose triangle renders as exactly the emissive colour:
 * black base, no sun, camera looking down -z at the triangle.
 */
func testScene(geometry metadata.SceneGeometry) *metadata.Scene {
	mat := metadata.NewMaterial()
	mat.BaseColorFactor = amath.NewVec4(0, 0, 0, 1)
	mat.EmissiveFactor = emissiveRed.ToVec4(0)

	uniform := metadata.DefaultSceneUniform()
	uniform.Sun.Color = amath.NewVec4(0, 0, 0, 1)
	uniform.CameraPosition = amath.NewVec4(0, 0, 5, 1)
	uniform.CameraTarget = amath.NewVec4(0, 0, 0, 1)

	return &metadata.Scene{
		Name:        "test",
		Geometry:    geometry,
		Materials:   []metadata.Material{mat},
		Environment: metadata.NewConstantCube("sky", skyBlue, 4),
		Uniform:     uniform,
	}
}

func newTestContext(t *testing.T, d *software.Device, framesInFlight uint32, scene *metadata.Scene) *RenderContext {
	t.Helper()
	rc, err := NewRenderContext(d, RenderContextConfig{FramesInFlight: framesInFlight, MaxRecursion: 2})
	require.NoError(t, err)
	t.Cleanup(rc.Destroy)
	require.NoError(t, rc.Setup(scene, testBinaries()))
	return rc
}

// captureSink keeps every frame it receives.
type captureSink struct {
	frames []uint64
	pixels [][]byte
	width  uint32
	height uint32
}

func (c *captureSink) WriteFrame(index uint64, width, height uint32, pixels []byte) error {
	c.frames = append(c.frames, index)
	c.pixels = append(c.pixels, pixels)
	c.width, c.height = width, height
	return nil
}

func pixelAt(pixels []byte, width, x, y uint32) []byte {
	off := (y*width + x) * 4
	return pixels[off : off+4]
}
