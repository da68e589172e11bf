package loaders

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func TestDecodeOBJ(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		vertices  int
		triangles int
	}{
		{
			name: "triangle with normals",
			src: `v 0 0 0
v 1 0 0
v 0 1 0
vn 0 0 1
f 1//1 2//1 3//1`,
			vertices:  3,
			triangles: 1,
		},
		{
			name: "quad is fanned",
			src: `v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
f 1 2 3 4`,
			vertices:  4,
			triangles: 2,
		},
		{
			name: "negative indices and shared corners",
			src: `# two triangles sharing an edge
o quad
v 0 0 0
v 1 0 0
v 1 1 0
f -3 -2 -1
v 0 1 0
f 1 3 -1
usemtl ignored
s off`,
			vertices:  4,
			triangles: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := DecodeOBJ(strings.NewReader(tt.src))
			require.NoError(t, err)
			assert.Len(t, g.Vertices, tt.vertices)
			assert.Equal(t, uint32(tt.triangles), g.TriangleCount())
			assert.Len(t, g.MaterialIndices, tt.triangles)
			for _, idx := range g.Indices {
				assert.Less(t, idx, uint32(len(g.Vertices)))
			}
		})
	}
}

func TestDecodeOBJGeneratesNormals(t *testing.T) {
	src := `v 0 0 0
v 1 0 0
v 0 1 0
vt 0 0
vt 1 0
vt 0 1
f 1/1 2/2 3/3`
	g, err := DecodeOBJ(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, g.Vertices, 3)
	for _, v := range g.Vertices {
		assert.True(t, v.Normal.Compare(amath.NewVec3(0, 0, 1), 1e-6), "normal %v", v.Normal)
	}
	// Texture rows are flipped to image order.
	assert.Equal(t, amath.NewVec2(0, 1), g.Vertices[0].Texcoord)
	assert.Equal(t, amath.NewVec2(0, 0), g.Vertices[2].Texcoord)
}

func TestDecodeOBJSharedPositionNormals(t *testing.T) {
	// The first face carries file normals; the second shares position 1
	// without any, so its generated normal must still see both faces.
	src := `v 0 0 0
v 1 0 0
v 0 1 0
v 0 0 1
vn 0 0 1
f 1//1 2//1 3//1
f 1 4 2`
	g, err := DecodeOBJ(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, g.Vertices, 6)

	for i := 0; i < 3; i++ {
		assert.Equal(t, amath.NewVec3(0, 0, 1), g.Vertices[i].Normal)
	}
	s := float32(1 / math.Sqrt2)
	shared := g.Vertices[3]
	assert.Equal(t, amath.NewVec3(0, 0, 0), shared.Position)
	assert.True(t, shared.Normal.Compare(amath.NewVec3(0, s, s), 1e-6), "normal %v", shared.Normal)
	// Position 4 only touches the second face.
	assert.True(t, g.Vertices[4].Normal.Compare(amath.NewVec3(0, 1, 0), 1e-6), "normal %v", g.Vertices[4].Normal)
}

func TestDecodeOBJErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "zero index", src: "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2"},
		{name: "out of range", src: "v 0 0 0\nf 1 2 3"},
		{name: "two corners", src: "v 0 0 0\nv 1 0 0\nf 1 2"},
		{name: "bad float", src: "v 0 zero 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOBJ(strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestValidateSPIRV(t *testing.T) {
	valid := make([]byte, 20)
	binary.LittleEndian.PutUint32(valid, metadata.SPIRVMagic)

	assert.NoError(t, ValidateSPIRV(valid))
	assert.Error(t, ValidateSPIRV(valid[:16]), "short")
	assert.Error(t, ValidateSPIRV(append(valid, 0)), "unaligned")
	assert.Error(t, ValidateSPIRV(make([]byte, 20)), "no magic")
}

func rgbe(r, g, b, e byte) []byte { return []byte{r, g, b, e} }

func TestDecodeHDR(t *testing.T) {
	t.Run("flat", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteString("#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n\n-Y 2 +X 1\n")
		// 128 * 2^(129-136) = 1.0
		buf.Write(rgbe(128, 0, 0, 129))
		buf.Write(rgbe(0, 0, 0, 0))

		img, err := decodeHDR(&buf)
		require.NoError(t, err)
		assert.Equal(t, 1, img.Width)
		assert.Equal(t, 2, img.Height)
		assert.Equal(t, [4]float32{1, 0, 0, 1}, img.at(0, 0))
		assert.Equal(t, [4]float32{0, 0, 0, 1}, img.at(0, 1))
	})

	t.Run("run length", func(t *testing.T) {
		const width = 8
		var buf bytes.Buffer
		buf.WriteString("#?RADIANCE\n\n+Y 1 +X 8\n")
		buf.Write([]byte{2, 2, 0, width})
		for c := 0; c < 4; c++ {
			v := byte(0)
			switch c {
			case 1:
				v = 64
			case 3:
				v = 129
			}
			buf.Write([]byte{128 + width, v})
		}

		img, err := decodeHDR(&buf)
		require.NoError(t, err)
		for x := 0; x < width; x++ {
			assert.Equal(t, [4]float32{0, 0.5, 0, 1}, img.at(x, 0))
		}
	})

	t.Run("not radiance", func(t *testing.T) {
		_, err := decodeHDR(strings.NewReader("P6\n1 1\n255\n"))
		assert.ErrorIs(t, err, errNotRadiance)
	})
}

func TestEquirectToCube(t *testing.T) {
	src := &floatImage{Width: 4, Height: 2, Pix: make([]float32, 4*2*4)}
	for i := 0; i < len(src.Pix); i += 4 {
		copy(src.Pix[i:], []float32{0.25, 0.5, 0.75, 1})
	}

	cube, err := EquirectToCube("sky", src, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), cube.Layers)
	assert.Equal(t, metadata.FormatR32G32B32A32Sfloat, cube.Format)
	require.Len(t, cube.Pixels, 6*3*3*16)
	for off := 0; off < len(cube.Pixels); off += 16 {
		g := math.Float32frombits(binary.LittleEndian.Uint32(cube.Pixels[off+4:]))
		require.Equal(t, float32(0.5), g)
	}

	_, err = EquirectToCube("empty", &floatImage{}, 3)
	assert.Error(t, err)
}

func TestEquirectToCubeFaceOrder(t *testing.T) {
	// Left half red, right half blue. Longitude runs from atan2(z, x) = -pi
	// at u=0, so -Z lands at u=0.25 and +Z at u=0.75.
	src := &floatImage{Width: 4, Height: 2, Pix: make([]float32, 4*2*4)}
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			c := []float32{1, 0, 0, 1}
			if x >= 2 {
				c = []float32{0, 0, 1, 1}
			}
			copy(src.Pix[(y*4+x)*4:], c)
		}
	}
	cube, err := EquirectToCube("split", src, 1)
	require.NoError(t, err)

	red := func(face int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(cube.Pixels[face*16:]))
	}
	assert.Equal(t, float32(0), red(amath.CubeFacePositiveZ), "+Z samples the right half")
	assert.Equal(t, float32(1), red(amath.CubeFaceNegativeZ), "-Z samples the left half")
	assert.Equal(t, float32(0), red(amath.CubeFacePositiveX), "+X samples the centre")
}

func TestEnvironmentLoaderFallback(t *testing.T) {
	res, err := (&EnvironmentLoader{}).Load("", metadata.ResourceTypeEnvironment, &EnvironmentParams{Color: [3]float32{0, 1, 0}})
	require.NoError(t, err)
	cube := res.Data.(metadata.TextureData)
	assert.Equal(t, uint32(6), cube.Layers)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(cube.Pixels[4:])))
}

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDecodeImages(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	writePNG(t, a, 2, 1, color.RGBA{R: 255, A: 255})
	writePNG(t, b, 1, 3, color.RGBA{B: 255, A: 255})

	textures, err := DecodeImages(context.Background(), []string{b, a}, 1)
	require.NoError(t, err)
	require.Len(t, textures, 2)

	assert.Equal(t, "b", textures[0].Name)
	assert.Equal(t, uint32(1), textures[0].Width)
	assert.Equal(t, uint32(3), textures[0].Height)
	assert.Equal(t, []byte{0, 0, 255, 255}, textures[0].Pixels[:4])

	assert.Equal(t, "a", textures[1].Name)
	assert.Equal(t, metadata.FormatR8G8B8A8Unorm, textures[1].Format)
	assert.Len(t, textures[1].Pixels, 2*1*4)

	_, err = DecodeImages(context.Background(), []string{a, filepath.Join(dir, "missing.png")}, 0)
	assert.Error(t, err)
}

func TestFlipRows(t *testing.T) {
	pixels := []byte{1, 1, 2, 2, 3, 3}
	flipRows(pixels, 2)
	assert.Equal(t, []byte{3, 3, 2, 2, 1, 1}, pixels)
}

func TestDecodeScene(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name: "valid",
			src: `
name = "demo"
[camera]
position = [0, 1, 4]
fov_y = 45.0
[[materials]]
name = "red"
base_color = [1, 0, 0, 1]
[[meshes]]
path = "cube.obj"
material = "red"`,
		},
		{name: "unknown material", src: "[[meshes]]\npath = \"a.obj\"\nmaterial = \"nope\"", wantErr: "unknown material"},
		{name: "duplicate material", src: "[[materials]]\nname = \"a\"\n[[materials]]\nname = \"a\"", wantErr: "defined twice"},
		{name: "mesh without path", src: "[[meshes]]\nmaterial = \"\"", wantErr: "no path"},
		{name: "unknown field", src: "colour = 1", wantErr: "strict mode"},
		{name: "bad fov", src: "[camera]\nfov_y = 190.0", wantErr: "fov_y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DecodeScene([]byte(tt.src))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "demo", cfg.Name)
			assert.Equal(t, float32(45), cfg.Camera.FovY)
			require.Len(t, cfg.Meshes, 1)
			assert.Equal(t, "red", cfg.Meshes[0].Material)
		})
	}
}
