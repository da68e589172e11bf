package systems

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

func gradient(width, height uint32) []byte {
	pixels := make([]byte, width*height*4)
	for y := uint32(0); y < height; y++ {
		for x := uint32(0); x < width; x++ {
			px := pixels[(y*width+x)*4:]
			px[0], px[1], px[2], px[3] = byte(x*16), byte(y*16), 128, 255
		}
	}
	return pixels
}

func TestFrameName(t *testing.T) {
	tests := []struct {
		index  uint64
		format core.OutputFormat
		want   string
	}{
		{0, core.OutputFormatRaw, "000000.raw"},
		{42, core.OutputFormatPNG, "000042.png"},
		{123456, core.OutputFormatBMP, "123456.bmp"},
		{7, core.OutputFormatTIFF, "000007.tiff"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FrameName(tt.index, tt.format))
	}
}

func TestEncodeDecodes(t *testing.T) {
	const width, height = 4, 3
	pixels := gradient(width, height)

	decoders := map[core.OutputFormat]func(*bytes.Reader) (image.Image, error){
		core.OutputFormatPNG:  func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) },
		core.OutputFormatBMP:  func(r *bytes.Reader) (image.Image, error) { return bmp.Decode(r) },
		core.OutputFormatTIFF: func(r *bytes.Reader) (image.Image, error) { return tiff.Decode(r) },
	}
	for format, decode := range decoders {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, format, width, height, pixels))

			img, err := decode(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, width, height), img.Bounds())
			r, g, b, a := img.At(2, 1).RGBA()
			assert.Equal(t, []uint32{32, 16, 128, 255}, []uint32{r >> 8, g >> 8, b >> 8, a >> 8})
		})
	}
}

func TestEncodeRaw(t *testing.T) {
	pixels := gradient(2, 2)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, core.OutputFormatRaw, 2, 2, pixels))
	assert.Equal(t, pixels, buf.Bytes())

	assert.ErrorIs(t, Encode(&buf, core.OutputFormat("jpeg"), 2, 2, pixels), core.ErrInvalidConfig)
}

func TestOutputSystemWritesFrames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	out, err := NewOutputSystem(dir, core.OutputFormatPNG, 2, nil)
	require.NoError(t, err)

	for i := uint64(0); i < 4; i++ {
		require.NoError(t, out.WriteFrame(i, 4, 4, gradient(4, 4)))
	}
	require.NoError(t, out.Shutdown())

	assert.Len(t, out.Written(), 4)
	for i := uint64(0); i < 4; i++ {
		f, err := os.Open(filepath.Join(dir, FrameName(i, core.OutputFormatPNG)))
		require.NoError(t, err)
		_, err = png.Decode(f)
		f.Close()
		assert.NoError(t, err)
	}
}

func TestOutputSystemRejectsShortFrames(t *testing.T) {
	out, err := NewOutputSystem(t.TempDir(), core.OutputFormatRaw, 1, nil)
	require.NoError(t, err)
	defer out.Shutdown()

	assert.Error(t, out.WriteFrame(0, 4, 4, make([]byte, 10)))
}

func TestOutputSystemSharesJobSystem(t *testing.T) {
	js, err := NewJobSystem(1, 1)
	require.NoError(t, err)

	out, err := NewOutputSystem(t.TempDir(), core.OutputFormatRaw, 1, js)
	require.NoError(t, err)
	require.NoError(t, out.WriteFrame(0, 1, 1, []byte{1, 2, 3, 4}))
	require.NoError(t, out.Shutdown())

	// The shared job system outlives the output system.
	require.NoError(t, out.WriteFrame(1, 1, 1, []byte{1, 2, 3, 4}))
	require.NoError(t, out.Wait())
	require.NoError(t, js.Shutdown())
	assert.Len(t, out.Written(), 2)
}
