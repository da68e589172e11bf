package loaders

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

const defaultFaceSize = 512

/**
 * @brief Loads an equirectangular image (Radiance .hdr or any format the
 * image loader decodes) and resamples it into a six layer RGBA32F cube.
 */
type EnvironmentLoader struct{}

func (el *EnvironmentLoader) Load(path string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	p := EnvironmentParams{FaceSize: defaultFaceSize}
	if ep, ok := params.(*EnvironmentParams); ok && ep != nil {
		p = *ep
	}
	if p.FaceSize == 0 {
		p.FaceSize = defaultFaceSize
	}

	var cube metadata.TextureData
	if path == "" {
		cube = metadata.NewConstantCube("sky", amath.NewVec3(p.Color[0], p.Color[1], p.Color[2]), 1)
	} else {
		src, err := decodeEquirect(path)
		if err != nil {
			return nil, err
		}
		if cube, err = EquirectToCube(resourceName(path), src, p.FaceSize); err != nil {
			return nil, err
		}
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeEnvironment,
		Name:     cube.Name,
		FullPath: path,
		DataSize: uint64(len(cube.Pixels)),
		Data:     cube,
	}, nil
}

func (el *EnvironmentLoader) Unload(res *metadata.Resource) error {
	return unload(res)
}

func decodeEquirect(path string) (*floatImage, error) {
	if strings.EqualFold(filepath.Ext(path), ".hdr") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, err := decodeHDR(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return img, nil
	}
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return toFloat(toRGBA(img)), nil
}

// toFloat widens RGBA8 texels to [0, 1] floats.
func toFloat(rgba *image.RGBA) *floatImage {
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	out := &floatImage{Width: w, Height: h, Pix: make([]float32, w*h*4)}
	for i, v := range rgba.Pix[:w*h*4] {
		out.Pix[i] = float32(v) / 255
	}
	return out
}

/**
 * @brief Resamples an equirectangular image into cube faces ordered
 * +X, -X, +Y, -Y, +Z, -Z. Texels are nearest sampled. Faces are filled
 * concurrently.
 */
func EquirectToCube(name string, src *floatImage, faceSize uint32) (metadata.TextureData, error) {
	if src == nil || src.Width == 0 || src.Height == 0 {
		return metadata.TextureData{}, fmt.Errorf("environment %s is empty", name)
	}
	const texelSize = 16
	size := int(faceSize)
	faceBytes := size * size * texelSize
	pixels := make([]byte, faceBytes*amath.CubeFaceCount)

	var g errgroup.Group
	for face := 0; face < amath.CubeFaceCount; face++ {
		g.Go(func() error {
			dst := pixels[face*faceBytes : (face+1)*faceBytes]
			for y := 0; y < size; y++ {
				for x := 0; x < size; x++ {
					dir := amath.CubeFaceDirection(face, x, y, size)
					uv := amath.EquirectUV(dir)
					px := amath.Clamp(int(uv.X*float32(src.Width)), 0, src.Width-1)
					py := amath.Clamp(int(uv.Y*float32(src.Height)), 0, src.Height-1)
					c := src.at(px, py)
					off := (y*size + x) * texelSize
					for i := 0; i < 4; i++ {
						binary.LittleEndian.PutUint32(dst[off+i*4:], math.Float32bits(c[i]))
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return metadata.TextureData{}, err
	}

	return metadata.TextureData{
		Name:   name,
		Width:  faceSize,
		Height: faceSize,
		Layers: amath.CubeFaceCount,
		Format: metadata.FormatR32G32B32A32Sfloat,
		Pixels: pixels,
	}, nil
}
