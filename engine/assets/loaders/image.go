package loaders

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// ImageLoader decodes png, jpeg, bmp, tiff and webp files to RGBA8.
type ImageLoader struct{}

func (il *ImageLoader) Load(path string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	var flip bool
	if p, ok := params.(*ImageParams); ok && p != nil {
		flip = p.FlipY
	}
	tex, err := DecodeImage(path, flip)
	if err != nil {
		return nil, err
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeImage,
		Name:     tex.Name,
		FullPath: path,
		DataSize: uint64(len(tex.Pixels)),
		Data:     tex,
	}, nil
}

func (il *ImageLoader) Unload(res *metadata.Resource) error {
	return unload(res)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// toRGBA converts any decoded image to tightly packed RGBA8 rows.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == b.Dx()*4 && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func flipRows(pixels []byte, rowSize int) {
	rows := len(pixels) / rowSize
	tmp := make([]byte, rowSize)
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := pixels[top*rowSize : (top+1)*rowSize]
		b := pixels[bottom*rowSize : (bottom+1)*rowSize]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}

// DecodeImage reads an image file into RGBA8 texture data.
func DecodeImage(path string, flipY bool) (metadata.TextureData, error) {
	img, err := decodeFile(path)
	if err != nil {
		return metadata.TextureData{}, err
	}
	rgba := toRGBA(img)
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	if w == 0 || h == 0 {
		return metadata.TextureData{}, fmt.Errorf("image %s is empty", path)
	}
	if flipY {
		flipRows(rgba.Pix, rgba.Stride)
	}
	return metadata.TextureData{
		Name:   resourceName(path),
		Width:  uint32(w),
		Height: uint32(h),
		Layers: 1,
		Format: metadata.FormatR8G8B8A8Unorm,
		Pixels: rgba.Pix,
	}, nil
}

/**
 * @brief Decodes the files concurrently, at most limit at a time. The result
 * keeps the order of paths; the first failure cancels the rest.
 */
func DecodeImages(ctx context.Context, paths []string, limit int) ([]metadata.TextureData, error) {
	out := make([]metadata.TextureData, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tex, err := DecodeImage(path, false)
			if err != nil {
				return err
			}
			out[i] = tex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
