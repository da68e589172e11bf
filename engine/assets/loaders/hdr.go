package loaders

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

/**
 * @brief A decoded Radiance RGBE image: Width*Height texels of four float32
 * (alpha is always 1), top row first.
 */
type floatImage struct {
	Width  int
	Height int
	Pix    []float32
}

func (f *floatImage) at(x, y int) [4]float32 {
	i := (y*f.Width + x) * 4
	return [4]float32{f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]}
}

var errNotRadiance = errors.New("not a Radiance HDR file")

// decodeHDR reads a Radiance .hdr file with flat or run-length encoded scanlines.
func decodeHDR(r io.Reader) (*floatImage, error) {
	br := bufio.NewReader(r)

	magic, err := br.ReadString('\n')
	if err != nil {
		return nil, errNotRadiance
	}
	if !strings.HasPrefix(magic, "#?RADIANCE") && !strings.HasPrefix(magic, "#?RGBE") {
		return nil, errNotRadiance
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("truncated HDR header: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "FORMAT="); ok && v != "32-bit_rle_rgbe" {
			return nil, fmt.Errorf("unsupported HDR pixel format %q", v)
		}
	}

	res, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("missing HDR resolution: %w", err)
	}
	var ySign, xSign rune
	var width, height int
	if _, err := fmt.Sscanf(strings.TrimSpace(res), "%cY %d %cX %d", &ySign, &height, &xSign, &width); err != nil {
		return nil, fmt.Errorf("bad HDR resolution %q: %w", strings.TrimSpace(res), err)
	}
	if xSign != '+' || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("unsupported HDR orientation %q", strings.TrimSpace(res))
	}

	img := &floatImage{Width: width, Height: height, Pix: make([]float32, width*height*4)}
	scanline := make([]byte, width*4)
	for y := 0; y < height; y++ {
		if err := readScanline(br, scanline, width); err != nil {
			return nil, fmt.Errorf("HDR scanline %d: %w", y, err)
		}
		row := y
		if ySign == '+' {
			row = height - 1 - y
		}
		dst := img.Pix[row*width*4:]
		for x := 0; x < width; x++ {
			r, g, b := rgbeToFloat(scanline[x*4:])
			dst[x*4+0] = r
			dst[x*4+1] = g
			dst[x*4+2] = b
			dst[x*4+3] = 1
		}
	}
	return img, nil
}

// readScanline fills dst with width RGBE texels, interleaved.
func readScanline(br *bufio.Reader, dst []byte, width int) error {
	head := make([]byte, 4)
	if _, err := io.ReadFull(br, head); err != nil {
		return err
	}
	rle := width >= 8 && width <= 0x7fff && head[0] == 2 && head[1] == 2 && head[2]&0x80 == 0
	if !rle {
		copy(dst, head)
		_, err := io.ReadFull(br, dst[4:])
		return err
	}
	if int(head[2])<<8|int(head[3]) != width {
		return errors.New("scanline width mismatch")
	}

	// Each channel is stored separately as runs and literals.
	for c := 0; c < 4; c++ {
		for x := 0; x < width; {
			count, err := br.ReadByte()
			if err != nil {
				return err
			}
			if count > 128 {
				n := int(count) - 128
				if x+n > width {
					return errors.New("run overflows scanline")
				}
				v, err := br.ReadByte()
				if err != nil {
					return err
				}
				for ; n > 0; n-- {
					dst[x*4+c] = v
					x++
				}
				continue
			}
			n := int(count)
			if n == 0 || x+n > width {
				return errors.New("bad literal length")
			}
			for ; n > 0; n-- {
				v, err := br.ReadByte()
				if err != nil {
					return err
				}
				dst[x*4+c] = v
				x++
			}
		}
	}
	return nil
}

func rgbeToFloat(p []byte) (float32, float32, float32) {
	if p[3] == 0 {
		return 0, 0, 0
	}
	f := math.Ldexp(1, int(p[3])-(128+8))
	return float32(float64(p[0]) * f), float32(float64(p[1]) * f), float32(float64(p[2]) * f)
}
