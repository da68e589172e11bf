package systems

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

type encodeParams struct {
	index  uint64
	width  uint32
	height uint32
	pixels []byte
}

/**
 * @brief Writes offscreen frames to numbered files. Encoding runs on the
 * job system so the render loop only pays for the copy out of mapped memory.
 */
type OutputSystem struct {
	dir     string
	format  core.OutputFormat
	jobs    *JobSystem
	ownJobs bool

	mu      sync.Mutex
	written []string
	errs    []error
}

/**
 * @brief Creates the output directory and a job system with the given
 * number of encoders when js is nil.
 */
func NewOutputSystem(dir string, format core.OutputFormat, encoders int, js *JobSystem) (*OutputSystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		err := fmt.Errorf("func NewOutputSystem - failed to create output directory %s: %w", dir, err)
		core.LogError(err.Error())
		return nil, err
	}
	out := &OutputSystem{dir: dir, format: format, jobs: js}
	if js == nil {
		var err error
		if out.jobs, err = NewJobSystem(max(encoders, 1), max(encoders, 1)); err != nil {
			return nil, err
		}
		out.ownJobs = true
	}
	return out, nil
}

// FrameName returns the file name of a frame: the zero padded index and the format extension.
func FrameName(index uint64, format core.OutputFormat) string {
	return fmt.Sprintf("%06d%s", index, format.Extension())
}

/**
 * @brief Queues a frame for encoding. Blocks while every encoder is busy
 * and the queue is full.
 */
func (o *OutputSystem) WriteFrame(index uint64, width, height uint32, pixels []byte) error {
	if uint64(len(pixels)) != uint64(width)*uint64(height)*4 {
		return fmt.Errorf("frame %d has %d bytes, expected %dx%dx4", index, len(pixels), width, height)
	}
	path := filepath.Join(o.dir, FrameName(index, o.format))
	job := metadata.NewJobTask(metadata.JOB_TYPE_FRAME_ENCODE, &encodeParams{
		index:  index,
		width:  width,
		height: height,
		pixels: pixels,
	}, func(params interface{}, results chan<- interface{}) error {
		p := params.(*encodeParams)
		if err := o.encodeFile(path, p); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", p.index, err)
		}
		results <- path
		return nil
	})
	job.OnComplete = func(results <-chan interface{}) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.written = append(o.written, (<-results).(string))
	}
	job.OnFailure = func(err error) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.errs = append(o.errs, err)
	}
	return o.jobs.Submit(context.Background(), job)
}

func (o *OutputSystem) encodeFile(path string, p *encodeParams) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := Encode(w, o.format, p.width, p.height, p.pixels); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

/**
 * @brief Encodes RGBA8 pixels. Raw writes the bytes unchanged; the image
 * formats wrap them without copying.
 */
func Encode(w io.Writer, format core.OutputFormat, width, height uint32, pixels []byte) error {
	if format == core.OutputFormatRaw {
		_, err := w.Write(pixels)
		return err
	}
	img := &image.NRGBA{
		Pix:    pixels,
		Stride: int(width) * 4,
		Rect:   image.Rect(0, 0, int(width), int(height)),
	}
	switch format {
	case core.OutputFormatPNG:
		return png.Encode(w, img)
	case core.OutputFormatBMP:
		return bmp.Encode(w, img)
	case core.OutputFormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: unknown output format %q", core.ErrInvalidConfig, format)
	}
}

/**
 * @brief Blocks until every queued frame is on disk and returns the first
 * encoding error, if any.
 */
func (o *OutputSystem) Wait() error {
	o.jobs.Wait()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.errs) > 0 {
		return o.errs[0]
	}
	return nil
}

// Written returns the paths written so far, in completion order.
func (o *OutputSystem) Written() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.written...)
}

func (o *OutputSystem) Shutdown() error {
	err := o.Wait()
	if o.ownJobs {
		if shutdownErr := o.jobs.Shutdown(); err == nil {
			err = shutdownErr
		}
	}
	return err
}
