package systems

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/software"
)

const (
	testWidth  = 8
	testHeight = 8
)

var (
	red  = []byte{255, 0, 0, 255}
	blue = []byte{0, 0, 255, 255}
	// Swapchain images are BGRA.
	redBGRA  = []byte{0, 0, 255, 255}
	blueBGRA = []byte{255, 0, 0, 255}
)

func offscreenConfig(frames uint32) FrameSystemConfig {
	return FrameSystemConfig{
		FenceTimeout: 100 * time.Millisecond,
		Width:        testWidth,
		Height:       testHeight,
		Frames:       frames,
		Deadline:     10 * time.Second,
	}
}

func interactiveConfig() FrameSystemConfig {
	return FrameSystemConfig{
		FenceTimeout:   100 * time.Millisecond,
		AcquireTimeout: time.Second,
	}
}

func newTestSwapchain(t *testing.T, d *software.Device) *software.Swapchain {
	t.Helper()
	sc, err := d.CreateSwapchain(testWidth, testHeight, 3)
	require.NoError(t, err)
	return sc
}

func assertEveryPixel(t *testing.T, pixels []byte, want []byte) {
	t.Helper()
	require.Len(t, pixels, testWidth*testHeight*4)
	for y := uint32(0); y < testHeight; y++ {
		for x := uint32(0); x < testWidth; x++ {
			if !assert.Equal(t, want, pixelAt(pixels, testWidth, x, y), "pixel (%d, %d)", x, y) {
				return
			}
		}
	}
}

func TestOffscreenColours(t *testing.T) {
	tests := []struct {
		name     string
		geometry metadata.SceneGeometry
		want     []byte
	}{
		{"triangle covers every pixel with its emissive colour", triangleGeometry(), red},
		{"empty scene shows the environment", metadata.SceneGeometry{}, blue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDevice(t)
			rc := newTestContext(t, d, 2, testScene(tt.geometry))
			fs := NewFrameSystem(rc, offscreenConfig(1))

			sink := &captureSink{}
			require.NoError(t, fs.RunOffscreen(context.Background(), sink))
			require.Len(t, sink.pixels, 1)
			assert.Equal(t, uint32(testWidth), sink.width)
			assert.Equal(t, uint32(testHeight), sink.height)
			assertEveryPixel(t, sink.pixels[0], tt.want)
			assert.NoError(t, d.Lost())
		})
	}
}

func TestOffscreenFrameCountAndOrder(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	fs := NewFrameSystem(rc, offscreenConfig(5))

	sink := &captureSink{}
	require.NoError(t, fs.RunOffscreen(context.Background(), sink))
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, sink.frames)
	assert.Equal(t, uint64(5), fs.FrameIndex())
	for _, slot := range rc.Slots {
		assert.Equal(t, SlotStateComplete, slot.State)
	}
	assert.Equal(t, uint64(5), fs.Metrics().TotalFrames)
}

func TestOffscreenReleasesTargets(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	buffers, memories, images, _ := d.Live()

	fs := NewFrameSystem(rc, offscreenConfig(2))
	require.NoError(t, fs.RunOffscreen(context.Background(), &captureSink{}))

	b, m, i, _ := d.Live()
	assert.Equal(t, buffers, b)
	assert.Equal(t, memories, m)
	assert.Equal(t, images, i)
}

func TestOffscreenStopsAtDeadline(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	config := offscreenConfig(1_000_000)
	config.Deadline = time.Nanosecond
	fs := NewFrameSystem(rc, config)

	sink := &captureSink{}
	require.NoError(t, fs.RunOffscreen(context.Background(), sink))
	assert.Less(t, len(sink.frames), 1_000_000)
}

func TestOffscreenStopsOnCancel(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	fs := NewFrameSystem(rc, offscreenConfig(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &captureSink{}
	assert.ErrorIs(t, fs.RunOffscreen(ctx, sink), context.Canceled)
	assert.Empty(t, sink.frames)
}

func TestOffscreenRejectsZeroSize(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 1, testScene(triangleGeometry()))
	config := offscreenConfig(1)
	config.Width = 0
	fs := NewFrameSystem(rc, config)

	assert.ErrorIs(t, fs.RunOffscreen(context.Background(), &captureSink{}), core.ErrInvalidConfig)
}

func TestOffscreenWritesFiles(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	fs := NewFrameSystem(rc, offscreenConfig(3))

	dir := t.TempDir()
	out, err := NewOutputSystem(dir, core.OutputFormatRaw, 2, nil)
	require.NoError(t, err)

	require.NoError(t, fs.RunOffscreen(context.Background(), out))
	require.NoError(t, out.Shutdown())

	for i := uint64(0); i < 3; i++ {
		data, err := os.ReadFile(filepath.Join(dir, FrameName(i, core.OutputFormatRaw)))
		require.NoError(t, err)
		assertEveryPixel(t, data, red)
	}
	assert.Len(t, out.Written(), 3)
}

func TestInteractivePresentsEveryFrame(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	sc := newTestSwapchain(t, d)
	t.Cleanup(sc.Destroy)

	fs := NewFrameSystem(rc, interactiveConfig())
	window := software.NewHeadlessWindow(testWidth, testHeight, 6)
	require.NoError(t, fs.RunInteractive(context.Background(), window, sc))

	presented, last := sc.Presented()
	assert.Equal(t, 6, presented)
	assertEveryPixel(t, last, redBGRA)
	assert.Equal(t, uint64(6), fs.FrameIndex())
	assert.NoError(t, d.Lost())
}

func TestInteractiveSlotReuseWaitsForFence(t *testing.T) {
	const framesInFlight = 2
	const frames = 8

	d := newTestDevice(t)
	rc := newTestContext(t, d, framesInFlight, testScene(triangleGeometry()))
	sc := newTestSwapchain(t, d)
	t.Cleanup(sc.Destroy)

	slotCommandBuffers := make(map[uint64]bool)
	slotFences := make(map[metadata.FenceHandle]bool)
	for _, slot := range rc.Slots {
		slotCommandBuffers[slot.CommandBuffer.(*software.CommandBuffer).ID()] = true
		slotFences[slot.InFlight] = true
	}
	d.Timeline().Reset()

	fs := NewFrameSystem(rc, interactiveConfig())
	window := software.NewHeadlessWindow(testWidth, testHeight, frames)
	require.NoError(t, fs.RunInteractive(context.Background(), window, sc))

	var begins, signals []software.TimelineEvent
	for _, e := range d.Timeline().Filter(software.EventCommandBegin) {
		if slotCommandBuffers[e.CommandBuffer] {
			begins = append(begins, e)
		}
	}
	for _, e := range d.Timeline().Filter(software.EventFenceSignal) {
		if slotFences[e.Fence] {
			signals = append(signals, e)
		}
	}
	require.Len(t, begins, frames)
	require.Len(t, signals, frames)

	for k := 1; k < frames; k++ {
		assert.Greater(t, begins[k].Seq, begins[k-1].Seq)
	}
	// Recording frame k+N must start after frame k has finished on the device.
	for k := 0; k+framesInFlight < frames; k++ {
		assert.Greater(t, begins[k+framesInFlight].Seq, signals[k].Seq, "frame %d began before frame %d completed", k+framesInFlight, k)
		assert.Equal(t, begins[k].CommandBuffer, begins[k+framesInFlight].CommandBuffer, "frames %d apart share a slot", framesInFlight)
	}
}

func TestInteractiveRecoversFromOutOfDate(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	sc := newTestSwapchain(t, d)
	t.Cleanup(sc.Destroy)
	sc.FailNextAcquires(1)

	fs := NewFrameSystem(rc, interactiveConfig())
	window := software.NewHeadlessWindow(testWidth, testHeight, 4)
	require.NoError(t, fs.RunInteractive(context.Background(), window, sc))

	presented, last := sc.Presented()
	assert.Equal(t, 3, presented, "the out of date frame is dropped")
	assertEveryPixel(t, last, redBGRA)
	assert.Equal(t, uint64(3), fs.FrameIndex())
}

func TestInteractiveRecoversFromSuboptimalPresent(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	sc := newTestSwapchain(t, d)
	t.Cleanup(sc.Destroy)
	sc.FailNextPresents(2)

	fs := NewFrameSystem(rc, interactiveConfig())
	window := software.NewHeadlessWindow(testWidth, testHeight, 5)
	require.NoError(t, fs.RunInteractive(context.Background(), window, sc))

	presented, _ := sc.Presented()
	assert.Equal(t, 5, presented, "a suboptimal image is still shown")
	assert.Equal(t, uint64(5), fs.FrameIndex())
	assert.NoError(t, d.Lost())
}

func TestInteractiveResize(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	sc := newTestSwapchain(t, d)
	t.Cleanup(sc.Destroy)

	fs := NewFrameSystem(rc, interactiveConfig())
	window := software.NewHeadlessWindow(testWidth, testHeight, 3)
	window.Resize(16, 12)
	fs.RequestResize()
	require.NoError(t, fs.RunInteractive(context.Background(), window, sc))

	w, h := sc.Extent()
	assert.Equal(t, uint32(16), w)
	assert.Equal(t, uint32(12), h)
	_, last := sc.Presented()
	assert.Len(t, last, 16*12*4)
}

func TestInteractiveSkipsMinimizedWindow(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	sc := newTestSwapchain(t, d)
	t.Cleanup(sc.Destroy)

	fs := NewFrameSystem(rc, interactiveConfig())
	window := software.NewHeadlessWindow(0, 0, 4)
	require.NoError(t, fs.RunInteractive(context.Background(), window, sc))

	presented, _ := sc.Presented()
	assert.Zero(t, presented)
	assert.Zero(t, fs.FrameIndex())
}

func TestInteractiveReload(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	sc := newTestSwapchain(t, d)
	t.Cleanup(sc.Destroy)

	fs := NewFrameSystem(rc, interactiveConfig())
	reloaded := false
	fs.RequestReload(func() error {
		reloaded = true
		return rc.Reload(testScene(metadata.SceneGeometry{}), testBinaries())
	})
	window := software.NewHeadlessWindow(testWidth, testHeight, 2)
	require.NoError(t, fs.RunInteractive(context.Background(), window, sc))

	assert.True(t, reloaded)
	assert.Nil(t, rc.BLAS, "an empty scene has no bottom level")
	_, last := sc.Presented()
	assertEveryPixel(t, last, blueBGRA)
}

func TestInteractiveReloadFailureKeepsRendering(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))
	sc := newTestSwapchain(t, d)
	t.Cleanup(sc.Destroy)

	fs := NewFrameSystem(rc, interactiveConfig())
	fs.RequestReload(func() error {
		broken := testBinaries()
		broken[metadata.ShaderKindRaygen] = []byte{1, 2, 3}
		return rc.Reload(testScene(metadata.SceneGeometry{}), broken)
	})
	window := software.NewHeadlessWindow(testWidth, testHeight, 3)
	require.NoError(t, fs.RunInteractive(context.Background(), window, sc))

	assert.NotNil(t, rc.BLAS, "the triangle scene is still bound")
	presented, last := sc.Presented()
	assert.Equal(t, 3, presented)
	assertEveryPixel(t, last, redBGRA)
}

func TestSlotStateString(t *testing.T) {
	tests := map[SlotState]string{
		SlotStateIdle:      "idle",
		SlotStateRecording: "recording",
		SlotStateSubmitted: "submitted",
		SlotStateComplete:  "complete",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}
