package core

import (
	"fmt"
	"time"

	"github.com/loov/hrtime"

	"github.com/spaghettifunk/anima-rt/engine/containers"
)

const AVG_COUNT uint8 = 30

// FramePhase names a measured section of a frame.
type FramePhase int

const (
	FramePhaseFenceWait FramePhase = iota
	FramePhaseRecord
	FramePhaseSubmit
	FramePhaseReadback
	framePhaseCount
)

func (p FramePhase) String() string {
	switch p {
	case FramePhaseFenceWait:
		return "fence_wait"
	case FramePhaseRecord:
		return "record"
	case FramePhaseSubmit:
		return "submit"
	case FramePhaseReadback:
		return "readback"
	default:
		return "unknown"
	}
}

// FrameMetrics keeps the average frame time over the last AVG_COUNT
// frames, the FPS of the last second and the time spent in each phase.
type FrameMetrics struct {
	MStimes            *containers.RingQueue[float64]
	MSavg              float64
	msSum              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64

	TotalFrames uint64
	phases      [framePhaseCount]time.Duration
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		MStimes: containers.NewRingQueue[float64](int(AVG_COUNT)),
	}
}

// Update records the duration of one frame, in seconds.
func (m *FrameMetrics) Update(frameElapsedTime float64) {
	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	if m.MStimes.IsFull() {
		oldest, _ := m.MStimes.Dequeue()
		m.msSum -= oldest
	}
	_ = m.MStimes.Enqueue(frameMS)
	m.msSum += frameMS
	m.MSavg = m.msSum / float64(m.MStimes.Len())

	// Calculate Frames per second.
	m.AccumulatedFrameMS += frameMS
	if m.AccumulatedFrameMS > 1000 {
		m.FPS = float64(m.Frames)
		m.AccumulatedFrameMS -= 1000
		m.Frames = 0
	}

	// Count all Frames.
	m.Frames++
	m.TotalFrames++
}

// Measure starts timing a phase. The returned func stops it.
func (m *FrameMetrics) Measure(phase FramePhase) func() {
	start := hrtime.Now()
	return func() {
		m.phases[phase] += hrtime.Since(start)
	}
}

func (m *FrameMetrics) Phase(phase FramePhase) time.Duration {
	return m.phases[phase]
}

func (m *FrameMetrics) FrameTime() float64 {
	return m.MSavg
}

func (m *FrameMetrics) Frame() (float64, float64) {
	return m.FPS, m.MSavg
}

// Summary renders the totals for the shutdown log.
func (m *FrameMetrics) Summary() string {
	s := fmt.Sprintf("frames=%d fps=%.1f avg=%.3fms", m.TotalFrames, m.FPS, m.MSavg)
	for p := FramePhase(0); p < framePhaseCount; p++ {
		avg := time.Duration(0)
		if m.TotalFrames > 0 {
			avg = m.phases[p] / time.Duration(m.TotalFrames)
		}
		s += fmt.Sprintf(" %s=%s", p, avg)
	}
	return s
}
