package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.010)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)
	assert.Equal(t, uint64(AVG_COUNT), m.TotalFrames)

	// Older frames fall out of the window.
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.020)
	}
	assert.InDelta(t, 20.0, m.FrameTime(), 1e-9)
}

func TestFrameMetricsPartialWindow(t *testing.T) {
	m := NewFrameMetrics()
	m.Update(0.010)
	m.Update(0.030)
	assert.InDelta(t, 20.0, m.FrameTime(), 1e-9)
}

func TestFrameMetricsPhases(t *testing.T) {
	m := NewFrameMetrics()
	stop := m.Measure(FramePhaseRecord)
	stop()
	assert.GreaterOrEqual(t, int64(m.Phase(FramePhaseRecord)), int64(0))
	assert.Contains(t, m.Summary(), "record=")
}
