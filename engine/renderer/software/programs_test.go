package software

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// emptyTracer traces into a 4x4 image over a scene with nothing to hit.
func emptyTracer() *tracer {
	return &tracer{
		tlas:     &accel{},
		output:   texture{data: bytes.Repeat([]byte{7}, 4*4*4), width: 4, height: 4, layers: 1, format: metadata.FormatR8G8B8A8Unorm},
		uniform:  metadata.DefaultSceneUniform(),
		maxDepth: 1,
		misses:   []metadata.ShaderKind{metadata.ShaderKindShadowMiss},
	}
}

func TestDispatchLaunchSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height uint32
		depth         uint32
		wantErr       bool
		written       int
	}{
		{name: "whole image", width: 4, height: 4, depth: 1, written: 16},
		{name: "top rows", width: 4, height: 2, depth: 1, written: 8},
		{name: "empty depth", width: 4, height: 4, depth: 0, written: 0},
		{name: "layered launch", width: 4, height: 4, depth: 2, wantErr: true},
		{name: "larger than output", width: 8, height: 4, depth: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := emptyTracer()
			err := tr.dispatch(tt.width, tt.height, tt.depth)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)

			written := 0
			for off := 0; off < len(tr.output.data); off += 4 {
				if bytes.Equal(tr.output.data[off:off+4], []byte{0, 0, 0, 255}) {
					written++
				}
			}
			assert.Equal(t, tt.written, written)
		})
	}
}
