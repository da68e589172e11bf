package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func uploadTriangle(t *testing.T, ms *MemorySystem) *SceneBuffers {
	t.Helper()
	geometry := triangleGeometry()
	sb, err := UploadScene(ms, &geometry, nil)
	require.NoError(t, err)
	t.Cleanup(sb.Destroy)
	return sb
}

func TestUploadScene(t *testing.T) {
	tests := []struct {
		name      string
		geometry  metadata.SceneGeometry
		triangles uint32
		wantErr   bool
	}{
		{"single triangle", triangleGeometry(), 1, false},
		{"empty scene uploads a placeholder", metadata.SceneGeometry{}, 0, false},
		{
			name: "index count not a multiple of three",
			geometry: metadata.SceneGeometry{
				Vertices: []metadata.Vertex{{}, {}},
				Indices:  []uint32{0, 1},
			},
			wantErr: true,
		},
		{
			name: "index out of range",
			geometry: metadata.SceneGeometry{
				Vertices: []metadata.Vertex{{}, {}, {}},
				Indices:  []uint32{0, 1, 3},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDevice(t)
			ms := NewMemorySystem(d)

			sb, err := UploadScene(ms, &tt.geometry, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer sb.Destroy()
			assert.Equal(t, tt.triangles, sb.TriangleCount)
			assert.NotZero(t, sb.Vertices.Address)
			assert.NotZero(t, sb.Indices.Address)
			assert.Equal(t, uint64(metadata.MaterialStride), sb.Materials.Size, "a default material is always uploaded")
		})
	}
}

func TestUploadSceneEncodesVertices(t *testing.T) {
	d := newTestDevice(t)
	sb := uploadTriangle(t, NewMemorySystem(d))

	raw, err := sb.Vertices.Read(metadata.VertexStride, metadata.VertexStride)
	require.NoError(t, err)
	v := metadata.DecodeVertex(raw)
	assert.Equal(t, amath.NewVec3(100, -100, 0), v.Position)
	assert.Equal(t, amath.NewVec3(0, 0, 1), v.Normal)
}

func TestBuildBottomAndTopLevel(t *testing.T) {
	d := newTestDevice(t)
	ms := NewMemorySystem(d)
	sb := uploadTriangle(t, ms)

	blas, err := BuildBottomLevel(ms, sb.Geometry())
	require.NoError(t, err)
	assert.Equal(t, metadata.AccelKindBottomLevel, blas.Kind)
	assert.Equal(t, uint32(1), blas.PrimitiveCount)
	assert.NotZero(t, blas.Address)

	tlas, err := BuildTopLevel(ms, []metadata.AccelInstance{NewSceneInstance(blas, 0)})
	require.NoError(t, err)
	assert.Equal(t, metadata.AccelKindTopLevel, tlas.Kind)
	assert.Equal(t, uint32(1), tlas.PrimitiveCount)
	assert.NotZero(t, tlas.Address)

	_, _, _, accels := d.Live()
	assert.Equal(t, 2, accels)

	tlas.Destroy()
	blas.Destroy()
	_, _, _, accels = d.Live()
	assert.Zero(t, accels)
}

func TestBuildTopLevelBeforeBottomLevel(t *testing.T) {
	d := newTestDevice(t)
	ms := NewMemorySystem(d)

	// An instance of a structure that was never built has no address.
	instance := NewSceneInstance(&AccelerationStructure{}, 0)
	_, err := BuildTopLevel(ms, []metadata.AccelInstance{instance})
	assert.ErrorIs(t, err, core.ErrBottomLevelNotBuilt)

	buffers, memories, _, accels := d.Live()
	assert.Zero(t, buffers)
	assert.Zero(t, memories)
	assert.Zero(t, accels)
}

func TestBuildTopLevelWithoutInstances(t *testing.T) {
	d := newTestDevice(t)
	ms := NewMemorySystem(d)

	tlas, err := BuildTopLevel(ms, nil)
	require.NoError(t, err)
	defer tlas.Destroy()
	assert.Zero(t, tlas.PrimitiveCount)
	assert.NotZero(t, tlas.Address)
}

func TestBuildBottomLevelRejectsEmptyGeometry(t *testing.T) {
	d := newTestDevice(t)
	ms := NewMemorySystem(d)

	empty := metadata.SceneGeometry{}
	sb, err := UploadScene(ms, &empty, nil)
	require.NoError(t, err)
	defer sb.Destroy()

	_, err = BuildBottomLevel(ms, sb.Geometry())
	assert.Error(t, err)
}

func TestNewSceneInstance(t *testing.T) {
	blas := &AccelerationStructure{Address: 0x1000}
	instance := NewSceneInstance(blas, 3)

	assert.Equal(t, metadata.DeviceAddress(0x1000), instance.Reference)
	assert.Equal(t, uint32(3), instance.SBTOffset)
	assert.Equal(t, uint8(0xFF), instance.Mask)
	assert.Equal(t, amath.NewTransform3x4Identity(), instance.Transform)
}
