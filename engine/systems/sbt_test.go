package systems

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func TestTableLayout(t *testing.T) {
	tests := []struct {
		name   string
		limits metadata.RayTracingLimits
		raygen metadata.StridedRegion
		miss   metadata.StridedRegion
		hit    metadata.StridedRegion
	}{
		{
			name:   "handle smaller than base alignment",
			limits: metadata.RayTracingLimits{ShaderGroupHandleSize: 32, ShaderGroupHandleAlignment: 32, ShaderGroupBaseAlignment: 64},
			raygen: metadata.StridedRegion{Stride: 64, Size: 64},
			miss:   metadata.StridedRegion{Stride: 32, Size: 64},
			hit:    metadata.StridedRegion{Stride: 32, Size: 64},
		},
		{
			name:   "common desktop limits",
			limits: metadata.RayTracingLimits{ShaderGroupHandleSize: 32, ShaderGroupHandleAlignment: 32, ShaderGroupBaseAlignment: 32},
			raygen: metadata.StridedRegion{Stride: 32, Size: 32},
			miss:   metadata.StridedRegion{Stride: 32, Size: 64},
			hit:    metadata.StridedRegion{Stride: 32, Size: 32},
		},
		{
			name:   "handle padded up to its alignment",
			limits: metadata.RayTracingLimits{ShaderGroupHandleSize: 16, ShaderGroupHandleAlignment: 64, ShaderGroupBaseAlignment: 64},
			raygen: metadata.StridedRegion{Stride: 64, Size: 64},
			miss:   metadata.StridedRegion{Stride: 64, Size: 128},
			hit:    metadata.StridedRegion{Stride: 64, Size: 64},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raygen, miss, hit := TableLayout(tt.limits)
			assert.Equal(t, tt.raygen, raygen)
			assert.Equal(t, tt.miss, miss)
			assert.Equal(t, tt.hit, hit)
			assert.Equal(t, raygen.Size, raygen.Stride, "raygen holds one record")
		})
	}
}

func TestBuildTable(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 1, testScene(triangleGeometry()))
	sbt := rc.SBT
	limits := d.Limits()

	base := sbt.Buffer.Address
	assert.Zero(t, uint64(base)%uint64(limits.ShaderGroupBaseAlignment))
	assert.Equal(t, base, sbt.Raygen.Address)
	assert.Equal(t, base+metadata.DeviceAddress(sbt.Raygen.Size), sbt.Miss.Address)
	assert.Equal(t, base+metadata.DeviceAddress(sbt.Raygen.Size+sbt.Miss.Size), sbt.Hit.Address)
	assert.Zero(t, sbt.Callable.Size)

	data, err := sbt.Buffer.Read(0, sbt.Buffer.Size)
	require.NoError(t, err)
	groupAt := func(offset uint64) uint32 {
		// Software handles carry their group index after a 4 byte tag.
		return binary.LittleEndian.Uint32(data[offset+4:])
	}
	missOffset := sbt.Raygen.Size
	hitOffset := sbt.Raygen.Size + sbt.Miss.Size

	assert.Equal(t, GroupRaygen, groupAt(0))
	assert.Equal(t, GroupMiss, groupAt(missOffset))
	assert.Equal(t, GroupShadowMiss, groupAt(missOffset+sbt.Miss.Stride))
	assert.Equal(t, GroupHit, groupAt(hitOffset))
}

func TestPrepareShadersNeedsEveryProgram(t *testing.T) {
	d := newTestDevice(t)
	binaries := testBinaries()
	delete(binaries, metadata.ShaderKindAnyHit)

	_, err := PrepareShaders(d, binaries)
	assert.Error(t, err)

	binaries = testBinaries()
	binaries[metadata.ShaderKindMiss] = []byte{1, 2, 3}
	_, err = PrepareShaders(d, binaries)
	assert.Error(t, err, "not SPIR-V")
}

func TestPrepareShadersGroups(t *testing.T) {
	d := newTestDevice(t)
	ss, err := PrepareShaders(d, testBinaries())
	require.NoError(t, err)
	defer ss.Destroy()

	require.Len(t, ss.Stages, int(metadata.ShaderKindCount))
	require.Len(t, ss.Groups, int(GroupCount))
	assert.Equal(t, metadata.ShaderGroupGeneral, ss.Groups[GroupRaygen].Type)
	assert.Equal(t, uint32(metadata.ShaderKindShadowMiss), ss.Groups[GroupShadowMiss].General)
	assert.Equal(t, metadata.ShaderGroupTrianglesHit, ss.Groups[GroupHit].Type)
	assert.Equal(t, uint32(metadata.ShaderKindClosestHit), ss.Groups[GroupHit].ClosestHit)
	assert.Equal(t, uint32(metadata.ShaderKindAnyHit), ss.Groups[GroupHit].AnyHit)
	assert.Equal(t, metadata.ShaderUnused, ss.Groups[GroupHit].General)
}

func TestCreatePipelineRecursionLimit(t *testing.T) {
	d := newTestDevice(t)
	bg, err := CreateLayout(d, 1)
	require.NoError(t, err)
	defer bg.Destroy()
	ss, err := PrepareShaders(d, testBinaries())
	require.NoError(t, err)
	defer ss.Destroy()

	_, err = CreatePipeline(d, bg.PipelineLayout, ss, d.Limits().MaxRayRecursionDepth+1)
	assert.Error(t, err)

	pipeline, err := CreatePipeline(d, bg.PipelineLayout, ss, 0)
	require.NoError(t, err)
	d.DestroyPipeline(pipeline)
}
