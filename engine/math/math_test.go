package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		name      string
		x, a, out uint64
	}{
		{"already aligned", 64, 64, 64},
		{"round up", 65, 64, 128},
		{"zero", 0, 64, 0},
		{"handle into base", 32, 64, 64},
		{"two handles", 64, 64, 64},
		{"one", 1, 16, 16},
		{"no alignment", 13, 0, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.out, AlignUp(tt.x, tt.a))
		})
	}
}

func TestAlignUpProperties(t *testing.T) {
	for _, a := range []uint32{1, 2, 4, 16, 64, 256} {
		for x := uint32(0); x < 600; x += 7 {
			r := AlignUp(x, a)
			assert.GreaterOrEqual(t, r, x)
			assert.Zero(t, r%a)
			assert.Less(t, r-x, a)
		}
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(uint32(1)))
	assert.True(t, IsPowerOfTwo(uint32(64)))
	assert.False(t, IsPowerOfTwo(uint32(0)))
	assert.False(t, IsPowerOfTwo(uint32(48)))
}

func TestVec3Ops(t *testing.T) {
	a := NewVec3(1, 0, 0)
	b := NewVec3(0, 1, 0)
	assert.Equal(t, NewVec3(0, 0, 1), a.Cross(b))
	assert.Equal(t, float32(0), a.Dot(b))
	assert.InDelta(t, 1.0, NewVec3(3, 4, 12).Normalize().Length(), 1e-6)
	assert.Equal(t, NewVec3Zero(), NewVec3Zero().Normalize())
	assert.InDelta(t, 5.0, NewVec3(0, 0, 0).Distance(NewVec3(3, 4, 0)), 1e-6)
}

func TestTransformInverse(t *testing.T) {
	tr := NewTransform3x4(NewVec3(1, -2, 3), 2)
	p := NewVec3(0.5, 0.25, -4)
	back := tr.Inverse().TransformPoint(tr.TransformPoint(p))
	assert.True(t, back.Compare(p, 1e-5), "got %v", back)

	id := NewTransform3x4Identity()
	assert.Equal(t, p, id.TransformPoint(p))
	assert.Equal(t, id, Transform3x4{}.Inverse())
}

func TestCubeFaceRoundTrip(t *testing.T) {
	const size = 16
	for face := 0; face < CubeFaceCount; face++ {
		for _, xy := range [][2]int{{0, 0}, {3, 11}, {8, 8}, {15, 15}} {
			dir := CubeFaceDirection(face, xy[0], xy[1], size)
			assert.InDelta(t, 1.0, dir.Length(), 1e-5)
			f, x, y := CubeFaceTexel(dir, size)
			assert.Equal(t, face, f)
			assert.Equal(t, xy[0], x)
			assert.Equal(t, xy[1], y)
		}
	}
}

func TestEquirectUV(t *testing.T) {
	up := EquirectUV(NewVec3(0, 1, 0))
	assert.InDelta(t, 0.0, up.Y, 1e-6)
	down := EquirectUV(NewVec3(0, -1, 0))
	assert.InDelta(t, 1.0, down.Y, 1e-6)
	side := EquirectUV(NewVec3(1, 0, 0))
	assert.InDelta(t, 0.5, side.X, 1e-6)
	assert.InDelta(t, 0.5, side.Y, 1e-6)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(5, 0, 3))
	assert.Equal(t, float32(-1), Clamp(float32(-2), -1, 1))
	assert.InDelta(t, K_PI, DegToRad(180), 1e-6)
	assert.InDelta(t, 90.0, RadToDeg(K_PI/2), 1e-4)
}
