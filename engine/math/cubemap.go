package math

import "github.com/chewxy/math32"

/** @brief Cube face order as stored in the environment image layers. */
const (
	CubeFacePositiveX = iota
	CubeFaceNegativeX
	CubeFacePositiveY
	CubeFaceNegativeY
	CubeFacePositiveZ
	CubeFaceNegativeZ
	CubeFaceCount
)

// CubeFaceDirection returns the unit direction through the centre of
// texel (x, y) on the given face of a cube with faceSize texels per side.
func CubeFaceDirection(face, x, y int, faceSize int) Vec3 {
	s := ((float32(x)+0.5)/float32(faceSize))*2.0 - 1.0
	t := -(((float32(y)+0.5)/float32(faceSize))*2.0 - 1.0)

	var dir Vec3
	switch face {
	case CubeFacePositiveX:
		dir = Vec3{X: 1, Y: t, Z: -s}
	case CubeFaceNegativeX:
		dir = Vec3{X: -1, Y: t, Z: s}
	case CubeFacePositiveY:
		dir = Vec3{X: s, Y: 1, Z: t}
	case CubeFaceNegativeY:
		dir = Vec3{X: s, Y: -1, Z: -t}
	case CubeFacePositiveZ:
		dir = Vec3{X: s, Y: t, Z: 1}
	default:
		dir = Vec3{X: -s, Y: t, Z: -1}
	}
	return dir.Normalize()
}

// EquirectUV maps a unit direction to latitude/longitude texture coordinates in [0, 1].
func EquirectUV(dir Vec3) Vec2 {
	u := math32.Atan2(dir.Z, dir.X)/K_PI_2 + 0.5
	v := math32.Acos(Clamp(dir.Y, -1, 1)) / K_PI
	return Vec2{X: u, Y: v}
}

// CubeFaceTexel is the inverse of CubeFaceDirection: it selects the face
// hit by dir and the texel coordinates on it.
func CubeFaceTexel(dir Vec3, faceSize int) (face, x, y int) {
	ax, ay, az := math32.Abs(dir.X), math32.Abs(dir.Y), math32.Abs(dir.Z)
	var s, t, ma float32
	switch {
	case ax >= ay && ax >= az:
		ma = ax
		if dir.X > 0 {
			face, s, t = CubeFacePositiveX, -dir.Z, dir.Y
		} else {
			face, s, t = CubeFaceNegativeX, dir.Z, dir.Y
		}
	case ay >= az:
		ma = ay
		if dir.Y > 0 {
			face, s, t = CubeFacePositiveY, dir.X, dir.Z
		} else {
			face, s, t = CubeFaceNegativeY, dir.X, -dir.Z
		}
	default:
		ma = az
		if dir.Z > 0 {
			face, s, t = CubeFacePositiveZ, dir.X, dir.Y
		} else {
			face, s, t = CubeFaceNegativeZ, -dir.X, dir.Y
		}
	}
	s /= ma
	t /= ma
	fs := float32(faceSize)
	x = Clamp(int(math32.Floor((s+1)*0.5*fs)), 0, faceSize-1)
	y = Clamp(int(math32.Floor((-t+1)*0.5*fs)), 0, faceSize-1)
	return face, x, y
}
