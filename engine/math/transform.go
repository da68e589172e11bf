package math

func NewTransform3x4Identity() Transform3x4 {
	return Transform3x4{Rows: [3][4]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}}
}

// NewTransform3x4 builds a transform that scales uniformly, then translates.
func NewTransform3x4(position Vec3, scale float32) Transform3x4 {
	return Transform3x4{Rows: [3][4]float32{
		{scale, 0, 0, position.X},
		{0, scale, 0, position.Y},
		{0, 0, scale, position.Z},
	}}
}

// TransformPoint applies the full affine transform to p.
func (t Transform3x4) TransformPoint(p Vec3) Vec3 {
	r := t.Rows
	return Vec3{
		X: r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z + r[0][3],
		Y: r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z + r[1][3],
		Z: r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z + r[2][3],
	}
}

// TransformDirection applies only the linear part to d.
func (t Transform3x4) TransformDirection(d Vec3) Vec3 {
	r := t.Rows
	return Vec3{
		X: r[0][0]*d.X + r[0][1]*d.Y + r[0][2]*d.Z,
		Y: r[1][0]*d.X + r[1][1]*d.Y + r[1][2]*d.Z,
		Z: r[2][0]*d.X + r[2][1]*d.Y + r[2][2]*d.Z,
	}
}

// Inverse returns the inverse affine transform. A singular linear part
// yields the identity.
func (t Transform3x4) Inverse() Transform3x4 {
	r := t.Rows
	a, b, c := r[0][0], r[0][1], r[0][2]
	d, e, f := r[1][0], r[1][1], r[1][2]
	g, h, i := r[2][0], r[2][1], r[2][2]

	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	if det > -K_FLOAT_EPSILON && det < K_FLOAT_EPSILON {
		return NewTransform3x4Identity()
	}
	inv := 1.0 / det

	var out Transform3x4
	out.Rows[0][0] = (e*i - f*h) * inv
	out.Rows[0][1] = (c*h - b*i) * inv
	out.Rows[0][2] = (b*f - c*e) * inv
	out.Rows[1][0] = (f*g - d*i) * inv
	out.Rows[1][1] = (a*i - c*g) * inv
	out.Rows[1][2] = (c*d - a*f) * inv
	out.Rows[2][0] = (d*h - e*g) * inv
	out.Rows[2][1] = (b*g - a*h) * inv
	out.Rows[2][2] = (a*e - b*d) * inv

	tr := Vec3{X: r[0][3], Y: r[1][3], Z: r[2][3]}
	nt := out.TransformDirection(tr)
	out.Rows[0][3] = -nt.X
	out.Rows[1][3] = -nt.Y
	out.Rows[2][3] = -nt.Z
	return out
}
