package metadata

import (
	"encoding/binary"
	"math"

	amath "github.com/spaghettifunk/anima-rt/engine/math"
)

const (
	// VertexStride is the std430 size of a Vertex: three 16 byte aligned attributes.
	VertexStride = 48
	// MaterialStride is the std430 size of a Material.
	MaterialStride = 64
	// SceneUniformSize is the std140 size of a SceneUniform.
	SceneUniformSize = 80
	// NoTexture marks an unused material texture slot.
	NoTexture int32 = -1
)

/**
 * @brief A fully materialized vertex. Each attribute occupies a 16 byte
 * slot so the same buffer serves as build input and as a storage buffer.
 */
type Vertex struct {
	Position amath.Vec3
	Normal   amath.Vec3
	Texcoord amath.Vec2
}

/** @brief A PBR style material, laid out in std430 by Encode. */
type Material struct {
	BaseColorFactor amath.Vec4
	EmissiveFactor  amath.Vec4
	Metallic        float32
	Roughness       float32
	IOR             float32

	BaseColorTexture         int32
	MetallicRoughnessTexture int32
	NormalTexture            int32
	OcclusionTexture         int32
	EmissiveTexture          int32
}

// NewMaterial returns an untextured white dielectric.
func NewMaterial() Material {
	return Material{
		BaseColorFactor:          amath.NewVec4(1, 1, 1, 1),
		EmissiveFactor:           amath.NewVec4(0, 0, 0, 0),
		Metallic:                 0,
		Roughness:                1,
		IOR:                      1.5,
		BaseColorTexture:         NoTexture,
		MetallicRoughnessTexture: NoTexture,
		NormalTexture:            NoTexture,
		OcclusionTexture:         NoTexture,
		EmissiveTexture:          NoTexture,
	}
}

type SunLight struct {
	Direction amath.Vec4
	Color     amath.Vec4
}

/**
 * @brief The per-frame scene uniform. Viewport packs width, height,
 * tan(fov/2) and the frame index.
 */
type SceneUniform struct {
	Sun            SunLight
	CameraPosition amath.Vec4
	CameraTarget   amath.Vec4
	Viewport       amath.Vec4
}

func DefaultSceneUniform() SceneUniform {
	return SceneUniform{
		Sun: SunLight{
			Direction: amath.NewVec3(-0.5, 1.0, -0.3).Normalize().ToVec4(0),
			Color:     amath.NewVec4(0.2, 0.2, 0.2, 1),
		},
		CameraPosition: amath.NewVec4(-1, 2, 3, 1),
		CameraTarget:   amath.NewVec4(0, 0, 0, 1),
		Viewport:       amath.NewVec4(0, 0, TanHalfFov(60), 0),
	}
}

func putFloat(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func getFloat(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}

func putVec3(dst []byte, v amath.Vec3) {
	putFloat(dst[0:], v.X)
	putFloat(dst[4:], v.Y)
	putFloat(dst[8:], v.Z)
}

func putVec4(dst []byte, v amath.Vec4) {
	putFloat(dst[0:], v.X)
	putFloat(dst[4:], v.Y)
	putFloat(dst[8:], v.Z)
	putFloat(dst[12:], v.W)
}

func getVec3(src []byte) amath.Vec3 {
	return amath.NewVec3(getFloat(src[0:]), getFloat(src[4:]), getFloat(src[8:]))
}

func getVec4(src []byte) amath.Vec4 {
	return amath.NewVec4(getFloat(src[0:]), getFloat(src[4:]), getFloat(src[8:]), getFloat(src[12:]))
}

func (v *Vertex) Encode(dst []byte) {
	_ = dst[VertexStride-1]
	clear(dst[:VertexStride])
	putVec3(dst[0:], v.Position)
	putVec3(dst[16:], v.Normal)
	putFloat(dst[32:], v.Texcoord.X)
	putFloat(dst[36:], v.Texcoord.Y)
}

func DecodeVertex(src []byte) Vertex {
	_ = src[VertexStride-1]
	return Vertex{
		Position: getVec3(src[0:]),
		Normal:   getVec3(src[16:]),
		Texcoord: amath.NewVec2(getFloat(src[32:]), getFloat(src[36:])),
	}
}

func (m *Material) Encode(dst []byte) {
	_ = dst[MaterialStride-1]
	clear(dst[:MaterialStride])
	putVec4(dst[0:], m.BaseColorFactor)
	putVec4(dst[16:], m.EmissiveFactor)
	putFloat(dst[32:], m.Metallic)
	putFloat(dst[36:], m.Roughness)
	putFloat(dst[40:], m.IOR)
	binary.LittleEndian.PutUint32(dst[44:], uint32(m.BaseColorTexture))
	binary.LittleEndian.PutUint32(dst[48:], uint32(m.MetallicRoughnessTexture))
	binary.LittleEndian.PutUint32(dst[52:], uint32(m.NormalTexture))
	binary.LittleEndian.PutUint32(dst[56:], uint32(m.OcclusionTexture))
	binary.LittleEndian.PutUint32(dst[60:], uint32(m.EmissiveTexture))
}

func DecodeMaterial(src []byte) Material {
	_ = src[MaterialStride-1]
	return Material{
		BaseColorFactor:          getVec4(src[0:]),
		EmissiveFactor:           getVec4(src[16:]),
		Metallic:                 getFloat(src[32:]),
		Roughness:                getFloat(src[36:]),
		IOR:                      getFloat(src[40:]),
		BaseColorTexture:         int32(binary.LittleEndian.Uint32(src[44:])),
		MetallicRoughnessTexture: int32(binary.LittleEndian.Uint32(src[48:])),
		NormalTexture:            int32(binary.LittleEndian.Uint32(src[52:])),
		OcclusionTexture:         int32(binary.LittleEndian.Uint32(src[56:])),
		EmissiveTexture:          int32(binary.LittleEndian.Uint32(src[60:])),
	}
}

func (u *SceneUniform) Encode(dst []byte) {
	_ = dst[SceneUniformSize-1]
	putVec4(dst[0:], u.Sun.Direction)
	putVec4(dst[16:], u.Sun.Color)
	putVec4(dst[32:], u.CameraPosition)
	putVec4(dst[48:], u.CameraTarget)
	putVec4(dst[64:], u.Viewport)
}

func DecodeSceneUniform(src []byte) SceneUniform {
	_ = src[SceneUniformSize-1]
	return SceneUniform{
		Sun: SunLight{
			Direction: getVec4(src[0:]),
			Color:     getVec4(src[16:]),
		},
		CameraPosition: getVec4(src[32:]),
		CameraTarget:   getVec4(src[48:]),
		Viewport:       getVec4(src[64:]),
	}
}

// EncodeVertices packs vertices into a tightly strided byte slice.
func EncodeVertices(vertices []Vertex) []byte {
	out := make([]byte, len(vertices)*VertexStride)
	for i := range vertices {
		vertices[i].Encode(out[i*VertexStride:])
	}
	return out
}

func EncodeMaterials(materials []Material) []byte {
	out := make([]byte, len(materials)*MaterialStride)
	for i := range materials {
		materials[i].Encode(out[i*MaterialStride:])
	}
	return out
}

// EncodeUint32s packs values little-endian, as index and material index buffers expect.
func EncodeUint32s(values []uint32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

/**
 * @brief Geometry ready for upload: flattened vertices, triangle indices and
 * one material index per triangle.
 */
type SceneGeometry struct {
	Vertices        []Vertex
	Indices         []uint32
	MaterialIndices []uint32
}

func (g *SceneGeometry) TriangleCount() uint32 {
	return uint32(len(g.Indices) / 3)
}

// Append merges other into g, rebasing its indices.
func (g *SceneGeometry) Append(other *SceneGeometry, materialOffset uint32) {
	base := uint32(len(g.Vertices))
	g.Vertices = append(g.Vertices, other.Vertices...)
	for _, idx := range other.Indices {
		g.Indices = append(g.Indices, idx+base)
	}
	for _, m := range other.MaterialIndices {
		g.MaterialIndices = append(g.MaterialIndices, m+materialOffset)
	}
}

/** @brief Decoded texel data, either RGBA8 or RGBA32F. */
type TextureData struct {
	Name   string
	Width  uint32
	Height uint32
	Layers uint32
	Format Format
	Pixels []byte
}

// NewConstantCube returns a size×size RGBA32F cube with every texel set to color.
func NewConstantCube(name string, color amath.Vec3, size uint32) TextureData {
	const faces = 6
	texel := make([]byte, 16)
	putVec4(texel, color.ToVec4(1))
	pixels := make([]byte, 0, int(size*size*faces)*16)
	for i := uint32(0); i < size*size*faces; i++ {
		pixels = append(pixels, texel...)
	}
	return TextureData{
		Name:   name,
		Width:  size,
		Height: size,
		Layers: faces,
		Format: FormatR32G32B32A32Sfloat,
		Pixels: pixels,
	}
}

// LayerSize returns the byte size of one layer.
func (t *TextureData) LayerSize() uint64 {
	return uint64(t.Width) * uint64(t.Height) * uint64(t.Format.BytesPerPixel())
}

// TanHalfFov returns tan(fovY/2) for a vertical field of view in degrees.
func TanHalfFov(fovY float32) float32 {
	return float32(math.Tan(float64(amath.DegToRad(fovY)) * 0.5))
}
