package loaders

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	amath "github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// MeshLoader reads a Wavefront OBJ file into flattened triangle geometry.
type MeshLoader struct{}

func (ml *MeshLoader) Load(path string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	geometry, err := DecodeOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeMesh,
		Name:     resourceName(path),
		FullPath: path,
		DataSize: uint64(len(geometry.Vertices) * metadata.VertexStride),
		Data:     geometry,
	}, nil
}

func (ml *MeshLoader) Unload(res *metadata.Resource) error {
	return unload(res)
}

const noIndex = -1

type objParser struct {
	positions []amath.Vec3
	normals   []amath.Vec3
	uvs       []amath.Vec2

	geometry *metadata.SceneGeometry
	lookup   map[[3]int]uint32
	// Position index of every emitted vertex that has no normal in the file.
	needsNormal map[uint32]int
	// Position index of every emitted vertex.
	positionOf  []int
	faceNormals []amath.Vec3

	line int
}

/**
 * @brief Parses positions, normals, texture coordinates and faces. Polygons
 * are triangulated as fans. Vertices without a normal get the area weighted
 * average of the faces sharing their position; missing texture coordinates
 * are zero. Every triangle gets material index 0.
 */
func DecodeOBJ(r io.Reader) (*metadata.SceneGeometry, error) {
	p := &objParser{
		geometry:    &metadata.SceneGeometry{},
		lookup:      make(map[[3]int]uint32),
		needsNormal: make(map[uint32]int),
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.line++
		if err := p.parseLine(scanner.Text()); err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	p.generateNormals()
	return p.geometry, nil
}

func (p *objParser) parseLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	switch fields[0] {
	case "v":
		v, err := parseFloats(fields[1:], 3)
		if err != nil {
			return err
		}
		p.positions = append(p.positions, amath.NewVec3(v[0], v[1], v[2]))
	case "vn":
		v, err := parseFloats(fields[1:], 3)
		if err != nil {
			return err
		}
		p.normals = append(p.normals, amath.NewVec3(v[0], v[1], v[2]).Normalize())
	case "vt":
		v, err := parseFloats(fields[1:], 2)
		if err != nil {
			return err
		}
		// OBJ puts the origin at the bottom left, images at the top left.
		p.uvs = append(p.uvs, amath.NewVec2(v[0], 1-v[1]))
	case "f":
		return p.parseFace(fields[1:])
	}
	// Groups, objects, materials and smoothing do not affect the geometry.
	return nil
}

func parseFloats(fields []string, n int) ([]float32, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

// resolve turns a 1-based or negative relative OBJ index into a 0-based one.
func resolve(field string, count int) (int, error) {
	if field == "" {
		return noIndex, nil
	}
	v, err := strconv.Atoi(field)
	if err != nil {
		return 0, err
	}
	var idx int
	switch {
	case v > 0:
		idx = v - 1
	case v < 0:
		idx = count + v
	default:
		return 0, fmt.Errorf("index 0 is invalid")
	}
	if idx < 0 || idx >= count {
		return 0, fmt.Errorf("index %d out of range (%d defined)", v, count)
	}
	return idx, nil
}

func (p *objParser) parseFace(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("face with %d vertices", len(fields))
	}
	corners := make([]uint32, len(fields))
	for i, f := range fields {
		parts := strings.Split(f, "/")
		key := [3]int{noIndex, noIndex, noIndex}
		var err error
		if key[0], err = resolve(parts[0], len(p.positions)); err != nil || key[0] == noIndex {
			return fmt.Errorf("bad position index %q: %v", f, err)
		}
		if len(parts) > 1 {
			if key[1], err = resolve(parts[1], len(p.uvs)); err != nil {
				return fmt.Errorf("bad texcoord index %q: %w", f, err)
			}
		}
		if len(parts) > 2 {
			if key[2], err = resolve(parts[2], len(p.normals)); err != nil {
				return fmt.Errorf("bad normal index %q: %w", f, err)
			}
		}
		corners[i] = p.vertex(key)
	}

	for i := 1; i+1 < len(corners); i++ {
		a, b, c := corners[0], corners[i], corners[i+1]
		p.geometry.Indices = append(p.geometry.Indices, a, b, c)
		p.geometry.MaterialIndices = append(p.geometry.MaterialIndices, 0)
		p.accumulate(a, b, c)
	}
	return nil
}

func (p *objParser) vertex(key [3]int) uint32 {
	if idx, ok := p.lookup[key]; ok {
		return idx
	}
	v := metadata.Vertex{Position: p.positions[key[0]]}
	if key[1] != noIndex {
		v.Texcoord = p.uvs[key[1]]
	}
	idx := uint32(len(p.geometry.Vertices))
	if key[2] != noIndex {
		v.Normal = p.normals[key[2]]
	} else {
		p.needsNormal[idx] = key[0]
	}
	p.geometry.Vertices = append(p.geometry.Vertices, v)
	p.positionOf = append(p.positionOf, key[0])
	p.lookup[key] = idx
	return idx
}

// accumulate adds the unnormalized face normal to each corner's position,
// whether or not that corner has a file normal, since a later face may
// reference the same position without one.
func (p *objParser) accumulate(a, b, c uint32) {
	if len(p.faceNormals) < len(p.positions) {
		p.faceNormals = append(p.faceNormals, make([]amath.Vec3, len(p.positions)-len(p.faceNormals))...)
	}
	va := p.geometry.Vertices[a].Position
	vb := p.geometry.Vertices[b].Position
	vc := p.geometry.Vertices[c].Position
	n := vb.Sub(va).Cross(vc.Sub(va))
	for _, idx := range []uint32{a, b, c} {
		pos := p.positionOf[idx]
		p.faceNormals[pos] = p.faceNormals[pos].Add(n)
	}
}

func (p *objParser) generateNormals() {
	for idx, pos := range p.needsNormal {
		n := amath.NewVec3Up()
		if pos < len(p.faceNormals) && p.faceNormals[pos].LengthSquared() > 0 {
			n = p.faceNormals[pos].Normalize()
		}
		p.geometry.Vertices[idx].Normal = n
	}
}
