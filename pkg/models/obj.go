package models

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/taigrr/roomview/pkg/math3d"
)

// objDecoder holds the state of one Wavefront OBJ parse. Positions, UVs and
// normals are global to the file; faces are collected per object and per
// usemtl group.
type objDecoder struct {
	positions []math3d.Vec3
	uvs       []math3d.Vec2
	normals   []math3d.Vec3

	objects  []*objObject
	current  *objObject
	mtl      string
	role     string // pending "# role:" tag for the next object
	line     int
	warnings []string
}

type objObject struct {
	name   string
	role   string
	groups []*objGroup
}

type objGroup struct {
	material string
	faces    [][]objIndex
}

// objIndex is one face corner; -1 means absent.
type objIndex struct {
	v, vt, vn int
}

// decodeOBJ parses OBJ text into a node per object.
func decodeOBJ(data []byte) (*Node, []string, error) {
	dec := &objDecoder{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		dec.line++
		if err := dec.parseLine(sc.Text()); err != nil {
			return nil, dec.warnings, fmt.Errorf("line %d: %w", dec.line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, dec.warnings, err
	}

	root := NewNode("root")
	for _, ob := range dec.objects {
		n := NewNode(ob.name)
		for i, g := range ob.groups {
			if len(g.faces) == 0 {
				continue
			}
			name := ob.name
			if len(ob.groups) > 1 {
				name = fmt.Sprintf("%s_%d", ob.name, i)
			}
			m, err := dec.buildMesh(name, g)
			if err != nil {
				return nil, dec.warnings, fmt.Errorf("object %q: %w", ob.name, err)
			}
			m.Role = ob.role
			n.Meshes = append(n.Meshes, m)
		}
		if len(n.Meshes) > 0 {
			root.Add(n)
		}
	}
	return root, dec.warnings, nil
}

func (dec *objDecoder) parseLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	if strings.HasPrefix(fields[0], "#") {
		dec.parseComment(line)
		return nil
	}

	switch fields[0] {
	case "o", "g":
		// Groups are treated the same as objects
		name := "unnamed"
		if len(fields) > 1 {
			name = strings.Join(fields[1:], " ")
		}
		dec.startObject(name)
	case "v":
		p, err := parseFloats(fields[1:], 3)
		if err != nil {
			return fmt.Errorf("vertex: %w", err)
		}
		dec.positions = append(dec.positions, math3d.V3(p[0], p[1], p[2]))
	case "vn":
		p, err := parseFloats(fields[1:], 3)
		if err != nil {
			return fmt.Errorf("normal: %w", err)
		}
		dec.normals = append(dec.normals, math3d.V3(p[0], p[1], p[2]))
	case "vt":
		p, err := parseFloats(fields[1:], 2)
		if err != nil {
			return fmt.Errorf("texcoord: %w", err)
		}
		dec.uvs = append(dec.uvs, math3d.V2(p[0], p[1]))
	case "f":
		return dec.parseFace(fields[1:])
	case "usemtl":
		if len(fields) > 1 {
			dec.mtl = fields[1]
		}
		if dec.current != nil {
			dec.current.groups = append(dec.current.groups, &objGroup{material: dec.mtl})
		}
	case "mtllib", "s", "l", "p":
		// Materials come from the catalog; smoothing groups and lines are ignored.
	default:
		dec.warnings = append(dec.warnings, fmt.Sprintf("line %d: unsupported statement %q", dec.line, fields[0]))
	}
	return nil
}

// parseComment picks up "# role: wall" tags. A tag before an object line
// applies to that object, a tag inside one applies to the current object.
func (dec *objDecoder) parseComment(line string) {
	body := strings.TrimSpace(strings.TrimLeft(line, "# \t"))
	key, val, ok := strings.Cut(body, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(key), "role") {
		return
	}
	role := strings.ToLower(strings.TrimSpace(val))
	if dec.current != nil && !dec.current.hasFaces() {
		dec.current.role = role
		return
	}
	dec.role = role
}

func (ob *objObject) hasFaces() bool {
	for _, g := range ob.groups {
		if len(g.faces) > 0 {
			return true
		}
	}
	return false
}

func (dec *objDecoder) startObject(name string) {
	ob := &objObject{name: name, role: dec.role}
	ob.groups = []*objGroup{{material: dec.mtl}}
	dec.role = ""
	dec.objects = append(dec.objects, ob)
	dec.current = ob
}

// parseFace parses f v1[/vt1][/vn1] v2[/vt2][/vn2] v3[/vt3][/vn3] ...
func (dec *objDecoder) parseFace(fields []string) error {
	if len(fields) < 3 {
		return errors.New("face with fewer than 3 vertices")
	}
	if dec.current == nil {
		// Faces before any o/g line belong to an implicit object
		dec.startObject(fmt.Sprintf("unnamed%d", dec.line))
	}

	face := make([]objIndex, len(fields))
	for i, f := range fields {
		parts := strings.Split(f, "/")
		var err error
		if face[i].v, err = resolveIndex(parts[0], len(dec.positions)); err != nil {
			return fmt.Errorf("face vertex: %w", err)
		}
		face[i].vt, face[i].vn = -1, -1
		if len(parts) > 1 && parts[1] != "" {
			if face[i].vt, err = resolveIndex(parts[1], len(dec.uvs)); err != nil {
				return fmt.Errorf("face texcoord: %w", err)
			}
		}
		if len(parts) > 2 && parts[2] != "" {
			if face[i].vn, err = resolveIndex(parts[2], len(dec.normals)); err != nil {
				return fmt.Errorf("face normal: %w", err)
			}
		}
	}
	g := dec.current.groups[len(dec.current.groups)-1]
	g.faces = append(g.faces, face)
	return nil
}

// resolveIndex converts a 1-based or negative (relative) OBJ index into a
// 0-based index below count.
func resolveIndex(s string, count int) (int, error) {
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	var idx int
	switch {
	case val > 0:
		idx = val - 1
	case val < 0:
		idx = count + val
	default:
		return 0, errors.New("index 0 is invalid")
	}
	if idx < 0 || idx >= count {
		return 0, fmt.Errorf("index %d out of range (have %d)", val, count)
	}
	return idx, nil
}

// buildMesh de-duplicates face corners into vertices and fan-triangulates
// polygons.
func (dec *objDecoder) buildMesh(name string, g *objGroup) (*Mesh, error) {
	m := NewMesh(name)
	lookup := make(map[objIndex]int)
	vertex := func(c objIndex) int {
		if i, ok := lookup[c]; ok {
			return i
		}
		v := MeshVertex{Position: dec.positions[c.v]}
		if c.vt >= 0 {
			v.UV = dec.uvs[c.vt]
		}
		if c.vn >= 0 {
			v.Normal = dec.normals[c.vn]
		}
		m.Vertices = append(m.Vertices, v)
		lookup[c] = len(m.Vertices) - 1
		return len(m.Vertices) - 1
	}

	for _, face := range g.faces {
		// Fan 0, i-1, i; OBJ is counter-clockwise so the last two swap.
		for i := 2; i < len(face); i++ {
			a, b, c := vertex(face[0]), vertex(face[i-1]), vertex(face[i])
			m.Faces = append(m.Faces, Face{V: [3]int{a, c, b}})
		}
	}
	if len(m.Faces) == 0 {
		return nil, errors.New("no faces")
	}
	return m, nil
}

func parseFloats(fields []string, n int) ([]float64, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(fields))
	}
	out := make([]float64, n)
	for i := range n {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite value %q", fields[i])
		}
		out[i] = v
	}
	return out, nil
}
