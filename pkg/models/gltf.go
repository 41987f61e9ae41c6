package models

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"
	"github.com/taigrr/roomview/pkg/math3d"
)

// decodeGLTF parses GLB or JSON glTF bytes into a node tree. Only embedded
// buffers (GLB chunk or data URI) are supported.
func decodeGLTF(ctx context.Context, data []byte) (*Node, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode gltf: %w", err)
	}

	d := &gltfDoc{ctx: ctx, doc: doc, meshes: make(map[int][]*Mesh), visited: make(map[int]bool)}
	root := NewNode("root")
	for _, idx := range d.rootNodes() {
		n, err := d.node(idx, 0)
		if err != nil {
			return nil, err
		}
		root.Add(n)
	}

	// Documents without nodes still carry meshes worth showing.
	if len(doc.Nodes) == 0 {
		for i := range doc.Meshes {
			meshes, err := d.mesh(i)
			if err != nil {
				return nil, err
			}
			n := NewNode(doc.Meshes[i].Name)
			n.Meshes = meshes
			root.Add(n)
		}
	}
	return root, nil
}

// maxNodeDepth guards against cyclic child references.
const maxNodeDepth = 64

type gltfDoc struct {
	ctx     context.Context
	doc     *gltf.Document
	meshes  map[int][]*Mesh // decoded glTF meshes, cloned for each reuse
	visited map[int]bool    // a glTF node has at most one parent
}

func (d *gltfDoc) rootNodes() []int {
	doc := d.doc
	if len(doc.Scenes) > 0 {
		s := 0
		if doc.Scene != nil && *doc.Scene < len(doc.Scenes) {
			s = *doc.Scene
		}
		return doc.Scenes[s].Nodes
	}

	isChild := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			isChild[c] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !isChild[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

func (d *gltfDoc) node(idx, depth int) (*Node, error) {
	if idx < 0 || idx >= len(d.doc.Nodes) {
		return nil, fmt.Errorf("node index %d out of range", idx)
	}
	if depth > maxNodeDepth {
		return nil, fmt.Errorf("node hierarchy deeper than %d", maxNodeDepth)
	}
	if d.visited[idx] {
		return nil, fmt.Errorf("node %d is referenced more than once", idx)
	}
	d.visited[idx] = true
	if err := d.ctx.Err(); err != nil {
		return nil, err
	}
	gn := d.doc.Nodes[idx]
	n := NewNode(gn.Name)
	n.Local = nodeTransform(gn)

	if gn.Mesh != nil {
		meshes, err := d.mesh(*gn.Mesh)
		if err != nil {
			return nil, err
		}
		// Exporters put the object name on the node and a data name on the mesh.
		role := roleFromExtras(gn.Extras)
		for i, m := range meshes {
			switch {
			case gn.Name != "" && len(meshes) > 1:
				m.Name = fmt.Sprintf("%s_%d", gn.Name, i)
			case gn.Name != "":
				m.Name = gn.Name
			}
			if role != "" {
				m.Role = role
			}
		}
		n.Meshes = meshes
	}

	for _, c := range gn.Children {
		child, err := d.node(c, depth+1)
		if err != nil {
			return nil, err
		}
		n.Add(child)
	}
	return n, nil
}

// nodeTransform returns the node's matrix, or T*R*S when no matrix is set.
func nodeTransform(n *gltf.Node) math3d.Mat4 {
	m := math3d.Mat4(n.Matrix)
	if !m.IsZero() && m != math3d.Identity() {
		return m
	}
	s := math3d.V3(n.Scale[0], n.Scale[1], n.Scale[2])
	if s == math3d.Zero3() {
		s = math3d.One3()
	}
	t := math3d.V3(n.Translation[0], n.Translation[1], n.Translation[2])
	return math3d.Compose(t, math3d.Quat(n.Rotation), s)
}

// mesh decodes glTF mesh i into one Mesh per triangle primitive.
func (d *gltfDoc) mesh(i int) ([]*Mesh, error) {
	if i < 0 || i >= len(d.doc.Meshes) {
		return nil, fmt.Errorf("mesh index %d out of range", i)
	}
	if cached, ok := d.meshes[i]; ok {
		out := make([]*Mesh, len(cached))
		for j, m := range cached {
			out[j] = m.Clone()
		}
		return out, nil
	}

	gm := d.doc.Meshes[i]
	role := roleFromExtras(gm.Extras)
	var out []*Mesh
	for pi, prim := range gm.Primitives {
		if prim.Mode != gltf.PrimitiveTriangles && prim.Mode != 0 {
			// Skip lines, points and strips
			continue
		}
		name := gm.Name
		if len(gm.Primitives) > 1 {
			name = fmt.Sprintf("%s_%d", gm.Name, pi)
		}
		m, err := d.primitive(prim, name)
		if err != nil {
			return nil, fmt.Errorf("mesh %q: %w", gm.Name, err)
		}
		if m == nil {
			continue
		}
		m.Role = role
		out = append(out, m)
	}
	d.meshes[i] = out

	copies := make([]*Mesh, len(out))
	for j, m := range out {
		copies[j] = m.Clone()
	}
	return copies, nil
}

func (d *gltfDoc) primitive(prim *gltf.Primitive, name string) (*Mesh, error) {
	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return nil, nil
	}
	positions, err := d.readVec3(posIdx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	var normals []math3d.Vec3
	if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
		if normals, err = d.readVec3(idx); err != nil {
			return nil, fmt.Errorf("read normals: %w", err)
		}
	}
	var uvs []math3d.Vec2
	if idx, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
		if uvs, err = d.readVec2(idx); err != nil {
			return nil, fmt.Errorf("read uvs: %w", err)
		}
	}

	m := NewMesh(name)
	m.Vertices = make([]MeshVertex, len(positions))
	for i, p := range positions {
		v := MeshVertex{Position: p}
		if i < len(normals) {
			v.Normal = normals[i]
		}
		if i < len(uvs) {
			// glTF puts V=0 at the top of the image
			v.UV = math3d.V2(uvs[i].X, 1-uvs[i].Y)
		}
		m.Vertices[i] = v
	}

	var indices []int
	if prim.Indices != nil {
		if indices, err = d.readIndices(*prim.Indices); err != nil {
			return nil, fmt.Errorf("read indices: %w", err)
		}
	} else {
		indices = make([]int, len(positions))
		for i := range indices {
			indices[i] = i
		}
	}

	// glTF winds front faces counter-clockwise; reverse to our clockwise.
	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		if a >= len(positions) || b >= len(positions) || c >= len(positions) {
			return nil, fmt.Errorf("index out of range in face %d", i/3)
		}
		m.Faces = append(m.Faces, Face{V: [3]int{a, c, b}})
	}
	return m, nil
}

// accessorBytes returns the buffer bytes backing accessor idx plus its
// element stride.
func (d *gltfDoc) accessorBytes(idx int, elemSize int) (*gltf.Accessor, []byte, int, error) {
	if idx < 0 || idx >= len(d.doc.Accessors) {
		return nil, nil, 0, fmt.Errorf("accessor %d out of range", idx)
	}
	acc := d.doc.Accessors[idx]
	if acc.BufferView == nil {
		return nil, nil, 0, fmt.Errorf("accessor %d has no buffer view", idx)
	}
	if *acc.BufferView >= len(d.doc.BufferViews) {
		return nil, nil, 0, fmt.Errorf("buffer view %d out of range", *acc.BufferView)
	}
	view := d.doc.BufferViews[*acc.BufferView]
	if view.Buffer >= len(d.doc.Buffers) {
		return nil, nil, 0, fmt.Errorf("buffer %d out of range", view.Buffer)
	}
	buf := d.doc.Buffers[view.Buffer].Data
	if buf == nil {
		return nil, nil, 0, fmt.Errorf("buffer %d has no embedded data", view.Buffer)
	}

	stride := view.ByteStride
	if stride == 0 {
		stride = elemSize
	}
	start := view.ByteOffset + acc.ByteOffset
	if start < 0 || start > len(buf) {
		return nil, nil, 0, fmt.Errorf("accessor %d starts outside buffer", idx)
	}
	if acc.Count > 0 {
		end := start + (acc.Count-1)*stride + elemSize
		if end > len(buf) {
			return nil, nil, 0, fmt.Errorf("accessor %d overruns buffer (%d > %d)", idx, end, len(buf))
		}
	}
	return acc, buf[start:], stride, nil
}

func (d *gltfDoc) readVec3(idx int) ([]math3d.Vec3, error) {
	acc, buf, stride, err := d.accessorBytes(idx, 12)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltf.AccessorVec3 || acc.ComponentType != gltf.ComponentFloat {
		return nil, fmt.Errorf("expected float VEC3, got %v/%v", acc.Type, acc.ComponentType)
	}
	out := make([]math3d.Vec3, acc.Count)
	for i := range out {
		o := i * stride
		out[i] = math3d.V3(readFloat32(buf[o:]), readFloat32(buf[o+4:]), readFloat32(buf[o+8:]))
		if !finite(out[i].X, out[i].Y, out[i].Z) {
			return nil, fmt.Errorf("accessor %d element %d is not finite", idx, i)
		}
	}
	return out, nil
}

func (d *gltfDoc) readVec2(idx int) ([]math3d.Vec2, error) {
	acc, buf, stride, err := d.accessorBytes(idx, 8)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltf.AccessorVec2 || acc.ComponentType != gltf.ComponentFloat {
		return nil, fmt.Errorf("expected float VEC2, got %v/%v", acc.Type, acc.ComponentType)
	}
	out := make([]math3d.Vec2, acc.Count)
	for i := range out {
		o := i * stride
		out[i] = math3d.V2(readFloat32(buf[o:]), readFloat32(buf[o+4:]))
		if !finite(out[i].X, out[i].Y) {
			return nil, fmt.Errorf("accessor %d element %d is not finite", idx, i)
		}
	}
	return out, nil
}

func (d *gltfDoc) readIndices(idx int) ([]int, error) {
	if idx < 0 || idx >= len(d.doc.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", idx)
	}
	var size int
	switch d.doc.Accessors[idx].ComponentType {
	case gltf.ComponentUbyte:
		size = 1
	case gltf.ComponentUshort:
		size = 2
	case gltf.ComponentUint:
		size = 4
	default:
		return nil, fmt.Errorf("unsupported index type %v", d.doc.Accessors[idx].ComponentType)
	}

	acc, buf, stride, err := d.accessorBytes(idx, size)
	if err != nil {
		return nil, err
	}
	out := make([]int, acc.Count)
	for i := range out {
		o := i * stride
		switch size {
		case 1:
			out[i] = int(buf[o])
		case 2:
			out[i] = int(binary.LittleEndian.Uint16(buf[o:]))
		case 4:
			out[i] = int(binary.LittleEndian.Uint32(buf[o:]))
		}
	}
	return out, nil
}

func readFloat32(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// roleFromExtras reads {"role": "wall"} style metadata from glTF extras.
func roleFromExtras(extras any) string {
	var m map[string]any
	switch e := extras.(type) {
	case map[string]any:
		m = e
	case json.RawMessage:
		_ = json.Unmarshal(e, &m)
	case *json.RawMessage:
		if e != nil {
			_ = json.Unmarshal(*e, &m)
		}
	case []byte:
		_ = json.Unmarshal(e, &m)
	}
	role, _ := m["role"].(string)
	return role
}
