// Package models turns raw model bytes into an in-memory scene graph of
// transformed nodes and meshes.
package models

import (
	"github.com/taigrr/roomview/pkg/material"
	"github.com/taigrr/roomview/pkg/math3d"
)

// Mesh is a triangle list with exactly one bound material.
//
// Faces are stored clockwise when seen from the front, which is the winding
// the rasterizer treats as front-facing.
type Mesh struct {
	Name     string
	Role     string // explicit surface role from model metadata, "" if absent
	Vertices []MeshVertex
	Faces    []Face
	Material *material.Material

	// Local-space bounds, calculated on load
	Bounds math3d.Box3
}

// MeshVertex holds all vertex attributes.
type MeshVertex struct {
	Position math3d.Vec3
	Normal   math3d.Vec3
	UV       math3d.Vec2
}

// Face is a triangle of indices into Mesh.Vertices.
type Face struct {
	V [3]int
}

// NewMesh creates an empty mesh bound to the default material.
func NewMesh(name string) *Mesh {
	return &Mesh{
		Name:     name,
		Material: material.Default(),
		Bounds:   math3d.EmptyBox(),
	}
}

// CalculateBounds computes the local axis-aligned bounding box.
func (m *Mesh) CalculateBounds() {
	m.Bounds = math3d.EmptyBox()
	for _, v := range m.Vertices {
		m.Bounds = m.Bounds.ExpandByPoint(v.Position)
	}
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Faces)
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// HasNormals reports whether any vertex carries a usable normal.
func (m *Mesh) HasNormals() bool {
	for _, v := range m.Vertices {
		if v.Normal.Len() > 0.001 {
			return true
		}
	}
	return false
}

// faceNormal returns the unnormalized outward normal of f.
func (m *Mesh) faceNormal(f Face) math3d.Vec3 {
	v0 := m.Vertices[f.V[0]].Position
	v1 := m.Vertices[f.V[1]].Position
	v2 := m.Vertices[f.V[2]].Position
	return v2.Sub(v0).Cross(v1.Sub(v0))
}

// CalculateNormals assigns each face's normal to its vertices (flat shading).
func (m *Mesh) CalculateNormals() {
	for _, f := range m.Faces {
		n := m.faceNormal(f).Normalize()
		for _, vi := range f.V {
			m.Vertices[vi].Normal = n
		}
	}
}

// CalculateSmoothNormals computes area-weighted averaged vertex normals.
func (m *Mesh) CalculateSmoothNormals() {
	for i := range m.Vertices {
		m.Vertices[i].Normal = math3d.Zero3()
	}
	for _, f := range m.Faces {
		n := m.faceNormal(f)
		for _, vi := range f.V {
			m.Vertices[vi].Normal = m.Vertices[vi].Normal.Add(n)
		}
	}
	for i := range m.Vertices {
		m.Vertices[i].Normal = m.Vertices[i].Normal.Normalize()
	}
}

// Clone creates a deep copy of the mesh, including its material.
func (m *Mesh) Clone() *Mesh {
	clone := &Mesh{
		Name:     m.Name,
		Role:     m.Role,
		Vertices: make([]MeshVertex, len(m.Vertices)),
		Faces:    make([]Face, len(m.Faces)),
		Material: m.Material.Clone(),
		Bounds:   m.Bounds,
	}
	copy(clone.Vertices, m.Vertices)
	copy(clone.Faces, m.Faces)
	return clone
}

// GetVertex returns the position, normal, and UV for vertex i.
func (m *Mesh) GetVertex(i int) (pos, normal math3d.Vec3, uv math3d.Vec2) {
	v := m.Vertices[i]
	return v.Position, v.Normal, v.UV
}

// GetFace returns the vertex indices for face i.
func (m *Mesh) GetFace(i int) [3]int {
	return m.Faces[i].V
}

// GetBounds returns the local bounding box.
func (m *Mesh) GetBounds() math3d.Box3 {
	return m.Bounds
}
