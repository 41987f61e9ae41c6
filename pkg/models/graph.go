package models

import (
	"sync"

	"github.com/taigrr/roomview/pkg/math3d"
)

// Node is one transform in the scene graph.
type Node struct {
	Name     string
	Local    math3d.Mat4
	Meshes   []*Mesh
	Children []*Node
}

// NewNode creates a node with an identity transform.
func NewNode(name string) *Node {
	return &Node{Name: name, Local: math3d.Identity()}
}

// Add appends children and returns n.
func (n *Node) Add(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

func (n *Node) clone() *Node {
	c := &Node{
		Name:     n.Name,
		Local:    n.Local,
		Meshes:   make([]*Mesh, len(n.Meshes)),
		Children: make([]*Node, len(n.Children)),
	}
	for i, m := range n.Meshes {
		c.Meshes[i] = m.Clone()
	}
	for i, ch := range n.Children {
		c.Children[i] = ch.clone()
	}
	return c
}

// SceneGraph owns a node tree. Readers go through View and writers through
// Update, so the renderer never observes a half-applied normalization or
// material swap.
type SceneGraph struct {
	mu   sync.RWMutex
	root *Node
}

// NewSceneGraph wraps root. A nil root yields an empty graph.
func NewSceneGraph(root *Node) *SceneGraph {
	if root == nil {
		root = NewNode("root")
	}
	return &SceneGraph{root: root}
}

// View calls fn with the root under a read lock.
func (g *SceneGraph) View(fn func(root *Node)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(g.root)
}

// Update calls fn with the root under the write lock.
func (g *SceneGraph) Update(fn func(root *Node)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.root)
}

// Bounds returns the world-space bounds of every mesh.
func (g *SceneGraph) Bounds() math3d.Box3 {
	var b math3d.Box3
	g.View(func(root *Node) { b = WorldBounds(root) })
	return b
}

// Transform returns the root transform.
func (g *SceneGraph) Transform() math3d.Mat4 {
	var m math3d.Mat4
	g.View(func(root *Node) { m = root.Local })
	return m
}

// MeshCount returns the number of meshes in the graph.
func (g *SceneGraph) MeshCount() int {
	n := 0
	g.View(func(root *Node) {
		Walk(root, func(_ *Mesh, _ math3d.Mat4) { n++ })
	})
	return n
}

// TriangleCount returns the number of triangles in the graph.
func (g *SceneGraph) TriangleCount() int {
	n := 0
	g.View(func(root *Node) {
		Walk(root, func(m *Mesh, _ math3d.Mat4) { n += m.TriangleCount() })
	})
	return n
}

// Clone returns a deep copy with independent meshes and materials.
func (g *SceneGraph) Clone() *SceneGraph {
	var c *SceneGraph
	g.View(func(root *Node) { c = &SceneGraph{root: root.clone()} })
	return c
}

// Dispose releases every bound material. It returns how many materials were
// released by this call.
func (g *SceneGraph) Dispose() int {
	n := 0
	g.Update(func(root *Node) {
		Walk(root, func(m *Mesh, _ math3d.Mat4) {
			if m.Material.Dispose() {
				n++
			}
		})
	})
	return n
}

// Walk visits every mesh depth first with its world transform. Callers must
// hold the graph lock, which View and Update do.
func Walk(root *Node, fn func(m *Mesh, world math3d.Mat4)) {
	walk(root, math3d.Identity(), fn)
}

func walk(n *Node, parent math3d.Mat4, fn func(*Mesh, math3d.Mat4)) {
	world := parent.Mul(n.Local)
	for _, m := range n.Meshes {
		fn(m, world)
	}
	for _, c := range n.Children {
		walk(c, world, fn)
	}
}

// WorldBounds returns the union of every mesh's bounds in world space.
func WorldBounds(root *Node) math3d.Box3 {
	b := math3d.EmptyBox()
	Walk(root, func(m *Mesh, world math3d.Mat4) {
		if len(m.Vertices) == 0 {
			return
		}
		for _, v := range m.Vertices {
			b = b.ExpandByPoint(world.MulVec3(v.Position))
		}
	})
	return b
}
