// Package material describes renderable surfaces: a base color, PBR
// roughness/metalness and an optional decoded texture.
package material

import (
	"image/color"
	"sync/atomic"
)

// Defaults applied to materials built from catalog textures.
const (
	DefaultRoughness = 0.8
	DefaultMetalness = 0.1
)

// DefaultColor is the neutral base color of the default material.
var DefaultColor = color.RGBA{R: 200, G: 200, B: 200, A: 255}

// Material is bound to one or more meshes of a single scene graph. A
// material is never shared across graphs.
type Material struct {
	Name        string
	BaseColor   color.RGBA
	Roughness   float64 // 0 = smooth, 1 = rough
	Metalness   float64 // 0 = dielectric, 1 = metal
	Texture     *Texture
	DoubleSided bool

	disposed atomic.Bool
}

// Default returns a new neutral, untextured material.
func Default() *Material {
	return &Material{
		Name:      "default",
		BaseColor: DefaultColor,
		Roughness: DefaultRoughness,
		Metalness: DefaultMetalness,
	}
}

// FromTexture builds a double-sided material around a decoded texture. The
// material takes ownership of tex.
func FromTexture(tex *Texture) *Material {
	return &Material{
		Name:        tex.Source,
		BaseColor:   color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Roughness:   DefaultRoughness,
		Metalness:   DefaultMetalness,
		Texture:     tex,
		DoubleSided: true,
	}
}

// IsDefault reports whether m is an untextured default material.
func (m *Material) IsDefault() bool {
	return m != nil && m.Texture == nil && m.Name == "default"
}

// TextureURL returns the source URL of the bound texture, or "".
func (m *Material) TextureURL() string {
	if m == nil || m.Texture == nil {
		return ""
	}
	return m.Texture.Source
}

// Dispose releases the material and its texture. It reports false when the
// material was already disposed.
func (m *Material) Dispose() bool {
	if m == nil || !m.disposed.CompareAndSwap(false, true) {
		return false
	}
	m.Texture.Dispose()
	return true
}

// Disposed reports whether Dispose has been called.
func (m *Material) Disposed() bool {
	return m != nil && m.disposed.Load()
}

// Clone returns an independent copy. The texture pixels are copied too so
// that disposing one copy leaves the other intact.
func (m *Material) Clone() *Material {
	if m == nil {
		return nil
	}
	c := &Material{
		Name:        m.Name,
		BaseColor:   m.BaseColor,
		Roughness:   m.Roughness,
		Metalness:   m.Metalness,
		DoubleSided: m.DoubleSided,
	}
	c.Texture = m.Texture.Copy()
	return c
}
