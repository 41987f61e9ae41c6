// Package scene composes a room model with independently placed, textured
// furniture instances and a catalog of textures to apply to them.
package scene

import (
	"context"
	"fmt"
	"strings"

	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
)

// Kind is the surface a catalog texture is meant for.
type Kind string

const (
	KindWall      Kind = "wall"
	KindFloor     Kind = "floor"
	KindFurniture Kind = "furniture"
)

// Kinds lists every texture kind.
var Kinds = []Kind{KindWall, KindFloor, KindFurniture}

// ParseKind converts s, case-insensitively, to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindWall, KindFloor, KindFurniture:
		return k, nil
	default:
		return "", fmt.Errorf("unknown texture kind %q", s)
	}
}

// TextureDescriptor is one entry of a texture catalog.
type TextureDescriptor struct {
	ID   string `yaml:"id" json:"id"`
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name" json:"name"`
	Kind Kind   `yaml:"kind" json:"kind"`
}

// CatalogSource supplies texture catalogs.
type CatalogSource interface {
	FetchTextureCatalog(ctx context.Context, sceneID string, kind Kind) ([]TextureDescriptor, error)
}

// InstanceID identifies a placed furniture instance. IDs start at 1 and are
// never reused within a room; 0 means "no instance".
type InstanceID uint64

// Instance is a snapshot of a placed furniture item.
type Instance struct {
	ID         InstanceID
	ItemID     string
	Position   math3d.Vec3
	Rotation   math3d.Vec3 // Euler angles in radians, applied X, Y, Z
	Scale      math3d.Vec3
	TextureURL string
}

// World returns the instance's model matrix.
func (in Instance) World() math3d.Mat4 {
	return math3d.Compose(in.Position, math3d.Euler(in.Rotation), in.Scale)
}

// Item is a catalog model ready to be placed. Its graph is a template that
// every placed instance deep-copies.
type Item struct {
	ID    string
	Name  string
	Graph *models.SceneGraph
}

// Drawable is one graph to render with its model matrix.
type Drawable struct {
	Instance  InstanceID // 0 for the room itself
	Graph     *models.SceneGraph
	World     math3d.Mat4
	Highlight bool
}
