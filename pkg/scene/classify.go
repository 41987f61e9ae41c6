package scene

import (
	"regexp"
	"strings"

	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
)

// Surface is the role a room mesh plays for texturing.
type Surface int

const (
	Unclassified Surface = iota
	Wall
	Floor
)

func (s Surface) String() string {
	switch s {
	case Wall:
		return "wall"
	case Floor:
		return "floor"
	default:
		return "unclassified"
	}
}

// Kind returns the catalog kind whose textures fit s.
func (s Surface) Kind() Kind {
	switch s {
	case Wall:
		return KindWall
	case Floor:
		return KindFloor
	default:
		return ""
	}
}

// ParseSurface converts "wall" or "floor" to a Surface.
func ParseSurface(s string) (Surface, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wall":
		return Wall, true
	case "floor":
		return Floor, true
	default:
		return Unclassified, false
	}
}

// Geometry thresholds, as fractions of the compared extents.
const (
	thinRatio       = 0.25 // a slab's thin side is under a quarter of the others
	comparableRatio = 0.25 // a wall is at least a quarter as tall as it is wide
)

// wordRE splits names into words: "WallNorth_02" -> Wall, North.
var wordRE = regexp.MustCompile(`\p{Lu}?\p{Ll}+|\p{Lu}+`)

var (
	wallWords = words("wall", "walls", "wand", "wände", "waende", "mur", "murs", "muro", "muros", "pared", "paredes", "parete", "pareti")
	// "sol" only counts as a whole word; it is a prefix of many names.
	floorWords = words("floor", "floors", "flooring", "ground", "boden", "sol", "suelo", "piso", "pisos", "pavimento", "plancher")
)

func words(w ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(w))
	for _, s := range w {
		m[s] = struct{}{}
	}
	return m
}

// Classify decides whether m, placed by world inside a room spanning room,
// is a wall, a floor or neither.
//
// An explicit role tag wins. Otherwise the mesh name is matched against
// wall and floor words in several languages, and only when the name says
// nothing is the shape consulted: a thin vertical slab is a wall, a thin
// horizontal slab in the lower half of the room is a floor. Anything
// ambiguous is Unclassified.
func Classify(m *models.Mesh, world math3d.Mat4, room math3d.Box3) Surface {
	if m.Role != "" {
		s, _ := ParseSurface(m.Role)
		return s
	}
	if s, ok := classifyName(m.Name); ok {
		return s
	}
	return classifyShape(m.Bounds.Transform(world), room)
}

// classifyName reports ok when the name decides the surface, including
// names that mention both kinds.
func classifyName(name string) (Surface, bool) {
	var wall, floor bool
	for _, w := range wordRE.FindAllString(name, -1) {
		w = strings.ToLower(w)
		if _, ok := wallWords[w]; ok {
			wall = true
		}
		if _, ok := floorWords[w]; ok {
			floor = true
		}
	}
	switch {
	case wall && floor:
		return Unclassified, true
	case wall:
		return Wall, true
	case floor:
		return Floor, true
	}
	return Unclassified, false
}

func classifyShape(b, room math3d.Box3) Surface {
	if b.IsEmpty() {
		return Unclassified
	}
	size := b.Size()
	thin := 0
	for i := 1; i < 3; i++ {
		if size.Axis(i) < size.Axis(thin) {
			thin = i
		}
	}
	a, c := size.Axis((thin+1)%3), size.Axis((thin+2)%3)
	if size.Axis(thin) >= thinRatio*min(a, c) {
		return Unclassified
	}

	if thin == 1 {
		mid := room.Min.Y + room.Size().Y/2
		if room.IsEmpty() || b.Center().Y <= mid {
			return Floor
		}
		return Unclassified
	}
	horizontal := size.X
	if thin == 0 {
		horizontal = size.Z
	}
	if size.Y >= comparableRatio*horizontal {
		return Wall
	}
	return Unclassified
}

// ClassifyGraph classifies every mesh of g against g's own bounds.
func ClassifyGraph(g *models.SceneGraph) map[*models.Mesh]Surface {
	out := make(map[*models.Mesh]Surface)
	g.View(func(root *models.Node) {
		room := models.WorldBounds(root)
		models.Walk(root, func(m *models.Mesh, world math3d.Mat4) {
			out[m] = Classify(m, world, room)
		})
	})
	return out
}
