package models

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/resource"
)

// Format identifies how model bytes were decoded.
type Format string

const (
	FormatGLB         Format = "glb"
	FormatGLTF        Format = "gltf"
	FormatOBJ         Format = "obj"
	FormatPlaceholder Format = "placeholder"
)

// Asset is a decoded model. The loader owns it until the caller commits it to
// a slot; after normalization only material bindings change.
type Asset struct {
	Source resource.Handle
	Graph  *SceneGraph
	Bounds math3d.Box3
	Format Format
}

// ParseError reports malformed or unsupported model bytes. Its message is
// meant to be shown to the user next to the placeholder geometry.
type ParseError struct {
	Format Format
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "could not load model"
	if e.Format != "" {
		msg += " (" + string(e.Format) + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Loader decodes model bytes into assets.
type Loader struct {
	smoothNormals bool
	log           *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFlatNormals computes per-face normals for meshes that lack them.
func WithFlatNormals() LoaderOption {
	return func(l *Loader) { l.smoothNormals = false }
}

// WithLogger sets the logger used for decoder warnings.
func WithLogger(log *zap.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

// NewLoader creates a loader. Missing normals are smoothed by default.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{smoothNormals: true, log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	return l
}

var glbMagic = []byte("glTF")

// Sniff guesses the model format from content.
func Sniff(data []byte) Format {
	if bytes.HasPrefix(data, glbMagic) {
		return FormatGLB
	}
	if trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff"); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatGLTF
	}
	return FormatOBJ
}

// Load decodes data. It returns a *ParseError for empty or malformed input
// and the context error if ctx is done before or after decoding.
func (l *Loader) Load(ctx context.Context, data []byte) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &ParseError{Reason: "empty input"}
	}

	format := Sniff(data)
	var (
		root *Node
		err  error
	)
	switch format {
	case FormatGLB, FormatGLTF:
		root, err = decodeGLTF(ctx, data)
	default:
		if bytes.IndexByte(data, 0) >= 0 {
			return nil, &ParseError{Reason: "unrecognized binary format"}
		}
		var warnings []string
		root, warnings, err = decodeOBJ(data)
		for _, w := range warnings {
			l.log.Debug("obj decoder", zap.String("warning", w))
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ParseError{Format: format, Reason: "malformed data", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meshes := 0
	Walk(root, func(m *Mesh, _ math3d.Mat4) {
		meshes++
		if !m.HasNormals() {
			if l.smoothNormals {
				m.CalculateSmoothNormals()
			} else {
				m.CalculateNormals()
			}
		}
		m.CalculateBounds()
	})
	if meshes == 0 {
		return nil, &ParseError{Format: format, Reason: "no triangle geometry"}
	}

	g := NewSceneGraph(root)
	l.log.Debug("model decoded",
		zap.String("format", string(format)),
		zap.Int("meshes", meshes),
		zap.Int("triangles", g.TriangleCount()),
	)
	return &Asset{Graph: g, Bounds: g.Bounds(), Format: format}, nil
}

// Placeholder returns a unit cube centered at the origin, shown in place of
// a model that failed to load.
func Placeholder() *Asset {
	m := NewMesh("placeholder")
	faces := []struct {
		n    math3d.Vec3
		u, v math3d.Vec3
	}{
		{math3d.V3(0, 0, 1), math3d.V3(1, 0, 0), math3d.V3(0, 1, 0)},
		{math3d.V3(0, 0, -1), math3d.V3(-1, 0, 0), math3d.V3(0, 1, 0)},
		{math3d.V3(1, 0, 0), math3d.V3(0, 0, -1), math3d.V3(0, 1, 0)},
		{math3d.V3(-1, 0, 0), math3d.V3(0, 0, 1), math3d.V3(0, 1, 0)},
		{math3d.V3(0, 1, 0), math3d.V3(1, 0, 0), math3d.V3(0, 0, -1)},
		{math3d.V3(0, -1, 0), math3d.V3(1, 0, 0), math3d.V3(0, 0, 1)},
	}
	for _, f := range faces {
		base := len(m.Vertices)
		center := f.n.Scale(0.5)
		for _, c := range [4][2]float64{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}} {
			p := center.Add(f.u.Scale(c[0] * 0.5)).Add(f.v.Scale(c[1] * 0.5))
			m.Vertices = append(m.Vertices, MeshVertex{
				Position: p,
				Normal:   f.n,
				UV:       math3d.V2((c[0]+1)/2, (c[1]+1)/2),
			})
		}
		// u x v = n, so 0-1-2 is counter-clockwise; store it clockwise.
		m.Faces = append(m.Faces,
			Face{V: [3]int{base, base + 2, base + 1}},
			Face{V: [3]int{base, base + 3, base + 2}},
		)
	}
	m.CalculateBounds()

	root := NewNode("placeholder")
	root.Meshes = []*Mesh{m}
	g := NewSceneGraph(root)
	return &Asset{Graph: g, Bounds: g.Bounds(), Format: FormatPlaceholder}
}
