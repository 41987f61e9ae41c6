// Package preview runs the model pipeline for one display slot: raw bytes
// are decoded, rescaled to real-world dimensions and committed only if no
// newer load for the slot has started in the meantime.
package preview

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/taigrr/roomview/pkg/binder"
	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
	"github.com/taigrr/roomview/pkg/normalize"
	"github.com/taigrr/roomview/pkg/resource"
)

// Source returns raw model bytes. *fetch.Client satisfies it.
type Source interface {
	FetchBinaryAsset(ctx context.Context, url, authToken string) ([]byte, error)
}

// Model is a committed slot result. When the bytes could not be parsed the
// asset is a placeholder cube and Err holds the *models.ParseError.
type Model struct {
	Asset      *models.Asset
	Dims       normalize.Dimensions
	Scale      math3d.Vec3
	Generation uint64
	Err        error

	arena resource.Arena
}

// Graph returns the model's scene graph.
func (m *Model) Graph() *models.SceneGraph {
	return m.Asset.Graph
}

// Message returns a human-readable error for display, or "".
func (m *Model) Message() string {
	if m == nil || m.Err == nil {
		return ""
	}
	return m.Err.Error()
}

// Failed reports whether the model is a placeholder for unparseable bytes.
func (m *Model) Failed() bool {
	return m != nil && m.Err != nil
}

// Slot owns the current model of one viewer slot.
type Slot struct {
	loader    *models.Loader
	blobs     *resource.Manager
	binder    *binder.Binder
	source    Source
	authToken string
	anchor    normalize.Anchor
	onReady   func(*Model)
	log       *zap.Logger

	gen resource.Slot

	mu      sync.Mutex
	current *Model
	texture string
}

// Option configures a Slot.
type Option func(*Slot)

// WithLoader replaces the default model loader.
func WithLoader(l *models.Loader) Option {
	return func(s *Slot) { s.loader = l }
}

// WithBlobs shares a blob manager between slots.
func WithBlobs(m *resource.Manager) Option {
	return func(s *Slot) { s.blobs = m }
}

// WithBinder sets the binder used for SetTexture and to forget retired
// graphs.
func WithBinder(b *binder.Binder) Option {
	return func(s *Slot) { s.binder = b }
}

// WithSource sets where LoadURL fetches model bytes, and the bearer token
// sent with each request.
func WithSource(src Source, authToken string) Option {
	return func(s *Slot) {
		s.source = src
		s.authToken = authToken
	}
}

// WithAnchor sets where normalized models are placed. The default is
// normalize.Center.
func WithAnchor(a normalize.Anchor) Option {
	return func(s *Slot) { s.anchor = a }
}

// OnModelReady registers fn to run after each committed load, placeholders
// included.
func OnModelReady(fn func(*Model)) Option {
	return func(s *Slot) { s.onReady = fn }
}

// WithLogger sets the slot logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Slot) { s.log = log }
}

// New creates an empty slot.
func New(opts ...Option) *Slot {
	s := &Slot{log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.loader == nil {
		s.loader = models.NewLoader(models.WithLogger(s.log))
	}
	if s.blobs == nil {
		s.blobs = resource.NewManager(s.log)
	}
	return s
}

// Current returns the committed model, or nil before the first load.
func (s *Slot) Current() *Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Load decodes data, normalizes it to dims and makes it the slot's model.
//
// Malformed bytes are not an error: the committed model is a placeholder and
// Model.Err describes the failure. Load returns resource.ErrStale if a newer
// load started before this one finished, in which case the slot is left
// untouched.
func (s *Slot) Load(ctx context.Context, data []byte, dims normalize.Dimensions) (*Model, error) {
	tok, ctx := s.gen.Begin(ctx)
	return s.load(ctx, tok, dims, func(context.Context) ([]byte, error) { return data, nil })
}

// LoadURL fetches the model at url through the slot's Source and loads it.
// Fetch failures, including non-2xx responses, become a placeholder with a
// *models.ParseError.
func (s *Slot) LoadURL(ctx context.Context, url string, dims normalize.Dimensions) (*Model, error) {
	if s.source == nil {
		return nil, errors.New("preview: no model source configured")
	}
	tok, ctx := s.gen.Begin(ctx)
	return s.load(ctx, tok, dims, func(ctx context.Context) ([]byte, error) {
		return s.source.FetchBinaryAsset(ctx, url, s.authToken)
	})
}

func (s *Slot) load(ctx context.Context, tok resource.Token, dims normalize.Dimensions, read func(context.Context) ([]byte, error)) (*Model, error) {
	m := &Model{Dims: dims, Generation: tok.Generation()}

	data, err := read(ctx)
	if err != nil {
		if stop := s.interrupted(ctx, tok); stop != nil {
			return nil, stop
		}
		err = &models.ParseError{Reason: "fetch failed", Err: err}
	} else {
		h := s.blobs.Acquire(data)
		m.arena.DeferRelease(s.blobs, h)
		m.Asset, err = s.decode(ctx, h)
		if stop := s.interrupted(ctx, tok); stop != nil {
			_ = m.arena.Dispose()
			return nil, stop
		}
	}
	if err != nil {
		s.log.Warn("model failed to load, showing placeholder",
			zap.Uint64("generation", m.Generation),
			zap.Error(err),
		)
		m.Err = err
		m.Asset = models.Placeholder()
	}

	g := m.Asset.Graph
	m.arena.Defer(func() error {
		if s.binder != nil {
			s.binder.Forget(g)
		}
		g.Dispose()
		return nil
	})
	m.Scale = normalize.Normalize(g, dims, s.anchor)
	m.Asset.Bounds = g.Bounds()

	var old *Model
	committed := s.gen.Commit(tok, func() {
		s.mu.Lock()
		old, s.current = s.current, m
		s.mu.Unlock()
	})
	if !committed {
		_ = m.arena.Dispose()
		return nil, resource.ErrStale
	}
	if old != nil {
		if err := old.arena.Dispose(); err != nil {
			s.log.Warn("dispose previous model", zap.Error(err))
		}
	}

	s.log.Info("model ready",
		zap.Uint64("generation", m.Generation),
		zap.String("format", string(m.Asset.Format)),
		zap.Int("triangles", g.TriangleCount()),
		zap.Bool("placeholder", m.Failed()),
	)
	// A newer load may commit, and dispose m, at any point from here on.
	if !tok.Current() {
		return nil, resource.ErrStale
	}
	s.rebind(ctx, m)
	if !tok.Current() {
		s.retire(g)
		return nil, resource.ErrStale
	}
	if s.onReady != nil {
		s.onReady(m)
	}
	return m, nil
}

// retire drops binder state and materials a late rebind left on a graph
// that a newer model already replaced.
func (s *Slot) retire(g *models.SceneGraph) {
	if s.binder != nil {
		s.binder.Forget(g)
	}
	g.Dispose()
}

func (s *Slot) decode(ctx context.Context, h resource.Handle) (*models.Asset, error) {
	data, err := s.blobs.Open(h)
	if err != nil {
		return nil, err
	}
	asset, err := s.loader.Load(ctx, data)
	if err != nil {
		return nil, err
	}
	asset.Source = h
	return asset, nil
}

// interrupted returns the error that ends a load early: ErrStale when a newer
// generation exists, the context error when only the caller gave up.
func (s *Slot) interrupted(ctx context.Context, tok resource.Token) error {
	if !tok.Current() {
		return resource.ErrStale
	}
	return ctx.Err()
}

// rebind applies the slot's texture to a freshly committed model.
func (s *Slot) rebind(ctx context.Context, m *Model) {
	s.mu.Lock()
	url := s.texture
	s.mu.Unlock()
	if s.binder == nil || url == "" {
		return
	}
	if _, err := s.binder.Bind(ctx, m.Graph(), url); err != nil && !errors.Is(err, resource.ErrStale) {
		s.log.Debug("rebind texture", zap.String("url", url), zap.Error(err))
	}
}

// SetTexture binds url to every mesh of the current model and remembers it
// for later loads. An empty url restores the default material.
func (s *Slot) SetTexture(ctx context.Context, url string) (binder.Result, error) {
	if s.binder == nil {
		return binder.Result{}, errors.New("preview: no binder configured")
	}
	s.mu.Lock()
	s.texture = url
	m := s.current
	s.mu.Unlock()
	if m == nil {
		return binder.Result{URL: url}, nil
	}
	return s.binder.Bind(ctx, m.Graph(), url)
}

// Resize renormalizes the current model to dims and returns its total scale
// relative to the decoded asset.
func (s *Slot) Resize(dims normalize.Dimensions) math3d.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.current
	if m == nil {
		return math3d.One3()
	}
	m.Dims = dims
	m.Scale = m.Scale.Mul(normalize.Normalize(m.Graph(), dims, s.anchor))
	m.Asset.Bounds = m.Graph().Bounds()
	return m.Scale
}

// Close cancels in-flight loads and releases the current model.
func (s *Slot) Close() error {
	s.gen.Cancel()
	s.mu.Lock()
	m := s.current
	s.current = nil
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.arena.Dispose()
}
