// Package binder swaps the materials of scene graphs to textures fetched from
// URLs, one authoritative bind per graph and mesh filter at a time.
package binder

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/taigrr/roomview/pkg/material"
	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
	"github.com/taigrr/roomview/pkg/resource"
)

// Fetcher returns the bytes stored at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// Result describes an applied bind.
type Result struct {
	URL      string
	Meshes   int   // meshes that received the new material
	Disposed int   // replaced materials released by this bind
	Fallback bool  // the texture failed and the default material was bound
	Err      error // the recovered texture failure when Fallback is set
}

// Binder applies materials to scene graphs.
type Binder struct {
	fetch   Fetcher
	cache   *Cache
	log     *zap.Logger
	maxSize int

	mu    sync.Mutex
	slots map[slotKey]*resource.Slot
}

type slotKey struct {
	g   *models.SceneGraph
	key string
}

// Option configures a Binder.
type Option func(*Binder)

// WithLogger sets the logger used to report texture fallbacks.
func WithLogger(log *zap.Logger) Option {
	return func(b *Binder) { b.log = log }
}

// WithMaxTextureSize bounds the longest edge of decoded textures.
func WithMaxTextureSize(n int) Option {
	return func(b *Binder) { b.maxSize = n }
}

// WithCache shares a texture cache between binders.
func WithCache(c *Cache) Option {
	return func(b *Binder) { b.cache = c }
}

// New creates a binder that reads texture bytes through f.
func New(f Fetcher, opts ...Option) *Binder {
	b := &Binder{
		fetch:   f,
		log:     zap.NewNop(),
		maxSize: material.DefaultMaxTextureSize,
		slots:   make(map[slotKey]*resource.Slot),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cache == nil {
		b.cache = NewCache()
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	return b
}

// Cache returns the binder's texture cache.
func (b *Binder) Cache() *Cache {
	return b.cache
}

type bindOptions struct {
	key    string
	filter func(*models.Mesh) bool
}

// BindOption configures a single Bind call.
type BindOption func(*bindOptions)

// WithFilter restricts a bind to meshes accepted by fn. Binds sharing a key
// supersede each other; binds with different keys on the same graph are
// independent.
func WithFilter(key string, fn func(*models.Mesh) bool) BindOption {
	return func(o *bindOptions) {
		o.key = key
		o.filter = fn
	}
}

func (b *Binder) slot(g *models.SceneGraph, key string) *resource.Slot {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := slotKey{g, key}
	s, ok := b.slots[k]
	if !ok {
		s = new(resource.Slot)
		b.slots[k] = s
	}
	return s
}

// Forget cancels in-flight binds for g and drops its slots. Call it before
// disposing a graph.
func (b *Binder) Forget(g *models.SceneGraph) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, s := range b.slots {
		if k.g == g {
			s.Cancel()
			delete(b.slots, k)
		}
	}
}

// Load fetches and decodes url, filling the cache. It is the decode attempt
// used to preload catalogs.
func (b *Binder) Load(ctx context.Context, url string) error {
	tex, err := b.texture(ctx, url)
	tex.Dispose()
	return err
}

func (b *Binder) texture(ctx context.Context, url string) (*material.Texture, error) {
	return b.cache.resolve(ctx, url, func(ctx context.Context) (*material.Texture, error) {
		data, err := b.fetch.Fetch(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("fetch texture: %w", err)
		}
		return material.DecodeTexture(url, data, b.maxSize)
	})
}

// Bind binds the texture at url to every mesh of g (or the meshes accepted
// by WithFilter). An empty url binds the default material. A texture that
// cannot be fetched or decoded is logged and replaced by the default
// material; it never fails the bind.
//
// If a newer bind for the same graph and filter key starts before this one
// finishes, Bind returns resource.ErrStale and leaves g untouched.
func (b *Binder) Bind(ctx context.Context, g *models.SceneGraph, url string, opts ...BindOption) (Result, error) {
	return b.begin(ctx, g, url, opts).run()
}

// Pending is a bind running in the background.
type Pending struct {
	done chan struct{}
	res  Result
	err  error
}

// Done is closed when the bind has finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the bind finishes and returns what Bind would have.
func (p *Pending) Wait() (Result, error) {
	<-p.done
	return p.res, p.err
}

// Start is Bind in a new goroutine. The bind's generation is taken before
// Start returns, so binds started one after another on the same graph and
// filter key resolve in that order.
func (b *Binder) Start(ctx context.Context, g *models.SceneGraph, url string, opts ...BindOption) *Pending {
	j := b.begin(ctx, g, url, opts)
	p := &Pending{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.res, p.err = j.run()
	}()
	return p
}

type bindJob struct {
	b    *Binder
	g    *models.SceneGraph
	url  string
	opts bindOptions
	slot *resource.Slot
	tok  resource.Token
	ctx  context.Context
}

func (b *Binder) begin(ctx context.Context, g *models.SceneGraph, url string, opts []BindOption) *bindJob {
	j := &bindJob{b: b, g: g, url: url}
	for _, opt := range opts {
		opt(&j.opts)
	}
	j.slot = b.slot(g, j.opts.key)
	j.tok, j.ctx = j.slot.Begin(ctx)
	return j
}

func (j *bindJob) run() (Result, error) {
	b, ctx, tok := j.b, j.ctx, j.tok

	res := Result{URL: j.url}
	mat := material.Default()
	if j.url != "" {
		tex, err := b.texture(ctx, j.url)
		switch {
		case !tok.Current():
			tex.Dispose()
			return Result{}, resource.ErrStale
		case ctx.Err() != nil:
			tex.Dispose()
			return Result{}, ctx.Err()
		case err != nil:
			b.log.Warn("texture unavailable, using default material",
				zap.String("url", j.url),
				zap.String("filter", j.opts.key),
				zap.Error(err),
			)
			res.Fallback = true
			res.Err = err
		default:
			mat = material.FromTexture(tex)
		}
	}

	applied := j.slot.Commit(tok, func() {
		j.g.Update(func(root *models.Node) {
			res.Meshes, res.Disposed = swap(root, mat, j.opts.filter)
		})
	})
	if !applied {
		mat.Dispose()
		return Result{}, resource.ErrStale
	}
	if res.Meshes == 0 {
		mat.Dispose()
	}
	b.log.Debug("material bound",
		zap.String("url", j.url),
		zap.String("filter", j.opts.key),
		zap.Int("meshes", res.Meshes),
		zap.Int("disposed", res.Disposed),
		zap.Bool("fallback", res.Fallback),
	)
	return res, nil
}

// swap binds mat to the matching meshes under root and disposes every
// replaced material no mesh references any more.
func swap(root *models.Node, mat *material.Material, filter func(*models.Mesh) bool) (meshes, disposed int) {
	replaced := make(map[*material.Material]struct{})
	models.Walk(root, func(m *models.Mesh, _ math3d.Mat4) {
		if filter != nil && !filter(m) {
			return
		}
		if m.Material != mat {
			replaced[m.Material] = struct{}{}
		}
		m.Material = mat
		meshes++
	})
	if len(replaced) == 0 {
		return meshes, 0
	}

	// Unfiltered meshes may still share a replaced material.
	models.Walk(root, func(m *models.Mesh, _ math3d.Mat4) {
		delete(replaced, m.Material)
	})
	for old := range replaced {
		if old.Dispose() {
			disposed++
		}
	}
	return meshes, disposed
}
