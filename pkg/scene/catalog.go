package scene

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Preloader decodes a texture ahead of use. *binder.Binder satisfies it.
type Preloader interface {
	Load(ctx context.Context, url string) error
}

// DefaultPreloadWorkers bounds concurrent texture preloads.
const DefaultPreloadWorkers = 4

// Catalog holds the textures offered for one scene, per kind. It is updated
// in place when textures are added or removed.
type Catalog struct {
	sceneID string
	source  CatalogSource
	preload Preloader
	workers int
	store   *Store
	log     *zap.Logger

	mu    sync.RWMutex
	kinds map[Kind]*catalogKind
}

type catalogKind struct {
	textures []TextureDescriptor
	ready    bool
	version  int // bumped on every change so stale preloads do not mark ready
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithSource sets where Refresh reads catalogs from.
func WithSource(src CatalogSource) CatalogOption {
	return func(c *Catalog) { c.source = src }
}

// WithPreloader sets the texture decoder used by Preload.
func WithPreloader(p Preloader) CatalogOption {
	return func(c *Catalog) { c.preload = p }
}

// WithPreloadWorkers bounds concurrent preloads.
func WithPreloadWorkers(n int) CatalogOption {
	return func(c *Catalog) { c.workers = n }
}

// WithCatalogStore publishes EventCatalogChanged to s.
func WithCatalogStore(s *Store) CatalogOption {
	return func(c *Catalog) { c.store = s }
}

// WithCatalogLogger sets the catalog logger.
func WithCatalogLogger(log *zap.Logger) CatalogOption {
	return func(c *Catalog) { c.log = log }
}

// NewCatalog creates an empty catalog for sceneID.
func NewCatalog(sceneID string, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		sceneID: sceneID,
		workers: DefaultPreloadWorkers,
		log:     zap.NewNop(),
		kinds:   make(map[Kind]*catalogKind),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.workers < 1 {
		c.workers = 1
	}
	return c
}

func (c *Catalog) kind(k Kind) *catalogKind {
	ck, ok := c.kinds[k]
	if !ok {
		ck = &catalogKind{}
		c.kinds[k] = ck
	}
	return ck
}

func (c *Catalog) changed(k Kind) {
	if c.store != nil {
		c.store.Publish(Event{Type: EventCatalogChanged, Kind: k})
	}
}

// Refresh replaces the textures of kind with the source's current list.
func (c *Catalog) Refresh(ctx context.Context, kind Kind) error {
	if c.source == nil {
		return fmt.Errorf("catalog %s: no source configured", c.sceneID)
	}
	descs, err := c.source.FetchTextureCatalog(ctx, c.sceneID, kind)
	if err != nil {
		return fmt.Errorf("fetch %s catalog: %w", kind, err)
	}
	c.Replace(kind, descs)
	return nil
}

// Replace sets the textures of kind. Descriptors of other kinds are
// dropped. The kind is no longer ready until the next Preload.
func (c *Catalog) Replace(kind Kind, descs []TextureDescriptor) {
	kept := make([]TextureDescriptor, 0, len(descs))
	for _, d := range descs {
		if d.Kind == "" {
			d.Kind = kind
		}
		if d.Kind == kind {
			kept = append(kept, d)
		}
	}
	c.mu.Lock()
	ck := c.kind(kind)
	ck.textures = kept
	ck.ready = false
	ck.version++
	c.mu.Unlock()
	c.changed(kind)
}

// Add inserts d, replacing an entry with the same ID.
func (c *Catalog) Add(d TextureDescriptor) error {
	if d.ID == "" || d.URL == "" {
		return errors.New("catalog: texture needs an id and a url")
	}
	k, err := ParseKind(string(d.Kind))
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	d.Kind = k

	var moved Kind
	c.mu.Lock()
	for k, ck := range c.kinds {
		if i := indexOf(ck.textures, d.ID); i >= 0 {
			ck.textures = slices.Delete(ck.textures, i, i+1)
			ck.version++
			moved = k
		}
	}
	ck := c.kind(d.Kind)
	ck.textures = append(ck.textures, d)
	ck.ready = false
	ck.version++
	c.mu.Unlock()

	if moved != "" && moved != d.Kind {
		c.changed(moved)
	}
	c.changed(d.Kind)
	return nil
}

// Remove deletes the texture with id and returns it.
func (c *Catalog) Remove(id string) (TextureDescriptor, bool) {
	c.mu.Lock()
	for k, ck := range c.kinds {
		if i := indexOf(ck.textures, id); i >= 0 {
			d := ck.textures[i]
			ck.textures = slices.Delete(ck.textures, i, i+1)
			ck.version++
			c.mu.Unlock()
			c.changed(k)
			return d, true
		}
	}
	c.mu.Unlock()
	return TextureDescriptor{}, false
}

// Lookup returns the texture with id.
func (c *Catalog) Lookup(id string) (TextureDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ck := range c.kinds {
		if i := indexOf(ck.textures, id); i >= 0 {
			return ck.textures[i], true
		}
	}
	return TextureDescriptor{}, false
}

// Textures returns a copy of the textures of kind in catalog order.
func (c *Catalog) Textures(kind Kind) []TextureDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ck, ok := c.kinds[kind]
	if !ok {
		return nil
	}
	return slices.Clone(ck.textures)
}

// Ready reports whether every texture of kind has been preloaded since the
// kind last changed. The textures can be listed before they are ready.
func (c *Catalog) Ready(kind Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ck, ok := c.kinds[kind]
	return ok && ck.ready
}

// Preload decodes every texture of kind, a bounded number at a time, and
// then marks the kind ready. Textures that fail to decode are logged and
// skipped; only cancellation is returned.
func (c *Catalog) Preload(ctx context.Context, kind Kind) error {
	c.mu.RLock()
	var (
		descs   []TextureDescriptor
		version int
	)
	if ck, ok := c.kinds[kind]; ok {
		descs, version = slices.Clone(ck.textures), ck.version
	}
	c.mu.RUnlock()

	if c.preload != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)
		for _, d := range descs {
			g.Go(func() error {
				if err := c.preload.Load(gctx, d.URL); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					c.log.Warn("texture preload failed",
						zap.String("id", d.ID),
						zap.String("url", d.URL),
						zap.Error(err),
					)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	ck := c.kind(kind)
	stale := ck.version != version
	if !stale {
		ck.ready = true
	}
	c.mu.Unlock()
	if stale {
		c.log.Debug("catalog changed during preload", zap.String("kind", string(kind)))
		return nil
	}
	c.changed(kind)
	return nil
}

func indexOf(descs []TextureDescriptor, id string) int {
	return slices.IndexFunc(descs, func(d TextureDescriptor) bool { return d.ID == id })
}
