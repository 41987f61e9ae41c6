package scene

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/taigrr/roomview/pkg/binder"
	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
	"github.com/taigrr/roomview/pkg/normalize"
	"github.com/taigrr/roomview/pkg/preview"
	"github.com/taigrr/roomview/pkg/resource"
)

// ErrInvalidScale is returned for scale factors that are not positive and
// finite.
var ErrInvalidScale = errors.New("scene: scale must be positive and finite")

// ErrClosed is returned by operations on a closed room.
var ErrClosed = errors.New("scene: room closed")

// Room is the live room scene of one viewer session: the room model, its
// wall and floor textures, and the furniture placed in it.
type Room struct {
	binder    *binder.Binder
	slot      *preview.Slot
	store     *Store
	catalog   *Catalog
	onTexture func(InstanceID, string)
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	model     *preview.Model
	classes   map[*models.Mesh]Surface
	surfaces  map[Surface]string
	nextID    InstanceID
	instances []*placed
	selected  InstanceID
}

// placed is an instance with the graph it owns.
type placed struct {
	Instance
	graph  *models.SceneGraph
	ctx    context.Context
	cancel context.CancelFunc
}

// RoomOption configures a Room.
type RoomOption func(*roomConfig)

type roomConfig struct {
	store     *Store
	catalog   *Catalog
	onTexture func(InstanceID, string)
	log       *zap.Logger
	slotOpts  []preview.Option
}

// WithStore publishes room events to s.
func WithStore(s *Store) RoomOption {
	return func(c *roomConfig) { c.store = s }
}

// WithCatalog lets RemoveTexture find textures by catalog id.
func WithCatalog(cat *Catalog) RoomOption {
	return func(c *roomConfig) { c.catalog = cat }
}

// OnTextureApplied registers fn to run when an instance finishes binding
// its texture, including binds that fell back to the default material.
func OnTextureApplied(fn func(id InstanceID, url string)) RoomOption {
	return func(c *roomConfig) { c.onTexture = fn }
}

// WithRoomLogger sets the room logger.
func WithRoomLogger(log *zap.Logger) RoomOption {
	return func(c *roomConfig) { c.log = log }
}

// WithSlotOptions passes options to the room model's preview slot, such as
// a model source or a shared blob manager.
func WithSlotOptions(opts ...preview.Option) RoomOption {
	return func(c *roomConfig) { c.slotOpts = append(c.slotOpts, opts...) }
}

// NewRoom creates an empty room. Textures are bound through b.
func NewRoom(b *binder.Binder, opts ...RoomOption) *Room {
	cfg := roomConfig{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = zap.NewNop()
	}
	if cfg.store == nil {
		cfg.store = NewStore()
	}

	slotOpts := append([]preview.Option{
		preview.WithBinder(b),
		preview.WithAnchor(normalize.Floor),
		preview.WithLogger(cfg.log),
	}, cfg.slotOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		binder:    b,
		slot:      preview.New(slotOpts...),
		store:     cfg.store,
		catalog:   cfg.catalog,
		onTexture: cfg.onTexture,
		log:       cfg.log,
		ctx:       ctx,
		cancel:    cancel,
		surfaces:  make(map[Surface]string),
	}
}

// Store returns the room's event store.
func (r *Room) Store() *Store {
	return r.store
}

// LoadRoom replaces the room model with data, scaled to dims and resting on
// Y=0. Malformed data yields a placeholder model whose Message explains the
// failure. The current wall and floor textures are bound to the new model.
func (r *Room) LoadRoom(ctx context.Context, data []byte, dims normalize.Dimensions) (*preview.Model, error) {
	m, err := r.slot.Load(ctx, data, dims)
	if err != nil {
		return nil, err
	}
	r.adopt(m)
	return m, nil
}

// LoadRoomURL is LoadRoom for a model fetched through the slot's source.
func (r *Room) LoadRoomURL(ctx context.Context, url string, dims normalize.Dimensions) (*preview.Model, error) {
	m, err := r.slot.LoadURL(ctx, url, dims)
	if err != nil {
		return nil, err
	}
	r.adopt(m)
	return m, nil
}

func (r *Room) adopt(m *preview.Model) {
	classes := ClassifyGraph(m.Graph())

	r.mu.Lock()
	if r.closed || (r.model != nil && r.model.Generation > m.Generation) {
		r.mu.Unlock()
		return
	}
	r.model = m
	r.classes = classes
	for surface, url := range r.surfaces {
		if url != "" {
			r.bindSurfaceLocked(surface, url)
		}
	}
	r.mu.Unlock()

	counts := make(map[Surface]int)
	for _, s := range classes {
		counts[s]++
	}
	r.log.Info("room loaded",
		zap.Int("walls", counts[Wall]),
		zap.Int("floors", counts[Floor]),
		zap.Int("unclassified", counts[Unclassified]),
		zap.Bool("placeholder", m.Failed()),
	)
	r.store.Publish(Event{Type: EventRoomLoaded, Message: m.Message()})
}

// Model returns the committed room model, or nil.
func (r *Room) Model() *preview.Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model
}

// SurfaceOf returns how the room mesh m was classified.
func (r *Room) SurfaceOf(m *models.Mesh) Surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.classes[m]
}

// SetRoomTexture selects the texture for every room mesh classified as
// surface and binds it in the background. An empty url restores the
// default material.
func (r *Room) SetRoomTexture(surface Surface, url string) error {
	if surface != Wall && surface != Floor {
		return fmt.Errorf("scene: cannot texture %s surfaces", surface)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.surfaces[surface] = url
	if r.model != nil {
		r.bindSurfaceLocked(surface, url)
	}
	return nil
}

// RoomTexture returns the selected texture of surface.
func (r *Room) RoomTexture(surface Surface) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surfaces[surface]
}

func (r *Room) bindSurfaceLocked(surface Surface, url string) {
	g := r.model.Graph()
	classes := r.classes
	only := func(m *models.Mesh) bool { return classes[m] == surface }
	p := r.binder.Start(r.ctx, g, url, binder.WithFilter(surface.String(), only))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res, err := p.Wait()
		if err != nil {
			r.bindFailed(err, zap.Stringer("surface", surface), zap.String("url", url))
			return
		}
		r.mu.Lock()
		live := r.model != nil && r.model.Graph() == g
		r.mu.Unlock()
		if !live {
			// The room model was replaced while binding.
			g.Dispose()
			return
		}
		r.store.Publish(Event{Type: EventRoomTextureApplied, Surface: surface, URL: url, Fallback: res.Fallback})
	}()
}

func (r *Room) bindFailed(err error, fields ...zap.Field) {
	if errors.Is(err, resource.ErrStale) || errors.Is(err, context.Canceled) {
		return
	}
	r.log.Warn("bind failed", append(fields, zap.Error(err))...)
}

// PlaceFurniture adds a copy of item at the origin with unit scale, selects
// it and returns its new id.
func (r *Room) PlaceFurniture(item *Item) InstanceID {
	g := item.Graph.Clone()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		g.Dispose()
		return 0
	}
	r.nextID++
	ctx, cancel := context.WithCancel(r.ctx)
	p := &placed{
		Instance: Instance{
			ID:     r.nextID,
			ItemID: item.ID,
			Scale:  math3d.One3(),
		},
		graph:  g,
		ctx:    ctx,
		cancel: cancel,
	}
	r.instances = append(r.instances, p)
	r.selected = p.ID
	r.mu.Unlock()

	r.log.Debug("furniture placed", zap.Uint64("id", uint64(p.ID)), zap.String("item", item.ID))
	r.store.Publish(Event{Type: EventPlaced, Instance: p.ID})
	r.store.Publish(Event{Type: EventSelected, Instance: p.ID})
	return p.ID
}

func (r *Room) findLocked(id InstanceID) (int, *placed) {
	i := slices.IndexFunc(r.instances, func(p *placed) bool { return p.ID == id })
	if i < 0 {
		return -1, nil
	}
	return i, r.instances[i]
}

// SelectInstance selects id, or clears the selection when id is 0 or not
// in the room.
func (r *Room) SelectInstance(id InstanceID) {
	r.mu.Lock()
	if _, p := r.findLocked(id); p == nil {
		id = 0
	}
	changed := r.selected != id
	r.selected = id
	r.mu.Unlock()

	if changed {
		r.store.Publish(Event{Type: EventSelected, Instance: id})
	}
}

// Selected returns the selected instance id, or 0.
func (r *Room) Selected() InstanceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// MoveInstance sets the position and rotation of id. Unknown ids are
// ignored.
func (r *Room) MoveInstance(id InstanceID, position, rotation math3d.Vec3) {
	if !position.IsFinite() || !rotation.IsFinite() {
		return
	}
	r.mu.Lock()
	_, p := r.findLocked(id)
	if p != nil {
		p.Position = position
		p.Rotation = rotation
	}
	r.mu.Unlock()

	if p != nil {
		r.store.Publish(Event{Type: EventMoved, Instance: id})
	}
}

// ScaleInstance sets the scale of id. Unknown ids are ignored.
func (r *Room) ScaleInstance(id InstanceID, scale math3d.Vec3) error {
	if !scale.IsFinite() || scale.X <= 0 || scale.Y <= 0 || scale.Z <= 0 {
		return ErrInvalidScale
	}
	r.mu.Lock()
	_, p := r.findLocked(id)
	if p != nil {
		p.Scale = scale
	}
	r.mu.Unlock()

	if p != nil {
		r.store.Publish(Event{Type: EventMoved, Instance: id})
	}
	return nil
}

// SetInstanceTexture selects url for id and binds it to that instance only,
// in the background. OnTextureApplied fires when the bind lands. Unknown ids
// are ignored.
func (r *Room) SetInstanceTexture(id InstanceID, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, p := r.findLocked(id); p != nil {
		p.TextureURL = url
		r.bindInstanceLocked(p, url)
	}
}

func (r *Room) bindInstanceLocked(p *placed, url string) {
	pend := r.binder.Start(p.ctx, p.graph, url)
	id, g := p.ID, p.graph

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res, err := pend.Wait()
		if err != nil {
			r.bindFailed(err, zap.Uint64("instance", uint64(id)), zap.String("url", url))
			return
		}
		r.mu.Lock()
		_, cur := r.findLocked(id)
		r.mu.Unlock()
		if cur == nil {
			// Deleted while binding.
			g.Dispose()
			return
		}
		if r.onTexture != nil {
			r.onTexture(id, url)
		}
		r.store.Publish(Event{Type: EventTextureApplied, Instance: id, URL: url, Fallback: res.Fallback})
	}()
}

// DeleteInstance removes id from the room, cancels its pending binds and
// releases its materials. Deleting the selected instance clears the
// selection.
func (r *Room) DeleteInstance(id InstanceID) {
	r.mu.Lock()
	i, p := r.findLocked(id)
	if p == nil {
		r.mu.Unlock()
		return
	}
	r.instances = slices.Delete(r.instances, i, i+1)
	deselected := r.selected == id
	if deselected {
		r.selected = 0
	}
	r.mu.Unlock()

	r.release(p)
	r.store.Publish(Event{Type: EventDeleted, Instance: id})
	if deselected {
		r.store.Publish(Event{Type: EventSelected})
	}
}

func (r *Room) release(p *placed) {
	p.cancel()
	r.binder.Forget(p.graph)
	p.graph.Dispose()
}

// Instance returns a snapshot of id.
func (r *Room) Instance(id InstanceID) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, p := r.findLocked(id); p != nil {
		return p.Instance, true
	}
	return Instance{}, false
}

// Instances returns snapshots of every instance in placement order.
func (r *Room) Instances() []Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Instance, len(r.instances))
	for i, p := range r.instances {
		out[i] = p.Instance
	}
	return out
}

// InstanceGraph returns the graph owned by id.
func (r *Room) InstanceGraph(id InstanceID) *models.SceneGraph {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, p := r.findLocked(id); p != nil {
		return p.graph
	}
	return nil
}

// Drawables returns the room model followed by every instance.
func (r *Room) Drawables() []Drawable {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Drawable, 0, len(r.instances)+1)
	if r.model != nil {
		out = append(out, Drawable{Graph: r.model.Graph(), World: math3d.Identity()})
	}
	for _, p := range r.instances {
		out = append(out, Drawable{
			Instance:  p.ID,
			Graph:     p.graph,
			World:     p.World(),
			Highlight: p.ID == r.selected,
		})
	}
	return out
}

// RemoveTexture drops the catalog texture id and rebinds every instance and
// room surface that used it to the default material. It reports whether the
// texture was in the catalog.
func (r *Room) RemoveTexture(id string) bool {
	if r.catalog == nil {
		return false
	}
	d, ok := r.catalog.Remove(id)
	if !ok {
		return false
	}
	r.binder.Cache().Evict(d.URL)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.instances {
		if p.TextureURL == d.URL {
			p.TextureURL = ""
			r.bindInstanceLocked(p, "")
		}
	}
	for surface, url := range r.surfaces {
		if url == d.URL {
			r.surfaces[surface] = ""
			if r.model != nil {
				r.bindSurfaceLocked(surface, "")
			}
		}
	}
	return true
}

// Wait blocks until every background bind has finished.
func (r *Room) Wait() {
	r.wg.Wait()
}

// Close cancels background binds and releases the room model and every
// instance.
func (r *Room) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	instances := r.instances
	r.instances = nil
	r.selected = 0
	r.model = nil
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	var arena resource.Arena
	arena.Defer(r.slot.Close)
	for _, p := range instances {
		arena.Defer(func() error {
			r.release(p)
			return nil
		})
	}
	return arena.Dispose()
}
