package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/taigrr/roomview/internal/config"
	"github.com/taigrr/roomview/internal/logger"
	"github.com/taigrr/roomview/internal/watch"
	"github.com/taigrr/roomview/pkg/binder"
	"github.com/taigrr/roomview/pkg/fetch"
	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
	"github.com/taigrr/roomview/pkg/normalize"
	"github.com/taigrr/roomview/pkg/preview"
	"github.com/taigrr/roomview/pkg/render"
	"github.com/taigrr/roomview/pkg/scene"
)

// session is one viewer run: the asset pipeline, the room and the furniture
// placed from files.
type session struct {
	cfg     *config.Config
	log     *zap.Logger
	client  *fetch.Client
	loader  *models.Loader
	catalog *scene.Catalog
	room    *scene.Room
	bg      render.Color

	mu       sync.Mutex
	roomURL  string
	sources  map[scene.InstanceID]config.FurnitureConfig
	placed   int
	fbWidth  int
	fbHeight int
}

func newSession(ctx context.Context, cfg *config.Config) (*session, error) {
	bg, err := cfg.BackgroundColor()
	if err != nil {
		return nil, err
	}

	client := fetch.NewClient(
		fetch.WithTimeout(cfg.Assets.Timeout),
		fetch.WithMaxBytes(cfg.Assets.MaxBytes),
		fetch.WithLogger(logger.Named("fetch")),
	)
	loader := models.NewLoader(models.WithLogger(logger.Named("models")))
	b := binder.New(client,
		binder.WithLogger(logger.Named("binder")),
		binder.WithMaxTextureSize(cfg.Assets.MaxTextureSize),
		binder.WithCache(binder.NewCache()),
	)
	store := scene.NewStore()

	catOpts := []scene.CatalogOption{
		scene.WithPreloader(b),
		scene.WithCatalogStore(store),
		scene.WithCatalogLogger(logger.Named("catalog")),
	}
	if cfg.Catalog.Preload > 0 {
		catOpts = append(catOpts, scene.WithPreloadWorkers(cfg.Catalog.Preload))
	}
	src, err := catalogSource(cfg, client)
	if err != nil {
		return nil, err
	}
	if src != nil {
		catOpts = append(catOpts, scene.WithSource(src))
	}
	catalog := scene.NewCatalog(cfg.Assets.SceneID, catOpts...)

	s := &session{
		cfg:     cfg,
		log:     logger.Named("viewer"),
		client:  client,
		loader:  loader,
		catalog: catalog,
		bg:      bg,
		sources: make(map[scene.InstanceID]config.FurnitureConfig),
	}
	s.room = scene.NewRoom(b,
		scene.WithStore(store),
		scene.WithCatalog(catalog),
		scene.WithRoomLogger(logger.Named("scene")),
		scene.WithSlotOptions(
			preview.WithSource(client, cfg.Assets.AuthToken),
			preview.WithLoader(loader),
		),
		scene.OnTextureApplied(func(id scene.InstanceID, url string) {
			s.log.Debug("texture applied", zap.Uint64("instance", uint64(id)), zap.String("url", url))
		}),
	)

	if src != nil {
		for _, kind := range scene.Kinds {
			if err := catalog.Refresh(ctx, kind); err != nil {
				s.log.Warn("texture catalog unavailable", zap.String("kind", string(kind)), zap.Error(err))
				continue
			}
			if cfg.Catalog.Preload > 0 {
				go func() {
					if err := catalog.Preload(ctx, kind); err != nil {
						s.log.Debug("preload textures", zap.String("kind", string(kind)), zap.Error(err))
					}
				}()
			}
		}
	}

	if err := s.room.SetRoomTexture(scene.Wall, s.textureURL(cfg.Room.WallTexture)); err != nil {
		return nil, err
	}
	if err := s.room.SetRoomTexture(scene.Floor, s.textureURL(cfg.Room.FloorTexture)); err != nil {
		return nil, err
	}
	return s, nil
}

func catalogSource(cfg *config.Config, client *fetch.Client) (scene.CatalogSource, error) {
	switch {
	case cfg.Catalog.Manifest != "":
		m, err := fetch.LoadManifest(cfg.Catalog.Manifest)
		if err != nil {
			return nil, err
		}
		return m, nil
	case cfg.Assets.CatalogURL != "":
		return &fetch.HTTPCatalog{
			Client:    client,
			BaseURL:   cfg.Assets.CatalogURL,
			AuthToken: cfg.Assets.AuthToken,
		}, nil
	default:
		return nil, nil
	}
}

// textureURL resolves a catalog id to its URL. Anything else is taken as a
// URL.
func (s *session) textureURL(ref string) string {
	if ref == "" {
		return ""
	}
	if d, ok := s.catalog.Lookup(ref); ok {
		return d.URL
	}
	return ref
}

func (s *session) loadRoom(ctx context.Context, url string) error {
	m, err := s.room.LoadRoomURL(ctx, url, s.cfg.Room.Dimensions)
	if err != nil {
		return fmt.Errorf("load room %s: %w", url, err)
	}
	if m.Failed() {
		s.log.Warn("room model unreadable, showing placeholder", zap.String("url", url), zap.String("error", m.Message()))
	}
	s.mu.Lock()
	s.roomURL = url
	s.mu.Unlock()
	return nil
}

var defaultFurniture = normalize.Dimensions{Width: 1, Height: 1, Length: 1}

// place loads fc's model and adds one instance of it to the room.
func (s *session) place(ctx context.Context, fc config.FurnitureConfig) (scene.InstanceID, error) {
	dims := fc.Dimensions
	if dims == (normalize.Dimensions{}) {
		dims = defaultFurniture
	}
	name := fc.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(fc.Model), filepath.Ext(fc.Model))
	}

	var item *scene.Item
	data, err := s.client.FetchBinaryAsset(ctx, fc.Model, s.cfg.Assets.AuthToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, fmt.Errorf("load furniture %s: %w", fc.Model, ctxErr)
		}
		item = scene.PlaceholderItem(fc.Model, name, dims)
		err = &models.ParseError{Reason: "fetch failed", Err: err}
	} else {
		item, err = scene.LoadItem(ctx, s.loader, fc.Model, name, data, dims)
	}
	var perr *models.ParseError
	switch {
	case errors.As(err, &perr):
		s.log.Warn("furniture model unreadable, showing placeholder", zap.String("url", fc.Model), zap.Error(err))
	case err != nil:
		return 0, fmt.Errorf("load furniture %s: %w", fc.Model, err)
	}
	defer item.Dispose()

	id := s.room.PlaceFurniture(item)
	if id == 0 {
		return 0, scene.ErrClosed
	}

	var pos math3d.Vec3
	if fc.Position != nil {
		pos = math3d.V3(fc.Position[0], fc.Position[1], fc.Position[2])
	} else {
		s.mu.Lock()
		pos = s.nextPosition()
		s.mu.Unlock()
	}
	s.room.MoveInstance(id, pos, math3d.V3(0, fc.RotationY, 0))
	if fc.Texture != "" {
		s.room.SetInstanceTexture(id, s.textureURL(fc.Texture))
	}

	s.mu.Lock()
	s.sources[id] = fc
	s.mu.Unlock()
	s.log.Info("placed furniture", zap.String("name", name), zap.Uint64("instance", uint64(id)))
	return id, nil
}

// nextPosition spreads unplaced furniture along X around the room center:
// 0, +1.5, -1.5, +3, ...
func (s *session) nextPosition() math3d.Vec3 {
	n := s.placed
	s.placed++
	step := float64((n+1)/2) * 1.5
	if n%2 == 0 {
		step = -step
	}
	return math3d.V3(step, 0, 0)
}

// reload re-reads a changed model file. Instances of a reloaded furniture
// model keep their transform, texture and selection.
func (s *session) reload(ctx context.Context, path string) {
	s.mu.Lock()
	roomURL := s.roomURL
	var ids []scene.InstanceID
	for id, fc := range s.sources {
		if samePath(fc.Model, path) {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	if samePath(roomURL, path) {
		if err := s.loadRoom(ctx, roomURL); err != nil {
			s.log.Warn("reload room", zap.Error(err))
		}
	}

	for _, id := range ids {
		inst, ok := s.room.Instance(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		fc := s.sources[id]
		s.mu.Unlock()

		pos := inst.Position
		fc.Position = &[3]float64{pos.X, pos.Y, pos.Z}
		fc.RotationY = inst.Rotation.Y
		fc.Texture = inst.TextureURL

		selected := s.room.Selected()
		newID, err := s.place(ctx, fc)
		if err != nil {
			s.log.Warn("reload furniture", zap.String("path", path), zap.Error(err))
			continue
		}
		if err := s.room.ScaleInstance(newID, inst.Scale); err != nil {
			s.log.Debug("restore scale", zap.Error(err))
		}
		s.room.DeleteInstance(id)
		if selected == id {
			selected = newID
		}
		s.room.SelectInstance(selected)

		s.mu.Lock()
		delete(s.sources, id)
		s.mu.Unlock()
	}
}

// watch reloads local model files when they change.
func (s *session) watch(ctx context.Context) error {
	w, err := watch.New(watch.WithLogger(logger.Named("watch")))
	if err != nil {
		return err
	}

	s.mu.Lock()
	paths := []string{s.roomURL}
	for _, fc := range s.sources {
		paths = append(paths, fc.Model)
	}
	s.mu.Unlock()

	var errs error
	for _, p := range paths {
		if local, ok := localPath(p); ok {
			errs = multierr.Append(errs, w.Add(local))
		}
	}
	if errs != nil {
		return multierr.Append(errs, w.Close())
	}

	go func() {
		defer w.Close()
		if err := w.Run(ctx, func(path string) { s.reload(ctx, path) }); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("watcher stopped", zap.Error(err))
		}
	}()
	return nil
}

// localPath returns the file path of a bare path or file:// URL.
func localPath(u string) (string, bool) {
	if rest, ok := strings.CutPrefix(u, "file://"); ok {
		return rest, true
	}
	if strings.Contains(u, "://") || u == "" {
		return "", false
	}
	return u, true
}

func samePath(u, path string) bool {
	local, ok := localPath(u)
	if !ok {
		return false
	}
	abs, err := filepath.Abs(local)
	return err == nil && abs == path
}

// setSize sets the framebuffer size used for new surfaces.
func (s *session) setSize(width, height int) {
	s.mu.Lock()
	s.fbWidth, s.fbHeight = width, height
	s.mu.Unlock()
}

// newController creates a render controller whose surfaces draw the room
// at the session's current size.
func (s *session) newController() (*render.Controller, error) {
	factory := func(remountKey uint64) (render.Surface, error) {
		s.mu.Lock()
		w, h := s.fbWidth, s.fbHeight
		s.mu.Unlock()
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("surface size %dx%d", w, h)
		}
		surf := render.NewSoftwareSurface(w, h)
		surf.Background = s.bg
		surf.ShowGrid = s.cfg.Viewer.ShowGrid
		s.log.Debug("surface created", zap.Uint64("remount_key", remountKey), zap.Int("width", w), zap.Int("height", h))
		return surf, nil
	}
	ctrl, err := render.NewController(factory,
		render.WithControllerLogger(logger.Named("render")),
		render.WithContinuous(s.cfg.Viewer.Continuous),
	)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Submit(s.room); err != nil {
		return nil, multierr.Append(err, ctrl.Close())
	}
	return ctrl, nil
}

// bounds returns the world bounds of everything in the room.
func (s *session) bounds() math3d.Box3 {
	box := math3d.EmptyBox()
	for _, d := range s.room.Drawables() {
		box = box.Union(d.Graph.Bounds().Transform(d.World))
	}
	return box
}

// snapshot renders one frame once every texture is bound and saves it.
func (s *session) snapshot(path string) error {
	s.room.Wait()
	s.setSize(s.cfg.Viewer.Width, s.cfg.Viewer.Height)

	ctrl, err := s.newController()
	if err != nil {
		return err
	}
	defer ctrl.Close()

	cam := render.NewCamera()
	orbit := render.NewOrbit(s.cfg.Viewer.FPS)
	orbit.Frame(s.bounds(), cam)
	orbit.Apply(cam)
	if _, err := ctrl.Frame(cam); err != nil {
		return err
	}

	surf, err := ctrl.Surface()
	if err != nil {
		return err
	}
	soft, ok := surf.(*render.SoftwareSurface)
	if !ok {
		return fmt.Errorf("surface %T cannot be saved", surf)
	}
	if err := soft.Framebuffer().Save(path); err != nil {
		return err
	}
	stats := soft.Stats()
	s.log.Info("snapshot saved",
		zap.String("path", path),
		zap.Int("triangles", stats.TrianglesDrawn),
		zap.Int("culled_meshes", stats.MeshesCulled),
	)
	return nil
}

// Close releases the room and everything placed in it.
func (s *session) Close() error {
	return s.room.Close()
}

// forget drops the reload source of a deleted instance.
func (s *session) forget(id scene.InstanceID) {
	s.mu.Lock()
	delete(s.sources, id)
	s.mu.Unlock()
}

// parseFurnitureArg reads "model" or "model@WxHxL" with sizes in meters.
// A suffix that is not three numbers is part of the model path.
func parseFurnitureArg(arg string) (config.FurnitureConfig, error) {
	fc := config.FurnitureConfig{Model: arg}
	i := strings.LastIndex(arg, "@")
	if i < 0 {
		return fc, nil
	}
	parts := strings.Split(arg[i+1:], "x")
	if len(parts) != 3 {
		return fc, nil
	}
	var dims [3]float64
	for k, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return fc, nil
		}
		if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			return fc, fmt.Errorf("furniture %s: dimensions must be positive", arg)
		}
		dims[k] = f
	}
	fc.Model = arg[:i]
	fc.Dimensions = normalize.Dimensions{Width: dims[0], Height: dims[1], Length: dims[2]}
	return fc, nil
}
