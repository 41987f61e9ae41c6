package binder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taigrr/roomview/pkg/material"
	"github.com/taigrr/roomview/pkg/math3d"
	"github.com/taigrr/roomview/pkg/models"
	"github.com/taigrr/roomview/pkg/resource"
)

var errNotFound = errors.New("404 not found")

func pngBytes(c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// fakeFetcher serves PNGs for known URLs and counts requests.
type fakeFetcher struct {
	files map[string][]byte
	calls atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: map[string][]byte{
		"oak.png":    pngBytes(color.RGBA{R: 120, G: 80, B: 40, A: 255}),
		"marble.png": pngBytes(color.RGBA{R: 240, G: 240, B: 240, A: 255}),
		"tile.png":   pngBytes(color.RGBA{R: 10, G: 90, B: 160, A: 255}),
		"text.png":   []byte("<html>not an image</html>"),
	}}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	data, ok := f.files[url]
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}

func room() *models.SceneGraph {
	wall := models.NewMesh("Wall_North")
	floor := models.NewMesh("Floor")
	root := models.NewNode("room")
	root.Meshes = []*models.Mesh{wall, floor}
	return models.NewSceneGraph(root)
}

func materials(g *models.SceneGraph) map[string]*material.Material {
	out := make(map[string]*material.Material)
	g.View(func(root *models.Node) {
		models.Walk(root, func(m *models.Mesh, _ math3d.Mat4) { out[m.Name] = m.Material })
	})
	return out
}

func isWall(m *models.Mesh) bool  { return m.Name == "Wall_North" }
func isFloor(m *models.Mesh) bool { return m.Name == "Floor" }

func TestBindTexture(t *testing.T) {
	b := New(newFakeFetcher())
	g := room()
	before := materials(g)

	res, err := b.Bind(context.Background(), g, "oak.png")
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, 2, res.Meshes)
	assert.Equal(t, 2, res.Disposed)

	for name, m := range materials(g) {
		assert.Equal(t, "oak.png", m.TextureURL(), name)
		assert.True(t, m.DoubleSided)
		assert.InDelta(t, material.DefaultRoughness, m.Roughness, 1e-12)
		assert.InDelta(t, material.DefaultMetalness, m.Metalness, 1e-12)
	}
	for name, m := range before {
		assert.True(t, m.Disposed(), "%s: replaced material must be disposed", name)
	}
}

func TestBindEmptyURLUsesDefault(t *testing.T) {
	b := New(newFakeFetcher())
	g := room()
	_, err := b.Bind(context.Background(), g, "oak.png")
	require.NoError(t, err)
	textured := materials(g)["Floor"]

	res, err := b.Bind(context.Background(), g, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Disposed, "shared texture material released once")
	assert.True(t, textured.Disposed())
	assert.True(t, textured.Texture.Disposed())
	for _, m := range materials(g) {
		assert.True(t, m.IsDefault())
	}
}

func TestBindFallsBackOnFailure(t *testing.T) {
	for _, url := range []string{"missing.png", "text.png"} {
		t.Run(url, func(t *testing.T) {
			b := New(newFakeFetcher())
			g := room()

			res, err := b.Bind(context.Background(), g, url)
			require.NoError(t, err, "texture failures are never surfaced")
			assert.True(t, res.Fallback)
			assert.Error(t, res.Err)
			assert.Equal(t, 2, res.Meshes)
			for _, m := range materials(g) {
				assert.True(t, m.IsDefault())
			}
		})
	}
}

func TestBindDecodeErrorType(t *testing.T) {
	b := New(newFakeFetcher())
	res, err := b.Bind(context.Background(), room(), "text.png")
	require.NoError(t, err)

	var de *material.DecodeError
	assert.True(t, errors.As(res.Err, &de))
}

func TestStaleBindIsDiscarded(t *testing.T) {
	f := newFakeFetcher()
	started := make(chan struct{})
	release := make(chan struct{})
	slow := FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		if url == "oak.png" {
			close(started)
			<-release // resolves late, ignoring cancellation
		}
		return f.Fetch(ctx, url)
	})
	b := New(slow)
	g := room()

	var wg sync.WaitGroup
	var staleErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, staleErr = b.Bind(context.Background(), g, "oak.png")
	}()
	<-started

	res, err := b.Bind(context.Background(), g, "marble.png")
	require.NoError(t, err)
	assert.Equal(t, "marble.png", res.URL)

	close(release)
	wg.Wait()
	assert.ErrorIs(t, staleErr, resource.ErrStale)

	for _, m := range materials(g) {
		assert.Equal(t, "marble.png", m.TextureURL(), "older generation must not overwrite newer")
	}
}

func TestSupersededBindIsCancelled(t *testing.T) {
	started := make(chan struct{})
	blocking := FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		if url == "oak.png" {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return newFakeFetcher().Fetch(ctx, url)
	})
	b := New(blocking)
	g := room()

	errc := make(chan error, 1)
	go func() {
		_, err := b.Bind(context.Background(), g, "oak.png")
		errc <- err
	}()
	<-started

	_, err := b.Bind(context.Background(), g, "tile.png")
	require.NoError(t, err)
	assert.ErrorIs(t, <-errc, resource.ErrStale)
	assert.Equal(t, 1, b.Cache().Len(), "cancelled loads are not cached")
}

func TestFilteredBinds(t *testing.T) {
	b := New(newFakeFetcher())
	g := room()
	ctx := context.Background()

	_, err := b.Bind(ctx, g, "oak.png")
	require.NoError(t, err)
	shared := materials(g)["Wall_North"]

	res, err := b.Bind(ctx, g, "marble.png", WithFilter("wall", isWall))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Meshes)
	assert.Equal(t, 0, res.Disposed, "floor still uses the shared material")
	assert.False(t, shared.Disposed())

	res, err = b.Bind(ctx, g, "tile.png", WithFilter("floor", isFloor))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Disposed)
	assert.True(t, shared.Disposed())

	mats := materials(g)
	assert.Equal(t, "marble.png", mats["Wall_North"].TextureURL())
	assert.Equal(t, "tile.png", mats["Floor"].TextureURL())
}

func TestFilterKeysAreIndependent(t *testing.T) {
	release := make(chan struct{})
	f := newFakeFetcher()
	gated := FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		if url == "oak.png" {
			<-release
		}
		return f.Fetch(ctx, url)
	})
	b := New(gated)
	g := room()

	errc := make(chan error, 1)
	go func() {
		_, err := b.Bind(context.Background(), g, "oak.png", WithFilter("wall", isWall))
		errc <- err
	}()

	_, err := b.Bind(context.Background(), g, "tile.png", WithFilter("floor", isFloor))
	require.NoError(t, err)
	close(release)
	require.NoError(t, <-errc, "a floor bind does not supersede a wall bind")

	mats := materials(g)
	assert.Equal(t, "oak.png", mats["Wall_North"].TextureURL())
	assert.Equal(t, "tile.png", mats["Floor"].TextureURL())
}

func TestForgetCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	blocking := FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	b := New(blocking)
	g := room()
	before := materials(g)

	errc := make(chan error, 1)
	go func() {
		_, err := b.Bind(context.Background(), g, "oak.png")
		errc <- err
	}()
	<-started
	b.Forget(g)

	assert.ErrorIs(t, <-errc, resource.ErrStale)
	assert.Equal(t, before, materials(g))
}

func TestCacheGivesEachBindItsOwnTexture(t *testing.T) {
	f := newFakeFetcher()
	b := New(f)
	g1, g2 := room(), room()

	_, err := b.Bind(context.Background(), g1, "oak.png")
	require.NoError(t, err)
	_, err = b.Bind(context.Background(), g2, "oak.png")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load(), "second bind served from cache")

	t1 := materials(g1)["Floor"].Texture
	t2 := materials(g2)["Floor"].Texture
	assert.NotSame(t, t1, t2)

	g1.Dispose()
	assert.False(t, t2.Disposed())

	b.Cache().Evict("oak.png")
	require.NoError(t, b.Load(context.Background(), "oak.png"))
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCacheDisposesLosingLoad(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	winner := material.NewTexture(2, 2)
	loser := material.NewTexture(2, 2)

	// The outer load finishes after an inner load of the same URL has
	// already filled the entry.
	got, err := c.resolve(ctx, "oak.png", func(ctx context.Context) (*material.Texture, error) {
		_, err := c.resolve(ctx, "oak.png", func(context.Context) (*material.Texture, error) {
			return winner, nil
		})
		require.NoError(t, err)
		return loser, nil
	})
	require.NoError(t, err)
	assert.True(t, loser.Disposed())
	assert.False(t, winner.Disposed())
	assert.NotSame(t, winner, got)
	assert.Equal(t, 1, c.Len())
}

func TestLoadReportsFailures(t *testing.T) {
	b := New(newFakeFetcher())
	assert.ErrorIs(t, b.Load(context.Background(), "missing.png"), errNotFound)
	assert.Error(t, b.Load(context.Background(), "text.png"))
}

func TestStartKeepsCallOrder(t *testing.T) {
	release := make(chan struct{})
	f := newFakeFetcher()
	gated := FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		if url == "oak.png" {
			<-release
		}
		return f.Fetch(ctx, url)
	})
	b := New(gated)
	g := room()

	first := b.Start(context.Background(), g, "oak.png")
	second := b.Start(context.Background(), g, "tile.png")

	res, err := second.Wait()
	require.NoError(t, err)
	assert.Equal(t, "tile.png", res.URL)

	close(release)
	<-first.Done()
	_, err = first.Wait()
	assert.ErrorIs(t, err, resource.ErrStale)
	for _, m := range materials(g) {
		assert.Equal(t, "tile.png", m.TextureURL())
	}
}
