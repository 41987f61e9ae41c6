package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taigrr/roomview/pkg/scene"
)

func TestFetchBinaryAssetSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("glTF-bytes"))
	}))
	defer srv.Close()

	data, err := NewClient().FetchBinaryAsset(context.Background(), srv.URL+"/chair.glb", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, []byte("glTF-bytes"), data)
	assert.Equal(t, "Bearer s3cret", gotAuth)

	_, err = NewClient().Fetch(context.Background(), srv.URL+"/chair.glb")
	require.NoError(t, err)
	assert.Empty(t, gotAuth, "Fetch sends no credentials")
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient().Fetch(context.Background(), srv.URL+"/missing.png")
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Error(), "404")
}

func TestFetchLocalFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "room.obj")
	require.NoError(t, os.WriteFile(path, []byte("v 0 0 0"), 0o644))

	c := NewClient()
	for _, ref := range []string{path, "file://" + path} {
		data, err := c.Fetch(context.Background(), ref)
		require.NoError(t, err, ref)
		assert.Equal(t, "v 0 0 0", string(data))
	}

	_, err := c.Fetch(context.Background(), filepath.Join(dir, "nope.obj"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFetchRejects(t *testing.T) {
	c := NewClient(WithMaxBytes(4))
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	_, err := c.Fetch(context.Background(), path)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = c.Fetch(context.Background(), "ftp://example.com/a.png")
	assert.Error(t, err)

	_, err = c.Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient().Fetch(ctx, filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPCatalog(t *testing.T) {
	var gotPath, gotKind string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKind = r.URL.Query().Get("kind")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": "oak", "url": "/files/oak.jpg", "name": "Oak", "kind": "floor"},
			{"id": "slate", "url": "https://cdn.example/slate.jpg", "name": "Slate"},
			{"id": "paint", "url": "/files/paint.jpg", "name": "Paint", "kind": "wall"}
		]`))
	}))
	defer srv.Close()

	cat := &HTTPCatalog{Client: NewClient(), BaseURL: srv.URL + "/api"}
	descs, err := cat.FetchTextureCatalog(context.Background(), "living-room", scene.KindFloor)
	require.NoError(t, err)

	assert.Equal(t, "/api/scenes/living-room/textures", gotPath)
	assert.Equal(t, "floor", gotKind)
	require.Len(t, descs, 2, "records of other kinds are dropped")
	assert.Equal(t, srv.URL+"/files/oak.jpg", descs[0].URL)
	assert.Equal(t, scene.KindFloor, descs[1].Kind, "missing kind defaults to the requested one")
	assert.Equal(t, "https://cdn.example/slate.jpg", descs[1].URL)
}

func TestManifestCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
textures:
  - id: oak
    name: Oak planks
    url: textures/oak.jpg
    kind: floor
  - id: bath-tile
    name: Bath tile
    url: https://cdn.example/tile.png
    kind: floor
    scenes: [bathroom]
  - id: plaster
    name: Plaster
    url: textures/plaster.png
    kind: wall
`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	floors, err := m.FetchTextureCatalog(context.Background(), "living-room", scene.KindFloor)
	require.NoError(t, err)
	require.Len(t, floors, 1)
	assert.Equal(t, "oak", floors[0].ID)
	assert.Equal(t, filepath.Join(dir, "textures", "oak.jpg"), floors[0].URL)

	floors, err = m.FetchTextureCatalog(context.Background(), "bathroom", scene.KindFloor)
	require.NoError(t, err)
	assert.Len(t, floors, 2)
	assert.Equal(t, "https://cdn.example/tile.png", floors[1].URL)

	walls, err := m.FetchTextureCatalog(context.Background(), "", scene.KindWall)
	require.NoError(t, err)
	require.Len(t, walls, 1)
	assert.Equal(t, "Plaster", walls[0].Name)
}

func TestManifestRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("textures:\n  - id: x\n    url: x.png\n    kind: ceiling\n"), 0o644))
	_, err := LoadManifest(path)
	assert.Error(t, err)
}
