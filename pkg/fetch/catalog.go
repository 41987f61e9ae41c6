package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/taigrr/roomview/pkg/scene"
)

// HTTPCatalog reads texture catalogs from a JSON API:
//
//	GET {BaseURL}/scenes/{sceneID}/textures?kind={kind}
//
// The response is an array of {id, url, name, kind} records. Relative
// texture URLs are resolved against BaseURL.
type HTTPCatalog struct {
	Client    *Client
	BaseURL   string
	AuthToken string
}

// FetchTextureCatalog implements scene.CatalogSource.
func (c *HTTPCatalog) FetchTextureCatalog(ctx context.Context, sceneID string, kind scene.Kind) ([]scene.TextureDescriptor, error) {
	base, err := url.Parse(strings.TrimSuffix(c.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("catalog base url: %w", err)
	}
	endpoint := base.JoinPath("scenes", sceneID, "textures")
	endpoint.RawQuery = url.Values{"kind": {string(kind)}}.Encode()

	data, err := c.Client.FetchBinaryAsset(ctx, endpoint.String(), c.AuthToken)
	if err != nil {
		return nil, err
	}
	var descs []scene.TextureDescriptor
	if err := json.Unmarshal(data, &descs); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	out := descs[:0]
	for _, d := range descs {
		if d.Kind == "" {
			d.Kind = kind
		}
		if d.Kind != kind || d.URL == "" {
			continue
		}
		if ref, err := url.Parse(d.URL); err == nil {
			d.URL = base.ResolveReference(ref).String()
		}
		out = append(out, d)
	}
	return out, nil
}

// Manifest is a YAML texture catalog kept next to the models:
//
//	textures:
//	  - id: oak
//	    name: Oak planks
//	    url: textures/oak.jpg
//	    kind: floor
//	    scenes: [living-room]
//
// Entries without scenes belong to every scene. Relative URLs resolve
// against the manifest's directory.
type Manifest struct {
	Textures []ManifestEntry `yaml:"textures"`

	dir string
}

// ManifestEntry is one texture in a Manifest.
type ManifestEntry struct {
	scene.TextureDescriptor `yaml:",inline"`
	Scenes                  []string `yaml:"scenes,omitempty"`
}

// LoadManifest reads a YAML manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.dir = filepath.Dir(path)
	for i, e := range m.Textures {
		if e.ID == "" {
			return nil, fmt.Errorf("manifest entry %d: missing id", i)
		}
		if _, err := scene.ParseKind(string(e.Kind)); err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", e.ID, err)
		}
	}
	return &m, nil
}

// FetchTextureCatalog implements scene.CatalogSource.
func (m *Manifest) FetchTextureCatalog(ctx context.Context, sceneID string, kind scene.Kind) ([]scene.TextureDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []scene.TextureDescriptor
	for _, e := range m.Textures {
		if e.Kind != kind {
			continue
		}
		if len(e.Scenes) > 0 && sceneID != "" && !slices.Contains(e.Scenes, sceneID) {
			continue
		}
		d := e.TextureDescriptor
		d.URL = m.resolve(d.URL)
		out = append(out, d)
	}
	return out, nil
}

func (m *Manifest) resolve(ref string) string {
	if u, err := url.Parse(ref); err == nil && len(u.Scheme) > 1 {
		return ref
	}
	if filepath.IsAbs(ref) || m.dir == "" {
		return ref
	}
	return filepath.Join(m.dir, ref)
}
