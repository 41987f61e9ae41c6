// Package config handles viewer configuration loading and management.
package config

import (
	"fmt"
	"image/color"
	"time"

	"github.com/taigrr/roomview/pkg/normalize"
)

// Config holds all viewer settings.
type Config struct {
	Viewer    ViewerConfig      `yaml:"viewer"`
	Assets    AssetsConfig      `yaml:"assets"`
	Room      RoomConfig        `yaml:"room"`
	Catalog   CatalogConfig     `yaml:"catalog"`
	Furniture []FurnitureConfig `yaml:"furniture"`
	Logging   LoggingConfig     `yaml:"logging"`
}

// FurnitureConfig is one item placed when the viewer starts.
type FurnitureConfig struct {
	Model      string               `yaml:"model"`
	Name       string               `yaml:"name"`
	Dimensions normalize.Dimensions `yaml:"dimensions"`
	Texture    string               `yaml:"texture"`
	Position   *[3]float64          `yaml:"position"` // floor placement when set
	RotationY  float64              `yaml:"rotation_y"`
}

// ViewerConfig holds display and rendering settings.
type ViewerConfig struct {
	Width      int     `yaml:"width"`  // snapshot width in pixels, terminal size when 0
	Height     int     `yaml:"height"` // snapshot height in pixels
	FPS        int     `yaml:"fps"`
	Background string  `yaml:"background"`  // #rrggbb
	AutoRotate float64 `yaml:"auto_rotate"` // radians per second
	ShowGrid   bool    `yaml:"show_grid"`
	Continuous bool    `yaml:"continuous"`
}

// AssetsConfig holds settings for fetching models and textures.
type AssetsConfig struct {
	AuthToken      string        `yaml:"auth_token"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBytes       int64         `yaml:"max_bytes"`
	MaxTextureSize int           `yaml:"max_texture_size"`
	CatalogURL     string        `yaml:"catalog_url"` // texture catalog service base URL
	SceneID        string        `yaml:"scene_id"`
}

// RoomConfig describes the room model and its real-world size.
type RoomConfig struct {
	Model        string               `yaml:"model"`
	Dimensions   normalize.Dimensions `yaml:"dimensions"`
	WallTexture  string               `yaml:"wall_texture"`
	FloorTexture string               `yaml:"floor_texture"`
}

// CatalogConfig holds the local texture catalog settings.
type CatalogConfig struct {
	Manifest string `yaml:"manifest"` // YAML manifest path, overrides CatalogURL
	Preload  int    `yaml:"preload"`  // concurrent texture preloads, 0 = off
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Viewer: ViewerConfig{
			Width:      960,
			Height:     540,
			FPS:        30,
			Background: "#1e1e28",
			AutoRotate: 0,
			ShowGrid:   true,
		},
		Assets: AssetsConfig{
			Timeout:        60 * time.Second,
			MaxBytes:       256 << 20,
			MaxTextureSize: 1024,
			SceneID:        "default",
		},
		Room: RoomConfig{
			Dimensions: normalize.Dimensions{Width: 4, Height: 2.7, Length: 5},
		},
		Catalog: CatalogConfig{
			Preload: 4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// BackgroundColor parses Viewer.Background.
func (c *Config) BackgroundColor() (color.RGBA, error) {
	var r, g, b uint8
	if _, err := fmt.Sscanf(c.Viewer.Background, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, fmt.Errorf("background %q: want #rrggbb", c.Viewer.Background)
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// Validate rejects settings the viewer cannot run with.
func (c *Config) Validate() error {
	if c.Viewer.FPS <= 0 || c.Viewer.FPS > 240 {
		return fmt.Errorf("viewer.fps %d out of range 1-240", c.Viewer.FPS)
	}
	if c.Viewer.Width < 0 || c.Viewer.Height < 0 {
		return fmt.Errorf("viewer size %dx%d is negative", c.Viewer.Width, c.Viewer.Height)
	}
	if c.Assets.Timeout < 0 {
		return fmt.Errorf("assets.timeout %v is negative", c.Assets.Timeout)
	}
	if c.Assets.MaxTextureSize < 0 {
		return fmt.Errorf("assets.max_texture_size %d is negative", c.Assets.MaxTextureSize)
	}
	for i, f := range c.Furniture {
		if f.Model == "" {
			return fmt.Errorf("furniture[%d]: model is required", i)
		}
	}
	if _, err := c.BackgroundColor(); err != nil {
		return fmt.Errorf("viewer.%w", err)
	}
	return nil
}
