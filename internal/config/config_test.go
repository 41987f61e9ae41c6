package config

import (
	"flag"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Viewer.FPS != 30 {
		t.Errorf("expected fps 30, got %d", cfg.Viewer.FPS)
	}
	if cfg.Assets.Timeout != 60*time.Second {
		t.Errorf("expected timeout 60s, got %v", cfg.Assets.Timeout)
	}
	if cfg.Assets.MaxTextureSize != 1024 {
		t.Errorf("expected max texture size 1024, got %d", cfg.Assets.MaxTextureSize)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomview.yaml")
	content := `
viewer:
  fps: 60
  background: "#102030"
assets:
  timeout: 15s
  auth_token: secret
room:
  model: rooms/studio.glb
  dimensions:
    width: 3.5
    height: 2.4
    length: 6
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Viewer.FPS != 60 {
		t.Errorf("expected fps 60, got %d", cfg.Viewer.FPS)
	}
	if cfg.Assets.Timeout != 15*time.Second {
		t.Errorf("expected timeout 15s, got %v", cfg.Assets.Timeout)
	}
	if cfg.Assets.AuthToken != "secret" {
		t.Errorf("expected auth token, got %q", cfg.Assets.AuthToken)
	}
	if cfg.Room.Model != "rooms/studio.glb" || cfg.Room.Dimensions.Length != 6 {
		t.Errorf("room = %+v", cfg.Room)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	// Unset values keep their defaults.
	if cfg.Assets.MaxTextureSize != 1024 {
		t.Errorf("expected default max texture size, got %d", cfg.Assets.MaxTextureSize)
	}

	bg, err := cfg.BackgroundColor()
	if err != nil {
		t.Fatalf("background: %v", err)
	}
	if want := (color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 255}); bg != want {
		t.Errorf("background = %v, want %v", bg, want)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomview.yaml")
	if err := os.WriteFile(path, []byte("viewer:\n  fps: 60\nroom:\n  wall_texture: a.png\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fs := flag.NewFlagSet("roomview", flag.ContinueOnError)
	flags := RegisterFlags(fs)
	if err := fs.Parse([]string{"-fps", "12", "-wall", "b.png", "-debug"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Viewer.FPS != 12 {
		t.Errorf("expected fps 12, got %d", cfg.Viewer.FPS)
	}
	if cfg.Room.WallTexture != "b.png" {
		t.Errorf("expected wall b.png, got %s", cfg.Room.WallTexture)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad yaml":       "viewer: [",
		"bad fps":        "viewer:\n  fps: 0\n",
		"bad background": "viewer:\n  background: blue\n",
	}
	for name, content := range tests {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := Load(path, nil); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Room.Model = "room.obj"
	cfg.Assets.Timeout = 5 * time.Second
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Room.Model != "room.obj" {
		t.Errorf("expected model room.obj, got %s", loaded.Room.Model)
	}
	if loaded.Assets.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", loaded.Assets.Timeout)
	}
}

func TestExpandPaths(t *testing.T) {
	home, err := homedir.Dir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	cfg := Default()
	cfg.Room.Model = "~/rooms/studio.glb"
	cfg.Room.WallTexture = "https://cdn.example/~plaster.png"
	cfg.Furniture = []FurnitureConfig{{Model: "~/chair.obj"}}

	if err := cfg.expandPaths(); err != nil {
		t.Fatalf("expandPaths: %v", err)
	}
	if want := filepath.Join(home, "rooms", "studio.glb"); cfg.Room.Model != want {
		t.Errorf("room model = %q, want %q", cfg.Room.Model, want)
	}
	if cfg.Room.WallTexture != "https://cdn.example/~plaster.png" {
		t.Errorf("url changed: %q", cfg.Room.WallTexture)
	}
	if want := filepath.Join(home, "chair.obj"); cfg.Furniture[0].Model != want {
		t.Errorf("furniture model = %q, want %q", cfg.Furniture[0].Model, want)
	}
}
