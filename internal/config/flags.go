package config

import "flag"

// Flags are the command-line overrides for a Config.
type Flags struct {
	Config   string
	Debug    bool
	FPS      int
	Width    int
	Height   int
	Wall     string
	Floor    string
	Manifest string
	Token    string
	Grid     bool
}

// RegisterFlags defines the override flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Config, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.IntVar(&f.FPS, "fps", 0, "Target frames per second")
	fs.IntVar(&f.Width, "width", 0, "Snapshot width in pixels")
	fs.IntVar(&f.Height, "height", 0, "Snapshot height in pixels")
	fs.StringVar(&f.Wall, "wall", "", "Texture URL applied to walls")
	fs.StringVar(&f.Floor, "floor", "", "Texture URL applied to the floor")
	fs.StringVar(&f.Manifest, "manifest", "", "Texture catalog manifest (YAML)")
	fs.StringVar(&f.Token, "token", "", "Bearer token for model downloads")
	fs.BoolVar(&f.Grid, "grid", false, "Draw the floor grid")
	return f
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.FPS > 0 {
		cfg.Viewer.FPS = f.FPS
	}
	if f.Width > 0 {
		cfg.Viewer.Width = f.Width
	}
	if f.Height > 0 {
		cfg.Viewer.Height = f.Height
	}
	if f.Wall != "" {
		cfg.Room.WallTexture = f.Wall
	}
	if f.Floor != "" {
		cfg.Room.FloorTexture = f.Floor
	}
	if f.Manifest != "" {
		cfg.Catalog.Manifest = f.Manifest
	}
	if f.Token != "" {
		cfg.Assets.AuthToken = f.Token
	}
	if f.Grid {
		cfg.Viewer.ShowGrid = true
	}
}
