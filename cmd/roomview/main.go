// roomview - Terminal Room Viewer
// Load a room model, texture its walls and floor, and arrange furniture in
// it, rendered in your terminal.
//
// Controls:
//
//	Mouse drag  - Orbit the camera
//	Scroll      - Zoom in/out
//	W/S/A/D     - Orbit pitch and yaw
//	+/-         - Zoom in/out
//	Tab         - Select the next furniture instance
//	Arrows      - Move the selected instance on the floor
//	,/.         - Rotate the selected instance
//	Delete      - Remove the selected instance
//	F           - Frame the room
//	G           - Toggle the floor grid
//	Esc         - Deselect, or quit when nothing is selected
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/taigrr/roomview/internal/config"
	"github.com/taigrr/roomview/internal/logger"
)

var (
	flags        = config.RegisterFlags(flag.CommandLine)
	texture      = flag.String("texture", "", "Texture URL applied to every furniture instance")
	snapshotPath = flag.String("snapshot", "", "Render one frame to this .png or .webp file and exit")
	watchFiles   = flag.Bool("watch", false, "Reload models when their files change")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "roomview - Terminal Room Viewer\n\n")
		fmt.Fprintf(os.Stderr, "Usage: roomview [options] <room.glb|room.obj> [furniture[@WxHxL] ...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nControls:\n")
		fmt.Fprintf(os.Stderr, "  Mouse drag  - Orbit the camera\n")
		fmt.Fprintf(os.Stderr, "  Scroll, +/- - Zoom in/out\n")
		fmt.Fprintf(os.Stderr, "  W/S/A/D     - Orbit pitch and yaw\n")
		fmt.Fprintf(os.Stderr, "  Tab         - Select next instance\n")
		fmt.Fprintf(os.Stderr, "  Arrows      - Move selected instance\n")
		fmt.Fprintf(os.Stderr, "  ,/.         - Rotate selected instance\n")
		fmt.Fprintf(os.Stderr, "  Delete      - Remove selected instance\n")
		fmt.Fprintf(os.Stderr, "  F           - Frame the room\n")
		fmt.Fprintf(os.Stderr, "  G           - Toggle grid\n")
		fmt.Fprintf(os.Stderr, "  Esc         - Deselect / quit\n")
	}
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(flags.Config, flags)
	if err != nil {
		return err
	}

	roomModel := cfg.Room.Model
	args := flag.Args()
	if len(args) > 0 {
		roomModel, args = args[0], args[1:]
	}
	if roomModel == "" {
		flag.Usage()
		return errors.New("no room model given")
	}

	// The terminal viewer owns stdout, so it only logs to a file.
	var console io.Writer
	if *snapshotPath != "" {
		console = os.Stderr
	}
	var fileCfg logger.FileConfig
	if cfg.Logging.LogFile != "" {
		fileCfg = logger.DefaultFileConfig(cfg.Logging.LogFile)
	}
	if err := logger.InitWithFileConfig(cfg.Logging.Level, fileCfg, console); err != nil {
		return err
	}
	defer logger.Sync()

	furniture := cfg.Furniture
	for _, arg := range args {
		fc, err := parseFurnitureArg(arg)
		if err != nil {
			return err
		}
		furniture = append(furniture, fc)
	}
	if *texture != "" {
		for i := range furniture {
			furniture[i].Texture = *texture
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	sess, err := newSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("close session", zap.Error(err))
		}
	}()

	if err := sess.loadRoom(ctx, roomModel); err != nil {
		return err
	}
	for _, fc := range furniture {
		if _, err := sess.place(ctx, fc); err != nil {
			return err
		}
	}

	if *snapshotPath != "" {
		return sess.snapshot(*snapshotPath)
	}

	if *watchFiles {
		if err := sess.watch(ctx); err != nil {
			return err
		}
	}
	return sess.view(ctx)
}
