package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benoitkugler/okcanvas/client"
	"github.com/benoitkugler/okcanvas/imageref"
	"github.com/benoitkugler/okcanvas/internal/canvas"
	"github.com/benoitkugler/okcanvas/internal/config"
	"github.com/benoitkugler/okcanvas/internal/logger"
	"github.com/benoitkugler/okcanvas/internal/middleware"
	"github.com/benoitkugler/okcanvas/internal/server"
	"github.com/benoitkugler/okcanvas/internal/tracer"
	"github.com/benoitkugler/okcanvas/scene"
	"github.com/benoitkugler/okcanvas/session"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "config":
		if err := runConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	case "demo":
		if err := runDemo(); err != nil {
			fmt.Fprintf(os.Stderr, "demo: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'canvasd --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`canvasd - canvas builder server

USAGE:
    canvasd [COMMAND] [FLAGS]

COMMANDS:
    config      Validate the configuration and print it
    demo        Draw a sample scene on a running server and export it
                Flags: --server URL (default: http://localhost:3000), --out PATH

    (no command) - Run the server

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional)
    Environment: PORT and CANVAS_* variables override config, .env is loaded`)
}

// flagValue returns the value of --name, given as "--name v" or "--name=v".
func flagValue(name, def string) string {
	for i, arg := range os.Args {
		if arg == "--"+name && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--"+name+"=") {
			return strings.TrimPrefix(arg, "--"+name+"=")
		}
	}
	return def
}

func configPath() string {
	if p := flagValue("config", ""); p != "" {
		return p
	}
	if p := os.Getenv("CANVAS_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Sessions and images
	store := session.NewMemoryStore(cfg.Session.StoreConfig(), log)
	if cfg.Session.SweepSchedule != "" && cfg.Session.TTL > 0 {
		sweeper, err := session.StartSweeper(store, cfg.Session.SweepSchedule)
		if err != nil {
			return fmt.Errorf("session sweeper: %w", err)
		}
		defer sweeper.Stop()
	}
	images := imageref.New(cfg.Images.ResolverConfig(), log)

	// 4. Service and HTTP server
	svc := canvas.NewService(store, images, canvas.ExportConfig{
		Compress: cfg.Export.Compress,
		Author:   cfg.Export.Author,
	}, log)

	srvCfg := server.Config{
		Addr:           cfg.Server.Addr,
		StaticDir:      cfg.Server.StaticDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		MaxConnections: cfg.Server.MaxConnections,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
	}
	if cfg.RateLimit.Enabled {
		srvCfg.RateLimit = middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			CleanupInterval:   cfg.RateLimit.CleanupInterval,
		}
	}
	srv := server.New(svc, srvCfg, log)

	// 5. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func runConfig() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// runDemo draws the sample scene of the documentation: a red
// rectangle, two circles and a caption.
func runDemo() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c := client.New(flagValue("server", "http://localhost:3000"))
	cv, err := c.Initialize(ctx, 800, 600)
	if err != nil {
		return err
	}
	steps := []func() error{
		func() error {
			return cv.Rectangle(ctx, scene.RectangleSpec{X: 10, Y: 10, Width: 50, Height: 50, Color: "#ff0000"})
		},
		func() error { return cv.Circle(ctx, scene.CircleSpec{X: 200, Y: 200, Radius: 80, Color: "gold"}) },
		func() error {
			return cv.Circle(ctx, scene.CircleSpec{X: 260, Y: 220, Radius: 60, Color: "rgba(0, 0, 255, 0.5)"})
		},
		func() error { return cv.Text(ctx, scene.TextSpec{Text: "Hello, canvas", X: 400, Y: 500, FontSize: 32}) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	out := flagValue("out", "canvas-"+cv.ID+".pdf")
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := cv.Export(ctx, f); err != nil {
		return err
	}
	fmt.Printf("session %s: %d commands exported to %s\n", cv.ID, cv.Len(), out)
	return nil
}
