package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/tracehost/config"
	"github.com/wippyai/tracehost/loader"
	"github.com/wippyai/tracehost/render"
	"github.com/wippyai/tracehost/runtime"
)

// workerGrace bounds how long a headless run waits for workers at exit.
const workerGrace = 5 * time.Second

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to the guest wasm module (overrides guest.path)")
		configFile  = flag.String("config", "", "Path to a YAML configuration file")
		loadTarget  = flag.String("load", "", "Trace to load at startup: file path, http(s) or ws(s) URL")
		frames      = flag.Int("frames", 120, "Frames to run in headless mode")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		threads     = flag.Bool("threads", false, "Enable shared memory and worker threads")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn or error")
		logFile     = flag.String("log-file", "", "Write logs to this file (interactive mode logs nowhere otherwise)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *wasmFile != "" {
		cfg.Guest.Path = *wasmFile
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "threads" {
			cfg.Runtime.Threads = *threads
		}
	})

	if cfg.Guest.Path == "" {
		fmt.Fprintln(os.Stderr, "Usage: ztrace -wasm <viewer.wasm> [-load trace.json.gz] [-frames N]")
		fmt.Fprintln(os.Stderr, "       ztrace -wasm <viewer.wasm> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       ztrace -config ztrace.yaml")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log, *logFile, *interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *interactive {
		err = runInteractive(ctx, cfg, logger, *loadTarget)
	} else {
		err = run(ctx, cfg, logger, *loadTarget, *frames, os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildLogger logs to stderr in headless mode. The interactive screen owns
// the terminal, so there logs go to logFile or nowhere.
func buildLogger(cfg config.LogConfig, logFile string, interactive bool) (*zap.Logger, error) {
	switch {
	case logFile != "":
		return cfg.Build(logFile)
	case interactive:
		return zap.NewNop(), nil
	default:
		return cfg.Build()
	}
}

// startRuntime compiles the guest, instantiates it and calls init.
func startRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, sink render.Sink, width, height int, opts ...runtime.Option) (*runtime.Runtime, error) {
	wasm, err := os.ReadFile(cfg.Guest.Path)
	if err != nil {
		return nil, fmt.Errorf("read guest: %w", err)
	}
	var font []byte
	if cfg.Guest.FontPath != "" {
		if font, err = os.ReadFile(cfg.Guest.FontPath); err != nil {
			return nil, fmt.Errorf("read font: %w", err)
		}
	}

	opts = append([]runtime.Option{
		runtime.WithConfig(cfg),
		runtime.WithSink(sink),
		runtime.WithLogger(logger),
	}, opts...)
	rt, err := runtime.New(ctx, wasm, opts...)
	if err != nil {
		return nil, fmt.Errorf("load guest: %w", err)
	}

	err = rt.Start(ctx, runtime.InitParams{
		Font:       font,
		Width:      uint32(width),
		Height:     uint32(height),
		PixelRatio: cfg.Guest.PixelRatio,
		FontSize:   cfg.Guest.FontSize,
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("start guest: %w", err), rt.Close(ctx))
	}
	return rt, nil
}

func openSource(ctx context.Context, cfg *config.Config, target string) (loader.Source, error) {
	return loader.Open(ctx, target, loader.Options{
		ChunkSize: cfg.Loader.ChunkSize,
		Prefetch:  cfg.Loader.Prefetch,
		Timeout:   cfg.Loader.Timeout,
	})
}

// run drives the guest for a fixed number of frames without a display and
// prints what it drew.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, target string, frames int, out io.Writer) (err error) {
	rec := render.NewRecorder()
	rt, err := startRuntime(ctx, cfg, logger, rec, cfg.Display.Width, cfg.Display.Height)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rt.Close(context.WithoutCancel(ctx))) }()

	drv := runtime.NewDriver(rt.Primary(), cfg.Display.FrameRate)
	if target != "" {
		src, err := openSource(ctx, cfg, target)
		if err != nil {
			return fmt.Errorf("open %s: %w", target, err)
		}
		drv.Post(runtime.LoadEvent{Source: src})
	}

	start := time.Now()
	runErr := drv.RunFrames(ctx, frames)

	waitCtx, cancel := context.WithTimeout(ctx, workerGrace)
	defer cancel()
	waitErr := rt.Spawner().Wait(waitCtx)

	printSummary(out, rt, drv, rec, time.Since(start))
	return multierr.Combine(runErr, waitErr)
}

func printSummary(out io.Writer, rt *runtime.Runtime, drv *runtime.Driver, rec *render.Recorder, elapsed time.Duration) {
	inst := rt.Primary()
	stats := rec.Stats()

	fmt.Fprintf(out, "Guest:     %s\n", inst.Name())
	fmt.Fprintf(out, "Frames:    %d in %s\n", drv.Frames(), elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "Commands:  %d (%d draws, %d triangles, %d uploads)\n",
		stats.Commands, stats.Draws, stats.Triangles, stats.Uploads)
	fmt.Fprintf(out, "Textures:  %d live, %d created\n", stats.LiveTextures, stats.TexturesTotal)
	fmt.Fprintf(out, "Handles:   %d live\n", inst.Table().Len())

	if stubs := rt.Stubs(); len(stubs) > 0 {
		fmt.Fprintf(out, "Stubs:     %d imports bound to traps\n", len(stubs))
	}

	p := inst.Loader().Progress()
	if p.Name != "" {
		enc := p.Encoding
		if enc == "" {
			enc = "identity"
		}
		fmt.Fprintf(out, "Load:      %s %s (%s), %d raw bytes, %d bytes in %d chunks\n",
			p.Name, p.State, enc, p.Underlying, p.Logical, p.Chunks)
		if p.Err != nil {
			fmt.Fprintf(out, "Load err:  %v\n", p.Err)
		}
	}
	if err := inst.Err(); err != nil {
		fmt.Fprintf(out, "Aborted:   %v\n", err)
	}
}
