// Command hush finds sample-accurate silence boundaries in audio.
//
// Usage:
//
//	hush [-config hush.yaml] analyze [-format text|json|jsonl] [-j N] files...
//	hush [-config hush.yaml] serve
//	hush [-config hush.yaml] describe
//
// serve watches the config file and applies log level, detector and stream
// changes without a restart. SIGHUP forces an immediate reread.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/hush/internal/analyze"
	"github.com/MrWong99/hush/internal/app"
	"github.com/MrWong99/hush/internal/config"
	"github.com/MrWong99/hush/internal/observe"
	"github.com/MrWong99/hush/internal/server"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds graceful shutdown of the server.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fset := flag.NewFlagSet("hush", flag.ContinueOnError)
	fset.SetOutput(stderr)
	configPath := fset.String("config", "hush.yaml", "path to the YAML configuration file")
	fset.Usage = func() {
		fmt.Fprintln(stderr, "usage: hush [-config path] <analyze|serve|describe> [flags] [args]")
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return 2
	}
	if fset.NArg() == 0 {
		fset.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, found, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "hush: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(stderr, level))
	if !found {
		slog.Debug("config file not found, using defaults", "config", *configPath)
	}

	cmd, rest := fset.Arg(0), fset.Args()[1:]
	switch cmd {
	case "analyze":
		return runAnalyze(cfg, rest, stdout, stderr)
	case "describe":
		return runDescribe(cfg, stdout, stderr)
	case "serve":
		path := *configPath
		if !found {
			path = ""
		}
		return runServe(cfg, path, level)
	default:
		fmt.Fprintf(stderr, "hush: unknown command %q\n", cmd)
		fset.Usage()
		return 2
	}
}

// loadConfig loads path, falling back to the defaults when the file does not
// exist. found reports whether the file was read.
func loadConfig(path string) (cfg *config.Config, found bool, err error) {
	cfg, err = config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// ── analyze ───────────────────────────────────────────────────────────────────

func runAnalyze(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fset := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fset.SetOutput(stderr)
	format := fset.String("format", string(analyze.FormatText), "output format: text, json or jsonl")
	jobs := fset.Int("j", runtime.NumCPU(), "number of files analysed concurrently")
	threshold := fset.Float64("threshold", cfg.Detector.ThresholdDB, "silence threshold in dB")
	step := fset.Int("step", cfg.Detector.StepSize, "frames per analysed block")
	classifier := fset.String("classifier", cfg.Detector.Classifier, "silence classifier")
	refineFirst := fset.Bool("refine-first", cfg.Detector.RefineFirstBlock, "refine signal onset inside the first block")
	if err := fset.Parse(args); err != nil {
		return 2
	}
	if fset.NArg() == 0 {
		fmt.Fprintln(stderr, "hush analyze: no input files")
		return 2
	}

	det := cfg.Detector
	det.ThresholdDB = *threshold
	if *step != det.StepSize {
		det.StepSize = *step
		det.BlockSize = 0
	}
	det.Classifier = *classifier
	det.RefineFirstBlock = *refineFirst

	c, err := config.NewDefaultRegistry().CreateClassifier(det)
	if err != nil {
		fmt.Fprintf(stderr, "hush analyze: %v\n", err)
		return 1
	}
	w, err := analyze.NewWriter(stdout, analyze.Format(*format))
	if err != nil {
		fmt.Fprintf(stderr, "hush analyze: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := analyze.New(det, c).Files(ctx, fset.Args(), *jobs)
	if err != nil {
		fmt.Fprintf(stderr, "hush analyze: %v\n", err)
		return 1
	}
	for _, r := range results {
		if err := w.Write(r); err != nil {
			fmt.Fprintf(stderr, "hush analyze: write: %v\n", err)
			return 1
		}
	}
	if err := w.Close(); err != nil {
		fmt.Fprintf(stderr, "hush analyze: write: %v\n", err)
		return 1
	}
	return 0
}

// ── describe ──────────────────────────────────────────────────────────────────

func runDescribe(cfg *config.Config, stdout, stderr io.Writer) int {
	b, err := sonic.ConfigStd.MarshalIndent(server.Describe(cfg.Detector, config.NewDefaultRegistry()), "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "hush describe: %v\n", err)
		return 1
	}
	if _, err := stdout.Write(append(b, '\n')); err != nil {
		return 1
	}
	return 0
}

// ── serve ─────────────────────────────────────────────────────────────────────

// runServe runs the HTTP service until SIGINT or SIGTERM. When configPath is
// set, the file is watched and hot-reloadable changes are applied.
func runServe(cfg *config.Config, configPath string, level *slog.LevelVar) int {
	slog.Info("hush starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		_ = tel.Shutdown(context.Background())
		return 1
	}

	application, err := app.New(cfg,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = tel.Shutdown(context.Background())
		return 1
	}
	application.OnShutdown(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(ctx)
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(_, next *config.Config, d config.ConfigDiff) {
			applyReload(application, level, next, d)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			go watcher.Run(ctx)
			go reloadOnHangup(ctx, watcher)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down", "addr", application.Addr().String())

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// applyReload applies the hot-reloadable part of a config change.
func applyReload(application *app.App, level *slog.LevelVar, next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged || d.DetectorChanged || d.StreamChanged {
		application.Apply(next)
		slog.Info("detector settings reloaded",
			"threshold_db", next.Detector.ThresholdDB,
			"step_size", next.Detector.StepSize,
			"classifier", next.Detector.Classifier,
		)
	}
	for _, key := range d.RestartRequired {
		slog.Warn("config change requires restart", "key", key)
	}
}

// reloadOnHangup rereads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if changed, err := w.Reload(); err == nil && !changed {
				slog.Info("SIGHUP: configuration unchanged")
			}
		}
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
