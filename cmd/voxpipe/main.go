// Command voxpipe is the streaming speech-to-text server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxpipe/voxpipe/internal/config"
	"github.com/voxpipe/voxpipe/internal/health"
	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/internal/server"
	"github.com/voxpipe/voxpipe/internal/store"
	"github.com/voxpipe/voxpipe/internal/stream"
	"github.com/voxpipe/voxpipe/pkg/engine/whispercpp"
	"github.com/voxpipe/voxpipe/pkg/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxpipe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxpipe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxpipe starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"ws_addr", cfg.Server.WSAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxpipe"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// ── Engine ────────────────────────────────────────────────────────────────
	eng, err := whispercpp.New(cfg.Engine.ModelPath,
		whispercpp.WithLanguage(cfg.Engine.Language),
		whispercpp.WithThreads(cfg.Engine.Threads),
	)
	if err != nil {
		slog.Error("failed to load whisper model", "model_path", cfg.Engine.ModelPath, "err", err)
		return 1
	}
	defer eng.Close()

	if cfg.Engine.Warmup {
		if err := eng.Warmup(ctx); err != nil {
			slog.Warn("engine warmup failed", "err", err)
		}
	}

	// ── Dependencies ──────────────────────────────────────────────────────────
	deps := server.Deps{
		Stream:  cfg.Stream,
		Engine:  eng,
		Log:     logger,
		Metrics: metrics,
	}
	if cfg.Stream.Mode == stream.ModeVAD {
		deps.Detector = energy.New()
	}

	var checkers []health.Checker
	if cfg.Store.PostgresDSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to transcript store", "err", err)
			return 1
		}
		st := store.NewResilient(pg, 0, 0)
		defer st.Close()
		deps.Store = st
		checkers = append(checkers, health.Checker{
			Name: "store",
			Check: func(ctx context.Context) error {
				_, err := st.Recent(ctx, 1)
				return err
			},
		})
		slog.Info("transcript store connected")
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.RestartRequired {
			slog.Warn("configuration changed in a way that requires a restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	// ── Listeners ─────────────────────────────────────────────────────────────
	g, ctx := errgroup.WithContext(ctx)
	sock := server.NewSocketServer(deps)

	if addr := cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			slog.Error("failed to listen", "addr", addr, "err", err)
			return 1
		}
		slog.Info("raw socket listener started", "addr", addr)
		g.Go(func() error { return sock.Serve(ctx, ln) })
	}

	if path := cfg.Server.UnixSocket; path != "" {
		// A previous unclean shutdown may have left the socket file behind.
		_ = os.Remove(path)
		ln, err := net.Listen("unix", path)
		if err != nil {
			slog.Error("failed to listen", "unix_socket", path, "err", err)
			return 1
		}
		defer os.Remove(path)
		slog.Info("unix socket listener started", "path", path)
		g.Go(func() error { return sock.Serve(ctx, ln) })
	}

	if addr := cfg.Server.WSAddr; addr != "" {
		ws := server.NewWSServer(deps, cfg.Server.Codec)
		srv := &http.Server{
			Addr:              addr,
			Handler:           ws,
			ReadHeaderTimeout: 10 * time.Second,
		}
		slog.Info("websocket listener started", "addr", addr, "codec", cfg.Server.Codec)
		g.Go(func() error {
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if addr := cfg.Server.AdminAddr; addr != "" {
		mux := server.NewAdminMux(metrics, checkers...)
		slog.Info("admin listener started", "addr", addr)
		g.Go(func() error { return server.ServeAdmin(ctx, addr, mux) })
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxpipe — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Model", cfg.Engine.ModelPath)
	printRow("Language", cfg.Engine.Language)
	printRow("Mode", string(cfg.Stream.Mode))
	printRow("Step", fmt.Sprintf("%d ms", cfg.Stream.StepMs))
	printRow("Window", fmt.Sprintf("%d ms", cfg.Stream.LengthMs))
	if cfg.Server.ListenAddr != "" {
		printRow("TCP", cfg.Server.ListenAddr)
	}
	if cfg.Server.UnixSocket != "" {
		printRow("Unix socket", cfg.Server.UnixSocket)
	}
	if cfg.Server.WSAddr != "" {
		printRow("WebSocket", cfg.Server.WSAddr+" ("+string(cfg.Server.Codec)+")")
	}
	if cfg.Server.AdminAddr != "" {
		printRow("Admin", cfg.Server.AdminAddr)
	}
	if cfg.Store.PostgresDSN != "" {
		printRow("Store", "postgres")
	} else {
		printRow("Store", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
