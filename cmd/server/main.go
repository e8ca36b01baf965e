package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/invigo-mfg/invigo-server/internal/broker"
	"github.com/invigo-mfg/invigo-server/internal/engine"
	"github.com/invigo-mfg/invigo-server/internal/repository"
	"github.com/invigo-mfg/invigo-server/internal/scheduler"
	"github.com/invigo-mfg/invigo-server/internal/storage"
	"github.com/invigo-mfg/invigo-server/internal/workspace"
	"github.com/invigo-mfg/invigo-server/pkg/config"
	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/health"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

var (
	Version   = "dev"     // Default version for development
	GitCommit = "unknown" // Git commit hash
	BuildTime = "unknown" // Build timestamp
)

var versionFlag = flag.Bool("version", false, "Show version information and exit")

func printVersionInfo() {
	fmt.Printf("Invigo Server v%s\n", Version)
	fmt.Printf("Built: %s, from commit: %s\n", BuildTime, GitCommit)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func main() {
	flag.Parse()

	if *versionFlag {
		printVersionInfo()
		os.Exit(0)
	}

	log := logger.New("server", Version)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Mirror console output into the rotating server log.
	logFile, err := os.OpenFile(cfg.LogFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warnf("Could not open log file %s: %v", cfg.LogFile(), err)
	} else {
		log.SetFile(logFile)
		defer logFile.Close()
	}

	if err := run(cfg, log); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := health.NewChecker()

	// Entity repositories, one guarded pool each.
	registry, err := repository.NewRegistry(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect repositories: %w", err)
	}
	defer registry.Close()

	registry.RegisterHealthChecks(checker)
	registry.StartCaches()
	defer registry.StopCaches()
	if err := registry.WarmUp(ctx); err != nil {
		log.Warnf("Repository cache warm-up failed: %v", err)
	}

	// Workspace tree store on its own pool.
	wsPool, err := database.New(ctx, repository.PoolConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect workspace pool: %w", err)
	}
	store := workspace.NewStore(wsPool, log)
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialise workspace schema: %w", err)
	}
	checker.Register(store.Name(), func() error {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), cfg.PostgresCommandTimeout)
		defer pingCancel()
		return store.Ping(pingCtx)
	})
	store.Cache().Start()
	defer store.Cache().Stop()

	// Change broker: LISTEN/NOTIFY in, WebSocket out.
	hub := broker.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	listener := broker.NewListener(repository.PoolConfig(cfg), hub, registry.Jobs, log)
	listener.Start()
	defer listener.Stop()

	// Background backups, log rotation, and cache warming.
	layout := storage.NewLayout(cfg)
	sched := scheduler.New(layout, cfg.LogFile(), cfg.WorkspaceCacheWarmUpInterval, log)
	sched.AddWarmer(registry)
	sched.AddWarmer(store)
	sched.SetReport(sheetReport(registry, hub, layout))
	sched.Start()
	defer sched.Stop()

	eng := engine.New(cfg, log, registry, store, hub, checker)

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Deferred teardown unwinds in reverse start order; drain HTTP first so
	// in-flight requests still have their repositories.
	if err := eng.Stop(); err != nil {
		log.Errorf("HTTP shutdown error: %v", err)
	}
	return nil
}

// sheetReport writes the weekly sheet inventory snapshot and tells the shop
// software clients to pick it up.
func sheetReport(registry *repository.Registry, hub *broker.Hub, layout *storage.Layout) scheduler.ReportFunc {
	return func(ctx context.Context) error {
		sheets, err := registry.Sheets.GetAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load sheets for report: %w", err)
		}
		name := fmt.Sprintf("sheet-report-%s.json", time.Now().Format("2006-01-02"))
		path := filepath.Join(layout.ReportsDir(), name)

		data, err := json.MarshalIndent(sheets, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode sheet report: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write sheet report: %w", err)
		}
		return hub.SignalClientsForChanges("", []string{"reports/" + name}, broker.ClassSoftware)
	}
}
