// Package main is the entry point for the cargohold backup daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/database"
	"github.com/stackmelt/cargohold/internal/logging"
	"github.com/stackmelt/cargohold/internal/router"
	"github.com/stackmelt/cargohold/internal/service"
	"github.com/stackmelt/cargohold/internal/services"
	"github.com/stackmelt/cargohold/internal/version"
)

func main() {
	// Subcommands come before flag parsing.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			printVersion()
			os.Exit(0)
		case "service":
			if err := runServiceCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		}
	}

	configPath := flag.String("config", "config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load config from %s: %v\n", *configPath, err)
		fmt.Fprintln(os.Stderr, "Using default configuration")
		cfg = config.Default()
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	crypto, err := services.NewCryptoServiceFromConfig(cfg.Security)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize secret decryption")
	}
	if err := cfg.ResolveSecrets(crypto); err != nil {
		log.Fatal().Err(err).Msg("failed to resolve encrypted config values")
	}

	if cfg.Archive.Passphrase == "" {
		log.Fatal().Msg("archive.passphrase is required, archives are always encrypted")
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("error closing database")
		}
	}()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	remote, err := services.NewRemote(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("failed to initialize remote storage")
	}

	locks := services.NewLockRegistry()
	inFlight := services.NewInFlightSet()

	discovery := services.NewDiscoveryService(cfg, log)
	snapshots := services.NewSnapshotService(cfg, log)
	archiver := services.NewArchiveService(cfg, log)
	uploader := services.NewSyncService(cfg, remote, log)
	pruner := services.NewRetentionService(cfg, remote, inFlight, log)
	notifier := services.NewNotifyService(cfg, log)
	history := services.NewHistoryService(db)

	// Keep the interface nil when Portainer is not configured. Assigning a
	// typed nil pointer would make the engine believe an exporter exists.
	var exporter services.ConfigExporter
	if portainer := services.NewPortainerService(cfg, log); portainer != nil {
		exporter = portainer
	}

	engine := services.NewEngine(cfg, log, locks, inFlight, discovery, snapshots,
		archiver, uploader, pruner, notifier, exporter, remote, history)

	scheduler := services.NewSchedulerService(db, cfg, engine, log)
	if err := scheduler.EnsureDefault(); err != nil {
		log.Fatal().Err(err).Msg("failed to seed default schedule")
	}

	if err := discovery.Ping(context.Background()); err != nil {
		log.Warn().Err(err).Msg("container runtime unreachable at startup, jobs will fail until it recovers")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)

	r := router.New(cfg, log, router.Deps{
		Engine:    engine,
		Scheduler: scheduler,
		History:   history,
		Discovery: discovery,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("version", version.Version).
			Str("addr", addr).
			Str("storage", cfg.Storage.Backend).
			Msg("cargohold starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// Stop accepting schedule ticks first, then drain HTTP. Running jobs keep
	// their own contexts and finish restarts through the deferred paths.
	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("stopped")
}

func printVersion() {
	fmt.Printf("Cargohold %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
}

func runServiceCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: cargohold service <install|uninstall|status|restart>")
	}

	switch args[0] {
	case "install":
		unitCfg := service.DefaultUnitConfig()
		fs := flag.NewFlagSet("service install", flag.ExitOnError)
		fs.StringVar(&unitCfg.ConfigPath, "config", unitCfg.ConfigPath, "config file the unit starts with")
		fs.StringVar(&unitCfg.User, "user", unitCfg.User, "user the unit runs as")
		fs.StringVar(&unitCfg.SpoolDir, "spool", unitCfg.SpoolDir, "spool directory the unit may write to")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := service.Install(unitCfg); err != nil {
			return err
		}
		fmt.Println("Service installed and started")
		return nil
	case "uninstall":
		if err := service.Uninstall(); err != nil {
			return err
		}
		fmt.Println("Service uninstalled")
		return nil
	case "status":
		status, err := service.Status()
		if err != nil {
			return err
		}
		fmt.Printf("Installed: %v\n", status.IsInstalled)
		fmt.Printf("Enabled:   %v\n", status.IsEnabled)
		fmt.Printf("Running:   %v (%s/%s)\n", status.IsRunning, status.ActiveState, status.SubState)
		return nil
	case "restart":
		return service.Restart()
	default:
		return fmt.Errorf("unknown service command %q", args[0])
	}
}
