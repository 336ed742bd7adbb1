package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Turgon37/OpenVPN-UAM/internal/adapter"
	_ "github.com/Turgon37/OpenVPN-UAM/internal/adapter/sqlite"
	"github.com/Turgon37/OpenVPN-UAM/internal/config"
	"github.com/Turgon37/OpenVPN-UAM/internal/datastore"
	"github.com/Turgon37/OpenVPN-UAM/internal/pki"
	"github.com/Turgon37/OpenVPN-UAM/internal/scheduler"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/openvpn-uam/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("OpenVPN User Access Manager\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting OpenVPN UAM",
		slog.String("version", Version),
		slog.String("commit", Commit),
		slog.String("adapters", fmt.Sprint(adapter.Names())),
	)

	store := datastore.New(logger)
	if err := store.Load(cfg); err != nil {
		logger.Error("failed to load datastore", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ca, err := pki.LoadCA(cfg.PKI.CA, cfg.PKI.CAKey, cfg.PKI.Digest, logger)
	if err != nil {
		logger.Error("failed to load CA", slog.String("error", err.Error()))
		os.Exit(1)
	}
	tree, err := pki.NewFileTree(cfg.PKI.CertDirectory, logger)
	if err != nil {
		logger.Error("failed to load certificate file store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	issuer, err := pki.NewIssuer(ca, tree, cfg, logger)
	if err != nil {
		logger.Error("failed to load issuer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := writePidFile(cfg.Main.PidPath); err != nil {
		logger.Error("unable to create PID file",
			slog.String("path", cfg.Main.PidPath),
			slog.String("error", err.Error()),
		)
	} else {
		defer os.Remove(cfg.Main.PidPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(store, issuer, cfg.CertPollInterval(), logger)
	if err := sched.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("exiting OpenVPN UAM")
}

// newLogger builds the process logger from the main configuration
// section. Components receive it at construction; this is the only
// place the handler is configured.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Main.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Main.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
