package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/exportd/internal/logger"
	"github.com/marmos91/exportd/pkg/api"
	"github.com/marmos91/exportd/pkg/config"
	"github.com/marmos91/exportd/pkg/engine"
	"github.com/marmos91/exportd/pkg/state"
	"github.com/marmos91/exportd/pkg/transport"
	"github.com/spf13/afero"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const usage = `exportd - NFS export reconciler

Usage:
  exportd <command> [flags]

Commands:
  init       Write a default configuration file
  run        Run the reconciler until interrupted
  reconcile  Run a single re-sync pass and print its report
  version    Print the version

Use "exportd <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "run":
		err = runDaemon(os.Args[2:])
	case "reconcile":
		err = runOnce(os.Args[2:])
	case "version":
		fmt.Println("exportd", version)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration file")
	path := fs.String("config", "", "Write to this path instead of the default location")
	_ = fs.Parse(args)

	target := *path
	if target == "" {
		target = config.GetDefaultConfigPath()
	}

	if err := config.InitConfigToPath(target, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", target)
	return nil
}

// app holds everything built from a configuration.
type app struct {
	cfg        *config.Config
	reconciler *engine.Reconciler
	transport  transport.Transport
	store      state.Store
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close state store: %v", err)
	}
	if err := a.transport.Close(); err != nil {
		logger.Warn("Failed to close transport: %v", err)
	}
}

func setupLogging(cfg *config.Config) error {
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	return logger.SetOutput(cfg.Logging.Output)
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	local, err := config.LocalNode(&cfg.Unit)
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()

	tr, err := config.CreateTransport(ctx, &cfg.Transport, fs, local.Name)
	if err != nil {
		return nil, err
	}

	store, err := config.CreateStateStore(ctx, &cfg.State)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	svc, err := config.CreateService(&cfg.Service, fs)
	if err != nil {
		_ = store.Close()
		_ = tr.Close()
		return nil, err
	}

	r, err := engine.New(config.NewEngineConfig(cfg, local), config.EngineOptions(cfg), engine.Deps{
		Transport:    tr,
		Store:        store,
		Manager:      svc.Manager,
		Exporter:     svc.Exporter,
		DaemonConfig: svc.DaemonConfig,
		Fs:           fs,
		Renderer:     svc.Renderer,
		Verifier:     config.CreateVerifier(cfg),
		Metrics:      config.InitializeMetrics(cfg),
	})
	if err != nil {
		_ = store.Close()
		_ = tr.Close()
		return nil, err
	}

	logger.Info("Unit %s (%s), transport=%s, state=%s", local.Name, local.Address, cfg.Transport.Type, cfg.State.Type)

	return &app{cfg: cfg, reconciler: r, transport: tr, store: store}, nil
}

func load(args []string, name string) (*config.Config, string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", "", "Path to the configuration file (default: "+config.GetDefaultConfigPath()+")")
	_ = fs.Parse(args)

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, "", err
	}
	if err := setupLogging(cfg); err != nil {
		return nil, "", err
	}
	return cfg, *path, nil
}

func runDaemon(args []string) error {
	cfg, path, err := load(args, "run")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if path == "" && config.ConfigExists() {
		path = config.GetDefaultConfigPath()
	}
	if path != "" {
		err := config.Watch(path, func(next *config.Config) {
			logger.SetLevel(next.Logging.Level)
			a.reconciler.SetOptions(config.EngineOptions(next))
		})
		if err != nil {
			logger.Warn("Configuration changes will not be picked up: %v", err)
		}
	}

	if cfg.Server.API.Enabled {
		server := api.NewServer(api.ServerConfig{
			Port:            cfg.Server.API.Port,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, a.reconciler)

		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error("API server error: %v", err)
			}
		}()
	}

	logger.Info("exportd %s running. Press Ctrl+C to stop.", version)
	return a.reconciler.Run(ctx)
}

func runOnce(args []string) error {
	cfg, _, err := load(args, "reconcile")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, passErr := a.reconciler.Reconcile(ctx, engine.TriggerResync, a.reconciler.Options())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	if passErr != nil {
		return fmt.Errorf("pass %s: %s", report.PassID, report.Status.Message)
	}
	return nil
}
