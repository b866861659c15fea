package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ensemble"
	"ensemble/internal/api"
	"ensemble/internal/clock"
	"ensemble/internal/config"
	"ensemble/internal/event"
	"ensemble/internal/instance"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
	"ensemble/internal/orchestrator"
	"ensemble/internal/process"
	"ensemble/internal/role"
	"ensemble/internal/terminal"
	"ensemble/internal/version"
	"ensemble/internal/watcher"

	"github.com/spf13/cobra"
)

const readHeaderTimeout = 5 * time.Second

func newServeCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator and its HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := app.settings()
			if err != nil {
				return err
			}
			stop, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			logger := logging.NewLogger(logging.NewLogBuffer(settings.LogBuffer), settings.LogLevel)
			signals := make(chan os.Signal, 2)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(signals)
			stopWatching := watchShutdownSignals(logger, cancel, signals)
			defer stopWatching()

			return runServer(stop, settings, logger, nil)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "", "listen address (default :8787)")
	flags.String("token", "", "bearer token required by the API")
	flags.String("workdir", "", "working directory of new processes (default: current directory)")
	flags.String("shell", "", "shell backing each instance")
	flags.String("launch-command", "", "command typed into a new session to start the agent")
	flags.Bool("watch", true, "reload roles and teams when their files change")
	app.bind("addr", flags, "addr")
	app.bind("token", flags, "token")
	app.bind("workdir", flags, "workdir")
	app.bind("shell", flags, "shell")
	app.bind("launch_command", flags, "launch-command")
	app.bind("watch_config", flags, "watch")
	return cmd
}

// runServer serves until stop is done. A nil listener listens on settings.Addr.
func runServer(stop context.Context, settings config.Settings, logger *logging.Logger, listener net.Listener) error {
	registry := metrics.NewRegistry()
	catalog, err := role.Load(role.LoadOptions{
		RolesDir:  settings.RolesDir,
		TeamsFile: settings.TeamsFile,
		Defaults:  ensemble.EmbeddedConfigFS,
	})
	if err != nil {
		return fmt.Errorf("load role catalog: %w", err)
	}
	logger.Info("role catalog loaded", map[string]string{
		"ensemble.category": "catalog",
		"source":            catalog.Source(),
		"roles":             strconv.Itoa(len(catalog.Roles())),
		"teams":             strconv.Itoa(len(catalog.Teams())),
	})

	workDir := settings.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
	}

	busCtx, closeBuses := context.WithCancel(context.Background())
	defer closeBuses()
	instanceEvents := event.NewBus[event.InstanceEvent](busCtx, event.BusOptions{
		Name:        "instances",
		HistorySize: 256,
		Registry:    registry,
		Logger:      logger,
	})
	catalogEvents := event.NewBus[event.CatalogEvent](busCtx, event.BusOptions{
		Name:     "catalog",
		Registry: registry,
		Logger:   logger,
	})
	fileEvents := event.NewBus[event.FileEvent](busCtx, event.BusOptions{
		Name:     "files",
		Registry: registry,
		Logger:   logger,
	})

	processes := process.NewRegistry()
	host := terminal.NewHost(terminal.HostOptions{
		Shell:        settings.Shell,
		BufferLines:  settings.BufferLines,
		HistoryLines: settings.HistoryLines,
		Registry:     processes,
		Logger:       logger,
	})
	manager := orchestrator.NewManager(orchestrator.ManagerOptions{
		Catalog:          catalog,
		Service:          host,
		Store:            instance.NewStore(),
		Clock:            clock.Real(),
		Timings:          settings.OrchestratorTimings(),
		SequencerTimings: settings.SequencerTimings(),
		LaunchCommand:    settings.LaunchCommand,
		WorkDir:          workDir,
		Logger:           logger,
		Metrics:          registry,
		Events:           instanceEvents,
	})

	pollCtx, stopPolling := context.WithCancel(context.Background())
	defer stopPolling()
	go manager.RunPoller(pollCtx)

	coordinator := newShutdownCoordinator(logger)
	if settings.WatchConfig {
		closeWatch, err := watchFiles(settings, manager, catalogEvents, fileEvents, logger)
		if err != nil {
			logger.Warn("file watching disabled", map[string]string{
				"ensemble.category": "watcher",
				"error":             err.Error(),
			})
		} else {
			coordinator.Add("file watcher", func(context.Context) error { return closeWatch() })
		}
	}
	coordinator.Add("poller", func(context.Context) error {
		stopPolling()
		return nil
	})
	coordinator.Add("instances", func(ctx context.Context) error {
		err := manager.TerminateAll(ctx)
		manager.Close()
		return err
	})
	coordinator.Add("terminal host", host.Close)
	coordinator.Add("process registry", processes.StopAll)
	coordinator.Add("event buses", func(context.Context) error {
		instanceEvents.Close()
		catalogEvents.Close()
		fileEvents.Close()
		return nil
	})

	server := &http.Server{
		Addr: settings.Addr,
		Handler: api.NewRouter(api.Options{
			Manager:        manager,
			Output:         host,
			Events:         instanceEvents,
			CatalogEvents:  catalogEvents,
			Logger:         logger,
			Metrics:        registry,
			AuthToken:      settings.Token,
			AllowedOrigins: settings.AllowedOrigins,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if listener == nil {
		if listener, err = net.Listen("tcp", settings.Addr); err != nil {
			_ = coordinator.Run(context.Background())
			return fmt.Errorf("listen on %s: %w", settings.Addr, err)
		}
	}
	logger.Info("ensemble listening", map[string]string{
		"ensemble.category": "server",
		"addr":              listener.Addr().String(),
		"version":           version.GetVersionInfo().String(),
	})

	runner := &ServerRunner{Logger: logger, ShutdownTimeout: settings.ShutdownTimeout}
	serveErr := runner.Run(stop, ManagedServer{
		Name:     "api",
		Serve:    func() error { return server.Serve(listener) },
		Shutdown: server.Shutdown,
	})

	timeout := settings.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdownErr := coordinator.Run(shutdownCtx)
	logger.Info("ensemble stopped", map[string]string{"ensemble.category": "server"})
	return errors.Join(serveErr, shutdownErr)
}

// watchFiles reloads the catalog when its files change and reports edits to
// the config file, which only take effect on restart.
func watchFiles(settings config.Settings, manager *orchestrator.Manager, catalogEvents *event.Bus[event.CatalogEvent], fileEvents *event.Bus[event.FileEvent], logger *logging.Logger) (func() error, error) {
	if settings.RolesDir == "" && settings.TeamsFile == "" && settings.ConfigFile == "" {
		return func() error { return nil }, nil
	}
	fsWatcher, err := watcher.NewWithOptions(watcher.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	closers := []func() error{fsWatcher.Close}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	if settings.RolesDir != "" || settings.TeamsFile != "" {
		catalogWatch, err := watcher.WatchCatalog(fsWatcher, watcher.CatalogOptions{
			RolesDir:  settings.RolesDir,
			TeamsFile: settings.TeamsFile,
			Defaults:  ensemble.EmbeddedConfigFS,
			Apply:     manager.SetCatalog,
			Bus:       catalogEvents,
			Logger:    logger,
		})
		if err != nil {
			_ = closeAll()
			return nil, err
		}
		closers = append(closers, catalogWatch.Close)
	}

	if settings.ConfigFile != "" {
		handle, err := watcher.WatchFile(fileEvents, fsWatcher, settings.ConfigFile)
		if err != nil {
			_ = closeAll()
			return nil, err
		}
		changes, unsubscribe := fileEvents.Subscribe()
		go func() {
			for change := range changes {
				logger.Warn("config file changed; restart to apply", map[string]string{
					"ensemble.category": "config",
					"path":              change.Path,
					"op":                change.Operation,
				})
			}
		}()
		closers = append(closers, func() error {
			unsubscribe()
			return handle.Close()
		})
	}
	return closeAll, nil
}
