// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/trackersync/internal/api"
	"github.com/autobrr/trackersync/internal/aria2"
	"github.com/autobrr/trackersync/internal/buildinfo"
	"github.com/autobrr/trackersync/internal/config"
	"github.com/autobrr/trackersync/internal/database"
	"github.com/autobrr/trackersync/internal/domain"
	"github.com/autobrr/trackersync/internal/metrics"
	"github.com/autobrr/trackersync/internal/models"
	"github.com/autobrr/trackersync/internal/qbittorrent"
	"github.com/autobrr/trackersync/internal/services/trackersync"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "trackersync",
		Short: "Keep a download engine's tracker list up to date",
		Long: `trackersync - fetches public tracker lists, merges them into the
bt-tracker option of aria2 or qBittorrent and refreshes them on a schedule.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunUpdateCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server and the tracker update scheduler",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/trackersync/ or %APPDATA%\\trackersync\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath)
		app.runServer()
	}

	return command
}

func RunUpdateCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "update",
		Short: "Fetch the configured tracker lists once and update the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configDir, dataDir, "")
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return errors.Wrap(err, "failed to initialize database")
			}
			defer db.Close()

			store := models.NewTrackerSyncSettingsStore(db, cfg.SeedTrackerSettings())

			engine, closeEngine, err := newEngineClient(cmd.Context(), cfg.Config)
			if err != nil {
				return err
			}
			defer closeEngine()

			svc := trackersync.NewService(trackersync.DefaultConfig(), store, engine)
			run, err := svc.RunUpdate(cmd.Context())
			if run != nil {
				for _, source := range run.Sources {
					if source.Error != "" {
						cmd.Printf("  %s: %s\n", source.URL, source.Error)
						continue
					}
					cmd.Printf("  %s: %d trackers\n", source.URL, source.Trackers)
				}
			}
			if err != nil {
				return errors.Wrap(err, "tracker update failed")
			}

			cmd.Printf("Tracker list updated: %d added, %d total\n", run.TrackersAdded, run.TrackersTotal)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of trackersync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/trackersync/config.toml
- Windows: %APPDATA%\trackersync\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return errors.Wrap(err, "failed to create configuration file")
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
}

func NewApplication(configDir, dataDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
	}
}

func (app *Application) loadConfig() (*config.AppConfig, error) {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize configuration")
	}

	if app.dataDir != "" {
		os.Setenv("TRACKERSYNC__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("TRACKERSYNC__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()
	return cfg, nil
}

// newEngineClient connects to the configured download engine. The returned
// func releases the connection.
func newEngineClient(ctx context.Context, cfg *domain.Config) (trackersync.OptionClient, func() error, error) {
	switch cfg.Engine {
	case domain.EngineQBittorrent:
		client, err := qbittorrent.NewClient(ctx, qbittorrent.Config{
			Host:          cfg.QBittorrentHost,
			Username:      cfg.QBittorrentUsername,
			Password:      cfg.QBittorrentPassword,
			TLSSkipVerify: cfg.QBittorrentTLSSkipVerify,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, func() error { return nil }, nil
	default:
		client, err := aria2.New(ctx, aria2.Config{
			URL:    cfg.Aria2RPCURL,
			Secret: cfg.Aria2RPCSecret,
		})
		if err != nil {
			return nil, nil, err
		}

		if version, err := client.GetVersion(ctx); err != nil {
			log.Warn().Err(err).Str("endpoint", client.Endpoint()).Msg("aria2 did not answer getVersion")
		} else {
			log.Info().Str("endpoint", client.Endpoint()).Str("aria2", version.Version).Msg("Connected to aria2")
		}

		return client, client.Close, nil
	}
}

func (app *Application) runServer() {
	cfg, err := app.loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	log.Info().Str("version", buildinfo.Version).Str("engine", string(cfg.Config.Engine)).Msg("Starting trackersync")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	settingsStore := models.NewTrackerSyncSettingsStore(db, cfg.SeedTrackerSettings())
	if err := settingsStore.Seed(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed tracker settings")
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 60*time.Second)
	engine, closeEngine, err := newEngineClient(connectCtx, cfg.Config)
	connectCancel()
	if err != nil {
		log.Fatal().Err(err).Str("engine", string(cfg.Config.Engine)).Msg("Failed to connect to download engine")
	}
	defer closeEngine()

	engineConfig := *cfg.Config
	cfg.RegisterReloadListener(func(conf *domain.Config) {
		if conf.Engine != engineConfig.Engine ||
			conf.Aria2RPCURL != engineConfig.Aria2RPCURL ||
			conf.Aria2RPCSecret != engineConfig.Aria2RPCSecret ||
			conf.QBittorrentHost != engineConfig.QBittorrentHost ||
			conf.QBittorrentUsername != engineConfig.QBittorrentUsername ||
			conf.QBittorrentPassword != engineConfig.QBittorrentPassword {
			log.Warn().Msg("Download engine settings changed, restart trackersync to apply them")
		}
	})

	registry := metrics.NewRegistry()
	trackerSync := trackersync.NewService(
		trackersync.DefaultConfig(),
		settingsStore,
		engine,
		trackersync.WithMetrics(trackersync.NewMetrics(registry)),
	)

	serviceCtx, serviceCancel := context.WithCancel(context.Background())
	defer serviceCancel()
	trackerSync.Start(serviceCtx)
	defer trackerSync.Stop()

	httpServer := api.NewServer(&api.Dependencies{
		Config:          cfg,
		Version:         buildinfo.Version,
		TrackerSync:     trackerSync,
		TrackerSettings: settingsStore,
		DB:              db,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	var metricsServer *metrics.Server
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewServer(registry, cfg.Config.MetricsHost, cfg.Config.MetricsPort)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorChannel <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
		exitCode = 1
	}

	trackerSync.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		exitCode = 1
	}

	serviceCancel()
	closeEngine()
	db.Close()

	os.Exit(exitCode)
}
