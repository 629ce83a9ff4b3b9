// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/trackersync/internal/domain"
	"github.com/autobrr/trackersync/internal/models"
	"github.com/autobrr/trackersync/internal/trackerlist"
)

var envPrefix = "TRACKERSYNC__"

const (
	appName          = "trackersync"
	databaseFileName = "trackersync.db"
	dotEnvFileName   = ".env"
)

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	fs      afero.Fs
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	return NewWithFs(afero.NewOsFs(), configDirOrPath, versions...)
}

// NewWithFs loads configuration from fsys. Config file watching is only
// enabled on the OS filesystem.
func NewWithFs(fsys afero.Fs, configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		fs:      fsys,
		Config:  &domain.Config{},
		version: version,
	}
	c.viper.SetFs(fsys)

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	// .env next to the config file fills in variables not already exported
	if err := c.loadDotEnv(filepath.Join(c.GetConfigDir(), dotEnvFileName)); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	if err := c.Validate(); err != nil {
		return nil, err
	}

	c.resolveDataDir()

	if _, ok := fsys.(*afero.OsFs); ok {
		c.watchConfig()
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7480)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9078)

	c.viper.SetDefault("engine", string(domain.EngineAria2))
	c.viper.SetDefault("aria2RpcUrl", "http://localhost:6800/jsonrpc")
	c.viper.SetDefault("aria2RpcSecret", "")
	c.viper.SetDefault("qbittorrentHost", "http://localhost:8080")
	c.viper.SetDefault("qbittorrentUsername", "")
	c.viper.SetDefault("qbittorrentPassword", "")
	c.viper.SetDefault("qbittorrentTlsSkipVerify", false)

	c.viper.SetDefault("trackerAutoUpdate", false)
	c.viper.SetDefault("trackerUpdateInterval", string(trackerlist.IntervalDaily))
	c.viper.SetDefault("trackerSources", append([]string(nil), models.DefaultTrackerSources...))
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if _, err := c.fs.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			if err := c.writeDefaultConfig(configPath); err != nil {
				return err
			}
		}

		if err := c.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}

		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read newly created config: %w", err)
		}
		c.dataDir = filepath.Dir(defaultConfigPath)
	}

	return nil
}

func (c *AppConfig) loadDotEnv(path string) error {
	f, err := c.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	values, err := godotenv.Parse(f)
	if err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}

	for key, value := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return errors.Wrapf(err, "set %s", key)
		}
	}

	log.Debug().Str("path", path).Int("vars", len(values)).Msg("Loaded environment file")
	return nil
}

func (c *AppConfig) loadFromEnv() {
	// Bind explicitly instead of AutomaticEnv so unrelated variables never leak in.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")

	c.viper.BindEnv("engine", envPrefix+"ENGINE")
	c.viper.BindEnv("aria2RpcUrl", envPrefix+"ARIA2_RPC_URL")
	c.bindOrReadFromFile("aria2RpcSecret", envPrefix+"ARIA2_RPC_SECRET")
	c.viper.BindEnv("qbittorrentHost", envPrefix+"QBITTORRENT_HOST")
	c.viper.BindEnv("qbittorrentUsername", envPrefix+"QBITTORRENT_USERNAME")
	c.bindOrReadFromFile("qbittorrentPassword", envPrefix+"QBITTORRENT_PASSWORD")
	c.viper.BindEnv("qbittorrentTlsSkipVerify", envPrefix+"QBITTORRENT_TLS_SKIP_VERIFY")

	c.viper.BindEnv("trackerAutoUpdate", envPrefix+"TRACKER_AUTO_UPDATE")
	c.viper.BindEnv("trackerUpdateInterval", envPrefix+"TRACKER_UPDATE_INTERVAL")
	c.viper.BindEnv("trackerSources", envPrefix+"TRACKER_SOURCES")
}

// bindOrReadFromFile prefers the contents of the file named by envVar_FILE
// over envVar itself.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := afero.ReadFile(c.fs, filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}

// Validate checks the engine connection settings.
func (c *AppConfig) Validate() error {
	cfg := c.Config
	cfg.Engine = domain.Engine(strings.ToLower(strings.TrimSpace(string(cfg.Engine))))

	switch cfg.Engine {
	case domain.EngineAria2:
		if strings.TrimSpace(cfg.Aria2RPCURL) == "" {
			return errors.New("aria2RpcUrl is required when engine is aria2")
		}
	case domain.EngineQBittorrent:
		if strings.TrimSpace(cfg.QBittorrentHost) == "" {
			return errors.New("qbittorrentHost is required when engine is qbittorrent")
		}
	default:
		return errors.Errorf("unknown engine %q (expected %q or %q)", cfg.Engine, domain.EngineAria2, domain.EngineQBittorrent)
	}

	if interval := trackerlist.ParseInterval(cfg.TrackerUpdateInterval); !interval.Valid() {
		log.Warn().Str("interval", cfg.TrackerUpdateInterval).Msg("Unknown trackerUpdateInterval, automatic updates will not be scheduled")
	}

	return nil
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.ApplyLogConfig()
	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7480
port = {{ .port }}

# Base URL
# Set custom baseUrl eg /trackersync/ to serve in subdirectory.
#baseUrl = "/trackersync/"

# Log file path
# If not defined, logs to stdout
#logPath = "log/trackersync.log"

# Log rotation
# Maximum log file size in megabytes before rotation
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Database file (trackersync.db) will be created inside this directory
#dataDir = "/var/db/trackersync"

# Log level
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Prometheus metrics on a separate port
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9078

# Download engine whose tracker list is kept in sync
# Options: "aria2", "qbittorrent"
engine = "{{ .engine }}"

# aria2 JSON-RPC endpoint (http(s):// or ws(s)://) and rpc-secret
aria2RpcUrl = "{{ .aria2RpcUrl }}"
#aria2RpcSecret = ""

# qBittorrent WebUI
#qbittorrentHost = "{{ .qbittorrentHost }}"
#qbittorrentUsername = ""
#qbittorrentPassword = ""
#qbittorrentTlsSkipVerify = false

# Initial tracker update settings
# Only applied on first start; later changes are made through the API.
#trackerAutoUpdate = false

# Options: "1d", "1w", "1m"
#trackerUpdateInterval = "{{ .trackerUpdateInterval }}"

#trackerSources = [
#       "{{ .defaultSource }}",
#]
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := c.fs.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := c.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"host":                  c.viper.GetString("host"),
		"port":                  c.viper.GetInt("port"),
		"logLevel":              c.viper.GetString("logLevel"),
		"logMaxSize":            c.viper.GetInt("logMaxSize"),
		"logMaxBackups":         c.viper.GetInt("logMaxBackups"),
		"engine":                c.viper.GetString("engine"),
		"aria2RpcUrl":           c.viper.GetString("aria2RpcUrl"),
		"qbittorrentHost":       c.viper.GetString("qbittorrentHost"),
		"trackerUpdateInterval": c.viper.GetString("trackerUpdateInterval"),
		"defaultSource":         models.DefaultTrackerSources[0],
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render config file: %w", err)
	}

	if err := afero.WriteFile(c.fs, path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// Docker images set XDG_CONFIG_HOME=/config and expect it used as-is
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, appName)
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	return os.Getpid() == 1
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// InitDefaultLogger configures zerolog before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := c.fs.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.dataDir != "":
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the database file
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, databaseFileName)
}

func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

// SeedTrackerSettings returns the tracker settings applied when the store is empty.
func (c *AppConfig) SeedTrackerSettings() *models.TrackerSyncSettings {
	seed := models.DefaultTrackerSyncSettings()
	seed.AutoUpdate = c.Config.TrackerAutoUpdate
	if interval := strings.TrimSpace(c.Config.TrackerUpdateInterval); interval != "" {
		seed.Interval = trackerlist.ParseInterval(interval)
	}
	if len(c.Config.TrackerSources) > 0 {
		seed.Sources = append([]string(nil), c.Config.TrackerSources...)
	}
	return seed
}

// WriteDefaultConfig writes a commented config file to path on the OS filesystem.
func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
		fs:    afero.NewOsFs(),
	}
	c.defaults()
	return c.writeDefaultConfig(path)
}
