// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Engine names the download engine whose tracker option is kept in sync.
type Engine string

const (
	EngineAria2       Engine = "aria2"
	EngineQBittorrent Engine = "qbittorrent"
)

type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	Engine Engine `toml:"engine" mapstructure:"engine"`

	Aria2RPCURL    string `toml:"aria2RpcUrl" mapstructure:"aria2RpcUrl"`
	Aria2RPCSecret string `toml:"aria2RpcSecret" mapstructure:"aria2RpcSecret"`

	QBittorrentHost          string `toml:"qbittorrentHost" mapstructure:"qbittorrentHost"`
	QBittorrentUsername      string `toml:"qbittorrentUsername" mapstructure:"qbittorrentUsername"`
	QBittorrentPassword      string `toml:"qbittorrentPassword" mapstructure:"qbittorrentPassword"`
	QBittorrentTLSSkipVerify bool   `toml:"qbittorrentTlsSkipVerify" mapstructure:"qbittorrentTlsSkipVerify"`

	// Seed values for the tracker settings store, applied only when no
	// settings have been saved yet.
	TrackerAutoUpdate     bool     `toml:"trackerAutoUpdate" mapstructure:"trackerAutoUpdate"`
	TrackerUpdateInterval string   `toml:"trackerUpdateInterval" mapstructure:"trackerUpdateInterval"`
	TrackerSources        []string `toml:"trackerSources" mapstructure:"trackerSources"`
}
