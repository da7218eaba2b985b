package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/tabterm/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string          `mapstructure:"state_dir" yaml:"state_dir"`
	Profiles      ProfilesConfig  `mapstructure:"profiles" yaml:"profiles"`
	Engine        EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Transport     TransportConfig `mapstructure:"transport" yaml:"transport"`
	HTTP          HTTPConfig      `mapstructure:"http" yaml:"http"`
	SSH           SSHConfig       `mapstructure:"ssh" yaml:"ssh"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ProfilesConfig selects the profile store backend.
type ProfilesConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend"`
	Path         string `mapstructure:"path" yaml:"path"`
	KeyStorePath string `mapstructure:"key_store_path" yaml:"key_store_path"`
}

// EngineConfig controls tab engine defaults and limits.
type EngineConfig struct {
	DefaultTitle           string `mapstructure:"default_title" yaml:"default_title"`
	ConnectWatchdogSeconds int    `mapstructure:"connect_watchdog_seconds" yaml:"connect_watchdog_seconds"`
	TitleMax               int    `mapstructure:"title_max" yaml:"title_max"`
	InboundDepth           int    `mapstructure:"inbound_depth" yaml:"inbound_depth"`
}

// TransportConfig configures outgoing SSH sessions.
type TransportConfig struct {
	KnownHostsPath     string `mapstructure:"known_hosts_path" yaml:"known_hosts_path"`
	Term               string `mapstructure:"term" yaml:"term"`
	DialTimeoutSeconds int    `mapstructure:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
	KeepaliveSeconds   int    `mapstructure:"keepalive_seconds" yaml:"keepalive_seconds"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr        string `mapstructure:"addr" yaml:"addr"`
	BasePath    string `mapstructure:"base_path" yaml:"base_path"`
	APIToken    string `mapstructure:"api_token" yaml:"api_token"`
	HistorySize int    `mapstructure:"history_size" yaml:"history_size"`
}

// SSHConfig configures the SSH attach server.
type SSHConfig struct {
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr               string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath        string `mapstructure:"host_key_path" yaml:"host_key_path"`
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path"`
	TOTPSecret         string `mapstructure:"totp_secret" yaml:"totp_secret"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	base := filepath.Join(home, ".tabterm")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(base, "state"),
		Profiles: ProfilesConfig{
			Backend:      "sqlite",
			Path:         filepath.Join(base, "state", "profiles.db"),
			KeyStorePath: filepath.Join(base, "state", "profiles.keys"),
		},
		Engine: EngineConfig{
			DefaultTitle:           string(schema.DefaultTabTitle),
			ConnectWatchdogSeconds: 0,
			TitleMax:               32,
			InboundDepth:           schema.DefaultInboundDepth,
		},
		Transport: TransportConfig{
			KnownHostsPath:     filepath.Join(home, ".ssh", "known_hosts"),
			Term:               "xterm-256color",
			DialTimeoutSeconds: 15,
			KeepaliveSeconds:   30,
		},
		HTTP: HTTPConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:27580",
			BasePath:    "",
			APIToken:    "",
			HistorySize: 1000,
		},
		SSH: SSHConfig{
			Enabled:            false,
			Addr:               ":27522",
			HostKeyPath:        filepath.Join(base, "ssh_host_key"),
			AuthorizedKeysPath: filepath.Join(base, "authorized_keys"),
			TOTPSecret:         "",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tabterm", "config.yaml"), nil
}
