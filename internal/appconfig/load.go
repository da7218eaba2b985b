package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("profiles.backend", cfg.Profiles.Backend)
	v.SetDefault("profiles.path", cfg.Profiles.Path)
	v.SetDefault("profiles.key_store_path", cfg.Profiles.KeyStorePath)
	v.SetDefault("engine.default_title", cfg.Engine.DefaultTitle)
	v.SetDefault("engine.connect_watchdog_seconds", cfg.Engine.ConnectWatchdogSeconds)
	v.SetDefault("engine.title_max", cfg.Engine.TitleMax)
	v.SetDefault("engine.inbound_depth", cfg.Engine.InboundDepth)
	v.SetDefault("transport.known_hosts_path", cfg.Transport.KnownHostsPath)
	v.SetDefault("transport.term", cfg.Transport.Term)
	v.SetDefault("transport.dial_timeout_seconds", cfg.Transport.DialTimeoutSeconds)
	v.SetDefault("transport.keepalive_seconds", cfg.Transport.KeepaliveSeconds)
	v.SetDefault("http.enabled", cfg.HTTP.Enabled)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.api_token", cfg.HTTP.APIToken)
	v.SetDefault("http.history_size", cfg.HTTP.HistorySize)
	v.SetDefault("ssh.enabled", cfg.SSH.Enabled)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.authorized_keys_path", cfg.SSH.AuthorizedKeysPath)
	v.SetDefault("ssh.totp_secret", cfg.SSH.TOTPSecret)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Profiles.Backend)) {
	case "sqlite", "json":
	default:
		return fmt.Errorf("unsupported profiles.backend %q", cfg.Profiles.Backend)
	}
	if strings.TrimSpace(cfg.Profiles.Path) == "" {
		return fmt.Errorf("profiles.path is required")
	}
	if cfg.Engine.ConnectWatchdogSeconds < 0 {
		return fmt.Errorf("engine.connect_watchdog_seconds must not be negative")
	}
	if cfg.Engine.TitleMax < 0 {
		return fmt.Errorf("engine.title_max must not be negative")
	}
	if !cfg.HTTP.Enabled && !cfg.SSH.Enabled {
		return fmt.Errorf("at least one of http.enabled or ssh.enabled must be true")
	}
	basePath := strings.TrimSpace(cfg.HTTP.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	if cfg.SSH.Enabled && strings.TrimSpace(cfg.SSH.AuthorizedKeysPath) == "" {
		return fmt.Errorf("ssh.authorized_keys_path is required when ssh is enabled")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Profiles.Path = expandEnv(cfg.Profiles.Path)
	cfg.Profiles.KeyStorePath = expandEnv(cfg.Profiles.KeyStorePath)
	cfg.Transport.KnownHostsPath = expandEnv(cfg.Transport.KnownHostsPath)
	cfg.HTTP.APIToken = expandEnv(cfg.HTTP.APIToken)
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.SSH.AuthorizedKeysPath = expandEnv(cfg.SSH.AuthorizedKeysPath)
	cfg.SSH.TOTPSecret = expandEnv(cfg.SSH.TOTPSecret)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path. mutate, when
// non-nil, adjusts the defaults before they are written.
func WriteDefault(path string, overwrite bool, mutate func(*Config)) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}
	if mutate != nil {
		mutate(&cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
