package schema

import (
	"errors"
	"strings"
	"time"
)

// EngineConfig defines defaults and limits for the tab engine.
type EngineConfig struct {
	DefaultTitle TabTitle
	// ConnectWatchdog moves a tab stuck in connecting to errored after the
	// duration. Zero disables it and leaves timeouts to the transport.
	ConnectWatchdog time.Duration
	// InboundDepth sizes the inbound event queue.
	InboundDepth int
	// TitleMax truncates tab titles; zero disables truncation.
	TitleMax int
}

// DefaultInboundDepth is the default inbound queue size.
const DefaultInboundDepth = 1024

// NormalizeEngineConfig applies defaults and validates the config.
func NormalizeEngineConfig(cfg EngineConfig) (EngineConfig, error) {
	if strings.TrimSpace(string(cfg.DefaultTitle)) == "" {
		cfg.DefaultTitle = DefaultTabTitle
	}
	if cfg.InboundDepth <= 0 {
		cfg.InboundDepth = DefaultInboundDepth
	}
	if cfg.ConnectWatchdog < 0 {
		return EngineConfig{}, errors.New("connect watchdog must not be negative")
	}
	if cfg.TitleMax < 0 {
		return EngineConfig{}, errors.New("title max must not be negative")
	}
	return cfg, nil
}
