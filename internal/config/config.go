package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the switch controller.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir       string
	ControlHost   string // bind address for the call-control listener
	ControlPort   int    // port for the call-control listener
	AdvertiseHost string // address the switch uses to reach the control listener
	MaxSessions   int    // concurrent call session bound
	HTTPPort      int    // configuration lookup + metrics server port

	EventSocketHost     string // switch event socket address
	EventSocketPort     int
	EventSocketPassword string
	ReconnectDelay      int // seconds between event feed reconnect attempts

	PresenceProxy string // SIP proxy receiving presence NOTIFY datagrams
	LocalSIPHost  string // host named in outgoing NOTIFY From/Contact headers

	TenantsFile   string // JSON tenant list; empty selects the built-in set
	DefaultTenant string // fallback tenant domain; empty selects the first

	LogLevel  string
	LogFormat string // log output format: "text" or "json"
}

// defaults
const (
	defaultDataDir        = "./data"
	defaultControlHost    = "0.0.0.0"
	defaultControlPort    = 5002
	defaultAdvertiseHost  = "127.0.0.1"
	defaultMaxSessions    = 50
	defaultHTTPPort       = 5000
	defaultESLHost        = "127.0.0.1"
	defaultESLPort        = 8021
	defaultESLPassword    = "ClueCon"
	defaultReconnectDelay = 5
	defaultPresenceProxy  = "127.0.0.1:5060"
	defaultLocalSIPHost   = "127.0.0.1"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// envPrefix is the prefix for all environment variables.
const envPrefix = "FSEC2_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("fs-ec2", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for call history storage")
	fs.StringVar(&cfg.ControlHost, "control-host", defaultControlHost, "bind address for the call-control listener")
	fs.IntVar(&cfg.ControlPort, "control-port", defaultControlPort, "port for the call-control listener")
	fs.StringVar(&cfg.AdvertiseHost, "advertise-host", defaultAdvertiseHost, "address the switch uses to reach the control listener")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", defaultMaxSessions, "maximum concurrent call sessions")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "configuration lookup and metrics server port")
	fs.StringVar(&cfg.EventSocketHost, "event-socket-host", defaultESLHost, "switch event socket host")
	fs.IntVar(&cfg.EventSocketPort, "event-socket-port", defaultESLPort, "switch event socket port")
	fs.StringVar(&cfg.EventSocketPassword, "event-socket-password", defaultESLPassword, "switch event socket password")
	fs.IntVar(&cfg.ReconnectDelay, "reconnect-delay", defaultReconnectDelay, "seconds between event feed reconnect attempts")
	fs.StringVar(&cfg.PresenceProxy, "presence-proxy", defaultPresenceProxy, "SIP proxy address for presence NOTIFY datagrams")
	fs.StringVar(&cfg.LocalSIPHost, "local-sip-host", defaultLocalSIPHost, "host named in outgoing NOTIFY headers")
	fs.StringVar(&cfg.TenantsFile, "tenants-file", "", "JSON tenant list (built-in tenants if empty)")
	fs.StringVar(&cfg.DefaultTenant, "default-tenant", "", "fallback tenant domain (first tenant if empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":              envPrefix + "DATA_DIR",
		"control-host":          envPrefix + "CONTROL_HOST",
		"control-port":          envPrefix + "CONTROL_PORT",
		"advertise-host":        envPrefix + "ADVERTISE_HOST",
		"max-sessions":          envPrefix + "MAX_SESSIONS",
		"http-port":             envPrefix + "HTTP_PORT",
		"event-socket-host":     envPrefix + "EVENT_SOCKET_HOST",
		"event-socket-port":     envPrefix + "EVENT_SOCKET_PORT",
		"event-socket-password": envPrefix + "EVENT_SOCKET_PASSWORD",
		"reconnect-delay":       envPrefix + "RECONNECT_DELAY",
		"presence-proxy":        envPrefix + "PRESENCE_PROXY",
		"local-sip-host":        envPrefix + "LOCAL_SIP_HOST",
		"tenants-file":          envPrefix + "TENANTS_FILE",
		"default-tenant":        envPrefix + "DEFAULT_TENANT",
		"log-level":             envPrefix + "LOG_LEVEL",
		"log-format":            envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "control-host":
			cfg.ControlHost = val
		case "control-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ControlPort = v
			}
		case "advertise-host":
			cfg.AdvertiseHost = val
		case "max-sessions":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxSessions = v
			}
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "event-socket-host":
			cfg.EventSocketHost = val
		case "event-socket-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.EventSocketPort = v
			}
		case "event-socket-password":
			cfg.EventSocketPassword = val
		case "reconnect-delay":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ReconnectDelay = v
			}
		case "presence-proxy":
			cfg.PresenceProxy = val
		case "local-sip-host":
			cfg.LocalSIPHost = val
		case "tenants-file":
			cfg.TenantsFile = val
		case "default-tenant":
			cfg.DefaultTenant = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.ControlPort < 1 || c.ControlPort > 65535 {
		return fmt.Errorf("control-port must be between 1 and 65535, got %d", c.ControlPort)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.EventSocketPort < 1 || c.EventSocketPort > 65535 {
		return fmt.Errorf("event-socket-port must be between 1 and 65535, got %d", c.EventSocketPort)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("max-sessions must be at least 1, got %d", c.MaxSessions)
	}
	if c.ReconnectDelay < 1 {
		return fmt.Errorf("reconnect-delay must be at least 1 second, got %d", c.ReconnectDelay)
	}
	if _, _, err := net.SplitHostPort(c.PresenceProxy); err != nil {
		return fmt.Errorf("presence-proxy must be host:port, got %q", c.PresenceProxy)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// ControlAddr returns the bind address for the call-control listener.
func (c *Config) ControlAddr() string {
	return net.JoinHostPort(c.ControlHost, strconv.Itoa(c.ControlPort))
}

// AdvertiseAddr returns the control listener address as the switch should
// dial it, for use in generated dialplans.
func (c *Config) AdvertiseAddr() string {
	return net.JoinHostPort(c.AdvertiseHost, strconv.Itoa(c.ControlPort))
}

// EventSocketAddr returns the switch event socket address.
func (c *Config) EventSocketAddr() string {
	return net.JoinHostPort(c.EventSocketHost, strconv.Itoa(c.EventSocketPort))
}

// ReconnectInterval returns the event feed retry delay as a duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectDelay) * time.Second
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
