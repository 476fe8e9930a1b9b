package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/sortline/internal/compute"
)

// Default values for the sortline configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultPeriod          = 5 * time.Second
	DefaultDetectDelay     = 1 * time.Second
	DefaultClassifyDelay   = 1500 * time.Millisecond
	DefaultRouteDelay      = 1500 * time.Millisecond
	DefaultCooldown        = 500 * time.Millisecond
	DefaultRefreshInterval = 5 * time.Second
	DefaultLogLimit        = compute.DefaultLogLimit
	DefaultDSNEnv          = "SORTLINE_DB_DSN"
	DefaultMQTTClientID    = "sortline"
	DefaultMQTTTopic       = "sortline/notifications"
)

// Config is the full sortline configuration parsed from config.yaml.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Conveyor  ConveyorConfig  `yaml:"conveyor"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Storage   StorageConfig   `yaml:"storage"`
	Notify    NotifyConfig    `yaml:"notify"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error. Defaults to info.
	Level string `yaml:"level"`
}

// SlogLevel maps Level to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
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

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how mutating REST calls are authenticated.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// ConveyorConfig sets the simulated line timings.
type ConveyorConfig struct {
	// Period is the interval between sorting runs while the conveyor is running.
	Period time.Duration `yaml:"period"`

	// DetectDelay is how long an item travels before the detector reports.
	DetectDelay time.Duration `yaml:"detect_delay"`

	// ClassifyDelay is how long classification takes after detection.
	ClassifyDelay time.Duration `yaml:"classify_delay"`

	// RouteDelay is how long the routing indicator stays lit before logging.
	RouteDelay time.Duration `yaml:"route_delay"`

	// Cooldown is the pause after the event is written, before the next run may start.
	Cooldown time.Duration `yaml:"cooldown"`

	// Seed fixes the classifier's random source when non-zero.
	Seed int64 `yaml:"seed"`

	// Autostart starts the conveyor as soon as the process is up.
	Autostart bool `yaml:"autostart"`
}

// DashboardConfig controls how snapshots are computed and pushed.
type DashboardConfig struct {
	// Filter is "all" or a positive number of seconds.
	Filter string `yaml:"filter"`

	// RefreshInterval is how often the current snapshot is recomputed and
	// rebroadcast even when the log has not changed.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// LogLimit caps the number of recent entries in a snapshot.
	LogLimit int `yaml:"log_limit"`
}

// StorageConfig selects the event-log backend.
type StorageConfig struct {
	// Backend is one of: memory | postgres.
	Backend string `yaml:"backend"`

	// DSNEnv is the environment variable holding the Postgres DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// DSN returns the Postgres DSN resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// NotifyConfig lists the notification sinks beyond the log and the websocket.
type NotifyConfig struct {
	// Levels lists the severities forwarded to webhooks and MQTT
	// (success | error | info). Defaults to error and info.
	Levels []string `yaml:"levels"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// MQTTConfig configures the MQTT notification publisher. An empty Broker
// disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Topic       string `yaml:"topic"`
	QoS         byte   `yaml:"qos"`
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
}

// Enabled reports whether an MQTT broker is configured.
func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

// Username returns the broker username resolved from the environment.
func (m MQTTConfig) Username() string {
	if m.UsernameEnv == "" {
		return ""
	}
	return os.Getenv(m.UsernameEnv)
}

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// AlertsConfig holds alerting rules. Delivery goes through the notify sinks.
type AlertsConfig struct {
	Rules []AlertRule `yaml:"rules"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "accuracy_pct < 80", "fault_count > 3".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	// Exporter is one of: none | stdout.
	Exporter string `yaml:"exporter"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes. An empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Auth:     AuthConfig{Mode: "none"},
		},
		Conveyor: ConveyorConfig{
			Period:        DefaultPeriod,
			DetectDelay:   DefaultDetectDelay,
			ClassifyDelay: DefaultClassifyDelay,
			RouteDelay:    DefaultRouteDelay,
			Cooldown:      DefaultCooldown,
		},
		Dashboard: DashboardConfig{
			Filter:          compute.FilterAll,
			RefreshInterval: DefaultRefreshInterval,
			LogLimit:        DefaultLogLimit,
		},
		Storage: StorageConfig{
			Backend: "memory",
			DSNEnv:  DefaultDSNEnv,
		},
		Notify: NotifyConfig{
			Levels: []string{"error", "info"},
			MQTT: MQTTConfig{
				ClientID: DefaultMQTTClientID,
				Topic:    DefaultMQTTTopic,
			},
		},
		Tracing: TracingConfig{Exporter: "none"},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.Auth.Mode == "apikey" && cfg.Server.Auth.KeyEnv == "" {
		return fmt.Errorf("server.auth.key_env is required when mode is apikey")
	}

	c := cfg.Conveyor
	if c.Period <= 0 {
		return fmt.Errorf("conveyor.period must be positive")
	}
	if c.DetectDelay < 0 || c.ClassifyDelay < 0 || c.RouteDelay < 0 || c.Cooldown < 0 {
		return fmt.Errorf("conveyor delays must not be negative")
	}

	if _, err := compute.ParseFilter(cfg.Dashboard.Filter); err != nil {
		return fmt.Errorf("dashboard.filter: %w", err)
	}
	if cfg.Dashboard.RefreshInterval <= 0 {
		return fmt.Errorf("dashboard.refresh_interval must be positive")
	}
	if cfg.Dashboard.LogLimit <= 0 {
		return fmt.Errorf("dashboard.log_limit must be positive")
	}

	switch cfg.Storage.Backend {
	case "memory", "":
	case "postgres":
		if cfg.Storage.DSNEnv == "" {
			return fmt.Errorf("storage.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q unknown: want memory|postgres", cfg.Storage.Backend)
	}

	for i, l := range cfg.Notify.Levels {
		switch l {
		case "success", "error", "info":
		default:
			return fmt.Errorf("notify.levels[%d] %q unknown: want success|error|info", i, l)
		}
	}
	for i, wh := range cfg.Notify.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("notify.webhooks[%d].type %q unknown: want slack|teams|http", i, wh.Type)
		}
	}
	if cfg.Notify.MQTT.Enabled() {
		if cfg.Notify.MQTT.Topic == "" {
			return fmt.Errorf("notify.mqtt.topic is required when a broker is set")
		}
		if cfg.Notify.MQTT.QoS > 2 {
			return fmt.Errorf("notify.mqtt.qos %d is out of range [0, 2]", cfg.Notify.MQTT.QoS)
		}
	}

	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d].name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d].condition is required", i)
		}
		if r.Cooldown < 0 {
			return fmt.Errorf("alerts.rules[%d].cooldown must not be negative", i)
		}
	}

	switch cfg.Tracing.Exporter {
	case "none", "stdout", "":
	default:
		return fmt.Errorf("tracing.exporter %q unknown: want none|stdout", cfg.Tracing.Exporter)
	}
	return nil
}
