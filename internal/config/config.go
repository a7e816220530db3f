package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Hue             HueConfig      `yaml:"hue"`
	Geo             GeoConfig      `yaml:"geo"`
	Storage         StorageConfig  `yaml:"storage"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	HTTP            HTTPConfig     `yaml:"http"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge       string   `yaml:"bridge"`
	Token        string   `yaml:"token"`
	Timeout      Duration `yaml:"timeout"`        // HTTP timeout for Hue API requests
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Per-light command rate (default: 10)
}

// GeoConfig contains geo/location settings for astronomical calculations
type GeoConfig struct {
	Name        string   `yaml:"name"`
	Timezone    string   `yaml:"timezone"`
	Lat         float64  `yaml:"lat,omitempty"`
	Lon         float64  `yaml:"lon,omitempty"`
	HTTPTimeout Duration `yaml:"http_timeout"` // Timeout for geocoding HTTP requests
	CacheTTL    Duration `yaml:"cache_ttl"`    // How long geocoding results stay valid (0 = forever)
}

// HasCoordinates reports whether lat/lon were configured.
func (c *GeoConfig) HasCoordinates() bool {
	return c.Lat != 0 || c.Lon != 0
}

// Location loads the configured timezone.
func (c *GeoConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// StorageConfig contains effect config persistence settings
type StorageConfig struct {
	ConfigDir string `yaml:"config_dir"` // One JSON file per effect config
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// HTTPConfig contains API server settings
type HTTPConfig struct {
	Enabled        *bool    `yaml:"enabled"` // default: true
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // Websocket origins, empty = same host only
}

// IsEnabled returns whether the API server runs (defaults to true).
func (c *HTTPConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Addr returns host:port.
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MQTTConfig contains status publisher settings
type MQTTConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Broker      string   `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string   `yaml:"client_id"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	TopicPrefix string   `yaml:"topic_prefix"`
	Timeout     Duration `yaml:"timeout"`
}

// LedgerConfig contains effect history settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"`          // default: true
	Retention       Duration `yaml:"retention"`        // default: 30 days
	CleanupSchedule string   `yaml:"cleanup_schedule"` // cron spec, default: @daily
}

// IsEnabled returns whether history is recorded (defaults to true).
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings plus a "d" suffix for days.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

var daysPattern = regexp.MustCompile(`^(\d+)d$`)

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if m := daysPattern.FindStringSubmatch(s); m != nil {
		days, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML after environment expansion and fills in defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./huefx.sqlite"
	}
	if cfg.Storage.ConfigDir == "" {
		cfg.Storage.ConfigDir = "./effects"
	}

	// Geo defaults
	if cfg.Geo.Timezone == "" {
		cfg.Geo.Timezone = "UTC"
	}
	if cfg.Geo.HTTPTimeout == 0 {
		cfg.Geo.HTTPTimeout = Duration(10 * time.Second)
	}

	// Hue defaults
	if cfg.Hue.Timeout == 0 {
		cfg.Hue.Timeout = Duration(30 * time.Second)
	}
	if cfg.Hue.RateLimitRPS == 0 {
		cfg.Hue.RateLimitRPS = 10.0 // 10 requests per second
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "huefx"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "huefx"
	}
	if cfg.MQTT.Timeout == 0 {
		cfg.MQTT.Timeout = Duration(10 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.Retention == 0 {
		cfg.Ledger.Retention = Duration(30 * 24 * time.Hour)
	}
	if cfg.Ledger.CleanupSchedule == "" {
		cfg.Ledger.CleanupSchedule = "@daily"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks settings that have no usable default.
func (cfg *Config) Validate() error {
	if cfg.Hue.Bridge == "" {
		return fmt.Errorf("hue.bridge is required")
	}
	if cfg.Hue.Token == "" {
		return fmt.Errorf("hue.token is required")
	}
	if _, err := cfg.Geo.Location(); err != nil {
		return err
	}
	if !cfg.Geo.HasCoordinates() && cfg.Geo.Name == "" {
		return fmt.Errorf("geo.name is required when lat/lon are not set")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
