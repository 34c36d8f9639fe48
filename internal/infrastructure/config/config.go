package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the RWS client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller   ControllerConfig   `yaml:"controller"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Mastership   MastershipConfig   `yaml:"mastership"`
	Host         HostConfig         `yaml:"host"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	Database     DatabaseConfig     `yaml:"database"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
}

// ControllerConfig contains connection settings for the robot controller service.
type ControllerConfig struct {
	// URL is the controller base URL, e.g. "https://192.168.125.1".
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// RequestTimeout bounds every HTTP request (seconds). Default: 30
	RequestTimeout int `yaml:"request_timeout"`

	// KeepaliveTimeout bounds requests issued while unloading (seconds). Default: 5
	KeepaliveTimeout int `yaml:"keepalive_timeout"`

	// InsecureSkipVerify accepts the controller's self-signed certificate.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// StatusCacheTTL is how long decoded return codes are cached (seconds). Default: 3600
	StatusCacheTTL int `yaml:"status_cache_ttl"`
}

// SubscriptionConfig contains subscription group and WebSocket settings.
type SubscriptionConfig struct {
	// Protocol is the WebSocket sub-protocol name. Default: "rws_subscription"
	Protocol string `yaml:"protocol"`

	// DefaultPriority is used for resources that don't declare one (0-2). Default: 1
	DefaultPriority int `yaml:"default_priority"`

	// StartupTimeout bounds group creation including the socket open (seconds). Default: 15
	StartupTimeout int `yaml:"startup_timeout"`

	// ClosePollInterval is the wait between socket-closed checks (milliseconds). Default: 100
	ClosePollInterval int `yaml:"close_poll_interval"`

	// ClosePollAttempts is how many times a subscribe waits for a closing socket. Default: 10
	ClosePollAttempts int `yaml:"close_poll_attempts"`
}

// MastershipConfig contains mastership settings.
type MastershipConfig struct {
	// HostAckTimeout bounds the wait for a host acknowledgement (seconds).
	// 0 waits indefinitely. Default: 30
	HostAckTimeout int `yaml:"host_ack_timeout"`
}

// HostConfig describes the optional embedding host reached over MQTT.
type HostConfig struct {
	// Enabled routes mastership and cleanup traffic through the host bridge.
	Enabled bool `yaml:"enabled"`

	// TopicPrefix is the root of all host bridge topics. Default: "rwsclient"
	TopicPrefix string `yaml:"topic_prefix"`

	// SendTimeout bounds fire-and-forget host messages (seconds). Default: 3
	SendTimeout int `yaml:"send_timeout"`

	// UnloadGrace is how long main waits for unload cleanup (seconds). Default: 5
	UnloadGrace int `yaml:"unload_grace"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains local control API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the local event relay socket.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// DatabaseConfig contains SQLite journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionHours prunes journal rows older than this. 0 keeps everything.
	RetentionHours int `yaml:"retention_hours"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains control API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RWSCLIENT_SECTION_KEY
// For example: RWSCLIENT_CONTROLLER_URL, RWSCLIENT_CONTROLLER_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			URL:              "https://localhost",
			Username:         "Default User",
			Password:         "robotics",
			RequestTimeout:   30,
			KeepaliveTimeout: 5,
			StatusCacheTTL:   3600,
		},
		Subscription: SubscriptionConfig{
			Protocol:          "rws_subscription",
			DefaultPriority:   1,
			StartupTimeout:    15,
			ClosePollInterval: 100,
			ClosePollAttempts: 10,
		},
		Mastership: MastershipConfig{
			HostAckTimeout: 30,
		},
		Host: HostConfig{
			TopicPrefix: "rwsclient",
			SendTimeout: 3,
			UnloadGrace: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rws-client",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8470,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			Path:           "./data/rwsclient.db",
			WALMode:        true,
			BusyTimeout:    5,
			RetentionHours: 72,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RWSCLIENT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("RWSCLIENT_CONTROLLER_URL"); v != "" {
		cfg.Controller.URL = v
	}
	if v := os.Getenv("RWSCLIENT_CONTROLLER_USERNAME"); v != "" {
		cfg.Controller.Username = v
	}
	if v := os.Getenv("RWSCLIENT_CONTROLLER_PASSWORD"); v != "" {
		cfg.Controller.Password = v
	}

	// Host bridge
	if v := os.Getenv("RWSCLIENT_HOST_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Host.Enabled = enabled
		}
	}

	// MQTT
	if v := os.Getenv("RWSCLIENT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RWSCLIENT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RWSCLIENT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("RWSCLIENT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("RWSCLIENT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("RWSCLIENT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Controller validation
	if c.Controller.URL == "" {
		errs = append(errs, "controller.url is required")
	} else if u, err := url.Parse(c.Controller.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "controller.url must be an absolute http(s) URL")
	}
	if c.Controller.RequestTimeout <= 0 {
		errs = append(errs, "controller.request_timeout must be positive")
	}

	// Subscription validation
	if c.Subscription.Protocol == "" {
		errs = append(errs, "subscription.protocol is required")
	}
	if c.Subscription.DefaultPriority < 0 || c.Subscription.DefaultPriority > 2 {
		errs = append(errs, "subscription.default_priority must be 0, 1, or 2")
	}
	if c.Subscription.StartupTimeout <= 0 {
		errs = append(errs, "subscription.startup_timeout must be positive")
	}

	// Mastership validation
	if c.Mastership.HostAckTimeout < 0 {
		errs = append(errs, "mastership.host_ack_timeout must not be negative")
	}

	// MQTT validation (only relevant when the host bridge is used)
	if c.Host.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.Host.TopicPrefix == "" {
			errs = append(errs, "host.topic_prefix is required when host is enabled")
		}
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The control API can release locks and tear down subscriptions, so it
		// never runs without a signing secret.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api is enabled (set RWSCLIENT_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the controller request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Controller.RequestTimeout) * time.Second
}

// GetKeepaliveTimeout returns the unload-mode request timeout as a Duration.
func (c *Config) GetKeepaliveTimeout() time.Duration {
	return time.Duration(c.Controller.KeepaliveTimeout) * time.Second
}

// GetStartupTimeout returns the subscription group startup timeout as a Duration.
func (c *Config) GetStartupTimeout() time.Duration {
	return time.Duration(c.Subscription.StartupTimeout) * time.Second
}

// GetClosePollInterval returns the socket close poll interval as a Duration.
func (c *Config) GetClosePollInterval() time.Duration {
	return time.Duration(c.Subscription.ClosePollInterval) * time.Millisecond
}

// GetHostAckTimeout returns the host acknowledgement timeout. Zero means no timeout.
func (c *Config) GetHostAckTimeout() time.Duration {
	return time.Duration(c.Mastership.HostAckTimeout) * time.Second
}

// GetHostSendTimeout returns the fire-and-forget host message timeout.
func (c *Config) GetHostSendTimeout() time.Duration {
	return time.Duration(c.Host.SendTimeout) * time.Second
}

// GetUnloadGrace returns how long unload-triggered cleanup may run before exit.
func (c *Config) GetUnloadGrace() time.Duration {
	return time.Duration(c.Host.UnloadGrace) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
