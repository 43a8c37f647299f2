package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Mortal Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// AppConfig contains process-wide settings.
type AppConfig struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty AllowedOrigins list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the live change feed.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MQTTConfig contains settings for the optional change-event publisher.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains authentication and authorisation settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// SuperRole is the role code whose holders see every menu node.
	SuperRole string `yaml:"super_role"`

	// MinPasswordLength applies to registration, admin creation and password changes.
	MinPasswordLength int `yaml:"min_password_length"`
}

// JWTConfig contains token lifetimes (minutes) and the refresh rotation policy.
type JWTConfig struct {
	Secret                 string `yaml:"secret"`
	AccessTokenTTL         int    `yaml:"access_token_ttl"`
	RefreshTokenTTL        int    `yaml:"refresh_token_ttl"`
	RotateRefreshTokens    bool   `yaml:"rotate_refresh_tokens"`
	BlacklistAfterRotation bool   `yaml:"blacklist_after_rotation"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern MORTAL_SECTION_KEY, for example
// MORTAL_DATABASE_PATH or MORTAL_API_PORT.
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
// Token lifetimes follow the console's historical 7-day sessions.
func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "mortal",
			Timezone: "Asia/Shanghai",
		},
		Database: DatabaseConfig{
			Path:        "./data/mortal.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mortal-core",
			},
			QoS:         1,
			TopicPrefix: "mortal",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:         7 * 24 * 60,
				RefreshTokenTTL:        7 * 24 * 60,
				RotateRefreshTokens:    true,
				BlacklistAfterRotation: true,
			},
			SuperRole:         "SUPER_ADMIN",
			MinPasswordLength: 6,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MORTAL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("MORTAL_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MORTAL_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("MORTAL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MORTAL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MORTAL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("MORTAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Always override the JWT secret in production.
	if v := os.Getenv("MORTAL_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("app.timezone %q is not a valid IANA zone", c.App.Timezone))
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set MORTAL_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Security.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if c.Security.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, "security.jwt.refresh_token_ttl must be positive")
	}
	if c.Security.SuperRole == "" {
		errs = append(errs, "security.super_role is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the configured timezone. Validate guarantees it loads;
// UTC is returned if it somehow does not.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AccessTTL returns the access token lifetime as a Duration.
func (j JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.AccessTokenTTL) * time.Minute
}

// RefreshTTL returns the refresh token lifetime as a Duration.
func (j JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(j.RefreshTokenTTL) * time.Minute
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
