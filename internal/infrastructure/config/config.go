package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the cloudsync daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud    CloudConfig    `yaml:"cloud"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Report   ReportConfig   `yaml:"report"`
	Battery  BatteryConfig  `yaml:"battery"`
	Power    PowerConfig    `yaml:"power"`
}

// CloudConfig contains the IoT platform device identity and module versions.
type CloudConfig struct {
	// ProductKey and DeviceKey identify the device on the platform and are
	// embedded verbatim into every topic string.
	ProductKey    string `yaml:"product_key"`
	ProductSecret string `yaml:"product_secret"`
	DeviceKey     string `yaml:"device_key"`
	DeviceSecret  string `yaml:"device_secret"`

	// Server is the platform endpoint host. The full broker address is
	// derived as <product_key>.<server>.
	Server string `yaml:"server"`

	// BurningMethod selects which credential pair was burned into the
	// device: 0 = product secret (device secret unset), 1 = device secret.
	BurningMethod int `yaml:"burning_method"`

	// KeepAlive is the MQTT session keepalive in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// SchemaPath is the filesystem path to the object-model JSON document.
	SchemaPath string `yaml:"schema_path"`

	// Module identities reported to the OTA service.
	MCUName         string `yaml:"mcu_name"`
	MCUVersion      string `yaml:"mcu_version"`
	FirmwareName    string `yaml:"firmware_name"`
	FirmwareVersion string `yaml:"firmware_version"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"`
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

// DatabaseConfig contains SQLite database settings for the publish journal.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ReportConfig controls the periodic telemetry report loop.
type ReportConfig struct {
	// Interval between telemetry reports, in seconds.
	Interval int `yaml:"interval"`

	// LocationMethods is a bit-OR of the positioning methods to read on
	// each report: GPS(1), cellular(2), WiFi(4).
	LocationMethods int `yaml:"location_methods"`

	// GPSDevice is the NMEA stream to read GPS fixes from, typically a
	// serial receiver device file. Empty disables the GPS source.
	GPSDevice string `yaml:"gps_device"`

	// BatteryVoltagePath is the sysfs file exposing the battery voltage in
	// microvolts. Empty disables the battery energy key.
	BatteryVoltagePath string `yaml:"battery_voltage_path"`
}

// BatteryConfig contains battery gauge settings.
type BatteryConfig struct {
	// Chemistry names the OCV curve set used for voltage-to-energy conversion.
	Chemistry string `yaml:"chemistry"`

	// Samples is the number of voltage readings averaged per measurement.
	Samples int `yaml:"samples"`
}

// PowerConfig contains low-energy wake settings. The wake period is
// report.interval; between wakes the device sleeps per Method.
type PowerConfig struct {
	// Method selects the sleep strategy between wakes: NULL, PM, PSM or POWERDOWN.
	Method string `yaml:"method"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CLOUDSYNC_SECTION_KEY
// For example: CLOUDSYNC_CLOUD_DEVICE_SECRET, CLOUDSYNC_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			Server:    "iot-as-mqtt.cn-shanghai.aliyuncs.com",
			KeepAlive: 120,
			MCUName:   "default",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port: 1883,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/cloudsync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Report: ReportConfig{
			Interval:        300,
			LocationMethods: 0x7,
		},
		Battery: BatteryConfig{
			Chemistry: "nix_coy_mnzo2",
			Samples:   100,
		},
		Power: PowerConfig{
			Method: "PM",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CLOUDSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud identity - secrets should come from the environment in production
	if v := os.Getenv("CLOUDSYNC_CLOUD_PRODUCT_KEY"); v != "" {
		cfg.Cloud.ProductKey = v
	}
	if v := os.Getenv("CLOUDSYNC_CLOUD_PRODUCT_SECRET"); v != "" {
		cfg.Cloud.ProductSecret = v
	}
	if v := os.Getenv("CLOUDSYNC_CLOUD_DEVICE_KEY"); v != "" {
		cfg.Cloud.DeviceKey = v
	}
	if v := os.Getenv("CLOUDSYNC_CLOUD_DEVICE_SECRET"); v != "" {
		cfg.Cloud.DeviceSecret = v
	}
	if v := os.Getenv("CLOUDSYNC_CLOUD_SERVER"); v != "" {
		cfg.Cloud.Server = v
	}

	// MQTT
	if v := os.Getenv("CLOUDSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CLOUDSYNC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("CLOUDSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CLOUDSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("CLOUDSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Logging
	if v := os.Getenv("CLOUDSYNC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Cloud identity validation
	if c.Cloud.ProductKey == "" {
		errs = append(errs, "cloud.product_key is required")
	}
	if c.Cloud.DeviceKey == "" {
		errs = append(errs, "cloud.device_key is required")
	}
	switch c.Cloud.BurningMethod {
	case 0:
		if c.Cloud.ProductSecret == "" {
			errs = append(errs, "cloud.product_secret is required when burning_method is 0")
		}
	case 1:
		if c.Cloud.DeviceSecret == "" {
			errs = append(errs, "cloud.device_secret is required when burning_method is 1")
		}
	default:
		errs = append(errs, "cloud.burning_method must be 0 or 1")
	}
	if c.Cloud.KeepAlive < 30 || c.Cloud.KeepAlive > 1200 {
		errs = append(errs, "cloud.keep_alive must be between 30 and 1200 seconds")
	}
	if c.Cloud.SchemaPath == "" {
		errs = append(errs, "cloud.schema_path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port <= 0 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Report validation
	if c.Report.Interval <= 0 {
		errs = append(errs, "report.interval must be positive")
	}
	if c.Report.LocationMethods < 0 || c.Report.LocationMethods > 0x7 {
		errs = append(errs, "report.location_methods must be a bit-OR of 1 (GPS), 2 (cell), 4 (wifi)")
	}

	// Power validation
	switch c.Power.Method {
	case "NULL", "PM", "PSM", "POWERDOWN":
	default:
		errs = append(errs, "power.method must be one of NULL, PM, PSM, POWERDOWN")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerHost returns the MQTT broker host, preferring an explicit
// mqtt.broker.host and falling back to the platform convention
// <product_key>.<server>.
func (c *Config) BrokerHost() string {
	if c.MQTT.Broker.Host != "" {
		return c.MQTT.Broker.Host
	}
	return c.Cloud.ProductKey + "." + c.Cloud.Server
}
