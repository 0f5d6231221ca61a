package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all application-level configuration (the mode table and
// system constants are a separate, hot-reloadable schema; see modes.go).
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	HAL       HALConfig       `mapstructure:"hal"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig contains HTTP/WS coordinator surface settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// HALConfig selects and configures the hardware abstraction backend.
type HALConfig struct {
	Backend      string `mapstructure:"backend"` // "rpi", "simulator", "fake"
	ADCBus       string `mapstructure:"adc_bus"`
	ADCChannel   int    `mapstructure:"adc_channel"`
	SimulatorURL string `mapstructure:"simulator_url"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TelemetryConfig contains the optional external sinks: MQTT, Redis,
// InfluxDB, and the local sqlite event log.
type TelemetryConfig struct {
	EventLogPath string `mapstructure:"event_log_path"`

	MQTTBroker string `mapstructure:"mqtt_broker"`
	MQTTTopic  string `mapstructure:"mqtt_topic"`

	RedisAddr    string `mapstructure:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel"`

	InfluxURL    string `mapstructure:"influx_url"`
	InfluxToken  string `mapstructure:"influx_token"`
	InfluxOrg    string `mapstructure:"influx_org"`
	InfluxBucket string `mapstructure:"influx_bucket"`
}

// SecurityConfig contains JWT and operator-PIN auth settings.
type SecurityConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	TokenTTLMin int    `mapstructure:"token_ttl_min"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults.
	}

	v.SetEnvPrefix("DRILLCTL")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("hal.backend", "fake")
	v.SetDefault("hal.adc_bus", "SPI0.0")
	v.SetDefault("hal.adc_channel", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file_path", "./logs/drillctl.log")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)

	v.SetDefault("telemetry.event_log_path", "./data/drillctl.db")
	v.SetDefault("telemetry.mqtt_topic", "drillctl/status")
	v.SetDefault("telemetry.redis_channel", "drillctl:status")

	v.SetDefault("security.token_ttl_min", 60)
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".drillctl")
}
