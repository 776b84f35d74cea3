package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	sharedConfig "github.com/touchon/flowbus/internal/shared/config"
)

type Config struct {
	Server    sharedConfig.ServerConfig    `mapstructure:"server"`
	Logger    sharedConfig.LoggerConfig    `mapstructure:"logger"`
	Redis     sharedConfig.RedisConfig     `mapstructure:"redis"`
	Flow      sharedConfig.FlowConfig      `mapstructure:"flow"`
	Reconnect sharedConfig.ReconnectConfig `mapstructure:"reconnect"`
	Transport sharedConfig.TransportConfig `mapstructure:"transport"`
	StateAPI  sharedConfig.StateAPIConfig  `mapstructure:"state_api"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load loads configuration from file and environment variables.
// A missing config file is not an error: defaults and FLOWBUS_* variables
// are enough to run the host.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("/etc/flowbus")
	}

	v.SetEnvPrefix("FLOWBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	appConfigMu.Lock()
	appConfig = &config
	appConfigMu.Unlock()

	return &config, nil
}

// Get returns the loaded configuration, or nil before Load.
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	// HTTP status surface
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 1881)
	v.SetDefault("server.mode", "release")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output_path", "stdout")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("flow.file", "./configs/flows.yaml")

	v.SetDefault("reconnect.initial_interval", time.Second)
	v.SetDefault("reconnect.max_interval", 60*time.Second)
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("reconnect.randomization_factor", 0.1)

	v.SetDefault("transport.handshake_timeout", 10*time.Second)
	v.SetDefault("transport.write_wait", 10*time.Second)
	v.SetDefault("transport.pong_wait", 60*time.Second)
	v.SetDefault("transport.ping_period", 30*time.Second)

	v.SetDefault("state_api.timeout", 10*time.Second)
}
