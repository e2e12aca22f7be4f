package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/vultisig/payroll/api"
	"github.com/vultisig/payroll/storage"
)

type Config struct {
	Server api.ServerConfig `mapstructure:"server" json:"server"`
	// BaseConfigPath is where payroll.{yaml,json,...} is looked up when no
	// inline plugin config is given.
	BaseConfigPath string `mapstructure:"base_config_path" json:"base_config_path,omitempty"`

	Plugin struct {
		PluginConfigs map[string]map[string]interface{} `mapstructure:"plugin_configs" json:"plugin_configs,omitempty"`
	} `mapstructure:"plugin" json:"plugin,omitempty"`

	Redis   storage.RedisConfig `mapstructure:"redis" json:"redis,omitempty"`
	Datadog struct {
		Host string `mapstructure:"host" json:"host,omitempty"`
		Port string `mapstructure:"port" json:"port,omitempty"`
	} `mapstructure:"datadog" json:"datadog"`
	Log struct {
		Level  string `mapstructure:"level" json:"level,omitempty"`
		Format string `mapstructure:"format" json:"format,omitempty"`
	} `mapstructure:"log" json:"log"`
}

func GetConfigure() (*Config, error) {
	configName := os.Getenv("VS_CONFIG_NAME")
	if configName == "" {
		configName = "config"
	}

	return ReadConfig(configName, ".")
}

func ReadConfig(configName string, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("base_config_path", ".")
	v.SetDefault("datadog.host", "localhost")
	v.SetDefault("datadog.port", "8125")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fail to reading config file, %w", err)
	}
	var cfg Config
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	return &cfg, nil
}

// PayrollPluginConfig returns the inline payroll plugin section, if any.
func (c *Config) PayrollPluginConfig() (map[string]interface{}, bool) {
	raw, ok := c.Plugin.PluginConfigs["payroll"]
	return raw, ok && len(raw) > 0
}
