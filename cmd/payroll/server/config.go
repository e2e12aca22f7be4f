package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/payroll/config"
	"github.com/vultisig/payroll/plugin/payroll"
)

// loadPluginConfig prefers the inline plugin_configs.payroll section and
// falls back to payroll.* under base_config_path.
func loadPluginConfig(cfg *config.Config) (*payroll.PluginConfig, error) {
	if raw, ok := cfg.PayrollPluginConfig(); ok {
		return payroll.DecodePluginConfig(raw)
	}
	return payroll.LoadPluginConfig(cfg.BaseConfigPath)
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.WithError(err).Warn("invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
