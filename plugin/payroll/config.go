// plugin/payroll/config.go
package payroll

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type PluginConfig struct {
	RpcURL          string `mapstructure:"rpc_url"`
	ChainID         int64  `mapstructure:"chain_id"`
	ContractAddress string `mapstructure:"contract_address"`
	ExplorerURL     string `mapstructure:"explorer_url"`
	Signer          struct {
		PrivateKey string `mapstructure:"private_key"`
	} `mapstructure:"signer"`
	Gas struct {
		DepositLimit         uint64 `mapstructure:"deposit_limit"`
		DisperseBase         uint64 `mapstructure:"disperse_base"`
		DispersePerRecipient uint64 `mapstructure:"disperse_per_recipient"`
		WithdrawLimit        uint64 `mapstructure:"withdraw_limit"`
	} `mapstructure:"gas"`
	Monitoring struct {
		SubmitTimeout     time.Duration `mapstructure:"submit_timeout"`
		ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
		LateConfirmWindow time.Duration `mapstructure:"late_confirm_window"`
		PollInterval      time.Duration `mapstructure:"poll_interval"`
		RefreshDelay      time.Duration `mapstructure:"refresh_delay"`
		RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	} `mapstructure:"monitoring"`
	History struct {
		LookbackBlocks uint64        `mapstructure:"lookback_blocks"`
		SyncInterval   time.Duration `mapstructure:"sync_interval"`
	} `mapstructure:"history"`
	Oracle struct {
		URL          string        `mapstructure:"url"`
		CoinID       string        `mapstructure:"coin_id"`
		VsCurrency   string        `mapstructure:"vs_currency"`
		DefaultPrice string        `mapstructure:"default_price"`
		CacheTTL     time.Duration `mapstructure:"cache_ttl"`
		Timeout      time.Duration `mapstructure:"timeout"`
	} `mapstructure:"oracle"`
}

var pluginDefaults = map[string]interface{}{
	"rpc_url":                        "https://api-unstable.shardeum.org",
	"chain_id":                       8081,
	"contract_address":               "0xd526E17ebD9Cb6Ff3C6C8d845Fb28F276ba1fcb0",
	"explorer_url":                   "https://explorer-unstable.shardeum.org",
	"signer.private_key":             "",
	"gas.deposit_limit":              100000,
	"gas.disperse_base":              300000,
	"gas.disperse_per_recipient":     50000,
	"gas.withdraw_limit":             100000,
	"monitoring.submit_timeout":      "2m",
	"monitoring.confirm_timeout":     "2m",
	"monitoring.late_confirm_window": "20m",
	"monitoring.poll_interval":       "2s",
	"monitoring.refresh_delay":       "3s",
	"monitoring.refresh_interval":    "30s",
	"history.lookback_blocks":        10000,
	"history.sync_interval":          "1m",
	"oracle.url":                     "https://api.coingecko.com/api/v3/simple/price",
	"oracle.coin_id":                 "shardeum",
	"oracle.vs_currency":             "usd",
	"oracle.default_price":           "0.05",
	"oracle.cache_ttl":               "1m",
	"oracle.timeout":                 "5s",
}

// LoadPluginConfig reads payroll.{yaml,json,toml} from basePath, the working
// directory or /etc/vultisig, with PAYROLL_* environment overrides. A missing
// file is fine: defaults and the environment are used instead.
func LoadPluginConfig(basePath string) (*PluginConfig, error) {
	v := viper.New()
	v.SetConfigName("payroll")

	// Add config paths in order of precedence
	if basePath != "" {
		v.AddConfigPath(basePath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vultisig")

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("PAYROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range pluginDefaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return DecodePluginConfig(v.AllSettings())
}

// DecodePluginConfig builds a validated config from a raw settings map, as
// found under plugin_configs in the server config. Missing keys keep their
// defaults.
func DecodePluginConfig(raw map[string]interface{}) (*PluginConfig, error) {
	config := defaultPluginConfig()
	if err := decodeInto(raw, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func defaultPluginConfig() *PluginConfig {
	nested := make(map[string]interface{})
	for key, value := range pluginDefaults {
		parts := strings.Split(key, ".")
		m := nested
		for _, part := range parts[:len(parts)-1] {
			next, ok := m[part].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				m[part] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = value
	}

	var config PluginConfig
	// defaults are static and known to decode
	_ = decodeInto(nested, &config)
	return &config
}

func decodeInto(raw map[string]interface{}, config *PluginConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           config,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func (c *PluginConfig) validate() error {
	if c.RpcURL == "" {
		return errors.New("rpc_url is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("invalid contract_address: %q", c.ContractAddress)
	}
	if c.Gas.DepositLimit == 0 || c.Gas.DisperseBase == 0 || c.Gas.DispersePerRecipient == 0 {
		return errors.New("gas limits must be positive")
	}
	if c.Monitoring.SubmitTimeout <= 0 || c.Monitoring.ConfirmTimeout <= 0 {
		return errors.New("monitoring timeouts must be positive")
	}
	if c.Monitoring.PollInterval <= 0 || c.Monitoring.RefreshInterval <= 0 {
		return errors.New("monitoring intervals must be positive")
	}
	if c.History.LookbackBlocks == 0 {
		return errors.New("history lookback must be positive")
	}
	if c.History.SyncInterval <= 0 {
		return errors.New("history sync interval must be positive")
	}
	price, err := decimal.NewFromString(c.Oracle.DefaultPrice)
	if err != nil || !price.IsPositive() {
		return fmt.Errorf("invalid oracle default_price: %q", c.Oracle.DefaultPrice)
	}
	return nil
}

// DisperseGasLimit is the gas ceiling of a disperse call: a fixed base plus a
// linear per-recipient term.
func (c *PluginConfig) DisperseGasLimit(recipients int) uint64 {
	return c.Gas.DisperseBase + uint64(recipients)*c.Gas.DispersePerRecipient
}

// DefaultPrice is the fallback fiat price used when the oracle is unavailable.
func (c *PluginConfig) DefaultPrice() decimal.Decimal {
	return decimal.RequireFromString(c.Oracle.DefaultPrice)
}

func (c *PluginConfig) Custody() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// ExplorerTxURL links a transaction on the block explorer, or returns "" when
// no explorer is configured.
func (c *PluginConfig) ExplorerTxURL(hash common.Hash) string {
	if c.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(c.ExplorerURL, "/") + "/tx/" + hash.Hex()
}
