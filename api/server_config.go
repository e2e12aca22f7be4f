package api

import "time"

type ServerConfig struct {
	Host string `mapstructure:"host" json:"host,omitempty"`
	Port int64  `mapstructure:"port" json:"port,omitempty"`
	// BodyLimit caps request bodies, e.g. "2M".
	BodyLimit string `mapstructure:"body_limit" json:"body_limit,omitempty"`
	RateLimit struct {
		Rate      float64       `mapstructure:"rate" json:"rate,omitempty"`
		Burst     int           `mapstructure:"burst" json:"burst,omitempty"`
		ExpiresIn time.Duration `mapstructure:"expires_in" json:"expires_in,omitempty"`
	} `mapstructure:"rate_limit" json:"rate_limit,omitempty"`
	// RequestTimeout bounds read-only handlers that reach the node.
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout,omitempty"`
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.BodyLimit == "" {
		c.BodyLimit = "2M"
	}
	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 30
	}
	if c.RateLimit.ExpiresIn == 0 {
		c.RateLimit.ExpiresIn = 5 * time.Minute
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}
