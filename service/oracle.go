package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/payroll/internal/types"
	"github.com/vultisig/payroll/plugin/payroll"
	"github.com/vultisig/payroll/storage"
)

// RateCache is the key/value store used to share the fetched price between
// processes. *storage.RedisStorage satisfies it.
type RateCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiry time.Duration) error
	Delete(ctx context.Context, key string) error
}

// PriceOracle fetches the fiat price of the native token from a
// simple-price style HTTP endpoint.
type PriceOracle struct {
	client     *http.Client
	url        string
	coinID     string
	vsCurrency string
	fallback   decimal.Decimal
	ttl        time.Duration
	cache      RateCache
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewPriceOracle builds an oracle from the plugin config. cache may be nil.
func NewPriceOracle(cfg *payroll.PluginConfig, cache RateCache, logger logrus.FieldLogger) *PriceOracle {
	return &PriceOracle{
		client:     &http.Client{Timeout: cfg.Oracle.Timeout},
		url:        cfg.Oracle.URL,
		coinID:     cfg.Oracle.CoinID,
		vsCurrency: cfg.Oracle.VsCurrency,
		fallback:   cfg.DefaultPrice(),
		ttl:        cfg.Oracle.CacheTTL,
		cache:      cache,
		logger:     logger.WithField("component", "price_oracle"),
		now:        time.Now,
	}
}

func (o *PriceOracle) cacheKey() string {
	return fmt.Sprintf("payroll:rate:%s:%s", o.coinID, o.vsCurrency)
}

// Rate returns the current exchange rate. It never fails: when neither the
// cache nor the endpoint yields a positive price, the configured default is
// returned with Fallback set.
func (o *PriceOracle) Rate(ctx context.Context) types.ExchangeRate {
	if rate, ok := o.cached(ctx); ok {
		return rate
	}

	price, err := o.fetch(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("price fetch failed, using default price")
		return types.ExchangeRate{Price: o.fallback, FetchedAt: o.now(), Fallback: true}
	}

	rate := types.ExchangeRate{Price: price, FetchedAt: o.now()}
	o.store(ctx, rate)
	return rate
}

// Invalidate drops the cached price so the next Rate call hits the endpoint.
func (o *PriceOracle) Invalidate(ctx context.Context) error {
	if o.cache == nil {
		return nil
	}
	return o.cache.Delete(ctx, o.cacheKey())
}

func (o *PriceOracle) cached(ctx context.Context) (types.ExchangeRate, bool) {
	if o.cache == nil {
		return types.ExchangeRate{}, false
	}
	raw, err := o.cache.Get(ctx, o.cacheKey())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.logger.WithError(err).Warn("failed to read cached price")
		}
		return types.ExchangeRate{}, false
	}

	var rate types.ExchangeRate
	if err := json.Unmarshal([]byte(raw), &rate); err != nil || !rate.Price.IsPositive() {
		o.logger.WithField("value", raw).Warn("ignoring malformed cached price")
		return types.ExchangeRate{}, false
	}
	return rate, true
}

func (o *PriceOracle) store(ctx context.Context, rate types.ExchangeRate) {
	if o.cache == nil {
		return
	}
	buf, err := json.Marshal(rate)
	if err != nil {
		o.logger.WithError(err).Error("failed to encode price")
		return
	}
	if err := o.cache.Set(ctx, o.cacheKey(), string(buf), o.ttl); err != nil {
		o.logger.WithError(err).Warn("failed to cache price")
	}
}

func (o *PriceOracle) fetch(ctx context.Context) (decimal.Decimal, error) {
	endpoint, err := url.Parse(o.url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid oracle url: %w", err)
	}
	query := endpoint.Query()
	query.Set("ids", o.coinID)
	query.Set("vs_currencies", o.vsCurrency)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch price: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			o.logger.WithError(err).Error("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("price endpoint returned %d: %s", resp.StatusCode, body)
	}

	var prices map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}
	price, ok := prices[o.coinID][o.vsCurrency]
	if !ok {
		return decimal.Zero, fmt.Errorf("price for %s/%s missing from response", o.coinID, o.vsCurrency)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: oracle returned %s", payroll.ErrInvalidRate, price)
	}
	return price, nil
}
