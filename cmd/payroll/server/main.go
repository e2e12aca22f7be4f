package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"golang.org/x/sync/errgroup"

	"github.com/vultisig/payroll/api"
	"github.com/vultisig/payroll/config"
	"github.com/vultisig/payroll/plugin/payroll"
	"github.com/vultisig/payroll/service"
	"github.com/vultisig/payroll/storage"
)

func main() {
	cfg, err := config.GetConfigure()
	if err != nil {
		panic(err)
	}
	logger := newLogger(cfg)

	pluginConfig, err := loadPluginConfig(cfg)
	if err != nil {
		logger.Fatalf("failed to load payroll plugin config: %v", err)
	}

	sdClient, err := statsd.New(net.JoinHostPort(cfg.Datadog.Host, cfg.Datadog.Port))
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := sdClient.Close(); err != nil {
			logger.Errorf("fail to close statsd client, err: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rateCache service.RateCache
	if cfg.Redis.Enabled() {
		redisStorage, err := storage.NewRedisStorage(ctx, cfg.Redis)
		if err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer func() {
			if err := redisStorage.Close(); err != nil {
				logger.Errorf("fail to close redis, err: %v", err)
			}
		}()
		rateCache = redisStorage
	}

	p, err := payroll.NewPayrollPlugin(ctx, pluginConfig, logger.WithField("service", "plugin"))
	if err != nil {
		logger.Fatalf("failed to create payroll plugin, err: %s", err)
	}
	defer p.Close()

	oracle := service.NewPriceOracle(pluginConfig, rateCache, logger)
	payrollService := service.NewPayrollService(pluginConfig, p.Orchestrator, oracle, sdClient, logger)
	server := api.NewServer(cfg.Server, pluginConfig, payrollService, sdClient, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return payrollService.Run(gctx)
	})
	g.Go(func() error {
		return server.StartServer()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("payroll server stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("payroll server stopped")
}
