package payroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// PayrollPlugin is the orchestrator wired to a live node and the operator key.
type PayrollPlugin struct {
	*Orchestrator
	config    *PluginConfig
	rpcClient *ethclient.Client
}

func NewPayrollPlugin(ctx context.Context, cfg *PluginConfig, logger logrus.FieldLogger) (*PayrollPlugin, error) {
	if cfg.Signer.PrivateKey == "" {
		return nil, errors.New("signer.private_key is required")
	}
	signer, err := NewKeySigner(cfg.Signer.PrivateKey)
	if err != nil {
		return nil, err
	}

	custody, err := NewCustody(cfg.Custody())
	if err != nil {
		return nil, err
	}

	rpcClient, err := ethclient.DialContext(ctx, cfg.RpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RpcURL, err)
	}

	if cfg.ChainID > 0 {
		id, err := rpcClient.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("failed to get chain id: %w", err)
		}
		if id.Int64() != cfg.ChainID {
			rpcClient.Close()
			return nil, fmt.Errorf("rpc %s serves chain %s, expected %d", cfg.RpcURL, id, cfg.ChainID)
		}
	}

	logger.WithFields(logrus.Fields{
		"operator": signer.Address().Hex(),
		"custody":  custody.Address.Hex(),
		"chain_id": cfg.ChainID,
	}).Info("payroll plugin initialized")

	return &PayrollPlugin{
		Orchestrator: NewOrchestrator(cfg, rpcClient, signer, custody, logger),
		config:       cfg,
		rpcClient:    rpcClient,
	}, nil
}

func (p *PayrollPlugin) Config() *PluginConfig {
	return p.config
}

func (p *PayrollPlugin) Close() {
	p.Orchestrator.Close()
	p.rpcClient.Close()
}
