package main

import (
	"fmt"

	"github.com/bountyarbiter/arbiterd/internal/config"
	"github.com/bountyarbiter/arbiterd/internal/market"
)

// loadConfigOnly loads config.yaml for subcommands that only need a DSN or
// account, without building a market.Client.
func loadConfigOnly() (*config.Config, error) {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// loadMarketClient loads config.yaml and builds a market.Client pointed at
// the configured gateway, for the subcommands (stake, relay, balance) that
// talk to the market directly rather than through the running daemon.
func loadMarketClient() (*market.Client, *config.Config, error) {
	cfg, err := loadConfigOnly()
	if err != nil {
		return nil, nil, err
	}
	client := market.New(market.Config{
		BaseURL: cfg.Market.Host,
		Chain:   market.Chain(cfg.Market.Chain),
	})
	return client, cfg, nil
}
