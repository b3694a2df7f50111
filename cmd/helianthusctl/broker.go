package main

import (
	"context"
	"strings"

	"github.com/helianthus/broker"
	"github.com/helianthus/broker/internal/config"
)

// newBroker loads config (if --config was given), applies any
// environment overrides, and returns an initialized broker ready for
// commands to drive. Callers are responsible for calling Shutdown.
func newBroker(ctx context.Context) (*broker.Broker, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var (
			loaded *config.Config
			err    error
		)
		if strings.HasSuffix(configFile, ".yaml") || strings.HasSuffix(configFile, ".yml") {
			loaded, err = config.LoadFromYAML(configFile)
		} else {
			loaded, err = config.LoadFromFile(configFile)
		}
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	b := broker.New(broker.Options{
		NodeIDs: []string{"helianthusctl-local"},
		Config:  cfg,
	})
	if err := b.Initialize(ctx); err != nil {
		return nil, err
	}
	return b, nil
}
