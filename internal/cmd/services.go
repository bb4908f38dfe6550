package main

import (
	"fmt"

	"github.com/blitztime/server/internal/api"
	"github.com/blitztime/server/internal/auth"
	"github.com/blitztime/server/internal/events"
	"github.com/blitztime/server/internal/gateway"
	"github.com/blitztime/server/internal/session"
	"github.com/blitztime/server/internal/store"
)

// Services holds the wired application components.
type Services struct {
	Registry  *session.Registry
	Watchdog  *session.Watchdog
	Gateway   *gateway.Gateway
	API       *api.Handler
	Publisher events.Publisher
}

func setupServices(st store.Store, cfg *Config) (*Services, error) {
	publisher, err := setupPublisher(cfg)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(auth.NewResolver(), st, publisher, session.Config{
		RecordTimeoutReporter: cfg.Timers.RecordTimeoutReporter,
	})
	watchdog := registry.NewWatchdogFor()
	registry.SetWatchdog(watchdog)

	return &Services{
		Registry:  registry,
		Watchdog:  watchdog,
		Gateway:   gateway.New(registry, gateway.DefaultConfig()),
		API:       api.NewHandler(registry),
		Publisher: publisher,
	}, nil
}

func setupPublisher(cfg *Config) (events.Publisher, error) {
	if cfg.NATS.URL == "" {
		return events.NopPublisher{}, nil
	}
	jsCfg := events.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATS.URL
	publisher, err := events.NewJetStreamPublisher(jsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect NATS: %w", err)
	}
	return publisher, nil
}
