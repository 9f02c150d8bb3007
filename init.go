package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"

	"github.com/tournevent/kuaidi100/internal/config"
	"github.com/tournevent/kuaidi100/internal/replay"
	"github.com/tournevent/kuaidi100/internal/telemetry"
	"github.com/tournevent/kuaidi100/pkg/kuaidi100"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

func initTracer(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return func(context.Context) error { return nil }, nil
	}

	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.Attributes()...)
}

func initService(cfg *config.Config) *kuaidi100.Service {
	if cfg.UseMock {
		return kuaidi100.NewWithTransport(cfg.Provider(), kuaidi100.NewMockTransport())
	}
	return kuaidi100.New(cfg.Provider())
}

// initReplayGuard connects the duplicate-notification guard. Without
// REDIS_URL every notification is processed.
func initReplayGuard(ctx context.Context, cfg *config.Config) (replay.Guard, func(), error) {
	if cfg.RedisURL == "" {
		return replay.Nop{}, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return replay.NewRedisGuard(client, cfg.ReplayTTL), func() { _ = client.Close() }, nil
}
