package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/infrastructure/events"
	redisrepo "rtcstats/internal/infrastructure/repositories/redis"
	"rtcstats/pkg/config"
	"rtcstats/pkg/logger"
)

// rtcstats-events follows the session event channel and prints one JSON
// line per event, optionally filtered by type.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config.yaml")
	only := flag.String("type", "", "only print events of this type (e.g. session.archive_failed)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	client, err := redisrepo.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, 2, log)
	if err != nil {
		log.Fatalw("failed to connect to Redis", "error", err)
	}
	defer redisrepo.CloseRedisClient(client)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus(client, cfg.Events.Channel, "", log)
	encoder := json.NewEncoder(os.Stdout)

	log.Infow("following session events", "channel", cfg.Events.Channel)
	err = bus.Subscribe(ctx, nil, func(event *domain.SessionEvent) error {
		if *only != "" && string(event.Type) != *only {
			return nil
		}
		return encoder.Encode(event)
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalw("subscription ended", "error", err)
	}
}
