package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	httpapi "github.com/immxrtalbeast/meshconf/internal/api/http"
	"github.com/immxrtalbeast/meshconf/internal/config"
	"github.com/immxrtalbeast/meshconf/internal/repository"
	"github.com/immxrtalbeast/meshconf/internal/service"
	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
	"github.com/immxrtalbeast/meshconf/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	var registryOpts []repository.Option
	if cfg.Redis.Enabled {
		client, err := connectRedis(cfg.Redis)
		if err != nil {
			log.Error("failed to connect redis", sl.Err(err))
			os.Exit(1)
		}
		defer client.Close()

		registryOpts = append(registryOpts, repository.WithPresence(repository.NewRedisPresence(client, cfg.Redis.TTL)))
		log.Info("mirroring room presence to redis", slog.String("addr", cfg.Redis.Address))
	}

	rooms := repository.NewInMemoryRoomRegistry(log, registryOpts...)
	relayService := service.NewRelayService(rooms, cfg.Relay.EventBuffer, log)

	roomController := httpapi.NewRoomController(relayService)
	signalingController := httpapi.NewSignalingController(relayService, cfg.Relay.MaxMessageBytes, log)

	router := httpapi.SetupRouter(roomController, signalingController, cfg.HTTP.AllowedOrigins)

	log.Info("starting relay",
		slog.String("addr", cfg.HTTP.Address),
		slog.String("env", cfg.Env),
		slog.Any("stun_servers", cfg.WebRTC.STUNServers),
	)
	if err := router.Run(cfg.HTTP.Address); err != nil {
		log.Error("http server stopped", sl.Err(err))
		os.Exit(1)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func connectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return repository.ConnectRedis(ctx, cfg.Address, cfg.Password, cfg.DB)
}
