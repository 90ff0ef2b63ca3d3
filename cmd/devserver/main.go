// Command devserver runs a local stand-in for the vox backend.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/room4-2/vox/config"
	"github.com/room4-2/vox/devserver"
)

func main() {
	addr := flag.String("addr", envOr("DEVSERVER_ADDR", ":8000"), "listen address")
	secret := flag.String("jwt-secret", os.Getenv("DEVSERVER_JWT_SECRET"), "HMAC secret for issued tokens")
	maxCalls := flag.Int("max-calls", 16, "concurrent voice calls")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("Failed to load config")
	}
	log := cfg.Logger(os.Stderr)

	srv := devserver.NewServer(devserver.Config{
		Addr:      *addr,
		JWTSecret: []byte(*secret),
		MaxCalls:  *maxCalls,
		Redis:     mirror(cfg, log),
	}, log)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
	log.Info().Msg("Server stopped")
}

// mirror connects to Redis when it is the configured store. An unreachable
// instance is skipped.
func mirror(cfg *config.Config, log zerolog.Logger) *redis.Client {
	if cfg.StoreBackend != config.StoreRedis {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisURL).Msg("Redis unavailable, calls are not mirrored")
		_ = client.Close()
		return nil
	}
	return client
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
