// Command cipherlined runs the messaging backend: it upgrades the
// two websocket surfaces, serves the HTTP CRUD API, and drives the
// delivery queue worker, all in a single process.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/brinewave/cipherline/internal/auth"
	"github.com/brinewave/cipherline/internal/config"
	"github.com/brinewave/cipherline/internal/dispatch"
	"github.com/brinewave/cipherline/internal/hub"
	"github.com/brinewave/cipherline/internal/httpapi"
	"github.com/brinewave/cipherline/internal/logging"
	"github.com/brinewave/cipherline/internal/metrics"
	"github.com/brinewave/cipherline/internal/queue"
	"github.com/brinewave/cipherline/internal/ratelimit"
	"github.com/brinewave/cipherline/internal/registry"
	"github.com/brinewave/cipherline/internal/repo"
	"github.com/brinewave/cipherline/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	sugar, err := logging.New(logging.Config{Development: false})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer sugar.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		sugar.Fatalw("mongo connect failed", "error", err)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	repository, err := repo.NewMongoRepository(ctx, mongoClient.Database(cfg.Mongo.Database))
	if err != nil {
		sugar.Fatalw("repository init failed", "error", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.URI})
	defer redisClient.Close()

	instanceID := uuid.NewString()
	brokers := strings.Split(cfg.Kafka.Brokers, ",")
	producer := queue.NewProducer(brokers, cfg.Kafka.Topic, sugar)
	defer producer.Close()

	reg := registry.New()
	h := hub.New()

	worker := queue.NewWorker(brokers, cfg.Kafka.Topic, "cipherline-worker-"+instanceID, reg, sugar)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go worker.Run(workerCtx)
	defer worker.Close()

	verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.SigningMethod, cfg.JWT.AccessCookieName)
	dispatcher := dispatch.New(repository, h, producer, sugar)
	sessions := session.New(verifier, repository, reg, h, dispatcher, sugar, cfg.IdleTimeout)

	limiter := ratelimit.New(redisClient, "cipherline:rl", 60, time.Minute)

	app := fiber.New()
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	app.Get("/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/events", websocket.New(sessions.HandleEvents))

	app.Get("/chat/:hex", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/chat/:hex", websocket.New(sessions.HandleChat))

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	apiGroup := app.Group("/api/v1")
	apiGroup.Use(limiter.KeyedBy(func(c *fiber.Ctx) string { return c.IP() }))
	httpServer := httpapi.NewServer(repository, verifier, reg, sugar, cfg.Chat.MaxPins, cfg.Chat.PerPage, cfg.Chat.HistoryPerPage)
	httpServer.Mount(apiGroup)

	go func() {
		addr := cfg.App.Host + ":" + cfg.App.Port
		sugar.Infow("cipherlined starting", "addr", addr, "instance", instanceID)
		if err := app.Listen(addr); err != nil {
			sugar.Fatalw("server listen failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	sugar.Infow("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		sugar.Warnw("fiber shutdown error", "error", err)
	}
}
