/**
 * @description
 * This is the main entry point for the dunning-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the payment gateway client, the RabbitMQ producer, the Redis run
 * lock, the core application service, the background scheduler, and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for the batch run lock.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/gatewayclient: Client for the payment gateway API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/dunning-service/internal/api"
	"github.com/transfa/dunning-service/internal/app"
	"github.com/transfa/dunning-service/internal/config"
	"github.com/transfa/dunning-service/internal/store"
	"github.com/transfa/dunning-service/pkg/gatewayclient"
	rmrabbit "github.com/transfa/dunning-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting dunning-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Batch runs are sequential, so the pool stays modest compared to the
	// user-facing services.
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish notification directives.
	// This service only publishes; delivery belongs to the notification-service.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the payment gateway API.
	gatewayClient := gatewayclient.NewClient(cfg.GatewayAPIBaseURL, cfg.GatewayAPIKey)

	// Redis backs the distributed run lock. A missing or unreachable Redis is
	// not fatal: batch runs proceed unlocked and the engine's timing checks keep
	// overlap harmless.
	var redisClient *redis.Client
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; batch run lock disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; batch run lock disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; batch run lock disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	dunningService := app.NewService(
		repository,
		app.NewGatewayRetryAdapter(gatewayClient),
		app.NewDryRunSimulator(cfg.DryRunSimulatorSeed),
		producer,
		app.Defaults{
			MaxAttempts:     cfg.DunningMaxAttempts,
			GracePeriodDays: cfg.DunningGracePeriodDays,
			EscalationDays:  cfg.EscalationDays,
		},
		cfg.DunningBatchSize,
	)
	if redisClient != nil {
		dunningService.SetRunLock(app.NewRedisRunLock(
			redisClient,
			cfg.RedisLockPrefix+":batch_run",
			time.Duration(cfg.RunLockTTLSeconds)*time.Second,
		))
	}

	// Initialize the API handlers.
	dunningHandlers := api.NewDunningHandlers(dunningService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.DunningRoutes(dunningHandlers, cfg.ClerkJWKSURL, cfg.InternalAPIKey))

	// Background scheduler for periodic batch runs. Cancelled on shutdown so a
	// tick never starts mid-teardown.
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	if cfg.SchedulerEnabled {
		scheduler := app.NewScheduler(dunningService, time.Duration(cfg.SchedulerIntervalMin)*time.Minute)
		go scheduler.Run(schedulerCtx)
	} else {
		log.Println("level=info component=bootstrap msg=\"scheduler disabled; batch runs are trigger-only\"")
	}

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
