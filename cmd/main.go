/**
 * @description
 * This is the main entry point for the portal-service. It is responsible for
 * initializing all components of the service, including configuration,
 * database connection, the SFD functions client, the message broker, the
 * repository, the core application service, the scheduler, and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: To load .env files for local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/sfdclient: Client for the hosted SFD function endpoints.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sfdconnect/portal-service/internal/api"
	"github.com/sfdconnect/portal-service/internal/app"
	"github.com/sfdconnect/portal-service/internal/config"
	"github.com/sfdconnect/portal-service/internal/store"
	rmrabbit "github.com/sfdconnect/portal-service/pkg/rabbitmq"
	"github.com/sfdconnect/portal-service/pkg/sfdclient"
)

func main() {
	// Load a local .env file when present; in deployed environments the
	// variables come from the platform.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment values\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting portal-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. Events are advisory,
	// so a broker outage degrades to the no-op fallback instead of failing boot.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the hosted SFD function endpoints.
	remote := sfdclient.NewClient(cfg.SfdFunctionsBaseURL, cfg.SfdFunctionsAPIKey)

	// Redis is optional: without it the active institution cache and the QR
	// scan rate limiter are disabled, nothing else changes.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; cache and scan limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; cache and scan limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; cache and scan limiting disabled\" err=%v", pingErr)
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
	portalService := app.NewService(
		repository,
		remote,
		producer,
		time.Duration(cfg.MomoConfirmationWindow)*time.Minute,
	)
	if redisClient != nil {
		portalService.SetActiveInstitutionCache(
			app.NewActiveInstitutionCache(redisClient, cfg.RedisActiveSfdPrefix, 24*time.Hour),
		)
		portalService.SetScanRateLimiter(
			app.NewRedisScanRateLimiter(redisClient, cfg.RedisScanLimitPrefix, cfg.ScanRateLimitPerMinute, time.Minute),
		)
	}

	// Wire the mobile money status consumer: provider callbacks relayed over
	// the broker resolve pending intents without the user polling.
	momoConsumer := app.NewMomoStatusConsumer(portalService)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; momo callbacks disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		bindings := map[string]func([]byte) bool{
			"momo.status.confirmed": momoConsumer.HandleMessage,
			"momo.status.failed":    momoConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.EventsExchange, cfg.MomoStatusQueue, bindings); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"momo consumer start failed; momo callbacks disabled\" err=%v", err)
		}
	}

	// Start the scheduler: periodic stale-account sync and intent expiry.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	scheduler := app.NewScheduler(
		portalService,
		logger,
		cfg.BalanceSyncSchedule,
		cfg.IntentExpirySchedule,
		time.Duration(cfg.SyncStaleAfterMinutes)*time.Minute,
		cfg.SyncBatchSize,
	)
	scheduler.Start()

	// Initialize the API handlers and router.
	portalHandlers := api.NewPortalHandlers(portalService)
	router := chi.NewRouter()
	router.Mount("/portal", api.PortalRoutes(portalHandlers, cfg.AuthJWKSURL))

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
