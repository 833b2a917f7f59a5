/**
 * @description
 * This is the main entry point for the lifecycle-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the core
 * lifecycle service, the cron scheduler, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for webhook guards.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/whatsapp, pkg/cardcom, pkg/biostar: External provider clients.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/suntouch/lifecycle-service/internal/api"
	"github.com/suntouch/lifecycle-service/internal/app"
	"github.com/suntouch/lifecycle-service/internal/config"
	"github.com/suntouch/lifecycle-service/internal/store"
	"github.com/suntouch/lifecycle-service/pkg/biostar"
	"github.com/suntouch/lifecycle-service/pkg/cardcom"
	"github.com/suntouch/lifecycle-service/pkg/rabbitmq"
	"github.com/suntouch/lifecycle-service/pkg/whatsapp"
)

func main() {
	// Load .env for local development; in production the platform injects
	// everything through the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found, relying on environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting lifecycle-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
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

	// Redis backs the webhook rate limiter and the payment dedupe fast path.
	// The service degrades gracefully without it.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook guards disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook guards disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook guards disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the RabbitMQ producer to publish lifecycle events.
	var eventPublisher rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventPublisher = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventPublisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// External provider clients.
	waClient := whatsapp.NewClient(cfg.WhatsAppAPIBaseURL, cfg.WhatsAppPhoneNumberID, cfg.WhatsAppAccessToken)
	if cfg.WhatsAppLanguageCode != "" {
		waClient.LanguageCode = cfg.WhatsAppLanguageCode
	}
	cardcomClient := cardcom.NewClient(cfg.CardcomAPIBaseURL, cfg.CardcomTerminalNumber, cfg.CardcomAPIName)
	biostarClient := biostar.NewClient(cfg.BioStarAPIBaseURL, cfg.BioStarSessionKey)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	var guard *app.RedisWebhookGuard
	if redisClient != nil {
		guard = app.NewRedisWebhookGuard(redisClient, cfg.RedisKeyPrefix, 24*time.Hour)
	}

	// Initialize the core lifecycle service with its dependencies.
	lifecycleService := app.NewService(
		repository,
		waClient,
		eventPublisher,
		guard,
		cfg.DefaultCountryCode,
		cfg.MembershipExpiryDays,
		app.Links{
			CheckoutBaseURL:   cfg.CheckoutBaseURL,
			HealthFormBaseURL: cfg.HealthFormBaseURL,
			FaceEnrollBaseURL: cfg.FaceEnrollBaseURL,
		},
	)

	// Start the RabbitMQ consumer for inbound WhatsApp messages published by
	// the chat bridge. The HTTP webhook remains available as a direct path.
	inboundConsumer := app.NewInboundMessageConsumer(lifecycleService)
	queueConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; inbound queue disabled\" err=%v", err)
	} else {
		defer queueConsumer.Close()
		bindings := map[string]func([]byte) bool{
			"wa.message.inbound": inboundConsumer.HandleMessage,
		}
		if err := queueConsumer.ConsumeWithBindings(app.EventsExchange, cfg.InboundQueue, bindings); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"inbound queue consume failed\" err=%v", err)
		} else {
			log.Printf("level=info component=bootstrap msg=\"consuming inbound messages\" queue=%s", cfg.InboundQueue)
		}
	}

	// Scheduled jobs: membership expiry sweep and stale-lead nudges.
	jobsLogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := app.NewJobs(
		repository,
		lifecycleService,
		jobsLogger,
		time.Duration(cfg.LeadNudgeAfterHours)*time.Hour,
		cfg.LeadNudgeBatchLimit,
	)
	scheduler := app.NewScheduler(jobs, jobsLogger, app.SchedulerConfig{
		MembershipExpirySchedule: cfg.MembershipExpirySchedule,
		LeadNudgeSchedule:        cfg.LeadNudgeSchedule,
	})
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP surface.
	handler := api.NewHandler(lifecycleService, repository, cardcomClient, biostarClient, guard, api.HandlerConfig{
		WhatsAppAppSecret:   cfg.WhatsAppAppSecret,
		WhatsAppVerifyToken: cfg.WhatsAppVerifyToken,
		CardcomTerminal:     cfg.CardcomTerminalNumber,
		PublicBaseURL:       cfg.PublicBaseURL,
		WebhookRateLimit:    cfg.WebhookRateLimitPerMinute,
	})
	router := api.NewRouter(handler, cfg.AdminJWTSecret)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	// Run the server in a goroutine so shutdown signals can be handled.
	go func() {
		log.Printf("level=info component=bootstrap msg=\"http server listening\" addr=%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=bootstrap msg=\"http server failed\" err=%v", err)
		}
	}()

	// Wait for an interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("level=info component=bootstrap msg=\"shutdown signal received\"")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error component=bootstrap msg=\"http server shutdown failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"lifecycle-service stopped\"")
}
