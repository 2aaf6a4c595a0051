/**
 * @description
 * This is the main entry point for the farmer wallet service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the PSP client, message brokers, repositories, the core
 * application service, the disbursement scheduler, and the HTTP server. It
 * wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: Cron scheduling (via internal/app).
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/pspclient: Client for the mobile-money PSP API.
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/api"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/app"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/config"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/store"
	"github.com/qraft-Inc/coffeetrace-sub001/pkg/pspclient"
	rmrabbit "github.com/qraft-Inc/coffeetrace-sub001/pkg/rabbitmq"
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

	log.Printf("level=info component=bootstrap msg=\"starting wallet-service\" port=%s currency=%s", cfg.ServerPort, cfg.Currency)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
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

	// Initialize the RabbitMQ producer to publish payout status events.
	// Payout processing must not depend on the broker, so a failed
	// connection degrades to a no-op publisher.
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

	// Initialize the client for the mobile-money PSP API.
	pspClient := pspclient.NewClient(cfg.PSPAPIBaseURL, cfg.PSPAPIKey)

	// Redis backs the webhook rate limiter. A missing or unreachable Redis
	// disables throttling rather than blocking startup.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	var limiter *app.WebhookRateLimiter
	if redisClient != nil {
		limiter = app.NewWebhookRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	walletService := app.NewService(repository, pspClient, producer, app.Params{
		Currency:              cfg.Currency,
		DisbursementThreshold: cfg.DisbursementThreshold,
		MinPayoutAmount:       cfg.MinPayoutAmount,
		MaxRetries:            cfg.MaxPayoutRetries,
		ProcessingTimeout:     time.Duration(cfg.ProcessingTimeoutMinutes) * time.Minute,
	})

	// Initialize the API handlers and router.
	walletHandlers := api.NewWalletHandlers(walletService)
	router := api.WalletRoutes(walletHandlers, cfg, limiter)

	// Wire up the queue consumers: wallet credits from the rest of the
	// platform, and asynchronous PSP status updates.
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; queue ingestion disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		creditConsumer := app.NewCreditEventConsumer(walletService)
		creditBindings := map[string]func([]byte) bool{
			"wallet.credit.tip":  creditConsumer.HandleMessage,
			"wallet.credit.sale": creditConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(app.EventsExchange, cfg.CreditEventQueue, creditBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"credit consumer start failed\" err=%v", err)
		}

		statusConsumer := app.NewPSPStatusConsumer(walletService)
		statusBindings := map[string]func([]byte) bool{
			"psp.disbursement.success": statusConsumer.HandleMessage,
			"psp.disbursement.failed":  statusConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(app.EventsExchange, cfg.PSPStatusQueue, statusBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"psp status consumer start failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"queue consumers started\"")
	}

	// Start the disbursement scheduler and the reconciliation sweep.
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(walletService, repository, slogger)
	scheduler := app.NewScheduler(jobs, slogger, cfg)
	scheduler.Start()

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

	// Let in-flight cron jobs finish before tearing the process down.
	<-scheduler.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
