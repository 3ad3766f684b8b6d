/**
 * @description
 * This is the main entry point for the coupon-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, schema migrations, the package catalog, message brokers, the
 * repository, the core application service, the expiry sweeper, and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/golang-migrate/migrate/v4: Schema migrations at boot.
 * - internal/api, internal/app, internal/catalog, internal/config, internal/store: Internal packages.
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
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sevasetu/coupon-service/internal/api"
	"github.com/sevasetu/coupon-service/internal/app"
	"github.com/sevasetu/coupon-service/internal/catalog"
	"github.com/sevasetu/coupon-service/internal/config"
	"github.com/sevasetu/coupon-service/internal/store"
	rmrabbit "github.com/sevasetu/coupon-service/pkg/rabbitmq"
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

	log.Printf("level=info component=bootstrap msg=\"starting coupon-service\" port=%s", cfg.ServerPort)

	// Apply schema migrations before opening the pool.
	if cfg.RunMigrations {
		migrationDBURL := cfg.DatabaseURL
		if !strings.Contains(migrationDBURL, "x-migrations-table") {
			sep := "?"
			if strings.Contains(migrationDBURL, "?") {
				sep = "&"
			}
			migrationDBURL = migrationDBURL + sep + "x-migrations-table=coupon_schema_migrations"
		}
		m, err := migrate.New("file://"+cfg.MigrationsDir, migrationDBURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"migration init failed\" err=%v", err)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("level=fatal component=bootstrap msg=\"migration failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"database migrations applied\"")
	}

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

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Load the immutable package catalog. Minting is impossible without it, so
	// failure here is fatal.
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	packageCatalog, err := catalog.Load(bootCtx, repository)
	cancelBoot()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"catalog load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"package catalog loaded\" packages=%d", len(packageCatalog.List()))

	// Initialize the RabbitMQ producer to publish events.
	var rabbitProducer rmrabbit.Publisher
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		rabbitProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer producer.Close()
		rabbitProducer = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Redis backs the per-partner redemption throttle. A missing or unhealthy
	// Redis disables the throttle but never blocks boot.
	var redisClient *redis.Client
	if cfg.RedeemRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; redemption rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; redemption rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; redemption rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	var rateLimiter app.RedeemRateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisRedeemRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the core application service with its dependencies.
	couponService := app.NewService(
		repository,
		packageCatalog,
		rabbitProducer,
		rateLimiter,
		cfg.DonorCouponCap,
		cfg.RedeemRateLimitPerMinute,
	)

	// Wire up the payment event consumer: mint coupons from captured payments.
	paymentConsumer := app.NewPaymentEventConsumer(couponService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	paymentBindings := map[string]func([]byte) bool{
		"payment.captured": paymentConsumer.HandlePaymentCaptured,
	}
	if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.EventsExchange, cfg.PaymentEventQueue, paymentBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"payment consumer start failed\" err=%v", err)
	}

	// Start the expiry sweeper on its cron schedule.
	sweepLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "expiry_sweeper")
	jobs := app.NewJobs(couponService, sweepLogger, cfg.ExpiryReminderDays)
	scheduler := app.NewScheduler(jobs, sweepLogger, cfg.ExpirySweepSchedule)
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	// Initialize the API handlers.
	couponHandlers := api.NewCouponHandlers(couponService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.CouponRoutes(couponHandlers, cfg.JWKSURL, cfg.InternalAPIKey))

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
