package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/transfa/disbursement-service/internal/api"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/config"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/metrics"
	"github.com/transfa/disbursement-service/internal/store"
	"github.com/transfa/disbursement-service/pkg/fspiop"
	"github.com/transfa/disbursement-service/pkg/hubclient"
	rmrabbit "github.com/transfa/disbursement-service/pkg/rabbitmq"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the disbursement API, hub callback endpoints and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config-dir")
			cfg, err := config.LoadConfig(dir)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	log.Printf("level=info component=bootstrap msg=\"starting disbursement-service\" port=%s dfsp_id=%s hub=%s", cfg.ServerPort, cfg.DFSPID, cfg.HubBaseURL)
	if cfg.InternalAPIKey == "" {
		log.Println("level=warn component=bootstrap msg=\"internal api key not configured; operator api is unauthenticated\" env=INTERNAL_API_KEY")
	}

	var repo store.BulkRepository
	var archiver app.Archiver
	var accounts store.PayerAccountStore
	if cfg.DatabaseURL == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; using in-memory store\" env=DATABASE_URL")
		memory := store.NewMemoryRepository()
		repo, archiver = memory, memory
		accounts = store.NewMemoryPayerAccounts()
	} else {
		dbpool, err := openDatabase(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer dbpool.Close()
		postgres := store.NewPostgresRepository(dbpool)
		payerAccounts := store.NewPostgresPayerAccounts(dbpool)
		schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = postgres.EnsureSchema(schemaCtx)
		if err == nil {
			err = payerAccounts.EnsureSchema(schemaCtx)
		}
		cancel()
		if err != nil {
			return fmt.Errorf("schema setup failed: %w", err)
		}
		repo, archiver, accounts = postgres, postgres, payerAccounts
	}
	if !cfg.PayerFundsCheck {
		log.Println("level=warn component=bootstrap msg=\"payer funds check disabled\" env=PAYER_FUNDS_CHECK")
		accounts = nil
	}

	redisClient := openRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}
	tickets := openTicketStore(cfg, redisClient)

	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	var publisher rmrabbit.Publisher
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	m := metrics.New()
	signer := fspiop.NewSigner(cfg.HubSigningSecret)
	service := app.NewService(app.Dependencies{
		Repo:               repo,
		Tickets:            tickets,
		Transport:          hubclient.NewClient(cfg.HubBaseURL, cfg.DFSPID, signer),
		Events:             app.NewBrokerEventPublisher(publisher, cfg.EventsExchange),
		Limiter:            openSubmissionLimiter(cfg, redisClient),
		Accounts:           accounts,
		Metrics:            m,
		DFSPID:             cfg.DFSPID,
		SettlementCurrency: cfg.SettlementCurrency,
		Timeouts: app.PhaseTimeouts{
			Lookup:   cfg.LookupTimeout(),
			Quote:    cfg.QuoteTimeout(),
			Transfer: cfg.TransferTimeout(),
		},
		MaxConcurrentStarts: cfg.MaxConcurrentStarts,
		UploadTicketTTL:     cfg.UploadTicketTTL(),
	})

	if cfg.HubCallbackQueue != "" && cfg.RabbitMQURL != "" {
		consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, 32)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; broker callbacks disabled\" err=%v", err)
		} else {
			defer consumer.Close()
			hubConsumer := service.HubCallbackConsumer()
			bindings := map[string]rmrabbit.Handler{domain.RoutingKeyHubCallback: hubConsumer.HandleMessage}
			if err := consumer.ConsumeWithBindings(cfg.EventsExchange, cfg.HubCallbackQueue, bindings); err != nil {
				return fmt.Errorf("hub callback consumer start failed: %w", err)
			}
			log.Printf("level=info component=bootstrap msg=\"hub callback consumer started\" queue=%s", cfg.HubCallbackQueue)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(service.Gateway, service.Reconciler, archiver, cfg.ArchiveRetention(), logger)
	// Items left in flight by a previous process are picked up right away.
	jobs.ReconcileStaleTransfers()
	scheduler := app.NewScheduler(jobs, logger, app.Schedules{
		Sweep:     cfg.SweepSchedule,
		Reconcile: cfg.ReconcileSchedule,
		Archive:   cfg.ArchiveSchedule,
	})
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	handlers := api.NewHandlers(service.Orchestrator, service.Status, service.Uploads, service.Accounts)
	callbacks := api.NewCallbackHandlers(service.Callbacks, signer)
	router := api.NewRouter(handlers, callbacks, m.Handler(), cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	}
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()
	service.Orchestrator.Drain()

	log.Println("level=info component=http msg=\"shutdown complete\"")
	return nil
}

func openDatabase(databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database url parse failed: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return dbpool, nil
}

// openRedis returns nil when Redis is not configured or not reachable; callers
// fall back to in-process implementations.
func openRedis(cfg config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; upload tickets kept in memory\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; upload tickets kept in memory\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; upload tickets kept in memory\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}

func openTicketStore(cfg config.Config, client *redis.Client) store.UploadTicketStore {
	if client == nil {
		return store.NewMemoryUploadTicketStore()
	}
	return store.NewRedisUploadTicketStore(client, cfg.RedisKeyPrefix)
}

func openSubmissionLimiter(cfg config.Config, client *redis.Client) app.SubmissionLimiter {
	if cfg.SubmissionRateLimit <= 0 {
		return nil
	}
	if client == nil {
		log.Println("level=warn component=bootstrap msg=\"submission rate limit needs redis; limiter disabled\" env=SUBMISSION_RATE_LIMIT")
		return nil
	}
	log.Printf("level=info component=bootstrap msg=\"submission rate limit enabled\" limit=%d window=%s", cfg.SubmissionRateLimit, cfg.SubmissionRateWindow())
	return app.NewRedisSubmissionLimiter(client, "disbursement:rate_limit", cfg.SubmissionRateLimit, cfg.SubmissionRateWindow())
}
