package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"evault/internal/audit"
	"evault/internal/events"
	jwttoken "evault/internal/jwt_token"
	"evault/internal/ledger"
	"evault/internal/platform/config"
	"evault/internal/platform/httpserver"
	"evault/internal/platform/kafka"
	"evault/internal/platform/logger"
	"evault/internal/platform/metrics"
	platformredis "evault/internal/platform/redis"
	"evault/internal/ratelimit"
	sessionservice "evault/internal/session/service"
	"evault/internal/session/store"
	"evault/internal/sweeper"
	httptransport "evault/internal/transport/http"
	"evault/pkg/domain"
)

const auditInboxSize = 1024

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Mirror store: Postgres when configured, in-memory otherwise.
	var sessionStore store.Store
	var db *sql.DB
	checks := map[string]httptransport.HealthChecker{}
	if cfg.Database.URL != "" {
		db, err = sql.Open("pgx", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		pg := store.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		sessionStore = pg
		checks["database"] = dbHealth{db}
		log.Info("using postgres session store")
	} else {
		sessionStore = store.NewInMemoryStore()
		log.Warn("no database configured, using in-memory session store")
	}

	// Rate limit counters: Redis when configured, per-process otherwise.
	var counters ratelimit.CounterStore = ratelimit.NewInMemoryStore()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		counters = ratelimit.NewRedisStore(redisClient)
		checks["redis"] = redisClient
		log.Info("using redis rate limit store")
	}

	m := metrics.New()
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()

	auditInbox := make(chan audit.Event, auditInboxSize)
	var auditStore audit.Store = audit.NewInMemoryStore()
	if db != nil {
		pg := audit.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
		auditStore = pg
	}
	auditPublisher := audit.NewPublisher(auditInbox)
	workerOpts := []audit.WorkerOption{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer producer.Close()
		workerOpts = append(workerOpts, audit.WithSink(producer))
		log.Info("audit export enabled", "topic", cfg.Kafka.Topic)
	}
	auditWorker := audit.NewWorker(auditStore, auditInbox, log, workerOpts...)

	vaultLedger := ledger.New(ledger.WithEventSink(ledgerEventLogger{log}))

	sessions := sessionservice.New(sessionStore, vaultLedger, cfg.Security.KeyEncryptionKey,
		sessionservice.WithLogger(log),
		sessionservice.WithMetrics(m),
		sessionservice.WithBroadcaster(broadcaster),
		sessionservice.WithAuditPublisher(auditPublisher),
	)

	sweep := sweeper.New(sessionStore, vaultLedger, cleanerIdentity(cfg.Security.KeyEncryptionKey),
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithLogger(log),
		sweeper.WithMetrics(m),
		sweeper.WithBroadcaster(broadcaster),
		sweeper.WithAuditPublisher(auditPublisher),
	)

	jwtService := jwttoken.NewJWTService(cfg.Security.JWTSigningKey, "evault", "evault-api")
	limiter := ratelimit.New(counters, cfg.Security.SessionsPerMinute, time.Minute, log)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Sessions:  httptransport.NewHandler(sessions, log),
		Events:    httptransport.NewEventsHandler(broadcaster),
		Validator: jwttoken.NewJWTServiceAdapter(jwtService),
		RateLimit: limiter,
		Metrics:   m,
		Logger:    log,
		Checks:    checks,
	})
	srv := httpserver.New(cfg.ListenAddr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting server", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := sweep.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sweeper: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("audit worker: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// cleanerIdentity derives the identity the sweeper signs cleanup
// transactions with. Deterministic per deployment so the cleanup reward
// always accrues to the same account.
func cleanerIdentity(seed string) domain.Identity {
	return domain.Identity(sha256.Sum256([]byte("evault-cleaner:" + seed)))
}

type dbHealth struct {
	db *sql.DB
}

func (h dbHealth) Health(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// ledgerEventLogger surfaces ledger transitions in the structured log; the
// broadcast fan-out carries the richer mirror snapshots.
type ledgerEventLogger struct {
	log *slog.Logger
}

func (l ledgerEventLogger) PublishLedgerEvent(event ledger.Event) {
	l.log.Info("ledger event", "kind", event.Kind(), "event", event)
}
