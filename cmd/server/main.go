// main wires the correlation engine: stores, services, the reconciliation
// orchestrator, and the HTTP surface. Every external dependency is optional
// in development; without PostgreSQL, Redis, or Kafka the process runs on
// in-memory stores with caching and the audit relay disabled.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"correlate/internal/correlation/audit"
	"correlate/internal/correlation/cases"
	"correlate/internal/correlation/handler"
	"correlate/internal/correlation/metrics"
	"correlate/internal/correlation/orchestrator"
	"correlate/internal/correlation/ports"
	"correlate/internal/correlation/rules"
	auditstore "correlate/internal/correlation/store/audit"
	casestore "correlate/internal/correlation/store/cases"
	rulestore "correlate/internal/correlation/store/rule"
	"correlate/internal/directory"
	"correlate/internal/feed"
	jwttoken "correlate/internal/jwt_token"
	"correlate/internal/platform/config"
	"correlate/internal/platform/httpserver"
	"correlate/internal/platform/kafka"
	"correlate/internal/platform/logger"
	"correlate/internal/platform/postgres"
	"correlate/internal/platform/redis"
	httptransport "correlate/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	var (
		ruleStore  rules.Store
		auditStore audit.Store
		caseStore  cases.Store
		outbox     audit.OutboxSource
	)
	if db != nil {
		pgAudit := auditstore.NewPostgres(db)
		ruleStore = rulestore.NewPostgres(db)
		auditStore = pgAudit
		caseStore = casestore.NewPostgres(db)
		outbox = pgAudit
		log.Info("using postgres stores")
	} else {
		ruleStore = rulestore.NewMemory()
		auditStore = auditstore.NewMemory()
		caseStore = casestore.NewMemory()
		log.Warn("no postgres URL configured, using in-memory stores")
	}

	rulesSvc, err := rules.New(ruleStore, rules.WithLogger(log))
	if err != nil {
		log.Error("rules service init failed", "error", err)
		os.Exit(1)
	}
	auditSvc, err := audit.New(auditStore, audit.WithLogger(log))
	if err != nil {
		log.Error("audit service init failed", "error", err)
		os.Exit(1)
	}
	casesSvc, err := cases.New(caseStore, auditSvc, cases.WithLogger(log))
	if err != nil {
		log.Error("cases service init failed", "error", err)
		os.Exit(1)
	}

	dir, err := buildDirectory(cfg, log)
	if err != nil {
		log.Error("directory client init failed", "error", err)
		os.Exit(1)
	}
	accounts, err := buildFeed(cfg, log)
	if err != nil {
		log.Error("feed client init failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	orch, err := orchestrator.New(rulesSvc, accounts, dir, auditSvc, casesSvc,
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(m),
		orchestrator.WithWorkerLimit(cfg.WorkerLimit),
		orchestrator.WithAccountTimeout(cfg.AccountTimeout),
		orchestrator.WithLookupRetries(cfg.LookupMaxRetries),
	)
	if err != nil {
		log.Error("orchestrator init failed", "error", err)
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		log.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	if producer != nil && outbox != nil {
		defer producer.Close()
		relay := audit.NewRelay(outbox, producer, cfg.OutboxInterval, log,
			audit.WithPublishedCounter(m.OutboxPublished))
		go relay.Run(ctx)
		log.Info("audit outbox relay started", "topic", cfg.Kafka.Topic, "interval", cfg.OutboxInterval)
	}

	jwtSvc := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	validator := jwttoken.NewJWTServiceAdapter(jwtSvc)

	h := handler.New(rulesSvc, casesSvc, auditSvc, orch, validator, log)
	router := httptransport.NewRouter(h, log)
	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("correlation engine listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// buildDirectory assembles the identity directory client, wrapping it with
// the Redis candidate cache when Redis is configured.
func buildDirectory(cfg config.Config, log *slog.Logger) (ports.DirectoryClient, error) {
	var dir ports.DirectoryClient
	if cfg.DirectoryURL != "" {
		client, err := directory.NewHTTPClient(cfg.DirectoryURL)
		if err != nil {
			return nil, err
		}
		dir = directory.NewBreakerClient(client, log)
	} else {
		log.Warn("no directory URL configured, using in-memory directory")
		dir = directory.NewInMemory()
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		dir = directory.NewCachedClient(dir, redisClient.Client, cfg.Redis.CacheTTL, log)
		log.Info("candidate lookup cache enabled", "ttl", cfg.Redis.CacheTTL)
	}
	return dir, nil
}

// buildFeed assembles the connector account source.
func buildFeed(cfg config.Config, log *slog.Logger) (ports.AccountSource, error) {
	if cfg.FeedURL != "" {
		return feed.NewHTTPClient(cfg.FeedURL)
	}
	log.Warn("no feed URL configured, using in-memory account source")
	return feed.NewInMemory(), nil
}
