package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/abbyhq/abby/pkg/approval"
	"github.com/abbyhq/abby/pkg/artifacts"
	"github.com/abbyhq/abby/pkg/classifier"
	"github.com/abbyhq/abby/pkg/config"
	"github.com/abbyhq/abby/pkg/events"
	"github.com/abbyhq/abby/pkg/executor"
	"github.com/abbyhq/abby/pkg/llm"
	"github.com/abbyhq/abby/pkg/observability"
	"github.com/abbyhq/abby/pkg/proposal"
	"github.com/abbyhq/abby/pkg/session"
	"github.com/abbyhq/abby/pkg/store"
)

// app is the assembled pipeline shared by the server and the CLI commands.
type app struct {
	cfg        *config.Config
	hub        *events.Hub
	store      *store.Store
	images     artifacts.Store
	classifier *classifier.Classifier
	builder    *proposal.Builder
	queue      *approval.Queue
	executor   *executor.Executor
	session    *session.Controller
	telemetry  *observability.Provider

	closers []io.Closer
}

func setupLogging(cfg *config.Config, w io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// newApp wires every layer from cfg. Logging must be set up first, since
// components capture the default logger when they are built.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, hub: events.NewHub()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	kv, err := store.Open(ctx, store.Options{
		Backend:       store.Backend(cfg.StorageBackend),
		DataDir:       cfg.DataDir,
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store, err = store.New(kv, a.hub)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store)
	if err := a.store.EnsureSchemaVersion(ctx); err != nil {
		return nil, err
	}
	log.Printf("[abby] store: %s", cfg.StorageBackend)

	a.images, err = artifacts.Open(ctx, artifacts.Options{
		Backend:    artifacts.Backend(cfg.ArtifactStorage),
		DataDir:    cfg.DataDir,
		S3Bucket:   cfg.S3Bucket,
		S3Region:   cfg.S3Region,
		S3Endpoint: cfg.S3Endpoint,
		S3Prefix:   cfg.S3Prefix,
		GCSBucket:  cfg.GCSBucket,
		GCSPrefix:  cfg.GCSPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	if c, ok := a.images.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	client, err := llm.New(ctx, llm.Options{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	a.classifier, err = classifier.New(client, a.images, classifier.WithTimeout(cfg.LLMTimeout))
	if err != nil {
		return nil, err
	}
	log.Printf("[abby] classifier: %s/%s", cfg.LLMProvider, cfg.LLMModel)

	extra, err := config.LoadRiskRules(cfg.RiskRulesFile)
	if err != nil {
		return nil, err
	}
	risks, err := proposal.NewRiskEvaluator(extra)
	if err != nil {
		return nil, fmt.Errorf("risk rules: %w", err)
	}
	a.builder = proposal.NewBuilder(risks)

	issuer, err := approval.NewTokenIssuer(cfg.ApprovalSecret, cfg.ApprovalTokenTTL)
	if err != nil {
		return nil, err
	}
	if cfg.ApprovalSecret == "" {
		log.Println("[abby] APPROVAL_SECRET not set, approvals will not survive a restart")
	}
	a.queue = approval.NewQueue(issuer)

	var ledger approval.Ledger = approval.NewMemoryLedger()
	if store.Backend(cfg.StorageBackend) == store.BackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, rdb)
		ledger = approval.NewRedisLedger(rdb)
	}
	a.executor = executor.New(issuer, ledger, a.store)
	a.session = session.New(a.queue, a.executor)

	otel := observability.DefaultConfig()
	otel.Enabled = cfg.OTelEnabled
	otel.OTLPEndpoint = cfg.OTelEndpoint
	a.telemetry, err = observability.New(ctx, otel)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	return a, nil
}

// Close releases everything newApp opened, last opened first.
func (a *app) Close() error {
	var errs []error
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(context.Background()))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.hub.Close()
	return errors.Join(errs...)
}
