// cmd/settlement-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"franchise-license-workers/internal/clients/ledger"
	"franchise-license-workers/internal/clients/licenses"
	"franchise-license-workers/internal/clients/signer"
	"franchise-license-workers/internal/common/auth"
	"franchise-license-workers/internal/common/aws"
	"franchise-license-workers/internal/common/camunda"
	"franchise-license-workers/internal/common/config"
	"franchise-license-workers/internal/common/database"
	httpclient "franchise-license-workers/internal/common/http"
	"franchise-license-workers/internal/common/logger"
	"franchise-license-workers/internal/common/observability"
	"franchise-license-workers/internal/licenseindex"
	"franchise-license-workers/internal/notify"
	"franchise-license-workers/internal/reconciliation"
	"franchise-license-workers/internal/settlement/application"
	"franchise-license-workers/internal/settlement/orchestrator"
	"franchise-license-workers/internal/settlement/payment"
	"franchise-license-workers/internal/settlement/review"
	"franchise-license-workers/pkg/registry"

	il "franchise-license-workers/internal/workers/settlement/issue-license"
	pa "franchise-license-workers/internal/workers/settlement/pay-application"
	ra "franchise-license-workers/internal/workers/settlement/review-application"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting settlement manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	activities, err := registry.LoadRegistry("configs/activity-registry.json")
	if err != nil {
		zapLog.Fatal("activity registry load failed", zap.Error(err))
	}
	if missing := activities.Missing(ra.TaskType, pa.TaskType, il.TaskType); len(missing) > 0 {
		zapLog.Fatal("task types missing from activity registry", zap.Strings("taskTypes", missing))
	}

	obs := observability.New(cfg.Observability.ServiceName)
	defer obs.Shutdown()
	if cfg.Observability.Tracing.Enabled {
		if err := obs.EnableTracing(cfg.Observability.ServiceName, cfg.App.Environment,
			cfg.Observability.Tracing.JaegerEndpoint); err != nil {
			zapLog.Warn("tracing disabled", zap.Error(err))
		}
	}

	ctx := context.Background()

	// --- Zeebe ---
	zeebe, err := camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
		GatewayAddress:         cfg.Camunda.BrokerAddress,
		UsePlaintextConnection: true,
		ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
	})
	if err != nil {
		zapLog.Fatal("zeebe client failed", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Elasticsearch (optional: license search only) ---
	var indexer orchestrator.Indexer
	if len(cfg.Database.Elasticsearch.Addresses) > 0 || cfg.Database.Elasticsearch.URL != "" {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 5, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Warn("elasticsearch unavailable, issued licenses will not be indexed", zap.Error(err))
		} else {
			indexer = licenseindex.NewIndexer(esClient.Client, cfg.Database.Elasticsearch.LicensesIndex)
			zapLog.Info("Elasticsearch connected successfully")
		}
	}

	// --- Remote services ---
	tokens := auth.NewKeycloakTokenSource(
		cfg.Auth.Keycloak.URL,
		cfg.Auth.Keycloak.Realm,
		cfg.Auth.Keycloak.ClientID,
		cfg.Auth.Keycloak.ClientSecret,
	)
	remote := func(svc config.RemoteServiceConfig) *httpclient.Client {
		opts := httpclient.Options{
			Timeout:   config.GetDuration(svc.Timeout),
			RateLimit: svc.RateLimit,
			Burst:     svc.Burst,
		}
		if svc.UseAuth {
			opts.Tokens = tokens
		}
		return httpclient.New(svc.BaseURL, opts)
	}

	ledgerClient := ledger.NewClient(remote(cfg.Ledger))
	metadata := ledger.NewCachedMetadata(ledgerClient, rdb.Client, "ledger:metadata",
		time.Duration(cfg.Ledger.CacheTTL)*time.Second, log)
	licenseClient := licenses.NewClient(remote(cfg.LicenseRegistry))
	signerClient := signer.NewClient(remote(cfg.Signer), cfg.Ledger.BaseURL, cfg.LicenseRegistry.BaseURL)

	// --- Notifications ---
	var snsClient aws.SNSAPI
	if cfg.Notifications.SNS.Enabled {
		c, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Warn("sns disabled", zap.Error(err))
		} else {
			snsClient = c
		}
	}
	var sesClient aws.SESAPI
	if cfg.Notifications.SES.Enabled {
		c, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Warn("ses disabled", zap.Error(err))
		} else {
			sesClient = c
		}
	}
	notifier := notify.New(snsClient, sesClient, notify.Options{
		TopicARN:      cfg.Notifications.SNS.TopicARN,
		FromEmail:     cfg.Notifications.SES.FromEmail,
		OperatorEmail: cfg.Settlement.Reconciliation.OperatorEmail,
	}, log)

	// --- Settlement ---
	apps := application.NewPostgresRegistry(pg.DB)
	reviewer := review.NewAdapter(apps, log)
	payer := payment.NewAdapter(apps, ledgerClient, metadata, signerClient,
		payment.OptionsFromConfig(cfg.Settlement), log).
		WithNotifier(notifier)
	settler := orchestrator.New(apps, licenseClient, orchestrator.OptionsFromConfig(cfg.Settlement), log).
		WithLocker(orchestrator.NewRedisLocker(rdb.Client, "settlement:lock:")).
		WithNotifier(notifier).
		WithObservability(obs)
	if indexer != nil {
		settler = settler.WithIndexer(indexer)
	}

	// --- Workers ---
	reviewHandler, err := ra.NewHandler(ra.HandlerOptions{
		AppConfig: cfg, Reviewer: reviewer, Observability: obs, Logger: log,
	})
	if err != nil {
		zapLog.Fatal("failed to create review-application handler", zap.Error(err))
	}
	payHandler, err := pa.NewHandler(pa.HandlerOptions{
		AppConfig: cfg, Payer: payer, Observability: obs, Logger: log,
	})
	if err != nil {
		zapLog.Fatal("failed to create pay-application handler", zap.Error(err))
	}
	issueHandler, err := il.NewHandler(il.HandlerOptions{
		AppConfig: cfg, Settler: settler, Observability: obs, Logger: log,
	})
	if err != nil {
		zapLog.Fatal("failed to create issue-license handler", zap.Error(err))
	}

	workers := []*camunda.CamundaWorker{
		camunda.StartWorker(zeebe.GetClient(), ra.TaskType, config.GetWorkerConfig(cfg, ra.TaskType), reviewHandler, log),
		camunda.StartWorker(zeebe.GetClient(), pa.TaskType, config.GetWorkerConfig(cfg, pa.TaskType), payHandler, log),
		camunda.StartWorker(zeebe.GetClient(), il.TaskType, config.GetWorkerConfig(cfg, il.TaskType), issueHandler, log),
	}
	zapLog.Info("Settlement workers registered", zap.Int("activities", len(activities.Activities)))

	// --- Reconciliation ---
	var sweeper *reconciliation.Sweeper
	if cfg.Settlement.Reconciliation.Enabled {
		sweeper = reconciliation.NewSweeper(apps, notifier, cfg.Settlement.Reconciliation, log)
		if err := sweeper.Start(); err != nil {
			zapLog.Fatal("reconciliation sweeper failed to start", zap.Error(err))
		}
	}

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := map[string]string{}
		status := http.StatusOK
		for name, check := range map[string]func(context.Context) error{
			"postgres": pg.Ping,
			"redis":    rdb.Ping,
			"zeebe":    zeebe.HealthCheck,
			"license_registry": func(ctx context.Context) error {
				_, err := licenseClient.TotalSupply(ctx)
				return err
			},
		} {
			if err := check(ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				checks[name] = "ok"
			}
		}
		if status == http.StatusOK {
			writeStatus(w, status, "ready", checks)
		} else {
			writeStatus(w, status, "not ready", checks)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sweeper != nil {
		sweeper.Stop()
	}
	for _, w := range workers {
		w.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Settlement manager stopped gracefully")
}

func writeStatus(w http.ResponseWriter, code int, status string, checks map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]interface{}{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}
	if checks != nil {
		body["checks"] = checks
	}
	_ = json.NewEncoder(w).Encode(body)
}
