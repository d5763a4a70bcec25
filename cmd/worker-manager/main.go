// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"construction-estimator/internal/common/camunda"
	"construction-estimator/internal/common/config"
	"construction-estimator/internal/common/database"
	"construction-estimator/internal/common/genai"
	"construction-estimator/internal/common/logger"
	"construction-estimator/internal/common/notify"
	"construction-estimator/internal/common/observability"
	"construction-estimator/internal/common/retry"

	ac "construction-estimator/internal/workers/assistant/chat"
	ei "construction-estimator/internal/workers/assistant/edit-image"
	cf "construction-estimator/internal/workers/estimation/check-feasibility"
	ge "construction-estimator/internal/workers/estimation/generate-estimate"
	"construction-estimator/pkg/registry"
)

// connectPolicy retries start-up dependencies that may still be booting.
func connectPolicy(log logger.Logger, operation string) retry.Policy {
	return retry.Policy{
		MaxRetries: 10,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Retryable:  func(error) bool { return true },
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn(operation+" failed, retrying", map[string]interface{}{
				"operation": operation,
				"attempt":   attempt,
				"delayMs":   delay.Milliseconds(),
				"error":     err.Error(),
			})
		},
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	log.Info("starting worker manager", map[string]interface{}{
		"app":         cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	ctx := context.Background()

	obs, err := observability.New(cfg.App.Name, cfg.App.Version, log)
	if err != nil {
		zapLog.Fatal("observability setup failed", zap.Error(err))
	}

	// --- Zeebe ---
	zeebe, err := camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
		GatewayAddress:         cfg.Camunda.BrokerAddress,
		UsePlaintextConnection: cfg.Camunda.UsePlaintext,
		ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
	}, log)
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	log.Info("zeebe client connected", map[string]interface{}{"gateway": cfg.Camunda.BrokerAddress})

	// --- PostgreSQL (estimate persistence) ---
	var pg *database.PostgresClient
	if cfg.Estimates.Persist {
		pg, err = retry.Do(ctx, connectPolicy(log, "postgres connection"), func(ctx context.Context) (*database.PostgresClient, error) {
			client, err := database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return nil, err
			}
			if err := client.Ping(ctx); err != nil {
				client.Close()
				return nil, err
			}
			return client, nil
		})
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		if err := pg.Migrate(ctx); err != nil {
			zapLog.Fatal("postgres migration failed", zap.Error(err))
		}
		log.Info("postgres connected", map[string]interface{}{"host": cfg.Database.Postgres.Host})
	}

	// --- Redis (estimate cache) ---
	var rdb *database.RedisClient
	if cfg.Estimates.CacheEnabled {
		rdb = database.NewRedis(cfg.Database.Redis)
		_, err = retry.Do(ctx, connectPolicy(log, "redis connection"), func(ctx context.Context) (struct{}, error) {
			return struct{}{}, rdb.Ping(ctx)
		})
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		log.Info("redis connected", map[string]interface{}{"address": cfg.Database.Redis.Address})
	}

	// --- SNS (estimate-ready notifications) ---
	var notifier ge.Notifier
	if cfg.Notifications.SNS.Enabled {
		publisher, err := notify.NewSNSPublisher(ctx, cfg.Notifications.SNS.Region, cfg.Notifications.SNS.TopicARN, log)
		if err != nil {
			zapLog.Fatal("sns publisher setup failed", zap.Error(err))
		}
		notifier = publisher
	}

	// --- GenAI ---
	genaiClient := genai.NewClient(cfg.GenAI.ClientConfig(), log)
	if cfg.GenAI.APIKey == "" {
		log.Warn("genai api key is empty; completion calls will be rejected", nil)
	}

	// --- Workers ---
	activities := registry.Default()
	for taskType := range cfg.Workers {
		if _, ok := activities.Find(taskType); !ok {
			log.Warn("configured worker has no registered activity", map[string]interface{}{"taskType": taskType})
		}
	}

	var workers []*camunda.CamundaWorker
	start := func(taskType string, handler camunda.JobHandler) {
		if !config.IsWorkerEnabled(cfg, taskType) {
			log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
			return
		}
		wcfg := config.GetWorkerConfig(cfg, taskType)
		if activity, ok := activities.Find(taskType); ok && activity.ImplementationStatus == registry.StatusStub {
			log.Warn("starting stub worker", map[string]interface{}{"taskType": taskType})
		}
		workers = append(workers, camunda.StartWorker(zeebe.GetClient(), taskType, camunda.WorkerOptions{
			MaxJobsActive: wcfg.MaxJobsActive,
			Timeout:       config.GetDuration(wcfg.Timeout),
		}, handler, obs, log))
	}

	start(cf.TaskType, cf.NewHandler(cf.LoadConfig(), genaiClient, log))

	estimateCfg := ge.LoadConfig()
	estimateCfg.CacheEnabled = cfg.Estimates.CacheEnabled
	estimateCfg.CacheTTL = cfg.Estimates.TTL()
	estimateCfg.CachePrefix = cfg.Estimates.CachePrefix
	estimateCfg.Persist = cfg.Estimates.Persist
	estimateCfg.Model = genaiClient.Model()
	estimateOpts := ge.HandlerOptions{
		Config:   estimateCfg,
		GenAI:    genaiClient,
		Notifier: notifier,
		Logger:   log,
	}
	if rdb != nil {
		estimateOpts.Redis = rdb.Client
	}
	if pg != nil {
		estimateOpts.DB = pg.DB
	}
	estimateHandler, err := ge.NewHandler(estimateOpts)
	if err != nil {
		zapLog.Fatal("failed to create generate-estimate handler", zap.Error(err))
	}
	start(ge.TaskType, estimateHandler)

	start(ac.TaskType, ac.NewHandler(ac.LoadConfig(), genaiClient, log))
	start(ei.TaskType, ei.NewHandler(ei.LoadConfig(), log))

	log.Info("workers registered", map[string]interface{}{"count": len(workers)})

	// --- Health & Metrics Server ---
	var server *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			writeStatus(w, http.StatusOK, "healthy")
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := zeebe.HealthCheck(r.Context()); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, "not ready")
				return
			}
			writeStatus(w, http.StatusOK, "ready")
		})
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/debug/pprof/", http.DefaultServeMux)

		server = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			log.Info("health/metrics server listening", map[string]interface{}{"address": cfg.Metrics.Address})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("health/metrics server failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping workers", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error stopping health server", map[string]interface{}{"error": err.Error()})
		}
	}
	if err := zeebe.Close(); err != nil {
		log.Error("error closing zeebe client", map[string]interface{}{"error": err.Error()})
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down observability", map[string]interface{}{"error": err.Error()})
	}

	log.Info("worker manager stopped", nil)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
