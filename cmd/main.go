package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/backend"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/cache"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/config"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/embedding"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/monitoring"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/policy"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/scheduler"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/server"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/state"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/trace"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/utils"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/vectorstore"
)

// setupStateManager wires the exact cache's key-value backend: Valkey when an
// endpoint is configured, an in-process store otherwise.
func setupStateManager(valkeyEndpoint string) (state.Manager, func(), error) {
	if valkeyEndpoint == "" {
		// Maximum memory usage of 2GB.
		memoryManager, cleanup := state.NewMemoryManager(2 * 1024 * 1024 * 1024)
		return memoryManager, cleanup, nil
	}

	valkeyClient, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{valkeyEndpoint},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Valkey client: %v", err)
	}
	return state.NewValkeyManager(valkeyClient), valkeyClient.Close, nil
}

// setupStores opens the Postgres-backed vector and trace stores when a DSN is
// configured, or falls back to process-local stores for mock and dev runs.
// Both Postgres stores share one connection pool; the returned cleanup owns it.
func setupStores(databaseUrl string, sugar *zap.SugaredLogger) (vectorstore.Store, trace.Store, func(), error) {
	if databaseUrl == "" {
		sugar.Infow("No database configured, using in-memory stores")
		return vectorstore.NewMemoryStore(), trace.NewMemoryStore(), func() {}, nil
	}

	db, err := sqlx.Connect("postgres", databaseUrl)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %v", err)
	}

	vectors := vectorstore.NewPostgresStore(db)
	traces := trace.NewPostgresStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := vectors.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to ensure vector schema: %v", err)
	}
	if err := traces.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to ensure trace schema: %v", err)
	}

	return vectors, traces, func() { _ = db.Close() }, nil
}

func setupEmbedder(cfg *config.Config) embedding.Embedder {
	if cfg.EmbeddingProvider == "ollama" {
		return embedding.NewOllamaEmbedder(cfg.OllamaBaseUrl, cfg.EmbeddingModel)
	}
	return embedding.NewLocalEmbedder()
}

func setupBackend(cfg *config.Config) backend.Adapter {
	if cfg.BackendMode == "ollama" {
		return backend.NewOllamaAdapter(cfg.OllamaBaseUrl)
	}
	return backend.NewMockAdapter()
}

func main() {
	logger := utils.Must(zap.NewProduction())
	defer logger.Sync()
	sugar := logger.Sugar()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, sugar)
	if err != nil {
		sugar.Fatalw("Failed to load config", "error", err)
	}

	policyDoc, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		sugar.Fatalw("Failed to load policy", "error", err, "path", cfg.PolicyPath)
	}
	sugar.Infow("Loaded policy",
		"version", policyDoc.PolicyVersion,
		"tenants", len(policyDoc.Tenants),
		"workers", policyDoc.Scheduler.Workers)

	stateManager, stateCleanup, err := setupStateManager(cfg.ValkeyEndpoint)
	if err != nil {
		sugar.Fatalw("Failed to setup state manager", "error", err)
	}
	defer stateCleanup()

	vectors, traces, storeCleanup, err := setupStores(cfg.DatabaseUrl, sugar)
	if err != nil {
		sugar.Fatalw("Failed to setup stores", "error", err)
	}
	defer storeCleanup()

	monitor, err := monitoring.NewPrometheusMonitor(sugar)
	if err != nil {
		sugar.Fatalw("Failed to create monitor", "error", err)
	}

	sched := scheduler.NewScheduler(policyDoc, sugar)
	sched.Start()

	relayBackend := setupBackend(cfg)
	sugar.Infow("Loaded config",
		"port", cfg.Port,
		"backend", relayBackend.Name(),
		"embedding_provider", cfg.EmbeddingProvider,
		"valkey", cfg.ValkeyEndpoint != "",
		"postgres", cfg.DatabaseUrl != "")

	srv := server.New(&server.Runtime{
		Config:    cfg,
		Policy:    policyDoc,
		Engine:    policy.NewEngine(policyDoc),
		Exact:     cache.NewExactCache(stateManager, cfg.ExactCacheTtlSeconds, sugar),
		Semantic:  cache.NewSemanticCache(vectors, setupEmbedder(cfg), sugar),
		Scheduler: sched,
		Backend:   relayBackend,
		Traces:    traces,
		Monitor:   monitor,
		Logger:    sugar,
	})

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownSignal
		sugar.Infow("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Drain in-flight requests before stopping the workers they wait on.
		if err := srv.Shutdown(ctx); err != nil {
			sugar.Errorw("Server forced to shutdown", "error", err)
		}
		if err := sched.Stop(ctx); err != nil {
			sugar.Errorw("Scheduler did not drain in time", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sugar.Fatalw("Failed to start server", "error", err)
	}

	sugar.Infow("Server exited gracefully")
}
