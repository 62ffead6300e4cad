// Package server is the HTTP boundary of the relay. It owns the route tree,
// the error taxonomy, and the request pipeline that ties the normalizer,
// policy engine, cache tiers, admission control, and scheduler together.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/admin"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/backend"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/cache"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/config"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/monitoring"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/policy"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/scheduler"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/trace"
)

// Runtime bundles the process-wide singletons every request handler needs.
// It is assembled once at startup and passed explicitly; nothing in the
// request path reaches for globals.
type Runtime struct {
	Config    *config.Config
	Policy    *config.PolicyConfig
	Engine    *policy.Engine
	Exact     *cache.ExactCache
	Semantic  *cache.SemanticCache
	Scheduler *scheduler.Scheduler
	Backend   backend.Adapter
	Traces    trace.Store
	Monitor   *monitoring.PrometheusMonitor
	Logger    *zap.SugaredLogger
}

// Server wires the runtime into an HTTP server.
type Server struct {
	runtime    *Runtime
	httpServer *http.Server
	logger     *zap.SugaredLogger
}

func New(runtime *Runtime) *Server {
	router := mux.NewRouter()
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/v1/chat/completions", runtime.HandleChatCompletions).Methods(http.MethodPost)
	router.Handle("/metrics", runtime.Monitor.Handler()).Methods(http.MethodGet)
	admin.NewBrowser(runtime.Traces, runtime.Logger).RegisterRoutes(router)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		Debug:          false,
	})

	return &Server{
		runtime: runtime,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", runtime.Config.Port),
			Handler: corsMiddleware.Handler(router),
		},
		logger: runtime.Logger,
	}
}

// Handler returns the fully wired route tree, including CORS. Tests mount it
// on httptest servers instead of binding a port.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Infow("Starting server", "address", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests,
// bounded by the context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
