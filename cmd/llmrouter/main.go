package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/quaylabs/llmrouter"
	"github.com/quaylabs/llmrouter/internal/admin"
	"github.com/quaylabs/llmrouter/internal/cache"
	"github.com/quaylabs/llmrouter/internal/circuitbreaker"
	"github.com/quaylabs/llmrouter/internal/classifier"
	"github.com/quaylabs/llmrouter/internal/discovery"
	"github.com/quaylabs/llmrouter/internal/feedback"
	"github.com/quaylabs/llmrouter/internal/guard"
	"github.com/quaylabs/llmrouter/internal/metrics"
	"github.com/quaylabs/llmrouter/internal/predictor"
	"github.com/quaylabs/llmrouter/internal/requestlog"
	"github.com/quaylabs/llmrouter/internal/routeconfig"
	"github.com/quaylabs/llmrouter/internal/upstream"
	"github.com/quaylabs/llmrouter/internal/version"
	"github.com/quaylabs/llmrouter/models"
	"github.com/quaylabs/llmrouter/providers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2/clientcredentials"

	// Register built-in plugins so they can be loaded from config.
	_ "github.com/quaylabs/llmrouter/internal/plugins/cache"
	_ "github.com/quaylabs/llmrouter/internal/plugins/logger"
	_ "github.com/quaylabs/llmrouter/internal/plugins/maxtoken"
	_ "github.com/quaylabs/llmrouter/internal/plugins/wordfilter"
)

func main() {
	// Load and validate config if GATEWAY_CONFIG is set.
	var cfg *llmrouter.Config
	if cfgPath := os.Getenv("GATEWAY_CONFIG"); cfgPath != "" {
		loaded, err := llmrouter.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if err := llmrouter.ValidateConfig(*loaded); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
		cfg = loaded
		log.Printf("Config loaded: strategy=%s, targets=%d", cfg.Strategy.Mode, len(cfg.Targets))
	}

	registry := autoRegisterProviders()
	if len(registry.List()) == 0 {
		log.Fatal("No providers configured. Set at least one provider API key (e.g., OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY) or OLLAMA_HOST for local models")
	}

	if cfg == nil {
		defaultTargets := make([]llmrouter.Target, 0, len(registry.List()))
		for _, name := range registry.List() {
			defaultTargets = append(defaultTargets, llmrouter.Target{VirtualKey: name})
		}
		cfg = &llmrouter.Config{
			Strategy: llmrouter.StrategyConfig{Mode: llmrouter.ModeFallback},
			Targets:  defaultTargets,
		}
		log.Printf("No GATEWAY_CONFIG set; using default strategy=%s with %d target(s)", cfg.Strategy.Mode, len(cfg.Targets))
	}

	// Build and wire the static-strategy Gateway (legacy /v1/chat/completions surface).
	gw, err := llmrouter.New(*cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}
	for _, name := range registry.List() {
		if p, ok := registry.Get(name); ok {
			gw.RegisterProvider(p)
		}
	}
	if len(cfg.Plugins) > 0 {
		if err := gw.LoadPlugins(); err != nil {
			log.Fatalf("Failed to load plugins: %v", err)
		}
		log.Printf("Gateway ready: %d plugin(s) loaded", len(cfg.Plugins))
	}

	keyStore, keyBackend, err := createKeyStoreFromEnv()
	if err != nil {
		log.Fatalf("Failed to create API key store: %v", err)
	}
	log.Printf("API key store backend: %s", keyBackend)

	configMgr, configBackend, err := createConfigManagerFromEnv(gw)
	if err != nil {
		log.Fatalf("Failed to create config manager: %v", err)
	}
	log.Printf("Config store backend: %s", configBackend)

	logsReader, logsMaintainer := createRequestLogFromEnv()

	// Build the dynamic classify→select→execute Pipeline (spec §4).
	pipeline, feedbackLoop, err := newPipelineFromEnv(registry)
	if err != nil {
		log.Fatalf("Failed to build routing pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var feedbackDone chan struct{}
	if feedbackLoop != nil {
		feedbackDone = make(chan struct{})
		go func() {
			defer close(feedbackDone)
			feedbackLoop.Run(ctx)
		}()
	}

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	r := newRouter(registry, keyStore, corsOrigins, gw, pipeline, configMgr, logsReader, logsMaintainer)

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("llmrouter %s listening on %s (%d provider(s))", version.Short(), addr, len(registry.List()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err) //nolint:gocritic
	}
	if feedbackDone != nil {
		<-feedbackDone
	}
	log.Println("Server stopped.")
}

// autoRegisterProviders registers providers based on environment variables,
// the same convention the Gateway's legacy surface uses.
func autoRegisterProviders() *providers.Registry {
	registry := providers.NewRegistry()

	type providerEntry struct {
		envKey string
		name   string
		create func(key, baseURL string) (providers.Provider, error)
	}
	autoProviders := []providerEntry{
		{"OPENAI_API_KEY", "openai", func(k, b string) (providers.Provider, error) { return providers.NewOpenAI(k, b) }},
		{"ANTHROPIC_API_KEY", "anthropic", func(k, b string) (providers.Provider, error) { return providers.NewAnthropic(k, b) }},
		{"GROQ_API_KEY", "groq", func(k, b string) (providers.Provider, error) { return providers.NewGroq(k, b) }},
		{"TOGETHER_API_KEY", "together", func(k, b string) (providers.Provider, error) { return providers.NewTogether(k, b) }},
		{"GEMINI_API_KEY", "gemini", func(k, b string) (providers.Provider, error) { return providers.NewGemini(k, b) }},
		{"MISTRAL_API_KEY", "mistral", func(k, b string) (providers.Provider, error) { return providers.NewMistral(k, b) }},
		{"COHERE_API_KEY", "cohere", func(k, b string) (providers.Provider, error) { return providers.NewCohere(k, b) }},
		{"DEEPSEEK_API_KEY", "deepseek", func(k, b string) (providers.Provider, error) { return providers.NewDeepSeek(k, b) }},
	}
	for _, pe := range autoProviders {
		if key := os.Getenv(pe.envKey); key != "" {
			p, err := pe.create(key, "")
			if err != nil {
				log.Fatalf("%s provider: %v", pe.name, err)
			}
			registry.Register(p)
			log.Printf("Provider registered: %s", pe.name)
		}
	}

	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		baseURL := os.Getenv("AZURE_OPENAI_ENDPOINT")
		deployment := os.Getenv("AZURE_OPENAI_DEPLOYMENT")
		apiVersion := os.Getenv("AZURE_OPENAI_API_VERSION")
		if baseURL != "" && deployment != "" {
			p, err := providers.NewAzureOpenAI(key, baseURL, deployment, apiVersion)
			if err != nil {
				log.Fatalf("Azure OpenAI provider: %v", err)
			}
			registry.Register(p)
			log.Println("Provider registered: azure-openai")
		} else {
			log.Println("Warning: AZURE_OPENAI_API_KEY set but AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_DEPLOYMENT are required")
		}
	}

	// Azure AD-backed deployment: resolve a bearer token via OAuth2
	// client-credentials instead of a long-lived AZURE_OPENAI_API_KEY,
	// per spec §6's credential-handle configuration surface.
	if clientID := os.Getenv("AZURE_OAUTH_CLIENT_ID"); clientID != "" {
		baseURL := os.Getenv("AZURE_OPENAI_ENDPOINT")
		deployment := os.Getenv("AZURE_OPENAI_DEPLOYMENT")
		tokenURL := os.Getenv("AZURE_OAUTH_TOKEN_URL")
		if baseURL == "" || deployment == "" || tokenURL == "" {
			log.Println("Warning: AZURE_OAUTH_CLIENT_ID set but AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT, and AZURE_OAUTH_TOKEN_URL are all required")
		} else {
			handle := providers.OAuth2ClientCredential{
				Config: clientcredentials.Config{
					ClientID:     clientID,
					ClientSecret: os.Getenv("AZURE_OAUTH_CLIENT_SECRET"),
					TokenURL:     tokenURL,
					Scopes:       []string{"https://cognitiveservices.azure.com/.default"},
				},
			}
			token, err := providers.ResolveCredential(context.Background(), handle)
			if err != nil {
				log.Fatalf("Azure OAuth2 credential handle: %v", err)
			}
			p, err := providers.NewAzureOpenAI(token, baseURL, deployment, os.Getenv("AZURE_OPENAI_API_VERSION"))
			if err != nil {
				log.Fatalf("Azure OpenAI provider: %v", err)
			}
			registry.Register(p)
			log.Println("Provider registered: azure-openai (OAuth2 client-credentials)")
		}
	}

	if ollamaURL := os.Getenv("OLLAMA_HOST"); ollamaURL != "" {
		var ollamaModels []string
		if m := os.Getenv("OLLAMA_MODELS"); m != "" {
			ollamaModels = strings.Split(m, ",")
		}
		p, err := providers.NewOllama(ollamaURL, ollamaModels)
		if err != nil {
			log.Fatalf("Ollama provider: %v", err)
		}
		registry.Register(p)
		log.Printf("Provider registered: ollama (models: %s)", strings.Join(p.SupportedModels(), ", "))
	}

	return registry
}

// createKeyStoreFromEnv builds the admin API key store named by
// API_KEY_STORE_BACKEND ("memory" [default], "sqlite", "postgres") and
// API_KEY_STORE_DSN.
func createKeyStoreFromEnv() (admin.Store, string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("API_KEY_STORE_BACKEND")))
	if backend == "" {
		backend = "memory"
	}
	switch backend {
	case "memory":
		return admin.NewKeyStore(), backend, nil
	case "sqlite":
		store, err := admin.NewSQLiteStore(os.Getenv("API_KEY_STORE_DSN"))
		if err != nil {
			return nil, backend, err
		}
		return store, backend, nil
	case "postgres":
		store, err := admin.NewPostgresStore(os.Getenv("API_KEY_STORE_DSN"))
		if err != nil {
			return nil, backend, err
		}
		return store, backend, nil
	default:
		return nil, backend, fmt.Errorf("unsupported API_KEY_STORE_BACKEND: %q", backend)
	}
}

// createConfigManagerFromEnv builds the runtime gateway config manager named
// by CONFIG_STORE_BACKEND ("memory" [default], "sqlite", "postgres") and
// CONFIG_STORE_DSN, wiring gw so admin config updates take effect live.
func createConfigManagerFromEnv(gw *llmrouter.Gateway) (admin.ConfigManager, string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CONFIG_STORE_BACKEND")))
	if backend == "" {
		backend = "memory"
	}

	var store admin.ConfigStore
	switch backend {
	case "memory":
		store = nil
	case "sqlite":
		s, err := admin.NewSQLiteConfigStore(os.Getenv("CONFIG_STORE_DSN"))
		if err != nil {
			return nil, backend, err
		}
		store = s
	case "postgres":
		s, err := admin.NewPostgresConfigStore(os.Getenv("CONFIG_STORE_DSN"))
		if err != nil {
			return nil, backend, err
		}
		store = s
	default:
		return nil, backend, fmt.Errorf("unsupported CONFIG_STORE_BACKEND: %q", backend)
	}

	mgr, err := admin.NewGatewayConfigManager(gw, store)
	if err != nil {
		return nil, backend, err
	}
	return mgr, backend, nil
}

// createRequestLogFromEnv wires the optional request-log sink named by
// REQUEST_LOG_BACKEND ("none" [default], "sqlite", "postgres") /
// REQUEST_LOG_DSN. A disabled sink returns nil readers/maintainers; callers
// must treat both as optional.
func createRequestLogFromEnv() (requestlog.Reader, requestlog.Maintainer) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("REQUEST_LOG_BACKEND")))
	switch backend {
	case "sqlite":
		w, err := requestlog.NewSQLiteWriter(os.Getenv("REQUEST_LOG_DSN"))
		if err != nil {
			log.Printf("request log sink disabled: %v", err)
			return nil, nil
		}
		return w, w
	case "postgres":
		w, err := requestlog.NewPostgresWriter(os.Getenv("REQUEST_LOG_DSN"))
		if err != nil {
			log.Printf("request log sink disabled: %v", err)
			return nil, nil
		}
		return w, w
	default:
		return nil, nil
	}
}

// newPipelineFromEnv wires a llmrouter.Pipeline and its background
// feedback.Loop from environment configuration, per spec §6's
// configuration surface.
func newPipelineFromEnv(registry *providers.Registry) (*llmrouter.Pipeline, *feedback.Loop, error) {
	var table routeconfig.RoutingTable
	if path := os.Getenv("ROUTING_TABLE_PATH"); path != "" {
		loaded, err := routeconfig.Load(path)
		if err != nil {
			return nil, nil, fmt.Errorf("load routing table: %w", err)
		}
		table = loaded
	}

	catalog := models.NewInMemoryCatalog(
		[]models.Discovery{discovery.NewStaticDiscovery(table), discovery.NewUpstreamDiscovery(registry)},
		nil,
	)
	if err := catalog.Refresh(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("initial catalog refresh: %w", err)
	}

	cacheStore := cache.New[llmrouter.CachedResponse](cache.Config{
		MaxBytes:            envInt("CACHE_MAX_BYTES", 64<<20),
		MaxEntries:          envInt("CACHE_MAX_ENTRIES", 10_000),
		SimilarityThreshold: envFloat("CACHE_SIMILARITY_THRESHOLD", 0.8),
	})

	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		FailureThreshold: envInt("CIRCUIT_FAILURE_THRESHOLD", 5),
		SuccessThreshold: envInt("CIRCUIT_SUCCESS_THRESHOLD", 1),
		MinRequestCount:  int64(envInt("CIRCUIT_MIN_REQUEST_COUNT", 1)),
		Timeout:          time.Duration(envInt("CIRCUIT_TIMEOUT_MS", 30_000)) * time.Millisecond,
		Window:           time.Duration(envInt("CIRCUIT_WINDOW_MS", 60_000)) * time.Millisecond,
	})

	pipeline := llmrouter.NewPipeline(llmrouter.PipelineConfig{
		Catalog:                 catalog,
		Guard:                   guard.New(guard.Config{}, nil),
		Classifier:              classifier.New(nil),
		Predictor:               predictor.New(nil),
		Breakers:                breakers,
		Upstreams:               upstream.NewRegistry(registry),
		TaskTable:               table.Tasks,
		Cache:                   cacheStore,
		MaxAttemptsPerCandidate: envInt("UPSTREAM_MAX_ATTEMPTS", 2),
		CacheTTL:                time.Duration(envInt("CACHE_DEFAULT_TTL_MS", 600_000)) * time.Millisecond,
	})

	loop := feedback.New(feedback.DefaultIntervals(), catalog, breakers, pipeline, cacheStore)
	return pipeline, loop, nil
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

// newRouter builds the HTTP router: the legacy static-strategy Gateway
// surface (/v1/chat/completions and friends), the admin API, and the
// dynamic Pipeline surface spec §6 names (/v1/route and friends).
func newRouter(
	registry *providers.Registry,
	keyStore admin.Store,
	corsOrigins []string,
	gw *llmrouter.Gateway,
	pipeline *llmrouter.Pipeline,
	configMgr admin.ConfigManager,
	logsReader requestlog.Reader,
	logsMaintainer requestlog.Maintainer,
) http.Handler {
	if gw == nil {
		defaultTargets := make([]llmrouter.Target, 0, len(registry.List()))
		for _, name := range registry.List() {
			defaultTargets = append(defaultTargets, llmrouter.Target{VirtualKey: name})
		}
		cfg := llmrouter.Config{
			Strategy: llmrouter.StrategyConfig{Mode: llmrouter.ModeFallback},
			Targets:  defaultTargets,
		}
		created, err := llmrouter.New(cfg)
		if err == nil {
			for _, name := range registry.List() {
				if p, ok := registry.Get(name); ok {
					created.RegisterProvider(p)
				}
			}
			gw = created
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(corsOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"providers": registry.List(),
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if pipeline == nil || !pipeline.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/dashboard", dashboardHandler)

	r.Get("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   registry.AllModels(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	if pipeline != nil {
		r.Post("/v1/route", routeHandler(pipeline))
		r.Get("/v1/route/stats", routeStatsHandler(pipeline))
		r.Get("/v1/route/models", routeModelsHandler(pipeline))
		r.Post("/v1/route/circuits/reset/{model}", routeCircuitResetHandler(pipeline))
	}

	adminHandlers := &admin.Handlers{
		Keys:      keyStore,
		Providers: registry,
		Configs:   configMgr,
		Logs:      logsReader,
		LogAdmin:  logsMaintainer,
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.AuthMiddleware(keyStore))
		r.Mount("/", adminHandlers.Routes())
		r.Get("/metrics/debug", func(w http.ResponseWriter, _ *http.Request) {
			families, err := metrics.Snapshot()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(families)
		})
	})

	r.Post("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req providers.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}
		if err := req.Validate(); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}

		// --- Streaming path ---
		if req.Stream {
			if !hasModelProvider(registry, req.Model) {
				writeOpenAIError(w, http.StatusBadRequest, "no provider supports model: "+req.Model, "invalid_request_error")
				return
			}
			if !hasStreamingProviderForModel(registry, req.Model) {
				writeOpenAIError(w, http.StatusBadRequest, "provider does not support streaming", "invalid_request_error")
				return
			}

			ch, err := gw.RouteStream(r.Context(), req)
			if err != nil {
				writeOpenAIError(w, http.StatusInternalServerError, err.Error(), "server_error")
				return
			}
			writeSSE(w, ch)
			return
		}

		// --- Non-streaming path ---
		if !hasModelProvider(registry, req.Model) {
			writeOpenAIError(w, http.StatusBadRequest, "no provider supports model: "+req.Model, "invalid_request_error")
			return
		}

		resp, err := gw.Route(r.Context(), req)
		if err != nil {
			writeOpenAIError(w, http.StatusInternalServerError, err.Error(), "server_error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	// Legacy text completions (e.g. gpt-3.5-turbo-instruct, deepseek-chat).
	// Proxies natively to providers that support it, or shims via chat for others.
	r.Post("/v1/completions", completionsHandler(registry))
	r.Post("/v1/embeddings", embeddingsHandler(gw))
	r.Post("/v1/images/generations", imagesHandler(gw))

	// Proxy pass-through: forward any unhandled /v1/* request to the upstream
	// provider.  This covers files, batches, fine-tuning, audio, images/edits,
	// responses API, realtime, etc. without needing a dedicated handler.
	// Must be registered LAST so explicit routes take precedence.
	r.HandleFunc("/v1/*", proxyHandler(registry))

	return r
}

// writeOpenAIError writes an OpenAI-compatible JSON error response. An
// optional code is included as the error's "code" field.
func writeOpenAIError(w http.ResponseWriter, status int, message, errType string, code ...string) {
	errBody := map[string]interface{}{
		"message": message,
		"type":    errType,
	}
	if len(code) > 0 && code[0] != "" {
		errBody["code"] = code[0]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": errBody,
	})
}

// writeSSE streams SSE chunks from ch to the response writer.
func writeSSE(w http.ResponseWriter, ch <-chan providers.StreamChunk) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	now := time.Now().Unix()
	for chunk := range ch {
		if chunk.Error != nil {
			errData := fmt.Sprintf(`{"error":{"message":"%s","type":"stream_error"}}`, chunk.Error.Error())
			_, _ = fmt.Fprintf(w, "data: %s\n\n", errData)
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		if chunk.Object == "" {
			chunk.Object = "chat.completion.chunk"
		}
		if chunk.Created == 0 {
			chunk.Created = now
		}
		data, _ := json.Marshal(chunk)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func hasModelProvider(registry *providers.Registry, model string) bool {
	_, ok := registry.FindByModel(model)
	return ok
}

func hasStreamingProviderForModel(registry *providers.Registry, model string) bool {
	for _, name := range registry.List() {
		p, ok := registry.Get(name)
		if !ok || !p.SupportsModel(model) {
			continue
		}
		if _, ok := p.(providers.StreamProvider); ok {
			return true
		}
	}
	return false
}
