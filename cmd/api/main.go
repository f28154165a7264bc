// Package main implements the book discovery API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Ankit-mirafra/prathambooks-app/engine/catalog"
	"github.com/Ankit-mirafra/prathambooks-app/engine/retrieval"
	"github.com/Ankit-mirafra/prathambooks-app/engine/vecindex"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/embed"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/metrics"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/mid"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/translate"
	"github.com/Ankit-mirafra/prathambooks-app/web"
)

var met = metrics.New()

var (
	mQueries      = met.Counter("prathambooks_api_queries_total", "Queries received")
	mTranslateErr = met.Counter("prathambooks_api_translate_failures_total", "Translation fallbacks to the original query")
	mSkipped      = met.Counter("prathambooks_api_candidates_skipped_total", "Search hits dropped during materialization")
	mDegraded     = met.Gauge("prathambooks_api_degraded", "1 when a capability failed to load")
	mResults      = met.Histogram("prathambooks_api_results_count", "Results returned per query", []float64{0, 1, 2, 3, 5, 10})
	mStageDur     = func(stage string) *metrics.Histogram {
		return met.Histogram(metrics.WithLabels("prathambooks_api_stage_duration_seconds", "stage", stage), "Per-stage latency", nil)
	}
)

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	PromptsCSV    string
	IndexPath     string
	VectorBackend string
	QdrantURL     string
	Collection    string
	EmbedBackend  string
	OllamaURL     string
	EmbedModel    string
	OpenAIBaseURL string
	OpenAIToken   string
	Translator    string
	GoogleURL     string
	LibreURL      string
	LibreAPIKey   string
	TopN          int
	CORSOrigin    string
}

func loadConfig() Config {
	topN, err := strconv.Atoi(envOr("TOP_N", "5"))
	if err != nil || topN <= 0 {
		topN = 5
	}
	return Config{
		Port:          envOr("PORT", "7860"),
		PromptsCSV:    envOr("PROMPTS_CSV", "prompts.csv"),
		IndexPath:     envOr("INDEX_PATH", "index.db"),
		VectorBackend: envOr("VECTOR_BACKEND", "sqlite"),
		QdrantURL:     envOr("QDRANT_URL", "localhost:6334"),
		Collection:    envOr("QDRANT_COLLECTION", "books"),
		EmbedBackend:  envOr("EMBED_BACKEND", "ollama"),
		OllamaURL:     envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:    envOr("EMBED_MODEL", "nomic-embed-text"),
		OpenAIBaseURL: envOr("OPENAI_BASE_URL", "http://localhost:8000/v1"),
		OpenAIToken:   envOr("OPENAI_TOKEN", ""),
		Translator:    envOr("TRANSLATOR", "google"),
		GoogleURL:     envOr("GOOGLE_TRANSLATE_URL", ""),
		LibreURL:      envOr("LIBRETRANSLATE_URL", "http://localhost:5000"),
		LibreAPIKey:   envOr("LIBRETRANSLATE_API_KEY", ""),
		TopN:          topN,
		CORSOrigin:    envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Capabilities load independently. A failure leaves its slot nil and
	// the service answers queries with empty results instead of dying.
	translator := buildTranslator(cfg)
	embedder := buildEmbedder(cfg, logger)

	var cat retrieval.Catalog
	store, err := catalog.Load(cfg.PromptsCSV)
	if err != nil {
		logger.Error("catalog load failed", "path", cfg.PromptsCSV, "err", err)
	} else {
		cat = store
		logger.Info("catalog loaded", "path", cfg.PromptsCSV, "rows", store.Len())
	}

	index, closeIndex := buildIndex(ctx, cfg, logger)
	if closeIndex != nil {
		defer closeIndex()
	}

	// Positions must line up 1:1 or results would name the wrong books.
	if index != nil && cat != nil && index.Len() != cat.Len() {
		logger.Error("index and catalog are out of sync, refusing to search",
			"index_size", index.Len(), "catalog_rows", cat.Len())
		index = nil
	}

	svc := retrieval.New(translator, embedder, index, cat,
		retrieval.Options{TopN: cfg.TopN},
		retrieval.Metrics{
			Queries:          mQueries.Inc,
			TranslateFailed:  mTranslateErr.Inc,
			CandidateSkipped: mSkipped.Inc,
			Results:          func(n int) { mResults.Observe(float64(n)) },
			StageSeconds: func(stage string, seconds float64) {
				mStageDur(stage).Observe(seconds)
			},
		},
		logger,
	)
	if svc.Degraded() {
		mDegraded.Set(1)
		logger.Error("running degraded: every query will return an empty result")
	}

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.Handle("GET /", web.Handler())
	mux.HandleFunc("GET /api/health", handleHealth(svc))
	mux.HandleFunc("POST /retrieve", handleRetrieve(svc))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("prathambooks-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Capability construction ---

func buildTranslator(cfg Config) retrieval.Translator {
	switch cfg.Translator {
	case "libre":
		return translate.NewLibre(cfg.LibreURL, cfg.LibreAPIKey)
	case "none":
		return translate.Noop{}
	default:
		return translate.NewGoogle(cfg.GoogleURL)
	}
}

func buildEmbedder(cfg Config, logger *slog.Logger) retrieval.Embedder {
	switch cfg.EmbedBackend {
	case "openai":
		e, err := embed.NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIToken, cfg.EmbedModel)
		if err != nil {
			logger.Error("openai embedder init failed", "err", err)
			return nil
		}
		return e
	default:
		return embed.NewOllama(cfg.OllamaURL, cfg.EmbedModel)
	}
}

// buildIndex opens the configured vector backend. The returned close func
// is nil when nothing was opened.
func buildIndex(ctx context.Context, cfg Config, logger *slog.Logger) (retrieval.Searcher, func()) {
	switch cfg.VectorBackend {
	case "qdrant":
		q, err := vecindex.NewQdrant(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			logger.Error("qdrant connect failed", "err", err)
			return nil, nil
		}
		if err := q.Open(ctx); err != nil {
			logger.Error("qdrant collection unavailable", "collection", cfg.Collection, "err", err)
			q.Close()
			return nil, nil
		}
		logger.Info("vector index ready", "backend", "qdrant", "points", q.Len(), "dim", q.Dim())
		return q, func() { q.Close() }
	default:
		flat, meta, err := vecindex.OpenFlat(cfg.IndexPath)
		if err != nil {
			logger.Error("index artifact load failed", "path", cfg.IndexPath, "err", err)
			return nil, nil
		}
		if meta.Model != cfg.EmbedModel {
			logger.Warn("index was built with a different model",
				"index_model", meta.Model, "embed_model", cfg.EmbedModel)
		}
		logger.Info("vector index ready", "backend", "sqlite",
			"vectors", flat.Len(), "dim", flat.Dim(), "built_at", meta.BuiltAt)
		return flat, nil
	}
}

// --- Handlers ---

func handleHealth(svc *retrieval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := "ok"
		if svc.Degraded() {
			status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

// RetrieveRequest is the JSON body for POST /retrieve.
type RetrieveRequest struct {
	Query string `json:"query"`
}

func handleRetrieve(svc *retrieval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RetrieveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		// The pipeline never fails; an empty array is the degraded answer.
		results := svc.Retrieve(r.Context(), req.Query)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}
